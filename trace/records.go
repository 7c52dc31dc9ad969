package trace

import "fmt"

// RecordType represents the type of a trace stream record
type RecordType uint8

const (
	RecordTypeUnknown             RecordType = iota
	RecordTypePacketStart                    // Start of a decoded packet (header word included in count)
	RecordTypePacketEnd                      // End of the matching packet
	RecordTypeMemoryRead                     // Guest memory read performed by a handler
	RecordTypeMemoryWrite                    // Guest memory write performed by a handler
	RecordTypeIndirectBufferStart            // Entry into an embedded command stream
	RecordTypeIndirectBufferEnd              // Return from an embedded command stream
	RecordTypeEvent                          // Out-of-band event (swap)
)

func (t RecordType) String() string {
	switch t {
	case RecordTypePacketStart:
		return "PACKET_START"
	case RecordTypePacketEnd:
		return "PACKET_END"
	case RecordTypeMemoryRead:
		return "MEMORY_READ"
	case RecordTypeMemoryWrite:
		return "MEMORY_WRITE"
	case RecordTypeIndirectBufferStart:
		return "IB_START"
	case RecordTypeIndirectBufferEnd:
		return "IB_END"
	case RecordTypeEvent:
		return "EVENT"
	default:
		return "UNKNOWN"
	}
}

// EventKind identifies an out-of-band event record
type EventKind uint32

const (
	EventKindSwap EventKind = 1 // frontbuffer swap boundary
)

func (k EventKind) String() string {
	switch k {
	case EventKindSwap:
		return "SWAP"
	default:
		return fmt.Sprintf("EVENT_%d", uint32(k))
	}
}

// Record is one entry of the trace stream. Which fields are meaningful
// depends on Type:
//
//	PacketStart:   GuestAddr (packet header address), Header (the raw
//	               header word, so tools can recover type and opcode),
//	               WordCount
//	MemoryRead/Write, IndirectBufferStart: GuestAddr, ByteLength
//	Event: Event
//	PacketEnd, IndirectBufferEnd: no payload
type Record struct {
	Type       RecordType
	GuestAddr  uint32
	Header     uint32
	WordCount  uint32
	ByteLength uint32
	Event      EventKind
}

// Description returns a human-readable description of the record
func (r Record) Description() string {
	switch r.Type {
	case RecordTypePacketStart:
		return fmt.Sprintf("packet at 0x%08X, header 0x%08X, %d words",
			r.GuestAddr, r.Header, r.WordCount)
	case RecordTypePacketEnd:
		return "packet end"
	case RecordTypeMemoryRead:
		return fmt.Sprintf("read 0x%08X, %d bytes", r.GuestAddr, r.ByteLength)
	case RecordTypeMemoryWrite:
		return fmt.Sprintf("write 0x%08X, %d bytes", r.GuestAddr, r.ByteLength)
	case RecordTypeIndirectBufferStart:
		return fmt.Sprintf("indirect buffer at 0x%08X, %d bytes", r.GuestAddr, r.ByteLength)
	case RecordTypeIndirectBufferEnd:
		return "indirect buffer end"
	case RecordTypeEvent:
		return fmt.Sprintf("event %s", r.Event)
	default:
		return "unknown record"
	}
}
