package xenosgpu_test

import (
	"encoding/binary"
	"path/filepath"
	"strings"
	"testing"

	"xenosgpu/common"
	"xenosgpu/pm4"
	"xenosgpu/printer"
	"xenosgpu/trace"
)

// integrationBackend accepts everything and counts calls.
type integrationBackend struct {
	swaps int
	draws int
}

func (b *integrationBackend) IssueSwap(frontbufferPtr, width, height uint32) { b.swaps++ }

func (b *integrationBackend) IssueDraw(prim pm4.PrimitiveType, indexCount uint32, indexInfo *pm4.IndexBufferInfo, majorModeExplicit bool) bool {
	b.draws++
	return true
}

func (b *integrationBackend) LoadShader(shaderType pm4.ShaderType, guestAddr uint32, data []byte, sizeDwords uint32) pm4.Shader {
	return sizeDwords
}

func (b *integrationBackend) DispatchInterruptCallback(source, cpu uint32) {}
func (b *integrationBackend) MakeCoherent()                                {}
func (b *integrationBackend) PrepareForWait()                              {}
func (b *integrationBackend) ReturnFromWait()                              {}

func putWords(dst []byte, offset uint32, words ...uint32) uint32 {
	for i, w := range words {
		binary.BigEndian.PutUint32(dst[offset+uint32(i)*4:], w)
	}
	return offset + uint32(len(words))*4
}

// swapPacket builds an XE_SWAP packet with its fixed 63-word payload.
func swapPacket() []uint32 {
	words := make([]uint32, 64)
	words[0] = pm4.Type3Header(pm4.OpXeSwap, 63, false)
	words[1] = 0x53574150 // 'SWAP'
	words[2] = 0x1FC00000
	words[3] = 1280
	words[4] = 720
	return words
}

// TestFrameCaptureEndToEnd drives two frames through the interpreter with a
// single-frame capture armed, then reads the trace file back and checks it
// is well formed.
func TestFrameCaptureEndToEnd(t *testing.T) {
	const (
		ringBase  = 0x1F000000
		dataBase  = 0x10000000
		innerAddr = 0x10002000
		titleID   = 0x415607F2
	)

	ring := common.NewMemoryBuffer(ringBase, make([]byte, 1<<16))
	data := common.NewMemoryBuffer(dataBase, make([]byte, 1<<20))
	mem := common.NewMultiRegionMemory()
	if err := mem.AddRegion(ring); err != nil {
		t.Fatal(err)
	}
	if err := mem.AddRegion(data); err != nil {
		t.Fatal(err)
	}

	// Indirect buffer: one SET_CONSTANT into the ALU bank.
	putWords(data.Data, innerAddr-dataBase,
		pm4.Type3Header(pm4.OpSetConstant, 3, false), 0x0000, 0x3F800000, 0x40000000)

	// Frame 1: constants + swap (opens the capture at its boundary).
	// Frame 2: indirect buffer + auto draw + swap (captured, then closed).
	offset := uint32(0)
	offset = putWords(ring.Data, offset, pm4.Type0Header(0x2100, false, 2), 0x0001, 0x0002)
	offset = putWords(ring.Data, offset, swapPacket()...)
	offset = putWords(ring.Data, offset,
		pm4.Type3Header(pm4.OpIndirectBuffer, 2, false), innerAddr, 4)
	offset = putWords(ring.Data, offset,
		pm4.Type3Header(pm4.OpDrawIndx2, 1, false),
		uint32(pm4.PrimTriangleList)|uint32(pm4.SourceSelectAutoIndex)<<6|3<<16)
	offset = putWords(ring.Data, offset, swapPacket()...)

	cfg := pm4.DefaultConfig()
	cfg.TraceMode = pm4.TraceModeSingleFrame
	cfg.TraceDir = t.TempDir()
	cfg.TitleID = titleID

	backend := &integrationBackend{}
	cp := pm4.NewCommandProcessor(mem, backend, cfg)
	if err := cp.InstallRing(ringBase, 16); err != nil {
		t.Fatal(err)
	}
	cp.UpdateWritePointer(offset)

	if !cp.ExecutePending() {
		t.Fatal("stream failed to execute")
	}
	if backend.swaps != 2 || backend.draws != 1 {
		t.Fatalf("backend saw swaps=%d draws=%d, want 2 and 1", backend.swaps, backend.draws)
	}
	if got := cp.Registers().Get(0x4000); got != 0x3F800000 {
		t.Errorf("inner constant = 0x%08X, want 0x3F800000", got)
	}

	// The capture covers exactly the second frame.
	path := filepath.Join(cfg.TraceDir, "415607F2_0.xtr")
	header, records, err := trace.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if header.TitleID != titleID {
		t.Errorf("trace title = %08X, want %08X", header.TitleID, titleID)
	}

	starts, ends := 0, 0
	ibStarts, ibEnds := 0, 0
	swapEvents := 0
	for _, rec := range records {
		switch rec.Type {
		case trace.RecordTypePacketStart:
			starts++
		case trace.RecordTypePacketEnd:
			ends++
		case trace.RecordTypeIndirectBufferStart:
			ibStarts++
		case trace.RecordTypeIndirectBufferEnd:
			ibEnds++
		case trace.RecordTypeEvent:
			if rec.Event == trace.EventKindSwap {
				swapEvents++
			}
		}
	}
	if starts == 0 || starts != ends {
		t.Errorf("unbalanced packet pairing: %d starts, %d ends", starts, ends)
	}
	if ibStarts != 1 || ibEnds != 1 {
		t.Errorf("indirect buffer pairing: %d starts, %d ends", ibStarts, ibEnds)
	}
	if swapEvents != 1 {
		t.Errorf("swap events = %d, want 1", swapEvents)
	}

	// The printer renders every record and keeps nesting coherent.
	lines := printer.FormatRecords(records)
	if len(lines) != len(records) {
		t.Fatalf("printer dropped records: %d lines for %d records", len(lines), len(records))
	}
	if !strings.Contains(printer.Summary(records), "PACKET_START") {
		t.Errorf("summary missing packet counts: %q", printer.Summary(records))
	}
}
