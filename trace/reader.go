package trace

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Header is the decoded stream header of a trace file.
type Header struct {
	TitleID uint32
}

// Reader decodes a trace file produced by FileWriter.
type Reader struct {
	r      io.Reader
	header Header
}

// NewReader reads and validates the stream header.
func NewReader(r io.Reader) (*Reader, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read trace header: %w", err)
	}
	if binary.LittleEndian.Uint32(header[0:4]) != fileMagic {
		return nil, fmt.Errorf("not a trace file (magic 0x%08X)",
			binary.LittleEndian.Uint32(header[0:4]))
	}
	return &Reader{
		r:      r,
		header: Header{TitleID: binary.LittleEndian.Uint32(header[4:8])},
	}, nil
}

// Header returns the decoded stream header.
func (rd *Reader) Header() Header {
	return rd.header
}

// Next decodes the next record. io.EOF is returned at a clean end of stream.
func (rd *Reader) Next() (Record, error) {
	var raw [recordSize]byte
	if _, err := io.ReadFull(rd.r, raw[:]); err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("read trace record: %w", err)
	}

	t := RecordType(raw[0])
	a := binary.LittleEndian.Uint32(raw[1:5])
	b := binary.LittleEndian.Uint32(raw[5:9])
	c := binary.LittleEndian.Uint32(raw[9:13])

	switch t {
	case RecordTypePacketStart:
		return Record{Type: t, GuestAddr: a, WordCount: b, Header: c}, nil
	case RecordTypePacketEnd, RecordTypeIndirectBufferEnd:
		return Record{Type: t}, nil
	case RecordTypeMemoryRead, RecordTypeMemoryWrite, RecordTypeIndirectBufferStart:
		return Record{Type: t, GuestAddr: a, ByteLength: c}, nil
	case RecordTypeEvent:
		return Record{Type: t, Event: EventKind(c)}, nil
	default:
		return Record{}, fmt.Errorf("unknown record type 0x%02X", raw[0])
	}
}

// ReadAll decodes every record remaining in the stream.
func (rd *Reader) ReadAll() ([]Record, error) {
	var records []Record
	for {
		rec, err := rd.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}

// LoadFile opens a trace file and decodes all of its records.
func LoadFile(path string) (Header, []Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()

	rd, err := NewReader(f)
	if err != nil {
		return Header{}, nil, err
	}
	records, err := rd.ReadAll()
	return rd.Header(), records, err
}
