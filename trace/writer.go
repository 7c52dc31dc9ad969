package trace

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
)

// Writer is the append-only sink the command processor emits trace records
// into. Packet start/end records nest; indirect-buffer start/end raises and
// lowers a logical nesting level without breaking the pairing.
//
// All record methods must tolerate a closed writer (they become no-ops), so
// the hot path never branches on trace enablement.
type Writer interface {
	// WritePacketStart records the packet at guestAddr spanning wordCount
	// words including the header; header is the raw header word.
	WritePacketStart(guestAddr, header, wordCount uint32)
	WritePacketEnd()
	WriteMemoryRead(guestAddr, byteLength uint32)
	WriteMemoryWrite(guestAddr, byteLength uint32)
	WriteIndirectBufferStart(guestAddr, byteLength uint32)
	WriteIndirectBufferEnd()
	WriteEvent(kind EventKind)

	Open(path string, titleID uint32) error
	Close() error
	Flush() error
	IsOpen() bool
}

// File format: 8-byte header (magic "XTR1" + title ID, little-endian),
// then self-delimited records. Every record is 13 bytes: type byte plus
// three 32-bit fields whose meaning depends on the type. Fixed size keeps
// the writer allocation-free on the hot path and the reader trivial.
const fileMagic = 0x31525458 // "XTR1"

const recordSize = 13

// FileWriter writes trace records to a file through a buffered writer.
// The zero value is a closed writer whose record methods are no-ops.
type FileWriter struct {
	file *os.File
	buf  *bufio.Writer
	path string
}

// NewFileWriter creates a FileWriter in the closed state.
func NewFileWriter() *FileWriter {
	return &FileWriter{}
}

// Open creates the trace file and writes the stream header.
func (w *FileWriter) Open(path string, titleID uint32) error {
	if w.file != nil {
		return fmt.Errorf("trace already open at %s", w.path)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open trace: %w", err)
	}
	w.file = f
	w.buf = bufio.NewWriterSize(f, 1<<16)
	w.path = path

	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], fileMagic)
	binary.LittleEndian.PutUint32(header[4:8], titleID)
	if _, err := w.buf.Write(header[:]); err != nil {
		w.Close()
		return fmt.Errorf("write trace header: %w", err)
	}
	return nil
}

// Close flushes and closes the trace file.
func (w *FileWriter) Close() error {
	if w.file == nil {
		return nil
	}
	flushErr := w.buf.Flush()
	closeErr := w.file.Close()
	w.file = nil
	w.buf = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Flush forces buffered records out to the file.
func (w *FileWriter) Flush() error {
	if w.buf == nil {
		return nil
	}
	return w.buf.Flush()
}

// IsOpen reports whether a trace file is currently open.
func (w *FileWriter) IsOpen() bool {
	return w.file != nil
}

// Path returns the path of the open trace file, or "" when closed.
func (w *FileWriter) Path() string {
	if w.file == nil {
		return ""
	}
	return w.path
}

func (w *FileWriter) emit(t RecordType, a, b, c uint32) {
	if w.buf == nil {
		return
	}
	var rec [recordSize]byte
	rec[0] = byte(t)
	binary.LittleEndian.PutUint32(rec[1:5], a)
	binary.LittleEndian.PutUint32(rec[5:9], b)
	binary.LittleEndian.PutUint32(rec[9:13], c)
	w.buf.Write(rec[:])
}

// WritePacketStart records the start of a packet at the given guest header
// address spanning wordCount 32-bit words including the header word.
func (w *FileWriter) WritePacketStart(guestAddr, header, wordCount uint32) {
	w.emit(RecordTypePacketStart, guestAddr, wordCount, header)
}

// WritePacketEnd records the end of the innermost open packet.
func (w *FileWriter) WritePacketEnd() {
	w.emit(RecordTypePacketEnd, 0, 0, 0)
}

// WriteMemoryRead records a guest memory read.
func (w *FileWriter) WriteMemoryRead(guestAddr, byteLength uint32) {
	w.emit(RecordTypeMemoryRead, guestAddr, 0, byteLength)
}

// WriteMemoryWrite records a guest memory write.
func (w *FileWriter) WriteMemoryWrite(guestAddr, byteLength uint32) {
	w.emit(RecordTypeMemoryWrite, guestAddr, 0, byteLength)
}

// WriteIndirectBufferStart records entry into an embedded command stream.
func (w *FileWriter) WriteIndirectBufferStart(guestAddr, byteLength uint32) {
	w.emit(RecordTypeIndirectBufferStart, guestAddr, 0, byteLength)
}

// WriteIndirectBufferEnd records return from an embedded command stream.
func (w *FileWriter) WriteIndirectBufferEnd() {
	w.emit(RecordTypeIndirectBufferEnd, 0, 0, 0)
}

// WriteEvent records an out-of-band event.
func (w *FileWriter) WriteEvent(kind EventKind) {
	w.emit(RecordTypeEvent, 0, 0, uint32(kind))
}

// NopWriter discards every record. It is the default sink when tracing is
// disabled at construction.
type NopWriter struct{}

// NewNopWriter creates a new no-op trace writer.
func NewNopWriter() *NopWriter {
	return &NopWriter{}
}

func (NopWriter) WritePacketStart(guestAddr, header, wordCount uint32)  {}
func (NopWriter) WritePacketEnd()                                       {}
func (NopWriter) WriteMemoryRead(guestAddr, byteLength uint32)          {}
func (NopWriter) WriteMemoryWrite(guestAddr, byteLength uint32)         {}
func (NopWriter) WriteIndirectBufferStart(guestAddr, byteLength uint32) {}
func (NopWriter) WriteIndirectBufferEnd()                               {}
func (NopWriter) WriteEvent(kind EventKind)                             {}
func (NopWriter) Open(path string, titleID uint32) error                { return nil }
func (NopWriter) Close() error                                          { return nil }
func (NopWriter) Flush() error                                          { return nil }
func (NopWriter) IsOpen() bool                                          { return false }

// Recorder keeps records in memory. Used by tests and by the replay tool to
// inspect what a stream produced without touching the filesystem.
type Recorder struct {
	Records []Record
	open    bool
	TitleID uint32
}

// NewRecorder creates a new in-memory recorder. A recorder is born open so
// it captures records without an explicit Open call.
func NewRecorder() *Recorder {
	return &Recorder{open: true}
}

func (r *Recorder) add(rec Record) {
	if !r.open {
		return
	}
	r.Records = append(r.Records, rec)
}

func (r *Recorder) WritePacketStart(guestAddr, header, wordCount uint32) {
	r.add(Record{Type: RecordTypePacketStart, GuestAddr: guestAddr, Header: header, WordCount: wordCount})
}

func (r *Recorder) WritePacketEnd() {
	r.add(Record{Type: RecordTypePacketEnd})
}

func (r *Recorder) WriteMemoryRead(guestAddr, byteLength uint32) {
	r.add(Record{Type: RecordTypeMemoryRead, GuestAddr: guestAddr, ByteLength: byteLength})
}

func (r *Recorder) WriteMemoryWrite(guestAddr, byteLength uint32) {
	r.add(Record{Type: RecordTypeMemoryWrite, GuestAddr: guestAddr, ByteLength: byteLength})
}

func (r *Recorder) WriteIndirectBufferStart(guestAddr, byteLength uint32) {
	r.add(Record{Type: RecordTypeIndirectBufferStart, GuestAddr: guestAddr, ByteLength: byteLength})
}

func (r *Recorder) WriteIndirectBufferEnd() {
	r.add(Record{Type: RecordTypeIndirectBufferEnd})
}

func (r *Recorder) WriteEvent(kind EventKind) {
	r.add(Record{Type: RecordTypeEvent, Event: kind})
}

func (r *Recorder) Open(path string, titleID uint32) error {
	r.open = true
	r.TitleID = titleID
	return nil
}

func (r *Recorder) Close() error {
	r.open = false
	return nil
}

func (r *Recorder) Flush() error { return nil }

func (r *Recorder) IsOpen() bool { return r.open }

// CountType returns how many records of the given type were captured.
func (r *Recorder) CountType(t RecordType) int {
	n := 0
	for _, rec := range r.Records {
		if rec.Type == t {
			n++
		}
	}
	return n
}

// Reset discards all captured records.
func (r *Recorder) Reset() {
	r.Records = r.Records[:0]
}
