package pm4

import (
	"encoding/binary"
	"time"

	"xenosgpu/common"
)

// Test fixtures shared by the pm4 tests: an in-memory guest address space,
// a backend that records every call, and a builder that lays out big-endian
// command streams the way the guest driver would.

// Test address space layout: a general data region and, separate from it,
// the primary ring.
const (
	testDataBase = 0x1000_0000
	testRingBase = 0x1F00_0000
)

// streamBuilder accumulates big-endian command words.
type streamBuilder struct {
	words []uint32
}

func (b *streamBuilder) put(words ...uint32) *streamBuilder {
	b.words = append(b.words, words...)
	return b
}

// packet appends a Type-3 packet with the given payload.
func (b *streamBuilder) packet(op Type3Opcode, predicate bool, payload ...uint32) *streamBuilder {
	b.put(Type3Header(op, uint32(len(payload)), predicate))
	return b.put(payload...)
}

// bytes renders the stream as guest memory content.
func (b *streamBuilder) bytes() []byte {
	out := make([]byte, len(b.words)*4)
	for i, w := range b.words {
		binary.BigEndian.PutUint32(out[i*4:], w)
	}
	return out
}

// size returns the stream size in bytes.
func (b *streamBuilder) size() uint32 {
	return uint32(len(b.words) * 4)
}

// drawCall captures one IssueDraw invocation.
type drawCall struct {
	Prim              PrimitiveType
	IndexCount        uint32
	IndexInfo         *IndexBufferInfo
	MajorModeExplicit bool
}

// swapCall captures one IssueSwap invocation.
type swapCall struct {
	FrontbufferPtr, Width, Height uint32
}

// interruptCall captures one DispatchInterruptCallback invocation.
type interruptCall struct {
	Source, CPU uint32
}

// shaderLoad captures one LoadShader invocation.
type shaderLoad struct {
	Type       ShaderType
	GuestAddr  uint32
	SizeDwords uint32
	Data       []byte
}

// recordingBackend implements Backend and records every call.
type recordingBackend struct {
	Swaps      []swapCall
	Draws      []drawCall
	Interrupts []interruptCall
	Shaders    []shaderLoad

	DrawResult    bool
	MakeCoherents int
	PrepareWaits  int
	ReturnWaits   int

	// OnMakeCoherent runs inside MakeCoherent, letting tests flip the
	// coherency status register mid-poll.
	OnMakeCoherent func()
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{DrawResult: true}
}

func (rb *recordingBackend) IssueSwap(frontbufferPtr, width, height uint32) {
	rb.Swaps = append(rb.Swaps, swapCall{frontbufferPtr, width, height})
}

func (rb *recordingBackend) IssueDraw(prim PrimitiveType, indexCount uint32, indexInfo *IndexBufferInfo, majorModeExplicit bool) bool {
	var copied *IndexBufferInfo
	if indexInfo != nil {
		c := *indexInfo
		copied = &c
	}
	rb.Draws = append(rb.Draws, drawCall{prim, indexCount, copied, majorModeExplicit})
	return rb.DrawResult
}

func (rb *recordingBackend) LoadShader(shaderType ShaderType, guestAddr uint32, data []byte, sizeDwords uint32) Shader {
	load := shaderLoad{shaderType, guestAddr, sizeDwords, append([]byte(nil), data...)}
	rb.Shaders = append(rb.Shaders, load)
	return load
}

func (rb *recordingBackend) DispatchInterruptCallback(source, cpu uint32) {
	rb.Interrupts = append(rb.Interrupts, interruptCall{source, cpu})
}

func (rb *recordingBackend) MakeCoherent() {
	rb.MakeCoherents++
	if rb.OnMakeCoherent != nil {
		rb.OnMakeCoherent()
	}
}

func (rb *recordingBackend) PrepareForWait() { rb.PrepareWaits++ }
func (rb *recordingBackend) ReturnFromWait() { rb.ReturnWaits++ }

// testHarness bundles a processor over a two-region guest memory with a
// recording backend, ready to execute a stream placed in the ring.
type testHarness struct {
	data    *common.MemoryBuffer
	ring    *common.MemoryBuffer
	backend *recordingBackend
	cp      *CommandProcessor
}

// ringSizeLog2 gives a 64 KiB test ring.
const ringSizeLog2 = 16

// newTestHarness maps 1 MiB of general guest memory at testDataBase and the
// ring at testRingBase.
func newTestHarness(cfg Config) *testHarness {
	h := &testHarness{
		data:    common.NewMemoryBuffer(testDataBase, make([]byte, 1<<20)),
		ring:    common.NewMemoryBuffer(testRingBase, make([]byte, 1<<ringSizeLog2)),
		backend: newRecordingBackend(),
	}
	mem := common.NewMultiRegionMemory()
	if err := mem.AddRegion(h.data); err != nil {
		panic(err)
	}
	if err := mem.AddRegion(h.ring); err != nil {
		panic(err)
	}
	h.cp = NewCommandProcessor(mem, h.backend, cfg)
	if err := h.cp.InstallRing(testRingBase, ringSizeLog2); err != nil {
		panic(err)
	}
	// Tests never want real sleeps.
	h.cp.Sleep = func(time.Duration) {}
	h.cp.Yield = func() {}
	return h
}

// run places the stream at the ring start and drains it.
func (h *testHarness) run(b *streamBuilder) bool {
	copy(h.ring.Data, b.bytes())
	h.cp.reader.SetReadOffset(0)
	h.cp.UpdateWritePointer(b.size())
	return h.cp.ExecutePending()
}

// runAt places the stream at the given ring offset, wrapping at the ring
// end, and drains it from there.
func (h *testHarness) runAt(offset uint32, b *streamBuilder) bool {
	raw := b.bytes()
	for i, by := range raw {
		h.ring.Data[(offset+uint32(i))%uint32(len(h.ring.Data))] = by
	}
	h.cp.reader.SetReadOffset(offset)
	h.cp.UpdateWritePointer((offset + b.size()) % uint32(len(h.ring.Data)))
	return h.cp.ExecutePending()
}

// storeWords writes big-endian words into the general data region.
func (h *testHarness) storeWords(addr uint32, words ...uint32) {
	for i, w := range words {
		binary.BigEndian.PutUint32(h.data.Data[addr-testDataBase+uint32(i)*4:], w)
	}
}

// dataBytes returns the n raw bytes at addr in the general data region.
func (h *testHarness) dataBytes(addr, n uint32) []byte {
	return h.data.Data[addr-testDataBase : addr-testDataBase+n]
}
