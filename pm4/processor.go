package pm4

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"xenosgpu/common"
	"xenosgpu/trace"
)

// maxIndirectDepth bounds INDIRECT_BUFFER recursion. Hardware has no
// documented limit; well-formed streams nest one or two deep.
const maxIndirectDepth = 8

// CommandProcessor consumes a guest-authored ring of PM4 command words,
// decodes them into typed packets, drives the register file, mutates guest
// memory and forwards draw and swap requests to the backend.
//
// One instance runs on one dedicated worker; none of its methods may be
// re-entered concurrently.
type CommandProcessor struct {
	mem     common.GuestMemory
	backend Backend
	log     common.Logger
	trace   trace.Writer
	cfg     Config

	listener RegisterListener

	regs   RegisterFile
	reader RingBuffer

	binSelect uint64
	binMask   uint64

	// counter is the number of completed swaps, readable by EVENT_WRITE_SHD.
	counter uint32

	// meBin holds the words of the last ME_INIT for debug inspection.
	meBin []uint32

	activeVertexShader Shader
	activePixelShader  Shader

	indirectDepth int

	traceState        TraceMode
	traceFrameRequest atomic.Bool

	workerRunning atomic.Bool

	// Sleep and Yield are the polling primitives WAIT_REG_MEM interleaves
	// between re-reads. Tests inject fakes so nothing blocks.
	Sleep func(d time.Duration)
	Yield func()
}

// NewCommandProcessor creates a processor over the given guest memory and
// backend. Logging defaults to no-op and tracing to the mode in cfg.
func NewCommandProcessor(mem common.GuestMemory, backend Backend, cfg Config) *CommandProcessor {
	cp := &CommandProcessor{
		mem:        mem,
		backend:    backend,
		log:        common.NewNoOpLogger(),
		cfg:        cfg,
		traceState: cfg.TraceMode,
		Sleep:      time.Sleep,
		Yield:      runtime.Gosched,
	}
	switch cfg.TraceMode {
	case TraceModeDisabled:
		cp.trace = trace.NewNopWriter()
	case TraceModeStreaming:
		cp.trace = trace.NewFileWriter()
	case TraceModeSingleFrame:
		// Arm a capture for the first full frame.
		cp.trace = trace.NewFileWriter()
		cp.traceState = TraceModeDisabled
		cp.traceFrameRequest.Store(true)
	}
	cp.workerRunning.Store(true)
	return cp
}

// SetLogger replaces the logger.
func (cp *CommandProcessor) SetLogger(logger common.Logger) {
	cp.log = logger
}

// SetTraceWriter replaces the trace sink. Useful for in-memory capture.
func (cp *CommandProcessor) SetTraceWriter(w trace.Writer) {
	cp.trace = w
}

// SetRegisterListener attaches an observer for side-effecting register
// writes.
func (cp *CommandProcessor) SetRegisterListener(l RegisterListener) {
	cp.listener = l
}

// Stop clears the worker-running flag. The only point that honors it is the
// WAIT_REG_MEM polling loop, which then fails its packet and unwinds.
func (cp *CommandProcessor) Stop() {
	cp.workerRunning.Store(false)
}

// RequestFrameTrace arms a single-frame trace capture starting at the next
// swap boundary.
func (cp *CommandProcessor) RequestFrameTrace() {
	cp.traceFrameRequest.Store(true)
}

// FrameCounter returns the number of swaps issued so far.
func (cp *CommandProcessor) FrameCounter() uint32 {
	return cp.counter
}

// Registers exposes the register file for other subsystems. Reads from
// other threads may be torn; re-poll.
func (cp *CommandProcessor) Registers() *RegisterFile {
	return &cp.regs
}

// ActiveVertexShader returns the handle loaded by the last vertex IM_LOAD.
func (cp *CommandProcessor) ActiveVertexShader() Shader {
	return cp.activeVertexShader
}

// ActivePixelShader returns the handle loaded by the last pixel IM_LOAD.
func (cp *CommandProcessor) ActivePixelShader() Shader {
	return cp.activePixelShader
}

// MicroEngineWords returns the payload of the last ME_INIT.
func (cp *CommandProcessor) MicroEngineWords() []uint32 {
	return cp.meBin
}

// BinMask returns the 64-bit predication mask.
func (cp *CommandProcessor) BinMask() uint64 { return cp.binMask }

// BinSelect returns the 64-bit predication select.
func (cp *CommandProcessor) BinSelect() uint64 { return cp.binSelect }

// InstallRing points the processor at the primary ring buffer: a
// power-of-two window of 1<<sizeLog2 bytes at guestBase.
func (cp *CommandProcessor) InstallRing(guestBase uint32, sizeLog2 uint32) error {
	size := uint32(1) << sizeLog2
	data := cp.mem.TranslatePhysical(guestBase)
	if uint32(len(data)) < size {
		return fmt.Errorf("ring at 0x%08X: %d bytes backed, need %d",
			guestBase, len(data), size)
	}
	cp.reader = NewRingBuffer(data[:size], guestBase)
	return nil
}

// UpdateWritePointer publishes the guest's new write offset, in bytes.
func (cp *CommandProcessor) UpdateWritePointer(writeOffset uint32) {
	cp.reader.SetWriteOffset(writeOffset)
}

// ExecutePending drains the primary ring. It returns false when a packet
// failed to decode; the ring read offset is then at the failing packet's
// declared end or at the failure point, and the caller decides whether to
// resynchronize or stop.
func (cp *CommandProcessor) ExecutePending() bool {
	cp.reader.BeginPrefetchedRead(cp.reader.ReadCount())
	for cp.reader.ReadCount() >= 4 {
		if !cp.ExecutePacket() {
			return false
		}
	}
	return true
}

// ExecutePacket decodes and executes one packet at the read cursor.
func (cp *CommandProcessor) ExecutePacket() bool {
	packet := cp.reader.ReadAndSwap32()

	if packet == headerStuffing || packet == headerBadFood {
		// Ring stuffing. Trace a one-word packet and carry on.
		cp.trace.WritePacketStart(cp.reader.ReadGuestAddr()-4, packet, 1)
		cp.trace.WritePacketEnd()
		return true
	}
	if packet == headerUninitialized {
		cp.log.Warning("packet is CDCDCDCD - probably read uninitialized memory")
	}

	switch PacketType(packet >> 30) {
	case PacketType3:
		return cp.executePacketType3(packet)
	case PacketType0:
		return cp.executePacketType0(packet)
	case PacketType1:
		return cp.executePacketType1(packet)
	default:
		return cp.executePacketType2(packet)
	}
}

// executePacketType0 writes count sequential words to the registers
// starting at the packet's base index, or all of them to one register when
// the write-one bit is set.
func (cp *CommandProcessor) executePacketType0(packet uint32) bool {
	count := ((packet >> 16) & 0x3FFF) + 1
	if cp.reader.ReadCount() < count*4 {
		cp.log.Logf(common.SeverityError,
			"type-0 overflow (read count %08X, packet count %08X)",
			cp.reader.ReadCount(), count*4)
		return false
	}

	cp.trace.WritePacketStart(cp.reader.ReadGuestAddr()-4, packet, 1+count)

	baseIndex := packet & 0x7FFF
	writeOneReg := (packet >> 15) & 0x1
	if writeOneReg == 0 {
		cp.writeRegisterRangeFromRing(baseIndex, count)
	} else {
		cp.writeOneRegisterFromRing(baseIndex, count)
	}

	cp.trace.WritePacketEnd()
	return true
}

// executePacketType1 writes two registers named in the header.
func (cp *CommandProcessor) executePacketType1(packet uint32) bool {
	cp.trace.WritePacketStart(cp.reader.ReadGuestAddr()-4, packet, 3)
	regIndex1 := packet & 0x7FF
	regIndex2 := (packet >> 11) & 0x7FF
	regData1 := cp.reader.ReadAndSwap32()
	regData2 := cp.reader.ReadAndSwap32()
	cp.WriteRegister(regIndex1, regData1)
	cp.WriteRegister(regIndex2, regData2)
	cp.trace.WritePacketEnd()
	return true
}

// executePacketType2 is a structural no-op occupying one word.
func (cp *CommandProcessor) executePacketType2(packet uint32) bool {
	cp.trace.WritePacketStart(cp.reader.ReadGuestAddr()-4, packet, 1)
	cp.trace.WritePacketEnd()
	return true
}

// WriteRegister is the single funnel every register write goes through.
// It stores the value and runs the side effects of the index class.
func (cp *CommandProcessor) WriteRegister(index, value uint32) {
	cp.regs.Set(index, value)

	if index >= RegScratchReg0 && index <= RegScratchReg7 {
		// Scratch writeback: mirror the value into guest memory when the
		// matching unmask bit is set.
		scratchReg := index - RegScratchReg0
		if (uint32(1)<<scratchReg)&cp.regs.Get(RegScratchUmsk) != 0 {
			memAddr := cp.regs.Get(RegScratchAddr) + scratchReg*4
			common.StoreU32(cp.mem, memAddr, common.GpuSwap(value, common.Endian8in32))
			cp.trace.WriteMemoryWrite(memAddr, 4)
		}
		return
	}

	class := ClassifyRegister(index)
	if class == RegClassInterruptAck {
		// Acknowledge clears the matching status bits.
		cp.regs.Set(RegCPIntStatus, cp.regs.Get(RegCPIntStatus)&^value)
	}
	if class != RegClassGeneric && cp.listener != nil {
		cp.listener.OnRegisterWrite(class, index, value)
	}
}

// writeRegisterRangeFromRing streams count words from the ring into
// sequential registers starting at base. It is semantically count single
// WriteRegister calls.
func (cp *CommandProcessor) writeRegisterRangeFromRing(base, count uint32) {
	for i := uint32(0); i < count; i++ {
		cp.WriteRegister(base+i, cp.reader.ReadAndSwap32())
	}
}

// writeOneRegisterFromRing writes count ring words into the single register
// at base; the last word wins.
func (cp *CommandProcessor) writeOneRegisterFromRing(base, count uint32) {
	for i := uint32(0); i < count; i++ {
		cp.WriteRegister(base, cp.reader.ReadAndSwap32())
	}
}

// writeRegisterRangeFromMem streams count words from translated guest
// memory into sequential registers starting at base.
func (cp *CommandProcessor) writeRegisterRangeFromMem(base uint32, data []byte, count uint32) {
	for i := uint32(0); i < count && uint64(len(data)) >= uint64(i+1)*4; i++ {
		// Constants are stored big-endian in guest memory like ring words.
		cp.WriteRegister(base+i, binary.BigEndian.Uint32(data[i*4:]))
	}
}

// constantBankBase resolves a SET_CONSTANT/LOAD_ALU_CONSTANT type field to
// the register-file base of that bank, or false for an unknown bank.
func constantBankBase(bankType uint32) (uint32, bool) {
	switch bankType {
	case 0: // ALU
		return aluConstantBase, true
	case 1: // FETCH
		return fetchConstantBase, true
	case 2: // BOOL
		return boolConstantBase, true
	case 3: // LOOP
		return loopConstantBase, true
	case 4: // REGISTERS
		return registerBankBase, true
	default:
		return 0, false
	}
}

// readPollRegister reads a register for WAIT_REG_MEM and COND_WRITE.
// Observing the coherency status first forces the backend coherent, then
// re-reads.
func (cp *CommandProcessor) readPollRegister(index uint32) uint32 {
	value := cp.regs.Get(index)
	if index == RegCoherStatusHost {
		cp.backend.MakeCoherent()
		value = cp.regs.Get(index)
	}
	return value
}
