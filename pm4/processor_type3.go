package pm4

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"time"

	"xenosgpu/common"
	"xenosgpu/trace"
)

// executePacketType3 decodes the header fields, applies the predicate gate
// and dispatches to the opcode handler.
func (cp *CommandProcessor) executePacketType3(packet uint32) bool {
	opcode := Type3Opcode((packet >> 8) & 0x7F)
	count := ((packet >> 16) & 0x3FFF) + 1
	dataStartOffset := cp.reader.ReadOffset()

	if cp.reader.ReadCount() < count*4 {
		cp.log.Logf(common.SeverityError,
			"type-3 overflow (read count %08X, packet count %08X)",
			cp.reader.ReadCount(), count*4)
		return false
	}

	// Indirect buffers declare only their two payload words; the nested
	// stream traces itself between the start/end pair.
	if opcode == OpIndirectBuffer || opcode == OpIndirectBufferPfd {
		cp.trace.WritePacketStart(cp.reader.ReadGuestAddr()-4, packet, 2)
	} else {
		cp.trace.WritePacketStart(cp.reader.ReadGuestAddr()-4, packet, 1+count)
	}

	// Predicated packets execute only when a selected bin is enabled.
	// Predicated swaps are never valid and are always skipped.
	if packet&1 != 0 {
		anyPass := (cp.binSelect & cp.binMask) != 0
		if !anyPass || opcode == OpXeSwap {
			cp.reader.AdvanceRead(count * 4)
			cp.trace.WritePacketEnd()
			return true
		}
	}

	var result bool
	switch opcode {
	case OpMeInit:
		result = cp.executeMeInit(count)
	case OpNop:
		result = cp.executeNop(count)
	case OpInterrupt:
		result = cp.executeInterrupt(count)
	case OpXeSwap:
		result = cp.executeXeSwap(count)
	case OpIndirectBuffer, OpIndirectBufferPfd:
		result = cp.executeIndirectBufferPacket(count)
	case OpWaitRegMem:
		result = cp.executeWaitRegMem(count)
	case OpRegRmw:
		result = cp.executeRegRmw(count)
	case OpRegToMem:
		result = cp.executeRegToMem(count)
	case OpMemWrite:
		result = cp.executeMemWrite(count)
	case OpCondWrite:
		result = cp.executeCondWrite(count)
	case OpEventWrite:
		result = cp.executeEventWrite(count)
	case OpEventWriteShd:
		result = cp.executeEventWriteShd(count)
	case OpEventWriteExt:
		result = cp.executeEventWriteExt(count)
	case OpEventWriteZpd:
		result = cp.executeEventWriteZpd(count)
	case OpDrawIndx:
		result = cp.executeDrawIndx(count)
	case OpDrawIndx2:
		result = cp.executeDrawIndx2(count)
	case OpSetConstant:
		result = cp.executeSetConstant(count)
	case OpSetConstant2:
		result = cp.executeSetConstant2(count)
	case OpLoadAluConstant:
		result = cp.executeLoadAluConstant(count)
	case OpSetShaderConstants:
		result = cp.executeSetShaderConstants(count)
	case OpImLoad:
		result = cp.executeImLoad(count)
	case OpImLoadImmediate:
		result = cp.executeImLoadImmediate(count)
	case OpInvalidateState:
		result = cp.executeInvalidateState(count)
	case OpVizQuery:
		result = cp.executeVizQuery(count)

	case OpSetBinMaskLo:
		value := cp.reader.ReadAndSwap32()
		cp.binMask = (cp.binMask &^ 0xFFFFFFFF) | uint64(value)
		result = true
	case OpSetBinMaskHi:
		value := cp.reader.ReadAndSwap32()
		cp.binMask = (cp.binMask & 0xFFFFFFFF) | (uint64(value) << 32)
		result = true
	case OpSetBinSelectLo:
		value := cp.reader.ReadAndSwap32()
		cp.binSelect = (cp.binSelect &^ 0xFFFFFFFF) | uint64(value)
		result = true
	case OpSetBinSelectHi:
		value := cp.reader.ReadAndSwap32()
		cp.binSelect = (cp.binSelect & 0xFFFFFFFF) | (uint64(value) << 32)
		result = true
	case OpSetBinMask:
		valHi := uint64(cp.reader.ReadAndSwap32())
		valLo := uint64(cp.reader.ReadAndSwap32())
		cp.binMask = (valHi << 32) | valLo
		result = true
	case OpSetBinSelect:
		valHi := uint64(cp.reader.ReadAndSwap32())
		valLo := uint64(cp.reader.ReadAndSwap32())
		cp.binSelect = (valHi << 32) | valLo
		result = true

	case OpContextUpdate:
		value := cp.reader.ReadAndSwap32()
		cp.log.Logf(common.SeverityDebug, "context update = %08X", value)
		if value != 0 {
			cp.log.Logf(common.SeverityWarning, "context update with non-zero payload %08X", value)
		}
		result = true
	case OpWaitForIdle:
		value := cp.reader.ReadAndSwap32()
		cp.log.Logf(common.SeverityDebug, "wait for idle = %08X", value)
		result = true

	default:
		return cp.hitUnimplementedOpcode(opcode, count)
	}

	cp.trace.WritePacketEnd()

	if opcode == OpXeSwap {
		cp.onSwapTraceBoundary()
	}

	// The reader must land exactly at the declared end of the packet.
	wantOffset := (dataStartOffset + count*4) % cp.reader.Capacity()
	if cp.reader.ReadOffset() != wantOffset {
		cp.log.Logf(common.SeverityError,
			"%s: reader at %08X after packet, want %08X",
			opcode, cp.reader.ReadOffset(), wantOffset)
	}
	return result
}

// onSwapTraceBoundary runs the trace lifecycle at the end of every executed
// XE_SWAP: swap events and flushes for an open trace, open/close transitions
// for single-frame captures.
func (cp *CommandProcessor) onSwapTraceBoundary() {
	if cp.trace.IsOpen() {
		cp.trace.WriteEvent(trace.EventKindSwap)
		cp.trace.Flush()
		if cp.traceState == TraceModeSingleFrame {
			cp.traceState = TraceModeDisabled
			cp.trace.Close()
		}
		return
	}
	openMode := TraceModeDisabled
	if cp.traceState == TraceModeStreaming {
		openMode = TraceModeStreaming
	}
	if cp.traceFrameRequest.Swap(false) {
		openMode = TraceModeSingleFrame
	}
	if openMode == TraceModeDisabled {
		return
	}
	// Captures start at a frame boundary; the sequence number is the
	// zero-based index of the swap that opens the capture (the counter has
	// already been bumped for it).
	name := fmt.Sprintf("%08X_%d.xtr", cp.cfg.TitleID, cp.counter-1)
	path := filepath.Join(cp.cfg.TraceDir, name)
	if err := cp.trace.Open(path, cp.cfg.TitleID); err != nil {
		cp.log.Error(err)
		return
	}
	cp.traceState = openMode
}

// hitUnimplementedOpcode skips the packet payload and fails the stream.
func (cp *CommandProcessor) hitUnimplementedOpcode(opcode Type3Opcode, count uint32) bool {
	cp.log.Logf(common.SeverityError, "unimplemented opcode 0x%02X, count %d",
		uint32(opcode), count)
	cp.reader.AdvanceRead(count * 4)
	cp.trace.WritePacketEnd()
	return false
}

// executeMeInit copies the micro-engine initialization words aside.
func (cp *CommandProcessor) executeMeInit(count uint32) bool {
	cp.meBin = make([]uint32, count)
	for i := uint32(0); i < count; i++ {
		cp.meBin[i] = cp.reader.ReadAndSwap32()
	}
	return true
}

// executeNop skips the payload.
func (cp *CommandProcessor) executeNop(count uint32) bool {
	cp.reader.AdvanceRead(count * 4)
	return true
}

// executeInterrupt raises a guest interrupt on every cpu named in the mask.
func (cp *CommandProcessor) executeInterrupt(count uint32) bool {
	cpuMask := cp.reader.ReadAndSwap32()
	for n := uint32(0); n < 6; n++ {
		if cpuMask&(1<<n) != 0 {
			cp.backend.DispatchInterruptCallback(1, n)
		}
	}
	return true
}

// executeXeSwap handles the VdSwap hook packet: 63 words, of which only the
// first four carry data.
func (cp *CommandProcessor) executeXeSwap(count uint32) bool {
	magic := cp.reader.ReadAndSwap32()
	if magic != kSwapSignature {
		cp.log.Logf(common.SeverityWarning, "swap packet signature %08X, want %08X",
			magic, uint32(kSwapSignature))
	}

	frontbufferPtr := cp.reader.ReadAndSwap32()
	frontbufferWidth := cp.reader.ReadAndSwap32()
	frontbufferHeight := cp.reader.ReadAndSwap32()
	cp.reader.AdvanceRead((count - 4) * 4)

	cp.backend.IssueSwap(frontbufferPtr, frontbufferWidth, frontbufferHeight)

	cp.counter++
	return true
}

// executeIndirectBufferPacket reads the pointer and length words and runs
// the embedded stream.
func (cp *CommandProcessor) executeIndirectBufferPacket(count uint32) bool {
	listPtr := cp.reader.ReadAndSwap32()
	listLength := cp.reader.ReadAndSwap32()
	if listLength&^0xFFFFF != 0 {
		cp.log.Logf(common.SeverityWarning, "indirect buffer length %08X exceeds 20 bits", listLength)
	}
	listLength &= 0xFFFFF
	cp.executeIndirectBuffer(listPtr, listLength)
	return true
}

// executeIndirectBuffer executes length words of commands at ptr, then
// restores the outer reader. A bad packet terminates the inner stream only.
func (cp *CommandProcessor) executeIndirectBuffer(ptr, length uint32) {
	if length == 0 {
		return
	}
	if cp.indirectDepth >= maxIndirectDepth {
		cp.log.Logf(common.SeverityError,
			"indirect buffer at 0x%08X: nesting depth %d exceeded", ptr, cp.indirectDepth)
		return
	}
	data := cp.mem.TranslatePhysical(ptr)
	if uint64(len(data)) < uint64(length)*4 {
		cp.log.Logf(common.SeverityError,
			"indirect buffer at 0x%08X: %d words not backed by memory", ptr, length)
		return
	}

	cp.trace.WriteIndirectBufferStart(ptr, length*4)

	oldReader := cp.reader
	cp.indirectDepth++

	// A fresh cursor over the exact window; equal offsets here mean the
	// whole window is pending, and the loop below runs until the read
	// cursor wraps back onto the write cursor.
	cp.reader = NewRingBuffer(data[:length*4], ptr)
	cp.reader.SetWriteOffset(length * 4)
	cp.reader.BeginPrefetchedRead(length * 4)

	for {
		if !cp.ExecutePacket() {
			// Return up a level on a bad packet.
			cp.log.Logf(common.SeverityError,
				"indirect buffer at 0x%08X: failed to execute packet", ptr)
			break
		}
		if cp.reader.ReadCount() == 0 {
			break
		}
	}

	cp.indirectDepth--
	cp.trace.WriteIndirectBufferEnd()
	cp.reader = oldReader
}

// matchValueAndRef compares a masked value to the reference under the
// condition encoded in the low 3 bits of wait info.
func matchValueAndRef(value, ref, waitInfo uint32) bool {
	switch waitInfo & 0x7 {
	case 0x0: // never
		return false
	case 0x1: // less than reference
		return value < ref
	case 0x2: // less than or equal to reference
		return value <= ref
	case 0x3: // equal to reference
		return value == ref
	case 0x4: // not equal to reference
		return value != ref
	case 0x5: // greater than or equal to reference
		return value >= ref
	case 0x6: // greater than reference
		return value > ref
	default: // always
		return true
	}
}

// executeWaitRegMem polls a register or memory word until it matches the
// reference. This is the stream's only suspension point.
func (cp *CommandProcessor) executeWaitRegMem(count uint32) bool {
	waitInfo := cp.reader.ReadAndSwap32()
	pollRegAddr := cp.reader.ReadAndSwap32()
	ref := cp.reader.ReadAndSwap32()
	mask := cp.reader.ReadAndSwap32()
	wait := cp.reader.ReadAndSwap32()

	for {
		var value uint32
		if waitInfo&0x10 != 0 {
			// Memory.
			addr, endianness := common.SplitAddress(pollRegAddr)
			value = common.GpuSwap(common.LoadU32(cp.mem, addr), endianness)
			cp.trace.WriteMemoryRead(addr, 4)
		} else {
			// Register.
			value = cp.readPollRegister(pollRegAddr)
		}
		if matchValueAndRef(value&mask, ref, waitInfo) {
			return true
		}

		if wait >= 0x100 {
			cp.backend.PrepareForWait()
			if !cp.cfg.VSync {
				// User wants it fast and dangerous.
				cp.Yield()
			} else {
				cp.Sleep(time.Duration(wait/0x100) * time.Millisecond)
			}
			cp.backend.ReturnFromWait()
		} else {
			cp.Yield()
		}
		if !cp.workerRunning.Load() {
			// Short-circuited exit.
			return false
		}
	}
}

// executeRegRmw reads, masks and writes back one register. Bits 31 and 30
// of the info word select register or immediate operands for AND and OR.
func (cp *CommandProcessor) executeRegRmw(count uint32) bool {
	rmwInfo := cp.reader.ReadAndSwap32()
	andMask := cp.reader.ReadAndSwap32()
	orMask := cp.reader.ReadAndSwap32()

	value := cp.regs.Get(rmwInfo & 0x1FFF)
	if (rmwInfo>>31)&0x1 != 0 {
		value &= cp.regs.Get(andMask & 0x1FFF)
	} else {
		value &= andMask
	}
	if (rmwInfo>>30)&0x1 != 0 {
		value |= cp.regs.Get(orMask & 0x1FFF)
	} else {
		value |= orMask
	}
	cp.WriteRegister(rmwInfo&0x1FFF, value)
	return true
}

// executeRegToMem copies one register value to guest memory.
func (cp *CommandProcessor) executeRegToMem(count uint32) bool {
	regAddr := cp.reader.ReadAndSwap32()
	memAddr := cp.reader.ReadAndSwap32()

	regVal := cp.regs.Get(regAddr)

	addr, endianness := common.SplitAddress(memAddr)
	common.StoreU32(cp.mem, addr, common.GpuSwap(regVal, endianness))
	cp.trace.WriteMemoryWrite(addr, 4)
	return true
}

// executeMemWrite stores count-1 payload words at successive addresses,
// each swapped per the base address's endianness bits.
func (cp *CommandProcessor) executeMemWrite(count uint32) bool {
	writeAddr := cp.reader.ReadAndSwap32()
	for i := uint32(0); i < count-1; i++ {
		writeData := cp.reader.ReadAndSwap32()
		addr, endianness := common.SplitAddress(writeAddr)
		common.StoreU32(cp.mem, addr, common.GpuSwap(writeData, endianness))
		cp.trace.WriteMemoryWrite(addr, 4)
		writeAddr += 4
	}
	return true
}

// executeCondWrite performs one comparison and, on match, one write to a
// register or to guest memory.
func (cp *CommandProcessor) executeCondWrite(count uint32) bool {
	waitInfo := cp.reader.ReadAndSwap32()
	pollRegAddr := cp.reader.ReadAndSwap32()
	ref := cp.reader.ReadAndSwap32()
	mask := cp.reader.ReadAndSwap32()
	writeRegAddr := cp.reader.ReadAndSwap32()
	writeData := cp.reader.ReadAndSwap32()

	var value uint32
	if waitInfo&0x10 != 0 {
		// Memory.
		addr, endianness := common.SplitAddress(pollRegAddr)
		cp.trace.WriteMemoryRead(addr, 4)
		value = common.GpuSwap(common.LoadU32(cp.mem, addr), endianness)
	} else {
		// Register.
		value = cp.readPollRegister(pollRegAddr)
	}

	if matchValueAndRef(value&mask, ref, waitInfo) {
		if waitInfo&0x100 != 0 {
			// Memory.
			addr, endianness := common.SplitAddress(writeRegAddr)
			common.StoreU32(cp.mem, addr, common.GpuSwap(writeData, endianness))
			cp.trace.WriteMemoryWrite(addr, 4)
		} else {
			// Register.
			cp.WriteRegister(writeRegAddr, writeData)
		}
	}
	return true
}

// writeEventInitiator latches an event kind into VGT_EVENT_INITIATOR for
// downstream blocks.
func (cp *CommandProcessor) writeEventInitiator(value uint32) {
	cp.regs.Set(RegVgtEventInitiator, value)
}

// executeEventWrite latches the event initiator. Payloads longer than one
// word would carry a writeback address; none has been observed.
func (cp *CommandProcessor) executeEventWrite(count uint32) bool {
	initiator := cp.reader.ReadAndSwap32()
	cp.writeEventInitiator(initiator & 0x3F)
	if count > 1 {
		// TODO(xenos): find a stream that produces a writeback payload here.
		cp.log.Logf(common.SeverityWarning, "EVENT_WRITE with count %d, skipping payload", count)
		cp.reader.AdvanceRead((count - 1) * 4)
	}
	return true
}

// executeEventWriteShd writes the frame counter or a supplied value to
// guest memory for VS/PS done events.
func (cp *CommandProcessor) executeEventWriteShd(count uint32) bool {
	initiator := cp.reader.ReadAndSwap32()
	address := cp.reader.ReadAndSwap32()
	value := cp.reader.ReadAndSwap32()
	cp.writeEventInitiator(initiator & 0x3F)

	var dataValue uint32
	if (initiator>>31)&0x1 != 0 {
		dataValue = cp.counter
	} else {
		dataValue = value
	}
	addr, endianness := common.SplitAddress(address)
	common.StoreU32(cp.mem, addr, common.GpuSwap(dataValue, endianness))
	cp.trace.WriteMemoryWrite(addr, 4)
	return true
}

// kTexture2DMaxWidthHeight bounds the screen extents reported for extent
// events.
const kTexture2DMaxWidthHeight = 8192

// executeEventWriteExt writes the fixed screen-extent array a previous draw
// is claimed to have touched.
func (cp *CommandProcessor) executeEventWriteExt(count uint32) bool {
	initiator := cp.reader.ReadAndSwap32()
	address := cp.reader.ReadAndSwap32()
	cp.writeEventInitiator(initiator & 0x3F)

	addr, endianness := common.SplitAddress(address)
	if endianness != common.Endian8in16 {
		cp.log.Logf(common.SeverityWarning, "extent event endianness %v, want 8in16", endianness)
	}

	// Claim the full texture bounds were affected.
	extents := [6]uint16{
		0 >> 3,                          // min x
		kTexture2DMaxWidthHeight >> 3,   // max x
		0 >> 3,                          // min y
		kTexture2DMaxWidthHeight >> 3,   // max y
		0,                               // min z
		1,                               // max z
	}

	dest := cp.mem.TranslatePhysical(addr)
	if len(dest) < len(extents)*2 {
		cp.log.Logf(common.SeverityError, "extent event address 0x%08X not backed", addr)
		return true
	}
	for i, v := range extents {
		// 8-in-16 swapped relative to the host order.
		binary.BigEndian.PutUint16(dest[i*2:], v)
	}
	cp.trace.WriteMemoryWrite(addr, uint32(len(extents)*2))
	return true
}

// Guest layout of the depth sample count writeback block.
const (
	sampleCountZPassA      = 0x00
	sampleCountZPassB      = 0x04
	sampleCountZFailA      = 0x08
	sampleCountZFailB      = 0x0C
	sampleCountStencilFailA = 0x10
	sampleCountStencilFailB = 0x14
	sampleCountTotalA      = 0x18
	sampleCountTotalB      = 0x1C
	sampleCountsSize       = 0x20
)

// executeEventWriteZpd fakes an occlusion query result. The guest driver
// marks a finished query by storing a sentinel in the sample-count block.
// The block is zeroed on every event; when the sentinel was seen, a fixed
// passed-sample count is then reported.
func (cp *CommandProcessor) executeEventWriteZpd(count uint32) bool {
	// Written by the guest as big-endian, compared against the raw host
	// word, hence pre-swapped.
	const kQueryFinished = 0xEDFEFFFF

	initiator := cp.reader.ReadAndSwap32()
	cp.writeEventInitiator(initiator & 0x3F)

	fakeSampleCount := cp.cfg.QueryOcclusionFakeSampleCount
	if fakeSampleCount < 0 {
		return true
	}
	base := cp.regs.Get(RegRbSampleCountAddr)
	block := cp.mem.TranslatePhysical(base)
	if len(block) < sampleCountsSize {
		cp.log.Logf(common.SeverityError, "sample count block 0x%08X not backed", base)
		return true
	}
	read := func(off uint32) uint32 { return binary.LittleEndian.Uint32(block[off:]) }

	// The sentinel lands in ZPass on end; older guest drivers used ZFail.
	isEndViaZPass := read(sampleCountZPassA) == kQueryFinished &&
		read(sampleCountZPassB) == kQueryFinished
	isEndViaZFail := read(sampleCountZFailA) == kQueryFinished &&
		read(sampleCountZFailB) == kQueryFinished

	for i := 0; i < sampleCountsSize; i++ {
		block[i] = 0
	}
	if isEndViaZPass || isEndViaZFail {
		binary.LittleEndian.PutUint32(block[sampleCountZPassA:], uint32(fakeSampleCount))
		binary.LittleEndian.PutUint32(block[sampleCountTotalA:], uint32(fakeSampleCount))
	}
	cp.trace.WriteMemoryWrite(base, sampleCountsSize)
	return true
}

// executeDrawIndx initiates an index buffer fetch and draw. The first
// payload word is a viz query token.
func (cp *CommandProcessor) executeDrawIndx(count uint32) bool {
	if count == 0 {
		cp.log.Log(common.SeverityError, "DRAW_INDX: packet too small, can't read the viz query token")
		return false
	}
	vizQueryCondition := cp.reader.ReadAndSwap32()
	return cp.executeDraw("DRAW_INDX", vizQueryCondition, count-1)
}

// executeDrawIndx2 is DRAW_INDX without the viz query token: the draw
// initiator is the first payload word. Immediate (in-packet) indices are not
// drawn; executeDraw consumes them and drops the draw.
func (cp *CommandProcessor) executeDrawIndx2(count uint32) bool {
	return cp.executeDraw("DRAW_INDX_2", 0, count)
}

// executeSetConstant streams count-1 words into the constant bank selected
// by the type field of the first word.
func (cp *CommandProcessor) executeSetConstant(count uint32) bool {
	offsetType := cp.reader.ReadAndSwap32()
	index := offsetType & 0x7FF
	bankType := (offsetType >> 16) & 0xFF

	base, ok := constantBankBase(bankType)
	if !ok {
		cp.log.Logf(common.SeverityWarning, "SET_CONSTANT with unknown bank %d", bankType)
		cp.reader.AdvanceRead((count - 1) * 4)
		return true
	}
	cp.writeRegisterRangeFromRing(base+index, count-1)
	return true
}

// executeSetConstant2 is the 16-bit-index variant targeting the register
// bank directly.
func (cp *CommandProcessor) executeSetConstant2(count uint32) bool {
	offsetType := cp.reader.ReadAndSwap32()
	index := offsetType & 0xFFFF
	cp.writeRegisterRangeFromRing(index, count-1)
	return true
}

// executeLoadAluConstant streams constants from guest memory into the bank
// selected by the type field.
func (cp *CommandProcessor) executeLoadAluConstant(count uint32) bool {
	address := cp.reader.ReadAndSwap32() & 0x3FFFFFFF
	offsetType := cp.reader.ReadAndSwap32()
	index := offsetType & 0x7FF
	sizeDwords := cp.reader.ReadAndSwap32() & 0xFFF
	bankType := (offsetType >> 16) & 0xFF

	base, ok := constantBankBase(bankType)
	if !ok {
		cp.log.Logf(common.SeverityWarning, "LOAD_ALU_CONSTANT with unknown bank %d", bankType)
		return true
	}
	data := cp.mem.TranslatePhysical(address)
	if uint64(len(data)) < uint64(sizeDwords)*4 {
		cp.log.Logf(common.SeverityError, "constant load 0x%08X not backed for %d dwords",
			address, sizeDwords)
		return true
	}
	cp.trace.WriteMemoryRead(address, sizeDwords*4)
	cp.writeRegisterRangeFromMem(base+index, data, sizeDwords)
	return true
}

// executeSetShaderConstants is a generic register range write.
func (cp *CommandProcessor) executeSetShaderConstants(count uint32) bool {
	offsetType := cp.reader.ReadAndSwap32()
	index := offsetType & 0xFFFF
	cp.writeRegisterRangeFromRing(index, count-1)
	return true
}

// executeImLoad loads sequencer instruction memory from guest memory and
// makes the shader active.
func (cp *CommandProcessor) executeImLoad(count uint32) bool {
	addrType := cp.reader.ReadAndSwap32()
	shaderType := ShaderType(addrType & 0x3)
	addr := addrType &^ 0x3
	startSize := cp.reader.ReadAndSwap32()
	start := startSize >> 16
	sizeDwords := startSize & 0xFFFF
	if start != 0 {
		cp.log.Logf(common.SeverityWarning, "IM_LOAD with non-zero start %d", start)
	}

	data := cp.mem.TranslatePhysical(addr)
	if uint64(len(data)) < uint64(sizeDwords)*4 {
		cp.log.Logf(common.SeverityError, "IM_LOAD source 0x%08X not backed for %d dwords",
			addr, sizeDwords)
		return false
	}
	cp.trace.WriteMemoryRead(addr, sizeDwords*4)
	shader := cp.backend.LoadShader(shaderType, addr, data[:sizeDwords*4], sizeDwords)
	return cp.setActiveShader(shaderType, shader)
}

// executeImLoadImmediate loads sequencer instruction memory embedded in the
// packet itself.
func (cp *CommandProcessor) executeImLoadImmediate(count uint32) bool {
	dword0 := cp.reader.ReadAndSwap32()
	dword1 := cp.reader.ReadAndSwap32()
	shaderType := ShaderType(dword0)
	start := dword1 >> 16
	sizeDwords := dword1 & 0xFFFF
	if start != 0 {
		cp.log.Logf(common.SeverityWarning, "IM_LOAD_IMMEDIATE with non-zero start %d", start)
	}
	if count-2 < sizeDwords {
		cp.log.Logf(common.SeverityError,
			"IM_LOAD_IMMEDIATE declares %d dwords but packet carries %d", sizeDwords, count-2)
		return false
	}

	guestAddr := cp.reader.ReadGuestAddr()
	data := cp.reader.ReadBytes(sizeDwords * 4)
	shader := cp.backend.LoadShader(shaderType, guestAddr, data, sizeDwords)
	if !cp.setActiveShader(shaderType, shader) {
		return false
	}
	cp.reader.AdvanceRead((count - 2 - sizeDwords) * 4)
	return true
}

func (cp *CommandProcessor) setActiveShader(shaderType ShaderType, shader Shader) bool {
	switch shaderType {
	case ShaderTypeVertex:
		cp.activeVertexShader = shader
	case ShaderTypePixel:
		cp.activePixelShader = shader
	default:
		cp.log.Logf(common.SeverityError, "unhandled shader type %d", uint32(shaderType))
		return false
	}
	return true
}

// executeInvalidateState reads the state mask; no effect on this core.
func (cp *CommandProcessor) executeInvalidateState(count uint32) bool {
	mask := cp.reader.ReadAndSwap32()
	cp.log.Logf(common.SeverityDebug, "invalidate state %08X", mask)
	return true
}

// executeVizQuery brackets viz query extent processing. End latches the
// query as visible in the status registers; real hardware writes the scan
// converter result back here.
func (cp *CommandProcessor) executeVizQuery(count uint32) bool {
	dword0 := cp.reader.ReadAndSwap32()
	id := dword0 & 0x3F
	end := dword0&0x100 != 0
	if !end {
		// Begin clears the scan converter's internal state, which is not
		// the status register.
		cp.writeEventInitiator(eventVizQueryStart)
	} else {
		cp.writeEventInitiator(eventVizQueryEnd)
		if id < 32 {
			cp.regs.Set(RegPaScVizQueryStatus0,
				cp.regs.Get(RegPaScVizQueryStatus0)|uint32(1)<<id)
		} else {
			cp.regs.Set(RegPaScVizQueryStatus1,
				cp.regs.Get(RegPaScVizQueryStatus1)|uint32(1)<<(id-32))
		}
	}
	return true
}
