package pm4

import "xenosgpu/common"

// PrimitiveType is the primitive topology field of VGT_DRAW_INITIATOR.
type PrimitiveType uint32

const (
	PrimNone               PrimitiveType = 0x00
	PrimPointList          PrimitiveType = 0x01
	PrimLineList           PrimitiveType = 0x02
	PrimLineStrip          PrimitiveType = 0x03
	PrimTriangleList       PrimitiveType = 0x04
	PrimTriangleFan        PrimitiveType = 0x05
	PrimTriangleStrip      PrimitiveType = 0x06
	PrimTriangleWithWFlags PrimitiveType = 0x07
	PrimRectangleList      PrimitiveType = 0x08
	PrimLineLoop           PrimitiveType = 0x0C
	PrimQuadList           PrimitiveType = 0x0D
	PrimQuadStrip          PrimitiveType = 0x0E
	PrimPolygon            PrimitiveType = 0x0F

	// Types at and above this value are only usable with an explicit
	// major mode.
	primExplicitMajorModeForceStart PrimitiveType = 0x10
)

// MajorMode is the draw initiator field selecting implicit or explicit
// primitive processing.
type MajorMode uint32

const (
	MajorModeImplicit MajorMode = 0
	MajorModeExplicit MajorMode = 1
)

// IsMajorModeExplicit resolves the effective major mode for a draw.
func IsMajorModeExplicit(mode MajorMode, primType PrimitiveType) bool {
	return mode != MajorModeImplicit || primType >= primExplicitMajorModeForceStart
}

// SourceSelect is the draw initiator field naming where indices come from.
type SourceSelect uint32

const (
	SourceSelectDMA       SourceSelect = 0 // index buffer fetched over DMA
	SourceSelectImmediate SourceSelect = 1 // indices embedded in the packet
	SourceSelectAutoIndex SourceSelect = 2 // indices generated by the hardware
)

// IndexFormat is the width of one index.
type IndexFormat uint32

const (
	IndexFormat16 IndexFormat = 0
	IndexFormat32 IndexFormat = 1
)

// SizeBytes returns the byte width of one index.
func (f IndexFormat) SizeBytes() uint32 {
	if f == IndexFormat32 {
		return 4
	}
	return 2
}

// drawInitiator is a decoded VGT_DRAW_INITIATOR value.
type drawInitiator struct {
	value uint32
}

func (d drawInitiator) primType() PrimitiveType    { return PrimitiveType(d.value & 0x3F) }
func (d drawInitiator) sourceSelect() SourceSelect { return SourceSelect((d.value >> 6) & 0x3) }
func (d drawInitiator) majorMode() MajorMode       { return MajorMode((d.value >> 8) & 0x3) }
func (d drawInitiator) indexSize() IndexFormat     { return IndexFormat((d.value >> 11) & 0x1) }
func (d drawInitiator) numIndices() uint32         { return d.value >> 16 }

// dmaSize is a decoded VGT_DMA_SIZE value.
type dmaSize struct {
	value uint32
}

func (d dmaSize) numWords() uint32        { return d.value & 0xFFFFFF }
func (d dmaSize) swapMode() common.Endian { return common.Endian(d.value >> 30) }

// vizQueryControl is a decoded PA_SC_VIZ_QUERY value.
type vizQueryControl struct {
	value uint32
}

func (v vizQueryControl) vizQueryEna() bool    { return v.value&0x1 != 0 }
func (v vizQueryControl) vizQueryID() uint32   { return (v.value >> 1) & 0x3F }
func (v vizQueryControl) killPixPostHiZ() bool { return v.value&0x80 != 0 }

// IndexBufferInfo describes the index buffer of one DMA-sourced draw as it
// is handed to the backend.
type IndexBufferInfo struct {
	GuestBase  uint32
	Endianness common.Endian
	Format     IndexFormat
	Length     uint32 // bytes
	Count      uint32 // indices
}

// executeDraw is the common tail of DRAW_INDX and DRAW_INDX_2. It consumes
// countRemaining payload words even when the draw cannot be issued, so a
// failed draw never desynchronizes the stream.
func (cp *CommandProcessor) executeDraw(opcodeName string, vizQueryCondition, countRemaining uint32) bool {
	if countRemaining == 0 {
		cp.log.Logf(common.SeverityError, "%s: packet too small, can't read VGT_DRAW_INITIATOR", opcodeName)
		return false
	}
	initiator := drawInitiator{value: cp.reader.ReadAndSwap32()}
	countRemaining--
	cp.regs.Set(RegVgtDrawInitiator, initiator.value)

	drawSucceeded := true
	isIndexed := false
	var indexInfo IndexBufferInfo
	switch initiator.sourceSelect() {
	case SourceSelectDMA:
		// Indexed draw. Bounds-check the two DMA registers separately so a
		// short packet skips exactly as many words as are present.
		isIndexed = true
		if countRemaining == 0 {
			cp.log.Logf(common.SeverityError, "%s: packet too small, can't read VGT_DMA_BASE", opcodeName)
			return false
		}
		dmaBase := cp.reader.ReadAndSwap32()
		countRemaining--
		cp.regs.Set(RegVgtDmaBase, dmaBase)
		if countRemaining == 0 {
			cp.log.Logf(common.SeverityError, "%s: packet too small, can't read VGT_DMA_SIZE", opcodeName)
			return false
		}
		size := dmaSize{value: cp.reader.ReadAndSwap32()}
		countRemaining--
		cp.regs.Set(RegVgtDmaSize, size.value)

		indexSizeBytes := initiator.indexSize().SizeBytes()
		indexInfo = IndexBufferInfo{
			// The base should already be aligned to the index size; mask
			// for safety.
			GuestBase:  dmaBase &^ (indexSizeBytes - 1),
			Endianness: size.swapMode(),
			Format:     initiator.indexSize(),
			Length:     size.numWords() * indexSizeBytes,
			Count:      initiator.numIndices(),
		}
	case SourceSelectImmediate:
		cp.log.Logf(common.SeverityError,
			"%s: immediate vertex indices are not supported", opcodeName)
		drawSucceeded = false
	case SourceSelectAutoIndex:
		// Auto draw, no index buffer.
	default:
		cp.log.Logf(common.SeverityError, "%s: invalid source select %d",
			opcodeName, uint32(initiator.sourceSelect()))
		drawSucceeded = false
	}

	// Skip whatever payload is left, for example immediate indices.
	cp.reader.AdvanceRead(countRemaining * 4)

	if drawSucceeded {
		vizQuery := vizQueryControl{value: cp.regs.Get(RegPaScVizQuery)}
		if !(vizQuery.vizQueryEna() && vizQuery.killPixPostHiZ()) {
			var info *IndexBufferInfo
			if isIndexed {
				info = &indexInfo
			}
			drawSucceeded = cp.backend.IssueDraw(
				initiator.primType(), initiator.numIndices(), info,
				IsMajorModeExplicit(initiator.majorMode(), initiator.primType()))
			if !drawSucceeded {
				cp.log.Logf(common.SeverityError, "%s(%d, %d, %d): failed in backend",
					opcodeName, initiator.numIndices(),
					uint32(initiator.primType()), uint32(initiator.sourceSelect()))
			}
		}
	}

	// The packet was consumed correctly even if the host could not execute
	// it; dropping one draw is less damaging than abandoning the stream.
	return true
}
