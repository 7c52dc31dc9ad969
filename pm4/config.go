package pm4

// TraceMode selects how the trace writer is driven at swap boundaries.
type TraceMode int

const (
	// TraceModeDisabled writes nothing.
	TraceModeDisabled TraceMode = iota
	// TraceModeStreaming keeps one trace open across frames.
	TraceModeStreaming
	// TraceModeSingleFrame opens a trace at the next swap and closes it at
	// the one after.
	TraceModeSingleFrame
)

func (m TraceMode) String() string {
	switch m {
	case TraceModeStreaming:
		return "streaming"
	case TraceModeSingleFrame:
		return "single-frame"
	default:
		return "disabled"
	}
}

// Config captures the settings the command processor needs. It is injected
// at construction; the processor never consults process-wide state.
type Config struct {
	// QueryOcclusionFakeSampleCount is the sample count reported for
	// finished occlusion queries. Negative disables the writeback.
	QueryOcclusionFakeSampleCount int32

	// VSync gates whether long WAIT_REG_MEM polls sleep or merely yield.
	VSync bool

	// TraceMode is the initial trace state.
	TraceMode TraceMode

	// TraceDir is where single-frame trace files are created.
	TraceDir string

	// TitleID tags trace files and their names.
	TitleID uint32
}

// DefaultConfig returns the settings used when the embedder has no opinion.
func DefaultConfig() Config {
	return Config{
		QueryOcclusionFakeSampleCount: 1000,
		VSync:                         true,
	}
}
