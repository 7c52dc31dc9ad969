package pm4

// ShaderType selects which of the two sequencer shader slots a load targets.
type ShaderType uint32

const (
	ShaderTypeVertex ShaderType = 0
	ShaderTypePixel  ShaderType = 1
)

func (t ShaderType) String() string {
	switch t {
	case ShaderTypeVertex:
		return "vertex"
	case ShaderTypePixel:
		return "pixel"
	default:
		return "unknown"
	}
}

// Shader is an opaque handle returned by the embedding shader loader. The
// command processor only stores and hands it back.
type Shader interface{}

// Backend is the contract the embedding emulator supplies. The command
// processor calls it from its worker; implementations synchronize
// internally if they touch shared state.
type Backend interface {
	// IssueSwap presents the frontbuffer.
	IssueSwap(frontbufferPtr, width, height uint32)

	// IssueDraw submits one draw. indexInfo is nil for auto-indexed draws.
	// A false return drops the draw without aborting the stream.
	IssueDraw(primType PrimitiveType, indexCount uint32, indexInfo *IndexBufferInfo, majorModeExplicit bool) bool

	// LoadShader translates shader microcode. data holds the raw guest
	// bytes of sizeDwords words.
	LoadShader(shaderType ShaderType, guestAddr uint32, data []byte, sizeDwords uint32) Shader

	// DispatchInterruptCallback raises a guest interrupt on the given cpu.
	DispatchInterruptCallback(source, cpu uint32)

	// MakeCoherent flushes caches before COHER_STATUS_HOST is observed.
	MakeCoherent()

	// PrepareForWait and ReturnFromWait bracket long WAIT_REG_MEM sleeps.
	PrepareForWait()
	ReturnFromWait()
}

// RegisterListener observes writes that land in a side-effecting register
// class. Optional; the rendering backend and coherence tracker attach here.
type RegisterListener interface {
	OnRegisterWrite(class RegisterClass, index, value uint32)
}
