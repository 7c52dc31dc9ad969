// pm4replay feeds a raw PM4 command-stream dump through the interpreter
// against a stub backend and reports what the stream did.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"xenosgpu/common"
	"xenosgpu/pm4"
	"xenosgpu/printer"
	"xenosgpu/trace"
)

// stubBackend satisfies the backend contract by counting and logging swaps,
// draws, shader loads and interrupts; the coherency and wait hooks do nothing.
type stubBackend struct {
	log    common.Logger
	swaps  int
	draws  int
	shader int
}

func (b *stubBackend) IssueSwap(frontbufferPtr, width, height uint32) {
	b.swaps++
	b.log.Logf(common.SeverityInfo, "swap: frontbuffer=0x%08X %dx%d", frontbufferPtr, width, height)
}

func (b *stubBackend) IssueDraw(prim pm4.PrimitiveType, indexCount uint32, indexInfo *pm4.IndexBufferInfo, majorModeExplicit bool) bool {
	b.draws++
	if indexInfo != nil {
		b.log.Logf(common.SeverityInfo, "draw: prim=%d indices=%d indexed base=0x%08X len=%d",
			prim, indexCount, indexInfo.GuestBase, indexInfo.Length)
	} else {
		b.log.Logf(common.SeverityInfo, "draw: prim=%d indices=%d auto", prim, indexCount)
	}
	return true
}

func (b *stubBackend) LoadShader(shaderType pm4.ShaderType, guestAddr uint32, data []byte, sizeDwords uint32) pm4.Shader {
	b.shader++
	b.log.Logf(common.SeverityInfo, "shader: %s at 0x%08X, %d dwords", shaderType, guestAddr, sizeDwords)
	return sizeDwords
}

func (b *stubBackend) DispatchInterruptCallback(source, cpu uint32) {
	b.log.Logf(common.SeverityInfo, "interrupt: source=%d cpu=%d", source, cpu)
}

func (b *stubBackend) MakeCoherent()   {}
func (b *stubBackend) PrepareForWait() {}
func (b *stubBackend) ReturnFromWait() {}

// ringSizeLog2For returns the smallest power-of-two exponent, no less than
// 12, whose ring is larger than n bytes, so the write offset of an n-byte
// stream never wraps onto the read offset.
func ringSizeLog2For(n int) uint32 {
	sizeLog2 := uint32(12)
	for (1 << sizeLog2) <= n {
		sizeLog2++
	}
	return sizeLog2
}

func main() {
	var (
		ringBase uint32
		dataPath string
		dataBase uint32
		titleID  uint32
		verbose  bool
		dumpAll  bool
	)

	rootCmd := &cobra.Command{
		Use:   "pm4replay <stream.bin>",
		Short: "Replay a raw PM4 command stream through the interpreter",
		Long: `pm4replay maps a dump of big-endian PM4 command words as the primary ring
buffer, executes it against a stub backend and prints a summary of the
resulting trace (every record with --dump).
An optional data file provides the guest memory that indirect buffers,
constant loads and index buffers reference.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if len(raw)%4 != 0 {
				return fmt.Errorf("stream length %d is not word-aligned", len(raw))
			}

			logLevel := common.SeverityWarning
			if verbose {
				logLevel = common.SeverityDebug
			}
			logger := common.NewStdLogger(logLevel)

			sizeLog2 := ringSizeLog2For(len(raw))
			ringData := make([]byte, 1<<sizeLog2)
			copy(ringData, raw)

			mem := common.NewMultiRegionMemory()
			if err := mem.AddRegion(common.NewMemoryBuffer(ringBase, ringData)); err != nil {
				return err
			}
			if dataPath != "" {
				data, err := os.ReadFile(dataPath)
				if err != nil {
					return err
				}
				if err := mem.AddRegion(common.NewMemoryBuffer(dataBase, data)); err != nil {
					return err
				}
			}

			cfg := pm4.DefaultConfig()
			cfg.TitleID = titleID
			backend := &stubBackend{log: logger}
			cp := pm4.NewCommandProcessor(mem, backend, cfg)
			cp.SetLogger(logger)

			rec := trace.NewRecorder()
			cp.SetTraceWriter(rec)

			if err := cp.InstallRing(ringBase, sizeLog2); err != nil {
				return err
			}
			cp.UpdateWritePointer(uint32(len(raw)) % (uint32(1) << sizeLog2))

			ok := cp.ExecutePending()

			if dumpAll {
				for _, line := range printer.FormatRecords(rec.Records) {
					fmt.Println(line)
				}
			}
			fmt.Printf("trace: %s\n", printer.Summary(rec.Records))
			fmt.Printf("backend: swaps=%d draws=%d shaders=%d frames=%d\n",
				backend.swaps, backend.draws, backend.shader, cp.FrameCounter())
			if !ok {
				return fmt.Errorf("stream terminated on a bad packet")
			}
			return nil
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.Flags().Uint32Var(&ringBase, "ring-base", 0x1F000000, "guest physical address of the ring")
	rootCmd.Flags().StringVar(&dataPath, "data", "", "optional raw guest memory image")
	rootCmd.Flags().Uint32Var(&dataBase, "data-base", 0x10000000, "guest physical address of the memory image")
	rootCmd.Flags().Uint32Var(&titleID, "title", 0, "title ID tagged into traces")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "also log backend calls and per-packet debug messages")
	rootCmd.Flags().BoolVar(&dumpAll, "dump", false, "print every trace record")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pm4replay: %v\n", err)
		os.Exit(1)
	}
}
