package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-localvoice/internal/log"
	"github.com/teslashibe/go-localvoice/pkg/stt"
)

var transcribeOutput string

var transcribeCmd = &cobra.Command{
	Use:   "transcribe [file.wav]",
	Short: "Transcribe a WAV file",
	Long: `Transcribe a WAV file with the local whisper model.

On a machine with a GPU every compute type (float16, int8_float16, int8) is
tried on the GPU before falling back to int8 on the CPU. Segments are printed
and written to the output file, one per line:

  [0.00s -> 2.40s] Hello, this is a test.

Example:
  localvoice transcribe output.wav -o transcription.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := "output.wav"
		if len(args) == 1 {
			input = args[0]
		}
		return runTranscribe(cmd, input, transcribeOutput)
	},
}

func init() {
	transcribeCmd.Flags().StringVarP(&transcribeOutput, "output", "o", "transcription.txt", "transcript file")
}

func runTranscribe(cmd *cobra.Command, input, output string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg := globalConfig.STT
	logger := log.Component("cmd.transcribe")

	if _, ok := os.LookupEnv("LD_LIBRARY_PATH"); !ok {
		logger.Debug("LD_LIBRARY_PATH not set", "suggested", stt.LibraryPath(""))
	}

	loader := newTieredLoader(newLoader(cfg, logger), stt.ComputeTypes, logger)
	engine, err := newSTT(cfg, loader, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	printf("Loading %s model...\n", cfg.ModelSize)
	if err := engine.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to load model on GPU and CPU: %w", err)
	}
	placement := engine.Info().Placement
	if loader.loaded != "" {
		placement.ComputeType = loader.loaded
	}
	printf("Using %s model (%s)\n", strings.ToUpper(string(placement.Device)), placement.ComputeType)

	result, err := engine.TranscribeFile(ctx, input)
	if errors.Is(err, stt.ErrNotFound) {
		return fmt.Errorf("audio file not found: %s", input)
	}
	if err != nil {
		return fmt.Errorf("transcription failed: %w", err)
	}

	if result.Language != "" {
		printf("Detected language: %s\n", result.Language)
	}
	printf("Number of segments: %d\n\n", len(result.Segments))
	if err := stt.WriteTranscript(cmd.OutOrStdout(), result.Segments); err != nil {
		return err
	}
	if err := stt.WriteTranscriptFile(output, result.Segments); err != nil {
		return err
	}
	printf("\nTranscription saved to %s\n", output)
	return nil
}
