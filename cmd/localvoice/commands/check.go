package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-localvoice/internal/log"
	"github.com/teslashibe/go-localvoice/pkg/audioio"
	"github.com/teslashibe/go-localvoice/pkg/inference"
)

const checkPhrase = "Hello, this is a test of the local TTS system."

var checkDir string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Smoke test the local adapters",
	Long: `Run every adapter once:

  1. synthesize a test phrase to output.wav
  2. transcribe it back to transcript.txt
  3. ask the language model for a reply

Each step reports OK or FAIL; the command fails if any step does.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck()
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkDir, "dir", ".", "directory for output.wav and transcript.txt")
}

func runCheck() error {
	ctx, cancel := signalContext()
	defer cancel()

	logger := log.Component("cmd.check")
	wavPath := filepath.Join(checkDir, "output.wav")
	transcriptPath := filepath.Join(checkDir, "transcript.txt")

	var failed []string
	report := func(step string, err error) {
		if err != nil {
			failed = append(failed, step)
			printf("[%s] FAIL: %v\n", step, err)
			return
		}
		printf("[%s] OK\n", step)
	}

	// 1. TTS
	printf("[TTS] Synthesizing speech for: '%s' -> %s\n", checkPhrase, wavPath)
	err := func() error {
		synth, err := newSynthesizer(globalConfig.TTS, logger)
		if err != nil {
			return err
		}
		defer synth.Close()
		clip, err := synth.SynthesizeClip(ctx, checkPhrase)
		if err != nil {
			return err
		}
		return audioio.WriteWAVFile(wavPath, clip.Samples, clip.SampleRate, clip.Channels)
	}()
	report("TTS", err)

	// 2. STT
	var transcript string
	if err == nil {
		printf("[STT] Transcribing audio from: %s\n", wavPath)
		err = func() error {
			engine, err := newSTT(globalConfig.STT, newLoader(globalConfig.STT, logger), logger)
			if err != nil {
				return err
			}
			defer engine.Close()
			result, err := engine.TranscribeFile(ctx, wavPath)
			if err != nil {
				return err
			}
			transcript = result.Text
			return os.WriteFile(transcriptPath, []byte(transcript), 0o644)
		}()
		report("STT", err)
	} else {
		report("STT", fmt.Errorf("skipped, no audio"))
	}

	// 3. LLM
	err = func() error {
		llm, err := newLLM(globalConfig.LLM, logger)
		if err != nil {
			return err
		}
		defer llm.Close()
		if err := llm.Health(ctx); err != nil {
			return err
		}
		prompt := transcript
		if prompt == "" {
			prompt = checkPhrase
		}
		reply, err := inference.Collect(llm.Chat(ctx, inference.NewChatContext(
			inference.NewSystemMessage(systemPrompt()),
			inference.NewUserMessage(prompt),
		)))
		if err != nil {
			return err
		}
		printf("[LLM] %s\n", strings.TrimSpace(reply))
		return nil
	}()
	report("LLM", err)

	printf("\n[RESULTS]\n")
	printf("Audio file: %s\n", wavPath)
	if transcript != "" {
		printf("Transcript: %s\n", transcript)
	} else {
		printf("Transcript file not found.\n")
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d check(s) failed: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}
