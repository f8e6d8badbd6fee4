package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-localvoice/internal/log"
	"github.com/teslashibe/go-localvoice/pkg/audioio"
)

var (
	speakOutput string
	speakPlay   bool
)

var speakCmd = &cobra.Command{
	Use:   "speak <text>",
	Short: "Synthesize text to speech",
	Long: `Synthesize text with the configured voice.

The audio is written to a WAV file, or streamed to the speakers with --play.

Examples:
  localvoice speak "Hello, this is a test of the local TTS system." -o output.wav
  localvoice speak --play "How can I help?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSpeak(strings.Join(args, " "))
	},
}

func init() {
	speakCmd.Flags().StringVarP(&speakOutput, "output", "o", "output.wav", "output WAV file")
	speakCmd.Flags().BoolVar(&speakPlay, "play", false, "play through the speakers instead of writing a file")
}

func runSpeak(text string) error {
	ctx, cancel := signalContext()
	defer cancel()

	logger := log.Component("cmd.speak")
	synth, err := newSynthesizer(globalConfig.TTS, logger)
	if err != nil {
		return err
	}
	defer synth.Close()

	if err := synth.Initialize(ctx); err != nil {
		return err
	}

	if !speakPlay {
		clip, err := synth.SynthesizeClip(ctx, text)
		if err != nil {
			return err
		}
		if err := audioio.WriteWAVFile(speakOutput, clip.Samples, clip.SampleRate, clip.Channels); err != nil {
			return err
		}
		printf("Audio saved to %s (%s)\n", speakOutput, clip.Duration().Round(time.Millisecond))
		return nil
	}

	sink, err := newSink(globalConfig.Audio, logger)
	if err != nil {
		return err
	}
	defer sink.Close()

	st := synth.Synthesize(ctx, text)
	defer st.Close()
	for {
		chunk, err := st.Read(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := sink.Write(ctx, chunk); err != nil {
			return err
		}
	}
	if err := st.Err(); err != nil {
		return fmt.Errorf("synthesis failed: %w", err)
	}
	return sink.Flush(ctx)
}
