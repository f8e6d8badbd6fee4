package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/teslashibe/go-localvoice/pkg/audioio"
)

const providerPiper = "piper"

// PiperDefaultSampleRate is used when the model has no config file.
const PiperDefaultSampleRate = 22050

// Piper renders speech by running the piper executable once per utterance.
type Piper struct {
	Bin        string
	Model      string
	Speaker    int // -1 for single-speaker models
	SampleRate int

	logger *slog.Logger
}

// PiperOption configures a Piper voice.
type PiperOption func(*Piper)

// WithPiperBin sets the executable.
func WithPiperBin(bin string) PiperOption {
	return func(p *Piper) { p.Bin = bin }
}

// WithPiperSpeaker selects a speaker in a multi-speaker model.
func WithPiperSpeaker(id int) PiperOption {
	return func(p *Piper) { p.Speaker = id }
}

// WithPiperLogger sets the structured logger.
func WithPiperLogger(l *slog.Logger) PiperOption {
	return func(p *Piper) { p.logger = l }
}

// NewPiper creates a Piper voice for an .onnx model.
func NewPiper(model string, opts ...PiperOption) *Piper {
	p := &Piper{
		Bin:     "piper",
		Model:   model,
		Speaker: -1,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "tts.piper")
	return p
}

// Name returns "piper".
func (p *Piper) Name() string {
	return providerPiper
}

type piperModelConfig struct {
	Audio struct {
		SampleRate int `json:"sample_rate"`
	} `json:"audio"`
}

// Load checks the executable and model, and reads the model's sample rate
// from its .onnx.json sidecar when present.
func (p *Piper) Load(ctx context.Context) error {
	bin, err := exec.LookPath(p.Bin)
	if err != nil {
		return WrapError(providerPiper, fmt.Errorf("%w: %s", ErrBackendUnavailable, p.Bin))
	}
	p.Bin = bin

	if _, err := os.Stat(p.Model); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return WrapError(providerPiper, fmt.Errorf("%w: %s", ErrModelNotFound, p.Model))
		}
		return WrapError(providerPiper, err)
	}

	if p.SampleRate == 0 {
		p.SampleRate = PiperDefaultSampleRate
		if data, err := os.ReadFile(p.Model + ".json"); err == nil {
			var mc piperModelConfig
			if err := sonic.Unmarshal(data, &mc); err == nil && mc.Audio.SampleRate > 0 {
				p.SampleRate = mc.Audio.SampleRate
			}
		}
	}
	p.logger.Info("piper voice ready", "model", p.Model, "sample_rate", p.SampleRate)
	return nil
}

// Args returns the piper command-line arguments.
func (p *Piper) Args() []string {
	args := []string{"--model", p.Model, "--output_raw"}
	if p.Speaker >= 0 {
		args = append(args, "--speaker", strconv.Itoa(p.Speaker))
	}
	return args
}

// Render pipes text to piper and reads raw PCM16 from its stdout.
func (p *Piper) Render(ctx context.Context, text string) ([]float32, int, error) {
	cmd := exec.CommandContext(ctx, p.Bin, p.Args()...)
	cmd.Stdin = strings.NewReader(text + "\n")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return nil, 0, WrapError(providerPiper, err)
	}

	pcm := audioio.BytesToSamples(stdout.Bytes())
	return audioio.Int16ToFloat32(pcm), p.SampleRate, nil
}

// Close is a no-op; piper runs per utterance.
func (p *Piper) Close() error {
	return nil
}

var _ Voice = (*Piper)(nil)
