package stt

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/teslashibe/go-localvoice/pkg/session"
)

// Config holds engine configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// Model selection
	ModelSize string
	ModelDir  string

	// Device is auto, cpu or gpu. Auto and gpu both require Probe to
	// report an accelerator before the GPU is tried.
	Device session.Device

	// Decoding
	Language string
	BeamSize int

	// Probe reports whether a GPU is present. Defaults to ProbeGPU.
	Probe DeviceProbe

	// TempDir holds TranscribeBuffer's scratch files. Empty uses os.TempDir.
	TempDir string

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring the engine.
type Option func(*Config)

// WithModelSize sets the whisper model size (tiny, base, small, ...).
func WithModelSize(size string) Option {
	return func(c *Config) {
		c.ModelSize = size
	}
}

// WithModelDir sets the directory holding ggml model files.
func WithModelDir(dir string) Option {
	return func(c *Config) {
		c.ModelDir = dir
	}
}

// WithDevice restricts device selection.
func WithDevice(d session.Device) Option {
	return func(c *Config) {
		c.Device = d
	}
}

// WithLanguage sets the spoken language hint.
func WithLanguage(lang string) Option {
	return func(c *Config) {
		c.Language = lang
	}
}

// WithBeamSize sets the beam search width.
func WithBeamSize(n int) Option {
	return func(c *Config) {
		c.BeamSize = n
	}
}

// WithProbe replaces GPU detection.
func WithProbe(p DeviceProbe) Option {
	return func(c *Config) {
		c.Probe = p
	}
}

// WithTempDir sets the scratch directory for buffer transcription.
func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ModelSize: "small",
		ModelDir:  "models",
		Device:    session.DeviceAuto,
		Language:  "en",
		BeamSize:  DefaultBeamSize,
		Probe:     ProbeGPU,
		Logger:    slog.Default(),
	}
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.ModelSize == "" {
		return fmt.Errorf("stt: model size required")
	}
	switch c.Device {
	case session.DeviceAuto, session.DeviceCPU, session.DeviceGPU:
	default:
		return fmt.Errorf("stt: unknown device %q", c.Device)
	}
	if c.BeamSize <= 0 {
		return fmt.Errorf("stt: beam size must be positive, got %d", c.BeamSize)
	}
	return nil
}

// DeviceProbe reports whether a GPU accelerator is usable.
type DeviceProbe func() bool

// ProbeGPU checks CUDA_VISIBLE_DEVICES and the NVIDIA control device.
func ProbeGPU() bool {
	return probeGPU(os.LookupEnv, func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	})
}

func probeGPU(lookup func(string) (string, bool), exists func(string) bool) bool {
	if v, ok := lookup("CUDA_VISIBLE_DEVICES"); ok && (v == "" || v == "-1") {
		return false
	}
	return exists("/dev/nvidiactl")
}
