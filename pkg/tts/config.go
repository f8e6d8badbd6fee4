package tts

import (
	"fmt"
	"log/slog"
	"time"
)

// Synthesizer defaults.
const (
	DefaultFrameSize     = 1024
	DefaultPacing        = 10 * time.Millisecond
	DefaultPeakThreshold = 1e-3
	DefaultTargetPeak    = 0.95
	DefaultStreamBuffer  = 8
)

// Config holds synthesizer configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// FrameSize is the number of samples per emitted chunk.
	FrameSize int

	// Pacing is the pause between emitted chunks.
	Pacing time.Duration

	// Normalization: audio whose peak exceeds PeakThreshold is scaled to TargetPeak.
	PeakThreshold float32
	TargetPeak    float32

	// StretchFactor slows speech when above 1.
	StretchFactor float64

	// StreamBuffer is how many chunks may queue ahead of the reader.
	StreamBuffer int

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring the synthesizer.
type Option func(*Config)

// WithFrameSize sets the samples per chunk.
func WithFrameSize(n int) Option {
	return func(c *Config) {
		c.FrameSize = n
	}
}

// WithPacing sets the delay between chunks.
func WithPacing(d time.Duration) Option {
	return func(c *Config) {
		c.Pacing = d
	}
}

// WithPeakThreshold sets the level below which audio is not normalized.
func WithPeakThreshold(v float32) Option {
	return func(c *Config) {
		c.PeakThreshold = v
	}
}

// WithStretch sets the speech stretch factor.
func WithStretch(f float64) Option {
	return func(c *Config) {
		c.StretchFactor = f
	}
}

// WithStreamBuffer sets the chunk queue depth.
func WithStreamBuffer(n int) Option {
	return func(c *Config) {
		c.StreamBuffer = n
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
		FrameSize:     DefaultFrameSize,
		Pacing:        DefaultPacing,
		PeakThreshold: DefaultPeakThreshold,
		TargetPeak:    DefaultTargetPeak,
		StretchFactor: 1,
		StreamBuffer:  DefaultStreamBuffer,
		Logger:        slog.Default(),
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
	if c.FrameSize <= 0 {
		return fmt.Errorf("tts: frame size must be positive, got %d", c.FrameSize)
	}
	if c.Pacing < 0 {
		return fmt.Errorf("tts: pacing must not be negative")
	}
	if c.TargetPeak <= 0 || c.TargetPeak > 1 {
		return fmt.Errorf("tts: target peak must be in (0, 1], got %v", c.TargetPeak)
	}
	if c.StretchFactor <= 0 {
		return fmt.Errorf("tts: stretch factor must be positive, got %v", c.StretchFactor)
	}
	if c.StreamBuffer < 0 {
		return fmt.Errorf("tts: stream buffer must not be negative")
	}
	return nil
}
