// Package audioio provides PCM audio chunks, playback sinks, WAV I/O and
// sample conversion helpers shared by the speech components.
//
// Playback backends:
//   - Command: pipes s16le PCM into ffplay or aplay
//   - Mock: records chunks for tests and headless runs
//
// The backend is selected from whichever player is on PATH,
// or can be explicitly specified via configuration.
package audioio

import (
	"fmt"
)

// Backend represents the playback backend type.
type Backend string

const (
	// BackendAuto selects the first player found on PATH, else mock.
	BackendAuto Backend = "auto"
	// BackendCommand pipes audio into an external player process.
	BackendCommand Backend = "command"
	// BackendMock records audio without playing it.
	BackendMock Backend = "mock"
)

// Config holds audio configuration.
type Config struct {
	// Backend specifies which playback backend to use.
	// Default: "auto"
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 16000 (speech recognizer input rate)
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `yaml:"channels" json:"channels"`

	// Player is the executable for BackendCommand: ffplay or aplay.
	// Empty picks the first one available.
	Player string `yaml:"player" json:"player"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendAuto,
		SampleRate: 16000,
		Channels:   1,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	return nil
}
