// Package rtc runs the voice assistant for browser peers over WebRTC.
//
// Each peer publishes a microphone track. Inbound Opus is decoded,
// resampled to the assistant's rate and fed to a per-peer assistant, whose
// spoken replies are encoded back to Opus on a local audio track.
package rtc

import (
	"errors"
	"log/slog"
	"time"
)

// Config holds agent configuration.
type Config struct {
	// ICEServers are STUN/TURN URLs offered to peers.
	ICEServers []string

	// Room names the session in the welcome message.
	Room string

	// SampleRate is the rate delivered to the assistant.
	SampleRate int

	// Bitrate is the outbound Opus bitrate; 0 keeps the codec default.
	Bitrate int

	// GatherTimeout bounds ICE gathering when answering an offer.
	GatherTimeout time.Duration

	// Greet speaks the assistant greeting once a peer connects.
	Greet bool

	Logger *slog.Logger
}

// Option configures the agent.
type Option func(*Config)

// WithICEServers sets the STUN/TURN servers.
func WithICEServers(urls ...string) Option {
	return func(c *Config) {
		c.ICEServers = urls
	}
}

// WithRoom sets the room name.
func WithRoom(room string) Option {
	return func(c *Config) {
		c.Room = room
	}
}

// WithSampleRate sets the rate delivered to the assistant.
func WithSampleRate(rate int) Option {
	return func(c *Config) {
		c.SampleRate = rate
	}
}

// WithBitrate sets the outbound Opus bitrate.
func WithBitrate(bps int) Option {
	return func(c *Config) {
		c.Bitrate = bps
	}
}

// WithGatherTimeout bounds ICE gathering.
func WithGatherTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.GatherTimeout = d
	}
}

// WithGreeting enables or disables the greeting on connect.
func WithGreeting(enabled bool) Option {
	return func(c *Config) {
		c.Greet = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns the default agent configuration.
func DefaultConfig() Config {
	return Config{
		Room:          "voice-agent-test",
		SampleRate:    16000,
		GatherTimeout: 5 * time.Second,
		Greet:         true,
		Logger:        slog.Default(),
	}
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return errors.New("rtc: sample rate must be positive")
	}
	if c.GatherTimeout <= 0 {
		return errors.New("rtc: gather timeout must be positive")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}
