package voice

import (
	"errors"
	"log/slog"
	"time"
)

// Assistant persona used when no other prompt is configured.
const (
	DefaultSystemPrompt = "Your name is Daela, a sales assistant for Knolabs AI Agency. " +
		"You offer appointment booking for AI/Automation services through voice interaction."
	DefaultGreeting = "Hi there! I'm your local AI assistant. How can I help?"
)

// Config holds all tunable parameters for the assistant.
// Parameters are organized by stage for clarity.
type Config struct {
	// Audio settings
	SampleRate int // Input audio sample rate (default: 16000)

	// VAD (Voice Activity Detection) settings
	VADThreshold  float64       // Normalized RMS above which a frame is speech (default: 0.01)
	FrameDuration time.Duration // Analysis frame length (default: 30ms)
	SilenceFrames int           // Silent frames that end an utterance (default: 10)
	MinSpeech     time.Duration // Utterances shorter than this are dropped (default: 0)

	// Conversation settings
	SystemPrompt string // System instructions for the LLM
	Greeting     string // Spoken by Greet
	Speaker      string // Display name of the local participant
	AgentName    string // Display name of the assistant

	// Barge-in: new speech interrupts a reply that is still playing
	AllowInterruptions bool

	// Debug settings
	ProfileLatency bool // Log per-turn latency breakdown
	Logger         *slog.Logger
}

// DefaultConfig returns a Config matching the local agent defaults.
func DefaultConfig() Config {
	return Config{
		// Audio
		SampleRate: 16000,

		// VAD
		VADThreshold:  0.01,
		FrameDuration: 30 * time.Millisecond,
		SilenceFrames: 10,

		// Conversation
		SystemPrompt: DefaultSystemPrompt,
		Greeting:     DefaultGreeting,
		Speaker:      "user",
		AgentName:    "assistant",

		AllowInterruptions: true,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return errors.New("voice: sample rate must be positive")
	}
	if c.VADThreshold < 0 || c.VADThreshold > 1 {
		return errors.New("voice: VAD threshold must be between 0 and 1")
	}
	if c.FrameSamples() <= 0 {
		return errors.New("voice: frame duration too short for sample rate")
	}
	if c.SilenceFrames <= 0 {
		return errors.New("voice: silence frames must be positive")
	}
	if c.MinSpeech < 0 {
		return errors.New("voice: minimum speech must not be negative")
	}
	return nil
}

// FrameSamples returns the number of samples in one VAD frame.
func (c *Config) FrameSamples() int {
	return int(int64(c.SampleRate) * int64(c.FrameDuration) / int64(time.Second))
}

// WithSystemPrompt returns a copy with the system prompt set.
func (c Config) WithSystemPrompt(prompt string) Config {
	c.SystemPrompt = prompt
	return c
}

// WithGreeting returns a copy with the greeting set.
func (c Config) WithGreeting(greeting string) Config {
	c.Greeting = greeting
	return c
}

// WithVAD returns a copy with VAD settings.
func (c Config) WithVAD(threshold float64, silenceFrames int) Config {
	c.VADThreshold = threshold
	c.SilenceFrames = silenceFrames
	return c
}

// WithSampleRate returns a copy with the input sample rate set.
func (c Config) WithSampleRate(rate int) Config {
	c.SampleRate = rate
	return c
}

// WithSpeaker returns a copy with the local participant's name set.
func (c Config) WithSpeaker(name string) Config {
	c.Speaker = name
	return c
}

// WithLogger returns a copy with the logger set.
func (c Config) WithLogger(l *slog.Logger) Config {
	c.Logger = l
	return c
}
