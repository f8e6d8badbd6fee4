package inference

import (
	"fmt"
	"log/slog"
	"time"
)

// Defaults for a local Ollama server.
const (
	DefaultBaseURL      = "http://localhost:11434"
	DefaultModel        = "llama3.2"
	DefaultTemperature  = 0.7
	DefaultTopP         = 0.9
	DefaultMaxTokens    = 1000
	DefaultStreamBuffer = 16
)

// Config holds provider configuration.
type Config struct {
	// Connection
	BaseURL string

	// Model is the Ollama model tag.
	Model string

	// Sampling options sent with every request
	Temperature float64
	TopP        float64
	MaxTokens   int

	// StreamBuffer is how many fragments may queue before the reader
	// goroutine blocks.
	StreamBuffer int

	// Timeouts
	Timeout time.Duration // non-streaming calls such as Health

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring providers.
type Option func(*Config)

// WithBaseURL sets the server base URL, without the /api suffix.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Config) { c.Temperature = t }
}

// WithTopP sets nucleus sampling.
func WithTopP(p float64) Option {
	return func(c *Config) { c.TopP = p }
}

// WithMaxTokens sets the reply length limit.
func WithMaxTokens(n int) Option {
	return func(c *Config) { c.MaxTokens = n }
}

// WithStreamBuffer sets the fragment queue depth.
func WithStreamBuffer(n int) Option {
	return func(c *Config) { c.StreamBuffer = n }
}

// WithTimeout sets the timeout for non-streaming requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		Model:        DefaultModel,
		Temperature:  DefaultTemperature,
		TopP:         DefaultTopP,
		MaxTokens:    DefaultMaxTokens,
		StreamBuffer: DefaultStreamBuffer,
		Timeout:      10 * time.Second,
		Logger:       slog.Default(),
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
	if c.BaseURL == "" {
		return fmt.Errorf("inference: base URL required")
	}
	if c.Model == "" {
		return ErrNoModel
	}
	if c.StreamBuffer < 0 {
		return fmt.Errorf("inference: stream buffer must not be negative")
	}
	return nil
}
