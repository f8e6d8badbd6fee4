package tts

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Chain implements Voice by trying multiple voices in order.
// The first voice that renders wins; if all fail, returns an aggregate error.
type Chain struct {
	voices []Voice
	logger *slog.Logger

	mu     sync.Mutex
	loaded []Voice
}

// NewChain creates a voice chain that tries voices in order.
// At least one voice is required.
func NewChain(voices ...Voice) (*Chain, error) {
	if len(voices) == 0 {
		return nil, ErrProviderUnavailable
	}

	return &Chain{
		voices: voices,
		logger: slog.Default().With("component", "tts.chain"),
	}, nil
}

// NewChainWithLogger creates a voice chain with a custom logger.
func NewChainWithLogger(logger *slog.Logger, voices ...Voice) (*Chain, error) {
	chain, err := NewChain(voices...)
	if err != nil {
		return nil, err
	}
	chain.logger = logger.With("component", "tts.chain")
	return chain, nil
}

// Name joins the member names.
func (c *Chain) Name() string {
	names := make([]string, len(c.voices))
	for i, v := range c.voices {
		names[i] = v.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// Load loads every voice and keeps those that succeed.
// It fails only if no voice loads.
func (c *Chain) Load(ctx context.Context) error {
	var (
		errors []error
		loaded []Voice
	)
	for i, v := range c.voices {
		if err := v.Load(ctx); err != nil {
			errors = append(errors, err)
			c.logger.Warn("voice failed to load, skipping",
				"voice_index", i,
				"voice", v.Name(),
				"error", err,
			)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		loaded = append(loaded, v)
	}
	if len(loaded) == 0 {
		return &ChainError{Errors: errors}
	}

	c.mu.Lock()
	c.loaded = loaded
	c.mu.Unlock()
	return nil
}

// Render tries each loaded voice until one succeeds.
func (c *Chain) Render(ctx context.Context, text string) ([]float32, int, error) {
	c.mu.Lock()
	voices := c.loaded
	c.mu.Unlock()
	if len(voices) == 0 {
		return nil, 0, ErrProviderUnavailable
	}

	var errors []error
	for i, v := range voices {
		samples, rate, err := v.Render(ctx, text)
		if err == nil && len(samples) > 0 {
			if i > 0 {
				c.logger.Info("fallback voice succeeded",
					"voice_index", i,
					"chars", len(text),
				)
			}
			return samples, rate, nil
		}
		if err == nil {
			err = WrapError(v.Name(), ErrEmptyAudio)
		}

		errors = append(errors, err)
		c.logger.Warn("voice failed, trying next",
			"voice_index", i,
			"error", err,
		)

		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
	}

	return nil, 0, &ChainError{Errors: errors}
}

// Close closes all voices.
func (c *Chain) Close() error {
	var firstErr error
	for _, v := range c.voices {
		if err := v.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ Voice = (*Chain)(nil)
