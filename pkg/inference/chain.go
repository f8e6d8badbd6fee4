package inference

import (
	"context"
	"log/slog"
	"sync"
)

// Chain picks the first healthy provider and streams from it.
//
// Providers never fail a Chat call outright, so the chain decides with a
// health probe before each request instead of retrying on error.
type Chain struct {
	providers []Provider
	logger    *slog.Logger

	mu     sync.Mutex
	active int
}

// NewChain creates a provider chain.
// At least one provider is required.
func NewChain(providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}
	return &Chain{
		providers: providers,
		logger:    slog.Default().With("component", "inference.chain"),
		active:    -1,
	}, nil
}

// NewChainWithLogger creates a provider chain with a custom logger.
func NewChainWithLogger(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	chain, err := NewChain(providers...)
	if err != nil {
		return nil, err
	}
	chain.logger = logger.With("component", "inference.chain")
	return chain, nil
}

// Chat streams from the first provider that passes its health check. If none
// do, the last provider is used so the caller still receives its apology.
func (c *Chain) Chat(ctx context.Context, chat *ChatContext) Stream {
	i, err := c.pick(ctx)
	if err != nil {
		c.logger.Warn("no healthy provider, using last", "error", err)
		i = len(c.providers) - 1
	}
	return c.providers[i].Chat(ctx, chat)
}

// pick returns the index of the first healthy provider.
func (c *Chain) pick(ctx context.Context) (int, error) {
	var errs []error
	for i, p := range c.providers {
		err := p.Health(ctx)
		if err == nil {
			c.mu.Lock()
			if c.active != i {
				if i > 0 {
					c.logger.Info("fallback provider selected", "provider_index", i)
				}
				c.active = i
			}
			c.mu.Unlock()
			return i, nil
		}
		errs = append(errs, err)
		c.logger.Warn("provider unhealthy, trying next",
			"provider_index", i,
			"error", err,
		)
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}
	return 0, &ChainError{Errors: errs}
}

// Health returns nil if any provider is healthy.
func (c *Chain) Health(ctx context.Context) error {
	_, err := c.pick(ctx)
	return err
}

// Close closes all providers.
func (c *Chain) Close() error {
	var firstErr error
	for _, p := range c.providers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ Provider = (*Chain)(nil)
