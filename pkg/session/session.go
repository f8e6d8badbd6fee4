// Package session owns a single lazily loaded inference model and the device
// it was placed on.
//
// A Session loads its model at most once. Concurrent callers of Init share
// one in-flight load; a failed load is reported to every waiter of that
// attempt and leaves the session unloaded so the caller may try again.
//
//	s := session.New("stt", func(ctx context.Context) (*Model, session.Placement, error) {
//	    return loadModel(ctx)
//	})
//	defer s.Close()
//
//	err := s.Do(ctx, func(m *Model) error {
//	    return m.Run(input)
//	})
package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Device identifies where a model executes.
type Device string

const (
	DeviceAuto Device = "auto"
	DeviceCPU  Device = "cpu"
	DeviceGPU  Device = "gpu"
)

// Placement records the device and numeric precision a model was loaded with.
type Placement struct {
	Device      Device `json:"device"`
	ComputeType string `json:"compute_type"`
}

// Info is a point-in-time snapshot of a session for diagnostics.
type Info struct {
	Name      string    `json:"name"`
	Placement Placement `json:"placement"`
	Loaded    bool      `json:"loaded"`
	Loads     int64     `json:"loads"`
	LoadedAt  time.Time `json:"loaded_at,omitempty"`
}

// LoadFunc performs the actual model load. It is called at most once per
// successful session lifetime.
type LoadFunc[T any] func(ctx context.Context) (T, Placement, error)

// Option configures a Session.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Session holds exactly one model of type T.
type Session[T any] struct {
	name   string
	load   LoadFunc[T]
	logger *slog.Logger

	mu        sync.Mutex
	model     T
	placement Placement
	loaded    bool
	closed    bool
	loadedAt  time.Time
	inflight  *call[T]

	// use serializes inference against the loaded model.
	use sync.Mutex

	loads atomic.Int64
}

type call[T any] struct {
	done  chan struct{}
	model T
	err   error
}

// New creates an unloaded session. Nothing is loaded until Init or Do.
func New[T any](name string, load LoadFunc[T], opts ...Option) *Session[T] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Session[T]{
		name:   name,
		load:   load,
		logger: o.logger.With("component", "session", "session", name),
	}
}

// Init loads the model if needed and returns it.
//
// If a load is already running, Init waits for it instead of starting a
// second one. The load itself does not follow any caller's cancellation: if
// ctx ends while waiting, Init returns ctx.Err() and the running load
// continues for the other callers.
func (s *Session[T]) Init(ctx context.Context) (T, error) {
	var zero T

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return zero, ErrClosed
	}
	if s.loaded {
		m := s.model
		s.mu.Unlock()
		return m, nil
	}
	c := s.inflight
	if c == nil {
		c = &call[T]{done: make(chan struct{})}
		s.inflight = c
		go s.run(context.WithoutCancel(ctx), c)
	}
	s.mu.Unlock()

	select {
	case <-c.done:
		return c.model, c.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (s *Session[T]) run(ctx context.Context, c *call[T]) {
	s.loads.Add(1)
	start := time.Now()
	model, placement, err := s.load(ctx)

	s.mu.Lock()
	s.inflight = nil
	if err == nil && s.closed {
		closeModel(model)
		err = ErrClosed
	}
	if err == nil {
		s.model = model
		s.placement = placement
		s.loaded = true
		s.loadedAt = time.Now()
		c.model = model
	} else {
		c.err = &LoadError{Session: s.name, Err: err}
	}
	s.mu.Unlock()
	close(c.done)

	if c.err != nil {
		s.logger.Error("model load failed", "error", err, "elapsed", time.Since(start))
		return
	}
	s.logger.Info("model loaded",
		"device", placement.Device,
		"compute_type", placement.ComputeType,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
}

// Do runs fn with the loaded model, loading it first if needed.
// Calls to Do on the same session never overlap.
func (s *Session[T]) Do(ctx context.Context, fn func(T) error) error {
	model, err := s.Init(ctx)
	if err != nil {
		return err
	}

	s.use.Lock()
	defer s.use.Unlock()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fn(model)
}

// Loaded reports whether the model is loaded.
func (s *Session[T]) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Placement returns where the model was loaded. Zero until loaded.
func (s *Session[T]) Placement() Placement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.placement
}

// Info returns a diagnostic snapshot.
func (s *Session[T]) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		Name:      s.name,
		Placement: s.placement,
		Loaded:    s.loaded,
		Loads:     s.loads.Load(),
		LoadedAt:  s.loadedAt,
	}
}

// Close releases the model. Close waits for a running Do to finish.
// After Close, Init returns ErrClosed. It is safe to call Close multiple times.
func (s *Session[T]) Close() error {
	s.use.Lock()
	defer s.use.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if !s.loaded {
		return nil
	}

	var zero T
	err := closeModel(s.model)
	s.model = zero
	s.loaded = false
	s.logger.Debug("model released")
	return err
}

func closeModel(m any) error {
	if c, ok := m.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
