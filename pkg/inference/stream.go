package inference

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// chanStream is a Stream fed by a producer goroutine over a bounded channel.
// The producer blocks when the reader falls behind.
type chanStream struct {
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	ch     chan string

	closed    atomic.Bool
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

func newChanStream(parent context.Context, buffer int) *chanStream {
	ctx, cancel := context.WithCancel(parent)
	return &chanStream{
		parent: parent,
		ctx:    ctx,
		cancel: cancel,
		ch:     make(chan string, buffer),
	}
}

// send delivers a fragment, returning false once the stream is cancelled.
func (s *chanStream) send(v string) bool {
	select {
	case s.ch <- v:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// fail records err and delivers apology as the final fragment.
func (s *chanStream) fail(err error, apology string) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.send(apology)
}

// finish marks the end of production. Only the producer calls it.
func (s *chanStream) finish() {
	close(s.ch)
}

// Recv returns the next fragment.
func (s *chanStream) Recv() (string, error) {
	if s.closed.Load() {
		return "", ErrStreamClosed
	}
	v, ok := <-s.ch
	if !ok {
		if err := s.parent.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return v, nil
}

// Close cancels the request and waits for the producer to exit.
func (s *chanStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		for range s.ch {
		}
	})
	return nil
}

// Err returns the failure replaced by an apology.
func (s *chanStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// produce runs fn in a goroutine feeding a new stream.
func produce(ctx context.Context, buffer int, fn func(s *chanStream)) Stream {
	s := newChanStream(ctx, buffer)
	go func() {
		defer s.finish()
		fn(s)
	}()
	return s
}

var _ Stream = (*chanStream)(nil)
