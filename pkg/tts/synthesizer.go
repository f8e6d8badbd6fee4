package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-localvoice/pkg/audioio"
	"github.com/teslashibe/go-localvoice/pkg/session"
)

// Synthesizer turns text into paced PCM16 chunks using one Voice.
// It is safe for concurrent use; renders run one at a time.
type Synthesizer struct {
	cfg    Config
	voice  Voice
	sess   *session.Session[Voice]
	logger *slog.Logger

	mu    sync.Mutex
	fatal error
}

// NewSynthesizer creates a synthesizer. The voice is loaded on Initialize
// or the first Synthesize call.
func NewSynthesizer(voice Voice, opts ...Option) (*Synthesizer, error) {
	if voice == nil {
		return nil, ErrProviderUnavailable
	}
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Synthesizer{
		cfg:    cfg,
		voice:  voice,
		logger: cfg.Logger.With("component", "tts.synthesizer", "voice", voice.Name()),
	}
	s.sess = session.New("tts", func(ctx context.Context) (Voice, session.Placement, error) {
		if err := voice.Load(ctx); err != nil {
			return nil, session.Placement{}, err
		}
		return voice, session.Placement{Device: session.DeviceCPU, ComputeType: "float32"}, nil
	}, session.WithLogger(cfg.Logger))
	return s, nil
}

// Initialize loads the voice. It is idempotent. A load failure is permanent
// for this synthesizer; later calls return the same error.
func (s *Synthesizer) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.fatal != nil {
		err := s.fatal
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	_, err := s.sess.Init(ctx)
	if err != nil && !transient(err) {
		s.mu.Lock()
		if s.fatal == nil {
			s.fatal = err
		}
		s.mu.Unlock()
	}
	return err
}

// transient reports whether a load error says nothing about the voice itself.
func transient(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, session.ErrClosed)
}

// Voice returns the synthesizer's voice.
func (s *Synthesizer) Voice() Voice {
	return s.voice
}

// Info returns the voice session snapshot.
func (s *Synthesizer) Info() session.Info {
	return s.sess.Info()
}

// render runs the voice and post-processes its output to PCM16.
func (s *Synthesizer) render(ctx context.Context, text string) ([]int16, int, error) {
	if err := s.Initialize(ctx); err != nil {
		if transient(err) {
			return nil, 0, &renderError{err: err}
		}
		return nil, 0, err
	}

	var (
		samples []float32
		rate    int
	)
	start := time.Now()
	err := s.sess.Do(ctx, func(v Voice) error {
		var rerr error
		samples, rate, rerr = v.Render(ctx, text)
		return rerr
	})
	if err != nil {
		return nil, 0, &renderError{err: err}
	}
	if len(samples) == 0 {
		return nil, 0, &renderError{err: ErrEmptyAudio}
	}

	if s.cfg.StretchFactor != 1 {
		stretched, err := Stretch(samples, rate, s.cfg.StretchFactor)
		if err != nil {
			s.logger.Warn("stretch failed, using original audio", "error", err)
		} else {
			samples = stretched
		}
	}

	pcm := audioio.Float32ToInt16(Normalize(samples, s.cfg.PeakThreshold, s.cfg.TargetPeak))
	s.logger.Debug("rendered",
		"chars", len(text),
		"samples", len(pcm),
		"sample_rate", rate,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return pcm, rate, nil
}

// renderError marks a per-call failure that is swallowed by Synthesize.
type renderError struct {
	err error
}

func (e *renderError) Error() string { return e.err.Error() }
func (e *renderError) Unwrap() error { return e.err }

// SynthesizeClip renders text to one chunk without pacing. Unlike
// Synthesize, every failure is returned.
func (s *Synthesizer) SynthesizeClip(ctx context.Context, text string) (audioio.AudioChunk, error) {
	if strings.TrimSpace(text) == "" {
		return audioio.AudioChunk{}, ErrEmptyAudio
	}
	pcm, rate, err := s.render(ctx, text)
	if err != nil {
		var re *renderError
		if errors.As(err, &re) {
			err = re.err
		}
		return audioio.AudioChunk{}, err
	}
	return audioio.AudioChunk{Samples: pcm, SampleRate: rate, Channels: 1}, nil
}

// Synthesize starts rendering text and returns immediately. The stream
// yields ceil(samples/FrameSize) chunks. If rendering fails the failure is
// logged and the stream ends with no chunks; only a failed voice load is
// reported by Read.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	st := &Stream{
		ch:     make(chan audioio.AudioChunk, s.cfg.StreamBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(st.done)
		defer close(st.ch)

		if strings.TrimSpace(text) == "" {
			return
		}

		pcm, rate, err := s.render(ctx, text)
		if err != nil {
			var re *renderError
			if errors.As(err, &re) {
				if ctx.Err() == nil {
					s.logger.Error("synthesis failed", "error", re.err, "chars", len(text))
				}
				st.setErr(re.err, false)
			} else {
				st.setErr(err, true)
			}
			return
		}

		for i, frame := range Frames(pcm, s.cfg.FrameSize) {
			if i > 0 && s.cfg.Pacing > 0 {
				select {
				case <-time.After(s.cfg.Pacing):
				case <-ctx.Done():
					return
				}
			}
			chunk := audioio.AudioChunk{Samples: frame, SampleRate: rate, Channels: 1}
			select {
			case st.ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return st
}

// Close releases the voice.
func (s *Synthesizer) Close() error {
	return s.sess.Close()
}

// Stream delivers the chunks of one utterance in order.
type Stream struct {
	ch     chan audioio.AudioChunk
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	err    error
	fatal  bool
	closed bool
}

func (st *Stream) setErr(err error, fatal bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.err = err
	st.fatal = fatal
}

// Read returns the next chunk, io.EOF after the last one, or the voice
// load error if the synthesizer could not start.
func (st *Stream) Read(ctx context.Context) (audioio.AudioChunk, error) {
	st.mu.Lock()
	closed := st.closed
	st.mu.Unlock()
	if closed {
		return audioio.AudioChunk{}, ErrStreamClosed
	}

	select {
	case chunk, ok := <-st.ch:
		if ok {
			return chunk, nil
		}
		st.mu.Lock()
		defer st.mu.Unlock()
		if st.fatal {
			return audioio.AudioChunk{}, fmt.Errorf("tts: voice load failed: %w", st.err)
		}
		return audioio.AudioChunk{}, io.EOF
	case <-ctx.Done():
		return audioio.AudioChunk{}, ctx.Err()
	}
}

// Err returns the render failure that ended the stream early, if any.
func (st *Stream) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

// Close stops the producer and waits for it to exit.
func (st *Stream) Close() error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil
	}
	st.closed = true
	st.mu.Unlock()

	st.cancel()
	<-st.done
	return nil
}

// Collect reads every chunk from a stream and joins them.
func Collect(ctx context.Context, st *Stream) (audioio.AudioChunk, error) {
	defer st.Close()
	var chunks []audioio.AudioChunk
	for {
		chunk, err := st.Read(ctx)
		if errors.Is(err, io.EOF) {
			return audioio.Concat(chunks), nil
		}
		if err != nil {
			return audioio.Concat(chunks), err
		}
		chunks = append(chunks, chunk)
	}
}
