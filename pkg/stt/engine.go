package stt

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/teslashibe/go-localvoice/pkg/audioio"
	"github.com/teslashibe/go-localvoice/pkg/session"
)

// Engine transcribes audio with a single lazily loaded model.
// It is safe for concurrent use; transcriptions run one at a time.
type Engine struct {
	cfg    Config
	loader Loader
	sess   *session.Session[Model]
	logger *slog.Logger
}

// NewEngine creates an engine. The model is not loaded until Initialize or
// the first transcription.
func NewEngine(loader Loader, opts ...Option) (*Engine, error) {
	if loader == nil {
		return nil, fmt.Errorf("stt: loader required")
	}
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Probe == nil {
		cfg.Probe = ProbeGPU
	}

	e := &Engine{
		cfg:    cfg,
		loader: loader,
		logger: cfg.Logger.With("component", "stt.engine", "backend", loader.Name()),
	}
	e.sess = session.New("stt", e.load, session.WithLogger(cfg.Logger))
	return e, nil
}

// Initialize loads the model. It is idempotent and concurrent callers share
// one load. A failed load is returned and may be retried by calling again.
func (e *Engine) Initialize(ctx context.Context) error {
	_, err := e.sess.Init(ctx)
	return err
}

// load places the model: GPU float16 first when available, then CPU int8.
func (e *Engine) load(ctx context.Context) (Model, session.Placement, error) {
	var attempts []Attempt

	if e.cfg.Device != session.DeviceCPU && e.cfg.Probe() {
		spec := e.spec(session.DeviceGPU, ComputeFloat16)
		m, err := e.loader.Load(ctx, spec)
		if err == nil {
			return m, spec.Placement(), nil
		}
		attempts = append(attempts, Attempt{Placement: spec.Placement(), Err: err})
		if ctx.Err() != nil {
			return nil, session.Placement{}, &LoadError{Attempts: attempts}
		}
		e.logger.Warn("gpu load failed, falling back to cpu",
			"model", e.cfg.ModelSize,
			"error", err,
		)
	}

	spec := e.spec(session.DeviceCPU, ComputeInt8)
	m, err := e.loader.Load(ctx, spec)
	if err != nil {
		attempts = append(attempts, Attempt{Placement: spec.Placement(), Err: err})
		return nil, session.Placement{}, &LoadError{Attempts: attempts}
	}
	return m, spec.Placement(), nil
}

func (e *Engine) spec(device session.Device, computeType string) LoadSpec {
	return LoadSpec{
		ModelSize:   e.cfg.ModelSize,
		ModelDir:    e.cfg.ModelDir,
		Device:      device,
		ComputeType: computeType,
		Language:    e.cfg.Language,
	}
}

// TranscribeFile transcribes a WAV file. A missing file returns a
// *NotFoundError without touching the model.
func (e *Engine) TranscribeFile(ctx context.Context, path string) (*Result, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			e.logger.Warn("audio file not found", "path", path)
			return nil, &NotFoundError{Path: path}
		}
		return nil, err
	}

	clip, err := audioio.ReadWAVFile(path)
	if err != nil {
		return nil, fmt.Errorf("stt: read %s: %w", path, err)
	}
	return e.transcribeClip(ctx, clip)
}

// TranscribeBuffer transcribes an in-memory WAV file. The data is written
// to a temporary file that is removed before returning.
func (e *Engine) TranscribeBuffer(ctx context.Context, data []byte) (*Result, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	f, err := os.CreateTemp(e.cfg.TempDir, "localvoice-stt-*.wav")
	if err != nil {
		return nil, fmt.Errorf("stt: create temp file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, fmt.Errorf("stt: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("stt: write temp file: %w", err)
	}

	return e.TranscribeFile(ctx, path)
}

// TranscribeSamples transcribes mono float32 samples at the given rate.
func (e *Engine) TranscribeSamples(ctx context.Context, samples []float32, sampleRate int) (*Result, error) {
	return e.transcribeClip(ctx, &audioio.Clip{Samples: samples, SampleRate: sampleRate, Channels: 1})
}

func (e *Engine) transcribeClip(ctx context.Context, clip *audioio.Clip) (*Result, error) {
	clip = clip.Mono()
	if len(clip.Samples) == 0 {
		return nil, ErrEmptyAudio
	}
	samples, err := audioio.ResampleFloat32(clip.Samples, clip.SampleRate, SampleRate)
	if err != nil {
		return nil, err
	}

	opts := DecodeOptions{BeamSize: e.cfg.BeamSize, Language: e.cfg.Language}
	start := time.Now()

	var (
		segments []Segment
		info     Info
	)
	err = e.sess.Do(ctx, func(m Model) error {
		var terr error
		segments, info, terr = m.Transcribe(ctx, samples, opts)
		return terr
	})
	if err != nil {
		var le *session.LoadError
		if errors.As(err, &le) || errors.Is(err, session.ErrClosed) {
			return nil, err
		}
		e.logger.Error("transcription failed", "error", err)
		return nil, WrapError(e.loader.Name(), err)
	}

	if info.Duration == 0 {
		info.Duration = clip.Duration().Seconds()
	}
	result := &Result{
		Text:      JoinText(segments),
		Segments:  segments,
		Language:  info.Language,
		Duration:  info.Duration,
		Placement: e.sess.Placement(),
	}
	e.logger.Debug("transcription completed",
		"segments", len(segments),
		"audio_seconds", info.Duration,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return result, nil
}

// Loaded reports whether the model is loaded.
func (e *Engine) Loaded() bool {
	return e.sess.Loaded()
}

// Info returns the model session snapshot.
func (e *Engine) Info() session.Info {
	return e.sess.Info()
}

// Close releases the model.
func (e *Engine) Close() error {
	return e.sess.Close()
}
