package stt

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-localvoice/pkg/session"
)

// MockText is the transcript returned by a default MockModel.
const MockText = "this is a mock transcription"

// MockLoader implements Loader for testing.
type MockLoader struct {
	// LoadFunc is called when Load is invoked.
	// If nil, returns a new MockModel.
	LoadFunc func(ctx context.Context, spec LoadSpec) (Model, error)

	// FailDevices makes Load fail for the given devices.
	FailDevices map[session.Device]error

	// LoadDelay simulates slow model loading.
	LoadDelay time.Duration

	mu    sync.Mutex
	specs []LoadSpec
}

// NewMockLoader creates a loader that always succeeds.
func NewMockLoader() *MockLoader {
	return &MockLoader{FailDevices: make(map[session.Device]error)}
}

// WithDeviceError makes loads on device fail with err.
func (l *MockLoader) WithDeviceError(device session.Device, err error) *MockLoader {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.FailDevices[device] = err
	return l
}

// Load records the spec and returns a model or the configured error.
func (l *MockLoader) Load(ctx context.Context, spec LoadSpec) (Model, error) {
	l.mu.Lock()
	l.specs = append(l.specs, spec)
	failErr := l.FailDevices[spec.Device]
	delay := l.LoadDelay
	l.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failErr != nil {
		return nil, failErr
	}
	if l.LoadFunc != nil {
		return l.LoadFunc(ctx, spec)
	}
	return NewMockModel(), nil
}

// Name returns "mock".
func (l *MockLoader) Name() string {
	return "mock"
}

// Specs returns every spec Load was called with.
func (l *MockLoader) Specs() []LoadSpec {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LoadSpec, len(l.specs))
	copy(out, l.specs)
	return out
}

// MockModel implements Model for testing.
type MockModel struct {
	// TranscribeFunc is called when Transcribe is invoked.
	// If nil, returns one segment spanning the input with MockText.
	TranscribeFunc func(ctx context.Context, samples []float32, opts DecodeOptions) ([]Segment, Info, error)

	mu     sync.Mutex
	calls  []DecodeOptions
	closed bool
}

// NewMockModel creates a model with the default transcript.
func NewMockModel() *MockModel {
	return &MockModel{}
}

// Transcribe records the call and returns TranscribeFunc's result.
func (m *MockModel) Transcribe(ctx context.Context, samples []float32, opts DecodeOptions) ([]Segment, Info, error) {
	m.mu.Lock()
	m.calls = append(m.calls, opts)
	m.mu.Unlock()

	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, samples, opts)
	}
	dur := float64(len(samples)) / SampleRate
	return []Segment{{Start: 0, End: dur, Text: MockText}},
		Info{Language: opts.Language, Duration: dur}, nil
}

// Calls returns the options of every Transcribe call.
func (m *MockModel) Calls() []DecodeOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DecodeOptions, len(m.calls))
	copy(out, m.calls)
	return out
}

// Closed reports whether Close was called.
func (m *MockModel) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close marks the model closed.
func (m *MockModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Loader = (*MockLoader)(nil)
var _ Model = (*MockModel)(nil)
