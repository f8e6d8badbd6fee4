package tts

import (
	"context"
	"math"
	"sync"
	"time"
)

// MockSampleRate is the rate of MockVoice output.
const MockSampleRate = 22050

// MockVoice implements Voice for testing.
// All methods can be customized via function fields.
type MockVoice struct {
	// RenderFunc is called when Render is invoked.
	// If nil, returns a 440 Hz tone of 60ms per character.
	RenderFunc func(ctx context.Context, text string) ([]float32, int, error)

	// LoadFunc is called when Load is invoked.
	// If nil, returns nil.
	LoadFunc func(ctx context.Context) error

	// Tracking
	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation for verification.
type MockCall struct {
	Method string
	Text   string
	Time   time.Time
}

// NewMockVoice creates a mock voice with a tone renderer.
func NewMockVoice() *MockVoice {
	return &MockVoice{}
}

// Tone returns n samples of a sine wave at freq Hz with the given amplitude.
func Tone(n, sampleRate int, freq float64, amplitude float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = amplitude * float32(math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

// Name returns "mock".
func (m *MockVoice) Name() string {
	return "mock"
}

// Load calls LoadFunc and records the call.
func (m *MockVoice) Load(ctx context.Context) error {
	m.recordCall("Load", "")
	if m.LoadFunc != nil {
		return m.LoadFunc(ctx)
	}
	return nil
}

// Render calls RenderFunc and records the call.
func (m *MockVoice) Render(ctx context.Context, text string) ([]float32, int, error) {
	m.recordCall("Render", text)
	if m.RenderFunc != nil {
		return m.RenderFunc(ctx, text)
	}
	n := len(text) * MockSampleRate * 60 / 1000
	return Tone(n, MockSampleRate, 440, 0.5), MockSampleRate, nil
}

// Close records the call.
func (m *MockVoice) Close() error {
	m.recordCall("Close", "")
	return nil
}

// recordCall adds a call to the tracking list.
func (m *MockVoice) recordCall(method, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method: method,
		Text:   text,
		Time:   time.Now(),
	})
}

// Calls returns all recorded method calls.
func (m *MockVoice) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *MockVoice) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// LastCall returns the most recent call, or nil if none.
func (m *MockVoice) LastCall() *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// Reset clears all recorded calls.
func (m *MockVoice) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// WithError returns a mock voice whose Render always fails with err.
func WithError(err error) *MockVoice {
	return &MockVoice{
		RenderFunc: func(ctx context.Context, text string) ([]float32, int, error) {
			return nil, 0, err
		},
	}
}

// WithLatency returns a mock voice that waits d before rendering.
func WithLatency(d time.Duration) *MockVoice {
	m := NewMockVoice()
	m.RenderFunc = func(ctx context.Context, text string) ([]float32, int, error) {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
		n := len(text) * MockSampleRate * 60 / 1000
		return Tone(n, MockSampleRate, 440, 0.5), MockSampleRate, nil
	}
	return m
}

var _ Voice = (*MockVoice)(nil)
