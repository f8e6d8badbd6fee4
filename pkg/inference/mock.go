package inference

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Mock implements Provider with canned keyword replies. It needs no server
// and is used for tests and offline runs.
type Mock struct {
	// ReplyFunc builds the reply for a conversation.
	// If nil, KeywordReply on the last user message is used.
	ReplyFunc func(chat *ChatContext) string

	// HealthFunc is called when Health is invoked.
	// If nil, returns nil (healthy).
	HealthFunc func(ctx context.Context) error

	// Delay is inserted before each streamed word.
	Delay time.Duration

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation.
type MockCall struct {
	Method   string
	Messages []Message
	Time     time.Time
}

// NewMock creates a new mock provider with keyword replies.
func NewMock() *Mock {
	return &Mock{}
}

// KeywordReply returns the mock assistant's answer to a user message.
func KeywordReply(userMessage string) string {
	lower := strings.ToLower(userMessage)
	switch {
	case strings.Contains(lower, "hello") || strings.Contains(lower, "hi"):
		return "Hello! I'm your local AI assistant. How can I help you today?"
	case strings.Contains(lower, "appointment") || strings.Contains(lower, "book"):
		return "I can help you book an appointment. Please provide your email and name."
	case strings.Contains(lower, "help"):
		return "I'm here to help! I can assist with appointment booking and answer your questions."
	default:
		return fmt.Sprintf("I understand you said: '%s'. How can I assist you with that?", userMessage)
	}
}

// Chat streams the reply word by word, keeping the separating spaces so the
// fragments concatenate back to the full reply.
func (m *Mock) Chat(ctx context.Context, chat *ChatContext) Stream {
	m.record("Chat", chat.Messages())

	var reply string
	if m.ReplyFunc != nil {
		reply = m.ReplyFunc(chat)
	} else {
		reply = KeywordReply(chat.LastUser())
	}
	words := strings.SplitAfter(reply, " ")
	delay := m.Delay

	return produce(ctx, DefaultStreamBuffer, func(s *chanStream) {
		for _, w := range words {
			if w == "" {
				continue
			}
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-s.ctx.Done():
					return
				}
			}
			if !s.send(w) {
				return
			}
		}
	})
}

// Health calls HealthFunc and records the call.
func (m *Mock) Health(ctx context.Context) error {
	m.record("Health", nil)
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close records the call.
func (m *Mock) Close() error {
	m.record("Close", nil)
	return nil
}

// record adds a call to the tracking list.
func (m *Mock) record(method string, messages []Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method:   method,
		Messages: messages,
		Time:     time.Now(),
	})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
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
func (m *Mock) LastCall() *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// WithError returns a mock whose health check always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		HealthFunc: func(ctx context.Context) error {
			return err
		},
	}
}

var _ Provider = (*Mock)(nil)
