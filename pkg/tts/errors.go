package tts

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common error conditions.
var (
	// ErrStreamClosed is returned when reading from a closed stream.
	ErrStreamClosed = errors.New("tts: stream closed")

	// ErrEmptyAudio is recorded when a voice renders no samples.
	ErrEmptyAudio = errors.New("tts: voice produced no audio")

	// ErrBackendUnavailable is returned when a voice's runtime is missing.
	ErrBackendUnavailable = errors.New("tts: backend unavailable")

	// ErrModelNotFound is returned when a voice model file is missing.
	ErrModelNotFound = errors.New("tts: voice model not found")

	// ErrProviderUnavailable is returned when no voices are available.
	ErrProviderUnavailable = errors.New("tts: no voices available")

	// ErrAllProvidersFailed is returned when all voices in a chain fail.
	ErrAllProvidersFailed = errors.New("tts: all voices failed")
)

// APIError represents an error response from a TTS server.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the error body from the server.
	Message string

	// Provider identifies which voice returned the error.
	Provider string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("tts [%s]: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsNotFound returns true if the resource was not found (HTTP 404).
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == 404
}

// IsServerError returns true if this is a server-side error (HTTP 5xx).
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// ProviderError wraps an error with provider context.
type ProviderError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("tts [%s]: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with provider context.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}

// ChainError aggregates errors from multiple voices.
type ChainError struct {
	Errors []error
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return "tts: all voices failed: " + strings.Join(msgs, "; ")
}

// Unwrap returns the collected errors.
func (e *ChainError) Unwrap() []error {
	return e.Errors
}

// Is reports whether target is ErrAllProvidersFailed.
func (e *ChainError) Is(target error) bool {
	return target == ErrAllProvidersFailed
}
