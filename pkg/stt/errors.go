package stt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/teslashibe/go-localvoice/pkg/session"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound matches any *NotFoundError.
	ErrNotFound = errors.New("stt: not found")

	// ErrBackendUnavailable is returned when the recognizer runtime is missing.
	ErrBackendUnavailable = errors.New("stt: backend unavailable")

	// ErrEmptyAudio is returned for input with no samples.
	ErrEmptyAudio = errors.New("stt: empty audio")
)

// NotFoundError reports a missing audio file or model file.
type NotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("stt: file not found: %s", e.Path)
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Attempt is one placement tried while loading.
type Attempt struct {
	Placement session.Placement
	Err       error
}

// LoadError reports that every placement failed.
type LoadError struct {
	Attempts []Attempt
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s/%s: %v", a.Placement.Device, a.Placement.ComputeType, a.Err)
	}
	return "stt: model load failed: " + strings.Join(parts, "; ")
}

// Unwrap returns the attempt errors.
func (e *LoadError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}

// APIError represents an error response from a recognizer server.
type APIError struct {
	StatusCode int
	Message    string
	Provider   string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("stt [%s]: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// ProviderError wraps an error with provider context.
type ProviderError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("stt [%s]: %v", e.Provider, e.Err)
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
