package session

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Init and Do after Close.
var ErrClosed = errors.New("session: closed")

// LoadError reports a failed model load.
type LoadError struct {
	Session string
	Err     error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	return fmt.Sprintf("session [%s]: load failed: %v", e.Session, e.Err)
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Err
}
