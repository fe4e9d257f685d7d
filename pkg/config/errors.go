package config

import (
	"errors"
	"fmt"
)

// ErrMissingRequiredField indicates a required environment variable is unset.
var ErrMissingRequiredField = errors.New("missing required configuration field")

// LoadError wraps a subsystem configuration load failure with context about
// which environment variable or field caused it.
type LoadError struct {
	Subsystem string
	Field     string
	Err       error
}

// Error returns a formatted error message.
func (e *LoadError) Error() string {
	return fmt.Sprintf("%s config: field '%s': %v", e.Subsystem, e.Field, e.Err)
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// NewLoadError creates a new subsystem configuration load error.
func NewLoadError(subsystem, field string, err error) *LoadError {
	return &LoadError{Subsystem: subsystem, Field: field, Err: err}
}
