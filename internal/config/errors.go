package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is matched by every *Error via errors.Is.
var ErrInvalidConfig = errors.New("invalid configuration")

// Error is a configuration error. It is raised at startup or construction
// time and is never defaulted away.
type Error struct {
	Field  string
	Reason string
}

// Errorf builds an *Error for field.
func Errorf(field, format string, args ...any) *Error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidConfig) succeed.
func (e *Error) Is(target error) bool {
	return target == ErrInvalidConfig
}
