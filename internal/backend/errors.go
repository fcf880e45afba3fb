package backend

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is matched by API errors reporting a missing project or scan.
var ErrNotFound = errors.New("not found")

// APIError is a non-success response of the scan backend.
type APIError struct {
	// Operation is "<group>.<action>".
	Operation  string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("scan backend %s failed (%d): %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("scan backend %s failed: %s", e.Operation, e.Message)
}

// Is makes errors.Is(err, ErrNotFound) work for "does not exist" responses.
func (e *APIError) Is(target error) bool {
	if target != ErrNotFound {
		return false
	}
	msg := strings.ToLower(e.Message)
	return e.StatusCode == 404 || strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found")
}
