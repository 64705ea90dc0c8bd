package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record does not exist or is owned by
	// another sender. The two cases are deliberately indistinguishable so
	// record ids cannot be probed across owners.
	ErrNotFound = errors.New("scheduled message not found")

	// ErrNotModifiable is returned when a record is no longer pending and
	// therefore cannot be updated or cancelled.
	ErrNotModifiable = errors.New("scheduled message is not modifiable")
)

// ValidationError names the offending field of a bad schedule or update
// request. It is reported synchronously and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalidf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
