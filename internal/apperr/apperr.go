// Package apperr defines the error taxonomy shared across the import/export
// and extraction subsystems. Expected-absent outcomes are sentinels checked
// with errors.Is; malformed input is a ValidationError; everything else is a
// wrapped storage or transport fault.
package apperr

import (
	"errors"
	"fmt"
)

// ErrNotFound signals an expected-absent lookup (project, item, entity).
var ErrNotFound = errors.New("not found")

// ValidationError describes a malformed input document or request. It is
// surfaced to the caller before any side effect and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError for a named field.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
