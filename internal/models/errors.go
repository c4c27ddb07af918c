package models

import "fmt"

// InvalidInputError reports a caller contract violation: negative
// timestamps, non-positive dimensions or a malformed bounding box.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

// Invalid builds an *InvalidInputError
func Invalid(field, format string, args ...any) error {
	return &InvalidInputError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
