package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a subscription does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when a subscription was modified concurrently.
	ErrVersionConflict = errors.New("subscription modified concurrently")
	// ErrValidation marks rejected mutator input.
	ErrValidation = errors.New("validation failed")
	// ErrAlreadyExists is returned when a tenant already has a subscription.
	ErrAlreadyExists = errors.New("already exists")
)

// ValidationError describes why mutator input was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
