package core

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or out-of-range input. Not retryable.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a reference to a child that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when registering a child id twice.
	ErrAlreadyExists = errors.New("already exists")
	// ErrPersistence marks a storage failure. Nothing was committed, so callers may retry.
	ErrPersistence = errors.New("persistence failure")
)

// ValidationError describes which input field was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ChildNotFound builds the not-found error for id.
func ChildNotFound(id ChildID) error {
	return fmt.Errorf("child %q: %w", id, ErrNotFound)
}

// Persistence wraps a storage error unless it already carries a domain classification.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) || errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// ChildExists builds the duplicate-registration error for id.
func ChildExists(id ChildID) error {
	return fmt.Errorf("child %q: %w", id, ErrAlreadyExists)
}
