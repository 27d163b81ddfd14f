package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an id is not present in the cache.
	ErrNotFound = errors.New("not found")
	// ErrDeleted is returned when an id belongs to a soft-deleted entity.
	ErrDeleted = errors.New("deleted")
	// ErrNoPath is returned when a note has no path to root and one is required.
	ErrNoPath = errors.New("no path to root")
	// ErrValidation is the category of every ValidationError.
	ErrValidation = errors.New("validation failed")
)

// ValidationError rejects a mutation at the point it is attempted.
type ValidationError struct {
	Entity string
	ID     string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("invalid %s: %s", e.Entity, e.Reason)
	}
	return fmt.Sprintf("invalid %s %s: %s", e.Entity, e.ID, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(entity, id, format string, args ...any) error {
	return &ValidationError{Entity: entity, ID: id, Reason: fmt.Sprintf(format, args...)}
}
