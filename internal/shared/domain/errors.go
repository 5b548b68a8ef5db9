package domain

import "errors"

// Errors shared across bounded contexts.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConcurrentModification indicates an optimistic concurrency conflict:
	// the record was modified by another process between read and save.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)
