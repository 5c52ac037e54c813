package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when a document is not found.
	ErrNotFound = errors.New("document not found")

	// ErrDuplicateKey is returned when an insert violates a unique
	// index.
	ErrDuplicateKey = errors.New("duplicate key")
)
