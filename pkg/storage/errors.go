package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when an envelope does not exist or has been deleted.
	ErrNotFound = errors.New("query not found")

	// ErrConflict is returned when an envelope with the given ID already exists.
	ErrConflict = errors.New("query already exists")
)
