package repository

import "errors"

// Common repository errors.
var (
	// ErrVersionConflict is returned when a version-guarded update matches
	// no rows, i.e. another transaction mutated the aggregate first.
	ErrVersionConflict = errors.New("assignment version conflict")
)
