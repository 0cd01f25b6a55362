package domain

import "errors"

var (
	// ErrValidation marks malformed or missing input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a lookup that matched no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks an optimistic-version mismatch on write.
	ErrConflict = errors.New("conflict")
)
