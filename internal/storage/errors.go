package storage

import "errors"

var (
	// ErrNotFound indicates that the requested row does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrConflict indicates that a concurrent write violated an atomic
	// uniqueness check. The losing writer should treat its own view as
	// stale and re-read rather than surfacing an error to the caller.
	ErrConflict = errors.New("storage conflict")

	// ErrInvalidInput indicates malformed parameters to a storage call.
	ErrInvalidInput = errors.New("invalid input")
)
