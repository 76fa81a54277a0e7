package store

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStaleState is returned when a compare-and-swap write loses a race:
	// the record's version changed between the caller's read and its write.
	// The caller must re-read and retry.
	ErrStaleState = errors.New("stale state")

	// ErrDuplicate is returned when an insert collides with an existing row
	// for the same identity.
	ErrDuplicate = errors.New("duplicate record")

	// ErrUnavailable is returned when the persistence layer is unreachable.
	// It is fatal to the operation and is never retried by the core itself.
	ErrUnavailable = errors.New("store unavailable")
)
