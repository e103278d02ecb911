package shared

import "errors"

var (
	// ErrNotFound indicates the referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition indicates an operation illegal for the document's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConflict indicates a concurrent mutation lost the race (lock contention or version mismatch).
	ErrConflict = errors.New("conflict")
	// ErrExpired indicates a time-bounded validity has elapsed.
	ErrExpired = errors.New("expired")
	// ErrValidation indicates malformed monetary or quantity input.
	ErrValidation = errors.New("validation failed")
	// ErrNotAvailable indicates no matching inventory unit for a class-based request.
	ErrNotAvailable = errors.New("no unit available")
	// ErrForbidden indicates the actor's role does not permit the operation.
	ErrForbidden = errors.New("forbidden")
)
