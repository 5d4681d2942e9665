// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested message, session, or metadata key
	// does not exist (or a burned message body, which reads as gone).
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a state conflict: a live handshake session already
	// exists for the ordered pair, a transition attempted from the wrong state,
	// or a set-once field (acknowledged_at, burned_at) that is already set.
	ErrConflict = errors.New("conflict")

	// ErrPrecondition indicates rejected input, e.g. an unlock height at or
	// below the current chain height, or a burn time in the past on create.
	ErrPrecondition = errors.New("precondition failed")

	// ErrLocked indicates a message body access blocked by its time-lock.
	ErrLocked = errors.New("time-locked")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")
)
