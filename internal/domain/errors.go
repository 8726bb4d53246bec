package domain

import "errors"

// The error taxonomy. Services wrap these sentinels with context via %w, and
// callers classify failures with errors.Is; the HTTP adapter maps each kind to
// a status code.
var (
	// ErrUnauthenticated covers every authentication failure: bad
	// credentials, and unknown, revoked or expired tokens. Callers cannot
	// tell those cases apart.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInvalidInput marks malformed or out-of-range caller input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict marks a uniqueness violation, such as a taken username.
	ErrConflict = errors.New("conflict")

	// ErrNotFound marks a reference to an entity that does not exist.
	ErrNotFound = errors.New("not found")
)
