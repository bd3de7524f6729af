package interfaces

import "errors"

// Error taxonomy shared across components. Transition and seat functions
// return these; they never panic across the API boundary.
var (
	// ErrPermissionDenied: caller lacks the required role or seat. Terminal
	// for the attempted action, not fatal to the connection.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrSeatDenied: the teaching seat is held by a different identity.
	ErrSeatDenied = errors.New("another teacher is active in this classroom")

	// ErrSeatLost: the caller held the seat but a later snapshot shows a
	// different holder (steal or forced end).
	ErrSeatLost = errors.New("teaching seat lost")

	// ErrInvalidTransition: the transition is not permitted from the
	// session's current state.
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrDuplicateLogin: an identity with this login name already exists.
	ErrDuplicateLogin = errors.New("login name already in use")

	// ErrNotFound: the classroom or identity document is absent. Never
	// conflated with ErrStoreUnavailable.
	ErrNotFound = errors.New("document not found")

	// ErrStoreUnavailable: transient storage failure; user-retryable.
	ErrStoreUnavailable = errors.New("store unavailable")
)
