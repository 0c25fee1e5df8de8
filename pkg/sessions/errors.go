package sessions

import "errors"

var (
	// ErrSessionNotFound is returned when no session exists for an ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrConcurrentSessionLimit is returned by Create when the pair is
	// at or over its concurrent session cap.
	ErrConcurrentSessionLimit = errors.New("concurrent session limit reached")

	// ErrSessionNotActive is returned by Touch when the session is in a
	// terminal state.
	ErrSessionNotActive = errors.New("session is not active")
)
