package workflow

import "errors"

var (
	// ErrRequestNotFound is returned when no request exists for an ID.
	ErrRequestNotFound = errors.New("access request not found")

	// ErrDuplicatePendingRequest is returned by Submit when the pair
	// already has a PENDING request.
	ErrDuplicatePendingRequest = errors.New("pending request already exists for pair")

	// ErrInvalidTransition is returned by Review when the request is
	// not PENDING.
	ErrInvalidTransition = errors.New("request is not pending")

	// ErrUnauthorized is returned by Review when the reviewer lacks the
	// administrative capability in the target organization.
	ErrUnauthorized = errors.New("reviewer is not authorized")
)
