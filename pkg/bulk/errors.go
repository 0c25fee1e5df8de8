package bulk

import "errors"

var (
	// ErrOperationNotFound is returned when no operation exists for an ID.
	ErrOperationNotFound = errors.New("bulk operation not found")

	// ErrEmptyBatch is returned by Submit when the user or tenant id
	// set is empty.
	ErrEmptyBatch = errors.New("bulk operation requires users and tenants")

	// ErrNotResumable is returned by Execute when the operation has
	// already run. Finished operations must be resubmitted.
	ErrNotResumable = errors.New("bulk operation is not resumable")
)
