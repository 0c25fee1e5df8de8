package roles

import "errors"

var (
	// ErrRoleNotFound is returned when a role template does not exist.
	ErrRoleNotFound = errors.New("role not found")

	// ErrDuplicateRole is returned when a role name is already taken.
	ErrDuplicateRole = errors.New("role name already exists")

	// ErrCycleDetected is returned when an inheritance chain would loop.
	ErrCycleDetected = errors.New("role inheritance cycle detected")

	// ErrHierarchyTooDeep is returned when an inheritance chain exceeds
	// the configured depth bound.
	ErrHierarchyTooDeep = errors.New("role hierarchy exceeds depth bound")
)
