package tenancy

import "errors"

var (
	// ErrNotFound is returned when a tenancy record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrMappingExists is returned when a live mapping already links the
	// user to the organization.
	ErrMappingExists = errors.New("user already mapped to organization")

	// ErrNoMapping is returned by mutations that require an existing
	// live mapping.
	ErrNoMapping = errors.New("user has no access to organization")

	// ErrOrgUserLimit is returned when a grant would exceed the
	// organization's max-users cap.
	ErrOrgUserLimit = errors.New("organization user limit reached")

	// ErrRoleNotAssignable is returned when a grant names a role template
	// that is inactive or not assignable.
	ErrRoleNotAssignable = errors.New("role is not assignable")

	// ErrUserInactive is returned when a mutation targets a deactivated user.
	ErrUserInactive = errors.New("user is inactive")

	// ErrOrgInactive is returned when a mutation targets a deactivated
	// organization.
	ErrOrgInactive = errors.New("organization is inactive")
)
