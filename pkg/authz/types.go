package authz

import (
	"errors"

	"github.com/openfortress/gatehouse/pkg/roles"
)

// Effect is the outcome of a resolution.
type Effect string

const (
	EffectAllow Effect = "ALLOW"
	EffectDeny  Effect = "DENY"
)

// Reason explains which rule settled the decision.
type Reason string

const (
	// ReasonGlobalAdmin: the user bears the global-admin flag.
	ReasonGlobalAdmin Reason = "GlobalAdmin"

	// ReasonNoTenantAccess: no live mapping links the user to the org.
	ReasonNoTenantAccess Reason = "NoTenantAccess"

	// ReasonExplicitDeny / ReasonExplicitAllow: an override settled it.
	ReasonExplicitDeny  Reason = "ExplicitDeny"
	ReasonExplicitAllow Reason = "ExplicitAllow"

	// ReasonRoleGranted: the union of role permissions covers the action.
	ReasonRoleGranted Reason = "RoleGranted"

	// ReasonNotPermitted: nothing grants the action.
	ReasonNotPermitted Reason = "NotPermitted"

	// ReasonResolutionFault: corrupted role or override data; the
	// engine fails closed.
	ReasonResolutionFault Reason = "ResolutionFault"
)

// Decision is the resolver's verdict. DENY is a normal outcome, not an
// error.
type Decision struct {
	Effect Effect `json:"effect"`
	Reason Reason `json:"reason"`
}

// Allowed reports whether the decision permits the action.
func (d Decision) Allowed() bool {
	return d.Effect == EffectAllow
}

// ErrUnavailable is returned when storage cannot be reached. Callers
// must treat it as a failure, never as an implicit ALLOW.
var ErrUnavailable = errors.New("authorization state unavailable")

// CallContext carries caller-supplied facts that override conditions
// evaluate against.
type CallContext struct {
	IPAddress string
}

// ResolveRequest names the action being checked.
type ResolveRequest struct {
	UserID       int64
	OrgID        int64
	ResourceType roles.ResourceType
	ResourceName string
	Action       roles.PermissionType
	Context      CallContext
}
