package tenancy

import (
	"encoding/json"
	"time"

	"github.com/openfortress/gatehouse/pkg/roles"
)

// SubscriptionTier represents organization subscription tiers
type SubscriptionTier string

const (
	TierFree       SubscriptionTier = "free"
	TierStandard   SubscriptionTier = "standard"
	TierEnterprise SubscriptionTier = "enterprise"
)

// Organization represents a tenant
type Organization struct {
	ID               int64            `json:"id"`
	Code             string           `json:"code"`
	Name             string           `json:"name"`
	SubscriptionTier SubscriptionTier `json:"subscription_tier"`
	MaxUsers         int              `json:"max_users"`
	IsActive         bool             `json:"is_active"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// User represents an account. The credential hash is opaque to this
// system; verification happens elsewhere.
type User struct {
	ID             int64      `json:"id"`
	Username       string     `json:"username"`
	Email          string     `json:"email,omitempty"`
	CredentialHash string     `json:"-"`
	IsGlobalAdmin  bool       `json:"is_global_admin"`
	IsActive       bool       `json:"is_active"`
	FailedLogins   int        `json:"failed_logins"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// UserTenantMapping links a user to an organization. At most one row per
// (user, organization) pair; deactivation is a soft delete.
type UserTenantMapping struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	OrgID     int64      `json:"org_id"`
	IsActive  bool       `json:"is_active"`
	IsPrimary bool       `json:"is_primary"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	GrantedBy *int64     `json:"granted_by,omitempty"`
	GrantedAt time.Time  `json:"granted_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Live reports whether the mapping grants access at the given instant.
func (m *UserTenantMapping) Live(now time.Time) bool {
	if !m.IsActive {
		return false
	}
	if m.ExpiresAt != nil && !m.ExpiresAt.After(now) {
		return false
	}
	return true
}

// UserTenantRole assigns a role template to a user within an organization.
// The (user, org, role) triple is unique.
type UserTenantRole struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	OrgID     int64      `json:"org_id"`
	RoleID    int64      `json:"role_id"`
	GrantedBy *int64     `json:"granted_by,omitempty"`
	GrantedAt time.Time  `json:"granted_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Live reports whether the assignment is effective at the given instant.
func (r *UserTenantRole) Live(now time.Time) bool {
	return r.ExpiresAt == nil || r.ExpiresAt.After(now)
}

// UserPermission is an explicit per-user override. A row with a resource
// name is more specific than a type-only row; Granted false is an explicit
// DENY. Conditions, when present, must hold for the override to match.
type UserPermission struct {
	ID             int64                `json:"id"`
	UserID         int64                `json:"user_id"`
	OrgID          int64                `json:"org_id"`
	ResourceType   roles.ResourceType   `json:"resource_type"`
	ResourceName   *string              `json:"resource_name,omitempty"`
	PermissionType roles.PermissionType `json:"permission_type"`
	Granted        bool                 `json:"granted"`
	Conditions     json.RawMessage      `json:"conditions,omitempty"`
	GrantedBy      *int64               `json:"granted_by,omitempty"`
	GrantedAt      time.Time            `json:"granted_at"`
	ExpiresAt      *time.Time           `json:"expires_at,omitempty"`
}

// Live reports whether the override is effective at the given instant.
// Expired overrides are ignored entirely, DENY rows included.
func (p *UserPermission) Live(now time.Time) bool {
	return p.ExpiresAt == nil || p.ExpiresAt.After(now)
}
