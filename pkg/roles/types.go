package roles

import (
	"time"
)

// ResourceType identifies a category of protected resource
type ResourceType string

const (
	ResourceDatabase  ResourceType = "database"
	ResourceQuery     ResourceType = "query"
	ResourceTable     ResourceType = "table"
	ResourceColumn    ResourceType = "column"
	ResourceView      ResourceType = "view"
	ResourceProcedure ResourceType = "procedure"
	ResourceFunction  ResourceType = "function"
	ResourceReport    ResourceType = "report"
	ResourceUsers     ResourceType = "users"
	ResourceRoles     ResourceType = "roles"
	ResourceSessions  ResourceType = "sessions"
	ResourceAudit     ResourceType = "audit"
)

// PermissionType identifies an action on a resource type
type PermissionType string

const (
	PermissionRead    PermissionType = "read"
	PermissionWrite   PermissionType = "write"
	PermissionCreate  PermissionType = "create"
	PermissionDelete  PermissionType = "delete"
	PermissionExecute PermissionType = "execute"
	PermissionManage  PermissionType = "manage"
	PermissionAdmin   PermissionType = "admin"
)

// AdministrativePermissions are the permission types whose grants get
// audited even on ALLOW.
var AdministrativePermissions = map[PermissionType]bool{
	PermissionManage: true,
	PermissionAdmin:  true,
}

// PermissionSet maps resource types to the permission types granted on them
type PermissionSet map[ResourceType][]PermissionType

// Has reports whether the set grants permission on resource.
func (s PermissionSet) Has(resource ResourceType, permission PermissionType) bool {
	for _, p := range s[resource] {
		if p == permission {
			return true
		}
	}
	return false
}

// Union merges other into s without duplicating entries.
func (s PermissionSet) Union(other PermissionSet) {
	for resource, perms := range other {
		for _, p := range perms {
			if !s.Has(resource, p) {
				s[resource] = append(s[resource], p)
			}
		}
	}
}

// Clone returns a deep copy of the set.
func (s PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(s))
	for resource, perms := range s {
		cp := make([]PermissionType, len(perms))
		copy(cp, perms)
		out[resource] = cp
	}
	return out
}

// RoleTemplate represents a named permission bundle
type RoleTemplate struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Permissions  PermissionSet `json:"permissions"`
	InheritsFrom *int64        `json:"inherits_from,omitempty"`
	IsAssignable bool          `json:"is_assignable"`
	IsSystem     bool          `json:"is_system"`
	IsActive     bool          `json:"is_active"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	CreatedBy    *int64        `json:"created_by,omitempty"`
}
