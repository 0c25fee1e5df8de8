package bulk

import "time"

// OperationType identifies what a bulk operation does to each pair.
type OperationType string

const (
	// OpGrant maps each user into each tenant with the given roles.
	OpGrant OperationType = "grant"

	// OpRevoke soft-deletes each pair's mapping.
	OpRevoke OperationType = "revoke"

	// OpUpdateRoles replaces each pair's role assignment set.
	OpUpdateRoles OperationType = "update_roles"

	// OpMigrate grants each user into each target tenant, then revokes
	// their access to the source organization.
	OpMigrate OperationType = "migrate"
)

// Status is the lifecycle state of a bulk operation.
type Status string

const (
	StatusInitiated           Status = "INITIATED"
	StatusRunning             Status = "RUNNING"
	StatusCompleted           Status = "COMPLETED"
	StatusCompletedWithErrors Status = "COMPLETED_WITH_ERRORS"
	StatusFailed              Status = "FAILED"
)

// Params carries per-type operation arguments.
type Params struct {
	// RoleIDs to grant or to replace with, for grant/update_roles/migrate.
	RoleIDs []int64 `json:"role_ids,omitempty"`

	// SourceOrgID is the organization migrated away from, for migrate.
	SourceOrgID int64 `json:"source_org_id,omitempty"`
}

// ItemFailure records one failed (user, tenant) item.
type ItemFailure struct {
	Index  int    `json:"index"`
	UserID int64  `json:"user_id"`
	OrgID  int64  `json:"org_id"`
	Error  string `json:"error"`
}

// BulkOperation is a batch job over the cross product of UserIDs and
// TenantIDs. Progress counts items attempted, not items succeeded, and
// only ever increases.
type BulkOperation struct {
	ID          string        `json:"id"`
	Type        OperationType `json:"type"`
	UserIDs     []int64       `json:"user_ids"`
	TenantIDs   []int64       `json:"tenant_ids"`
	Params      Params        `json:"params"`
	Status      Status        `json:"status"`
	Progress    int           `json:"progress"`
	ItemErrors  []ItemFailure `json:"item_errors"`
	InitiatedBy int64         `json:"initiated_by"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
}

// TotalItems is the number of (user, tenant) pairs the operation covers.
func (op *BulkOperation) TotalItems() int {
	return len(op.UserIDs) * len(op.TenantIDs)
}
