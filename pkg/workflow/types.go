package workflow

import "time"

// Status is the lifecycle state of an access request. PENDING is the
// only live state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusExpired  Status = "EXPIRED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// AccessRequest is one user's petition for access to an organization.
type AccessRequest struct {
	ID            string     `json:"id"`
	UserID        int64      `json:"user_id"`
	OrgID         int64      `json:"org_id"`
	RoleIDs       []int64    `json:"role_ids"`
	Justification string     `json:"justification"`
	Status        Status     `json:"status"`
	ReviewerID    *int64     `json:"reviewer_id,omitempty"`
	ReviewReason  string     `json:"review_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
}

// EffectiveStatus derives the status as of now. A stored PENDING past
// its expiry reads as EXPIRED before the sweep persists it.
func (r *AccessRequest) EffectiveStatus(now time.Time) Status {
	if r.Status == StatusPending && !now.Before(r.ExpiresAt) {
		return StatusExpired
	}
	return r.Status
}
