package sessions

import "time"

// Status is the lifecycle state of a session. ACTIVE is the only live
// state; the other three are terminal.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusExpired Status = "EXPIRED"
	StatusRevoked Status = "REVOKED"
	StatusInvalid Status = "INVALID"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s != StatusActive
}

// RoleRef identifies one role in a session's snapshot.
type RoleRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Session is one authenticated presence of a user inside an
// organization. Roles is the set resolved at creation and never
// updated in place.
type Session struct {
	ID             string     `json:"id"`
	UserID         int64      `json:"user_id"`
	OrgID          int64      `json:"org_id"`
	Roles          []RoleRef  `json:"roles"`
	Status         Status     `json:"status"`
	IPAddress      string     `json:"ip_address,omitempty"`
	UserAgent      string     `json:"user_agent,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// EffectiveStatus derives the status as of now. A stored ACTIVE past
// its expiry reads as EXPIRED even before the sweep persists it.
func (s *Session) EffectiveStatus(now time.Time) Status {
	if s.Status == StatusActive && !now.Before(s.ExpiresAt) {
		return StatusExpired
	}
	return s.Status
}
