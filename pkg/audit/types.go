package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Tenancy mutation events
	EventTypeAccessGranted   EventType = "tenancy.access_granted"
	EventTypeAccessRevoked   EventType = "tenancy.access_revoked"
	EventTypeRolesUpdated    EventType = "tenancy.roles_updated"
	EventTypeOverrideGranted EventType = "tenancy.override_granted"
	EventTypeOverrideRevoked EventType = "tenancy.override_revoked"
	EventTypeUserDeactivated EventType = "tenancy.user_deactivated"
	EventTypeOrgDeactivated  EventType = "tenancy.org_deactivated"

	// Authorization events
	EventTypeDecisionDenied EventType = "authz.decision_denied"
	EventTypeAdminAllowed   EventType = "authz.admin_allowed"

	// Session lifecycle events
	EventTypeSessionCreated     EventType = "session.created"
	EventTypeSessionRevoked     EventType = "session.revoked"
	EventTypeSessionExpired     EventType = "session.expired"
	EventTypeSessionInvalidated EventType = "session.invalidated"

	// Access request workflow events
	EventTypeRequestSubmitted EventType = "request.submitted"
	EventTypeRequestApproved  EventType = "request.approved"
	EventTypeRequestRejected  EventType = "request.rejected"
	EventTypeRequestExpired   EventType = "request.expired"

	// Bulk operation events
	EventTypeBulkStarted   EventType = "bulk.started"
	EventTypeBulkCompleted EventType = "bulk.completed"
	EventTypeBulkCancelled EventType = "bulk.cancelled"
	EventTypeBulkFailed    EventType = "bulk.failed"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event represents a single audit log entry
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information
	ActorID        *int64 `json:"actor_id,omitempty"`
	OrganizationID *int64 `json:"organization_id,omitempty"`

	// Resource information
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// NewEvent builds an event with the timestamp and metadata map populated.
func NewEvent(eventType EventType, status EventStatus) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		Metadata:  make(map[string]interface{}),
	}
}
