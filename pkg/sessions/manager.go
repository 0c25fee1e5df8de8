package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openfortress/gatehouse/pkg/audit"
	"github.com/openfortress/gatehouse/pkg/observability"
)

// RoleSnapshotter resolves the role set a new session should carry.
// The binary wires an adapter over the tenancy store and role registry.
type RoleSnapshotter interface {
	Snapshot(ctx context.Context, userID, orgID int64) ([]RoleRef, error)
}

// Manager owns the session lifecycle. It implements the tenancy
// package's SessionInvalidator contract via InvalidatePair.
type Manager struct {
	store         Store
	snapshot      RoleSnapshotter
	audit         audit.Logger
	logger        *observability.Logger
	maxConcurrent int
	ttl           time.Duration
	now           func() time.Time
}

// NewManager creates a session manager. maxConcurrent bounds a user's
// live sessions across all organizations; ttl is the session lifetime.
func NewManager(store Store, snapshot RoleSnapshotter, auditLog audit.Logger, logger *observability.Logger, maxConcurrent int, ttl time.Duration) *Manager {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &Manager{
		store:         store,
		snapshot:      snapshot,
		audit:         auditLog,
		logger:        logger,
		maxConcurrent: maxConcurrent,
		ttl:           ttl,
		now:           time.Now,
	}
}

// WithClock overrides the manager's clock for deterministic tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// CreateSessionRequest describes a new session.
type CreateSessionRequest struct {
	UserID    int64
	OrgID     int64
	IPAddress string
	UserAgent string
}

// Create opens a session for the pair, snapshotting its resolved roles.
// The count treats stored-ACTIVE sessions past expiry as gone, so a
// pile of stale rows never locks a user out.
func (m *Manager) Create(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	now := m.now()

	count, err := m.store.CountActiveForUser(ctx, req.UserID, now)
	if err != nil {
		return nil, err
	}
	if count >= m.maxConcurrent {
		return nil, fmt.Errorf("user %d has %d live sessions: %w",
			req.UserID, count, ErrConcurrentSessionLimit)
	}

	roles, err := m.snapshot.Snapshot(ctx, req.UserID, req.OrgID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot roles: %w", err)
	}

	session := &Session{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		OrgID:          req.OrgID,
		Roles:          roles,
		Status:         StatusActive,
		IPAddress:      req.IPAddress,
		UserAgent:      req.UserAgent,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(m.ttl),
	}

	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	m.emit(ctx, audit.EventTypeSessionCreated, session, nil)
	return session, nil
}

// Get retrieves a session. Elapsed expiry is reflected in the returned
// status without a write.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	session, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	session.Status = session.EffectiveStatus(m.now())
	return session, nil
}

// Touch bumps the session's last activity. A session past its expiry is
// persisted EXPIRED here rather than waiting for the sweep.
func (m *Manager) Touch(ctx context.Context, id string) error {
	session, err := m.store.GetSession(ctx, id)
	if err != nil {
		return err
	}

	now := m.now()
	switch session.EffectiveStatus(now) {
	case StatusActive:
		return m.store.UpdateActivity(ctx, id, now)
	case StatusExpired:
		if session.Status == StatusActive {
			if err := m.store.MarkTerminal(ctx, id, StatusExpired, session.ExpiresAt); err != nil {
				return err
			}
			m.emit(ctx, audit.EventTypeSessionExpired, session, nil)
		}
		return fmt.Errorf("session %s expired: %w", id, ErrSessionNotActive)
	default:
		return fmt.Errorf("session %s is %s: %w", id, session.Status, ErrSessionNotActive)
	}
}

// Revoke transitions a session to REVOKED. Revoking a session already
// in a terminal state is a no-op.
func (m *Manager) Revoke(ctx context.Context, id string, actorID *int64) error {
	session, err := m.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if session.Status.Terminal() {
		return nil
	}

	if err := m.store.MarkTerminal(ctx, id, StatusRevoked, m.now()); err != nil {
		return err
	}

	m.emit(ctx, audit.EventTypeSessionRevoked, session, actorID)
	return nil
}

// InvalidatePair flips every live session for the pair to INVALID.
// Tenancy mutations call this after narrowing the pair's access.
func (m *Manager) InvalidatePair(ctx context.Context, userID, orgID int64) error {
	live, err := m.store.ListActiveForPair(ctx, userID, orgID)
	if err != nil {
		return err
	}

	count, err := m.store.InvalidatePair(ctx, userID, orgID, m.now())
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}

	ids := make([]string, 0, len(live))
	for _, s := range live {
		ids = append(ids, s.ID)
	}

	event := audit.NewEvent(audit.EventTypeSessionInvalidated, audit.EventStatusSuccess)
	event.OrganizationID = &orgID
	event.ResourceType = "session"
	event.ResourceID = fmt.Sprintf("%d:%d", userID, orgID)
	event.Metadata["sessions_invalidated"] = count
	event.Metadata["session_ids"] = ids
	m.log(ctx, event)
	return nil
}

// SweepExpired persists EXPIRED for every stale session. Wired to the
// cron scheduler in the binary.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	count, err := m.store.SweepExpired(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if count > 0 && m.logger != nil {
		m.logger.WithField("count", count).Info("swept expired sessions")
	}
	return count, nil
}

func (m *Manager) emit(ctx context.Context, eventType audit.EventType, session *Session, actorID *int64) {
	event := audit.NewEvent(eventType, audit.EventStatusSuccess)
	event.ActorID = actorID
	event.OrganizationID = &session.OrgID
	event.ResourceType = "session"
	event.ResourceID = session.ID
	event.Metadata["user_id"] = session.UserID
	m.log(ctx, event)
}

func (m *Manager) log(ctx context.Context, event *audit.Event) {
	if err := m.audit.Log(ctx, event); err != nil && m.logger != nil {
		m.logger.WithError(err).Warn("failed to emit audit event")
	}
}
