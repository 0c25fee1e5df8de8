package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store is the persistence contract for sessions.
type Store interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListActiveForPair(ctx context.Context, userID, orgID int64) ([]*Session, error)
	CountActiveForUser(ctx context.Context, userID int64, now time.Time) (int, error)
	UpdateActivity(ctx context.Context, id string, at time.Time) error
	MarkTerminal(ctx context.Context, id string, status Status, at time.Time) error
	InvalidatePair(ctx context.Context, userID, orgID int64, at time.Time) (int, error)
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// PGStore implements Store on PostgreSQL
type PGStore struct {
	db *sql.DB
}

// NewPGStore creates a new session store
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const sessionColumns = `id, user_id, org_id, roles, status, ip_address, user_agent, created_at, last_activity_at, expires_at, ended_at`

// CreateSession inserts a new session row
func (s *PGStore) CreateSession(ctx context.Context, session *Session) error {
	roles, err := json.Marshal(session.Roles)
	if err != nil {
		return fmt.Errorf("failed to marshal role snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, org_id, roles, status, ip_address, user_agent, created_at, last_activity_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9)
	`, session.ID, session.UserID, session.OrgID, roles, session.Status,
		session.IPAddress, session.UserAgent, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID
func (s *PGStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE id = $1`, sessionColumns)
	return scanSession(s.db.QueryRowContext(ctx, query, id))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	var session Session
	var roles []byte
	var endedAt sql.NullTime
	err := row.Scan(
		&session.ID, &session.UserID, &session.OrgID, &roles, &session.Status,
		&session.IPAddress, &session.UserAgent,
		&session.CreatedAt, &session.LastActivityAt, &session.ExpiresAt, &endedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if len(roles) > 0 {
		if err := json.Unmarshal(roles, &session.Roles); err != nil {
			return nil, fmt.Errorf("failed to unmarshal role snapshot: %w", err)
		}
	}
	if endedAt.Valid {
		t := endedAt.Time
		session.EndedAt = &t
	}
	return &session, nil
}

// ListActiveForPair retrieves stored-ACTIVE sessions for a pair
func (s *PGStore) ListActiveForPair(ctx context.Context, userID, orgID int64) ([]*Session, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM sessions
		WHERE user_id = $1 AND org_id = $2 AND status = 'ACTIVE'
		ORDER BY created_at
	`, sessionColumns)

	rows, err := s.db.QueryContext(ctx, query, userID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

// CountActiveForUser counts live, unexpired sessions for a user across
// every organization
func (s *PGStore) CountActiveForUser(ctx context.Context, userID int64, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions
		WHERE user_id = $1 AND status = 'ACTIVE' AND expires_at > $2
	`, userID, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

// UpdateActivity bumps last_activity_at for a live session
func (s *PGStore) UpdateActivity(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_activity_at = $2 WHERE id = $1 AND status = 'ACTIVE'
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to update activity: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check activity update: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotActive
	}
	return nil
}

// MarkTerminal transitions a stored-ACTIVE session to a terminal status.
// Already-terminal sessions are left untouched.
func (s *PGStore) MarkTerminal(ctx context.Context, id string, status Status, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = $2, ended_at = $3 WHERE id = $1 AND status = 'ACTIVE'
	`, id, status, at)
	if err != nil {
		return fmt.Errorf("failed to mark session %s: %w", status, err)
	}
	return nil
}

// InvalidatePair flips every stored-ACTIVE session for the pair to
// INVALID, returning how many it touched.
func (s *PGStore) InvalidatePair(ctx context.Context, userID, orgID int64, at time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'INVALID', ended_at = $3
		WHERE user_id = $1 AND org_id = $2 AND status = 'ACTIVE'
	`, userID, orgID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate sessions: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check invalidation: %w", err)
	}
	return int(affected), nil
}

// SweepExpired persists EXPIRED for every stored-ACTIVE session past its
// expiry, returning how many it touched.
func (s *PGStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'EXPIRED', ended_at = expires_at
		WHERE status = 'ACTIVE' AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check sweep: %w", err)
	}
	return int(affected), nil
}
