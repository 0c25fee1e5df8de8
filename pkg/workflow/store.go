package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Store is the persistence contract for access requests.
type Store interface {
	CreateRequest(ctx context.Context, request *AccessRequest) error
	GetRequest(ctx context.Context, id string) (*AccessRequest, error)
	GetPendingForPair(ctx context.Context, userID, orgID int64) (*AccessRequest, error)
	ListPendingForOrg(ctx context.Context, orgID int64) ([]*AccessRequest, error)
	MarkReviewed(ctx context.Context, id string, status Status, reviewerID int64, reason string, at time.Time) error
	MarkExpired(ctx context.Context, id string, at time.Time) error
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// PGStore implements Store on PostgreSQL
type PGStore struct {
	db *sql.DB
}

// NewPGStore creates a new access request store
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const requestColumns = `id, user_id, org_id, role_ids, justification, status, reviewer_id, review_reason, created_at, expires_at, reviewed_at`

// CreateRequest inserts a new request row. The partial unique index on
// PENDING pairs backstops the service-level duplicate check.
func (s *PGStore) CreateRequest(ctx context.Context, request *AccessRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_requests (id, user_id, org_id, role_ids, justification, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, request.ID, request.UserID, request.OrgID, pq.Array(request.RoleIDs),
		request.Justification, request.Status, request.CreatedAt, request.ExpiresAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("pair (%d, %d): %w", request.UserID, request.OrgID, ErrDuplicatePendingRequest)
		}
		return fmt.Errorf("failed to create request: %w", err)
	}
	return nil
}

// GetRequest retrieves a request by ID
func (s *PGStore) GetRequest(ctx context.Context, id string) (*AccessRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM access_requests WHERE id = $1`, requestColumns)
	return scanRequest(s.db.QueryRowContext(ctx, query, id))
}

// GetPendingForPair retrieves the pair's PENDING request, if any
func (s *PGStore) GetPendingForPair(ctx context.Context, userID, orgID int64) (*AccessRequest, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM access_requests
		WHERE user_id = $1 AND org_id = $2 AND status = 'PENDING'
	`, requestColumns)
	return scanRequest(s.db.QueryRowContext(ctx, query, userID, orgID))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*AccessRequest, error) {
	var request AccessRequest
	var roleIDs pq.Int64Array
	var reviewerID sql.NullInt64
	var reviewReason sql.NullString
	var reviewedAt sql.NullTime
	err := row.Scan(
		&request.ID, &request.UserID, &request.OrgID, &roleIDs,
		&request.Justification, &request.Status,
		&reviewerID, &reviewReason, &request.CreatedAt, &request.ExpiresAt, &reviewedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}

	request.RoleIDs = []int64(roleIDs)
	if reviewerID.Valid {
		id := reviewerID.Int64
		request.ReviewerID = &id
	}
	if reviewReason.Valid {
		request.ReviewReason = reviewReason.String
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		request.ReviewedAt = &t
	}
	return &request, nil
}

// ListPendingForOrg retrieves PENDING requests awaiting review in an org
func (s *PGStore) ListPendingForOrg(ctx context.Context, orgID int64) ([]*AccessRequest, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM access_requests
		WHERE org_id = $1 AND status = 'PENDING'
		ORDER BY created_at
	`, requestColumns)

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var out []*AccessRequest
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, request)
	}
	return out, rows.Err()
}

// MarkReviewed transitions a PENDING request to APPROVED or REJECTED.
// The status guard makes the transition race-safe.
func (s *PGStore) MarkReviewed(ctx context.Context, id string, status Status, reviewerID int64, reason string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE access_requests
		SET status = $2, reviewer_id = $3, review_reason = $4, reviewed_at = $5
		WHERE id = $1 AND status = 'PENDING'
	`, id, status, reviewerID, reason, at)
	if err != nil {
		return fmt.Errorf("failed to mark request %s: %w", status, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check review result: %w", err)
	}
	if affected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// MarkExpired transitions a PENDING request to EXPIRED. Already-terminal
// requests are left untouched.
func (s *PGStore) MarkExpired(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE access_requests
		SET status = 'EXPIRED', reviewed_at = $2
		WHERE id = $1 AND status = 'PENDING'
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to expire request: %w", err)
	}
	return nil
}

// SweepExpired persists EXPIRED for every stale PENDING request,
// returning how many it touched.
func (s *PGStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE access_requests
		SET status = 'EXPIRED', reviewed_at = expires_at
		WHERE status = 'PENDING' AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep requests: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check sweep: %w", err)
	}
	return int(affected), nil
}
