package bulk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Store is the persistence contract for bulk operations.
type Store interface {
	CreateOperation(ctx context.Context, op *BulkOperation) error
	GetOperation(ctx context.Context, id string) (*BulkOperation, error)
	MarkRunning(ctx context.Context, id string, at time.Time) error
	SetProgress(ctx context.Context, id string, progress int) error
	Finish(ctx context.Context, id string, status Status, progress int, itemErrors []ItemFailure, at time.Time) error
	FailOrphaned(ctx context.Context, at time.Time) (int, error)
}

// PGStore implements Store on PostgreSQL
type PGStore struct {
	db *sql.DB
}

// NewPGStore creates a new bulk operation store
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// CreateOperation inserts a new operation row
func (s *PGStore) CreateOperation(ctx context.Context, op *BulkOperation) error {
	params, err := json.Marshal(op.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bulk_operations (id, op_type, user_ids, tenant_ids, params, status, progress, initiated_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)
	`, op.ID, op.Type, pq.Array(op.UserIDs), pq.Array(op.TenantIDs), params,
		op.Status, op.InitiatedBy, op.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create bulk operation: %w", err)
	}
	return nil
}

// GetOperation retrieves an operation by ID
func (s *PGStore) GetOperation(ctx context.Context, id string) (*BulkOperation, error) {
	var op BulkOperation
	var userIDs, tenantIDs pq.Int64Array
	var params, itemErrors []byte
	var startedAt, finishedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, op_type, user_ids, tenant_ids, params, status, progress, item_errors, initiated_by, created_at, started_at, finished_at
		FROM bulk_operations WHERE id = $1
	`, id).Scan(
		&op.ID, &op.Type, &userIDs, &tenantIDs, &params, &op.Status,
		&op.Progress, &itemErrors, &op.InitiatedBy, &op.CreatedAt, &startedAt, &finishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrOperationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bulk operation: %w", err)
	}

	op.UserIDs = []int64(userIDs)
	op.TenantIDs = []int64(tenantIDs)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &op.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal params: %w", err)
		}
	}
	if len(itemErrors) > 0 {
		if err := json.Unmarshal(itemErrors, &op.ItemErrors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal item errors: %w", err)
		}
	}
	if startedAt.Valid {
		t := startedAt.Time
		op.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		op.FinishedAt = &t
	}
	return &op, nil
}

// MarkRunning transitions INITIATED to RUNNING. The status guard makes
// a double Execute fail instead of rerunning items.
func (s *PGStore) MarkRunning(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE bulk_operations SET status = 'RUNNING', started_at = $2
		WHERE id = $1 AND status = 'INITIATED'
	`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark operation running: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check run transition: %w", err)
	}
	if affected == 0 {
		return ErrNotResumable
	}
	return nil
}

// SetProgress records the attempted-item counter. GREATEST keeps the
// counter monotone under out-of-order worker updates.
func (s *PGStore) SetProgress(ctx context.Context, id string, progress int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bulk_operations SET progress = GREATEST(progress, $2) WHERE id = $1
	`, id, progress)
	if err != nil {
		return fmt.Errorf("failed to set progress: %w", err)
	}
	return nil
}

// Finish records the terminal status, final progress and the full
// per-item error list.
func (s *PGStore) Finish(ctx context.Context, id string, status Status, progress int, itemErrors []ItemFailure, at time.Time) error {
	encoded, err := json.Marshal(itemErrors)
	if err != nil {
		return fmt.Errorf("failed to marshal item errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE bulk_operations
		SET status = $2, progress = GREATEST(progress, $3), item_errors = $4, finished_at = $5
		WHERE id = $1
	`, id, status, progress, encoded, at)
	if err != nil {
		return fmt.Errorf("failed to finish operation: %w", err)
	}
	return nil
}

// FailOrphaned marks RUNNING operations FAILED. A row can only be RUNNING
// while an Execute call holds it, so any found outside one belongs to a
// process that died mid-batch.
func (s *PGStore) FailOrphaned(ctx context.Context, at time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE bulk_operations SET status = 'FAILED', finished_at = $1
		WHERE status = 'RUNNING'
	`, at)
	if err != nil {
		return 0, fmt.Errorf("failed to fail orphaned operations: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count orphaned operations: %w", err)
	}
	return int(affected), nil
}
