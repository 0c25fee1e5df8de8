package bulk

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/openfortress/gatehouse/pkg/async"
	"github.com/openfortress/gatehouse/pkg/audit"
	"github.com/openfortress/gatehouse/pkg/observability"
	"github.com/openfortress/gatehouse/pkg/tenancy"
)

// Mutator is the slice of the tenancy write path items run through.
type Mutator interface {
	GrantAccess(ctx context.Context, req tenancy.GrantAccessRequest) (*tenancy.UserTenantMapping, error)
	RevokeAccess(ctx context.Context, userID, orgID int64, actorID *int64) error
	UpdateRoles(ctx context.Context, userID, orgID int64, roleIDs []int64, actorID *int64) error
}

// Coordinator submits and executes bulk operations.
type Coordinator struct {
	store       Store
	mutator     Mutator
	audit       audit.Logger
	logger      *observability.Logger
	metrics     *observability.Metrics
	workers     int
	itemTimeout time.Duration
	now         func() time.Time
}

// NewCoordinator creates the bulk coordinator. workers bounds item
// concurrency; itemTimeout bounds one item's mutation.
func NewCoordinator(store Store, mutator Mutator, auditLog audit.Logger, logger *observability.Logger, workers int, itemTimeout time.Duration) *Coordinator {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	if workers < 1 {
		workers = 4
	}
	if itemTimeout <= 0 {
		itemTimeout = 10 * time.Second
	}
	return &Coordinator{
		store:       store,
		mutator:     mutator,
		audit:       auditLog,
		logger:      logger,
		workers:     workers,
		itemTimeout: itemTimeout,
		now:         time.Now,
	}
}

// WithClock overrides the coordinator's clock for deterministic tests.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// WithMetrics wires item and operation observation.
func (c *Coordinator) WithMetrics(m *observability.Metrics) *Coordinator {
	c.metrics = m
	return c
}

// SubmitRequest describes a new bulk operation.
type SubmitRequest struct {
	Type        OperationType
	UserIDs     []int64
	TenantIDs   []int64
	Params      Params
	InitiatedBy int64
}

// Submit validates and persists an INITIATED operation. Execution is a
// separate step so callers control where the work runs.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*BulkOperation, error) {
	if len(req.UserIDs) == 0 || len(req.TenantIDs) == 0 {
		return nil, ErrEmptyBatch
	}
	switch req.Type {
	case OpGrant, OpRevoke, OpUpdateRoles:
	case OpMigrate:
		if req.Params.SourceOrgID == 0 {
			return nil, fmt.Errorf("migrate requires a source organization: %w", ErrEmptyBatch)
		}
	default:
		return nil, fmt.Errorf("unknown operation type %q", req.Type)
	}

	op := &BulkOperation{
		ID:          uuid.NewString(),
		Type:        req.Type,
		UserIDs:     req.UserIDs,
		TenantIDs:   req.TenantIDs,
		Params:      req.Params,
		Status:      StatusInitiated,
		InitiatedBy: req.InitiatedBy,
		CreatedAt:   c.now(),
	}
	if err := c.store.CreateOperation(ctx, op); err != nil {
		return nil, err
	}
	return op, nil
}

// GetStatus retrieves an operation with its progress and error list.
func (c *Coordinator) GetStatus(ctx context.Context, id string) (*BulkOperation, error) {
	return c.store.GetOperation(ctx, id)
}

// FailOrphans marks operations left RUNNING by a dead process as FAILED.
// Called once at startup; orphans are not resumable and must be
// resubmitted.
func (c *Coordinator) FailOrphans(ctx context.Context) (int, error) {
	count, err := c.store.FailOrphaned(ctx, c.now())
	if err != nil {
		return 0, err
	}
	if count > 0 && c.logger != nil {
		c.logger.WithField("count", count).Warn("failed orphaned bulk operations")
	}
	return count, nil
}

type item struct {
	userID int64
	orgID  int64
}

// Execute runs an INITIATED operation to a terminal state. Items are
// processed concurrently; cancellation is honored between items. The
// returned operation carries the final status, progress and the full
// per-item error list.
func (c *Coordinator) Execute(ctx context.Context, id string) (*BulkOperation, error) {
	op, err := c.store.GetOperation(ctx, id)
	if err != nil {
		return nil, err
	}

	// A coordinator-level fault before any item yields FAILED with zero
	// progress.
	if err := c.store.MarkRunning(ctx, id, c.now()); err != nil {
		if err == ErrNotResumable {
			return nil, fmt.Errorf("operation %s is %s: %w", id, op.Status, ErrNotResumable)
		}
		c.finish(ctx, op, StatusFailed, 0, nil)
		c.emitOp(ctx, audit.EventTypeBulkFailed, op, map[string]interface{}{"progress": 0})
		return nil, err
	}
	op.Status = StatusRunning
	c.emitOp(ctx, audit.EventTypeBulkStarted, op, nil)

	items := make([]item, 0, op.TotalItems())
	for _, userID := range op.UserIDs {
		for _, orgID := range op.TenantIDs {
			items = append(items, item{userID: userID, orgID: orgID})
		}
	}

	var attempted int64
	errs := async.BatchIndexed(ctx, items, c.workers, c.itemTimeout,
		func(itemCtx context.Context, index int, it item) error {
			n := atomic.AddInt64(&attempted, 1)
			if err := c.store.SetProgress(itemCtx, id, int(n)); err != nil && c.logger != nil {
				c.logger.WithError(err).Warn("failed to persist bulk progress")
			}

			err := c.applyItem(itemCtx, op, it)
			c.observeItem(err)
			return err
		})

	progress := int(atomic.LoadInt64(&attempted))
	failures := make([]ItemFailure, 0, len(errs))
	for _, itemErr := range errs {
		failures = append(failures, ItemFailure{
			Index:  itemErr.Index,
			UserID: items[itemErr.Index].userID,
			OrgID:  items[itemErr.Index].orgID,
			Error:  itemErr.Err.Error(),
		})
	}

	if ctx.Err() != nil {
		// Cancelled mid-batch. Already-attempted items stand; the
		// operation is terminal and must be resubmitted.
		c.finish(context.Background(), op, StatusFailed, progress, failures)
		c.emitOp(context.Background(), audit.EventTypeBulkCancelled, op, map[string]interface{}{
			"progress": progress,
		})
		return op, nil
	}

	status := StatusCompleted
	eventType := audit.EventTypeBulkCompleted
	if len(failures) > 0 {
		status = StatusCompletedWithErrors
	}
	c.finish(ctx, op, status, progress, failures)
	c.emitOp(ctx, eventType, op, map[string]interface{}{
		"progress": progress,
		"failures": len(failures),
	})
	return op, nil
}

func (c *Coordinator) applyItem(ctx context.Context, op *BulkOperation, it item) error {
	actor := op.InitiatedBy
	switch op.Type {
	case OpGrant:
		_, err := c.mutator.GrantAccess(ctx, tenancy.GrantAccessRequest{
			UserID:    it.userID,
			OrgID:     it.orgID,
			RoleIDs:   op.Params.RoleIDs,
			GrantedBy: &actor,
		})
		return err
	case OpRevoke:
		return c.mutator.RevokeAccess(ctx, it.userID, it.orgID, &actor)
	case OpUpdateRoles:
		return c.mutator.UpdateRoles(ctx, it.userID, it.orgID, op.Params.RoleIDs, &actor)
	case OpMigrate:
		if _, err := c.mutator.GrantAccess(ctx, tenancy.GrantAccessRequest{
			UserID:    it.userID,
			OrgID:     it.orgID,
			RoleIDs:   op.Params.RoleIDs,
			GrantedBy: &actor,
		}); err != nil {
			return err
		}
		return c.mutator.RevokeAccess(ctx, it.userID, op.Params.SourceOrgID, &actor)
	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
}

func (c *Coordinator) finish(ctx context.Context, op *BulkOperation, status Status, progress int, failures []ItemFailure) {
	now := c.now()
	if err := c.store.Finish(ctx, op.ID, status, progress, failures, now); err != nil && c.logger != nil {
		c.logger.WithError(err).WithField("operation_id", op.ID).Error("failed to finish bulk operation")
	}

	op.Status = status
	op.Progress = progress
	op.ItemErrors = failures
	op.FinishedAt = &now

	if c.metrics != nil {
		c.metrics.BulkOperationsTotal.WithLabelValues(string(status)).Inc()
	}
}

func (c *Coordinator) observeItem(err error) {
	if c.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.metrics.BulkItemsTotal.WithLabelValues(result).Inc()
}

func (c *Coordinator) emitOp(ctx context.Context, eventType audit.EventType, op *BulkOperation, metadata map[string]interface{}) {
	event := audit.NewEvent(eventType, audit.EventStatusSuccess)
	event.ActorID = &op.InitiatedBy
	event.ResourceType = "bulk_operation"
	event.ResourceID = op.ID
	event.Metadata["op_type"] = string(op.Type)
	event.Metadata["total_items"] = op.TotalItems()
	for k, v := range metadata {
		event.Metadata[k] = v
	}
	if err := c.audit.Log(ctx, event); err != nil && c.logger != nil {
		c.logger.WithError(err).Warn("failed to emit audit event")
	}
}
