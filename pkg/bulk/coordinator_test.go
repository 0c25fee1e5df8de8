package bulk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfortress/gatehouse/pkg/tenancy"
)

type fakeStore struct {
	mu         sync.Mutex
	ops        map[string]*BulkOperation
	runningErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{ops: make(map[string]*BulkOperation)}
}

func (f *fakeStore) CreateOperation(ctx context.Context, op *BulkOperation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *op
	f.ops[op.ID] = &cp
	return nil
}

func (f *fakeStore) GetOperation(ctx context.Context, id string) (*BulkOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	op, ok := f.ops[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	cp := *op
	return &cp, nil
}

func (f *fakeStore) MarkRunning(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runningErr != nil {
		return f.runningErr
	}
	op, ok := f.ops[id]
	if !ok || op.Status != StatusInitiated {
		return ErrNotResumable
	}
	op.Status = StatusRunning
	op.StartedAt = &at
	return nil
}

func (f *fakeStore) SetProgress(ctx context.Context, id string, progress int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if op, ok := f.ops[id]; ok && progress > op.Progress {
		op.Progress = progress
	}
	return nil
}

func (f *fakeStore) Finish(ctx context.Context, id string, status Status, progress int, itemErrors []ItemFailure, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	op, ok := f.ops[id]
	if !ok {
		return ErrOperationNotFound
	}
	op.Status = status
	if progress > op.Progress {
		op.Progress = progress
	}
	op.ItemErrors = itemErrors
	op.FinishedAt = &at
	return nil
}

func (f *fakeStore) FailOrphaned(ctx context.Context, at time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, op := range f.ops {
		if op.Status == StatusRunning {
			op.Status = StatusFailed
			op.FinishedAt = &at
			count++
		}
	}
	return count, nil
}

type mutatorCall struct {
	op     string
	userID int64
	orgID  int64
}

type fakeMutator struct {
	mu       sync.Mutex
	calls    []mutatorCall
	failOrg  int64
	failUser int64
}

func (f *fakeMutator) record(op string, userID, orgID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, mutatorCall{op: op, userID: userID, orgID: orgID})
	if (f.failUser != 0 && userID == f.failUser) || (f.failOrg != 0 && orgID == f.failOrg) {
		return tenancy.ErrNotFound
	}
	return nil
}

func (f *fakeMutator) GrantAccess(ctx context.Context, req tenancy.GrantAccessRequest) (*tenancy.UserTenantMapping, error) {
	if err := f.record("grant", req.UserID, req.OrgID); err != nil {
		return nil, err
	}
	return &tenancy.UserTenantMapping{UserID: req.UserID, OrgID: req.OrgID, IsActive: true}, nil
}

func (f *fakeMutator) RevokeAccess(ctx context.Context, userID, orgID int64, actorID *int64) error {
	return f.record("revoke", userID, orgID)
}

func (f *fakeMutator) UpdateRoles(ctx context.Context, userID, orgID int64, roleIDs []int64, actorID *int64) error {
	return f.record("update_roles", userID, orgID)
}

func (f *fakeMutator) callsFor(op string) []mutatorCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []mutatorCall
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func newTestCoordinator(store Store, mutator Mutator) *Coordinator {
	return NewCoordinator(store, mutator, nil, nil, 2, time.Second)
}

func TestSubmitRejectsEmptySets(t *testing.T) {
	ctx := context.Background()
	coord := newTestCoordinator(newFakeStore(), &fakeMutator{})

	_, err := coord.Submit(ctx, SubmitRequest{Type: OpGrant, UserIDs: nil, TenantIDs: []int64{1}})
	assert.ErrorIs(t, err, ErrEmptyBatch)

	_, err = coord.Submit(ctx, SubmitRequest{Type: OpGrant, UserIDs: []int64{1}, TenantIDs: nil})
	assert.ErrorIs(t, err, ErrEmptyBatch)

	_, err = coord.Submit(ctx, SubmitRequest{Type: OpMigrate, UserIDs: []int64{1}, TenantIDs: []int64{2}})
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestExecuteGrantAllSucceed(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	mutator := &fakeMutator{}
	coord := newTestCoordinator(store, mutator)

	op, err := coord.Submit(ctx, SubmitRequest{
		Type: OpGrant, UserIDs: []int64{1, 2}, TenantIDs: []int64{10, 20},
		Params: Params{RoleIDs: []int64{5}}, InitiatedBy: 99,
	})
	require.NoError(t, err)

	result, err := coord.Execute(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 4, result.Progress)
	assert.Empty(t, result.ItemErrors)
	assert.Len(t, mutator.callsFor("grant"), 4)
}

func TestExecutePartialFailureReportsEveryItem(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	mutator := &fakeMutator{failUser: 3}
	coord := newTestCoordinator(store, mutator)

	op, err := coord.Submit(ctx, SubmitRequest{
		Type: OpGrant, UserIDs: []int64{1, 2, 3, 4, 5}, TenantIDs: []int64{10},
		InitiatedBy: 99,
	})
	require.NoError(t, err)

	result, err := coord.Execute(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompletedWithErrors, result.Status)
	assert.Equal(t, 5, result.Progress)
	require.Len(t, result.ItemErrors, 1)
	assert.Equal(t, 2, result.ItemErrors[0].Index)
	assert.Equal(t, int64(3), result.ItemErrors[0].UserID)
	assert.Equal(t, int64(10), result.ItemErrors[0].OrgID)
}

func TestExecuteIsNotResumable(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	coord := newTestCoordinator(store, &fakeMutator{})

	op, err := coord.Submit(ctx, SubmitRequest{
		Type: OpRevoke, UserIDs: []int64{1}, TenantIDs: []int64{10}, InitiatedBy: 99,
	})
	require.NoError(t, err)

	_, err = coord.Execute(ctx, op.ID)
	require.NoError(t, err)

	_, err = coord.Execute(ctx, op.ID)
	assert.ErrorIs(t, err, ErrNotResumable)
}

func TestExecuteCoordinatorFaultFailsWithZeroProgress(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.runningErr = assert.AnError
	coord := newTestCoordinator(store, &fakeMutator{})

	op, err := coord.Submit(ctx, SubmitRequest{
		Type: OpGrant, UserIDs: []int64{1}, TenantIDs: []int64{10}, InitiatedBy: 99,
	})
	require.NoError(t, err)

	_, err = coord.Execute(ctx, op.ID)
	assert.Error(t, err)

	store.runningErr = nil
	status, err := coord.GetStatus(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status.Status)
	assert.Equal(t, 0, status.Progress)
}

func TestExecuteCancelledBeforeItemsRun(t *testing.T) {
	store := newFakeStore()
	mutator := &fakeMutator{}
	coord := newTestCoordinator(store, mutator)

	op, err := coord.Submit(context.Background(), SubmitRequest{
		Type: OpGrant, UserIDs: []int64{1, 2}, TenantIDs: []int64{10}, InitiatedBy: 99,
	})
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := coord.Execute(cancelled, op.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, 0, result.Progress)
	assert.Empty(t, mutator.calls)
}

func TestExecuteMigrateGrantsThenRevokesSource(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	mutator := &fakeMutator{}
	coord := newTestCoordinator(store, mutator)

	op, err := coord.Submit(ctx, SubmitRequest{
		Type: OpMigrate, UserIDs: []int64{1}, TenantIDs: []int64{20},
		Params: Params{RoleIDs: []int64{5}, SourceOrgID: 10}, InitiatedBy: 99,
	})
	require.NoError(t, err)

	result, err := coord.Execute(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)

	grants := mutator.callsFor("grant")
	revokes := mutator.callsFor("revoke")
	require.Len(t, grants, 1)
	require.Len(t, revokes, 1)
	assert.Equal(t, int64(20), grants[0].orgID)
	assert.Equal(t, int64(10), revokes[0].orgID)
}

func TestFailOrphansOnlyTouchesRunning(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	coord := newTestCoordinator(store, &fakeMutator{})

	stuck, err := coord.Submit(ctx, SubmitRequest{
		Type: OpGrant, UserIDs: []int64{1}, TenantIDs: []int64{10}, InitiatedBy: 99,
	})
	require.NoError(t, err)
	require.NoError(t, store.MarkRunning(ctx, stuck.ID, time.Now()))

	pending, err := coord.Submit(ctx, SubmitRequest{
		Type: OpGrant, UserIDs: []int64{2}, TenantIDs: []int64{10}, InitiatedBy: 99,
	})
	require.NoError(t, err)

	count, err := coord.FailOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := coord.GetStatus(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)

	untouched, err := coord.GetStatus(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInitiated, untouched.Status)
}

func TestExecuteUpdateRolesTouchesEveryPair(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	mutator := &fakeMutator{}
	coord := newTestCoordinator(store, mutator)

	op, err := coord.Submit(ctx, SubmitRequest{
		Type: OpUpdateRoles, UserIDs: []int64{1, 2, 3}, TenantIDs: []int64{10},
		Params: Params{RoleIDs: []int64{5, 6}}, InitiatedBy: 99,
	})
	require.NoError(t, err)

	result, err := coord.Execute(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Len(t, mutator.callsFor("update_roles"), 3)
}
