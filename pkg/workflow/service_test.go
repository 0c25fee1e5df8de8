package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfortress/gatehouse/pkg/authz"
	"github.com/openfortress/gatehouse/pkg/tenancy"
)

type fakeStore struct {
	requests map[string]*AccessRequest
}

func newFakeStore() *fakeStore {
	return &fakeStore{requests: make(map[string]*AccessRequest)}
}

func (f *fakeStore) CreateRequest(ctx context.Context, request *AccessRequest) error {
	for _, r := range f.requests {
		if r.UserID == request.UserID && r.OrgID == request.OrgID && r.Status == StatusPending {
			return ErrDuplicatePendingRequest
		}
	}
	cp := *request
	f.requests[request.ID] = &cp
	return nil
}

func (f *fakeStore) GetRequest(ctx context.Context, id string) (*AccessRequest, error) {
	request, ok := f.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *request
	return &cp, nil
}

func (f *fakeStore) GetPendingForPair(ctx context.Context, userID, orgID int64) (*AccessRequest, error) {
	for _, r := range f.requests {
		if r.UserID == userID && r.OrgID == orgID && r.Status == StatusPending {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrRequestNotFound
}

func (f *fakeStore) ListPendingForOrg(ctx context.Context, orgID int64) ([]*AccessRequest, error) {
	var out []*AccessRequest
	for _, r := range f.requests {
		if r.OrgID == orgID && r.Status == StatusPending {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkReviewed(ctx context.Context, id string, status Status, reviewerID int64, reason string, at time.Time) error {
	request, ok := f.requests[id]
	if !ok || request.Status != StatusPending {
		return ErrInvalidTransition
	}
	request.Status = status
	request.ReviewerID = &reviewerID
	request.ReviewReason = reason
	request.ReviewedAt = &at
	return nil
}

func (f *fakeStore) MarkExpired(ctx context.Context, id string, at time.Time) error {
	request, ok := f.requests[id]
	if !ok || request.Status != StatusPending {
		return nil
	}
	request.Status = StatusExpired
	request.ReviewedAt = &at
	return nil
}

func (f *fakeStore) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	count := 0
	for _, r := range f.requests {
		if r.Status == StatusPending && !now.Before(r.ExpiresAt) {
			r.Status = StatusExpired
			count++
		}
	}
	return count, nil
}

type fakeResolver struct {
	decision authz.Decision
	err      error
}

func (f *fakeResolver) Resolve(ctx context.Context, req authz.ResolveRequest) (authz.Decision, error) {
	return f.decision, f.err
}

type fakeGranter struct {
	grants []tenancy.GrantAccessRequest
	err    error
}

func (f *fakeGranter) GrantAccess(ctx context.Context, req tenancy.GrantAccessRequest) (*tenancy.UserTenantMapping, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.grants = append(f.grants, req)
	return &tenancy.UserTenantMapping{UserID: req.UserID, OrgID: req.OrgID, IsActive: true}, nil
}

func allowAll() *fakeResolver {
	return &fakeResolver{decision: authz.Decision{Effect: authz.EffectAllow, Reason: authz.ReasonRoleGranted}}
}

func denyAll() *fakeResolver {
	return &fakeResolver{decision: authz.Decision{Effect: authz.EffectDeny, Reason: authz.ReasonNotPermitted}}
}

func TestSubmitCreatesPendingRequest(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	svc := NewService(store, allowAll(), &fakeGranter{}, nil, nil, time.Hour)

	request, err := svc.Submit(ctx, SubmitRequest{UserID: 1, OrgID: 2, RoleIDs: []int64{3}, Justification: "need access"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, request.Status)
	assert.NotEmpty(t, request.ID)
}

func TestSubmitRejectsDuplicatePending(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	svc := NewService(store, allowAll(), &fakeGranter{}, nil, nil, time.Hour)

	_, err := svc.Submit(ctx, SubmitRequest{UserID: 1, OrgID: 2})
	require.NoError(t, err)

	_, err = svc.Submit(ctx, SubmitRequest{UserID: 1, OrgID: 2})
	assert.ErrorIs(t, err, ErrDuplicatePendingRequest)

	// A different pair is unaffected.
	_, err = svc.Submit(ctx, SubmitRequest{UserID: 1, OrgID: 3})
	assert.NoError(t, err)
}

func TestSubmitAllowedAfterRejection(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	granter := &fakeGranter{}
	svc := NewService(store, allowAll(), granter, nil, nil, time.Hour)

	first, err := svc.Submit(ctx, SubmitRequest{UserID: 1, OrgID: 2})
	require.NoError(t, err)

	_, err = svc.Review(ctx, first.ID, 9, false, "not needed")
	require.NoError(t, err)

	_, err = svc.Submit(ctx, SubmitRequest{UserID: 1, OrgID: 2})
	assert.NoError(t, err)
}

func TestSubmitReplacesStalePending(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	svc := NewService(store, allowAll(), &fakeGranter{}, nil, nil, time.Hour)

	base := time.Now()
	clock := base
	svc.WithClock(func() time.Time { return clock })

	first, err := svc.Submit(ctx, SubmitRequest{UserID: 1, OrgID: 2})
	require.NoError(t, err)

	clock = base.Add(2 * time.Hour)
	_, err = svc.Submit(ctx, SubmitRequest{UserID: 1, OrgID: 2})
	require.NoError(t, err)

	stale, err := store.GetRequest(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, stale.Status)
}

func TestReviewApprovalAppliesGrant(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	granter := &fakeGranter{}
	svc := NewService(store, allowAll(), granter, nil, nil, time.Hour)

	request, err := svc.Submit(ctx, SubmitRequest{UserID: 1, OrgID: 2, RoleIDs: []int64{3, 4}})
	require.NoError(t, err)

	reviewed, err := svc.Review(ctx, request.ID, 9, true, "approved")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, reviewed.Status)
	require.NotNil(t, reviewed.ReviewerID)
	assert.Equal(t, int64(9), *reviewed.ReviewerID)

	require.Len(t, granter.grants, 1)
	assert.Equal(t, int64(1), granter.grants[0].UserID)
	assert.Equal(t, []int64{3, 4}, granter.grants[0].RoleIDs)
}

func TestReviewRejectionDoesNotGrant(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	granter := &fakeGranter{}
	svc := NewService(store, allowAll(), granter, nil, nil, time.Hour)

	request, err := svc.Submit(ctx, SubmitRequest{UserID: 1, OrgID: 2})
	require.NoError(t, err)

	reviewed, err := svc.Review(ctx, request.ID, 9, false, "no")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, reviewed.Status)
	assert.Empty(t, granter.grants)
}

func TestReviewUnauthorizedReviewer(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	svc := NewService(store, denyAll(), &fakeGranter{}, nil, nil, time.Hour)

	request, err := svc.Submit(ctx, SubmitRequest{UserID: 1, OrgID: 2})
	require.NoError(t, err)

	_, err = svc.Review(ctx, request.ID, 9, true, "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	stored, err := store.GetRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestReviewNonPendingIsInvalidTransition(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	svc := NewService(store, allowAll(), &fakeGranter{}, nil, nil, time.Hour)

	request, err := svc.Submit(ctx, SubmitRequest{UserID: 1, OrgID: 2})
	require.NoError(t, err)

	_, err = svc.Review(ctx, request.ID, 9, false, "no")
	require.NoError(t, err)

	_, err = svc.Review(ctx, request.ID, 9, true, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestReviewExpiredRequestPersistsExpiry(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	svc := NewService(store, allowAll(), &fakeGranter{}, nil, nil, time.Hour)

	base := time.Now()
	clock := base
	svc.WithClock(func() time.Time { return clock })

	request, err := svc.Submit(ctx, SubmitRequest{UserID: 1, OrgID: 2})
	require.NoError(t, err)

	clock = base.Add(2 * time.Hour)
	_, err = svc.Review(ctx, request.ID, 9, true, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := store.GetRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, stored.Status)
}

func TestReviewGrantFailureLeavesRequestPending(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	granter := &fakeGranter{err: assert.AnError}
	svc := NewService(store, allowAll(), granter, nil, nil, time.Hour)

	request, err := svc.Submit(ctx, SubmitRequest{UserID: 1, OrgID: 2})
	require.NoError(t, err)

	_, err = svc.Review(ctx, request.ID, 9, true, "")
	assert.Error(t, err)

	stored, err := store.GetRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestSweepExpiredRequests(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	svc := NewService(store, allowAll(), &fakeGranter{}, nil, nil, time.Hour)

	base := time.Now()
	clock := base
	svc.WithClock(func() time.Time { return clock })

	_, err := svc.Submit(ctx, SubmitRequest{UserID: 1, OrgID: 2})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, SubmitRequest{UserID: 2, OrgID: 2})
	require.NoError(t, err)

	clock = base.Add(2 * time.Hour)
	count, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
