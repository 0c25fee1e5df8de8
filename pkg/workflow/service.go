package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openfortress/gatehouse/pkg/audit"
	"github.com/openfortress/gatehouse/pkg/authz"
	"github.com/openfortress/gatehouse/pkg/observability"
	"github.com/openfortress/gatehouse/pkg/roles"
	"github.com/openfortress/gatehouse/pkg/tenancy"
)

// DecisionMaker answers whether a reviewer may manage users in an org.
type DecisionMaker interface {
	Resolve(ctx context.Context, req authz.ResolveRequest) (authz.Decision, error)
}

// Granter applies an approved request's mapping and role writes. The
// tenancy mutator satisfies it.
type Granter interface {
	GrantAccess(ctx context.Context, req tenancy.GrantAccessRequest) (*tenancy.UserTenantMapping, error)
}

// Service owns the access request lifecycle.
type Service struct {
	store    Store
	resolver DecisionMaker
	granter  Granter
	audit    audit.Logger
	logger   *observability.Logger
	ttl      time.Duration
	now      func() time.Time
}

// NewService creates the workflow service. ttl bounds how long a
// request stays reviewable.
func NewService(store Store, resolver DecisionMaker, granter Granter, auditLog audit.Logger, logger *observability.Logger, ttl time.Duration) *Service {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &Service{
		store:    store,
		resolver: resolver,
		granter:  granter,
		audit:    auditLog,
		logger:   logger,
		ttl:      ttl,
		now:      time.Now,
	}
}

// WithClock overrides the service's clock for deterministic tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// SubmitRequest describes a new access request.
type SubmitRequest struct {
	UserID        int64
	OrgID         int64
	RoleIDs       []int64
	Justification string
}

// Submit opens a PENDING request for the pair. One PENDING request per
// pair; a second submission fails until the first leaves PENDING.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*AccessRequest, error) {
	if req.UserID == 0 || req.OrgID == 0 {
		return nil, fmt.Errorf("user and organization are required")
	}

	now := s.now()
	existing, err := s.store.GetPendingForPair(ctx, req.UserID, req.OrgID)
	if err != nil && !errors.Is(err, ErrRequestNotFound) {
		return nil, err
	}
	if existing != nil && existing.EffectiveStatus(now) == StatusPending {
		return nil, fmt.Errorf("request %s: %w", existing.ID, ErrDuplicatePendingRequest)
	}
	if existing != nil && existing.Status == StatusPending {
		// Past expiry but not yet swept; persist before replacing.
		if err := s.store.MarkExpired(ctx, existing.ID, now); err != nil {
			return nil, err
		}
	}

	request := &AccessRequest{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		OrgID:         req.OrgID,
		RoleIDs:       req.RoleIDs,
		Justification: req.Justification,
		Status:        StatusPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.ttl),
	}
	if err := s.store.CreateRequest(ctx, request); err != nil {
		return nil, err
	}

	s.emit(ctx, audit.EventTypeRequestSubmitted, request, nil)
	return request, nil
}

// Get retrieves a request, deriving elapsed expiry without a write.
func (s *Service) Get(ctx context.Context, id string) (*AccessRequest, error) {
	request, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	request.Status = request.EffectiveStatus(s.now())
	return request, nil
}

// Review approves or rejects a PENDING request. The reviewer must hold
// users:manage in the target org. Approval writes the mapping and roles
// through the tenancy mutator before the request flips to APPROVED; if
// the grant fails the request stays PENDING.
func (s *Service) Review(ctx context.Context, requestID string, reviewerID int64, approve bool, reason string) (*AccessRequest, error) {
	request, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	switch request.EffectiveStatus(now) {
	case StatusPending:
	case StatusExpired:
		if request.Status == StatusPending {
			if err := s.store.MarkExpired(ctx, requestID, now); err != nil {
				return nil, err
			}
			s.emit(ctx, audit.EventTypeRequestExpired, request, nil)
		}
		return nil, fmt.Errorf("request %s expired: %w", requestID, ErrInvalidTransition)
	default:
		return nil, fmt.Errorf("request %s is %s: %w", requestID, request.Status, ErrInvalidTransition)
	}

	decision, err := s.resolver.Resolve(ctx, authz.ResolveRequest{
		UserID:       reviewerID,
		OrgID:        request.OrgID,
		ResourceType: roles.ResourceUsers,
		Action:       roles.PermissionManage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to authorize reviewer: %w", err)
	}
	if !decision.Allowed() {
		return nil, fmt.Errorf("reviewer %d in org %d (%s): %w",
			reviewerID, request.OrgID, decision.Reason, ErrUnauthorized)
	}

	if approve {
		if _, err := s.granter.GrantAccess(ctx, tenancy.GrantAccessRequest{
			UserID:    request.UserID,
			OrgID:     request.OrgID,
			RoleIDs:   request.RoleIDs,
			GrantedBy: &reviewerID,
		}); err != nil {
			return nil, fmt.Errorf("failed to apply approval: %w", err)
		}
	}

	status := StatusRejected
	eventType := audit.EventTypeRequestRejected
	if approve {
		status = StatusApproved
		eventType = audit.EventTypeRequestApproved
	}
	if err := s.store.MarkReviewed(ctx, requestID, status, reviewerID, reason, now); err != nil {
		return nil, err
	}

	request.Status = status
	request.ReviewerID = &reviewerID
	request.ReviewReason = reason
	request.ReviewedAt = &now

	s.emit(ctx, eventType, request, &reviewerID)
	return request, nil
}

// SweepExpired persists EXPIRED for every stale PENDING request. Wired
// to the cron scheduler in the binary.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	count, err := s.store.SweepExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if count > 0 && s.logger != nil {
		s.logger.WithField("count", count).Info("swept expired access requests")
	}
	return count, nil
}

func (s *Service) emit(ctx context.Context, eventType audit.EventType, request *AccessRequest, actorID *int64) {
	event := audit.NewEvent(eventType, audit.EventStatusSuccess)
	event.ActorID = actorID
	event.OrganizationID = &request.OrgID
	event.ResourceType = "access_request"
	event.ResourceID = request.ID
	event.Metadata["user_id"] = request.UserID
	event.Metadata["role_ids"] = request.RoleIDs
	if err := s.audit.Log(ctx, event); err != nil && s.logger != nil {
		s.logger.WithError(err).Warn("failed to emit audit event")
	}
}
