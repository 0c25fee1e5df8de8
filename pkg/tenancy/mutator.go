package tenancy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openfortress/gatehouse/pkg/audit"
	"github.com/openfortress/gatehouse/pkg/observability"
	"github.com/openfortress/gatehouse/pkg/roles"
)

// RoleDirectory is the slice of the role registry the mutator needs to
// validate grants.
type RoleDirectory interface {
	Get(ctx context.Context, roleID int64) (*roles.RoleTemplate, error)
}

// SessionInvalidator flips a pair's live sessions to INVALID after a
// mutation narrows access.
type SessionInvalidator interface {
	InvalidatePair(ctx context.Context, userID, orgID int64) error
}

// ConditionValidator checks an override's conditions blob at write time
// so malformed conditions never reach the resolver.
type ConditionValidator func(conditions []byte) error

// Mutator is the only sanctioned write path for authorization state.
// Every operation takes the per-pair lock, runs one transaction, emits an
// audit event, and invalidates sessions when access narrows.
type Mutator struct {
	store    Store
	roles    RoleDirectory
	locks    *PairLock
	audit    audit.Logger
	sessions SessionInvalidator
	validate ConditionValidator
	retry    *RetryPolicy
	logger   *observability.Logger
	now      func() time.Time
}

// NewMutator creates the tenancy mutator. sessions may be nil when no
// session manager is wired (tests, offline tooling).
func NewMutator(store Store, roleDir RoleDirectory, auditLog audit.Logger, sessions SessionInvalidator, logger *observability.Logger) *Mutator {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &Mutator{
		store:    store,
		roles:    roleDir,
		locks:    NewPairLock(),
		audit:    auditLog,
		sessions: sessions,
		retry:    NewRetryPolicy(DefaultRetryConfig()),
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the mutator's clock. Tests use this for
// deterministic expiry handling.
func (m *Mutator) WithClock(now func() time.Time) *Mutator {
	m.now = now
	return m
}

// WithRetryPolicy overrides the retry policy for idempotent mutations.
func (m *Mutator) WithRetryPolicy(policy *RetryPolicy) *Mutator {
	m.retry = policy
	return m
}

// WithConditionValidator wires write-time validation for override
// condition blobs.
func (m *Mutator) WithConditionValidator(v ConditionValidator) *Mutator {
	m.validate = v
	return m
}

// GrantAccessRequest describes an access grant.
type GrantAccessRequest struct {
	UserID    int64
	OrgID     int64
	RoleIDs   []int64
	IsPrimary bool
	ExpiresAt *time.Time
	GrantedBy *int64
}

// GrantAccess maps a user into an organization with an initial role set.
// Idempotent: granting over a live mapping merges the roles in.
func (m *Mutator) GrantAccess(ctx context.Context, req GrantAccessRequest) (*UserTenantMapping, error) {
	m.locks.Lock(req.UserID, req.OrgID)
	defer m.locks.Unlock(req.UserID, req.OrgID)

	user, err := m.store.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, fmt.Errorf("user %d: %w", req.UserID, ErrUserInactive)
	}

	org, err := m.store.GetOrganization(ctx, req.OrgID)
	if err != nil {
		return nil, err
	}
	if !org.IsActive {
		return nil, fmt.Errorf("organization %d: %w", req.OrgID, ErrOrgInactive)
	}

	existing, err := m.store.GetMapping(ctx, req.UserID, req.OrgID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hadLiveMapping := existing != nil && existing.Live(m.now())
	if !hadLiveMapping && org.MaxUsers > 0 {
		count, err := m.store.CountLiveMappings(ctx, req.OrgID)
		if err != nil {
			return nil, err
		}
		if count >= org.MaxUsers {
			return nil, fmt.Errorf("organization %d at %d users: %w", req.OrgID, count, ErrOrgUserLimit)
		}
	}

	for _, roleID := range req.RoleIDs {
		role, err := m.roles.Get(ctx, roleID)
		if err != nil {
			return nil, fmt.Errorf("role %d: %w", roleID, err)
		}
		if !role.IsActive || !role.IsAssignable {
			return nil, fmt.Errorf("role %s: %w", role.Name, ErrRoleNotAssignable)
		}
	}

	mapping := &UserTenantMapping{
		UserID:    req.UserID,
		OrgID:     req.OrgID,
		IsPrimary: req.IsPrimary,
		ExpiresAt: req.ExpiresAt,
		GrantedBy: req.GrantedBy,
	}

	// Upsert semantics make the grant idempotent, so retries are safe.
	if err := m.retry.Do(ctx, func() error {
		return m.store.GrantAccessTx(ctx, mapping, req.RoleIDs)
	}); err != nil {
		return nil, err
	}

	m.emit(ctx, audit.EventTypeAccessGranted, req.GrantedBy, req.OrgID, "user_tenant_mapping",
		fmt.Sprintf("%d", req.UserID), map[string]interface{}{"role_ids": req.RoleIDs})

	return mapping, nil
}

// RevokeAccess soft-deletes the pair's mapping and invalidates its
// sessions. Revoking an absent mapping is a no-op.
func (m *Mutator) RevokeAccess(ctx context.Context, userID, orgID int64, actorID *int64) error {
	m.locks.Lock(userID, orgID)
	defer m.locks.Unlock(userID, orgID)

	err := m.retry.Do(ctx, func() error {
		err := m.store.RevokeAccessTx(ctx, userID, orgID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}

	m.invalidateSessions(ctx, userID, orgID)
	m.emit(ctx, audit.EventTypeAccessRevoked, actorID, orgID, "user_tenant_mapping",
		fmt.Sprintf("%d", userID), nil)
	return nil
}

// UpdateRoles replaces the pair's role assignment set. Sessions snapshot
// roles at creation, so live sessions for the pair are invalidated.
func (m *Mutator) UpdateRoles(ctx context.Context, userID, orgID int64, roleIDs []int64, actorID *int64) error {
	m.locks.Lock(userID, orgID)
	defer m.locks.Unlock(userID, orgID)

	mapping, err := m.store.GetMapping(ctx, userID, orgID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNoMapping
		}
		return err
	}
	if !mapping.Live(m.now()) {
		return ErrNoMapping
	}

	for _, roleID := range roleIDs {
		role, err := m.roles.Get(ctx, roleID)
		if err != nil {
			return fmt.Errorf("role %d: %w", roleID, err)
		}
		if !role.IsActive || !role.IsAssignable {
			return fmt.Errorf("role %s: %w", role.Name, ErrRoleNotAssignable)
		}
	}

	// Replacing the full set is idempotent; safe to retry.
	if err := m.retry.Do(ctx, func() error {
		return m.store.UpdateRolesTx(ctx, userID, orgID, roleIDs, actorID)
	}); err != nil {
		return err
	}

	m.invalidateSessions(ctx, userID, orgID)
	m.emit(ctx, audit.EventTypeRolesUpdated, actorID, orgID, "user_tenant_role",
		fmt.Sprintf("%d", userID), map[string]interface{}{"role_ids": roleIDs})
	return nil
}

// GrantOverride records an explicit permission override for the pair.
func (m *Mutator) GrantOverride(ctx context.Context, override *UserPermission) error {
	m.locks.Lock(override.UserID, override.OrgID)
	defer m.locks.Unlock(override.UserID, override.OrgID)

	mapping, err := m.store.GetMapping(ctx, override.UserID, override.OrgID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNoMapping
		}
		return err
	}
	if !mapping.Live(m.now()) {
		return ErrNoMapping
	}

	if m.validate != nil && len(override.Conditions) > 0 {
		if err := m.validate(override.Conditions); err != nil {
			return fmt.Errorf("invalid override conditions: %w", err)
		}
	}

	// Insert is not idempotent; it runs exactly once.
	if err := m.store.GrantOverrideTx(ctx, override); err != nil {
		return err
	}

	m.invalidateSessions(ctx, override.UserID, override.OrgID)
	m.emit(ctx, audit.EventTypeOverrideGranted, override.GrantedBy, override.OrgID, "user_permission",
		fmt.Sprintf("%d", override.ID), map[string]interface{}{
			"user_id":         override.UserID,
			"resource_type":   override.ResourceType,
			"permission_type": override.PermissionType,
			"granted":         override.Granted,
		})
	return nil
}

// RevokeOverride deletes an override row. Revoking an absent override is
// a no-op.
func (m *Mutator) RevokeOverride(ctx context.Context, overrideID, userID, orgID int64, actorID *int64) error {
	m.locks.Lock(userID, orgID)
	defer m.locks.Unlock(userID, orgID)

	err := m.retry.Do(ctx, func() error {
		err := m.store.RevokeOverrideTx(ctx, overrideID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}

	m.invalidateSessions(ctx, userID, orgID)
	m.emit(ctx, audit.EventTypeOverrideRevoked, actorID, orgID, "user_permission",
		fmt.Sprintf("%d", overrideID), nil)
	return nil
}

func (m *Mutator) invalidateSessions(ctx context.Context, userID, orgID int64) {
	if m.sessions == nil {
		return
	}
	if err := m.sessions.InvalidatePair(ctx, userID, orgID); err != nil && m.logger != nil {
		m.logger.WithError(err).WithFields(map[string]interface{}{
			"user_id": userID,
			"org_id":  orgID,
		}).Error("failed to invalidate sessions")
	}
}

func (m *Mutator) emit(ctx context.Context, eventType audit.EventType, actorID *int64, orgID int64, resourceType, resourceID string, metadata map[string]interface{}) {
	event := audit.NewEvent(eventType, audit.EventStatusSuccess)
	event.ActorID = actorID
	event.OrganizationID = &orgID
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	if metadata != nil {
		event.Metadata = metadata
	}

	if err := m.audit.Log(ctx, event); err != nil && m.logger != nil {
		m.logger.WithError(err).Warn("failed to emit audit event")
	}
}
