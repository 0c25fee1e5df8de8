package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openfortress/gatehouse/pkg/audit"
	"github.com/openfortress/gatehouse/pkg/observability"
	"github.com/openfortress/gatehouse/pkg/roles"
	"github.com/openfortress/gatehouse/pkg/tenancy"
)

// TenantReader is the slice of the tenancy store the resolver reads.
// Resolution never writes and never takes the pair lock.
type TenantReader interface {
	GetUser(ctx context.Context, userID int64) (*tenancy.User, error)
	GetMapping(ctx context.Context, userID, orgID int64) (*tenancy.UserTenantMapping, error)
	ListUserRoles(ctx context.Context, userID, orgID int64) ([]*tenancy.UserTenantRole, error)
	ListUserPermissions(ctx context.Context, userID, orgID int64) ([]*tenancy.UserPermission, error)
}

// PermissionSource resolves a role to its inheritance-flattened
// permission set.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, roleID int64) (roles.PermissionSet, error)
}

// Resolver is the permission resolution engine.
type Resolver struct {
	tenants  TenantReader
	roles    PermissionSource
	taxonomy *Taxonomy
	audit    audit.Logger
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewResolver creates the engine. taxonomy may be nil for the default
// bucket mapping; auditLog may be nil to drop events.
func NewResolver(tenants TenantReader, permissions PermissionSource, taxonomy *Taxonomy, auditLog audit.Logger, logger *observability.Logger) *Resolver {
	if taxonomy == nil {
		taxonomy = DefaultTaxonomy()
	}
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &Resolver{
		tenants:  tenants,
		roles:    permissions,
		taxonomy: taxonomy,
		audit:    auditLog,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the resolver's clock for deterministic tests.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// WithMetrics wires decision observation.
func (r *Resolver) WithMetrics(m *observability.Metrics) *Resolver {
	r.metrics = m
	return r
}

// Resolve decides whether the user may perform the action in the org.
// DENY is a normal Decision; the error return is reserved for storage
// unavailability.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (Decision, error) {
	started := time.Now()
	decision, err := r.resolve(ctx, req)
	if err != nil {
		return Decision{}, err
	}

	if r.metrics != nil {
		r.metrics.ObserveDecision(string(decision.Effect), string(decision.Reason), time.Since(started))
	}
	return decision, nil
}

func (r *Resolver) resolve(ctx context.Context, req ResolveRequest) (Decision, error) {
	now := r.now()

	user, err := r.tenants.GetUser(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, tenancy.ErrNotFound) {
			return r.deny(ctx, req, ReasonNoTenantAccess), nil
		}
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !user.IsActive {
		return r.deny(ctx, req, ReasonNoTenantAccess), nil
	}

	if user.IsGlobalAdmin {
		if roles.AdministrativePermissions[req.Action] {
			r.emitAdminAllow(ctx, req)
		}
		return Decision{Effect: EffectAllow, Reason: ReasonGlobalAdmin}, nil
	}

	mapping, err := r.tenants.GetMapping(ctx, req.UserID, req.OrgID)
	if err != nil {
		if errors.Is(err, tenancy.ErrNotFound) {
			return r.deny(ctx, req, ReasonNoTenantAccess), nil
		}
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !mapping.Live(now) {
		return r.deny(ctx, req, ReasonNoTenantAccess), nil
	}

	decision, settled, err := r.resolveOverrides(ctx, req, now)
	if err != nil {
		return Decision{}, err
	}
	if settled {
		return decision, nil
	}

	return r.resolveRoles(ctx, req, now)
}

// resolveOverrides evaluates explicit per-user overrides in specificity
// order. A name-scoped match outranks a type-scoped one; within a tier
// DENY outranks ALLOW. An unsatisfied condition demotes the override to
// unmatched.
func (r *Resolver) resolveOverrides(ctx context.Context, req ResolveRequest, now time.Time) (Decision, bool, error) {
	overrides, err := r.tenants.ListUserPermissions(ctx, req.UserID, req.OrgID)
	if err != nil {
		return Decision{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var named, typed []*tenancy.UserPermission
	for _, override := range overrides {
		if !override.Live(now) {
			continue
		}
		if override.ResourceType != req.ResourceType || override.PermissionType != req.Action {
			continue
		}

		matched, err := r.conditionsHold(override, req, now)
		if err != nil {
			r.logFault(req, err)
			return Decision{Effect: EffectDeny, Reason: ReasonResolutionFault}, true, nil
		}
		if !matched {
			continue
		}

		if override.ResourceName != nil {
			if *override.ResourceName == req.ResourceName {
				named = append(named, override)
			}
			continue
		}
		typed = append(typed, override)
	}

	for _, tier := range [][]*tenancy.UserPermission{named, typed} {
		allow := false
		for _, override := range tier {
			if !override.Granted {
				r.observeOverride(EffectDeny)
				return r.deny(ctx, req, ReasonExplicitDeny), true, nil
			}
			allow = true
		}
		if allow {
			r.observeOverride(EffectAllow)
			if roles.AdministrativePermissions[req.Action] {
				r.emitAdminAllow(ctx, req)
			}
			return Decision{Effect: EffectAllow, Reason: ReasonExplicitAllow}, true, nil
		}
	}
	return Decision{}, false, nil
}

func (r *Resolver) conditionsHold(override *tenancy.UserPermission, req ResolveRequest, now time.Time) (bool, error) {
	if len(override.Conditions) == 0 {
		return true, nil
	}

	conditions, err := DecodeConditions(override.Conditions)
	if err != nil {
		return false, fmt.Errorf("override %d: %w", override.ID, err)
	}
	for _, condition := range conditions {
		if !condition.Satisfied(req, now) {
			return false, nil
		}
	}
	return true, nil
}

// resolveRoles unions the effective permissions of every live role the
// user holds in the org. The requested type matches either directly or
// through its taxonomy bucket.
func (r *Resolver) resolveRoles(ctx context.Context, req ResolveRequest, now time.Time) (Decision, error) {
	assignments, err := r.tenants.ListUserRoles(ctx, req.UserID, req.OrgID)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	union := make(roles.PermissionSet)
	for _, assignment := range assignments {
		if !assignment.Live(now) {
			continue
		}

		perms, err := r.roles.EffectivePermissions(ctx, assignment.RoleID)
		if err != nil {
			if isRoleDataFault(err) {
				r.logFault(req, err)
				return Decision{Effect: EffectDeny, Reason: ReasonResolutionFault}, nil
			}
			return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		union.Union(perms)
	}

	if union.Has(req.ResourceType, req.Action) || union.Has(r.taxonomy.Bucket(req.ResourceType), req.Action) {
		if roles.AdministrativePermissions[req.Action] {
			r.emitAdminAllow(ctx, req)
		}
		return Decision{Effect: EffectAllow, Reason: ReasonRoleGranted}, nil
	}
	return Decision{Effect: EffectDeny, Reason: ReasonNotPermitted}, nil
}

func isRoleDataFault(err error) bool {
	return errors.Is(err, roles.ErrCycleDetected) ||
		errors.Is(err, roles.ErrHierarchyTooDeep) ||
		errors.Is(err, roles.ErrRoleNotFound)
}

// deny builds a DENY decision and emits the audit event. Only denials
// from an explicit override or the mapping check are audited here;
// NotPermitted denials are a caller concern.
func (r *Resolver) deny(ctx context.Context, req ResolveRequest, reason Reason) Decision {
	event := audit.NewEvent(audit.EventTypeDecisionDenied, audit.EventStatusDenied)
	event.ActorID = &req.UserID
	event.OrganizationID = &req.OrgID
	event.ResourceType = string(req.ResourceType)
	event.ResourceID = req.ResourceName
	event.Metadata["action"] = string(req.Action)
	event.Metadata["reason"] = string(reason)
	r.emit(ctx, event)

	return Decision{Effect: EffectDeny, Reason: reason}
}

func (r *Resolver) emitAdminAllow(ctx context.Context, req ResolveRequest) {
	event := audit.NewEvent(audit.EventTypeAdminAllowed, audit.EventStatusSuccess)
	event.ActorID = &req.UserID
	event.OrganizationID = &req.OrgID
	event.ResourceType = string(req.ResourceType)
	event.ResourceID = req.ResourceName
	event.Metadata["action"] = string(req.Action)
	r.emit(ctx, event)
}

func (r *Resolver) emit(ctx context.Context, event *audit.Event) {
	if err := r.audit.Log(ctx, event); err != nil && r.logger != nil {
		r.logger.WithError(err).Warn("failed to emit audit event")
	}
}

func (r *Resolver) observeOverride(effect Effect) {
	if r.metrics != nil {
		r.metrics.OverrideHitsTotal.WithLabelValues(string(effect)).Inc()
	}
}

func (r *Resolver) logFault(req ResolveRequest, err error) {
	if r.logger == nil {
		return
	}
	r.logger.WithError(err).WithFields(map[string]interface{}{
		"user_id": req.UserID,
		"org_id":  req.OrgID,
	}).Error("resolution fault, failing closed")
}
