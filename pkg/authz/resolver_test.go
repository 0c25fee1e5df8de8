package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfortress/gatehouse/pkg/roles"
	"github.com/openfortress/gatehouse/pkg/tenancy"
)

type fakeTenants struct {
	users     map[int64]*tenancy.User
	mappings  map[[2]int64]*tenancy.UserTenantMapping
	roleRows  map[[2]int64][]*tenancy.UserTenantRole
	overrides map[[2]int64][]*tenancy.UserPermission
	err       error
}

func newFakeTenants() *fakeTenants {
	return &fakeTenants{
		users:     make(map[int64]*tenancy.User),
		mappings:  make(map[[2]int64]*tenancy.UserTenantMapping),
		roleRows:  make(map[[2]int64][]*tenancy.UserTenantRole),
		overrides: make(map[[2]int64][]*tenancy.UserPermission),
	}
}

func (f *fakeTenants) GetUser(ctx context.Context, userID int64) (*tenancy.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	user, ok := f.users[userID]
	if !ok {
		return nil, tenancy.ErrNotFound
	}
	return user, nil
}

func (f *fakeTenants) GetMapping(ctx context.Context, userID, orgID int64) (*tenancy.UserTenantMapping, error) {
	if f.err != nil {
		return nil, f.err
	}
	mapping, ok := f.mappings[[2]int64{userID, orgID}]
	if !ok {
		return nil, tenancy.ErrNotFound
	}
	return mapping, nil
}

func (f *fakeTenants) ListUserRoles(ctx context.Context, userID, orgID int64) ([]*tenancy.UserTenantRole, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.roleRows[[2]int64{userID, orgID}], nil
}

func (f *fakeTenants) ListUserPermissions(ctx context.Context, userID, orgID int64) ([]*tenancy.UserPermission, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.overrides[[2]int64{userID, orgID}], nil
}

type fakePermissions struct {
	sets map[int64]roles.PermissionSet
	errs map[int64]error
}

func (f *fakePermissions) EffectivePermissions(ctx context.Context, roleID int64) (roles.PermissionSet, error) {
	if err, ok := f.errs[roleID]; ok {
		return nil, err
	}
	return f.sets[roleID].Clone(), nil
}

type resolverFixture struct {
	tenants *fakeTenants
	perms   *fakePermissions
}

// viewerFixture wires user 1 into org 1 with a viewer role granting
// database:read and query:execute.
func viewerFixture() *resolverFixture {
	tenants := newFakeTenants()
	tenants.users[1] = &tenancy.User{ID: 1, Username: "alice", IsActive: true}
	tenants.mappings[[2]int64{1, 1}] = &tenancy.UserTenantMapping{UserID: 1, OrgID: 1, IsActive: true}
	tenants.roleRows[[2]int64{1, 1}] = []*tenancy.UserTenantRole{{UserID: 1, OrgID: 1, RoleID: 10}}

	perms := &fakePermissions{
		sets: map[int64]roles.PermissionSet{
			10: {
				roles.ResourceDatabase: {roles.PermissionRead},
				roles.ResourceQuery:    {roles.PermissionExecute},
			},
		},
		errs: make(map[int64]error),
	}
	return &resolverFixture{tenants: tenants, perms: perms}
}

func (fx *resolverFixture) resolver() *Resolver {
	return NewResolver(fx.tenants, fx.perms, nil, nil, nil)
}

func readRequest(name string) ResolveRequest {
	return ResolveRequest{
		UserID:       1,
		OrgID:        1,
		ResourceType: roles.ResourceTable,
		ResourceName: name,
		Action:       roles.PermissionRead,
	}
}

func TestResolveNoMappingDeniesRegardlessOfRoles(t *testing.T) {
	fx := viewerFixture()
	delete(fx.tenants.mappings, [2]int64{1, 1})

	decision, err := fx.resolver().Resolve(context.Background(), readRequest("orders"))
	require.NoError(t, err)
	assert.Equal(t, EffectDeny, decision.Effect)
	assert.Equal(t, ReasonNoTenantAccess, decision.Reason)
}

func TestResolveExpiredMappingDenies(t *testing.T) {
	fx := viewerFixture()
	past := time.Now().Add(-time.Hour)
	fx.tenants.mappings[[2]int64{1, 1}].ExpiresAt = &past

	decision, err := fx.resolver().Resolve(context.Background(), readRequest("orders"))
	require.NoError(t, err)
	assert.Equal(t, ReasonNoTenantAccess, decision.Reason)
}

func TestResolveGlobalAdminBypassesTenantScoping(t *testing.T) {
	fx := viewerFixture()
	fx.tenants.users[1].IsGlobalAdmin = true
	delete(fx.tenants.mappings, [2]int64{1, 1})

	decision, err := fx.resolver().Resolve(context.Background(), readRequest("orders"))
	require.NoError(t, err)
	assert.Equal(t, EffectAllow, decision.Effect)
	assert.Equal(t, ReasonGlobalAdmin, decision.Reason)
}

func TestResolveInactiveUserDenies(t *testing.T) {
	fx := viewerFixture()
	fx.tenants.users[1].IsActive = false
	fx.tenants.users[1].IsGlobalAdmin = true

	decision, err := fx.resolver().Resolve(context.Background(), readRequest("orders"))
	require.NoError(t, err)
	assert.Equal(t, EffectDeny, decision.Effect)
}

func TestResolveRoleGrantThroughTaxonomy(t *testing.T) {
	fx := viewerFixture()

	decision, err := fx.resolver().Resolve(context.Background(), readRequest("orders"))
	require.NoError(t, err)
	assert.Equal(t, EffectAllow, decision.Effect)
	assert.Equal(t, ReasonRoleGranted, decision.Reason)
}

func TestResolveNotPermittedWhenNoRoleGrants(t *testing.T) {
	fx := viewerFixture()

	req := readRequest("orders")
	req.Action = roles.PermissionDelete
	decision, err := fx.resolver().Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, EffectDeny, decision.Effect)
	assert.Equal(t, ReasonNotPermitted, decision.Reason)
}

func TestResolveExplicitDenyBeatsRoleAllow(t *testing.T) {
	fx := viewerFixture()
	name := "employees"
	fx.tenants.overrides[[2]int64{1, 1}] = []*tenancy.UserPermission{{
		ID: 1, UserID: 1, OrgID: 1,
		ResourceType:   roles.ResourceTable,
		ResourceName:   &name,
		PermissionType: roles.PermissionRead,
		Granted:        false,
	}}

	decision, err := fx.resolver().Resolve(context.Background(), readRequest("employees"))
	require.NoError(t, err)
	assert.Equal(t, EffectDeny, decision.Effect)
	assert.Equal(t, ReasonExplicitDeny, decision.Reason)

	decision, err = fx.resolver().Resolve(context.Background(), readRequest("orders"))
	require.NoError(t, err)
	assert.Equal(t, EffectAllow, decision.Effect)
	assert.Equal(t, ReasonRoleGranted, decision.Reason)
}

func TestResolveExpiredOverrideIgnored(t *testing.T) {
	fx := viewerFixture()
	name := "orders"
	past := time.Now().Add(-time.Second)
	fx.tenants.overrides[[2]int64{1, 1}] = []*tenancy.UserPermission{{
		ID: 1, UserID: 1, OrgID: 1,
		ResourceType:   roles.ResourceTable,
		ResourceName:   &name,
		PermissionType: roles.PermissionRead,
		Granted:        false,
		ExpiresAt:      &past,
	}}

	decision, err := fx.resolver().Resolve(context.Background(), readRequest("orders"))
	require.NoError(t, err)
	assert.Equal(t, EffectAllow, decision.Effect)
	assert.Equal(t, ReasonRoleGranted, decision.Reason)
}

func TestResolveNamedOverrideOutranksTypeOverride(t *testing.T) {
	fx := viewerFixture()
	name := "orders"
	fx.tenants.overrides[[2]int64{1, 1}] = []*tenancy.UserPermission{
		{
			ID: 1, UserID: 1, OrgID: 1,
			ResourceType:   roles.ResourceTable,
			PermissionType: roles.PermissionRead,
			Granted:        false,
		},
		{
			ID: 2, UserID: 1, OrgID: 1,
			ResourceType:   roles.ResourceTable,
			ResourceName:   &name,
			PermissionType: roles.PermissionRead,
			Granted:        true,
		},
	}

	decision, err := fx.resolver().Resolve(context.Background(), readRequest("orders"))
	require.NoError(t, err)
	assert.Equal(t, EffectAllow, decision.Effect)
	assert.Equal(t, ReasonExplicitAllow, decision.Reason)

	decision, err = fx.resolver().Resolve(context.Background(), readRequest("other"))
	require.NoError(t, err)
	assert.Equal(t, ReasonExplicitDeny, decision.Reason)
}

func TestResolveDenyBeatsAllowAtEqualSpecificity(t *testing.T) {
	fx := viewerFixture()
	name := "orders"
	fx.tenants.overrides[[2]int64{1, 1}] = []*tenancy.UserPermission{
		{
			ID: 1, UserID: 1, OrgID: 1,
			ResourceType:   roles.ResourceTable,
			ResourceName:   &name,
			PermissionType: roles.PermissionRead,
			Granted:        true,
		},
		{
			ID: 2, UserID: 1, OrgID: 1,
			ResourceType:   roles.ResourceTable,
			ResourceName:   &name,
			PermissionType: roles.PermissionRead,
			Granted:        false,
		},
	}

	decision, err := fx.resolver().Resolve(context.Background(), readRequest("orders"))
	require.NoError(t, err)
	assert.Equal(t, ReasonExplicitDeny, decision.Reason)
}

func TestResolveUnsatisfiedConditionFallsThrough(t *testing.T) {
	fx := viewerFixture()
	name := "orders"
	fx.tenants.overrides[[2]int64{1, 1}] = []*tenancy.UserPermission{{
		ID: 1, UserID: 1, OrgID: 1,
		ResourceType:   roles.ResourceTable,
		ResourceName:   &name,
		PermissionType: roles.PermissionRead,
		Granted:        false,
		Conditions:     []byte(`[{"kind":"ip_range","cidr":"10.0.0.0/8"}]`),
	}}

	req := readRequest("orders")
	req.Context.IPAddress = "192.168.1.1"
	decision, err := fx.resolver().Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ReasonRoleGranted, decision.Reason)

	req.Context.IPAddress = "10.1.2.3"
	decision, err = fx.resolver().Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ReasonExplicitDeny, decision.Reason)
}

func TestResolveMalformedConditionsFailClosed(t *testing.T) {
	fx := viewerFixture()
	name := "orders"
	fx.tenants.overrides[[2]int64{1, 1}] = []*tenancy.UserPermission{{
		ID: 1, UserID: 1, OrgID: 1,
		ResourceType:   roles.ResourceTable,
		ResourceName:   &name,
		PermissionType: roles.PermissionRead,
		Granted:        true,
		Conditions:     []byte(`[{"kind":"day_of_week"}]`),
	}}

	decision, err := fx.resolver().Resolve(context.Background(), readRequest("orders"))
	require.NoError(t, err)
	assert.Equal(t, EffectDeny, decision.Effect)
	assert.Equal(t, ReasonResolutionFault, decision.Reason)
}

func TestResolveCorruptRoleDataFailsClosed(t *testing.T) {
	fx := viewerFixture()
	fx.perms.errs[10] = roles.ErrCycleDetected

	decision, err := fx.resolver().Resolve(context.Background(), readRequest("orders"))
	require.NoError(t, err)
	assert.Equal(t, EffectDeny, decision.Effect)
	assert.Equal(t, ReasonResolutionFault, decision.Reason)
}

func TestResolveStorageErrorIsUnavailable(t *testing.T) {
	fx := viewerFixture()
	fx.tenants.err = assert.AnError

	_, err := fx.resolver().Resolve(context.Background(), readRequest("orders"))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestResolveInactiveRoleAssignmentContributesNothing(t *testing.T) {
	fx := viewerFixture()
	past := time.Now().Add(-time.Hour)
	fx.tenants.roleRows[[2]int64{1, 1}][0].ExpiresAt = &past

	decision, err := fx.resolver().Resolve(context.Background(), readRequest("orders"))
	require.NoError(t, err)
	assert.Equal(t, ReasonNotPermitted, decision.Reason)
}

func TestResolveDeterministicForIdenticalState(t *testing.T) {
	fx := viewerFixture()
	resolver := fx.resolver()

	first, err := resolver.Resolve(context.Background(), readRequest("orders"))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := resolver.Resolve(context.Background(), readRequest("orders"))
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
