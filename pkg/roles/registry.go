package roles

import (
	"context"
	"errors"
	"fmt"
)

// Registry manages role templates and resolves effective permissions
// through the inheritance chain.
type Registry struct {
	store    RoleStore
	cache    *Cache
	maxDepth int
}

// NewRegistry creates a role registry. cache may be nil to disable caching;
// maxDepth bounds the inheritance walk.
func NewRegistry(store RoleStore, cache *Cache, maxDepth int) *Registry {
	if maxDepth < 1 {
		maxDepth = 16
	}
	return &Registry{store: store, cache: cache, maxDepth: maxDepth}
}

// Register creates a new role template. The name must be unique and the
// parent chain, if any, must be acyclic and within the depth bound.
func (r *Registry) Register(ctx context.Context, role *RoleTemplate) error {
	if role.Name == "" {
		return fmt.Errorf("role name is required")
	}
	if role.Permissions == nil {
		role.Permissions = make(PermissionSet)
	}

	existing, err := r.store.GetRoleByName(ctx, role.Name)
	if err != nil && !errors.Is(err, ErrRoleNotFound) {
		return fmt.Errorf("failed to check for duplicate role: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateRole, role.Name)
	}

	if role.InheritsFrom != nil {
		// The new role has no ID yet so it cannot close a cycle itself,
		// but the chain it attaches to must already be sound and leave
		// room for one more level.
		depth, err := r.walkChain(ctx, *role.InheritsFrom, 0)
		if err != nil {
			return err
		}
		if depth+1 > r.maxDepth {
			return fmt.Errorf("%w: %d levels", ErrHierarchyTooDeep, depth+1)
		}
	}

	return r.store.CreateRole(ctx, role)
}

// Update modifies a role template and invalidates its cache entry.
// Re-parenting is checked for cycles before the write.
func (r *Registry) Update(ctx context.Context, role *RoleTemplate) error {
	if role.InheritsFrom != nil {
		depth, err := r.walkChain(ctx, *role.InheritsFrom, role.ID)
		if err != nil {
			return err
		}
		if depth+1 > r.maxDepth {
			return fmt.Errorf("%w: %d levels", ErrHierarchyTooDeep, depth+1)
		}
	}

	if err := r.store.UpdateRole(ctx, role); err != nil {
		return err
	}

	if r.cache != nil {
		r.cache.Invalidate(ctx, role.ID)
	}
	return nil
}

// Deactivate marks a role template inactive. The role stays in storage and
// in existing assignments but stops contributing permissions.
func (r *Registry) Deactivate(ctx context.Context, roleID int64) error {
	if err := r.store.SetActive(ctx, roleID, false); err != nil {
		return err
	}
	if r.cache != nil {
		r.cache.Invalidate(ctx, roleID)
	}
	return nil
}

// Get retrieves a role template, serving from cache when possible.
func (r *Registry) Get(ctx context.Context, roleID int64) (*RoleTemplate, error) {
	if r.cache != nil {
		if role, ok := r.cache.Get(ctx, roleID); ok {
			return role, nil
		}
	}

	role, err := r.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		r.cache.Set(ctx, role)
	}
	return role, nil
}

// GetByName retrieves a role template by its unique name.
func (r *Registry) GetByName(ctx context.Context, name string) (*RoleTemplate, error) {
	return r.store.GetRoleByName(ctx, name)
}

// List retrieves role templates.
func (r *Registry) List(ctx context.Context, activeOnly bool) ([]*RoleTemplate, error) {
	return r.store.ListRoles(ctx, activeOnly)
}

// EffectivePermissions unions a role's own permission set with those of
// all its ancestors. Inactive roles contribute nothing but do not break
// the chain. The walk is cycle-safe and depth-bounded.
func (r *Registry) EffectivePermissions(ctx context.Context, roleID int64) (PermissionSet, error) {
	perms := make(PermissionSet)
	visited := make(map[int64]bool)

	current := roleID
	for depth := 0; ; depth++ {
		if depth >= r.maxDepth {
			return nil, fmt.Errorf("%w: role %d", ErrHierarchyTooDeep, roleID)
		}
		if visited[current] {
			return nil, fmt.Errorf("%w: role %d revisits %d", ErrCycleDetected, roleID, current)
		}
		visited[current] = true

		role, err := r.Get(ctx, current)
		if err != nil {
			if depth > 0 && errors.Is(err, ErrRoleNotFound) {
				return nil, fmt.Errorf("broken inheritance chain at role %d: %w", current, err)
			}
			return nil, err
		}

		if role.IsActive {
			perms.Union(role.Permissions)
		}

		if role.InheritsFrom == nil {
			break
		}
		current = *role.InheritsFrom
	}

	return perms, nil
}

// walkChain follows the parent chain from startID, returning its length.
// forbidden, when non-zero, marks an ID whose appearance means the caller
// would close a cycle.
func (r *Registry) walkChain(ctx context.Context, startID int64, forbidden int64) (int, error) {
	visited := make(map[int64]bool)

	current := startID
	for depth := 1; ; depth++ {
		if depth > r.maxDepth {
			return 0, fmt.Errorf("%w: chain from role %d", ErrHierarchyTooDeep, startID)
		}
		if forbidden != 0 && current == forbidden {
			return 0, fmt.Errorf("%w: role %d appears in its own ancestry", ErrCycleDetected, forbidden)
		}
		if visited[current] {
			return 0, fmt.Errorf("%w: role %d", ErrCycleDetected, current)
		}
		visited[current] = true

		role, err := r.store.GetRole(ctx, current)
		if err != nil {
			if errors.Is(err, ErrRoleNotFound) {
				return 0, fmt.Errorf("parent role %d: %w", current, err)
			}
			return 0, err
		}

		if role.InheritsFrom == nil {
			return depth, nil
		}
		current = *role.InheritsFrom
	}
}
