package tenancy

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Store is the persistence contract for tenancy state. Mutation methods
// suffixed Tx run all their writes in a single transaction.
type Store interface {
	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, orgID int64) (*Organization, error)
	GetOrganizationByCode(ctx context.Context, code string) (*Organization, error)
	CountLiveMappings(ctx context.Context, orgID int64) (int, error)

	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, userID int64) (*User, error)

	GetMapping(ctx context.Context, userID, orgID int64) (*UserTenantMapping, error)
	ListMappingsForUser(ctx context.Context, userID int64) ([]*UserTenantMapping, error)
	ListUserRoles(ctx context.Context, userID, orgID int64) ([]*UserTenantRole, error)
	ListUserPermissions(ctx context.Context, userID, orgID int64) ([]*UserPermission, error)

	GrantAccessTx(ctx context.Context, mapping *UserTenantMapping, roleIDs []int64) error
	RevokeAccessTx(ctx context.Context, userID, orgID int64) error
	UpdateRolesTx(ctx context.Context, userID, orgID int64, roleIDs []int64, grantedBy *int64) error
	GrantOverrideTx(ctx context.Context, override *UserPermission) error
	RevokeOverrideTx(ctx context.Context, overrideID int64) error
	DeactivateUserCascadeTx(ctx context.Context, userID int64) ([]int64, error)
	DeactivateOrgCascadeTx(ctx context.Context, orgID int64) ([]int64, error)
}

// PGStore implements Store on PostgreSQL
type PGStore struct {
	db *sql.DB
}

// NewPGStore creates a new tenancy store
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// CreateOrganization inserts a new organization
func (s *PGStore) CreateOrganization(ctx context.Context, org *Organization) error {
	query := `
		INSERT INTO organizations (code, name, subscription_tier, max_users, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		org.Code, org.Name, org.SubscriptionTier, org.MaxUsers, org.IsActive, now,
	).Scan(&org.ID)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}

	org.CreatedAt = now
	org.UpdatedAt = now
	return nil
}

// GetOrganization retrieves an organization by ID
func (s *PGStore) GetOrganization(ctx context.Context, orgID int64) (*Organization, error) {
	query := `
		SELECT id, code, name, subscription_tier, max_users, is_active, created_at, updated_at
		FROM organizations WHERE id = $1
	`
	return s.scanOrganization(s.db.QueryRowContext(ctx, query, orgID))
}

// GetOrganizationByCode retrieves an organization by its unique code
func (s *PGStore) GetOrganizationByCode(ctx context.Context, code string) (*Organization, error) {
	query := `
		SELECT id, code, name, subscription_tier, max_users, is_active, created_at, updated_at
		FROM organizations WHERE code = $1
	`
	return s.scanOrganization(s.db.QueryRowContext(ctx, query, code))
}

func (s *PGStore) scanOrganization(row *sql.Row) (*Organization, error) {
	var org Organization
	err := row.Scan(
		&org.ID, &org.Code, &org.Name, &org.SubscriptionTier,
		&org.MaxUsers, &org.IsActive, &org.CreatedAt, &org.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("organization: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return &org, nil
}

// CountLiveMappings counts active, unexpired mappings for an organization
func (s *PGStore) CountLiveMappings(ctx context.Context, orgID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM user_tenant_mappings
		WHERE org_id = $1 AND is_active = TRUE AND (expires_at IS NULL OR expires_at > NOW())
	`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count mappings: %w", err)
	}
	return count, nil
}

// CreateUser inserts a new user
func (s *PGStore) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (username, email, credential_hash, is_global_admin, is_active, failed_logins, locked_until, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		user.Username, user.Email, user.CredentialHash,
		user.IsGlobalAdmin, user.IsActive, user.FailedLogins, user.LockedUntil, now,
	).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// GetUser retrieves a user by ID
func (s *PGStore) GetUser(ctx context.Context, userID int64) (*User, error) {
	query := `
		SELECT id, username, email, credential_hash, is_global_admin, is_active, failed_logins, locked_until, created_at, updated_at
		FROM users WHERE id = $1
	`

	var user User
	var lockedUntil sql.NullTime
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.ID, &user.Username, &user.Email, &user.CredentialHash,
		&user.IsGlobalAdmin, &user.IsActive, &user.FailedLogins, &lockedUntil,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if lockedUntil.Valid {
		t := lockedUntil.Time
		user.LockedUntil = &t
	}
	return &user, nil
}

const mappingColumns = `id, user_id, org_id, is_active, is_primary, expires_at, granted_by, granted_at, updated_at`

// GetMapping retrieves the mapping row for a (user, organization) pair
func (s *PGStore) GetMapping(ctx context.Context, userID, orgID int64) (*UserTenantMapping, error) {
	query := fmt.Sprintf(`SELECT %s FROM user_tenant_mappings WHERE user_id = $1 AND org_id = $2`, mappingColumns)

	var m UserTenantMapping
	var expiresAt sql.NullTime
	var grantedBy sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, userID, orgID).Scan(
		&m.ID, &m.UserID, &m.OrgID, &m.IsActive, &m.IsPrimary,
		&expiresAt, &grantedBy, &m.GrantedAt, &m.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("mapping: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}

	if expiresAt.Valid {
		t := expiresAt.Time
		m.ExpiresAt = &t
	}
	if grantedBy.Valid {
		id := grantedBy.Int64
		m.GrantedBy = &id
	}
	return &m, nil
}

// ListMappingsForUser retrieves all mapping rows for a user
func (s *PGStore) ListMappingsForUser(ctx context.Context, userID int64) ([]*UserTenantMapping, error) {
	query := fmt.Sprintf(`SELECT %s FROM user_tenant_mappings WHERE user_id = $1 ORDER BY org_id`, mappingColumns)

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*UserTenantMapping
	for rows.Next() {
		var m UserTenantMapping
		var expiresAt sql.NullTime
		var grantedBy sql.NullInt64
		if err := rows.Scan(
			&m.ID, &m.UserID, &m.OrgID, &m.IsActive, &m.IsPrimary,
			&expiresAt, &grantedBy, &m.GrantedAt, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			m.ExpiresAt = &t
		}
		if grantedBy.Valid {
			id := grantedBy.Int64
			m.GrantedBy = &id
		}
		mappings = append(mappings, &m)
	}
	return mappings, rows.Err()
}

// ListUserRoles retrieves role assignments for a (user, organization) pair
func (s *PGStore) ListUserRoles(ctx context.Context, userID, orgID int64) ([]*UserTenantRole, error) {
	query := `
		SELECT id, user_id, org_id, role_id, granted_by, granted_at, expires_at
		FROM user_tenant_roles
		WHERE user_id = $1 AND org_id = $2
		ORDER BY role_id
	`

	rows, err := s.db.QueryContext(ctx, query, userID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user roles: %w", err)
	}
	defer rows.Close()

	var assignments []*UserTenantRole
	for rows.Next() {
		var r UserTenantRole
		var grantedBy sql.NullInt64
		var expiresAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.UserID, &r.OrgID, &r.RoleID, &grantedBy, &r.GrantedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan user role: %w", err)
		}
		if grantedBy.Valid {
			id := grantedBy.Int64
			r.GrantedBy = &id
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			r.ExpiresAt = &t
		}
		assignments = append(assignments, &r)
	}
	return assignments, rows.Err()
}

// ListUserPermissions retrieves override rows for a (user, organization) pair
func (s *PGStore) ListUserPermissions(ctx context.Context, userID, orgID int64) ([]*UserPermission, error) {
	query := `
		SELECT id, user_id, org_id, resource_type, resource_name, permission_type, granted, conditions, granted_by, granted_at, expires_at
		FROM user_permissions
		WHERE user_id = $1 AND org_id = $2
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, userID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user permissions: %w", err)
	}
	defer rows.Close()

	var overrides []*UserPermission
	for rows.Next() {
		var p UserPermission
		var resourceName sql.NullString
		var conditions []byte
		var grantedBy sql.NullInt64
		var expiresAt sql.NullTime
		if err := rows.Scan(
			&p.ID, &p.UserID, &p.OrgID, &p.ResourceType, &resourceName,
			&p.PermissionType, &p.Granted, &conditions, &grantedBy, &p.GrantedAt, &expiresAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user permission: %w", err)
		}
		if resourceName.Valid {
			n := resourceName.String
			p.ResourceName = &n
		}
		if len(conditions) > 0 {
			p.Conditions = conditions
		}
		if grantedBy.Valid {
			id := grantedBy.Int64
			p.GrantedBy = &id
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			p.ExpiresAt = &t
		}
		overrides = append(overrides, &p)
	}
	return overrides, rows.Err()
}

// GrantAccessTx creates the mapping and initial role assignments in one
// transaction. A soft-deleted mapping for the pair is reactivated.
func (s *PGStore) GrantAccessTx(ctx context.Context, mapping *UserTenantMapping, roleIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO user_tenant_mappings (user_id, org_id, is_active, is_primary, expires_at, granted_by, granted_at, updated_at)
		VALUES ($1, $2, TRUE, $3, $4, $5, $6, $6)
		ON CONFLICT (user_id, org_id) DO UPDATE
		SET is_active = TRUE, is_primary = EXCLUDED.is_primary,
		    expires_at = EXCLUDED.expires_at, granted_by = EXCLUDED.granted_by, updated_at = EXCLUDED.updated_at
		RETURNING id
	`, mapping.UserID, mapping.OrgID, mapping.IsPrimary, mapping.ExpiresAt, mapping.GrantedBy, now).Scan(&mapping.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert mapping: %w", err)
	}

	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_tenant_roles (user_id, org_id, role_id, granted_by, granted_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, org_id, role_id) DO NOTHING
		`, mapping.UserID, mapping.OrgID, roleID, mapping.GrantedBy, now); err != nil {
			return fmt.Errorf("failed to assign role %d: %w", roleID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit grant: %w", err)
	}

	mapping.IsActive = true
	mapping.GrantedAt = now
	mapping.UpdatedAt = now
	return nil
}

// RevokeAccessTx soft-deletes the mapping. Role assignments and overrides
// stay in place but are inert; the mapping check precedes them on every
// resolution.
func (s *PGStore) RevokeAccessTx(ctx context.Context, userID, orgID int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE user_tenant_mappings
		SET is_active = FALSE, updated_at = NOW()
		WHERE user_id = $1 AND org_id = $2 AND is_active = TRUE
	`, userID, orgID)
	if err != nil {
		return fmt.Errorf("failed to revoke mapping: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check revoke result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("mapping: %w", ErrNotFound)
	}
	return nil
}

// UpdateRolesTx replaces the pair's role assignment set in one transaction
func (s *PGStore) UpdateRolesTx(ctx context.Context, userID, orgID int64, roleIDs []int64, grantedBy *int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM user_tenant_roles
		WHERE user_id = $1 AND org_id = $2 AND NOT (role_id = ANY($3))
	`, userID, orgID, pq.Array(roleIDs)); err != nil {
		return fmt.Errorf("failed to remove stale roles: %w", err)
	}

	now := time.Now()
	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_tenant_roles (user_id, org_id, role_id, granted_by, granted_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, org_id, role_id) DO NOTHING
		`, userID, orgID, roleID, grantedBy, now); err != nil {
			return fmt.Errorf("failed to assign role %d: %w", roleID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role update: %w", err)
	}
	return nil
}

// GrantOverrideTx inserts a permission override row
func (s *PGStore) GrantOverrideTx(ctx context.Context, override *UserPermission) error {
	query := `
		INSERT INTO user_permissions (user_id, org_id, resource_type, resource_name, permission_type, granted, conditions, granted_by, granted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	now := time.Now()
	var conditions interface{}
	if len(override.Conditions) > 0 {
		conditions = []byte(override.Conditions)
	}
	err := s.db.QueryRowContext(ctx, query,
		override.UserID, override.OrgID, override.ResourceType, override.ResourceName,
		override.PermissionType, override.Granted, conditions,
		override.GrantedBy, now, override.ExpiresAt,
	).Scan(&override.ID)
	if err != nil {
		return fmt.Errorf("failed to grant override: %w", err)
	}

	override.GrantedAt = now
	return nil
}

// RevokeOverrideTx deletes a permission override row
func (s *PGStore) RevokeOverrideTx(ctx context.Context, overrideID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM user_permissions WHERE id = $1`, overrideID)
	if err != nil {
		return fmt.Errorf("failed to revoke override: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check revoke result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("override: %w", ErrNotFound)
	}
	return nil
}

// DeactivateUserCascadeTx deactivates a user and all their mappings in
// one transaction, returning the org IDs whose sessions must go.
func (s *PGStore) DeactivateUserCascadeTx(ctx context.Context, userID int64) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE users SET is_active = FALSE, updated_at = NOW() WHERE id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check deactivation result: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("user: %w", ErrNotFound)
	}

	rows, err := tx.QueryContext(ctx, `
		UPDATE user_tenant_mappings
		SET is_active = FALSE, updated_at = NOW()
		WHERE user_id = $1 AND is_active = TRUE
		RETURNING org_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate mappings: %w", err)
	}

	var orgIDs []int64
	for rows.Next() {
		var orgID int64
		if err := rows.Scan(&orgID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan org id: %w", err)
		}
		orgIDs = append(orgIDs, orgID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mappings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit user deactivation: %w", err)
	}
	return orgIDs, nil
}

// DeactivateOrgCascadeTx deactivates an organization and all its mappings
// in one transaction, returning the user IDs whose sessions must go.
func (s *PGStore) DeactivateOrgCascadeTx(ctx context.Context, orgID int64) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE organizations SET is_active = FALSE, updated_at = NOW() WHERE id = $1
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate organization: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check deactivation result: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("organization: %w", ErrNotFound)
	}

	rows, err := tx.QueryContext(ctx, `
		UPDATE user_tenant_mappings
		SET is_active = FALSE, updated_at = NOW()
		WHERE org_id = $1 AND is_active = TRUE
		RETURNING user_id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate mappings: %w", err)
	}

	var userIDs []int64
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		userIDs = append(userIDs, userID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mappings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit organization deactivation: %w", err)
	}
	return userIDs, nil
}
