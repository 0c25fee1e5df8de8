package roles

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// RoleStore is the persistence contract for role templates
type RoleStore interface {
	CreateRole(ctx context.Context, role *RoleTemplate) error
	GetRole(ctx context.Context, roleID int64) (*RoleTemplate, error)
	GetRoleByName(ctx context.Context, name string) (*RoleTemplate, error)
	ListRoles(ctx context.Context, activeOnly bool) ([]*RoleTemplate, error)
	UpdateRole(ctx context.Context, role *RoleTemplate) error
	SetActive(ctx context.Context, roleID int64, active bool) error
}

// Store handles role template persistence in PostgreSQL
type Store struct {
	db *sql.DB
}

// NewStore creates a new role store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const roleColumns = `id, name, description, permissions, inherits_from, is_assignable, is_system, is_active, created_at, updated_at, created_by`

// CreateRole inserts a new role template
func (s *Store) CreateRole(ctx context.Context, role *RoleTemplate) error {
	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	query := `
		INSERT INTO role_templates (name, description, permissions, inherits_from, is_assignable, is_system, is_active, created_at, updated_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	now := time.Now()
	err = s.db.QueryRowContext(ctx, query,
		role.Name,
		role.Description,
		string(permissionsJSON),
		role.InheritsFrom,
		role.IsAssignable,
		role.IsSystem,
		role.IsActive,
		now,
		now,
		role.CreatedBy,
	).Scan(&role.ID)

	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRole retrieves a role template by ID
func (s *Store) GetRole(ctx context.Context, roleID int64) (*RoleTemplate, error) {
	query := fmt.Sprintf(`SELECT %s FROM role_templates WHERE id = $1`, roleColumns)
	return s.scanRole(s.db.QueryRowContext(ctx, query, roleID))
}

// GetRoleByName retrieves a role template by name
func (s *Store) GetRoleByName(ctx context.Context, name string) (*RoleTemplate, error) {
	query := fmt.Sprintf(`SELECT %s FROM role_templates WHERE name = $1`, roleColumns)
	return s.scanRole(s.db.QueryRowContext(ctx, query, name))
}

func (s *Store) scanRole(row *sql.Row) (*RoleTemplate, error) {
	var role RoleTemplate
	var permissionsJSON string
	var inheritsFrom, createdBy sql.NullInt64

	err := row.Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		&permissionsJSON,
		&inheritsFrom,
		&role.IsAssignable,
		&role.IsSystem,
		&role.IsActive,
		&role.CreatedAt,
		&role.UpdatedAt,
		&createdBy,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	if err := json.Unmarshal([]byte(permissionsJSON), &role.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}

	if inheritsFrom.Valid {
		id := inheritsFrom.Int64
		role.InheritsFrom = &id
	}
	if createdBy.Valid {
		id := createdBy.Int64
		role.CreatedBy = &id
	}

	return &role, nil
}

// ListRoles retrieves all role templates, optionally only active ones
func (s *Store) ListRoles(ctx context.Context, activeOnly bool) ([]*RoleTemplate, error) {
	query := fmt.Sprintf(`SELECT %s FROM role_templates`, roleColumns)
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*RoleTemplate
	for rows.Next() {
		var role RoleTemplate
		var permissionsJSON string
		var inheritsFrom, createdBy sql.NullInt64

		err := rows.Scan(
			&role.ID,
			&role.Name,
			&role.Description,
			&permissionsJSON,
			&inheritsFrom,
			&role.IsAssignable,
			&role.IsSystem,
			&role.IsActive,
			&role.CreatedAt,
			&role.UpdatedAt,
			&createdBy,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}

		if err := json.Unmarshal([]byte(permissionsJSON), &role.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
		if inheritsFrom.Valid {
			id := inheritsFrom.Int64
			role.InheritsFrom = &id
		}
		if createdBy.Valid {
			id := createdBy.Int64
			role.CreatedBy = &id
		}

		roles = append(roles, &role)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating roles: %w", err)
	}

	return roles, nil
}

// UpdateRole updates a role template's mutable fields
func (s *Store) UpdateRole(ctx context.Context, role *RoleTemplate) error {
	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	query := `
		UPDATE role_templates
		SET description = $1, permissions = $2, inherits_from = $3, is_assignable = $4, is_active = $5, updated_at = $6
		WHERE id = $7
	`

	now := time.Now()
	result, err := s.db.ExecContext(ctx, query,
		role.Description,
		string(permissionsJSON),
		role.InheritsFrom,
		role.IsAssignable,
		role.IsActive,
		now,
		role.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrRoleNotFound
	}

	role.UpdatedAt = now
	return nil
}

// SetActive flips a role template's active flag
func (s *Store) SetActive(ctx context.Context, roleID int64, active bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE role_templates SET is_active = $1, updated_at = NOW() WHERE id = $2`,
		active, roleID,
	)
	if err != nil {
		return fmt.Errorf("failed to set role active state: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrRoleNotFound
	}
	return nil
}
