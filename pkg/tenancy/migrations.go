package tenancy

import (
	"github.com/openfortress/gatehouse/pkg/storage/postgres"
)

// Migrations returns the tenancy schema migrations
func Migrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create organizations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id BIGSERIAL PRIMARY KEY,
					code VARCHAR(64) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					subscription_tier VARCHAR(32) NOT NULL DEFAULT 'free',
					max_users INTEGER NOT NULL DEFAULT 0,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_organizations_code ON organizations(code);
				CREATE INDEX idx_organizations_is_active ON organizations(is_active);
			`,
		},
		{
			Version:     2,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					username VARCHAR(255) NOT NULL UNIQUE,
					email VARCHAR(255),
					credential_hash TEXT NOT NULL DEFAULT '',
					is_global_admin BOOLEAN NOT NULL DEFAULT FALSE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					failed_logins INTEGER NOT NULL DEFAULT 0,
					locked_until TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_users_username ON users(username);
				CREATE INDEX idx_users_is_active ON users(is_active);
			`,
		},
		{
			Version:     3,
			Description: "Create user_tenant_mappings table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_tenant_mappings (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					org_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					is_primary BOOLEAN NOT NULL DEFAULT FALSE,
					expires_at TIMESTAMP,
					granted_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					granted_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(user_id, org_id)
				);

				CREATE INDEX idx_user_tenant_mappings_pair ON user_tenant_mappings(user_id, org_id);
				CREATE INDEX idx_user_tenant_mappings_org ON user_tenant_mappings(org_id);
				CREATE INDEX idx_user_tenant_mappings_expires_at ON user_tenant_mappings(expires_at);
			`,
		},
		{
			Version:     4,
			Description: "Create user_tenant_roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_tenant_roles (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					org_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					role_id BIGINT NOT NULL REFERENCES role_templates(id) ON DELETE CASCADE,
					granted_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					granted_at TIMESTAMP NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMP,
					UNIQUE(user_id, org_id, role_id)
				);

				CREATE INDEX idx_user_tenant_roles_pair ON user_tenant_roles(user_id, org_id);
				CREATE INDEX idx_user_tenant_roles_role_id ON user_tenant_roles(role_id);
				CREATE INDEX idx_user_tenant_roles_expires_at ON user_tenant_roles(expires_at);
			`,
		},
		{
			Version:     5,
			Description: "Create user_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_permissions (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					org_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					resource_type VARCHAR(64) NOT NULL,
					resource_name VARCHAR(255),
					permission_type VARCHAR(64) NOT NULL,
					granted BOOLEAN NOT NULL,
					conditions JSONB,
					granted_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					granted_at TIMESTAMP NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMP
				);

				CREATE INDEX idx_user_permissions_pair ON user_permissions(user_id, org_id);
				CREATE INDEX idx_user_permissions_org_resource ON user_permissions(org_id, resource_type);
				CREATE INDEX idx_user_permissions_expires_at ON user_permissions(expires_at);
			`,
		},
	}
}
