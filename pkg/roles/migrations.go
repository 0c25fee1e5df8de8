package roles

import (
	"github.com/openfortress/gatehouse/pkg/storage/postgres"
)

// Migrations returns the role registry schema migrations
func Migrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create role_templates table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_templates (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					permissions JSONB NOT NULL DEFAULT '{}',
					inherits_from BIGINT REFERENCES role_templates(id) ON DELETE SET NULL,
					is_assignable BOOLEAN NOT NULL DEFAULT TRUE,
					is_system BOOLEAN NOT NULL DEFAULT FALSE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					created_by BIGINT
				);

				CREATE INDEX idx_role_templates_name ON role_templates(name);
				CREATE INDEX idx_role_templates_inherits_from ON role_templates(inherits_from);
				CREATE INDEX idx_role_templates_is_active ON role_templates(is_active);
			`,
		},
	}
}
