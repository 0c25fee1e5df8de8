package bulk

import (
	"github.com/openfortress/gatehouse/pkg/storage/postgres"
)

// Migrations returns the bulk operation schema migrations
func Migrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create bulk_operations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS bulk_operations (
					id UUID PRIMARY KEY,
					op_type VARCHAR(32) NOT NULL,
					user_ids BIGINT[] NOT NULL,
					tenant_ids BIGINT[] NOT NULL,
					params JSONB NOT NULL DEFAULT '{}',
					status VARCHAR(32) NOT NULL DEFAULT 'INITIATED',
					progress INTEGER NOT NULL DEFAULT 0,
					item_errors JSONB NOT NULL DEFAULT '[]',
					initiated_by BIGINT NOT NULL REFERENCES users(id),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					started_at TIMESTAMP,
					finished_at TIMESTAMP
				);

				CREATE INDEX idx_bulk_operations_status ON bulk_operations(status);
				CREATE INDEX idx_bulk_operations_initiated_by ON bulk_operations(initiated_by);
			`,
		},
	}
}
