package sessions

import (
	"github.com/openfortress/gatehouse/pkg/storage/postgres"
)

// Migrations returns the session schema migrations
func Migrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create sessions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sessions (
					id UUID PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id),
					org_id BIGINT NOT NULL REFERENCES organizations(id),
					roles JSONB NOT NULL DEFAULT '[]',
					status VARCHAR(16) NOT NULL DEFAULT 'ACTIVE',
					ip_address VARCHAR(45) NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					last_activity_at TIMESTAMP NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMP NOT NULL,
					ended_at TIMESTAMP
				);

				CREATE INDEX idx_sessions_pair_status ON sessions(user_id, org_id, status);
				CREATE INDEX idx_sessions_expires_at ON sessions(expires_at) WHERE status = 'ACTIVE';
			`,
		},
	}
}
