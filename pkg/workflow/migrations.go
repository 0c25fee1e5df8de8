package workflow

import (
	"github.com/openfortress/gatehouse/pkg/storage/postgres"
)

// Migrations returns the access request schema migrations
func Migrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create access_requests table",
			SQL: `
				CREATE TABLE IF NOT EXISTS access_requests (
					id UUID PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id),
					org_id BIGINT NOT NULL REFERENCES organizations(id),
					role_ids BIGINT[] NOT NULL DEFAULT '{}',
					justification TEXT NOT NULL DEFAULT '',
					status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
					reviewer_id BIGINT REFERENCES users(id),
					review_reason TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMP NOT NULL,
					reviewed_at TIMESTAMP
				);

				CREATE UNIQUE INDEX idx_access_requests_one_pending
					ON access_requests(user_id, org_id) WHERE status = 'PENDING';
				CREATE INDEX idx_access_requests_org_status ON access_requests(org_id, status);
				CREATE INDEX idx_access_requests_expires_at ON access_requests(expires_at) WHERE status = 'PENDING';
			`,
		},
	}
}
