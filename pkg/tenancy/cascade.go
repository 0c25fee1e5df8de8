package tenancy

import (
	"context"
	"fmt"

	"github.com/openfortress/gatehouse/pkg/audit"
)

// CascadeUserDeactivation deactivates a user and every mapping they hold,
// in one transaction, then invalidates their sessions in each affected
// organization.
func (m *Mutator) CascadeUserDeactivation(ctx context.Context, userID int64, actorID *int64) error {
	orgIDs, err := m.store.DeactivateUserCascadeTx(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to cascade user deactivation: %w", err)
	}

	for _, orgID := range orgIDs {
		m.invalidateSessions(ctx, userID, orgID)
	}

	event := audit.NewEvent(audit.EventTypeUserDeactivated, audit.EventStatusSuccess)
	event.ActorID = actorID
	event.ResourceType = "user"
	event.ResourceID = fmt.Sprintf("%d", userID)
	event.Metadata["orgs_affected"] = len(orgIDs)
	if err := m.audit.Log(ctx, event); err != nil && m.logger != nil {
		m.logger.WithError(err).Warn("failed to emit audit event")
	}

	return nil
}

// CascadeOrganizationDeactivation deactivates an organization and every
// mapping into it, in one transaction, then invalidates each member's
// sessions there.
func (m *Mutator) CascadeOrganizationDeactivation(ctx context.Context, orgID int64, actorID *int64) error {
	userIDs, err := m.store.DeactivateOrgCascadeTx(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to cascade organization deactivation: %w", err)
	}

	for _, userID := range userIDs {
		m.invalidateSessions(ctx, userID, orgID)
	}

	event := audit.NewEvent(audit.EventTypeOrgDeactivated, audit.EventStatusSuccess)
	event.ActorID = actorID
	event.OrganizationID = &orgID
	event.ResourceType = "organization"
	event.ResourceID = fmt.Sprintf("%d", orgID)
	event.Metadata["users_affected"] = len(userIDs)
	if err := m.audit.Log(ctx, event); err != nil && m.logger != nil {
		m.logger.WithError(err).Warn("failed to emit audit event")
	}

	return nil
}
