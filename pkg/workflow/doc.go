// Package workflow implements the access request state machine. A user
// asks for tenant access with a role set and justification; a reviewer
// holding users:manage in the target organization approves or rejects.
// Approval writes the mapping and roles through the tenancy mutator in
// one transaction, so a partial approval is never observable.
//
// At most one PENDING request exists per (user, organization) pair,
// enforced by a partial unique index and re-checked in service logic.
// PENDING requests past their expiry sweep to EXPIRED.
package workflow
