// Package tenancy holds the multi-tenant data model (organizations, users,
// user-tenant mappings, per-tenant role assignments and permission
// overrides) and the Mutator, the only sanctioned write path for
// authorization state.
//
// Every Mutator operation takes the per-(user, organization) lock, runs a
// single transaction, emits an audit event, and invalidates the pair's
// sessions when access narrows. Resolution reads never take the lock.
package tenancy
