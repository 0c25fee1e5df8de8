// Package authz is the permission resolution engine. Given a user, an
// organization context, and a requested action on a resource it returns
// a deterministic ALLOW or DENY with a machine-readable reason.
//
// Precedence, most specific first: global admin, tenant mapping check,
// explicit per-user overrides (name-scoped before type-scoped, DENY
// before ALLOW at equal specificity), then role-derived permissions.
// Overrides carry optional conditions; an unsatisfied condition demotes
// the override rather than failing the call.
//
// The engine never fails open: storage errors surface as ErrUnavailable
// and corrupted role data resolves to DENY.
package authz
