// Package bulk coordinates batched access mutations across many
// (user, tenant) pairs. Items run through the same tenancy mutation
// primitives as the access request workflow, so grant and revoke stay
// idempotent and every write is audited and serialized per pair.
//
// A single item's failure never aborts the batch; the operation
// finishes COMPLETED_WITH_ERRORS carrying the full per-item error
// list. Operations are not resumable.
package bulk
