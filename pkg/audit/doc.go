// Package audit records security-relevant events: access grants and
// revocations, denied authorization decisions, session lifecycle, access
// request reviews and bulk operation outcomes.
//
// Components emit events explicitly after successful state transitions.
// The DBLogger buffers writes and flushes them to PostgreSQL in batches;
// delivery is at-least-once and overflow is counted, never silent. Nothing
// in the core reads audit rows back.
package audit
