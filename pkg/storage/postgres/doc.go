// Package postgres provides the shared PostgreSQL plumbing for gatehouse:
// connection pool setup, the per-package migration runner, and the optional
// Redis client used by the role template cache.
package postgres
