// Package observability provides structured logging, Prometheus metrics and
// health checking for the gatehouse services.
//
// Logging uses stdlib slog with a JSON handler so log lines are machine
// parseable out of the box. Metrics cover authorization decisions, session
// lifecycle, bulk operation throughput and database pool state. The health
// checker exposes liveness and readiness probes suitable for k8s deployments,
// pinging PostgreSQL and (optionally) Redis.
package observability
