package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openfortress/gatehouse/pkg/observability"
)

// Migration represents a single schema migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Runner applies per-package migration sets, tracking applied versions in a
// dedicated table per set.
type Runner struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewRunner creates a migration runner
func NewRunner(db *sql.DB, logger *observability.Logger) *Runner {
	return &Runner{db: db, logger: logger}
}

// Apply executes all pending migrations for the named set. Each migration
// runs in its own transaction; the tracking table is <set>_migrations.
func (r *Runner) Apply(ctx context.Context, set string, migrations []Migration) error {
	table := set + "_migrations"

	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`, table))
	if err != nil {
		return fmt.Errorf("failed to create migrations table %s: %w", table, err)
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf("SELECT version FROM %s ORDER BY version", table))
	if err != nil {
		return fmt.Errorf("failed to query applied migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}

		if r.logger != nil {
			r.logger.WithFields(map[string]interface{}{
				"set":     set,
				"version": migration.Version,
			}).Infof("applying migration: %s", migration.Description)
		}

		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute %s migration %d: %w", set, migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (version, description) VALUES ($1, $2)", table),
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record %s migration %d: %w", set, migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit %s migration %d: %w", set, migration.Version, err)
		}
	}

	return nil
}
