package scopedb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Migration represents a single migration to execute
type Migration struct {
	ID          string // Unique identifier (e.g., "001", "20240115120000", or any string)
	Description string // Human-readable description
	SQL         string // SQL statements to execute
}

// MigrationResult represents the result of running migrations
type MigrationResult struct {
	Applied   []AppliedMigration
	Skipped   []string // IDs that were already applied
	TotalTime time.Duration
}

// AppliedMigration represents a successfully applied migration
type AppliedMigration struct {
	ID          string        `db:"id"`
	Description string        `db:"description"`
	AppliedAt   time.Time     `db:"applied_at"`
	Duration    time.Duration `db:"-"`
	DurationMs  int64         `db:"duration_ms"`
	Checksum    string        `db:"checksum"`
}

// MigrationStatusEntry represents the status of a single migration
type MigrationStatusEntry struct {
	ID            string
	Description   string
	Checksum      string
	Applied       bool
	ChecksumMatch bool // Only relevant if Applied is true
}

// migrationsTable is the schema for tracking migrations
const migrationsTable = `
CREATE TABLE IF NOT EXISTS _scopedb_migrations (
    id VARCHAR(255) PRIMARY KEY,
    description TEXT,
    checksum VARCHAR(64) NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    duration_ms BIGINT NOT NULL
)`

// Migrate executes migrations in order, skipping already-applied ones.
// Each migration runs in its own transaction together with its ledger row.
func (db *DB) Migrate(ctx context.Context, migrations []Migration) (*MigrationResult, error) {
	start := time.Now()
	result := &MigrationResult{
		Applied: make([]AppliedMigration, 0),
		Skipped: make([]string, 0),
	}

	applied, err := db.appliedChecksums(ctx, "Migrate")
	if err != nil {
		return nil, err
	}

	for _, m := range migrations {
		checksum := checksumSQL(m.SQL)

		if existing, ok := applied[m.ID]; ok {
			if existing != checksum {
				return nil, &Error{
					Code:    CodeUnknown,
					Message: fmt.Sprintf("migration %s has changed (checksum mismatch: expected %s, got %s)", m.ID, existing, checksum),
					Op:      "Migrate",
				}
			}
			result.Skipped = append(result.Skipped, m.ID)
			continue
		}

		migrationStart := time.Now()
		if err := db.applyMigration(ctx, m, checksum, migrationStart); err != nil {
			return nil, err
		}
		duration := time.Since(migrationStart)

		result.Applied = append(result.Applied, AppliedMigration{
			ID:          m.ID,
			Description: m.Description,
			AppliedAt:   time.Now(),
			Duration:    duration,
			DurationMs:  duration.Milliseconds(),
			Checksum:    checksum,
		})
	}

	result.TotalTime = time.Since(start)
	return result, nil
}

// appliedChecksums ensures the ledger exists and maps migration ID to
// checksum. Both statements share one connection.
func (db *DB) appliedChecksums(ctx context.Context, op string) (map[string]string, error) {
	type ledgerRow struct {
		ID       string `db:"id"`
		Checksum string `db:"checksum"`
	}

	rows, err := TaskResult(ctx, db, func(ctx context.Context, task Queryable) ([]ledgerRow, error) {
		if _, err := task.Query(ctx, Q(migrationsTable)); err != nil {
			return nil, &Error{
				Code:    CodeUnknown,
				Message: "failed to create migrations table",
				Op:      op,
				Cause:   err,
			}
		}
		return AnyAs[ledgerRow](ctx, task, Q("SELECT id, checksum FROM _scopedb_migrations"))
	})
	if err != nil {
		return nil, wrapError(err, op+".GetApplied")
	}

	result := make(map[string]string, len(rows))
	for _, row := range rows {
		result[row.ID] = row.Checksum
	}
	return result, nil
}

// applyMigration executes a single migration within a transaction
func (db *DB) applyMigration(ctx context.Context, m Migration, checksum string, startTime time.Time) error {
	return db.Tx(ctx, func(ctx context.Context, tx Queryable) error {
		if _, err := tx.Query(ctx, Q(m.SQL)); err != nil {
			return &Error{
				Code:    CodeUnknown,
				Message: fmt.Sprintf("migration %s failed: %v", m.ID, err),
				Op:      "Migrate.Apply",
				Query:   truncateSQL(m.SQL, 200),
				Cause:   err,
			}
		}

		durationMs := time.Since(startTime).Milliseconds()

		err := tx.None(ctx, Q(`
            INSERT INTO _scopedb_migrations (id, description, checksum, duration_ms)
            VALUES ($1, $2, $3, $4)
        `, m.ID, m.Description, checksum, durationMs))
		if err != nil {
			return wrapError(err, "Migrate.Record")
		}

		return nil
	})
}

// MigrationStatus returns the status of all known migrations
func (db *DB) MigrationStatus(ctx context.Context, migrations []Migration) ([]MigrationStatusEntry, error) {
	applied, err := db.appliedChecksums(ctx, "MigrationStatus")
	if err != nil {
		return nil, err
	}

	var result []MigrationStatusEntry
	for _, m := range migrations {
		checksum := checksumSQL(m.SQL)
		entry := MigrationStatusEntry{
			ID:          m.ID,
			Description: m.Description,
			Checksum:    checksum,
		}

		if appliedChecksum, ok := applied[m.ID]; ok {
			entry.Applied = true
			entry.ChecksumMatch = appliedChecksum == checksum
		}

		result = append(result, entry)
	}

	return result, nil
}

// AppliedMigrations returns all migrations that have been applied
func (db *DB) AppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := TaskResult(ctx, db, func(ctx context.Context, task Queryable) ([]AppliedMigration, error) {
		if _, err := task.Query(ctx, Q(migrationsTable)); err != nil {
			return nil, &Error{
				Code:    CodeUnknown,
				Message: "failed to create migrations table",
				Op:      "AppliedMigrations",
				Cause:   err,
			}
		}
		return AnyAs[AppliedMigration](ctx, task, Q(`
            SELECT id, description, checksum, applied_at, duration_ms
            FROM _scopedb_migrations
            ORDER BY applied_at ASC`))
	})
	if err != nil {
		return nil, wrapError(err, "AppliedMigrations")
	}

	for i := range rows {
		rows[i].Duration = time.Duration(rows[i].DurationMs) * time.Millisecond
	}
	return rows, nil
}

// checksumSQL creates a SHA256 checksum of SQL content
func checksumSQL(sql string) string {
	hash := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(hash[:])
}

// truncateSQL truncates SQL for error messages
func truncateSQL(sql string, maxLen int) string {
	if len(sql) <= maxLen {
		return sql
	}
	return sql[:maxLen] + "..."
}
