package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
)

// Migration represents a database schema migration
type Migration struct {
	SQL         string
	Description string
	Version     int
}

// migrations is the registry of all database migrations. Versions are
// unique and applied in ascending order, each in its own transaction.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema with events and schema_version tables",
		SQL: `
			CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER PRIMARY KEY,
				applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE IF NOT EXISTS events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp DATETIME NOT NULL,
				kind TEXT NOT NULL,
				domain TEXT NOT NULL DEFAULT '',
				address TEXT NOT NULL DEFAULT '',
				error TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
		`,
	},
	{
		Version:     2,
		Description: "Add failing stage for error events",
		SQL: `
			ALTER TABLE events ADD COLUMN stage TEXT NOT NULL DEFAULT '';
		`,
	},
	{
		Version:     3,
		Description: "Add indexes for per-domain lookups and kind statistics",
		SQL: `
			-- Speeds up: SELECT ... FROM events WHERE domain = ? ORDER BY timestamp DESC
			CREATE INDEX IF NOT EXISTS idx_events_domain_timestamp ON events(domain, timestamp);

			-- Speeds up: SELECT kind, COUNT(*) FROM events WHERE timestamp >= ? GROUP BY kind
			CREATE INDEX IF NOT EXISTS idx_events_timestamp_kind ON events(timestamp, kind);
		`,
	},
	{
		Version:     4,
		Description: "Lowercase recorded domains",
		SQL: `
			UPDATE events SET domain = lower(domain) WHERE domain <> lower(domain);
		`,
	},
}

// getMigrations returns all migrations sorted by version
func getMigrations() []Migration {
	result := make([]Migration, len(migrations))
	copy(result, migrations)

	sort.Slice(result, func(i, j int) bool {
		return result[i].Version < result[j].Version
	})

	return result
}

// getCurrentVersion returns the current schema version from the database.
// A database without a schema_version table is at version 0.
func getCurrentVersion(db *sql.DB) (int, error) {
	var tableExists bool
	err := db.QueryRow(`
		SELECT 1 FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableExists)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to query schema version: %w", err)
	}

	return version, nil
}

// applyMigration applies a single migration within a transaction
func applyMigration(db *sql.DB, migration Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.Exec(migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO schema_version (version, applied_at)
		VALUES (?, CURRENT_TIMESTAMP)
	`, migration.Version)
	if err != nil {
		return fmt.Errorf("failed to record migration version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	return nil
}

// runMigrations applies all pending migrations in order. On failure the
// database is left at the last successfully applied version.
func runMigrations(db *sql.DB) error {
	currentVersion, err := getCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, migration := range getMigrations() {
		if migration.Version <= currentVersion {
			continue
		}
		if err := applyMigration(db, migration); err != nil {
			return fmt.Errorf(
				"failed to apply migration v%d (%s): %w",
				migration.Version,
				migration.Description,
				err,
			)
		}
	}

	return nil
}
