package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// sqliteMigrations holds all SQLite migrations in order.
// Timestamps are stored as Unix nanoseconds.
var sqliteMigrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- Alert rules table
			CREATE TABLE IF NOT EXISTS alert_rules (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT,
				monitored_types TEXT NOT NULL,
				threshold_count INTEGER NOT NULL,
				window_minutes INTEGER NOT NULL,
				cooldown_minutes INTEGER NOT NULL DEFAULT 0,
				severity TEXT NOT NULL DEFAULT 'error',
				channels TEXT NOT NULL,
				enabled INTEGER NOT NULL DEFAULT 1,
				last_triggered_ns INTEGER,
				created_ns INTEGER NOT NULL,
				updated_ns INTEGER NOT NULL
			);

			-- Error events table
			CREATE TABLE IF NOT EXISTS error_events (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				error_type TEXT NOT NULL,
				error_code TEXT,
				path TEXT,
				message TEXT,
				stack_trace TEXT,
				user_agent TEXT,
				ip_address TEXT,
				metadata_json TEXT,
				occurred_ns INTEGER NOT NULL
			);

			-- Notifications table
			CREATE TABLE IF NOT EXISTS notifications (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				rule_id TEXT NOT NULL,
				source_event_id TEXT NOT NULL,
				title TEXT NOT NULL,
				message TEXT NOT NULL,
				severity TEXT NOT NULL,
				created_ns INTEGER NOT NULL,
				read_ns INTEGER
			);

			-- Indexes
			CREATE INDEX IF NOT EXISTS idx_rules_owner ON alert_rules(owner_id);
			CREATE INDEX IF NOT EXISTS idx_rules_enabled ON alert_rules(enabled);
			CREATE INDEX IF NOT EXISTS idx_events_window ON error_events(owner_id, error_type, occurred_ns);
			CREATE INDEX IF NOT EXISTS idx_events_occurred ON error_events(occurred_ns);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_trigger ON notifications(rule_id, source_event_id);
			CREATE INDEX IF NOT EXISTS idx_notifications_owner ON notifications(owner_id, created_ns);
		`,
	},
	{
		Version: 2,
		Name:    "owner_contacts",
		Up: `
			CREATE TABLE IF NOT EXISTS owner_contacts (
				owner_id TEXT PRIMARY KEY,
				email TEXT NOT NULL,
				name TEXT,
				updated_ns INTEGER NOT NULL
			);
		`,
	},
}

// postgresMigrations holds all PostgreSQL migrations in order.
var postgresMigrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			CREATE TABLE IF NOT EXISTS alert_rules (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				monitored_types TEXT[] NOT NULL,
				threshold_count INTEGER NOT NULL CHECK (threshold_count >= 1),
				window_minutes INTEGER NOT NULL CHECK (window_minutes >= 1),
				cooldown_minutes INTEGER NOT NULL DEFAULT 0,
				severity TEXT NOT NULL DEFAULT 'error',
				channels TEXT[] NOT NULL,
				enabled BOOLEAN NOT NULL DEFAULT TRUE,
				last_triggered_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			);

			CREATE TABLE IF NOT EXISTS error_events (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				error_type TEXT NOT NULL,
				error_code TEXT NOT NULL DEFAULT '',
				path TEXT NOT NULL DEFAULT '',
				message TEXT NOT NULL DEFAULT '',
				stack_trace TEXT NOT NULL DEFAULT '',
				user_agent TEXT NOT NULL DEFAULT '',
				ip_address TEXT NOT NULL DEFAULT '',
				metadata JSONB,
				occurred_at TIMESTAMPTZ NOT NULL
			);

			CREATE TABLE IF NOT EXISTS notifications (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				rule_id TEXT NOT NULL,
				source_event_id TEXT NOT NULL,
				title TEXT NOT NULL,
				message TEXT NOT NULL,
				severity TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				read_at TIMESTAMPTZ,
				UNIQUE (rule_id, source_event_id)
			);

			CREATE INDEX IF NOT EXISTS idx_rules_owner ON alert_rules(owner_id);
			CREATE INDEX IF NOT EXISTS idx_rules_types ON alert_rules USING GIN (monitored_types);
			CREATE INDEX IF NOT EXISTS idx_events_window ON error_events(owner_id, error_type, occurred_at);
			CREATE INDEX IF NOT EXISTS idx_notifications_owner ON notifications(owner_id, created_at DESC);
		`,
	},
	{
		Version: 2,
		Name:    "owner_contacts",
		Up: `
			CREATE TABLE IF NOT EXISTS owner_contacts (
				owner_id TEXT PRIMARY KEY,
				email TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				updated_at TIMESTAMPTZ NOT NULL
			);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB, migrations []Migration) error {
	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_ns INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_ns) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now().UnixNano(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
