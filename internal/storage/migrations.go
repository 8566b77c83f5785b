package storage

import (
	"context"
	"database/sql"
	"fmt"
)

type Migration struct {
	Version int
	UpSQL   string
	DownSQL string
}

var migrations = []Migration{
	{
		Version: 1,
		UpSQL: `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS components (
	component_id TEXT PRIMARY KEY,
	map_id TEXT NOT NULL,
	external_id TEXT NOT NULL,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	config_json TEXT NOT NULL,
	position_x REAL NOT NULL DEFAULT 0,
	position_y REAL NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL,
	UNIQUE(map_id, external_id)
);

CREATE INDEX IF NOT EXISTS components_map_id
ON components(map_id);

CREATE TABLE IF NOT EXISTS component_states (
	component_id TEXT PRIMARY KEY,
	state_json TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS commands (
	command_id TEXT PRIMARY KEY,
	component_id TEXT NOT NULL,
	action_name TEXT NOT NULL,
	idempotency_key TEXT NOT NULL,
	requester TEXT NOT NULL,
	agent_id TEXT,
	status TEXT NOT NULL CHECK(status IN ('queued','running','succeeded','failed','timed_out','cancelled')),
	args_json TEXT,
	result_json TEXT,
	failure_reason TEXT,
	requested_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT
);

CREATE INDEX IF NOT EXISTS commands_component_requested_at
ON commands(component_id, requested_at DESC);

CREATE TABLE IF NOT EXISTS snapshots (
	snapshot_id TEXT PRIMARY KEY,
	map_id TEXT NOT NULL,
	reason TEXT NOT NULL CHECK(reason IN ('manual','scheduled','pre-sync')),
	created_at TEXT NOT NULL,
	components_json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS snapshots_map_created_at
ON snapshots(map_id, created_at DESC);

CREATE TABLE IF NOT EXISTS users (
	user_id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	roles_json TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL
);
`,
		DownSQL: `
DROP TABLE IF EXISTS users;
DROP TABLE IF EXISTS snapshots;
DROP TABLE IF EXISTS commands;
DROP TABLE IF EXISTS component_states;
DROP TABLE IF EXISTS components;
DROP TABLE IF EXISTS schema_migrations;
`,
	},
}

// ApplyMigrations brings the schema up to the latest version. Each migration
// runs in its own transaction and is recorded in schema_migrations.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, m.Version).Scan(&exists)
		if err == nil {
			continue
		}
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, datetime('now'))`, m.Version); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// RollbackAll tears the schema down, newest migration first.
func RollbackAll(ctx context.Context, db *sql.DB) error {
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin rollback tx %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.DownSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("rollback migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit rollback %d: %w", m.Version, err)
		}
	}
	return nil
}
