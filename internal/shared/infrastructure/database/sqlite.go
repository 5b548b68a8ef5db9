package database

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// sqliteSchema is applied on open. SQLite backs local single-user mode, so
// schema setup happens in-process instead of through migration tooling.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS appointments (
	id TEXT PRIMARY KEY,
	clinician_id TEXT NOT NULL,
	client_id TEXT,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	timezone TEXT NOT NULL,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	external_connection_id TEXT,
	external_event_id TEXT,
	recurring_group_id TEXT,
	version INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_appointments_clinician_time
	ON appointments (clinician_id, start_time, end_time);

CREATE TABLE IF NOT EXISTS connections (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	display_name TEXT NOT NULL,
	access_token BLOB NOT NULL,
	refresh_token BLOB NOT NULL,
	token_type TEXT NOT NULL,
	token_expiry TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	last_sync_at TEXT,
	version INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_connections_owner ON connections (owner_id);

CREATE TABLE IF NOT EXISTS availability_slots (
	id TEXT PRIMARY KEY,
	clinician_id TEXT NOT NULL,
	weekday INTEGER NOT NULL,
	slot_number INTEGER NOT NULL,
	start_minute INTEGER NOT NULL,
	end_minute INTEGER NOT NULL,
	timezone TEXT NOT NULL,
	sync_status TEXT NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	version INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_slots_clinician ON availability_slots (clinician_id);

CREATE TABLE IF NOT EXISTS sync_conflicts (
	id TEXT PRIMARY KEY,
	clinician_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	local_side TEXT NOT NULL,
	external_side TEXT NOT NULL,
	strategy TEXT NOT NULL,
	resolved INTEGER NOT NULL DEFAULT 0,
	resolved_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conflicts_clinician ON sync_conflicts (clinician_id, resolved);
`

// NewSQLite opens (and if needed creates) a local SQLite database and applies
// the schema. Pass ":memory:" for an in-memory database.
func NewSQLite(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// modernc.org/sqlite serializes access through a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}
