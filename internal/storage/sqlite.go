package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// TimeLayout is the persisted timestamp format: UTC, second precision.
const TimeLayout = "2006-01-02T15:04:05Z"

// Now returns the current time formatted for persistence.
func Now() string {
	return time.Now().UTC().Format(TimeLayout)
}

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Basic health check + safe pragmas. Journal-ahead mode gives one
	// writer with many concurrent readers.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(pctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing. Safe to run repeatedly.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS boards (
  id         TEXT PRIMARY KEY,
  owner_key  TEXT NOT NULL,
  board_key  TEXT NOT NULL,
  created_at TEXT NOT NULL,
  UNIQUE(owner_key, board_key)
);`,
		`CREATE TABLE IF NOT EXISTS columns (
  id        TEXT PRIMARY KEY,
  board_id  TEXT NOT NULL REFERENCES boards(id),
  name      TEXT NOT NULL,
  wip_limit INTEGER,
  position  INTEGER NOT NULL,
  UNIQUE(board_id, name)
);`,
		`CREATE TABLE IF NOT EXISTS cards (
  id             TEXT PRIMARY KEY,
  board_id       TEXT NOT NULL REFERENCES boards(id),
  column_id      TEXT NOT NULL REFERENCES columns(id),
  title          TEXT NOT NULL,
  description    TEXT,
  assignee       TEXT,
  priority       TEXT,
  external_type  TEXT,
  external_id    TEXT,
  blocked_by     TEXT,
  blocked_reason TEXT,
  blocked_since  TEXT,
  created_at     TEXT NOT NULL,
  updated_at     TEXT NOT NULL
);`,
		// External linkage is an idempotency key only when both halves are
		// present.
		`CREATE UNIQUE INDEX IF NOT EXISTS cards_external_idx
  ON cards(board_id, external_type, external_id)
  WHERE external_type IS NOT NULL AND external_id IS NOT NULL;`,
		`CREATE INDEX IF NOT EXISTS cards_board_column_idx ON cards(board_id, column_id);`,
		`CREATE TABLE IF NOT EXISTS listeners (
  id          TEXT PRIMARY KEY,
  board_id    TEXT NOT NULL REFERENCES boards(id),
  event       TEXT NOT NULL,
  kind        TEXT NOT NULL,
  target      TEXT NOT NULL,
  filter_json TEXT,
  active      INTEGER NOT NULL DEFAULT 1,
  created_at  TEXT NOT NULL,
  updated_at  TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS listeners_board_event_idx ON listeners(board_id, event, active);`,
		`CREATE TABLE IF NOT EXISTS events (
  id           TEXT PRIMARY KEY,
  board_id     TEXT NOT NULL REFERENCES boards(id),
  event        TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  status       TEXT NOT NULL,
  retry_count  INTEGER NOT NULL DEFAULT 0,
  last_error   TEXT,
  created_at   TEXT NOT NULL,
  updated_at   TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS events_board_status_created_idx ON events(board_id, status, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
