// Package storage opens the SQLite database backing the build ledger.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mattjoyce/parcc/internal/mount"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures the ledger tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := mount.RequireLocal(path, "state.path"); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates ledger tables and indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS builds (
  id           TEXT PRIMARY KEY,
  status       TEXT NOT NULL,
  pool_size    INTEGER NOT NULL,
  units        INTEGER NOT NULL,
  compiled     INTEGER NOT NULL,
  skipped      INTEGER NOT NULL,
  failed       INTEGER NOT NULL,
  started_at   TEXT NOT NULL,
  duration_ms  INTEGER NOT NULL,
  last_error   TEXT
);`,
		`CREATE TABLE IF NOT EXISTS build_units (
  build_id     TEXT NOT NULL REFERENCES builds(id) ON DELETE CASCADE,
  seq          INTEGER NOT NULL,
  source       TEXT NOT NULL,
  object       TEXT NOT NULL,
  status       TEXT NOT NULL,
  exit_code    INTEGER,
  duration_ms  INTEGER NOT NULL,
  error        TEXT,
  diagnostic   TEXT,
  PRIMARY KEY (build_id, seq)
);`,
		`CREATE TABLE IF NOT EXISTS unit_fingerprints (
  object       TEXT PRIMARY KEY,
  source       TEXT NOT NULL,
  fingerprint  TEXT NOT NULL,
  updated_at   TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS builds_started_at_idx ON builds(started_at);`,
		`CREATE INDEX IF NOT EXISTS build_units_status_idx ON build_units(build_id, status);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
