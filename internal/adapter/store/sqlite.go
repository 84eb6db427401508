package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"agntschat/internal/infra/config"
)

// DB is the application database: a SQLite handle plus the retrying executor
// every repository call runs through.
type DB struct {
	sql  *sql.DB
	exec *ResilientStore
}

// Open opens (or creates) the SQLite database at cfg.Path and migrates it.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*DB, error) {
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	// A single connection keeps the pragmas below in effect and serializes
	// writers inside this process.
	db.SetMaxOpenConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busy.Milliseconds()),
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store db: %w", err)
	}

	exec := NewResilientStore(RetryPolicy{MaxAttempts: cfg.MaxAttempts, BaseDelay: cfg.BaseDelay}, logger)
	return &DB{sql: db, exec: exec}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS agents (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			name             TEXT NOT NULL UNIQUE,
			description      TEXT NOT NULL DEFAULT '',
			instructions_ref TEXT NOT NULL DEFAULT '',
			persona_ref      TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS data_sources (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			name          TEXT NOT NULL UNIQUE,
			description   TEXT NOT NULL DEFAULT '',
			kind          TEXT NOT NULL,
			configuration TEXT NOT NULL DEFAULT '{}',
			enabled       INTEGER NOT NULL DEFAULT 1,
			created_at    TEXT NOT NULL,
			modified_at   TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS chat_requests (
			id      TEXT PRIMARY KEY,
			run_id  TEXT NOT NULL,
			message TEXT NOT NULL,
			agents  TEXT NOT NULL DEFAULT '[]',
			at      TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS chat_responses (
			id       TEXT PRIMARY KEY,
			run_id   TEXT NOT NULL,
			agent    TEXT NOT NULL,
			response TEXT NOT NULL,
			degraded INTEGER NOT NULL DEFAULT 0,
			failed   INTEGER NOT NULL DEFAULT 0,
			at       TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chat_requests_at ON chat_requests(at);
		CREATE INDEX IF NOT EXISTS idx_chat_responses_run ON chat_responses(run_id);
	`)
	return err
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

// Executor exposes the retrying executor so callers can reuse its policy.
func (d *DB) Executor() *ResilientStore {
	return d.exec
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
