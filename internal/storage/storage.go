// Package storage provides persistent storage using SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage provides persistent storage for the lockbridge daemon.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance backed by a file in the data directory.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "lockbridge.db")
	return open(dbPath + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
}

// NewInMemory creates a Storage backed by an in-memory database. Used by
// tests and throwaway deployments.
func NewInMemory() (*Storage, error) {
	return open("file::memory:?cache=shared")
}

func open(dsn string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{db: db, dbPath: dsn}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- Swaps: one row per hashlock/timelock swap
	CREATE TABLE IF NOT EXISTS swaps (
		id TEXT PRIMARY KEY,
		direction TEXT NOT NULL,
		from_chain TEXT NOT NULL,
		to_chain TEXT NOT NULL,
		from_token TEXT NOT NULL,
		to_token TEXT NOT NULL,
		amount INTEGER NOT NULL,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		hashlock TEXT NOT NULL,
		secret TEXT,
		timelock_deadline INTEGER NOT NULL,
		status TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		claimed_at INTEGER,
		refunded_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_swaps_status ON swaps(status);
	CREATE INDEX IF NOT EXISTS idx_swaps_deadline ON swaps(timelock_deadline);

	-- Failure events observed per swap, in detection order
	CREATE TABLE IF NOT EXISTS failure_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		swap_id TEXT NOT NULL,
		failure_type TEXT NOT NULL,
		details TEXT,
		ethereum_height INTEGER NOT NULL DEFAULT 0,
		cosmos_height INTEGER NOT NULL DEFAULT 0,
		detected_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_failures_swap ON failure_events(swap_id, id);

	-- Recovery actions scheduled per swap, in schedule order
	CREATE TABLE IF NOT EXISTS recovery_actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		swap_id TEXT NOT NULL,
		action TEXT NOT NULL,
		recovery_id TEXT NOT NULL,
		scheduled_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_actions_swap ON recovery_actions(swap_id, id);

	-- Recovery attempts: timer-fired recovery work items
	CREATE TABLE IF NOT EXISTS recovery_attempts (
		id TEXT PRIMARY KEY,
		swap_id TEXT NOT NULL,
		action TEXT NOT NULL,
		delay_seconds INTEGER NOT NULL,
		max_attempts INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		scheduled_execution INTEGER NOT NULL,
		execution_start INTEGER,
		execution_end INTEGER,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_attempts_due ON recovery_attempts(status, scheduled_execution);
	CREATE INDEX IF NOT EXISTS idx_attempts_swap ON recovery_attempts(swap_id);

	-- Escalations: swaps handed off to manual intervention
	CREATE TABLE IF NOT EXISTS escalations (
		id TEXT PRIMARY KEY,
		swap_id TEXT UNIQUE NOT NULL,
		reason TEXT NOT NULL,
		priority TEXT NOT NULL,
		assigned_to TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	-- Resolver inventory balances per (chain, token)
	CREATE TABLE IF NOT EXISTS inventory (
		chain TEXT NOT NULL,
		token TEXT NOT NULL,
		available INTEGER NOT NULL,
		reserved INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (chain, token)
	);

	-- Inventory reservations held by executing resolutions
	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		chain TEXT NOT NULL,
		token TEXT NOT NULL,
		amount INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		resolved_at INTEGER
	);

	-- Resolutions: accepted swap work with step checklist
	CREATE TABLE IF NOT EXISTS resolutions (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		resolver_id TEXT NOT NULL,
		secret TEXT NOT NULL,
		secret_hash TEXT NOT NULL,
		status TEXT NOT NULL,
		profit_estimate REAL NOT NULL,
		gas_cost REAL NOT NULL,
		actual_profit REAL,
		steps TEXT NOT NULL,
		reservation_id TEXT NOT NULL,
		from_chain TEXT NOT NULL,
		from_token TEXT NOT NULL,
		amount INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		completed_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_resolutions_status ON resolutions(status);
	CREATE INDEX IF NOT EXISTS idx_resolutions_order ON resolutions(order_id);

	-- Partial fill orders with Merkle-committed secrets
	CREATE TABLE IF NOT EXISTS partial_orders (
		id TEXT PRIMARY KEY,
		maker TEXT NOT NULL,
		total_amount INTEGER NOT NULL,
		filled_amount INTEGER NOT NULL DEFAULT 0,
		merkle_root TEXT NOT NULL,
		secrets TEXT NOT NULL,
		current_fill_level INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		maker_denom TEXT NOT NULL,
		taker_denom TEXT NOT NULL,
		expiration INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_partial_status ON partial_orders(status);

	-- Fill operations per partial order, in commit order
	CREATE TABLE IF NOT EXISTS fill_operations (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		op_type TEXT NOT NULL,
		resolver TEXT NOT NULL,
		amount INTEGER NOT NULL,
		secret_index INTEGER NOT NULL,
		block_height INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_fills_order ON fill_operations(order_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Helpers
// =============================================================================

// expandPath expands ~ to the home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

// timeToUnixOrNil converts a time pointer to a unix-seconds pointer.
func timeToUnixOrNil(t *time.Time) *int64 {
	if t == nil || t.IsZero() {
		return nil
	}
	ts := t.Unix()
	return &ts
}

// unixToTimeOrNil converts a nullable unix column to a time pointer.
func unixToTimeOrNil(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}

// isUniqueConstraintError reports whether err is a sqlite unique violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
