// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// The same file holds two tables:
//   - profiles        the entitlement store when ENTITLEMENT_STORE=sqlite
//   - billing_events  the append-only log of verified provider notifications
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the binary builds
// without CGo and tests can run against ":memory:".
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and provides repository methods.
// It implements repository.ProfileRepository and repository.EventRepository.
type DB struct {
	conn *sql.DB
}

// New creates a new SQLite database connection and runs migrations.
//
// dbPath examples:
//   - "data/proservice.db"  → file-based database (persistent)
//   - ":memory:"            → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every pooled connection to ":memory:" would get its own empty database.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets webhook writes proceed while dashboard reads are in flight.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Concurrent deliveries contend for the write lock; wait instead of failing.
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database is reachable. Used by the health check.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate creates or updates the schema. Every step is idempotent.
func (db *DB) migrate() error {
	// Phase 1: profiles table, the shape of the managed "profiles" table.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS profiles (
			id         TEXT PRIMARY KEY,
			email      TEXT NOT NULL DEFAULT '',
			is_pro     INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating profiles table: %w", err)
	}

	// Phase 2: versioned entitlement and provider customer correlation.
	if err := db.addColumnIfNotExists("profiles", "entitlement_version",
		"INTEGER NOT NULL DEFAULT 0"); err != nil {
		return fmt.Errorf("adding entitlement_version to profiles: %w", err)
	}
	if err := db.addColumnIfNotExists("profiles", "entitlement_rank",
		"INTEGER NOT NULL DEFAULT 0"); err != nil {
		return fmt.Errorf("adding entitlement_rank to profiles: %w", err)
	}
	if err := db.addColumnIfNotExists("profiles", "stripe_customer_id",
		"TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("adding stripe_customer_id to profiles: %w", err)
	}
	_, err = db.conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_profiles_stripe_customer_id
			ON profiles(stripe_customer_id) WHERE stripe_customer_id != '';
	`)
	if err != nil {
		return fmt.Errorf("creating profiles customer index: %w", err)
	}

	// Phase 2: billing event log.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS billing_events (
			id           TEXT PRIMARY KEY,
			type         TEXT NOT NULL,
			payload      BLOB NOT NULL,
			status       TEXT NOT NULL,
			note         TEXT NOT NULL DEFAULT '',
			user_id      TEXT NOT NULL DEFAULT '',
			attempts     INTEGER NOT NULL DEFAULT 0,
			created_at   INTEGER NOT NULL DEFAULT 0,
			received_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			processed_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_billing_events_status ON billing_events(status, attempts, received_at);
	`)
	if err != nil {
		return fmt.Errorf("creating billing_events table: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
// Makes ALTER TABLE migrations idempotent.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil // column already exists
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}
