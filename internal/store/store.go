// Package store provides the durable local database for driftsync.
//
// The store holds one relation per syncable table, the offline action queue,
// and a key/value settings table, all in an embedded SQLite database opened
// with WAL mode for concurrent reads. Every write API is transactional per
// call: a record write and its queued sync action commit or roll back
// together, so the queue can never disagree with the record tables.
//
// The schema is versioned with PRAGMA user_version. Each upgrade step is
// additive and idempotent, and running against a store already at a newer or
// equal version is a no-op.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/offlinehq/driftsync/internal/record"
)

// SchemaVersion is the current store schema version.
const SchemaVersion = 2

// Store wraps the SQLite connection with driftsync-specific functionality.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a store at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// Missing parent directories are created, and the schema is migrated to the
// current version. The caller MUST call Close() when done.
//
// Example:
//
//	st, err := store.Open(filepath.Join(dataDir, "drift.db"))
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	st := &Store{conn: conn, path: path}

	// WAL for concurrent readers during writes
	if _, err := st.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := st.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := st.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := st.migrate(context.Background()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return st, nil
}

// RawDB returns the underlying sql.DB connection.
func (st *Store) RawDB() *sql.DB {
	return st.conn
}

// Path returns the database file path.
func (st *Store) Path() string {
	return st.path
}

// Close closes the database connection after checkpointing the WAL.
func (st *Store) Close() error {
	if st.conn == nil {
		return nil
	}

	if _, err := st.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := st.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	st.conn = nil
	return nil
}

// Version returns the current schema version of the opened database.
func (st *Store) Version(ctx context.Context) (int, error) {
	var v int
	if err := st.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// migrate brings the schema up to SchemaVersion. Each step only runs when
// the stored version is below it, and every statement is IF NOT EXISTS, so
// re-running against an up-to-date or newer store is a no-op.
func (st *Store) migrate(ctx context.Context) error {
	version, err := st.Version(ctx)
	if err != nil {
		return err
	}

	if version < 1 {
		if err := st.migrateV1(ctx); err != nil {
			return fmt.Errorf("migration to v1 failed: %w", err)
		}
	}
	if version < 2 {
		if err := st.migrateV2(ctx); err != nil {
			return fmt.Errorf("migration to v2 failed: %w", err)
		}
	}

	if version < SchemaVersion {
		stmt := fmt.Sprintf("PRAGMA user_version=%d", SchemaVersion)
		if _, err := st.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	}

	return nil
}

// migrateV1 creates the record tables, the offline action queue, and the
// settings table.
func (st *Store) migrateV1(ctx context.Context) error {
	for _, table := range record.Tables() {
		stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			owner TEXT,
			date TEXT,
			updated_at TEXT NOT NULL,
			payload TEXT,
			needs_sync INTEGER NOT NULL DEFAULT 0,
			sync_status TEXT NOT NULL DEFAULT 'synced',
			last_synced_at TEXT
		)`, recordsTable(table))
		if _, err := st.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create %s: %w", recordsTable(table), err)
		}

		idx := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%[1]s_owner ON %[1]s(owner);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_needs_sync ON %[1]s(needs_sync);
		`, recordsTable(table))
		if _, err := st.conn.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to index %s: %w", recordsTable(table), err)
		}
	}

	queue := `
	CREATE TABLE IF NOT EXISTS offline_actions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		op TEXT NOT NULL,
		tbl TEXT NOT NULL,
		payload TEXT,
		enqueued_at TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := st.conn.ExecContext(ctx, queue); err != nil {
		return fmt.Errorf("failed to create queue and settings tables: %w", err)
	}

	return nil
}

// migrateV2 adds the by-date and by-owner-and-date indexes used by the
// date-range read paths.
func (st *Store) migrateV2(ctx context.Context) error {
	for _, table := range record.Tables() {
		idx := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%[1]s_date ON %[1]s(date);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_owner_date ON %[1]s(owner, date);
		`, recordsTable(table))
		if _, err := st.conn.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to index %s: %w", recordsTable(table), err)
		}
	}
	return nil
}

// recordsTable returns the relation name holding records for a table.
func recordsTable(table record.Table) string {
	return "records_" + table.String()
}

// ClearAll wipes every record table, the action queue, and settings.
// Used for logout/reset.
func (st *Store) ClearAll(ctx context.Context) error {
	tx, err := st.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range record.Tables() {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+recordsTable(table)); err != nil {
			return fmt.Errorf("failed to clear %s: %w", recordsTable(table), err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM offline_actions"); err != nil {
		return fmt.Errorf("failed to clear action queue: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM settings"); err != nil {
		return fmt.Errorf("failed to clear settings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear: %w", err)
	}
	return nil
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
