// Package sqlite stores the execution journal in SQLite.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the binary builds
// without cgo. database/sql gives the usual pool:
//   - sql.DB   is a connection pool, not a single connection
//   - sql.Rows must be closed
//
// Open with sql.Open, run with QueryContext/ExecContext, read with Scan.
package sqlite

import (
	"database/sql"
	"fmt"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB pool and implements repository.ExecutionRepository.
type DB struct {
	conn *sql.DB
}

// New creates a new SQLite database connection and runs migrations.
//
// dbPath examples:
//   - "data/codetrace.db"   → file-based database (persistent)
//   - ":memory:"            → in-memory database (great for tests, lost on close)
//
// sql.Open only creates the pool; Ping forces a real connection so a bad path
// fails here instead of on the first query.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Each connection to ":memory:" opens its own empty database, so an
	// in-memory journal must stay on a single connection.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets journal reads proceed while a run is being recorded.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// A busy writer makes other writers wait instead of failing with SQLITE_BUSY.
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

// migrate runs all database migrations.
//
// CREATE TABLE IF NOT EXISTS keeps this safe to run on every start.
func (db *DB) migrate() error {
	// The journal stores run metadata only. Source text and events are
	// never persisted: they are the caller's data and can be large.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			id           TEXT PRIMARY KEY,
			language     TEXT NOT NULL,
			failed       INTEGER NOT NULL DEFAULT 0,
			message      TEXT NOT NULL DEFAULT '',
			event_count  INTEGER NOT NULL DEFAULT 0,
			source_bytes INTEGER NOT NULL DEFAULT 0,
			duration_ms  INTEGER NOT NULL DEFAULT 0,
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating executions table: %w", err)
	}

	if err := db.addColumnIfNotExists("executions", "request_id",
		"TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("adding request_id to executions: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_executions_language ON executions(language, created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating executions language index: %w", err)
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
