// Package sqlite implements the relational storage layer (Integrations,
// Tenants, Raw Store, Job Registry, Target rows, key/value store) on top of
// database/sql and mattn/go-sqlite3.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/ternarybob/arbor"
)

// DB wraps a *sql.DB with the connection pragmas this platform's storage
// layer always sets: WAL mode for concurrent readers alongside a single
// writer, and foreign_keys on.
type DB struct {
	conn   *sql.DB
	logger arbor.ILogger
}

// Open creates (if needed) the parent directory for path and opens a SQLite
// connection with WAL journaling, then applies the schema.
func Open(path string, logger arbor.ILogger) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory %s: %w", dir, err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}

	// A single open connection serializes every query and transaction on
	// this DB, which avoids SQLITE_BUSY between concurrent writers.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, logger: logger}
	if err := db.applySchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn exposes the underlying *sql.DB for packages that need raw access
// (e.g. test setup).
func (db *DB) Conn() *sql.DB {
	return db.conn
}
