// Package db is the local SQLite data provider. It stores session
// records, pre-aggregated daily series and the report history, and
// answers the overview, driver and session queries of the
// dashboard.
package db

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is stored in PRAGMA user_version. Databases written
// by a newer build are refused rather than silently misread.
const schemaVersion = 1

// DB pairs a single-connection writer with a read-only pool. Writes
// are serialized through mu.
type DB struct {
	writer *sql.DB
	reader *sql.DB
	mu     sync.Mutex
}

// dsn returns the connection string for path. Both pools use WAL and
// a busy timeout; only the writer relaxes fsync.
func dsn(path string, readOnly bool) string {
	q := url.Values{
		"_journal_mode": {"WAL"},
		"_busy_timeout": {"5000"},
		"_cache_size":   {"-16000"},
	}
	if readOnly {
		q.Set("mode", "ro")
	} else {
		q.Set("_synchronous", "NORMAL")
	}
	return path + "?" + q.Encode()
}

// Open opens the database at path, creating the file, its directory
// and the schema as needed.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	writer, err := sql.Open("sqlite3", dsn(path, false))
	if err != nil {
		return nil, fmt.Errorf("opening writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	if err := migrate(writer); err != nil {
		writer.Close()
		return nil, err
	}

	reader, err := sql.Open("sqlite3", dsn(path, true))
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("opening reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	return wrap(writer, reader), nil
}

// wrap builds a DB over existing pools without touching the
// schema.
func wrap(writer, reader *sql.DB) *DB {
	return &DB{writer: writer, reader: reader}
}

// migrate applies the schema and stamps its version. The schema is
// idempotent, so reapplying it to a current database is a no-op.
func migrate(w *sql.DB) error {
	var version int
	if err := w.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf(
			"database schema version %d is newer than supported %d",
			version, schemaVersion,
		)
	}
	if _, err := w.Exec(schemaSQL); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	if version < schemaVersion {
		// PRAGMA does not accept bound parameters.
		stmt := fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)
		if _, err := w.Exec(stmt); err != nil {
			return fmt.Errorf("setting schema version: %w", err)
		}
	}
	return nil
}

// Close closes both pools.
func (db *DB) Close() error {
	if db.writer == db.reader {
		return db.writer.Close()
	}
	return errors.Join(db.writer.Close(), db.reader.Close())
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// inPlaceholders returns "?, ?, ?" for n arguments.
func inPlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
