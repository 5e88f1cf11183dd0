// Package sqlite provides a SQLite-backed result store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/gpahub/internal/store"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS programs (
	name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS regulations (
	program TEXT NOT NULL,
	year    TEXT NOT NULL,
	PRIMARY KEY (program, year)
);

CREATE TABLE IF NOT EXISTS institutes (
	program    TEXT NOT NULL,
	regulation TEXT NOT NULL,
	code       TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	district   TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (program, regulation, code)
);

CREATE TABLE IF NOT EXISTS students (
	program        TEXT NOT NULL,
	regulation     TEXT NOT NULL,
	institute_code TEXT NOT NULL,
	roll           TEXT NOT NULL,
	cgpa           REAL,
	updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (program, regulation, institute_code, roll)
);

CREATE INDEX IF NOT EXISTS idx_students_roll ON students(program, regulation, roll);

CREATE TABLE IF NOT EXISTS gpa_records (
	program        TEXT NOT NULL,
	regulation     TEXT NOT NULL,
	institute_code TEXT NOT NULL,
	roll           TEXT NOT NULL,
	semester       INTEGER NOT NULL CHECK (semester BETWEEN 1 AND 8),
	gpa            REAL CHECK (gpa IS NULL OR gpa BETWEEN 0 AND 4),
	is_reference   INTEGER NOT NULL DEFAULT 0,
	ref_subjects   TEXT NOT NULL DEFAULT '[]',
	updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (program, regulation, institute_code, roll, semester)
);

CREATE TABLE IF NOT EXISTS cgpa_records (
	program         TEXT NOT NULL,
	regulation      TEXT NOT NULL,
	institute_code  TEXT NOT NULL,
	roll            TEXT NOT NULL,
	label           TEXT NOT NULL,
	cgpa            REAL NOT NULL,
	calculated_from TEXT NOT NULL DEFAULT 'gradesheet',
	updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (program, regulation, institute_code, roll, label)
);
`

// DB is a result store on a SQLite database file.
type DB struct {
	name string
	path string
	conn *sql.DB
}

var _ store.Store = (*DB)(nil)

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(name, path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &DB{name: name, path: path, conn: conn}, nil
}

// Connector opens a fresh handle on the same file for each caller.
func Connector(name, path string) store.Connector {
	return func(context.Context) (store.Store, error) {
		return Open(name, path)
	}
}

func (db *DB) Name() string   { return db.name }
func (db *DB) Driver() string { return store.DriverSQLite }

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
