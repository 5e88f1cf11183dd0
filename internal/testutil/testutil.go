// Package testutil provides shared test helpers for setting up stores and inbox directories.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/gpahub/internal/store/sqlite"
)

// SQLitePath returns a temporary database path that is removed after the test.
func SQLitePath(t *testing.T) string {
	t.Helper()
	dbFile, err := os.CreateTemp("", "gpahub-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() {
		os.Remove(dbFile.Name())
		os.Remove(dbFile.Name() + "-wal")
		os.Remove(dbFile.Name() + "-shm")
	})
	return dbFile.Name()
}

// TestSQLite opens a temporary SQLite store named name that is closed after the test.
func TestSQLite(t *testing.T, name string) (*sqlite.DB, string) {
	t.Helper()
	path := SQLitePath(t)
	db, err := sqlite.Open(name, path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db, path
}

// WriteGradesheet writes text under <inbox>/<program>/<regulation>/<name>
// and returns the file path.
func WriteGradesheet(t *testing.T, inbox, program, regulation, name, text string) string {
	t.Helper()
	dir := filepath.Join(inbox, program, regulation)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
