package db

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// OpenTest opens a fully migrated ledger in t.TempDir() and registers
// cleanup. Tests get the same single-writer pool the agent runs with.
func OpenTest(t *testing.T) *sql.DB {
	t.Helper()

	pool, err := Open(filepath.Join(t.TempDir(), "ledger.sqlite"))
	if err != nil {
		t.Fatalf("open test ledger: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	if err := Migrate(pool); err != nil {
		t.Fatalf("migrate test ledger: %v", err)
	}
	return pool
}
