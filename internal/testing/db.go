// Package testing provides testing utilities and helpers for the rebalancer project.
package testing

import (
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/aristath/rebalancer/internal/database"
	_ "github.com/mattn/go-sqlite3"
)

// NewTestDB creates a file-backed SQLite database for testing with automatic schema migration.
// Returns the database instance and a cleanup function that closes the connection.
//
// Supported schema names:
//   - "portfolio" - applies portfolio_schema.sql
//   - "history" - applies history_schema.sql
//   - Unknown names - creates empty database (no schema applied)
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp(t.TempDir(), fmt.Sprintf("test_%s_*.db", name))
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	profile := database.ProfileStandard
	if name == "portfolio" {
		profile = database.ProfileLedger
	}

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	return db, func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	}
}

// NewMemoryDB opens an in-memory go-sqlite3 database with the named embedded schema applied.
// The pool is pinned to one connection so every query sees the same in-memory database.
// The connection is closed when the test finishes.
func NewMemoryDB(t *testing.T, name string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	schema, ok, err := database.Schema(name)
	if err != nil {
		t.Fatalf("Failed to load schema %s: %v", name, err)
	}
	if ok {
		if _, err := db.Exec(schema); err != nil {
			t.Fatalf("Failed to apply schema %s: %v", name, err)
		}
	}

	return db
}
