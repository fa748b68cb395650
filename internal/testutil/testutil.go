// Package testutil provides shared test helpers for setting up link stores.
package testutil

import (
	"os"
	"testing"

	"github.com/krezek/linktrace/internal/store"
)

// TestStore creates a temporary SQLite link store that is automatically cleaned up.
func TestStore(t *testing.T) *store.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "linktrace-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := store.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
