// Package teststore spins up a migrated throwaway sqlite store for tests.
package teststore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/autopostd/autopostd/internal/profile"
	"github.com/autopostd/autopostd/store"
	"github.com/autopostd/autopostd/store/db"
)

// New returns a store backed by a file under t.TempDir, migrated and closed
// via t.Cleanup.
func New(t *testing.T) *store.Store {
	t.Helper()

	p := &profile.Profile{
		Mode:   "dev",
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db") + "?_pragma=busy_timeout(10000)",
		Token:  "1000001:test",
	}
	driver, err := db.NewDBDriver(p)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := driver.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() {
		if err := driver.Close(); err != nil {
			t.Errorf("close test db: %v", err)
		}
	})
	return store.New(driver, p)
}
