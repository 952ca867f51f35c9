// Package databasetest opens isolated SQLite databases for tests.
package databasetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/devhabit/devhabit/internal/database"
	"gorm.io/gorm"
)

// Open returns a fresh file-backed database under t.TempDir that is closed when the test ends.
// A file survives the pool discarding its only connection, which a named in-memory database does not.
func Open(t testing.TB, migrations ...func(context.Context, *gorm.DB) error) *gorm.DB {
	t.Helper()
	databaseURL := "sqlite:" + filepath.ToSlash(filepath.Join(t.TempDir(), "devhabit.db")) + "?_pragma=foreign_keys(1)"
	connection, err := database.Open(context.Background(), databaseURL)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = connection.Close() })
	for _, migrate := range migrations {
		if migrateErr := migrate(context.Background(), connection.DB); migrateErr != nil {
			t.Fatalf("migrate test database: %v", migrateErr)
		}
	}
	return connection.DB
}
