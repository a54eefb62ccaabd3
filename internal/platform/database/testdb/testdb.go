// Package testdb provides migrated in-memory databases for package tests.
package testdb

import (
	"database/sql"
	"testing"
	"time"

	"klips/internal/platform/config"
	"klips/internal/platform/database"
)

// New returns a private in-memory database with every migration applied.
func New(t testing.TB) *sql.DB {
	t.Helper()

	db, err := database.NewDB(config.DatabaseConfig{URL: "file::memory:?_foreign_keys=on", MaxConnections: 1})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

// SeedOrg inserts a bare organization row so tenant-owned rows satisfy
// their foreign keys.
func SeedOrg(t testing.TB, db *sql.DB, id string) {
	t.Helper()

	now := time.Now().Unix()
	_, err := db.Exec(`INSERT INTO organizations (id, slug, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, id, id, now, now)
	if err != nil {
		t.Fatalf("seed organization %s: %v", id, err)
	}
}
