package database

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"klips/internal/platform/config"
)

// NewDB opens the shared SQLite database. Tenancy is carried by the
// organization_id column of every table, so a single pool serves all orgs.
func NewDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", cfg.URL)
	if err != nil {
		return nil, err
	}

	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
