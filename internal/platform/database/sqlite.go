package database

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"keygate/internal/platform/config"
)

// Open connects to the sqlite store. The DSN is expected to carry
// _txlock=immediate and a busy timeout (see configs/config.yaml); every
// per-license read-modify-write runs inside a transaction, and the immediate
// lock makes those transactions serialize instead of conflicting at commit.
func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		return nil, err
	}

	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, nil
}
