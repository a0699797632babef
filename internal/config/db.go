package config

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// Open connects to MySQL or SQLite and verifies the connection.
// MySQL DSNs need parseTime=true so DATETIME columns scan into time.Time.
func Open(ctx context.Context, cfg DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	switch cfg.Driver {
	case "sqlite3":
		// one connection serializes writers and keeps pragmas applied
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	default:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(10 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == "sqlite3" {
		for _, p := range sqlitePragmas {
			if _, err := db.ExecContext(ctx, p); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("apply %q: %w", p, err)
			}
		}
	}
	return db, nil
}
