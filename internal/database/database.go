// Package database provides database connection management and utilities.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const pingTimeout = 5 * time.Second

// Config holds database configuration settings.
type Config struct {
	Driver             string
	ConnectionString   string
	MaxOpenConnections int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// Connect opens the local store and verifies it answers.
//
// SQLite allows a single writer, so its pool is capped at one connection and the DSN
// always carries a busy timeout. An in-memory SQLite database lives only as long as its
// connection, so that connection is never recycled.
func Connect(cfg Config) (*sql.DB, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.ConnectionString
	maxOpen, maxIdle, lifetime := cfg.MaxOpenConnections, cfg.MaxIdleConnections, cfg.ConnMaxLifetime
	if dialect == DialectSQLite {
		dsn = withSQLitePragmas(dsn)
		maxOpen, maxIdle = 1, 1
		if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
			lifetime = 0
		}
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// withSQLitePragmas adds the pragmas the engine relies on unless the DSN sets them.
func withSQLitePragmas(dsn string) string {
	var missing []string
	if !strings.Contains(dsn, "busy_timeout") {
		missing = append(missing, "_pragma=busy_timeout(5000)")
	}
	if !strings.Contains(dsn, "foreign_keys") {
		missing = append(missing, "_pragma=foreign_keys(1)")
	}
	if len(missing) == 0 {
		return dsn
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(missing, "&")
}
