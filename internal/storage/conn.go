package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Connect opens and pings the read-write database connection.
func Connect(ctx context.Context, cfg *Config) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return open(ctx, cfg, cfg.databaseURL)
}

// ConnectReadonly opens and pings the read-only database connection used by
// the query executor. A session-level statement timeout is applied on every
// new connection through the DSN options.
func ConnectReadonly(ctx context.Context, cfg *Config) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	url := cfg.readonlyURL
	if cfg.StatementTimeout > 0 {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url = fmt.Sprintf("%s%soptions=-c%%20statement_timeout%%3D%d", url, sep, cfg.StatementTimeout.Milliseconds())
	}

	return open(ctx, cfg, url)
}

func open(ctx context.Context, cfg *Config, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// isConnectionError reports whether a database error indicates a lost or
// unreachable connection rather than a statement-level failure. Used for
// transient/permanent retry classification.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"driver: bad connection",
		"i/o timeout",
		"no such host",
		"the database system is starting up",
		"the database system is shutting down",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}
