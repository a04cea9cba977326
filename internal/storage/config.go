// Package storage implements PostgreSQL persistence for the FloatChat
// platform: dataset, job, profile, embedding, region, and chat stores, plus
// connection management for the write and read-only roles.
package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/floatchat-io/floatchat/internal/config"
)

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = time.Hour
	defaultConnMaxIdleTime = 10 * time.Minute
	defaultInsertBatchSize = 1000
	defaultStatementTime   = 30 * time.Second
)

var (
	// ErrDatabaseURLEmpty is returned when the database url is an empty string.
	ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")
)

// Config holds PostgreSQL connection configuration for both database roles.
//
// The URLs stay private so they cannot leak into logs accidentally; use
// String() or the masking helpers for logging.
type Config struct {
	databaseURL string
	readonlyURL string

	MaxOpenConns    int           // Maximum number of open connections
	MaxIdleConns    int           // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of connections
	ConnMaxIdleTime time.Duration // Maximum idle time for connections

	// InsertBatchSize bounds multi-row measurement inserts.
	InsertBatchSize int

	// StatementTimeout applies per-session to read-only query execution.
	StatementTimeout time.Duration
}

// LoadConfig loads PostgreSQL configuration from environment variables with
// fallback to defaults. READONLY_DATABASE_URL falls back to DATABASE_URL so a
// single-role development setup still works; production deployments point it
// at a SELECT-only role.
func LoadConfig() *Config {
	databaseURL := config.GetEnvStr("DATABASE_URL", "")

	return &Config{
		databaseURL:      databaseURL, // private for obvious reasons
		readonlyURL:      config.GetEnvStr("READONLY_DATABASE_URL", databaseURL),
		MaxOpenConns:     config.GetEnvInt("DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
		MaxIdleConns:     config.GetEnvInt("DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime:  config.GetEnvDuration("DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime:  config.GetEnvDuration("DATABASE_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
		InsertBatchSize:  config.GetEnvInt("DB_INSERT_BATCH_SIZE", defaultInsertBatchSize),
		StatementTimeout: config.GetEnvDuration("QUERY_STATEMENT_TIMEOUT", defaultStatementTime),
	}
}

// Validate checks if the PostgreSQL configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.databaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	return nil
}

// DatabaseURL returns the read-write connection string.
func (c *Config) DatabaseURL() string {
	return c.databaseURL
}

// ReadonlyURL returns the read-only connection string.
func (c *Config) ReadonlyURL() string {
	return c.readonlyURL
}

// String returns a log-safe representation with passwords masked.
func (c *Config) String() string {
	return fmt.Sprintf("Config{DatabaseURL: %s, ReadonlyURL: %s, MaxOpenConns: %d, InsertBatchSize: %d}",
		MaskDatabaseURL(c.databaseURL), MaskDatabaseURL(c.readonlyURL), c.MaxOpenConns, c.InsertBatchSize)
}

// MaskDatabaseURL masks the password portion of a database URL for logging.
func MaskDatabaseURL(url string) string {
	if url == "" {
		return ""
	}

	authStart := strings.Index(url, "//")
	if authStart == -1 {
		return url
	}
	authStart += 2

	// Use the LAST "@" in the authority section in case the password contains "@".
	atPos := -1
	for i := authStart; i < len(url); i++ {
		if url[i] == '@' {
			atPos = i
		}
		if url[i] == '/' || url[i] == '?' || url[i] == '#' {
			break
		}
	}

	if atPos == -1 {
		return url
	}

	colonPos := strings.Index(url[authStart:atPos], ":")
	if colonPos == -1 {
		return url
	}
	colonPos += authStart

	if atPos-(colonPos+1) == 0 {
		return url
	}

	return url[:colonPos+1] + "***" + url[atPos:]
}
