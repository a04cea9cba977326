package main

import (
	"fmt"
	"net/url"
	"os"
)

// Config carries the migrator settings. The migrator runs before any
// FloatChat service comes up, so it reads its environment directly rather
// than sharing the services' configuration packages.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string for the read-write
	// role. The target database must allow CREATE EXTENSION postgis; the
	// read-only query role never owns schema objects.
	DatabaseURL string

	// MigrationTable is the table golang-migrate uses to record applied
	// versions.
	MigrationTable string
}

// LoadConfig reads the migrator configuration from the environment.
func LoadConfig() (*Config, error) {
	config := &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		MigrationTable: envOrDefault("MIGRATION_TABLE", "schema_migrations"),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate rejects configurations the migration runner cannot work with.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL cannot be empty")
	}

	if c.MigrationTable == "" {
		return fmt.Errorf("MIGRATION_TABLE cannot be empty")
	}

	return nil
}

// String renders the configuration with the database password masked.
func (c *Config) String() string {
	return fmt.Sprintf("Config{DatabaseURL: %s, MigrationTable: %s}",
		maskDatabaseURL(c.DatabaseURL), c.MigrationTable)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}

// maskDatabaseURL hides the password portion of a connection URL so the
// configuration is safe to log. URLs that do not parse are returned unchanged.
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}

	if _, hasPassword := u.User.Password(); !hasPassword {
		return raw
	}

	u.User = url.UserPassword(u.User.Username(), "***")

	return u.String()
}
