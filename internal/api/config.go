// Package api provides the HTTP API server for the FloatChat service.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/floatchat-io/floatchat/internal/config"
)

const (
	defaultPort                  = 8080
	maxPort                      = 65535
	defaultHost                  = "0.0.0.0"
	defaultCORSMaxAge            = 86400
	defaultTimeout               = 30 * time.Second
	defaultLogLevel              = slog.LevelInfo
	defaultMaxUploadSize   int64 = 2 << 30 // 2 GiB
	defaultConfirmThreshold      = 10000
)

var (
	// ErrInvalidPort indicates the port number is outside valid range (1-65535).
	ErrInvalidPort = errors.New("invalid port")

	// ErrEmptyHost indicates the server host address is empty.
	ErrEmptyHost = errors.New("host cannot be empty")

	// ErrInvalidReadTimeout indicates the read timeout is zero or negative.
	ErrInvalidReadTimeout = errors.New("read timeout must be positive")

	// ErrInvalidWriteTimeout indicates the write timeout is zero or negative.
	ErrInvalidWriteTimeout = errors.New("write timeout must be positive")

	// ErrInvalidShutdownTimeout indicates the shutdown timeout is zero or negative.
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")

	// ErrInvalidMaxUploadSize indicates the upload size limit is zero or negative.
	ErrInvalidMaxUploadSize = errors.New("max upload size must be positive")
)

type (
	// ServerConfig holds HTTP server configuration. Pure configuration only,
	// no runtime dependencies.
	ServerConfig struct {
		Port                  int
		Host                  string
		ReadTimeout           time.Duration
		WriteTimeout          time.Duration
		ShutdownTimeout       time.Duration
		LogLevel              slog.Level
		MaxUploadSizeBytes    int64
		ConfirmationThreshold int64
		CORSAllowedOrigins    []string
		CORSAllowedMethods    []string
		CORSAllowedHeaders    []string
		CORSMaxAge            int
	}

	// CORSConfig holds CORS configuration options.
	CORSConfig struct {
		AllowedOrigins []string
		AllowedMethods []string
		AllowedHeaders []string
		MaxAge         int
	}
)

// LoadServerConfig loads server configuration from environment variables with
// sensible defaults.
//
// SSE streaming holds response connections open well past a typical write
// timeout, so FLOATCHAT_SERVER_WRITE_TIMEOUT defaults to 0 (disabled);
// per-request deadlines come from handler contexts instead.
func LoadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:                  config.GetEnvInt("FLOATCHAT_SERVER_PORT", defaultPort),
		Host:                  config.GetEnvStr("FLOATCHAT_SERVER_HOST", defaultHost),
		ReadTimeout:           config.GetEnvDuration("FLOATCHAT_SERVER_READ_TIMEOUT", defaultTimeout),
		WriteTimeout:          config.GetEnvDuration("FLOATCHAT_SERVER_WRITE_TIMEOUT", 0),
		ShutdownTimeout:       config.GetEnvDuration("FLOATCHAT_SERVER_TIMEOUT", defaultTimeout),
		LogLevel:              config.GetEnvLogLevel("LOG_LEVEL", defaultLogLevel),
		MaxUploadSizeBytes:    config.GetEnvInt64("MAX_UPLOAD_SIZE_BYTES", defaultMaxUploadSize),
		ConfirmationThreshold: config.GetEnvInt64("QUERY_CONFIRMATION_THRESHOLD", defaultConfirmThreshold),
		CORSAllowedOrigins: config.ParseCommaSeparatedList(
			config.GetEnvStr("FLOATCHAT_CORS_ALLOWED_ORIGINS", "*"),
		), // "*" is a development default, restrict in production
		CORSAllowedMethods: config.ParseCommaSeparatedList(
			config.GetEnvStr("FLOATCHAT_CORS_ALLOWED_METHODS", "GET,POST,PUT,PATCH,DELETE,OPTIONS"),
		),
		CORSAllowedHeaders: config.ParseCommaSeparatedList(
			config.GetEnvStr("FLOATCHAT_CORS_ALLOWED_HEADERS", "Content-Type,Authorization,X-Correlation-ID"),
		),
		CORSMaxAge: config.GetEnvInt("FLOATCHAT_CORS_MAX_AGE", defaultCORSMaxAge),
	}
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ToCORSConfig converts the CORS fields to the middleware's provider interface.
func (c *ServerConfig) ToCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowedOrigins: c.CORSAllowedOrigins,
		AllowedMethods: c.CORSAllowedMethods,
		AllowedHeaders: c.CORSAllowedHeaders,
		MaxAge:         c.CORSMaxAge,
	}
}

// GetAllowedOrigins returns the allowed origins for CORS.
func (c *CORSConfig) GetAllowedOrigins() []string {
	return c.AllowedOrigins
}

// GetAllowedMethods returns the allowed methods for CORS.
func (c *CORSConfig) GetAllowedMethods() []string {
	return c.AllowedMethods
}

// GetAllowedHeaders returns the allowed headers for CORS.
func (c *CORSConfig) GetAllowedHeaders() []string {
	return c.AllowedHeaders
}

// GetMaxAge returns the max age for CORS preflight cache.
func (c *CORSConfig) GetMaxAge() int {
	return c.MaxAge
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > maxPort {
		return fmt.Errorf("%w: %d, must be between 1 and %d", ErrInvalidPort, c.Port, maxPort)
	}

	if c.Host == "" {
		return ErrEmptyHost
	}

	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidReadTimeout, c.ReadTimeout)
	}

	if c.WriteTimeout < 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidWriteTimeout, c.WriteTimeout)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidShutdownTimeout, c.ShutdownTimeout)
	}

	if c.MaxUploadSizeBytes <= 0 {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidMaxUploadSize, c.MaxUploadSizeBytes)
	}

	return nil
}
