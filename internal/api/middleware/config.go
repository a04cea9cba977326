package middleware

import (
	"time"

	"github.com/floatchat-io/floatchat/internal/config"
)

// Config holds rate limiter configuration.
//
// Two tiers of requests-per-second limits apply: a global limit across all
// traffic and a per-client limit keyed by remote IP. Burst fields left at 0
// are computed as 2x the sustained rate.
type Config struct {
	GlobalRPS int // Default: 100
	ClientRPS int // Default: 20

	GlobalBurst int // Default: 0 (computed as 2 x GlobalRPS)
	ClientBurst int // Default: 0 (computed as 2 x ClientRPS)

	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxClients      int           // Default: 10,000
}

// LoadConfig loads rate limiter settings from environment variables.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS: config.GetEnvInt("FLOATCHAT_GLOBAL_RPS", defaultGlobalRPS),
		ClientRPS: config.GetEnvInt("FLOATCHAT_CLIENT_RPS", defaultClientRPS),

		GlobalBurst: config.GetEnvInt("FLOATCHAT_GLOBAL_BURST", 0),
		ClientBurst: config.GetEnvInt("FLOATCHAT_CLIENT_BURST", 0),

		CleanupInterval: config.GetEnvDuration("FLOATCHAT_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval),
		IdleTimeout:     config.GetEnvDuration("FLOATCHAT_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxClients:      config.GetEnvInt("FLOATCHAT_RATE_LIMIT_MAX_CLIENTS", defaultMaxClients),
	}
}
