// Package config provides configuration management for the oauth-bridge
// service. It handles loading configuration from environment variables with
// sensible defaults and validates the configuration so the service starts
// safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//
// Database Configuration:
//   - DATABASE_TYPE: Database type - "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./oauth_bridge.db)
//   - POSTGRES_HOST: PostgreSQL host (required if using PostgreSQL)
//   - POSTGRES_PORT: PostgreSQL port (default: 5432)
//   - POSTGRES_DB: PostgreSQL database name (required if using PostgreSQL)
//   - POSTGRES_USER: PostgreSQL username (required if using PostgreSQL)
//   - POSTGRES_PASSWORD: PostgreSQL password
//   - POSTGRES_SSL_MODE: PostgreSQL SSL mode (default: disable)
//
// Session Configuration:
//   - REDIS_ADDRESS: Redis server address for sessions (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - SESSION_SECRET: Session JWT signing secret (required, minimum 32 characters)
//   - SESSION_TTL: Application session lifetime (default: 24h)
//
// Provider Configuration:
//   - PROVIDER_CLIENT_ID: OAuth client id registered with the provider (required)
//   - PROVIDER_CLIENT_SECRET: OAuth client secret (required)
//   - PROVIDER_TOKEN_URL: Provider token endpoint (required)
//   - PROVIDER_API_BASE_URL: Provider resource endpoint base URL (required)
//   - PROVIDER_CONNECT_URL: Redirect hint returned with 401 responses (default: /oauth/connect)
//   - TOKEN_ENCRYPTION_KEY: Key for encrypting stored tokens (required)
//
// Token Lifecycle:
//   - ACCESS_REFRESH_WINDOW: On-demand early-refresh window (default: 5m)
//   - SWEEP_REFRESH_WINDOW: Sweeper proactive-refresh window (default: 15m)
//   - INACTIVITY_THRESHOLD: Inactive account cleanup threshold (default: 720h)
//   - SWEEPER_ENABLED: Enable the maintenance sweeper (default: true)
//   - SWEEP_INTERVAL: Sweeper cadence (default: 5m)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the oauth-bridge service.
// All fields correspond to environment variables that can be set to
// override the default values.
type Config struct {
	// Application settings
	Port     string // Server port number
	LogLevel string // Logging level (debug, info, warn, error)

	// Database configuration
	DatabaseType     string // Database type: "sqlite" or "postgres"
	DatabasePath     string // Path to SQLite database file
	PostgresHost     string // PostgreSQL host address
	PostgresPort     string // PostgreSQL port number
	PostgresDB       string // PostgreSQL database name
	PostgresUser     string // PostgreSQL username
	PostgresPassword string // PostgreSQL password
	PostgresSSLMode  string // PostgreSQL SSL mode (disable, require, etc.)

	// Session configuration
	RedisAddress  string        // Redis server address (host:port)
	RedisPassword string        // Redis authentication password
	RedisDB       string        // Redis database number (0-15)
	SessionSecret string        // Secret key for session JWT signing (required)
	SessionTTL    time.Duration // Application session lifetime

	// Provider configuration
	ProviderClientID     string // OAuth client id registered with the provider
	ProviderClientSecret string // OAuth client secret
	ProviderTokenURL     string // Provider token endpoint URL
	ProviderAPIBaseURL   string // Provider resource endpoint base URL
	ProviderConnectURL   string // Redirect hint for re-authentication
	TokenEncryptionKey   string // Key for encrypting stored tokens (required)

	// Token lifecycle policy
	AccessRefreshWindow time.Duration // On-demand early-refresh window
	SweepRefreshWindow  time.Duration // Sweeper proactive-refresh window
	InactivityThreshold time.Duration // Inactive account cleanup threshold
	SweeperEnabled      bool          // Whether the maintenance sweeper runs
	SweepInterval       time.Duration // Sweeper cadence
}

// Load creates a new Config instance with values loaded from environment
// variables. If an environment variable is not set, the corresponding
// default value is used.
//
// This function does not validate the configuration - call Validate() on the
// returned Config to ensure all required values are properly set and valid.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Database configuration
		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./oauth_bridge.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "oauth_bridge"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		// Session configuration
		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		SessionSecret: getEnv("SESSION_SECRET", ""),
		SessionTTL:    getDurationEnv("SESSION_TTL", 24*time.Hour),

		// Provider configuration
		ProviderClientID:     getEnv("PROVIDER_CLIENT_ID", ""),
		ProviderClientSecret: getEnv("PROVIDER_CLIENT_SECRET", ""),
		ProviderTokenURL:     getEnv("PROVIDER_TOKEN_URL", ""),
		ProviderAPIBaseURL:   getEnv("PROVIDER_API_BASE_URL", ""),
		ProviderConnectURL:   getEnv("PROVIDER_CONNECT_URL", "/oauth/connect"),
		TokenEncryptionKey:   getEnv("TOKEN_ENCRYPTION_KEY", ""),

		// Token lifecycle policy
		AccessRefreshWindow: getDurationEnv("ACCESS_REFRESH_WINDOW", 5*time.Minute),
		SweepRefreshWindow:  getDurationEnv("SWEEP_REFRESH_WINDOW", 15*time.Minute),
		InactivityThreshold: getDurationEnv("INACTIVITY_THRESHOLD", 30*24*time.Hour),
		SweeperEnabled:      getBoolEnv("SWEEPER_ENABLED", true),
		SweepInterval:       getDurationEnv("SWEEP_INTERVAL", 5*time.Minute),
	}
}

// getEnv retrieves an environment variable value or returns a default value if not set
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv retrieves a boolean environment variable value or returns a default value
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv retrieves a duration environment variable value or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate performs validation on the configuration to ensure all required
// fields are present and all values are valid. The application should call
// this method after loading configuration and before starting.
func (c *Config) Validate() error {
	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET environment variable is required")
	}

	if len(c.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 characters long for security")
	}

	if c.TokenEncryptionKey == "" {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY environment variable is required")
	}

	if c.ProviderClientID == "" {
		return fmt.Errorf("PROVIDER_CLIENT_ID environment variable is required")
	}

	if c.ProviderClientSecret == "" {
		return fmt.Errorf("PROVIDER_CLIENT_SECRET environment variable is required")
	}

	if c.ProviderTokenURL == "" {
		return fmt.Errorf("PROVIDER_TOKEN_URL environment variable is required")
	}

	if c.ProviderAPIBaseURL == "" {
		return fmt.Errorf("PROVIDER_API_BASE_URL environment variable is required")
	}

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	// Validate database type
	switch c.DatabaseType {
	case "sqlite", "postgres", "postgresql":
		// Valid database types
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	// Validate PostgreSQL config if using PostgreSQL
	if c.DatabaseType == "postgres" || c.DatabaseType == "postgresql" {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	}

	// Validate Redis config
	if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
		return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
	}

	// Validate lifecycle windows
	if c.AccessRefreshWindow <= 0 {
		return fmt.Errorf("ACCESS_REFRESH_WINDOW must be a positive duration")
	}
	if c.SweepRefreshWindow < c.AccessRefreshWindow {
		// The sweeper's lookahead must cover the on-demand window, otherwise
		// the two policies race on tokens inside the gap
		return fmt.Errorf("SWEEP_REFRESH_WINDOW must not be smaller than ACCESS_REFRESH_WINDOW")
	}
	if c.InactivityThreshold <= 0 {
		return fmt.Errorf("INACTIVITY_THRESHOLD must be a positive duration")
	}
	if c.SweeperEnabled && c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be a positive duration when the sweeper is enabled")
	}

	return nil
}
