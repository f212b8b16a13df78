// Package config provides configuration loading for the chat client.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the chat client.
type Config struct {
	// Platform settings
	PlatformURL  string
	JWKSEndpoint string

	// JWT settings
	JWTAudience string
	JWTIssuer   string

	// Local state
	StateDBPath string

	// Metrics endpoint; empty disables the listener.
	MetricsAddr string

	// Dedup window settings
	DedupWindow     time.Duration
	DedupMaxEntries int

	// Batch debounce settings
	BatchActiveThreshold time.Duration
	BatchIdleThreshold   time.Duration
	BatchActiveDelay     time.Duration
	BatchNormalDelay     time.Duration
	BatchIdleDelay       time.Duration

	// Reconnect backoff settings
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// WebSocket settings
	WSHandshakeTimeout time.Duration
	WSReadBufferSize   int
	WSWriteBufferSize  int
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when present; real environment variables win.
func Load() (*Config, error) {
	// Ignore the error: a missing .env file is the normal case.
	_ = godotenv.Load()

	cfg := &Config{
		PlatformURL:  getEnv("PLATFORM_URL", ""),
		JWKSEndpoint: getEnv("JWKS_ENDPOINT", ""),

		// JWT settings - issuer derived from platform URL by default
		JWTAudience: getEnv("JWT_AUDIENCE", "chat-client"),
		JWTIssuer:   getEnv("JWT_ISSUER", ""),

		StateDBPath: getEnv("STATE_DB_PATH", "chat-client.db"),
		MetricsAddr: getEnv("METRICS_ADDR", ""),

		DedupWindow:     getEnvDuration("DEDUP_WINDOW", 30*time.Second),
		DedupMaxEntries: getEnvInt("DEDUP_MAX_ENTRIES", 4000),

		BatchActiveThreshold: getEnvDuration("BATCH_ACTIVE_THRESHOLD", 200*time.Millisecond),
		BatchIdleThreshold:   getEnvDuration("BATCH_IDLE_THRESHOLD", 1*time.Second),
		BatchActiveDelay:     getEnvDuration("BATCH_ACTIVE_DELAY", 150*time.Millisecond),
		BatchNormalDelay:     getEnvDuration("BATCH_NORMAL_DELAY", 300*time.Millisecond),
		BatchIdleDelay:       getEnvDuration("BATCH_IDLE_DELAY", 500*time.Millisecond),

		BackoffBase: getEnvDuration("BACKOFF_BASE", 1*time.Second),
		BackoffCap:  getEnvDuration("BACKOFF_CAP", 30*time.Second),

		// WebSocket buffer sizes
		WSHandshakeTimeout: getEnvDuration("WS_HANDSHAKE_TIMEOUT", 10*time.Second),
		WSReadBufferSize:   getEnvInt("WS_READ_BUFFER_SIZE", 4096),
		WSWriteBufferSize:  getEnvInt("WS_WRITE_BUFFER_SIZE", 1024),
	}

	if cfg.PlatformURL == "" {
		return nil, fmt.Errorf("PLATFORM_URL is required")
	}

	// Derive JWKS endpoint if not set
	if cfg.JWKSEndpoint == "" {
		cfg.JWKSEndpoint = cfg.PlatformURL + "/.well-known/jwks.json"
	}

	// Derive JWT issuer from platform URL if not explicitly set
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = cfg.PlatformURL
	}

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
