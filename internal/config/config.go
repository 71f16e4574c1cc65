// internal/config/config.go
// Centralized configuration management
// Loads from environment variables with sensible defaults

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all client configuration
type Config struct {
	// Server
	ServerURL   string // websocket endpoint, e.g. wss://push.vireo.social/ws
	Environment string

	// Handshake
	HandshakeTimeout time.Duration

	// Heartbeat
	PongWait  time.Duration // max silence before the link is considered dropped
	WriteWait time.Duration

	// Reconnect
	ReconnectWait    time.Duration // initial delay after a transport drop
	ReconnectMaxWait time.Duration // backoff cap
	ReconnectFactor  float64       // 1.0 keeps the delay fixed

	// Presence
	PresenceSettleDelay time.Duration // wait after connect before announcing ONLINE

	// Notifications
	GroupingWindow time.Duration // recency window for notification grouping

	// Cache
	RedisURL string // empty selects the in-memory store
	CacheTTL time.Duration

	// Ops endpoints
	MetricsAddr string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		ServerURL:   getEnv("REALTIME_SERVER_URL", "ws://localhost:8080/ws"),
		Environment: getEnv("ENVIRONMENT", "development"),

		HandshakeTimeout: getEnvDuration("HANDSHAKE_TIMEOUT", "10s"),

		PongWait:  getEnvDuration("PONG_WAIT", "60s"),
		WriteWait: getEnvDuration("WRITE_WAIT", "10s"),

		ReconnectWait:    getEnvDuration("RECONNECT_WAIT", "2s"),
		ReconnectMaxWait: getEnvDuration("RECONNECT_MAX_WAIT", "30s"),
		ReconnectFactor:  getEnvFloat("RECONNECT_FACTOR", 2.0),

		PresenceSettleDelay: getEnvDuration("PRESENCE_SETTLE_DELAY", "1s"),

		GroupingWindow: getEnvDuration("NOTIFICATION_GROUPING_WINDOW", "15m"),

		RedisURL: getEnv("REDIS_URL", ""),
		CacheTTL: getEnvDuration("CACHE_TTL", "24h"),

		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
	}
}

// PingPeriod derives the heartbeat send interval from PongWait. Pings must go
// out well before the read deadline or a healthy link gets dropped.
func (c *Config) PingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server URL is required")
	}

	if c.PongWait <= 0 || c.WriteWait <= 0 {
		return fmt.Errorf("heartbeat timeouts must be positive")
	}

	if c.ReconnectWait <= 0 {
		return fmt.Errorf("reconnect wait must be positive")
	}
	if c.ReconnectMaxWait < c.ReconnectWait {
		return fmt.Errorf("reconnect max wait must be >= reconnect wait")
	}
	if c.ReconnectFactor < 1.0 {
		return fmt.Errorf("reconnect factor must be >= 1.0")
	}

	if c.GroupingWindow <= 0 {
		return fmt.Errorf("notification grouping window must be positive")
	}

	return nil
}

// IsProduction returns true if running in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Helper functions

// getEnv gets a string value from environment with a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration gets a duration value from environment with a default
func getEnvDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}
	return duration
}

// getEnvFloat gets a float value from environment with a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
