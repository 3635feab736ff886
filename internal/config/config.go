// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	DBPath         string
	JWTSecret      string
	AccessTokenTTL time.Duration
	RefreshTTL     time.Duration
	AllowedOrigins []string
	Environment    string

	// ProcessorURL is the external workflow processor webhook. Empty
	// means commands are answered with a configuration error result.
	ProcessorURL     string
	ProcessorTimeout time.Duration

	// PendingCommandTTL bounds how long an unanswered command stays
	// correlatable.
	PendingCommandTTL time.Duration

	// CommandRateLimit caps voice commands per user per minute.
	CommandRateLimit int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "3001"),
		DBPath:            getEnv("DB_PATH", "./data/tojvs.db"),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		AccessTokenTTL:    getEnvDuration("JWT_EXPIRES_IN", time.Hour),
		RefreshTTL:        getEnvDuration("JWT_REFRESH_EXPIRES_IN", 7*24*time.Hour),
		AllowedOrigins:    splitList(getEnv("ALLOWED_ORIGINS", "*")),
		Environment:       getEnv("APP_ENV", "development"),
		ProcessorURL:      getEnv("PROCESSOR_WEBHOOK_URL", ""),
		ProcessorTimeout:  getEnvDuration("PROCESSOR_TIMEOUT", 10*time.Second),
		PendingCommandTTL: getEnvDuration("PENDING_COMMAND_TTL", 5*time.Minute),
		CommandRateLimit:  getEnvInt("COMMAND_RATE_LIMIT", 10),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET cannot be empty")
	}
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}
	if c.PendingCommandTTL <= 0 {
		return fmt.Errorf("PENDING_COMMAND_TTL must be > 0")
	}
	if c.CommandRateLimit <= 0 {
		return fmt.Errorf("COMMAND_RATE_LIMIT must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment != "production"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
