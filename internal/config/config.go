// Package config loads process configuration from environment variables and
// the terminal layout from an optional YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	Port        string

	DatabaseURL string
	DBDriver    string // pgx or sqlite; inferred from DatabaseURL when empty
	DBMigrate   bool

	RedisURL string

	AuthMode       string // dev or hmac
	AuthHMACSecret string

	RateRPS   float64
	RateBurst int

	WebhookMaxAttempts int

	TerminalConfig string // path to terminal YAML
	TerminalTZ     string // overrides the timezone in the terminal YAML

	Terminal Terminal
}

// Load reads the environment and the terminal file it points to.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:        getEnv("TERMSCHED_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBDriver:           strings.ToLower(getEnv("DB_DRIVER", "")),
		DBMigrate:          getEnvBool("DB_MIGRATE", true),
		RedisURL:           os.Getenv("REDIS_URL"),
		AuthMode:           strings.ToLower(getEnv("AUTH_MODE", "dev")),
		AuthHMACSecret:     os.Getenv("AUTH_HMAC_SECRET"),
		RateRPS:            getEnvFloat("RATE_RPS", 0),
		RateBurst:          getEnvInt("RATE_BURST", 20),
		WebhookMaxAttempts: getEnvInt("WEBHOOK_MAX_ATTEMPTS", 8),
		TerminalConfig:     os.Getenv("TERMINAL_CONFIG"),
		TerminalTZ:         os.Getenv("TERMINAL_TZ"),
	}

	if cfg.DBDriver == "" && cfg.DatabaseURL != "" {
		cfg.DBDriver = InferDriver(cfg.DatabaseURL)
	}

	term, err := LoadTerminal(cfg.TerminalConfig, cfg.TerminalTZ)
	if err != nil {
		return nil, err
	}
	cfg.Terminal = term

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.AuthMode {
	case "dev", "hmac":
	default:
		return fmt.Errorf("AUTH_MODE must be dev or hmac, got %q", c.AuthMode)
	}
	if c.AuthMode == "hmac" && c.AuthHMACSecret == "" {
		return fmt.Errorf("AUTH_HMAC_SECRET is required when AUTH_MODE=hmac")
	}
	switch c.DBDriver {
	case "", "pgx", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be pgx or sqlite, got %q", c.DBDriver)
	}
	if c.WebhookMaxAttempts < 1 {
		return fmt.Errorf("WEBHOOK_MAX_ATTEMPTS must be positive")
	}
	return nil
}

// InferDriver picks a database/sql driver name from a connection string.
func InferDriver(dsn string) string {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") || strings.Contains(lower, "host=") {
		return "pgx"
	}
	return "sqlite"
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}
