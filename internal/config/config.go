// Package config loads and validates application configuration from
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Transport    string // "stdio" or "http"
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Target database settings.
	DBDriver    string // "postgres" or "sqlite"
	DatabaseURL string // Postgres DSN.
	SQLitePath  string // SQLite file path, or ":memory:".

	// OpenAI settings.
	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAITemperature float64
	OpenAIBaseURL     string // Override for proxies and tests.

	// Agent settings.
	RowLimit      int // Default row cap when the caller supplies none.
	AgentMaxTurns int

	// Rate limiting.
	RateLimitEnabled   bool
	RateLimitPerMinute int // Default ceiling when the caller supplies none.

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible
// defaults.
func Load() (Config, error) {
	cfg := Config{
		Transport:          envStr("ASKDB_TRANSPORT", "http"),
		Port:               envInt("ASKDB_PORT", 8080),
		ReadTimeout:        envDuration("ASKDB_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:       envDuration("ASKDB_WRITE_TIMEOUT", 5*time.Minute),
		DBDriver:           envStr("ASKDB_DB_DRIVER", "postgres"),
		DatabaseURL:        envStr("DATABASE_URL", ""),
		SQLitePath:         envStr("ASKDB_SQLITE_PATH", ""),
		OpenAIAPIKey:       envStr("OPENAI_API_KEY", ""),
		OpenAIModel:        envStr("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAITemperature:  envFloat("OPENAI_TEMPERATURE", 0),
		OpenAIBaseURL:      envStr("OPENAI_BASE_URL", ""),
		RowLimit:           envInt("ASKDB_ROW_LIMIT", 10),
		AgentMaxTurns:      envInt("ASKDB_AGENT_MAX_TURNS", 15),
		RateLimitEnabled:   envBool("ASKDB_RATE_LIMIT_ENABLED", true),
		RateLimitPerMinute: envInt("ASKDB_RATE_LIMIT_PER_MINUTE", 60),
		OTELEndpoint:       envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:       envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:        envStr("OTEL_SERVICE_NAME", "askdb"),
		LogLevel:           envStr("ASKDB_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c Config) Validate() error {
	switch c.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("config: ASKDB_TRANSPORT must be \"stdio\" or \"http\" (got %q)", c.Transport)
	}

	switch c.DBDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required with ASKDB_DB_DRIVER=postgres")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("config: ASKDB_SQLITE_PATH is required with ASKDB_DB_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("config: ASKDB_DB_DRIVER must be \"postgres\" or \"sqlite\" (got %q)", c.DBDriver)
	}

	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("config: OPENAI_API_KEY is required")
	}
	if c.RowLimit <= 0 {
		return fmt.Errorf("config: ASKDB_ROW_LIMIT must be positive")
	}
	if c.AgentMaxTurns <= 0 {
		return fmt.Errorf("config: ASKDB_AGENT_MAX_TURNS must be positive")
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("config: ASKDB_RATE_LIMIT_PER_MINUTE must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
