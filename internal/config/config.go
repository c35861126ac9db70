package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port        string
	Environment string
	LogLevel    string

	// Database
	DatabaseURL string

	// JWT
	JWTSecret string

	// Background Workers
	WorkerCount int

	// Sentry
	SentryDSN string

	// Recompute batch
	Recompute RecomputeConfig

	// Holidays skipped when rolling maturity dates to a business day
	Holidays []time.Time
}

// RecomputeConfig tunes the batch recompute loop
type RecomputeConfig struct {
	PageSize   int           `yaml:"page_size"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxRetries int           `yaml:"max_retries"`
	Interval   time.Duration `yaml:"interval"`
	Enabled    bool          `yaml:"enabled"`

	// MaintenanceInterval spaces the purge and orphan cleanup jobs
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
}

// fileConfig is the optional YAML overlay pointed to by LEDGER_CONFIG
type fileConfig struct {
	Recompute *RecomputeConfig `yaml:"recompute"`
	Holidays  []string         `yaml:"holidays"`
	LogLevel  string           `yaml:"log_level"`
}

const dateLayout = "2006-01-02"

// Load reads configuration from environment variables, then applies the
// YAML file named by LEDGER_CONFIG when it is set.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		WorkerCount: getEnvAsInt("WORKER_COUNT", 2),
		SentryDSN:   getEnv("SENTRY_DSN", ""),
		Recompute: RecomputeConfig{
			PageSize:   getEnvAsInt("RECOMPUTE_PAGE_SIZE", 50),
			Backoff:    getEnvAsDuration("RECOMPUTE_BACKOFF", 5*time.Second),
			MaxRetries: getEnvAsInt("RECOMPUTE_MAX_RETRIES", 0),
			Interval:   getEnvAsDuration("RECOMPUTE_INTERVAL", 15*time.Minute),
			Enabled:    getEnvAsBool("RECOMPUTE_ENABLED", true),

			MaintenanceInterval: getEnvAsDuration("RECOMPUTE_MAINTENANCE_INTERVAL", 24*time.Hour),
		},
	}

	holidays := getEnvAsSlice("HOLIDAYS", nil)

	if path := os.Getenv("LEDGER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if fc.Recompute != nil {
			cfg.Recompute = mergeRecompute(cfg.Recompute, *fc.Recompute)
		}
		if len(fc.Holidays) > 0 {
			holidays = fc.Holidays
		}
		if fc.LogLevel != "" {
			cfg.LogLevel = fc.LogLevel
		}
	}

	for _, raw := range holidays {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		day, err := time.Parse(dateLayout, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", raw, err)
		}
		cfg.Holidays = append(cfg.Holidays, day)
	}

	// Validate required configuration
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" && cfg.Environment == "production" {
		return nil, fmt.Errorf("JWT_SECRET is required in production")
	}

	// Set default JWT secret for development
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret-change-in-production"
	}

	if cfg.Recompute.PageSize <= 0 {
		return nil, fmt.Errorf("RECOMPUTE_PAGE_SIZE must be positive, got %d", cfg.Recompute.PageSize)
	}
	if cfg.Recompute.MaxRetries < 0 {
		return nil, fmt.Errorf("RECOMPUTE_MAX_RETRIES must not be negative")
	}
	if cfg.Recompute.Interval <= 0 || cfg.Recompute.MaintenanceInterval <= 0 {
		return nil, fmt.Errorf("RECOMPUTE_INTERVAL and RECOMPUTE_MAINTENANCE_INTERVAL must be positive")
	}

	return cfg, nil
}

// IsProduction reports whether the app runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func mergeRecompute(base, override RecomputeConfig) RecomputeConfig {
	if override.PageSize != 0 {
		base.PageSize = override.PageSize
	}
	if override.Backoff != 0 {
		base.Backoff = override.Backoff
	}
	if override.MaxRetries != 0 {
		base.MaxRetries = override.MaxRetries
	}
	if override.Interval != 0 {
		base.Interval = override.Interval
	}
	if override.Enabled {
		base.Enabled = true
	}
	if override.MaintenanceInterval != 0 {
		base.MaintenanceInterval = override.MaintenanceInterval
	}
	return base
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads an environment variable as integer
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice reads an environment variable as comma-separated slice
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
