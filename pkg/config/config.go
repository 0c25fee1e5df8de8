package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/openfortress/gatehouse/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Authz         AuthzConfig
	Sessions      SessionConfig
	Workflow      WorkflowConfig
	Bulk          BulkConfig
	Observability ObservabilityConfig
}

// ServerConfig holds health/metrics server configuration
type ServerConfig struct {
	Host            string
	HealthPort      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// StorageConfig holds Postgres and Redis connection settings
type StorageConfig struct {
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	// Redis backs the role template cache. Optional; empty disables it.
	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// AuthzConfig holds resolution engine settings
type AuthzConfig struct {
	// MaxHierarchyDepth bounds the role inheritance walk.
	MaxHierarchyDepth int
	// TaxonomyPath points at the YAML resource taxonomy. Empty uses the
	// built-in default.
	TaxonomyPath string
	// RoleCacheSize is the in-memory LRU capacity for role templates.
	RoleCacheSize int
	// RoleCacheTTL is how long cached role templates stay fresh.
	RoleCacheTTL time.Duration
}

// SessionConfig holds session manager settings
type SessionConfig struct {
	// MaxConcurrent caps a user's live sessions across organizations.
	MaxConcurrent int
	// TTL is the session lifetime from creation.
	TTL time.Duration
	// SweepSchedule is the cron spec for persisting lazily-expired sessions.
	SweepSchedule string
}

// WorkflowConfig holds access request workflow settings
type WorkflowConfig struct {
	// RequestTTL is how long a PENDING request stays reviewable.
	RequestTTL time.Duration
	// SweepSchedule is the cron spec for expiring stale PENDING requests.
	SweepSchedule string
}

// BulkConfig holds bulk operation coordinator settings
type BulkConfig struct {
	// Workers bounds concurrent item processing per operation.
	Workers int
	// ItemTimeout bounds a single item mutation.
	ItemTimeout time.Duration
}

// ObservabilityConfig holds logging and metrics settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("GATEHOUSE_HOST", "0.0.0.0"),
			HealthPort:      getEnv("GATEHOUSE_HEALTH_PORT", "9090"),
			ReadTimeout:     getEnvDuration("GATEHOUSE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("GATEHOUSE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Storage: StorageConfig{
			PostgresURL:      getEnv("GATEHOUSE_POSTGRES_URL", ""),
			PostgresMaxConns: getEnvInt("GATEHOUSE_POSTGRES_MAX_CONNS", 25),
			PostgresMinConns: getEnvInt("GATEHOUSE_POSTGRES_MIN_CONNS", 5),
			PostgresTimeout:  getEnvDuration("GATEHOUSE_POSTGRES_TIMEOUT", 30*time.Second),
			RedisURL:         getEnv("GATEHOUSE_REDIS_URL", ""),
			RedisPassword:    getEnv("GATEHOUSE_REDIS_PASSWORD", ""),
			RedisDB:          getEnvInt("GATEHOUSE_REDIS_DB", 0),
		},
		Authz: AuthzConfig{
			MaxHierarchyDepth: getEnvInt("GATEHOUSE_MAX_HIERARCHY_DEPTH", 16),
			TaxonomyPath:      getEnv("GATEHOUSE_TAXONOMY_PATH", ""),
			RoleCacheSize:     getEnvInt("GATEHOUSE_ROLE_CACHE_SIZE", 1024),
			RoleCacheTTL:      getEnvDuration("GATEHOUSE_ROLE_CACHE_TTL", 5*time.Minute),
		},
		Sessions: SessionConfig{
			MaxConcurrent: getEnvInt("GATEHOUSE_SESSION_MAX_CONCURRENT", 3),
			TTL:           getEnvDuration("GATEHOUSE_SESSION_TTL", 8*time.Hour),
			SweepSchedule: getEnv("GATEHOUSE_SESSION_SWEEP_SCHEDULE", "@every 1m"),
		},
		Workflow: WorkflowConfig{
			RequestTTL:    getEnvDuration("GATEHOUSE_REQUEST_TTL", 72*time.Hour),
			SweepSchedule: getEnv("GATEHOUSE_REQUEST_SWEEP_SCHEDULE", "@every 5m"),
		},
		Bulk: BulkConfig{
			Workers:     getEnvInt("GATEHOUSE_BULK_WORKERS", 4),
			ItemTimeout: getEnvDuration("GATEHOUSE_BULK_ITEM_TIMEOUT", 10*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLogLevel(getEnv("GATEHOUSE_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("GATEHOUSE_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Storage.PostgresMinConns > c.Storage.PostgresMaxConns {
		return fmt.Errorf("postgres min conns (%d) exceeds max conns (%d)",
			c.Storage.PostgresMinConns, c.Storage.PostgresMaxConns)
	}
	if c.Authz.MaxHierarchyDepth < 1 {
		return fmt.Errorf("max hierarchy depth must be positive, got %d", c.Authz.MaxHierarchyDepth)
	}
	if c.Sessions.MaxConcurrent < 1 {
		return fmt.Errorf("session concurrency cap must be positive, got %d", c.Sessions.MaxConcurrent)
	}
	if c.Sessions.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive, got %v", c.Sessions.TTL)
	}
	if c.Workflow.RequestTTL <= 0 {
		return fmt.Errorf("access request TTL must be positive, got %v", c.Workflow.RequestTTL)
	}
	if c.Bulk.Workers < 1 {
		return fmt.Errorf("bulk worker count must be positive, got %d", c.Bulk.Workers)
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
