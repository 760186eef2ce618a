// Package container provides dependency injection and lifecycle management
// for the approval engine.
package container

import (
	"fmt"
	"time"
)

// Lock backends
const (
	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Engine   EngineConfig
	Redis    RedisConfig
	Lark     LarkConfig
	Metrics  MetricsConfig
	Flows    FlowsConfig
	Admin    AdminConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// AutoMigrate applies the embedded schema on start
	AutoMigrate bool
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// EngineConfig holds workflow engine and escalation sweep settings.
type EngineConfig struct {
	// SweepInterval is how often overdue steps are escalated. Zero disables the worker.
	SweepInterval time.Duration

	// SweepTimeout bounds a single sweep
	SweepTimeout time.Duration

	// SweepConcurrency bounds instances escalated in parallel
	SweepConcurrency int

	// SweepBatchSize is the page size used when a sweep lists instances
	SweepBatchSize int

	// LockBackend is "local" for a single process or "redis" for several
	LockBackend string
}

// RedisConfig holds the instance lock's Redis settings.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	LockTTL   time.Duration
	LockWait  time.Duration
}

// LarkConfig holds Lark messaging settings. Notifications are only logged
// when AppID is empty.
type LarkConfig struct {
	AppID         string
	AppSecret     string
	BaseURL       string
	ReceiveIDType string
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// FlowsConfig points at a YAML seed file applied on start
type FlowsConfig struct {
	SeedPath string
}

// AdminConfig decides who may skip, cancel and remediate
type AdminConfig struct {
	// Role grants admin authority through the org directory
	Role string

	// Users are admins regardless of the directory
	Users []string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/approval.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			AutoMigrate:     true,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Engine: EngineConfig{
			SweepInterval:    time.Minute,
			SweepTimeout:     5 * time.Minute,
			SweepConcurrency: 4,
			SweepBatchSize:   500,
			LockBackend:      LockBackendLocal,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "approval:lock",
			LockTTL:   30 * time.Second,
			LockWait:  10 * time.Second,
		},
		Lark: LarkConfig{
			ReceiveIDType: "user_id",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Admin: AdminConfig{
			Role: "workflow_admin",
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Engine.LockBackend {
	case LockBackendLocal:
	case LockBackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when engine.lock_backend is redis")
		}
	default:
		return fmt.Errorf("engine.lock_backend must be %q or %q, got %q", LockBackendLocal, LockBackendRedis, c.Engine.LockBackend)
	}

	if c.Engine.SweepInterval < 0 {
		return fmt.Errorf("engine.sweep_interval must not be negative")
	}

	// Lark credentials come as a pair
	if (c.Lark.AppID == "") != (c.Lark.AppSecret == "") {
		return fmt.Errorf("lark.app_id and lark.app_secret must be set together")
	}

	if c.Metrics.Enabled && c.Metrics.Path == "" {
		return fmt.Errorf("metrics.path is required when metrics are enabled")
	}

	return nil
}
