package config

import (
	"github.com/garyjia/approval-engine/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			AutoMigrate:     c.Database.AutoMigrate,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
		Engine: container.EngineConfig{
			SweepInterval:    c.Engine.SweepInterval,
			SweepTimeout:     c.Engine.SweepTimeout,
			SweepConcurrency: c.Engine.SweepConcurrency,
			SweepBatchSize:   c.Engine.SweepBatchSize,
			LockBackend:      c.Engine.LockBackend,
		},
		Redis: container.RedisConfig{
			Addr:      c.Redis.Addr,
			Password:  c.Redis.Password,
			DB:        c.Redis.DB,
			KeyPrefix: c.Redis.KeyPrefix,
			LockTTL:   c.Redis.LockTTL,
			LockWait:  c.Redis.LockWait,
		},
		Lark: container.LarkConfig{
			AppID:         c.Lark.AppID,
			AppSecret:     c.Lark.AppSecret,
			BaseURL:       c.Lark.BaseURL,
			ReceiveIDType: c.Lark.ReceiveIDType,
		},
		Metrics: container.MetricsConfig{
			Enabled: c.Metrics.Enabled,
			Path:    c.Metrics.Path,
		},
		Flows: container.FlowsConfig{
			SeedPath: c.Flows.SeedPath,
		},
		Admin: container.AdminConfig{
			Role:  c.Admin.Role,
			Users: append([]string(nil), c.Admin.Users...),
		},
	}
}
