package config

import (
	"github.com/garyjia/printshop-workflow/internal/container"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/cache"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/external/email"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/external/lark"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/messaging"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/persistence/dynamo"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/tracing"
	"github.com/garyjia/printshop-workflow/pkg/utils"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Driver:          c.Database.Driver,
			DSN:             c.Database.DSN,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
		},
		Queue: container.QueueConfig{
			Workers:       c.Queue.Workers,
			PollInterval:  c.Queue.PollInterval,
			LeaseDuration: c.Queue.LeaseDuration,
			MaxAttempts:   c.Queue.MaxAttempts,
			BackoffBase:   c.Queue.BackoffBase,
			BackoffMax:    c.Queue.BackoffMax,
			SweepInterval: c.Queue.SweepInterval,
			Retention:     c.Queue.Retention,
			PurgeSchedule: c.Queue.PurgeSchedule,
		},
		Quotes: container.QuotesConfig{
			ExpireSchedule: c.Quotes.ExpireSchedule,
			OrderLeadTime:  c.Quotes.OrderLeadTime,
		},
		Notify: container.NotifyConfig{
			DedupTTL: c.Notify.DedupTTL,
			Email: email.Config{
				Host:     c.Notify.Email.Host,
				Port:     c.Notify.Email.Port,
				Username: c.Notify.Email.Username,
				Password: c.Notify.Email.Password,
				From:     c.Notify.Email.From,
				FromName: c.Notify.Email.FromName,
				TLS:      c.Notify.Email.TLS,
			},
			Broadcast: messaging.Config{
				Backend: c.Notify.Broadcast.Backend,
				Topic:   c.Notify.Broadcast.Topic,
				Brokers: c.Notify.Broadcast.Brokers,
			},
			Lark: lark.Config{
				AppID:     c.Notify.Lark.AppID,
				AppSecret: c.Notify.Lark.AppSecret,
				ChatID:    c.Notify.Lark.ChatID,
			},
		},
		Cache: container.CacheConfig{
			Backend: c.Cache.Backend,
			Redis: cache.RedisConfig{
				Addr:      c.Cache.Redis.Addr,
				Password:  c.Cache.Redis.Password,
				DB:        c.Cache.Redis.DB,
				KeyPrefix: c.Cache.Redis.KeyPrefix,
			},
		},
		Audit: container.AuditConfig{
			Backend: c.Audit.Backend,
			DynamoDB: dynamo.Config{
				Region:          c.Audit.DynamoDB.Region,
				Endpoint:        c.Audit.DynamoDB.Endpoint,
				AccessKeyID:     c.Audit.DynamoDB.AccessKeyID,
				SecretAccessKey: c.Audit.DynamoDB.SecretAccessKey,
				Table:           c.Audit.DynamoDB.Table,
			},
			EnsureTable: c.Audit.DynamoDB.CreateTable,
		},
		Tracing: tracing.Config{
			Enabled:     c.Tracing.Enabled,
			Endpoint:    c.Tracing.Endpoint,
			Insecure:    c.Tracing.Insecure,
			ServiceName: c.Tracing.ServiceName,
			SampleRatio: c.Tracing.SampleRatio,
		},
	}
}

// ToLoggerConfig converts the logger section for utils.NewLogger
func (c *Config) ToLoggerConfig() utils.LoggerConfig {
	return utils.LoggerConfig{
		Level:      c.Logger.Level,
		OutputPath: c.Logger.OutputPath,
		Format:     c.Logger.Format,
	}
}
