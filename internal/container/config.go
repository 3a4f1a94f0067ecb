// Package container provides dependency injection and lifecycle management
// for the print shop workflow service.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/printshop-workflow/internal/application/dispatcher"
	"github.com/garyjia/printshop-workflow/internal/application/queue"
	"github.com/garyjia/printshop-workflow/internal/application/workflow"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/cache"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/external/email"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/external/lark"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/messaging"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/persistence/dynamo"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/tracing"
	"github.com/garyjia/printshop-workflow/pkg/database"
)

// Backend names accepted by the cache and audit sections
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"

	AuditSQL      = "sql"
	AuditDynamoDB = "dynamodb"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	Database DatabaseConfig
	Queue    QueueConfig
	Quotes   QuotesConfig
	Notify   NotifyConfig
	Cache    CacheConfig
	Audit    AuditConfig
	Tracing  tracing.Config

	// WorkerID prefixes lease owners; empty picks a random one
	WorkerID string

	// DisableWorkers skips starting background workers (used by the migrate command)
	DisableWorkers bool
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver is one of sqlite3, postgres, mysql
	Driver string

	// DSN is the driver specific connection string or sqlite file path
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// QueueConfig holds task queue and worker pool settings.
type QueueConfig struct {
	Workers       int
	PollInterval  time.Duration
	LeaseDuration time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	SweepInterval time.Duration

	// Retention is how long terminal tasks are kept before purge
	Retention     time.Duration
	PurgeSchedule string
}

// QuotesConfig holds quote lifecycle settings.
type QuotesConfig struct {
	ExpireSchedule string
	OrderLeadTime  time.Duration
}

// NotifyConfig holds notification channel settings.
type NotifyConfig struct {
	DedupTTL  time.Duration
	Email     email.Config
	Broadcast messaging.Config
	Lark      lark.Config
}

// CacheConfig selects the dispatch dedup cache.
type CacheConfig struct {
	Backend string
	Redis   cache.RedisConfig
}

// AuditConfig selects the audit store.
type AuditConfig struct {
	Backend     string
	DynamoDB    dynamo.Config
	EnsureTable bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          database.DriverSQLite,
			DSN:             "data/printshop.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Queue: QueueConfig{
			Workers:       5,
			PollInterval:  time.Second,
			LeaseDuration: 30 * time.Second,
			MaxAttempts:   queue.DefaultMaxAttempts,
			BackoffBase:   queue.DefaultBackoffBase,
			BackoffMax:    queue.DefaultBackoffMax,
			SweepInterval: 15 * time.Second,
			Retention:     7 * 24 * time.Hour,
			PurgeSchedule: "0 3 * * *",
		},
		Quotes: QuotesConfig{
			ExpireSchedule: "*/5 * * * *",
			OrderLeadTime:  workflow.DefaultOrderLeadTime,
		},
		Notify: NotifyConfig{
			DedupTTL: dispatcher.DefaultDedupTTL,
			Broadcast: messaging.Config{
				Backend: messaging.BackendGoChannel,
				Topic:   messaging.DefaultTopic,
			},
		},
		Cache: CacheConfig{
			Backend: CacheMemory,
			Redis:   cache.RedisConfig{KeyPrefix: cache.DefaultKeyPrefix},
		},
		Audit: AuditConfig{
			Backend: AuditSQL,
		},
		Tracing: tracing.Config{
			ServiceName: "printshop-workflow",
			SampleRatio: 1,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case database.DriverSQLite, database.DriverPostgres, database.DriverMySQL:
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be at least 1")
	}
	if c.Queue.LeaseDuration <= 0 {
		return fmt.Errorf("queue.lease_duration must be positive")
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be at least 1")
	}

	switch c.Notify.Broadcast.Backend {
	case messaging.BackendGoChannel:
	case messaging.BackendKafka:
		if len(c.Notify.Broadcast.Brokers) == 0 {
			return fmt.Errorf("notify.broadcast.brokers is required for kafka")
		}
	default:
		return fmt.Errorf("notify.broadcast.backend %q is not supported", c.Notify.Broadcast.Backend)
	}

	switch c.Cache.Backend {
	case CacheMemory:
	case CacheRedis:
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required for redis")
		}
	default:
		return fmt.Errorf("cache.backend %q is not supported", c.Cache.Backend)
	}

	switch c.Audit.Backend {
	case AuditSQL:
	case AuditDynamoDB:
		if c.Audit.DynamoDB.Table == "" {
			return fmt.Errorf("audit.dynamodb.table is required for dynamodb")
		}
	default:
		return fmt.Errorf("audit.backend %q is not supported", c.Audit.Backend)
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}

	return nil
}

// larkEnabled reports whether ops alerts should go to a Lark chat
func (c *Config) larkEnabled() bool {
	return c.Notify.Lark.AppID != "" && c.Notify.Lark.AppSecret != "" && c.Notify.Lark.ChatID != ""
}
