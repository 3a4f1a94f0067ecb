package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Quotes   QuotesConfig   `mapstructure:"quotes"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// QueueConfig holds task queue configuration
type QueueConfig struct {
	Workers       int           `mapstructure:"workers"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	LeaseDuration time.Duration `mapstructure:"lease_duration"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Retention     time.Duration `mapstructure:"retention"`
	PurgeSchedule string        `mapstructure:"purge_schedule"`
}

// QuotesConfig holds quote lifecycle configuration
type QuotesConfig struct {
	ExpireSchedule string        `mapstructure:"expire_schedule"`
	OrderLeadTime  time.Duration `mapstructure:"order_lead_time"`
}

// NotifyConfig holds notification channel configuration
type NotifyConfig struct {
	DedupTTL  time.Duration   `mapstructure:"dedup_ttl"`
	Email     EmailConfig     `mapstructure:"email"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Lark      LarkConfig      `mapstructure:"lark"`
}

// EmailConfig holds SMTP configuration. An empty host logs emails instead of sending.
type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
	TLS      string `mapstructure:"tls"`
}

// BroadcastConfig holds real-time event publishing configuration
type BroadcastConfig struct {
	Backend string   `mapstructure:"backend"`
	Topic   string   `mapstructure:"topic"`
	Brokers []string `mapstructure:"brokers"`
}

// LarkConfig holds Lark alert configuration
type LarkConfig struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	ChatID    string `mapstructure:"chat_id"`
}

// CacheConfig holds dispatch dedup cache configuration
type CacheConfig struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds redis connection configuration
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// AuditConfig holds audit store configuration
type AuditConfig struct {
	Backend  string         `mapstructure:"backend"`
	DynamoDB DynamoDBConfig `mapstructure:"dynamodb"`
}

// DynamoDBConfig holds DynamoDB audit store configuration
type DynamoDBConfig struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Table           string `mapstructure:"table"`
	CreateTable     bool   `mapstructure:"create_table"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// MetricsConfig holds Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from an optional .env file, the config file and
// environment variables. An empty configPath uses defaults and environment only.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("PRINTSHOP")
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	// Database defaults
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "data/printshop.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Queue defaults
	v.SetDefault("queue.workers", 5)
	v.SetDefault("queue.poll_interval", time.Second)
	v.SetDefault("queue.lease_duration", 30*time.Second)
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.backoff_base", 2*time.Second)
	v.SetDefault("queue.backoff_max", 5*time.Minute)
	v.SetDefault("queue.sweep_interval", 15*time.Second)
	v.SetDefault("queue.retention", 7*24*time.Hour)
	v.SetDefault("queue.purge_schedule", "0 3 * * *")

	// Quote defaults
	v.SetDefault("quotes.expire_schedule", "*/5 * * * *")
	v.SetDefault("quotes.order_lead_time", 7*24*time.Hour)

	// Notification defaults
	v.SetDefault("notify.dedup_ttl", 24*time.Hour)
	v.SetDefault("notify.email.port", 587)
	v.SetDefault("notify.email.tls", "opportunistic")
	v.SetDefault("notify.email.from_name", "Print Shop")
	v.SetDefault("notify.broadcast.backend", "gochannel")
	v.SetDefault("notify.broadcast.topic", "printshop.workflow.events")

	// Cache defaults
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis.key_prefix", "printshop:dispatch:")

	// Audit defaults
	v.SetDefault("audit.backend", "sql")
	v.SetDefault("audit.dynamodb.region", "us-east-1")
	v.SetDefault("audit.dynamodb.table", "printshop_audit")

	// Tracing defaults
	v.SetDefault("tracing.service_name", "printshop-workflow")
	v.SetDefault("tracing.sample_ratio", 1.0)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds the conventional environment variable names
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string]string{
		// Connection strings and credentials
		"database.driver":                  "DATABASE_DRIVER",
		"database.dsn":                     "DATABASE_URL",
		"notify.email.host":                "SMTP_HOST",
		"notify.email.port":                "SMTP_PORT",
		"notify.email.username":            "SMTP_USERNAME",
		"notify.email.password":            "SMTP_PASSWORD",
		"notify.email.from":                "SMTP_FROM",
		"notify.lark.app_id":               "LARK_APP_ID",
		"notify.lark.app_secret":           "LARK_APP_SECRET",
		"notify.lark.chat_id":              "LARK_ALERT_CHAT_ID",
		"cache.redis.addr":                 "REDIS_ADDR",
		"cache.redis.password":             "REDIS_PASSWORD",
		"audit.dynamodb.endpoint":          "DYNAMODB_ENDPOINT",
		"audit.dynamodb.region":            "AWS_REGION",
		"audit.dynamodb.access_key_id":     "AWS_ACCESS_KEY_ID",
		"audit.dynamodb.secret_access_key": "AWS_SECRET_ACCESS_KEY",
		"tracing.endpoint":                 "OTEL_EXPORTER_OTLP_ENDPOINT",
		"logger.level":                     "LOG_LEVEL",
	}
	for key, env := range bindings {
		// PRINTSHOP_<KEY> wins over the conventional name
		if err := v.BindEnv(key, "PRINTSHOP_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	switch c.Logger.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logger.format %q is not supported", c.Logger.Format)
	}

	// Subsystem checks live with the container config
	return c.ToContainerConfig().Validate()
}
