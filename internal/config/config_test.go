package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Queue.Workers)
	assert.Equal(t, 30*time.Second, cfg.Queue.LeaseDuration)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.Notify.DedupTTL)
	assert.Equal(t, "gochannel", cfg.Notify.Broadcast.Backend)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, "sql", cfg.Audit.Backend)
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadFileAndEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, `
server:
  port: 9090
database:
  driver: postgres
  dsn: postgres://printshop@localhost/printshop?sslmode=disable
queue:
  workers: 8
  lease_duration: 45s
  backoff_base: 500ms
notify:
  broadcast:
    backend: kafka
    brokers: ["kafka-1:9092", "kafka-2:9092"]
cache:
  backend: redis
  redis:
    addr: localhost:6379
`)
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("PRINTSHOP_QUEUE_WORKERS", "2")
	t.Setenv("LARK_ALERT_CHAT_ID", "oc_ops")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 2, cfg.Queue.Workers)
	assert.Equal(t, 45*time.Second, cfg.Queue.LeaseDuration)
	assert.Equal(t, 500*time.Millisecond, cfg.Queue.BackoffBase)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Notify.Broadcast.Brokers)
	assert.Equal(t, "smtp.example.com", cfg.Notify.Email.Host)
	assert.Equal(t, "oc_ops", cfg.Notify.Lark.ChatID)

	cc := cfg.ToContainerConfig()
	assert.Equal(t, "localhost:6379", cc.Cache.Redis.Addr)
	assert.Equal(t, "printshop:dispatch:", cc.Cache.Redis.KeyPrefix)
	assert.Equal(t, 2, cc.Queue.Workers)
	assert.Equal(t, "smtp.example.com", cc.Notify.Email.Host)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("REDIS_ADDR=cache:6379\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("REDIS_ADDR") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", cfg.Cache.Redis.Addr)
}

func TestLoadErrors(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"bad driver", "database:\n  driver: oracle\n", "database.driver"},
		{"bad logger format", "logger:\n  format: xml\n", "logger.format"},
		{"bad port", "server:\n  port: 70000\n", "server.port"},
		{"kafka without brokers", "notify:\n  broadcast:\n    backend: kafka\n", "brokers"},
		{"tracing without endpoint", "tracing:\n  enabled: true\n", "tracing.endpoint"},
		{"bad metrics path", "metrics:\n  path: metrics\n", "metrics.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
