package container

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/workflow"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
)

func testConfig(t *testing.T) *Config {
	cfg := DefaultConfig()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "printshop.db")
	cfg.Database.MaxOpenConns = 1
	cfg.Queue.Workers = 2
	cfg.Queue.PollInterval = 10 * time.Millisecond
	cfg.Queue.BackoffBase = 10 * time.Millisecond
	cfg.Queue.SweepInterval = 50 * time.Millisecond
	cfg.WorkerID = "container-test"
	return cfg
}

func startContainer(t *testing.T, cfg *Config) *Container {
	t.Helper()
	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() {
		if !c.closed.Load() {
			_ = c.Close()
		}
	})
	return c
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }, "database.dsn"},
		{"no workers", func(c *Config) { c.Queue.Workers = 0 }, "queue.workers"},
		{"kafka without brokers", func(c *Config) { c.Notify.Broadcast.Backend = "kafka" }, "brokers"},
		{"redis without addr", func(c *Config) { c.Cache.Backend = CacheRedis }, "cache.redis.addr"},
		{"dynamodb without table", func(c *Config) { c.Audit.Backend = AuditDynamoDB }, "audit.dynamodb.table"},
		{"tracing without endpoint", func(c *Config) { c.Tracing.Enabled = true }, "tracing.endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewContainerRequiresConfigAndLogger(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewContainer(DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestContainerRunsApprovalToJob(t *testing.T) {
	c := startContainer(t, testConfig(t))
	ctx := context.Background()

	assert.True(t, c.Ready())
	assert.Equal(t, []string{"email", "broadcast", "alert"}, c.Dispatcher().Channels())
	assert.ElementsMatch(t, []string{"TaskPoolWorker", "SweeperWorker", "SchedulerWorker"}, c.Workers().Names())

	now := time.Now().UTC()
	quote := &entity.Quote{
		ID:     "q-container",
		Number: "QTE-2025-0001",
		Status: entity.QuoteStatusSent,
		Customer: entity.CustomerRef{
			ID:    "cust-acme",
			Name:  "Acme Signs",
			Email: "orders@acme.example",
		},
		LineItems: []entity.LineItem{
			{Description: "Vinyl banner 3x6", Quantity: 5, UnitPriceCents: 15000, TotalCents: 75000},
		},
		Totals:    entity.Totals{SubtotalCents: 75000, TotalCents: 75000},
		ExpiresAt: now.Add(24 * time.Hour),
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, c.Stores().Entities.CreateQuote(ctx, quote))

	res, err := c.Orchestrator().ApproveQuote(ctx, quote.ID, workflow.ApproverInfo{Name: "Dana"})
	require.NoError(t, err)
	assert.Equal(t, entity.QuoteStatusAccepted, res.Quote.Status)

	require.Eventually(t, func() bool {
		status, err := c.Orchestrator().GetWorkflowStatus(ctx, quote.ID)
		return err == nil && status.Job != nil && status.Quote.Status == entity.QuoteStatusConverted
	}, 10*time.Second, 20*time.Millisecond)

	health := c.Health(ctx)
	assert.True(t, health.Overall, "%+v", health.Components)
	assert.True(t, health.Components["database"].Healthy)
}

func TestContainerWithoutWorkers(t *testing.T) {
	cfg := testConfig(t)
	cfg.DisableWorkers = true
	c := startContainer(t, cfg)

	assert.Nil(t, c.Workers())
	health := c.Health(context.Background())
	assert.Equal(t, "disabled", health.Components["workers"].Message)
	assert.True(t, health.Overall)
}

func TestContainerLifecycleErrors(t *testing.T) {
	c := startContainer(t, testConfig(t))

	assert.Error(t, c.Start(context.Background()))
	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.Error(t, c.Close())
	assert.Error(t, c.Start(context.Background()))
}

func TestStartFailureReleasesResources(t *testing.T) {
	cfg := testConfig(t)
	cfg.Queue.PurgeSchedule = "not a schedule"

	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)

	err = c.Start(context.Background())
	require.Error(t, err)
	assert.False(t, c.Ready())
	assert.Nil(t, c.db)
	assert.Nil(t, c.dispatcher)
}

func TestMigrate(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, Migrate(&cfg.Database, zap.NewNop()))
	require.NoError(t, Migrate(&cfg.Database, zap.NewNop()))
}
