package container

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/dispatcher"
	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/application/queue"
	"github.com/garyjia/printshop-workflow/internal/application/service"
	"github.com/garyjia/printshop-workflow/internal/application/workflow"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/cache"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/external/email"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/external/lark"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/messaging"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/metrics"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/persistence/dynamo"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/persistence/sqlstore"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/tracing"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/worker"
	"github.com/garyjia/printshop-workflow/pkg/database"
	"github.com/garyjia/printshop-workflow/pkg/utils"
)

const tracerName = "github.com/garyjia/printshop-workflow"

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Raw   *database.DB
	Store *sqlstore.DB
}

// StoreBundle holds the persistence ports.
type StoreBundle struct {
	Tasks    port.TaskStore
	Entities port.EntityRepository
	Audit    port.AuditStore
}

// CacheBundle holds the dispatch dedup cache and its cleanup.
type CacheBundle struct {
	Cache port.DispatchCache
	close func() error
}

// ChannelBundle holds the notification channel backends.
type ChannelBundle struct {
	Email       port.EmailSender
	Broadcaster *messaging.Broadcaster
	Alerts      port.AlertSender
}

// MetricsBundle holds the Prometheus registry and collectors.
type MetricsBundle struct {
	Registry *prometheus.Registry
	Queue    *metrics.QueueMetrics
	HTTP     *metrics.HTTPMetrics
}

// WorkflowBundle holds the application layer.
type WorkflowBundle struct {
	Audit        service.AuditLog
	Queue        *queue.Queue
	Handlers     *workflow.TaskHandlers
	Orchestrator *workflow.Orchestrator
}

// WorkflowDeps holds dependencies for ProvideWorkflow.
type WorkflowDeps struct {
	Stores     *StoreBundle
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Observer   queue.Observer
	Tracing    *tracing.Provider
	QueueCfg   *QueueConfig
	QuotesCfg  *QuotesConfig
	Logger     *zap.Logger
}

// WorkerDeps holds dependencies for ProvideWorkers.
type WorkerDeps struct {
	Workflow *WorkflowBundle
	Depth    worker.DepthRecorder
	WorkerID string
	QueueCfg *QueueConfig
	Quotes   *QuotesConfig
	Logger   *zap.Logger
}

// ProvideDatabase opens the database and applies the schema.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	raw, err := database.New(database.Config{
		Driver:          cfg.Driver,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := sqlstore.NewDB(raw, logger)
	if err := store.Migrate(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{Raw: raw, Store: store}, nil
}

// ProvideStores creates the task, entity and audit stores.
// The audit store lives in DynamoDB when configured, otherwise in the database.
func ProvideStores(ctx context.Context, db *sqlstore.DB, cfg *AuditConfig, logger *zap.Logger) (*StoreBundle, error) {
	bundle := &StoreBundle{
		Tasks:    sqlstore.NewTaskStore(db, logger.Named("tasks")),
		Entities: sqlstore.NewEntityRepository(db, logger.Named("entities")),
	}

	switch cfg.Backend {
	case AuditDynamoDB:
		client, err := dynamo.NewClient(ctx, cfg.DynamoDB)
		if err != nil {
			return nil, fmt.Errorf("failed to create dynamodb client: %w", err)
		}
		if cfg.EnsureTable {
			if err := dynamo.EnsureTable(ctx, client, cfg.DynamoDB.Table); err != nil {
				return nil, fmt.Errorf("failed to ensure audit table: %w", err)
			}
		}
		bundle.Audit = dynamo.NewAuditStore(client, cfg.DynamoDB.Table, logger.Named("audit"))
	default:
		bundle.Audit = sqlstore.NewAuditStore(db, logger.Named("audit"))
	}

	return bundle, nil
}

// ProvideDispatchCache creates the dedup cache.
func ProvideDispatchCache(ctx context.Context, cfg *CacheConfig, logger *zap.Logger) (*CacheBundle, error) {
	if cfg.Backend != CacheRedis {
		return &CacheBundle{Cache: cache.NewMemoryDispatchCache()}, nil
	}

	client, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	c := cache.NewRedisDispatchCache(client, cfg.Redis.KeyPrefix, logger.Named("cache"))
	return &CacheBundle{Cache: c, close: c.Close}, nil
}

// ProvideChannels creates the email, broadcast and alert backends.
// Email and alerts fall back to log-only senders when not configured.
func ProvideChannels(cfg *NotifyConfig, larkEnabled bool, logger *zap.Logger) (*ChannelBundle, error) {
	bundle := &ChannelBundle{}

	if cfg.Email.Host != "" {
		sender, err := email.NewSMTPSender(cfg.Email, logger.Named("email"))
		if err != nil {
			return nil, fmt.Errorf("failed to create smtp sender: %w", err)
		}
		bundle.Email = sender
	} else {
		logger.Info("SMTP not configured, customer email will be logged only")
		bundle.Email = email.NewLogSender(logger.Named("email"))
	}

	publisher, err := messaging.NewPublisher(cfg.Broadcast, messaging.NewZapLoggerAdapter(logger.Named("watermill")))
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}
	bundle.Broadcaster = messaging.NewBroadcaster(publisher, cfg.Broadcast.Topic, logger.Named("broadcast"))

	if larkEnabled {
		client := lark.NewSDKClient(cfg.Lark, logger.Named("lark"))
		bundle.Alerts = lark.NewAlertSender(client, logger.Named("lark"))
	} else {
		bundle.Alerts = lark.NewLogAlertSender(logger.Named("alerts"))
	}

	return bundle, nil
}

// ProvideDispatcher creates the notification dispatcher with all channels registered.
func ProvideDispatcher(channels *ChannelBundle, dedup port.DispatchCache, cfg *NotifyConfig, logger *zap.Logger) dispatcher.Dispatcher {
	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(utils.NewKVLogger(logger.Named("dispatcher"))),
		dispatcher.WithCache(dedup, cfg.DedupTTL),
		dispatcher.WithChannels(
			dispatcher.NewEmailChannel(channels.Email),
			dispatcher.NewBroadcastChannel(channels.Broadcaster),
			dispatcher.NewAlertChannel(channels.Alerts),
		),
	)
}

// ProvideMetrics creates a registry with process and queue collectors.
func ProvideMetrics() (*MetricsBundle, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	queueMetrics, err := metrics.NewQueueMetrics(reg)
	if err != nil {
		return nil, err
	}
	httpMetrics, err := metrics.NewHTTPMetrics(reg)
	if err != nil {
		return nil, err
	}

	return &MetricsBundle{Registry: reg, Queue: queueMetrics, HTTP: httpMetrics}, nil
}

// ProvideWorkflow creates the audit log, task queue, task handlers and orchestrator.
func ProvideWorkflow(deps *WorkflowDeps) (*WorkflowBundle, error) {
	if deps.Stores == nil || deps.Dispatcher == nil {
		return nil, fmt.Errorf("stores and dispatcher are required")
	}

	kv := utils.NewKVLogger(deps.Logger)

	audit := service.NewAuditLog(deps.Stores.Audit, kv)

	opts := []queue.Option{
		queue.WithRetryPolicy(queue.RetryPolicy{
			MaxAttempts: deps.QueueCfg.MaxAttempts,
			BackoffBase: deps.QueueCfg.BackoffBase,
			BackoffMax:  deps.QueueCfg.BackoffMax,
		}),
		queue.WithAlerts(deps.Dispatcher),
		queue.WithRemediation(workflow.Remediation),
	}
	orchOpts := []workflow.OrchestratorOption{workflow.WithDispatcher(deps.Dispatcher)}
	if deps.Observer != nil {
		opts = append(opts, queue.WithObserver(deps.Observer))
	}
	if deps.Tracing != nil {
		tracer := deps.Tracing.Tracer(tracerName)
		opts = append(opts, queue.WithTracer(tracer))
		orchOpts = append(orchOpts, workflow.WithTracer(tracer))
	}
	q := queue.New(deps.Stores.Tasks, audit, kv, opts...)

	handlers := workflow.NewTaskHandlers(deps.Stores.Entities, audit, deps.Dispatcher, kv,
		workflow.WithOrderLeadTime(deps.QuotesCfg.OrderLeadTime))
	handlers.Register(q)

	orchestrator := workflow.NewOrchestrator(deps.Stores.Entities, q, audit, deps.TxManager, kv, orchOpts...)

	return &WorkflowBundle{
		Audit:        audit,
		Queue:        q,
		Handlers:     handlers,
		Orchestrator: orchestrator,
	}, nil
}

// ProvideWorkers creates the task pool, lease sweeper and housekeeping scheduler.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps.Workflow == nil {
		return nil, fmt.Errorf("workflow bundle is required")
	}

	manager := worker.NewWorkerManager(deps.Logger)

	manager.Register(worker.NewTaskPoolWorker(worker.TaskPoolConfig{
		WorkerID:      deps.WorkerID,
		Concurrency:   deps.QueueCfg.Workers,
		PollInterval:  deps.QueueCfg.PollInterval,
		LeaseDuration: deps.QueueCfg.LeaseDuration,
	}, deps.Workflow.Queue, deps.Logger.Named("tasks")))

	manager.Register(worker.NewSweeperWorker(
		deps.QueueCfg.SweepInterval,
		deps.Workflow.Queue,
		deps.Depth,
		deps.Logger.Named("sweeper"),
	))

	manager.Register(worker.NewSchedulerWorker(worker.SchedulerConfig{
		PurgeSchedule:  deps.QueueCfg.PurgeSchedule,
		Retention:      deps.QueueCfg.Retention,
		ExpireSchedule: deps.Quotes.ExpireSchedule,
	}, deps.Workflow.Queue, deps.Workflow.Orchestrator, deps.Logger.Named("scheduler")))

	return manager, nil
}
