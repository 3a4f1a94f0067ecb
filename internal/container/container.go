package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/dispatcher"
	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/application/queue"
	"github.com/garyjia/printshop-workflow/internal/application/service"
	"github.com/garyjia/printshop-workflow/internal/application/workflow"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/metrics"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/tracing"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/worker"
)

const healthTimeout = 3 * time.Second

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	db     *DatabaseBundle
	stores *StoreBundle
	cache  *CacheBundle

	// Infrastructure - Notification
	channels   *ChannelBundle
	dispatcher dispatcher.Dispatcher

	// Infrastructure - Observability
	metrics *MetricsBundle
	tracing *tracing.Provider

	// Application
	workflow *WorkflowBundle

	// Workers
	workers *worker.WorkerManager

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Database and stores
// 2. Dedup cache
// 3. Notification channels and dispatcher
// 4. Metrics and tracing
// 5. Audit log, queue, task handlers and orchestrator
// 6. Workers
//
// A failed step releases whatever the earlier steps opened.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	if err := c.start(ctx); err != nil {
		c.release()
		return err
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

func (c *Container) start(ctx context.Context) error {
	// Step 1: Initialize database and stores
	if err := c.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized", zap.String("driver", c.config.Database.Driver))

	// Step 2: Initialize dedup cache
	cacheBundle, err := ProvideDispatchCache(ctx, &c.config.Cache, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	c.cache = cacheBundle
	c.logger.Info("Dispatch cache initialized", zap.String("backend", c.config.Cache.Backend))

	// Step 3: Initialize channels and dispatcher
	if err := c.initDispatcher(); err != nil {
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}
	c.logger.Info("Dispatcher initialized", zap.Strings("channels", c.dispatcher.Channels()))

	// Step 4: Initialize metrics and tracing
	if err := c.initObservability(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	c.logger.Info("Metrics and tracing initialized", zap.Bool("tracing", c.tracing.Enabled()))

	// Step 5: Initialize application layer
	wf, err := ProvideWorkflow(&WorkflowDeps{
		Stores:     c.stores,
		TxManager:  c.db.Store,
		Dispatcher: c.dispatcher,
		Observer:   c.metrics.Queue,
		Tracing:    c.tracing,
		QueueCfg:   &c.config.Queue,
		QuotesCfg:  &c.config.Quotes,
		Logger:     c.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize workflow: %w", err)
	}
	c.workflow = wf
	c.logger.Info("Workflow orchestrator initialized")

	// Step 6: Initialize and start workers
	if c.config.DisableWorkers {
		c.logger.Info("Workers disabled")
		return nil
	}
	if err := c.initWorkers(); err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.logger.Info("Workers initialized and started", zap.Strings("workers", c.workers.Names()))

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	errs := c.release()

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors: %w", len(errs), errs[0])
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// release tears down every initialized component in reverse order
func (c *Container) release() []error {
	var errs []error
	closeStep := func(name string, fn func() error) {
		if err := fn(); err != nil {
			c.logger.Error("Failed to close "+name, zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			return
		}
		c.logger.Info("Closed " + name)
	}

	// Cancel context to signal all goroutines
	if c.cancel != nil {
		c.cancel()
	}

	// Step 6
	if c.workers != nil {
		closeStep("workers", c.workers.StopAll)
		c.workers = nil
	}

	// Step 5 holds no resources

	// Step 4
	if c.tracing != nil {
		closeStep("tracing", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return c.tracing.Shutdown(ctx)
		})
		c.tracing = nil
	}

	// Step 3: drain async sends before closing their backends
	if c.dispatcher != nil {
		closeStep("dispatcher", c.dispatcher.Close)
		c.dispatcher = nil
	}
	if c.channels != nil && c.channels.Broadcaster != nil {
		closeStep("broadcaster", c.channels.Broadcaster.Close)
		c.channels = nil
	}

	// Step 2
	if c.cache != nil && c.cache.close != nil {
		closeStep("cache", c.cache.close)
		c.cache = nil
	}

	// Step 1
	if c.db != nil {
		closeStep("database", c.db.Raw.Close)
		c.db = nil
	}

	return errs
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, h ComponentHealth) {
		status.Components[name] = h
		if !h.Healthy {
			status.Overall = false
		}
	}
	notInitialized := ComponentHealth{Healthy: false, Message: "not initialized"}

	// Check database
	if c.db != nil {
		if err := c.db.Raw.PingContext(ctx); err != nil {
			set("database", ComponentHealth{Healthy: false, Message: fmt.Sprintf("ping failed: %v", err)})
		} else {
			set("database", ComponentHealth{Healthy: true})
		}
	} else {
		set("database", notInitialized)
	}

	// Check queue
	if c.workflow != nil {
		stats, err := c.workflow.Queue.Stats(ctx)
		if err != nil {
			set("queue", ComponentHealth{Healthy: false, Message: fmt.Sprintf("stats failed: %v", err)})
		} else {
			set("queue", ComponentHealth{Healthy: true, Message: fmt.Sprintf("tasks: %d", stats.Total)})
		}
	} else {
		set("queue", notInitialized)
	}

	// Check workers
	switch {
	case c.config.DisableWorkers:
		set("workers", ComponentHealth{Healthy: true, Message: "disabled"})
	case c.workers != nil:
		set("workers", ComponentHealth{
			Healthy: c.workers.IsRunning(),
			Message: fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount()),
		})
	default:
		set("workers", notInitialized)
	}

	// Check dispatcher
	if c.dispatcher != nil {
		set("dispatcher", ComponentHealth{
			Healthy: true,
			Message: fmt.Sprintf("channels: %v", c.dispatcher.Channels()),
		})
	} else {
		set("dispatcher", notInitialized)
	}

	return status
}

// initDatabase opens the database and creates the stores.
func (c *Container) initDatabase(ctx context.Context) error {
	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger.Named("database"))
	if err != nil {
		return err
	}
	c.db = dbBundle

	stores, err := ProvideStores(ctx, c.db.Store, &c.config.Audit, c.logger)
	if err != nil {
		return err
	}
	c.stores = stores
	return nil
}

// initDispatcher creates the channel backends and the dispatcher.
func (c *Container) initDispatcher() error {
	channels, err := ProvideChannels(&c.config.Notify, c.config.larkEnabled(), c.logger)
	if err != nil {
		return err
	}
	c.channels = channels
	c.dispatcher = ProvideDispatcher(channels, c.cache.Cache, &c.config.Notify, c.logger)
	return nil
}

// initObservability creates the metrics registry and tracer provider.
func (c *Container) initObservability(ctx context.Context) error {
	m, err := ProvideMetrics()
	if err != nil {
		return err
	}
	c.metrics = m

	tp, err := tracing.NewProvider(ctx, c.config.Tracing)
	if err != nil {
		return err
	}
	c.tracing = tp
	return nil
}

// initWorkers creates and starts all background workers.
func (c *Container) initWorkers() error {
	workers, err := ProvideWorkers(&WorkerDeps{
		Workflow: c.workflow,
		Depth:    c.metrics.Queue,
		WorkerID: c.config.WorkerID,
		QueueCfg: &c.config.Queue,
		Quotes:   &c.config.Quotes,
		Logger:   c.logger.Named("worker"),
	})
	if err != nil {
		return err
	}

	if err := workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.workers = workers

	return nil
}

// Migrate opens the configured database, applies the schema and closes it.
func Migrate(cfg *DatabaseConfig, logger *zap.Logger) error {
	bundle, err := ProvideDatabase(cfg, logger)
	if err != nil {
		return err
	}
	return bundle.Raw.Close()
}

// Getters for accessing container components

// TxManager returns the transaction manager.
func (c *Container) TxManager() port.TransactionManager {
	return c.db.Store
}

// Stores returns the persistence ports.
func (c *Container) Stores() *StoreBundle {
	return c.stores
}

// Dispatcher returns the notification dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Orchestrator returns the workflow orchestrator.
func (c *Container) Orchestrator() *workflow.Orchestrator {
	return c.workflow.Orchestrator
}

// Queue returns the task queue.
func (c *Container) Queue() *queue.Queue {
	return c.workflow.Queue
}

// AuditLog returns the audit log.
func (c *Container) AuditLog() service.AuditLog {
	return c.workflow.Audit
}

// Registry returns the Prometheus registry.
func (c *Container) Registry() *prometheus.Registry {
	return c.metrics.Registry
}

// HTTPMetrics returns the HTTP request collectors.
func (c *Container) HTTPMetrics() *metrics.HTTPMetrics {
	return c.metrics.HTTP
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}
