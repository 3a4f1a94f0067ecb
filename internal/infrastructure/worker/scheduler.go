package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Purger deletes old terminal tasks
type Purger interface {
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

// QuoteExpirer expires quotes past their validity window
type QuoteExpirer interface {
	ExpireStaleQuotes(ctx context.Context) (int, error)
}

// SchedulerConfig holds cron schedules in standard five-field syntax.
// An empty schedule disables the job.
type SchedulerConfig struct {
	PurgeSchedule  string
	Retention      time.Duration
	ExpireSchedule string
}

// SchedulerWorker runs housekeeping jobs on cron schedules
type SchedulerWorker struct {
	config  SchedulerConfig
	purger  Purger
	expirer QuoteExpirer
	logger  *zap.Logger

	mu        sync.Mutex
	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
	isRunning bool
}

// NewSchedulerWorker creates a scheduler
func NewSchedulerWorker(config SchedulerConfig, purger Purger, expirer QuoteExpirer, logger *zap.Logger) *SchedulerWorker {
	return &SchedulerWorker{
		config:  config,
		purger:  purger,
		expirer: expirer,
		logger:  logger,
	}
}

// Start validates the schedules and starts the cron runner
func (w *SchedulerWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("scheduler already running")
	}

	cronLogger := &cronLogger{logger: w.logger}
	c := cron.New(cron.WithLogger(cronLogger), cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))

	w.ctx, w.cancel = context.WithCancel(ctx)

	if w.config.PurgeSchedule != "" && w.purger != nil {
		if _, err := c.AddFunc(w.config.PurgeSchedule, w.runPurge); err != nil {
			w.cancel()
			return fmt.Errorf("invalid purge schedule %q: %w", w.config.PurgeSchedule, err)
		}
	}
	if w.config.ExpireSchedule != "" && w.expirer != nil {
		if _, err := c.AddFunc(w.config.ExpireSchedule, w.runExpire); err != nil {
			w.cancel()
			return fmt.Errorf("invalid expiry schedule %q: %w", w.config.ExpireSchedule, err)
		}
	}

	c.Start()
	w.cron = c
	w.isRunning = true

	w.logger.Info("SchedulerWorker started",
		zap.String("purge_schedule", w.config.PurgeSchedule),
		zap.Duration("retention", w.config.Retention),
		zap.String("expire_schedule", w.config.ExpireSchedule))
	return nil
}

// Stop stops the cron runner and waits for running jobs
func (w *SchedulerWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	c, cancel := w.cron, w.cancel
	w.mu.Unlock()

	cancel()
	<-c.Stop().Done()
	w.logger.Info("SchedulerWorker stopped")
	return nil
}

// Name returns the worker name for identification
func (w *SchedulerWorker) Name() string {
	return "SchedulerWorker"
}

func (w *SchedulerWorker) runPurge() {
	n, err := w.purger.Purge(w.ctx, w.config.Retention)
	if err != nil {
		w.logger.Error("Scheduled purge failed", zap.Error(err))
		return
	}
	w.logger.Info("Scheduled purge finished", zap.Int64("deleted", n))
}

func (w *SchedulerWorker) runExpire() {
	n, err := w.expirer.ExpireStaleQuotes(w.ctx)
	if err != nil {
		w.logger.Error("Scheduled quote expiry failed", zap.Error(err))
		return
	}
	w.logger.Info("Scheduled quote expiry finished", zap.Int("expired", n))
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
