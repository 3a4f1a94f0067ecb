package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/queue"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
)

// TaskProcessor runs one queued task per call
type TaskProcessor interface {
	Process(ctx context.Context, workerID string, maxLease time.Duration) (*queue.Result, error)
}

// TaskPoolConfig holds configuration for the task pool
type TaskPoolConfig struct {
	WorkerID      string
	Concurrency   int
	PollInterval  time.Duration
	LeaseDuration time.Duration
}

// DefaultTaskPoolConfig returns default configuration
func DefaultTaskPoolConfig() TaskPoolConfig {
	return TaskPoolConfig{
		Concurrency:   5,
		PollInterval:  time.Second,
		LeaseDuration: 30 * time.Second,
	}
}

// TaskPoolWorker runs Concurrency goroutines that drain the queue.
// A goroutine keeps processing while tasks are ready and sleeps PollInterval when idle.
type TaskPoolWorker struct {
	config    TaskPoolConfig
	processor TaskProcessor
	logger    *zap.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool

	processed atomic.Int64
	failed    atomic.Int64
}

// NewTaskPoolWorker creates a task pool. An empty WorkerID gets a random one.
func NewTaskPoolWorker(config TaskPoolConfig, processor TaskProcessor, logger *zap.Logger) *TaskPoolWorker {
	defaults := DefaultTaskPoolConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.LeaseDuration <= 0 {
		config.LeaseDuration = defaults.LeaseDuration
	}
	if config.WorkerID == "" {
		config.WorkerID = "worker-" + uuid.New().String()[:8]
	}

	return &TaskPoolWorker{
		config:    config,
		processor: processor,
		logger:    logger,
	}
}

// Start launches the pool goroutines
func (w *TaskPoolWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("task pool already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.isRunning = true

	for i := 0; i < w.config.Concurrency; i++ {
		id := fmt.Sprintf("%s-%d", w.config.WorkerID, i)
		w.wg.Add(1)
		go w.loop(runCtx, id)
	}

	w.logger.Info("TaskPoolWorker started",
		zap.String("worker_id", w.config.WorkerID),
		zap.Int("concurrency", w.config.Concurrency),
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Duration("lease", w.config.LeaseDuration))
	return nil
}

// Stop cancels the pool and waits for in-flight tasks
func (w *TaskPoolWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	w.wg.Wait()

	w.logger.Info("TaskPoolWorker stopped",
		zap.Int64("processed_count", w.processed.Load()),
		zap.Int64("failed_count", w.failed.Load()))
	return nil
}

// Name returns the worker name for identification
func (w *TaskPoolWorker) Name() string {
	return "TaskPoolWorker"
}

// Counts returns tasks processed and attempts that did not complete
func (w *TaskPoolWorker) Counts() (processed, failed int64) {
	return w.processed.Load(), w.failed.Load()
}

func (w *TaskPoolWorker) loop(ctx context.Context, workerID string) {
	defer w.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		result, err := w.processor.Process(ctx, workerID, w.config.LeaseDuration)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("Failed to process task", zap.String("worker_id", workerID), zap.Error(err))
		}
		if result != nil {
			w.processed.Add(1)
			if result.State != entity.TaskCompleted {
				w.failed.Add(1)
			}
			if err == nil {
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.config.PollInterval):
		}
	}
}
