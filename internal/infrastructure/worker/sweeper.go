package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/queue"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
)

// LeaseSweeper reclaims expired leases and reports depth
type LeaseSweeper interface {
	ReclaimExpired(ctx context.Context) (int, error)
	Stats(ctx context.Context) (*queue.Stats, error)
}

// DepthRecorder receives queue depth after each sweep
type DepthRecorder interface {
	SetDepth(depth map[entity.TaskState]int)
}

// SweeperWorker periodically returns crashed workers' tasks to the queue
type SweeperWorker struct {
	interval time.Duration
	queue    LeaseSweeper
	depth    DepthRecorder
	logger   *zap.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool
}

// NewSweeperWorker creates a sweeper; depth may be nil
func NewSweeperWorker(interval time.Duration, q LeaseSweeper, depth DepthRecorder, logger *zap.Logger) *SweeperWorker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &SweeperWorker{
		interval: interval,
		queue:    q,
		depth:    depth,
		logger:   logger,
	}
}

// Start begins the sweep loop
func (w *SweeperWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("sweeper already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true

	go w.loop(runCtx)

	w.logger.Info("SweeperWorker started", zap.Duration("interval", w.interval))
	return nil
}

// Stop terminates the loop and waits for the current sweep
func (w *SweeperWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done
	w.logger.Info("SweeperWorker stopped")
	return nil
}

// Name returns the worker name for identification
func (w *SweeperWorker) Name() string {
	return "SweeperWorker"
}

func (w *SweeperWorker) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one reclaim pass and refreshes the depth gauges
func (w *SweeperWorker) Sweep(ctx context.Context) {
	if _, err := w.queue.ReclaimExpired(ctx); err != nil {
		w.logger.Error("Failed to reclaim expired leases", zap.Error(err))
	}

	if w.depth == nil {
		return
	}
	stats, err := w.queue.Stats(ctx)
	if err != nil {
		w.logger.Error("Failed to read queue stats", zap.Error(err))
		return
	}
	w.depth.SetDepth(stats.Depth)
}
