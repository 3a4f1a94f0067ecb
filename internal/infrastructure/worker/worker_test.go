package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/queue"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
)

type recordingWorker struct {
	name     string
	startErr error
	log      *[]string
	mu       *sync.Mutex
}

func (w *recordingWorker) record(s string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	*w.log = append(*w.log, s)
}

func (w *recordingWorker) Start(ctx context.Context) error {
	if w.startErr != nil {
		return w.startErr
	}
	w.record("start " + w.name)
	return nil
}

func (w *recordingWorker) Stop() error {
	w.record("stop " + w.name)
	return nil
}

func (w *recordingWorker) Name() string { return w.name }

func TestWorkerManagerOrdering(t *testing.T) {
	var (
		log []string
		mu  sync.Mutex
	)
	m := NewWorkerManager(zap.NewNop())
	for _, name := range []string{"a", "b", "c"} {
		m.Register(&recordingWorker{name: name, log: &log, mu: &mu})
	}

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.IsRunning())
	assert.Error(t, m.StartAll(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, m.Names())

	require.NoError(t, m.StopAll())
	assert.False(t, m.IsRunning())
	assert.Equal(t, []string{"start a", "start b", "start c", "stop c", "stop b", "stop a"}, log)
	assert.NoError(t, m.StopAll())
}

func TestWorkerManagerStartFailureUnwinds(t *testing.T) {
	var (
		log []string
		mu  sync.Mutex
	)
	m := NewWorkerManager(zap.NewNop())
	m.Register(&recordingWorker{name: "a", log: &log, mu: &mu})
	m.Register(&recordingWorker{name: "b", log: &log, mu: &mu, startErr: errors.New("port in use")})
	m.Register(&recordingWorker{name: "c", log: &log, mu: &mu})

	err := m.StartAll(context.Background())
	require.ErrorContains(t, err, "port in use")
	assert.False(t, m.IsRunning())
	assert.Equal(t, []string{"start a", "stop a"}, log)
}

// scriptedProcessor hands out a fixed number of tasks, then reports an empty queue
type scriptedProcessor struct {
	remaining atomic.Int64
	failEvery int64
	calls     atomic.Int64
	workers   sync.Map
}

func (p *scriptedProcessor) Process(ctx context.Context, workerID string, maxLease time.Duration) (*queue.Result, error) {
	p.calls.Add(1)
	p.workers.Store(workerID, true)
	n := p.remaining.Add(-1)
	if n < 0 {
		return nil, nil
	}
	state := entity.TaskCompleted
	if p.failEvery > 0 && n%p.failEvery == 0 {
		state = entity.TaskWaiting
	}
	return &queue.Result{State: state}, nil
}

func TestTaskPoolDrainsQueue(t *testing.T) {
	p := &scriptedProcessor{failEvery: 5}
	p.remaining.Store(20)

	w := NewTaskPoolWorker(TaskPoolConfig{
		WorkerID:     "test",
		Concurrency:  3,
		PollInterval: 5 * time.Millisecond,
	}, p, zap.NewNop())
	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))

	assert.Eventually(t, func() bool {
		processed, _ := w.Counts()
		return processed == 20
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, w.Stop())

	processed, failed := w.Counts()
	assert.Equal(t, int64(20), processed)
	assert.Equal(t, int64(4), failed)

	count := 0
	p.workers.Range(func(_, _ any) bool { count++; return true })
	assert.LessOrEqual(t, count, 3)
	assert.NoError(t, w.Stop())
}

func TestTaskPoolDefaults(t *testing.T) {
	w := NewTaskPoolWorker(TaskPoolConfig{}, &scriptedProcessor{}, zap.NewNop())
	assert.Equal(t, DefaultTaskPoolConfig().Concurrency, w.config.Concurrency)
	assert.Equal(t, DefaultTaskPoolConfig().LeaseDuration, w.config.LeaseDuration)
	assert.NotEmpty(t, w.config.WorkerID)
}

type fakeSweeper struct {
	reclaimed int
	err       error
}

func (f *fakeSweeper) ReclaimExpired(ctx context.Context) (int, error) {
	f.reclaimed++
	return 1, f.err
}

func (f *fakeSweeper) Stats(ctx context.Context) (*queue.Stats, error) {
	return &queue.Stats{Depth: map[entity.TaskState]int{entity.TaskWaiting: 2}, Total: 2}, nil
}

type depthRecorder struct {
	mu    sync.Mutex
	depth map[entity.TaskState]int
}

func (d *depthRecorder) SetDepth(depth map[entity.TaskState]int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.depth = depth
}

func (d *depthRecorder) get() map[entity.TaskState]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.depth
}

func TestSweeperSweep(t *testing.T) {
	q := &fakeSweeper{err: errors.New("db locked")}
	rec := &depthRecorder{}
	w := NewSweeperWorker(time.Hour, q, rec, zap.NewNop())

	w.Sweep(context.Background())
	assert.Equal(t, 1, q.reclaimed)
	assert.Equal(t, 2, rec.get()[entity.TaskWaiting])
}

func TestSweeperLoop(t *testing.T) {
	rec := &depthRecorder{}
	w := NewSweeperWorker(5*time.Millisecond, &fakeSweeper{}, rec, zap.NewNop())

	require.NoError(t, w.Start(context.Background()))
	assert.Eventually(t, func() bool { return rec.get() != nil }, time.Second, 5*time.Millisecond)
	require.NoError(t, w.Stop())
}

type countingJobs struct {
	purged  atomic.Int64
	expired atomic.Int64
}

func (c *countingJobs) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	c.purged.Add(1)
	return 0, nil
}

func (c *countingJobs) ExpireStaleQuotes(ctx context.Context) (int, error) {
	c.expired.Add(1)
	return 0, nil
}

func TestSchedulerRunsJobs(t *testing.T) {
	jobs := &countingJobs{}
	w := NewSchedulerWorker(SchedulerConfig{
		PurgeSchedule:  "@every 1s",
		Retention:      time.Hour,
		ExpireSchedule: "@every 1s",
	}, jobs, jobs, zap.NewNop())

	require.NoError(t, w.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return jobs.purged.Load() > 0 && jobs.expired.Load() > 0
	}, 3*time.Second, 20*time.Millisecond)
	require.NoError(t, w.Stop())
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	jobs := &countingJobs{}
	w := NewSchedulerWorker(SchedulerConfig{PurgeSchedule: "every tuesday"}, jobs, jobs, zap.NewNop())
	assert.Error(t, w.Start(context.Background()))
	assert.NoError(t, w.Stop())
}
