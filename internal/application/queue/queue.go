package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/garyjia/printshop-workflow/internal/application/dispatcher"
	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/application/service"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
	"github.com/garyjia/printshop-workflow/internal/domain/event"
)

// DefaultSweepLimit bounds how many expired leases one sweep reclaims
const DefaultSweepLimit = 100

// Handler executes one task. Returning nil acknowledges the task; any other
// error schedules a retry unless it is wrapped with Permanent.
type Handler func(ctx context.Context, task *entity.WorkflowTask) error

// RemediationFunc returns an operator hint for a task that stopped retrying
type RemediationFunc func(task *entity.WorkflowTask) string

// Stats is the queue depth per state
type Stats struct {
	Depth map[entity.TaskState]int `json:"depth"`
	Total int                      `json:"total"`
}

// Queue is a durable leased task queue with retry, backoff and dead-lettering.
// Mutual exclusion between workers comes from the store's WAITING to LEASED
// compare-and-set; the queue itself holds no task state.
type Queue struct {
	store       port.TaskStore
	audit       service.AuditLog
	alerts      dispatcher.Dispatcher
	policy      RetryPolicy
	observer    Observer
	remediation RemediationFunc
	tracer      trace.Tracer
	logger      service.Logger
	now         func() time.Time

	mu       sync.RWMutex
	handlers map[entity.TaskType]Handler
}

// Option configures the queue
type Option func(*Queue)

// WithRetryPolicy sets attempt budget and backoff
func WithRetryPolicy(p RetryPolicy) Option {
	return func(q *Queue) {
		q.policy = p.withDefaults()
	}
}

// WithAlerts routes dead-letter and failure events to a dispatcher
func WithAlerts(d dispatcher.Dispatcher) Option {
	return func(q *Queue) {
		q.alerts = d
	}
}

// WithObserver attaches a lifecycle observer
func WithObserver(o Observer) Option {
	return func(q *Queue) {
		if o != nil {
			q.observer = o
		}
	}
}

// WithRemediation sets the hint attached to dead-letter alerts
func WithRemediation(fn RemediationFunc) Option {
	return func(q *Queue) {
		q.remediation = fn
	}
}

// WithTracer overrides the tracer used for task spans
func WithTracer(t trace.Tracer) Option {
	return func(q *Queue) {
		q.tracer = t
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// New creates a queue over store
func New(store port.TaskStore, audit service.AuditLog, logger service.Logger, opts ...Option) *Queue {
	q := &Queue{
		store:    store,
		audit:    audit,
		policy:   DefaultRetryPolicy(),
		observer: noopObserver{},
		tracer:   otel.Tracer("printshop-workflow/queue"),
		logger:   logger,
		now:      time.Now,
		handlers: make(map[entity.TaskType]Handler),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Register installs the handler for a task type, replacing any previous one
func (q *Queue) Register(taskType entity.TaskType, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = h
}

func (q *Queue) handler(taskType entity.TaskType) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[taskType]
	return h, ok
}

// Policy returns the effective retry policy
func (q *Queue) Policy() RetryPolicy {
	return q.policy
}

// Enqueue stores a task for the descriptor and returns its ID. Enqueuing a
// dedup key that already exists returns the existing task's ID in whatever
// state it is; stopped tasks are only restarted by Requeue.
func (q *Queue) Enqueue(ctx context.Context, desc entity.TaskDescriptor) (string, error) {
	task, err := q.newTask(desc)
	if err != nil {
		return "", err
	}

	stored, runnable, err := q.store.Enqueue(ctx, task)
	if err != nil {
		q.logger.Error("Failed to enqueue task", "error", err, "dedup_key", desc.DedupKey)
		return "", fmt.Errorf("enqueue %s: %w", desc.DedupKey, err)
	}

	if runnable {
		q.observer.TaskEnqueued(stored.Type)
		q.logger.Info("Task enqueued", "task_id", stored.ID, "type", stored.Type, "dedup_key", stored.DedupKey)
	}
	return stored.ID, nil
}

func (q *Queue) newTask(desc entity.TaskDescriptor) (*entity.WorkflowTask, error) {
	if desc.Type == "" || desc.DedupKey == "" {
		return nil, fmt.Errorf("%w: type and dedup key are required", ErrInvalidDescriptor)
	}

	maxAttempts := desc.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.policy.MaxAttempts
	}

	now := q.now().UTC()
	payload := make(map[string]string, len(desc.Payload))
	for k, v := range desc.Payload {
		payload[k] = v
	}

	return &entity.WorkflowTask{
		ID:          uuid.New().String(),
		DedupKey:    desc.DedupKey,
		Type:        desc.Type,
		Payload:     payload,
		State:       entity.TaskWaiting,
		MaxAttempts: maxAttempts,
		NextRetryAt: now,
		OnSuccess:   append([]entity.TaskDescriptor(nil), desc.OnSuccess...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Lease claims one ready task for workerID. Returns nil, nil when nothing is ready.
func (q *Queue) Lease(ctx context.Context, workerID string, maxLease time.Duration) (*entity.WorkflowTask, error) {
	now := q.now().UTC()
	task, err := q.store.ClaimNext(ctx, workerID, now, now.Add(maxLease))
	if err != nil {
		return nil, fmt.Errorf("lease task: %w", err)
	}
	return task, nil
}

// Ack completes a leased task and enqueues its OnSuccess follow-ups atomically
func (q *Queue) Ack(ctx context.Context, task *entity.WorkflowTask) error {
	now := q.now().UTC()

	children := make([]*entity.WorkflowTask, 0, len(task.OnSuccess))
	for _, desc := range task.OnSuccess {
		child, err := q.newTask(desc)
		if err != nil {
			return err
		}
		children = append(children, child)
	}

	if err := q.store.Complete(ctx, task, now, children); err != nil {
		if errors.Is(err, entity.ErrConflict) {
			return ErrLeaseLost
		}
		return fmt.Errorf("complete task %s: %w", task.ID, err)
	}

	q.audit.Log(ctx, &entity.AuditLogEntry{
		EntityType:  entity.EntityTask,
		EntityID:    task.ID,
		Action:      entity.ActionTaskCompleted,
		Actor:       task.LeaseOwner,
		BeforeState: entity.TaskLeased.String(),
		AfterState:  entity.TaskCompleted.String(),
		Metadata: map[string]interface{}{
			"type":       task.Type.String(),
			"dedup_key":  task.DedupKey,
			"attempts":   task.Attempts,
			"follow_ups": len(children),
		},
	})
	for _, child := range children {
		q.observer.TaskEnqueued(child.Type)
	}
	return nil
}

// Nack records a failed attempt. The task is retried with exponential backoff
// until its attempt budget is spent, then dead-lettered. Permanent errors fail
// the task immediately. Returns the state the task moved to.
func (q *Queue) Nack(ctx context.Context, task *entity.WorkflowTask, cause error) (entity.TaskState, error) {
	return q.release(ctx, task, cause, nil)
}

// release settles a failed attempt and writes one audit entry for it; extra is
// merged into that entry's metadata
func (q *Queue) release(ctx context.Context, task *entity.WorkflowTask, cause error, extra map[string]interface{}) (entity.TaskState, error) {
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	now := q.now().UTC()
	outcome := port.TaskOutcome{Error: cause.Error(), At: now}

	switch {
	case IsPermanent(cause):
		outcome.State = entity.TaskFailed
	case task.Attempts >= task.MaxAttempts:
		outcome.State = entity.TaskDeadLettered
	default:
		outcome.State = entity.TaskWaiting
		outcome.NextRetryAt = now.Add(q.policy.Backoff(task.Attempts))
	}

	if err := q.store.Release(ctx, task, outcome); err != nil {
		if errors.Is(err, entity.ErrConflict) {
			return "", ErrLeaseLost
		}
		return "", fmt.Errorf("release task %s: %w", task.ID, err)
	}

	history := append(append([]string(nil), task.ErrorHistory...), outcome.Error)
	meta := map[string]interface{}{
		"type":         task.Type.String(),
		"dedup_key":    task.DedupKey,
		"attempts":     task.Attempts,
		"max_attempts": task.MaxAttempts,
		"error":        outcome.Error,
	}
	for k, v := range extra {
		meta[k] = v
	}

	switch outcome.State {
	case entity.TaskWaiting:
		meta["next_retry_at"] = outcome.NextRetryAt.Format(time.RFC3339Nano)
		q.observer.TaskRetried(task.Type)
		q.logger.Info("Task retry scheduled",
			"task_id", task.ID, "type", task.Type, "attempts", task.Attempts, "next_retry_at", outcome.NextRetryAt)
		q.auditOutcome(ctx, task, entity.ActionTaskRetryScheduled, outcome.State, meta)
	case entity.TaskDeadLettered:
		meta["error_history"] = history
		q.observer.TaskDeadLettered(task.Type)
		q.logger.Error("Task dead-lettered",
			"task_id", task.ID, "type", task.Type, "attempts", task.Attempts, "error", outcome.Error)
		q.auditOutcome(ctx, task, entity.ActionTaskDeadLettered, outcome.State, meta)
		q.alert(ctx, event.TypeTaskDeadLettered, task, outcome.Error)
	case entity.TaskFailed:
		meta["error_history"] = history
		q.observer.TaskFailed(task.Type)
		q.logger.Error("Task failed permanently",
			"task_id", task.ID, "type", task.Type, "attempts", task.Attempts, "error", outcome.Error)
		q.auditOutcome(ctx, task, entity.ActionTaskFailed, outcome.State, meta)
		q.alert(ctx, event.TypeTaskFailed, task, outcome.Error)
	}

	return outcome.State, nil
}

func (q *Queue) auditOutcome(ctx context.Context, task *entity.WorkflowTask, action string, to entity.TaskState, meta map[string]interface{}) {
	q.audit.Log(ctx, &entity.AuditLogEntry{
		EntityType:  entity.EntityTask,
		EntityID:    task.ID,
		Action:      action,
		Actor:       task.LeaseOwner,
		BeforeState: entity.TaskLeased.String(),
		AfterState:  to.String(),
		Metadata:    meta,
	})
}

func (q *Queue) alert(ctx context.Context, eventType event.Type, task *entity.WorkflowTask, lastErr string) {
	if q.alerts == nil {
		return
	}
	payload := map[string]interface{}{
		event.KeyTaskID:    task.ID,
		event.KeyTaskType:  task.Type.String(),
		event.KeyAttempts:  strconv.Itoa(task.Attempts),
		event.KeyLastError: lastErr,
	}
	if quoteID := task.PayloadValue(event.KeyQuoteID); quoteID != "" {
		payload[event.KeyQuoteID] = quoteID
	}
	if q.remediation != nil {
		if hint := q.remediation(task); hint != "" {
			payload[event.KeyRemediation] = hint
		}
	}
	evt := event.NewEvent(eventType, entity.EntityTask.String(), task.ID, payload).
		WithDedupKey(fmt.Sprintf("%s:attempt:%d", task.DedupKey, task.Attempts))
	q.alerts.DispatchAsync(ctx, evt)
}

// ReclaimExpired treats leases that ran past their deadline as failed attempts.
// Returns the number of tasks reclaimed.
func (q *Queue) ReclaimExpired(ctx context.Context) (int, error) {
	now := q.now().UTC()
	expired, err := q.store.List(ctx, port.TaskFilter{
		State:              entity.TaskLeased,
		LeaseExpiredBefore: now,
		Limit:              DefaultSweepLimit,
	})
	if err != nil {
		return 0, fmt.Errorf("list expired leases: %w", err)
	}

	reclaimed := 0
	for _, task := range expired {
		extra := map[string]interface{}{
			"reclaimed":        true,
			"lease_owner":      task.LeaseOwner,
			"lease_expires_at": task.LeaseExpiresAt.Format(time.RFC3339Nano),
		}
		if _, err := q.release(ctx, task, ErrLeaseExpired, extra); err != nil {
			if errors.Is(err, ErrLeaseLost) {
				continue
			}
			q.logger.Error("Failed to reclaim task", "task_id", task.ID, "error", err)
			continue
		}
		reclaimed++
	}

	if reclaimed > 0 {
		q.logger.Info("Reclaimed expired leases", "count", reclaimed)
	}
	return reclaimed, nil
}

// Stats returns queue depth per state
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	counts, err := q.store.CountByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	stats := &Stats{Depth: make(map[entity.TaskState]int, len(entity.AllTaskStates))}
	for _, s := range entity.AllTaskStates {
		stats.Depth[s] = counts[s]
		stats.Total += counts[s]
	}
	return stats, nil
}

// DeadLetters lists dead-lettered tasks, oldest first
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]*entity.WorkflowTask, error) {
	return q.store.List(ctx, port.TaskFilter{State: entity.TaskDeadLettered, Limit: limit})
}

// Get returns a task by ID
func (q *Queue) Get(ctx context.Context, id string) (*entity.WorkflowTask, error) {
	return q.store.Get(ctx, id)
}

// GetByDedupKey returns a task by dedup key
func (q *Queue) GetByDedupKey(ctx context.Context, key string) (*entity.WorkflowTask, error) {
	return q.store.GetByDedupKey(ctx, key)
}

// Requeue moves a FAILED or DEAD_LETTERED task back to WAITING with a fresh budget
func (q *Queue) Requeue(ctx context.Context, id, actor string) (*entity.WorkflowTask, error) {
	before, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	task, err := q.store.Requeue(ctx, id, q.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("requeue task %s: %w", id, err)
	}

	q.observer.TaskEnqueued(task.Type)
	q.audit.Log(ctx, &entity.AuditLogEntry{
		EntityType:  entity.EntityTask,
		EntityID:    task.ID,
		Action:      entity.ActionTaskRequeued,
		Actor:       actor,
		BeforeState: before.State.String(),
		AfterState:  task.State.String(),
		Metadata: map[string]interface{}{
			"type":       task.Type.String(),
			"dedup_key":  task.DedupKey,
			"last_error": before.LastError,
		},
	})
	return task, nil
}

// Purge deletes terminal tasks not updated within retention
func (q *Queue) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := q.store.DeleteTerminalBefore(ctx, q.now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("purge tasks: %w", err)
	}
	if n > 0 {
		q.logger.Info("Purged terminal tasks", "count", n, "retention", retention.String())
	}
	return n, nil
}
