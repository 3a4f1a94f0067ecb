package queue

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/garyjia/printshop-workflow/internal/domain/entity"
)

// Result describes what one Process call did
type Result struct {
	Task     *entity.WorkflowTask
	State    entity.TaskState
	Err      error
	Duration time.Duration
}

// Process leases one task, runs its handler under a deadline equal to the
// lease, and acknowledges or rejects it. Only the handler sees ctx
// cancellation; settling and auditing the attempt always completes.
// Returns nil, nil when no task is ready.
func (q *Queue) Process(ctx context.Context, workerID string, maxLease time.Duration) (*Result, error) {
	task, err := q.Lease(ctx, workerID, maxLease)
	if err != nil || task == nil {
		return nil, err
	}

	ctx, span := q.tracer.Start(ctx, "queue.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.type", task.Type.String()),
		attribute.String("task.dedup_key", task.DedupKey),
		attribute.Int("task.attempt", task.Attempts),
		attribute.String("worker.id", workerID),
	)

	start := q.now()
	handlerErr := q.run(ctx, task)
	result := &Result{Task: task, Err: handlerErr, Duration: q.now().Sub(start)}

	settleCtx := context.WithoutCancel(ctx)

	if handlerErr == nil {
		if err := q.Ack(settleCtx, task); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			q.logger.Error("Failed to ack task", "task_id", task.ID, "worker_id", workerID, "error", err)
			return result, err
		}
		result.State = entity.TaskCompleted
		q.observer.TaskCompleted(task.Type, result.Duration)
		return result, nil
	}

	span.RecordError(handlerErr)
	span.SetStatus(codes.Error, handlerErr.Error())

	state, err := q.Nack(settleCtx, task, handlerErr)
	if err != nil {
		q.logger.Error("Failed to nack task", "task_id", task.ID, "worker_id", workerID, "error", err)
		return result, err
	}
	result.State = state
	return result, nil
}

func (q *Queue) run(ctx context.Context, task *entity.WorkflowTask) (err error) {
	h, ok := q.handler(task.Type)
	if !ok {
		return Permanent(fmt.Errorf("%w for %s", ErrNoHandler, task.Type))
	}

	runCtx, cancel := context.WithDeadline(ctx, task.LeaseExpiresAt)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			q.logger.Error("Task handler panic recovered", "task_id", task.ID, "type", task.Type, "panic", r)
		}
	}()

	return h(runCtx, task)
}
