package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
)

const taskColumns = `id, dedup_key, type, payload, state, attempts, max_attempts, next_retry_at,
	lease_owner, lease_expires_at, last_error, error_history, on_success, created_at, updated_at`

// TaskStore implements port.TaskStore
type TaskStore struct {
	db     *DB
	logger *zap.Logger
}

// NewTaskStore creates a new task store
func NewTaskStore(db *DB, logger *zap.Logger) *TaskStore {
	return &TaskStore{
		db:     db,
		logger: logger,
	}
}

// Enqueue inserts the task or returns the existing one for its dedup key
func (s *TaskStore) Enqueue(ctx context.Context, task *entity.WorkflowTask) (*entity.WorkflowTask, bool, error) {
	var (
		stored   *entity.WorkflowTask
		runnable bool
	)
	err := s.db.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		stored, runnable, err = s.enqueueTx(ctx, task)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to enqueue task", zap.String("dedup_key", task.DedupKey), zap.Error(err))
		return nil, false, fmt.Errorf("failed to enqueue task: %w", err)
	}
	return stored, runnable, nil
}

func (s *TaskStore) enqueueTx(ctx context.Context, task *entity.WorkflowTask) (*entity.WorkflowTask, bool, error) {
	payload, err := marshalJSON(task.Payload, "{}")
	if err != nil {
		return nil, false, err
	}
	onSuccess, err := marshalJSON(task.OnSuccess, "[]")
	if err != nil {
		return nil, false, err
	}
	history, err := marshalJSON(task.ErrorHistory, "[]")
	if err != nil {
		return nil, false, err
	}

	query := s.db.insertIgnore("workflow_tasks", taskColumns, "?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?")
	n, err := s.db.exec(ctx, query,
		task.ID,
		task.DedupKey,
		string(task.Type),
		payload,
		string(task.State),
		task.Attempts,
		task.MaxAttempts,
		toNanos(task.NextRetryAt),
		task.LeaseOwner,
		toNanos(task.LeaseExpiresAt),
		task.LastError,
		history,
		onSuccess,
		toNanos(task.CreatedAt),
		toNanos(task.UpdatedAt),
	)
	if err != nil {
		return nil, false, err
	}
	if n == 1 {
		return task.Clone(), true, nil
	}

	existing, err := s.getBy(ctx, "dedup_key", task.DedupKey, false)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// claimAttempts bounds how often ClaimNext retries after losing a row to another worker
const claimAttempts = 3

// ClaimNext leases the next ready task
func (s *TaskStore) ClaimNext(ctx context.Context, workerID string, now, leaseUntil time.Time) (*entity.WorkflowTask, error) {
	for i := 0; i < claimAttempts; i++ {
		claimed, lost, err := s.claimOnce(ctx, workerID, now, leaseUntil)
		if err != nil {
			s.logger.Error("Failed to claim task", zap.String("worker_id", workerID), zap.Error(err))
			return nil, fmt.Errorf("failed to claim task: %w", err)
		}
		if !lost {
			return claimed, nil
		}
	}
	return nil, nil
}

// claimOnce selects one ready row and leases it. lost is true when another
// worker took the row between select and update.
func (s *TaskStore) claimOnce(ctx context.Context, workerID string, now, leaseUntil time.Time) (claimed *entity.WorkflowTask, lost bool, err error) {
	err = s.db.WithTransaction(ctx, func(ctx context.Context) error {
		var id string
		err := s.db.queryRow(ctx, `
			SELECT id FROM workflow_tasks
			WHERE state = ? AND next_retry_at <= ?
			ORDER BY next_retry_at, created_at, id
			LIMIT 1`+s.db.lockSuffix(),
			string(entity.TaskWaiting), toNanos(now),
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		n, err := s.db.exec(ctx, `
			UPDATE workflow_tasks
			SET state = ?, attempts = attempts + 1, lease_owner = ?, lease_expires_at = ?, updated_at = ?
			WHERE id = ? AND state = ?`,
			string(entity.TaskLeased), workerID, toNanos(leaseUntil), toNanos(now),
			id, string(entity.TaskWaiting),
		)
		if err != nil {
			return err
		}
		if n == 0 {
			lost = true
			return nil
		}

		claimed, err = s.getBy(ctx, "id", id, false)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return claimed, lost, nil
}

// Complete marks a leased task COMPLETED and enqueues its children
func (s *TaskStore) Complete(ctx context.Context, task *entity.WorkflowTask, now time.Time, children []*entity.WorkflowTask) error {
	return s.db.WithTransaction(ctx, func(ctx context.Context) error {
		n, err := s.db.exec(ctx, `
			UPDATE workflow_tasks
			SET state = ?, lease_expires_at = 0, updated_at = ?
			WHERE id = ? AND state = ? AND lease_owner = ? AND attempts = ?`,
			string(entity.TaskCompleted), toNanos(now),
			task.ID, string(entity.TaskLeased), task.LeaseOwner, task.Attempts,
		)
		if err != nil {
			return fmt.Errorf("failed to complete task %s: %w", task.ID, err)
		}
		if n == 0 {
			return s.leaseMismatch(ctx, task.ID)
		}

		for _, child := range children {
			if _, _, err := s.enqueueTx(ctx, child); err != nil {
				return fmt.Errorf("failed to enqueue follow-up %s: %w", child.DedupKey, err)
			}
		}
		return nil
	})
}

// Release applies a failed attempt outcome to a leased task
func (s *TaskStore) Release(ctx context.Context, task *entity.WorkflowTask, outcome port.TaskOutcome) error {
	return s.db.WithTransaction(ctx, func(ctx context.Context) error {
		stored, err := s.getBy(ctx, "id", task.ID, true)
		if err != nil {
			return err
		}
		if stored.State != entity.TaskLeased || stored.LeaseOwner != task.LeaseOwner || stored.Attempts != task.Attempts {
			return fmt.Errorf("task %s: %w", task.ID, entity.ErrConflict)
		}

		history, err := marshalJSON(append(stored.ErrorHistory, outcome.Error), "[]")
		if err != nil {
			return err
		}

		owner, nextRetryAt := stored.LeaseOwner, stored.NextRetryAt
		if outcome.State == entity.TaskWaiting {
			owner, nextRetryAt = "", outcome.NextRetryAt
		}

		n, err := s.db.exec(ctx, `
			UPDATE workflow_tasks
			SET state = ?, last_error = ?, error_history = ?, lease_owner = ?, lease_expires_at = 0,
				next_retry_at = ?, updated_at = ?
			WHERE id = ? AND state = ? AND lease_owner = ? AND attempts = ?`,
			string(outcome.State), outcome.Error, history, owner, toNanos(nextRetryAt), toNanos(outcome.At),
			task.ID, string(entity.TaskLeased), task.LeaseOwner, task.Attempts,
		)
		if err != nil {
			return fmt.Errorf("failed to release task %s: %w", task.ID, err)
		}
		if n == 0 {
			return fmt.Errorf("task %s: %w", task.ID, entity.ErrConflict)
		}
		return nil
	})
}

// leaseMismatch distinguishes a missing task from a lost lease
func (s *TaskStore) leaseMismatch(ctx context.Context, id string) error {
	if _, err := s.getBy(ctx, "id", id, false); err != nil {
		return err
	}
	return fmt.Errorf("task %s: %w", id, entity.ErrConflict)
}

// Get retrieves a task by its ID
func (s *TaskStore) Get(ctx context.Context, id string) (*entity.WorkflowTask, error) {
	return s.getBy(ctx, "id", id, false)
}

// GetByDedupKey retrieves a task by its dedup key
func (s *TaskStore) GetByDedupKey(ctx context.Context, dedupKey string) (*entity.WorkflowTask, error) {
	return s.getBy(ctx, "dedup_key", dedupKey, false)
}

func (s *TaskStore) getBy(ctx context.Context, column, value string, lock bool) (*entity.WorkflowTask, error) {
	query := "SELECT " + taskColumns + " FROM workflow_tasks WHERE " + column + " = ?"
	if lock {
		query += s.db.forUpdate()
	}
	task, err := scanTask(s.db.queryRow(ctx, query, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", value, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", value, err)
	}
	return task, nil
}

// List returns tasks matching the filter, oldest first
func (s *TaskStore) List(ctx context.Context, filter port.TaskFilter) ([]*entity.WorkflowTask, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}
	if !filter.LeaseExpiredBefore.IsZero() {
		where = append(where, "lease_expires_at < ?")
		args = append(args, toNanos(filter.LeaseExpiredBefore))
	}

	query := "SELECT " + taskColumns + " FROM workflow_tasks"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*entity.WorkflowTask, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// CountByState returns the number of tasks in each state
func (s *TaskStore) CountByState(ctx context.Context) (map[entity.TaskState]int, error) {
	rows, err := s.db.query(ctx, "SELECT state, COUNT(*) FROM workflow_tasks GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[entity.TaskState]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[entity.TaskState(state)] = n
	}
	return counts, rows.Err()
}

// Requeue moves a FAILED or DEAD_LETTERED task back to WAITING
func (s *TaskStore) Requeue(ctx context.Context, id string, now time.Time) (*entity.WorkflowTask, error) {
	var task *entity.WorkflowTask
	err := s.db.WithTransaction(ctx, func(ctx context.Context) error {
		n, err := s.db.exec(ctx, `
			UPDATE workflow_tasks
			SET state = ?, attempts = 0, next_retry_at = ?, lease_owner = '', lease_expires_at = 0, updated_at = ?
			WHERE id = ? AND state IN (?, ?)`,
			string(entity.TaskWaiting), toNanos(now), toNanos(now),
			id, string(entity.TaskFailed), string(entity.TaskDeadLettered),
		)
		if err != nil {
			return err
		}

		current, err := s.getBy(ctx, "id", id, false)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("task %s is %s: %w", id, current.State, entity.ErrConflict)
		}
		task = current
		return nil
	})
	return task, err
}

// DeleteTerminalBefore purges terminal tasks last updated before the cutoff
func (s *TaskStore) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.db.exec(ctx,
		"DELETE FROM workflow_tasks WHERE state IN (?, ?, ?) AND updated_at < ?",
		string(entity.TaskCompleted), string(entity.TaskFailed), string(entity.TaskDeadLettered), toNanos(before),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge tasks: %w", err)
	}
	return n, nil
}

// rowScanner covers *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*entity.WorkflowTask, error) {
	var (
		task                                          entity.WorkflowTask
		taskType, state                               string
		payload, history, onSuccess                   string
		nextRetryAt, leaseExpiresAt, created, updated int64
	)
	err := row.Scan(
		&task.ID,
		&task.DedupKey,
		&taskType,
		&payload,
		&state,
		&task.Attempts,
		&task.MaxAttempts,
		&nextRetryAt,
		&task.LeaseOwner,
		&leaseExpiresAt,
		&task.LastError,
		&history,
		&onSuccess,
		&created,
		&updated,
	)
	if err != nil {
		return nil, err
	}

	task.Type = entity.TaskType(taskType)
	task.State = entity.TaskState(state)
	task.NextRetryAt = fromNanos(nextRetryAt)
	task.LeaseExpiresAt = fromNanos(leaseExpiresAt)
	task.CreatedAt = fromNanos(created)
	task.UpdatedAt = fromNanos(updated)

	if err := json.Unmarshal([]byte(payload), &task.Payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if err := json.Unmarshal([]byte(history), &task.ErrorHistory); err != nil {
		return nil, fmt.Errorf("decode error history: %w", err)
	}
	if err := json.Unmarshal([]byte(onSuccess), &task.OnSuccess); err != nil {
		return nil, fmt.Errorf("decode follow-ups: %w", err)
	}
	return &task, nil
}

// marshalJSON encodes v, using empty for nil values
func marshalJSON(v interface{}, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

var _ port.TaskStore = (*TaskStore)(nil)
