package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
)

// TaskStore is a mutex-guarded port.TaskStore
type TaskStore struct {
	mu      sync.Mutex
	tasks   map[string]*entity.WorkflowTask
	byDedup map[string]string
}

// NewTaskStore creates an empty TaskStore
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks:   make(map[string]*entity.WorkflowTask),
		byDedup: make(map[string]string),
	}
}

func (s *TaskStore) Enqueue(ctx context.Context, task *entity.WorkflowTask) (*entity.WorkflowTask, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, runnable := s.enqueueLocked(task)
	return stored.Clone(), runnable, nil
}

func (s *TaskStore) enqueueLocked(task *entity.WorkflowTask) (*entity.WorkflowTask, bool) {
	if id, ok := s.byDedup[task.DedupKey]; ok {
		return s.tasks[id], false
	}

	stored := task.Clone()
	s.tasks[stored.ID] = stored
	s.byDedup[stored.DedupKey] = stored.ID
	return stored, true
}

func (s *TaskStore) ClaimNext(ctx context.Context, workerID string, now, leaseUntil time.Time) (*entity.WorkflowTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *entity.WorkflowTask
	for _, t := range s.tasks {
		if t.State != entity.TaskWaiting || t.NextRetryAt.After(now) {
			continue
		}
		if next == nil || claimsBefore(t, next) {
			next = t
		}
	}
	if next == nil {
		return nil, nil
	}

	next.State = entity.TaskLeased
	next.Attempts++
	next.LeaseOwner = workerID
	next.LeaseExpiresAt = leaseUntil
	next.UpdatedAt = now
	return next.Clone(), nil
}

func claimsBefore(a, b *entity.WorkflowTask) bool {
	if !a.NextRetryAt.Equal(b.NextRetryAt) {
		return a.NextRetryAt.Before(b.NextRetryAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// leasedLocked returns the stored task if the caller's lease still matches
func (s *TaskStore) leasedLocked(task *entity.WorkflowTask) (*entity.WorkflowTask, error) {
	stored, ok := s.tasks[task.ID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", task.ID, entity.ErrNotFound)
	}
	if stored.State != entity.TaskLeased || stored.LeaseOwner != task.LeaseOwner || stored.Attempts != task.Attempts {
		return nil, fmt.Errorf("task %s: %w", task.ID, entity.ErrConflict)
	}
	return stored, nil
}

func (s *TaskStore) Complete(ctx context.Context, task *entity.WorkflowTask, now time.Time, children []*entity.WorkflowTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.leasedLocked(task)
	if err != nil {
		return err
	}

	stored.State = entity.TaskCompleted
	stored.LeaseExpiresAt = time.Time{}
	stored.UpdatedAt = now
	for _, child := range children {
		s.enqueueLocked(child)
	}
	return nil
}

func (s *TaskStore) Release(ctx context.Context, task *entity.WorkflowTask, outcome port.TaskOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.leasedLocked(task)
	if err != nil {
		return err
	}

	stored.State = outcome.State
	stored.LastError = outcome.Error
	stored.ErrorHistory = append(stored.ErrorHistory, outcome.Error)
	stored.LeaseExpiresAt = time.Time{}
	if outcome.State == entity.TaskWaiting {
		stored.LeaseOwner = ""
		stored.NextRetryAt = outcome.NextRetryAt
	}
	stored.UpdatedAt = outcome.At
	return nil
}

func (s *TaskStore) Get(ctx context.Context, id string) (*entity.WorkflowTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, entity.ErrNotFound)
	}
	return t.Clone(), nil
}

func (s *TaskStore) GetByDedupKey(ctx context.Context, dedupKey string) (*entity.WorkflowTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byDedup[dedupKey]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", dedupKey, entity.ErrNotFound)
	}
	return s.tasks[id].Clone(), nil
}

func (s *TaskStore) List(ctx context.Context, filter port.TaskFilter) ([]*entity.WorkflowTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*entity.WorkflowTask, 0)
	for _, t := range s.tasks {
		if filter.State != "" && t.State != filter.State {
			continue
		}
		if !filter.LeaseExpiredBefore.IsZero() && !t.LeaseExpiresAt.Before(filter.LeaseExpiredBefore) {
			continue
		}
		out = append(out, t.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *TaskStore) CountByState(ctx context.Context) (map[entity.TaskState]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[entity.TaskState]int)
	for _, t := range s.tasks {
		counts[t.State]++
	}
	return counts, nil
}

func (s *TaskStore) Requeue(ctx context.Context, id string, now time.Time) (*entity.WorkflowTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, entity.ErrNotFound)
	}
	if !t.State.IsRevivable() {
		return nil, fmt.Errorf("task %s is %s: %w", id, t.State, entity.ErrConflict)
	}

	t.State = entity.TaskWaiting
	t.Attempts = 0
	t.NextRetryAt = now
	t.LeaseOwner = ""
	t.LeaseExpiresAt = time.Time{}
	t.UpdatedAt = now
	return t.Clone(), nil
}

func (s *TaskStore) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.tasks {
		if t.State.IsTerminal() && t.UpdatedAt.Before(before) {
			delete(s.tasks, id)
			delete(s.byDedup, t.DedupKey)
			n++
		}
	}
	return n, nil
}

var _ port.TaskStore = (*TaskStore)(nil)
