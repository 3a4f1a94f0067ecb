package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
)

// RunTaskStoreTests exercises a port.TaskStore. newStore must return an empty store.
func RunTaskStoreTests(t *testing.T, newStore func(t *testing.T) port.TaskStore) {
	ctx := context.Background()

	t.Run("enqueue and get", func(t *testing.T) {
		s := newStore(t)
		task := newTask("k1", base)
		task.OnSuccess = []entity.TaskDescriptor{
			{Type: entity.TaskCreateJob, DedupKey: "k1:job", Payload: map[string]string{"quote_id": "q1"}},
		}

		stored, runnable, err := s.Enqueue(ctx, task)
		require.NoError(t, err)
		assert.True(t, runnable)
		assert.Equal(t, task.ID, stored.ID)

		got, err := s.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.TaskWaiting, got.State)
		assert.Equal(t, "q-k1", got.PayloadValue("quote_id"))
		assert.Equal(t, 3, got.MaxAttempts)
		assert.True(t, base.Equal(got.NextRetryAt))
		require.Len(t, got.OnSuccess, 1)
		assert.Equal(t, "k1:job", got.OnSuccess[0].DedupKey)

		byKey, err := s.GetByDedupKey(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, task.ID, byKey.ID)
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, entity.ErrNotFound)
		_, err = s.GetByDedupKey(ctx, "nope")
		assert.ErrorIs(t, err, entity.ErrNotFound)
	})

	t.Run("enqueue is idempotent on dedup key", func(t *testing.T) {
		s := newStore(t)
		first := newTask("dup", base)
		_, _, err := s.Enqueue(ctx, first)
		require.NoError(t, err)

		stored, runnable, err := s.Enqueue(ctx, newTask("dup", base))
		require.NoError(t, err)
		assert.False(t, runnable)
		assert.Equal(t, first.ID, stored.ID)

		counts, err := s.CountByState(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, counts[entity.TaskWaiting])
	})

	t.Run("claim respects next retry time", func(t *testing.T) {
		s := newStore(t)
		_, _, err := s.Enqueue(ctx, newTask("later", base.Add(time.Minute)))
		require.NoError(t, err)

		got, err := s.ClaimNext(ctx, "w1", base, base.Add(time.Minute))
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = s.ClaimNext(ctx, "w1", base.Add(time.Minute), base.Add(2*time.Minute))
		require.NoError(t, err)
		require.NotNil(t, got)
	})

	t.Run("claim leases oldest ready task", func(t *testing.T) {
		s := newStore(t)
		older := newTask("older", base)
		newer := newTask("newer", base.Add(time.Second))
		_, _, _ = s.Enqueue(ctx, newer)
		_, _, _ = s.Enqueue(ctx, older)

		now := base.Add(time.Minute)
		leased, err := s.ClaimNext(ctx, "w1", now, now.Add(30*time.Second))
		require.NoError(t, err)
		require.NotNil(t, leased)
		assert.Equal(t, older.ID, leased.ID)
		assert.Equal(t, entity.TaskLeased, leased.State)
		assert.Equal(t, 1, leased.Attempts)
		assert.Equal(t, "w1", leased.LeaseOwner)
		assert.True(t, now.Add(30*time.Second).Equal(leased.LeaseExpiresAt))
	})

	t.Run("at most one lease per task under contention", func(t *testing.T) {
		s := newStore(t)
		_, _, err := s.Enqueue(ctx, newTask("contended", base))
		require.NoError(t, err)

		var wg sync.WaitGroup
		var mu sync.Mutex
		winners := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				got, err := s.ClaimNext(ctx, "w", base, base.Add(time.Minute))
				assert.NoError(t, err)
				if got != nil {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, winners)
	})

	t.Run("concurrent claimers each lease a distinct ready task", func(t *testing.T) {
		s := newStore(t)
		const n = 8
		for i := 0; i < n; i++ {
			_, _, err := s.Enqueue(ctx, newTask(fmt.Sprintf("ready-%d", i), base))
			require.NoError(t, err)
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		leased := make(map[string]bool)
		misses := 0
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				got, err := s.ClaimNext(ctx, fmt.Sprintf("w%d", i), base, base.Add(time.Minute))
				assert.NoError(t, err)
				mu.Lock()
				defer mu.Unlock()
				if got == nil {
					misses++
					return
				}
				leased[got.ID] = true
			}(i)
		}
		wg.Wait()
		assert.Zero(t, misses)
		assert.Len(t, leased, n)

		counts, err := s.CountByState(ctx)
		require.NoError(t, err)
		assert.Equal(t, n, counts[entity.TaskLeased])
		assert.Zero(t, counts[entity.TaskWaiting])
	})

	t.Run("complete enqueues children atomically", func(t *testing.T) {
		s := newStore(t)
		_, _, _ = s.Enqueue(ctx, newTask("parent", base))
		_, _, _ = s.Enqueue(ctx, newTask("existing-child", base.Add(time.Minute)))

		leased, err := s.ClaimNext(ctx, "w1", base, base.Add(time.Minute))
		require.NoError(t, err)
		require.NotNil(t, leased)
		require.Equal(t, "parent", leased.DedupKey)

		children := []*entity.WorkflowTask{
			newTask("child-a", base.Add(time.Second)),
			newTask("existing-child", base.Add(time.Second)),
		}
		require.NoError(t, s.Complete(ctx, leased, base.Add(time.Second), children))

		parent, err := s.Get(ctx, leased.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.TaskCompleted, parent.State)
		assert.Equal(t, 1, parent.Attempts)

		child, err := s.GetByDedupKey(ctx, "child-a")
		require.NoError(t, err)
		assert.Equal(t, entity.TaskWaiting, child.State)

		counts, err := s.CountByState(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, counts[entity.TaskWaiting])
		assert.Equal(t, 1, counts[entity.TaskCompleted])
	})

	t.Run("complete and release require the current lease", func(t *testing.T) {
		s := newStore(t)
		_, _, _ = s.Enqueue(ctx, newTask("lease", base))
		leased, err := s.ClaimNext(ctx, "w1", base, base.Add(time.Minute))
		require.NoError(t, err)

		stranger := leased.Clone()
		stranger.LeaseOwner = "w2"
		assert.ErrorIs(t, s.Complete(ctx, stranger, base, nil), entity.ErrConflict)

		stale := leased.Clone()
		stale.Attempts = 0
		assert.ErrorIs(t, s.Release(ctx, stale, port.TaskOutcome{State: entity.TaskWaiting, At: base}), entity.ErrConflict)

		require.NoError(t, s.Complete(ctx, leased, base, nil))
		assert.ErrorIs(t, s.Complete(ctx, leased, base, nil), entity.ErrConflict)
	})

	t.Run("release schedules retry and records history", func(t *testing.T) {
		s := newStore(t)
		_, _, _ = s.Enqueue(ctx, newTask("retry", base))
		leased, err := s.ClaimNext(ctx, "w1", base, base.Add(time.Minute))
		require.NoError(t, err)

		retryAt := base.Add(4 * time.Second)
		require.NoError(t, s.Release(ctx, leased, port.TaskOutcome{
			State:       entity.TaskWaiting,
			NextRetryAt: retryAt,
			Error:       "connection reset",
			At:          base.Add(time.Second),
		}))

		got, err := s.Get(ctx, leased.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.TaskWaiting, got.State)
		assert.Equal(t, "connection reset", got.LastError)
		assert.Equal(t, []string{"connection reset"}, got.ErrorHistory)
		assert.Empty(t, got.LeaseOwner)

		none, err := s.ClaimNext(ctx, "w1", base.Add(2*time.Second), base.Add(time.Minute))
		require.NoError(t, err)
		assert.Nil(t, none)

		again, err := s.ClaimNext(ctx, "w2", retryAt, retryAt.Add(time.Minute))
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, 2, again.Attempts)
		assert.Equal(t, "w2", again.LeaseOwner)
	})

	t.Run("enqueue leaves a dead-lettered task stopped", func(t *testing.T) {
		s := newStore(t)
		_, _, _ = s.Enqueue(ctx, newTask("dl", base))
		leased, _ := s.ClaimNext(ctx, "w1", base, base.Add(time.Minute))
		require.NoError(t, s.Release(ctx, leased, port.TaskOutcome{
			State: entity.TaskDeadLettered,
			Error: "exhausted",
			At:    base,
		}))

		dead, err := s.List(ctx, port.TaskFilter{State: entity.TaskDeadLettered})
		require.NoError(t, err)
		require.Len(t, dead, 1)

		existing, runnable, err := s.Enqueue(ctx, newTask("dl", base.Add(time.Hour)))
		require.NoError(t, err)
		assert.False(t, runnable)
		assert.Equal(t, leased.ID, existing.ID)
		assert.Equal(t, entity.TaskDeadLettered, existing.State)
		assert.Equal(t, 1, existing.Attempts)
		assert.Equal(t, []string{"exhausted"}, existing.ErrorHistory)

		none, err := s.ClaimNext(ctx, "w2", base.Add(2*time.Hour), base.Add(3*time.Hour))
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("requeue", func(t *testing.T) {
		s := newStore(t)
		_, _, _ = s.Enqueue(ctx, newTask("rq", base))

		task, _ := s.GetByDedupKey(ctx, "rq")
		_, err := s.Requeue(ctx, task.ID, base)
		assert.ErrorIs(t, err, entity.ErrConflict)

		_, err = s.Requeue(ctx, "missing", base)
		assert.ErrorIs(t, err, entity.ErrNotFound)

		leased, _ := s.ClaimNext(ctx, "w1", base, base.Add(time.Minute))
		require.NoError(t, s.Release(ctx, leased, port.TaskOutcome{State: entity.TaskFailed, Error: "bad payload", At: base}))

		requeued, err := s.Requeue(ctx, task.ID, base.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, entity.TaskWaiting, requeued.State)
		assert.Equal(t, 0, requeued.Attempts)
		assert.True(t, base.Add(time.Hour).Equal(requeued.NextRetryAt))
	})

	t.Run("list expired leases", func(t *testing.T) {
		s := newStore(t)
		_, _, _ = s.Enqueue(ctx, newTask("short", base))
		_, _, _ = s.Enqueue(ctx, newTask("long", base.Add(time.Second)))
		short, _ := s.ClaimNext(ctx, "w1", base.Add(time.Second), base.Add(10*time.Second))
		_, _ = s.ClaimNext(ctx, "w2", base.Add(time.Second), base.Add(time.Hour))

		expired, err := s.List(ctx, port.TaskFilter{
			State:              entity.TaskLeased,
			LeaseExpiredBefore: base.Add(time.Minute),
		})
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, short.ID, expired[0].ID)

		all, err := s.List(ctx, port.TaskFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("delete terminal before cutoff", func(t *testing.T) {
		s := newStore(t)
		_, _, _ = s.Enqueue(ctx, newTask("done", base))
		_, _, _ = s.Enqueue(ctx, newTask("pending", base.Add(time.Minute)))
		leased, _ := s.ClaimNext(ctx, "w1", base, base.Add(time.Minute))
		require.NoError(t, s.Complete(ctx, leased, base, nil))

		n, err := s.DeleteTerminalBefore(ctx, base.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		n, err = s.DeleteTerminalBefore(ctx, base.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = s.Get(ctx, leased.ID)
		assert.ErrorIs(t, err, entity.ErrNotFound)

		_, runnable, err := s.Enqueue(ctx, newTask(leased.DedupKey, base.Add(2*time.Hour)))
		require.NoError(t, err)
		assert.True(t, runnable)
	})
}
