package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/service"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
	"github.com/garyjia/printshop-workflow/internal/infrastructure/persistence/sqlstore"
	"github.com/garyjia/printshop-workflow/pkg/database"
)

func newSQLiteQueue(t *testing.T) (*Queue, *sqlstore.TaskStore, service.AuditLog) {
	t.Helper()
	raw, err := database.New(database.Config{
		Driver:       database.DriverSQLite,
		DSN:          filepath.Join(t.TempDir(), "queue.db"),
		MaxOpenConns: 1,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	db := sqlstore.NewDB(raw, zap.NewNop())
	require.NoError(t, db.Migrate())

	store := sqlstore.NewTaskStore(db, zap.NewNop())
	audit := service.NewAuditLog(sqlstore.NewAuditStore(db, zap.NewNop()), nopLogger{})
	return New(store, audit, nopLogger{}, WithRetryPolicy(testPolicy)), store, audit
}

func taskActions(t *testing.T, audit service.AuditLog, taskID string) []string {
	t.Helper()
	entries, err := audit.Query(context.Background(), entity.AuditFilter{EntityType: entity.EntityTask, EntityID: taskID})
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func TestProcess_SettlesAfterWorkerCancellation(t *testing.T) {
	t.Run("failed attempt is released and audited", func(t *testing.T) {
		q, store, audit := newSQLiteQueue(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		q.Register(entity.TaskCreateOrder, func(hctx context.Context, task *entity.WorkflowTask) error {
			cancel()
			return hctx.Err()
		})
		id, err := q.Enqueue(context.Background(), entity.TaskDescriptor{Type: entity.TaskCreateOrder, DedupKey: "quote:q1:convert"})
		require.NoError(t, err)

		res, err := q.Process(ctx, "w-1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, entity.TaskWaiting, res.State)

		task, err := store.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, entity.TaskWaiting, task.State)
		assert.Empty(t, task.LeaseOwner)
		assert.Equal(t, 1, task.Attempts)
		assert.Equal(t, []string{entity.ActionTaskRetryScheduled}, taskActions(t, audit, id))
	})

	t.Run("successful attempt is completed and audited", func(t *testing.T) {
		q, store, audit := newSQLiteQueue(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		q.Register(entity.TaskNotify, func(hctx context.Context, task *entity.WorkflowTask) error {
			cancel()
			return nil
		})
		id, err := q.Enqueue(context.Background(), entity.TaskDescriptor{Type: entity.TaskNotify, DedupKey: "quote:q1:notify:rejected"})
		require.NoError(t, err)

		res, err := q.Process(ctx, "w-1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, entity.TaskCompleted, res.State)

		task, err := store.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, entity.TaskCompleted, task.State)
		assert.Equal(t, []string{entity.ActionTaskCompleted}, taskActions(t, audit, id))
	})
}
