package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/printshop-workflow/internal/domain/entity"
)

type mockLogger struct {
	mu     sync.Mutex
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

type mockAuditStore struct {
	mu        sync.Mutex
	entries   []*entity.AuditLogEntry
	appendErr error
	panicMsg  string
}

func (m *mockAuditStore) Append(ctx context.Context, e *entity.AuditLogEntry) error {
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	if m.appendErr != nil {
		return m.appendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockAuditStore) Query(ctx context.Context, f entity.AuditFilter) ([]*entity.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.AuditLogEntry
	for _, e := range m.entries {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func TestAuditLog_LogFillsDefaults(t *testing.T) {
	store := &mockAuditStore{}
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	audit := NewAuditLog(store, &mockLogger{}, WithAuditClock(func() time.Time { return fixed }))

	audit.Log(context.Background(), &entity.AuditLogEntry{
		EntityType: entity.EntityQuote,
		EntityID:   "q1",
		Action:     entity.ActionQuoteApproved,
	})

	require.Len(t, store.entries, 1)
	e := store.entries[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, fixed, e.Timestamp)
	assert.Equal(t, entity.ActorSystem, e.Actor)
}

func TestAuditLog_LogNeverFails(t *testing.T) {
	t.Run("store error is logged", func(t *testing.T) {
		logger := &mockLogger{}
		audit := NewAuditLog(&mockAuditStore{appendErr: errors.New("disk full")}, logger)

		audit.Log(context.Background(), &entity.AuditLogEntry{Action: entity.ActionQuoteRejected})
		assert.Equal(t, []string{"Failed to write audit entry"}, logger.errors)
	})

	t.Run("store panic is recovered", func(t *testing.T) {
		logger := &mockLogger{}
		audit := NewAuditLog(&mockAuditStore{panicMsg: "boom"}, logger)

		assert.NotPanics(t, func() {
			audit.Log(context.Background(), &entity.AuditLogEntry{Action: entity.ActionQuoteRejected})
		})
		assert.Equal(t, []string{"Audit log panic recovered"}, logger.errors)
	})

	t.Run("nil entry is ignored", func(t *testing.T) {
		audit := NewAuditLog(&mockAuditStore{}, &mockLogger{})
		assert.NotPanics(t, func() { audit.Log(context.Background(), nil) })
	})
}

func TestAuditLog_QueryNewestFirst(t *testing.T) {
	store := &mockAuditStore{}
	audit := NewAuditLog(store, &mockLogger{})
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i, action := range []string{entity.ActionQuoteApproved, entity.ActionOrderCreated, entity.ActionQuoteConverted} {
		audit.Log(ctx, &entity.AuditLogEntry{
			EntityType: entity.EntityQuote,
			EntityID:   "q1",
			Action:     action,
			Timestamp:  base.Add(time.Duration(i) * time.Second),
		})
	}
	audit.Log(ctx, &entity.AuditLogEntry{EntityType: entity.EntityQuote, EntityID: "q2", Action: entity.ActionQuoteRejected, Timestamp: base})

	entries, err := audit.Query(ctx, entity.AuditFilter{EntityType: entity.EntityQuote, EntityID: "q1"})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, entity.ActionQuoteConverted, entries[0].Action)
	assert.Equal(t, entity.ActionQuoteApproved, entries[2].Action)

	limited, err := audit.Query(ctx, entity.AuditFilter{EntityID: "q1", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
