package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
)

func auditEntry(entityID, action string, at time.Time) *entity.AuditLogEntry {
	return &entity.AuditLogEntry{
		ID:          uuid.New().String(),
		EntityType:  entity.EntityQuote,
		EntityID:    entityID,
		Action:      action,
		Actor:       "tester",
		Timestamp:   at,
		BeforeState: entity.QuoteStatusSent,
		AfterState:  entity.QuoteStatusAccepted,
		Metadata:    map[string]interface{}{"approver": "John Smith"},
	}
}

// RunAuditStoreTests exercises a port.AuditStore. newStore must return an empty store.
func RunAuditStoreTests(t *testing.T, newStore func(t *testing.T) port.AuditStore) {
	ctx := context.Background()

	t.Run("append and query by entity", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Append(ctx, auditEntry("q1", entity.ActionQuoteApproved, base)))

		got, err := s.Query(ctx, entity.AuditFilter{EntityType: entity.EntityQuote, EntityID: "q1"})
		require.NoError(t, err)
		require.Len(t, got, 1)

		e := got[0]
		assert.Equal(t, entity.ActionQuoteApproved, e.Action)
		assert.Equal(t, "tester", e.Actor)
		assert.Equal(t, entity.QuoteStatusSent, e.BeforeState)
		assert.Equal(t, entity.QuoteStatusAccepted, e.AfterState)
		assert.True(t, base.Equal(e.Timestamp))
		assert.Equal(t, "John Smith", e.Metadata["approver"])
	})

	t.Run("newest first", func(t *testing.T) {
		s := newStore(t)
		actions := []string{entity.ActionQuoteApproved, entity.ActionOrderCreated, entity.ActionQuoteConverted}
		for i, action := range actions {
			require.NoError(t, s.Append(ctx, auditEntry("q1", action, base.Add(time.Duration(i)*time.Millisecond))))
		}

		got, err := s.Query(ctx, entity.AuditFilter{EntityType: entity.EntityQuote, EntityID: "q1"})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, entity.ActionQuoteConverted, got[0].Action)
		assert.Equal(t, entity.ActionOrderCreated, got[1].Action)
		assert.Equal(t, entity.ActionQuoteApproved, got[2].Action)
	})

	t.Run("filters", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Append(ctx, auditEntry("q1", entity.ActionQuoteApproved, base)))
		require.NoError(t, s.Append(ctx, auditEntry("q1", entity.ActionQuoteConverted, base.Add(time.Hour))))
		require.NoError(t, s.Append(ctx, auditEntry("q2", entity.ActionQuoteRejected, base.Add(time.Minute))))

		byAction, err := s.Query(ctx, entity.AuditFilter{Action: entity.ActionQuoteRejected})
		require.NoError(t, err)
		require.Len(t, byAction, 1)
		assert.Equal(t, "q2", byAction[0].EntityID)

		since, err := s.Query(ctx, entity.AuditFilter{EntityType: entity.EntityQuote, EntityID: "q1", Since: base.Add(time.Minute)})
		require.NoError(t, err)
		require.Len(t, since, 1)
		assert.Equal(t, entity.ActionQuoteConverted, since[0].Action)

		limited, err := s.Query(ctx, entity.AuditFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		none, err := s.Query(ctx, entity.AuditFilter{EntityType: entity.EntityOrder})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("entries are immutable", func(t *testing.T) {
		s := newStore(t)
		entry := auditEntry("q1", entity.ActionQuoteApproved, base)
		require.NoError(t, s.Append(ctx, entry))

		entry.Action = "tampered"
		entry.Metadata["approver"] = "Mallory"

		got, err := s.Query(ctx, entity.AuditFilter{EntityID: "q1"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, entity.ActionQuoteApproved, got[0].Action)
		assert.Equal(t, "John Smith", got[0].Metadata["approver"])
	})
}
