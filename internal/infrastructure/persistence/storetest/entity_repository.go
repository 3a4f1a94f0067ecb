package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
)

// RunEntityRepositoryTests exercises a port.EntityRepository. newRepo must return an empty repository.
func RunEntityRepositoryTests(t *testing.T, newRepo func(t *testing.T) port.EntityRepository) {
	ctx := context.Background()

	t.Run("quote round trip", func(t *testing.T) {
		r := newRepo(t)
		q := newQuote("001", entity.QuoteStatusSent)
		require.NoError(t, r.CreateQuote(ctx, q))
		assert.ErrorIs(t, r.CreateQuote(ctx, q), entity.ErrConflict)

		got, err := r.GetQuote(ctx, "001")
		require.NoError(t, err)
		assert.Equal(t, "QTE-2025-001", got.Number)
		assert.Equal(t, entity.QuoteStatusSent, got.Status)
		assert.Equal(t, q.Customer, got.Customer)
		assert.Equal(t, q.LineItems, got.LineItems)
		assert.Equal(t, int64(110775), got.Totals.TotalCents)
		assert.True(t, q.ExpiresAt.Equal(got.ExpiresAt))
		assert.Nil(t, got.Approval)

		_, err = r.GetQuote(ctx, "missing")
		assert.ErrorIs(t, err, entity.ErrNotFound)
	})

	t.Run("save quote is compare-and-set", func(t *testing.T) {
		r := newRepo(t)
		require.NoError(t, r.CreateQuote(ctx, newQuote("001", entity.QuoteStatusSent)))

		q, err := r.GetQuote(ctx, "001")
		require.NoError(t, err)
		q.Status = entity.QuoteStatusAccepted
		q.Approval = &entity.ApprovalMetadata{
			ApproverName: "John Smith",
			Signature:    "data:image/png;base64,AAAA",
			ApprovedAt:   base.Add(time.Hour),
		}
		q.UpdatedAt = base.Add(time.Hour)

		require.NoError(t, r.SaveQuote(ctx, q, entity.QuoteStatusSent))
		assert.ErrorIs(t, r.SaveQuote(ctx, q, entity.QuoteStatusSent), entity.ErrConflict)

		got, err := r.GetQuote(ctx, "001")
		require.NoError(t, err)
		assert.Equal(t, entity.QuoteStatusAccepted, got.Status)
		require.NotNil(t, got.Approval)
		assert.Equal(t, "John Smith", got.Approval.ApproverName)
		assert.True(t, base.Add(time.Hour).Equal(got.Approval.ApprovedAt))

		missing := newQuote("404", entity.QuoteStatusSent)
		assert.ErrorIs(t, r.SaveQuote(ctx, missing, entity.QuoteStatusSent), entity.ErrNotFound)
	})

	t.Run("list expired quotes", func(t *testing.T) {
		r := newRepo(t)
		expired := newQuote("001", entity.QuoteStatusSent)
		expired.ExpiresAt = base.Add(-time.Hour)
		viewed := newQuote("002", entity.QuoteStatusViewed)
		viewed.ExpiresAt = base.Add(-2 * time.Hour)
		accepted := newQuote("003", entity.QuoteStatusAccepted)
		accepted.ExpiresAt = base.Add(-time.Hour)
		fresh := newQuote("004", entity.QuoteStatusSent)

		for _, q := range []*entity.Quote{expired, viewed, accepted, fresh} {
			require.NoError(t, r.CreateQuote(ctx, q))
		}

		got, err := r.ListExpiredQuotes(ctx, base, 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "002", got[0].ID)
		assert.Equal(t, "001", got[1].ID)
	})

	t.Run("one order per quote", func(t *testing.T) {
		r := newRepo(t)
		require.NoError(t, r.CreateQuote(ctx, newQuote("001", entity.QuoteStatusAccepted)))

		order := &entity.Order{
			ID:        "o1",
			Number:    "ORD-2025-001",
			Status:    entity.OrderStatusPending,
			Customer:  entity.CustomerRef{ID: "cust-1", Name: "Acme Signs", Email: "orders@acme.example"},
			LineItems: newQuote("001", "").LineItems,
			Totals:    entity.Totals{TotalCents: 110775},
			QuoteID:   "001",
			CreatedAt: base,
			DueAt:     base.Add(7 * 24 * time.Hour),
			UpdatedAt: base,
		}
		require.NoError(t, r.CreateOrder(ctx, order))

		second := *order
		second.ID = "o2"
		second.Number = "ORD-2025-002"
		assert.ErrorIs(t, r.CreateOrder(ctx, &second), entity.ErrConflict)

		got, err := r.GetOrderByQuoteID(ctx, "001")
		require.NoError(t, err)
		assert.Equal(t, "o1", got.ID)
		assert.Equal(t, order.LineItems, got.LineItems)
		assert.True(t, order.DueAt.Equal(got.DueAt))

		byID, err := r.GetOrder(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, "ORD-2025-001", byID.Number)

		_, err = r.GetOrderByQuoteID(ctx, "002")
		assert.ErrorIs(t, err, entity.ErrNotFound)
	})

	t.Run("one job per order", func(t *testing.T) {
		r := newRepo(t)
		job := &entity.Job{
			ID:              "j1",
			Number:          "JOB-2025-001",
			Status:          entity.JobStatusPendingArtwork,
			ProductionNotes: "Vinyl banner 3x6 x5",
			OrderID:         "o1",
			CreatedAt:       base,
			UpdatedAt:       base,
		}
		require.NoError(t, r.CreateJob(ctx, job))

		second := *job
		second.ID = "j2"
		assert.ErrorIs(t, r.CreateJob(ctx, &second), entity.ErrConflict)

		got, err := r.GetJobByOrderID(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, "j1", got.ID)
		assert.Equal(t, "Vinyl banner 3x6 x5", got.ProductionNotes)

		_, err = r.GetJob(ctx, "j2")
		assert.ErrorIs(t, err, entity.ErrNotFound)
	})

	t.Run("update status is compare-and-set", func(t *testing.T) {
		r := newRepo(t)
		require.NoError(t, r.CreateQuote(ctx, newQuote("001", entity.QuoteStatusAccepted)))

		require.NoError(t, r.UpdateStatus(ctx, entity.EntityQuote, "001", entity.QuoteStatusAccepted, entity.QuoteStatusConverted))
		assert.ErrorIs(t,
			r.UpdateStatus(ctx, entity.EntityQuote, "001", entity.QuoteStatusAccepted, entity.QuoteStatusConverted),
			entity.ErrConflict)
		assert.ErrorIs(t,
			r.UpdateStatus(ctx, entity.EntityOrder, "missing", entity.OrderStatusPending, entity.OrderStatusCancelled),
			entity.ErrNotFound)

		got, err := r.GetQuote(ctx, "001")
		require.NoError(t, err)
		assert.Equal(t, entity.QuoteStatusConverted, got.Status)
	})
}
