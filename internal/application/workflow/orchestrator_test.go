package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/printshop-workflow/internal/domain/entity"
)

func TestApproveQuote_AcceptsSentAndViewed(t *testing.T) {
	for _, status := range []string{entity.QuoteStatusSent, entity.QuoteStatusViewed} {
		t.Run(status, func(t *testing.T) {
			h := newHarness(t)
			h.seedQuote(t, "q-1", "QTE-2025-001", status)

			result, err := h.orch.ApproveQuote(context.Background(), "q-1", alice)
			require.NoError(t, err)
			assert.False(t, result.AlreadyProcessed)
			assert.Equal(t, entity.QuoteStatusAccepted, result.Quote.Status)
			require.NotNil(t, result.Quote.Approval)
			assert.Equal(t, "Alice Customer", result.Quote.Approval.ApproverName)
			assert.False(t, result.Quote.Approval.ApprovedAt.IsZero())
			require.Len(t, result.TaskIDs, 1)

			stored, err := h.repo.GetQuote(context.Background(), "q-1")
			require.NoError(t, err)
			assert.Equal(t, entity.QuoteStatusAccepted, stored.Status)

			task, err := h.queue.Get(context.Background(), result.TaskIDs[0])
			require.NoError(t, err)
			assert.Equal(t, entity.TaskCreateOrder, task.Type)
			assert.Equal(t, entity.TaskWaiting, task.State)

			// Approval does not wait for the order
			_, err = h.repo.GetOrderByQuoteID(context.Background(), "q-1")
			assert.True(t, IsNotFound(err))
		})
	}
}

func TestApproveQuote_Expired(t *testing.T) {
	h := newHarness(t)
	h.seedQuote(t, "q-late", "QTE-2025-002", entity.QuoteStatusSent, func(q *entity.Quote) {
		q.ExpiresAt = time.Now().Add(-time.Hour)
	})
	h.seedQuote(t, "q-gone", "QTE-2025-003", entity.QuoteStatusExpired)

	for _, id := range []string{"q-late", "q-gone"} {
		_, err := h.orch.ApproveQuote(context.Background(), id, alice)
		assert.ErrorIs(t, err, ErrQuoteExpired, id)
	}

	stored, err := h.repo.GetQuote(context.Background(), "q-late")
	require.NoError(t, err)
	assert.Equal(t, entity.QuoteStatusSent, stored.Status)

	stats, err := h.orch.QueueStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Total)

	assert.Equal(t, []string{entity.ActionQuoteApproveFailed},
		h.actions(t, entity.AuditFilter{EntityType: entity.EntityQuote, EntityID: "q-late"}))
}

func TestApproveQuote_InvalidTransition(t *testing.T) {
	tests := []string{entity.QuoteStatusDraft, entity.QuoteStatusRejected}
	for _, status := range tests {
		t.Run(status, func(t *testing.T) {
			h := newHarness(t)
			h.seedQuote(t, "q-1", "QTE-2025-001", status)

			_, err := h.orch.ApproveQuote(context.Background(), "q-1", alice)
			assert.ErrorIs(t, err, ErrInvalidTransition)

			stored, err := h.repo.GetQuote(context.Background(), "q-1")
			require.NoError(t, err)
			assert.Equal(t, status, stored.Status)
		})
	}
}

func TestApproveQuote_Validation(t *testing.T) {
	h := newHarness(t)
	h.seedQuote(t, "q-1", "QTE-2025-001", entity.QuoteStatusSent)

	tests := []struct {
		name     string
		quoteID  string
		approver ApproverInfo
		field    string
	}{
		{"missing name", "q-1", ApproverInfo{Email: "alice@acme.example"}, "name"},
		{"bad email", "q-1", ApproverInfo{Name: "Alice", Email: "not-an-email"}, "email"},
		{"long name", "q-1", ApproverInfo{Name: strings.Repeat("a", 201)}, "name"},
		{"missing quote id", "", ApproverInfo{Name: "Alice"}, "quote_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orch.ApproveQuote(context.Background(), tt.quoteID, tt.approver)
			require.Error(t, err)
			assert.True(t, IsValidation(err))

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
		})
	}

	stored, err := h.repo.GetQuote(context.Background(), "q-1")
	require.NoError(t, err)
	assert.Equal(t, entity.QuoteStatusSent, stored.Status)
}

func TestApproveQuote_NotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.ApproveQuote(context.Background(), "missing", alice)
	assert.True(t, IsNotFound(err))
}

func TestApproveQuote_Twice(t *testing.T) {
	h := newHarness(t)
	h.seedQuote(t, "q-1", "QTE-2025-001", entity.QuoteStatusSent)

	first, err := h.orch.ApproveQuote(context.Background(), "q-1", alice)
	require.NoError(t, err)

	second, err := h.orch.ApproveQuote(context.Background(), "q-1", alice)
	require.NoError(t, err)
	assert.True(t, second.AlreadyProcessed)
	assert.Equal(t, first.TaskIDs, second.TaskIDs)

	h.drain(t)

	third, err := h.orch.ApproveQuote(context.Background(), "q-1", alice)
	require.NoError(t, err)
	assert.True(t, third.AlreadyProcessed)
	assert.Equal(t, entity.QuoteStatusConverted, third.Quote.Status)
	assert.Empty(t, third.TaskIDs)

	stats, err := h.orch.QueueStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Depth[entity.TaskCompleted])
	assert.Len(t, h.outbox.sent(), 1)
}

func TestApproveQuote_Concurrent(t *testing.T) {
	h := newHarness(t)
	h.seedQuote(t, "q-1", "QTE-2025-001", entity.QuoteStatusViewed)

	const callers = 12
	start := make(chan struct{})
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fresh int
		errs  []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			res, err := h.orch.ApproveQuote(context.Background(), "q-1",
				ApproverInfo{Name: fmt.Sprintf("Approver %d", i)})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if !res.AlreadyProcessed {
				fresh++
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, 1, fresh)

	h.drain(t)

	order, err := h.repo.GetOrderByQuoteID(context.Background(), "q-1")
	require.NoError(t, err)
	_, err = h.repo.GetJobByOrderID(context.Background(), order.ID)
	require.NoError(t, err)

	created := h.actions(t, entity.AuditFilter{EntityType: entity.EntityOrder, Action: entity.ActionOrderCreated})
	assert.Len(t, created, 1)
	assert.Len(t, h.outbox.sent(), 1)
}

func TestApproveQuote_EndToEnd(t *testing.T) {
	h := newHarness(t)
	h.seedQuote(t, "q-1", "QTE-2025-001", entity.QuoteStatusSent)

	_, err := h.orch.ApproveQuote(context.Background(), "q-1", alice)
	require.NoError(t, err)
	h.drain(t)

	status, err := h.orch.GetWorkflowStatus(context.Background(), "q-1")
	require.NoError(t, err)

	assert.Equal(t, entity.QuoteStatusConverted, status.Quote.Status)
	require.NotNil(t, status.Order)
	assert.Equal(t, status.Order.ID, status.Quote.OrderID)
	assert.Equal(t, "ORD-2025-001", status.Order.Number)
	assert.Equal(t, entity.OrderStatusPending, status.Order.Status)
	assert.Equal(t, int64(110775), status.Order.Totals.TotalCents)
	assert.Len(t, status.Order.LineItems, 2)
	assert.True(t, status.Order.DueAt.After(status.Order.CreatedAt))

	require.NotNil(t, status.Job)
	assert.Equal(t, "JOB-2025-001", status.Job.Number)
	assert.Equal(t, entity.JobStatusPendingArtwork, status.Job.Status)
	assert.Equal(t, "5 x Vinyl banner 3x6; 25 x Yard signs", status.Job.ProductionNotes)

	require.Len(t, status.Tasks, 3)
	for _, task := range status.Tasks {
		assert.Equal(t, entity.TaskCompleted, task.State, task.DedupKey)
	}

	all := h.actions(t, entity.AuditFilter{})
	assert.True(t, subsequence(all, entity.ActionQuoteApproved, entity.ActionOrderCreated, entity.ActionQuoteConverted), "%v", all)
	assert.Contains(t, all, entity.ActionJobCreated)
	assert.Contains(t, all, entity.ActionNotificationSent)

	sent := h.outbox.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "orders@acme.example", sent[0].To)
	assert.Equal(t, "Quote QTE-2025-001 Converted to Order ORD-2025-001", sent[0].Subject)
	assert.Contains(t, sent[0].Body, "$1,107.75")
}

func TestRejectQuote(t *testing.T) {
	h := newHarness(t)
	h.seedQuote(t, "q-1", "QTE-2025-001", entity.QuoteStatusViewed)

	result, err := h.orch.RejectQuote(context.Background(), "q-1", "Not in budget")
	require.NoError(t, err)
	assert.Equal(t, entity.QuoteStatusRejected, result.Quote.Status)
	assert.Equal(t, "Not in budget", result.Quote.RejectionReason)
	h.drain(t)

	again, err := h.orch.RejectQuote(context.Background(), "q-1", "Not in budget")
	require.NoError(t, err)
	assert.True(t, again.AlreadyProcessed)
	h.drain(t)

	status, err := h.orch.GetWorkflowStatus(context.Background(), "q-1")
	require.NoError(t, err)
	assert.Equal(t, entity.QuoteStatusRejected, status.Quote.Status)
	assert.Nil(t, status.Order)
	assert.Nil(t, status.Job)

	sent := h.outbox.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Quote QTE-2025-001 Rejected", sent[0].Subject)
	assert.Contains(t, sent[0].Body, "Not in budget")

	_, err = h.orch.ApproveQuote(context.Background(), "q-1", alice)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRejectQuote_Validation(t *testing.T) {
	h := newHarness(t)
	h.seedQuote(t, "q-1", "QTE-2025-001", entity.QuoteStatusSent)

	_, err := h.orch.RejectQuote(context.Background(), "q-1", "")
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "is required", verr.Fields["reason"])
}

func TestRejectQuote_AfterApproval(t *testing.T) {
	h := newHarness(t)
	h.seedQuote(t, "q-1", "QTE-2025-001", entity.QuoteStatusSent)

	_, err := h.orch.ApproveQuote(context.Background(), "q-1", alice)
	require.NoError(t, err)

	_, err = h.orch.RejectQuote(context.Background(), "q-1", "Changed my mind")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, h.actions(t, entity.AuditFilter{EntityType: entity.EntityQuote, EntityID: "q-1"}),
		entity.ActionQuoteRejectFailed)
}

func TestExpireStaleQuotes(t *testing.T) {
	h := newHarness(t)
	past := func(q *entity.Quote) { q.ExpiresAt = time.Now().Add(-time.Minute) }
	h.seedQuote(t, "q-sent", "QTE-2025-010", entity.QuoteStatusSent, past)
	h.seedQuote(t, "q-viewed", "QTE-2025-011", entity.QuoteStatusViewed, past)
	h.seedQuote(t, "q-draft", "QTE-2025-012", entity.QuoteStatusDraft, past)
	h.seedQuote(t, "q-fresh", "QTE-2025-013", entity.QuoteStatusSent)

	n, err := h.orch.ExpireStaleQuotes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	want := map[string]string{
		"q-sent":   entity.QuoteStatusExpired,
		"q-viewed": entity.QuoteStatusExpired,
		"q-draft":  entity.QuoteStatusDraft,
		"q-fresh":  entity.QuoteStatusSent,
	}
	for id, status := range want {
		q, err := h.repo.GetQuote(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, status, q.Status, id)
	}

	n, err = h.orch.ExpireStaleQuotes(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	expired := h.actions(t, entity.AuditFilter{EntityType: entity.EntityQuote, Action: entity.ActionQuoteExpired})
	assert.Len(t, expired, 2)
}

func TestRequeueTask_AfterPermanentFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedQuote(t, "q-1", "QTE-2025-001", entity.QuoteStatusSent)

	result, err := h.orch.ApproveQuote(ctx, "q-1", alice)
	require.NoError(t, err)

	// The quote is moved out from under the pending conversion
	require.NoError(t, h.repo.UpdateStatus(ctx, entity.EntityQuote, "q-1", entity.QuoteStatusAccepted, entity.QuoteStatusSent))
	h.drain(t)

	task, err := h.queue.Get(ctx, result.TaskIDs[0])
	require.NoError(t, err)
	assert.Equal(t, entity.TaskFailed, task.State)
	assert.Contains(t, task.LastError, "expected ACCEPTED")

	require.NoError(t, h.repo.UpdateStatus(ctx, entity.EntityQuote, "q-1", entity.QuoteStatusSent, entity.QuoteStatusAccepted))
	requeued, err := h.orch.RequeueTask(ctx, task.ID, "operator@printshop.example")
	require.NoError(t, err)
	assert.Equal(t, entity.TaskWaiting, requeued.State)
	assert.Zero(t, requeued.Attempts)

	h.drain(t)

	status, err := h.orch.GetWorkflowStatus(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, entity.QuoteStatusConverted, status.Quote.Status)
	assert.NotNil(t, status.Job)

	dead, err := h.orch.DeadLetters(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestApproveQuote_AgainLeavesDeadLetterStopped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedQuote(t, "q-1", "QTE-2025-001", entity.QuoteStatusSent)
	h.queue.Register(entity.TaskCreateOrder, func(ctx context.Context, task *entity.WorkflowTask) error {
		return errors.New("order service unavailable")
	})

	first, err := h.orch.ApproveQuote(ctx, "q-1", alice)
	require.NoError(t, err)
	h.drain(t)

	dead, err := h.queue.Get(ctx, first.TaskIDs[0])
	require.NoError(t, err)
	require.Equal(t, entity.TaskDeadLettered, dead.State)
	require.Equal(t, 3, dead.Attempts)

	again, err := h.orch.ApproveQuote(ctx, "q-1", alice)
	require.NoError(t, err)
	assert.True(t, again.AlreadyProcessed)

	still, err := h.queue.Get(ctx, dead.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TaskDeadLettered, still.State)
	assert.Equal(t, 3, still.Attempts)

	res, err := h.queue.Process(ctx, "test-worker", 30*time.Second)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.NotContains(t, h.actions(t, entity.AuditFilter{EntityType: entity.EntityTask, EntityID: dead.ID}), entity.ActionTaskRequeued)
}
