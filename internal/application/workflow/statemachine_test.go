package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/printshop-workflow/internal/domain/entity"
	"github.com/garyjia/printshop-workflow/internal/domain/event"
	domainwf "github.com/garyjia/printshop-workflow/internal/domain/workflow"
)

func TestValidateTransition_Quote(t *testing.T) {
	sm := NewStateMachine()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)

	tests := []struct {
		name    string
		current string
		trigger domainwf.Trigger
		want    string
		wantErr error
	}{
		{"send draft", entity.QuoteStatusDraft, domainwf.TriggerSend, entity.QuoteStatusSent, nil},
		{"view sent", entity.QuoteStatusSent, domainwf.TriggerView, entity.QuoteStatusViewed, nil},
		{"approve sent", entity.QuoteStatusSent, domainwf.TriggerApprove, entity.QuoteStatusAccepted, nil},
		{"approve viewed", entity.QuoteStatusViewed, domainwf.TriggerApprove, entity.QuoteStatusAccepted, nil},
		{"reject draft", entity.QuoteStatusDraft, domainwf.TriggerReject, entity.QuoteStatusRejected, nil},
		{"reject viewed", entity.QuoteStatusViewed, domainwf.TriggerReject, entity.QuoteStatusRejected, nil},
		{"expire sent", entity.QuoteStatusSent, domainwf.TriggerExpire, entity.QuoteStatusExpired, nil},
		{"convert accepted", entity.QuoteStatusAccepted, domainwf.TriggerConvert, entity.QuoteStatusConverted, nil},
		{"approve draft", entity.QuoteStatusDraft, domainwf.TriggerApprove, "", ErrInvalidTransition},
		{"approve rejected", entity.QuoteStatusRejected, domainwf.TriggerApprove, "", ErrInvalidTransition},
		{"approve expired", entity.QuoteStatusExpired, domainwf.TriggerApprove, "", ErrQuoteExpired},
		{"reject accepted", entity.QuoteStatusAccepted, domainwf.TriggerReject, "", ErrInvalidTransition},
		{"convert sent", entity.QuoteStatusSent, domainwf.TriggerConvert, "", ErrInvalidTransition},
		{"reject converted", entity.QuoteStatusConverted, domainwf.TriggerReject, "", ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sm.ValidateTransition(context.Background(), entity.EntityQuote, tt.current, tt.trigger,
				At(now), WithExpiresAt(future), ForEntity("q-1"))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)

				var terr *domainwf.TransitionError
				require.True(t, errors.As(err, &terr))
				assert.Equal(t, "q-1", terr.EntityID)
				assert.Equal(t, domainwf.State(tt.current), terr.From)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestValidateTransition_ApprovePastExpiry(t *testing.T) {
	sm := NewStateMachine()
	expiresAt := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)

	_, err := sm.ValidateTransition(context.Background(), entity.EntityQuote, entity.QuoteStatusSent, domainwf.TriggerApprove,
		At(expiresAt), WithExpiresAt(expiresAt))
	assert.ErrorIs(t, err, ErrQuoteExpired)

	got, err := sm.ValidateTransition(context.Background(), entity.EntityQuote, entity.QuoteStatusSent, domainwf.TriggerApprove,
		At(expiresAt.Add(-time.Second)), WithExpiresAt(expiresAt))
	require.NoError(t, err)
	assert.Equal(t, entity.QuoteStatusAccepted, got.String())

	// Rejection ignores expiry
	_, err = sm.ValidateTransition(context.Background(), entity.EntityQuote, entity.QuoteStatusSent, domainwf.TriggerReject,
		At(expiresAt.Add(time.Hour)), WithExpiresAt(expiresAt))
	assert.NoError(t, err)
}

func TestValidateTransition_OrderAndJob(t *testing.T) {
	sm := NewStateMachine()
	ctx := context.Background()

	got, err := sm.ValidateTransition(ctx, entity.EntityOrder, entity.OrderStatusPending, domainwf.TriggerStartProduction)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusInProduction, got.String())

	_, err = sm.ValidateTransition(ctx, entity.EntityOrder, entity.OrderStatusPending, domainwf.TriggerShip)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err = sm.ValidateTransition(ctx, entity.EntityJob, entity.JobStatusQualityCheck, domainwf.TriggerFailQC)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusInProgress, got.String())

	_, err = sm.ValidateTransition(ctx, entity.EntityJob, entity.JobStatusComplete, domainwf.TriggerStart)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestValidateTransition_UnknownState(t *testing.T) {
	sm := NewStateMachine()

	_, err := sm.ValidateTransition(context.Background(), entity.EntityQuote, "ARCHIVED", domainwf.TriggerSend)
	assert.ErrorIs(t, err, domainwf.ErrInvalidState)

	_, err = sm.ValidateTransition(context.Background(), entity.EntityTask, entity.TaskWaiting.String(), domainwf.TriggerSend)
	assert.ErrorIs(t, err, domainwf.ErrInvalidState)
}

func TestPermittedTriggers(t *testing.T) {
	sm := NewStateMachine()

	assert.ElementsMatch(t,
		[]domainwf.Trigger{domainwf.TriggerView, domainwf.TriggerApprove, domainwf.TriggerReject, domainwf.TriggerExpire},
		sm.PermittedTriggers(entity.EntityQuote, entity.QuoteStatusSent))
	assert.Empty(t, sm.PermittedTriggers(entity.EntityQuote, entity.QuoteStatusConverted))
	assert.Nil(t, sm.PermittedTriggers(entity.EntityQuote, "ARCHIVED"))
}

func TestPlanTasks(t *testing.T) {
	sm := NewStateMachine()

	approve := sm.PlanTasks(entity.EntityQuote, domainwf.TriggerApprove, "q-1")
	require.Len(t, approve, 1)
	assert.Equal(t, entity.TaskCreateOrder, approve[0].Type)
	assert.Equal(t, "quote:q-1:convert", approve[0].DedupKey)
	assert.Equal(t, "q-1", approve[0].Payload[PayloadQuoteID])

	require.Len(t, approve[0].OnSuccess, 2)
	assert.Equal(t, entity.TaskCreateJob, approve[0].OnSuccess[0].Type)
	assert.Equal(t, "quote:q-1:create_job", approve[0].OnSuccess[0].DedupKey)
	assert.Equal(t, entity.TaskNotify, approve[0].OnSuccess[1].Type)
	assert.Equal(t, event.TypeQuoteConverted.String(), approve[0].OnSuccess[1].Payload[PayloadEvent])

	reject := sm.PlanTasks(entity.EntityQuote, domainwf.TriggerReject, "q-1")
	require.Len(t, reject, 1)
	assert.Equal(t, entity.TaskNotify, reject[0].Type)
	assert.Equal(t, "quote:q-1:notify:rejected", reject[0].DedupKey)
	assert.Equal(t, event.TypeQuoteRejected.String(), reject[0].Payload[PayloadEvent])

	assert.Empty(t, sm.PlanTasks(entity.EntityQuote, domainwf.TriggerView, "q-1"))
	assert.Empty(t, sm.PlanTasks(entity.EntityOrder, domainwf.TriggerShip, "o-1"))

	keys := PlannedDedupKeys("q-1")
	assert.Contains(t, keys, approve[0].DedupKey)
	assert.Contains(t, keys, approve[0].OnSuccess[0].DedupKey)
	assert.Contains(t, keys, approve[0].OnSuccess[1].DedupKey)
	assert.Contains(t, keys, reject[0].DedupKey)
}

func TestDerivedNumber(t *testing.T) {
	tests := []struct {
		quote, prefix, want string
	}{
		{"QTE-2025-001", "ORD", "ORD-2025-001"},
		{"ORD-2025-001", "JOB", "JOB-2025-001"},
		{"1042", "ORD", "ORD-1042"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DerivedNumber(tt.quote, tt.prefix))
	}
}

func TestRemediation(t *testing.T) {
	task := &entity.WorkflowTask{ID: "t-1", Type: entity.TaskCreateOrder, Payload: map[string]string{PayloadQuoteID: "q-1"}}
	assert.Contains(t, Remediation(task), "quote q-1 is ACCEPTED without an order")
	assert.Contains(t, Remediation(task), "requeue task t-1")

	task.Type = entity.TaskNotify
	task.Payload[PayloadEvent] = event.TypeQuoteRejected.String()
	assert.Contains(t, Remediation(task), "quote.rejected")

	task.Type = "UNKNOWN"
	assert.Empty(t, Remediation(task))
}
