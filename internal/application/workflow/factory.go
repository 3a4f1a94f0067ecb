package workflow

import (
	"context"
	"time"

	"github.com/garyjia/printshop-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/printshop-workflow/internal/domain/workflow"
)

// BuildQuoteStateMachine creates a state machine for the quote lifecycle.
// APPROVE is guarded: it is only permitted while now is before expiresAt.
func BuildQuoteStateMachine(initialState domainwf.State, now, expiresAt time.Time) (domainwf.StateMachine, error) {
	builder := domainwf.NewBuilder(domainwf.QuoteStates)
	notExpired := func(ctx context.Context) bool {
		return expiresAt.IsZero() || now.Before(expiresAt)
	}

	builder.Configure(entity.QuoteStatusDraft).
		Permit(domainwf.TriggerSend, entity.QuoteStatusSent).
		Permit(domainwf.TriggerReject, entity.QuoteStatusRejected)

	builder.Configure(entity.QuoteStatusSent).
		Permit(domainwf.TriggerView, entity.QuoteStatusViewed).
		PermitIf(domainwf.TriggerApprove, entity.QuoteStatusAccepted, notExpired).
		Permit(domainwf.TriggerReject, entity.QuoteStatusRejected).
		Permit(domainwf.TriggerExpire, entity.QuoteStatusExpired)

	builder.Configure(entity.QuoteStatusViewed).
		PermitIf(domainwf.TriggerApprove, entity.QuoteStatusAccepted, notExpired).
		Permit(domainwf.TriggerReject, entity.QuoteStatusRejected).
		Permit(domainwf.TriggerExpire, entity.QuoteStatusExpired)

	// Conversion happens when the order is created, never on approval
	builder.Configure(entity.QuoteStatusAccepted).
		Permit(domainwf.TriggerConvert, entity.QuoteStatusConverted)

	// REJECTED, EXPIRED and CONVERTED are terminal

	return builder.Build(initialState)
}

// BuildOrderStateMachine creates a state machine for the order lifecycle
func BuildOrderStateMachine(initialState domainwf.State) (domainwf.StateMachine, error) {
	builder := domainwf.NewBuilder(domainwf.OrderStates)

	builder.Configure(entity.OrderStatusPending).
		Permit(domainwf.TriggerStartProduction, entity.OrderStatusInProduction).
		Permit(domainwf.TriggerCancel, entity.OrderStatusCancelled)

	builder.Configure(entity.OrderStatusInProduction).
		Permit(domainwf.TriggerMarkReady, entity.OrderStatusReadyToShip).
		Permit(domainwf.TriggerCancel, entity.OrderStatusCancelled)

	builder.Configure(entity.OrderStatusReadyToShip).
		Permit(domainwf.TriggerShip, entity.OrderStatusShipped)

	builder.Configure(entity.OrderStatusShipped).
		Permit(domainwf.TriggerDeliver, entity.OrderStatusDelivered)

	builder.Configure(entity.OrderStatusDelivered).
		Permit(domainwf.TriggerComplete, entity.OrderStatusCompleted)

	builder.Configure(entity.OrderStatusCompleted).
		Permit(domainwf.TriggerRecordPayment, entity.OrderStatusInvoicePaid)

	return builder.Build(initialState)
}

// BuildJobStateMachine creates a state machine for the shop-floor job lifecycle
func BuildJobStateMachine(initialState domainwf.State) (domainwf.StateMachine, error) {
	builder := domainwf.NewBuilder(domainwf.JobStates)

	builder.Configure(entity.JobStatusPendingArtwork).
		Permit(domainwf.TriggerApproveArtwork, entity.JobStatusQueued)

	builder.Configure(entity.JobStatusQueued).
		Permit(domainwf.TriggerStart, entity.JobStatusInProgress)

	builder.Configure(entity.JobStatusInProgress).
		Permit(domainwf.TriggerSubmitQC, entity.JobStatusQualityCheck)

	// A failed QC sends the job back to the press
	builder.Configure(entity.JobStatusQualityCheck).
		Permit(domainwf.TriggerPassQC, entity.JobStatusComplete).
		Permit(domainwf.TriggerFailQC, entity.JobStatusInProgress)

	return builder.Build(initialState)
}
