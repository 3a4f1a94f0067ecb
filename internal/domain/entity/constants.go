package entity

// EntityType identifies which workflow entity a record refers to
type EntityType string

const (
	EntityQuote EntityType = "quote"
	EntityOrder EntityType = "order"
	EntityJob   EntityType = "job"
	EntityTask  EntityType = "task"
)

// String returns the string representation of the entity type
func (t EntityType) String() string {
	return string(t)
}

// Quote status constants
const (
	QuoteStatusDraft     = "DRAFT"
	QuoteStatusSent      = "SENT"
	QuoteStatusViewed    = "VIEWED"
	QuoteStatusAccepted  = "ACCEPTED"
	QuoteStatusRejected  = "REJECTED"
	QuoteStatusExpired   = "EXPIRED"
	QuoteStatusConverted = "CONVERTED"
)

// Order status constants
const (
	OrderStatusPending      = "PENDING"
	OrderStatusInProduction = "IN_PRODUCTION"
	OrderStatusReadyToShip  = "READY_TO_SHIP"
	OrderStatusShipped      = "SHIPPED"
	OrderStatusDelivered    = "DELIVERED"
	OrderStatusCompleted    = "COMPLETED"
	OrderStatusCancelled    = "CANCELLED"
	OrderStatusInvoicePaid  = "INVOICE_PAID"
)

// Job status constants
const (
	JobStatusPendingArtwork = "PENDING_ARTWORK"
	JobStatusQueued         = "QUEUED"
	JobStatusInProgress     = "IN_PROGRESS"
	JobStatusQualityCheck   = "QUALITY_CHECK"
	JobStatusComplete       = "COMPLETE"
)

// Audit actions
const (
	ActionQuoteApproved         = "quote.approved"
	ActionQuoteApproveFailed    = "quote.approve_failed"
	ActionQuoteApproveDuplicate = "quote.approve_duplicate"
	ActionQuoteRejected         = "quote.rejected"
	ActionQuoteRejectFailed     = "quote.reject_failed"
	ActionQuoteRejectDuplicate  = "quote.reject_duplicate"
	ActionQuoteConverted        = "quote.converted"
	ActionQuoteExpired          = "quote.expired"
	ActionOrderCreated          = "order.created"
	ActionJobCreated            = "job.created"
	ActionNotificationSent      = "notification.dispatched"
	ActionTaskCompleted         = "task.completed"
	ActionTaskRetryScheduled    = "task.retry_scheduled"
	ActionTaskDeadLettered      = "task.dead_lettered"
	ActionTaskFailed            = "task.failed"
	ActionTaskRequeued          = "task.requeued"
)

// ActorSystem is recorded for changes made by workers and schedulers
const ActorSystem = "system"
