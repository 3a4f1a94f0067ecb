package event

// Payload keys shared by producers and notification channels
const (
	KeyQuoteID       = "quote_id"
	KeyQuoteNumber   = "quote_number"
	KeyOrderID       = "order_id"
	KeyOrderNumber   = "order_number"
	KeyCustomerName  = "customer_name"
	KeyCustomerEmail = "customer_email"
	KeyTotal         = "total"
	KeyReason        = "reason"
	KeyFromStatus    = "from_status"
	KeyToStatus      = "to_status"
	KeyTaskID        = "task_id"
	KeyTaskType      = "task_type"
	KeyAttempts      = "attempts"
	KeyLastError     = "last_error"
	KeyRemediation   = "remediation"
)
