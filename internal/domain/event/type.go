package event

// Type identifies the type of domain event
type Type string

const (
	TypeQuoteStatusChanged Type = "quote.status_changed"
	TypeQuoteConverted     Type = "quote.converted"
	TypeQuoteRejected      Type = "quote.rejected"
	TypeQuoteExpired       Type = "quote.expired"
	TypeTaskDeadLettered   Type = "task.dead_lettered"
	TypeTaskFailed         Type = "task.failed"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeQuoteStatusChanged,
		TypeQuoteConverted,
		TypeQuoteRejected,
		TypeQuoteExpired,
		TypeTaskDeadLettered,
		TypeTaskFailed:
		return true
	default:
		return false
	}
}

// IsCustomerFacing reports whether the event is addressed to the quote's customer
func (t Type) IsCustomerFacing() bool {
	return t == TypeQuoteConverted || t == TypeQuoteRejected
}

// IsOperatorAlert reports whether the event needs operator attention
func (t Type) IsOperatorAlert() bool {
	return t == TypeTaskDeadLettered || t == TypeTaskFailed
}
