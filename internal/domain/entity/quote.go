package entity

import "time"

// ApprovalMetadata records who accepted a quote and how
type ApprovalMetadata struct {
	ApproverName  string    `json:"approver_name"`
	ApproverEmail string    `json:"approver_email,omitempty"`
	Signature     string    `json:"signature,omitempty"`
	ApprovedAt    time.Time `json:"approved_at"`
}

// Quote is a priced proposal awaiting customer acceptance.
// A quote owns at most one Order, linked through OrderID once converted.
type Quote struct {
	ID              string            `json:"id"`
	Number          string            `json:"number"`
	Status          string            `json:"status"`
	Customer        CustomerRef       `json:"customer"`
	LineItems       []LineItem        `json:"line_items"`
	Totals          Totals            `json:"totals"`
	ExpiresAt       time.Time         `json:"expires_at"`
	Approval        *ApprovalMetadata `json:"approval,omitempty"`
	RejectionReason string            `json:"rejection_reason,omitempty"`
	OrderID         string            `json:"order_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// IsExpiredAt reports whether the quote can no longer be accepted at t
func (q *Quote) IsExpiredAt(t time.Time) bool {
	if q.Status == QuoteStatusExpired {
		return true
	}
	return !q.ExpiresAt.IsZero() && !t.Before(q.ExpiresAt)
}

// Clone returns a deep copy so callers can mutate without aliasing stored state
func (q *Quote) Clone() *Quote {
	if q == nil {
		return nil
	}
	c := *q
	c.LineItems = append([]LineItem(nil), q.LineItems...)
	if q.Approval != nil {
		a := *q.Approval
		c.Approval = &a
	}
	return &c
}
