package entity

import "time"

// Order is the commercial record created once a Quote is accepted
type Order struct {
	ID        string      `json:"id"`
	Number    string      `json:"number"`
	Status    string      `json:"status"`
	Customer  CustomerRef `json:"customer"`
	LineItems []LineItem  `json:"line_items"`
	Totals    Totals      `json:"totals"`
	QuoteID   string      `json:"quote_id"`
	CreatedAt time.Time   `json:"created_at"`
	DueAt     time.Time   `json:"due_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Clone returns a deep copy of the order
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.LineItems = append([]LineItem(nil), o.LineItems...)
	return &c
}
