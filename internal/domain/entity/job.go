package entity

import "time"

// Job is the shop-floor production unit derived from an Order
type Job struct {
	ID              string    `json:"id"`
	Number          string    `json:"number"`
	Status          string    `json:"status"`
	ProductionNotes string    `json:"production_notes,omitempty"`
	OrderID         string    `json:"order_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Clone returns a copy of the job
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	return &c
}
