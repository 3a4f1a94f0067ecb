// Package storetest holds conformance suites shared by every store implementation.
package storetest

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/printshop-workflow/internal/domain/entity"
)

// base is the reference instant for all fixtures
var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTask(dedupKey string, at time.Time) *entity.WorkflowTask {
	return &entity.WorkflowTask{
		ID:          uuid.New().String(),
		DedupKey:    dedupKey,
		Type:        entity.TaskCreateOrder,
		Payload:     map[string]string{"quote_id": "q-" + dedupKey},
		State:       entity.TaskWaiting,
		MaxAttempts: 3,
		NextRetryAt: at,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

func newQuote(id, status string) *entity.Quote {
	return &entity.Quote{
		ID:     id,
		Number: fmt.Sprintf("QTE-2025-%s", id),
		Status: status,
		Customer: entity.CustomerRef{
			ID:    "cust-1",
			Name:  "Acme Signs",
			Email: "orders@acme.example",
		},
		LineItems: []entity.LineItem{
			{Description: "Vinyl banner 3x6", Quantity: 5, UnitPriceCents: 15000, TotalCents: 75000},
			{Description: "Yard signs", Quantity: 25, UnitPriceCents: 1100, TotalCents: 27500},
		},
		Totals:    entity.Totals{SubtotalCents: 102500, TaxCents: 8275, TotalCents: 110775},
		ExpiresAt: base.Add(30 * 24 * time.Hour),
		CreatedAt: base,
		UpdatedAt: base,
	}
}
