package event

import (
	"testing"
)

func TestType_IsValid(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		want      bool
	}{
		{"status changed", TypeQuoteStatusChanged, true},
		{"converted", TypeQuoteConverted, true},
		{"rejected", TypeQuoteRejected, true},
		{"dead lettered", TypeTaskDeadLettered, true},
		{"unknown", Type("quote.unknown"), false},
		{"empty", Type(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.eventType.IsValid(); got != tt.want {
				t.Errorf("Type.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestType_Audience(t *testing.T) {
	if !TypeQuoteConverted.IsCustomerFacing() || !TypeQuoteRejected.IsCustomerFacing() {
		t.Error("converted and rejected events go to the customer")
	}
	if TypeQuoteStatusChanged.IsCustomerFacing() {
		t.Error("status changes are broadcast only")
	}
	if !TypeTaskDeadLettered.IsOperatorAlert() || !TypeTaskFailed.IsOperatorAlert() {
		t.Error("dead letters and permanent failures alert operators")
	}
}

func TestNewEvent(t *testing.T) {
	payload := map[string]interface{}{"quote_number": "QTE-2025-001"}
	evt := NewEvent(TypeQuoteConverted, "quote", "q1", payload)

	if evt.ID == "" {
		t.Fatal("expected generated ID")
	}
	if evt.DedupKey != evt.ID {
		t.Errorf("DedupKey = %q, want event ID %q", evt.DedupKey, evt.ID)
	}
	if evt.CorrelationID != evt.ID {
		t.Errorf("CorrelationID = %q, want event ID", evt.CorrelationID)
	}
	if evt.Timestamp.IsZero() {
		t.Error("expected timestamp")
	}
	if evt.GetPayloadString("quote_number") != "QTE-2025-001" {
		t.Error("payload not carried")
	}

	other := NewEvent(TypeQuoteConverted, "quote", "q1", nil)
	if other.ID == evt.ID {
		t.Error("IDs must be unique")
	}
}

func TestEvent_CopiesAreIndependent(t *testing.T) {
	evt := NewEvent(TypeQuoteRejected, "quote", "q1", map[string]interface{}{"reason": "Not in budget"})

	keyed := evt.WithDedupKey("quote:q1:notify:rejected")
	withOrder := keyed.WithPayload("order_number", "ORD-2025-001")
	correlated := withOrder.WithCorrelation("corr-1")

	if evt.DedupKey == keyed.DedupKey {
		t.Error("WithDedupKey must not mutate the original")
	}
	if _, ok := keyed.Payload["order_number"]; ok {
		t.Error("WithPayload must not mutate the original payload")
	}
	if correlated.GetPayloadString("order_number") != "ORD-2025-001" {
		t.Error("payload lost across copies")
	}
	if correlated.CorrelationID != "corr-1" || withOrder.CorrelationID == "corr-1" {
		t.Error("WithCorrelation must only affect the copy")
	}
	if correlated.ID != evt.ID {
		t.Error("copies keep the event identity")
	}
}

func TestEvent_GetPayloadInt(t *testing.T) {
	evt := NewEvent(TypeQuoteConverted, "quote", "q1", map[string]interface{}{
		"total_int":   110775,
		"total_float": float64(110775),
		"total_str":   "110775",
	})

	if evt.GetPayloadInt("total_int") != 110775 {
		t.Error("int payload")
	}
	if evt.GetPayloadInt("total_float") != 110775 {
		t.Error("float payload")
	}
	if evt.GetPayloadInt("total_str") != 0 {
		t.Error("string payload should not convert")
	}
	if evt.GetPayloadInt("missing") != 0 {
		t.Error("missing key")
	}
}
