package event

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a domain event handed to the notification dispatcher
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	EntityType    string                 `json:"entity_type"`
	EntityID      string                 `json:"entity_id"`
	DedupKey      string                 `json:"dedup_key"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// NewEvent creates a new domain event with auto-generated ID and timestamp.
// The dedup key defaults to the event ID, so an event built this way is never
// suppressed as a duplicate.
func NewEvent(eventType Type, entityType, entityID string, payload map[string]interface{}) *Event {
	id := uuid.New().String()
	return &Event{
		ID:            id,
		Type:          eventType,
		EntityType:    entityType,
		EntityID:      entityID,
		DedupKey:      id,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
		CorrelationID: id,
	}
}

// WithDedupKey returns a copy of the event carrying the given dedup key
func (e *Event) WithDedupKey(key string) *Event {
	cp := e.clone()
	cp.DedupKey = key
	return cp
}

// WithCorrelation returns a copy of the event linked to a correlation chain
func (e *Event) WithCorrelation(correlationID string) *Event {
	cp := e.clone()
	cp.CorrelationID = correlationID
	return cp
}

// WithPayload returns a new Event with an added payload key-value pair
func (e *Event) WithPayload(key string, value interface{}) *Event {
	cp := e.clone()
	cp.Payload[key] = value
	return cp
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}

func (e *Event) clone() *Event {
	payload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		payload[k] = v
	}
	cp := *e
	cp.Payload = payload
	return &cp
}
