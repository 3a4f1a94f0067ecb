package entity

import "time"

// AuditLogEntry is an immutable fact about a workflow action and its outcome
type AuditLogEntry struct {
	ID          string                 `json:"id"`
	EntityType  EntityType             `json:"entity_type"`
	EntityID    string                 `json:"entity_id"`
	Action      string                 `json:"action"`
	Actor       string                 `json:"actor"`
	Timestamp   time.Time              `json:"timestamp"`
	BeforeState string                 `json:"before_state,omitempty"`
	AfterState  string                 `json:"after_state,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// AuditFilter selects audit entries. Zero-valued fields match everything.
type AuditFilter struct {
	EntityType EntityType
	EntityID   string
	Action     string
	Since      time.Time
	Limit      int
}

// Matches reports whether the entry satisfies every set field of the filter
func (f AuditFilter) Matches(e *AuditLogEntry) bool {
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}
