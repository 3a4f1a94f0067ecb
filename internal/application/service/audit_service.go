package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
)

// DefaultQueryLimit caps audit queries that do not set a limit
const DefaultQueryLimit = 100

// AuditLog records workflow actions. Log never fails the caller: storage
// errors and panics are logged and swallowed.
type AuditLog interface {
	Log(ctx context.Context, entry *entity.AuditLogEntry)
	Query(ctx context.Context, filter entity.AuditFilter) ([]*entity.AuditLogEntry, error)
}

type auditLogImpl struct {
	store  port.AuditStore
	logger Logger
	now    func() time.Time
}

// AuditOption configures the audit log
type AuditOption func(*auditLogImpl)

// WithAuditClock overrides the timestamp source
func WithAuditClock(now func() time.Time) AuditOption {
	return func(a *auditLogImpl) {
		a.now = now
	}
}

// NewAuditLog creates a new AuditLog backed by store
func NewAuditLog(store port.AuditStore, logger Logger, opts ...AuditOption) AuditLog {
	a := &auditLogImpl{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Log assigns ID, timestamp and actor when unset and appends the entry
func (a *auditLogImpl) Log(ctx context.Context, entry *entity.AuditLogEntry) {
	if entry == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Audit log panic recovered",
				"action", entry.Action,
				"entity_id", entry.EntityID,
				"panic", fmt.Sprint(r),
			)
		}
	}()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = a.now().UTC()
	}
	if entry.Actor == "" {
		entry.Actor = entity.ActorSystem
	}

	if err := a.store.Append(ctx, entry); err != nil {
		a.logger.Error("Failed to write audit entry",
			"error", err,
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
		)
	}
}

// Query returns matching entries newest first
func (a *auditLogImpl) Query(ctx context.Context, filter entity.AuditFilter) ([]*entity.AuditLogEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultQueryLimit
	}

	entries, err := a.store.Query(ctx, filter)
	if err != nil {
		a.logger.Error("Failed to query audit log", "error", err, "entity_id", filter.EntityID)
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	return entries, nil
}
