package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
)

// AuditStore implements port.AuditStore on an append-only table
type AuditStore struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditStore creates a new audit store
func NewAuditStore(db *DB, logger *zap.Logger) *AuditStore {
	return &AuditStore{
		db:     db,
		logger: logger,
	}
}

// Append inserts an audit entry
func (s *AuditStore) Append(ctx context.Context, entry *entity.AuditLogEntry) error {
	metadata, err := marshalJSON(entry.Metadata, "{}")
	if err != nil {
		return fmt.Errorf("failed to encode audit metadata: %w", err)
	}

	_, err = s.db.exec(ctx, `
		INSERT INTO audit_log (id, entity_type, entity_id, action, actor, ts, before_state, after_state, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.EntityType.String(),
		entry.EntityID,
		entry.Action,
		entry.Actor,
		toNanos(entry.Timestamp),
		entry.BeforeState,
		entry.AfterState,
		metadata,
	)
	if err != nil {
		s.logger.Error("Failed to append audit entry",
			zap.String("entity_id", entry.EntityID),
			zap.String("action", entry.Action),
			zap.Error(err))
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Query returns matching entries newest first
func (s *AuditStore) Query(ctx context.Context, filter entity.AuditFilter) ([]*entity.AuditLogEntry, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, filter.EntityType.String())
	}
	if filter.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, filter.Action)
	}
	if !filter.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, toNanos(filter.Since))
	}

	query := "SELECT id, entity_type, entity_id, action, actor, ts, before_state, after_state, metadata FROM audit_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, seq DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	entries := make([]*entity.AuditLogEntry, 0)
	for rows.Next() {
		var (
			e          entity.AuditLogEntry
			entityType string
			ts         int64
			metadata   string
		)
		if err := rows.Scan(&e.ID, &entityType, &e.EntityID, &e.Action, &e.Actor, &ts,
			&e.BeforeState, &e.AfterState, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.EntityType = entity.EntityType(entityType)
		e.Timestamp = fromNanos(ts)
		if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

var _ port.AuditStore = (*AuditStore)(nil)
