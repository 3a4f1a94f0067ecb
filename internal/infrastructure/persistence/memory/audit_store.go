package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
)

// AuditStore is an append-only in-memory port.AuditStore
type AuditStore struct {
	mu      sync.RWMutex
	entries []*entity.AuditLogEntry
}

// NewAuditStore creates an empty AuditStore
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) Append(ctx context.Context, entry *entity.AuditLogEntry) error {
	cp := *entry
	cp.Metadata = copyMetadata(entry.Metadata)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, &cp)
	return nil
}

// Query returns matching entries newest first; equal timestamps keep reverse insertion order
func (s *AuditStore) Query(ctx context.Context, filter entity.AuditFilter) ([]*entity.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entity.AuditLogEntry, 0)
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if !filter.Matches(e) {
			continue
		}
		cp := *e
		cp.Metadata = copyMetadata(e.Metadata)
		out = append(out, &cp)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func copyMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	cp := make(map[string]interface{}, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

var _ port.AuditStore = (*AuditStore)(nil)
