package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
)

// EntityRepository is a mutex-guarded port.EntityRepository
type EntityRepository struct {
	mu           sync.RWMutex
	quotes       map[string]*entity.Quote
	orders       map[string]*entity.Order
	jobs         map[string]*entity.Job
	orderByQuote map[string]string
	jobByOrder   map[string]string
}

// NewEntityRepository creates an empty repository
func NewEntityRepository() *EntityRepository {
	return &EntityRepository{
		quotes:       make(map[string]*entity.Quote),
		orders:       make(map[string]*entity.Order),
		jobs:         make(map[string]*entity.Job),
		orderByQuote: make(map[string]string),
		jobByOrder:   make(map[string]string),
	}
}

func (r *EntityRepository) CreateQuote(ctx context.Context, q *entity.Quote) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.quotes[q.ID]; ok {
		return fmt.Errorf("quote %s: %w", q.ID, entity.ErrConflict)
	}
	r.quotes[q.ID] = q.Clone()
	return nil
}

func (r *EntityRepository) GetQuote(ctx context.Context, id string) (*entity.Quote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.quotes[id]
	if !ok {
		return nil, fmt.Errorf("quote %s: %w", id, entity.ErrNotFound)
	}
	return q.Clone(), nil
}

func (r *EntityRepository) SaveQuote(ctx context.Context, q *entity.Quote, expectedStatus string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.quotes[q.ID]
	if !ok {
		return fmt.Errorf("quote %s: %w", q.ID, entity.ErrNotFound)
	}
	if stored.Status != expectedStatus {
		return fmt.Errorf("quote %s is %s, expected %s: %w", q.ID, stored.Status, expectedStatus, entity.ErrConflict)
	}
	r.quotes[q.ID] = q.Clone()
	return nil
}

func (r *EntityRepository) ListExpiredQuotes(ctx context.Context, before time.Time, limit int) ([]*entity.Quote, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entity.Quote, 0)
	for _, q := range r.quotes {
		if q.Status != entity.QuoteStatusSent && q.Status != entity.QuoteStatusViewed {
			continue
		}
		if q.ExpiresAt.IsZero() || !q.ExpiresAt.Before(before) {
			continue
		}
		out = append(out, q.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *EntityRepository) CreateOrder(ctx context.Context, o *entity.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[o.ID]; ok {
		return fmt.Errorf("order %s: %w", o.ID, entity.ErrConflict)
	}
	if existing, ok := r.orderByQuote[o.QuoteID]; ok {
		return fmt.Errorf("quote %s already has order %s: %w", o.QuoteID, existing, entity.ErrConflict)
	}
	r.orders[o.ID] = o.Clone()
	r.orderByQuote[o.QuoteID] = o.ID
	return nil
}

func (r *EntityRepository) GetOrder(ctx context.Context, id string) (*entity.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, entity.ErrNotFound)
	}
	return o.Clone(), nil
}

func (r *EntityRepository) GetOrderByQuoteID(ctx context.Context, quoteID string) (*entity.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.orderByQuote[quoteID]
	if !ok {
		return nil, fmt.Errorf("order for quote %s: %w", quoteID, entity.ErrNotFound)
	}
	return r.orders[id].Clone(), nil
}

func (r *EntityRepository) CreateJob(ctx context.Context, j *entity.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[j.ID]; ok {
		return fmt.Errorf("job %s: %w", j.ID, entity.ErrConflict)
	}
	if existing, ok := r.jobByOrder[j.OrderID]; ok {
		return fmt.Errorf("order %s already has job %s: %w", j.OrderID, existing, entity.ErrConflict)
	}
	r.jobs[j.ID] = j.Clone()
	r.jobByOrder[j.OrderID] = j.ID
	return nil
}

func (r *EntityRepository) GetJob(ctx context.Context, id string) (*entity.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, entity.ErrNotFound)
	}
	return j.Clone(), nil
}

func (r *EntityRepository) GetJobByOrderID(ctx context.Context, orderID string) (*entity.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.jobByOrder[orderID]
	if !ok {
		return nil, fmt.Errorf("job for order %s: %w", orderID, entity.ErrNotFound)
	}
	return r.jobs[id].Clone(), nil
}

func (r *EntityRepository) UpdateStatus(ctx context.Context, entityType entity.EntityType, id, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var current *string
	var updatedAt *time.Time
	switch entityType {
	case entity.EntityQuote:
		if q, ok := r.quotes[id]; ok {
			current, updatedAt = &q.Status, &q.UpdatedAt
		}
	case entity.EntityOrder:
		if o, ok := r.orders[id]; ok {
			current, updatedAt = &o.Status, &o.UpdatedAt
		}
	case entity.EntityJob:
		if j, ok := r.jobs[id]; ok {
			current, updatedAt = &j.Status, &j.UpdatedAt
		}
	default:
		return fmt.Errorf("unsupported entity type %s", entityType)
	}

	if current == nil {
		return fmt.Errorf("%s %s: %w", entityType, id, entity.ErrNotFound)
	}
	if *current != from {
		return fmt.Errorf("%s %s is %s, expected %s: %w", entityType, id, *current, from, entity.ErrConflict)
	}
	*current = to
	*updatedAt = time.Now().UTC()
	return nil
}

var _ port.EntityRepository = (*EntityRepository)(nil)
