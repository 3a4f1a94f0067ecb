package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
)

const (
	quoteColumns = `id, number, status, customer, line_items, subtotal_cents, tax_cents, total_cents,
	expires_at, approval, rejection_reason, order_id, created_at, updated_at`
	orderColumns = `id, number, status, quote_id, customer, line_items, subtotal_cents, tax_cents, total_cents,
	due_at, created_at, updated_at`
	jobColumns = `id, number, status, order_id, production_notes, created_at, updated_at`
)

// EntityRepository implements port.EntityRepository
type EntityRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewEntityRepository creates a new entity repository
func NewEntityRepository(db *DB, logger *zap.Logger) *EntityRepository {
	return &EntityRepository{
		db:     db,
		logger: logger,
	}
}

// CreateQuote stores a new quote
func (r *EntityRepository) CreateQuote(ctx context.Context, q *entity.Quote) error {
	customer, lineItems, approval, err := encodeQuote(q)
	if err != nil {
		return err
	}

	n, err := r.db.exec(ctx, r.db.insertIgnore("quotes", quoteColumns, "?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?"),
		q.ID,
		q.Number,
		q.Status,
		customer,
		lineItems,
		q.Totals.SubtotalCents,
		q.Totals.TaxCents,
		q.Totals.TotalCents,
		toNanos(q.ExpiresAt),
		approval,
		q.RejectionReason,
		q.OrderID,
		toNanos(q.CreatedAt),
		toNanos(q.UpdatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create quote", zap.String("quote_id", q.ID), zap.Error(err))
		return fmt.Errorf("failed to create quote: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("quote %s: %w", q.ID, entity.ErrConflict)
	}
	return nil
}

// GetQuote retrieves a quote by its ID
func (r *EntityRepository) GetQuote(ctx context.Context, id string) (*entity.Quote, error) {
	q, err := scanQuote(r.db.queryRow(ctx, "SELECT "+quoteColumns+" FROM quotes WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("quote %s: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quote %s: %w", id, err)
	}
	return q, nil
}

// SaveQuote replaces a quote if its stored status still equals expectedStatus
func (r *EntityRepository) SaveQuote(ctx context.Context, q *entity.Quote, expectedStatus string) error {
	customer, lineItems, approval, err := encodeQuote(q)
	if err != nil {
		return err
	}

	n, err := r.db.exec(ctx, `
		UPDATE quotes
		SET number = ?, status = ?, customer = ?, line_items = ?, subtotal_cents = ?, tax_cents = ?,
			total_cents = ?, expires_at = ?, approval = ?, rejection_reason = ?, order_id = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		q.Number,
		q.Status,
		customer,
		lineItems,
		q.Totals.SubtotalCents,
		q.Totals.TaxCents,
		q.Totals.TotalCents,
		toNanos(q.ExpiresAt),
		approval,
		q.RejectionReason,
		q.OrderID,
		toNanos(q.UpdatedAt),
		q.ID,
		expectedStatus,
	)
	if err != nil {
		r.logger.Error("Failed to save quote", zap.String("quote_id", q.ID), zap.Error(err))
		return fmt.Errorf("failed to save quote: %w", err)
	}
	if n == 0 {
		return r.statusMismatch(ctx, "quotes", entity.EntityQuote, q.ID, expectedStatus)
	}
	return nil
}

// ListExpiredQuotes returns SENT or VIEWED quotes whose expiry is before the cutoff
func (r *EntityRepository) ListExpiredQuotes(ctx context.Context, before time.Time, limit int) ([]*entity.Quote, error) {
	query := "SELECT " + quoteColumns + ` FROM quotes
		WHERE status IN (?, ?) AND expires_at > 0 AND expires_at < ?
		ORDER BY expires_at, id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := r.db.query(ctx, query, entity.QuoteStatusSent, entity.QuoteStatusViewed, toNanos(before))
	if err != nil {
		return nil, fmt.Errorf("failed to list expired quotes: %w", err)
	}
	defer rows.Close()

	quotes := make([]*entity.Quote, 0)
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quote: %w", err)
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

// CreateOrder stores a new order; a second order for the same quote is a conflict
func (r *EntityRepository) CreateOrder(ctx context.Context, o *entity.Order) error {
	customer, err := json.Marshal(o.Customer)
	if err != nil {
		return err
	}
	lineItems, err := marshalJSON(o.LineItems, "[]")
	if err != nil {
		return err
	}

	n, err := r.db.exec(ctx, r.db.insertIgnore("orders", orderColumns, "?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?"),
		o.ID,
		o.Number,
		o.Status,
		o.QuoteID,
		string(customer),
		lineItems,
		o.Totals.SubtotalCents,
		o.Totals.TaxCents,
		o.Totals.TotalCents,
		toNanos(o.DueAt),
		toNanos(o.CreatedAt),
		toNanos(o.UpdatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create order", zap.String("quote_id", o.QuoteID), zap.Error(err))
		return fmt.Errorf("failed to create order: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("order for quote %s: %w", o.QuoteID, entity.ErrConflict)
	}
	return nil
}

// GetOrder retrieves an order by its ID
func (r *EntityRepository) GetOrder(ctx context.Context, id string) (*entity.Order, error) {
	return r.getOrderBy(ctx, "id", id)
}

// GetOrderByQuoteID retrieves the order created from a quote
func (r *EntityRepository) GetOrderByQuoteID(ctx context.Context, quoteID string) (*entity.Order, error) {
	return r.getOrderBy(ctx, "quote_id", quoteID)
}

func (r *EntityRepository) getOrderBy(ctx context.Context, column, value string) (*entity.Order, error) {
	var (
		o                           entity.Order
		customer, lineItems         string
		dueAt, createdAt, updatedAt int64
	)
	err := r.db.queryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE "+column+" = ?", value).Scan(
		&o.ID,
		&o.Number,
		&o.Status,
		&o.QuoteID,
		&customer,
		&lineItems,
		&o.Totals.SubtotalCents,
		&o.Totals.TaxCents,
		&o.Totals.TotalCents,
		&dueAt,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", value, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", value, err)
	}

	if err := json.Unmarshal([]byte(customer), &o.Customer); err != nil {
		return nil, fmt.Errorf("decode customer: %w", err)
	}
	if err := json.Unmarshal([]byte(lineItems), &o.LineItems); err != nil {
		return nil, fmt.Errorf("decode line items: %w", err)
	}
	o.DueAt = fromNanos(dueAt)
	o.CreatedAt = fromNanos(createdAt)
	o.UpdatedAt = fromNanos(updatedAt)
	return &o, nil
}

// CreateJob stores a new job; a second job for the same order is a conflict
func (r *EntityRepository) CreateJob(ctx context.Context, j *entity.Job) error {
	n, err := r.db.exec(ctx, r.db.insertIgnore("jobs", jobColumns, "?, ?, ?, ?, ?, ?, ?"),
		j.ID,
		j.Number,
		j.Status,
		j.OrderID,
		j.ProductionNotes,
		toNanos(j.CreatedAt),
		toNanos(j.UpdatedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create job", zap.String("order_id", j.OrderID), zap.Error(err))
		return fmt.Errorf("failed to create job: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job for order %s: %w", j.OrderID, entity.ErrConflict)
	}
	return nil
}

// GetJob retrieves a job by its ID
func (r *EntityRepository) GetJob(ctx context.Context, id string) (*entity.Job, error) {
	return r.getJobBy(ctx, "id", id)
}

// GetJobByOrderID retrieves the job created from an order
func (r *EntityRepository) GetJobByOrderID(ctx context.Context, orderID string) (*entity.Job, error) {
	return r.getJobBy(ctx, "order_id", orderID)
}

func (r *EntityRepository) getJobBy(ctx context.Context, column, value string) (*entity.Job, error) {
	var (
		j                    entity.Job
		createdAt, updatedAt int64
	)
	err := r.db.queryRow(ctx, "SELECT "+jobColumns+" FROM jobs WHERE "+column+" = ?", value).Scan(
		&j.ID, &j.Number, &j.Status, &j.OrderID, &j.ProductionNotes, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", value, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", value, err)
	}
	j.CreatedAt = fromNanos(createdAt)
	j.UpdatedAt = fromNanos(updatedAt)
	return &j, nil
}

// UpdateStatus moves an entity from one status to another
func (r *EntityRepository) UpdateStatus(ctx context.Context, entityType entity.EntityType, id, from, to string) error {
	var table string
	switch entityType {
	case entity.EntityQuote:
		table = "quotes"
	case entity.EntityOrder:
		table = "orders"
	case entity.EntityJob:
		table = "jobs"
	default:
		return fmt.Errorf("unsupported entity type %s", entityType)
	}

	n, err := r.db.exec(ctx, "UPDATE "+table+" SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		to, toNanos(time.Now().UTC()), id, from)
	if err != nil {
		return fmt.Errorf("failed to update %s status: %w", entityType, err)
	}
	if n == 0 {
		return r.statusMismatch(ctx, table, entityType, id, from)
	}
	return nil
}

// statusMismatch explains a compare-and-set that matched no row
func (r *EntityRepository) statusMismatch(ctx context.Context, table string, entityType entity.EntityType, id, expected string) error {
	var current string
	err := r.db.queryRow(ctx, "SELECT status FROM "+table+" WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", entityType, id, entity.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%s %s is %s, expected %s: %w", entityType, id, current, expected, entity.ErrConflict)
}

func encodeQuote(q *entity.Quote) (customer, lineItems, approval string, err error) {
	b, err := json.Marshal(q.Customer)
	if err != nil {
		return "", "", "", err
	}
	customer = string(b)

	if lineItems, err = marshalJSON(q.LineItems, "[]"); err != nil {
		return "", "", "", err
	}

	if q.Approval != nil {
		b, err := json.Marshal(q.Approval)
		if err != nil {
			return "", "", "", err
		}
		approval = string(b)
	}
	return customer, lineItems, approval, nil
}

func scanQuote(row rowScanner) (*entity.Quote, error) {
	var (
		q                               entity.Quote
		customer, lineItems, approval   string
		expiresAt, createdAt, updatedAt int64
	)
	err := row.Scan(
		&q.ID,
		&q.Number,
		&q.Status,
		&customer,
		&lineItems,
		&q.Totals.SubtotalCents,
		&q.Totals.TaxCents,
		&q.Totals.TotalCents,
		&expiresAt,
		&approval,
		&q.RejectionReason,
		&q.OrderID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(customer), &q.Customer); err != nil {
		return nil, fmt.Errorf("decode customer: %w", err)
	}
	if err := json.Unmarshal([]byte(lineItems), &q.LineItems); err != nil {
		return nil, fmt.Errorf("decode line items: %w", err)
	}
	if approval != "" {
		q.Approval = &entity.ApprovalMetadata{}
		if err := json.Unmarshal([]byte(approval), q.Approval); err != nil {
			return nil, fmt.Errorf("decode approval: %w", err)
		}
	}
	q.ExpiresAt = fromNanos(expiresAt)
	q.CreatedAt = fromNanos(createdAt)
	q.UpdatedAt = fromNanos(updatedAt)
	return &q, nil
}

var _ port.EntityRepository = (*EntityRepository)(nil)
