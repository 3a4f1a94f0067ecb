package port

import (
	"context"
	"time"

	"github.com/garyjia/printshop-workflow/internal/domain/entity"
)

// EntityRepository defines persistence operations for quotes, orders and jobs.
// Status writes are compare-and-set on the expected prior status and return
// entity.ErrConflict when another writer got there first.
type EntityRepository interface {
	// CreateQuote stores a new quote
	CreateQuote(ctx context.Context, quote *entity.Quote) error

	// GetQuote retrieves a quote by its ID
	GetQuote(ctx context.Context, id string) (*entity.Quote, error)

	// SaveQuote replaces a quote if its stored status still equals expectedStatus
	SaveQuote(ctx context.Context, quote *entity.Quote, expectedStatus string) error

	// ListExpiredQuotes returns SENT or VIEWED quotes whose expiry is before the cutoff
	ListExpiredQuotes(ctx context.Context, before time.Time, limit int) ([]*entity.Quote, error)

	// CreateOrder stores a new order; a second order for the same quote is a conflict
	CreateOrder(ctx context.Context, order *entity.Order) error

	// GetOrder retrieves an order by its ID
	GetOrder(ctx context.Context, id string) (*entity.Order, error)

	// GetOrderByQuoteID retrieves the order created from a quote
	GetOrderByQuoteID(ctx context.Context, quoteID string) (*entity.Order, error)

	// CreateJob stores a new job; a second job for the same order is a conflict
	CreateJob(ctx context.Context, job *entity.Job) error

	// GetJob retrieves a job by its ID
	GetJob(ctx context.Context, id string) (*entity.Job, error)

	// GetJobByOrderID retrieves the job created from an order
	GetJobByOrderID(ctx context.Context, orderID string) (*entity.Job, error)

	// UpdateStatus moves an entity from one status to another
	UpdateStatus(ctx context.Context, entityType entity.EntityType, id, from, to string) error
}

// TaskOutcome is the result of a failed attempt applied by TaskStore.Release
type TaskOutcome struct {
	State       entity.TaskState
	NextRetryAt time.Time
	Error       string
	At          time.Time
}

// TaskFilter selects tasks for inspection and sweeping
type TaskFilter struct {
	State              entity.TaskState
	LeaseExpiredBefore time.Time
	Limit              int
}

// TaskStore defines durable storage for workflow tasks.
// A lease is identified by (LeaseOwner, Attempts); Complete and Release are
// compare-and-set on that pair and return entity.ErrConflict when it no longer matches.
type TaskStore interface {
	// Enqueue inserts a task unless one with the same dedup key exists, in which
	// case the existing task is returned unchanged whatever its state. Only
	// Requeue moves a FAILED or DEAD_LETTERED task back to WAITING.
	// The returned bool is true when the task was newly inserted.
	Enqueue(ctx context.Context, task *entity.WorkflowTask) (*entity.WorkflowTask, bool, error)

	// ClaimNext leases one WAITING task whose NextRetryAt is not after now.
	// Returns nil, nil when no task is ready.
	ClaimNext(ctx context.Context, workerID string, now, leaseUntil time.Time) (*entity.WorkflowTask, error)

	// Complete marks a leased task COMPLETED and enqueues its children atomically
	Complete(ctx context.Context, task *entity.WorkflowTask, now time.Time, children []*entity.WorkflowTask) error

	// Release applies a failed attempt outcome to a leased task
	Release(ctx context.Context, task *entity.WorkflowTask, outcome TaskOutcome) error

	// Get retrieves a task by its ID
	Get(ctx context.Context, id string) (*entity.WorkflowTask, error)

	// GetByDedupKey retrieves a task by its dedup key
	GetByDedupKey(ctx context.Context, dedupKey string) (*entity.WorkflowTask, error)

	// List returns tasks matching the filter, oldest first
	List(ctx context.Context, filter TaskFilter) ([]*entity.WorkflowTask, error)

	// CountByState returns the number of tasks in each state
	CountByState(ctx context.Context) (map[entity.TaskState]int, error)

	// Requeue moves a FAILED or DEAD_LETTERED task back to WAITING with a fresh budget
	Requeue(ctx context.Context, id string, now time.Time) (*entity.WorkflowTask, error)

	// DeleteTerminalBefore purges terminal tasks last updated before the cutoff
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditStore defines append-only storage for audit entries
type AuditStore interface {
	// Append stores an entry; entries are never updated or deleted
	Append(ctx context.Context, entry *entity.AuditLogEntry) error

	// Query returns matching entries newest first
	Query(ctx context.Context, filter entity.AuditFilter) ([]*entity.AuditLogEntry, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
