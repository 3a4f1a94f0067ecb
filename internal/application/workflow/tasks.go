package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/printshop-workflow/internal/application/dispatcher"
	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/application/queue"
	"github.com/garyjia/printshop-workflow/internal/application/service"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
	"github.com/garyjia/printshop-workflow/internal/domain/event"
	domainwf "github.com/garyjia/printshop-workflow/internal/domain/workflow"
)

// DefaultOrderLeadTime is the due date offset of a new order
const DefaultOrderLeadTime = 7 * 24 * time.Hour

// TaskHandlers executes the asynchronous consequences of quote transitions.
// Every handler is idempotent: it checks for the effect before producing it.
type TaskHandlers struct {
	repo       port.EntityRepository
	audit      service.AuditLog
	dispatcher dispatcher.Dispatcher
	sm         *StateMachine
	logger     service.Logger
	now        func() time.Time
	leadTime   time.Duration
}

// HandlerOption configures TaskHandlers
type HandlerOption func(*TaskHandlers)

// WithOrderLeadTime sets the due date offset of created orders
func WithOrderLeadTime(d time.Duration) HandlerOption {
	return func(h *TaskHandlers) {
		if d > 0 {
			h.leadTime = d
		}
	}
}

// WithHandlerClock overrides the time source
func WithHandlerClock(now func() time.Time) HandlerOption {
	return func(h *TaskHandlers) {
		h.now = now
	}
}

// NewTaskHandlers creates the task handlers
func NewTaskHandlers(
	repo port.EntityRepository,
	audit service.AuditLog,
	d dispatcher.Dispatcher,
	logger service.Logger,
	opts ...HandlerOption,
) *TaskHandlers {
	h := &TaskHandlers{
		repo:       repo,
		audit:      audit,
		dispatcher: d,
		sm:         NewStateMachine(),
		logger:     logger,
		now:        time.Now,
		leadTime:   DefaultOrderLeadTime,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register installs the handlers on q
func (h *TaskHandlers) Register(q *queue.Queue) {
	q.Register(entity.TaskCreateOrder, h.CreateOrder)
	q.Register(entity.TaskCreateJob, h.CreateJob)
	q.Register(entity.TaskNotify, h.Notify)
}

// Remediation returns the operator hint attached to dead-letter alerts
func Remediation(task *entity.WorkflowTask) string {
	switch task.Type {
	case entity.TaskCreateOrder:
		return fmt.Sprintf("quote %s is ACCEPTED without an order; fix the cause and requeue task %s",
			task.PayloadValue(PayloadQuoteID), task.ID)
	case entity.TaskCreateJob:
		return fmt.Sprintf("order for quote %s exists but has no job; fix the cause and requeue task %s",
			task.PayloadValue(PayloadQuoteID), task.ID)
	case entity.TaskNotify:
		return fmt.Sprintf("customer was not notified (%s); requeue task %s to resend",
			task.PayloadValue(PayloadEvent), task.ID)
	default:
		return ""
	}
}

// DerivedNumber maps a quote number onto another document prefix:
// QTE-2025-001 becomes ORD-2025-001.
func DerivedNumber(quoteNumber, prefix string) string {
	if i := strings.Index(quoteNumber, "-"); i > 0 {
		return prefix + quoteNumber[i:]
	}
	return prefix + "-" + quoteNumber
}

func quoteIDOf(task *entity.WorkflowTask) (string, error) {
	id := task.PayloadValue(PayloadQuoteID)
	if id == "" {
		return "", queue.Permanent(fmt.Errorf("task %s has no %s", task.ID, PayloadQuoteID))
	}
	return id, nil
}

// loadQuote treats a missing quote as permanent; retrying cannot create it
func (h *TaskHandlers) loadQuote(ctx context.Context, id string) (*entity.Quote, error) {
	q, err := h.repo.GetQuote(ctx, id)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil, queue.Permanent(err)
		}
		return nil, fmt.Errorf("load quote %s: %w", id, err)
	}
	return q, nil
}

// CreateOrder creates the order for an accepted quote and converts the quote
func (h *TaskHandlers) CreateOrder(ctx context.Context, task *entity.WorkflowTask) error {
	quoteID, err := quoteIDOf(task)
	if err != nil {
		return err
	}
	quote, err := h.loadQuote(ctx, quoteID)
	if err != nil {
		return err
	}
	if quote.Status != entity.QuoteStatusAccepted && quote.Status != entity.QuoteStatusConverted {
		return queue.Permanent(fmt.Errorf("quote %s is %s, expected %s", quoteID, quote.Status, entity.QuoteStatusAccepted))
	}

	order, err := h.ensureOrder(ctx, quote, task)
	if err != nil {
		return err
	}

	if quote.Status == entity.QuoteStatusConverted {
		return nil
	}
	return h.convertQuote(ctx, quote, order, task)
}

func (h *TaskHandlers) ensureOrder(ctx context.Context, quote *entity.Quote, task *entity.WorkflowTask) (*entity.Order, error) {
	existing, err := h.repo.GetOrderByQuoteID(ctx, quote.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, entity.ErrNotFound) {
		return nil, fmt.Errorf("lookup order for quote %s: %w", quote.ID, err)
	}

	now := h.now().UTC()
	order := &entity.Order{
		ID:        uuid.New().String(),
		Number:    DerivedNumber(quote.Number, "ORD"),
		Status:    entity.OrderStatusPending,
		Customer:  quote.Customer,
		LineItems: append([]entity.LineItem(nil), quote.LineItems...),
		Totals:    quote.Totals,
		QuoteID:   quote.ID,
		CreatedAt: now,
		DueAt:     now.Add(h.leadTime),
		UpdatedAt: now,
	}

	if err := h.repo.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, entity.ErrConflict) {
			// A concurrent attempt won; use its order
			return h.repo.GetOrderByQuoteID(ctx, quote.ID)
		}
		return nil, fmt.Errorf("create order for quote %s: %w", quote.ID, err)
	}

	h.audit.Log(ctx, &entity.AuditLogEntry{
		EntityType: entity.EntityOrder,
		EntityID:   order.ID,
		Action:     entity.ActionOrderCreated,
		Actor:      task.LeaseOwner,
		AfterState: order.Status,
		Metadata: map[string]interface{}{
			"quote_id":     quote.ID,
			"quote_number": quote.Number,
			"order_number": order.Number,
			"total":        entity.FormatCents(order.Totals.TotalCents),
			"task_id":      task.ID,
		},
	})
	h.logger.Info("Order created", "order_id", order.ID, "order_number", order.Number, "quote_id", quote.ID)
	return order, nil
}

func (h *TaskHandlers) convertQuote(ctx context.Context, quote *entity.Quote, order *entity.Order, task *entity.WorkflowTask) error {
	to, err := h.sm.ValidateTransition(ctx, entity.EntityQuote, quote.Status, domainwf.TriggerConvert, ForEntity(quote.ID))
	if err != nil {
		return queue.Permanent(err)
	}

	updated := quote.Clone()
	updated.Status = to.String()
	updated.OrderID = order.ID
	updated.UpdatedAt = h.now().UTC()

	if err := h.repo.SaveQuote(ctx, updated, quote.Status); err != nil {
		if errors.Is(err, entity.ErrConflict) {
			current, getErr := h.repo.GetQuote(ctx, quote.ID)
			if getErr == nil && current.Status == entity.QuoteStatusConverted {
				return nil
			}
		}
		return fmt.Errorf("convert quote %s: %w", quote.ID, err)
	}

	h.audit.Log(ctx, &entity.AuditLogEntry{
		EntityType:  entity.EntityQuote,
		EntityID:    quote.ID,
		Action:      entity.ActionQuoteConverted,
		Actor:       task.LeaseOwner,
		BeforeState: quote.Status,
		AfterState:  updated.Status,
		Metadata: map[string]interface{}{
			"order_id":     order.ID,
			"order_number": order.Number,
			"task_id":      task.ID,
		},
	})

	if h.dispatcher != nil {
		h.dispatcher.DispatchAsync(ctx, statusChangedEvent(updated, quote.Status))
	}
	return nil
}

// CreateJob creates the shop-floor job for a quote's order
func (h *TaskHandlers) CreateJob(ctx context.Context, task *entity.WorkflowTask) error {
	quoteID, err := quoteIDOf(task)
	if err != nil {
		return err
	}

	order, err := h.repo.GetOrderByQuoteID(ctx, quoteID)
	if err != nil {
		// Retried: the order may not be visible yet
		return fmt.Errorf("order for quote %s not available: %w", quoteID, err)
	}

	if _, err := h.repo.GetJobByOrderID(ctx, order.ID); err == nil {
		return nil
	} else if !errors.Is(err, entity.ErrNotFound) {
		return fmt.Errorf("lookup job for order %s: %w", order.ID, err)
	}

	now := h.now().UTC()
	job := &entity.Job{
		ID:              uuid.New().String(),
		Number:          DerivedNumber(order.Number, "JOB"),
		Status:          entity.JobStatusPendingArtwork,
		ProductionNotes: productionNotes(order.LineItems),
		OrderID:         order.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := h.repo.CreateJob(ctx, job); err != nil {
		if errors.Is(err, entity.ErrConflict) {
			return nil
		}
		return fmt.Errorf("create job for order %s: %w", order.ID, err)
	}

	h.audit.Log(ctx, &entity.AuditLogEntry{
		EntityType: entity.EntityJob,
		EntityID:   job.ID,
		Action:     entity.ActionJobCreated,
		Actor:      task.LeaseOwner,
		AfterState: job.Status,
		Metadata: map[string]interface{}{
			"order_id":   order.ID,
			"job_number": job.Number,
			"quote_id":   quoteID,
			"task_id":    task.ID,
		},
	})
	h.logger.Info("Job created", "job_id", job.ID, "job_number", job.Number, "order_id", order.ID)
	return nil
}

func productionNotes(items []entity.LineItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%d x %s", item.Quantity, item.Description))
	}
	return strings.Join(parts, "; ")
}

// Notify sends the customer notification for a quote event. A channel that
// fails makes the task retry; channels that already delivered are skipped
// on the retry through the dispatch cache, keyed by the task's dedup key.
func (h *TaskHandlers) Notify(ctx context.Context, task *entity.WorkflowTask) error {
	quoteID, err := quoteIDOf(task)
	if err != nil {
		return err
	}
	eventType := event.Type(task.PayloadValue(PayloadEvent))
	if !eventType.IsCustomerFacing() {
		return queue.Permanent(fmt.Errorf("task %s: unsupported notification event %q", task.ID, eventType))
	}

	quote, err := h.loadQuote(ctx, quoteID)
	if err != nil {
		return err
	}

	payload := map[string]interface{}{
		event.KeyQuoteID:       quote.ID,
		event.KeyQuoteNumber:   quote.Number,
		event.KeyCustomerName:  quote.Customer.Name,
		event.KeyCustomerEmail: quote.Customer.Email,
		event.KeyTotal:         entity.FormatCents(quote.Totals.TotalCents),
	}

	switch eventType {
	case event.TypeQuoteConverted:
		order, err := h.repo.GetOrderByQuoteID(ctx, quote.ID)
		if err != nil {
			return fmt.Errorf("order for quote %s not available: %w", quote.ID, err)
		}
		payload[event.KeyOrderID] = order.ID
		payload[event.KeyOrderNumber] = order.Number
	case event.TypeQuoteRejected:
		payload[event.KeyReason] = quote.RejectionReason
	}

	evt := event.NewEvent(eventType, entity.EntityQuote.String(), quote.ID, payload).
		WithDedupKey(task.DedupKey)

	report := h.dispatcher.Dispatch(ctx, evt)
	if len(report.Sent) > 0 {
		h.audit.Log(ctx, &entity.AuditLogEntry{
			EntityType: entity.EntityQuote,
			EntityID:   quote.ID,
			Action:     entity.ActionNotificationSent,
			Actor:      task.LeaseOwner,
			Metadata: map[string]interface{}{
				"event":    eventType.String(),
				"channels": report.Sent,
				"skipped":  report.Skipped,
				"task_id":  task.ID,
			},
		})
	}
	return report.Err()
}

func statusChangedEvent(q *entity.Quote, from string) *event.Event {
	return event.NewEvent(event.TypeQuoteStatusChanged, entity.EntityQuote.String(), q.ID, map[string]interface{}{
		event.KeyQuoteID:     q.ID,
		event.KeyQuoteNumber: q.Number,
		event.KeyFromStatus:  from,
		event.KeyToStatus:    q.Status,
	})
}
