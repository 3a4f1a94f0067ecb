package workflow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/garyjia/printshop-workflow/internal/application/dispatcher"
	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/application/queue"
	"github.com/garyjia/printshop-workflow/internal/application/service"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
	"github.com/garyjia/printshop-workflow/internal/domain/event"
	domainwf "github.com/garyjia/printshop-workflow/internal/domain/workflow"
)

// DefaultExpireBatch bounds how many quotes one expiry sweep handles
const DefaultExpireBatch = 100

// ApproverInfo identifies who accepted a quote
type ApproverInfo struct {
	Name      string `json:"name" validate:"required,max=200"`
	Email     string `json:"email,omitempty" validate:"omitempty,email,max=320"`
	Signature string `json:"signature,omitempty"`
}

type approveInput struct {
	QuoteID  string       `json:"quote_id" validate:"required"`
	Approver ApproverInfo `json:"approver"`
}

type rejectInput struct {
	QuoteID string `json:"quote_id" validate:"required"`
	Reason  string `json:"reason" validate:"required,max=2000"`
}

// ApprovalResult is the synchronous outcome of an approve or reject call
type ApprovalResult struct {
	Quote            *entity.Quote `json:"quote"`
	AlreadyProcessed bool          `json:"already_processed"`
	TaskIDs          []string      `json:"task_ids,omitempty"`
}

// WorkflowStatus is the full picture of a quote's workflow
type WorkflowStatus struct {
	Quote   *entity.Quote           `json:"quote"`
	Order   *entity.Order           `json:"order,omitempty"`
	Job     *entity.Job             `json:"job,omitempty"`
	Tasks   []*entity.WorkflowTask  `json:"tasks"`
	History []*entity.AuditLogEntry `json:"history"`
}

// Orchestrator is the entry point for quote workflow transitions. Calls
// perform the synchronous status change and enqueue the asynchronous work;
// they never wait for the queue.
type Orchestrator struct {
	repo       port.EntityRepository
	queue      *queue.Queue
	audit      service.AuditLog
	dispatcher dispatcher.Dispatcher
	txManager  port.TransactionManager
	sm         *StateMachine
	validate   *validator.Validate
	tracer     trace.Tracer
	logger     service.Logger
	now        func() time.Time
}

// OrchestratorOption configures the orchestrator
type OrchestratorOption func(*Orchestrator)

// WithDispatcher sets the dispatcher used for status change broadcasts
func WithDispatcher(d dispatcher.Dispatcher) OrchestratorOption {
	return func(o *Orchestrator) {
		o.dispatcher = d
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithTracer overrides the tracer
func WithTracer(t trace.Tracer) OrchestratorOption {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(
	repo port.EntityRepository,
	q *queue.Queue,
	audit service.AuditLog,
	txManager port.TransactionManager,
	logger service.Logger,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		repo:      repo,
		queue:     q,
		audit:     audit,
		txManager: txManager,
		sm:        NewStateMachine(),
		validate:  newValidator(),
		tracer:    otel.Tracer("printshop-workflow/orchestrator"),
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ApproveQuote accepts a SENT or VIEWED quote and plans its conversion.
// Approving an ACCEPTED or CONVERTED quote reports AlreadyProcessed and
// re-enqueues the planned work, which is a no-op unless it was lost.
func (o *Orchestrator) ApproveQuote(ctx context.Context, quoteID string, approver ApproverInfo) (*ApprovalResult, error) {
	ctx, span := o.startSpan(ctx, "orchestrator.approve_quote", quoteID)
	defer span.End()

	result, err := o.approve(ctx, quoteID, approver)
	recordSpanError(span, err)
	return result, err
}

func (o *Orchestrator) approve(ctx context.Context, quoteID string, approver ApproverInfo) (*ApprovalResult, error) {
	if err := o.validate.Struct(approveInput{QuoteID: quoteID, Approver: approver}); err != nil {
		verr := newValidationError(err)
		o.auditFailure(ctx, entity.ActionQuoteApproveFailed, quoteID, "", approver.Name, verr)
		return nil, verr
	}

	quote, err := o.repo.GetQuote(ctx, quoteID)
	if err != nil {
		o.auditFailure(ctx, entity.ActionQuoteApproveFailed, quoteID, "", approver.Name, err)
		return nil, fmt.Errorf("approve quote %s: %w", quoteID, err)
	}

	if quote.Status == entity.QuoteStatusAccepted || quote.Status == entity.QuoteStatusConverted {
		return o.duplicate(ctx, quote, domainwf.TriggerApprove, entity.ActionQuoteApproveDuplicate, approver.Name)
	}

	now := o.now().UTC()
	to, err := o.sm.ValidateTransition(ctx, entity.EntityQuote, quote.Status, domainwf.TriggerApprove,
		At(now), WithExpiresAt(quote.ExpiresAt), ForEntity(quote.ID))
	if err != nil {
		o.auditFailure(ctx, entity.ActionQuoteApproveFailed, quoteID, quote.Status, approver.Name, err)
		return nil, err
	}

	updated := quote.Clone()
	updated.Status = to.String()
	updated.Approval = &entity.ApprovalMetadata{
		ApproverName:  approver.Name,
		ApproverEmail: approver.Email,
		Signature:     approver.Signature,
		ApprovedAt:    now,
	}
	updated.UpdatedAt = now

	taskIDs, err := o.commit(ctx, updated, quote.Status, o.sm.PlanTasks(entity.EntityQuote, domainwf.TriggerApprove, quote.ID))
	if err != nil {
		if errors.Is(err, entity.ErrConflict) {
			return o.afterConflict(ctx, quoteID, domainwf.TriggerApprove, approver.Name)
		}
		o.auditFailure(ctx, entity.ActionQuoteApproveFailed, quoteID, quote.Status, approver.Name, err)
		return nil, fmt.Errorf("approve quote %s: %w", quoteID, err)
	}

	o.audit.Log(ctx, &entity.AuditLogEntry{
		EntityType:  entity.EntityQuote,
		EntityID:    quote.ID,
		Action:      entity.ActionQuoteApproved,
		Actor:       approver.Name,
		Timestamp:   now,
		BeforeState: quote.Status,
		AfterState:  updated.Status,
		Metadata: map[string]interface{}{
			"approver_email": approver.Email,
			"signed":         approver.Signature != "",
			"task_ids":       taskIDs,
		},
	})
	o.broadcast(ctx, updated, quote.Status)
	o.logger.Info("Quote approved", "quote_id", quote.ID, "quote_number", quote.Number, "approver", approver.Name)

	return &ApprovalResult{Quote: updated, TaskIDs: taskIDs}, nil
}

// RejectQuote rejects a DRAFT, SENT or VIEWED quote and plans the customer notification
func (o *Orchestrator) RejectQuote(ctx context.Context, quoteID, reason string) (*ApprovalResult, error) {
	ctx, span := o.startSpan(ctx, "orchestrator.reject_quote", quoteID)
	defer span.End()

	result, err := o.reject(ctx, quoteID, reason)
	recordSpanError(span, err)
	return result, err
}

func (o *Orchestrator) reject(ctx context.Context, quoteID, reason string) (*ApprovalResult, error) {
	if err := o.validate.Struct(rejectInput{QuoteID: quoteID, Reason: reason}); err != nil {
		verr := newValidationError(err)
		o.auditFailure(ctx, entity.ActionQuoteRejectFailed, quoteID, "", "", verr)
		return nil, verr
	}

	quote, err := o.repo.GetQuote(ctx, quoteID)
	if err != nil {
		o.auditFailure(ctx, entity.ActionQuoteRejectFailed, quoteID, "", "", err)
		return nil, fmt.Errorf("reject quote %s: %w", quoteID, err)
	}

	if quote.Status == entity.QuoteStatusRejected {
		return o.duplicate(ctx, quote, domainwf.TriggerReject, entity.ActionQuoteRejectDuplicate, "")
	}

	now := o.now().UTC()
	to, err := o.sm.ValidateTransition(ctx, entity.EntityQuote, quote.Status, domainwf.TriggerReject,
		At(now), ForEntity(quote.ID))
	if err != nil {
		o.auditFailure(ctx, entity.ActionQuoteRejectFailed, quoteID, quote.Status, "", err)
		return nil, err
	}

	updated := quote.Clone()
	updated.Status = to.String()
	updated.RejectionReason = reason
	updated.UpdatedAt = now

	taskIDs, err := o.commit(ctx, updated, quote.Status, o.sm.PlanTasks(entity.EntityQuote, domainwf.TriggerReject, quote.ID))
	if err != nil {
		if errors.Is(err, entity.ErrConflict) {
			return o.afterConflict(ctx, quoteID, domainwf.TriggerReject, "")
		}
		o.auditFailure(ctx, entity.ActionQuoteRejectFailed, quoteID, quote.Status, "", err)
		return nil, fmt.Errorf("reject quote %s: %w", quoteID, err)
	}

	o.audit.Log(ctx, &entity.AuditLogEntry{
		EntityType:  entity.EntityQuote,
		EntityID:    quote.ID,
		Action:      entity.ActionQuoteRejected,
		Timestamp:   now,
		BeforeState: quote.Status,
		AfterState:  updated.Status,
		Metadata: map[string]interface{}{
			"reason":   reason,
			"task_ids": taskIDs,
		},
	})
	o.broadcast(ctx, updated, quote.Status)
	o.logger.Info("Quote rejected", "quote_id", quote.ID, "quote_number", quote.Number)

	return &ApprovalResult{Quote: updated, TaskIDs: taskIDs}, nil
}

// commit writes the status change and enqueues the planned tasks in one transaction
func (o *Orchestrator) commit(ctx context.Context, updated *entity.Quote, expected string, planned []entity.TaskDescriptor) ([]string, error) {
	var taskIDs []string
	err := o.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := o.repo.SaveQuote(txCtx, updated, expected); err != nil {
			return err
		}
		ids, err := o.enqueue(txCtx, planned)
		if err != nil {
			return err
		}
		taskIDs = ids
		return nil
	})
	return taskIDs, err
}

func (o *Orchestrator) enqueue(ctx context.Context, planned []entity.TaskDescriptor) ([]string, error) {
	ids := make([]string, 0, len(planned))
	for _, desc := range planned {
		id, err := o.queue.Enqueue(ctx, desc)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// duplicate handles a repeated call for a transition that already happened
func (o *Orchestrator) duplicate(ctx context.Context, quote *entity.Quote, trigger domainwf.Trigger, action, actor string) (*ApprovalResult, error) {
	var taskIDs []string
	// Only an ACCEPTED quote can still be missing its conversion task
	if trigger == domainwf.TriggerReject || quote.Status == entity.QuoteStatusAccepted {
		ids, err := o.enqueue(ctx, o.sm.PlanTasks(entity.EntityQuote, trigger, quote.ID))
		if err != nil {
			o.logger.Error("Failed to re-enqueue planned tasks", "quote_id", quote.ID, "error", err)
		}
		taskIDs = ids
	}

	o.audit.Log(ctx, &entity.AuditLogEntry{
		EntityType:  entity.EntityQuote,
		EntityID:    quote.ID,
		Action:      action,
		Actor:       actor,
		BeforeState: quote.Status,
		AfterState:  quote.Status,
		Metadata:    map[string]interface{}{"task_ids": taskIDs},
	})
	o.logger.Info("Quote already processed", "quote_id", quote.ID, "status", quote.Status, "trigger", trigger)

	return &ApprovalResult{Quote: quote, AlreadyProcessed: true, TaskIDs: taskIDs}, nil
}

// afterConflict resolves a lost compare-and-set by looking at what won
func (o *Orchestrator) afterConflict(ctx context.Context, quoteID string, trigger domainwf.Trigger, actor string) (*ApprovalResult, error) {
	current, err := o.repo.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, fmt.Errorf("reload quote %s: %w", quoteID, err)
	}

	switch {
	case trigger == domainwf.TriggerApprove &&
		(current.Status == entity.QuoteStatusAccepted || current.Status == entity.QuoteStatusConverted):
		return o.duplicate(ctx, current, trigger, entity.ActionQuoteApproveDuplicate, actor)
	case trigger == domainwf.TriggerReject && current.Status == entity.QuoteStatusRejected:
		return o.duplicate(ctx, current, trigger, entity.ActionQuoteRejectDuplicate, actor)
	}

	action := entity.ActionQuoteApproveFailed
	if trigger == domainwf.TriggerReject {
		action = entity.ActionQuoteRejectFailed
	}
	err = &domainwf.TransitionError{
		EntityType: entity.EntityQuote.String(),
		EntityID:   quoteID,
		From:       domainwf.State(current.Status),
		Trigger:    trigger,
		Err:        domainwf.ErrInvalidTransition,
	}
	o.auditFailure(ctx, action, quoteID, current.Status, actor, err)
	return nil, err
}

func (o *Orchestrator) auditFailure(ctx context.Context, action, quoteID, status, actor string, cause error) {
	o.audit.Log(ctx, &entity.AuditLogEntry{
		EntityType:  entity.EntityQuote,
		EntityID:    quoteID,
		Action:      action,
		Actor:       actor,
		BeforeState: status,
		AfterState:  status,
		Metadata:    map[string]interface{}{"error": cause.Error()},
	})
}

func (o *Orchestrator) broadcast(ctx context.Context, q *entity.Quote, from string) {
	if o.dispatcher == nil {
		return
	}
	o.dispatcher.DispatchAsync(ctx, statusChangedEvent(q, from))
}

// GetWorkflowStatus returns the quote, its order and job if created, the
// workflow tasks and the quote's audit history
func (o *Orchestrator) GetWorkflowStatus(ctx context.Context, quoteID string) (*WorkflowStatus, error) {
	quote, err := o.repo.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, fmt.Errorf("workflow status for %s: %w", quoteID, err)
	}
	status := &WorkflowStatus{Quote: quote, Tasks: []*entity.WorkflowTask{}}

	order, err := o.repo.GetOrderByQuoteID(ctx, quoteID)
	switch {
	case err == nil:
		status.Order = order
		job, err := o.repo.GetJobByOrderID(ctx, order.ID)
		if err != nil && !errors.Is(err, entity.ErrNotFound) {
			return nil, fmt.Errorf("job for order %s: %w", order.ID, err)
		}
		status.Job = job
	case !errors.Is(err, entity.ErrNotFound):
		return nil, fmt.Errorf("order for quote %s: %w", quoteID, err)
	}

	for _, key := range PlannedDedupKeys(quoteID) {
		task, err := o.queue.GetByDedupKey(ctx, key)
		if err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("task %s: %w", key, err)
		}
		status.Tasks = append(status.Tasks, task)
	}

	history, err := o.audit.Query(ctx, entity.AuditFilter{EntityType: entity.EntityQuote, EntityID: quoteID})
	if err != nil {
		return nil, err
	}
	status.History = history

	return status, nil
}

// QueueStats returns queue depth per state
func (o *Orchestrator) QueueStats(ctx context.Context) (*queue.Stats, error) {
	return o.queue.Stats(ctx)
}

// DeadLetters lists tasks that exhausted their retries
func (o *Orchestrator) DeadLetters(ctx context.Context, limit int) ([]*entity.WorkflowTask, error) {
	return o.queue.DeadLetters(ctx, limit)
}

// RequeueTask gives a FAILED or DEAD_LETTERED task a fresh attempt budget
func (o *Orchestrator) RequeueTask(ctx context.Context, taskID, actor string) (*entity.WorkflowTask, error) {
	return o.queue.Requeue(ctx, taskID, actor)
}

// ExpireStaleQuotes moves SENT and VIEWED quotes past their expiry to EXPIRED.
// Returns the number of quotes expired.
func (o *Orchestrator) ExpireStaleQuotes(ctx context.Context) (int, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.expire_stale_quotes")
	defer span.End()

	now := o.now().UTC()
	quotes, err := o.repo.ListExpiredQuotes(ctx, now, DefaultExpireBatch)
	if err != nil {
		recordSpanError(span, err)
		return 0, fmt.Errorf("list expired quotes: %w", err)
	}

	expired := 0
	for _, q := range quotes {
		to, err := o.sm.ValidateTransition(ctx, entity.EntityQuote, q.Status, domainwf.TriggerExpire, At(now), ForEntity(q.ID))
		if err != nil {
			continue
		}
		if err := o.repo.UpdateStatus(ctx, entity.EntityQuote, q.ID, q.Status, to.String()); err != nil {
			if !errors.Is(err, entity.ErrConflict) {
				o.logger.Error("Failed to expire quote", "quote_id", q.ID, "error", err)
			}
			continue
		}

		expired++
		o.audit.Log(ctx, &entity.AuditLogEntry{
			EntityType:  entity.EntityQuote,
			EntityID:    q.ID,
			Action:      entity.ActionQuoteExpired,
			BeforeState: q.Status,
			AfterState:  to.String(),
			Metadata:    map[string]interface{}{"expires_at": q.ExpiresAt.Format(time.RFC3339)},
		})
		if o.dispatcher != nil {
			o.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeQuoteExpired, entity.EntityQuote.String(), q.ID,
				map[string]interface{}{
					event.KeyQuoteID:     q.ID,
					event.KeyQuoteNumber: q.Number,
					event.KeyFromStatus:  q.Status,
					event.KeyToStatus:    to.String(),
				}))
		}
	}

	span.SetAttributes(attribute.Int("quotes.expired", expired))
	if expired > 0 {
		o.logger.Info("Expired stale quotes", "count", expired)
	}
	return expired, nil
}

// newValidator reports fields by their JSON names
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (o *Orchestrator) startSpan(ctx context.Context, name, quoteID string) (context.Context, trace.Span) {
	ctx, span := o.tracer.Start(ctx, name)
	span.SetAttributes(attribute.String("quote.id", quoteID))
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
