package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/printshop-workflow/internal/domain/entity"
	"github.com/garyjia/printshop-workflow/internal/domain/event"
	domainwf "github.com/garyjia/printshop-workflow/internal/domain/workflow"
)

// Planned task payload keys
const (
	PayloadQuoteID = event.KeyQuoteID
	PayloadEvent   = "event"
)

type transitionContext struct {
	now       time.Time
	expiresAt time.Time
	entityID  string
}

// TransitionOption supplies context the guards need
type TransitionOption func(*transitionContext)

// At sets the instant the transition is evaluated at
func At(now time.Time) TransitionOption {
	return func(c *transitionContext) {
		c.now = now
	}
}

// WithExpiresAt sets the quote expiry checked by the APPROVE guard
func WithExpiresAt(t time.Time) TransitionOption {
	return func(c *transitionContext) {
		c.expiresAt = t
	}
}

// ForEntity names the entity in returned errors
func ForEntity(id string) TransitionOption {
	return func(c *transitionContext) {
		c.entityID = id
	}
}

// StateMachine validates transitions for quotes, orders and jobs and plans
// the asynchronous work that follows them. It holds no state.
type StateMachine struct{}

// NewStateMachine creates a StateMachine
func NewStateMachine() *StateMachine {
	return &StateMachine{}
}

// ValidateTransition returns the state trigger leads to from current.
// Illegal triggers yield a *domainwf.TransitionError wrapping
// ErrInvalidTransition, or ErrQuoteExpired for an APPROVE past expiry.
func (sm *StateMachine) ValidateTransition(
	ctx context.Context,
	entityType entity.EntityType,
	current string,
	trigger domainwf.Trigger,
	opts ...TransitionOption,
) (domainwf.State, error) {
	tc := transitionContext{now: time.Now()}
	for _, opt := range opts {
		opt(&tc)
	}

	fail := func(err error) error {
		return &domainwf.TransitionError{
			EntityType: entityType.String(),
			EntityID:   tc.entityID,
			From:       domainwf.State(current),
			Trigger:    trigger,
			Err:        err,
		}
	}

	if entityType == entity.EntityQuote && trigger == domainwf.TriggerApprove && current == entity.QuoteStatusExpired {
		return "", fail(domainwf.ErrQuoteExpired)
	}

	machine, err := sm.build(entityType, domainwf.State(current), tc)
	if err != nil {
		return "", fail(err)
	}

	if err := machine.Fire(ctx, trigger); err != nil {
		if errors.Is(err, domainwf.ErrGuardFailed) && trigger == domainwf.TriggerApprove {
			return "", fail(domainwf.ErrQuoteExpired)
		}
		return "", fail(domainwf.ErrInvalidTransition)
	}
	return machine.State(), nil
}

func (sm *StateMachine) build(entityType entity.EntityType, current domainwf.State, tc transitionContext) (domainwf.StateMachine, error) {
	switch entityType {
	case entity.EntityQuote:
		return BuildQuoteStateMachine(current, tc.now, tc.expiresAt)
	case entity.EntityOrder:
		return BuildOrderStateMachine(current)
	case entity.EntityJob:
		return BuildJobStateMachine(current)
	default:
		return nil, fmt.Errorf("%w: no lifecycle for %s", domainwf.ErrInvalidState, entityType)
	}
}

// PermittedTriggers lists the triggers configured for an entity in its current state
func (sm *StateMachine) PermittedTriggers(entityType entity.EntityType, current string) []domainwf.Trigger {
	machine, err := sm.build(entityType, domainwf.State(current), transitionContext{now: time.Now()})
	if err != nil {
		return nil
	}
	return machine.PermittedTriggers()
}

// Dedup keys for the tasks planned from a quote
func convertKey(quoteID string) string   { return fmt.Sprintf("quote:%s:convert", quoteID) }
func createJobKey(quoteID string) string { return fmt.Sprintf("quote:%s:create_job", quoteID) }
func notifyKey(quoteID, suffix string) string {
	return fmt.Sprintf("quote:%s:notify:%s", quoteID, suffix)
}

// PlannedDedupKeys returns every dedup key a quote's workflow may create
func PlannedDedupKeys(quoteID string) []string {
	return []string{
		convertKey(quoteID),
		createJobKey(quoteID),
		notifyKey(quoteID, "converted"),
		notifyKey(quoteID, "rejected"),
	}
}

// PlanTasks returns the tasks a successful transition must enqueue.
// Approval plans the order creation; job creation and the customer
// notification run only after the order exists.
func (sm *StateMachine) PlanTasks(entityType entity.EntityType, trigger domainwf.Trigger, entityID string) []entity.TaskDescriptor {
	if entityType != entity.EntityQuote {
		return nil
	}

	switch trigger {
	case domainwf.TriggerApprove:
		return []entity.TaskDescriptor{{
			Type:     entity.TaskCreateOrder,
			DedupKey: convertKey(entityID),
			Payload:  map[string]string{PayloadQuoteID: entityID},
			OnSuccess: []entity.TaskDescriptor{
				{
					Type:     entity.TaskCreateJob,
					DedupKey: createJobKey(entityID),
					Payload:  map[string]string{PayloadQuoteID: entityID},
				},
				{
					Type:     entity.TaskNotify,
					DedupKey: notifyKey(entityID, "converted"),
					Payload: map[string]string{
						PayloadQuoteID: entityID,
						PayloadEvent:   event.TypeQuoteConverted.String(),
					},
				},
			},
		}}
	case domainwf.TriggerReject:
		return []entity.TaskDescriptor{{
			Type:     entity.TaskNotify,
			DedupKey: notifyKey(entityID, "rejected"),
			Payload: map[string]string{
				PayloadQuoteID: entityID,
				PayloadEvent:   event.TypeQuoteRejected.String(),
			},
		}}
	default:
		return nil
	}
}
