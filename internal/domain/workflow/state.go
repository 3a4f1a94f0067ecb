package workflow

import "github.com/garyjia/printshop-workflow/internal/domain/entity"

// State represents a lifecycle state of a workflow entity
type State string

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// StateSet is the closed set of states one entity type may take
type StateSet struct {
	valid    map[State]bool
	terminal map[State]bool
}

// NewStateSet creates a state set; terminal states must also be listed in states
func NewStateSet(states []State, terminal ...State) StateSet {
	s := StateSet{
		valid:    make(map[State]bool, len(states)),
		terminal: make(map[State]bool, len(terminal)),
	}
	for _, st := range states {
		s.valid[st] = true
	}
	for _, st := range terminal {
		s.terminal[st] = true
	}
	return s
}

// IsValid returns true if the state belongs to the set
func (s StateSet) IsValid(state State) bool {
	return s.valid[state]
}

// IsTerminal returns true if the state has no outgoing transitions
func (s StateSet) IsTerminal(state State) bool {
	return s.terminal[state]
}

// QuoteStates is the Quote lifecycle
var QuoteStates = NewStateSet(
	[]State{
		entity.QuoteStatusDraft,
		entity.QuoteStatusSent,
		entity.QuoteStatusViewed,
		entity.QuoteStatusAccepted,
		entity.QuoteStatusRejected,
		entity.QuoteStatusExpired,
		entity.QuoteStatusConverted,
	},
	entity.QuoteStatusRejected,
	entity.QuoteStatusExpired,
	entity.QuoteStatusConverted,
)

// OrderStates is the Order lifecycle
var OrderStates = NewStateSet(
	[]State{
		entity.OrderStatusPending,
		entity.OrderStatusInProduction,
		entity.OrderStatusReadyToShip,
		entity.OrderStatusShipped,
		entity.OrderStatusDelivered,
		entity.OrderStatusCompleted,
		entity.OrderStatusCancelled,
		entity.OrderStatusInvoicePaid,
	},
	entity.OrderStatusCancelled,
	entity.OrderStatusInvoicePaid,
)

// JobStates is the Job lifecycle
var JobStates = NewStateSet(
	[]State{
		entity.JobStatusPendingArtwork,
		entity.JobStatusQueued,
		entity.JobStatusInProgress,
		entity.JobStatusQualityCheck,
		entity.JobStatusComplete,
	},
	entity.JobStatusComplete,
)

// StatesFor returns the state set of an entity type
func StatesFor(entityType entity.EntityType) (StateSet, bool) {
	switch entityType {
	case entity.EntityQuote:
		return QuoteStates, true
	case entity.EntityOrder:
		return OrderStates, true
	case entity.EntityJob:
		return JobStates, true
	default:
		return StateSet{}, false
	}
}
