package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/garyjia/printshop-workflow/internal/domain/entity"
)

const (
	stateA State = "A"
	stateB State = "B"
	stateC State = "C"
	stateZ State = "Z"
)

var testStates = NewStateSet([]State{stateA, stateB, stateC, stateZ}, stateZ)

func TestStateSet_IsTerminal(t *testing.T) {
	tests := []struct {
		set      StateSet
		state    State
		expected bool
	}{
		{QuoteStates, entity.QuoteStatusDraft, false},
		{QuoteStates, entity.QuoteStatusAccepted, false},
		{QuoteStates, entity.QuoteStatusRejected, true},
		{QuoteStates, entity.QuoteStatusExpired, true},
		{QuoteStates, entity.QuoteStatusConverted, true},
		{OrderStates, entity.OrderStatusPending, false},
		{OrderStates, entity.OrderStatusCompleted, false},
		{OrderStates, entity.OrderStatusCancelled, true},
		{OrderStates, entity.OrderStatusInvoicePaid, true},
		{JobStates, entity.JobStatusQualityCheck, false},
		{JobStates, entity.JobStatusComplete, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.set.IsTerminal(tt.state); got != tt.expected {
				t.Errorf("IsTerminal(%s) = %v, want %v", tt.state, got, tt.expected)
			}
		})
	}
}

func TestStateSet_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		set      StateSet
		state    State
		expected bool
	}{
		{"quote state", QuoteStates, entity.QuoteStatusSent, true},
		{"order state on quote set", QuoteStates, entity.OrderStatusShipped, false},
		{"job state", JobStates, entity.JobStatusQueued, true},
		{"unknown state", OrderStates, State("INVALID"), false},
		{"empty state", JobStates, State(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.set.IsValid(tt.state); got != tt.expected {
				t.Errorf("IsValid(%s) = %v, want %v", tt.state, got, tt.expected)
			}
		})
	}
}

func TestStatesFor(t *testing.T) {
	if _, ok := StatesFor(entity.EntityQuote); !ok {
		t.Error("expected quote states")
	}
	if _, ok := StatesFor(entity.EntityTask); ok {
		t.Error("tasks have no workflow state set")
	}
}

func TestTrigger_String(t *testing.T) {
	if got := TriggerApprove.String(); got != "APPROVE" {
		t.Errorf("Trigger.String() = %v, want %v", got, "APPROVE")
	}
}

func TestBuilder_Configure(t *testing.T) {
	builder := NewBuilder(testStates)

	config := builder.Configure(stateA)
	if config == nil {
		t.Fatal("Configure() returned nil")
	}
	if config2 := builder.Configure(stateA); config != config2 {
		t.Error("Configure() should return the same config for the same state")
	}
}

func TestBuilder_ConfigurePanics(t *testing.T) {
	tests := []struct {
		name  string
		state State
	}{
		{"unknown state", State("NOPE")},
		{"terminal state", stateZ},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if r := recover(); r == nil {
					t.Errorf("Configure(%s) should panic", tt.state)
				}
			}()
			NewBuilder(testStates).Configure(tt.state)
		})
	}
}

func TestBuilder_PermitInvalidTargetPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Permit() with invalid target should panic")
		}
	}()
	NewBuilder(testStates).Configure(stateA).Permit("GO", State("NOPE"))
}

func TestBuilder_BuildInvalidInitialState(t *testing.T) {
	_, err := NewBuilder(testStates).Build(State("NOPE"))
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("Build() error = %v, want ErrInvalidState", err)
	}
}

func TestStateMachine_Fire(t *testing.T) {
	builder := NewBuilder(testStates)
	builder.Configure(stateA).Permit("NEXT", stateB)
	builder.Configure(stateB).Permit("NEXT", stateC).Permit("END", stateZ)

	sm, err := builder.Build(stateA)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	ctx := context.Background()

	if err := sm.Fire(ctx, "NEXT"); err != nil {
		t.Fatalf("Fire(NEXT) error = %v", err)
	}
	if sm.State() != stateB {
		t.Errorf("State() = %v, want %v", sm.State(), stateB)
	}
	if err := sm.Fire(ctx, "END"); err != nil {
		t.Fatalf("Fire(END) error = %v", err)
	}
	if !sm.IsTerminal() {
		t.Error("expected terminal state")
	}

	err = sm.Fire(ctx, "NEXT")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Fire() from terminal error = %v, want ErrInvalidTransition", err)
	}
	var te *TransitionError
	if !errors.As(err, &te) || te.From != stateZ || te.Trigger != "NEXT" {
		t.Errorf("expected TransitionError from Z, got %v", err)
	}
	if sm.State() != stateZ {
		t.Error("state must not change on a rejected trigger")
	}
}

func TestStateMachine_Guards(t *testing.T) {
	allow := false
	builder := NewBuilder(testStates)
	builder.Configure(stateA).
		PermitIf("GO", stateB, func(ctx context.Context) bool { return allow }).
		PermitIf("GO", stateC, func(ctx context.Context) bool { return false })

	sm, _ := builder.Build(stateA)
	ctx := context.Background()

	if err := sm.Fire(ctx, "GO"); !errors.Is(err, ErrGuardFailed) {
		t.Errorf("Fire() error = %v, want ErrGuardFailed", err)
	}
	if sm.State() != stateA {
		t.Errorf("State() = %v, want %v", sm.State(), stateA)
	}
	if !sm.CanFire("GO") {
		t.Error("CanFire() ignores guards and should be true")
	}

	allow = true
	if err := sm.Fire(ctx, "GO"); err != nil {
		t.Fatalf("Fire() error = %v", err)
	}
	if sm.State() != stateB {
		t.Errorf("State() = %v, want %v", sm.State(), stateB)
	}
}

func TestStateMachine_BuildIsolation(t *testing.T) {
	builder := NewBuilder(testStates)
	builder.Configure(stateA).Permit("NEXT", stateB)

	sm, _ := builder.Build(stateA)
	builder.Configure(stateA).Permit("SKIP", stateC)

	if sm.CanFire("SKIP") {
		t.Error("machines must not see configuration added after Build")
	}
	if got := len(sm.PermittedTriggers()); got != 1 {
		t.Errorf("PermittedTriggers() len = %d, want 1", got)
	}
}

func TestTransitionError_Message(t *testing.T) {
	err := &TransitionError{EntityType: "quote", EntityID: "q1", From: "REJECTED", Trigger: TriggerApprove, Err: ErrInvalidTransition}
	want := "quote q1: cannot APPROVE from REJECTED: invalid state transition"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !IsInvalidTransition(err) {
		t.Error("IsInvalidTransition() should unwrap")
	}
}
