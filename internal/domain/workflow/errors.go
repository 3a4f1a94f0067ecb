package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when a guard condition fails
	ErrGuardFailed = errors.New("guard condition failed")

	// ErrQuoteExpired is returned when approving a quote past its expiration
	ErrQuoteExpired = errors.New("quote expired")
)

// TransitionError describes a rejected transition
type TransitionError struct {
	EntityType string
	EntityID   string
	From       State
	Trigger    Trigger
	Err        error
}

func (e *TransitionError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("%s %s: cannot %s from %s: %v", e.EntityType, e.EntityID, e.Trigger, e.From, e.Err)
	}
	return fmt.Sprintf("%s: cannot %s from %s: %v", e.EntityType, e.Trigger, e.From, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// IsInvalidTransition reports whether err is a rejected transition
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// IsQuoteExpired reports whether err is an expired-quote rejection
func IsQuoteExpired(err error) bool {
	return errors.Is(err, ErrQuoteExpired)
}
