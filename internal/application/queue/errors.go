package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrLeaseLost is returned by Ack and Nack when the caller no longer holds the lease
	ErrLeaseLost = errors.New("task lease no longer held")

	// ErrLeaseExpired is recorded as the failure cause of a reclaimed task
	ErrLeaseExpired = errors.New("lease expired")

	// ErrNoHandler is recorded when no handler is registered for a task type
	ErrNoHandler = errors.New("no handler registered")

	// ErrInvalidDescriptor is returned when enqueuing a descriptor without type or dedup key
	ErrInvalidDescriptor = errors.New("invalid task descriptor")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.err)
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent marks a handler error as non-retryable. The task moves straight
// to FAILED instead of consuming its remaining attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
