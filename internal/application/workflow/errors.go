package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/garyjia/printshop-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/printshop-workflow/internal/domain/workflow"
)

var (
	// ErrNotFound is returned when the quote does not exist
	ErrNotFound = entity.ErrNotFound

	// ErrInvalidTransition is returned when the trigger is not legal from the current status
	ErrInvalidTransition = domainwf.ErrInvalidTransition

	// ErrQuoteExpired is returned when approving a quote past its expiry
	ErrQuoteExpired = domainwf.ErrQuoteExpired

	// ErrValidation is wrapped by every *ValidationError
	ErrValidation = errors.New("validation failed")
)

// ValidationError reports malformed input per field
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s: %s", name, e.Fields[name])
	}
	return fmt.Sprintf("%v: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// IsValidation reports whether err is an input validation failure
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound reports whether err means a missing entity
func IsNotFound(err error) bool {
	return errors.Is(err, entity.ErrNotFound)
}

// newValidationError converts validator output into a *ValidationError
func newValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Fields: map[string]string{"input": err.Error()}}
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			fields[name] = "is required"
		case "email":
			fields[name] = "must be a valid email address"
		case "max":
			fields[name] = fmt.Sprintf("must be at most %s characters", fe.Param())
		default:
			fields[name] = fmt.Sprintf("failed %s validation", fe.Tag())
		}
	}
	return &ValidationError{Fields: fields}
}
