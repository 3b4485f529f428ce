package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateRequest marks an idempotent replay. The caller receives the
	// previously created resource; this is not a failure.
	ErrDuplicateRequest = errors.New("duplicate request")

	// ErrInvalidState marks an illegal state-machine transition attempt.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrConflict is returned when an optimistic save lost the race. The
	// caller must re-read and retry.
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrTransientUnavailable marks a temporarily unreachable collaborator.
	// Transfer state is never mutated on this path.
	ErrTransientUnavailable = errors.New("temporarily unavailable")

	// ErrRateNotFound means no exchange rate exists at or before the
	// requested time. Treated as transient: the transfer stays PENDING.
	ErrRateNotFound = fmt.Errorf("exchange rate: %w", ErrTransientUnavailable)

	// ErrServiceUnavailable means the AML validator stayed unreachable past
	// the retry budget. The transfer stays PENDING.
	ErrServiceUnavailable = fmt.Errorf("aml validator: %w", ErrTransientUnavailable)

	// ErrBusinessRejection marks a terminal business outcome (AML block,
	// explicit cancellation) with the reason recorded on the transfer.
	ErrBusinessRejection = errors.New("business rejection")
)

// ValidationError reports malformed input. Never retried.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Detail
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Detail)
}

func NewValidationError(field, detail string) error {
	return &ValidationError{Field: field, Detail: detail}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
