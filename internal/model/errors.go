package model

import (
	"errors"
	"strings"
)

var (
	// ErrValidation marks malformed input detected before any side effect.
	ErrValidation = errors.New("validation error")

	// ErrAllocationExhausted is returned when every IUN candidate collided.
	ErrAllocationExhausted = errors.New("iun allocation exhausted")

	// ErrAttachmentResolution wraps object store failures while materializing.
	ErrAttachmentResolution = errors.New("attachment resolution failure")

	// ErrNotFound is returned when no notification exists for an IUN.
	ErrNotFound = errors.New("notification not found")

	// ErrPartialFanOut is returned when some but not all index rows were written.
	ErrPartialFanOut = errors.New("partial metadata fan-out")

	// ErrUnparseableTimestamp is returned when sentAt has no year-month prefix.
	ErrUnparseableTimestamp = errors.New("unparseable timestamp")

	// ErrPrimaryKeyConflict is returned by the store when the IUN is taken.
	ErrPrimaryKeyConflict = errors.New("primary key conflict")
)

// ValidationError lists every violated rule of a rejected notification.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return ErrValidation.Error()
	}
	return ErrValidation.Error() + ": " + strings.Join(e.Violations, "; ")
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError builds a ValidationError from one or more violations.
func NewValidationError(violations ...string) *ValidationError {
	return &ValidationError{Violations: violations}
}
