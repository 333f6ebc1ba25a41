package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a profile, preference set, plan or config is absent.
	ErrNotFound = errors.New("not found")
	// ErrBusy is returned when the same operation is already in flight for the user.
	ErrBusy = errors.New("operation already in progress")
	// ErrConflict is returned when the requested transition clashes with current state.
	ErrConflict = errors.New("conflict")
	// ErrValidation marks malformed input rejected before any persistence.
	ErrValidation = errors.New("validation failed")
	// ErrPartialFailure marks a regeneration whose log deletion succeeded but generation did not.
	ErrPartialFailure = errors.New("history cleared but generation failed")

	// ErrPlanNotFound is returned when the user has no plan of the requested kind.
	ErrPlanNotFound = fmt.Errorf("plan %w", ErrNotFound)
	// ErrProfileNotFound is returned when the user has no profile.
	ErrProfileNotFound = fmt.Errorf("profile %w", ErrNotFound)
	// ErrPreferencesNotFound is returned when the user has no workout preferences.
	ErrPreferencesNotFound = fmt.Errorf("workout preferences %w", ErrNotFound)
	// ErrBankingInactive is returned when a banking operation needs an active FeastConfig.
	ErrBankingInactive = fmt.Errorf("feast mode %w", ErrNotFound)
	// ErrBankingActive is returned when activating while a FeastConfig already exists.
	ErrBankingActive = fmt.Errorf("%w: feast mode already active", ErrConflict)
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// PartialFailureError reports that logs were cleared but the following generation failed.
// Callers should offer ActionRetry rather than clearing again.
type PartialFailureError struct {
	Cleared ClearScope
	Kind    PlanKind
	Err     error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s logs cleared (%s) but generation failed, retry generation: %v", e.Kind, e.Cleared, e.Err)
}

// Unwrap exposes the generation error.
func (e *PartialFailureError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrPartialFailure) match.
func (e *PartialFailureError) Is(target error) bool {
	return target == ErrPartialFailure
}
