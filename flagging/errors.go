/*
errors.go - Centralized error types for the evaluation engine

PURPOSE:
  All sentinel and structured errors in one place. The experiments package
  wraps these with additional context rather than defining its own taxonomy.

ERROR CATEGORIES:
  1. Not-found errors - Missing flag/experiment/participant definitions
  2. Validation errors - Bad variants or traffic allocation, rejected before
     persistence
  3. Lifecycle errors - Operations attempted in the wrong experiment state
  4. Store errors - Persistence-layer failures

PROPAGATION POLICY:
  The evaluation path treats store failures as recoverable: log, fall back
  to the default value, never surface to the caller. Assignment and
  lifecycle operations treat store failures as fatal for that call, since
  an experiment's validity depends on durable assignment.

USAGE:
  if errors.Is(err, flagging.ErrNotRunning) { ... }
*/
package flagging

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrFlagNotFound is returned when a referenced flag doesn't exist.
	ErrFlagNotFound = errors.New("flag not found")

	// ErrExperimentNotFound is returned when a referenced experiment doesn't exist.
	ErrExperimentNotFound = errors.New("experiment not found")

	// ErrParticipantNotFound is returned when a participant lookup misses.
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrNotRunning is returned when assignment or a lifecycle transition is
	// attempted on an experiment in the wrong state.
	ErrNotRunning = errors.New("experiment is not running")

	// ErrNotEligible is returned when targeting rules exclude a subject
	// from experiment assignment.
	ErrNotEligible = errors.New("subject not eligible for experiment")

	// ErrValidation is returned when a definition fails validation
	// (bad variants, traffic allocation, value type).
	ErrValidation = errors.New("validation failed")

	// ErrAlreadyAssigned is returned by stores when a participant row for
	// (experimentID, subjectID) already exists. The assigner treats this as
	// "already assigned" and re-reads rather than erroring.
	ErrAlreadyAssigned = errors.New("participant already assigned")

	// ErrStoreUnavailable is returned when the definition or participation
	// store cannot serve a request (including bounded-timeout expiry).
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a definition that was rejected before persistence.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Detail)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// StateError describes a lifecycle operation attempted in the wrong state.
type StateError struct {
	ExperimentID string
	Status       string
	Operation    string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s experiment %s in status %q", e.Operation, e.ExperimentID, e.Status)
}

func (e *StateError) Unwrap() error { return ErrNotRunning }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing definition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFlagNotFound) ||
		errors.Is(err, ErrExperimentNotFound) ||
		errors.Is(err, ErrParticipantNotFound)
}

// IsClientError returns true if the error is due to invalid client input
// rather than a system failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotRunning) ||
		errors.Is(err, ErrNotEligible)
}

// IsConflict returns true for duplicate-assignment races. Callers resolve
// these by re-reading the winning row.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyAssigned)
}
