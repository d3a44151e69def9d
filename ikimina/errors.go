/*
errors.go - Centralized error types for the savings engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The taxonomy mirrors how callers must react:

  1. Validation errors   - bad input, rejected synchronously, never retried
  2. Invariant violations - state conflicts (overlap, double settlement,
     regenerating slots), rejected with a reason code
  3. Configuration errors - NoMatchingDay from the cycle calculator
  4. Transient errors     - store/notifier unavailable; the scheduler skips
     the group for one tick, SubmitContribution surfaces as retryable

USAGE:
  if errors.Is(err, ikimina.ErrSlotAlreadySettled) { ... }
  if ikimina.IsInvariantViolation(err) { respond 409 }

SEE ALSO:
  - engine.go: Entry points mapping these onto operations
  - api/handlers.go: HTTP status mapping
*/
package ikimina

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNoMatchingDay is returned when the cycle calculator never finds an
	// occupied day within the iteration bound (e.g. empty allowed-day set).
	// This is a configuration error, never silently defaulted.
	ErrNoMatchingDay = errors.New("no matching saving day within bound")

	// ErrSlotsAlreadyGenerated is returned when slot generation is invoked
	// for a round that already has slots. Generation is exactly-once.
	ErrSlotsAlreadyGenerated = errors.New("slots already generated for round")

	// ErrSlotAlreadySettled is returned on a second contribution for the
	// same (slot, member). A slot can be settled by a member only once.
	ErrSlotAlreadySettled = errors.New("slot already settled by member")

	// ErrRoundOverlap is returned when a new round's start date is not
	// strictly after the previous round's end date.
	ErrRoundOverlap = errors.New("round overlaps previous round")

	// ErrStartDayNotAllowed is returned when a round's start date does not
	// fall on one of its allowed saving days.
	ErrStartDayNotAllowed = errors.New("start date not on an allowed saving day")

	// ErrRoundNotEditable is returned when editing, deleting or resetting a
	// round that is already active or completed.
	ErrRoundNotEditable = errors.New("round is active or completed")

	// ErrRoundNotFound / ErrSlotNotFound / ErrRuleNotFound are store-level
	// lookups that came back empty.
	ErrRoundNotFound = errors.New("round not found")
	ErrSlotNotFound  = errors.New("slot not found")
	ErrRuleNotFound  = errors.New("saving rule not found")

	// ErrStatusRegression guards monotonicity: a round status may only move
	// forward through upcoming -> active -> completed.
	ErrStatusRegression = errors.New("round status may not regress")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports bad or missing input on a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// InvariantError wraps a sentinel invariant with the identifiers involved,
// so logs and API responses can name the conflicting state.
type InvariantError struct {
	Reason  error // one of the sentinel errors above
	GroupID GroupID
	RoundID RoundID
	SlotID  SlotID
	Detail  string
}

func (e *InvariantError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%v: %s", e.Reason, e.Detail)
	}
	return e.Reason.Error()
}

func (e *InvariantError) Unwrap() error { return e.Reason }

// TransientError marks a dependency failure that may succeed on retry.
// The scheduler logs it and skips the group for the tick; submission
// callers surface it as retryable.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true for bad-input errors (HTTP 400).
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsInvariantViolation returns true for state-conflict errors (HTTP 409).
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrSlotsAlreadyGenerated) ||
		errors.Is(err, ErrSlotAlreadySettled) ||
		errors.Is(err, ErrRoundOverlap) ||
		errors.Is(err, ErrStartDayNotAllowed) ||
		errors.Is(err, ErrRoundNotEditable) ||
		errors.Is(err, ErrStatusRegression)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRoundNotFound) ||
		errors.Is(err, ErrSlotNotFound) ||
		errors.Is(err, ErrRuleNotFound)
}

// IsRetryable returns true if the operation might succeed on retry.
func IsRetryable(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
