/*
penalty.go - Lateness classification and penalty computation

PURPOSE:
  Classifies a single contribution submission against its slot and the
  group's active saving rule, and computes the penalty amount.

CLASSIFICATION:
  Let scheduled = slot date + slot time (civil), deadline = scheduled +
  rule.TimeLimitMinutes.

  submitted date < slot date:  none (early contribution, never penalized)
  submitted date = slot date:  time penalty iff submitted after deadline
  submitted date > slot date:  date penalty regardless of time of day
                               (a date penalty supersedes any time check)

  The civil date of the submission instant is taken in the configured
  timezone; a submission at 00:01 the next civil day is date-late even if
  it is still "yesterday" in UTC.

SEE ALSO:
  - engine.go: SubmitContribution wraps evaluation with the
    single-settlement invariant and activity persistence
  - types.go: SavingRule, PenaltyType
*/
package ikimina

import (
	"time"

	"github.com/shopspring/decimal"
)

// PenaltyResult is the outcome of evaluating one submission.
type PenaltyResult struct {
	Type   PenaltyType
	Amount decimal.Decimal
	IsLate bool
}

// PenaltyEvaluator classifies submissions in a fixed civil timezone.
type PenaltyEvaluator struct {
	Loc *time.Location
}

// Evaluate classifies submittedAt against the slot and rule. Pure.
func (e *PenaltyEvaluator) Evaluate(slot Slot, rule SavingRule, submittedAt time.Time) PenaltyResult {
	submittedDate := CivilDateOf(submittedAt, e.Loc)

	switch {
	case submittedDate.Before(slot.Date):
		return PenaltyResult{Type: PenaltyNone, Amount: decimal.Zero, IsLate: false}

	case submittedDate.Equal(slot.Date):
		scheduled := slot.Date.At(slot.Time, e.Loc)
		deadline := scheduled.Add(time.Duration(rule.TimeLimitMinutes) * time.Minute)
		if submittedAt.After(deadline) {
			return PenaltyResult{Type: PenaltyTime, Amount: rule.TimeDelayPenalty, IsLate: true}
		}
		return PenaltyResult{Type: PenaltyNone, Amount: decimal.Zero, IsLate: false}

	default: // submitted on a later civil day
		return PenaltyResult{Type: PenaltyDate, Amount: rule.DateDelayPenalty, IsLate: true}
	}
}
