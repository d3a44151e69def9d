package ikimina_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umusanzu/ikimina-engine/ikimina"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func kigali(t *testing.T) *time.Location {
	loc, err := time.LoadLocation("Africa/Kigali")
	require.NoError(t, err)
	return loc
}

func testRule() ikimina.SavingRule {
	return ikimina.SavingRule{
		GroupID:          "group-1",
		RoundID:          "round-1",
		UnitAmount:       decimal.NewFromInt(1000),
		TimeDelayPenalty: decimal.NewFromInt(100),
		DateDelayPenalty: decimal.NewFromInt(500),
		TimeLimitMinutes: 30,
	}
}

func eightAMSlot() ikimina.Slot {
	return ikimina.Slot{
		ID:      "slot-1",
		RoundID: "round-1",
		GroupID: "group-1",
		Date:    date(2024, time.March, 1),
		Time:    ikimina.CivilTime{Hour: 8, Minute: 0},
	}
}

// =============================================================================
// LATENESS CLASSIFICATION
// =============================================================================

func TestEvaluate_SameDay_PastDeadline_TimePenalty(t *testing.T) {
	// GIVEN: Slot at 08:00 with a 30 minute grace window
	// WHEN: Submitting at 08:45 the same day
	// THEN: Time penalty at the rule's time-delay amount

	loc := kigali(t)
	eval := &ikimina.PenaltyEvaluator{Loc: loc}

	submitted := time.Date(2024, time.March, 1, 8, 45, 0, 0, loc)
	result := eval.Evaluate(eightAMSlot(), testRule(), submitted)

	assert.Equal(t, ikimina.PenaltyTime, result.Type)
	assert.True(t, result.Amount.Equal(decimal.NewFromInt(100)))
	assert.True(t, result.IsLate)
}

func TestEvaluate_SameDay_WithinDeadline_NoPenalty(t *testing.T) {
	// GIVEN: Slot at 08:00 with a 30 minute grace window
	// WHEN: Submitting at 08:15 the same day
	// THEN: No penalty

	loc := kigali(t)
	eval := &ikimina.PenaltyEvaluator{Loc: loc}

	submitted := time.Date(2024, time.March, 1, 8, 15, 0, 0, loc)
	result := eval.Evaluate(eightAMSlot(), testRule(), submitted)

	assert.Equal(t, ikimina.PenaltyNone, result.Type)
	assert.True(t, result.Amount.IsZero())
	assert.False(t, result.IsLate)
}

func TestEvaluate_NextDay_DatePenalty_RegardlessOfTime(t *testing.T) {
	// GIVEN: Slot at 08:00 on March 1
	// WHEN: Submitting at 00:01 on March 2
	// THEN: Date penalty, even though barely past midnight

	loc := kigali(t)
	eval := &ikimina.PenaltyEvaluator{Loc: loc}

	submitted := time.Date(2024, time.March, 2, 0, 1, 0, 0, loc)
	result := eval.Evaluate(eightAMSlot(), testRule(), submitted)

	assert.Equal(t, ikimina.PenaltyDate, result.Type)
	assert.True(t, result.Amount.Equal(decimal.NewFromInt(500)))
	assert.True(t, result.IsLate)
}

func TestEvaluate_EarlyContribution_NeverPenalized(t *testing.T) {
	// GIVEN: Slot on March 1
	// WHEN: Submitting February 28, late at night
	// THEN: No penalty; early contributions are always on time

	loc := kigali(t)
	eval := &ikimina.PenaltyEvaluator{Loc: loc}

	submitted := time.Date(2024, time.February, 28, 23, 59, 0, 0, loc)
	result := eval.Evaluate(eightAMSlot(), testRule(), submitted)

	assert.Equal(t, ikimina.PenaltyNone, result.Type)
	assert.False(t, result.IsLate)
}

func TestEvaluate_ExactlyAtDeadline_NoPenalty(t *testing.T) {
	// The deadline itself is still on time; only strictly after is late.
	loc := kigali(t)
	eval := &ikimina.PenaltyEvaluator{Loc: loc}

	submitted := time.Date(2024, time.March, 1, 8, 30, 0, 0, loc)
	result := eval.Evaluate(eightAMSlot(), testRule(), submitted)

	assert.Equal(t, ikimina.PenaltyNone, result.Type)
	assert.False(t, result.IsLate)
}

func TestEvaluate_CivilDateBoundary_NotUTC(t *testing.T) {
	// GIVEN: A submission instant that is still March 1 in UTC but already
	//        March 2 in the civil timezone (UTC+2)
	// WHEN: Evaluating against a March 1 slot
	// THEN: Date penalty; the civil calendar decides, not UTC

	loc := kigali(t)
	eval := &ikimina.PenaltyEvaluator{Loc: loc}

	// 23:30 UTC March 1 = 01:30 March 2 in Kigali
	submitted := time.Date(2024, time.March, 1, 23, 30, 0, 0, time.UTC)
	result := eval.Evaluate(eightAMSlot(), testRule(), submitted)

	assert.Equal(t, ikimina.PenaltyDate, result.Type)
	assert.True(t, result.IsLate)
}
