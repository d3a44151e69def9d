package ikimina_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umusanzu/ikimina-engine/ikimina"
	"github.com/umusanzu/ikimina-engine/ikimina/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T, today ikimina.CivilDate) (*ikimina.Engine, *store.Memory, *ikimina.FakeClock) {
	loc := kigali(t)
	clock := ikimina.NewFakeClock(today.At(ikimina.CivilTime{Hour: 9}, loc), loc)

	mem := store.NewMemory()
	mem.AddMember("group-1", ikimina.Contact{MemberID: "m-1", Phone: "+250700000001"})
	mem.AddMember("group-1", ikimina.Contact{MemberID: "m-2", Email: "m2@example.com"})

	engine := &ikimina.Engine{
		Rounds:      mem,
		Slots:       mem,
		Rules:       mem,
		Activities:  mem,
		Schedules:   mem,
		Members:     mem,
		NotifyState: mem,
		Outbox:      mem,
		Clock:       clock,
	}
	return engine, mem, clock
}

func createDailyRound(t *testing.T, engine *ikimina.Engine, start ikimina.CivilDate, cycles int) *ikimina.Round {
	round, err := engine.CreateRound(context.Background(), ikimina.CreateRoundInput{
		GroupID:    "group-1",
		StartDate:  start,
		Frequency:  ikimina.FrequencyDaily,
		CycleCount: cycles,
	})
	require.NoError(t, err)
	return round
}

// =============================================================================
// ROUND CREATION
// =============================================================================

func TestCreateRound_ComputesEndDateAndNumber(t *testing.T) {
	engine, _, _ := newTestEngine(t, date(2025, time.March, 1))

	round := createDailyRound(t, engine, date(2025, time.March, 10), 5)
	assert.Equal(t, date(2025, time.March, 14), round.EndDate)
	assert.Equal(t, 1, round.RoundNumber)
	assert.Equal(t, 2025, round.RoundYear)
	assert.Equal(t, ikimina.RoundUpcoming, round.Status)

	second := createDailyRound(t, engine, date(2025, time.March, 20), 3)
	assert.Equal(t, 2, second.RoundNumber)
}

func TestCreateRound_StartDayMustBeAllowed(t *testing.T) {
	// GIVEN: A weekly Monday/Thursday group
	// WHEN: Creating a round starting on a Tuesday
	// THEN: Rejected as an invariant violation

	engine, _, _ := newTestEngine(t, date(2025, time.March, 1))

	_, err := engine.CreateRound(context.Background(), ikimina.CreateRoundInput{
		GroupID:     "group-1",
		StartDate:   date(2025, time.June, 3), // Tuesday
		Frequency:   ikimina.FrequencyWeekly,
		AllowedDays: weekdays("monday", "thursday"),
		CycleCount:  3,
	})
	require.Error(t, err)
	assert.True(t, ikimina.IsInvariantViolation(err))
	assert.ErrorIs(t, err, ikimina.ErrStartDayNotAllowed)
}

func TestCreateRound_OverlappingRounds_Rejected(t *testing.T) {
	// GIVEN: An existing round ending March 14
	// WHEN: Creating a round starting on March 14 (not strictly after)
	// THEN: Rejected with the overlap reason

	engine, _, _ := newTestEngine(t, date(2025, time.March, 1))
	createDailyRound(t, engine, date(2025, time.March, 10), 5)

	_, err := engine.CreateRound(context.Background(), ikimina.CreateRoundInput{
		GroupID:    "group-1",
		StartDate:  date(2025, time.March, 14),
		Frequency:  ikimina.FrequencyDaily,
		CycleCount: 3,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ikimina.ErrRoundOverlap)

	// The day after the end date is fine.
	_, err = engine.CreateRound(context.Background(), ikimina.CreateRoundInput{
		GroupID:    "group-1",
		StartDate:  date(2025, time.March, 15),
		Frequency:  ikimina.FrequencyDaily,
		CycleCount: 3,
	})
	assert.NoError(t, err)
}

func TestCreateRound_FirstRoundCannotStartInPast(t *testing.T) {
	engine, _, _ := newTestEngine(t, date(2025, time.March, 10))

	_, err := engine.CreateRound(context.Background(), ikimina.CreateRoundInput{
		GroupID:    "group-1",
		StartDate:  date(2025, time.March, 9),
		Frequency:  ikimina.FrequencyDaily,
		CycleCount: 3,
	})
	assert.True(t, ikimina.IsValidation(err))
}

func TestCreateRound_InvalidInput(t *testing.T) {
	engine, _, _ := newTestEngine(t, date(2025, time.March, 1))
	ctx := context.Background()

	cases := []struct {
		name string
		in   ikimina.CreateRoundInput
	}{
		{"missing group", ikimina.CreateRoundInput{StartDate: date(2025, time.March, 10), Frequency: ikimina.FrequencyDaily, CycleCount: 3}},
		{"bad frequency", ikimina.CreateRoundInput{GroupID: "group-1", StartDate: date(2025, time.March, 10), Frequency: "hourly", CycleCount: 3}},
		{"zero cycles", ikimina.CreateRoundInput{GroupID: "group-1", StartDate: date(2025, time.March, 10), Frequency: ikimina.FrequencyDaily}},
		{"missing start", ikimina.CreateRoundInput{GroupID: "group-1", Frequency: ikimina.FrequencyDaily, CycleCount: 3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.CreateRound(ctx, tc.in)
			assert.True(t, ikimina.IsValidation(err), "got %v", err)
		})
	}
}

// =============================================================================
// ROUND EDIT AND DELETE
// =============================================================================

func TestEditRound_RecomputesEndDate(t *testing.T) {
	engine, _, _ := newTestEngine(t, date(2025, time.March, 1))
	round := createDailyRound(t, engine, date(2025, time.March, 10), 5)

	cycles := 10
	edited, err := engine.EditRound(context.Background(), round.ID, ikimina.EditRoundInput{CycleCount: &cycles})
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.March, 19), edited.EndDate)
}

func TestEditRound_OnlyWhileUpcoming(t *testing.T) {
	engine, mem, _ := newTestEngine(t, date(2025, time.March, 1))
	round := createDailyRound(t, engine, date(2025, time.March, 10), 5)
	require.NoError(t, mem.UpdateRoundStatus(context.Background(), round.ID, ikimina.RoundActive))

	cycles := 10
	_, err := engine.EditRound(context.Background(), round.ID, ikimina.EditRoundInput{CycleCount: &cycles})
	require.Error(t, err)
	assert.ErrorIs(t, err, ikimina.ErrRoundNotEditable)
}

func TestDeleteRound_RemovesSlots(t *testing.T) {
	engine, mem, _ := newTestEngine(t, date(2025, time.March, 1))
	mem.SetSchedule(ikimina.GroupSchedule{
		GroupID:   "group-1",
		Frequency: ikimina.FrequencyDaily,
		Entries:   []ikimina.ScheduleEntry{{TimeOfDay: "08:00"}},
	})
	round := createDailyRound(t, engine, date(2025, time.March, 10), 5)

	_, err := engine.GenerateSlots(context.Background(), round.ID)
	require.NoError(t, err)

	require.NoError(t, engine.DeleteRound(context.Background(), round.ID))

	rounds, err := engine.ListRounds(context.Background(), "group-1")
	require.NoError(t, err)
	assert.Empty(t, rounds)
	has, err := mem.HasSlots(context.Background(), round.ID)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestDeleteRound_OnlyWhileUpcoming(t *testing.T) {
	engine, mem, _ := newTestEngine(t, date(2025, time.March, 1))
	round := createDailyRound(t, engine, date(2025, time.March, 10), 5)
	require.NoError(t, mem.UpdateRoundStatus(context.Background(), round.ID, ikimina.RoundActive))

	err := engine.DeleteRound(context.Background(), round.ID)
	assert.ErrorIs(t, err, ikimina.ErrRoundNotEditable)
}

// =============================================================================
// SLOT GENERATION AND RESET
// =============================================================================

func TestGenerateSlots_SecondGenerationRejected(t *testing.T) {
	// GIVEN: A round whose slots were already generated
	// WHEN: Generating again
	// THEN: Invariant violation, slot set unchanged

	engine, mem, _ := newTestEngine(t, date(2025, time.March, 1))
	mem.SetSchedule(ikimina.GroupSchedule{
		GroupID:   "group-1",
		Frequency: ikimina.FrequencyDaily,
		Entries:   []ikimina.ScheduleEntry{{TimeOfDay: "08:00"}, {TimeOfDay: "18:00"}},
	})
	round := createDailyRound(t, engine, date(2025, time.March, 10), 5)

	slots, err := engine.GenerateSlots(context.Background(), round.ID)
	require.NoError(t, err)
	assert.Len(t, slots, 10, "2 times x 5 days")

	_, err = engine.GenerateSlots(context.Background(), round.ID)
	require.Error(t, err)
	assert.True(t, ikimina.IsInvariantViolation(err))
	assert.ErrorIs(t, err, ikimina.ErrSlotsAlreadyGenerated)

	persisted, err := engine.ListSlots(context.Background(), round.ID)
	require.NoError(t, err)
	assert.Len(t, persisted, 10)
}

func TestResetSlots_AllowsRegeneration(t *testing.T) {
	engine, mem, _ := newTestEngine(t, date(2025, time.March, 1))
	mem.SetSchedule(ikimina.GroupSchedule{
		GroupID:   "group-1",
		Frequency: ikimina.FrequencyDaily,
		Entries:   []ikimina.ScheduleEntry{{TimeOfDay: "08:00"}},
	})
	round := createDailyRound(t, engine, date(2025, time.March, 10), 5)

	_, err := engine.GenerateSlots(context.Background(), round.ID)
	require.NoError(t, err)

	require.NoError(t, engine.ResetSlots(context.Background(), round.ID))

	slots, err := engine.GenerateSlots(context.Background(), round.ID)
	require.NoError(t, err)
	assert.Len(t, slots, 5)
}

func TestResetSlots_RejectedOnceActive(t *testing.T) {
	engine, mem, _ := newTestEngine(t, date(2025, time.March, 1))
	round := createDailyRound(t, engine, date(2025, time.March, 10), 5)
	require.NoError(t, mem.UpdateRoundStatus(context.Background(), round.ID, ikimina.RoundActive))

	err := engine.ResetSlots(context.Background(), round.ID)
	assert.ErrorIs(t, err, ikimina.ErrRoundNotEditable)
}

// =============================================================================
// CONTRIBUTION SUBMISSION
// =============================================================================

func submissionFixture(t *testing.T) (*ikimina.Engine, *store.Memory, ikimina.SlotID) {
	engine, mem, _ := newTestEngine(t, date(2025, time.March, 1))
	mem.SetSchedule(ikimina.GroupSchedule{
		GroupID:   "group-1",
		Frequency: ikimina.FrequencyDaily,
		Entries:   []ikimina.ScheduleEntry{{TimeOfDay: "08:00"}},
	})
	round := createDailyRound(t, engine, date(2025, time.March, 10), 5)
	mem.SetRule(ikimina.SavingRule{
		GroupID:          "group-1",
		RoundID:          round.ID,
		UnitAmount:       decimal.NewFromInt(1000),
		TimeDelayPenalty: decimal.NewFromInt(100),
		DateDelayPenalty: decimal.NewFromInt(500),
		TimeLimitMinutes: 30,
	})

	slots, err := engine.GenerateSlots(context.Background(), round.ID)
	require.NoError(t, err)
	return engine, mem, slots[0].ID
}

func TestSubmitContribution_OnTime(t *testing.T) {
	engine, _, slotID := submissionFixture(t)
	loc := kigali(t)

	submitted := time.Date(2025, time.March, 10, 8, 10, 0, 0, loc)
	activity, err := engine.SubmitContribution(context.Background(), slotID, "m-1", decimal.NewFromInt(1000), submitted)
	require.NoError(t, err)
	assert.Equal(t, ikimina.PenaltyNone, activity.PenaltyType)
	assert.True(t, activity.PenaltyAmount.IsZero())
}

func TestSubmitContribution_DateLate_AppliesPenaltyAndNotifies(t *testing.T) {
	engine, mem, slotID := submissionFixture(t)
	loc := kigali(t)

	submitted := time.Date(2025, time.March, 11, 0, 1, 0, 0, loc)
	activity, err := engine.SubmitContribution(context.Background(), slotID, "m-1", decimal.NewFromInt(1000), submitted)
	require.NoError(t, err)
	assert.Equal(t, ikimina.PenaltyDate, activity.PenaltyType)
	assert.True(t, activity.PenaltyAmount.Equal(decimal.NewFromInt(500)))

	queued := mem.OutboxContents()
	require.Len(t, queued, 1, "date-late settlement notifies the member")
	assert.Equal(t, ikimina.MemberID("m-1"), queued[0].Contact.MemberID)
}

func TestSubmitContribution_DoubleSettlement_Rejected(t *testing.T) {
	// GIVEN: Member m-1 already settled the slot
	// WHEN: Submitting again for the same (slot, member)
	// THEN: Invariant violation; a different member may still settle

	engine, _, slotID := submissionFixture(t)
	loc := kigali(t)
	submitted := time.Date(2025, time.March, 10, 8, 10, 0, 0, loc)

	_, err := engine.SubmitContribution(context.Background(), slotID, "m-1", decimal.NewFromInt(1000), submitted)
	require.NoError(t, err)

	_, err = engine.SubmitContribution(context.Background(), slotID, "m-1", decimal.NewFromInt(1000), submitted)
	require.Error(t, err)
	assert.True(t, ikimina.IsInvariantViolation(err))
	assert.ErrorIs(t, err, ikimina.ErrSlotAlreadySettled)

	_, err = engine.SubmitContribution(context.Background(), slotID, "m-2", decimal.NewFromInt(1000), submitted)
	assert.NoError(t, err)
}

func TestSubmitContribution_ZeroSubmittedAt_UsesClock(t *testing.T) {
	engine, _, slotID := submissionFixture(t)

	// Clock is fixed at 2025-03-01 09:00, nine days before the slot.
	activity, err := engine.SubmitContribution(context.Background(), slotID, "m-1", decimal.NewFromInt(1000), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, ikimina.PenaltyNone, activity.PenaltyType)
	assert.False(t, activity.SubmittedAt.IsZero())
}

func TestSubmitContribution_InvalidInput(t *testing.T) {
	engine, _, slotID := submissionFixture(t)
	ctx := context.Background()

	_, err := engine.SubmitContribution(ctx, slotID, "", decimal.NewFromInt(1000), time.Time{})
	assert.True(t, ikimina.IsValidation(err))

	_, err = engine.SubmitContribution(ctx, slotID, "m-1", decimal.Zero, time.Time{})
	assert.True(t, ikimina.IsValidation(err))

	_, err = engine.SubmitContribution(ctx, "no-such-slot", "m-1", decimal.NewFromInt(1000), time.Time{})
	assert.True(t, ikimina.IsNotFound(err))
}

// =============================================================================
// TICK
// =============================================================================

func TestTick_AdvancesRoundsAndProjectsSlots(t *testing.T) {
	// GIVEN: A generated round starting March 10
	// WHEN: Ticking with the clock on March 10
	// THEN: Round is active and today's slot is pending

	engine, mem, clock := newTestEngine(t, date(2025, time.March, 1))
	mem.SetSchedule(ikimina.GroupSchedule{
		GroupID:   "group-1",
		Frequency: ikimina.FrequencyDaily,
		Entries:   []ikimina.ScheduleEntry{{TimeOfDay: "08:00"}},
	})
	round := createDailyRound(t, engine, date(2025, time.March, 10), 5)
	_, err := engine.GenerateSlots(context.Background(), round.ID)
	require.NoError(t, err)

	clock.SetDate(date(2025, time.March, 11))
	report := engine.Tick(context.Background())
	assert.Equal(t, 1, report.Groups)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 2, report.SlotsUpdated, "March 10 -> passed, March 11 -> pending")

	persisted, err := mem.GetRound(context.Background(), round.ID)
	require.NoError(t, err)
	assert.Equal(t, ikimina.RoundActive, persisted.Status)
}

func TestTick_RepeatedTicks_AreIdempotent(t *testing.T) {
	engine, mem, clock := newTestEngine(t, date(2025, time.March, 1))
	mem.SetSchedule(ikimina.GroupSchedule{
		GroupID:   "group-1",
		Frequency: ikimina.FrequencyDaily,
		Entries:   []ikimina.ScheduleEntry{{TimeOfDay: "08:00"}},
	})
	round := createDailyRound(t, engine, date(2025, time.March, 10), 5)
	_, err := engine.GenerateSlots(context.Background(), round.ID)
	require.NoError(t, err)

	clock.SetDate(date(2025, time.March, 11))
	first := engine.Tick(context.Background())
	second := engine.Tick(context.Background())

	assert.Equal(t, 2, first.SlotsUpdated)
	assert.Equal(t, 0, second.SlotsUpdated, "no-op once projected")
	assert.Len(t, mem.OutboxContents(), 2, "one activation batch for two reachable members")
}

func TestTick_GroupsAreIsolated(t *testing.T) {
	// GIVEN: Two groups, one of them with a broken schedule lookup path
	//        (no rounds issue here; simulate by seeding a healthy second group)
	// WHEN: Ticking
	// THEN: Both groups are processed; the report counts them

	engine, mem, clock := newTestEngine(t, date(2025, time.March, 1))
	mem.AddMember("group-2", ikimina.Contact{MemberID: "m-9", Phone: "+250700000009"})

	createDailyRound(t, engine, date(2025, time.March, 10), 5)
	_, err := engine.CreateRound(context.Background(), ikimina.CreateRoundInput{
		GroupID:    "group-2",
		StartDate:  date(2025, time.March, 10),
		Frequency:  ikimina.FrequencyDaily,
		CycleCount: 5,
	})
	require.NoError(t, err)

	clock.SetDate(date(2025, time.March, 10))
	report := engine.Tick(context.Background())
	assert.Equal(t, 2, report.Groups)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 0, report.Skipped)
}
