package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umusanzu/ikimina-engine/ikimina"
	"github.com/umusanzu/ikimina-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func date(year int, month time.Month, day int) ikimina.CivilDate {
	return ikimina.NewCivilDate(year, month, day)
}

func testRound(id ikimina.RoundID, group ikimina.GroupID) ikimina.Round {
	now := time.Now()
	return ikimina.Round{
		ID:          id,
		GroupID:     group,
		RoundNumber: 1,
		RoundYear:   2025,
		StartDate:   date(2025, time.June, 2),
		EndDate:     date(2025, time.June, 9),
		Status:      ikimina.RoundUpcoming,
		CycleCount:  3,
		Frequency:   ikimina.FrequencyWeekly,
		AllowedDays: ikimina.AllowedDays{Weekdays: []string{"monday", "thursday"}},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func testSlot(id ikimina.SlotID, roundID ikimina.RoundID, d ikimina.CivilDate, tod string) ikimina.Slot {
	parsed, _ := ikimina.ParseCivilTime(tod)
	return ikimina.Slot{
		ID:            id,
		RoundID:       roundID,
		GroupID:       "group-1",
		Date:          d,
		Time:          parsed,
		ScheduleLabel: "weekly",
		Status:        ikimina.SlotUpcoming,
	}
}

// =============================================================================
// ROUNDS
// =============================================================================

func TestRounds_CreateAndRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r := testRound("round-1", "group-1")
	require.NoError(t, store.CreateRound(ctx, r))

	got, err := store.GetRound(ctx, "round-1")
	require.NoError(t, err)
	assert.Equal(t, r.GroupID, got.GroupID)
	assert.Equal(t, r.StartDate, got.StartDate)
	assert.Equal(t, r.EndDate, got.EndDate)
	assert.Equal(t, r.AllowedDays.Weekdays, got.AllowedDays.Weekdays)
	assert.Equal(t, r.Frequency, got.Frequency)
}

func TestRounds_ListOrderedByStartDate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	second := testRound("round-2", "group-1")
	second.StartDate = date(2025, time.July, 7)
	second.EndDate = date(2025, time.July, 14)
	require.NoError(t, store.CreateRound(ctx, second))
	require.NoError(t, store.CreateRound(ctx, testRound("round-1", "group-1")))

	rounds, err := store.ListRoundsByGroup(ctx, "group-1")
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.Equal(t, ikimina.RoundID("round-1"), rounds[0].ID)
	assert.Equal(t, ikimina.RoundID("round-2"), rounds[1].ID)
}

func TestRounds_GetMissing_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetRound(context.Background(), "nope")
	assert.ErrorIs(t, err, ikimina.ErrRoundNotFound)
}

func TestRounds_UpdateStatus_MonotonicGuard(t *testing.T) {
	// GIVEN: An active round
	// WHEN: Updating forward and then backward
	// THEN: Forward succeeds; regression fails in the statement itself

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRound(ctx, testRound("round-1", "group-1")))

	require.NoError(t, store.UpdateRoundStatus(ctx, "round-1", ikimina.RoundActive))
	require.NoError(t, store.UpdateRoundStatus(ctx, "round-1", ikimina.RoundCompleted))

	err := store.UpdateRoundStatus(ctx, "round-1", ikimina.RoundActive)
	assert.ErrorIs(t, err, ikimina.ErrStatusRegression)

	err = store.UpdateRoundStatus(ctx, "round-1", ikimina.RoundCompleted)
	assert.ErrorIs(t, err, ikimina.ErrStatusRegression, "same status is not a forward move")

	err = store.UpdateRoundStatus(ctx, "missing", ikimina.RoundActive)
	assert.ErrorIs(t, err, ikimina.ErrRoundNotFound)
}

func TestRounds_ListGroups(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRound(ctx, testRound("round-1", "group-b")))
	require.NoError(t, store.CreateRound(ctx, testRound("round-2", "group-a")))

	groups, err := store.ListGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ikimina.GroupID{"group-a", "group-b"}, groups)
}

// =============================================================================
// SLOTS
// =============================================================================

func TestSlots_BulkInsert_ExactlyOnce(t *testing.T) {
	// GIVEN: A round whose slots were inserted
	// WHEN: Bulk-inserting again
	// THEN: Conflict, original slot set intact

	store := newTestStore(t)
	ctx := context.Background()

	slots := []ikimina.Slot{
		testSlot("slot-1", "round-1", date(2025, time.June, 2), "09:00"),
		testSlot("slot-2", "round-1", date(2025, time.June, 5), "09:00"),
	}
	require.NoError(t, store.BulkInsertSlots(ctx, "round-1", slots))

	has, err := store.HasSlots(ctx, "round-1")
	require.NoError(t, err)
	assert.True(t, has)

	err = store.BulkInsertSlots(ctx, "round-1", slots)
	assert.ErrorIs(t, err, ikimina.ErrSlotsAlreadyGenerated)

	listed, err := store.ListSlotsByRound(ctx, "round-1")
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestSlots_UpdateStatusAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.BulkInsertSlots(ctx, "round-1", []ikimina.Slot{
		testSlot("slot-1", "round-1", date(2025, time.June, 2), "09:00"),
	}))

	require.NoError(t, store.UpdateSlotStatus(ctx, "slot-1", ikimina.SlotPending))
	got, err := store.GetSlot(ctx, "slot-1")
	require.NoError(t, err)
	assert.Equal(t, ikimina.SlotPending, got.Status)

	assert.ErrorIs(t, store.UpdateSlotStatus(ctx, "missing", ikimina.SlotPassed), ikimina.ErrSlotNotFound)

	require.NoError(t, store.DeleteSlotsByRound(ctx, "round-1"))
	has, err := store.HasSlots(ctx, "round-1")
	require.NoError(t, err)
	assert.False(t, has)
}

// =============================================================================
// RULES AND ACTIVITIES
// =============================================================================

func TestRules_UpsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rule := ikimina.SavingRule{
		GroupID:          "group-1",
		RoundID:          "round-1",
		UnitAmount:       decimal.NewFromInt(1000),
		TimeDelayPenalty: decimal.NewFromInt(100),
		DateDelayPenalty: decimal.NewFromInt(500),
		TimeLimitMinutes: 30,
	}
	require.NoError(t, store.SaveRule(ctx, rule))

	got, err := store.GetRule(ctx, "group-1", "round-1")
	require.NoError(t, err)
	assert.True(t, got.UnitAmount.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, 30, got.TimeLimitMinutes)

	rule.TimeLimitMinutes = 45
	require.NoError(t, store.SaveRule(ctx, rule))
	got, err = store.GetRule(ctx, "group-1", "round-1")
	require.NoError(t, err)
	assert.Equal(t, 45, got.TimeLimitMinutes)

	_, err = store.GetRule(ctx, "group-1", "other-round")
	assert.ErrorIs(t, err, ikimina.ErrRuleNotFound)
}

func TestActivities_SingleSettlementPerMember(t *testing.T) {
	// GIVEN: Member m-1 already settled slot-1
	// WHEN: Inserting a second activity for the same (slot, member)
	// THEN: The unique index rejects it; another member still can settle

	store := newTestStore(t)
	ctx := context.Background()

	activity := ikimina.SavingActivity{
		ID:            "act-1",
		SlotID:        "slot-1",
		MemberID:      "m-1",
		Amount:        decimal.NewFromInt(1000),
		SubmittedAt:   time.Now(),
		PenaltyType:   ikimina.PenaltyNone,
		PenaltyAmount: decimal.Zero,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, store.InsertActivity(ctx, activity))

	dup := activity
	dup.ID = "act-2"
	assert.ErrorIs(t, store.InsertActivity(ctx, dup), ikimina.ErrSlotAlreadySettled)

	other := activity
	other.ID = "act-3"
	other.MemberID = "m-2"
	require.NoError(t, store.InsertActivity(ctx, other))

	listed, err := store.ListActivitiesBySlot(ctx, "slot-1")
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

// =============================================================================
// SCHEDULES AND MEMBERS
// =============================================================================

func TestSchedules_SaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	schedule := ikimina.GroupSchedule{
		GroupID:   "group-1",
		Frequency: ikimina.FrequencyWeekly,
		Entries: []ikimina.ScheduleEntry{
			{Weekday: "monday", TimeOfDay: "09:00"},
			{Weekday: "thursday", TimeOfDay: "18:30"},
		},
	}
	require.NoError(t, store.SaveSchedule(ctx, schedule))

	got, err := store.GetSchedule(ctx, "group-1")
	require.NoError(t, err)
	assert.Equal(t, ikimina.FrequencyWeekly, got.Frequency)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, "monday", got.Entries[0].Weekday)

	_, err = store.GetSchedule(ctx, "group-without-schedule")
	assert.Error(t, err)
}

func TestMembers_ContactsAndBulkStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveMember(ctx, "group-1", ikimina.Contact{MemberID: "m-1", Phone: "+250700000001"}))
	require.NoError(t, store.SaveMember(ctx, "group-1", ikimina.Contact{MemberID: "m-2", Email: "m2@example.com"}))

	contacts, err := store.ListContacts(ctx, "group-1")
	require.NoError(t, err)
	assert.Len(t, contacts, 2)

	require.NoError(t, store.SetStatus(ctx, "group-1", ikimina.MemberActive))
}

// =============================================================================
// NOTIFY STATE AND OUTBOX
// =============================================================================

func TestNotifyState_UpsertSurvivesReopen(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	last, err := store.LastNotified(ctx, "round:round-1")
	require.NoError(t, err)
	assert.Empty(t, last, "unknown key reads as empty, not an error")

	require.NoError(t, store.SetLastNotified(ctx, "round:round-1", "active"))
	require.NoError(t, store.SetLastNotified(ctx, "round:round-1", "completed"))

	last, err = store.LastNotified(ctx, "round:round-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", last)
}

func TestOutbox_PendingLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, []ikimina.Notification{
		{ID: "n-1", GroupID: "group-1", Contact: ikimina.Contact{MemberID: "m-1", Phone: "+250700000001"}, Message: "hello", CreatedAt: time.Now()},
		{ID: "n-2", GroupID: "group-1", Contact: ikimina.Contact{MemberID: "m-2", Email: "m2@example.com"}, Message: "hello", CreatedAt: time.Now().Add(time.Second)},
	}))

	pending, err := store.ListPending(ctx, 10, 5)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "n-1", pending[0].ID, "oldest first")

	require.NoError(t, store.MarkSent(ctx, "n-1"))
	require.NoError(t, store.MarkFailed(ctx, "n-2", "gateway unavailable"))

	pending, err = store.ListPending(ctx, 10, 5)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "n-2", pending[0].ID)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "gateway unavailable", pending[0].LastError)

	// Attempt ceiling filters exhausted jobs.
	pending, err = store.ListPending(ctx, 10, 1)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
