/*
Package ikimina provides the round/slot lifecycle engine for a community
savings cooperative.

PURPOSE:
  An ikimina runs repeating rounds of contribution cycles. Each round is
  expanded into dated, timed slots at which members contribute. This package
  owns the hard part of that system: computing round length from a
  frequency and allowed-day set, expanding rounds into slots, advancing
  round and slot status over calendar time, and classifying contributions
  as on-time or late with the matching penalty.

KEY CONCEPTS IN THIS FILE (types.go):
  - Round: One bounded saving cycle for a group (upcoming/active/completed)
  - Slot: One dated-and-timed contribution occurrence within a round
  - SavingRule: Per-round penalty configuration (unit amount, delays, limit)
  - SavingActivity: An immutable record of one member settling one slot
  - ScheduleEntry: A (day-selector, time) pair from group configuration

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all money, no floats
  2. Monotonic status: round status never regresses
  3. Single settlement: at most one activity per (slot, member)
  4. Civil time: all boundaries evaluated in one configured timezone

SEE ALSO:
  - civil.go: CivilDate/CivilTime and the Clock seam
  - cycle.go: End-date computation
  - lifecycle.go: Round state machine
  - penalty.go: Lateness classification
*/
package ikimina

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type GroupID string
type RoundID string
type SlotID string
type MemberID string
type ActivityID string

// =============================================================================
// FREQUENCY AND ALLOWED DAYS
// =============================================================================

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// AllowedDays is the set of saving days for a round. Weekdays applies to
// weekly rounds, DaysOfMonth to monthly rounds; both are ignored for daily.
type AllowedDays struct {
	Weekdays    []string // weekday names, e.g. "monday"
	DaysOfMonth []int    // 1..31
}

// =============================================================================
// ROUND - One bounded saving cycle
// =============================================================================

type RoundStatus string

const (
	RoundUpcoming  RoundStatus = "upcoming"
	RoundActive    RoundStatus = "active"
	RoundCompleted RoundStatus = "completed"
)

// rank orders statuses so monotonicity is checkable: a transition is legal
// only to a strictly higher rank.
func (s RoundStatus) rank() int {
	switch s {
	case RoundUpcoming:
		return 0
	case RoundActive:
		return 1
	case RoundCompleted:
		return 2
	}
	return -1
}

// CanTransitionTo reports whether moving to next preserves monotonicity.
func (s RoundStatus) CanTransitionTo(next RoundStatus) bool {
	return next.rank() > s.rank()
}

type Round struct {
	ID          RoundID
	GroupID     GroupID
	RoundNumber int
	RoundYear   int
	StartDate   CivilDate
	EndDate     CivilDate
	Status      RoundStatus
	CycleCount  int
	Frequency   Frequency
	AllowedDays AllowedDays
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// =============================================================================
// SLOT - One contribution occurrence
// =============================================================================

type SlotStatus string

const (
	SlotUpcoming SlotStatus = "upcoming"
	SlotPending  SlotStatus = "pending"
	SlotPassed   SlotStatus = "passed"
)

type Slot struct {
	ID            SlotID
	RoundID       RoundID
	GroupID       GroupID
	Date          CivilDate
	Time          CivilTime
	ScheduleLabel string // echoes the frequency, e.g. "weekly"
	Status        SlotStatus
}

// =============================================================================
// SAVING RULE - Penalty configuration, at most one per (group, round)
// =============================================================================

type SavingRule struct {
	GroupID          GroupID
	RoundID          RoundID
	UnitAmount       decimal.Decimal
	TimeDelayPenalty decimal.Decimal
	DateDelayPenalty decimal.Decimal
	TimeLimitMinutes int
}

// =============================================================================
// SAVING ACTIVITY - Immutable settlement record
// =============================================================================

type PenaltyType string

const (
	PenaltyNone PenaltyType = "none"
	PenaltyTime PenaltyType = "time"
	PenaltyDate PenaltyType = "date"
)

type SavingActivity struct {
	ID            ActivityID
	SlotID        SlotID
	MemberID      MemberID
	Amount        decimal.Decimal
	SubmittedAt   time.Time
	PenaltyType   PenaltyType
	PenaltyAmount decimal.Decimal
	CreatedAt     time.Time
}

// =============================================================================
// SCHEDULE - Group contribution schedule configuration
// =============================================================================

// ScheduleEntry is one configured (day-selector, time) pair. For daily
// schedules the selector fields are unused; weekly sets Weekday, monthly
// sets DayOfMonth.
type ScheduleEntry struct {
	Weekday    string // weekly: weekday name
	DayOfMonth int    // monthly: 1..31
	TimeOfDay  string // "15:04" wall-clock time, parsed at generation
}

// GroupSchedule is a group's full contribution schedule.
type GroupSchedule struct {
	GroupID   GroupID
	Frequency Frequency
	Entries   []ScheduleEntry
}

// =============================================================================
// MEMBERS AND NOTIFICATIONS
// =============================================================================

type MemberStatus string

const (
	MemberActive   MemberStatus = "active"
	MemberWaiting  MemberStatus = "waiting"
	MemberInactive MemberStatus = "inactive"
)

// Contact is a member's reachable addresses. Either field may be empty;
// a member with neither is skipped by notification fan-out.
type Contact struct {
	MemberID MemberID
	Phone    string
	Email    string
}

func (c Contact) Reachable() bool { return c.Phone != "" || c.Email != "" }

// Notification is one queued outbound message (see outbox.go).
type Notification struct {
	ID        string
	GroupID   GroupID
	Contact   Contact
	Message   string
	Attempts  int
	LastError string
	CreatedAt time.Time
	SentAt    *time.Time
}
