/*
slots.go - Slot generation

PURPOSE:
  Expands a round's date range into the full set of dated, timed
  contribution slots, one per matching schedule entry per date. Generation
  is exactly-once per round: a round that already has slots rejects
  regeneration, and the storage layer backs that up with a conflict-safe
  bulk insert.

MATCHING RULES:
  daily:   every entry matches every date
  weekly:  entry matches dates whose weekday equals the entry's weekday
  monthly: entry matches dates whose day-of-month equals the entry's day;
           the entry is skipped in months shorter than that day

ROBUSTNESS:
  A malformed time on one schedule entry is skipped with a warning, not
  fatal to the whole generation. Generation fails only when no entry at
  all is usable.

SEE ALSO:
  - cycle.go: Shares the occupied-day definition via civil.go
  - engine.go: GenerateSlots/ResetSlots entry points
*/
package ikimina

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SlotGenerator expands rounds into slots.
type SlotGenerator struct {
	Log *logrus.Logger
}

// generatedSlot pairs a parsed entry with its wall-clock time.
type parsedEntry struct {
	entry ScheduleEntry
	tod   CivilTime
}

// Generate produces the slot set for the round from the group's schedule
// entries. Pure except for warning logs; persistence and the exactly-once
// guard live in the engine and the slot store.
func (g *SlotGenerator) Generate(round Round, schedule GroupSchedule) ([]Slot, error) {
	if schedule.Frequency != round.Frequency {
		return nil, &ValidationError{
			Field:   "frequency",
			Message: "schedule frequency does not match round frequency",
		}
	}

	entries := make([]parsedEntry, 0, len(schedule.Entries))
	for _, e := range schedule.Entries {
		tod, err := ParseCivilTime(e.TimeOfDay)
		if err != nil {
			g.log().WithFields(logrus.Fields{
				"group_id": round.GroupID,
				"round_id": round.ID,
				"time":     e.TimeOfDay,
			}).Warn("skipping schedule entry with malformed time")
			continue
		}
		entries = append(entries, parsedEntry{entry: e, tod: tod})
	}
	if len(entries) == 0 {
		return nil, &ValidationError{Field: "schedule", Message: "no usable schedule entries"}
	}

	var slots []Slot
	for date := round.StartDate; date.BeforeOrEqual(round.EndDate); date = date.AddDays(1) {
		for _, pe := range entries {
			if !entryMatches(round.Frequency, pe.entry, date) {
				continue
			}
			slots = append(slots, Slot{
				ID:            SlotID(uuid.NewString()),
				RoundID:       round.ID,
				GroupID:       round.GroupID,
				Date:          date,
				Time:          pe.tod,
				ScheduleLabel: string(round.Frequency),
				Status:        SlotUpcoming,
			})
		}
	}
	return slots, nil
}

// entryMatches reports whether a schedule entry fires on the given date.
// Monthly entries whose day does not exist in the date's month simply
// never match a date in that month, which skips them as required.
func entryMatches(freq Frequency, e ScheduleEntry, date CivilDate) bool {
	switch freq {
	case FrequencyDaily:
		return true
	case FrequencyWeekly:
		wd, err := ParseWeekday(e.Weekday)
		return err == nil && date.Weekday() == wd
	case FrequencyMonthly:
		return date.DayOfMonth() == e.DayOfMonth
	default:
		return false
	}
}

func (g *SlotGenerator) log() *logrus.Logger {
	if g.Log != nil {
		return g.Log
	}
	return logrus.StandardLogger()
}
