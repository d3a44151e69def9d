/*
projector.go - Slot status projection

PURPOSE:
  Recomputes each slot's display status (upcoming / pending / passed)
  relative to the civil date and the owning round's state. The projection
  is a pure function of (slot, round status, today, frequency anchor) with
  no hidden state, so it is safe to re-run on every tick; persistence is
  write-if-changed to skip no-op writes.

WINDOW SEMANTICS:
  daily:   pending exactly on the slot's date
  weekly:  pending inside the current saving week, a 7-day window starting
           at the group's anchor weekday on or before today
  monthly: pending inside the current saving month, the window starting at
           the group's anchor day-of-month on or before today and ending
           the day before that day recurs

  Slots of an upcoming round stay upcoming (dates already behind today are
  settled to passed defensively). Slots of a completed round all settle to
  passed and are not recomputed thereafter.

SEE ALSO:
  - lifecycle.go: Runs before projection within a group's tick
  - civil.go: Date arithmetic
*/
package ikimina

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// ProjectStatus returns the status a slot should display today. Pure.
func ProjectStatus(slot Slot, round Round, today CivilDate) SlotStatus {
	switch round.Status {
	case RoundCompleted:
		return SlotPassed

	case RoundUpcoming:
		// Defensive: an upcoming round should not own past-dated slots.
		if slot.Date.Before(today) {
			return SlotPassed
		}
		return SlotUpcoming

	case RoundActive:
		window := savingWindow(round, today)
		switch {
		case slot.Date.Before(window.start):
			return SlotPassed
		case slot.Date.After(window.end):
			return SlotUpcoming
		default:
			return SlotPending
		}
	}
	return slot.Status
}

type dateWindow struct {
	start CivilDate
	end   CivilDate
}

// savingWindow returns the current pending window for an active round.
func savingWindow(round Round, today CivilDate) dateWindow {
	switch round.Frequency {
	case FrequencyWeekly:
		anchor := anchorWeekdayOnOrBefore(today, round.AllowedDays.Weekdays)
		return dateWindow{start: anchor, end: anchor.AddDays(6)}
	case FrequencyMonthly:
		anchor := anchorDayOfMonthOnOrBefore(today, round.AllowedDays.DaysOfMonth)
		return dateWindow{start: anchor, end: anchor.AddMonths(1).AddDays(-1)}
	default:
		// Daily: the window is today alone.
		return dateWindow{start: today, end: today}
	}
}

// anchorWeekdayOnOrBefore walks back at most a week to the group's anchor
// weekday (the first configured allowed weekday). With no valid weekday
// configured the anchor degrades to today.
func anchorWeekdayOnOrBefore(today CivilDate, weekdays []string) CivilDate {
	var anchor time.Weekday
	found := false
	for _, name := range weekdays {
		if wd, err := ParseWeekday(name); err == nil {
			anchor = wd
			found = true
			break
		}
	}
	if !found {
		return today
	}
	d := today
	for i := 0; i < 7; i++ {
		if d.Weekday() == anchor {
			return d
		}
		d = d.AddDays(-1)
	}
	return today
}

// anchorDayOfMonthOnOrBefore walks back at most two months to the group's
// anchor day-of-month (the first configured day). Months too short for the
// anchor day are stepped over.
func anchorDayOfMonthOnOrBefore(today CivilDate, daysOfMonth []int) CivilDate {
	if len(daysOfMonth) == 0 {
		return today
	}
	dom := daysOfMonth[0]
	d := today
	for i := 0; i < 62; i++ {
		if d.DayOfMonth() == dom {
			return d
		}
		d = d.AddDays(-1)
	}
	return today
}

// =============================================================================
// PROJECTOR - Applies the projection through the slot store
// =============================================================================

// Projector recomputes and persists slot statuses for a round.
type Projector struct {
	Slots SlotStore
	Log   *logrus.Logger
}

// ProjectRound projects every slot of the round against today and writes
// only the statuses that changed. Returns the number of updates written.
func (p *Projector) ProjectRound(ctx context.Context, round Round, today CivilDate) (int, error) {
	slots, err := p.Slots.ListSlotsByRound(ctx, round.ID)
	if err != nil {
		return 0, &TransientError{Op: "slots.list", Err: err}
	}

	updated := 0
	for _, slot := range slots {
		// Completed rounds settle once; already-passed slots are final.
		if round.Status == RoundCompleted && slot.Status == SlotPassed {
			continue
		}
		next := ProjectStatus(slot, round, today)
		if next == slot.Status {
			continue
		}
		if err := p.Slots.UpdateSlotStatus(ctx, slot.ID, next); err != nil {
			return updated, &TransientError{Op: "slots.update_status", Err: err}
		}
		p.log().WithFields(logrus.Fields{
			"round_id": round.ID,
			"slot_id":  slot.ID,
			"date":     slot.Date.String(),
			"from":     slot.Status,
			"to":       next,
		}).Debug("slot status projected")
		updated++
	}
	return updated, nil
}

func (p *Projector) log() *logrus.Logger {
	if p.Log != nil {
		return p.Log
	}
	return logrus.StandardLogger()
}
