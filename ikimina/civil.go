/*
civil.go - Civil calendar time for the savings engine

PURPOSE:
  Every lifecycle decision in this system (round activation, slot windows,
  lateness classification) is made against the group's civil calendar, not
  against UTC instants. This file defines the day-granularity CivilDate and
  minute-granularity CivilTime value types, the Clock seam that supplies
  "today"/"now" in one fixed timezone, and the single shared definition of
  an "occupied" saving day.

KEY CONCEPTS:
  - CivilDate: A calendar date with no time component (used for slot dates,
    round boundaries, "today" comparisons)
  - CivilTime: A time of day at minute granularity (slot times, deadlines)
  - Clock: Injectable source of Today()/Now(); production uses SystemClock
    bound to a configured *time.Location, tests use FakeClock
  - Occupied day: Whether a date counts as a saving day under a frequency
    and allowed-day set. Exactly one implementation lives here, shared by
    the cycle calculator and the slot generator.

DESIGN PRINCIPLES:
  1. One timezone: the location is configuration, never a hard-coded offset
  2. Determinism: nothing in this package calls time.Now() directly
  3. Day-granularity comparisons never leak wall-clock components

SEE ALSO:
  - cycle.go: End-date computation over occupied days
  - slots.go: Slot expansion over occupied days
  - penalty.go: Deadline arithmetic combining CivilDate + CivilTime
*/
package ikimina

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// CIVIL DATE - Calendar date, no time component
// =============================================================================

// CivilDate is a calendar date in the group's civil timezone.
// The zero value is the zero date and reports IsZero() == true.
type CivilDate struct {
	Year  int
	Month time.Month
	Day   int
}

const civilDateLayout = "2006-01-02"

func NewCivilDate(year int, month time.Month, day int) CivilDate {
	// Normalize through time.Date so Feb 30 etc. roll over consistently.
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return CivilDate{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// CivilDateOf extracts the calendar date of an instant in the given location.
func CivilDateOf(t time.Time, loc *time.Location) CivilDate {
	local := t.In(loc)
	return CivilDate{Year: local.Year(), Month: local.Month(), Day: local.Day()}
}

// ParseCivilDate parses a YYYY-MM-DD string.
func ParseCivilDate(s string) (CivilDate, error) {
	t, err := time.Parse(civilDateLayout, s)
	if err != nil {
		return CivilDate{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return CivilDate{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

func (d CivilDate) String() string { return d.toTime().Format(civilDateLayout) }

func (d CivilDate) toTime() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// Comparison
func (d CivilDate) Before(other CivilDate) bool { return d.toTime().Before(other.toTime()) }
func (d CivilDate) After(other CivilDate) bool  { return d.toTime().After(other.toTime()) }
func (d CivilDate) Equal(other CivilDate) bool  { return d == other }
func (d CivilDate) BeforeOrEqual(other CivilDate) bool {
	return d.Before(other) || d.Equal(other)
}
func (d CivilDate) AfterOrEqual(other CivilDate) bool {
	return d.After(other) || d.Equal(other)
}

// Arithmetic
func (d CivilDate) AddDays(n int) CivilDate {
	t := d.toTime().AddDate(0, 0, n)
	return CivilDate{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

func (d CivilDate) AddMonths(n int) CivilDate {
	t := d.toTime().AddDate(0, n, 0)
	return CivilDate{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// Properties
func (d CivilDate) Weekday() time.Weekday { return d.toTime().Weekday() }
func (d CivilDate) DayOfMonth() int       { return d.Day }
func (d CivilDate) IsZero() bool          { return d == CivilDate{} }

// DaysBetween returns the number of calendar days from d to other.
// Negative when other is earlier.
func (d CivilDate) DaysBetween(other CivilDate) int {
	return int(other.toTime().Sub(d.toTime()).Hours() / 24)
}

// At combines the date with a time of day into an instant in loc.
func (d CivilDate) At(t CivilTime, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, t.Hour, t.Minute, 0, 0, loc)
}

// =============================================================================
// CIVIL TIME - Time of day, minute granularity
// =============================================================================

// CivilTime is a wall-clock time of day (e.g. a slot's contribution time).
type CivilTime struct {
	Hour   int
	Minute int
}

const civilTimeLayout = "15:04"

// ParseCivilTime parses an HH:MM string. "19:00:00" is also accepted
// because some schedule entries carry seconds.
func ParseCivilTime(s string) (CivilTime, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{civilTimeLayout, "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return CivilTime{Hour: t.Hour(), Minute: t.Minute()}, nil
		}
	}
	return CivilTime{}, fmt.Errorf("invalid time of day %q", s)
}

func (t CivilTime) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// =============================================================================
// CLOCK - Injectable time source
// =============================================================================

// Clock supplies the current civil date and instant. All lifecycle decisions
// go through a Clock so ticks are deterministic under test.
type Clock interface {
	// Today returns the current date in the civil timezone.
	Today() CivilDate

	// Now returns the current instant. Callers that need a date derive it
	// with CivilDateOf(Now(), Location()).
	Now() time.Time

	// Location returns the fixed civil timezone.
	Location() *time.Location
}

// SystemClock reads the real time in a fixed location.
type SystemClock struct {
	Loc *time.Location
}

func NewSystemClock(loc *time.Location) *SystemClock {
	return &SystemClock{Loc: loc}
}

func (c *SystemClock) Today() CivilDate         { return CivilDateOf(time.Now(), c.Loc) }
func (c *SystemClock) Now() time.Time           { return time.Now().In(c.Loc) }
func (c *SystemClock) Location() *time.Location { return c.Loc }

// FakeClock is a settable clock for tests.
type FakeClock struct {
	Current time.Time
	Loc     *time.Location
}

func NewFakeClock(at time.Time, loc *time.Location) *FakeClock {
	return &FakeClock{Current: at.In(loc), Loc: loc}
}

func (c *FakeClock) Today() CivilDate         { return CivilDateOf(c.Current, c.Loc) }
func (c *FakeClock) Now() time.Time           { return c.Current.In(c.Loc) }
func (c *FakeClock) Location() *time.Location { return c.Loc }

// Advance moves the fake clock forward.
func (c *FakeClock) Advance(d time.Duration) { c.Current = c.Current.Add(d) }

// SetDate jumps the fake clock to midnight on the given date.
func (c *FakeClock) SetDate(d CivilDate) {
	c.Current = time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, c.Loc)
}

// =============================================================================
// OCCUPIED DAY - The one shared definition of a saving day
// =============================================================================

// weekdayNames maps the lowercase names accepted in allowed-day sets.
var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday resolves a weekday name (case-insensitive) to time.Weekday.
func ParseWeekday(name string) (time.Weekday, error) {
	wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("invalid weekday name %q", name)
	}
	return wd, nil
}

// isOccupied reports whether date counts as a saving day for the frequency
// and allowed-day set. Daily occupies every date. Weekly matches weekday
// names; monthly matches day-of-month values. Callers validate the allowed
// set before iterating (see ValidateAllowedDays).
func isOccupied(date CivilDate, freq Frequency, allowed AllowedDays) bool {
	switch freq {
	case FrequencyDaily:
		return true
	case FrequencyWeekly:
		for _, name := range allowed.Weekdays {
			if wd, err := ParseWeekday(name); err == nil && date.Weekday() == wd {
				return true
			}
		}
		return false
	case FrequencyMonthly:
		for _, dom := range allowed.DaysOfMonth {
			if date.DayOfMonth() == dom {
				return true
			}
		}
		return false
	default:
		return false
	}
}
