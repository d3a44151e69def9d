/*
cycle.go - Cycle length calculation

PURPOSE:
  Computes a round's end date from its start date, frequency, allowed-day
  set and target cycle count. Round length is intentionally tied to the
  group's chosen saving days rather than to fixed calendar weeks/months:
  a group saving on two weekdays per week completes N cycles in roughly
  half the calendar weeks of a group saving on one.

ALGORITHM:
  Walk the calendar day by day from the start date, counting days that are
  occupied under the frequency/allowed-day set (see civil.go). The cycle
  count IS the number of occupied saving-days the round must contain; the
  date on which the count is reached is the end date.

GUARDS:
  A hard iteration bound (366 days) prevents unbounded walks; if no
  occupied day is found within it the configuration is broken and
  ErrNoMatchingDay is returned, never a silent default.

SEE ALSO:
  - slots.go: Uses the same occupied-day definition to expand slots
  - engine.go: CreateRound/EditRound call ComputeEndDate
*/
package ikimina

import "fmt"

// maxCycleScanDays bounds the calendar walk. A year of days is enough for
// any sane configuration; exhausting it means the allowed-day set can
// never reach the cycle count (e.g. a monthly round of 13+ cycles on a
// single day-of-month).
const maxCycleScanDays = 366

// ValidateAllowedDays checks that the allowed-day set is usable for the
// frequency: weekly needs at least one valid weekday name, monthly at
// least one day-of-month in 1..31. Daily ignores the set.
func ValidateAllowedDays(freq Frequency, allowed AllowedDays) error {
	switch freq {
	case FrequencyDaily:
		return nil
	case FrequencyWeekly:
		if len(allowed.Weekdays) == 0 {
			return &ValidationError{Field: "allowed_days", Message: "weekly round needs at least one weekday"}
		}
		for _, name := range allowed.Weekdays {
			if _, err := ParseWeekday(name); err != nil {
				return &ValidationError{Field: "allowed_days", Message: err.Error()}
			}
		}
		return nil
	case FrequencyMonthly:
		if len(allowed.DaysOfMonth) == 0 {
			return &ValidationError{Field: "allowed_days", Message: "monthly round needs at least one day of month"}
		}
		for _, dom := range allowed.DaysOfMonth {
			if dom < 1 || dom > 31 {
				return &ValidationError{Field: "allowed_days", Message: fmt.Sprintf("day of month %d out of range 1-31", dom)}
			}
		}
		return nil
	default:
		return &ValidationError{Field: "frequency", Message: fmt.Sprintf("unknown frequency %q", freq)}
	}
}

// ComputeEndDate returns the date on which a round started at start
// completes cycleCount cycles. Pure calendar arithmetic, no I/O.
func ComputeEndDate(start CivilDate, freq Frequency, allowed AllowedDays, cycleCount int) (CivilDate, error) {
	if cycleCount < 1 {
		return CivilDate{}, &ValidationError{Field: "cycle_count", Message: "must be at least 1"}
	}
	if err := ValidateAllowedDays(freq, allowed); err != nil {
		return CivilDate{}, err
	}

	occupied := 0
	day := start
	for i := 0; i < maxCycleScanDays; i++ {
		if isOccupied(day, freq, allowed) {
			occupied++
			if occupied == cycleCount {
				return day, nil
			}
		}
		day = day.AddDays(1)
	}
	return CivilDate{}, fmt.Errorf("%w: scanned %d days from %s", ErrNoMatchingDay, maxCycleScanDays, start)
}
