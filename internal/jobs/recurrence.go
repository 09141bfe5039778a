package jobs

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(ms) != 2 || len(hs) < 1 || len(hs) > 2 {
		return 0, 0, fmt.Errorf("%w: time of day %q, want HH:MM", ErrInvalid, s)
	}
	hour, err1 := strconv.Atoi(hs)
	minute, err2 := strconv.Atoi(ms)
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: time of day %q out of range", ErrInvalid, s)
	}
	return hour, minute, nil
}

// ValidateRule checks that anchor carries what recurrence needs.
func ValidateRule(r Recurrence, a Anchor) error {
	switch r {
	case Once:
		if a.At.IsZero() {
			return fmt.Errorf("%w: once job needs anchor.at", ErrInvalid)
		}
		return nil
	case Daily, Weekly, Monthly:
	default:
		return fmt.Errorf("%w: recurrence %q", ErrInvalid, r)
	}
	if _, _, err := ParseTimeOfDay(a.TimeOfDay); err != nil {
		return err
	}
	switch r {
	case Weekly:
		if a.Weekday < time.Sunday || a.Weekday > time.Saturday {
			return fmt.Errorf("%w: weekday %d", ErrInvalid, a.Weekday)
		}
	case Monthly:
		if a.DayOfMonth < 1 || a.DayOfMonth > 31 {
			return fmt.Errorf("%w: day_of_month %d", ErrInvalid, a.DayOfMonth)
		}
	}
	return nil
}

// NextAfter returns the earliest slot of the rule strictly after now, in loc.
// A once job returns its At if still in the future, otherwise nil.
func NextAfter(r Recurrence, a Anchor, now time.Time, loc *time.Location) (*time.Time, error) {
	if err := ValidateRule(r, a); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	if r == Once {
		if a.At.After(now) {
			at := a.At
			return &at, nil
		}
		return nil, nil
	}

	hour, minute, _ := ParseTimeOfDay(a.TimeOfDay)
	local := now.In(loc)
	y, m, d := local.Date()

	var next time.Time
	switch r {
	case Daily:
		next = time.Date(y, m, d, hour, minute, 0, 0, loc)
		if !next.After(now) {
			next = time.Date(y, m, d+1, hour, minute, 0, 0, loc)
		}
	case Weekly:
		ahead := (int(a.Weekday) - int(local.Weekday()) + 7) % 7
		next = time.Date(y, m, d+ahead, hour, minute, 0, 0, loc)
		if !next.After(now) {
			next = time.Date(y, m, d+ahead+7, hour, minute, 0, 0, loc)
		}
	case Monthly:
		next = monthlySlot(y, m, a.DayOfMonth, hour, minute, loc)
		if !next.After(now) {
			next = monthlySlot(y, m+1, a.DayOfMonth, hour, minute, loc)
		}
	}
	return &next, nil
}

// monthlySlot clamps day to the last day of month m (m may overflow into the next year).
func monthlySlot(y int, m time.Month, day, hour, minute int, loc *time.Location) time.Time {
	first := time.Date(y, m, 1, 0, 0, 0, 0, loc)
	last := first.AddDate(0, 1, -1).Day()
	return time.Date(first.Year(), first.Month(), min(day, last), hour, minute, 0, 0, loc)
}
