// Package timeutil provides calendar-day helpers for the study engine.
// The engine's canonical calendar is UTC: a "day" is the interval between
// two consecutive UTC midnights, and a session belongs to the day its start
// time falls in.
package timeutil

import (
	"fmt"
	"time"
)

// Common date/time formats.
const (
	// FormatDate is the standard date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatDateTime is the standard datetime format.
	FormatDateTime = "2006-01-02 15:04"
)

// Clock returns the current time. Components take a Clock so tests can pin it.
type Clock func() time.Time

// SystemClock returns the wall clock in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// FixedClock returns a Clock that always reports t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// Date creates a UTC midnight for the given date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// StartOfDay returns UTC midnight of the day t falls in.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Today returns the current UTC calendar day.
func Today(clock Clock) time.Time {
	if clock == nil {
		clock = SystemClock
	}
	return StartOfDay(clock())
}

// AddDays shifts a calendar day by n days.
func AddDays(day time.Time, n int) time.Time {
	return StartOfDay(day).AddDate(0, 0, n)
}

// IsConsecutiveDay checks if t2 is the day after t1.
func IsConsecutiveDay(t1, t2 time.Time) bool {
	return AddDays(t1, 1).Equal(StartOfDay(t2))
}

// DaysBetween returns the signed number of calendar days from t1 to t2.
func DaysBetween(t1, t2 time.Time) int {
	d := StartOfDay(t2).Sub(StartOfDay(t1))
	return int(d.Hours() / 24)
}

// FormatDay formats a calendar day as YYYY-MM-DD.
func FormatDay(t time.Time) string {
	return StartOfDay(t).Format(FormatDate)
}

// ParseDay parses YYYY-MM-DD into a UTC midnight.
func ParseDay(value string) (time.Time, error) {
	t, err := time.ParseInLocation(FormatDate, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", value, err)
	}
	return t, nil
}

// DayRange returns every calendar day in [from, to], oldest first.
// An inverted range yields nil.
func DayRange(from, to time.Time) []time.Time {
	from, to = StartOfDay(from), StartOfDay(to)
	if to.Before(from) {
		return nil
	}
	days := make([]time.Time, 0, DaysBetween(from, to)+1)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
