package progress

import (
	"time"

	"github.com/alem-hub/study-engine/pkg/timeutil"
)

// StreakOutcome is the streak decision for one session.
type StreakOutcome int

const (
	// StreakUnchanged: the day already had a session.
	StreakUnchanged StreakOutcome = iota
	// StreakStarted: first session ever.
	StreakStarted
	// StreakExtended: the previous active day was yesterday.
	StreakExtended
	// StreakReset: there was a gap since the previous active day.
	StreakReset
)

// String returns the string representation of the outcome.
func (o StreakOutcome) String() string {
	switch o {
	case StreakUnchanged:
		return "unchanged"
	case StreakStarted:
		return "started"
	case StreakExtended:
		return "extended"
	case StreakReset:
		return "reset"
	default:
		return "unknown"
	}
}

// DecideStreak picks the streak transition for the first session on day.
// latestBefore is the most recent active day strictly before day, or nil
// when there is none.
func DecideStreak(day time.Time, latestBefore *time.Time) StreakOutcome {
	if latestBefore == nil {
		return StreakStarted
	}
	if timeutil.IsConsecutiveDay(*latestBefore, day) {
		return StreakExtended
	}
	return StreakReset
}

// DecideFirstOfDay combines the "already active today" check with
// DecideStreak. A session for a day older than the latest active day is
// decided the same way, against the days before its own.
func DecideFirstOfDay(day time.Time, hasToday bool, latestBefore *time.Time) StreakOutcome {
	if hasToday {
		return StreakUnchanged
	}
	return DecideStreak(day, latestBefore)
}
