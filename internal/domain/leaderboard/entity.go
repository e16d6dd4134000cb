// Package leaderboard contains the domain model of the materialized
// leaderboards: trailing-window periods, ranked entries, snapshots and the
// materializer state machine.
package leaderboard

import (
	"sort"
	"strings"
	"time"

	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PERIOD
// ══════════════════════════════════════════════════════════════════════════════

// Period is a trailing window over daily summaries.
type Period string

const (
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// AllPeriods lists every period in refresh order.
var AllPeriods = []Period{PeriodWeek, PeriodMonth, PeriodYear}

// ParsePeriod parses a period name.
func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", shared.ErrInvalidPeriod
	}
	return p, nil
}

// IsValid checks the period is known.
func (p Period) IsValid() bool {
	return p.Days() > 0
}

// Days returns the window length in calendar days.
func (p Period) Days() int {
	switch p {
	case PeriodWeek:
		return 7
	case PeriodMonth:
		return 30
	case PeriodYear:
		return 365
	default:
		return 0
	}
}

// String returns the string representation.
func (p Period) String() string {
	return string(p)
}

// WindowStart returns the first day of the window ending on asOfDay.
// The window is [asOfDay-(Days-1), asOfDay], inclusive of asOfDay.
func (p Period) WindowStart(asOfDay time.Time) time.Time {
	return timeutil.AddDays(asOfDay, -(p.Days() - 1))
}

// Contains reports whether day falls inside the window ending on asOfDay.
func (p Period) Contains(asOfDay, day time.Time) bool {
	d := timeutil.StartOfDay(day)
	return !d.Before(p.WindowStart(asOfDay)) && !d.After(timeutil.StartOfDay(asOfDay))
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// Entry is one ranked row of a snapshot. Username and Level are copied from
// the profile at refresh time for display.
type Entry struct {
	Rank         shared.Rank
	UserID       shared.UserID
	Username     string
	Level        shared.Level
	TotalSeconds int64
}

// UserTotal is one user's windowed sum before ranking.
type UserTotal struct {
	UserID       shared.UserID
	Username     string
	Level        shared.Level
	TotalSeconds int64
}

// Rank orders totals by TotalSeconds descending with UserID ascending as the
// tie-break, and numbers them 1..n. Zero totals are dropped.
func Rank(totals []UserTotal) []Entry {
	filtered := make([]UserTotal, 0, len(totals))
	for _, t := range totals {
		if t.TotalSeconds > 0 {
			filtered = append(filtered, t)
		}
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].TotalSeconds != filtered[j].TotalSeconds {
			return filtered[i].TotalSeconds > filtered[j].TotalSeconds
		}
		return filtered[i].UserID < filtered[j].UserID
	})

	entries := make([]Entry, len(filtered))
	for i, t := range filtered {
		entries[i] = Entry{
			Rank:         shared.Rank(i + 1),
			UserID:       t.UserID,
			Username:     t.Username,
			Level:        t.Level,
			TotalSeconds: t.TotalSeconds,
		}
	}
	return entries
}
