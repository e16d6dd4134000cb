package leaderboard

import (
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotInfo describes a stored snapshot without its entries.
type SnapshotInfo struct {
	ID         string
	Period     Period
	AsOfDay    time.Time
	ComputedAt time.Time
	EntryCount int
}

// Snapshot is the current ranked view of one period, possibly truncated to
// a limit. ComputedAt is the "as of" timestamp shown to readers.
type Snapshot struct {
	SnapshotInfo
	Entries []Entry
}

// Age returns how old the snapshot is at now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.ComputedAt)
}

// Truncate returns a copy limited to the first n entries.
func (s *Snapshot) Truncate(n int) *Snapshot {
	c := *s
	if n >= 0 && n < len(s.Entries) {
		c.Entries = s.Entries[:n]
	}
	return &c
}
