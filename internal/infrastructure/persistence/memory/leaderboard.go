package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/study-engine/internal/domain/leaderboard"
	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/pkg/timeutil"
)

// ReplaceSnapshot implements leaderboard.Repository. The ranking is built
// from a read-locked view of the summaries and swapped in under the write
// lock, so readers see either the old or the new snapshot.
func (s *Store) ReplaceSnapshot(ctx context.Context, period leaderboard.Period, asOfDay, computedAt time.Time) (*leaderboard.SnapshotInfo, error) {
	if !period.IsValid() {
		return nil, shared.ErrInvalidPeriod
	}
	asOfDay = timeutil.StartOfDay(asOfDay)

	s.mu.RLock()
	totals := make([]leaderboard.UserTotal, 0, len(s.profiles))
	for userID, p := range s.profiles {
		if !p.ShowInLeaderboard {
			continue
		}
		var sum int64
		for _, ds := range s.summaries[userID] {
			if period.Contains(asOfDay, ds.Date) {
				sum += ds.TotalSeconds
			}
		}
		totals = append(totals, leaderboard.UserTotal{
			UserID:       userID,
			Username:     p.Username,
			Level:        p.Level,
			TotalSeconds: sum,
		})
	}
	s.mu.RUnlock()

	snap := &leaderboard.Snapshot{
		SnapshotInfo: leaderboard.SnapshotInfo{
			ID:         uuid.New().String(),
			Period:     period,
			AsOfDay:    asOfDay,
			ComputedAt: computedAt.UTC(),
		},
		Entries: leaderboard.Rank(totals),
	}
	snap.EntryCount = len(snap.Entries)

	if s.beforeSwap != nil {
		if err := s.beforeSwap(ctx, period); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.snapshots[period]; ok && !cur.ComputedAt.Before(snap.ComputedAt) {
		info := cur.SnapshotInfo
		return &info, nil
	}
	s.snapshots[period] = snap

	info := snap.SnapshotInfo
	return &info, nil
}

// Current implements leaderboard.Repository.
func (s *Store) Current(_ context.Context, period leaderboard.Period, limit int) (*leaderboard.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cur, ok := s.snapshots[period]
	if !ok {
		return nil, shared.ErrSnapshotNotFound
	}

	n := len(cur.Entries)
	if limit >= 0 && limit < n {
		n = limit
	}
	entries := make([]leaderboard.Entry, n)
	copy(entries, cur.Entries[:n])

	return &leaderboard.Snapshot{SnapshotInfo: cur.SnapshotInfo, Entries: entries}, nil
}

// UserEntry implements leaderboard.Repository.
func (s *Store) UserEntry(_ context.Context, period leaderboard.Period, userID shared.UserID) (*leaderboard.Entry, *leaderboard.SnapshotInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cur, ok := s.snapshots[period]
	if !ok {
		return nil, nil, shared.ErrSnapshotNotFound
	}
	for i := range cur.Entries {
		if cur.Entries[i].UserID == userID {
			e := cur.Entries[i]
			info := cur.SnapshotInfo
			return &e, &info, nil
		}
	}
	return nil, nil, shared.ErrEntryNotFound
}
