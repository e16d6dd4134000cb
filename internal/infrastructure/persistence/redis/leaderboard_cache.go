package redis

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/study-engine/internal/domain/leaderboard"
	"github.com/alem-hub/study-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardCache implements leaderboard.Cache.
//
// Each period's current snapshot is stored whole under "leaderboard:{period}"
// as one JSON value, so a reader never sees the header of one snapshot with
// the entries of another.
type LeaderboardCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewLeaderboardCache creates a new LeaderboardCache instance.
func NewLeaderboardCache(cache *Cache, ttl time.Duration) *LeaderboardCache {
	if ttl <= 0 {
		ttl = TTLLeaderboardCache
	}
	return &LeaderboardCache{cache: cache, ttl: ttl}
}

// cachedEntry is the JSON form of leaderboard.Entry.
type cachedEntry struct {
	Rank         int    `json:"rank"`
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	Level        int    `json:"level"`
	TotalSeconds int64  `json:"total_seconds"`
}

// cachedSnapshot is the JSON form of leaderboard.Snapshot.
type cachedSnapshot struct {
	ID         string        `json:"id"`
	Period     string        `json:"period"`
	AsOfDay    time.Time     `json:"as_of_day"`
	ComputedAt time.Time     `json:"computed_at"`
	EntryCount int           `json:"entry_count"`
	Entries    []cachedEntry `json:"entries"`
}

func snapshotToCache(s *leaderboard.Snapshot) cachedSnapshot {
	out := cachedSnapshot{
		ID:         s.ID,
		Period:     s.Period.String(),
		AsOfDay:    s.AsOfDay,
		ComputedAt: s.ComputedAt,
		EntryCount: s.EntryCount,
		Entries:    make([]cachedEntry, len(s.Entries)),
	}
	for i, e := range s.Entries {
		out.Entries[i] = cachedEntry{
			Rank:         int(e.Rank),
			UserID:       e.UserID.String(),
			Username:     e.Username,
			Level:        e.Level.Int(),
			TotalSeconds: e.TotalSeconds,
		}
	}
	return out
}

func snapshotFromCache(c cachedSnapshot) *leaderboard.Snapshot {
	s := &leaderboard.Snapshot{
		SnapshotInfo: leaderboard.SnapshotInfo{
			ID:         c.ID,
			Period:     leaderboard.Period(c.Period),
			AsOfDay:    c.AsOfDay.UTC(),
			ComputedAt: c.ComputedAt.UTC(),
			EntryCount: c.EntryCount,
		},
		Entries: make([]leaderboard.Entry, len(c.Entries)),
	}
	for i, e := range c.Entries {
		s.Entries[i] = leaderboard.Entry{
			Rank:         shared.Rank(e.Rank),
			UserID:       shared.UserID(e.UserID),
			Username:     e.Username,
			Level:        shared.Level(e.Level),
			TotalSeconds: e.TotalSeconds,
		}
	}
	return s
}

// GetSnapshot implements leaderboard.Cache.
func (l *LeaderboardCache) GetSnapshot(ctx context.Context, period leaderboard.Period) (*leaderboard.Snapshot, bool, error) {
	var c cachedSnapshot
	err := l.cache.Get(ctx, LeaderboardKey(period.String()), &c)
	if errors.Is(err, ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return snapshotFromCache(c), true, nil
}

// SetSnapshot implements leaderboard.Cache.
func (l *LeaderboardCache) SetSnapshot(ctx context.Context, snap *leaderboard.Snapshot) error {
	if snap == nil {
		return ErrCacheNilValue
	}
	return l.cache.Set(ctx, LeaderboardKey(snap.Period.String()), snapshotToCache(snap), l.ttl)
}

// InvalidatePeriod implements leaderboard.Cache.
func (l *LeaderboardCache) InvalidatePeriod(ctx context.Context, period leaderboard.Period) error {
	return l.cache.DeleteByPattern(ctx, LeaderboardKey(period.String())+"*")
}

var _ leaderboard.Cache = (*LeaderboardCache)(nil)
