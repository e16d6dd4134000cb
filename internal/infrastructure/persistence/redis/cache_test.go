package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-engine/internal/domain/leaderboard"
	"github.com/alem-hub/study-engine/internal/domain/shared"
)

func TestConfig_Options(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "cache"
	cfg.Port = 6380
	cfg.DB = 2

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, cfg.PoolSize, opts.PoolSize)

	cfg.URL = "redis://:secret@redis.internal:6379/4"
	opts, err = cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6379", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 4, opts.DB)

	cfg.URL = "http://not-redis"
	_, err = cfg.Options()
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	c := NewCacheWithClient(nil, "study:")

	assert.Equal(t, "study:profile:u1", c.Key(ProfileKey("u1")))
	assert.Equal(t, "study:leaderboard:week", c.Key(LeaderboardKey("week")))
}

func TestSnapshotCacheForm(t *testing.T) {
	computed := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	snap := &leaderboard.Snapshot{
		SnapshotInfo: leaderboard.SnapshotInfo{
			ID:         "s1",
			Period:     leaderboard.PeriodMonth,
			AsOfDay:    time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
			ComputedAt: computed,
			EntryCount: 2,
		},
		Entries: []leaderboard.Entry{
			{Rank: 1, UserID: "b", Username: "Bota", Level: 3, TotalSeconds: 9000},
			{Rank: 2, UserID: "a", Username: "Arman", Level: 1, TotalSeconds: 60},
		},
	}

	c := snapshotToCache(snap)
	assert.Equal(t, "month", c.Period)
	require.Len(t, c.Entries, 2)
	assert.Equal(t, "b", c.Entries[0].UserID)

	back := snapshotFromCache(c)
	assert.Equal(t, snap.SnapshotInfo, back.SnapshotInfo)
	assert.Equal(t, shared.Rank(2), back.Entries[1].Rank)
	assert.Equal(t, shared.UserID("a"), back.Entries[1].UserID)
}

func TestNewProfileCache_DefaultTTL(t *testing.T) {
	c := NewCacheWithClient(nil, "study:")

	assert.Equal(t, time.Minute, NewProfileCache(c, 0).ttl)
	assert.Equal(t, 30*time.Second, NewProfileCache(c, 30*time.Second).ttl)
}
