package query

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-engine/internal/domain/leaderboard"
	"github.com/alem-hub/study-engine/internal/domain/progress"
	"github.com/alem-hub/study-engine/internal/domain/session"
	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/study-engine/pkg/circuitbreaker"
	"github.com/alem-hub/study-engine/pkg/logger"
	"github.com/alem-hub/study-engine/pkg/timeutil"
)

var day0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

// addStudy applies one session directly through the store.
func addStudy(t *testing.T, store *memory.Store, userID string, day time.Time, seconds int64) {
	t.Helper()
	s, err := session.NewCompletedSession(session.Input{
		SessionID: uuid.NewString(),
		UserID:    userID,
		SubjectID: "math",
		StartedAt: day.Add(9 * time.Hour),
		EndedAt:   day.Add(9*time.Hour + time.Duration(seconds)*time.Second),
	}, session.DefaultRules())
	require.NoError(t, err)

	err = store.WithinUserLock(context.Background(), s.UserID, func(ctx context.Context, uow progress.UnitOfWork) error {
		if _, err := uow.RecordSession(ctx, s); err != nil {
			return err
		}
		p, err := uow.LoadProfileForUpdate(ctx, s.UserID)
		if err != nil {
			return err
		}
		p.ApplyXP(seconds, shared.DefaultLevelPolicy())
		p.ApplyStreak(progress.StreakStarted, s.Day())
		if _, err := uow.UpsertAddSummary(ctx, s.UserID, s.Day(), seconds); err != nil {
			return err
		}
		return uow.SaveProfile(ctx, p)
	})
	require.NoError(t, err)
}

// ──────────────────────────────────────────────────────────────────────────────
// profile
// ──────────────────────────────────────────────────────────────────────────────

type mapProfileCache struct {
	mu       sync.Mutex
	items    map[shared.UserID]*progress.Profile
	err      error
	gets     int
	sets     int
	invalids int
}

func newMapProfileCache() *mapProfileCache {
	return &mapProfileCache{items: make(map[shared.UserID]*progress.Profile)}
}

func (c *mapProfileCache) GetProfile(_ context.Context, id shared.UserID) (*progress.Profile, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.err != nil {
		return nil, false, c.err
	}
	p, ok := c.items[id]
	return p, ok, nil
}

func (c *mapProfileCache) SetProfile(_ context.Context, p *progress.Profile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if c.err != nil {
		return c.err
	}
	c.items[p.UserID] = p.Clone()
	return nil
}

func (c *mapProfileCache) InvalidateProfile(_ context.Context, id shared.UserID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalids++
	delete(c.items, id)
	return nil
}

func TestGetProfile_CacheAside(t *testing.T) {
	store := memory.NewStore()
	addStudy(t, store, "u1", day0, 5400)
	cache := newMapProfileCache()
	h := NewGetProfileHandler(store, cache, nil, shared.DefaultLevelPolicy(), logger.Nop())

	dto, err := h.Handle(context.Background(), GetProfileQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 2, dto.Level)
	assert.Equal(t, int64(1800), dto.XPIntoLevel)
	assert.Equal(t, int64(1800), dto.XPToNextLevel)
	require.NotNil(t, dto.LastActiveDay)
	assert.Equal(t, day0, *dto.LastActiveDay)
	assert.Equal(t, 1, cache.sets)

	_, err = h.Handle(context.Background(), GetProfileQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets, "second read is served from the cache")

	_, err = h.Handle(context.Background(), GetProfileQuery{UserID: "nobody"})
	assert.True(t, shared.IsNotFound(err))
}

func TestGetProfile_BrokenCacheFallsBackToStore(t *testing.T) {
	store := memory.NewStore()
	addStudy(t, store, "u1", day0, 60)
	cache := newMapProfileCache()
	cache.err = errors.New("connection refused")
	breaker := circuitbreaker.New("test", circuitbreaker.WithFailureThreshold(2), circuitbreaker.WithCoolDown(time.Hour))
	h := NewGetProfileHandler(store, cache, breaker, shared.DefaultLevelPolicy(), logger.Nop())

	for i := 0; i < 4; i++ {
		dto, err := h.Handle(context.Background(), GetProfileQuery{UserID: "u1"})
		require.NoError(t, err)
		assert.Equal(t, int64(60), dto.XPTotal)
	}
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())
	assert.Equal(t, 1, cache.gets, "open breaker stops calling the cache")
	assert.Equal(t, 1, cache.sets)
}

// ──────────────────────────────────────────────────────────────────────────────
// daily summaries
// ──────────────────────────────────────────────────────────────────────────────

func TestGetDailySummaries(t *testing.T) {
	store := memory.NewStore()
	addStudy(t, store, "u1", day0, 60)
	addStudy(t, store, "u1", day0.AddDate(0, 0, 2), 120)
	h := NewGetDailySummariesHandler(store)

	dto, err := h.Handle(context.Background(), GetDailySummariesQuery{UserID: "u1", From: day0, To: day0.AddDate(0, 0, 3)})
	require.NoError(t, err)
	require.Len(t, dto.Days, 2)
	assert.Equal(t, int64(180), dto.TotalSeconds)
	assert.Equal(t, 2, dto.ActiveDays)

	dto, err = h.Handle(context.Background(), GetDailySummariesQuery{UserID: "u1", From: day0, To: day0.AddDate(0, 0, 3), FillGaps: true})
	require.NoError(t, err)
	require.Len(t, dto.Days, 4)
	assert.Equal(t, int64(0), dto.Days[1].TotalSeconds)
	assert.Equal(t, int64(120), dto.Days[2].TotalSeconds)
}

func TestGetDailySummaries_RejectsBadRanges(t *testing.T) {
	h := NewGetDailySummariesHandler(memory.NewStore())

	tests := []struct {
		name string
		q    GetDailySummariesQuery
	}{
		{"inverted", GetDailySummariesQuery{UserID: "u1", From: day0, To: day0.AddDate(0, 0, -1)}},
		{"too long", GetDailySummariesQuery{UserID: "u1", From: day0, To: day0.AddDate(0, 0, progress.MaxSummaryRange)}},
		{"missing bound", GetDailySummariesQuery{UserID: "u1", From: day0}},
		{"missing user", GetDailySummariesQuery{From: day0, To: day0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Handle(context.Background(), tt.q)
			assert.True(t, shared.IsValidation(err), "got %v", err)
		})
	}

	_, err := h.Handle(context.Background(), GetDailySummariesQuery{UserID: "u1", From: day0, To: day0.AddDate(0, 0, progress.MaxSummaryRange-1)})
	assert.NoError(t, err)
}

// ──────────────────────────────────────────────────────────────────────────────
// leaderboard
// ──────────────────────────────────────────────────────────────────────────────

type mapSnapshotCache struct {
	mu    sync.Mutex
	items map[leaderboard.Period]*leaderboard.Snapshot
	sets  int
}

func (c *mapSnapshotCache) GetSnapshot(_ context.Context, p leaderboard.Period) (*leaderboard.Snapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.items[p]
	return s, ok, nil
}

func (c *mapSnapshotCache) SetSnapshot(_ context.Context, s *leaderboard.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.items[s.Period] = s
	return nil
}

func (c *mapSnapshotCache) InvalidatePeriod(_ context.Context, p leaderboard.Period) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, p)
	return nil
}

type fixedStatus leaderboard.RefreshStatus

func (s fixedStatus) Status(leaderboard.Period) leaderboard.RefreshStatus {
	return leaderboard.RefreshStatus(s)
}

func seedLeaderboard(t *testing.T) (*memory.Store, time.Time) {
	t.Helper()
	store := memory.NewStore()
	addStudy(t, store, "a", day0, 300)
	addStudy(t, store, "b", day0, 900)
	addStudy(t, store, "c", day0, 600)

	computed := day0.Add(10 * time.Hour)
	_, err := store.ReplaceSnapshot(context.Background(), leaderboard.PeriodWeek, day0, computed)
	require.NoError(t, err)
	return store, computed
}

func TestGetLeaderboard_LimitAndCache(t *testing.T) {
	store, computed := seedLeaderboard(t)
	cache := &mapSnapshotCache{items: make(map[leaderboard.Period]*leaderboard.Snapshot)}
	h := NewGetLeaderboardHandler(store, cache, nil, nil, LeaderboardReadConfig{
		DefaultLimit: 2,
		MaxLimit:     10,
		Clock:        timeutil.FixedClock(computed.Add(time.Minute)),
	}, logger.Nop())

	dto, err := h.Handle(context.Background(), GetLeaderboardQuery{Period: "week"})
	require.NoError(t, err)
	require.Len(t, dto.Entries, 2)
	assert.Equal(t, shared.UserID("b"), dto.Entries[0].UserID)
	assert.Equal(t, shared.UserID("c"), dto.Entries[1].UserID)
	assert.Equal(t, 3, dto.TotalCount)
	assert.Equal(t, computed, dto.AsOf)
	assert.False(t, dto.Stale)

	dto, err = h.Handle(context.Background(), GetLeaderboardQuery{Period: "WEEK", Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, dto.Entries, 3)
	assert.Equal(t, 1, cache.sets, "the full snapshot is cached once and truncated per request")

	assert.Equal(t, 2, h.ClampLimit(0))
	assert.Equal(t, 2, h.ClampLimit(-5))
	assert.Equal(t, 10, h.ClampLimit(11))
	assert.Equal(t, 1, h.ClampLimit(1))
}

func TestGetLeaderboard_Staleness(t *testing.T) {
	store, computed := seedLeaderboard(t)

	failing := fixedStatus{
		Period:          leaderboard.PeriodWeek,
		State:           leaderboard.StateFailed,
		LastRefreshedAt: computed,
		LastFailedAt:    computed.Add(time.Hour),
		LastError:       "refresh timeout",
	}
	h := NewGetLeaderboardHandler(store, nil, nil, failing, LeaderboardReadConfig{
		Clock: timeutil.FixedClock(computed.Add(time.Hour)),
	}, logger.Nop())

	dto, err := h.Handle(context.Background(), GetLeaderboardQuery{Period: "week"})
	require.NoError(t, err)
	assert.True(t, dto.Stale)
	assert.Equal(t, "refresh timeout", dto.LastError)

	aged := NewGetLeaderboardHandler(store, nil, nil, nil, LeaderboardReadConfig{
		StaleAfter: 2 * time.Hour,
		Clock:      timeutil.FixedClock(computed.Add(3 * time.Hour)),
	}, logger.Nop())
	dto, err = aged.Handle(context.Background(), GetLeaderboardQuery{Period: "week"})
	require.NoError(t, err)
	assert.True(t, dto.Stale)
	assert.Empty(t, dto.LastError)
}

func TestGetLeaderboard_Errors(t *testing.T) {
	store, _ := seedLeaderboard(t)
	h := NewGetLeaderboardHandler(store, nil, nil, nil, LeaderboardReadConfig{}, logger.Nop())

	_, err := h.Handle(context.Background(), GetLeaderboardQuery{Period: "decade"})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(context.Background(), GetLeaderboardQuery{Period: "month"})
	assert.True(t, shared.IsNotFound(err))
}

func TestGetUserRank(t *testing.T) {
	store, computed := seedLeaderboard(t)
	h := NewGetUserRankHandler(store)

	dto, err := h.Handle(context.Background(), GetUserRankQuery{Period: "week", UserID: "c"})
	require.NoError(t, err)
	assert.Equal(t, shared.Rank(2), dto.Entry.Rank)
	assert.Equal(t, int64(600), dto.Entry.TotalSeconds)
	assert.Equal(t, 3, dto.TotalCount)
	assert.Equal(t, computed, dto.AsOf)

	_, err = h.Handle(context.Background(), GetUserRankQuery{Period: "week", UserID: "zed"})
	assert.True(t, shared.IsNotFound(err))
}
