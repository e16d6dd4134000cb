package leaderboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/pkg/timeutil"
)

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod(" Week ")
	require.NoError(t, err)
	assert.Equal(t, PeriodWeek, p)

	_, err = ParsePeriod("decade")
	assert.ErrorIs(t, err, shared.ErrInvalidPeriod)
}

func TestPeriod_Window(t *testing.T) {
	asOf := timeutil.Date(2026, 3, 10)

	assert.Equal(t, timeutil.Date(2026, 3, 4), PeriodWeek.WindowStart(asOf))
	assert.True(t, PeriodWeek.Contains(asOf, asOf))
	assert.True(t, PeriodWeek.Contains(asOf, timeutil.Date(2026, 3, 4)))
	assert.False(t, PeriodWeek.Contains(asOf, timeutil.Date(2026, 3, 3)))
	assert.False(t, PeriodWeek.Contains(asOf, timeutil.Date(2026, 3, 11)))

	assert.Equal(t, 30, PeriodMonth.Days())
	assert.Equal(t, 365, PeriodYear.Days())
}

func TestRank_OrderAndTieBreak(t *testing.T) {
	entries := Rank([]UserTotal{
		{UserID: "carol", TotalSeconds: 600},
		{UserID: "bob", TotalSeconds: 900},
		{UserID: "alice", TotalSeconds: 600},
		{UserID: "idle", TotalSeconds: 0},
	})

	require.Len(t, entries, 3)
	assert.Equal(t, shared.UserID("bob"), entries[0].UserID)
	assert.Equal(t, shared.UserID("alice"), entries[1].UserID)
	assert.Equal(t, shared.UserID("carol"), entries[2].UserID)
	for i, e := range entries {
		assert.Equal(t, shared.Rank(i+1), e.Rank)
	}
}

func TestStateTransitions(t *testing.T) {
	s := NewRefreshStatus(PeriodWeek)

	require.NoError(t, s.Transition(StateRefreshing))
	require.NoError(t, s.Transition(StateFailed))
	assert.ErrorIs(t, s.Transition(StateRefreshing), shared.ErrStateTransition)
	require.NoError(t, s.Transition(StateIdle))
	assert.ErrorIs(t, s.Transition(StateFailed), shared.ErrStateTransition)
}

func TestRefreshStatus_Stale(t *testing.T) {
	now := time.Now()
	s := NewRefreshStatus(PeriodMonth)
	assert.False(t, s.Stale())

	s.LastRefreshedAt = now
	s.LastFailedAt = now.Add(time.Minute)
	assert.True(t, s.Stale())

	s.LastRefreshedAt = now.Add(2 * time.Minute)
	assert.False(t, s.Stale())
}

func TestSnapshot_Truncate(t *testing.T) {
	s := &Snapshot{Entries: make([]Entry, 5)}

	assert.Len(t, s.Truncate(2).Entries, 2)
	assert.Len(t, s.Truncate(10).Entries, 5)
	assert.Len(t, s.Entries, 5)
}
