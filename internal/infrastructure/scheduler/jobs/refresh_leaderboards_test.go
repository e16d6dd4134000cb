package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-engine/internal/domain/leaderboard"
	"github.com/alem-hub/study-engine/pkg/logger"
)

type stubRefresher struct {
	results []leaderboard.RefreshResult
	err     error
}

func (s stubRefresher) RefreshAll(context.Context) ([]leaderboard.RefreshResult, error) {
	return s.results, s.err
}

func TestRefreshLeaderboardsJob_RecordsStats(t *testing.T) {
	timeout := errors.New("timeout")
	job := NewRefreshLeaderboardsJob(stubRefresher{
		results: []leaderboard.RefreshResult{
			{Period: leaderboard.PeriodWeek, Snapshot: &leaderboard.SnapshotInfo{EntryCount: 4}},
			{Period: leaderboard.PeriodMonth, Snapshot: &leaderboard.SnapshotInfo{EntryCount: 9}},
			{Period: leaderboard.PeriodYear, Err: timeout},
		},
		err: timeout,
	}, logger.Nop())

	assert.Nil(t, job.LastStats())
	err := job.Run(context.Background())
	assert.ErrorIs(t, err, timeout)

	stats := job.LastStats()
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.Refreshed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 9, stats.Entries[leaderboard.PeriodMonth])
}

func TestRefreshLeaderboardsJob_Success(t *testing.T) {
	job := NewRefreshLeaderboardsJob(stubRefresher{
		results: []leaderboard.RefreshResult{{Period: leaderboard.PeriodWeek, Snapshot: &leaderboard.SnapshotInfo{}}},
	}, logger.Nop())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, "refresh_leaderboards", job.Name())
}
