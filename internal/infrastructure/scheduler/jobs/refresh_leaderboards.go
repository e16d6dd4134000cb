// Package jobs contains the scheduled jobs of the study engine.
package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/alem-hub/study-engine/internal/domain/leaderboard"
	"github.com/alem-hub/study-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH LEADERBOARDS JOB
// ══════════════════════════════════════════════════════════════════════════════

// RefreshLeaderboardsJobName is the scheduler name of the job.
const RefreshLeaderboardsJobName = "refresh_leaderboards"

// Refresher recomputes every leaderboard period.
type Refresher interface {
	RefreshAll(ctx context.Context) ([]leaderboard.RefreshResult, error)
}

// RefreshLeaderboardsJob recomputes the week, month and year snapshots.
// A failed period keeps its previous snapshot; the job still reports the
// failure so the scheduler counts it.
type RefreshLeaderboardsJob struct {
	refresher Refresher
	log       *logger.Logger

	lastStats atomic.Pointer[RefreshStats]
}

// RefreshStats contains statistics from one run.
type RefreshStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Refreshed   int
	Failed      int
	Entries     map[leaderboard.Period]int
	Errors      []error
}

// NewRefreshLeaderboardsJob creates the job.
func NewRefreshLeaderboardsJob(refresher Refresher, log *logger.Logger) *RefreshLeaderboardsJob {
	if log == nil {
		log = logger.Default()
	}
	return &RefreshLeaderboardsJob{
		refresher: refresher,
		log:       log.With(logger.Component("job"), logger.String("job", RefreshLeaderboardsJobName)),
	}
}

// Name returns the job name.
func (j *RefreshLeaderboardsJob) Name() string {
	return RefreshLeaderboardsJobName
}

// Description returns a human-readable description.
func (j *RefreshLeaderboardsJob) Description() string {
	return "Recomputes and swaps in the week, month and year leaderboard snapshots"
}

// Run executes the refresh.
func (j *RefreshLeaderboardsJob) Run(ctx context.Context) error {
	stats := &RefreshStats{
		StartedAt: time.Now(),
		Entries:   make(map[leaderboard.Period]int),
	}

	results, err := j.refresher.RefreshAll(ctx)
	for _, r := range results {
		if r.Err != nil {
			stats.Failed++
			stats.Errors = append(stats.Errors, r.Err)
			continue
		}
		stats.Refreshed++
		if r.Snapshot != nil {
			stats.Entries[r.Period] = r.Snapshot.EntryCount
		}
	}
	if err != nil && len(stats.Errors) == 0 {
		stats.Errors = append(stats.Errors, err)
	}

	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
	j.lastStats.Store(stats)

	j.log.Info("leaderboards refreshed",
		logger.Int("refreshed", stats.Refreshed),
		logger.Int("failed", stats.Failed),
		logger.Latency(stats.Duration),
	)

	if len(stats.Errors) > 0 {
		return errors.Join(stats.Errors...)
	}
	return nil
}

// LastStats returns the statistics of the most recent run, or nil.
func (j *RefreshLeaderboardsJob) LastStats() *RefreshStats {
	return j.lastStats.Load()
}
