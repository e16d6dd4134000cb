package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/study-engine/internal/domain/leaderboard"
	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/pkg/logger"
	"github.com/alem-hub/study-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD MATERIALIZER
// Recomputes ranked snapshots and swaps them in. Readers keep seeing the
// previous snapshot until the swap; a failed or cancelled refresh leaves it
// in place.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultRefreshTimeout bounds a single period refresh.
const DefaultRefreshTimeout = 2 * time.Minute

// LeaderboardMaterializer owns the refresh state machine of every period.
// Concurrent refreshes of the same period are allowed; the store keeps the
// snapshot with the latest computation time.
type LeaderboardMaterializer struct {
	repo      leaderboard.Repository
	publisher shared.EventPublisher
	timeout   time.Duration
	clock     timeutil.Clock
	log       *logger.Logger

	mu       sync.Mutex
	statuses map[leaderboard.Period]*leaderboard.RefreshStatus
}

// NewLeaderboardMaterializer creates the materializer.
func NewLeaderboardMaterializer(
	repo leaderboard.Repository,
	publisher shared.EventPublisher,
	timeout time.Duration,
	clock timeutil.Clock,
	log *logger.Logger,
) *LeaderboardMaterializer {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	if clock == nil {
		clock = timeutil.SystemClock
	}
	if log == nil {
		log = logger.Default()
	}

	statuses := make(map[leaderboard.Period]*leaderboard.RefreshStatus, len(leaderboard.AllPeriods))
	for _, p := range leaderboard.AllPeriods {
		statuses[p] = leaderboard.NewRefreshStatus(p)
	}

	return &LeaderboardMaterializer{
		repo:      repo,
		publisher: publisher,
		timeout:   timeout,
		clock:     clock,
		log:       log.With(logger.Component("leaderboard_materializer")),
		statuses:  statuses,
	}
}

// Refresh recomputes one period for today's UTC day.
func (m *LeaderboardMaterializer) Refresh(ctx context.Context, period leaderboard.Period) (*leaderboard.SnapshotInfo, error) {
	if !period.IsValid() {
		return nil, shared.ErrInvalidPeriod
	}

	if err := m.begin(period); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := m.clock()
	asOfDay := timeutil.StartOfDay(start)
	info, err := m.repo.ReplaceSnapshot(ctx, period, asOfDay, start.UTC())
	duration := m.clock().Sub(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", shared.ErrRefreshTimeout, err)
		}
		m.fail(period, err)
		m.log.Error("leaderboard refresh failed",
			logger.Period(period.String()),
			logger.Latency(duration),
			logger.Err(err),
		)
		if perr := m.publisher.Publish(shared.NewLeaderboardRefreshFailedEvent(period.String(), err.Error())); perr != nil {
			m.log.Warn("failed to publish refresh failure", logger.Err(perr))
		}
		return nil, err
	}

	m.succeed(period, info, duration)
	m.log.Info("leaderboard refreshed",
		logger.Period(period.String()),
		logger.String("snapshot_id", info.ID),
		logger.Int("entries", info.EntryCount),
		logger.Latency(duration),
	)
	if perr := m.publisher.Publish(shared.NewLeaderboardRefreshedEvent(period.String(), info.ID, info.EntryCount, info.AsOfDay, duration)); perr != nil {
		m.log.Warn("failed to publish refresh", logger.Err(perr))
	}
	return info, nil
}

// RefreshAll refreshes every period in turn. The returned error joins the
// per-period failures; the results slice is always complete.
func (m *LeaderboardMaterializer) RefreshAll(ctx context.Context) ([]leaderboard.RefreshResult, error) {
	results := make([]leaderboard.RefreshResult, 0, len(leaderboard.AllPeriods))
	var errs []error

	for _, p := range leaderboard.AllPeriods {
		start := m.clock()
		info, err := m.Refresh(ctx, p)
		results = append(results, leaderboard.RefreshResult{
			Period:   p,
			Snapshot: info,
			Duration: m.clock().Sub(start),
			Err:      err,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	return results, errors.Join(errs...)
}

func (m *LeaderboardMaterializer) begin(period leaderboard.Period) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.statuses[period]
	st.InFlight++
	if st.State == leaderboard.StateRefreshing {
		return nil
	}
	if st.State == leaderboard.StateFailed {
		if err := st.Transition(leaderboard.StateIdle); err != nil {
			st.InFlight--
			return err
		}
	}
	if err := st.Transition(leaderboard.StateRefreshing); err != nil {
		st.InFlight--
		return err
	}
	return nil
}

func (m *LeaderboardMaterializer) succeed(period leaderboard.Period, info *leaderboard.SnapshotInfo, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.statuses[period]
	st.InFlight--
	st.Refreshes++
	st.LastSnapshotID = info.ID
	st.LastEntryCount = info.EntryCount
	// Completion time, so it compares with LastFailedAt when refreshes overlap.
	if now := m.clock().UTC(); now.After(st.LastRefreshedAt) {
		st.LastRefreshedAt = now
	}
	st.LastDuration = d
	st.LastError = ""
	m.settle(st, leaderboard.StateIdle)
}

func (m *LeaderboardMaterializer) fail(period leaderboard.Period, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.statuses[period]
	st.InFlight--
	st.Failures++
	st.LastFailedAt = m.clock().UTC()
	st.LastError = err.Error()
	m.settle(st, leaderboard.StateFailed)
}

// settle leaves Refreshing once the last concurrent refresh has finished.
func (m *LeaderboardMaterializer) settle(st *leaderboard.RefreshStatus, next leaderboard.State) {
	if st.InFlight > 0 {
		return
	}
	if err := st.Transition(next); err != nil {
		m.log.Error("refresh state out of sync", logger.Period(st.Period.String()), logger.Err(err))
	}
}

// Status returns a copy of one period's status.
func (m *LeaderboardMaterializer) Status(period leaderboard.Period) leaderboard.RefreshStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.statuses[period]; ok {
		return *st
	}
	return *leaderboard.NewRefreshStatus(period)
}

// Statuses returns a copy of every period's status, ordered week, month, year.
func (m *LeaderboardMaterializer) Statuses() []leaderboard.RefreshStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]leaderboard.RefreshStatus, 0, len(m.statuses))
	for _, st := range m.statuses {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period.Days() < out[j].Period.Days() })
	return out
}
