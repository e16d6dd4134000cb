package query

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/study-engine/internal/domain/leaderboard"
	"github.com/alem-hub/study-engine/pkg/circuitbreaker"
	"github.com/alem-hub/study-engine/pkg/logger"
	"github.com/alem-hub/study-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Serves the current materialized snapshot. Results are never computed live;
// every response carries the snapshot's "as of" time and a staleness flag.
// ══════════════════════════════════════════════════════════════════════════════

const (
	DefaultLeaderboardLimit = 50
	MaxLeaderboardLimit     = 500
)

// StatusSource reports the refresh status of a period. The materializer
// implements it in-process; RefreshStatusTracker does for remote workers.
type StatusSource interface {
	Status(period leaderboard.Period) leaderboard.RefreshStatus
}

// GetLeaderboardQuery asks for the top entries of one period.
type GetLeaderboardQuery struct {
	Period string

	// Limit is clamped to [1, max]; zero or negative means the default.
	Limit int
}

// LeaderboardDTO is the result of GetLeaderboardQuery.
type LeaderboardDTO struct {
	Period     leaderboard.Period
	SnapshotID string
	AsOf       time.Time
	AsOfDay    time.Time
	TotalCount int
	Entries    []leaderboard.Entry

	// Stale is set when the last refresh failed after the last success, or
	// the snapshot is older than the staleness bound.
	Stale     bool
	LastError string
}

// LeaderboardReadConfig configures the leaderboard read path.
type LeaderboardReadConfig struct {
	DefaultLimit int
	MaxLimit     int

	// StaleAfter marks snapshots older than this as stale; zero disables it.
	StaleAfter time.Duration
	Clock      timeutil.Clock
}

// GetLeaderboardHandler handles GetLeaderboardQuery.
type GetLeaderboardHandler struct {
	repo    leaderboard.Repository
	cache   leaderboard.Cache
	breaker *circuitbreaker.CircuitBreaker
	status  StatusSource
	config  LeaderboardReadConfig
	log     *logger.Logger
}

// NewGetLeaderboardHandler creates the handler. cache, breaker and status may
// be nil.
func NewGetLeaderboardHandler(
	repo leaderboard.Repository,
	cache leaderboard.Cache,
	breaker *circuitbreaker.CircuitBreaker,
	status StatusSource,
	config LeaderboardReadConfig,
	log *logger.Logger,
) *GetLeaderboardHandler {
	if config.MaxLimit <= 0 {
		config.MaxLimit = MaxLeaderboardLimit
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = DefaultLeaderboardLimit
	}
	if config.DefaultLimit > config.MaxLimit {
		config.DefaultLimit = config.MaxLimit
	}
	if config.Clock == nil {
		config.Clock = timeutil.SystemClock
	}
	if log == nil {
		log = logger.Default()
	}
	return &GetLeaderboardHandler{
		repo:    repo,
		cache:   cache,
		breaker: breaker,
		status:  status,
		config:  config,
		log:     log.With(logger.Component("get_leaderboard")),
	}
}

// ClampLimit applies the default and the maximum to a requested limit.
func (h *GetLeaderboardHandler) ClampLimit(limit int) int {
	if limit <= 0 {
		return h.config.DefaultLimit
	}
	if limit > h.config.MaxLimit {
		return h.config.MaxLimit
	}
	return limit
}

// Handle returns the current snapshot of the period, truncated to the limit.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*LeaderboardDTO, error) {
	period, err := leaderboard.ParsePeriod(q.Period)
	if err != nil {
		return nil, err
	}
	limit := h.ClampLimit(q.Limit)

	snap, err := h.snapshot(ctx, period)
	if err != nil {
		return nil, err
	}
	view := snap.Truncate(limit)

	dto := &LeaderboardDTO{
		Period:     period,
		SnapshotID: snap.ID,
		AsOf:       snap.ComputedAt,
		AsOfDay:    snap.AsOfDay,
		TotalCount: snap.EntryCount,
		Entries:    view.Entries,
	}
	if h.config.StaleAfter > 0 && snap.Age(h.config.Clock()) > h.config.StaleAfter {
		dto.Stale = true
	}
	if h.status != nil {
		st := h.status.Status(period)
		if st.Stale() {
			dto.Stale = true
			dto.LastError = st.LastError
		}
	}
	return dto, nil
}

// snapshot reads the full current snapshot through the cache. The cache
// holds up to MaxLimit entries so every limit can be served from it.
func (h *GetLeaderboardHandler) snapshot(ctx context.Context, period leaderboard.Period) (*leaderboard.Snapshot, error) {
	if h.cache != nil {
		var (
			cached *leaderboard.Snapshot
			hit    bool
		)
		err := guard(ctx, h.breaker, func(ctx context.Context) error {
			var err error
			cached, hit, err = h.cache.GetSnapshot(ctx, period)
			return err
		})
		if err != nil {
			h.log.Debug("leaderboard cache unavailable", logger.Period(period.String()), logger.Err(err))
		} else if hit {
			return cached, nil
		}
	}

	snap, err := h.repo.Current(ctx, period, h.config.MaxLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}

	if h.cache != nil {
		if err := guard(ctx, h.breaker, func(ctx context.Context) error {
			return h.cache.SetSnapshot(ctx, snap)
		}); err != nil {
			h.log.Debug("leaderboard cache write skipped", logger.Err(err))
		}
	}
	return snap, nil
}
