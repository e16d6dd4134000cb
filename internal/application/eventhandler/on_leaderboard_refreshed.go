package eventhandler

import (
	"context"

	"github.com/alem-hub/study-engine/internal/domain/leaderboard"
	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/pkg/logger"
)

// LeaderboardCacheInvalidator drops a period's cached snapshot after a new
// one has been swapped in. It reads the period from the payload, so events
// relayed from another process work too.
type LeaderboardCacheInvalidator struct {
	cache leaderboard.Cache
	log   *logger.Logger
}

// NewLeaderboardCacheInvalidator creates the handler.
func NewLeaderboardCacheInvalidator(cache leaderboard.Cache, log *logger.Logger) *LeaderboardCacheInvalidator {
	if log == nil {
		log = logger.Default()
	}
	return &LeaderboardCacheInvalidator{
		cache: cache,
		log:   log.With(logger.Component("leaderboard_cache_invalidator")),
	}
}

// Register subscribes the handler to leaderboard.refreshed.
func (h *LeaderboardCacheInvalidator) Register(bus shared.EventSubscriber) error {
	return bus.Subscribe(shared.EventLeaderboardRefreshed, h.Handle)
}

// Handle invalidates the refreshed period.
func (h *LeaderboardCacheInvalidator) Handle(event shared.Event) error {
	period, ok := periodOf(event)
	if !ok {
		h.log.Warn("refresh event without a valid period", logger.String("aggregate_id", event.AggregateID()))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()

	if err := h.cache.InvalidatePeriod(ctx, period); err != nil {
		h.log.Warn("failed to invalidate leaderboard cache", logger.Period(period.String()), logger.Err(err))
		return err
	}
	return nil
}

func periodOf(event shared.Event) (leaderboard.Period, bool) {
	raw, _ := event.Payload()["period"].(string)
	if raw == "" {
		raw = event.AggregateID()
	}
	p, err := leaderboard.ParsePeriod(raw)
	return p, err == nil
}
