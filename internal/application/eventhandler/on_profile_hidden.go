package eventhandler

import (
	"context"
	"time"

	"github.com/alem-hub/study-engine/internal/domain/leaderboard"
	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/pkg/logger"
)

// Refresher recomputes every leaderboard period.
type Refresher interface {
	RefreshAll(ctx context.Context) ([]leaderboard.RefreshResult, error)
}

// PrivacyRefresher rebuilds the leaderboards when a user hides themselves,
// so the user drops out of the published snapshots without waiting for the
// next scheduled refresh.
type PrivacyRefresher struct {
	refresher Refresher
	timeout   time.Duration
	log       *logger.Logger
}

// NewPrivacyRefresher creates the handler.
func NewPrivacyRefresher(refresher Refresher, timeout time.Duration, log *logger.Logger) *PrivacyRefresher {
	if log == nil {
		log = logger.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &PrivacyRefresher{
		refresher: refresher,
		timeout:   timeout,
		log:       log.With(logger.Component("privacy_refresher")),
	}
}

// Register subscribes the handler to settings updates.
func (h *PrivacyRefresher) Register(bus shared.EventSubscriber) error {
	return bus.Subscribe(shared.EventProfileSettingsUpdated, h.Handle)
}

// Handle refreshes when the event says the user is hidden.
func (h *PrivacyRefresher) Handle(event shared.Event) error {
	if show, ok := event.Payload()["show_in_leaderboard"].(bool); !ok || show {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if _, err := h.refresher.RefreshAll(ctx); err != nil {
		h.log.Error("privacy refresh failed", logger.UserID(event.AggregateID()), logger.Err(err))
		return err
	}
	return nil
}
