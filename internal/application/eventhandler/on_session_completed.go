// Package eventhandler reacts to committed domain events: it keeps the read
// caches coherent with the store and mirrors refresh status across processes.
package eventhandler

import (
	"context"
	"time"

	"github.com/alem-hub/study-engine/internal/domain/progress"
	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/pkg/logger"
)

// cacheOpTimeout bounds a single invalidation.
const cacheOpTimeout = 2 * time.Second

// ProfileCacheInvalidator drops a user's cached profile whenever the
// profile changes, so the next read goes to the store.
type ProfileCacheInvalidator struct {
	cache progress.ProfileCache
	log   *logger.Logger
}

// NewProfileCacheInvalidator creates the handler.
func NewProfileCacheInvalidator(cache progress.ProfileCache, log *logger.Logger) *ProfileCacheInvalidator {
	if log == nil {
		log = logger.Default()
	}
	return &ProfileCacheInvalidator{
		cache: cache,
		log:   log.With(logger.Component("profile_cache_invalidator")),
	}
}

// Register subscribes the handler to profile-changing events.
func (h *ProfileCacheInvalidator) Register(bus shared.EventSubscriber) error {
	for _, t := range []shared.EventType{shared.EventSessionCompleted, shared.EventProfileSettingsUpdated} {
		if err := bus.Subscribe(t, h.Handle); err != nil {
			return err
		}
	}
	return nil
}

// Handle invalidates the profile named by the event's aggregate id.
func (h *ProfileCacheInvalidator) Handle(event shared.Event) error {
	userID := shared.UserID(event.AggregateID())
	if !userID.IsValid() {
		h.log.Warn("event without user id", logger.String("event_type", string(event.EventType())))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()

	if err := h.cache.InvalidateProfile(ctx, userID); err != nil {
		h.log.Warn("failed to invalidate profile cache", logger.UserID(userID.String()), logger.Err(err))
		return err
	}
	return nil
}
