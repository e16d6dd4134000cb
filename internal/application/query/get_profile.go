// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/study-engine/internal/domain/progress"
	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/pkg/circuitbreaker"
	"github.com/alem-hub/study-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROFILE QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetProfileQuery asks for one user's counters.
type GetProfileQuery struct {
	UserID string
}

// ProfileDTO is the read model of a profile.
type ProfileDTO struct {
	UserID            string
	Username          string
	XPTotal           int64
	Level             int
	XPIntoLevel       int64
	XPToNextLevel     int64
	CurrentStreak     int
	LongestStreak     int
	LastActiveDay     *time.Time
	ShowInLeaderboard bool
	IsPublic          bool
	UpdatedAt         time.Time
}

// NewProfileDTO builds the read model of p under policy.
func NewProfileDTO(p *progress.Profile, policy shared.LevelPolicy) *ProfileDTO {
	levelStart := policy.XPForLevel(p.Level)
	dto := &ProfileDTO{
		UserID:            p.UserID.String(),
		Username:          p.Username,
		XPTotal:           p.XPTotal.Int64(),
		Level:             p.Level.Int(),
		XPIntoLevel:       p.XPTotal.Int64() - levelStart.Int64(),
		XPToNextLevel:     policy.XPForLevel(p.Level+1).Int64() - p.XPTotal.Int64(),
		CurrentStreak:     p.CurrentStreak,
		LongestStreak:     p.LongestStreak,
		ShowInLeaderboard: p.ShowInLeaderboard,
		IsPublic:          p.IsPublic,
		UpdatedAt:         p.UpdatedAt,
	}
	if p.HasActivity() {
		day := p.LastActiveDay
		dto.LastActiveDay = &day
	}
	return dto
}

// GetProfileHandler serves profiles cache-aside. Cache failures fall back to
// the store and never fail the read. A miss racing a commit can write the
// pre-commit row back after its invalidation, so a profile may lag the store
// by up to the cache TTL.
type GetProfileHandler struct {
	repo    progress.ReadRepository
	cache   progress.ProfileCache
	breaker *circuitbreaker.CircuitBreaker
	policy  shared.LevelPolicy
	log     *logger.Logger
}

// NewGetProfileHandler creates the handler. cache and breaker may be nil.
func NewGetProfileHandler(
	repo progress.ReadRepository,
	cache progress.ProfileCache,
	breaker *circuitbreaker.CircuitBreaker,
	policy shared.LevelPolicy,
	log *logger.Logger,
) *GetProfileHandler {
	if log == nil {
		log = logger.Default()
	}
	if policy.SecondsPerLevel <= 0 {
		policy = shared.DefaultLevelPolicy()
	}
	return &GetProfileHandler{
		repo:    repo,
		cache:   cache,
		breaker: breaker,
		policy:  policy,
		log:     log.With(logger.Component("get_profile")),
	}
}

// Handle returns the profile or an error matching shared.ErrNotFound.
func (h *GetProfileHandler) Handle(ctx context.Context, q GetProfileQuery) (*ProfileDTO, error) {
	userID, err := shared.NewUserID(q.UserID)
	if err != nil {
		return nil, err
	}

	if h.cache != nil {
		var (
			cached *progress.Profile
			hit    bool
		)
		err := guard(ctx, h.breaker, func(ctx context.Context) error {
			var err error
			cached, hit, err = h.cache.GetProfile(ctx, userID)
			return err
		})
		if err != nil {
			h.log.Debug("profile cache unavailable", logger.Err(err))
		} else if hit {
			return NewProfileDTO(cached, h.policy), nil
		}
	}

	p, err := h.repo.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if h.cache != nil {
		if err := guard(ctx, h.breaker, func(ctx context.Context) error {
			return h.cache.SetProfile(ctx, p)
		}); err != nil {
			h.log.Debug("profile cache write skipped", logger.Err(err))
		}
	}

	return NewProfileDTO(p, h.policy), nil
}

// guard runs fn through breaker when one is configured.
func guard(ctx context.Context, breaker *circuitbreaker.CircuitBreaker, fn func(context.Context) error) error {
	if breaker == nil {
		return fn(ctx)
	}
	return breaker.Execute(ctx, fn)
}
