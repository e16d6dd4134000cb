package redis

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/study-engine/internal/domain/progress"
	"github.com/alem-hub/study-engine/internal/domain/shared"
)

// ProfileCache implements progress.ProfileCache using the generic Cache.
type ProfileCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewProfileCache creates a new ProfileCache.
func NewProfileCache(cache *Cache, ttl time.Duration) *ProfileCache {
	if ttl <= 0 {
		ttl = TTLProfileCache
	}
	return &ProfileCache{cache: cache, ttl: ttl}
}

type cachedProfile struct {
	UserID            string    `json:"user_id"`
	Username          string    `json:"username"`
	XPTotal           int64     `json:"xp_total"`
	Level             int       `json:"level"`
	CurrentStreak     int       `json:"current_streak"`
	LongestStreak     int       `json:"longest_streak"`
	LastActiveDay     time.Time `json:"last_active_day"`
	ShowInLeaderboard bool      `json:"show_in_leaderboard"`
	IsPublic          bool      `json:"is_public"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// GetProfile implements progress.ProfileCache.
func (p *ProfileCache) GetProfile(ctx context.Context, userID shared.UserID) (*progress.Profile, bool, error) {
	var c cachedProfile
	err := p.cache.Get(ctx, ProfileKey(userID.String()), &c)
	if errors.Is(err, ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return &progress.Profile{
		UserID:            shared.UserID(c.UserID),
		Username:          c.Username,
		XPTotal:           shared.XP(c.XPTotal),
		Level:             shared.Level(c.Level),
		CurrentStreak:     c.CurrentStreak,
		LongestStreak:     c.LongestStreak,
		LastActiveDay:     c.LastActiveDay.UTC(),
		ShowInLeaderboard: c.ShowInLeaderboard,
		IsPublic:          c.IsPublic,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}, true, nil
}

// SetProfile implements progress.ProfileCache.
func (p *ProfileCache) SetProfile(ctx context.Context, prof *progress.Profile) error {
	if prof == nil {
		return ErrCacheNilValue
	}
	return p.cache.Set(ctx, ProfileKey(prof.UserID.String()), cachedProfile{
		UserID:            prof.UserID.String(),
		Username:          prof.Username,
		XPTotal:           prof.XPTotal.Int64(),
		Level:             prof.Level.Int(),
		CurrentStreak:     prof.CurrentStreak,
		LongestStreak:     prof.LongestStreak,
		LastActiveDay:     prof.LastActiveDay,
		ShowInLeaderboard: prof.ShowInLeaderboard,
		IsPublic:          prof.IsPublic,
		CreatedAt:         prof.CreatedAt,
		UpdatedAt:         prof.UpdatedAt,
	}, p.ttl)
}

// InvalidateProfile implements progress.ProfileCache.
func (p *ProfileCache) InvalidateProfile(ctx context.Context, userID shared.UserID) error {
	return p.cache.Delete(ctx, ProfileKey(userID.String()))
}

var _ progress.ProfileCache = (*ProfileCache)(nil)
