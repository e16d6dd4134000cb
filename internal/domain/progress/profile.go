package progress

import (
	"fmt"
	"time"

	"github.com/alem-hub/study-engine/internal/domain/shared"
)

// Profile is the ProfileAggregate: mutable per-user counters.
type Profile struct {
	UserID   shared.UserID
	Username string

	XPTotal shared.XP
	Level   shared.Level

	CurrentStreak int
	LongestStreak int

	// LastActiveDay is the latest calendar day with a completed session.
	// Zero for users who never studied.
	LastActiveDay time.Time

	ShowInLeaderboard bool
	IsPublic          bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewProfile returns the default profile created on a user's first session.
func NewProfile(userID shared.UserID, now time.Time) *Profile {
	return &Profile{
		UserID:            userID,
		Username:          userID.String(),
		XPTotal:           0,
		Level:             shared.MinLevel,
		ShowInLeaderboard: true,
		IsPublic:          false,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Clone returns a copy safe to mutate.
func (p *Profile) Clone() *Profile {
	c := *p
	return &c
}

// HasActivity reports whether the user ever completed a session.
func (p *Profile) HasActivity() bool {
	return !p.LastActiveDay.IsZero()
}

// ApplyXP adds seconds of study to the profile and recomputes the level.
// It returns the level before the change.
func (p *Profile) ApplyXP(seconds int64, policy shared.LevelPolicy) shared.Level {
	old := p.Level
	p.XPTotal = p.XPTotal.Add(seconds)
	p.Level = policy.LevelFor(p.XPTotal)
	return old
}

// ApplyStreak applies a first-of-day streak outcome for day. LastActiveDay
// only moves forward, so a late session for an older day still updates the
// streak counters without rewinding it.
func (p *Profile) ApplyStreak(outcome StreakOutcome, day time.Time) {
	switch outcome {
	case StreakExtended:
		p.CurrentStreak++
	case StreakStarted, StreakReset:
		p.CurrentStreak = 1
	case StreakUnchanged:
		return
	}
	if p.CurrentStreak > p.LongestStreak {
		p.LongestStreak = p.CurrentStreak
	}
	if day.After(p.LastActiveDay) {
		p.LastActiveDay = day
	}
}

// CheckInvariants verifies the aggregate against the level policy and
// streak bounds. Stores call it before persisting.
func (p *Profile) CheckInvariants(policy shared.LevelPolicy) error {
	if p.XPTotal < 0 {
		return fmt.Errorf("profile %s: negative xp %d", p.UserID, p.XPTotal)
	}
	if want := policy.LevelFor(p.XPTotal); p.Level != want {
		return fmt.Errorf("profile %s: level %d disagrees with xp %d (want %d)", p.UserID, p.Level, p.XPTotal, want)
	}
	if p.CurrentStreak < 0 || p.LongestStreak < p.CurrentStreak {
		return fmt.Errorf("profile %s: streak current=%d longest=%d", p.UserID, p.CurrentStreak, p.LongestStreak)
	}
	return nil
}

// Settings is a partial update of the user-editable profile fields.
// Nil fields are left unchanged.
type Settings struct {
	Username          *string
	ShowInLeaderboard *bool
	IsPublic          *bool
}

// IsEmpty reports whether the update changes nothing.
func (s Settings) IsEmpty() bool {
	return s.Username == nil && s.ShowInLeaderboard == nil && s.IsPublic == nil
}

// Normalize validates the update and trims the username.
func (s Settings) Normalize() (Settings, error) {
	if s.Username != nil {
		name, err := shared.NormalizeUsername(*s.Username)
		if err != nil {
			return s, err
		}
		s.Username = &name
	}
	return s, nil
}

// Apply writes the non-nil fields onto p.
func (s Settings) Apply(p *Profile, now time.Time) {
	if s.Username != nil {
		p.Username = *s.Username
	}
	if s.ShowInLeaderboard != nil {
		p.ShowInLeaderboard = *s.ShowInLeaderboard
	}
	if s.IsPublic != nil {
		p.IsPublic = *s.IsPublic
	}
	p.UpdatedAt = now
}
