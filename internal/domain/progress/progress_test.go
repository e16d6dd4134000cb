package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/pkg/timeutil"
)

func day(d int) time.Time {
	return timeutil.Date(2026, 3, d)
}

func ptr[T any](v T) *T { return &v }

func TestDecideStreak(t *testing.T) {
	assert.Equal(t, StreakStarted, DecideStreak(day(10), nil))
	assert.Equal(t, StreakExtended, DecideStreak(day(10), ptr(day(9))))
	assert.Equal(t, StreakReset, DecideStreak(day(10), ptr(day(7))))
}

func TestDecideFirstOfDay(t *testing.T) {
	assert.Equal(t, StreakUnchanged, DecideFirstOfDay(day(10), true, ptr(day(9))))
	assert.Equal(t, StreakStarted, DecideFirstOfDay(day(10), false, nil))
	assert.Equal(t, StreakExtended, DecideFirstOfDay(day(13), false, ptr(day(12))))
	assert.Equal(t, StreakReset, DecideFirstOfDay(day(13), false, ptr(day(10))))
}

// Sessions on D and D+2, then a late one for D+1.
func TestProfile_LateSessionFillsGap(t *testing.T) {
	p := NewProfile("u", time.Now())

	p.ApplyStreak(DecideFirstOfDay(day(1), false, nil), day(1))
	p.ApplyStreak(DecideFirstOfDay(day(3), false, ptr(day(1))), day(3))
	assert.Equal(t, 1, p.CurrentStreak)

	p.ApplyStreak(DecideFirstOfDay(day(2), false, ptr(day(1))), day(2))
	assert.Equal(t, 2, p.CurrentStreak)
	assert.Equal(t, 2, p.LongestStreak)
	assert.Equal(t, day(3), p.LastActiveDay)
}

// Walks the D, D, D+1, D+3 scenario through the pure profile operations.
func TestProfile_ScenarioWithGap(t *testing.T) {
	policy := shared.DefaultLevelPolicy()
	p := NewProfile("u", time.Now())

	// Day D, first session of 1500s.
	p.ApplyStreak(DecideFirstOfDay(day(1), false, nil), day(1))
	p.ApplyXP(1500, policy)
	assert.Equal(t, shared.XP(1500), p.XPTotal)
	assert.Equal(t, shared.Level(1), p.Level)
	assert.Equal(t, 1, p.CurrentStreak)
	assert.Equal(t, 1, p.LongestStreak)

	// Day D, second session of 600s.
	p.ApplyStreak(DecideFirstOfDay(day(1), true, nil), day(1))
	p.ApplyXP(600, policy)
	assert.Equal(t, shared.XP(2100), p.XPTotal)
	assert.Equal(t, 1, p.CurrentStreak)

	// Day D+1.
	p.ApplyStreak(DecideFirstOfDay(day(2), false, ptr(day(1))), day(2))
	assert.Equal(t, 2, p.CurrentStreak)
	assert.Equal(t, 2, p.LongestStreak)

	// Day D+3 after a gap.
	p.ApplyStreak(DecideFirstOfDay(day(4), false, ptr(day(2))), day(4))
	assert.Equal(t, 1, p.CurrentStreak)
	assert.Equal(t, 2, p.LongestStreak)
	assert.Equal(t, day(4), p.LastActiveDay)

	require.NoError(t, p.CheckInvariants(policy))
}

func TestProfile_ApplyXPReportsLevelUp(t *testing.T) {
	policy := shared.DefaultLevelPolicy()
	p := NewProfile("u", time.Now())
	p.ApplyXP(3000, policy)

	old := p.ApplyXP(700, policy)
	assert.Equal(t, shared.Level(1), old)
	assert.Equal(t, shared.Level(2), p.Level)
}

func TestProfile_CheckInvariants(t *testing.T) {
	policy := shared.DefaultLevelPolicy()
	p := NewProfile("u", time.Now())
	p.XPTotal = 7200
	assert.Error(t, p.CheckInvariants(policy), "stored level must follow xp")

	p.Level = 3
	p.CurrentStreak = 4
	p.LongestStreak = 2
	assert.Error(t, p.CheckInvariants(policy))
}

func TestSettings(t *testing.T) {
	p := NewProfile("u", time.Now())
	assert.True(t, p.ShowInLeaderboard)
	assert.False(t, p.IsPublic)

	s, err := Settings{Username: ptr("  Dana "), ShowInLeaderboard: ptr(false)}.Normalize()
	require.NoError(t, err)
	s.Apply(p, time.Now())

	assert.Equal(t, "Dana", p.Username)
	assert.False(t, p.ShowInLeaderboard)
	assert.False(t, p.IsPublic)
	assert.True(t, Settings{}.IsEmpty())

	_, err = Settings{Username: ptr("")}.Normalize()
	assert.True(t, shared.IsValidation(err))
}
