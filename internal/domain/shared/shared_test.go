package shared

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelPolicy_LevelFor(t *testing.T) {
	p := DefaultLevelPolicy()

	tests := []struct {
		xp   XP
		want Level
	}{
		{0, 1},
		{1500, 1},
		{3599, 1},
		{3600, 2},
		{7199, 2},
		{36000, 11},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.xp), func(t *testing.T) {
			assert.Equal(t, tt.want, p.LevelFor(tt.xp))
		})
	}
}

func TestLevelPolicy_Configurable(t *testing.T) {
	p := LevelPolicy{SecondsPerLevel: 600}

	assert.Equal(t, Level(4), p.LevelFor(1800))
	assert.Equal(t, XP(1800), p.XPForLevel(4))
	assert.Equal(t, Level(1), LevelPolicy{}.LevelFor(3599))
}

func TestXP_AddIgnoresNonPositive(t *testing.T) {
	x := XP(100)
	assert.Equal(t, XP(100), x.Add(-5))
	assert.Equal(t, XP(160), x.Add(60))
}

func TestNewUserID(t *testing.T) {
	id, err := NewUserID("  u-1 ")
	assert.NoError(t, err)
	assert.Equal(t, UserID("u-1"), id)

	_, err = NewUserID("")
	assert.True(t, IsValidation(err))

	_, err = NewUserID(strings.Repeat("x", MaxUserIDLength+1))
	assert.True(t, IsValidation(err))
}

func TestNormalizeUsername(t *testing.T) {
	name, err := NormalizeUsername(" Aigerim ")
	assert.NoError(t, err)
	assert.Equal(t, "Aigerim", name)

	_, err = NormalizeUsername("   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("tx: %w", ErrUserLockTimeout)

	assert.True(t, IsConflict(wrapped))
	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsValidation(wrapped))

	assert.True(t, IsValidation(ErrDurationTooLong))
	assert.False(t, IsRetryable(ErrDurationTooLong))
	assert.True(t, IsNotFound(ErrTaskNotFound))

	cause := errors.New("boom")
	de := WrapError("leaderboard", "Refresh", ErrTimeout, "refresh failed", cause)
	assert.ErrorIs(t, de, cause)
	assert.ErrorIs(t, de, ErrTimeout)
	assert.Equal(t, "leaderboard.Refresh: refresh failed: boom", de.Error())
}
