package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartOfDay_UsesUTC(t *testing.T) {
	almaty := time.FixedZone("UTC+5", 5*60*60)
	// 02:30 in UTC+5 is still the previous UTC day.
	local := time.Date(2026, 3, 10, 2, 30, 0, 0, almaty)

	assert.Equal(t, Date(2026, 3, 9), StartOfDay(local))
}

func TestIsConsecutiveDay(t *testing.T) {
	d := Date(2026, 2, 28)

	assert.True(t, IsConsecutiveDay(d, Date(2026, 3, 1)))
	assert.False(t, IsConsecutiveDay(d, Date(2026, 3, 2)))
	assert.False(t, IsConsecutiveDay(d, d))
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 3, DaysBetween(Date(2026, 1, 1), Date(2026, 1, 4)))
	assert.Equal(t, -3, DaysBetween(Date(2026, 1, 4), Date(2026, 1, 1)))
	assert.Equal(t, 0, DaysBetween(Date(2026, 1, 1), Date(2026, 1, 1).Add(23*time.Hour)))
}

func TestParseDay(t *testing.T) {
	d, err := ParseDay("2026-05-17")
	require.NoError(t, err)
	assert.Equal(t, Date(2026, 5, 17), d)
	assert.Equal(t, "2026-05-17", FormatDay(d.Add(13*time.Hour)))

	_, err = ParseDay("17.05.2026")
	assert.Error(t, err)
}

func TestDayRange(t *testing.T) {
	days := DayRange(Date(2026, 12, 30), Date(2027, 1, 2))
	require.Len(t, days, 4)
	assert.Equal(t, Date(2027, 1, 1), days[2])

	assert.Nil(t, DayRange(Date(2026, 1, 2), Date(2026, 1, 1)))
}

func TestToday(t *testing.T) {
	clock := FixedClock(time.Date(2026, 7, 1, 23, 59, 0, 0, time.UTC))
	assert.Equal(t, Date(2026, 7, 1), Today(clock))
}
