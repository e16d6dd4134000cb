package session

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/pkg/timeutil"
)

func validInput() Input {
	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	return Input{
		SessionID: uuid.NewString(),
		UserID:    "user-1",
		SubjectID: "math",
		StartedAt: start,
		EndedAt:   start.Add(25 * time.Minute),
	}
}

func TestNewCompletedSession_ComputesDuration(t *testing.T) {
	s, err := NewCompletedSession(validInput(), DefaultRules())
	require.NoError(t, err)

	assert.Equal(t, int64(1500), s.DurationSeconds)
	assert.Equal(t, shared.UserID("user-1"), s.UserID)
	assert.False(t, s.HasTask())
	assert.Equal(t, timeutil.Date(2026, 4, 1), s.Day())
}

func TestNewCompletedSession_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *Input)
		want   error
	}{
		{"bad id", func(in *Input) { in.SessionID = "not-a-uuid" }, shared.ErrInvalidSessionID},
		{"nil id", func(in *Input) { in.SessionID = uuid.Nil.String() }, shared.ErrInvalidSessionID},
		{"no user", func(in *Input) { in.UserID = " " }, shared.ErrEmptyUserID},
		{"no subject", func(in *Input) { in.SubjectID = "" }, shared.ErrEmptySubjectID},
		{"long subject", func(in *Input) { in.SubjectID = strings.Repeat("s", MaxRefLength+1) }, shared.ErrSubjectIDTooLong},
		{"long task", func(in *Input) { in.TaskID = strings.Repeat("t", MaxRefLength+1) }, shared.ErrTaskIDTooLong},
		{"zero length", func(in *Input) { in.EndedAt = in.StartedAt }, shared.ErrNonPositiveDuration},
		{"reversed", func(in *Input) { in.EndedAt = in.StartedAt.Add(-time.Minute) }, shared.ErrNonPositiveDuration},
		{"too long", func(in *Input) { in.EndedAt = in.StartedAt.Add(25 * time.Hour) }, shared.ErrDurationTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)

			_, err := NewCompletedSession(in, DefaultRules())
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, shared.IsValidation(err))
		})
	}
}

func TestNewCompletedSession_LongestIdentifiersAccepted(t *testing.T) {
	in := validInput()
	in.UserID = strings.Repeat("u", shared.MaxUserIDLength)
	in.SubjectID = strings.Repeat("s", MaxRefLength)
	in.TaskID = strings.Repeat("t", MaxRefLength)

	s, err := NewCompletedSession(in, DefaultRules())
	require.NoError(t, err)
	assert.Len(t, s.UserID.String(), shared.MaxUserIDLength)
	require.True(t, s.HasTask())
	assert.Len(t, *s.TaskID, MaxRefLength)
}

func TestNewCompletedSession_ExactlyMaxIsAccepted(t *testing.T) {
	in := validInput()
	in.EndedAt = in.StartedAt.Add(24 * time.Hour)

	s, err := NewCompletedSession(in, DefaultRules())
	require.NoError(t, err)
	assert.Equal(t, int64(86400), s.DurationSeconds)
}

func TestNewCompletedSession_ReportedDuration(t *testing.T) {
	in := validInput()
	in.ReportedSeconds = 1499

	s, err := NewCompletedSession(in, DefaultRules())
	require.NoError(t, err)
	assert.Equal(t, int64(1500), s.DurationSeconds, "reported value ignored unless trusted")

	s, err = NewCompletedSession(in, Rules{MaxDuration: DefaultMaxDuration, TrustReportedDuration: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1499), s.DurationSeconds)

	in.ReportedSeconds = 900
	_, err = NewCompletedSession(in, Rules{TrustReportedDuration: true})
	assert.ErrorIs(t, err, shared.ErrDurationMismatch)
}

func TestCompletedSession_DayUsesStartAcrossMidnight(t *testing.T) {
	in := validInput()
	in.StartedAt = time.Date(2026, 4, 1, 23, 30, 0, 0, time.UTC)
	in.EndedAt = in.StartedAt.Add(time.Hour)
	in.TaskID = "task-7"

	s, err := NewCompletedSession(in, DefaultRules())
	require.NoError(t, err)
	assert.Equal(t, timeutil.Date(2026, 4, 1), s.Day())
	require.True(t, s.HasTask())
	assert.Equal(t, "task-7", *s.TaskID)
}
