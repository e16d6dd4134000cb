// Package session contains the CompletedSession fact: an immutable record of
// one finished timed study session, produced by the timer subsystem and read
// exactly once by the aggregation engine.
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/pkg/timeutil"
)

// DefaultMaxDuration caps a single session.
const DefaultMaxDuration = 24 * time.Hour

// MaxRefLength bounds subject and task identifiers.
const MaxRefLength = 128

// durationTolerance is how far a reported duration may drift from the timestamps.
const durationTolerance = 1

// Rules controls session validation.
type Rules struct {
	// MaxDuration is the longest accepted session.
	MaxDuration time.Duration

	// TrustReportedDuration accepts a caller-supplied duration as long as it
	// agrees with the timestamps. When false the reported value is ignored.
	TrustReportedDuration bool
}

// DefaultRules returns the 24h cap with engine-computed durations.
func DefaultRules() Rules {
	return Rules{MaxDuration: DefaultMaxDuration}
}

// CompletedSession is a finished study session. It is never mutated after
// construction.
type CompletedSession struct {
	ID              uuid.UUID
	UserID          shared.UserID
	SubjectID       string
	TaskID          *string
	StartedAt       time.Time
	EndedAt         time.Time
	DurationSeconds int64
}

// Input is the raw completion as received from the timer subsystem.
type Input struct {
	SessionID       string
	UserID          string
	SubjectID       string
	TaskID          string
	StartedAt       time.Time
	EndedAt         time.Time
	ReportedSeconds int64
}

// NewCompletedSession validates in and builds the session.
// Duration is endedAt - startedAt in whole seconds.
func NewCompletedSession(in Input, rules Rules) (*CompletedSession, error) {
	id, err := uuid.Parse(strings.TrimSpace(in.SessionID))
	if err != nil || id == uuid.Nil {
		return nil, shared.ErrInvalidSessionID
	}

	userID, err := shared.NewUserID(in.UserID)
	if err != nil {
		return nil, err
	}

	subjectID := strings.TrimSpace(in.SubjectID)
	if subjectID == "" {
		return nil, shared.ErrEmptySubjectID
	}
	if len(subjectID) > MaxRefLength {
		return nil, shared.ErrSubjectIDTooLong
	}
	taskID := strings.TrimSpace(in.TaskID)
	if len(taskID) > MaxRefLength {
		return nil, shared.ErrTaskIDTooLong
	}

	if rules.MaxDuration <= 0 {
		rules.MaxDuration = DefaultMaxDuration
	}

	seconds := int64(in.EndedAt.Sub(in.StartedAt) / time.Second)
	if seconds <= 0 {
		return nil, shared.ErrNonPositiveDuration
	}
	if in.ReportedSeconds != 0 && rules.TrustReportedDuration {
		diff := in.ReportedSeconds - seconds
		if diff < -durationTolerance || diff > durationTolerance {
			return nil, shared.ErrDurationMismatch
		}
		seconds = in.ReportedSeconds
		if seconds <= 0 {
			return nil, shared.ErrNonPositiveDuration
		}
	}
	if time.Duration(seconds)*time.Second > rules.MaxDuration {
		return nil, shared.ErrDurationTooLong
	}

	s := &CompletedSession{
		ID:              id,
		UserID:          userID,
		SubjectID:       subjectID,
		StartedAt:       in.StartedAt.UTC(),
		EndedAt:         in.EndedAt.UTC(),
		DurationSeconds: seconds,
	}
	if taskID != "" {
		s.TaskID = &taskID
	}
	return s, nil
}

// Day returns the calendar day the session counts towards: the UTC day of
// its start time. A session that crosses midnight counts entirely on the
// day it started.
func (s *CompletedSession) Day() time.Time {
	return timeutil.StartOfDay(s.StartedAt)
}

// HasTask reports whether the session is linked to a task.
func (s *CompletedSession) HasTask() bool {
	return s.TaskID != nil
}
