// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/study-engine/internal/domain/progress"
	"github.com/alem-hub/study-engine/internal/domain/session"
	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/pkg/logger"
	"github.com/alem-hub/study-engine/pkg/retry"
	"github.com/alem-hub/study-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE SESSION COMMAND
// Applies one finished study session to the user's XP, level, streak and
// daily summary. Every step runs inside a single per-user unit of work.
// ══════════════════════════════════════════════════════════════════════════════

// CompleteSessionCommand is one session-completion event from the timer.
type CompleteSessionCommand struct {
	SessionID string
	UserID    string
	SubjectID string

	// TaskID links the session to a task; empty for unlinked sessions.
	TaskID string

	StartedAt time.Time
	EndedAt   time.Time

	// ReportedSeconds is the client's own duration, used only as a cross-check.
	ReportedSeconds int64

	CorrelationID string
}

func (c CompleteSessionCommand) input() session.Input {
	return session.Input{
		SessionID:       c.SessionID,
		UserID:          c.UserID,
		SubjectID:       c.SubjectID,
		TaskID:          c.TaskID,
		StartedAt:       c.StartedAt,
		EndedAt:         c.EndedAt,
		ReportedSeconds: c.ReportedSeconds,
	}
}

// CompleteSessionResult describes the state after the session was applied.
type CompleteSessionResult struct {
	SessionID string
	UserID    string

	// Duplicate is true when the session id was already processed. Nothing
	// was changed; the counters reflect the current profile.
	Duplicate bool

	Day             time.Time
	DurationSeconds int64
	DayTotalSeconds int64

	XPTotal       int64
	Level         int
	PreviousLevel int
	LeveledUp     bool

	CurrentStreak int
	LongestStreak int
	Streak        string

	TaskLinked bool

	// Attempts is how many times the unit of work ran (1 or 2).
	Attempts int
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SessionCompletionHandler is the only writer of profile counters.
type SessionCompletionHandler struct {
	tx        progress.Transactor
	linker    *TaskProgressLinker
	publisher shared.EventPublisher
	retrier   *retry.Retrier
	rules     session.Rules
	policy    shared.LevelPolicy
	clock     timeutil.Clock
	log       *logger.Logger
}

// SessionCompletionConfig contains configuration for the handler.
type SessionCompletionConfig struct {
	Rules  session.Rules
	Policy shared.LevelPolicy

	// RetryAttempts counts the original attempt; 2 means one retry.
	RetryAttempts int
	RetryDelay    time.Duration

	LinkMode TaskLinkMode
	Clock    timeutil.Clock
}

// DefaultSessionCompletionConfig returns the default configuration.
func DefaultSessionCompletionConfig() SessionCompletionConfig {
	return SessionCompletionConfig{
		Rules:         session.DefaultRules(),
		Policy:        shared.DefaultLevelPolicy(),
		RetryAttempts: 2,
		RetryDelay:    25 * time.Millisecond,
		LinkMode:      TaskLinkLenient,
		Clock:         timeutil.SystemClock,
	}
}

// NewSessionCompletionHandler creates a new SessionCompletionHandler.
func NewSessionCompletionHandler(
	tx progress.Transactor,
	publisher shared.EventPublisher,
	log *logger.Logger,
	config SessionCompletionConfig,
) *SessionCompletionHandler {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Default()
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 2
	}
	if config.Policy.SecondsPerLevel <= 0 {
		config.Policy = shared.DefaultLevelPolicy()
	}
	if config.Clock == nil {
		config.Clock = timeutil.SystemClock
	}

	log = log.With(logger.Component("session_completion"))
	return &SessionCompletionHandler{
		tx:        tx,
		linker:    NewTaskProgressLinker(config.LinkMode, log),
		publisher: publisher,
		retrier:   retry.SessionRetrier(config.RetryAttempts, config.RetryDelay, shared.IsConflict),
		rules:     config.Rules,
		policy:    config.Policy,
		clock:     config.Clock,
		log:       log,
	}
}

// Handle validates and applies the session. A concurrency conflict is retried
// once with the same session id; if the first attempt had in fact committed,
// the retry sees the session as a duplicate.
func (h *SessionCompletionHandler) Handle(ctx context.Context, cmd CompleteSessionCommand) (*CompleteSessionResult, error) {
	s, err := session.NewCompletedSession(cmd.input(), h.rules)
	if err != nil {
		return nil, err
	}

	log := h.log.With(logger.UserID(s.UserID.String()), logger.SessionID(s.ID.String()))

	var (
		result *CompleteSessionResult
		events []shared.Event
	)
	attempts, err := h.retrier.DoCounted(ctx, func(ctx context.Context, attempt int) error {
		res, evs, err := h.apply(ctx, s, cmd.CorrelationID)
		if err != nil {
			if shared.IsConflict(err) && attempt < h.retrier.MaxAttempts() {
				log.Warn("concurrency conflict, retrying", logger.Int("attempt", attempt), logger.Err(err))
			}
			return err
		}
		result, events = res, evs
		return nil
	})
	if err != nil {
		if shared.IsConflict(err) {
			log.Warn("session completion abandoned", logger.Int("attempts", attempts), logger.Err(err))
			return nil, fmt.Errorf("%w: %w", shared.ErrRetriesExhausted, err)
		}
		return nil, fmt.Errorf("failed to complete session: %w", err)
	}
	result.Attempts = attempts

	for _, e := range events {
		if err := h.publisher.Publish(e); err != nil {
			log.Warn("failed to publish event", logger.String("event_type", string(e.EventType())), logger.Err(err))
		}
	}

	log.Debug("session applied",
		logger.Bool("duplicate", result.Duplicate),
		logger.Seconds(result.DurationSeconds),
		logger.Int("streak", result.CurrentStreak),
	)
	return result, nil
}

// apply runs one attempt of the unit of work. Events are returned rather
// than published so that nothing leaks from a rolled-back attempt.
func (h *SessionCompletionHandler) apply(ctx context.Context, s *session.CompletedSession, correlationID string) (*CompleteSessionResult, []shared.Event, error) {
	var (
		result *CompleteSessionResult
		events []shared.Event
	)

	err := h.tx.WithinUserLock(ctx, s.UserID, func(ctx context.Context, uow progress.UnitOfWork) error {
		fresh, err := uow.RecordSession(ctx, s)
		if err != nil {
			return fmt.Errorf("failed to record session: %w", err)
		}

		p, err := uow.LoadProfileForUpdate(ctx, s.UserID)
		if err != nil {
			return fmt.Errorf("failed to load profile: %w", err)
		}

		if !fresh {
			result = newResult(s, p)
			result.Duplicate = true
			result.PreviousLevel = p.Level.Int()
			return nil
		}

		day := s.Day()
		hasToday, err := uow.HasSummary(ctx, s.UserID, day)
		if err != nil {
			return fmt.Errorf("failed to check daily summary: %w", err)
		}

		outcome := progress.StreakUnchanged
		if !hasToday {
			latest, err := uow.LatestSummaryBefore(ctx, s.UserID, day)
			if err != nil {
				return fmt.Errorf("failed to find previous active day: %w", err)
			}
			outcome = progress.DecideFirstOfDay(day, hasToday, latest)
		}

		p.ApplyStreak(outcome, day)
		oldLevel := p.ApplyXP(s.DurationSeconds, h.policy)

		dayTotal, err := uow.UpsertAddSummary(ctx, s.UserID, day, s.DurationSeconds)
		if err != nil {
			return fmt.Errorf("failed to update daily summary: %w", err)
		}

		p.UpdatedAt = h.clock().UTC()
		if err := uow.SaveProfile(ctx, p); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}

		linked, err := h.linker.Link(ctx, uow, s)
		if err != nil {
			return err
		}

		result = newResult(s, p)
		result.DayTotalSeconds = dayTotal
		result.PreviousLevel = oldLevel.Int()
		result.LeveledUp = p.Level > oldLevel
		result.Streak = outcome.String()
		result.TaskLinked = linked

		events = completionEvents(s, p, outcome, oldLevel, dayTotal, correlationID)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, events, nil
}

func newResult(s *session.CompletedSession, p *progress.Profile) *CompleteSessionResult {
	return &CompleteSessionResult{
		SessionID:       s.ID.String(),
		UserID:          s.UserID.String(),
		Day:             s.Day(),
		DurationSeconds: s.DurationSeconds,
		XPTotal:         p.XPTotal.Int64(),
		Level:           p.Level.Int(),
		CurrentStreak:   p.CurrentStreak,
		LongestStreak:   p.LongestStreak,
		Streak:          progress.StreakUnchanged.String(),
	}
}

func completionEvents(s *session.CompletedSession, p *progress.Profile, outcome progress.StreakOutcome, oldLevel shared.Level, dayTotal int64, correlationID string) []shared.Event {
	userID := s.UserID.String()

	completed := shared.NewSessionCompletedEvent(userID, s.ID.String(), s.DurationSeconds, s.Day(), dayTotal, p.XPTotal.Int64(), p.Level.Int())
	if correlationID != "" {
		completed.BaseEvent = completed.BaseEvent.WithCorrelationID(correlationID)
	}
	events := []shared.Event{completed}

	if p.Level > oldLevel {
		events = append(events, shared.NewLevelUpEvent(userID, oldLevel.Int(), p.Level.Int(), p.XPTotal.Int64()))
	}

	var streakEvent shared.EventType
	switch outcome {
	case progress.StreakStarted:
		streakEvent = shared.EventStreakStarted
	case progress.StreakExtended:
		streakEvent = shared.EventStreakExtended
	case progress.StreakReset:
		streakEvent = shared.EventStreakReset
	}
	if streakEvent != "" {
		events = append(events, shared.NewStreakChangedEvent(streakEvent, userID, s.Day(), p.CurrentStreak, p.LongestStreak))
	}

	return events
}
