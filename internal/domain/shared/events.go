package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Events are published only after the unit of work that
// produced them has committed.
const (
	// Session events
	EventSessionCompleted EventType = "session.completed"

	// Progress events
	EventLevelUp                EventType = "progress.level_up"
	EventStreakStarted          EventType = "progress.streak_started"
	EventStreakExtended         EventType = "progress.streak_extended"
	EventStreakReset            EventType = "progress.streak_reset"
	EventProfileSettingsUpdated EventType = "progress.settings_updated"

	// Leaderboard events
	EventLeaderboardRefreshed     EventType = "leaderboard.refreshed"
	EventLeaderboardRefreshFailed EventType = "leaderboard.refresh_failed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Session Events
// ═══════════════════════════════════════════════════════════════════════════

// SessionCompletedEvent is emitted once per applied session. Duplicate
// completions of the same session id do not emit it again.
type SessionCompletedEvent struct {
	BaseEvent
	UserID          string    `json:"user_id"`
	SessionID       string    `json:"session_id"`
	DurationSeconds int64     `json:"duration_seconds"`
	Day             time.Time `json:"day"`
	DayTotalSeconds int64     `json:"day_total_seconds"`
	XPTotal         int64     `json:"xp_total"`
	Level           int       `json:"level"`
}

// Payload implements Event interface.
func (e SessionCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":           e.UserID,
		"session_id":        e.SessionID,
		"duration_seconds":  e.DurationSeconds,
		"day":               e.Day.Format("2006-01-02"),
		"day_total_seconds": e.DayTotalSeconds,
		"xp_total":          e.XPTotal,
		"level":             e.Level,
	}
}

// NewSessionCompletedEvent creates a new SessionCompletedEvent.
func NewSessionCompletedEvent(userID, sessionID string, duration int64, day time.Time, dayTotal, xpTotal int64, level int) SessionCompletedEvent {
	return SessionCompletedEvent{
		BaseEvent:       NewBaseEvent(EventSessionCompleted, userID).WithCorrelationID(sessionID),
		UserID:          userID,
		SessionID:       sessionID,
		DurationSeconds: duration,
		Day:             day,
		DayTotalSeconds: dayTotal,
		XPTotal:         xpTotal,
		Level:           level,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// LevelUpEvent is emitted when a session moves a user to a higher level.
type LevelUpEvent struct {
	BaseEvent
	UserID   string `json:"user_id"`
	OldLevel int    `json:"old_level"`
	NewLevel int    `json:"new_level"`
	XPTotal  int64  `json:"xp_total"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID,
		"old_level": e.OldLevel,
		"new_level": e.NewLevel,
		"xp_total":  e.XPTotal,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(userID string, oldLevel, newLevel int, xpTotal int64) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, userID),
		UserID:    userID,
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
		XPTotal:   xpTotal,
	}
}

// StreakChangedEvent is emitted on the first session of a calendar day.
// Its type tells whether the streak started, extended or reset.
type StreakChangedEvent struct {
	BaseEvent
	UserID        string    `json:"user_id"`
	Day           time.Time `json:"day"`
	CurrentStreak int       `json:"current_streak"`
	LongestStreak int       `json:"longest_streak"`
}

// Payload implements Event interface.
func (e StreakChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID,
		"day":            e.Day.Format("2006-01-02"),
		"current_streak": e.CurrentStreak,
		"longest_streak": e.LongestStreak,
	}
}

// NewStreakChangedEvent creates a new StreakChangedEvent of the given type.
func NewStreakChangedEvent(eventType EventType, userID string, day time.Time, current, longest int) StreakChangedEvent {
	return StreakChangedEvent{
		BaseEvent:     NewBaseEvent(eventType, userID),
		UserID:        userID,
		Day:           day,
		CurrentStreak: current,
		LongestStreak: longest,
	}
}

// ProfileSettingsUpdatedEvent is emitted when privacy or display settings change.
type ProfileSettingsUpdatedEvent struct {
	BaseEvent
	UserID            string `json:"user_id"`
	ShowInLeaderboard bool   `json:"show_in_leaderboard"`
	IsPublic          bool   `json:"is_public"`
}

// Payload implements Event interface.
func (e ProfileSettingsUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":             e.UserID,
		"show_in_leaderboard": e.ShowInLeaderboard,
		"is_public":           e.IsPublic,
	}
}

// NewProfileSettingsUpdatedEvent creates a new ProfileSettingsUpdatedEvent.
func NewProfileSettingsUpdatedEvent(userID string, showInLeaderboard, isPublic bool) ProfileSettingsUpdatedEvent {
	return ProfileSettingsUpdatedEvent{
		BaseEvent:         NewBaseEvent(EventProfileSettingsUpdated, userID),
		UserID:            userID,
		ShowInLeaderboard: showInLeaderboard,
		IsPublic:          isPublic,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Leaderboard Events
// ═══════════════════════════════════════════════════════════════════════════

// LeaderboardRefreshedEvent is emitted after a snapshot has been swapped in.
type LeaderboardRefreshedEvent struct {
	BaseEvent
	Period     string        `json:"period"`
	SnapshotID string        `json:"snapshot_id"`
	Entries    int           `json:"entries"`
	AsOfDay    time.Time     `json:"as_of_day"`
	Duration   time.Duration `json:"duration"`
}

// Payload implements Event interface.
func (e LeaderboardRefreshedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"period":      e.Period,
		"snapshot_id": e.SnapshotID,
		"entries":     e.Entries,
		"as_of_day":   e.AsOfDay.Format("2006-01-02"),
		"duration":    e.Duration.String(),
	}
}

// NewLeaderboardRefreshedEvent creates a new LeaderboardRefreshedEvent.
func NewLeaderboardRefreshedEvent(period, snapshotID string, entries int, asOfDay time.Time, d time.Duration) LeaderboardRefreshedEvent {
	return LeaderboardRefreshedEvent{
		BaseEvent:  NewBaseEvent(EventLeaderboardRefreshed, period),
		Period:     period,
		SnapshotID: snapshotID,
		Entries:    entries,
		AsOfDay:    asOfDay,
		Duration:   d,
	}
}

// LeaderboardRefreshFailedEvent is emitted when a refresh is abandoned.
// The previous snapshot stays current.
type LeaderboardRefreshFailedEvent struct {
	BaseEvent
	Period string `json:"period"`
	Reason string `json:"reason"`
}

// Payload implements Event interface.
func (e LeaderboardRefreshFailedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"period": e.Period,
		"reason": e.Reason,
	}
}

// NewLeaderboardRefreshFailedEvent creates a new LeaderboardRefreshFailedEvent.
func NewLeaderboardRefreshFailedEvent(period, reason string) LeaderboardRefreshFailedEvent {
	return LeaderboardRefreshFailedEvent{
		BaseEvent: NewBaseEvent(EventLeaderboardRefreshFailed, period),
		Period:    period,
		Reason:    reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher discards events. Used where no bus is wired.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
