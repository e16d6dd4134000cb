package leaderboard

import (
	"fmt"
	"time"

	"github.com/alem-hub/study-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MATERIALIZER STATE
// ══════════════════════════════════════════════════════════════════════════════

// State is the refresh state of one period.
type State string

const (
	StateIdle       State = "idle"
	StateRefreshing State = "refreshing"
	StateFailed     State = "failed"
)

// transitions is Idle -> Refreshing -> Idle, and Refreshing -> Failed -> Idle.
var transitions = map[State][]State{
	StateIdle:       {StateRefreshing},
	StateRefreshing: {StateIdle, StateFailed},
	StateFailed:     {StateIdle},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RefreshStatus is the observable state of one period's materialization.
type RefreshStatus struct {
	Period          Period
	State           State
	InFlight        int
	LastSnapshotID  string
	LastEntryCount  int
	LastRefreshedAt time.Time
	LastDuration    time.Duration
	LastFailedAt    time.Time
	LastError       string
	Refreshes       int64
	Failures        int64
}

// NewRefreshStatus returns the idle status of a period.
func NewRefreshStatus(p Period) *RefreshStatus {
	return &RefreshStatus{Period: p, State: StateIdle}
}

// Transition moves the status to next, rejecting illegal moves.
func (s *RefreshStatus) Transition(next State) error {
	if !CanTransition(s.State, next) {
		return shared.WrapError("leaderboard", "Transition", shared.ErrStateTransition,
			"invalid materializer state transition",
			fmt.Errorf("%s: %s -> %s", s.Period, s.State, next))
	}
	s.State = next
	return nil
}

// Stale reports whether readers are being served data older than the
// latest attempt: the last attempt failed after the last success.
func (s *RefreshStatus) Stale() bool {
	return !s.LastFailedAt.IsZero() && s.LastFailedAt.After(s.LastRefreshedAt)
}

// RefreshResult is the outcome of refreshing one period.
type RefreshResult struct {
	Period   Period
	Snapshot *SnapshotInfo
	Duration time.Duration
	Err      error
}
