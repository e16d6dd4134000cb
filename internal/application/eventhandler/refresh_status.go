package eventhandler

import (
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/study-engine/internal/domain/leaderboard"
	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/pkg/logger"
)

// RefreshStatusTracker rebuilds per-period refresh status from refresh
// events. The API uses it when refreshes run in the worker process and
// arrive through the Redis event bus.
type RefreshStatusTracker struct {
	mu       sync.RWMutex
	statuses map[leaderboard.Period]*leaderboard.RefreshStatus
	log      *logger.Logger
}

// NewRefreshStatusTracker creates a tracker with every period idle.
func NewRefreshStatusTracker(log *logger.Logger) *RefreshStatusTracker {
	if log == nil {
		log = logger.Default()
	}
	statuses := make(map[leaderboard.Period]*leaderboard.RefreshStatus, len(leaderboard.AllPeriods))
	for _, p := range leaderboard.AllPeriods {
		statuses[p] = leaderboard.NewRefreshStatus(p)
	}
	return &RefreshStatusTracker{
		statuses: statuses,
		log:      log.With(logger.Component("refresh_status_tracker")),
	}
}

// Register subscribes the tracker to both refresh outcomes.
func (t *RefreshStatusTracker) Register(bus shared.EventSubscriber) error {
	if err := bus.Subscribe(shared.EventLeaderboardRefreshed, t.Handle); err != nil {
		return err
	}
	return bus.Subscribe(shared.EventLeaderboardRefreshFailed, t.Handle)
}

// Handle applies one refresh event. Older events than the recorded outcome
// are ignored, since the bus does not guarantee order across processes.
func (t *RefreshStatusTracker) Handle(event shared.Event) error {
	period, ok := periodOf(event)
	if !ok {
		return nil
	}
	payload := event.Payload()
	at := event.OccurredAt().UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.statuses[period]
	switch event.EventType() {
	case shared.EventLeaderboardRefreshed:
		if at.Before(st.LastRefreshedAt) {
			return nil
		}
		st.Refreshes++
		st.LastRefreshedAt = at
		st.LastSnapshotID, _ = payload["snapshot_id"].(string)
		st.LastEntryCount = intValue(payload["entries"])
		if d, err := time.ParseDuration(stringValue(payload["duration"])); err == nil {
			st.LastDuration = d
		}
		st.LastError = ""
		st.State = leaderboard.StateIdle
	case shared.EventLeaderboardRefreshFailed:
		if at.Before(st.LastFailedAt) {
			return nil
		}
		st.Failures++
		st.LastFailedAt = at
		st.LastError = stringValue(payload["reason"])
		st.State = leaderboard.StateFailed
	}
	return nil
}

// Status implements query.StatusSource.
func (t *RefreshStatusTracker) Status(period leaderboard.Period) leaderboard.RefreshStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if st, ok := t.statuses[period]; ok {
		return *st
	}
	return *leaderboard.NewRefreshStatus(period)
}

// Statuses returns every period's status, ordered week, month, year.
func (t *RefreshStatusTracker) Statuses() []leaderboard.RefreshStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]leaderboard.RefreshStatus, 0, len(t.statuses))
	for _, st := range t.statuses {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period.Days() < out[j].Period.Days() })
	return out
}

// intValue reads a number that may have gone through JSON.
func intValue(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}
