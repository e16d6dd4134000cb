package eventhandler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-engine/internal/domain/leaderboard"
	"github.com/alem-hub/study-engine/internal/domain/progress"
	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/internal/infrastructure/messaging"
	"github.com/alem-hub/study-engine/pkg/logger"
)

type profileCacheSpy struct {
	invalidated []shared.UserID
}

func (s *profileCacheSpy) GetProfile(context.Context, shared.UserID) (*progress.Profile, bool, error) {
	return nil, false, nil
}
func (s *profileCacheSpy) SetProfile(context.Context, *progress.Profile) error { return nil }
func (s *profileCacheSpy) InvalidateProfile(_ context.Context, id shared.UserID) error {
	s.invalidated = append(s.invalidated, id)
	return nil
}

type snapshotCacheSpy struct {
	invalidated []leaderboard.Period
}

func (s *snapshotCacheSpy) GetSnapshot(context.Context, leaderboard.Period) (*leaderboard.Snapshot, bool, error) {
	return nil, false, nil
}
func (s *snapshotCacheSpy) SetSnapshot(context.Context, *leaderboard.Snapshot) error { return nil }
func (s *snapshotCacheSpy) InvalidatePeriod(_ context.Context, p leaderboard.Period) error {
	s.invalidated = append(s.invalidated, p)
	return nil
}

func newBus(t *testing.T) *messaging.InMemoryEventBus {
	t.Helper()
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{Logger: logger.Nop()})
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestProfileCacheInvalidator(t *testing.T) {
	bus := newBus(t)
	spy := &profileCacheSpy{}
	require.NoError(t, NewProfileCacheInvalidator(spy, logger.Nop()).Register(bus))

	require.NoError(t, bus.Publish(shared.NewSessionCompletedEvent("u1", "s1", 60, time.Now(), 60, 60, 1)))
	require.NoError(t, bus.Publish(shared.NewProfileSettingsUpdatedEvent("u2", false, true)))
	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u3", 1, 2, 3600)))

	assert.Equal(t, []shared.UserID{"u1", "u2"}, spy.invalidated)
}

func TestLeaderboardCacheInvalidator_LocalAndRemote(t *testing.T) {
	bus := newBus(t)
	spy := &snapshotCacheSpy{}
	require.NoError(t, NewLeaderboardCacheInvalidator(spy, logger.Nop()).Register(bus))

	require.NoError(t, bus.Publish(shared.NewLeaderboardRefreshedEvent("week", "s1", 3, time.Now(), time.Second)))
	require.NoError(t, bus.Publish(messaging.NewRemoteEvent(shared.EventLeaderboardRefreshed, "month", time.Now(),
		map[string]interface{}{"period": "month", "entries": float64(4)})))
	require.NoError(t, bus.Publish(messaging.NewRemoteEvent(shared.EventLeaderboardRefreshed, "bogus", time.Now(), nil)))

	assert.Equal(t, []leaderboard.Period{leaderboard.PeriodWeek, leaderboard.PeriodMonth}, spy.invalidated)
}

func TestRefreshStatusTracker(t *testing.T) {
	bus := newBus(t)
	tracker := NewRefreshStatusTracker(logger.Nop())
	require.NoError(t, tracker.Register(bus))

	t0 := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	refreshed := func(at time.Time, entries float64) shared.Event {
		return messaging.NewRemoteEvent(shared.EventLeaderboardRefreshed, "week", at, map[string]interface{}{
			"period": "week", "snapshot_id": "snap", "entries": entries, "duration": "1.5s",
		})
	}
	failed := func(at time.Time) shared.Event {
		return messaging.NewRemoteEvent(shared.EventLeaderboardRefreshFailed, "week", at, map[string]interface{}{
			"period": "week", "reason": "timeout",
		})
	}

	require.NoError(t, bus.Publish(refreshed(t0, 7)))
	st := tracker.Status(leaderboard.PeriodWeek)
	assert.Equal(t, leaderboard.StateIdle, st.State)
	assert.Equal(t, 7, st.LastEntryCount)
	assert.Equal(t, 1500*time.Millisecond, st.LastDuration)
	assert.False(t, st.Stale())

	require.NoError(t, bus.Publish(failed(t0.Add(time.Hour))))
	st = tracker.Status(leaderboard.PeriodWeek)
	assert.Equal(t, leaderboard.StateFailed, st.State)
	assert.True(t, st.Stale())
	assert.Equal(t, "timeout", st.LastError)

	// A late, older success does not hide the newer failure.
	require.NoError(t, bus.Publish(refreshed(t0.Add(-time.Hour), 1)))
	late := tracker.Status(leaderboard.PeriodWeek)
	assert.True(t, late.Stale())

	require.NoError(t, bus.Publish(refreshed(t0.Add(2*time.Hour), 8)))
	st = tracker.Status(leaderboard.PeriodWeek)
	assert.False(t, st.Stale())
	assert.Empty(t, st.LastError)

	assert.Len(t, tracker.Statuses(), 3)
	assert.Equal(t, leaderboard.StateIdle, tracker.Status(leaderboard.PeriodYear).State)
}

type refresherStub struct {
	calls int
	err   error
}

func (r *refresherStub) RefreshAll(context.Context) ([]leaderboard.RefreshResult, error) {
	r.calls++
	return nil, r.err
}

func TestPrivacyRefresher(t *testing.T) {
	bus := newBus(t)
	stub := &refresherStub{}
	require.NoError(t, NewPrivacyRefresher(stub, time.Second, logger.Nop()).Register(bus))

	require.NoError(t, bus.Publish(shared.NewProfileSettingsUpdatedEvent("u1", true, false)))
	assert.Equal(t, 0, stub.calls)

	require.NoError(t, bus.Publish(shared.NewProfileSettingsUpdatedEvent("u1", false, false)))
	assert.Equal(t, 1, stub.calls)

	stub.err = errors.New("db down")
	assert.Error(t, NewPrivacyRefresher(stub, time.Second, logger.Nop()).Handle(shared.NewProfileSettingsUpdatedEvent("u1", false, false)))
}
