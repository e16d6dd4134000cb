package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/pkg/logger"
)

func TestInMemoryEventBus_SyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Logger: logger.Nop(), EnableMetrics: true})
	defer bus.Close()

	var got []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventSessionCompleted, func(e shared.Event) error {
		got = append(got, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		got = append(got, "all:"+e.EventType())
		return errors.New("ignored")
	}))

	ev := shared.NewSessionCompletedEvent("u1", "s1", 60, time.Now(), 60, 60, 1)
	require.NoError(t, bus.Publish(ev))
	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", 1, 2, 3600)))

	assert.Equal(t, []shared.EventType{
		shared.EventSessionCompleted,
		"all:" + shared.EventSessionCompleted,
		"all:" + shared.EventLevelUp,
	}, got)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalPublished)
	assert.Equal(t, int64(3), snap.TotalHandlerExecs)
	assert.Equal(t, int64(2), snap.HandlerFailures)
}

func TestInMemoryEventBus_RecoversPanics(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{
		Logger:        logger.Nop(),
		EnableMetrics: true,
		Middlewares:   []Middleware{RecoveryMiddleware(logger.Nop())},
	})
	defer bus.Close()

	called := false
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(shared.Event) error { panic("boom") }))
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(shared.Event) error { called = true; return nil }))

	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", 1, 2, 3600)))
	assert.True(t, called)
	assert.Equal(t, int64(1), bus.Metrics().Snapshot().HandlerFailures)
}

func TestInMemoryEventBus_AsyncCloseWaits(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Logger: logger.Nop(), AsyncMode: true, WorkerPoolSize: 2})

	var mu sync.Mutex
	count := 0
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(shared.Event) error {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", 1, 2, 3600)))
	}
	require.NoError(t, bus.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, count)
	assert.ErrorIs(t, bus.Publish(shared.NewLevelUpEvent("u1", 1, 2, 3600)), ErrEventBusClosed)
}

// fakeRedis loops published messages back to subscribers.
type fakeRedis struct {
	mu        sync.Mutex
	published []string
	ch        chan RedisMessage
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{ch: make(chan RedisMessage, 16)}
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) error {
	f.mu.Lock()
	f.published = append(f.published, message.(string))
	f.mu.Unlock()
	f.ch <- RedisMessage{Channel: channel, Payload: message.(string)}
	return nil
}

func (f *fakeRedis) Subscribe(context.Context, ...string) (<-chan RedisMessage, error) {
	return f.ch, nil
}

func (f *fakeRedis) Close() error { return nil }

func TestRedisEventBus_ForwardsAndReceivesRemote(t *testing.T) {
	fake := newFakeRedis()
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:     fake,
		InstanceID: "api-1",
		Forward:    []shared.EventType{shared.EventLeaderboardRefreshed},
		Logger:     logger.Nop(),
	})
	require.NoError(t, err)
	defer bus.Close()

	received := make(chan shared.Event, 4)
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		received <- e
		return nil
	}))

	// Local publish: delivered once locally, its echo from Redis is skipped.
	ev := shared.NewLeaderboardRefreshedEvent("week", "snap-1", 3, time.Now(), time.Second)
	require.NoError(t, bus.Publish(ev))
	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", 1, 2, 3600)))

	fake.mu.Lock()
	assert.Len(t, fake.published, 1)
	fake.mu.Unlock()

	// A message from another instance is delivered as a RemoteEvent.
	data, err := json.Marshal(eventEnvelope{
		InstanceID:  "worker-1",
		EventType:   shared.EventLeaderboardRefreshFailed,
		AggregateID: "month",
		OccurredAt:  time.Now(),
		Payload:     map[string]interface{}{"period": "month", "reason": "timeout"},
	})
	require.NoError(t, err)
	fake.ch <- RedisMessage{Payload: string(data)}

	var types []shared.EventType
	deadline := time.After(time.Second)
	for len(types) < 3 {
		select {
		case e := <-received:
			types = append(types, e.EventType())
			if e.EventType() == shared.EventLeaderboardRefreshFailed {
				assert.Equal(t, "timeout", e.Payload()["reason"])
			}
		case <-deadline:
			t.Fatalf("timed out, got %v", types)
		}
	}
	assert.ElementsMatch(t, []shared.EventType{
		shared.EventLeaderboardRefreshed,
		shared.EventLevelUp,
		shared.EventLeaderboardRefreshFailed,
	}, types)
}
