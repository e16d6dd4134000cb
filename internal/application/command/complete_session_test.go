package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-engine/internal/domain/progress"
	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/study-engine/pkg/logger"
	"github.com/alem-hub/study-engine/pkg/timeutil"
)

var dayD = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) Publish(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []shared.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shared.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType()
	}
	return out
}

func (r *recorder) count(t shared.EventType) int {
	n := 0
	for _, got := range r.types() {
		if got == t {
			n++
		}
	}
	return n
}

func newHandler(tx progress.Transactor, pub shared.EventPublisher, mutate ...func(*SessionCompletionConfig)) *SessionCompletionHandler {
	cfg := DefaultSessionCompletionConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.Clock = timeutil.FixedClock(dayD.Add(30 * 24 * time.Hour))
	for _, m := range mutate {
		m(&cfg)
	}
	return NewSessionCompletionHandler(tx, pub, logger.Nop(), cfg)
}

func completeCmd(userID string, start time.Time, seconds int64) CompleteSessionCommand {
	return CompleteSessionCommand{
		SessionID: uuid.NewString(),
		UserID:    userID,
		SubjectID: "math",
		StartedAt: start,
		EndedAt:   start.Add(time.Duration(seconds) * time.Second),
	}
}

func summaryTotal(t *testing.T, store *memory.Store, userID shared.UserID, day time.Time) int64 {
	t.Helper()
	rows, err := store.ListDailySummaries(context.Background(), userID, progress.DateRange{From: day, To: day})
	require.NoError(t, err)
	if len(rows) == 0 {
		return 0
	}
	return rows[0].TotalSeconds
}

func TestSessionCompletion_StreakScenario(t *testing.T) {
	store := memory.NewStore()
	h := newHandler(store, &recorder{})
	ctx := context.Background()

	res, err := h.Handle(ctx, completeCmd("u1", dayD.Add(9*time.Hour), 1500))
	require.NoError(t, err)
	assert.Equal(t, int64(1500), res.XPTotal)
	assert.Equal(t, 1, res.Level)
	assert.Equal(t, 1, res.CurrentStreak)
	assert.Equal(t, 1, res.LongestStreak)
	assert.Equal(t, int64(1500), res.DayTotalSeconds)
	assert.Equal(t, "started", res.Streak)
	assert.Equal(t, 1, res.Attempts)

	res, err = h.Handle(ctx, completeCmd("u1", dayD.Add(15*time.Hour), 600))
	require.NoError(t, err)
	assert.Equal(t, int64(2100), res.XPTotal)
	assert.Equal(t, 1, res.CurrentStreak)
	assert.Equal(t, int64(2100), res.DayTotalSeconds)
	assert.Equal(t, "unchanged", res.Streak)
	assert.Equal(t, int64(2100), summaryTotal(t, store, "u1", dayD))

	res, err = h.Handle(ctx, completeCmd("u1", dayD.AddDate(0, 0, 1).Add(8*time.Hour), 60))
	require.NoError(t, err)
	assert.Equal(t, 2, res.CurrentStreak)
	assert.Equal(t, 2, res.LongestStreak)

	res, err = h.Handle(ctx, completeCmd("u1", dayD.AddDate(0, 0, 3).Add(8*time.Hour), 60))
	require.NoError(t, err)
	assert.Equal(t, 1, res.CurrentStreak)
	assert.Equal(t, 2, res.LongestStreak)
	assert.Equal(t, "reset", res.Streak)

	p, err := store.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, shared.XP(2220), p.XPTotal)
	assert.NoError(t, p.CheckInvariants(shared.DefaultLevelPolicy()))
}

func TestSessionCompletion_ConcurrentSameDay(t *testing.T) {
	store := memory.NewStore()
	h := newHandler(store, &recorder{})
	ctx := context.Background()

	_, err := h.Handle(ctx, completeCmd("u1", dayD.Add(-12*time.Hour), 100))
	require.NoError(t, err)

	const n = 50
	var (
		wg   sync.WaitGroup
		want int64
		errs = make(chan error, n)
	)
	for i := 0; i < n; i++ {
		seconds := int64(60 + i)
		want += seconds
		cmd := completeCmd("u1", dayD.Add(time.Duration(i)*time.Minute), seconds)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Handle(ctx, cmd)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	p, err := store.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.CurrentStreak)
	assert.Equal(t, 2, p.LongestStreak)
	assert.Equal(t, shared.XP(100+want), p.XPTotal)
	assert.Equal(t, want, summaryTotal(t, store, "u1", dayD))
	assert.Equal(t, n+1, store.SessionCount())
}

func TestSessionCompletion_DuplicateIsNoOp(t *testing.T) {
	store := memory.NewStore()
	rec := &recorder{}
	h := newHandler(store, rec)
	ctx := context.Background()

	cmd := completeCmd("u1", dayD.Add(time.Hour), 4000)
	first, err := h.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, first.LeveledUp)

	second, err := h.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.XPTotal, second.XPTotal)
	assert.Equal(t, first.CurrentStreak, second.CurrentStreak)

	assert.Equal(t, int64(4000), summaryTotal(t, store, "u1", dayD))
	assert.Equal(t, 1, rec.count(shared.EventSessionCompleted))
	assert.Equal(t, []shared.EventType{
		shared.EventSessionCompleted,
		shared.EventLevelUp,
		shared.EventStreakStarted,
	}, rec.types())
}

func TestSessionCompletion_LateSessionFillsGap(t *testing.T) {
	store := memory.NewStore()
	h := newHandler(store, &recorder{})
	ctx := context.Background()

	_, err := h.Handle(ctx, completeCmd("u1", dayD, 60))
	require.NoError(t, err)

	res, err := h.Handle(ctx, completeCmd("u1", dayD.AddDate(0, 0, 2), 60))
	require.NoError(t, err)
	assert.Equal(t, "reset", res.Streak)
	assert.Equal(t, 1, res.CurrentStreak)

	res, err = h.Handle(ctx, completeCmd("u1", dayD.AddDate(0, 0, 1), 60))
	require.NoError(t, err)
	assert.Equal(t, "extended", res.Streak)
	assert.Equal(t, 2, res.CurrentStreak)
	assert.Equal(t, 2, res.LongestStreak)
	assert.Equal(t, int64(180), res.XPTotal)
	assert.Equal(t, int64(60), summaryTotal(t, store, "u1", dayD.AddDate(0, 0, 1)))

	p, err := store.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, dayD.AddDate(0, 0, 2), p.LastActiveDay)
}

func TestSessionCompletion_OlderSessionWithoutHistoryStarts(t *testing.T) {
	store := memory.NewStore()
	h := newHandler(store, &recorder{})
	ctx := context.Background()

	_, err := h.Handle(ctx, completeCmd("u1", dayD.AddDate(0, 0, 2), 60))
	require.NoError(t, err)

	res, err := h.Handle(ctx, completeCmd("u1", dayD, 60))
	require.NoError(t, err)
	assert.Equal(t, "started", res.Streak)
	assert.Equal(t, 1, res.CurrentStreak)
	assert.Equal(t, int64(120), res.XPTotal)

	p, err := store.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, dayD.AddDate(0, 0, 2), p.LastActiveDay)
}

func TestSessionCompletion_SessionIDReusedByAnotherUser(t *testing.T) {
	store := memory.NewStore()
	h := newHandler(store, &recorder{})
	ctx := context.Background()

	cmd := completeCmd("u1", dayD, 300)
	_, err := h.Handle(ctx, cmd)
	require.NoError(t, err)

	cmd.UserID = "u2"
	res, err := h.Handle(ctx, cmd)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, shared.ErrSessionOwner)
	assert.True(t, shared.IsValidation(err))

	_, err = store.GetProfile(ctx, "u2")
	assert.True(t, shared.IsNotFound(err))
}

func TestSessionCompletion_Validation(t *testing.T) {
	store := memory.NewStore()
	h := newHandler(store, &recorder{})

	bad := completeCmd("u1", dayD, 60)
	bad.SessionID = "not-a-uuid"
	_, err := h.Handle(context.Background(), bad)
	assert.True(t, shared.IsValidation(err))

	inverted := completeCmd("u1", dayD, 60)
	inverted.EndedAt = inverted.StartedAt.Add(-time.Minute)
	_, err = h.Handle(context.Background(), inverted)
	assert.True(t, shared.IsValidation(err))

	assert.Equal(t, 0, store.SessionCount())
}

func TestSessionCompletion_TaskLinking(t *testing.T) {
	ctx := context.Background()

	t.Run("lenient skips a missing task", func(t *testing.T) {
		store := memory.NewStore()
		h := newHandler(store, &recorder{})

		cmd := completeCmd("u1", dayD, 300)
		cmd.TaskID = "missing"
		res, err := h.Handle(ctx, cmd)
		require.NoError(t, err)
		assert.False(t, res.TaskLinked)
		assert.Equal(t, int64(300), res.XPTotal)
	})

	t.Run("lenient links an owned task", func(t *testing.T) {
		store := memory.NewStore()
		store.SeedTask(memory.Task{ID: "t1", UserID: "u1", Title: "algebra"})
		h := newHandler(store, &recorder{})

		cmd := completeCmd("u1", dayD, 300)
		cmd.TaskID = "t1"
		res, err := h.Handle(ctx, cmd)
		require.NoError(t, err)
		assert.True(t, res.TaskLinked)

		task, ok := store.Task("t1")
		require.True(t, ok)
		assert.Equal(t, int64(300), task.LoggedSeconds)
	})

	t.Run("strict aborts the whole unit", func(t *testing.T) {
		store := memory.NewStore()
		store.SeedTask(memory.Task{ID: "t1", UserID: "someone-else"})
		h := newHandler(store, &recorder{}, func(c *SessionCompletionConfig) { c.LinkMode = TaskLinkStrict })

		cmd := completeCmd("u1", dayD, 300)
		cmd.TaskID = "t1"
		_, err := h.Handle(ctx, cmd)
		require.Error(t, err)
		assert.True(t, shared.IsNotFound(err))

		assert.Equal(t, 0, store.SessionCount())
		_, err = store.GetProfile(ctx, "u1")
		assert.True(t, shared.IsNotFound(err))
	})
}

// flakyTx fails the first failures calls with a lock timeout.
type flakyTx struct {
	next     progress.Transactor
	failures int
	calls    int
}

func (f *flakyTx) WithinUserLock(ctx context.Context, userID shared.UserID, fn func(context.Context, progress.UnitOfWork) error) error {
	f.calls++
	if f.calls <= f.failures {
		return shared.ErrUserLockTimeout
	}
	return f.next.WithinUserLock(ctx, userID, fn)
}

func TestSessionCompletion_RetriesConflictOnce(t *testing.T) {
	store := memory.NewStore()
	tx := &flakyTx{next: store, failures: 1}
	h := newHandler(tx, &recorder{})

	res, err := h.Handle(context.Background(), completeCmd("u1", dayD, 60))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, tx.calls)
}

func TestSessionCompletion_RetriesExhausted(t *testing.T) {
	rec := &recorder{}
	tx := &flakyTx{next: memory.NewStore(), failures: 10}
	h := newHandler(tx, rec)

	_, err := h.Handle(context.Background(), completeCmd("u1", dayD, 60))
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrRetriesExhausted))
	assert.True(t, shared.IsConflict(err))
	assert.Equal(t, 2, tx.calls)
	assert.Empty(t, rec.types())
}

func TestSessionCompletion_NonConflictIsNotRetried(t *testing.T) {
	boom := errors.New("disk on fire")
	calls := 0
	tx := txFunc(func(context.Context, shared.UserID, func(context.Context, progress.UnitOfWork) error) error {
		calls++
		return boom
	})
	h := newHandler(tx, &recorder{})

	_, err := h.Handle(context.Background(), completeCmd("u1", dayD, 60))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

type txFunc func(context.Context, shared.UserID, func(context.Context, progress.UnitOfWork) error) error

func (f txFunc) WithinUserLock(ctx context.Context, userID shared.UserID, fn func(context.Context, progress.UnitOfWork) error) error {
	return f(ctx, userID, fn)
}

func TestParseTaskLinkMode(t *testing.T) {
	m, err := ParseTaskLinkMode(" Strict ")
	require.NoError(t, err)
	assert.Equal(t, TaskLinkStrict, m)

	_, err = ParseTaskLinkMode("sometimes")
	assert.Error(t, err)
}
