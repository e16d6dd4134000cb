// Package memory implements the progress and leaderboard stores in process
// memory. It backs STORAGE_DRIVER=memory and the application tests.
//
// Locking mirrors the PostgreSQL store: every user has a lock that is held
// for the whole unit of work, and waiting for it is bounded by a timeout.
// Writes of a unit are staged and applied under the store mutex on success,
// so a failed unit leaves nothing behind.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/study-engine/internal/domain/leaderboard"
	"github.com/alem-hub/study-engine/internal/domain/progress"
	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Task is a study task owned by a user. Tasks are created outside the
// engine; the engine only adds logged time.
type Task struct {
	ID             string
	UserID         shared.UserID
	Title          string
	PlannedSeconds int64
	LoggedSeconds  int64
	UpdatedAt      time.Time
}

// SwapHook runs after a leaderboard ranking is computed and before it is made
// current. Returning an error abandons the refresh.
type SwapHook func(ctx context.Context, period leaderboard.Period) error

// Store is an in-memory implementation of progress.Transactor,
// progress.ReadRepository and leaderboard.Repository.
type Store struct {
	mu sync.RWMutex

	profiles  map[shared.UserID]*progress.Profile
	sessions  map[uuid.UUID]shared.UserID
	summaries map[shared.UserID]map[string]*progress.DailySummary
	tasks     map[string]*Task
	snapshots map[leaderboard.Period]*leaderboard.Snapshot

	locksMu sync.Mutex
	locks   map[shared.UserID]chan struct{}

	lockTimeout time.Duration
	policy      shared.LevelPolicy
	now         timeutil.Clock
	beforeSwap  SwapHook
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds how long a unit of work waits for a user's lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithLevelPolicy sets the policy used to validate saved profiles.
func WithLevelPolicy(p shared.LevelPolicy) Option {
	return func(s *Store) {
		s.policy = p
	}
}

// WithClock sets the time source for UpdatedAt stamps.
func WithClock(c timeutil.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.now = c
		}
	}
}

// WithSwapHook installs a hook that runs before each snapshot swap.
func WithSwapHook(h SwapHook) Option {
	return func(s *Store) {
		s.beforeSwap = h
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		profiles:    make(map[shared.UserID]*progress.Profile),
		sessions:    make(map[uuid.UUID]shared.UserID),
		summaries:   make(map[shared.UserID]map[string]*progress.DailySummary),
		tasks:       make(map[string]*Task),
		snapshots:   make(map[leaderboard.Period]*leaderboard.Snapshot),
		locks:       make(map[shared.UserID]chan struct{}),
		lockTimeout: 5 * time.Second,
		policy:      shared.DefaultLevelPolicy(),
		now:         timeutil.SystemClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping implements the readiness check. The store is always available.
func (s *Store) Ping(context.Context) error {
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// PER-USER LOCKS
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) userLock(userID shared.UserID) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.locks[userID]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[userID] = l
	}
	return l
}

// acquire takes the user's lock, waiting at most lockTimeout.
func (s *Store) acquire(ctx context.Context, userID shared.UserID) (func(), error) {
	l := s.userLock(userID)

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case l <- struct{}{}:
		return func() { <-l }, nil
	case <-timer.C:
		return nil, shared.ErrUserLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// TASKS
// ─────────────────────────────────────────────────────────────────────────────

// SeedTask stores a task.
func (s *Store) SeedTask(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := t
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = s.now()
	}
	s.tasks[t.ID] = &c
}

// Task returns a copy of a task.
func (s *Store) Task(id string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// SessionCount returns how many distinct sessions were applied.
func (s *Store) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

var (
	_ progress.Transactor     = (*Store)(nil)
	_ progress.ReadRepository = (*Store)(nil)
	_ leaderboard.Repository  = (*Store)(nil)
)
