package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/study-engine/internal/domain/progress"
	"github.com/alem-hub/study-engine/internal/domain/session"
	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/pkg/timeutil"
)

// WithinUserLock implements progress.Transactor.
func (s *Store) WithinUserLock(ctx context.Context, userID shared.UserID, fn func(ctx context.Context, uow progress.UnitOfWork) error) error {
	release, err := s.acquire(ctx, userID)
	if err != nil {
		return err
	}
	defer release()

	u := &unit{
		store:     s,
		userID:    userID,
		summaries: make(map[string]int64),
		tasks:     make(map[string]int64),
	}
	if err := fn(ctx, u); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(u)
}

// unit stages the writes of one unit of work.
type unit struct {
	store  *Store
	userID shared.UserID

	sessions  []uuid.UUID
	profile   *progress.Profile
	summaries map[string]int64
	tasks     map[string]int64
}

func (u *unit) own(userID shared.UserID) error {
	if userID != u.userID {
		return fmt.Errorf("unit of work for %s cannot touch %s", u.userID, userID)
	}
	return nil
}

// RecordSession implements progress.UnitOfWork.
func (u *unit) RecordSession(_ context.Context, cs *session.CompletedSession) (bool, error) {
	if err := u.own(cs.UserID); err != nil {
		return false, err
	}
	for _, id := range u.sessions {
		if id == cs.ID {
			return false, nil
		}
	}

	u.store.mu.RLock()
	owner, seen := u.store.sessions[cs.ID]
	u.store.mu.RUnlock()
	if seen {
		if owner != cs.UserID {
			return false, shared.ErrSessionOwner
		}
		return false, nil
	}

	u.sessions = append(u.sessions, cs.ID)
	return true, nil
}

// LoadProfileForUpdate implements progress.UnitOfWork.
func (u *unit) LoadProfileForUpdate(_ context.Context, userID shared.UserID) (*progress.Profile, error) {
	if err := u.own(userID); err != nil {
		return nil, err
	}
	if u.profile != nil {
		return u.profile.Clone(), nil
	}

	u.store.mu.RLock()
	p, ok := u.store.profiles[userID]
	u.store.mu.RUnlock()
	if ok {
		return p.Clone(), nil
	}
	return progress.NewProfile(userID, u.store.now()), nil
}

// SaveProfile implements progress.UnitOfWork.
func (u *unit) SaveProfile(_ context.Context, p *progress.Profile) error {
	if err := u.own(p.UserID); err != nil {
		return err
	}
	if err := p.CheckInvariants(u.store.policy); err != nil {
		return err
	}
	u.profile = p.Clone()
	return nil
}

// HasSummary implements progress.UnitOfWork.
func (u *unit) HasSummary(_ context.Context, userID shared.UserID, day time.Time) (bool, error) {
	if err := u.own(userID); err != nil {
		return false, err
	}
	key := timeutil.FormatDay(day)
	if _, ok := u.summaries[key]; ok {
		return true, nil
	}

	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	_, ok := u.store.summaries[userID][key]
	return ok, nil
}

// LatestSummaryBefore implements progress.UnitOfWork.
func (u *unit) LatestSummaryBefore(_ context.Context, userID shared.UserID, day time.Time) (*time.Time, error) {
	if err := u.own(userID); err != nil {
		return nil, err
	}
	day = timeutil.StartOfDay(day)

	var latest *time.Time
	consider := func(d time.Time) {
		if d.Before(day) && (latest == nil || d.After(*latest)) {
			c := d
			latest = &c
		}
	}

	for key := range u.summaries {
		if d, err := timeutil.ParseDay(key); err == nil {
			consider(d)
		}
	}

	u.store.mu.RLock()
	for _, sum := range u.store.summaries[userID] {
		consider(sum.Date)
	}
	u.store.mu.RUnlock()

	return latest, nil
}

// UpsertAddSummary implements progress.UnitOfWork.
func (u *unit) UpsertAddSummary(_ context.Context, userID shared.UserID, day time.Time, delta int64) (int64, error) {
	if err := u.own(userID); err != nil {
		return 0, err
	}
	key := timeutil.FormatDay(day)
	u.summaries[key] += delta

	var committed int64
	u.store.mu.RLock()
	if sum, ok := u.store.summaries[userID][key]; ok {
		committed = sum.TotalSeconds
	}
	u.store.mu.RUnlock()

	return committed + u.summaries[key], nil
}

// AddTaskTime implements progress.UnitOfWork. A failed call stages nothing.
func (u *unit) AddTaskTime(_ context.Context, taskID string, userID shared.UserID, delta int64) error {
	if err := u.own(userID); err != nil {
		return err
	}

	u.store.mu.RLock()
	t, ok := u.store.tasks[taskID]
	owned := ok && t.UserID == userID
	u.store.mu.RUnlock()

	if !owned {
		return shared.ErrTaskNotFound
	}
	u.tasks[taskID] += delta
	return nil
}

// commit applies the staged writes. The profile row is created even when
// the unit did not save it, like the INSERT that precedes the row lock in
// PostgreSQL.
func (s *Store) commit(u *unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range u.sessions {
		if _, seen := s.sessions[id]; seen {
			// Another user's unit recorded the same id first.
			return shared.ErrSessionOwner
		}
	}

	now := s.now()

	stored, ok := s.profiles[u.userID]
	if !ok {
		stored = progress.NewProfile(u.userID, now)
		s.profiles[u.userID] = stored
	}
	if u.profile != nil {
		stored.XPTotal = u.profile.XPTotal
		stored.Level = u.profile.Level
		stored.CurrentStreak = u.profile.CurrentStreak
		if u.profile.LongestStreak > stored.LongestStreak {
			stored.LongestStreak = u.profile.LongestStreak
		}
		stored.LastActiveDay = u.profile.LastActiveDay
		stored.UpdatedAt = now
	}

	for _, id := range u.sessions {
		s.sessions[id] = u.userID
	}

	if len(u.summaries) > 0 {
		days, ok := s.summaries[u.userID]
		if !ok {
			days = make(map[string]*progress.DailySummary)
			s.summaries[u.userID] = days
		}
		for key, delta := range u.summaries {
			sum, ok := days[key]
			if !ok {
				d, err := timeutil.ParseDay(key)
				if err != nil {
					return fmt.Errorf("failed to parse summary day %q: %w", key, err)
				}
				sum = &progress.DailySummary{UserID: u.userID, Date: d}
				days[key] = sum
			}
			sum.TotalSeconds += delta
			sum.UpdatedAt = now
		}
	}

	for id, delta := range u.tasks {
		if t, ok := s.tasks[id]; ok {
			t.LoggedSeconds += delta
			t.UpdatedAt = now
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// READ OPERATIONS
// ─────────────────────────────────────────────────────────────────────────────

// GetProfile implements progress.ReadRepository.
func (s *Store) GetProfile(_ context.Context, userID shared.UserID) (*progress.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, shared.ErrProfileNotFound
	}
	return p.Clone(), nil
}

// ListDailySummaries implements progress.ReadRepository.
func (s *Store) ListDailySummaries(_ context.Context, userID shared.UserID, r progress.DateRange) ([]progress.DailySummary, error) {
	from := timeutil.StartOfDay(r.From)
	to := timeutil.StartOfDay(r.To)

	s.mu.RLock()
	out := make([]progress.DailySummary, 0)
	for _, sum := range s.summaries[userID] {
		if sum.Date.Before(from) || sum.Date.After(to) {
			continue
		}
		out = append(out, *sum)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

// UpdateSettings implements progress.ReadRepository.
func (s *Store) UpdateSettings(_ context.Context, userID shared.UserID, settings progress.Settings) (*progress.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	p, ok := s.profiles[userID]
	if !ok {
		p = progress.NewProfile(userID, now)
		s.profiles[userID] = p
	}
	settings.Apply(p, now)
	return p.Clone(), nil
}
