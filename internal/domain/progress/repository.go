package progress

import (
	"context"
	"time"

	"github.com/alem-hub/study-engine/internal/domain/session"
	"github.com/alem-hub/study-engine/internal/domain/shared"
)

// Transactor opens per-user units of work.
type Transactor interface {
	// WithinUserLock runs fn in one transaction that holds the user's lock.
	// Waiting longer than the configured lock timeout fails with an error
	// matching shared.ErrLockTimeout. fn's writes are committed only if it
	// returns nil.
	WithinUserLock(ctx context.Context, userID shared.UserID, fn func(ctx context.Context, uow UnitOfWork) error) error
}

// UnitOfWork is the write surface available inside WithinUserLock.
type UnitOfWork interface {
	// RecordSession stores the session fact. It returns false when the
	// session id was already recorded, in which case nothing else must be
	// written.
	RecordSession(ctx context.Context, s *session.CompletedSession) (bool, error)

	// LoadProfileForUpdate returns the locked profile, creating the default
	// profile on first use.
	LoadProfileForUpdate(ctx context.Context, userID shared.UserID) (*Profile, error)

	// SaveProfile persists counters (xp, level, streaks, last active day).
	SaveProfile(ctx context.Context, p *Profile) error

	// HasSummary reports whether (userID, day) already has a summary row.
	HasSummary(ctx context.Context, userID shared.UserID, day time.Time) (bool, error)

	// LatestSummaryBefore returns the most recent summary day strictly
	// before day, or nil.
	LatestSummaryBefore(ctx context.Context, userID shared.UserID, day time.Time) (*time.Time, error)

	// UpsertAddSummary atomically adds delta to (userID, day), creating the
	// row if needed, and returns the new total.
	UpsertAddSummary(ctx context.Context, userID shared.UserID, day time.Time, delta int64) (int64, error)

	// AddTaskTime adds delta to a task's logged time. It runs in a nested
	// scope: an error leaves the rest of the unit intact.
	AddTaskTime(ctx context.Context, taskID string, userID shared.UserID, delta int64) error
}

// ReadRepository serves profile and summary reads and settings updates.
type ReadRepository interface {
	GetProfile(ctx context.Context, userID shared.UserID) (*Profile, error)
	ListDailySummaries(ctx context.Context, userID shared.UserID, r DateRange) ([]DailySummary, error)
	UpdateSettings(ctx context.Context, userID shared.UserID, s Settings) (*Profile, error)
}

// ProfileCache is a read-through cache for profiles. A miss returns
// (nil, false, nil).
type ProfileCache interface {
	GetProfile(ctx context.Context, userID shared.UserID) (*Profile, bool, error)
	SetProfile(ctx context.Context, p *Profile) error
	InvalidateProfile(ctx context.Context, userID shared.UserID) error
}
