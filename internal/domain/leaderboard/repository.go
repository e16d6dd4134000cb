package leaderboard

import (
	"context"
	"time"

	"github.com/alem-hub/study-engine/internal/domain/shared"
)

// Repository stores leaderboard snapshots.
type Repository interface {
	// ReplaceSnapshot computes the ranking of period over the window ending
	// on asOfDay and makes it current in one atomic step. Only users with
	// ShowInLeaderboard and activity in the window are included. When a
	// snapshot with a later computedAt is already current, the new one is
	// discarded and the current one returned. Cancelling ctx leaves the
	// previous snapshot current.
	ReplaceSnapshot(ctx context.Context, period Period, asOfDay, computedAt time.Time) (*SnapshotInfo, error)

	// Current returns the current snapshot with at most limit entries.
	Current(ctx context.Context, period Period, limit int) (*Snapshot, error)

	// UserEntry returns a single user's entry in the current snapshot.
	UserEntry(ctx context.Context, period Period, userID shared.UserID) (*Entry, *SnapshotInfo, error)
}

// Cache holds the current snapshot of each period for fast reads. A miss
// returns (nil, false, nil).
type Cache interface {
	GetSnapshot(ctx context.Context, period Period) (*Snapshot, bool, error)
	SetSnapshot(ctx context.Context, snap *Snapshot) error
	InvalidatePeriod(ctx context.Context, period Period) error
}
