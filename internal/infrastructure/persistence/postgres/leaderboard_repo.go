package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/study-engine/internal/domain/leaderboard"
	"github.com/alem-hub/study-engine/internal/domain/progress"
	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardRepository implements leaderboard.Repository for PostgreSQL.
type LeaderboardRepository struct {
	conn *Connection
}

// NewLeaderboardRepository creates a new LeaderboardRepository.
func NewLeaderboardRepository(conn *Connection) *LeaderboardRepository {
	return &LeaderboardRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// SNAPSHOT OPERATIONS
// ─────────────────────────────────────────────────────────────────────────────

// ReplaceSnapshot implements leaderboard.Repository.
//
// The ranking is computed by the database straight into leaderboard_entries
// under a fresh snapshot id, then leaderboard_current is moved to it. All of
// this is one transaction, so readers see either the old or the new snapshot.
func (r *LeaderboardRepository) ReplaceSnapshot(ctx context.Context, period leaderboard.Period, asOfDay, computedAt time.Time) (*leaderboard.SnapshotInfo, error) {
	if !period.IsValid() {
		return nil, shared.ErrInvalidPeriod
	}
	asOfDay = timeutil.StartOfDay(asOfDay)
	from := period.WindowStart(asOfDay)

	info := &leaderboard.SnapshotInfo{
		ID:         uuid.New().String(),
		Period:     period,
		AsOfDay:    asOfDay,
		ComputedAt: computedAt.UTC(),
	}

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO leaderboard_snapshots (id, period, as_of_day, computed_at)
			VALUES ($1, $2, $3, $4)
		`, info.ID, period.String(), asOfDay, info.ComputedAt); err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO leaderboard_entries (snapshot_id, rank, user_id, username, level, total_seconds)
			SELECT $1,
				ROW_NUMBER() OVER (ORDER BY t.total DESC, t.user_id ASC),
				t.user_id, t.username, t.level, t.total
			FROM (
				SELECT p.user_id, p.username, p.level, SUM(ds.total_seconds) AS total
				FROM daily_summaries ds
				JOIN profiles p ON p.user_id = ds.user_id
				WHERE p.show_in_leaderboard
					AND ds.date BETWEEN $2 AND $3
				GROUP BY p.user_id, p.username, p.level
				HAVING SUM(ds.total_seconds) > 0
			) t
		`, info.ID, from, asOfDay)
		if err != nil {
			return fmt.Errorf("failed to compute entries: %w", err)
		}
		info.EntryCount = int(tag.RowsAffected())

		if _, err := tx.Exec(ctx, `
			UPDATE leaderboard_snapshots SET entry_count = $2 WHERE id = $1
		`, info.ID, info.EntryCount); err != nil {
			return fmt.Errorf("failed to update entry count: %w", err)
		}

		// Last writer by computed_at wins; an older refresh that finishes
		// late must not replace a newer snapshot.
		var currentID string
		if err := tx.QueryRow(ctx, `
			INSERT INTO leaderboard_current (period, snapshot_id, computed_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (period) DO UPDATE SET
				snapshot_id = EXCLUDED.snapshot_id,
				computed_at = EXCLUDED.computed_at
			WHERE leaderboard_current.computed_at < EXCLUDED.computed_at
			RETURNING snapshot_id
		`, period.String(), info.ID, info.ComputedAt).Scan(&currentID); err != nil {
			if !IsNoRows(err) {
				return fmt.Errorf("failed to swap current snapshot: %w", err)
			}
			// Superseded: drop our rows and report the winner.
			if _, err := tx.Exec(ctx, `DELETE FROM leaderboard_snapshots WHERE id = $1`, info.ID); err != nil {
				return fmt.Errorf("failed to discard superseded snapshot: %w", err)
			}
			winner, err := scanSnapshotInfo(tx.QueryRow(ctx, selectCurrentInfoSQL, period.String()))
			if err != nil {
				return fmt.Errorf("failed to read current snapshot: %w", err)
			}
			info = winner
			return nil
		}

		if _, err := tx.Exec(ctx, `
			DELETE FROM leaderboard_snapshots
			WHERE period = $1 AND id <> $2
		`, period.String(), info.ID); err != nil {
			return fmt.Errorf("failed to delete old snapshots: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

const selectCurrentInfoSQL = `
	SELECT s.id, s.period, s.as_of_day, s.computed_at, s.entry_count
	FROM leaderboard_current c
	JOIN leaderboard_snapshots s ON s.id = c.snapshot_id
	WHERE c.period = $1`

func scanSnapshotInfo(row pgx.Row) (*leaderboard.SnapshotInfo, error) {
	var (
		info   leaderboard.SnapshotInfo
		id     uuid.UUID
		period string
	)
	if err := row.Scan(&id, &period, &info.AsOfDay, &info.ComputedAt, &info.EntryCount); err != nil {
		return nil, err
	}
	info.ID = id.String()
	info.Period = leaderboard.Period(period)
	info.AsOfDay = timeutil.StartOfDay(info.AsOfDay)
	return &info, nil
}

// Current implements leaderboard.Repository. Header and entries are read in
// one repeatable-read transaction so a concurrent swap cannot mix them.
func (r *LeaderboardRepository) Current(ctx context.Context, period leaderboard.Period, limit int) (*leaderboard.Snapshot, error) {
	var snap *leaderboard.Snapshot
	opts := TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

	err := r.conn.WithTx(ctx, opts, func(tx pgx.Tx) error {
		info, err := scanSnapshotInfo(tx.QueryRow(ctx, selectCurrentInfoSQL, period.String()))
		if IsNoRows(err) {
			return shared.ErrSnapshotNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get current snapshot: %w", err)
		}

		rows, err := tx.Query(ctx, `
			SELECT rank, user_id, username, level, total_seconds
			FROM leaderboard_entries
			WHERE snapshot_id = $1
			ORDER BY rank ASC
			LIMIT $2
		`, info.ID, limit)
		if err != nil {
			return fmt.Errorf("failed to get snapshot entries: %w", err)
		}
		defer rows.Close()

		entries, err := scanEntries(rows)
		if err != nil {
			return err
		}
		snap = &leaderboard.Snapshot{SnapshotInfo: *info, Entries: entries}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// UserEntry implements leaderboard.Repository.
func (r *LeaderboardRepository) UserEntry(ctx context.Context, period leaderboard.Period, userID shared.UserID) (*leaderboard.Entry, *leaderboard.SnapshotInfo, error) {
	var (
		entry *leaderboard.Entry
		info  *leaderboard.SnapshotInfo
	)
	opts := TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

	err := r.conn.WithTx(ctx, opts, func(tx pgx.Tx) error {
		var err error
		info, err = scanSnapshotInfo(tx.QueryRow(ctx, selectCurrentInfoSQL, period.String()))
		if IsNoRows(err) {
			return shared.ErrSnapshotNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get current snapshot: %w", err)
		}

		rows, err := tx.Query(ctx, `
			SELECT rank, user_id, username, level, total_seconds
			FROM leaderboard_entries
			WHERE snapshot_id = $1 AND user_id = $2
		`, info.ID, userID.String())
		if err != nil {
			return fmt.Errorf("failed to get user entry: %w", err)
		}
		defer rows.Close()

		entries, err := scanEntries(rows)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return shared.ErrEntryNotFound
		}
		entry = &entries[0]
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return entry, info, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER METHODS
// ══════════════════════════════════════════════════════════════════════════════

// scanEntries scans leaderboard entries from rows.
func scanEntries(rows pgx.Rows) ([]leaderboard.Entry, error) {
	entries := make([]leaderboard.Entry, 0)

	for rows.Next() {
		var (
			e      leaderboard.Entry
			rank   int
			userID string
			level  int
		)
		if err := rows.Scan(&rank, &userID, &e.Username, &level, &e.TotalSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		e.Rank = shared.Rank(rank)
		e.UserID = shared.UserID(userID)
		e.Level = shared.Level(level)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return entries, nil
}

// Ensure interfaces are implemented
var (
	_ leaderboard.Repository  = (*LeaderboardRepository)(nil)
	_ progress.Transactor     = (*ProgressRepository)(nil)
	_ progress.ReadRepository = (*ProgressRepository)(nil)
)
