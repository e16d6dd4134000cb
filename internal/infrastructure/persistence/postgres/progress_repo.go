package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/study-engine/internal/domain/progress"
	"github.com/alem-hub/study-engine/internal/domain/session"
	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Transactor and progress.ReadRepository.
//
// Per-user serialization is a row lock on profiles(user_id) taken with
// SELECT ... FOR UPDATE under SET LOCAL lock_timeout. Every write of the
// unit happens while that lock is held, so two completions for the same user
// cannot both observe "no summary row for today".
type ProgressRepository struct {
	conn        *Connection
	lockTimeout time.Duration
	policy      shared.LevelPolicy
	now         timeutil.Clock
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection, lockTimeout time.Duration, policy shared.LevelPolicy) *ProgressRepository {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &ProgressRepository{
		conn:        conn,
		lockTimeout: lockTimeout,
		policy:      policy,
		now:         timeutil.SystemClock,
	}
}

// WithinUserLock implements progress.Transactor.
func (r *ProgressRepository) WithinUserLock(ctx context.Context, userID shared.UserID, fn func(ctx context.Context, uow progress.UnitOfWork) error) error {
	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		// SET LOCAL does not accept bind parameters.
		ms := r.lockTimeout.Milliseconds()
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", ms)); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}

		// Make sure a row exists to lock; a brand-new user has none yet.
		if _, err := tx.Exec(ctx, `
			INSERT INTO profiles (user_id, username)
			VALUES ($1, $1)
			ON CONFLICT (user_id) DO NOTHING
		`, userID.String()); err != nil {
			return classify("create profile", err)
		}

		var locked string
		err := tx.QueryRow(ctx, `
			SELECT user_id FROM profiles WHERE user_id = $1 FOR UPDATE
		`, userID.String()).Scan(&locked)
		if err != nil {
			return classify("lock profile", err)
		}

		return fn(ctx, &unitOfWork{tx: tx, repo: r, userID: userID})
	})
}

// unitOfWork is the pgx.Tx-backed progress.UnitOfWork.
type unitOfWork struct {
	tx     pgx.Tx
	repo   *ProgressRepository
	userID shared.UserID
}

// RecordSession implements progress.UnitOfWork.
func (u *unitOfWork) RecordSession(ctx context.Context, s *session.CompletedSession) (bool, error) {
	tag, err := u.tx.Exec(ctx, `
		INSERT INTO study_sessions
			(id, user_id, subject_id, task_id, started_at, ended_at, duration_seconds, day)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`,
		s.ID,
		s.UserID.String(),
		s.SubjectID,
		s.TaskID,
		s.StartedAt,
		s.EndedAt,
		s.DurationSeconds,
		s.Day(),
	)
	if err != nil {
		return false, classify("record session", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var owner string
	if err := u.tx.QueryRow(ctx, `
		SELECT user_id FROM study_sessions WHERE id = $1
	`, s.ID).Scan(&owner); err != nil {
		return false, classify("check session owner", err)
	}
	if owner != s.UserID.String() {
		return false, shared.ErrSessionOwner
	}
	return false, nil
}

// LoadProfileForUpdate implements progress.UnitOfWork. The row is already
// locked by WithinUserLock.
func (u *unitOfWork) LoadProfileForUpdate(ctx context.Context, userID shared.UserID) (*progress.Profile, error) {
	if userID != u.userID {
		return nil, fmt.Errorf("unit of work for %s cannot load profile %s", u.userID, userID)
	}
	p, err := scanProfile(u.tx.QueryRow(ctx, selectProfileSQL+` WHERE user_id = $1`, userID.String()))
	if IsNoRows(err) {
		return nil, shared.ErrProfileNotFound
	}
	if err != nil {
		return nil, classify("load profile", err)
	}
	return p, nil
}

// SaveProfile implements progress.UnitOfWork. Only counters are written;
// settings columns belong to UpdateSettings.
func (u *unitOfWork) SaveProfile(ctx context.Context, p *progress.Profile) error {
	if err := p.CheckInvariants(u.repo.policy); err != nil {
		return err
	}

	var lastActive *time.Time
	if p.HasActivity() {
		lastActive = &p.LastActiveDay
	}

	_, err := u.tx.Exec(ctx, `
		UPDATE profiles SET
			xp_total = $2,
			level = $3,
			current_streak = $4,
			longest_streak = GREATEST(longest_streak, $5),
			last_active_day = $6,
			updated_at = NOW()
		WHERE user_id = $1
	`,
		p.UserID.String(),
		p.XPTotal.Int64(),
		p.Level.Int(),
		p.CurrentStreak,
		p.LongestStreak,
		lastActive,
	)
	if err != nil {
		return classify("save profile", err)
	}
	return nil
}

// HasSummary implements progress.UnitOfWork.
func (u *unitOfWork) HasSummary(ctx context.Context, userID shared.UserID, day time.Time) (bool, error) {
	var exists bool
	err := u.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM daily_summaries WHERE user_id = $1 AND date = $2
		)
	`, userID.String(), timeutil.StartOfDay(day)).Scan(&exists)
	if err != nil {
		return false, classify("check daily summary", err)
	}
	return exists, nil
}

// LatestSummaryBefore implements progress.UnitOfWork.
func (u *unitOfWork) LatestSummaryBefore(ctx context.Context, userID shared.UserID, day time.Time) (*time.Time, error) {
	var latest *time.Time
	err := u.tx.QueryRow(ctx, `
		SELECT MAX(date) FROM daily_summaries WHERE user_id = $1 AND date < $2
	`, userID.String(), timeutil.StartOfDay(day)).Scan(&latest)
	if err != nil {
		return nil, classify("find previous active day", err)
	}
	if latest != nil {
		d := timeutil.StartOfDay(*latest)
		latest = &d
	}
	return latest, nil
}

// UpsertAddSummary implements progress.UnitOfWork as a single statement, so
// concurrent adders cannot lose updates even without the profile lock.
func (u *unitOfWork) UpsertAddSummary(ctx context.Context, userID shared.UserID, day time.Time, delta int64) (int64, error) {
	var total int64
	err := u.tx.QueryRow(ctx, `
		INSERT INTO daily_summaries (user_id, date, total_seconds, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, date) DO UPDATE SET
			total_seconds = daily_summaries.total_seconds + EXCLUDED.total_seconds,
			updated_at = NOW()
		RETURNING total_seconds
	`, userID.String(), timeutil.StartOfDay(day), delta).Scan(&total)
	if err != nil {
		return 0, classify("upsert daily summary", err)
	}
	return total, nil
}

// AddTaskTime implements progress.UnitOfWork inside a savepoint. pgx maps
// Begin on a transaction to SAVEPOINT, so a failed update is rolled back
// without aborting the outer transaction.
func (u *unitOfWork) AddTaskTime(ctx context.Context, taskID string, userID shared.UserID, delta int64) error {
	sp, err := u.tx.Begin(ctx)
	if err != nil {
		return classify("open task savepoint", err)
	}

	tag, err := sp.Exec(ctx, `
		UPDATE tasks SET
			logged_seconds = logged_seconds + $3,
			updated_at = NOW()
		WHERE id = $1 AND user_id = $2
	`, taskID, userID.String(), delta)
	if err != nil {
		_ = sp.Rollback(context.WithoutCancel(ctx))
		return classify("add task time", err)
	}
	if tag.RowsAffected() == 0 {
		_ = sp.Rollback(context.WithoutCancel(ctx))
		return shared.ErrTaskNotFound
	}
	return sp.Commit(ctx)
}

// ─────────────────────────────────────────────────────────────────────────────
// READ OPERATIONS
// ─────────────────────────────────────────────────────────────────────────────

const selectProfileSQL = `
	SELECT user_id, username, xp_total, level, current_streak, longest_streak,
		last_active_day, show_in_leaderboard, is_public, created_at, updated_at
	FROM profiles`

func scanProfile(row pgx.Row) (*progress.Profile, error) {
	var (
		p          progress.Profile
		userID     string
		xp         int64
		level      int
		lastActive *time.Time
	)
	err := row.Scan(
		&userID,
		&p.Username,
		&xp,
		&level,
		&p.CurrentStreak,
		&p.LongestStreak,
		&lastActive,
		&p.ShowInLeaderboard,
		&p.IsPublic,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.UserID = shared.UserID(userID)
	p.XPTotal = shared.XP(xp)
	p.Level = shared.Level(level)
	if lastActive != nil {
		p.LastActiveDay = timeutil.StartOfDay(*lastActive)
	}
	return &p, nil
}

// GetProfile implements progress.ReadRepository.
func (r *ProgressRepository) GetProfile(ctx context.Context, userID shared.UserID) (*progress.Profile, error) {
	p, err := scanProfile(r.conn.QueryRow(ctx, selectProfileSQL+` WHERE user_id = $1`, userID.String()))
	if IsNoRows(err) {
		return nil, shared.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// ListDailySummaries implements progress.ReadRepository.
func (r *ProgressRepository) ListDailySummaries(ctx context.Context, userID shared.UserID, rng progress.DateRange) ([]progress.DailySummary, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT date, total_seconds, updated_at
		FROM daily_summaries
		WHERE user_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date ASC
	`, userID.String(), timeutil.StartOfDay(rng.From), timeutil.StartOfDay(rng.To))
	if err != nil {
		return nil, fmt.Errorf("failed to list daily summaries: %w", err)
	}
	defer rows.Close()

	summaries := make([]progress.DailySummary, 0)
	for rows.Next() {
		s := progress.DailySummary{UserID: userID}
		if err := rows.Scan(&s.Date, &s.TotalSeconds, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan daily summary: %w", err)
		}
		s.Date = timeutil.StartOfDay(s.Date)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// UpdateSettings implements progress.ReadRepository. It creates the profile
// when the user changes settings before their first session.
func (r *ProgressRepository) UpdateSettings(ctx context.Context, userID shared.UserID, s progress.Settings) (*progress.Profile, error) {
	var out *progress.Profile
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO profiles (user_id, username)
			VALUES ($1, $1)
			ON CONFLICT (user_id) DO NOTHING
		`, userID.String()); err != nil {
			return fmt.Errorf("failed to create profile: %w", err)
		}

		p, err := scanProfile(tx.QueryRow(ctx, `
			UPDATE profiles SET
				username = COALESCE($2, username),
				show_in_leaderboard = COALESCE($3, show_in_leaderboard),
				is_public = COALESCE($4, is_public),
				updated_at = NOW()
			WHERE user_id = $1
			RETURNING user_id, username, xp_total, level, current_streak, longest_streak,
				last_active_day, show_in_leaderboard, is_public, created_at, updated_at
		`, userID.String(), s.Username, s.ShowInLeaderboard, s.IsPublic))
		if err != nil {
			return fmt.Errorf("failed to update settings: %w", err)
		}
		out = p
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConnectionClosed) {
			return nil, shared.WrapError("progress", "UpdateSettings", shared.ErrServiceUnavailable, "database closed", err)
		}
		return nil, err
	}
	return out, nil
}
