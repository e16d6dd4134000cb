package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION SUPPORT
// ══════════════════════════════════════════════════════════════════════════════

// Migration is one forward-only schema step.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrator handles database migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a migrator over the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: migrations,
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	_, err := m.conn.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	return nil
}

// GetAppliedMigrations returns all applied migrations.
func (m *Migrator) GetAppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	query := fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName)

	rows, err := m.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time

		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}

		applied[version] = appliedAt
	}

	return applied, rows.Err()
}

// Migrate applies all pending migrations.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
	}

	return nil
}

// apply runs one migration and records it in the same transaction.
func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	if strings.TrimSpace(mig.SQL) == "" {
		return errors.New("empty migration")
	}
	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, mig.SQL); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName),
			mig.Version, mig.Name,
		)
		return err
	})
}

// migrations lists the schema steps in order.
var migrations = []Migration{
	{Version: 1, Name: "create_progress", SQL: migration001Up},
	{Version: 2, Name: "create_leaderboard_snapshots", SQL: migration002Up},
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create per-user progress tables
-- Version: 001

-- ProfileAggregate. Counters are written only by session completion.
-- username starts out as the user id, so it is as wide as user_id.
CREATE TABLE IF NOT EXISTS profiles (
    user_id VARCHAR(128) PRIMARY KEY,
    username VARCHAR(128) NOT NULL,
    xp_total BIGINT NOT NULL DEFAULT 0,
    level INTEGER NOT NULL DEFAULT 1,
    current_streak INTEGER NOT NULL DEFAULT 0,
    longest_streak INTEGER NOT NULL DEFAULT 0,
    last_active_day DATE,
    show_in_leaderboard BOOLEAN NOT NULL DEFAULT TRUE,
    is_public BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_xp CHECK (xp_total >= 0),
    CONSTRAINT valid_level CHECK (level >= 1),
    CONSTRAINT valid_streaks CHECK (current_streak >= 0 AND longest_streak >= current_streak)
);

CREATE INDEX IF NOT EXISTS idx_profiles_leaderboard ON profiles(user_id) WHERE show_in_leaderboard;

-- Completed sessions. The primary key makes completion idempotent.
CREATE TABLE IF NOT EXISTS study_sessions (
    id UUID PRIMARY KEY,
    user_id VARCHAR(128) NOT NULL REFERENCES profiles(user_id) ON DELETE CASCADE,
    subject_id VARCHAR(128) NOT NULL,
    task_id VARCHAR(128),
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    ended_at TIMESTAMP WITH TIME ZONE NOT NULL,
    duration_seconds INTEGER NOT NULL,
    day DATE NOT NULL,
    processed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_duration CHECK (duration_seconds > 0 AND duration_seconds <= 86400),
    CONSTRAINT valid_interval CHECK (ended_at > started_at)
);

CREATE INDEX IF NOT EXISTS idx_study_sessions_user_day ON study_sessions(user_id, day);

-- One row per (user, UTC day) with any sessions.
CREATE TABLE IF NOT EXISTS daily_summaries (
    user_id VARCHAR(128) NOT NULL REFERENCES profiles(user_id) ON DELETE CASCADE,
    date DATE NOT NULL,
    total_seconds BIGINT NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, date),
    CONSTRAINT valid_total CHECK (total_seconds > 0)
);

CREATE INDEX IF NOT EXISTS idx_daily_summaries_date ON daily_summaries(date);

-- Tasks are managed elsewhere; the engine only adds logged time.
CREATE TABLE IF NOT EXISTS tasks (
    id VARCHAR(128) PRIMARY KEY,
    user_id VARCHAR(128) NOT NULL,
    title VARCHAR(200) NOT NULL DEFAULT '',
    planned_seconds BIGINT NOT NULL DEFAULT 0,
    logged_seconds BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_logged CHECK (logged_seconds >= 0)
);

CREATE INDEX IF NOT EXISTS idx_tasks_user_id ON tasks(user_id);
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE LEADERBOARD SNAPSHOTS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create leaderboard snapshot tables
-- Version: 002
-- Snapshots are written whole and made visible by moving the pointer in
-- leaderboard_current, so readers never see a partial ranking.

CREATE TABLE IF NOT EXISTS leaderboard_snapshots (
    id UUID PRIMARY KEY,
    period VARCHAR(10) NOT NULL,
    as_of_day DATE NOT NULL,
    computed_at TIMESTAMP WITH TIME ZONE NOT NULL,
    entry_count INTEGER NOT NULL DEFAULT 0,

    CONSTRAINT valid_period CHECK (period IN ('week', 'month', 'year'))
);

CREATE INDEX IF NOT EXISTS idx_leaderboard_snapshots_period ON leaderboard_snapshots(period, computed_at DESC);

CREATE TABLE IF NOT EXISTS leaderboard_entries (
    snapshot_id UUID NOT NULL REFERENCES leaderboard_snapshots(id) ON DELETE CASCADE,
    rank INTEGER NOT NULL,
    user_id VARCHAR(128) NOT NULL,
    username VARCHAR(128) NOT NULL,
    level INTEGER NOT NULL,
    total_seconds BIGINT NOT NULL,

    PRIMARY KEY (snapshot_id, rank),
    UNIQUE (snapshot_id, user_id)
);

CREATE TABLE IF NOT EXISTS leaderboard_current (
    period VARCHAR(10) PRIMARY KEY,
    snapshot_id UUID NOT NULL REFERENCES leaderboard_snapshots(id),
    computed_at TIMESTAMP WITH TIME ZONE NOT NULL
);
`

