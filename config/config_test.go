package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, int64(3600), cfg.Engine.SecondsPerLevel)
	assert.Equal(t, 24*time.Hour, cfg.Engine.MaxSessionDuration)
	assert.Equal(t, 2, cfg.Engine.RetryAttempts)
	assert.Equal(t, "lenient", cfg.Engine.TaskLinkMode)
	assert.False(t, cfg.Engine.TrustClientDuration)
	assert.Equal(t, time.Hour, cfg.Leaderboard.RefreshInterval)
	assert.Equal(t, 2*time.Minute, cfg.Leaderboard.RefreshTimeout)
	assert.Equal(t, 50, cfg.Leaderboard.DefaultLimit)
	assert.Equal(t, 500, cfg.Leaderboard.MaxLimit)
	assert.Equal(t, 2*time.Hour, cfg.Leaderboard.StaleThreshold())
	assert.Equal(t, time.Minute, cfg.Redis.ProfileTTL)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Address())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/study")
	t.Setenv("ENGINE_SECONDS_PER_LEVEL", "1800")
	t.Setenv("ENGINE_TASK_LINK_MODE", "STRICT")
	t.Setenv("ENGINE_LOCK_TIMEOUT", "not-a-duration")
	t.Setenv("LEADERBOARD_REFRESH_INTERVAL", "15m")
	t.Setenv("LEADERBOARD_STALE_AFTER", "40m")
	t.Setenv("HTTP_PORT", "9000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(1800), cfg.Engine.SecondsPerLevel)
	assert.Equal(t, "strict", cfg.Engine.TaskLinkMode)
	assert.Equal(t, 5*time.Second, cfg.Engine.LockTimeout, "unparsable values keep the default")
	assert.Equal(t, 15*time.Minute, cfg.Leaderboard.RefreshInterval)
	assert.Equal(t, 40*time.Minute, cfg.Leaderboard.StaleThreshold())
	assert.Equal(t, 9000, cfg.HTTP.Port)
}

func TestLoad_DatabaseURLFromParts(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "study")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "engine")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://study:secret@db:5432/engine?sslmode=disable", cfg.Database.URL)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := &Config{
		App:     AppConfig{Environment: EnvProduction},
		Storage: StorageConfig{Driver: StorageMemory},
		Engine: EngineConfig{
			SecondsPerLevel:    0,
			MaxSessionDuration: time.Hour,
			LockTimeout:        time.Second,
			RetryAttempts:      2,
			TaskLinkMode:       "sometimes",
		},
		Leaderboard: LeaderboardConfig{
			RefreshInterval: time.Hour,
			RefreshTimeout:  time.Minute,
			DefaultLimit:    600,
			MaxLimit:        500,
		},
		HTTP: HTTPConfig{Port: 8080, AdminTokenHash: "plain-text"},
	}

	err := cfg.Validate()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "not allowed in production")
	assert.Contains(t, msg, "ENGINE_SECONDS_PER_LEVEL")
	assert.Contains(t, msg, "ENGINE_TASK_LINK_MODE")
	assert.Contains(t, msg, "LEADERBOARD_DEFAULT_LIMIT")
	assert.Contains(t, msg, "ADMIN_TOKEN_HASH")
}

func TestValidate_UnknownDriver(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "sqlite")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORAGE_DRIVER")
}

func TestValidate_MaxSessionDurationCapped(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("ENGINE_MAX_SESSION_DURATION", "25h")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENGINE_MAX_SESSION_DURATION")

	t.Setenv("ENGINE_MAX_SESSION_DURATION", "24h")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.Engine.MaxSessionDuration)
}
