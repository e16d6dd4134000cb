// Package config provides application configuration loaded from environment variables.
// It supports different environments (development, staging, production) with sensible defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// StorageDriver selects the persistence backend.
type StorageDriver string

const (
	StoragePostgres StorageDriver = "postgres"
	StorageMemory   StorageDriver = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	App           AppConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Engine        EngineConfig
	Leaderboard   LeaderboardConfig
	Scheduler     SchedulerConfig
	HTTP          HTTPConfig
	Storage       StorageConfig
	Observability ObservabilityConfig
}

// AppConfig contains general application settings.
type AppConfig struct {
	// Name is the application name used in logs.
	Name string

	// Environment is the current running environment.
	Environment Environment

	// Debug enables debug mode with verbose logging.
	Debug bool

	// Version is the application version (set at build time).
	Version string

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DatabaseConfig contains PostgreSQL connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string.
	URL string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// AutoMigrate applies pending migrations at startup.
	AutoMigrate bool
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	// URL is the Redis connection string (redis://...). Wins over Host/Port.
	URL string

	Host     string
	Port     int
	Password string
	DB       int

	// KeyPrefix namespaces every cache key.
	KeyPrefix string

	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// EventChannel is the pub/sub channel shared by api and worker.
	EventChannel string

	// ProfileTTL bounds how long a cached profile can lag the store. A read
	// that misses just before a commit may write the old row back after the
	// commit's invalidation; it is served until this TTL expires.
	ProfileTTL time.Duration

	// Disabled turns off caching and cross-process events.
	Disabled bool
}

// EngineConfig contains the session-completion settings.
type EngineConfig struct {
	// SecondsPerLevel is the XP needed per level.
	SecondsPerLevel int64

	// MaxSessionDuration rejects sessions longer than this. At most 24h,
	// which the sessions table also enforces.
	MaxSessionDuration time.Duration

	// LockTimeout bounds the wait for the per-user lock.
	LockTimeout time.Duration

	// RetryAttempts counts the original attempt; 2 means one retry.
	RetryAttempts int
	RetryDelay    time.Duration

	// TaskLinkMode is "lenient" or "strict".
	TaskLinkMode string

	// TrustClientDuration allows a client-reported duration close to the timestamps.
	TrustClientDuration bool
}

// LeaderboardConfig contains snapshot refresh and read settings.
type LeaderboardConfig struct {
	RefreshInterval time.Duration

	// RefreshCron overrides RefreshInterval with a five-field cron expression.
	RefreshCron string

	RefreshTimeout time.Duration
	DefaultLimit   int
	MaxLimit       int
	CacheTTL       time.Duration

	// RefreshOnStart runs a full refresh when the process starts.
	RefreshOnStart bool

	// StaleAfter marks a snapshot stale when it is older than this.
	// Zero means two refresh intervals.
	StaleAfter time.Duration
}

// SchedulerConfig contains background job settings.
type SchedulerConfig struct {
	// Enabled enables the background job scheduler.
	Enabled bool

	// Embedded runs the scheduler inside the API process.
	Embedded bool

	TickInterval   time.Duration
	MaxHistorySize int
}

// HTTPConfig contains HTTP server settings.
type HTTPConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	MaxHeaderBytes int
	MaxBodyBytes   int64

	// AdminTokenHash is the bcrypt hash of the operator token.
	// Empty disables the admin endpoints.
	AdminTokenHash string
}

// Address returns the listen address.
func (c HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver StorageDriver
}

// ObservabilityConfig contains logging settings.
type ObservabilityConfig struct {
	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string

	// LogFormat is the log output format (json, text).
	LogFormat string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present; real environment
// variables win over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		App:           loadAppConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Engine:        loadEngineConfig(),
		Leaderboard:   loadLeaderboardConfig(),
		Scheduler:     loadSchedulerConfig(),
		HTTP:          loadHTTPConfig(),
		Storage:       loadStorageConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func loadAppConfig() AppConfig {
	env := Environment(getEnv("APP_ENV", "development"))

	return AppConfig{
		Name:            getEnv("APP_NAME", "study-engine"),
		Environment:     env,
		Debug:           env == EnvDevelopment || getEnvBool("APP_DEBUG", false),
		Version:         getEnv("APP_VERSION", "0.1.0"),
		ShutdownTimeout: getEnvDuration("APP_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	url := getEnv("DATABASE_URL", "")
	if url == "" {
		host := getEnv("DB_HOST", "")
		port := getEnv("DB_PORT", "5432")
		user := getEnv("DB_USER", "")
		pass := getEnv("DB_PASSWORD", "")
		name := getEnv("DB_NAME", "postgres")
		sslmode := getEnv("DB_SSLMODE", "disable")

		if host != "" && user != "" {
			url = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
				user, pass, host, port, name, sslmode)
		}
	}

	return DatabaseConfig{
		URL:             url,
		MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:          getEnv("REDIS_URL", ""),
		Host:         getEnv("REDIS_HOST", "localhost"),
		Port:         getEnvInt("REDIS_PORT", 6379),
		Password:     getEnv("REDIS_PASSWORD", ""),
		DB:           getEnvInt("REDIS_DB", 0),
		KeyPrefix:    getEnv("REDIS_KEY_PREFIX", "study:"),
		PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
		MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		EventChannel: getEnv("REDIS_EVENT_CHANNEL", "study-engine:events"),
		ProfileTTL:   getEnvDuration("REDIS_PROFILE_TTL", time.Minute),
		Disabled:     getEnvBool("REDIS_DISABLED", false),
	}
}

func loadEngineConfig() EngineConfig {
	return EngineConfig{
		SecondsPerLevel:     getEnvInt64("ENGINE_SECONDS_PER_LEVEL", 3600),
		MaxSessionDuration:  getEnvDuration("ENGINE_MAX_SESSION_DURATION", 24*time.Hour),
		LockTimeout:         getEnvDuration("ENGINE_LOCK_TIMEOUT", 5*time.Second),
		RetryAttempts:       getEnvInt("ENGINE_RETRY_ATTEMPTS", 2),
		RetryDelay:          getEnvDuration("ENGINE_RETRY_DELAY", 25*time.Millisecond),
		TaskLinkMode:        strings.ToLower(getEnv("ENGINE_TASK_LINK_MODE", "lenient")),
		TrustClientDuration: getEnvBool("ENGINE_TRUST_CLIENT_DURATION", false),
	}
}

func loadLeaderboardConfig() LeaderboardConfig {
	return LeaderboardConfig{
		RefreshInterval: getEnvDuration("LEADERBOARD_REFRESH_INTERVAL", time.Hour),
		RefreshCron:     getEnv("LEADERBOARD_REFRESH_CRON", ""),
		RefreshTimeout:  getEnvDuration("LEADERBOARD_REFRESH_TIMEOUT", 2*time.Minute),
		DefaultLimit:    getEnvInt("LEADERBOARD_DEFAULT_LIMIT", 50),
		MaxLimit:        getEnvInt("LEADERBOARD_MAX_LIMIT", 500),
		CacheTTL:        getEnvDuration("LEADERBOARD_CACHE_TTL", 5*time.Minute),
		RefreshOnStart:  getEnvBool("LEADERBOARD_REFRESH_ON_START", true),
		StaleAfter:      getEnvDuration("LEADERBOARD_STALE_AFTER", 0),
	}
}

func loadSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:        getEnvBool("SCHEDULER_ENABLED", true),
		Embedded:       getEnvBool("SCHEDULER_EMBEDDED", false),
		TickInterval:   getEnvDuration("SCHEDULER_TICK_INTERVAL", time.Second),
		MaxHistorySize: getEnvInt("SCHEDULER_HISTORY_SIZE", 100),
	}
}

func loadHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Host:           getEnv("HTTP_HOST", "0.0.0.0"),
		Port:           getEnvInt("HTTP_PORT", 8080),
		ReadTimeout:    getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:   getEnvDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:    getEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		RequestTimeout: getEnvDuration("HTTP_REQUEST_TIMEOUT", 10*time.Second),
		MaxHeaderBytes: getEnvInt("HTTP_MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:   getEnvInt64("HTTP_MAX_BODY_BYTES", 64<<10),
		AdminTokenHash: getEnv("ADMIN_TOKEN_HASH", ""),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		Driver: StorageDriver(strings.ToLower(getEnv("STORAGE_DRIVER", string(StoragePostgres)))),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// Validate checks if the configuration is valid. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case StoragePostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres storage driver"))
		}
	case StorageMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("STORAGE_DRIVER=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER must be postgres or memory, got %q", c.Storage.Driver))
	}

	if c.Engine.SecondsPerLevel <= 0 {
		errs = append(errs, errors.New("ENGINE_SECONDS_PER_LEVEL must be positive"))
	}
	if c.Engine.MaxSessionDuration <= 0 || c.Engine.MaxSessionDuration > 24*time.Hour {
		errs = append(errs, errors.New("ENGINE_MAX_SESSION_DURATION must be between 1s and 24h"))
	}
	if c.Engine.LockTimeout <= 0 {
		errs = append(errs, errors.New("ENGINE_LOCK_TIMEOUT must be positive"))
	}
	if c.Engine.RetryAttempts < 1 {
		errs = append(errs, errors.New("ENGINE_RETRY_ATTEMPTS must be at least 1"))
	}
	if c.Engine.TaskLinkMode != "lenient" && c.Engine.TaskLinkMode != "strict" {
		errs = append(errs, fmt.Errorf("ENGINE_TASK_LINK_MODE must be lenient or strict, got %q", c.Engine.TaskLinkMode))
	}

	if c.Leaderboard.RefreshInterval <= 0 && c.Leaderboard.RefreshCron == "" {
		errs = append(errs, errors.New("LEADERBOARD_REFRESH_INTERVAL must be positive"))
	}
	if c.Leaderboard.RefreshTimeout <= 0 {
		errs = append(errs, errors.New("LEADERBOARD_REFRESH_TIMEOUT must be positive"))
	}
	if c.Leaderboard.MaxLimit < 1 {
		errs = append(errs, errors.New("LEADERBOARD_MAX_LIMIT must be at least 1"))
	}
	if c.Leaderboard.DefaultLimit < 1 || c.Leaderboard.DefaultLimit > c.Leaderboard.MaxLimit {
		errs = append(errs, errors.New("LEADERBOARD_DEFAULT_LIMIT must be between 1 and LEADERBOARD_MAX_LIMIT"))
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		errs = append(errs, errors.New("HTTP_PORT must be 1-65535"))
	}
	if c.HTTP.AdminTokenHash != "" && !strings.HasPrefix(c.HTTP.AdminTokenHash, "$2") {
		errs = append(errs, errors.New("ADMIN_TOKEN_HASH must be a bcrypt hash"))
	}

	return errors.Join(errs...)
}

// StaleThreshold returns the age after which a snapshot counts as stale.
func (c LeaderboardConfig) StaleThreshold() time.Duration {
	if c.StaleAfter > 0 {
		return c.StaleAfter
	}
	if c.RefreshInterval > 0 {
		return 2 * c.RefreshInterval
	}
	return 2 * time.Hour
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// --- Helper functions for environment variable parsing ---

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
