// Package main is the entry point of the study engine API.
//
// The API accepts session completions from the timer subsystem, serves
// profiles, daily summaries and leaderboards, and exposes the operator
// endpoints. With SCHEDULER_EMBEDDED=true (or the memory driver) it also
// refreshes the leaderboards itself; otherwise cmd/worker does that and
// the refresh events arrive over Redis.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alem-hub/study-engine/config"
	"github.com/alem-hub/study-engine/internal/application/command"
	"github.com/alem-hub/study-engine/internal/application/eventhandler"
	"github.com/alem-hub/study-engine/internal/application/query"
	"github.com/alem-hub/study-engine/internal/domain/leaderboard"
	"github.com/alem-hub/study-engine/internal/domain/progress"
	"github.com/alem-hub/study-engine/internal/domain/session"
	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/internal/infrastructure/messaging"
	"github.com/alem-hub/study-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/study-engine/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/study-engine/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/study-engine/internal/infrastructure/scheduler"
	"github.com/alem-hub/study-engine/internal/infrastructure/scheduler/jobs"
	apihttp "github.com/alem-hub/study-engine/internal/interface/http"
	"github.com/alem-hub/study-engine/internal/interface/http/handlers"
	"github.com/alem-hub/study-engine/pkg/circuitbreaker"
	"github.com/alem-hub/study-engine/pkg/logger"
	"github.com/alem-hub/study-engine/pkg/timeutil"
)

// eventBus is what the API needs from either bus implementation.
type eventBus interface {
	shared.EventPublisher
	shared.EventSubscriber
	Close() error
}

// storage bundles the repositories of one persistence backend.
type storage struct {
	tx          progress.Transactor
	progress    progress.ReadRepository
	leaderboard leaderboard.Repository
	pinger      handlers.Pinger
	close       func()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := setupLogger(cfg).With(logger.String("service", "api"))
	log.Info("starting study engine api",
		logger.String("app", cfg.App.Name),
		logger.String("environment", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("storage", string(cfg.Storage.Driver)),
	)

	policy := shared.LevelPolicy{SecondsPerLevel: cfg.Engine.SecondsPerLevel}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. STORAGE
	// ─────────────────────────────────────────────────────────────────────────
	store, err := openStorage(ctx, cfg, policy, log)
	if err != nil {
		return err
	}
	defer store.close()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS (cache + cross-process events)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		cache            *redis.Cache
		profileCache     progress.ProfileCache
		leaderboardCache leaderboard.Cache
		breaker          *circuitbreaker.CircuitBreaker
	)

	if !cfg.Redis.Disabled {
		cache, err = redis.NewCache(ctx, redisConfig(cfg))
		if err != nil {
			// The read paths work without a cache; only cross-process
			// refresh events are lost.
			log.Warn("redis unavailable, continuing without cache", logger.Err(err))
		} else {
			defer cache.Close()
			profileCache = redis.NewProfileCache(cache, cfg.Redis.ProfileTTL)
			leaderboardCache = redis.NewLeaderboardCache(cache, cfg.Leaderboard.CacheTTL)
			breaker = circuitbreaker.CacheBreaker(func(name string, from, to circuitbreaker.State) {
				log.Warn("circuit breaker state changed",
					logger.String("breaker", name),
					logger.String("from", from.String()),
					logger.String("to", to.String()),
				)
			})
			log.Info("connected to redis")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	bus, err := newEventBus(cfg, cache, log)
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	defer bus.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	linkMode, err := command.ParseTaskLinkMode(cfg.Engine.TaskLinkMode)
	if err != nil {
		return err
	}

	completeSession := command.NewSessionCompletionHandler(store.tx, bus, log, command.SessionCompletionConfig{
		Rules: session.Rules{
			MaxDuration:           cfg.Engine.MaxSessionDuration,
			TrustReportedDuration: cfg.Engine.TrustClientDuration,
		},
		Policy:        policy,
		RetryAttempts: cfg.Engine.RetryAttempts,
		RetryDelay:    cfg.Engine.RetryDelay,
		LinkMode:      linkMode,
		Clock:         timeutil.SystemClock,
	})
	updateSettings := command.NewUpdateProfileSettingsHandler(store.progress, bus, log)

	materializer := command.NewLeaderboardMaterializer(
		store.leaderboard, bus, cfg.Leaderboard.RefreshTimeout, timeutil.SystemClock, log,
	)

	// In-process refreshes report through the materializer. A remote worker
	// is only visible through its events.
	embedded := runsEmbeddedScheduler(cfg)
	var status interface {
		query.StatusSource
		apihttp.StatusLister
	} = materializer
	if !embedded {
		tracker := eventhandler.NewRefreshStatusTracker(log)
		if err := tracker.Register(bus); err != nil {
			return fmt.Errorf("register refresh status tracker: %w", err)
		}
		status = tracker
	}

	getProfile := query.NewGetProfileHandler(store.progress, profileCache, breaker, policy, log)
	getSummaries := query.NewGetDailySummariesHandler(store.progress)
	getLeaderboard := query.NewGetLeaderboardHandler(store.leaderboard, leaderboardCache, breaker, status,
		query.LeaderboardReadConfig{
			DefaultLimit: cfg.Leaderboard.DefaultLimit,
			MaxLimit:     cfg.Leaderboard.MaxLimit,
			StaleAfter:   cfg.Leaderboard.StaleThreshold(),
			Clock:        timeutil.SystemClock,
		}, log)
	getUserRank := query.NewGetUserRankHandler(store.leaderboard)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. EVENT HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	if profileCache != nil {
		if err := eventhandler.NewProfileCacheInvalidator(profileCache, log).Register(bus); err != nil {
			return fmt.Errorf("register profile cache invalidator: %w", err)
		}
	}
	if leaderboardCache != nil {
		if err := eventhandler.NewLeaderboardCacheInvalidator(leaderboardCache, log).Register(bus); err != nil {
			return fmt.Errorf("register leaderboard cache invalidator: %w", err)
		}
	}
	if err := eventhandler.NewPrivacyRefresher(materializer, cfg.Leaderboard.RefreshTimeout, log).Register(bus); err != nil {
		return fmt.Errorf("register privacy refresher: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	var jobReporter apihttp.JobReporter
	if embedded {
		sched, err := newRefreshScheduler(cfg, materializer, log)
		if err != nil {
			return err
		}
		jobReporter = sched
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer func() {
			if err := sched.Stop(); err != nil {
				log.Warn("scheduler stop failed", logger.Err(err))
			}
		}()

		if cfg.Leaderboard.RefreshOnStart {
			go func() {
				if _, err := sched.RunNow(ctx, jobs.RefreshLeaderboardsJobName); err != nil {
					log.Warn("initial leaderboard refresh failed", logger.Err(err))
				}
			}()
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	checker := handlers.NewCompositeHealthChecker(cfg.App.Version)
	checker.AddCheck(string(cfg.Storage.Driver), handlers.NewPingCheck(store.pinger))
	if cache != nil {
		checker.AddCheck("redis", handlers.NewPingCheck(cache))
	}

	server, err := apihttp.NewServer(apihttp.Config{
		Host:           cfg.HTTP.Host,
		Port:           cfg.HTTP.Port,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		AdminTokenHash: cfg.HTTP.AdminTokenHash,
		LevelPolicy:    policy,
		Version:        cfg.App.Version,
	}, apihttp.Dependencies{
		CompleteSession:   completeSession,
		UpdateSettings:    updateSettings,
		GetProfile:        getProfile,
		GetDailySummaries: getSummaries,
		GetLeaderboard:    getLeaderboard,
		GetUserRank:       getUserRank,
		Refresher:         materializer,
		Statuses:          status,
		Jobs:              jobReporter,
		HealthChecker:     checker,
		Logger:            log,
	})
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}
	if cfg.HTTP.AdminTokenHash == "" {
		log.Warn("ADMIN_TOKEN_HASH is empty, admin endpoints are disabled")
	}

	serverErr := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 9. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("study engine api is running", logger.String("address", cfg.HTTP.Address()))

	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info("starting graceful shutdown...", logger.Duration("timeout", cfg.App.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", logger.Err(err))
	}

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger builds the process logger from the observability settings.
func setupLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.Format = logger.ParseFormat(cfg.Observability.LogFormat)
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
	}
	return logger.New(opts)
}

// runsEmbeddedScheduler reports whether this process refreshes the
// leaderboards itself. The memory driver cannot share snapshots with a
// worker, so it always does.
func runsEmbeddedScheduler(cfg *config.Config) bool {
	if cfg.Storage.Driver == config.StorageMemory {
		return true
	}
	return cfg.Scheduler.Enabled && cfg.Scheduler.Embedded
}

// openStorage connects the configured persistence backend.
func openStorage(ctx context.Context, cfg *config.Config, policy shared.LevelPolicy, log *logger.Logger) (*storage, error) {
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		log.Warn("using in-memory storage, data is lost on restart")
		s := memory.NewStore(
			memory.WithLockTimeout(cfg.Engine.LockTimeout),
			memory.WithLevelPolicy(policy),
		)
		return &storage{tx: s, progress: s, leaderboard: s, pinger: s, close: func() {}}, nil

	case config.StoragePostgres:
		conn, err := connectPostgres(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		repo := postgres.NewProgressRepository(conn, cfg.Engine.LockTimeout, policy)
		return &storage{
			tx:          repo,
			progress:    repo,
			leaderboard: postgres.NewLeaderboardRepository(conn),
			pinger:      conn,
			close:       conn.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

// connectPostgres opens the pool and applies migrations when enabled.
func connectPostgres(ctx context.Context, cfg *config.Config, log *logger.Logger) (*postgres.Connection, error) {
	log.Info("connecting to database...")

	conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL, postgres.PoolOptions{
		MaxConns:        int32(cfg.Database.MaxOpenConns),
		MinConns:        int32(cfg.Database.MaxIdleConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Info("connected to database")

	if cfg.Database.AutoMigrate {
		log.Info("running database migrations...")
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		log.Info("migrations completed")
	}
	return conn, nil
}

// redisConfig maps application settings onto the cache client config.
func redisConfig(cfg *config.Config) redis.Config {
	rc := redis.DefaultConfig()
	rc.URL = cfg.Redis.URL
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.KeyPrefix = cfg.Redis.KeyPrefix
	rc.PoolSize = cfg.Redis.PoolSize
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout
	return rc
}

// newEventBus returns the Redis-backed bus when a cache connection exists,
// and the in-process bus otherwise.
func newEventBus(cfg *config.Config, cache *redis.Cache, log *logger.Logger) (eventBus, error) {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Logger = log
	local.Middlewares = []messaging.Middleware{
		messaging.RecoveryMiddleware(log),
		messaging.LoggingMiddleware(log),
	}

	if cache == nil {
		return messaging.NewInMemoryEventBus(local), nil
	}

	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:      messaging.NewGoRedisClient(cache.Client()),
		ChannelName: cfg.Redis.EventChannel,
		Forward: []shared.EventType{
			shared.EventLeaderboardRefreshed,
			shared.EventLeaderboardRefreshFailed,
		},
		LocalBusConfig: local,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}
	return bus, nil
}

// newRefreshScheduler registers the leaderboard refresh job.
func newRefreshScheduler(cfg *config.Config, refresher jobs.Refresher, log *logger.Logger) (*scheduler.Scheduler, error) {
	var (
		schedule scheduler.Schedule
		err      error
	)
	if cfg.Leaderboard.RefreshCron != "" {
		schedule, err = scheduler.ParseSchedule(cfg.Leaderboard.RefreshCron)
	} else {
		schedule, err = scheduler.NewIntervalSchedule(cfg.Leaderboard.RefreshInterval)
	}
	if err != nil {
		return nil, fmt.Errorf("leaderboard refresh schedule: %w", err)
	}

	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:         log,
		TickInterval:   cfg.Scheduler.TickInterval,
		MaxHistorySize: cfg.Scheduler.MaxHistorySize,
	})
	if err := sched.Register(jobs.NewRefreshLeaderboardsJob(refresher, log), schedule); err != nil {
		return nil, fmt.Errorf("register refresh job: %w", err)
	}
	return sched, nil
}
