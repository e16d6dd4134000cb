// Package main is the entry point of the study engine worker.
//
// The worker owns the periodic leaderboard refresh when the API runs
// without an embedded scheduler. It writes snapshots to PostgreSQL and
// announces every refresh over the Redis event channel, so API instances
// can drop cached pages and report refresh status.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alem-hub/study-engine/config"
	"github.com/alem-hub/study-engine/internal/application/command"
	"github.com/alem-hub/study-engine/internal/domain/shared"
	"github.com/alem-hub/study-engine/internal/infrastructure/messaging"
	"github.com/alem-hub/study-engine/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/study-engine/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/study-engine/internal/infrastructure/scheduler"
	"github.com/alem-hub/study-engine/internal/infrastructure/scheduler/jobs"
	"github.com/alem-hub/study-engine/pkg/logger"
	"github.com/alem-hub/study-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

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

	log := setupLogger(cfg).With(logger.String("service", "worker"))
	log.Info("starting study engine worker",
		logger.String("app", cfg.App.Name),
		logger.String("environment", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
	)

	if cfg.Storage.Driver != config.StoragePostgres {
		return errors.New("worker requires STORAGE_DRIVER=postgres")
	}
	if !cfg.Scheduler.Enabled {
		log.Warn("scheduler disabled, nothing to do")
		return nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. DATABASE CONNECTION
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")

	conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL, postgres.PoolOptions{
		MaxConns:        int32(cfg.Database.MaxOpenConns),
		MinConns:        int32(cfg.Database.MaxIdleConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer conn.Close()

	log.Info("connected to database")

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE MIGRATIONS
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Database.AutoMigrate {
		log.Info("running database migrations...")
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		log.Info("migrations completed")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Logger = log
	local.Middlewares = []messaging.Middleware{messaging.RecoveryMiddleware(log)}

	var publisher shared.EventPublisher = shared.NopPublisher{}

	if !cfg.Redis.Disabled {
		cache, err := redis.NewCache(ctx, redisConfig(cfg))
		if err != nil {
			// Snapshots still land in PostgreSQL; API caches expire by TTL.
			log.Warn("redis unavailable, refresh events will not be announced", logger.Err(err))
		} else {
			defer cache.Close()

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
				return fmt.Errorf("create event bus: %w", err)
			}
			defer bus.Close()

			publisher = bus
			log.Info("publishing refresh events", logger.String("channel", cfg.Redis.EventChannel))
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. MATERIALIZER
	// ─────────────────────────────────────────────────────────────────────────
	materializer := command.NewLeaderboardMaterializer(
		postgres.NewLeaderboardRepository(conn),
		publisher,
		cfg.Leaderboard.RefreshTimeout,
		timeutil.SystemClock,
		log,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	var schedule scheduler.Schedule
	if cfg.Leaderboard.RefreshCron != "" {
		schedule, err = scheduler.ParseSchedule(cfg.Leaderboard.RefreshCron)
	} else {
		schedule, err = scheduler.NewIntervalSchedule(cfg.Leaderboard.RefreshInterval)
	}
	if err != nil {
		return fmt.Errorf("leaderboard refresh schedule: %w", err)
	}

	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:         log,
		TickInterval:   cfg.Scheduler.TickInterval,
		MaxHistorySize: cfg.Scheduler.MaxHistorySize,
	})
	if err := sched.Register(jobs.NewRefreshLeaderboardsJob(materializer, log), schedule); err != nil {
		return fmt.Errorf("register refresh job: %w", err)
	}

	if cfg.Leaderboard.RefreshOnStart {
		log.Info("running initial leaderboard refresh...")
		if _, err := sched.RunNow(ctx, jobs.RefreshLeaderboardsJobName); err != nil {
			// Failed periods keep their previous snapshot; the schedule retries.
			log.Warn("initial leaderboard refresh failed", logger.Err(err))
		}
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("study engine worker is running")

	<-ctx.Done()
	log.Info("received shutdown signal")
	log.Info("starting graceful shutdown...", logger.Duration("timeout", cfg.App.ShutdownTimeout))

	if err := sched.Stop(); err != nil {
		log.Error("scheduler stop failed", logger.Err(err))
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
