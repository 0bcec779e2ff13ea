// Package main - entry point for the Fable Story Hub background worker.
//
// The worker owns everything that does not sit on a request path:
// - Cooldown scans that tell parents when the next story unlocked
// - The entitlement sweep that lapses subscriptions past their expiry
// - The curriculum refresh that follows new published versions
// - Event-driven cache eviction and notifications
//
// It shares postgres and redis with the API server and, when redis is
// available, subscribes to the same event channel so completions recorded
// by the server reach the notification pipeline here.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fable-hub/fable-story-hub/config"
	"github.com/fable-hub/fable-story-hub/internal/application/command"
	"github.com/fable-hub/fable-story-hub/internal/application/eventhandler"
	"github.com/fable-hub/fable-story-hub/internal/domain/access"
	"github.com/fable-hub/fable-story-hub/internal/domain/family"
	"github.com/fable-hub/fable-story-hub/internal/domain/notification"
	"github.com/fable-hub/fable-story-hub/internal/domain/progress"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
	"github.com/fable-hub/fable-story-hub/internal/infrastructure/messaging"
	"github.com/fable-hub/fable-story-hub/internal/infrastructure/persistence/postgres"
	"github.com/fable-hub/fable-story-hub/internal/infrastructure/persistence/redis"
	"github.com/fable-hub/fable-story-hub/internal/infrastructure/scheduler"
	"github.com/fable-hub/fable-story-hub/internal/infrastructure/scheduler/jobs"
	"github.com/fable-hub/fable-story-hub/internal/infrastructure/service"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting Fable Story Hub Worker",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"scheduler_enabled", cfg.Scheduler.Enabled,
	)

	clock := shared.SystemClock{}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("database connection established")

	// The worker needs the schema of whichever binary started first.
	log.Info("checking database migrations...")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database schema is up to date")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var redisCache *redis.Cache
	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		redisCache, err = redis.NewCache(redisConfig(cfg))
		if err != nil {
			log.Warn("failed to connect to Redis, caching disabled", "error", err)
			redisCache = nil
		} else {
			defer redisCache.Close()
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REPOSITORIES
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing repositories...")
	familyRepo := postgres.NewFamilyRepository(dbConn)
	curriculumRepo := postgres.NewCurriculumRepository(dbConn)
	notificationRepo := postgres.NewNotificationRepository(dbConn)

	var progressRepo progress.Repository = postgres.NewProgressRepository(dbConn)
	var policyReader family.PolicyReader = familyRepo

	var entitlementCache *redis.EntitlementCache
	var ledgerCache *redis.LedgerCache
	if redisCache != nil {
		ledgerCache = redis.NewLedgerCache(progressRepo, redisCache, cfg.Redis.LedgerTTL, log)
		progressRepo = ledgerCache
		entitlementCache = redis.NewEntitlementCache(familyRepo, familyRepo, redisCache, cfg.Redis.EntitlementTTL, log)
		policyReader = entitlementCache
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. EVENT BUS
	// With redis the worker hears the API server's completion events; without
	// it the scheduled scans re-derive everything from postgres on their own.
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing event bus...")
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = log

	var eventBus shared.EventBus
	var closeBus func() error
	if redisCache != nil {
		redisBus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         messaging.NewGoRedisClient(redisCache.Client()),
			LocalBusConfig: busConfig,
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("failed to create redis event bus: %w", err)
		}
		eventBus = redisBus
		closeBus = redisBus.Close
	} else {
		memBus := messaging.NewInMemoryEventBus(busConfig)
		eventBus = memBus
		closeBus = memBus.Close
	}
	defer func() {
		log.Info("closing event bus...")
		_ = closeBus()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 7. CURRICULUM SNAPSHOT
	// ─────────────────────────────────────────────────────────────────────────
	provider := service.NewCurriculumProvider()
	tree, err := curriculumRepo.LoadPublished(ctx)
	if err == nil {
		provider.Set(tree)
		log.Info("curriculum snapshot loaded", "version", tree.Version())
	} else {
		// The refresh job keeps retrying; the cooldown scan skips cycles
		// until a snapshot exists.
		log.Warn("no curriculum snapshot yet", "error", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. NOTIFICATIONS
	// ─────────────────────────────────────────────────────────────────────────
	notifier := service.NewNotificationService(
		notificationRepo,
		[]notification.Channel{
			service.NewInAppChannel(),
			service.NewLogEmailChannel(log),
			service.NewLogPushChannel(log),
		},
		eventBus,
		service.NewIDGenerator(),
		log,
		clock,
		service.DefaultNotificationServiceConfig(),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 9. EVENT HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("registering event handlers...")
	dispatcher := messaging.NewDispatcher(messaging.DispatcherConfig{
		EventBus:              eventBus,
		RetryConfig:           messaging.DefaultRetryConfig(),
		EnableDeadLetterQueue: true,
		DeadLetterQueueSize:   1000,
		Logger:                log,
	})

	var progressInvalidator eventhandler.ProgressCacheInvalidator
	var entitlementInvalidator eventhandler.EntitlementCacheInvalidator
	if ledgerCache != nil {
		progressInvalidator = ledgerCache
	}
	if entitlementCache != nil {
		entitlementInvalidator = entitlementCache
	}

	storyCompletedHandler := eventhandler.NewOnStoryCompletedHandler(
		progressInvalidator, familyRepo, notifier, log, clock, eventhandler.DefaultStoryCompletedConfig())
	rewardUnlockedHandler := eventhandler.NewOnRewardUnlockedHandler(
		progressInvalidator, familyRepo, notifier, log, clock, eventhandler.DefaultRewardUnlockedConfig())
	subscriptionChangedHandler := eventhandler.NewOnSubscriptionChangedHandler(
		entitlementInvalidator, familyRepo, notifier, log, clock, eventhandler.DefaultSubscriptionChangedConfig())

	for eventType, handler := range map[shared.EventType]shared.EventHandler{
		shared.EventStoryCompleted:      storyCompletedHandler.Handle,
		shared.EventCompletionReplay:    storyCompletedHandler.Handle,
		shared.EventWeekCompleted:       storyCompletedHandler.Handle,
		shared.EventRewardUnlocked:      rewardUnlockedHandler.Handle,
		shared.EventSubscriptionChanged: subscriptionChangedHandler.Handle,
	} {
		if err := dispatcher.Register(eventType, "worker:"+string(eventType), handler); err != nil {
			return fmt.Errorf("failed to register handler for %s: %w", eventType, err)
		}
	}

	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	defer func() { _ = dispatcher.Stop() }()

	// ─────────────────────────────────────────────────────────────────────────
	// 10. SCHEDULED JOBS
	// ─────────────────────────────────────────────────────────────────────────
	if !cfg.Scheduler.Enabled {
		log.Warn("scheduler disabled, worker will only process bus events")
	}

	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{Logger: log})

	if cfg.Scheduler.Enabled {
		evaluator := access.NewEvaluator(cfg.Unlock.Cooldown)
		syncEntitlementCmd := command.NewSyncEntitlementHandler(familyRepo, eventBus, clock)

		notifyConfig := jobs.DefaultNotifyUnlockedConfig()
		notifyConfig.Cooldown = cfg.Unlock.Cooldown
		if !cfg.Features.UnlockPushesEnabled(nil) {
			// Pushes are still rolling out; the in-app inbox gets the
			// unlock note either way.
			notifyConfig.Channel = notification.ChannelTypeInApp
		}

		notifyJob := jobs.NewNotifyUnlockedJob(
			progressRepo, familyRepo, policyReader, provider, evaluator,
			notifier, eventBus, log, clock, notifyConfig)
		expireJob := jobs.NewExpireEntitlementsJob(
			familyRepo, syncEntitlementCmd, eventBus, log, clock,
			jobs.DefaultExpireEntitlementsConfig())
		refreshJob := jobs.NewRefreshCurriculumJob(curriculumRepo, provider, eventBus, log, clock)

		for _, reg := range []struct {
			job      scheduler.Job
			schedule scheduler.Schedule
		}{
			{notifyJob, scheduler.NewIntervalSchedule(cfg.Scheduler.NotifyUnlockedInterval)},
			{expireJob, scheduler.NewIntervalSchedule(cfg.Scheduler.ExpireEntitlementsInterval)},
			{refreshJob, scheduler.NewIntervalSchedule(cfg.Scheduler.RefreshCurriculumInterval)},
		} {
			if err := sched.Register(reg.job, reg.schedule); err != nil {
				return fmt.Errorf("failed to register job %s: %w", reg.job.Name(), err)
			}
		}

		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() { _ = sched.Stop() }()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 11. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("Fable Story Hub Worker is running",
		"notify_interval", cfg.Scheduler.NotifyUnlockedInterval.String(),
		"expire_interval", cfg.Scheduler.ExpireEntitlementsInterval.String(),
		"curriculum_interval", cfg.Scheduler.RefreshCurriculumInterval.String(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigCh
	log.Info("received shutdown signal", "signal", sig.String())

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	// Scheduler, dispatcher, bus and connections close via defers; Stop on
	// the scheduler waits for jobs already in flight.
	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger configures structured logging per the observability config.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	switch strings.ToLower(cfg.Observability.LogLevel) {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log
}

// redisConfig maps the application redis settings onto the cache config.
func redisConfig(cfg *config.Config) redis.Config {
	rc := redis.DefaultConfig()
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout
	return rc
}
