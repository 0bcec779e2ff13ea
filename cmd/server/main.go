// Package main - entry point for the Fable Story Hub API server.
//
// The server owns the request path: story access checks, week maps,
// completion writes, progress summaries, family signup and the billing
// webhook. Background sweeps live in cmd/worker; the only scheduled job
// here is the curriculum refresh, because the in-memory snapshot the
// request path reads from belongs to this process.
//
// Architecture follows Clean Architecture and DDD:
// - Domain: access rules, curriculum tree, progress ledger, family
// - Application: use-case orchestration (Commands/Queries/Sagas)
// - Infrastructure: postgres, redis, messaging, billing client
// - Interface: HTTP handlers and webhooks
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fable-hub/fable-story-hub/config"
	"github.com/fable-hub/fable-story-hub/internal/application/command"
	"github.com/fable-hub/fable-story-hub/internal/application/eventhandler"
	"github.com/fable-hub/fable-story-hub/internal/application/query"
	"github.com/fable-hub/fable-story-hub/internal/application/saga"
	"github.com/fable-hub/fable-story-hub/internal/domain/access"
	"github.com/fable-hub/fable-story-hub/internal/domain/curriculum"
	"github.com/fable-hub/fable-story-hub/internal/domain/family"
	"github.com/fable-hub/fable-story-hub/internal/domain/notification"
	"github.com/fable-hub/fable-story-hub/internal/domain/progress"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
	"github.com/fable-hub/fable-story-hub/internal/infrastructure/external/billing"
	"github.com/fable-hub/fable-story-hub/internal/infrastructure/messaging"
	"github.com/fable-hub/fable-story-hub/internal/infrastructure/persistence/postgres"
	"github.com/fable-hub/fable-story-hub/internal/infrastructure/persistence/redis"
	"github.com/fable-hub/fable-story-hub/internal/infrastructure/scheduler"
	"github.com/fable-hub/fable-story-hub/internal/infrastructure/scheduler/jobs"
	"github.com/fable-hub/fable-story-hub/internal/infrastructure/service"
	httpserver "github.com/fable-hub/fable-story-hub/internal/interface/http"
	"github.com/fable-hub/fable-story-hub/pkg/logger"
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
	log.Info("starting Fable Story Hub API",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"debug", cfg.App.Debug,
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

	// ─────────────────────────────────────────────────────────────────────────
	// 4. MIGRATIONS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("running database migrations...")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REDIS (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var redisCache *redis.Cache
	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		redisCache, err = redis.NewCache(redisConfig(cfg))
		if err != nil {
			// The engine answers from postgres without redis, just slower.
			log.Warn("failed to connect to Redis, caching disabled", "error", err)
			redisCache = nil
		} else {
			defer redisCache.Close()
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. REPOSITORIES
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
	// 7. EVENT BUS
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
	// 8. CURRICULUM SNAPSHOT
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("loading published curriculum...")
	provider := service.NewCurriculumProvider()
	tree, err := curriculumRepo.LoadPublished(ctx)
	switch {
	case err == nil:
		provider.Set(tree)
		info := tree.Info()
		log.Info("curriculum snapshot loaded",
			"version", info.Version,
			"blocks", info.Blocks,
			"weeks", info.Weeks,
			"stories", info.Stories,
		)
	case errors.Is(err, shared.ErrCurriculumEmpty):
		// Access checks return 503 until the first publish lands.
		log.Warn("no published curriculum yet, serving without a snapshot")
	default:
		return fmt.Errorf("failed to load curriculum: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. NOTIFICATIONS
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
	// 10. APPLICATION LAYER (Commands, Queries, Sagas)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing application layer...")

	replayPolicy, err := progress.ParseReplayPolicy(cfg.Unlock.ReplayPolicy)
	if err != nil {
		return fmt.Errorf("invalid replay policy: %w", err)
	}

	evaluator := access.NewEvaluator(cfg.Unlock.Cooldown)
	rewardGate := access.NewRewardGate()

	storyAccessQuery := query.NewGetStoryAccessHandler(provider, progressRepo, policyReader, evaluator, clock)
	weekMapQuery := query.NewGetWeekMapHandler(provider, progressRepo, policyReader, evaluator, rewardGate, clock)
	progressQuery := query.NewGetProgressSummaryHandler(provider, progressRepo, clock)

	completeStoryCmd := command.NewCompleteStoryHandler(
		provider, progressRepo, policyReader, evaluator, rewardGate, eventBus, clock, replayPolicy)
	syncEntitlementCmd := command.NewSyncEntitlementHandler(familyRepo, eventBus, clock)
	grantOverrideCmd := command.NewGrantOverrideHandler(familyRepo, eventBus)

	onboardingSaga := saga.NewFamilyOnboardingSaga(
		familyRepo, progressRepo, notifier, eventBus,
		service.NewIDGenerator(), clock, saga.DefaultOnboardingConfig())

	// ─────────────────────────────────────────────────────────────────────────
	// 11. EVENT HANDLERS
	// The server evicts its own caches and sends the lapse notice. The push
	// on reward unlock belongs to the worker; notification dedupe keys in
	// postgres make any overlap between the two processes harmless.
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
	subscriptionChangedHandler := eventhandler.NewOnSubscriptionChangedHandler(
		entitlementInvalidator, familyRepo, notifier, log, clock, eventhandler.DefaultSubscriptionChangedConfig())

	registrations := map[shared.EventType]shared.EventHandler{
		shared.EventStoryCompleted:      storyCompletedHandler.Handle,
		shared.EventCompletionReplay:    storyCompletedHandler.Handle,
		shared.EventWeekCompleted:       storyCompletedHandler.Handle,
		shared.EventSubscriptionChanged: subscriptionChangedHandler.Handle,
	}
	if entitlementCache != nil {
		// A support override must take effect immediately, not after the
		// cached verdict's TTL runs out.
		evictor := &overrideCacheEvictor{cache: entitlementCache}
		registrations[shared.EventOverrideGranted] = evictor.Handle
		registrations[shared.EventOverrideRevoked] = evictor.Handle
	}
	for eventType, handler := range registrations {
		if err := dispatcher.Register(eventType, "server:"+string(eventType), handler); err != nil {
			return fmt.Errorf("failed to register handler for %s: %w", eventType, err)
		}
	}

	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	defer func() { _ = dispatcher.Stop() }()

	// ─────────────────────────────────────────────────────────────────────────
	// 12. BILLING CLIENT
	// ─────────────────────────────────────────────────────────────────────────
	billingConfig := billing.DefaultClientConfig(cfg.Billing.BaseURL)
	billingConfig.APIKey = cfg.Billing.APIKey
	billingConfig.WebhookSecret = cfg.Billing.WebhookSecret
	billingConfig.Timeout = cfg.Billing.RequestTimeout
	billingConfig.Logger = log
	billingConfig.Debug = cfg.App.Debug
	billingClient := billing.NewClient(billingConfig)

	// ─────────────────────────────────────────────────────────────────────────
	// 13. CURRICULUM REFRESH LOOP
	// The request path reads this process's snapshot, so this process keeps
	// it fresh. The worker runs its own copy of the same job.
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{Logger: log})
	refreshJob := jobs.NewRefreshCurriculumJob(curriculumRepo, provider, eventBus, log, clock)
	if err := sched.Register(refreshJob, scheduler.NewIntervalSchedule(cfg.Scheduler.RefreshCurriculumInterval)); err != nil {
		return fmt.Errorf("failed to register refresh job: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer func() { _ = sched.Stop() }()

	// ─────────────────────────────────────────────────────────────────────────
	// 14. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing HTTP server...")

	httpConfig := httpserver.DefaultConfig()
	httpConfig.Host = cfg.HTTP.Host
	httpConfig.Port = cfg.HTTP.Port
	httpConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	httpConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	httpConfig.IdleTimeout = cfg.HTTP.IdleTimeout
	httpConfig.RateLimitPerMinute = cfg.HTTP.RateLimit
	httpConfig.APIKeys = splitNonEmpty(os.Getenv("API_KEYS"))

	httpDeps := httpserver.Dependencies{
		GetStoryAccessHandler:     storyAccessQuery,
		GetWeekMapHandler:         weekMapQuery,
		GetProgressSummaryHandler: progressQuery,
		CompleteStoryHandler:      completeStoryCmd,
		SyncEntitlementHandler:    syncEntitlementCmd,
		GrantOverrideHandler:      grantOverrideCmd,
		OnboardingSaga:            onboardingSaga,
		BillingClient:             billingClient,
		Logger:                    logger.New(logger.Options{Level: logger.ParseLevel(cfg.Observability.LogLevel)}),
		HealthChecker: &healthChecker{
			db:       dbConn,
			cache:    redisCache,
			provider: provider,
		},
	}

	server := httpserver.NewServer(httpConfig, httpDeps)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", "address", server.Address())
		if err := server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 15. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("Fable Story Hub API is running", "http_address", server.Address())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		log.Error("service error", "error", err)
		return err
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", "error", err)
		return err
	}

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH CHECKS
// ══════════════════════════════════════════════════════════════════════════════

// healthChecker reports the health of the server's dependencies. Readiness
// additionally requires a curriculum snapshot: without one every access
// check answers 503, so the instance should not receive traffic yet.
type healthChecker struct {
	db       *postgres.Connection
	cache    *redis.Cache
	provider curriculum.Provider
}

func (h *healthChecker) Check(ctx context.Context) httpserver.HealthStatus {
	status := httpserver.HealthStatus{
		Healthy: true,
		Ready:   true,
		Checks:  make(map[string]string),
	}

	if err := h.db.Ping(ctx); err != nil {
		status.Healthy = false
		status.Ready = false
		status.Message = "database unreachable"
		status.Checks["postgres"] = err.Error()
	} else {
		status.Checks["postgres"] = "ok"
	}

	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			// Degraded, not down: reads fall through to postgres.
			status.Checks["redis"] = err.Error()
		} else {
			status.Checks["redis"] = "ok"
		}
	}

	if _, err := h.provider.Current(); err != nil {
		status.Ready = false
		if status.Message == "" {
			status.Message = "no curriculum snapshot"
		}
		status.Checks["curriculum"] = "not loaded"
	} else {
		status.Checks["curriculum"] = "ok"
	}

	return status
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

// ══════════════════════════════════════════════════════════════════════════════
// ADAPTERS
// ══════════════════════════════════════════════════════════════════════════════

// overrideCacheEvictor drops a child's cached entitlement verdict the moment
// an override is granted or revoked.
type overrideCacheEvictor struct {
	cache *redis.EntitlementCache
}

// Handle satisfies shared.EventHandler.
func (a *overrideCacheEvictor) Handle(event shared.Event) error {
	e, ok := event.(shared.OverrideGrantedEvent)
	if !ok {
		return nil
	}
	return a.cache.InvalidateChild(context.Background(), shared.ChildID(e.ChildID))
}

// splitNonEmpty splits a comma-separated list, dropping empty entries.
func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
