package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fable-hub/fable-story-hub/internal/application/command"
	"github.com/fable-hub/fable-story-hub/internal/domain/family"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPIRE ENTITLEMENTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// ExpireEntitlementsJob lapses trial and active subscriptions that ran past
// their expiry without a webhook saying otherwise. The webhook is the fast
// path; this sweep is the backstop that guarantees nobody keeps access on a
// subscription the provider stopped billing.
type ExpireEntitlementsJob struct {
	familyRepo     family.Repository
	syncHandler    *command.SyncEntitlementHandler
	eventPublisher shared.EventPublisher
	logger         *slog.Logger
	clock          shared.Clock
	config         ExpireEntitlementsConfig

	lastRunStats atomic.Value // *ExpireEntitlementsStats
}

// ExpireEntitlementsConfig contains configuration for the sweep.
type ExpireEntitlementsConfig struct {
	// Grace is subtracted from now before comparing expiries, leaving the
	// webhook a window to renew before the sweep lapses the account.
	Grace time.Duration

	// BatchSize limits accounts processed per run.
	BatchSize int
}

// DefaultExpireEntitlementsConfig returns sensible defaults.
func DefaultExpireEntitlementsConfig() ExpireEntitlementsConfig {
	return ExpireEntitlementsConfig{
		Grace:     1 * time.Hour,
		BatchSize: 200,
	}
}

// ExpireEntitlementsStats contains statistics from a sweep run.
type ExpireEntitlementsStats struct {
	StartedAt time.Time
	Duration  time.Duration
	Scanned   int
	Lapsed    int
	Errors    int
}

// NewExpireEntitlementsJob creates a new ExpireEntitlementsJob.
func NewExpireEntitlementsJob(
	familyRepo family.Repository,
	syncHandler *command.SyncEntitlementHandler,
	eventPublisher shared.EventPublisher,
	logger *slog.Logger,
	clock shared.Clock,
	config ExpireEntitlementsConfig,
) *ExpireEntitlementsJob {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 200
	}

	return &ExpireEntitlementsJob{
		familyRepo:     familyRepo,
		syncHandler:    syncHandler,
		eventPublisher: eventPublisher,
		logger:         logger,
		clock:          clock,
		config:         config,
	}
}

// Name returns the job name.
func (j *ExpireEntitlementsJob) Name() string {
	return "expire_entitlements"
}

// Description returns a human-readable description.
func (j *ExpireEntitlementsJob) Description() string {
	return "Lapses subscriptions that ran past their expiry"
}

// Run executes the sweep.
func (j *ExpireEntitlementsJob) Run(ctx context.Context) error {
	now := j.clock.Now()
	stats := &ExpireEntitlementsStats{StartedAt: now.Time()}
	defer func() {
		stats.Duration = time.Since(stats.StartedAt)
		j.lastRunStats.Store(stats)
	}()

	cutoff := now.Add(-j.config.Grace)
	accounts, err := j.familyRepo.AccountsExpiringBefore(ctx, cutoff, j.config.BatchSize)
	if err != nil {
		return fmt.Errorf("expire_entitlements: %w", err)
	}

	for _, account := range accounts {
		stats.Scanned++

		// Re-check against the domain rule; the query is only a coarse
		// prefilter.
		if account.Subscription.EntitledAt(now) {
			continue
		}

		_, err := j.syncHandler.Handle(ctx, command.SyncEntitlementCommand{
			AccountID:   account.ID.String(),
			State:       string(family.SubscriptionLapsed),
			ExpiresAt:   account.Subscription.ExpiresAt,
			ProviderRef: account.Subscription.ProviderRef,
			Source:      command.SourceSweep,
		})
		if err != nil {
			stats.Errors++
			j.logger.Error("failed to lapse account",
				"account_id", account.ID,
				"error", err,
			)
			continue
		}
		stats.Lapsed++
	}

	if j.eventPublisher != nil {
		event := shared.EntitlementSweepEvent{
			BaseEvent: shared.NewBaseEvent(shared.EventEntitlementSwept, "sweep"),
			Scanned:   stats.Scanned,
			Lapsed:    stats.Lapsed,
		}
		if err := j.eventPublisher.Publish(event); err != nil {
			j.logger.Warn("failed to publish sweep event", "error", err)
		}
	}

	j.logger.Info("entitlement sweep finished",
		"scanned", stats.Scanned,
		"lapsed", stats.Lapsed,
		"errors", stats.Errors,
	)
	return nil
}

// LastRunStats returns statistics from the most recent run, or nil.
func (j *ExpireEntitlementsJob) LastRunStats() *ExpireEntitlementsStats {
	stats, _ := j.lastRunStats.Load().(*ExpireEntitlementsStats)
	return stats
}
