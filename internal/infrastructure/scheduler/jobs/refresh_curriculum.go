package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fable-hub/fable-story-hub/internal/domain/curriculum"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
	"github.com/fable-hub/fable-story-hub/internal/infrastructure/service"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH CURRICULUM JOB
// ══════════════════════════════════════════════════════════════════════════════

// RefreshCurriculumJob keeps the in-memory curriculum snapshot in step with
// the published version in storage. A version check runs every cycle; the
// full tree is only reloaded when the published tag moved.
type RefreshCurriculumJob struct {
	repo           curriculum.Repository
	provider       *service.CurriculumProvider
	eventPublisher shared.EventPublisher
	logger         *slog.Logger
	clock          shared.Clock

	lastRunStats atomic.Value // *RefreshCurriculumStats
}

// RefreshCurriculumStats contains statistics from a refresh run.
type RefreshCurriculumStats struct {
	StartedAt time.Time
	Duration  time.Duration
	Refreshed bool
	Version   string
}

// NewRefreshCurriculumJob creates a new RefreshCurriculumJob.
func NewRefreshCurriculumJob(
	repo curriculum.Repository,
	provider *service.CurriculumProvider,
	eventPublisher shared.EventPublisher,
	logger *slog.Logger,
	clock shared.Clock,
) *RefreshCurriculumJob {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}

	return &RefreshCurriculumJob{
		repo:           repo,
		provider:       provider,
		eventPublisher: eventPublisher,
		logger:         logger,
		clock:          clock,
	}
}

// Name returns the job name.
func (j *RefreshCurriculumJob) Name() string {
	return "refresh_curriculum"
}

// Description returns a human-readable description.
func (j *RefreshCurriculumJob) Description() string {
	return "Reloads the curriculum snapshot when a new version is published"
}

// Run executes the refresh.
func (j *RefreshCurriculumJob) Run(ctx context.Context) error {
	stats := &RefreshCurriculumStats{StartedAt: j.clock.Now().Time()}
	defer func() {
		stats.Duration = time.Since(stats.StartedAt)
		j.lastRunStats.Store(stats)
	}()

	published, err := j.repo.PublishedVersion(ctx)
	if err != nil {
		if errors.Is(err, shared.ErrCurriculumEmpty) {
			// Nothing published yet. Fine on a fresh install; the next run
			// picks up the first publish.
			return nil
		}
		return fmt.Errorf("refresh_curriculum: %w", err)
	}

	current := j.provider.Version()
	stats.Version = current
	if published == current {
		return nil
	}

	tree, err := j.repo.LoadPublished(ctx)
	if err != nil {
		return fmt.Errorf("refresh_curriculum: load version %q: %w", published, err)
	}

	j.provider.Set(tree)
	info := tree.Info()
	stats.Refreshed = true
	stats.Version = info.Version

	if j.eventPublisher != nil {
		event := shared.CurriculumRefreshedEvent{
			BaseEvent: shared.NewBaseEvent(shared.EventCurriculumRefreshed, info.Version),
			Blocks:    info.Blocks,
			Stories:   info.Stories,
			Version:   info.Version,
		}
		if err := j.eventPublisher.Publish(event); err != nil {
			j.logger.Warn("failed to publish refresh event", "error", err)
		}
	}

	j.logger.Info("curriculum snapshot refreshed",
		"version", info.Version,
		"previous", current,
		"blocks", info.Blocks,
		"stories", info.Stories,
	)
	return nil
}

// LastRunStats returns statistics from the most recent run, or nil.
func (j *RefreshCurriculumJob) LastRunStats() *RefreshCurriculumStats {
	stats, _ := j.lastRunStats.Load().(*RefreshCurriculumStats)
	return stats
}
