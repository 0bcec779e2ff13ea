// Package jobs contains the hub's scheduled background jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fable-hub/fable-story-hub/internal/domain/access"
	"github.com/fable-hub/fable-story-hub/internal/domain/curriculum"
	"github.com/fable-hub/fable-story-hub/internal/domain/family"
	"github.com/fable-hub/fable-story-hub/internal/domain/notification"
	"github.com/fable-hub/fable-story-hub/internal/domain/progress"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFY UNLOCKED JOB
// ══════════════════════════════════════════════════════════════════════════════

// NotifyUnlockedJob scans children whose story cooldown has just elapsed and
// tells their parents the next story is ready. There is no timer per child;
// the scan re-derives "just unlocked" from the completion ledger, and the
// notification dedupe key keeps overlapping scans idempotent.
type NotifyUnlockedJob struct {
	progressRepo       progress.Repository
	familyRepo         family.Repository
	policyReader       family.PolicyReader
	curriculumProvider curriculum.Provider
	evaluator          *access.Evaluator
	notifier           notification.Service
	eventPublisher     shared.EventPublisher
	logger             *slog.Logger
	clock              shared.Clock
	config             NotifyUnlockedConfig

	lastRunStats atomic.Value // *NotifyUnlockedStats
}

// NotifyUnlockedConfig contains configuration for the job.
type NotifyUnlockedConfig struct {
	// Cooldown is the story cooldown; must match the evaluator's.
	Cooldown time.Duration

	// Lookback bounds how far past the unlock instant a scan still
	// notifies. Anything older is considered missed on purpose rather
	// than waking parents about a story unlocked hours ago.
	Lookback time.Duration

	// BatchSize limits children scanned per run.
	BatchSize int

	// Channel is the delivery channel for unlock notifications.
	Channel notification.ChannelType
}

// DefaultNotifyUnlockedConfig returns sensible defaults.
func DefaultNotifyUnlockedConfig() NotifyUnlockedConfig {
	return NotifyUnlockedConfig{
		Cooldown:  access.DefaultCooldown,
		Lookback:  30 * time.Minute,
		BatchSize: 500,
		Channel:   notification.ChannelTypePush,
	}
}

// NotifyUnlockedStats contains statistics from a scan run.
type NotifyUnlockedStats struct {
	StartedAt         time.Time
	Duration          time.Duration
	ChildrenScanned   int
	UnlocksFound      int
	NotificationsSent int
	Errors            int
}

// NewNotifyUnlockedJob creates a new NotifyUnlockedJob.
func NewNotifyUnlockedJob(
	progressRepo progress.Repository,
	familyRepo family.Repository,
	policyReader family.PolicyReader,
	curriculumProvider curriculum.Provider,
	evaluator *access.Evaluator,
	notifier notification.Service,
	eventPublisher shared.EventPublisher,
	logger *slog.Logger,
	clock shared.Clock,
	config NotifyUnlockedConfig,
) *NotifyUnlockedJob {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if config.Cooldown <= 0 {
		config.Cooldown = access.DefaultCooldown
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}

	return &NotifyUnlockedJob{
		progressRepo:       progressRepo,
		familyRepo:         familyRepo,
		policyReader:       policyReader,
		curriculumProvider: curriculumProvider,
		evaluator:          evaluator,
		notifier:           notifier,
		eventPublisher:     eventPublisher,
		logger:             logger,
		clock:              clock,
		config:             config,
	}
}

// Name returns the job name.
func (j *NotifyUnlockedJob) Name() string {
	return "notify_unlocked"
}

// Description returns a human-readable description.
func (j *NotifyUnlockedJob) Description() string {
	return "Notifies parents when a child's next story comes off cooldown"
}

// Run executes the scan.
func (j *NotifyUnlockedJob) Run(ctx context.Context) error {
	now := j.clock.Now()
	stats := &NotifyUnlockedStats{StartedAt: now.Time()}
	defer func() {
		stats.Duration = time.Since(stats.StartedAt)
		j.lastRunStats.Store(stats)
	}()

	tree, err := j.curriculumProvider.Current()
	if err != nil {
		return fmt.Errorf("notify_unlocked: %w", err)
	}

	// A completion unlocks its successor Cooldown later. Children whose
	// latest completion is older than Cooldown+Lookback either got their
	// notification on an earlier scan or are past the window.
	since := now.Add(-(j.config.Cooldown + j.config.Lookback))
	children, err := j.progressRepo.ChildrenWithRecentCompletions(ctx, since, j.config.BatchSize)
	if err != nil {
		return fmt.Errorf("notify_unlocked: scan completions: %w", err)
	}

	for _, childID := range children {
		stats.ChildrenScanned++

		err := j.processChild(ctx, tree, childID, now)
		switch {
		case err == nil:
			stats.UnlocksFound++
			stats.NotificationsSent++
		case errors.Is(err, errNotDue):
			// nothing to announce for this child
		default:
			stats.Errors++
			j.logger.Warn("unlock scan failed for child",
				"child_id", childID.String(),
				"error", err,
			)
		}
	}

	j.logger.Info("unlock scan finished",
		"scanned", stats.ChildrenScanned,
		"notified", stats.NotificationsSent,
		"errors", stats.Errors,
	)
	return nil
}

// errNotDue marks children skipped for ordinary reasons, not failures.
var errNotDue = errors.New("not due")

func (j *NotifyUnlockedJob) processChild(ctx context.Context, tree *curriculum.Tree, childID shared.ChildID, now shared.Instant) error {
	latest, err := j.progressRepo.LatestCompletion(ctx, childID)
	if err != nil {
		if errors.Is(err, shared.ErrEntryNotFound) {
			return errNotDue
		}
		return err
	}

	unlockAt := latest.CompletedAt.Add(j.config.Cooldown)
	if now.Before(unlockAt) {
		return errNotDue // still cooling down
	}
	if unlockAt.Before(now.Add(-j.config.Lookback)) {
		return errNotDue // unlocked too long ago
	}

	next, err := j.nextStoryAfter(tree, latest.StoryID)
	if err != nil || next == nil {
		return errNotDue // curriculum finished or story left the snapshot
	}

	// Confirm with the full gate: entitlement may have lapsed and the
	// next story may still be locked by something else.
	entitled, override, err := j.policyReader.PolicyFor(ctx, childID, now)
	if err != nil {
		return err
	}
	ledger, err := j.progressRepo.Snapshot(ctx, childID)
	if err != nil {
		return err
	}
	pctx := access.PolicyContext{Entitled: entitled, Override: override, Now: now}
	decision, err := j.evaluator.Decide(tree, ledger, pctx, next.ID)
	if err != nil {
		return err
	}
	if decision.State != access.StateAvailable {
		return errNotDue
	}

	account, err := j.familyRepo.GetAccountByChild(ctx, childID)
	if err != nil {
		return err
	}
	child, err := j.familyRepo.GetChild(ctx, childID)
	if err != nil {
		return err
	}

	n := &notification.Notification{
		AccountID: account.ID,
		ChildID:   childID,
		Type:      notification.TypeStoryUnlocked,
		Channel:   j.config.Channel,
		Subject:   fmt.Sprintf("A new story is ready for %s", child.Name),
		Body:      fmt.Sprintf("%s can now listen to %q.", child.Name, next.Title),
		DedupeKey: fmt.Sprintf("story_unlocked:%s:%s", childID, next.ID),
	}
	if err := j.notifier.Notify(ctx, n); err != nil {
		return err
	}

	if j.eventPublisher != nil {
		event := shared.CooldownElapsedEvent{
			BaseEvent:   shared.NewBaseEvent(shared.EventCooldownElapsed, childID.String()),
			ChildID:     childID.String(),
			NextStoryID: next.ID.String(),
		}
		if err := j.eventPublisher.Publish(event); err != nil {
			j.logger.Warn("failed to publish cooldown event", "error", err)
		}
	}

	return nil
}

// nextStoryAfter returns the linear successor of the given story, or nil
// when it is the last story of the curriculum.
func (j *NotifyUnlockedJob) nextStoryAfter(tree *curriculum.Tree, storyID shared.NodeID) (*curriculum.Story, error) {
	found := false
	for _, week := range tree.WeeksInOrder() {
		for _, story := range week.Stories {
			if found {
				return story, nil
			}
			if story.ID == storyID {
				found = true
			}
		}
	}
	if !found {
		return nil, shared.ErrUnknownNode
	}
	return nil, nil
}

// LastRunStats returns statistics from the most recent run, or nil.
func (j *NotifyUnlockedJob) LastRunStats() *NotifyUnlockedStats {
	stats, _ := j.lastRunStats.Load().(*NotifyUnlockedStats)
	return stats
}
