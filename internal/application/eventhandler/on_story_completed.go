// Package eventhandler contains the subscribers that react to domain events
// after a command has committed: cache invalidation, parent notifications,
// and projection upkeep. Handlers are best-effort - a failed side effect is
// logged and never rolls back the completion that triggered it.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fable-hub/fable-story-hub/internal/domain/family"
	"github.com/fable-hub/fable-story-hub/internal/domain/notification"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// ProgressCacheInvalidator drops cached read models for one child. The redis
// layer implements it; handlers depend on this interface only.
type ProgressCacheInvalidator interface {
	// InvalidateChild removes the child's cached ledger snapshot and any
	// derived week-map projections.
	InvalidateChild(ctx context.Context, childID shared.ChildID) error
}

// ═══════════════════════════════════════════════════════════════════════════
// ON STORY COMPLETED HANDLER
//
// Fires on first-time completions, on replays, and on week closure:
// 1. Cache invalidation - the cached ledger is stale the moment a completion
//    lands, and a stale ledger would show yesterday's countdown.
// 2. Week-completed notification - optional nudge to the parent when the
//    last story of a week closes.
//
// Replays invalidate the cache too (last-write-wins deployments move the
// cooldown anchor) but never notify: the parent already heard about this
// story once.
// ═══════════════════════════════════════════════════════════════════════════

// OnStoryCompletedHandler reacts to completion events.
type OnStoryCompletedHandler struct {
	cache      ProgressCacheInvalidator
	familyRepo family.Repository
	notifier   notification.Service

	logger *slog.Logger
	clock  shared.Clock
	config StoryCompletedConfig
}

// StoryCompletedConfig tunes the handler's side effects.
type StoryCompletedConfig struct {
	// InvalidateCache controls whether cached read models are dropped.
	InvalidateCache bool

	// NotifyWeekCompleted controls the week-closure nudge to the parent.
	// Off by default: the reward-unlocked notification covers the same
	// moment and two pushes for one tap is noise.
	NotifyWeekCompleted bool

	// WeekCompletedChannel is the delivery channel for the nudge.
	WeekCompletedChannel notification.ChannelType
}

// DefaultStoryCompletedConfig returns the default configuration.
func DefaultStoryCompletedConfig() StoryCompletedConfig {
	return StoryCompletedConfig{
		InvalidateCache:      true,
		NotifyWeekCompleted:  false,
		WeekCompletedChannel: notification.ChannelTypePush,
	}
}

// NewOnStoryCompletedHandler creates the handler.
func NewOnStoryCompletedHandler(
	cache ProgressCacheInvalidator,
	familyRepo family.Repository,
	notifier notification.Service,
	logger *slog.Logger,
	clock shared.Clock,
	config StoryCompletedConfig,
) *OnStoryCompletedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}

	return &OnStoryCompletedHandler{
		cache:      cache,
		familyRepo: familyRepo,
		notifier:   notifier,
		logger:     logger.With("handler", "on_story_completed"),
		clock:      clock,
		config:     config,
	}
}

// Handle dispatches on the concrete event type. It is registered for
// progress.story_completed, progress.completion_replayed and
// progress.week_completed, and satisfies shared.EventHandler.
func (h *OnStoryCompletedHandler) Handle(event shared.Event) error {
	ctx := context.Background()

	switch e := event.(type) {
	case shared.StoryCompletedEvent:
		return h.onCompleted(ctx, e)
	case shared.CompletionReplayEvent:
		return h.onReplay(ctx, e)
	case shared.WeekCompletedEvent:
		return h.onWeekCompleted(ctx, e)
	default:
		h.logger.Warn("received unexpected event",
			"event_type", event.EventType(),
		)
		return nil
	}
}

func (h *OnStoryCompletedHandler) onCompleted(ctx context.Context, e shared.StoryCompletedEvent) error {
	h.logger.Info("processing story completion",
		"child_id", e.ChildID,
		"story_id", e.StoryID,
		"week_id", e.WeekID,
	)

	h.invalidate(ctx, shared.ChildID(e.ChildID), e.StoryID)
	return nil
}

func (h *OnStoryCompletedHandler) onReplay(ctx context.Context, e shared.CompletionReplayEvent) error {
	// A replay that kept the original timestamp changed nothing worth
	// evicting a warm cache over.
	if !e.TimestampUpdated {
		return nil
	}

	h.logger.Info("processing completion replay",
		"child_id", e.ChildID,
		"story_id", e.StoryID,
	)

	h.invalidate(ctx, shared.ChildID(e.ChildID), e.StoryID)
	return nil
}

func (h *OnStoryCompletedHandler) onWeekCompleted(ctx context.Context, e shared.WeekCompletedEvent) error {
	h.logger.Info("processing week completion",
		"child_id", e.ChildID,
		"week_id", e.WeekID,
		"stories", e.Stories,
	)

	if !h.config.NotifyWeekCompleted || h.notifier == nil {
		return nil
	}

	account, err := h.familyRepo.GetAccountByChild(ctx, shared.ChildID(e.ChildID))
	if err != nil {
		h.logger.Error("failed to resolve account for child",
			"child_id", e.ChildID,
			"error", err,
		)
		return fmt.Errorf("resolve account: %w", err)
	}

	child, err := h.familyRepo.GetChild(ctx, shared.ChildID(e.ChildID))
	if err != nil {
		return fmt.Errorf("resolve child: %w", err)
	}

	n := &notification.Notification{
		ID:        notification.NotificationID(uuid.NewString()),
		AccountID: account.ID,
		ChildID:   child.ID,
		Type:      notification.TypeWeekCompleted,
		Channel:   h.config.WeekCompletedChannel,
		Subject:   fmt.Sprintf("%s finished the week!", child.Name),
		Body:      fmt.Sprintf("%s completed all %d stories this week.", child.Name, e.Stories),
		Status:    notification.StatusPending,
		DedupeKey: fmt.Sprintf("week_completed:%s:%s", e.ChildID, e.WeekID),
		CreatedAt: h.clock.Now().Time(),
	}

	if err := h.notifier.Notify(ctx, n); err != nil {
		h.logger.Warn("failed to send week completed notification",
			"child_id", e.ChildID,
			"week_id", e.WeekID,
			"error", err,
		)
	}
	return nil
}

// invalidate drops the child's cached read models. Cache trouble is logged
// and swallowed: postgres stays authoritative and the TTL bounds staleness.
func (h *OnStoryCompletedHandler) invalidate(ctx context.Context, childID shared.ChildID, storyID string) {
	if !h.config.InvalidateCache || h.cache == nil {
		return
	}
	if err := h.cache.InvalidateChild(ctx, childID); err != nil {
		h.logger.Error("failed to invalidate progress cache",
			"child_id", childID.String(),
			"story_id", storyID,
			"error", err,
		)
		return
	}
	h.logger.Debug("progress cache invalidated",
		"child_id", childID.String(),
	)
}
