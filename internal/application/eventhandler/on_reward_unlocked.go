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

// ═══════════════════════════════════════════════════════════════════════════
// ON REWARD UNLOCKED HANDLER
//
// The reward cartoon is the payoff moment of the week, so this is the one
// notification the product always wants delivered. The dedupe key is
// (child, week): an override grant followed by the natural completion of the
// same week produces one push, not two.
// ═══════════════════════════════════════════════════════════════════════════

// OnRewardUnlockedHandler notifies the parent when a week's reward opens.
type OnRewardUnlockedHandler struct {
	cache      ProgressCacheInvalidator
	familyRepo family.Repository
	notifier   notification.Service

	logger *slog.Logger
	clock  shared.Clock
	config RewardUnlockedConfig
}

// RewardUnlockedConfig tunes the handler's side effects.
type RewardUnlockedConfig struct {
	// NotifyParent controls the reward push.
	NotifyParent bool

	// Channel is the delivery channel for the push.
	Channel notification.ChannelType
}

// DefaultRewardUnlockedConfig returns the default configuration.
func DefaultRewardUnlockedConfig() RewardUnlockedConfig {
	return RewardUnlockedConfig{
		NotifyParent: true,
		Channel:      notification.ChannelTypePush,
	}
}

// NewOnRewardUnlockedHandler creates the handler.
func NewOnRewardUnlockedHandler(
	cache ProgressCacheInvalidator,
	familyRepo family.Repository,
	notifier notification.Service,
	logger *slog.Logger,
	clock shared.Clock,
	config RewardUnlockedConfig,
) *OnRewardUnlockedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}

	return &OnRewardUnlockedHandler{
		cache:      cache,
		familyRepo: familyRepo,
		notifier:   notifier,
		logger:     logger.With("handler", "on_reward_unlocked"),
		clock:      clock,
		config:     config,
	}
}

// Handle processes a reward unlock. Satisfies shared.EventHandler.
func (h *OnRewardUnlockedHandler) Handle(event shared.Event) error {
	rewardEvent, ok := event.(shared.RewardUnlockedEvent)
	if !ok {
		h.logger.Warn("received non-RewardUnlockedEvent",
			"event_type", event.EventType(),
		)
		return nil
	}

	ctx := context.Background()
	childID := shared.ChildID(rewardEvent.ChildID)

	h.logger.Info("processing reward unlock",
		"child_id", rewardEvent.ChildID,
		"week_id", rewardEvent.WeekID,
		"by_override", rewardEvent.ByOverride,
	)

	// Override grants unlock rewards without a completion, so the week map
	// cache can be warm and wrong. Eviction is idempotent either way.
	if h.cache != nil {
		if err := h.cache.InvalidateChild(ctx, childID); err != nil {
			h.logger.Error("failed to invalidate progress cache",
				"child_id", rewardEvent.ChildID,
				"error", err,
			)
		}
	}

	if !h.config.NotifyParent || h.notifier == nil {
		return nil
	}

	account, err := h.familyRepo.GetAccountByChild(ctx, childID)
	if err != nil {
		h.logger.Error("failed to resolve account for child",
			"child_id", rewardEvent.ChildID,
			"error", err,
		)
		return fmt.Errorf("resolve account: %w", err)
	}

	child, err := h.familyRepo.GetChild(ctx, childID)
	if err != nil {
		return fmt.Errorf("resolve child: %w", err)
	}

	n := &notification.Notification{
		ID:        notification.NotificationID(uuid.NewString()),
		AccountID: account.ID,
		ChildID:   child.ID,
		Type:      notification.TypeRewardUnlocked,
		Channel:   h.config.Channel,
		Subject:   fmt.Sprintf("%s unlocked this week's cartoon!", child.Name),
		Body:      fmt.Sprintf("%s finished every story of the week. The reward cartoon is ready to watch.", child.Name),
		Status:    notification.StatusPending,
		DedupeKey: fmt.Sprintf("reward_unlocked:%s:%s", rewardEvent.ChildID, rewardEvent.WeekID),
		CreatedAt: h.clock.Now().Time(),
	}

	if err := h.notifier.Notify(ctx, n); err != nil {
		h.logger.Warn("failed to send reward notification",
			"child_id", rewardEvent.ChildID,
			"week_id", rewardEvent.WeekID,
			"error", err,
		)
	}
	return nil
}
