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

// EntitlementCacheInvalidator drops the cached entitlement verdicts of an
// account's children. The redis layer implements it.
type EntitlementCacheInvalidator interface {
	// InvalidateAccount removes every cached policy read derived from the
	// account's subscription.
	InvalidateAccount(ctx context.Context, accountID shared.AccountID) error
}

// ═══════════════════════════════════════════════════════════════════════════
// ON SUBSCRIPTION CHANGED HANDLER
//
// Entitlement reads are cached, so a billing transition must evict before the
// next story request or a lapsed family keeps playing until the TTL runs out.
// Eviction is the critical path here; the lapse notification is best-effort.
// ═══════════════════════════════════════════════════════════════════════════

// OnSubscriptionChangedHandler reacts to billing state transitions.
type OnSubscriptionChangedHandler struct {
	cache      EntitlementCacheInvalidator
	familyRepo family.Repository
	notifier   notification.Service

	logger *slog.Logger
	clock  shared.Clock
	config SubscriptionChangedConfig
}

// SubscriptionChangedConfig tunes the handler's side effects.
type SubscriptionChangedConfig struct {
	// NotifyOnLapse controls the "subscription lapsed" email to the parent.
	NotifyOnLapse bool

	// LapseChannel is the delivery channel for the lapse notice. Email by
	// default: a billing problem needs something the parent reads, not a
	// push that gets swiped away.
	LapseChannel notification.ChannelType
}

// DefaultSubscriptionChangedConfig returns the default configuration.
func DefaultSubscriptionChangedConfig() SubscriptionChangedConfig {
	return SubscriptionChangedConfig{
		NotifyOnLapse: true,
		LapseChannel:  notification.ChannelTypeEmail,
	}
}

// NewOnSubscriptionChangedHandler creates the handler.
func NewOnSubscriptionChangedHandler(
	cache EntitlementCacheInvalidator,
	familyRepo family.Repository,
	notifier notification.Service,
	logger *slog.Logger,
	clock shared.Clock,
	config SubscriptionChangedConfig,
) *OnSubscriptionChangedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}

	return &OnSubscriptionChangedHandler{
		cache:      cache,
		familyRepo: familyRepo,
		notifier:   notifier,
		logger:     logger.With("handler", "on_subscription_changed"),
		clock:      clock,
		config:     config,
	}
}

// Handle processes a subscription transition. Satisfies shared.EventHandler.
func (h *OnSubscriptionChangedHandler) Handle(event shared.Event) error {
	subEvent, ok := event.(shared.SubscriptionChangedEvent)
	if !ok {
		h.logger.Warn("received non-SubscriptionChangedEvent",
			"event_type", event.EventType(),
		)
		return nil
	}

	ctx := context.Background()
	accountID := shared.AccountID(subEvent.AccountID)

	h.logger.Info("processing subscription change",
		"account_id", subEvent.AccountID,
		"old_state", subEvent.OldState,
		"new_state", subEvent.NewState,
		"source", subEvent.Source,
	)

	if h.cache != nil {
		if err := h.cache.InvalidateAccount(ctx, accountID); err != nil {
			h.logger.Error("failed to invalidate entitlement cache",
				"account_id", subEvent.AccountID,
				"error", err,
			)
			// Surface it: a stale entitlement grants access the family no
			// longer pays for.
			return fmt.Errorf("invalidate entitlement cache: %w", err)
		}
	}

	if subEvent.NewState != string(family.SubscriptionLapsed) || !h.config.NotifyOnLapse || h.notifier == nil {
		return nil
	}

	account, err := h.familyRepo.GetAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("resolve account: %w", err)
	}

	n := &notification.Notification{
		ID:        notification.NotificationID(uuid.NewString()),
		AccountID: account.ID,
		Type:      notification.TypeSubscriptionLapsed,
		Channel:   h.config.LapseChannel,
		Subject:   "Your Fable Hub subscription has lapsed",
		Body:      fmt.Sprintf("Hi %s, your subscription is no longer active. Completed stories stay available; renew to keep unlocking new ones.", account.DisplayName),
		Status:    notification.StatusPending,
		DedupeKey: fmt.Sprintf("subscription_lapsed:%s:%s", subEvent.AccountID, h.clock.Now().Time().Format("2006-01-02")),
		CreatedAt: h.clock.Now().Time(),
	}

	if err := h.notifier.Notify(ctx, n); err != nil {
		h.logger.Warn("failed to send lapse notification",
			"account_id", subEvent.AccountID,
			"error", err,
		)
	}
	return nil
}
