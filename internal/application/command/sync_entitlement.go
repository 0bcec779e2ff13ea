package command

import (
	"context"
	"fmt"
	"time"

	"github.com/fable-hub/fable-story-hub/internal/domain/family"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC ENTITLEMENT COMMAND
// Applies a subscription state reported by the billing provider to a parent
// account. Invoked from the billing webhook and from the periodic sweep job;
// both paths funnel through the same state machine so a webhook replay or an
// out-of-order sweep cannot corrupt the paywall standing.
// ══════════════════════════════════════════════════════════════════════════════

// EntitlementSource identifies where a subscription update came from.
type EntitlementSource string

const (
	// SourceWebhook - real-time push from the billing provider.
	SourceWebhook EntitlementSource = "webhook"

	// SourceSweep - the periodic expiry sweep job.
	SourceSweep EntitlementSource = "sweep"

	// SourceManual - a support tool action.
	SourceManual EntitlementSource = "manual"
)

// SyncEntitlementCommand contains the subscription state to apply.
type SyncEntitlementCommand struct {
	// AccountID is the parent account to update.
	AccountID string

	// State is the reported subscription state
	// (trial, active, lapsed, canceled).
	State string

	// ExpiresAt is when the entitlement runs out. Zero means an active
	// subscription with no fixed end.
	ExpiresAt time.Time

	// ProviderRef is the billing provider's subscription id.
	ProviderRef string

	// Source identifies the update path.
	Source EntitlementSource

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c SyncEntitlementCommand) Validate() error {
	if _, err := shared.NewAccountID(c.AccountID); err != nil {
		return fmt.Errorf("sync_entitlement: invalid account_id: %w", err)
	}
	if !family.SubscriptionState(c.State).IsValid() {
		return fmt.Errorf("sync_entitlement: unknown state %q: %w", c.State, shared.ErrInvalidInput)
	}
	switch c.Source {
	case SourceWebhook, SourceSweep, SourceManual:
	default:
		return fmt.Errorf("sync_entitlement: unknown source %q: %w", c.Source, shared.ErrInvalidInput)
	}
	return nil
}

// SyncEntitlementResult contains the result of the sync.
type SyncEntitlementResult struct {
	// AccountID is the updated account.
	AccountID string

	// OldState / NewState are the subscription states before and after.
	OldState string
	NewState string

	// Changed is false when the reported state matched the stored one.
	Changed bool

	// Events contains domain events generated.
	Events []shared.Event
}

// SyncEntitlementHandler handles the SyncEntitlementCommand.
type SyncEntitlementHandler struct {
	familyRepo     family.Repository
	eventPublisher shared.EventPublisher
	clock          shared.Clock
}

// NewSyncEntitlementHandler creates a new SyncEntitlementHandler.
func NewSyncEntitlementHandler(
	familyRepo family.Repository,
	eventPublisher shared.EventPublisher,
	clock shared.Clock,
) *SyncEntitlementHandler {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &SyncEntitlementHandler{
		familyRepo:     familyRepo,
		eventPublisher: eventPublisher,
		clock:          clock,
	}
}

// Handle executes the sync entitlement command.
func (h *SyncEntitlementHandler) Handle(ctx context.Context, cmd SyncEntitlementCommand) (*SyncEntitlementResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	accountID := shared.AccountID(cmd.AccountID)

	account, err := h.familyRepo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("sync_entitlement: %w", err)
	}

	oldState := account.Subscription.State
	newState := family.SubscriptionState(cmd.State)

	result := &SyncEntitlementResult{
		AccountID: cmd.AccountID,
		OldState:  string(oldState),
		NewState:  string(newState),
		Events:    make([]shared.Event, 0, 1),
	}

	next := family.Subscription{
		State:       newState,
		ExpiresAt:   cmd.ExpiresAt.UTC(),
		ProviderRef: cmd.ProviderRef,
		SyncedAt:    h.clock.Now().Time(),
	}

	// A webhook replay reporting the stored state refreshes SyncedAt and
	// the expiry but changes nothing else.
	if err := account.UpdateSubscription(next); err != nil {
		return nil, fmt.Errorf("sync_entitlement: %s -> %s: %w", oldState, newState, err)
	}

	if err := h.familyRepo.UpdateSubscription(ctx, accountID, account.Subscription); err != nil {
		return nil, fmt.Errorf("sync_entitlement: %w", err)
	}

	if oldState != newState {
		result.Changed = true
		event := shared.SubscriptionChangedEvent{
			BaseEvent: shared.NewBaseEvent(shared.EventSubscriptionChanged, cmd.AccountID),
			AccountID: cmd.AccountID,
			OldState:  string(oldState),
			NewState:  string(newState),
			Source:    string(cmd.Source),
		}
		if cmd.CorrelationID != "" {
			event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		}
		result.Events = append(result.Events, event)
	}

	for _, event := range result.Events {
		_ = h.eventPublisher.Publish(event)
	}

	return result, nil
}
