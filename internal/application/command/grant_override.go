package command

import (
	"context"
	"fmt"

	"github.com/fable-hub/fable-story-hub/internal/domain/family"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRANT OVERRIDE COMMAND
// Grants or revokes the administrative gating bypass on a child profile.
// Override is a support/QA tool: it beats entitlement, prerequisite and
// cooldown gating, but never rewrites the ledger.
// ══════════════════════════════════════════════════════════════════════════════

// GrantOverrideCommand contains the override change to apply.
type GrantOverrideCommand struct {
	// ChildID is the profile to change.
	ChildID string

	// Grant is true to set the override, false to revoke it.
	Grant bool

	// Reason records why (support ticket, QA run, classroom pilot).
	// Required when granting.
	Reason string

	// GrantedBy identifies the admin account performing the change.
	GrantedBy string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c GrantOverrideCommand) Validate() error {
	if _, err := shared.NewChildID(c.ChildID); err != nil {
		return fmt.Errorf("grant_override: invalid child_id: %w", err)
	}
	if c.Grant && c.Reason == "" {
		return fmt.Errorf("grant_override: reason is required: %w", shared.ErrInvalidInput)
	}
	if c.GrantedBy == "" {
		return fmt.Errorf("grant_override: granted_by is required: %w", shared.ErrInvalidInput)
	}
	return nil
}

// GrantOverrideResult contains the result of the override change.
type GrantOverrideResult struct {
	ChildID         string
	OverrideGranted bool
	Events          []shared.Event
}

// GrantOverrideHandler handles the GrantOverrideCommand.
type GrantOverrideHandler struct {
	familyRepo     family.Repository
	eventPublisher shared.EventPublisher
}

// NewGrantOverrideHandler creates a new GrantOverrideHandler.
func NewGrantOverrideHandler(
	familyRepo family.Repository,
	eventPublisher shared.EventPublisher,
) *GrantOverrideHandler {
	return &GrantOverrideHandler{
		familyRepo:     familyRepo,
		eventPublisher: eventPublisher,
	}
}

// Handle executes the grant override command.
func (h *GrantOverrideHandler) Handle(ctx context.Context, cmd GrantOverrideCommand) (*GrantOverrideResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	childID := shared.ChildID(cmd.ChildID)

	profile, err := h.familyRepo.GetChild(ctx, childID)
	if err != nil {
		return nil, fmt.Errorf("grant_override: %w", err)
	}

	if cmd.Grant {
		profile.GrantOverride(cmd.Reason)
	} else {
		profile.RevokeOverride()
	}

	if err := h.familyRepo.UpdateChild(ctx, profile); err != nil {
		return nil, fmt.Errorf("grant_override: %w", err)
	}

	result := &GrantOverrideResult{
		ChildID:         cmd.ChildID,
		OverrideGranted: profile.OverrideGranted,
		Events:          make([]shared.Event, 0, 1),
	}

	eventType := shared.EventOverrideGranted
	if !cmd.Grant {
		eventType = shared.EventOverrideRevoked
	}
	event := shared.OverrideGrantedEvent{
		BaseEvent: shared.NewBaseEvent(eventType, cmd.ChildID),
		ChildID:   cmd.ChildID,
		GrantedBy: cmd.GrantedBy,
		Reason:    cmd.Reason,
	}
	if cmd.CorrelationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	result.Events = append(result.Events, event)

	for _, e := range result.Events {
		_ = h.eventPublisher.Publish(e)
	}

	return result, nil
}
