// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven architecture.
// Each event represents something significant that happened in the domain.
const (
	// Family events
	EventAccountRegistered    EventType = "family.account_registered"
	EventChildProfileCreated  EventType = "family.child_profile_created"
	EventChildProfileArchived EventType = "family.child_profile_archived"
	EventSubscriptionChanged  EventType = "family.subscription_changed"
	EventOverrideGranted      EventType = "family.override_granted"
	EventOverrideRevoked      EventType = "family.override_revoked"

	// Progress events
	EventStoryCompleted   EventType = "progress.story_completed"
	EventCompletionReplay EventType = "progress.completion_replayed"
	EventWeekCompleted    EventType = "progress.week_completed"
	EventRewardUnlocked   EventType = "progress.reward_unlocked"
	EventCooldownElapsed  EventType = "progress.cooldown_elapsed"

	// Curriculum events
	EventCurriculumPublished EventType = "curriculum.published"
	EventCurriculumRefreshed EventType = "curriculum.refreshed"

	// Notification events
	EventNotificationSent   EventType = "notification.sent"
	EventNotificationFailed EventType = "notification.failed"

	// System events
	EventEntitlementSynced EventType = "system.entitlement_synced"
	EventEntitlementSwept  EventType = "system.entitlement_swept"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// StoryCompletedEvent is emitted when a child finishes a story for the first
// time. Replays of an already-recorded story emit CompletionReplayEvent
// instead, so downstream handlers (reward gate check, cache invalidation,
// unlock notifications) fire exactly once per story.
type StoryCompletedEvent struct {
	BaseEvent
	ChildID     string    `json:"child_id"`
	StoryID     string    `json:"story_id"`
	WeekID      string    `json:"week_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// Payload implements Event interface.
func (e StoryCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"child_id":     e.ChildID,
		"story_id":     e.StoryID,
		"week_id":      e.WeekID,
		"completed_at": e.CompletedAt,
	}
}

// NewStoryCompletedEvent creates a StoryCompletedEvent.
func NewStoryCompletedEvent(childID, storyID, weekID string, completedAt time.Time) StoryCompletedEvent {
	return StoryCompletedEvent{
		BaseEvent:   NewBaseEvent(EventStoryCompleted, childID),
		ChildID:     childID,
		StoryID:     storyID,
		WeekID:      weekID,
		CompletedAt: completedAt,
	}
}

// CompletionReplayEvent is emitted when a child re-completes a story that
// already has a ledger entry. Whether the stored instant moved depends on the
// configured replay policy.
type CompletionReplayEvent struct {
	BaseEvent
	ChildID          string    `json:"child_id"`
	StoryID          string    `json:"story_id"`
	PreviousInstant  time.Time `json:"previous_instant"`
	RecordedInstant  time.Time `json:"recorded_instant"`
	TimestampUpdated bool      `json:"timestamp_updated"`
}

// Payload implements Event interface.
func (e CompletionReplayEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"child_id":          e.ChildID,
		"story_id":          e.StoryID,
		"previous_instant":  e.PreviousInstant,
		"recorded_instant":  e.RecordedInstant,
		"timestamp_updated": e.TimestampUpdated,
	}
}

// WeekCompletedEvent is emitted when the last remaining story of a week is
// completed.
type WeekCompletedEvent struct {
	BaseEvent
	ChildID string `json:"child_id"`
	WeekID  string `json:"week_id"`
	Stories int    `json:"stories"`
}

// Payload implements Event interface.
func (e WeekCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"child_id": e.ChildID,
		"week_id":  e.WeekID,
		"stories":  e.Stories,
	}
}

// RewardUnlockedEvent is emitted when a week's reward cartoon becomes
// unlockable for a child.
type RewardUnlockedEvent struct {
	BaseEvent
	ChildID    string `json:"child_id"`
	WeekID     string `json:"week_id"`
	ByOverride bool   `json:"by_override"`
}

// Payload implements Event interface.
func (e RewardUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"child_id":    e.ChildID,
		"week_id":     e.WeekID,
		"by_override": e.ByOverride,
	}
}

// CooldownElapsedEvent is emitted by the scheduler when a child's next story
// transitions from the cooldown wait to available.
type CooldownElapsedEvent struct {
	BaseEvent
	ChildID     string `json:"child_id"`
	NextStoryID string `json:"next_story_id"`
}

// Payload implements Event interface.
func (e CooldownElapsedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"child_id":      e.ChildID,
		"next_story_id": e.NextStoryID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Family Events
// ═══════════════════════════════════════════════════════════════════════════

// AccountRegisteredEvent is emitted when a new parent account is created.
type AccountRegisteredEvent struct {
	BaseEvent
	Email    string `json:"email"`
	Children int    `json:"children"`
}

// Payload implements Event interface.
func (e AccountRegisteredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"email":    e.Email,
		"children": e.Children,
	}
}

// SubscriptionChangedEvent is emitted when an account's subscription state
// changes (trial started, payment confirmed, lapse, cancellation).
type SubscriptionChangedEvent struct {
	BaseEvent
	AccountID string `json:"account_id"`
	OldState  string `json:"old_state"`
	NewState  string `json:"new_state"`
	Source    string `json:"source"` // "webhook", "sweep", "manual"
}

// Payload implements Event interface.
func (e SubscriptionChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"account_id": e.AccountID,
		"old_state":  e.OldState,
		"new_state":  e.NewState,
		"source":     e.Source,
	}
}

// OverrideGrantedEvent is emitted when an administrator grants the gating
// bypass to a profile.
type OverrideGrantedEvent struct {
	BaseEvent
	ChildID   string `json:"child_id"`
	GrantedBy string `json:"granted_by"`
	Reason    string `json:"reason"`
}

// Payload implements Event interface.
func (e OverrideGrantedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"child_id":   e.ChildID,
		"granted_by": e.GrantedBy,
		"reason":     e.Reason,
	}
}

// EntitlementSweepEvent is emitted after the periodic expiry sweep, with a
// summary of what the run did.
type EntitlementSweepEvent struct {
	BaseEvent
	Scanned int `json:"scanned"`
	Lapsed  int `json:"lapsed"`
}

// Payload implements Event interface.
func (e EntitlementSweepEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"scanned": e.Scanned,
		"lapsed":  e.Lapsed,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Notification Events
// ═══════════════════════════════════════════════════════════════════════════

// NotificationOutcomeEvent is emitted after a delivery attempt, with the
// event type carrying the outcome (EventNotificationSent or
// EventNotificationFailed).
type NotificationOutcomeEvent struct {
	BaseEvent
	NotificationID string `json:"notification_id"`
	Type           string `json:"notification_type"`
	Channel        string `json:"channel"`
}

// Payload implements Event interface.
func (e NotificationOutcomeEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"notification_id":   e.NotificationID,
		"notification_type": e.Type,
		"channel":           e.Channel,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Curriculum Events
// ═══════════════════════════════════════════════════════════════════════════

// CurriculumRefreshedEvent is emitted when the in-memory curriculum snapshot
// is reloaded from storage.
type CurriculumRefreshedEvent struct {
	BaseEvent
	Blocks  int    `json:"blocks"`
	Stories int    `json:"stories"`
	Version string `json:"version"`
}

// Payload implements Event interface.
func (e CurriculumRefreshedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"blocks":  e.Blocks,
		"stories": e.Stories,
		"version": e.Version,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Bus Interfaces
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
