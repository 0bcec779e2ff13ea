// Package notification contains the domain model of parent notifications:
// the nudges that tell a family the next story has unlocked, a reward cartoon
// is ready, or the trial is about to end. Notifications inform, they never
// gate - no unlock decision ever depends on one.
package notification

import (
	"time"

	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// NotificationID uniquely identifies a notification.
type NotificationID string

// IsValid checks that the ID is non-empty.
func (id NotificationID) IsValid() bool {
	return len(id) > 0
}

// String returns the string representation.
func (id NotificationID) String() string {
	return string(id)
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION TYPE
// ══════════════════════════════════════════════════════════════════════════════

// Type identifies what a notification is about.
type Type string

const (
	// TypeStoryUnlocked - a cooldown elapsed and the next story opened.
	// "Mila's next story is ready to read!"
	TypeStoryUnlocked Type = "story_unlocked"

	// TypeRewardUnlocked - a week's reward cartoon became available.
	// "Mila finished the week - the cartoon is unlocked!"
	TypeRewardUnlocked Type = "reward_unlocked"

	// TypeWeekCompleted - all stories of a week were completed.
	TypeWeekCompleted Type = "week_completed"

	// TypeTrialEnding - the free trial runs out soon.
	TypeTrialEnding Type = "trial_ending"

	// TypeSubscriptionLapsed - payment failed or the period expired.
	TypeSubscriptionLapsed Type = "subscription_lapsed"

	// TypeWelcome - sent once after a family signs up.
	TypeWelcome Type = "welcome"
)

// IsValid checks that the type is one of the known values.
func (t Type) IsValid() bool {
	switch t {
	case TypeStoryUnlocked, TypeRewardUnlocked, TypeWeekCompleted,
		TypeTrialEnding, TypeSubscriptionLapsed, TypeWelcome:
		return true
	default:
		return false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Status is the delivery state of a notification.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusSuppressed Status = "suppressed" // parent disabled this type
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Notification is one message addressed to a parent account about one of
// their children.
type Notification struct {
	// ID is the unique identifier.
	ID NotificationID

	// AccountID is the recipient parent account.
	AccountID shared.AccountID

	// ChildID is the child the notification concerns, when applicable.
	ChildID shared.ChildID

	// Type is what the notification is about.
	Type Type

	// Channel is the delivery channel.
	Channel ChannelType

	// Subject and Body are the rendered message.
	Subject string
	Body    string

	// Status is the delivery state.
	Status Status

	// DedupeKey suppresses repeats: at most one notification per key is
	// ever sent. The unlock job keys on (child, story), so re-scans of the
	// same cooldown window stay idempotent.
	DedupeKey string

	// CreatedAt / SentAt are bookkeeping timestamps.
	CreatedAt time.Time
	SentAt    time.Time
}

// MarkSent records a successful delivery.
func (n *Notification) MarkSent(at time.Time) {
	n.Status = StatusSent
	n.SentAt = at.UTC()
}

// MarkFailed records a delivery failure.
func (n *Notification) MarkFailed() {
	n.Status = StatusFailed
}
