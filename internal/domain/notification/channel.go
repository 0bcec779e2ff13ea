package notification

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHANNELS
// ══════════════════════════════════════════════════════════════════════════════

// ChannelType identifies a delivery channel.
type ChannelType string

const (
	// ChannelTypeEmail - delivery to the parent's login email.
	ChannelTypeEmail ChannelType = "email"

	// ChannelTypePush - mobile push notification.
	ChannelTypePush ChannelType = "push"

	// ChannelTypeInApp - shown inside the app on next open.
	ChannelTypeInApp ChannelType = "in_app"
)

// IsValid checks that the channel type is known.
func (ct ChannelType) IsValid() bool {
	switch ct {
	case ChannelTypeEmail, ChannelTypePush, ChannelTypeInApp:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (ct ChannelType) String() string {
	return string(ct)
}

// Channel delivers rendered notifications over one transport.
// Implementations live in infrastructure.
type Channel interface {
	// Type returns the channel's type.
	Type() ChannelType

	// Send delivers the notification. Failures are wrapped as
	// ErrNotificationFailed and may be retried by the caller.
	Send(ctx context.Context, n *Notification) error
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY / SERVICE INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// Repository persists notifications and their delivery state.
type Repository interface {
	// Create stores a pending notification. Returns ErrAlreadyExists when a
	// notification with the same DedupeKey was already recorded.
	Create(ctx context.Context, n *Notification) error

	// Update persists a delivery state change.
	Update(ctx context.Context, n *Notification) error

	// ExistsByDedupeKey reports whether a notification with the key exists.
	ExistsByDedupeKey(ctx context.Context, key string) (bool, error)
}

// Service renders and sends notifications. Implementations live in
// infrastructure; the scheduler jobs and event handlers depend on this
// interface only.
type Service interface {
	// Notify creates and delivers a notification, honoring the dedupe key
	// and the parent's channel preferences. A suppressed or duplicate
	// notification is not an error.
	Notify(ctx context.Context, n *Notification) error
}
