package service

import (
	"context"
	"log/slog"

	"github.com/fable-hub/fable-story-hub/internal/domain/notification"
)

// ══════════════════════════════════════════════════════════════════════════════
// DELIVERY CHANNELS
// ══════════════════════════════════════════════════════════════════════════════

// InAppChannel delivers in-app notifications. The stored row is the
// delivery: the app reads unseen notifications on next open, so Send has
// nothing left to do.
type InAppChannel struct{}

// NewInAppChannel creates a new InAppChannel.
func NewInAppChannel() *InAppChannel {
	return &InAppChannel{}
}

// Type returns the channel's type.
func (c *InAppChannel) Type() notification.ChannelType {
	return notification.ChannelTypeInApp
}

// Send is a no-op; persistence happens in the service.
func (c *InAppChannel) Send(ctx context.Context, n *notification.Notification) error {
	return nil
}

// LogEmailChannel is a stand-in email transport that logs the delivery.
// The production ESP integration replaces it behind the same interface.
type LogEmailChannel struct {
	logger *slog.Logger
}

// NewLogEmailChannel creates a new LogEmailChannel.
func NewLogEmailChannel(logger *slog.Logger) *LogEmailChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmailChannel{logger: logger}
}

// Type returns the channel's type.
func (c *LogEmailChannel) Type() notification.ChannelType {
	return notification.ChannelTypeEmail
}

// Send logs the email instead of delivering it.
func (c *LogEmailChannel) Send(ctx context.Context, n *notification.Notification) error {
	c.logger.Info("email delivery",
		"account_id", n.AccountID,
		"subject", n.Subject,
		"type", n.Type,
	)
	return nil
}

// LogPushChannel is a stand-in push transport that logs the delivery.
type LogPushChannel struct {
	logger *slog.Logger
}

// NewLogPushChannel creates a new LogPushChannel.
func NewLogPushChannel(logger *slog.Logger) *LogPushChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPushChannel{logger: logger}
}

// Type returns the channel's type.
func (c *LogPushChannel) Type() notification.ChannelType {
	return notification.ChannelTypePush
}

// Send logs the push instead of delivering it.
func (c *LogPushChannel) Send(ctx context.Context, n *notification.Notification) error {
	c.logger.Info("push delivery",
		"account_id", n.AccountID,
		"child_id", n.ChildID,
		"subject", n.Subject,
		"type", n.Type,
	)
	return nil
}
