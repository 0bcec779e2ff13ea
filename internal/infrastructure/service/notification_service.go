// Package service contains infrastructure-side implementations of domain
// service interfaces: notification delivery and id generation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fable-hub/fable-story-hub/internal/domain/notification"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
	"github.com/fable-hub/fable-story-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ID GENERATOR
// ══════════════════════════════════════════════════════════════════════════════

// UUIDGenerator generates UUIDv4 identifiers.
type UUIDGenerator struct{}

// NewIDGenerator creates a new UUIDGenerator.
func NewIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

// GenerateID returns a new UUID string.
func (g *UUIDGenerator) GenerateID() string {
	return uuid.New().String()
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION SERVICE
// ══════════════════════════════════════════════════════════════════════════════

// NotificationService implements notification.Service: it persists the
// notification (which is where the dedupe key does its work), picks the
// delivery channel, and records the delivery outcome.
type NotificationService struct {
	repo     notification.Repository
	channels map[notification.ChannelType]notification.Channel
	eventBus shared.EventPublisher
	idGen    IDGenerator
	logger   *slog.Logger
	clock    shared.Clock
	config   NotificationServiceConfig
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	GenerateID() string
}

// NotificationServiceConfig contains configuration for NotificationService.
type NotificationServiceConfig struct {
	// SuppressUnsafeHours defers push notifications outside the safe
	// delivery window. Email and in-app are delivered regardless; nobody's
	// phone buzzes over an inbox entry.
	SuppressUnsafeHours bool

	// PublishEvents enables sent/failed events on the bus.
	PublishEvents bool
}

// DefaultNotificationServiceConfig returns sensible defaults.
func DefaultNotificationServiceConfig() NotificationServiceConfig {
	return NotificationServiceConfig{
		SuppressUnsafeHours: true,
		PublishEvents:       true,
	}
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(
	repo notification.Repository,
	channels []notification.Channel,
	eventBus shared.EventPublisher,
	idGen IDGenerator,
	logger *slog.Logger,
	clock shared.Clock,
	config NotificationServiceConfig,
) *NotificationService {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if idGen == nil {
		idGen = NewIDGenerator()
	}

	byType := make(map[notification.ChannelType]notification.Channel, len(channels))
	for _, ch := range channels {
		byType[ch.Type()] = ch
	}

	return &NotificationService{
		repo:     repo,
		channels: byType,
		eventBus: eventBus,
		idGen:    idGen,
		logger:   logger,
		clock:    clock,
		config:   config,
	}
}

// Notify creates and delivers a notification. Duplicates (by dedupe key)
// and suppressions are quiet successes; only a real delivery failure
// surfaces as an error.
func (s *NotificationService) Notify(ctx context.Context, n *notification.Notification) error {
	if n == nil {
		return errors.New("notification cannot be nil")
	}

	now := s.clock.Now()

	if n.ID == "" {
		n.ID = notification.NotificationID(s.idGen.GenerateID())
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now.Time()
	}
	if n.Status == "" {
		n.Status = notification.StatusPending
	}

	// 1. Dedupe pre-check. The unique constraint on the dedupe key is the
	// real guarantee; this just skips the work early.
	if n.DedupeKey != "" {
		exists, err := s.repo.ExistsByDedupeKey(ctx, n.DedupeKey)
		if err != nil {
			return fmt.Errorf("check dedupe key: %w", err)
		}
		if exists {
			s.logger.Debug("notification suppressed by dedupe key", "dedupe_key", n.DedupeKey)
			return nil
		}
	}

	// 2. Quiet hours: a push outside the safe window is recorded as
	// suppressed rather than delivered.
	if s.config.SuppressUnsafeHours &&
		n.Channel == notification.ChannelTypePush &&
		!timeutil.IsSafeNotificationHour(now.Time().Hour()) {
		n.Status = notification.StatusSuppressed
		if err := s.repo.Create(ctx, n); err != nil && !errors.Is(err, shared.ErrAlreadyExists) {
			return fmt.Errorf("record suppressed notification: %w", err)
		}
		s.logger.Info("push suppressed outside safe hours",
			"notification_id", n.ID,
			"hour", now.Time().Hour(),
		)
		return nil
	}

	// 3. Persist as pending. A concurrent Notify with the same dedupe key
	// loses here and backs off quietly.
	if err := s.repo.Create(ctx, n); err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			s.logger.Debug("notification already recorded", "dedupe_key", n.DedupeKey)
			return nil
		}
		return fmt.Errorf("create notification: %w", err)
	}

	// 4. Deliver.
	channel, ok := s.channels[n.Channel]
	if !ok {
		n.MarkFailed()
		s.updateQuietly(ctx, n)
		return fmt.Errorf("%w: no channel registered for %s", shared.ErrNotificationFailed, n.Channel)
	}

	if err := channel.Send(ctx, n); err != nil {
		n.MarkFailed()
		s.updateQuietly(ctx, n)
		s.publishOutcome(shared.EventNotificationFailed, n)
		return fmt.Errorf("%w: %v", shared.ErrNotificationFailed, err)
	}

	n.MarkSent(now.Time())
	s.updateQuietly(ctx, n)
	s.publishOutcome(shared.EventNotificationSent, n)

	s.logger.Info("notification sent",
		"notification_id", n.ID,
		"type", n.Type,
		"channel", n.Channel,
		"account_id", n.AccountID,
	)
	return nil
}

func (s *NotificationService) updateQuietly(ctx context.Context, n *notification.Notification) {
	if err := s.repo.Update(ctx, n); err != nil {
		s.logger.Error("failed to update notification status",
			"notification_id", n.ID,
			"status", n.Status,
			"error", err,
		)
	}
}

func (s *NotificationService) publishOutcome(eventType shared.EventType, n *notification.Notification) {
	if !s.config.PublishEvents || s.eventBus == nil {
		return
	}

	event := shared.NotificationOutcomeEvent{
		BaseEvent:      shared.NewBaseEvent(eventType, n.AccountID.String()),
		NotificationID: string(n.ID),
		Type:           string(n.Type),
		Channel:        string(n.Channel),
	}
	if err := s.eventBus.Publish(event); err != nil {
		s.logger.Warn("failed to publish notification event", "error", err)
	}
}
