package postgres

import (
	"context"
	"fmt"

	"github.com/fable-hub/fable-story-hub/internal/domain/notification"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// NotificationRepository implements notification.Repository for PostgreSQL.
// The dedupe_key unique constraint is the actual idempotency guarantee; the
// ExistsByDedupeKey pre-check is only an optimization to skip rendering.
type NotificationRepository struct {
	conn *Connection
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(conn *Connection) *NotificationRepository {
	return &NotificationRepository{conn: conn}
}

// Create stores a pending notification.
func (r *NotificationRepository) Create(ctx context.Context, n *notification.Notification) error {
	query := `
		INSERT INTO notifications (
			id, account_id, child_id, type, channel,
			subject, body, status, dedupe_key, created_at, sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.conn.Exec(ctx, query,
		string(n.ID),
		n.AccountID.String(),
		nullableString(n.ChildID.String()),
		string(n.Type),
		string(n.Channel),
		n.Subject,
		n.Body,
		string(n.Status),
		n.DedupeKey,
		n.CreatedAt,
		nullableTime(n.SentAt),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// Update persists a delivery state change.
func (r *NotificationRepository) Update(ctx context.Context, n *notification.Notification) error {
	query := `
		UPDATE notifications
		SET status = $2, sent_at = $3
		WHERE id = $1
	`
	tag, err := r.conn.Exec(ctx, query, string(n.ID), string(n.Status), nullableTime(n.SentAt))
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotificationNotFound
	}
	return nil
}

// ExistsByDedupeKey reports whether a notification with the key exists.
func (r *NotificationRepository) ExistsByDedupeKey(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.conn.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM notifications WHERE dedupe_key = $1)
	`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check dedupe key: %w", err)
	}
	return exists, nil
}

// nullableString maps an empty string to SQL NULL, for optional UUID columns.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
