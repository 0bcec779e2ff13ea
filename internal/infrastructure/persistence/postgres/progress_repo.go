package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fable-hub/fable-story-hub/internal/domain/progress"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Repository for PostgreSQL. The
// completions table is the source of truth; the redis ledger cache sits in
// front of Snapshot and is maintained by its own decorator.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

// Snapshot loads the child's full ledger. Any read failure is reported as
// ErrLedgerUnavailable so callers stay fail-restrictive.
func (r *ProgressRepository) Snapshot(ctx context.Context, childID shared.ChildID) (*progress.Ledger, error) {
	query := `
		SELECT story_id, completed_at
		FROM completions
		WHERE child_id = $1
	`
	rows, err := r.conn.Query(ctx, query, childID.String())
	if err != nil {
		return nil, fmt.Errorf("query completions: %v: %w", err, shared.ErrLedgerUnavailable)
	}
	defer rows.Close()

	var entries []progress.Entry
	for rows.Next() {
		var storyID string
		var completedAt time.Time
		if err := rows.Scan(&storyID, &completedAt); err != nil {
			return nil, fmt.Errorf("scan completion: %v: %w", err, shared.ErrLedgerUnavailable)
		}
		entries = append(entries, progress.Entry{
			ChildID:     childID,
			StoryID:     shared.NodeID(storyID),
			CompletedAt: shared.NewInstant(completedAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read completions: %v: %w", err, shared.ErrLedgerUnavailable)
	}

	return progress.NewLedger(childID, entries), nil
}

// RecordCompletion upserts the (child, story) entry atomically. The row is
// locked for the duration of the transaction, so two concurrent completions
// of the same story serialize and collapse to one entry, with the replay
// policy deciding what happens to the stored instant.
func (r *ProgressRepository) RecordCompletion(
	ctx context.Context,
	childID shared.ChildID,
	storyID shared.NodeID,
	at shared.Instant,
	policy progress.ReplayPolicy,
) (progress.RecordOutcome, error) {
	var outcome progress.RecordOutcome

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		var existing time.Time
		err := tx.QueryRow(ctx, `
			SELECT completed_at FROM completions
			WHERE child_id = $1 AND story_id = $2
			FOR UPDATE
		`, childID.String(), storyID.String()).Scan(&existing)

		switch {
		case IsNoRows(err):
			// ON CONFLICT DO NOTHING guards the race where two first
			// completions pass the SELECT before either inserts.
			tag, err := tx.Exec(ctx, `
				INSERT INTO completions (child_id, story_id, completed_at)
				VALUES ($1, $2, $3)
				ON CONFLICT (child_id, story_id) DO NOTHING
			`, childID.String(), storyID.String(), at.Time())
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				// Lost the race; the other writer's entry stands.
				return tx.QueryRow(ctx, `
					SELECT completed_at FROM completions
					WHERE child_id = $1 AND story_id = $2
				`, childID.String(), storyID.String()).Scan(&existing)
			}
			outcome = progress.RecordOutcome{Created: true, RecordedAt: at}
			return nil

		case err != nil:
			return err
		}

		prev := shared.NewInstant(existing)
		if policy == progress.LastWriteWins {
			if _, err := tx.Exec(ctx, `
				UPDATE completions
				SET completed_at = $3, recorded_at = NOW()
				WHERE child_id = $1 AND story_id = $2
			`, childID.String(), storyID.String(), at.Time()); err != nil {
				return err
			}
			outcome = progress.RecordOutcome{
				TimestampUpdated: true,
				PreviousAt:       prev,
				RecordedAt:       at,
			}
			return nil
		}

		outcome = progress.RecordOutcome{PreviousAt: prev, RecordedAt: prev}
		return nil
	})
	if err != nil {
		return progress.RecordOutcome{}, fmt.Errorf("record completion: %v: %w", err, shared.ErrPersistenceWrite)
	}
	return outcome, nil
}

// LatestCompletion returns the child's most recent entry.
func (r *ProgressRepository) LatestCompletion(ctx context.Context, childID shared.ChildID) (progress.Entry, error) {
	query := `
		SELECT story_id, completed_at
		FROM completions
		WHERE child_id = $1
		ORDER BY completed_at DESC
		LIMIT 1
	`
	var storyID string
	var completedAt time.Time
	err := r.conn.QueryRow(ctx, query, childID.String()).Scan(&storyID, &completedAt)
	if err != nil {
		if IsNoRows(err) {
			return progress.Entry{}, shared.ErrEntryNotFound
		}
		return progress.Entry{}, fmt.Errorf("query latest completion: %v: %w", err, shared.ErrLedgerUnavailable)
	}

	return progress.Entry{
		ChildID:     childID,
		StoryID:     shared.NodeID(storyID),
		CompletedAt: shared.NewInstant(completedAt),
	}, nil
}

// ChildrenWithRecentCompletions returns children with a completion at or
// after since, ordered by most recent completion first.
func (r *ProgressRepository) ChildrenWithRecentCompletions(ctx context.Context, since shared.Instant, limit int) ([]shared.ChildID, error) {
	query := `
		SELECT child_id, MAX(completed_at) AS latest
		FROM completions
		WHERE completed_at >= $1
		GROUP BY child_id
		ORDER BY latest DESC
		LIMIT $2
	`
	rows, err := r.conn.Query(ctx, query, since.Time(), limit)
	if err != nil {
		return nil, fmt.Errorf("query recent completions: %v: %w", err, shared.ErrLedgerUnavailable)
	}
	defer rows.Close()

	var children []shared.ChildID
	for rows.Next() {
		var id string
		var latest time.Time
		if err := rows.Scan(&id, &latest); err != nil {
			return nil, fmt.Errorf("scan recent completion: %v: %w", err, shared.ErrLedgerUnavailable)
		}
		children = append(children, shared.ChildID(id))
	}
	return children, rows.Err()
}
