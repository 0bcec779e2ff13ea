package progress

import (
	"context"

	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// These interfaces define the storage contract for the progress ledger.
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository persists and loads completion ledgers.
type Repository interface {
	// Snapshot loads the child's full ledger. A read failure is wrapped as
	// ErrLedgerUnavailable; callers must treat that as a hard failure and
	// never substitute a permissive default.
	Snapshot(ctx context.Context, childID shared.ChildID) (*Ledger, error)

	// RecordCompletion upserts a completion entry atomically per
	// (child, story) pair. Concurrent completions of the same story must
	// collapse to a single entry; the replay policy decides whether an
	// existing instant is kept or refreshed. Write failures are wrapped as
	// ErrPersistenceWrite and are safe to retry.
	RecordCompletion(ctx context.Context, childID shared.ChildID, storyID shared.NodeID, at shared.Instant, policy ReplayPolicy) (RecordOutcome, error)

	// LatestCompletion returns the child's most recent entry, or
	// ErrEntryNotFound when the ledger is empty. Used by the unlock
	// notification job to find cooldowns that have just elapsed.
	LatestCompletion(ctx context.Context, childID shared.ChildID) (Entry, error)

	// ChildrenWithRecentCompletions returns ids of children whose latest
	// completion is at or after since, newest first. The unlock notification
	// job scans this set instead of every profile.
	ChildrenWithRecentCompletions(ctx context.Context, since shared.Instant, limit int) ([]shared.ChildID, error)
}
