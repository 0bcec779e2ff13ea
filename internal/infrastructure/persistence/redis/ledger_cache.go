package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fable-hub/fable-story-hub/internal/domain/progress"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER CACHE
// ══════════════════════════════════════════════════════════════════════════════

// LedgerCache decorates a progress.Repository with a read-through cache on
// Snapshot. Writes go straight to the inner repository and evict the child's
// cached ledger; the event handlers evict again on the completion event, so
// a crash between write and eviction is covered twice over, and the TTL
// covers the rest.
//
// Cache failures never surface to callers: a miss or a broken redis falls
// back to the inner repository, which stays authoritative.
type LedgerCache struct {
	inner  progress.Repository
	cache  *Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewLedgerCache creates a LedgerCache around the given repository.
func NewLedgerCache(inner progress.Repository, cache *Cache, ttl time.Duration, logger *slog.Logger) *LedgerCache {
	if ttl <= 0 {
		ttl = TTLLedger
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerCache{inner: inner, cache: cache, ttl: ttl, logger: logger}
}

// cachedEntry is the wire form of a ledger entry. The domain Entry carries
// an opaque Instant, so the cache keeps its own JSON shape.
type cachedEntry struct {
	StoryID     string    `json:"story_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// Snapshot returns the cached ledger when present, otherwise loads from the
// inner repository and populates the cache.
func (c *LedgerCache) Snapshot(ctx context.Context, childID shared.ChildID) (*progress.Ledger, error) {
	key := LedgerKey(childID.String())

	var cached []cachedEntry
	err := c.cache.Get(ctx, key, &cached)
	if err == nil {
		entries := make([]progress.Entry, 0, len(cached))
		for _, e := range cached {
			entries = append(entries, progress.Entry{
				ChildID:     childID,
				StoryID:     shared.NodeID(e.StoryID),
				CompletedAt: shared.NewInstant(e.CompletedAt),
			})
		}
		return progress.NewLedger(childID, entries), nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn("ledger cache read failed",
			"child_id", childID.String(),
			"error", err,
		)
	}

	ledger, err := c.inner.Snapshot(ctx, childID)
	if err != nil {
		return nil, err
	}

	c.store(ctx, key, ledger)
	return ledger, nil
}

// RecordCompletion writes through to the inner repository and evicts the
// child's cached ledger on success.
func (c *LedgerCache) RecordCompletion(
	ctx context.Context,
	childID shared.ChildID,
	storyID shared.NodeID,
	at shared.Instant,
	policy progress.ReplayPolicy,
) (progress.RecordOutcome, error) {
	outcome, err := c.inner.RecordCompletion(ctx, childID, storyID, at, policy)
	if err != nil {
		return outcome, err
	}

	if err := c.InvalidateChild(ctx, childID); err != nil {
		c.logger.Warn("ledger cache eviction failed",
			"child_id", childID.String(),
			"error", err,
		)
	}
	return outcome, nil
}

// LatestCompletion always reads the inner repository; the unlock job calls
// it once per scan and cache coherence is not worth a second key.
func (c *LedgerCache) LatestCompletion(ctx context.Context, childID shared.ChildID) (progress.Entry, error) {
	return c.inner.LatestCompletion(ctx, childID)
}

// ChildrenWithRecentCompletions passes through to the inner repository.
func (c *LedgerCache) ChildrenWithRecentCompletions(ctx context.Context, since shared.Instant, limit int) ([]shared.ChildID, error) {
	return c.inner.ChildrenWithRecentCompletions(ctx, since, limit)
}

// InvalidateChild removes the child's cached ledger.
func (c *LedgerCache) InvalidateChild(ctx context.Context, childID shared.ChildID) error {
	return c.cache.Delete(ctx, LedgerKey(childID.String()))
}

func (c *LedgerCache) store(ctx context.Context, key string, ledger *progress.Ledger) {
	entries := ledger.Entries()
	cached := make([]cachedEntry, 0, len(entries))
	for _, e := range entries {
		cached = append(cached, cachedEntry{
			StoryID:     e.StoryID.String(),
			CompletedAt: e.CompletedAt.Time(),
		})
	}

	if err := c.cache.Set(ctx, key, cached, c.ttl); err != nil {
		c.logger.Warn("ledger cache write failed", "key", key, "error", err)
	}
}
