package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fable-hub/fable-story-hub/internal/domain/family"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTITLEMENT CACHE
// ══════════════════════════════════════════════════════════════════════════════

// EntitlementCache decorates a family.PolicyReader with a per-child cache of
// the (entitled, override) verdict. The verdict is time-dependent — a trial
// can run out between reads — so the TTL is deliberately short and the
// subscription event handler evicts the whole account the moment its state
// changes. That eviction is the critical path: this cache is the only place
// a lapsed family could still look paid-up.
type EntitlementCache struct {
	inner      family.PolicyReader
	familyRepo family.Repository
	cache      *Cache
	ttl        time.Duration
	logger     *slog.Logger
}

// NewEntitlementCache creates an EntitlementCache. familyRepo is used only
// to resolve an account's children during account-wide eviction.
func NewEntitlementCache(
	inner family.PolicyReader,
	familyRepo family.Repository,
	cache *Cache,
	ttl time.Duration,
	logger *slog.Logger,
) *EntitlementCache {
	if ttl <= 0 {
		ttl = TTLEntitlement
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitlementCache{
		inner:      inner,
		familyRepo: familyRepo,
		cache:      cache,
		ttl:        ttl,
		logger:     logger,
	}
}

// cachedVerdict is the wire form of a policy verdict.
type cachedVerdict struct {
	Entitled bool `json:"entitled"`
	Override bool `json:"override"`
}

// PolicyFor returns the cached verdict when present, otherwise resolves it
// from the inner reader and populates the cache. Only successful lookups
// are cached; ErrProfileNotFound is re-resolved every time.
func (c *EntitlementCache) PolicyFor(ctx context.Context, childID shared.ChildID, now shared.Instant) (bool, bool, error) {
	key := EntitlementKey(childID.String())

	var cached cachedVerdict
	err := c.cache.Get(ctx, key, &cached)
	if err == nil {
		return cached.Entitled, cached.Override, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn("entitlement cache read failed",
			"child_id", childID.String(),
			"error", err,
		)
	}

	entitled, override, err := c.inner.PolicyFor(ctx, childID, now)
	if err != nil {
		return false, false, err
	}

	verdict := cachedVerdict{Entitled: entitled, Override: override}
	if err := c.cache.Set(ctx, key, verdict, c.ttl); err != nil {
		c.logger.Warn("entitlement cache write failed", "key", key, "error", err)
	}
	return entitled, override, nil
}

// InvalidateAccount evicts the cached verdicts of every child on the
// account. Resolution failures propagate: callers must not assume the cache
// is clean when this returns an error.
func (c *EntitlementCache) InvalidateAccount(ctx context.Context, accountID shared.AccountID) error {
	account, err := c.familyRepo.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, shared.ErrAccountNotFound) {
			// Account gone; there is nothing left to serve stale.
			return nil
		}
		return err
	}

	keys := make([]string, 0, len(account.Children))
	for _, child := range account.Children {
		keys = append(keys, EntitlementKey(child.ID.String()))
	}
	return c.cache.Delete(ctx, keys...)
}

// InvalidateChild evicts a single child's cached verdict, used when an
// override is granted or revoked on one profile.
func (c *EntitlementCache) InvalidateChild(ctx context.Context, childID shared.ChildID) error {
	return c.cache.Delete(ctx, EntitlementKey(childID.String()))
}
