package family

import (
	"context"

	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// These interfaces define the storage contract for accounts and profiles.
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository persists parent accounts and child profiles.
type Repository interface {
	// CreateAccount stores a new account with its child profiles.
	// Returns ErrAccountAlreadyExists on a duplicate email.
	CreateAccount(ctx context.Context, account *ParentAccount) error

	// GetAccount returns an account by id, children included.
	// Returns ErrAccountNotFound when missing.
	GetAccount(ctx context.Context, id shared.AccountID) (*ParentAccount, error)

	// GetAccountByEmail returns an account by normalized email.
	// Returns ErrAccountNotFound when missing.
	GetAccountByEmail(ctx context.Context, email shared.Email) (*ParentAccount, error)

	// GetChild returns a child profile by id.
	// Returns ErrProfileNotFound when missing.
	GetChild(ctx context.Context, id shared.ChildID) (*ChildProfile, error)

	// GetAccountByChild returns the owning account of a child profile.
	// Returns ErrProfileNotFound when the child is missing.
	GetAccountByChild(ctx context.Context, childID shared.ChildID) (*ParentAccount, error)

	// UpdateSubscription persists the account's subscription state.
	UpdateSubscription(ctx context.Context, id shared.AccountID, sub Subscription) error

	// UpdateChild persists profile changes (override flags, archive).
	UpdateChild(ctx context.Context, profile *ChildProfile) error

	// AccountsExpiringBefore returns accounts whose entitlement runs out
	// before the given instant and is not yet marked lapsed. Used by the
	// entitlement sweep job.
	AccountsExpiringBefore(ctx context.Context, cutoff shared.Instant, limit int) ([]*ParentAccount, error)
}

// PolicyReader resolves the access-policy inputs for a child: the owning
// account's entitlement and the profile's override flag. The query layer
// depends on this narrow read instead of the full Repository.
type PolicyReader interface {
	// PolicyFor returns (entitled, override) for the child at the given
	// instant. Returns ErrProfileNotFound when the child is missing.
	PolicyFor(ctx context.Context, childID shared.ChildID, now shared.Instant) (entitled bool, override bool, err error)
}
