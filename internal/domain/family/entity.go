// Package family contains the domain model of parent accounts and child
// profiles: who subscribes, which children read, and what their current
// entitlement and override flags are. This is pure business logic with no
// external dependencies.
package family

import (
	"strings"
	"time"

	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBSCRIPTION
// ══════════════════════════════════════════════════════════════════════════════

// SubscriptionState is the account's current paywall standing.
type SubscriptionState string

const (
	// SubscriptionTrial - inside the free trial window.
	SubscriptionTrial SubscriptionState = "trial"
	// SubscriptionActive - a paid subscription is in good standing.
	SubscriptionActive SubscriptionState = "active"
	// SubscriptionLapsed - payment failed or the period expired.
	SubscriptionLapsed SubscriptionState = "lapsed"
	// SubscriptionCanceled - the parent canceled; access runs out at the
	// period end carried in Subscription.ExpiresAt.
	SubscriptionCanceled SubscriptionState = "canceled"
)

// IsValid checks that the state is one of the known values.
func (s SubscriptionState) IsValid() bool {
	switch s {
	case SubscriptionTrial, SubscriptionActive, SubscriptionLapsed, SubscriptionCanceled:
		return true
	default:
		return false
	}
}

// Subscription is the account's paywall state as last synced from the
// billing provider.
type Subscription struct {
	// State is the current standing.
	State SubscriptionState

	// ExpiresAt is when the current entitlement runs out. Zero means no
	// fixed end (an active subscription that renews).
	ExpiresAt time.Time

	// ProviderRef is the billing provider's subscription id.
	ProviderRef string

	// SyncedAt is when this state was last confirmed against the provider.
	SyncedAt time.Time
}

// EntitledAt reports whether the subscription permits content access at the
// given instant. Trial and active states are entitled; a canceled
// subscription stays entitled until its paid period runs out; lapsed is
// never entitled.
func (s Subscription) EntitledAt(now shared.Instant) bool {
	switch s.State {
	case SubscriptionActive:
		return s.ExpiresAt.IsZero() || now.Time().Before(s.ExpiresAt)
	case SubscriptionTrial, SubscriptionCanceled:
		return !s.ExpiresAt.IsZero() && now.Time().Before(s.ExpiresAt)
	default:
		return false
	}
}

// canTransitionTo enforces the allowed subscription state machine.
func (s SubscriptionState) canTransitionTo(next SubscriptionState) bool {
	if s == next {
		return true
	}
	switch s {
	case SubscriptionTrial:
		return next == SubscriptionActive || next == SubscriptionLapsed || next == SubscriptionCanceled
	case SubscriptionActive:
		return next == SubscriptionLapsed || next == SubscriptionCanceled
	case SubscriptionLapsed:
		return next == SubscriptionActive || next == SubscriptionCanceled
	case SubscriptionCanceled:
		return next == SubscriptionActive
	default:
		return false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PARENT ACCOUNT
// ══════════════════════════════════════════════════════════════════════════════

// MaxChildProfiles limits profiles per account (product tier cap).
const MaxChildProfiles = 4

// ParentAccount is the subscribing parent. The account owns the
// subscription; entitlement is evaluated at the account level and applies to
// every child profile under it.
type ParentAccount struct {
	// ID is the internal unique identifier (UUID string).
	ID shared.AccountID

	// Email is the login email, normalized lowercase.
	Email shared.Email

	// PasswordHash is the bcrypt hash of the parent's password.
	PasswordHash string

	// DisplayName is how the parent is addressed in mail and UI.
	DisplayName string

	// Subscription is the current paywall standing.
	Subscription Subscription

	// IsAdmin marks staff accounts; admin sessions may grant overrides.
	IsAdmin bool

	// Children are the child profiles under this account.
	Children []*ChildProfile

	// CreatedAt / UpdatedAt are bookkeeping timestamps.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewAccountParams carries the inputs for NewParentAccount.
type NewAccountParams struct {
	ID           shared.AccountID
	Email        shared.Email
	PasswordHash string
	DisplayName  string
	TrialUntil   time.Time
}

// NewParentAccount creates an account starting in the trial state.
func NewParentAccount(p NewAccountParams) (*ParentAccount, error) {
	if !p.ID.IsValid() {
		return nil, shared.ErrInvalidID
	}
	if !p.Email.IsValid() {
		return nil, shared.ErrInvalidFormat
	}
	if p.PasswordHash == "" {
		return nil, shared.ErrEmptyValue
	}

	now := time.Now().UTC()
	return &ParentAccount{
		ID:           p.ID,
		Email:        p.Email,
		PasswordHash: p.PasswordHash,
		DisplayName:  strings.TrimSpace(p.DisplayName),
		Subscription: Subscription{
			State:     SubscriptionTrial,
			ExpiresAt: p.TrialUntil,
			SyncedAt:  now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// UpdateSubscription applies a new subscription state, enforcing the state
// machine. Returns ErrSubscriptionState on a forbidden transition.
func (a *ParentAccount) UpdateSubscription(next Subscription) error {
	if !next.State.IsValid() {
		return shared.ErrSubscriptionState
	}
	if !a.Subscription.State.canTransitionTo(next.State) {
		return shared.ErrSubscriptionState
	}
	a.Subscription = next
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// AddChild attaches a new child profile to the account.
func (a *ParentAccount) AddChild(profile *ChildProfile) error {
	if len(a.Children) >= MaxChildProfiles {
		return shared.ErrProfileLimitReached
	}
	profile.AccountID = a.ID
	a.Children = append(a.Children, profile)
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CHILD PROFILE
// ══════════════════════════════════════════════════════════════════════════════

// ChildProfile is one reading child. Progress ledgers and unlock evaluation
// are keyed by child, not by account.
type ChildProfile struct {
	// ID is the internal unique identifier (UUID string).
	ID shared.ChildID

	// AccountID references the owning parent account.
	AccountID shared.AccountID

	// Name is the child's display name used to personalize stories.
	Name string

	// BirthYear is used for age-appropriate personalization only.
	BirthYear int

	// OverrideGranted is the administrative gating bypass. When set, the
	// evaluator skips entitlement, prerequisite and cooldown checks for
	// this profile.
	OverrideGranted bool

	// OverrideReason records why the override was granted (support ticket,
	// QA, classroom pilot).
	OverrideReason string

	// Archived profiles are hidden from the app but keep their ledger.
	Archived bool

	// CreatedAt / UpdatedAt are bookkeeping timestamps.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewChildProfile creates a child profile.
func NewChildProfile(id shared.ChildID, name string, birthYear int) (*ChildProfile, error) {
	name = strings.TrimSpace(name)
	if !id.IsValid() {
		return nil, shared.ErrInvalidID
	}
	if name == "" || len(name) > 60 {
		return nil, shared.ErrInvalidChildName
	}

	now := time.Now().UTC()
	return &ChildProfile{
		ID:        id,
		Name:      name,
		BirthYear: birthYear,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GrantOverride sets the administrative bypass.
func (c *ChildProfile) GrantOverride(reason string) {
	c.OverrideGranted = true
	c.OverrideReason = strings.TrimSpace(reason)
	c.UpdatedAt = time.Now().UTC()
}

// RevokeOverride clears the administrative bypass.
func (c *ChildProfile) RevokeOverride() {
	c.OverrideGranted = false
	c.OverrideReason = ""
	c.UpdatedAt = time.Now().UTC()
}
