package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fable-hub/fable-story-hub/internal/domain/family"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// memFamilyRepo is an in-memory family.Repository for handler tests.
type memFamilyRepo struct {
	accounts map[shared.AccountID]*family.ParentAccount
	children map[shared.ChildID]*family.ChildProfile
}

func newMemFamilyRepo() *memFamilyRepo {
	return &memFamilyRepo{
		accounts: make(map[shared.AccountID]*family.ParentAccount),
		children: make(map[shared.ChildID]*family.ChildProfile),
	}
}

func (r *memFamilyRepo) CreateAccount(_ context.Context, account *family.ParentAccount) error {
	if _, ok := r.accounts[account.ID]; ok {
		return shared.ErrAccountAlreadyExists
	}
	r.accounts[account.ID] = account
	for _, c := range account.Children {
		r.children[c.ID] = c
	}
	return nil
}

func (r *memFamilyRepo) GetAccount(_ context.Context, id shared.AccountID) (*family.ParentAccount, error) {
	a, ok := r.accounts[id]
	if !ok {
		return nil, shared.ErrAccountNotFound
	}
	return a, nil
}

func (r *memFamilyRepo) GetAccountByEmail(_ context.Context, email shared.Email) (*family.ParentAccount, error) {
	for _, a := range r.accounts {
		if a.Email == email {
			return a, nil
		}
	}
	return nil, shared.ErrAccountNotFound
}

func (r *memFamilyRepo) GetChild(_ context.Context, id shared.ChildID) (*family.ChildProfile, error) {
	c, ok := r.children[id]
	if !ok {
		return nil, shared.ErrProfileNotFound
	}
	return c, nil
}

func (r *memFamilyRepo) GetAccountByChild(_ context.Context, childID shared.ChildID) (*family.ParentAccount, error) {
	c, ok := r.children[childID]
	if !ok {
		return nil, shared.ErrProfileNotFound
	}
	return r.GetAccount(context.Background(), c.AccountID)
}

func (r *memFamilyRepo) UpdateSubscription(_ context.Context, id shared.AccountID, sub family.Subscription) error {
	a, ok := r.accounts[id]
	if !ok {
		return shared.ErrAccountNotFound
	}
	a.Subscription = sub
	return nil
}

func (r *memFamilyRepo) UpdateChild(_ context.Context, profile *family.ChildProfile) error {
	if _, ok := r.children[profile.ID]; !ok {
		return shared.ErrProfileNotFound
	}
	r.children[profile.ID] = profile
	return nil
}

func (r *memFamilyRepo) AccountsExpiringBefore(_ context.Context, cutoff shared.Instant, limit int) ([]*family.ParentAccount, error) {
	out := make([]*family.ParentAccount, 0)
	for _, a := range r.accounts {
		sub := a.Subscription
		if sub.State == family.SubscriptionLapsed {
			continue
		}
		if !sub.ExpiresAt.IsZero() && sub.ExpiresAt.Before(cutoff.Time()) {
			out = append(out, a)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func seedAccount(t *testing.T, repo *memFamilyRepo) *family.ParentAccount {
	t.Helper()

	account, err := family.NewParentAccount(family.NewAccountParams{
		ID:           shared.AccountID(testAdminID),
		Email:        "parent@example.com",
		PasswordHash: "$2a$10$fakehashfortests",
		DisplayName:  "Pat",
		TrialUntil:   testBase.Add(7 * 24 * time.Hour).Time(),
	})
	require.NoError(t, err)

	child, err := family.NewChildProfile(shared.ChildID(testChildID), "Robin", 2019)
	require.NoError(t, err)
	require.NoError(t, account.AddChild(child))
	require.NoError(t, repo.CreateAccount(context.Background(), account))
	return account
}

func TestSyncEntitlement_TrialToActive(t *testing.T) {
	repo := newMemFamilyRepo()
	seedAccount(t, repo)
	pub := &capturePublisher{}
	h := NewSyncEntitlementHandler(repo, pub, shared.FixedClock{Instant: testBase})

	res, err := h.Handle(context.Background(), SyncEntitlementCommand{
		AccountID:   testAdminID,
		State:       string(family.SubscriptionActive),
		ExpiresAt:   testBase.Add(30 * 24 * time.Hour).Time(),
		ProviderRef: "sub_123",
		Source:      SourceWebhook,
	})
	require.NoError(t, err)

	assert.True(t, res.Changed)
	assert.Equal(t, string(family.SubscriptionTrial), res.OldState)
	assert.Equal(t, string(family.SubscriptionActive), res.NewState)
	assert.Equal(t, []shared.EventType{shared.EventSubscriptionChanged}, pub.types())

	stored, err := repo.GetAccount(context.Background(), shared.AccountID(testAdminID))
	require.NoError(t, err)
	assert.Equal(t, family.SubscriptionActive, stored.Subscription.State)
	assert.Equal(t, "sub_123", stored.Subscription.ProviderRef)
}

func TestSyncEntitlement_ReplaySameStateIsQuiet(t *testing.T) {
	repo := newMemFamilyRepo()
	seedAccount(t, repo)
	pub := &capturePublisher{}
	h := NewSyncEntitlementHandler(repo, pub, shared.FixedClock{Instant: testBase})

	res, err := h.Handle(context.Background(), SyncEntitlementCommand{
		AccountID: testAdminID,
		State:     string(family.SubscriptionTrial),
		ExpiresAt: testBase.Add(7 * 24 * time.Hour).Time(),
		Source:    SourceWebhook,
	})
	require.NoError(t, err)

	assert.False(t, res.Changed)
	assert.Empty(t, pub.events)
}

func TestSyncEntitlement_ForbiddenTransition(t *testing.T) {
	repo := newMemFamilyRepo()
	account := seedAccount(t, repo)

	// Force the account into active first; active -> trial is not allowed.
	require.NoError(t, account.UpdateSubscription(family.Subscription{
		State: family.SubscriptionActive, SyncedAt: testBase.Time(),
	}))

	pub := &capturePublisher{}
	h := NewSyncEntitlementHandler(repo, pub, shared.FixedClock{Instant: testBase})

	_, err := h.Handle(context.Background(), SyncEntitlementCommand{
		AccountID: testAdminID,
		State:     string(family.SubscriptionTrial),
		Source:    SourceManual,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrSubscriptionState))
}

func TestSyncEntitlement_UnknownAccount(t *testing.T) {
	repo := newMemFamilyRepo()
	pub := &capturePublisher{}
	h := NewSyncEntitlementHandler(repo, pub, shared.FixedClock{Instant: testBase})

	_, err := h.Handle(context.Background(), SyncEntitlementCommand{
		AccountID: testAdminID,
		State:     string(family.SubscriptionActive),
		Source:    SourceWebhook,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrAccountNotFound))
}

func TestGrantOverride_GrantAndRevoke(t *testing.T) {
	repo := newMemFamilyRepo()
	seedAccount(t, repo)
	pub := &capturePublisher{}
	h := NewGrantOverrideHandler(repo, pub)

	res, err := h.Handle(context.Background(), GrantOverrideCommand{
		ChildID:   testChildID,
		Grant:     true,
		Reason:    "classroom pilot",
		GrantedBy: testAdminID,
	})
	require.NoError(t, err)
	assert.True(t, res.OverrideGranted)
	assert.Equal(t, []shared.EventType{shared.EventOverrideGranted}, pub.types())

	child, err := repo.GetChild(context.Background(), shared.ChildID(testChildID))
	require.NoError(t, err)
	assert.True(t, child.OverrideGranted)
	assert.Equal(t, "classroom pilot", child.OverrideReason)

	res, err = h.Handle(context.Background(), GrantOverrideCommand{
		ChildID:   testChildID,
		Grant:     false,
		GrantedBy: testAdminID,
	})
	require.NoError(t, err)
	assert.False(t, res.OverrideGranted)

	child, err = repo.GetChild(context.Background(), shared.ChildID(testChildID))
	require.NoError(t, err)
	assert.False(t, child.OverrideGranted)
}

func TestGrantOverride_RequiresReason(t *testing.T) {
	repo := newMemFamilyRepo()
	pub := &capturePublisher{}
	h := NewGrantOverrideHandler(repo, pub)

	_, err := h.Handle(context.Background(), GrantOverrideCommand{
		ChildID:   testChildID,
		Grant:     true,
		GrantedBy: testAdminID,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))
}
