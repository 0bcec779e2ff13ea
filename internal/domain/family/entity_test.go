package family

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

const (
	testAccountID = shared.AccountID("0b6f3a7e-3a65-4640-a14e-9f60e1a6c1aa")
	testChildID   = shared.ChildID("51c96f4d-8e0f-4f0e-a5a1-2f4f3f1b9c2d")
)

func newTestAccount(t *testing.T, trialUntil time.Time) *ParentAccount {
	t.Helper()
	acc, err := NewParentAccount(NewAccountParams{
		ID:           testAccountID,
		Email:        "parent@example.com",
		PasswordHash: "$2a$10$fakehashfakehashfakehash",
		DisplayName:  "Sam",
		TrialUntil:   trialUntil,
	})
	require.NoError(t, err)
	return acc
}

func TestNewParentAccount_Validation(t *testing.T) {
	_, err := NewParentAccount(NewAccountParams{ID: "not-a-uuid", Email: "parent@example.com", PasswordHash: "h"})
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	_, err = NewParentAccount(NewAccountParams{ID: testAccountID, Email: "nope", PasswordHash: "h"})
	assert.ErrorIs(t, err, shared.ErrInvalidFormat)

	_, err = NewParentAccount(NewAccountParams{ID: testAccountID, Email: "parent@example.com"})
	assert.ErrorIs(t, err, shared.ErrEmptyValue)

	acc := newTestAccount(t, time.Now().Add(14*24*time.Hour))
	assert.Equal(t, SubscriptionTrial, acc.Subscription.State)
}

func TestSubscription_EntitledAt(t *testing.T) {
	now := shared.NewInstant(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	later := now.Add(time.Hour)

	cases := []struct {
		name     string
		sub      Subscription
		at       shared.Instant
		entitled bool
	}{
		{"trial inside window", Subscription{State: SubscriptionTrial, ExpiresAt: later.Time()}, now, true},
		{"trial expired", Subscription{State: SubscriptionTrial, ExpiresAt: now.Time()}, now, false},
		{"trial without window", Subscription{State: SubscriptionTrial}, now, false},
		{"active renewing", Subscription{State: SubscriptionActive}, now, true},
		{"active with future end", Subscription{State: SubscriptionActive, ExpiresAt: later.Time()}, now, true},
		{"active past end", Subscription{State: SubscriptionActive, ExpiresAt: now.Time()}, now, false},
		{"canceled with runway", Subscription{State: SubscriptionCanceled, ExpiresAt: later.Time()}, now, true},
		{"canceled run out", Subscription{State: SubscriptionCanceled, ExpiresAt: now.Time()}, now, false},
		{"lapsed never entitled", Subscription{State: SubscriptionLapsed, ExpiresAt: later.Time()}, now, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.entitled, tc.sub.EntitledAt(tc.at))
		})
	}
}

func TestParentAccount_UpdateSubscription(t *testing.T) {
	acc := newTestAccount(t, time.Now().Add(14*24*time.Hour))

	err := acc.UpdateSubscription(Subscription{State: SubscriptionActive, SyncedAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, SubscriptionActive, acc.Subscription.State)

	err = acc.UpdateSubscription(Subscription{State: SubscriptionLapsed})
	require.NoError(t, err)

	// Lapsed cannot go back to trial.
	err = acc.UpdateSubscription(Subscription{State: SubscriptionTrial})
	assert.ErrorIs(t, err, shared.ErrStateTransition)

	err = acc.UpdateSubscription(Subscription{State: "imaginary"})
	assert.ErrorIs(t, err, shared.ErrStateTransition)

	// Reactivation after a lapse is allowed.
	err = acc.UpdateSubscription(Subscription{State: SubscriptionActive})
	require.NoError(t, err)
}

func TestParentAccount_AddChild(t *testing.T) {
	acc := newTestAccount(t, time.Now().Add(14*24*time.Hour))

	profile, err := NewChildProfile(testChildID, "  Mila ", 2019)
	require.NoError(t, err)
	assert.Equal(t, "Mila", profile.Name)

	require.NoError(t, acc.AddChild(profile))
	assert.Equal(t, testAccountID, profile.AccountID)

	for i := 1; i < MaxChildProfiles; i++ {
		p := &ChildProfile{ID: shared.ChildID("51c96f4d-8e0f-4f0e-a5a1-2f4f3f1b9c2" + string(rune('0'+i)))}
		require.NoError(t, acc.AddChild(p))
	}
	err = acc.AddChild(&ChildProfile{})
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)
}

func TestNewChildProfile_Validation(t *testing.T) {
	_, err := NewChildProfile("bad-id", "Mila", 2019)
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	_, err = NewChildProfile(testChildID, "   ", 2019)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestChildProfile_Override(t *testing.T) {
	profile, err := NewChildProfile(testChildID, "Mila", 2019)
	require.NoError(t, err)
	assert.False(t, profile.OverrideGranted)

	profile.GrantOverride(" support ticket 4521 ")
	assert.True(t, profile.OverrideGranted)
	assert.Equal(t, "support ticket 4521", profile.OverrideReason)

	profile.RevokeOverride()
	assert.False(t, profile.OverrideGranted)
	assert.Empty(t, profile.OverrideReason)
}
