package eventhandler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fable-hub/fable-story-hub/internal/domain/family"
	"github.com/fable-hub/fable-story-hub/internal/domain/notification"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

const (
	testChildID   = "0b6f2c1e-7f42-4b3d-9a11-2f5e8c4d6a90"
	testAccountID = "3f9d8e7c-1a2b-4c5d-8e9f-0a1b2c3d4e5f"
)

var testBase = shared.NewInstant(time.Date(2026, 4, 6, 8, 0, 0, 0, time.UTC))

type fakeCache struct {
	invalidatedChildren []shared.ChildID
	invalidatedAccounts []shared.AccountID
	err                 error
}

func (c *fakeCache) InvalidateChild(_ context.Context, childID shared.ChildID) error {
	if c.err != nil {
		return c.err
	}
	c.invalidatedChildren = append(c.invalidatedChildren, childID)
	return nil
}

func (c *fakeCache) InvalidateAccount(_ context.Context, accountID shared.AccountID) error {
	if c.err != nil {
		return c.err
	}
	c.invalidatedAccounts = append(c.invalidatedAccounts, accountID)
	return nil
}

type fakeFamilyRepo struct {
	account *family.ParentAccount
	child   *family.ChildProfile
}

func newFakeFamilyRepo(t *testing.T) *fakeFamilyRepo {
	t.Helper()
	account, err := family.NewParentAccount(family.NewAccountParams{
		ID:           shared.AccountID(testAccountID),
		Email:        "parent@example.com",
		PasswordHash: "x",
		DisplayName:  "Alex",
		TrialUntil:   testBase.Time().Add(7 * 24 * time.Hour),
	})
	require.NoError(t, err)
	child, err := family.NewChildProfile(shared.ChildID(testChildID), "Mila", 2019)
	require.NoError(t, err)
	require.NoError(t, account.AddChild(child))
	return &fakeFamilyRepo{account: account, child: child}
}

func (r *fakeFamilyRepo) CreateAccount(context.Context, *family.ParentAccount) error { return nil }

func (r *fakeFamilyRepo) GetAccount(_ context.Context, id shared.AccountID) (*family.ParentAccount, error) {
	if r.account != nil && r.account.ID == id {
		return r.account, nil
	}
	return nil, shared.ErrAccountNotFound
}

func (r *fakeFamilyRepo) GetAccountByEmail(context.Context, shared.Email) (*family.ParentAccount, error) {
	return nil, shared.ErrAccountNotFound
}

func (r *fakeFamilyRepo) GetChild(_ context.Context, id shared.ChildID) (*family.ChildProfile, error) {
	if r.child != nil && r.child.ID == id {
		return r.child, nil
	}
	return nil, shared.ErrProfileNotFound
}

func (r *fakeFamilyRepo) GetAccountByChild(_ context.Context, childID shared.ChildID) (*family.ParentAccount, error) {
	if r.child != nil && r.child.ID == childID {
		return r.account, nil
	}
	return nil, shared.ErrProfileNotFound
}

func (r *fakeFamilyRepo) UpdateSubscription(context.Context, shared.AccountID, family.Subscription) error {
	return nil
}

func (r *fakeFamilyRepo) UpdateChild(context.Context, *family.ChildProfile) error { return nil }

func (r *fakeFamilyRepo) AccountsExpiringBefore(context.Context, shared.Instant, int) ([]*family.ParentAccount, error) {
	return nil, nil
}

type captureNotifier struct {
	sent []*notification.Notification
}

func (n *captureNotifier) Notify(_ context.Context, msg *notification.Notification) error {
	n.sent = append(n.sent, msg)
	return nil
}

func TestOnStoryCompleted_InvalidatesCache(t *testing.T) {
	cache := &fakeCache{}
	h := NewOnStoryCompletedHandler(cache, newFakeFamilyRepo(t), &captureNotifier{},
		nil, shared.FixedClock{Instant: testBase}, DefaultStoryCompletedConfig())

	event := shared.NewStoryCompletedEvent(testChildID, "a1", "week-a", testBase.Time())
	require.NoError(t, h.Handle(event))

	require.Len(t, cache.invalidatedChildren, 1)
	assert.Equal(t, shared.ChildID(testChildID), cache.invalidatedChildren[0])
}

func TestOnStoryCompleted_QuietReplaySkipsCache(t *testing.T) {
	cache := &fakeCache{}
	h := NewOnStoryCompletedHandler(cache, newFakeFamilyRepo(t), &captureNotifier{},
		nil, shared.FixedClock{Instant: testBase}, DefaultStoryCompletedConfig())

	event := shared.CompletionReplayEvent{
		BaseEvent:        shared.NewBaseEvent(shared.EventCompletionReplay, testChildID),
		ChildID:          testChildID,
		StoryID:          "a1",
		TimestampUpdated: false,
	}
	require.NoError(t, h.Handle(event))
	assert.Empty(t, cache.invalidatedChildren)

	event.TimestampUpdated = true
	require.NoError(t, h.Handle(event))
	assert.Len(t, cache.invalidatedChildren, 1)
}

func TestOnStoryCompleted_WeekNotificationBehindConfig(t *testing.T) {
	notifier := &captureNotifier{}
	cfg := DefaultStoryCompletedConfig()
	cfg.NotifyWeekCompleted = true
	h := NewOnStoryCompletedHandler(&fakeCache{}, newFakeFamilyRepo(t), notifier,
		nil, shared.FixedClock{Instant: testBase}, cfg)

	event := shared.WeekCompletedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventWeekCompleted, testChildID),
		ChildID:   testChildID,
		WeekID:    "week-a",
		Stories:   3,
	}
	require.NoError(t, h.Handle(event))

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, notification.TypeWeekCompleted, notifier.sent[0].Type)
	assert.Equal(t, "week_completed:"+testChildID+":week-a", notifier.sent[0].DedupeKey)
	assert.Contains(t, notifier.sent[0].Subject, "Mila")
}

func TestOnRewardUnlocked_NotifiesParent(t *testing.T) {
	notifier := &captureNotifier{}
	cache := &fakeCache{}
	h := NewOnRewardUnlockedHandler(cache, newFakeFamilyRepo(t), notifier,
		nil, shared.FixedClock{Instant: testBase}, DefaultRewardUnlockedConfig())

	event := shared.RewardUnlockedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventRewardUnlocked, testChildID),
		ChildID:   testChildID,
		WeekID:    "week-a",
	}
	require.NoError(t, h.Handle(event))

	assert.Len(t, cache.invalidatedChildren, 1)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, notification.TypeRewardUnlocked, notifier.sent[0].Type)
	assert.Equal(t, shared.AccountID(testAccountID), notifier.sent[0].AccountID)
	assert.Equal(t, "reward_unlocked:"+testChildID+":week-a", notifier.sent[0].DedupeKey)
}

func TestOnSubscriptionChanged_EvictsAndNotifiesOnLapse(t *testing.T) {
	notifier := &captureNotifier{}
	cache := &fakeCache{}
	h := NewOnSubscriptionChangedHandler(cache, newFakeFamilyRepo(t), notifier,
		nil, shared.FixedClock{Instant: testBase}, DefaultSubscriptionChangedConfig())

	event := shared.SubscriptionChangedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventSubscriptionChanged, testAccountID),
		AccountID: testAccountID,
		OldState:  string(family.SubscriptionActive),
		NewState:  string(family.SubscriptionLapsed),
		Source:    "sweep",
	}
	require.NoError(t, h.Handle(event))

	assert.Len(t, cache.invalidatedAccounts, 1)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, notification.TypeSubscriptionLapsed, notifier.sent[0].Type)
	assert.Equal(t, notification.ChannelTypeEmail, notifier.sent[0].Channel)

	// Active transitions evict but stay quiet.
	notifier.sent = nil
	event.NewState = string(family.SubscriptionActive)
	require.NoError(t, h.Handle(event))
	assert.Len(t, cache.invalidatedAccounts, 2)
	assert.Empty(t, notifier.sent)
}

func TestHandlers_IgnoreUnexpectedEvents(t *testing.T) {
	h := NewOnRewardUnlockedHandler(&fakeCache{}, newFakeFamilyRepo(t), &captureNotifier{},
		nil, shared.FixedClock{Instant: testBase}, DefaultRewardUnlockedConfig())

	event := shared.NewStoryCompletedEvent(testChildID, "a1", "week-a", testBase.Time())
	assert.NoError(t, h.Handle(event))
}
