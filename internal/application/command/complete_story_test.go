package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fable-hub/fable-story-hub/internal/domain/access"
	"github.com/fable-hub/fable-story-hub/internal/domain/curriculum"
	"github.com/fable-hub/fable-story-hub/internal/domain/family"
	"github.com/fable-hub/fable-story-hub/internal/domain/progress"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

const (
	testChildID = "0b6f2c1e-7f42-4b3d-9a11-2f5e8c4d6a90"
	testAdminID = "3f9d8e7c-1a2b-4c5d-8e9f-0a1b2c3d4e5f"
)

var testBase = shared.NewInstant(time.Date(2026, 4, 6, 8, 0, 0, 0, time.UTC))

// commandTree builds one block, one month, two weeks of three stories each.
func commandTree(t *testing.T) *curriculum.Tree {
	t.Helper()

	week := func(weekID string, order int, ids ...string) *curriculum.Week {
		w := &curriculum.Week{ID: shared.NodeID(weekID), Title: weekID, Order: order}
		for i, id := range ids {
			w.Stories = append(w.Stories, &curriculum.Story{
				ID:      shared.NodeID(id),
				Title:   id,
				DaySlot: 1 + 2*i,
			})
		}
		return w
	}

	blocks := []*curriculum.Block{
		{
			ID: "block-1", Title: "Block", Order: 1,
			Months: []*curriculum.Month{
				{
					ID: "month-1", Title: "Month", Order: 1,
					Weeks: []*curriculum.Week{
						week("week-a", 1, "a1", "a3", "a5"),
						week("week-b", 2, "b1", "b3", "b5"),
					},
				},
			},
		},
	}

	tree, err := curriculum.NewTree(blocks, "v1", testBase.Time())
	require.NoError(t, err)
	return tree
}

type stubProvider struct {
	tree *curriculum.Tree
}

func (p stubProvider) Current() (*curriculum.Tree, error) {
	return p.tree, nil
}

// memProgressRepo is an in-memory progress.Repository for handler tests.
type memProgressRepo struct {
	ledgers  map[shared.ChildID]*progress.Ledger
	readErr  error
	writeErr error
}

func newMemProgressRepo() *memProgressRepo {
	return &memProgressRepo{ledgers: make(map[shared.ChildID]*progress.Ledger)}
}

func (r *memProgressRepo) ledger(childID shared.ChildID) *progress.Ledger {
	l, ok := r.ledgers[childID]
	if !ok {
		l = progress.EmptyLedger(childID)
		r.ledgers[childID] = l
	}
	return l
}

func (r *memProgressRepo) Snapshot(_ context.Context, childID shared.ChildID) (*progress.Ledger, error) {
	if r.readErr != nil {
		return nil, r.readErr
	}
	return progress.NewLedger(childID, r.ledger(childID).Entries()), nil
}

func (r *memProgressRepo) RecordCompletion(_ context.Context, childID shared.ChildID, storyID shared.NodeID, at shared.Instant, policy progress.ReplayPolicy) (progress.RecordOutcome, error) {
	if r.writeErr != nil {
		return progress.RecordOutcome{}, r.writeErr
	}
	return r.ledger(childID).Record(storyID, at, policy), nil
}

func (r *memProgressRepo) LatestCompletion(_ context.Context, childID shared.ChildID) (progress.Entry, error) {
	var latest progress.Entry
	for _, e := range r.ledger(childID).Entries() {
		if latest.StoryID == "" || latest.CompletedAt.Before(e.CompletedAt) {
			latest = e
		}
	}
	if latest.StoryID == "" {
		return progress.Entry{}, shared.ErrEntryNotFound
	}
	return latest, nil
}

func (r *memProgressRepo) ChildrenWithRecentCompletions(_ context.Context, _ shared.Instant, _ int) ([]shared.ChildID, error) {
	ids := make([]shared.ChildID, 0, len(r.ledgers))
	for id := range r.ledgers {
		ids = append(ids, id)
	}
	return ids, nil
}

// stubPolicyReader returns fixed policy inputs.
type stubPolicyReader struct {
	entitled bool
	override bool
	err      error
}

func (s stubPolicyReader) PolicyFor(_ context.Context, _ shared.ChildID, _ shared.Instant) (bool, bool, error) {
	return s.entitled, s.override, s.err
}

var _ family.PolicyReader = stubPolicyReader{}

// capturePublisher records published events.
type capturePublisher struct {
	events []shared.Event
}

func (p *capturePublisher) Publish(event shared.Event) error {
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) types() []shared.EventType {
	out := make([]shared.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

func newCompleteHandler(t *testing.T, repo *memProgressRepo, pub *capturePublisher, now shared.Instant, policy progress.ReplayPolicy) *CompleteStoryHandler {
	t.Helper()
	return NewCompleteStoryHandler(
		stubProvider{tree: commandTree(t)},
		repo,
		stubPolicyReader{entitled: true},
		access.NewEvaluator(24*time.Hour),
		access.NewRewardGate(),
		pub,
		shared.FixedClock{Instant: now},
		policy,
	)
}

func TestCompleteStory_FirstCompletion(t *testing.T) {
	repo := newMemProgressRepo()
	pub := &capturePublisher{}
	h := newCompleteHandler(t, repo, pub, testBase, progress.FirstWriteWins)

	res, err := h.Handle(context.Background(), CompleteStoryCommand{ChildID: testChildID, StoryID: "a1"})
	require.NoError(t, err)

	assert.True(t, res.FirstCompletion)
	assert.False(t, res.WeekCompleted)
	assert.Equal(t, testBase, res.CompletedAt)
	assert.Equal(t, []shared.EventType{shared.EventStoryCompleted}, pub.types())
}

func TestCompleteStory_LastStoryClosesWeekAndUnlocksReward(t *testing.T) {
	repo := newMemProgressRepo()
	pub := &capturePublisher{}
	child := shared.ChildID(testChildID)

	// a1 and a3 were finished on earlier days, cooldowns long elapsed.
	repo.ledger(child).Record("a1", testBase.Add(-96*time.Hour), progress.FirstWriteWins)
	repo.ledger(child).Record("a3", testBase.Add(-48*time.Hour), progress.FirstWriteWins)

	h := newCompleteHandler(t, repo, pub, testBase, progress.FirstWriteWins)

	res, err := h.Handle(context.Background(), CompleteStoryCommand{ChildID: testChildID, StoryID: "a5"})
	require.NoError(t, err)

	assert.True(t, res.FirstCompletion)
	assert.True(t, res.WeekCompleted)
	assert.True(t, res.RewardUnlocked)
	assert.Equal(t,
		[]shared.EventType{shared.EventStoryCompleted, shared.EventWeekCompleted, shared.EventRewardUnlocked},
		pub.types())
}

func TestCompleteStory_ReplayFirstWriteWins(t *testing.T) {
	repo := newMemProgressRepo()
	pub := &capturePublisher{}
	child := shared.ChildID(testChildID)

	original := testBase.Add(-48 * time.Hour)
	repo.ledger(child).Record("a1", original, progress.FirstWriteWins)

	h := newCompleteHandler(t, repo, pub, testBase, progress.FirstWriteWins)

	res, err := h.Handle(context.Background(), CompleteStoryCommand{ChildID: testChildID, StoryID: "a1"})
	require.NoError(t, err)

	assert.False(t, res.FirstCompletion)
	assert.False(t, res.TimestampUpdated)
	assert.Equal(t, original, res.CompletedAt)
	assert.Equal(t, []shared.EventType{shared.EventCompletionReplay}, pub.types())
}

func TestCompleteStory_ReplayLastWriteWins(t *testing.T) {
	repo := newMemProgressRepo()
	pub := &capturePublisher{}
	child := shared.ChildID(testChildID)

	repo.ledger(child).Record("a1", testBase.Add(-48*time.Hour), progress.LastWriteWins)

	h := newCompleteHandler(t, repo, pub, testBase, progress.LastWriteWins)

	res, err := h.Handle(context.Background(), CompleteStoryCommand{ChildID: testChildID, StoryID: "a1"})
	require.NoError(t, err)

	assert.False(t, res.FirstCompletion)
	assert.True(t, res.TimestampUpdated)
	assert.Equal(t, testBase, res.CompletedAt)
}

func TestCompleteStory_RejectsGatedStory(t *testing.T) {
	repo := newMemProgressRepo()
	pub := &capturePublisher{}
	h := newCompleteHandler(t, repo, pub, testBase, progress.FirstWriteWins)

	// a3 is locked: its prerequisite a1 has no ledger entry.
	_, err := h.Handle(context.Background(), CompleteStoryCommand{ChildID: testChildID, StoryID: "a3"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrForbidden))
	assert.Empty(t, pub.events)
}

func TestCompleteStory_RejectsDuringCooldown(t *testing.T) {
	repo := newMemProgressRepo()
	pub := &capturePublisher{}
	child := shared.ChildID(testChildID)

	// a1 finished one hour ago: a3 is still waiting out the cooldown.
	repo.ledger(child).Record("a1", testBase.Add(-time.Hour), progress.FirstWriteWins)

	h := newCompleteHandler(t, repo, pub, testBase, progress.FirstWriteWins)

	_, err := h.Handle(context.Background(), CompleteStoryCommand{ChildID: testChildID, StoryID: "a3"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrForbidden))
}

func TestCompleteStory_UnknownStory(t *testing.T) {
	repo := newMemProgressRepo()
	pub := &capturePublisher{}
	h := newCompleteHandler(t, repo, pub, testBase, progress.FirstWriteWins)

	_, err := h.Handle(context.Background(), CompleteStoryCommand{ChildID: testChildID, StoryID: "no-such-story"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrUnknownNode))
}

func TestCompleteStory_LedgerUnavailableIsHardFailure(t *testing.T) {
	repo := newMemProgressRepo()
	repo.readErr = shared.ErrLedgerUnavailable
	pub := &capturePublisher{}
	h := newCompleteHandler(t, repo, pub, testBase, progress.FirstWriteWins)

	_, err := h.Handle(context.Background(), CompleteStoryCommand{ChildID: testChildID, StoryID: "a1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrLedgerUnavailable))
	assert.Empty(t, pub.events)
}
