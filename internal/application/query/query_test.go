package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fable-hub/fable-story-hub/internal/domain/access"
	"github.com/fable-hub/fable-story-hub/internal/domain/curriculum"
	"github.com/fable-hub/fable-story-hub/internal/domain/progress"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

const testChildID = "0b6f2c1e-7f42-4b3d-9a11-2f5e8c4d6a90"

var testBase = shared.NewInstant(time.Date(2026, 4, 6, 8, 0, 0, 0, time.UTC))

// queryTree builds one block, one month, two weeks of three stories each,
// with asset keys so the projection tests can check key gating.
func queryTree(t *testing.T) *curriculum.Tree {
	t.Helper()

	week := func(weekID string, order int, ids ...string) *curriculum.Week {
		w := &curriculum.Week{
			ID:             shared.NodeID(weekID),
			Title:          "Week " + weekID,
			Order:          order,
			RewardAssetKey: "rewards/" + weekID + ".mp4",
		}
		for i, id := range ids {
			w.Stories = append(w.Stories, &curriculum.Story{
				ID:            shared.NodeID(id),
				Title:         "Story " + id,
				DaySlot:       1 + 2*i,
				AudioAssetKey: "audio/" + id + ".mp3",
			})
		}
		return w
	}

	blocks := []*curriculum.Block{
		{
			ID: "block-1", Title: "Block One", Order: 1,
			Months: []*curriculum.Month{
				{
					ID: "month-1", Title: "Month One", Order: 1,
					Weeks: []*curriculum.Week{
						week("week-a", 1, "a1", "a3", "a5"),
						week("week-b", 2, "b1", "b3", "b5"),
					},
				},
			},
		},
	}

	tree, err := curriculum.NewTree(blocks, "v7", testBase.Time())
	require.NoError(t, err)
	return tree
}

type stubProvider struct {
	tree *curriculum.Tree
}

func (p stubProvider) Current() (*curriculum.Tree, error) {
	return p.tree, nil
}

// stubProgressRepo serves a fixed ledger.
type stubProgressRepo struct {
	ledger *progress.Ledger
	err    error
}

func (r stubProgressRepo) Snapshot(_ context.Context, childID shared.ChildID) (*progress.Ledger, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.ledger != nil {
		return r.ledger, nil
	}
	return progress.EmptyLedger(childID), nil
}

func (r stubProgressRepo) RecordCompletion(context.Context, shared.ChildID, shared.NodeID, shared.Instant, progress.ReplayPolicy) (progress.RecordOutcome, error) {
	return progress.RecordOutcome{}, shared.ErrPersistenceWrite
}

func (r stubProgressRepo) LatestCompletion(context.Context, shared.ChildID) (progress.Entry, error) {
	return progress.Entry{}, shared.ErrEntryNotFound
}

func (r stubProgressRepo) ChildrenWithRecentCompletions(context.Context, shared.Instant, int) ([]shared.ChildID, error) {
	return nil, nil
}

type stubPolicyReader struct {
	entitled bool
	override bool
	err      error
}

func (s stubPolicyReader) PolicyFor(context.Context, shared.ChildID, shared.Instant) (bool, bool, error) {
	return s.entitled, s.override, s.err
}

func ledgerWith(entries map[string]shared.Instant) *progress.Ledger {
	l := progress.EmptyLedger(shared.ChildID(testChildID))
	for id, at := range entries {
		l.Record(shared.NodeID(id), at, progress.FirstWriteWins)
	}
	return l
}

// ─────────────────────────────────────────────────────────────────────────────
// GetStoryAccess
// ─────────────────────────────────────────────────────────────────────────────

func TestGetStoryAccess_AvailableIncludesAssetKey(t *testing.T) {
	h := NewGetStoryAccessHandler(
		stubProvider{tree: queryTree(t)},
		stubProgressRepo{},
		stubPolicyReader{entitled: true},
		access.NewEvaluator(24*time.Hour),
		shared.FixedClock{Instant: testBase},
	)

	dto, err := h.Handle(context.Background(), GetStoryAccessQuery{ChildID: testChildID, StoryID: "a1"})
	require.NoError(t, err)

	assert.Equal(t, string(access.StateAvailable), dto.State)
	assert.True(t, dto.Viewable)
	assert.Equal(t, "audio/a1.mp3", dto.AudioAssetKey)
	assert.Nil(t, dto.Countdown)
}

func TestGetStoryAccess_CooldownHidesAssetKey(t *testing.T) {
	ledger := ledgerWith(map[string]shared.Instant{"a1": testBase.Add(-time.Hour)})
	h := NewGetStoryAccessHandler(
		stubProvider{tree: queryTree(t)},
		stubProgressRepo{ledger: ledger},
		stubPolicyReader{entitled: true},
		access.NewEvaluator(24*time.Hour),
		shared.FixedClock{Instant: testBase},
	)

	dto, err := h.Handle(context.Background(), GetStoryAccessQuery{ChildID: testChildID, StoryID: "a3"})
	require.NoError(t, err)

	assert.Equal(t, string(access.StateWaitingCooldown), dto.State)
	assert.False(t, dto.Viewable)
	assert.Empty(t, dto.AudioAssetKey)
	require.NotNil(t, dto.Countdown)
	assert.Equal(t, 23, dto.Countdown.HoursLeft)
	assert.Equal(t, 0, dto.Countdown.MinutesLeft)
	assert.Equal(t, "a1", dto.PrerequisiteID)
}

func TestGetStoryAccess_UnknownStory(t *testing.T) {
	h := NewGetStoryAccessHandler(
		stubProvider{tree: queryTree(t)},
		stubProgressRepo{},
		stubPolicyReader{entitled: true},
		access.NewEvaluator(24*time.Hour),
		shared.FixedClock{Instant: testBase},
	)

	_, err := h.Handle(context.Background(), GetStoryAccessQuery{ChildID: testChildID, StoryID: "ghost"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrUnknownNode))
}

func TestGetStoryAccess_LedgerUnavailable(t *testing.T) {
	h := NewGetStoryAccessHandler(
		stubProvider{tree: queryTree(t)},
		stubProgressRepo{err: shared.ErrLedgerUnavailable},
		stubPolicyReader{entitled: true},
		access.NewEvaluator(24*time.Hour),
		shared.FixedClock{Instant: testBase},
	)

	_, err := h.Handle(context.Background(), GetStoryAccessQuery{ChildID: testChildID, StoryID: "a1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrLedgerUnavailable))
}

// ─────────────────────────────────────────────────────────────────────────────
// GetWeekMap
// ─────────────────────────────────────────────────────────────────────────────

func newWeekMapHandler(t *testing.T, ledger *progress.Ledger, entitled, override bool) *GetWeekMapHandler {
	t.Helper()
	return NewGetWeekMapHandler(
		stubProvider{tree: queryTree(t)},
		stubProgressRepo{ledger: ledger},
		stubPolicyReader{entitled: entitled, override: override},
		access.NewEvaluator(24*time.Hour),
		access.NewRewardGate(),
		shared.FixedClock{Instant: testBase},
	)
}

func TestGetWeekMap_PartialWeek(t *testing.T) {
	ledger := ledgerWith(map[string]shared.Instant{
		"a1": testBase.Add(-48 * time.Hour),
		"a3": testBase.Add(-30 * time.Minute),
	})
	h := newWeekMapHandler(t, ledger, true, false)

	dto, err := h.Handle(context.Background(), GetWeekMapQuery{ChildID: testChildID, WeekID: "week-a"})
	require.NoError(t, err)

	require.Len(t, dto.Stories, 3)
	assert.Equal(t, string(access.StateCompleted), dto.Stories[0].State)
	assert.Equal(t, string(access.StateCompleted), dto.Stories[1].State)
	assert.Equal(t, string(access.StateWaitingCooldown), dto.Stories[2].State)
	require.NotNil(t, dto.Stories[2].Countdown)
	assert.Equal(t, 23, dto.Stories[2].Countdown.HoursLeft)
	assert.Equal(t, 30, dto.Stories[2].Countdown.MinutesLeft)

	assert.False(t, dto.Reward.Unlocked)
	assert.Equal(t, 67, dto.Reward.PercentComplete)
	assert.Empty(t, dto.Reward.RewardAssetKey)

	assert.Equal(t, 2, dto.Progress.Completed)
	assert.Equal(t, 3, dto.Progress.Total)
}

func TestGetWeekMap_CompletedWeekUnlocksReward(t *testing.T) {
	ledger := ledgerWith(map[string]shared.Instant{
		"a1": testBase.Add(-96 * time.Hour),
		"a3": testBase.Add(-72 * time.Hour),
		"a5": testBase.Add(-48 * time.Hour),
	})
	h := newWeekMapHandler(t, ledger, true, false)

	dto, err := h.Handle(context.Background(), GetWeekMapQuery{ChildID: testChildID, WeekID: "week-a"})
	require.NoError(t, err)

	assert.True(t, dto.Reward.Unlocked)
	assert.Equal(t, 100, dto.Reward.PercentComplete)
	assert.Equal(t, "rewards/week-a.mp4", dto.Reward.RewardAssetKey)
}

func TestGetWeekMap_LapsedAccountKeepsCompletedViewable(t *testing.T) {
	ledger := ledgerWith(map[string]shared.Instant{
		"a1": testBase.Add(-96 * time.Hour),
	})
	h := newWeekMapHandler(t, ledger, false, false)

	dto, err := h.Handle(context.Background(), GetWeekMapQuery{ChildID: testChildID, WeekID: "week-a"})
	require.NoError(t, err)

	assert.Equal(t, string(access.StateCompleted), dto.Stories[0].State)
	assert.True(t, dto.Stories[0].Viewable)
	assert.Equal(t, string(access.StateLockedByEntitlement), dto.Stories[1].State)
	assert.Equal(t, string(access.StateLockedByEntitlement), dto.Stories[2].State)
}

func TestGetWeekMap_OverrideOpensEverythingUncompleted(t *testing.T) {
	h := newWeekMapHandler(t, nil, false, true)

	dto, err := h.Handle(context.Background(), GetWeekMapQuery{ChildID: testChildID, WeekID: "week-b"})
	require.NoError(t, err)

	for _, card := range dto.Stories {
		assert.Equal(t, string(access.StateAvailable), card.State)
	}
	assert.True(t, dto.Reward.Unlocked)
	assert.Equal(t, 0, dto.Reward.PercentComplete)
}

func TestGetWeekMap_UnknownWeek(t *testing.T) {
	h := newWeekMapHandler(t, nil, true, false)

	_, err := h.Handle(context.Background(), GetWeekMapQuery{ChildID: testChildID, WeekID: "week-z"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrUnknownNode))
}

// ─────────────────────────────────────────────────────────────────────────────
// GetProgressSummary
// ─────────────────────────────────────────────────────────────────────────────

func TestGetProgressSummary(t *testing.T) {
	ledger := ledgerWith(map[string]shared.Instant{
		"a1": testBase.Add(-96 * time.Hour),
		"a3": testBase.Add(-72 * time.Hour),
		"a5": testBase.Add(-48 * time.Hour),
	})
	h := NewGetProgressSummaryHandler(
		stubProvider{tree: queryTree(t)},
		stubProgressRepo{ledger: ledger},
		shared.FixedClock{Instant: testBase},
	)

	dto, err := h.Handle(context.Background(), GetProgressSummaryQuery{ChildID: testChildID})
	require.NoError(t, err)

	assert.Equal(t, "v7", dto.CurriculumVersion)
	assert.Equal(t, 3, dto.StoriesCompleted)
	assert.Equal(t, 3, dto.Overall.Completed)
	assert.Equal(t, 6, dto.Overall.Total)
	assert.Equal(t, 50, dto.Overall.Percent.Int())

	require.Len(t, dto.Blocks, 1)
	require.Len(t, dto.Blocks[0].Months, 1)
	require.Len(t, dto.Blocks[0].Months[0].Weeks, 2)
	assert.Equal(t, 100, dto.Blocks[0].Months[0].Weeks[0].Progress.Percent.Int())
	assert.Equal(t, 0, dto.Blocks[0].Months[0].Weeks[1].Progress.Percent.Int())
}
