package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fable-hub/fable-story-hub/internal/domain/progress"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

func TestRewardGate_UnlockedOnlyWhenAllCompleted(t *testing.T) {
	tree := testTree(t)
	gate := NewRewardGate()
	pctx := entitledAt(baseInstant)

	d, err := gate.Decide(tree, progress.EmptyLedger("child-1"), pctx, "week-a")
	require.NoError(t, err)
	assert.False(t, d.Unlocked)
	assert.Equal(t, shared.Percent(0), d.PercentComplete)

	d, err = gate.Decide(tree, ledgerWith(map[string]shared.Instant{"a1": baseInstant}), pctx, "week-a")
	require.NoError(t, err)
	assert.False(t, d.Unlocked)
	assert.Equal(t, shared.Percent(33), d.PercentComplete)

	d, err = gate.Decide(tree, ledgerWith(map[string]shared.Instant{"a1": baseInstant, "a3": baseInstant}), pctx, "week-a")
	require.NoError(t, err)
	assert.False(t, d.Unlocked)
	assert.Equal(t, shared.Percent(67), d.PercentComplete)

	d, err = gate.Decide(tree, ledgerWith(map[string]shared.Instant{
		"a1": baseInstant, "a3": baseInstant, "a5": baseInstant,
	}), pctx, "week-a")
	require.NoError(t, err)
	assert.True(t, d.Unlocked)
	assert.Equal(t, shared.Percent(100), d.PercentComplete)
}

func TestRewardGate_CompletionsInOtherWeeksDoNotCount(t *testing.T) {
	tree := testTree(t)
	gate := NewRewardGate()

	ledger := ledgerWith(map[string]shared.Instant{"b1": baseInstant, "b3": baseInstant, "b5": baseInstant})
	d, err := gate.Decide(tree, ledger, entitledAt(baseInstant), "week-a")
	require.NoError(t, err)
	assert.False(t, d.Unlocked)
	assert.Equal(t, shared.Percent(0), d.PercentComplete)
}

func TestRewardGate_OverrideUnlocks(t *testing.T) {
	tree := testTree(t)
	gate := NewRewardGate()

	pctx := PolicyContext{Override: true, Now: baseInstant}
	d, err := gate.Decide(tree, progress.EmptyLedger("child-1"), pctx, "week-a")
	require.NoError(t, err)
	assert.True(t, d.Unlocked)
	assert.Equal(t, shared.Percent(0), d.PercentComplete)
}

func TestRewardGate_ZeroStoryWeekStaysLocked(t *testing.T) {
	tree := testTree(t)
	gate := NewRewardGate()

	// An empty week is never "all done": locked at 0%, not vacuously
	// unlocked.
	d, err := gate.Decide(tree, progress.EmptyLedger("child-1"), entitledAt(baseInstant), "week-e")
	require.NoError(t, err)
	assert.False(t, d.Unlocked)
	assert.Equal(t, shared.Percent(0), d.PercentComplete)

	// Override still opens it.
	d, err = gate.Decide(tree, progress.EmptyLedger("child-1"), PolicyContext{Override: true, Now: baseInstant}, "week-e")
	require.NoError(t, err)
	assert.True(t, d.Unlocked)
}

func TestRewardGate_UnknownWeek(t *testing.T) {
	tree := testTree(t)
	gate := NewRewardGate()

	_, err := gate.Decide(tree, progress.EmptyLedger("child-1"), entitledAt(baseInstant), "missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestProgressAggregation(t *testing.T) {
	tree := testTree(t)
	ledger := ledgerWith(map[string]shared.Instant{"a1": baseInstant, "a3": baseInstant, "b1": baseInstant})

	week, err := WeekProgress(tree, ledger, "week-a")
	require.NoError(t, err)
	assert.Equal(t, ProgressRatio{Completed: 2, Total: 3, Percent: 67}, week)

	month, err := MonthProgress(tree, ledger, "month-1")
	require.NoError(t, err)
	assert.Equal(t, ProgressRatio{Completed: 3, Total: 6, Percent: 50}, month)

	block, err := BlockProgress(tree, ledger, "block-1")
	require.NoError(t, err)
	assert.Equal(t, 3, block.Completed)
	assert.Equal(t, 9, block.Total)
	assert.Equal(t, shared.Percent(33), block.Percent)

	overall := OverallProgress(tree, ledger)
	assert.Equal(t, block, overall)

	_, err = WeekProgress(tree, ledger, "missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
