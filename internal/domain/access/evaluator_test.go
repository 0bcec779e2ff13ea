package access

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fable-hub/fable-story-hub/internal/domain/curriculum"
	"github.com/fable-hub/fable-story-hub/internal/domain/progress"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// Fixture: two months, three weeks, day slots 1/3/5 everywhere except
// week-e (empty) used by the reward gate tests.
//
//	block-1 / month-1 / week-a: a1 a3 a5
//	block-1 / month-1 / week-b: b1 b3 b5
//	block-1 / month-2 / week-c: c1 c3 c5
//	block-1 / month-2 / week-e: (no stories)
func testTree(t *testing.T) *curriculum.Tree {
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
					ID: "month-1", Title: "Month 1", Order: 1,
					Weeks: []*curriculum.Week{
						week("week-a", 1, "a1", "a3", "a5"),
						week("week-b", 2, "b1", "b3", "b5"),
					},
				},
				{
					ID: "month-2", Title: "Month 2", Order: 2,
					Weeks: []*curriculum.Week{
						week("week-c", 1, "c1", "c3", "c5"),
						week("week-e", 2),
					},
				},
			},
		},
	}

	tree, err := curriculum.NewTree(blocks, "v1", time.Now())
	require.NoError(t, err)
	return tree
}

var baseInstant = shared.NewInstant(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))

func entitledAt(now shared.Instant) PolicyContext {
	return PolicyContext{Entitled: true, Now: now}
}

func ledgerWith(completions map[string]shared.Instant) *progress.Ledger {
	entries := make([]progress.Entry, 0, len(completions))
	for id, at := range completions {
		entries = append(entries, progress.Entry{
			ChildID:     "child-1",
			StoryID:     shared.NodeID(id),
			CompletedAt: at,
		})
	}
	return progress.NewLedger("child-1", entries)
}

func TestDecide_UnknownStory(t *testing.T) {
	tree := testTree(t)
	ev := NewEvaluator(DefaultCooldown)

	_, err := ev.Decide(tree, progress.EmptyLedger("child-1"), entitledAt(baseInstant), "nope")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDecide_RootAlwaysAvailable(t *testing.T) {
	tree := testTree(t)
	ev := NewEvaluator(DefaultCooldown)

	// The globally first story is available for any ledger state and any
	// instant, as long as entitlement holds and no override is set.
	ledgers := []*progress.Ledger{
		progress.EmptyLedger("child-1"),
		ledgerWith(map[string]shared.Instant{"b1": baseInstant, "c5": baseInstant}),
	}
	for _, ledger := range ledgers {
		for _, now := range []shared.Instant{baseInstant, baseInstant.Add(1000 * time.Hour)} {
			d, err := ev.Decide(tree, ledger, entitledAt(now), "a1")
			require.NoError(t, err)
			assert.Equal(t, StateAvailable, d.State)
		}
	}
}

func TestDecide_CompletedBeatsEverything(t *testing.T) {
	tree := testTree(t)
	ev := NewEvaluator(DefaultCooldown)
	ledger := ledgerWith(map[string]shared.Instant{"a3": baseInstant})

	// Completed stays completed under entitlement loss, override, and any
	// later instant.
	contexts := []PolicyContext{
		{Entitled: true, Now: baseInstant},
		{Entitled: false, Now: baseInstant},
		{Entitled: false, Override: true, Now: baseInstant.Add(90 * 24 * time.Hour)},
	}
	for _, pctx := range contexts {
		d, err := ev.Decide(tree, ledger, pctx, "a3")
		require.NoError(t, err)
		assert.Equal(t, StateCompleted, d.State)
		assert.True(t, d.Viewable())
	}
}

func TestDecide_EntitlementGatesBeforeStructure(t *testing.T) {
	tree := testTree(t)
	ev := NewEvaluator(DefaultCooldown)

	// Even the structurally open root story is paywalled without
	// entitlement.
	d, err := ev.Decide(tree, progress.EmptyLedger("child-1"), PolicyContext{Now: baseInstant}, "a1")
	require.NoError(t, err)
	assert.Equal(t, StateLockedByEntitlement, d.State)
	assert.False(t, d.Viewable())

	// And so is a story whose prerequisite is long done.
	ledger := ledgerWith(map[string]shared.Instant{"a1": baseInstant.Add(-48 * time.Hour)})
	d, err = ev.Decide(tree, ledger, PolicyContext{Now: baseInstant}, "a3")
	require.NoError(t, err)
	assert.Equal(t, StateLockedByEntitlement, d.State)
}

func TestDecide_OverrideSupremacy(t *testing.T) {
	tree := testTree(t)
	ev := NewEvaluator(DefaultCooldown)

	// Override opens any not-yet-completed story: prerequisite missing,
	// cooldown running, entitlement absent.
	ledger := ledgerWith(map[string]shared.Instant{"a1": baseInstant})
	pctx := PolicyContext{Entitled: false, Override: true, Now: baseInstant.Add(time.Hour)}

	for _, id := range []string{"a3", "a5", "b1", "c5"} {
		d, err := ev.Decide(tree, ledger, pctx, shared.NodeID(id))
		require.NoError(t, err)
		assert.Equal(t, StateAvailable, d.State, "story %s", id)
	}
}

func TestDecide_PrerequisiteGating(t *testing.T) {
	tree := testTree(t)
	ev := NewEvaluator(DefaultCooldown)

	// a3 needs a1; an unrelated completion long ago changes nothing.
	ledger := ledgerWith(map[string]shared.Instant{"c1": baseInstant.Add(-100 * time.Hour)})
	d, err := ev.Decide(tree, ledger, entitledAt(baseInstant), "a3")
	require.NoError(t, err)
	assert.Equal(t, StateLockedByPrerequisite, d.State)
	assert.Equal(t, shared.NodeID("a1"), d.PrerequisiteID)
	assert.Nil(t, d.Countdown)
}

func TestDecide_CooldownBoundary(t *testing.T) {
	tree := testTree(t)
	ev := NewEvaluator(DefaultCooldown)
	t0 := baseInstant
	ledger := ledgerWith(map[string]shared.Instant{"a1": t0})

	cases := []struct {
		name      string
		now       shared.Instant
		state     State
		countdown *Countdown
	}{
		{"at completion instant", t0, StateWaitingCooldown, &Countdown{HoursLeft: 24, MinutesLeft: 0}},
		{"one second in", t0.Add(time.Second), StateWaitingCooldown, &Countdown{HoursLeft: 23, MinutesLeft: 59}},
		{"half hour in", t0.Add(30 * time.Minute), StateWaitingCooldown, &Countdown{HoursLeft: 23, MinutesLeft: 30}},
		{"ninety seconds short", t0.Add(24*time.Hour - 90*time.Second), StateWaitingCooldown, &Countdown{HoursLeft: 0, MinutesLeft: 1}},
		{"one second short", t0.Add(24*time.Hour - time.Second), StateWaitingCooldown, &Countdown{HoursLeft: 0, MinutesLeft: 0}},
		{"exactly 24h", t0.Add(24 * time.Hour), StateAvailable, nil},
		{"well past", t0.Add(48 * time.Hour), StateAvailable, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := ev.Decide(tree, ledger, entitledAt(tc.now), "a3")
			require.NoError(t, err)
			assert.Equal(t, tc.state, d.State)
			if tc.countdown == nil {
				assert.Nil(t, d.Countdown)
			} else {
				require.NotNil(t, d.Countdown)
				assert.Equal(t, *tc.countdown, *d.Countdown)

				// The display never overstates the true remaining wait.
				displayed := time.Duration(d.Countdown.HoursLeft)*time.Hour +
					time.Duration(d.Countdown.MinutesLeft)*time.Minute
				remaining := 24*time.Hour - tc.now.Sub(t0)
				assert.LessOrEqual(t, displayed, remaining)
				assert.GreaterOrEqual(t, d.Countdown.HoursLeft, 0)
				assert.GreaterOrEqual(t, d.Countdown.MinutesLeft, 0)
			}
		})
	}
}

func TestDecide_CooldownClampsSkewedCompletion(t *testing.T) {
	tree := testTree(t)
	ev := NewEvaluator(DefaultCooldown)

	// A completion instant ahead of now (writer clock skew) must not show
	// more than a full cooldown.
	ledger := ledgerWith(map[string]shared.Instant{"a1": baseInstant.Add(2 * time.Hour)})
	d, err := ev.Decide(tree, ledger, entitledAt(baseInstant), "a3")
	require.NoError(t, err)
	require.Equal(t, StateWaitingCooldown, d.State)
	assert.Equal(t, Countdown{HoursLeft: 24, MinutesLeft: 0}, *d.Countdown)
}

func TestDecide_WeekRolloverScenario(t *testing.T) {
	tree := testTree(t)
	ev := NewEvaluator(DefaultCooldown)
	t0 := baseInstant

	// Only week-a's closing story gates b1; a1/a3 entries are irrelevant
	// to b1 individually.
	ledger := ledgerWith(map[string]shared.Instant{"a5": t0})

	d, err := ev.Decide(tree, ledger, entitledAt(t0.Add(time.Hour)), "b1")
	require.NoError(t, err)
	assert.Equal(t, StateWaitingCooldown, d.State)
	assert.Equal(t, shared.NodeID("a5"), d.PrerequisiteID)

	d, err = ev.Decide(tree, ledger, entitledAt(t0.Add(24*time.Hour)), "b1")
	require.NoError(t, err)
	assert.Equal(t, StateAvailable, d.State)

	// Without a5, b1 stays locked no matter how old a1 and a3 are.
	ledger = ledgerWith(map[string]shared.Instant{
		"a1": t0.Add(-30 * 24 * time.Hour),
		"a3": t0.Add(-29 * 24 * time.Hour),
	})
	d, err = ev.Decide(tree, ledger, entitledAt(t0), "b1")
	require.NoError(t, err)
	assert.Equal(t, StateLockedByPrerequisite, d.State)
	assert.Equal(t, shared.NodeID("a5"), d.PrerequisiteID)
}

func TestDecide_MidWeekScenario(t *testing.T) {
	tree := testTree(t)
	ev := NewEvaluator(DefaultCooldown)

	// a3's prerequisite is specifically a1 of the same week; completing
	// stories in other weeks does not satisfy it.
	ledger := ledgerWith(map[string]shared.Instant{
		"b1": baseInstant.Add(-72 * time.Hour),
		"c1": baseInstant.Add(-72 * time.Hour),
	})
	d, err := ev.Decide(tree, ledger, entitledAt(baseInstant), "a3")
	require.NoError(t, err)
	assert.Equal(t, StateLockedByPrerequisite, d.State)
	assert.Equal(t, shared.NodeID("a1"), d.PrerequisiteID)
}

func TestDecideWeek_ConsistentView(t *testing.T) {
	tree := testTree(t)
	ev := NewEvaluator(DefaultCooldown)
	t0 := baseInstant
	ledger := ledgerWith(map[string]shared.Instant{"a1": t0.Add(-25 * time.Hour), "a3": t0.Add(-time.Hour)})

	decisions, err := ev.DecideWeek(tree, ledger, entitledAt(t0), "week-a")
	require.NoError(t, err)
	require.Len(t, decisions, 3)

	assert.Equal(t, StateCompleted, decisions[0].State)
	assert.Equal(t, StateCompleted, decisions[1].State)
	assert.Equal(t, StateWaitingCooldown, decisions[2].State)
	assert.Equal(t, shared.NodeID("a3"), decisions[2].PrerequisiteID)

	_, err = ev.DecideWeek(tree, ledger, entitledAt(t0), "no-week")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestNewCountdown_Flooring(t *testing.T) {
	c := NewCountdown(90 * time.Minute)
	assert.Equal(t, Countdown{HoursLeft: 1, MinutesLeft: 30}, c)

	c = NewCountdown(59*time.Second + 900*time.Millisecond)
	assert.Equal(t, Countdown{HoursLeft: 0, MinutesLeft: 0}, c)

	c = NewCountdown(-time.Minute)
	assert.Equal(t, Countdown{HoursLeft: 0, MinutesLeft: 0}, c)

	assert.Equal(t, "1h 30m", NewCountdown(90*time.Minute).String())
}
