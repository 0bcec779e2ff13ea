package curriculum

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// buildTestTree constructs a small two-block curriculum:
//
//	block-1 / month-1 / week-1: stories day 1, 3, 5
//	block-1 / month-1 / week-2: stories day 1, 3, 5
//	block-1 / month-2 / week-3: stories day 1, 5 (no mid slot)
//	block-2 / month-3 / week-4: stories day 1, 3, 5
func buildTestTree(t *testing.T) *Tree {
	t.Helper()

	week := func(id string, order int, slots ...int) *Week {
		w := &Week{ID: shared.NodeID(id), Title: id, Order: order}
		for _, slot := range slots {
			w.Stories = append(w.Stories, &Story{
				ID:      shared.NodeID(id + "-story-" + string(rune('0'+slot))),
				Title:   id,
				DaySlot: slot,
			})
		}
		return w
	}

	blocks := []*Block{
		{
			ID: "block-1", Title: "First Block", Order: 1,
			Months: []*Month{
				{
					ID: "month-1", Title: "Month One", Order: 1,
					Weeks: []*Week{
						week("week-1", 1, 1, 3, 5),
						week("week-2", 2, 1, 3, 5),
					},
				},
				{
					ID: "month-2", Title: "Month Two", Order: 2,
					Weeks: []*Week{
						week("week-3", 1, 1, 5),
					},
				},
			},
		},
		{
			ID: "block-2", Title: "Second Block", Order: 2,
			Months: []*Month{
				{
					ID: "month-3", Title: "Month Three", Order: 1,
					Weeks: []*Week{
						week("week-4", 1, 1, 3, 5),
					},
				},
			},
		},
	}

	tree, err := NewTree(blocks, "v-test", time.Now())
	require.NoError(t, err)
	return tree
}

func storyOf(t *testing.T, tree *Tree, id string) *Story {
	t.Helper()
	s, err := tree.Story(shared.NodeID(id))
	require.NoError(t, err)
	return s
}

func TestNewTree_Validation(t *testing.T) {
	_, err := NewTree(nil, "v1", time.Now())
	assert.ErrorIs(t, err, shared.ErrCurriculumEmpty)

	_, err = NewTree([]*Block{
		{ID: "b", Order: 1, Months: []*Month{
			{ID: "m", Order: 1, Weeks: []*Week{
				{ID: "w", Order: 1, Stories: []*Story{
					{ID: "s", DaySlot: 2},
				}},
			}},
		}},
	}, "v1", time.Now())
	assert.ErrorIs(t, err, shared.ErrInvalidDaySlot)

	_, err = NewTree([]*Block{
		{ID: "b", Order: 1, Months: []*Month{
			{ID: "m", Order: 1, Weeks: []*Week{
				{ID: "w", Order: 1, Stories: []*Story{
					{ID: "dup", DaySlot: 1},
					{ID: "dup", DaySlot: 3},
				}},
			}},
		}},
	}, "v1", time.Now())
	assert.ErrorIs(t, err, shared.ErrDuplicateNodeID)

	_, err = NewTree([]*Block{{ID: "b", Order: 0}}, "v1", time.Now())
	assert.ErrorIs(t, err, shared.ErrInvalidOrderIdx)
}

func TestTree_Lookups(t *testing.T) {
	tree := buildTestTree(t)

	s, err := tree.Story("week-1-story-3")
	require.NoError(t, err)
	assert.Equal(t, 3, s.DaySlot)
	assert.Equal(t, shared.NodeID("week-1"), s.WeekID)

	_, err = tree.Story("no-such-story")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	stories, err := tree.StoriesOfWeek("week-3")
	require.NoError(t, err)
	require.Len(t, stories, 2)
	assert.Equal(t, 1, stories[0].DaySlot)
	assert.Equal(t, 5, stories[1].DaySlot)

	_, err = tree.StoriesOfWeek("no-such-week")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	info := tree.Info()
	assert.Equal(t, "v-test", info.Version)
	assert.Equal(t, 2, info.Blocks)
	assert.Equal(t, 4, info.Weeks)
	assert.Equal(t, 11, info.Stories)
}

func TestTree_LinearPosition(t *testing.T) {
	tree := buildTestTree(t)

	pos, err := tree.LinearPosition(storyOf(t, tree, "week-1-story-1"))
	require.NoError(t, err)
	assert.Equal(t, LinearPosition{Block: 1, Month: 1, Week: 1, Day: 1}, pos)
	assert.True(t, pos.IsOrigin())

	pos, err = tree.LinearPosition(storyOf(t, tree, "week-4-story-3"))
	require.NoError(t, err)
	assert.Equal(t, LinearPosition{Block: 2, Month: 1, Week: 1, Day: 3}, pos)
	assert.False(t, pos.IsOrigin())

	first, _ := tree.LinearPosition(storyOf(t, tree, "week-2-story-5"))
	second, _ := tree.LinearPosition(storyOf(t, tree, "week-3-story-1"))
	assert.True(t, first.Before(second))
	assert.False(t, second.Before(first))
}

func TestTree_PreviousStory_OriginIsRoot(t *testing.T) {
	tree := buildTestTree(t)

	prev, err := tree.PreviousStory(storyOf(t, tree, "week-1-story-1"))
	require.NoError(t, err)
	assert.Nil(t, prev)
}

func TestTree_PreviousStory_MidWeekStepsByTwo(t *testing.T) {
	tree := buildTestTree(t)

	// Day 3 depends on day 1 of the same week, day 5 on day 3.
	prev, err := tree.PreviousStory(storyOf(t, tree, "week-1-story-3"))
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, shared.NodeID("week-1-story-1"), prev.ID)

	prev, err = tree.PreviousStory(storyOf(t, tree, "week-1-story-5"))
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, shared.NodeID("week-1-story-3"), prev.ID)
}

func TestTree_PreviousStory_WeekRollover(t *testing.T) {
	tree := buildTestTree(t)

	// The first slot of week 2 depends on the closing story of week 1,
	// not on any particular earlier slot.
	prev, err := tree.PreviousStory(storyOf(t, tree, "week-2-story-1"))
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, shared.NodeID("week-1-story-5"), prev.ID)
}

func TestTree_PreviousStory_CrossesMonthAndBlock(t *testing.T) {
	tree := buildTestTree(t)

	// week-3 opens month 2: its first story depends on week-2's close.
	prev, err := tree.PreviousStory(storyOf(t, tree, "week-3-story-1"))
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, shared.NodeID("week-2-story-5"), prev.ID)

	// week-4 opens block 2: its first story depends on week-3's close.
	prev, err = tree.PreviousStory(storyOf(t, tree, "week-4-story-1"))
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, shared.NodeID("week-3-story-5"), prev.ID)
}

func TestTree_PreviousStory_SparseSlotUnresolvable(t *testing.T) {
	tree := buildTestTree(t)

	// week-3 has no day-3 story, so its day-5 story has no resolvable
	// prerequisite and is treated as a root.
	prev, err := tree.PreviousStory(storyOf(t, tree, "week-3-story-5"))
	require.NoError(t, err)
	assert.Nil(t, prev)
}

func TestTree_PreviousStoryByID(t *testing.T) {
	tree := buildTestTree(t)

	prev, err := tree.PreviousStoryByID("week-2-story-3")
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, shared.NodeID("week-2-story-1"), prev.ID)

	_, err = tree.PreviousStoryByID("missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
