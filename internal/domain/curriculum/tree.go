package curriculum

import (
	"sort"
	"time"

	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CURRICULUM TREE
// ══════════════════════════════════════════════════════════════════════════════

// Tree is an immutable, indexed view over the published curriculum. It is
// built once by NewTree and safe for concurrent reads; refreshing the
// curriculum means building a new Tree and swapping the pointer.
type Tree struct {
	blocks      []*Block
	version     string
	publishedAt time.Time

	// Lookup indexes, built at construction time.
	stories map[shared.NodeID]*Story
	weeks   map[shared.NodeID]*Week
	months  map[shared.NodeID]*Month
	blockIx map[shared.NodeID]*Block

	// flatWeeks is every week of the curriculum in linear order
	// (block order, month order, week order). weekPos maps a week id to its
	// index in flatWeeks. The previous-story rule for a week's first slot
	// walks this sequence, which is what lets a prerequisite cross month and
	// block boundaries.
	flatWeeks []*Week
	weekPos   map[shared.NodeID]int
}

// NewTree validates the block list and builds the indexed tree.
// Children are sorted into canonical order; ids must be unique across all
// levels and day slots must come from {1, 3, 5}.
func NewTree(blocks []*Block, version string, publishedAt time.Time) (*Tree, error) {
	if len(blocks) == 0 {
		return nil, shared.ErrCurriculumEmpty
	}

	t := &Tree{
		blocks:      blocks,
		version:     version,
		publishedAt: publishedAt.UTC(),
		stories:     make(map[shared.NodeID]*Story),
		weeks:       make(map[shared.NodeID]*Week),
		months:      make(map[shared.NodeID]*Month),
		blockIx:     make(map[shared.NodeID]*Block),
		weekPos:     make(map[shared.NodeID]int),
	}

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Order < blocks[j].Order })

	for _, b := range blocks {
		if b.Order <= 0 {
			return nil, shared.ErrInvalidOrderIdx
		}
		if _, dup := t.blockIx[b.ID]; dup {
			return nil, shared.ErrDuplicateNodeID
		}
		t.blockIx[b.ID] = b

		sort.Slice(b.Months, func(i, j int) bool { return b.Months[i].Order < b.Months[j].Order })
		for _, m := range b.Months {
			if m.Order <= 0 {
				return nil, shared.ErrInvalidOrderIdx
			}
			if _, dup := t.months[m.ID]; dup {
				return nil, shared.ErrDuplicateNodeID
			}
			m.BlockID = b.ID
			t.months[m.ID] = m

			sort.Slice(m.Weeks, func(i, j int) bool { return m.Weeks[i].Order < m.Weeks[j].Order })
			for _, w := range m.Weeks {
				if w.Order <= 0 {
					return nil, shared.ErrInvalidOrderIdx
				}
				if _, dup := t.weeks[w.ID]; dup {
					return nil, shared.ErrDuplicateNodeID
				}
				w.MonthID = m.ID
				t.weeks[w.ID] = w
				t.weekPos[w.ID] = len(t.flatWeeks)
				t.flatWeeks = append(t.flatWeeks, w)

				sort.Slice(w.Stories, func(i, j int) bool { return w.Stories[i].DaySlot < w.Stories[j].DaySlot })
				for _, s := range w.Stories {
					if !ValidDaySlot(s.DaySlot) {
						return nil, shared.ErrInvalidDaySlot
					}
					if _, dup := t.stories[s.ID]; dup {
						return nil, shared.ErrDuplicateNodeID
					}
					s.WeekID = w.ID
					t.stories[s.ID] = s
				}
			}
		}
	}

	return t, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Lookups
// ─────────────────────────────────────────────────────────────────────────────

// Story returns the story with the given id, or ErrUnknownNode.
func (t *Tree) Story(id shared.NodeID) (*Story, error) {
	s, ok := t.stories[id]
	if !ok {
		return nil, shared.ErrUnknownNode
	}
	return s, nil
}

// Week returns the week with the given id, or ErrUnknownNode.
func (t *Tree) Week(id shared.NodeID) (*Week, error) {
	w, ok := t.weeks[id]
	if !ok {
		return nil, shared.ErrUnknownNode
	}
	return w, nil
}

// Month returns the month with the given id, or ErrUnknownNode.
func (t *Tree) Month(id shared.NodeID) (*Month, error) {
	m, ok := t.months[id]
	if !ok {
		return nil, shared.ErrUnknownNode
	}
	return m, nil
}

// Block returns the block with the given id, or ErrUnknownNode.
func (t *Tree) Block(id shared.NodeID) (*Block, error) {
	b, ok := t.blockIx[id]
	if !ok {
		return nil, shared.ErrUnknownNode
	}
	return b, nil
}

// StoriesOfWeek returns the stories of the given week ordered by day slot.
func (t *Tree) StoriesOfWeek(weekID shared.NodeID) ([]*Story, error) {
	w, err := t.Week(weekID)
	if err != nil {
		return nil, err
	}
	return w.Stories, nil
}

// Blocks returns all blocks in curriculum order.
func (t *Tree) Blocks() []*Block {
	return t.blocks
}

// WeeksInOrder returns every week of the curriculum in linear order.
func (t *Tree) WeeksInOrder() []*Week {
	return t.flatWeeks
}

// Info returns snapshot metadata for logging and health reporting.
func (t *Tree) Info() SnapshotInfo {
	return SnapshotInfo{
		Version:     t.version,
		PublishedAt: t.publishedAt,
		Blocks:      len(t.blocks),
		Weeks:       len(t.flatWeeks),
		Stories:     len(t.stories),
	}
}

// Version returns the snapshot's version tag.
func (t *Tree) Version() string {
	return t.version
}

// ─────────────────────────────────────────────────────────────────────────────
// Structural queries
// ─────────────────────────────────────────────────────────────────────────────

// LinearPosition returns the total ordering key of the story.
func (t *Tree) LinearPosition(s *Story) (LinearPosition, error) {
	w, ok := t.weeks[s.WeekID]
	if !ok {
		return LinearPosition{}, shared.ErrUnknownNode
	}
	m, ok := t.months[w.MonthID]
	if !ok {
		return LinearPosition{}, shared.ErrUnknownNode
	}
	b, ok := t.blockIx[m.BlockID]
	if !ok {
		return LinearPosition{}, shared.ErrUnknownNode
	}
	return LinearPosition{Block: b.Order, Month: m.Order, Week: w.Order, Day: s.DaySlot}, nil
}

// PreviousStory resolves the story that must be completed before s unlocks.
// Returns nil when s has no prerequisite (it is structurally a root).
//
// The rule:
//   - day slot 1 in the globally first week: no prerequisite;
//   - day slot 1 elsewhere: the last story (highest day slot) of the
//     immediately preceding week in linear order, crossing month and block
//     boundaries as needed;
//   - day slot 3 or 5: the story of the same week two slots earlier.
//
// When the designated slot or week holds no story, the chain cannot be
// resolved and s is treated as a root.
func (t *Tree) PreviousStory(s *Story) (*Story, error) {
	pos, ok := t.weekPos[s.WeekID]
	if !ok {
		return nil, shared.ErrUnknownNode
	}

	if s.DaySlot == DaySlotFirst {
		if pos == 0 {
			return nil, nil
		}
		prev := t.flatWeeks[pos-1]
		if len(prev.Stories) == 0 {
			return nil, nil
		}
		// Stories are sorted by day slot; the last one closes the week.
		return prev.Stories[len(prev.Stories)-1], nil
	}

	wantSlot := s.DaySlot - 2
	for _, sibling := range t.flatWeeks[pos].Stories {
		if sibling.DaySlot == wantSlot {
			return sibling, nil
		}
	}
	return nil, nil
}

// PreviousStoryByID is PreviousStory keyed by story id.
func (t *Tree) PreviousStoryByID(id shared.NodeID) (*Story, error) {
	s, err := t.Story(id)
	if err != nil {
		return nil, err
	}
	return t.PreviousStory(s)
}
