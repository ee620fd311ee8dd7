package fullrow

import "github.com/spirit-labs/aggstore/row"

// GroupRow is the extremal row of one group.
type GroupRow struct {
	Group GroupKey
	Row   row.Row
}

// GroupIterator yields one GroupRow per group from rows sorted by group and then by value. It is single pass.
type GroupIterator struct {
	rows []indexedRow
	pos  int
}

type indexedRow struct {
	key IndexedKey
	row row.Row
}

func newGroupIterator(sorted []indexedRow) *GroupIterator {
	return &GroupIterator{rows: sorted}
}

func (g *GroupIterator) HasNext() bool {
	return g.pos < len(g.rows)
}

// Next returns the first row of the current group and skips the rest of the group. It panics when the iterator is
// exhausted.
func (g *GroupIterator) Next() GroupRow {
	if g.pos >= len(g.rows) {
		panic("group iterator is exhausted")
	}
	first := g.rows[g.pos]
	g.pos++
	for g.pos < len(g.rows) && SameGroup(first.key, g.rows[g.pos].key) {
		g.pos++
	}
	return GroupRow{Group: first.key.Group, Row: first.row}
}
