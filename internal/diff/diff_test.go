package diff

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// elem is a test element: identity is ID, content is the whole value.
type elem struct {
	ID  int
	Ver int
}

func elemKey(e elem) int       { return e.ID }
func elemEqual(a, b elem) bool { return a == b }
func diffElems(old, new []elem, moves bool) *Result {
	return Slices(old, new, elemKey, elemEqual, moves)
}

// replay applies emitted operations to a copy of the old list and checks
// the result against the new list. Placeholder cells stand in for inserted
// items; a cell flagged changed is bound to the new value at dispatch time.
type replay struct {
	t     *testing.T
	cells []replayCell
	moves int
}

type replayCell struct {
	old         *elem
	placeholder bool
	changed     bool
}

func newReplay(t *testing.T, old []elem) *replay {
	r := &replay{t: t}
	for i := range old {
		e := old[i]
		r.cells = append(r.cells, replayCell{old: &e})
	}
	return r
}

func (r *replay) Inserted(pos, count int) {
	require.GreaterOrEqual(r.t, pos, 0)
	require.LessOrEqual(r.t, pos, len(r.cells))
	fresh := make([]replayCell, count)
	for i := range fresh {
		fresh[i] = replayCell{placeholder: true}
	}
	r.cells = append(r.cells[:pos], append(fresh, r.cells[pos:]...)...)
}

func (r *replay) Removed(pos, count int) {
	require.GreaterOrEqual(r.t, pos, 0)
	require.LessOrEqual(r.t, pos+count, len(r.cells))
	r.cells = append(r.cells[:pos], r.cells[pos+count:]...)
}

func (r *replay) Moved(from, to int) {
	require.Less(r.t, from, len(r.cells))
	require.Less(r.t, to, len(r.cells))
	r.moves++
	c := r.cells[from]
	r.cells = append(r.cells[:from], r.cells[from+1:]...)
	rest := append([]replayCell{c}, r.cells[to:]...)
	r.cells = append(r.cells[:to], rest...)
}

func (r *replay) Changed(pos, count int, payload any) {
	require.LessOrEqual(r.t, pos+count, len(r.cells))
	for i := pos; i < pos+count; i++ {
		r.cells[i].changed = true
	}
}

// verify checks that the replayed list reconstructs new exactly.
func (r *replay) verify(new []elem) {
	require.Len(r.t, r.cells, len(new), "replayed length mismatch")
	for i, c := range r.cells {
		if c.placeholder {
			continue // bound to new[i] by construction
		}
		require.Equal(r.t, new[i].ID, c.old.ID, "identity mismatch at %d", i)
		if !c.changed {
			require.Equal(r.t, new[i], *c.old, "unchanged cell differs at %d", i)
		}
	}
}

func runReplay(t *testing.T, old, new []elem, moves bool) *replay {
	t.Helper()
	r := newReplay(t, old)
	diffElems(old, new, moves).DispatchTo(r)
	r.verify(new)
	return r
}

func TestDispatch_Basics(t *testing.T) {
	a, b, c, d := elem{ID: 1}, elem{ID: 2}, elem{ID: 3}, elem{ID: 4}

	t.Run("equal lists emit nothing", func(t *testing.T) {
		r := runReplay(t, []elem{a, b, c}, []elem{a, b, c}, true)
		assert.Zero(t, r.moves)
	})
	t.Run("insert front", func(t *testing.T) {
		runReplay(t, []elem{b, c}, []elem{a, b, c}, false)
	})
	t.Run("remove middle", func(t *testing.T) {
		runReplay(t, []elem{a, b, c}, []elem{a, c}, false)
	})
	t.Run("append", func(t *testing.T) {
		runReplay(t, []elem{a}, []elem{a, b, c, d}, false)
	})
	t.Run("clear", func(t *testing.T) {
		runReplay(t, []elem{a, b, c}, nil, false)
	})
	t.Run("from empty", func(t *testing.T) {
		runReplay(t, nil, []elem{a, b}, true)
	})
	t.Run("full replacement", func(t *testing.T) {
		runReplay(t, []elem{a, b}, []elem{c, d}, true)
	})
}

func TestDispatch_ContentChange(t *testing.T) {
	old := []elem{{ID: 1, Ver: 0}, {ID: 2, Ver: 0}}
	new := []elem{{ID: 1, Ver: 1}, {ID: 2, Ver: 0}}

	rec := &recording{}
	diffElems(old, new, false).DispatchTo(rec)

	require.Len(t, rec.ops, 1)
	assert.Equal(t, op{kind: "changed", pos: 0, count: 1}, rec.ops[0].stripPayload())
	assert.Equal(t, new[0], rec.ops[0].payload)

	runReplay(t, old, new, false)
}

func TestDispatch_MoveDetection(t *testing.T) {
	a, b, c := elem{ID: 1}, elem{ID: 2}, elem{ID: 3}
	old := []elem{a, b, c}
	new := []elem{c, a, b}

	// Without move detection the relocation appears as remove+insert.
	r := runReplay(t, old, new, false)
	assert.Zero(t, r.moves, "move detection disabled must never emit moves")

	// With move detection the same transition reports a single move.
	r = runReplay(t, old, new, true)
	assert.Equal(t, 1, r.moves)
}

func TestDispatch_MovedItemWithChange(t *testing.T) {
	old := []elem{{ID: 1}, {ID: 2}, {ID: 3}}
	new := []elem{{ID: 3, Ver: 7}, {ID: 1}, {ID: 2}}
	runReplay(t, old, new, true)
}

func TestDispatch_Randomized(t *testing.T) {
	rng := rand.New(rand.NewSource(0x5eed))
	for trial := 0; trial < 500; trial++ {
		oldLen := rng.Intn(30)
		old := make([]elem, oldLen)
		for i := range old {
			old[i] = elem{ID: i, Ver: rng.Intn(3)}
		}

		// Derive new: drop some, change some, shuffle, add some.
		var new []elem
		for _, e := range old {
			switch rng.Intn(4) {
			case 0: // drop
			case 1: // change content
				e.Ver += 10
				new = append(new, e)
			default: // keep
				new = append(new, e)
			}
		}
		rng.Shuffle(len(new), func(i, j int) { new[i], new[j] = new[j], new[i] })
		for n := rng.Intn(5); n > 0; n-- {
			new = append(new, elem{ID: 1000 + trial*10 + n})
		}

		r := runReplay(t, old, new, trial%2 == 0)
		if trial%2 != 0 {
			require.Zero(t, r.moves)
		}
	}
}

func TestResult_PositionConverters(t *testing.T) {
	a, b, c := elem{ID: 1}, elem{ID: 2}, elem{ID: 3}
	res := diffElems([]elem{a, b}, []elem{b, c}, false)

	assert.Equal(t, NoPosition, res.ConvertOldPositionToNew(0))
	assert.Equal(t, 0, res.ConvertOldPositionToNew(1))
	assert.Equal(t, 1, res.ConvertNewPositionToOld(0))
	assert.Equal(t, NoPosition, res.ConvertNewPositionToOld(1))
	assert.Equal(t, NoPosition, res.ConvertOldPositionToNew(99))
}

// recording captures raw (batched) operations for assertions.
type recording struct {
	ops []op
}

type op struct {
	kind       string
	pos, count int
	from, to   int
	payload    any
}

func (o op) stripPayload() op {
	o.payload = nil
	return o
}

func (r *recording) Inserted(pos, count int) { r.ops = append(r.ops, op{kind: "inserted", pos: pos, count: count}) }
func (r *recording) Removed(pos, count int)  { r.ops = append(r.ops, op{kind: "removed", pos: pos, count: count}) }
func (r *recording) Moved(from, to int)      { r.ops = append(r.ops, op{kind: "moved", from: from, to: to}) }
func (r *recording) Changed(pos, count int, payload any) {
	r.ops = append(r.ops, op{kind: "changed", pos: pos, count: count, payload: payload})
}

func TestBatching_CoalescesAdjacentOps(t *testing.T) {
	rec := &recording{}
	b := NewBatching(rec)

	b.Inserted(3, 1)
	b.Inserted(4, 1)
	b.Inserted(4, 1)
	b.Removed(7, 1)
	b.Removed(6, 1)
	b.Changed(1, 1, nil)
	b.Changed(2, 1, nil)
	b.Moved(0, 5)
	b.Flush()

	require.Len(t, rec.ops, 4)
	assert.Equal(t, op{kind: "inserted", pos: 3, count: 3}, rec.ops[0])
	assert.Equal(t, op{kind: "removed", pos: 6, count: 2}, rec.ops[1])
	assert.Equal(t, op{kind: "changed", pos: 1, count: 2}, rec.ops[2])
	assert.Equal(t, op{kind: "moved", from: 0, to: 5}, rec.ops[3])
}

func TestBatching_DistinctPayloadsNotMerged(t *testing.T) {
	rec := &recording{}
	b := NewBatching(rec)

	b.Changed(1, 1, "x")
	b.Changed(2, 1, "y")
	b.Flush()

	require.Len(t, rec.ops, 2)
}
