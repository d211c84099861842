// Package diff computes the minimal edit script between two candidate lists.
//
// The algorithm is Eugene Myers' O(N*D) difference algorithm with the
// meeting-in-the-middle refinement: forward and backward searches advance
// over diagonal-indexed k-lines until their furthest-reaching paths overlap,
// yielding a middle snake; the two remaining sub-problems are solved the
// same way from an explicit stack. Identity ("is this the same item") and
// content equality ("did the item change") are separate caller-supplied
// judgments, which lets a list position keep its identity across a payload
// update.
//
// Move detection is optional and costs O(M^2) over the M added/removed
// positions: every unmatched removal is compared against every unmatched
// insertion, and identity matches become moves.
//
// Inputs are never mutated, and positions are plain ints, so lists up to at
// least 1<<26 elements are handled without special casing.
package diff

import "sort"

// Input abstracts the two lists being compared. Implementations must be
// pure: the answers for a given position pair may not change while a
// computation or dispatch is running.
type Input interface {
	// OldLen and NewLen return the list sizes.
	OldLen() int
	NewLen() int
	// Same reports whether the items at the two positions share identity.
	Same(oldPos, newPos int) bool
	// Equal reports whether two same-identity items also have equal
	// content. Only called for position pairs where Same returned true.
	Equal(oldPos, newPos int) bool
	// Payload returns an optional change payload for a same-identity,
	// unequal-content pair. May return nil.
	Payload(oldPos, newPos int) any
}

// Position status flags. The high bits of a status carry the matched
// position in the other list; the low statusShift bits carry the flags.
const (
	flagNotChanged = 1 << iota
	flagChanged
	flagMovedChanged
	flagMovedNotChanged

	flagMoved   = flagMovedChanged | flagMovedNotChanged
	statusShift = 4
	flagMask    = (1 << statusShift) - 1
)

// diagonal is a run of matched positions: old[x+i] pairs with new[y+i]
// for i in [0, size).
type diagonal struct {
	x, y, size int
}

func (d diagonal) endX() int { return d.x + d.size }
func (d diagonal) endY() int { return d.y + d.size }

// span is an unsolved sub-problem: old[oldStart:oldEnd) vs new[newStart:newEnd).
type span struct {
	oldStart, oldEnd int
	newStart, newEnd int
}

func (s span) oldLen() int { return s.oldEnd - s.oldStart }
func (s span) newLen() int { return s.newEnd - s.newStart }

// snake is a middle segment found by the bidirectional search. It may
// include one leading (forward) or trailing (reverse) horizontal/vertical
// edge in addition to the diagonal run.
type snake struct {
	startX, startY int
	endX, endY     int
	reverse        bool
}

func (s snake) diagonalLen() int {
	return min(s.endX-s.startX, s.endY-s.startY)
}

func (s snake) hasEdge() bool {
	return s.endY-s.startY != s.endX-s.startX
}

func (s snake) isInsertion() bool {
	return s.endY-s.startY > s.endX-s.startX
}

func (s snake) toDiagonal() diagonal {
	if s.hasEdge() {
		if s.reverse {
			// Edge sits at the end of a reverse snake.
			return diagonal{x: s.startX, y: s.startY, size: s.diagonalLen()}
		}
		// Edge sits at the beginning of a forward snake.
		if s.isInsertion() {
			return diagonal{x: s.startX, y: s.startY + 1, size: s.diagonalLen()}
		}
		return diagonal{x: s.startX + 1, y: s.startY, size: s.diagonalLen()}
	}
	return diagonal{x: s.startX, y: s.startY, size: s.endX - s.startX}
}

// kLines stores the furthest-reaching x coordinate per k-line, allowing
// negative k indices.
type kLines struct {
	data []int
	mid  int
}

func newKLines(size int) *kLines {
	return &kLines{data: make([]int, size), mid: size / 2}
}

func (a *kLines) get(k int) int { return a.data[k+a.mid] }
func (a *kLines) set(k, v int)  { a.data[k+a.mid] = v }

// Result holds the computed diff: the matched diagonals plus per-position
// statuses encoding match positions, content changes, and moves.
type Result struct {
	in          Input
	oldLen      int
	newLen      int
	diagonals   []diagonal
	oldStatus   []int
	newStatus   []int
	detectMoves bool
}

// NoPosition is returned by the position converters when an item has no
// counterpart in the other list.
const NoPosition = -1

// Compute runs the diff between in's old and new lists. With detectMoves
// set, removals are matched against insertions by identity and reported as
// moves; without it the same pairs surface as a removal plus an insertion.
func Compute(in Input, detectMoves bool) *Result {
	oldLen, newLen := in.OldLen(), in.NewLen()

	var diagonals []diagonal
	stack := []span{{oldStart: 0, oldEnd: oldLen, newStart: 0, newEnd: newLen}}

	maxD := (oldLen + newLen + 1) / 2
	forward := newKLines(maxD*2 + 1)
	backward := newKLines(maxD*2 + 1)

	for len(stack) > 0 {
		sp := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		sn, ok := midPoint(sp, in, forward, backward)
		if !ok {
			continue
		}
		if sn.diagonalLen() > 0 {
			diagonals = append(diagonals, sn.toDiagonal())
		}
		stack = append(stack,
			span{oldStart: sp.oldStart, oldEnd: sn.startX, newStart: sp.newStart, newEnd: sn.startY},
			span{oldStart: sn.endX, oldEnd: sp.oldEnd, newStart: sn.endY, newEnd: sp.newEnd},
		)
	}

	sort.Slice(diagonals, func(i, j int) bool { return diagonals[i].x < diagonals[j].x })

	res := &Result{
		in:          in,
		oldLen:      oldLen,
		newLen:      newLen,
		diagonals:   diagonals,
		oldStatus:   make([]int, oldLen),
		newStatus:   make([]int, newLen),
		detectMoves: detectMoves,
	}
	res.addEdgeDiagonals()
	res.findMatchingItems()
	return res
}

// midPoint finds the middle snake of a span, alternating one step of the
// forward and backward searches until the paths overlap.
func midPoint(sp span, in Input, forward, backward *kLines) (snake, bool) {
	if sp.oldLen() < 1 || sp.newLen() < 1 {
		return snake{}, false
	}
	maxD := (sp.oldLen() + sp.newLen() + 1) / 2
	forward.set(1, sp.oldStart)
	backward.set(1, sp.oldEnd)
	for d := 0; d < maxD; d++ {
		if sn, ok := forwardStep(sp, in, forward, backward, d); ok {
			return sn, true
		}
		if sn, ok := backwardStep(sp, in, forward, backward, d); ok {
			return sn, true
		}
	}
	return snake{}, false
}

func forwardStep(sp span, in Input, forward, backward *kLines, d int) (snake, bool) {
	checkOverlap := (sp.oldLen()-sp.newLen())%2 != 0
	delta := sp.oldLen() - sp.newLen()
	for k := -d; k <= d; k += 2 {
		// Step from the better of the (d-1, k±1) endpoints. The array
		// holds both current and previous d values since k moves by 2.
		var startX, x int
		if k == -d || (k != d && forward.get(k+1) > forward.get(k-1)) {
			// From k+1: advance y by not advancing x.
			x = forward.get(k + 1)
			startX = x
		} else {
			// From k-1: advance x.
			startX = forward.get(k - 1)
			x = startX + 1
		}
		y := sp.newStart + (x - sp.oldStart) - k
		startY := y
		if d != 0 && x == startX {
			startY = y - 1
		}
		// Slide down the diagonal.
		for x < sp.oldEnd && y < sp.newEnd && in.Same(x, y) {
			x++
			y++
		}
		forward.set(k, x)
		if checkOverlap {
			backwardK := delta - k
			if backwardK >= -d+1 && backwardK <= d-1 && backward.get(backwardK) <= x {
				return snake{startX: startX, startY: startY, endX: x, endY: y}, true
			}
		}
	}
	return snake{}, false
}

func backwardStep(sp span, in Input, forward, backward *kLines, d int) (snake, bool) {
	checkOverlap := (sp.oldLen()-sp.newLen())%2 == 0
	delta := sp.oldLen() - sp.newLen()
	// Mirror of forwardStep from the bottom-right corner, minimizing x.
	for k := -d; k <= d; k += 2 {
		var startX, x int
		if k == -d || (k != d && backward.get(k+1) < backward.get(k-1)) {
			// From k+1: retreat y by not retreating x.
			x = backward.get(k + 1)
			startX = x
		} else {
			// From k-1: retreat x.
			startX = backward.get(k - 1)
			x = startX - 1
		}
		y := sp.newEnd - (sp.oldEnd - x) + k
		startY := y
		if d != 0 && x == startX {
			startY = y + 1
		}
		// Slide up the diagonal.
		for x > sp.oldStart && y > sp.newStart && in.Same(x-1, y-1) {
			x--
			y--
		}
		backward.set(k, x)
		if checkOverlap {
			forwardK := delta - k
			if forwardK >= -d && forwardK <= d && forward.get(forwardK) >= x {
				// Start/end swap because this snake runs in reverse.
				return snake{startX: x, startY: y, endX: startX, endY: startY, reverse: true}, true
			}
		}
	}
	return snake{}, false
}

// addEdgeDiagonals anchors the diagonal list with zero-size sentinels at
// (0,0) and (oldLen,newLen) so dispatch can walk gaps uniformly.
func (r *Result) addEdgeDiagonals() {
	if len(r.diagonals) == 0 || r.diagonals[0].x != 0 || r.diagonals[0].y != 0 {
		r.diagonals = append([]diagonal{{x: 0, y: 0, size: 0}}, r.diagonals...)
	}
	r.diagonals = append(r.diagonals, diagonal{x: r.oldLen, y: r.newLen, size: 0})
}

// findMatchingItems records, for every matched position pair, the
// counterpart position and whether the content changed; then, when move
// detection is on, pairs up leftover removals and insertions by identity.
func (r *Result) findMatchingItems() {
	for _, dg := range r.diagonals {
		for offset := 0; offset < dg.size; offset++ {
			posX := dg.x + offset
			posY := dg.y + offset
			flag := flagChanged
			if r.in.Equal(posX, posY) {
				flag = flagNotChanged
			}
			r.oldStatus[posX] = posY<<statusShift | flag
			r.newStatus[posY] = posX<<statusShift | flag
		}
	}
	if r.detectMoves {
		r.findMoveMatches()
	}
}

func (r *Result) findMoveMatches() {
	posX := 0
	for _, dg := range r.diagonals {
		for posX < dg.x {
			if r.oldStatus[posX] == 0 {
				r.findMatchingInsertion(posX)
			}
			posX++
		}
		posX = dg.endX()
	}
}

func (r *Result) findMatchingInsertion(posX int) {
	posY := 0
	for _, dg := range r.diagonals {
		for posY < dg.y {
			if r.newStatus[posY] == 0 && r.in.Same(posX, posY) {
				flag := flagMovedChanged
				if r.in.Equal(posX, posY) {
					flag = flagMovedNotChanged
				}
				r.oldStatus[posX] = posY<<statusShift | flag
				r.newStatus[posY] = posX<<statusShift | flag
				return
			}
			posY++
		}
		posY = dg.endY()
	}
}

// ConvertOldPositionToNew maps a position in the old list to its position
// in the new list, or NoPosition if the item was removed.
func (r *Result) ConvertOldPositionToNew(oldPos int) int {
	if oldPos < 0 || oldPos >= r.oldLen {
		return NoPosition
	}
	st := r.oldStatus[oldPos]
	if st&flagMask == 0 {
		return NoPosition
	}
	return st >> statusShift
}

// ConvertNewPositionToOld maps a position in the new list to its position
// in the old list, or NoPosition if the item was inserted.
func (r *Result) ConvertNewPositionToOld(newPos int) int {
	if newPos < 0 || newPos >= r.newLen {
		return NoPosition
	}
	st := r.newStatus[newPos]
	if st&flagMask == 0 {
		return NoPosition
	}
	return st >> statusShift
}
