package diff

import "slices"

// Receiver consumes the edit operations of a computed diff. Positions are
// expressed in the coordinate space of the list as the operations are
// applied in order: replaying the sequence against the old list reproduces
// the new list exactly.
type Receiver interface {
	// Inserted reports count new items appearing at pos.
	Inserted(pos, count int)
	// Removed reports count items disappearing from pos.
	Removed(pos, count int)
	// Moved reports one item relocating from one position to another.
	Moved(from, to int)
	// Changed reports count items at pos whose identity persisted but
	// whose content changed, with an optional payload.
	Changed(pos, count int, payload any)
}

// DispatchTo emits the edit operations to the receiver, batching adjacent
// operations of the same kind (see Batching) unless the receiver already
// batches.
//
// Removals are emitted back-to-front, then the new list is walked
// front-to-back emitting insertions, moves, and changes. A working index
// tracks every surviving item, so emitted positions are correct by
// construction; if an expected counterpart cannot be found the inputs were
// mutated mid-computation, which is a fatal programming error and panics.
func (r *Result) DispatchTo(rec Receiver) {
	batching, ok := rec.(*Batching)
	if !ok {
		batching = NewBatching(rec)
	}
	defer batching.Flush()

	// Working list: surviving old positions, placeholder -1 for inserts.
	work := make([]int, 0, r.oldLen)
	for i := 0; i < r.oldLen; i++ {
		work = append(work, i)
	}

	// Pure removals, back to front so earlier indices stay stable.
	// Moved-out items stay in place until the second pass relocates them.
	for pos := r.oldLen - 1; pos >= 0; pos-- {
		if r.oldStatus[pos] == 0 {
			batching.Removed(pos, 1)
			work = slices.Delete(work, pos, pos+1)
		}
	}

	// Place every new position. The prefix work[:pos] always equals the
	// final new list, so each target is found at or after pos.
	for pos := 0; pos < r.newLen; pos++ {
		st := r.newStatus[pos]
		if st == 0 {
			batching.Inserted(pos, 1)
			work = slices.Insert(work, pos, NoPosition)
			continue
		}
		oldPos := st >> statusShift
		cur := NoPosition
		for i := pos; i < len(work); i++ {
			if work[i] == oldPos {
				cur = i
				break
			}
		}
		if cur == NoPosition {
			panic("diff: item vanished during dispatch; inputs were mutated mid-computation")
		}
		if cur != pos {
			batching.Moved(cur, pos)
			work = slices.Insert(slices.Delete(work, cur, cur+1), pos, oldPos)
		}
		if st&(flagChanged|flagMovedChanged) != 0 {
			batching.Changed(pos, 1, r.in.Payload(oldPos, pos))
		}
	}
}
