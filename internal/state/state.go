// Package state holds the scheduler's surface-to-slot mapping in two
// representations: a mutable form edited in place by the guard pipeline, and
// a frozen form safe to publish to observers. Conversion is copy-on-write:
// Freeze is O(1), Mutate copies the slot map (O(surfaces)) without ever
// deep-copying items.
package state

import (
	"fmt"
	"slices"

	"github.com/presentum/presentum/internal/item"
)

// Intention tags a state mutation with the semantics it should apply.
type Intention int

const (
	// Auto recomputes as needed; SetActive under Auto overwrites the
	// active item without touching the queue.
	Auto Intention = iota
	// Replace drops the existing queue and installs the new content.
	Replace
	// Append keeps existing content and enqueues behind it.
	Append
	// Cancel vetoes the mutation entirely; downstream state is unchanged.
	Cancel
)

func (i Intention) String() string {
	switch i {
	case Auto:
		return "auto"
	case Replace:
		return "replace"
	case Append:
		return "append"
	case Cancel:
		return "cancel"
	default:
		return fmt.Sprintf("intention(%d)", int(i))
	}
}

// State maps surfaces to slots and carries the mutation intention.
//
// A State is either mutable or frozen. All mutating methods panic on a
// frozen State - mutating a published snapshot is a programming error, not
// a recoverable condition.
type State struct {
	slots     map[item.Surface]*Slot
	intention Intention
	frozen    bool
}

// New returns an empty mutable state with the Auto intention.
func New() *State {
	return &State{slots: make(map[item.Surface]*Slot)}
}

// Frozen reports whether the state is the read-only representation.
func (s *State) Frozen() bool { return s.frozen }

// Intention returns the mutation intention tag.
func (s *State) Intention() Intention { return s.intention }

// SetIntention sets the mutation intention tag.
func (s *State) SetIntention(i Intention) {
	s.mustBeMutable()
	s.intention = i
}

// Freeze returns the read-only representation. Calling Freeze on an
// already-frozen state is the identity. O(1): the slot map is shared with
// the receiver, which must not be used for mutation afterwards.
func (s *State) Freeze() *State {
	if s.frozen {
		return s
	}
	s.frozen = true
	return s
}

// Mutate returns an editable representation. Calling Mutate on a mutable
// state is the identity. On a frozen state it derives a fresh copy of the
// slot map and slots (O(surfaces)); items are shared, never deep-copied.
func (s *State) Mutate() *State {
	if !s.frozen {
		return s
	}
	m := &State{
		slots:     make(map[item.Surface]*Slot, len(s.slots)),
		intention: s.intention,
	}
	for surface, slot := range s.slots {
		m.slots[surface] = slot.clone()
	}
	return m
}

func (s *State) mustBeMutable() {
	if s.frozen {
		panic("state: mutation of a frozen state")
	}
}

// Slot returns the slot for a surface. Callers holding a frozen state must
// treat the result as read-only.
func (s *State) Slot(surface item.Surface) (*Slot, bool) {
	sl, ok := s.slots[surface]
	return sl, ok
}

// Surfaces returns all surfaces with a non-empty slot, sorted for
// deterministic iteration.
func (s *State) Surfaces() []item.Surface {
	out := make([]item.Surface, 0, len(s.slots))
	for surface := range s.slots {
		out = append(out, surface)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of non-empty slots.
func (s *State) Len() int { return len(s.slots) }

func (s *State) slot(surface item.Surface) *Slot {
	sl, ok := s.slots[surface]
	if !ok {
		sl = &Slot{}
		s.slots[surface] = sl
	}
	return sl
}

// prune removes the slot if it became empty.
func (s *State) prune(surface item.Surface) {
	if sl, ok := s.slots[surface]; ok && sl.Empty() {
		delete(s.slots, surface)
	}
}

// Add appends items to a surface. If the slot has no active item the first
// new item becomes active and the rest are queued; otherwise all new items
// are appended to the queue in arrival order.
func (s *State) Add(surface item.Surface, items ...item.Item) {
	s.mustBeMutable()
	if len(items) == 0 {
		return
	}
	sl := s.slot(surface)
	if sl.Active == nil {
		first := items[0]
		sl.Active = &first
		items = items[1:]
	}
	sl.Queue = append(sl.Queue, items...)
}

// Insert places items at the given queue index. The "no active item
// promotes the first" rule from Add applies before the insertion. An index
// past the end of the queue appends.
func (s *State) Insert(surface item.Surface, index int, items ...item.Item) {
	s.mustBeMutable()
	if len(items) == 0 {
		return
	}
	sl := s.slot(surface)
	if sl.Active == nil {
		first := items[0]
		sl.Active = &first
		items = items[1:]
		if len(items) == 0 {
			return
		}
	}
	if index < 0 {
		index = 0
	}
	if index > len(sl.Queue) {
		index = len(sl.Queue)
	}
	sl.Queue = slices.Insert(sl.Queue, index, items...)
}

// SetActive installs an active item honoring the given intention:
//
//   - Replace clears the queue and sets the active item.
//   - Append sets the active item only if none exists; otherwise the item
//     is enqueued.
//   - Auto and Cancel overwrite the active item unconditionally without
//     touching the queue. Under Auto the caller takes full responsibility
//     for queue consistency; no stronger guarantee is provided.
func (s *State) SetActive(surface item.Surface, it item.Item, intent Intention) {
	s.mustBeMutable()
	sl := s.slot(surface)
	switch intent {
	case Replace:
		sl.Queue = nil
		sl.Active = &it
	case Append:
		if sl.Active == nil {
			sl.Active = &it
		} else {
			sl.Queue = append(sl.Queue, it)
		}
	default: // Auto, Cancel
		sl.Active = &it
	}
}

// ClearActive removes the active item. If the queue is non-empty its head
// is promoted to active. Returns the resulting slot, or false if the
// surface is unknown. The slot is pruned (and still returned) if it became
// empty.
func (s *State) ClearActive(surface item.Surface) (*Slot, bool) {
	s.mustBeMutable()
	sl, ok := s.slots[surface]
	if !ok {
		return nil, false
	}
	sl.Active = nil
	if len(sl.Queue) > 0 {
		head := sl.Queue[0]
		sl.Active = &head
		sl.Queue = slices.Delete(sl.Queue, 0, 1)
	}
	s.prune(surface)
	return sl, true
}

// Enqueue appends items to the queue without touching the active item.
func (s *State) Enqueue(surface item.Surface, items ...item.Item) {
	s.mustBeMutable()
	if len(items) == 0 {
		return
	}
	sl := s.slot(surface)
	sl.Queue = append(sl.Queue, items...)
}

// Dequeue removes and returns the queue head without touching the active
// item. Returns false if the surface is unknown or its queue is empty.
func (s *State) Dequeue(surface item.Surface) (item.Item, bool) {
	s.mustBeMutable()
	sl, ok := s.slots[surface]
	if !ok || len(sl.Queue) == 0 {
		return item.Item{}, false
	}
	head := sl.Queue[0]
	sl.Queue = slices.Delete(sl.Queue, 0, 1)
	s.prune(surface)
	return head, true
}

// RemoveWhere removes every item matching the predicate from all slots,
// active and queued positions alike. If an active item is removed and the
// queue is non-empty the new queue head is promoted. Slots that become
// empty are deleted. Returns the number of items removed.
//
// This is the mechanism by which ineligible items are purged without
// disturbing unrelated items.
func (s *State) RemoveWhere(pred func(item.Surface, item.Item) bool) int {
	s.mustBeMutable()
	removed := 0
	for _, surface := range s.Surfaces() {
		removed += s.RemoveFromSurface(surface, func(it item.Item) bool {
			return pred(surface, it)
		})
	}
	return removed
}

// RemoveFromSurface is RemoveWhere scoped to a single surface.
func (s *State) RemoveFromSurface(surface item.Surface, pred func(item.Item) bool) int {
	s.mustBeMutable()
	sl, ok := s.slots[surface]
	if !ok {
		return 0
	}
	removed := 0
	kept := sl.Queue[:0:0]
	for _, it := range sl.Queue {
		if pred(it) {
			removed++
		} else {
			kept = append(kept, it)
		}
	}
	sl.Queue = kept
	if sl.Active != nil && pred(*sl.Active) {
		removed++
		sl.Active = nil
		if len(sl.Queue) > 0 {
			head := sl.Queue[0]
			sl.Active = &head
			sl.Queue = slices.Delete(sl.Queue, 0, 1)
		}
	}
	s.prune(surface)
	return removed
}

// RemoveByID removes all items with the given payload id. With no surfaces
// given the removal is global; otherwise it is scoped to the listed
// surfaces. Returns the number of items removed.
func (s *State) RemoveByID(id string, surfaces ...item.Surface) int {
	s.mustBeMutable()
	match := func(it item.Item) bool { return it.ID() == id }
	if len(surfaces) == 0 {
		return s.RemoveWhere(func(_ item.Surface, it item.Item) bool { return match(it) })
	}
	removed := 0
	for _, surface := range surfaces {
		removed += s.RemoveFromSurface(surface, match)
	}
	return removed
}

// ContainsID reports whether any slot (or any of the given surfaces) has
// the payload id active or queued.
func (s *State) ContainsID(id string, surfaces ...item.Surface) bool {
	if len(surfaces) == 0 {
		for _, sl := range s.slots {
			if sl.Contains(id) {
				return true
			}
		}
		return false
	}
	for _, surface := range surfaces {
		if sl, ok := s.slots[surface]; ok && sl.Contains(id) {
			return true
		}
	}
	return false
}

// VisitSlots walks the slots in sorted surface order until fn returns
// false. The walk iterates over a snapshot of the current entries, so fn
// may call back into the state (including re-entrant VisitSlots calls or
// removals) safely.
func (s *State) VisitSlots(fn func(item.Surface, *Slot) bool) {
	for _, surface := range s.Surfaces() {
		sl, ok := s.slots[surface]
		if !ok {
			continue // removed by an earlier callback
		}
		if !fn(surface, sl) {
			return
		}
	}
}

// FindSlot returns the first slot (in sorted surface order) matching the
// predicate.
func (s *State) FindSlot(pred func(item.Surface, *Slot) bool) (item.Surface, *Slot, bool) {
	var (
		foundSurface item.Surface
		foundSlot    *Slot
		found        bool
	)
	s.VisitSlots(func(surface item.Surface, sl *Slot) bool {
		if pred(surface, sl) {
			foundSurface, foundSlot, found = surface, sl, true
			return false
		}
		return true
	})
	return foundSurface, foundSlot, found
}

// FindAllSlots returns every surface whose slot matches the predicate, in
// sorted order.
func (s *State) FindAllSlots(pred func(item.Surface, *Slot) bool) []item.Surface {
	var out []item.Surface
	s.VisitSlots(func(surface item.Surface, sl *Slot) bool {
		if pred(surface, sl) {
			out = append(out, surface)
		}
		return true
	})
	return out
}

// FoldSlots accumulates a value over all slots in sorted surface order.
func FoldSlots[T any](s *State, init T, fn func(T, item.Surface, *Slot) T) T {
	acc := init
	s.VisitSlots(func(surface item.Surface, sl *Slot) bool {
		acc = fn(acc, surface, sl)
		return true
	})
	return acc
}

// Items returns every item in the state, active items first per slot, in
// sorted surface order.
func (s *State) Items() []item.Item {
	return FoldSlots(s, []item.Item(nil), func(acc []item.Item, _ item.Surface, sl *Slot) []item.Item {
		return append(acc, sl.Items()...)
	})
}

// Equal compares state content (slots and intention), ignoring the
// frozen flag.
func (s *State) Equal(o *State) bool {
	if s.intention != o.intention || len(s.slots) != len(o.slots) {
		return false
	}
	for surface, sl := range s.slots {
		osl, ok := o.slots[surface]
		if !ok || !sl.equal(osl) {
			return false
		}
	}
	return true
}
