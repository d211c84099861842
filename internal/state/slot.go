package state

import (
	"slices"

	"github.com/presentum/presentum/internal/item"
)

// Slot is the per-surface scheduling state: at most one active item plus a
// FIFO queue of pending items.
//
// INVARIANT: an item present in Queue is never simultaneously Active in the
// same slot. A slot with no active item and an empty queue is logically
// absent and gets pruned from the state map.
type Slot struct {
	Active *item.Item
	Queue  []item.Item
}

// Empty reports whether the slot holds nothing at all.
func (s *Slot) Empty() bool {
	return s.Active == nil && len(s.Queue) == 0
}

// Len returns the number of items the slot holds, active included.
func (s *Slot) Len() int {
	n := len(s.Queue)
	if s.Active != nil {
		n++
	}
	return n
}

// Contains reports whether the given payload id is active or queued.
func (s *Slot) Contains(id string) bool {
	if s.Active != nil && s.Active.ID() == id {
		return true
	}
	for i := range s.Queue {
		if s.Queue[i].ID() == id {
			return true
		}
	}
	return false
}

// Items returns the slot contents, active item first. The result is a
// fresh slice; mutating it does not affect the slot.
func (s *Slot) Items() []item.Item {
	out := make([]item.Item, 0, s.Len())
	if s.Active != nil {
		out = append(out, *s.Active)
	}
	return append(out, s.Queue...)
}

// clone returns a copy whose queue does not alias the receiver's.
// Items themselves are immutable values and are never deep-copied.
func (s *Slot) clone() *Slot {
	c := &Slot{Queue: slices.Clone(s.Queue)}
	if s.Active != nil {
		a := *s.Active
		c.Active = &a
	}
	return c
}

// equal compares slot contents by full item value equality.
func (s *Slot) equal(o *Slot) bool {
	if (s.Active == nil) != (o.Active == nil) {
		return false
	}
	if s.Active != nil && !s.Active.Equal(*o.Active) {
		return false
	}
	if len(s.Queue) != len(o.Queue) {
		return false
	}
	for i := range s.Queue {
		if !s.Queue[i].Equal(o.Queue[i]) {
			return false
		}
	}
	return true
}

// SlotUpdate describes a partial slot change for With. Fields left
// unspecified are carried over unchanged; this is how "no change requested"
// stays distinct from "explicitly set to nil/empty".
type SlotUpdate func(*slotPatch)

type slotPatch struct {
	active    *item.Item
	setActive bool
	queue     []item.Item
	setQueue  bool
}

// SetActive explicitly sets the active item; pass nil to clear it.
func SetActive(it *item.Item) SlotUpdate {
	return func(p *slotPatch) {
		p.active = it
		p.setActive = true
	}
}

// SetQueue explicitly replaces the queue; pass nil to empty it.
func SetQueue(q []item.Item) SlotUpdate {
	return func(p *slotPatch) {
		p.queue = q
		p.setQueue = true
	}
}

// With returns a copy of the slot with the given updates applied.
// With() with no updates is a plain clone.
func (s *Slot) With(updates ...SlotUpdate) *Slot {
	var p slotPatch
	for _, u := range updates {
		u(&p)
	}
	c := s.clone()
	if p.setActive {
		if p.active != nil {
			a := *p.active
			c.Active = &a
		} else {
			c.Active = nil
		}
	}
	if p.setQueue {
		c.Queue = slices.Clone(p.queue)
	}
	return c
}
