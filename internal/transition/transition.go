// Package transition describes the change between two published states.
// A Transition pairs the previous and next frozen snapshots; its Diff is
// computed on first access and cached, so observers that never look at it
// pay nothing.
package transition

import (
	"slices"
	"sync"
	"time"

	"github.com/presentum/presentum/internal/item"
	"github.com/presentum/presentum/internal/state"
)

// SurfaceClass classifies how a surface changed between two states.
type SurfaceClass int

const (
	// SurfaceModified means the surface exists in both states and its
	// slot contents differ.
	SurfaceModified SurfaceClass = iota
	// SurfaceAdded means the surface exists only in the new state.
	SurfaceAdded
	// SurfaceRemoved means the surface exists only in the old state.
	SurfaceRemoved
)

func (c SurfaceClass) String() string {
	switch c {
	case SurfaceModified:
		return "modified"
	case SurfaceAdded:
		return "added"
	case SurfaceRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// SlotDiff captures the per-surface changes. Activated and Deactivated
// each carry the counterpart item (the one that took or gave up the
// active position) when there is one. Queued and Dequeued are computed
// by item identity only; queue reorders without identity change are not
// reported.
type SlotDiff struct {
	Surface item.Surface
	Class   SurfaceClass

	Activated   *item.Item
	Deactivated *item.Item
	// ActivatedCounterpart is the previously active item at the moment
	// Activated took the slot; DeactivatedCounterpart is its successor.
	ActivatedCounterpart   *item.Item
	DeactivatedCounterpart *item.Item

	Queued   []item.Item
	Dequeued []item.Item
}

// Empty reports whether the slot diff carries no changes.
func (d SlotDiff) Empty() bool {
	return d.Activated == nil && d.Deactivated == nil &&
		len(d.Queued) == 0 && len(d.Dequeued) == 0
}

// Diff is the full change set between two states, one SlotDiff per
// surface that changed, ordered by surface for determinism.
type Diff struct {
	Surfaces []SlotDiff
}

// Empty reports whether no surface changed.
func (d *Diff) Empty() bool { return len(d.Surfaces) == 0 }

// Surface returns the diff for one surface, if that surface changed.
func (d *Diff) Surface(s item.Surface) (SlotDiff, bool) {
	for _, sd := range d.Surfaces {
		if sd.Surface == s {
			return sd, true
		}
	}
	return SlotDiff{}, false
}

// Activated collects every item that became active, across surfaces.
func (d *Diff) Activated() []item.Item {
	var out []item.Item
	for _, sd := range d.Surfaces {
		if sd.Activated != nil {
			out = append(out, *sd.Activated)
		}
	}
	return out
}

// Transition is the unit delivered to observers after a pipeline run
// publishes a new state. Old may be nil for the first publish.
type Transition struct {
	Old *state.State
	New *state.State
	At  time.Time

	once sync.Once
	diff *Diff
}

// New builds a transition between two frozen states.
func New(old, new *state.State, at time.Time) *Transition {
	return &Transition{Old: old, New: new, At: at}
}

// Diff returns the change set, computing it on first call.
func (t *Transition) Diff() *Diff {
	t.once.Do(func() {
		t.diff = Compute(t.Old, t.New)
	})
	return t.diff
}

// Compute diffs two states directly. Either side may be nil, which is
// treated as a state with no surfaces.
func Compute(old, new *state.State) *Diff {
	d := &Diff{}
	for _, surface := range unionSurfaces(old, new) {
		var oldSlot, newSlot *state.Slot
		if old != nil {
			if sl, ok := old.Slot(surface); ok {
				oldSlot = sl
			}
		}
		if new != nil {
			if sl, ok := new.Slot(surface); ok {
				newSlot = sl
			}
		}
		sd := diffSlot(surface, oldSlot, newSlot)
		if !sd.Empty() {
			d.Surfaces = append(d.Surfaces, sd)
		}
	}
	return d
}

func unionSurfaces(old, new *state.State) []item.Surface {
	seen := make(map[item.Surface]bool)
	var out []item.Surface
	if old != nil {
		for _, s := range old.Surfaces() {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	if new != nil {
		for _, s := range new.Surfaces() {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	slices.Sort(out)
	return out
}

func diffSlot(surface item.Surface, oldSlot, newSlot *state.Slot) SlotDiff {
	sd := SlotDiff{Surface: surface, Class: SurfaceModified}
	switch {
	case oldSlot == nil && newSlot == nil:
		return sd
	case oldSlot == nil:
		sd.Class = SurfaceAdded
	case newSlot == nil:
		sd.Class = SurfaceRemoved
	}

	var oldActive, newActive *item.Item
	if oldSlot != nil {
		oldActive = oldSlot.Active
	}
	if newSlot != nil {
		newActive = newSlot.Active
	}
	if !activesEqual(oldActive, newActive) {
		if oldActive != nil {
			sd.Deactivated = oldActive
			sd.DeactivatedCounterpart = newActive
		}
		if newActive != nil {
			sd.Activated = newActive
			sd.ActivatedCounterpart = oldActive
		}
	}

	oldKeys := queueKeys(oldSlot)
	newKeys := queueKeys(newSlot)
	if oldSlot != nil {
		for _, it := range oldSlot.Queue {
			if !newKeys[it.Key()] {
				sd.Dequeued = append(sd.Dequeued, it)
			}
		}
	}
	if newSlot != nil {
		for _, it := range newSlot.Queue {
			if !oldKeys[it.Key()] {
				sd.Queued = append(sd.Queued, it)
			}
		}
	}
	return sd
}

func activesEqual(a, b *item.Item) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func queueKeys(sl *state.Slot) map[item.Key]bool {
	if sl == nil {
		return nil
	}
	keys := make(map[item.Key]bool, len(sl.Queue))
	for _, it := range sl.Queue {
		keys[it.Key()] = true
	}
	return keys
}
