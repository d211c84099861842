// Package item defines the value types the scheduler operates on: surfaces,
// presentation options, payloads, and resolved items.
//
// All types here are immutable by convention - producers construct them once
// and the engine never writes through them. Identity and equality are
// deliberately separate concepts: a Payload's identity is its ID, while
// equality is value-based over all fields. An Item's identity is the
// composite (payload id, option variant, option surface) key.
package item

import (
	"reflect"
	"time"
)

// Surface is an opaque, stable key naming a presentation location,
// e.g. "home_top_banner". Comparable and usable as a map key.
type Surface string

// Option pairs a surface with a visual variant and its presentation
// constraints. The zero value of an optional constraint disables it:
// Stage 0 means no ordering hint, MaxImpressions 0 means unlimited,
// Cooldown 0 means none.
type Option struct {
	Surface        Surface
	Variant        string
	Stage          int
	MaxImpressions int
	Cooldown       time.Duration
	Dismissible    bool
	AlwaysOn       bool
}

// Payload is the domain content to show. Identity is ID; Equal compares
// all fields by value.
type Payload struct {
	ID       string
	Priority int
	Meta     map[string]any
	Options  []Option
}

// Equal reports value equality over all payload fields.
// Meta is compared deeply since it is free-form.
func (p Payload) Equal(q Payload) bool {
	if p.ID != q.ID || p.Priority != q.Priority {
		return false
	}
	if len(p.Options) != len(q.Options) {
		return false
	}
	for i := range p.Options {
		if p.Options[i] != q.Options[i] {
			return false
		}
	}
	if len(p.Meta) != len(q.Meta) {
		return false
	}
	for k, v := range p.Meta {
		w, ok := q.Meta[k]
		if !ok || !reflect.DeepEqual(v, w) {
			return false
		}
	}
	return true
}

// OptionFor returns the first option targeting the given surface.
func (p Payload) OptionFor(surface Surface) (Option, bool) {
	for _, o := range p.Options {
		if o.Surface == surface {
			return o, true
		}
	}
	return Option{}, false
}

// Item is a payload bound to exactly one chosen option - the unit the
// engine schedules. The same payload can occupy multiple surfaces or
// variants as distinct items.
type Item struct {
	Payload Payload
	Option  Option
}

// New binds a payload to one of its options.
func New(p Payload, o Option) Item {
	return Item{Payload: p, Option: o}
}

// Resolve binds a payload to its option for the given surface.
func Resolve(p Payload, surface Surface) (Item, bool) {
	o, ok := p.OptionFor(surface)
	if !ok {
		return Item{}, false
	}
	return Item{Payload: p, Option: o}, true
}

// Key returns the item's composite identity.
func (it Item) Key() Key {
	return Key{ID: it.Payload.ID, Variant: it.Option.Variant, Surface: it.Option.Surface}
}

// ID returns the underlying payload id.
func (it Item) ID() string { return it.Payload.ID }

// Surface returns the surface the item is bound to.
func (it Item) Surface() Surface { return it.Option.Surface }

// Variant returns the bound option's visual variant.
func (it Item) Variant() string { return it.Option.Variant }

// Stage returns the bound option's ordering hint (0 = unset).
func (it Item) Stage() int { return it.Option.Stage }

// Priority returns the payload priority.
func (it Item) Priority() int { return it.Payload.Priority }

// Meta returns the payload metadata map. Callers must not modify it.
func (it Item) Meta() map[string]any { return it.Payload.Meta }

// Equal reports full value equality (payload and option).
// For identity comparison use Key().
func (it Item) Equal(other Item) bool {
	return it.Option == other.Option && it.Payload.Equal(other.Payload)
}
