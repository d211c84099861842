package transition

import (
	"context"
	"time"

	"github.com/presentum/presentum/internal/item"
)

// Event is a lifecycle notification delivered to registered handlers.
type Event interface {
	// Subject is the item the event concerns.
	Subject() item.Item
	// When is the event timestamp.
	When() time.Time
}

// Shown is emitted when an item becomes active on a surface.
type Shown struct {
	Item item.Item
	At   time.Time
}

func (e Shown) Subject() item.Item { return e.Item }
func (e Shown) When() time.Time    { return e.At }

// Dismissed is emitted when the host reports an explicit dismissal.
type Dismissed struct {
	Item item.Item
	At   time.Time
}

func (e Dismissed) Subject() item.Item { return e.Item }
func (e Dismissed) When() time.Time    { return e.At }

// Converted is emitted when the host reports a conversion. Meta carries
// optional host-supplied context and may be nil.
type Converted struct {
	Item item.Item
	At   time.Time
	Meta map[string]any
}

func (e Converted) Subject() item.Item { return e.Item }
func (e Converted) When() time.Time    { return e.At }

// Handler receives lifecycle events after the in-memory state update.
type Handler interface {
	OnEvent(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) OnEvent(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Observer is notified of every published transition, after the new
// state is frozen and before it becomes visible to readers. Observers
// must not call back into the engine's mutation API.
type Observer interface {
	OnTransition(t *Transition)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(t *Transition)

func (f ObserverFunc) OnTransition(t *Transition) { f(t) }
