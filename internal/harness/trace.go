package harness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/presentum/presentum/internal/item"
	"github.com/presentum/presentum/internal/testutil"
	"github.com/presentum/presentum/internal/transition"
)

// TraceEvent is one entry of a scenario trace: either a per-surface
// transition or a lifecycle event. Items are identified by their
// composite key rendered as "id/surface/variant".
type TraceEvent struct {
	Type string
	At   time.Time

	// Transition fields.
	Surface     string
	Class       string
	Activated   string
	Deactivated string
	Queued      []string
	Dequeued    []string

	// Lifecycle fields.
	Item string
	Meta map[string]any
}

// Trace event types.
const (
	EventTransition = "transition"
	EventShown      = "shown"
	EventDismissed  = "dismissed"
	EventConverted  = "converted"
)

func keyString(k item.Key) string {
	return fmt.Sprintf("%s/%s/%s", k.ID, k.Surface, k.Variant)
}

func keyStrings(items []item.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = keyString(it.Key())
	}
	return out
}

// recorder captures transitions and lifecycle events into an ordered
// trace. Both callbacks run on the engine loop goroutine; the mutex
// covers the final read from the harness goroutine.
type recorder struct {
	mu     sync.Mutex
	events []TraceEvent
}

var (
	_ transition.Observer = (*recorder)(nil)
	_ transition.Handler  = (*recorder)(nil)
)

func (r *recorder) OnTransition(tr *transition.Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sd := range tr.Diff().Surfaces {
		ev := TraceEvent{
			Type:     EventTransition,
			At:       tr.At,
			Surface:  string(sd.Surface),
			Class:    sd.Class.String(),
			Queued:   keyStrings(sd.Queued),
			Dequeued: keyStrings(sd.Dequeued),
		}
		if sd.Activated != nil {
			ev.Activated = keyString(sd.Activated.Key())
		}
		if sd.Deactivated != nil {
			ev.Deactivated = keyString(sd.Deactivated.Key())
		}
		r.events = append(r.events, ev)
	}
}

func (r *recorder) OnEvent(_ context.Context, ev transition.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := TraceEvent{
		At:   ev.When(),
		Item: keyString(ev.Subject().Key()),
	}
	switch v := ev.(type) {
	case transition.Shown:
		entry.Type = EventShown
	case transition.Dismissed:
		entry.Type = EventDismissed
	case transition.Converted:
		entry.Type = EventConverted
		entry.Meta = v.Meta
	default:
		entry.Type = "unknown"
	}
	r.events = append(r.events, entry)
	return nil
}

func (r *recorder) Events() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TraceEvent, len(r.events))
	copy(out, r.events)
	return out
}

// canonicalMap renders the event for canonical JSON. Zero-valued fields
// are omitted so goldens stay readable; timestamps become millisecond
// offsets from the deterministic epoch.
func (ev TraceEvent) canonicalMap() map[string]any {
	m := map[string]any{
		"type":  ev.Type,
		"at_ms": ev.At.Sub(testutil.Epoch).Milliseconds(),
	}
	if ev.Surface != "" {
		m["surface"] = ev.Surface
	}
	if ev.Class != "" && ev.Type == EventTransition {
		m["class"] = ev.Class
	}
	if ev.Activated != "" {
		m["activated"] = ev.Activated
	}
	if ev.Deactivated != "" {
		m["deactivated"] = ev.Deactivated
	}
	if len(ev.Queued) > 0 {
		m["queued"] = ev.Queued
	}
	if len(ev.Dequeued) > 0 {
		m["dequeued"] = ev.Dequeued
	}
	if ev.Item != "" {
		m["item"] = ev.Item
	}
	if len(ev.Meta) > 0 {
		m["meta"] = ev.Meta
	}
	return m
}

// EncodeTrace renders a scenario trace as canonical JSON bytes for
// golden comparison.
func EncodeTrace(name string, events []TraceEvent) ([]byte, error) {
	list := make([]any, len(events))
	for i, ev := range events {
		list[i] = ev.canonicalMap()
	}
	return marshalCanonical(map[string]any{
		"scenario": name,
		"trace":    list,
	})
}
