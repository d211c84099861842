// Package storage records item lifecycle history: when an item was shown,
// dismissed, or converted. Guards consult it for impression caps and
// cooldowns. Everything is keyed by the composite item identity
// (payload id, surface, variant).
//
// Three implementations exist: Nop (discards everything), Memory
// (mutex-guarded maps, used by tests and the harness), and SQLite
// (durable, WAL-mode single writer).
package storage

import (
	"context"
	"time"

	"github.com/presentum/presentum/internal/item"
)

// Store is the durable bookkeeping collaborator. Implementations must be
// safe for concurrent use; the engine calls them from its single writer
// but guards may hold references across await points.
type Store interface {
	// Init prepares the backing store. Idempotent.
	Init(ctx context.Context) error
	// Clear drops all recorded history.
	Clear(ctx context.Context) error
	// ClearItem drops the history of a single item.
	ClearItem(ctx context.Context, key item.Key) error

	// RecordShown appends a shown marker at the given time.
	RecordShown(ctx context.Context, key item.Key, at time.Time) error
	// LastShown returns the most recent shown marker, if any.
	LastShown(ctx context.Context, key item.Key) (time.Time, bool, error)
	// ShownCount counts shown markers at or after since; a zero since
	// counts all of them.
	ShownCount(ctx context.Context, key item.Key, since time.Time) (int, error)

	// RecordDismissed stores the dismissal time (latest wins).
	RecordDismissed(ctx context.Context, key item.Key, at time.Time) error
	// DismissedAt returns the recorded dismissal time, if any.
	DismissedAt(ctx context.Context, key item.Key) (time.Time, bool, error)

	// RecordConverted appends a conversion marker with optional metadata.
	RecordConverted(ctx context.Context, key item.Key, at time.Time, meta map[string]any) error
}

// Nop discards all writes and reports no history. Useful when the host
// application does not track impressions.
type Nop struct{}

var _ Store = Nop{}

func (Nop) Init(context.Context) error                             { return nil }
func (Nop) Clear(context.Context) error                            { return nil }
func (Nop) ClearItem(context.Context, item.Key) error              { return nil }
func (Nop) RecordShown(context.Context, item.Key, time.Time) error { return nil }

func (Nop) LastShown(context.Context, item.Key) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (Nop) ShownCount(context.Context, item.Key, time.Time) (int, error) {
	return 0, nil
}

func (Nop) RecordDismissed(context.Context, item.Key, time.Time) error { return nil }

func (Nop) DismissedAt(context.Context, item.Key) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (Nop) RecordConverted(context.Context, item.Key, time.Time, map[string]any) error {
	return nil
}
