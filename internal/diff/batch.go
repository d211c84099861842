package diff

// Batching wraps a Receiver and merges adjacent operations of the same
// kind into single calls before forwarding them, to minimize churn in the
// consumer (typically a UI list). Moves are never merged and flush any
// pending operation first. Changed operations are merged only when neither
// carries a payload.
//
// Callers going through Result.DispatchTo never need to construct one;
// dispatch wraps the receiver automatically. A manually driven Batching
// must be Flush()ed after the last operation.
type Batching struct {
	wrapped Receiver

	kind    pendingKind
	pos     int
	count   int
	payload any
}

type pendingKind int

const (
	pendingNone pendingKind = iota
	pendingInsert
	pendingRemove
	pendingChange
)

// NewBatching wraps rec in a coalescing receiver.
func NewBatching(rec Receiver) *Batching {
	return &Batching{wrapped: rec}
}

// Inserted implements Receiver.
func (b *Batching) Inserted(pos, count int) {
	if b.kind == pendingInsert && pos >= b.pos && pos <= b.pos+b.count {
		b.count += count
		b.pos = min(pos, b.pos)
		return
	}
	b.Flush()
	b.kind = pendingInsert
	b.pos = pos
	b.count = count
}

// Removed implements Receiver.
func (b *Batching) Removed(pos, count int) {
	if b.kind == pendingRemove && b.pos >= pos && b.pos <= pos+count {
		b.count += count
		b.pos = pos
		return
	}
	b.Flush()
	b.kind = pendingRemove
	b.pos = pos
	b.count = count
}

// Moved implements Receiver. Moves are forwarded immediately.
func (b *Batching) Moved(from, to int) {
	b.Flush()
	b.wrapped.Moved(from, to)
}

// Changed implements Receiver.
func (b *Batching) Changed(pos, count int, payload any) {
	if b.kind == pendingChange && payload == nil && b.payload == nil &&
		pos <= b.pos+b.count && pos+count >= b.pos {
		prevEnd := b.pos + b.count
		b.pos = min(pos, b.pos)
		b.count = max(prevEnd, pos+count) - b.pos
		return
	}
	b.Flush()
	b.kind = pendingChange
	b.pos = pos
	b.count = count
	b.payload = payload
}

// Flush forwards any pending merged operation.
func (b *Batching) Flush() {
	switch b.kind {
	case pendingInsert:
		b.wrapped.Inserted(b.pos, b.count)
	case pendingRemove:
		b.wrapped.Removed(b.pos, b.count)
	case pendingChange:
		b.wrapped.Changed(b.pos, b.count, b.payload)
	}
	b.kind = pendingNone
	b.payload = nil
}
