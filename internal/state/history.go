package state

import "time"

// DefaultHistoryCap bounds the number of retained snapshots.
const DefaultHistoryCap = 10000

// HistoryEntry is one published snapshot with its publish time.
type HistoryEntry struct {
	State *State
	At    time.Time
}

// History is a bounded, timestamp-ordered list of frozen snapshots.
// When the cap is exceeded the oldest entry is evicted first.
//
// History is owned exclusively by the engine's single writer and is not
// safe for concurrent mutation.
type History struct {
	cap     int
	entries []HistoryEntry
}

// NewHistory creates a history with the given cap; a cap of zero or less
// uses DefaultHistoryCap.
func NewHistory(cap int) *History {
	if cap <= 0 {
		cap = DefaultHistoryCap
	}
	return &History{cap: cap}
}

// Cap returns the configured retention limit.
func (h *History) Cap() int { return h.cap }

// Len returns the number of retained entries.
func (h *History) Len() int { return len(h.entries) }

// Append records a snapshot. The state must already be frozen.
func (h *History) Append(s *State, at time.Time) {
	if !s.Frozen() {
		panic("state: history accepts only frozen snapshots")
	}
	h.entries = append(h.entries, HistoryEntry{State: s, At: at})
	if len(h.entries) > h.cap {
		overflow := len(h.entries) - h.cap
		// Nil out evicted slots so snapshots can be collected.
		copy(h.entries, h.entries[overflow:])
		for i := len(h.entries) - overflow; i < len(h.entries); i++ {
			h.entries[i] = HistoryEntry{}
		}
		h.entries = h.entries[:len(h.entries)-overflow]
	}
}

// Entries returns a copy of the retained entries, oldest first.
func (h *History) Entries() []HistoryEntry {
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Latest returns the most recent entry.
func (h *History) Latest() (HistoryEntry, bool) {
	if len(h.entries) == 0 {
		return HistoryEntry{}, false
	}
	return h.entries[len(h.entries)-1], true
}
