package storage

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/presentum/presentum/internal/item"
)

// Memory is an in-memory Store for tests and the scenario harness.
// Safe for concurrent use.
type Memory struct {
	mu        sync.Mutex
	shown     map[item.Key][]time.Time
	dismissed map[item.Key]time.Time
	converted map[item.Key][]conversion
}

type conversion struct {
	at   time.Time
	meta map[string]any
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	m := &Memory{}
	m.reset()
	return m
}

func (m *Memory) reset() {
	m.shown = make(map[item.Key][]time.Time)
	m.dismissed = make(map[item.Key]time.Time)
	m.converted = make(map[item.Key][]conversion)
}

func (m *Memory) Init(context.Context) error { return nil }

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
	return nil
}

func (m *Memory) ClearItem(_ context.Context, key item.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.shown, key)
	delete(m.dismissed, key)
	delete(m.converted, key)
	return nil
}

func (m *Memory) RecordShown(_ context.Context, key item.Key, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shown[key] = append(m.shown[key], at)
	return nil
}

func (m *Memory) LastShown(_ context.Context, key item.Key) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	times := m.shown[key]
	if len(times) == 0 {
		return time.Time{}, false, nil
	}
	last := slices.MaxFunc(times, time.Time.Compare)
	return last, true, nil
}

func (m *Memory) ShownCount(_ context.Context, key item.Key, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, at := range m.shown[key] {
		if since.IsZero() || !at.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) RecordDismissed(_ context.Context, key item.Key, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dismissed[key] = at
	return nil
}

func (m *Memory) DismissedAt(_ context.Context, key item.Key) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.dismissed[key]
	return at, ok, nil
}

func (m *Memory) RecordConverted(_ context.Context, key item.Key, at time.Time, meta map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.converted[key] = append(m.converted[key], conversion{at: at, meta: meta})
	return nil
}

// ConvertedCount reports the number of recorded conversions for an item.
// Not part of the Store contract; used by tests.
func (m *Memory) ConvertedCount(key item.Key) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.converted[key])
}
