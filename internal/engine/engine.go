// Package engine is the single-writer transaction processor. Every
// state-changing request - explicit transactions, candidate updates,
// lifecycle markers - is submitted as a job to one serialized worker
// loop. Jobs execute in priority-then-submission order; a running job is
// never preempted.
package engine

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/presentum/presentum/internal/diff"
	"github.com/presentum/presentum/internal/guard"
	"github.com/presentum/presentum/internal/item"
	"github.com/presentum/presentum/internal/state"
	"github.com/presentum/presentum/internal/storage"
	"github.com/presentum/presentum/internal/transition"
)

// ErrorSink receives every runtime error the engine swallows: guard
// failures, storage failures on the shown-marker bridge, handler
// failures. All errors are *RuntimeError values. The sink is called from
// the Run loop goroutine.
type ErrorSink func(err error)

// Engine owns the published state, the history, the candidate set, the
// guard pipeline, observers, and handlers.
//
// Thread-safety model:
//   - mutation API (Transaction, SetCandidates, Mark*, ...): safe from
//     any goroutine; each call enqueues a job
//   - Run: must be called from exactly one goroutine
//   - State, HistoryEntries, IsProcessing, Quiesce: safe from any
//     goroutine
//
// All state mutation happens on the Run loop goroutine; the candidate
// set and history are touched only there.
type Engine struct {
	store  storage.Store
	guards []guard.Guard
	tokens TokenGenerator
	clock  Clock
	sink   ErrorSink

	queue   *jobQueue
	current atomic.Pointer[state.State]

	histMu  sync.Mutex
	history *state.History

	// candidates is the last candidate set handed to the engine, used
	// verbatim by guard refresh re-runs. Loop goroutine only.
	candidates []item.Payload

	obsMu     sync.Mutex
	observers []transition.Observer
	handlers  []transition.Handler

	waitMu  sync.Mutex
	waiters []chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithGuards replaces the default guard chain. Order is evaluation
// order and never changes after construction.
func WithGuards(guards ...guard.Guard) Option {
	return func(e *Engine) { e.guards = guards }
}

// WithHistoryCap bounds the snapshot history.
func WithHistoryCap(cap int) Option {
	return func(e *Engine) { e.history = state.NewHistory(cap) }
}

// WithErrorSink replaces the default log-and-continue sink.
func WithErrorSink(sink ErrorSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithClock replaces the wall clock, for deterministic tests.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithTokens replaces the transaction token generator.
func WithTokens(g TokenGenerator) Option {
	return func(e *Engine) { e.tokens = g }
}

// New creates an Engine over a storage collaborator. Without options it
// runs the default guard chain, UUIDv7 tokens, the system clock, and a
// sink that logs errors.
func New(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		guards:  guard.Defaults(),
		tokens:  UUIDv7Generator{},
		clock:   systemClock{},
		queue:   newJobQueue(),
		history: state.NewHistory(0),
	}
	e.sink = func(err error) {
		slog.Error("engine error", "error", err)
	}
	e.current.Store(state.New().Freeze())

	for _, opt := range opts {
		opt(e)
	}

	// Wire refresh side channels: a refreshable guard asks for a re-run
	// of the pipeline with the last candidate set.
	guard.NewPipeline(e.guards...).Subscribe(func() { e.refresh() })

	return e
}

// Run starts the single-writer job loop. Blocks until the context is
// cancelled or Stop is called.
//
// On job failure the error goes to the sink and processing continues;
// one broken guard or collaborator must not crash unrelated callers.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting")

	for {
		j, ok := e.queue.TryDequeue()
		if ok {
			queueDepth.Set(float64(e.queue.Len()))
			err := e.runJob(ctx, j)
			e.queue.Done()
			jobsProcessed.WithLabelValues(j.name).Inc()

			if j.done != nil {
				j.done <- err
			} else if err != nil {
				e.sink(err)
			}
			e.notifyIfIdle()
			continue
		}

		e.notifyIfIdle()

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes when the queue closes, which
			// makes this case fire immediately. A wakeup can also be a
			// leftover token from a job already consumed on the fast
			// path, so an empty queue alone never ends the loop.
			if e.queue.Closed() && e.queue.Len() == 0 {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop gracefully shuts down the engine. Queued jobs are drained before
// Run returns.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) runJob(ctx context.Context, j *job) error {
	slog.Debug("processing job", "job", j.name, "tx", j.token, "priority", j.priority)
	return j.run(ctx)
}

// State returns the last published frozen snapshot. Never nil.
func (e *Engine) State() *state.State {
	return e.current.Load()
}

// HistoryEntries returns a copy of the snapshot history, oldest first.
func (e *Engine) HistoryEntries() []state.HistoryEntry {
	e.histMu.Lock()
	defer e.histMu.Unlock()
	return e.history.Entries()
}

// IsProcessing reports whether the queue is non-empty or a job is in
// flight. The in-flight mark is taken under the queue lock during
// dequeue, so there is no window where a dequeued job is invisible.
func (e *Engine) IsProcessing() bool {
	return e.queue.Busy()
}

// Quiesce blocks until the queue drains with no job in flight, or the
// context is cancelled. This is how tests wait for a stable state before
// reading it.
func (e *Engine) Quiesce(ctx context.Context) error {
	e.waitMu.Lock()
	if !e.IsProcessing() {
		e.waitMu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	e.waiters = append(e.waiters, ch)
	e.waitMu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

func (e *Engine) notifyIfIdle() {
	e.waitMu.Lock()
	defer e.waitMu.Unlock()
	if e.IsProcessing() {
		return
	}
	for _, ch := range e.waiters {
		close(ch)
	}
	e.waiters = nil
}

// Observe registers a transition observer. Observers run on the loop
// goroutine after the new state is frozen and before it is published;
// they must not call back into the mutation API.
func (e *Engine) Observe(obs transition.Observer) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.observers = append(e.observers, obs)
}

// Handle registers a lifecycle event handler.
func (e *Engine) Handle(h transition.Handler) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.handlers = append(e.handlers, h)
}

func (e *Engine) snapshotObservers() []transition.Observer {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	return slices.Clone(e.observers)
}

func (e *Engine) snapshotHandlers() []transition.Handler {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	return slices.Clone(e.handlers)
}

func (e *Engine) enqueue(j *job) bool {
	ok := e.queue.Enqueue(j)
	if ok {
		queueDepth.Set(float64(e.queue.Len()))
	}
	return ok
}

// SetState submits an unprioritized transaction. The transform edits a
// mutable copy of the current state before the guard pipeline runs.
func (e *Engine) SetState(transform func(*state.State)) bool {
	return e.Transaction(transform, 0)
}

// Transaction submits a prioritized state mutation. Higher priorities
// jump ahead of queued lower-priority jobs; a job already executing is
// never interrupted.
func (e *Engine) Transaction(transform func(*state.State), priority int) bool {
	token := e.tokens.NewToken()
	return e.enqueue(&job{
		name:     "transaction",
		token:    token,
		priority: priority,
		run: func(ctx context.Context) error {
			return e.runPipeline(ctx, token, transform, e.candidates)
		},
	})
}

// SetCandidates submits a direct candidate replacement. The producer
// receives the current published state and the current candidate list
// and returns the new full list; guards interpret it starting from the
// current state, with no automatic diffing.
func (e *Engine) SetCandidates(produce func(s *state.State, current []item.Payload) []item.Payload) bool {
	token := e.tokens.NewToken()
	return e.enqueue(&job{
		name:  "set-candidates",
		token: token,
		run: func(ctx context.Context) error {
			next := produce(e.current.Load(), slices.Clone(e.candidates))
			e.candidates = slices.Clone(next)
			return e.runPipeline(ctx, token, nil, e.candidates)
		},
	})
}

// CandidateDiff configures SetCandidatesWithDiff.
type CandidateDiff struct {
	// DetectMoves enables move detection at additional cost over the
	// changed-item count.
	DetectMoves bool
	// Receiver, when non-nil, gets the edit script relating the old
	// candidate list to the new one.
	Receiver diff.Receiver
}

// SetCandidatesWithDiff submits a diff-assisted candidate replacement:
// the old and new lists are related by a minimal edit script (identity
// by payload id, content by payload equality) before guards run on the
// new list.
func (e *Engine) SetCandidatesWithDiff(next []item.Payload, opt CandidateDiff) bool {
	token := e.tokens.NewToken()
	next = slices.Clone(next)
	return e.enqueue(&job{
		name:  "set-candidates-diff",
		token: token,
		run: func(ctx context.Context) error {
			result := diff.Slices(e.candidates, next,
				func(p item.Payload) string { return p.ID },
				item.Payload.Equal,
				opt.DetectMoves)
			if opt.Receiver != nil {
				result.DispatchTo(opt.Receiver)
			}
			e.candidates = next
			return e.runPipeline(ctx, token, nil, e.candidates)
		},
	})
}

// PushSlot submits items directly to a surface, bypassing the guard
// pipeline. The usual promotion rule applies: an empty slot activates
// the first item.
func (e *Engine) PushSlot(surface item.Surface, items ...item.Item) bool {
	return e.PushAllSlots(map[item.Surface][]item.Item{surface: items})
}

// PushAllSlots is PushSlot over several surfaces in one job.
func (e *Engine) PushAllSlots(slots map[item.Surface][]item.Item) bool {
	token := e.tokens.NewToken()
	return e.enqueue(&job{
		name:  "push-slots",
		token: token,
		run: func(ctx context.Context) error {
			cur := e.current.Load()
			working := cur.Mutate()
			for _, surface := range sortedSurfaces(slots) {
				working.Add(surface, slots[surface]...)
			}
			e.publish(ctx, token, cur, working, e.clock.Now())
			return nil
		},
	})
}

func sortedSurfaces(slots map[item.Surface][]item.Item) []item.Surface {
	out := make([]item.Surface, 0, len(slots))
	for surface := range slots {
		out = append(out, surface)
	}
	slices.Sort(out)
	return out
}

// RemoveByID submits a removal of every item with the payload id,
// globally or scoped to the given surfaces. Queue heads are promoted
// when an active item is removed.
func (e *Engine) RemoveByID(id string, surfaces ...item.Surface) bool {
	token := e.tokens.NewToken()
	return e.enqueue(&job{
		name:  "remove-by-id",
		token: token,
		run: func(ctx context.Context) error {
			cur := e.current.Load()
			working := cur.Mutate()
			if working.RemoveByID(id, surfaces...) == 0 {
				return nil
			}
			e.publish(ctx, token, cur, working, e.clock.Now())
			return nil
		},
	})
}

// MarkShown records a shown marker and dispatches a Shown event. The
// scheduled state is not touched. A storage failure is returned to the
// caller but never blocks the dispatch.
func (e *Engine) MarkShown(ctx context.Context, it item.Item) error {
	token := e.tokens.NewToken()
	return e.submitLifecycle(ctx, &job{
		name:  "mark-shown",
		token: token,
		run: func(jctx context.Context) error {
			now := e.clock.Now()
			var failed error
			if err := e.store.RecordShown(jctx, it.Key(), now); err != nil {
				failed = NewStorageError(token, "record shown", err)
			}
			e.dispatchEvent(jctx, token, transition.Shown{Item: it, At: now})
			return failed
		},
	})
}

// MarkDismissed records a dismissal, removes the item from its slot
// (promoting the queue head), and dispatches a Dismissed event. A
// storage failure is returned to the caller but never blocks the
// in-memory update.
func (e *Engine) MarkDismissed(ctx context.Context, it item.Item) error {
	token := e.tokens.NewToken()
	return e.submitLifecycle(ctx, &job{
		name:  "mark-dismissed",
		token: token,
		run: func(jctx context.Context) error {
			now := e.clock.Now()
			var failed error
			if err := e.store.RecordDismissed(jctx, it.Key(), now); err != nil {
				failed = NewStorageError(token, "record dismissed", err)
			}
			e.removeItem(jctx, token, it, now)
			e.dispatchEvent(jctx, token, transition.Dismissed{Item: it, At: now})
			return failed
		},
	})
}

// MarkConverted records a conversion with optional metadata, removes the
// item from its slot, and dispatches a Converted event.
func (e *Engine) MarkConverted(ctx context.Context, it item.Item, meta map[string]any) error {
	token := e.tokens.NewToken()
	return e.submitLifecycle(ctx, &job{
		name:  "mark-converted",
		token: token,
		run: func(jctx context.Context) error {
			now := e.clock.Now()
			var failed error
			if err := e.store.RecordConverted(jctx, it.Key(), now, meta); err != nil {
				failed = NewStorageError(token, "record converted", err)
			}
			e.removeItem(jctx, token, it, now)
			e.dispatchEvent(jctx, token, transition.Converted{Item: it, At: now, Meta: meta})
			return failed
		},
	})
}

// AddEvent submits an externally produced lifecycle event: it is
// recorded against storage per its type and dispatched to handlers. The
// scheduled state is not touched.
func (e *Engine) AddEvent(ctx context.Context, ev transition.Event) error {
	token := e.tokens.NewToken()
	return e.submitLifecycle(ctx, &job{
		name:  "add-event",
		token: token,
		run: func(jctx context.Context) error {
			var failed error
			key := ev.Subject().Key()
			switch v := ev.(type) {
			case transition.Shown:
				if err := e.store.RecordShown(jctx, key, v.At); err != nil {
					failed = NewStorageError(token, "record shown", err)
				}
			case transition.Dismissed:
				if err := e.store.RecordDismissed(jctx, key, v.At); err != nil {
					failed = NewStorageError(token, "record dismissed", err)
				}
			case transition.Converted:
				if err := e.store.RecordConverted(jctx, key, v.At, v.Meta); err != nil {
					failed = NewStorageError(token, "record converted", err)
				}
			}
			e.dispatchEvent(jctx, token, ev)
			return failed
		},
	})
}

// submitLifecycle enqueues a job carrying a completion channel and waits
// for its result. Must not be called from the loop goroutine.
func (e *Engine) submitLifecycle(ctx context.Context, j *job) error {
	j.done = make(chan error, 1)
	if !e.enqueue(j) {
		return ErrStopped
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// refresh re-runs the pipeline with the last candidate set, on behalf of
// a refreshable guard.
func (e *Engine) refresh() {
	token := e.tokens.NewToken()
	e.enqueue(&job{
		name:  "refresh",
		token: token,
		run: func(ctx context.Context) error {
			return e.runPipeline(ctx, token, nil, e.candidates)
		},
	})
}

// runPipeline executes one guard pipeline run: derive a mutable state,
// apply the optional transform, run the guards in order, then publish
// unless a guard cancelled or failed.
func (e *Engine) runPipeline(ctx context.Context, token string, transform func(*state.State), candidates []item.Payload) error {
	now := e.clock.Now()
	wall := time.Now()

	cur := e.current.Load()
	working := cur.Mutate()
	working.SetIntention(state.Auto)
	if transform != nil {
		transform(working)
	}

	tx := &guard.Tx{
		Store:      e.store,
		History:    e.history,
		State:      working,
		Candidates: slices.Clone(candidates),
		Values:     make(map[string]any),
		Now:        now,
	}

	for _, g := range e.guards {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := g.Apply(ctx, tx); err != nil {
			guardFailures.Inc()
			pipelineDuration.Observe(time.Since(wall).Seconds())
			return NewGuardError(token, g.Name(), err)
		}
		if tx.Cancelled() {
			break
		}
	}
	pipelineDuration.Observe(time.Since(wall).Seconds())

	if tx.Cancelled() {
		cancelledRuns.Inc()
		slog.Debug("pipeline run cancelled", "tx", token)
		return nil
	}

	e.publish(ctx, token, cur, tx.State, now)
	return nil
}

// publish freezes the working state, notifies observers, installs the
// snapshot, appends history, and feeds the event/storage bridge: every
// activation records a shown marker and dispatches a Shown event.
func (e *Engine) publish(ctx context.Context, token string, old, next *state.State, at time.Time) {
	frozen := next.Freeze()
	tr := transition.New(old, frozen, at)

	for _, obs := range e.snapshotObservers() {
		obs.OnTransition(tr)
	}

	e.current.Store(frozen)
	e.histMu.Lock()
	e.history.Append(frozen, at)
	e.histMu.Unlock()
	transitionsPublished.Inc()

	for _, it := range tr.Diff().Activated() {
		if err := e.store.RecordShown(ctx, it.Key(), at); err != nil {
			e.sink(NewStorageError(token, "record shown", err))
		}
		e.dispatchEvent(ctx, token, transition.Shown{Item: it, At: at})
	}
}

func (e *Engine) removeItem(ctx context.Context, token string, it item.Item, at time.Time) {
	cur := e.current.Load()
	working := cur.Mutate()
	key := it.Key()
	removed := working.RemoveFromSurface(it.Surface(), func(x item.Item) bool {
		return x.Key() == key
	})
	if removed == 0 {
		return
	}
	e.publish(ctx, token, cur, working, at)
}

func (e *Engine) dispatchEvent(ctx context.Context, token string, ev transition.Event) {
	for _, h := range e.snapshotHandlers() {
		if err := h.OnEvent(ctx, ev); err != nil {
			e.sink(NewHandlerError(token, err))
		}
	}
}
