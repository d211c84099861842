package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presentum/presentum/internal/guard"
	"github.com/presentum/presentum/internal/item"
	"github.com/presentum/presentum/internal/state"
	"github.com/presentum/presentum/internal/storage"
	"github.com/presentum/presentum/internal/testutil"
	"github.com/presentum/presentum/internal/transition"
)

func payload(id string, priority int, opts ...item.Option) item.Payload {
	if len(opts) == 0 {
		opts = []item.Option{{Surface: "banner", Variant: "default"}}
	}
	return item.Payload{ID: id, Priority: priority, Options: opts}
}

func resolved(p item.Payload) item.Item {
	return item.New(p, p.Options[0])
}

// errSink collects sink errors across goroutines.
type errSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errSink) add(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *errSink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func newEngine(t *testing.T, opts ...Option) (*Engine, *storage.Memory, *errSink) {
	t.Helper()
	mem := storage.NewMemory()
	sink := &errSink{}
	base := []Option{
		WithClock(testutil.NewDeterministicClock().WithStep(time.Second)),
		WithTokens(testutil.NewFixedTokens("")),
		WithErrorSink(sink.add),
	}
	e := New(mem, append(base, opts...)...)
	return e, mem, sink
}

// start runs the engine loop and returns after it is live; cleanup stops
// it and waits for Run to return.
func start(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-finished
	})
}

func quiesce(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Quiesce(ctx))
}

func TestEngine_PriorityThenSubmissionOrder(t *testing.T) {
	e, _, _ := newEngine(t, WithGuards()) // no guards, transforms only

	var mu sync.Mutex
	var order []string
	record := func(name string) func(*state.State) {
		return func(*state.State) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	// Neither job has started: the engine loop is not running yet.
	require.True(t, e.Transaction(record("p1"), 1))
	require.True(t, e.Transaction(record("p5"), 5))

	start(t, e)
	quiesce(t, e)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"p5", "p1"}, order)
}

func TestEngine_RunningJobNeverPreempted(t *testing.T) {
	e, _, _ := newEngine(t, WithGuards())
	start(t, e)

	var mu sync.Mutex
	var order []string
	entered := make(chan struct{})
	release := make(chan struct{})

	require.True(t, e.Transaction(func(*state.State) {
		close(entered)
		<-release
		mu.Lock()
		order = append(order, "slow")
		mu.Unlock()
	}, 0))

	<-entered // the slow job is executing
	require.True(t, e.Transaction(func(*state.State) {
		mu.Lock()
		order = append(order, "high")
		mu.Unlock()
	}, 99))
	close(release)

	quiesce(t, e)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"slow", "high"}, order, "later high-priority submission never interrupts")
}

func TestEngine_CancelLeavesStateUntouched(t *testing.T) {
	veto := guard.New("veto", func(_ context.Context, tx *guard.Tx) error {
		tx.Cancel()
		return nil
	})
	e, _, sink := newEngine(t, WithGuards(veto))
	start(t, e)

	observed := 0
	e.Observe(transition.ObserverFunc(func(*transition.Transition) { observed++ }))

	before := e.State()
	require.True(t, e.SetState(func(s *state.State) {
		s.Add("banner", resolved(payload("a", 0)))
	}))
	quiesce(t, e)

	assert.Same(t, before, e.State(), "cancelled run keeps the previous snapshot")
	assert.Zero(t, observed, "no transition observer fires on cancel")
	assert.Empty(t, sink.all(), "cancel is not an error")
	assert.Empty(t, e.HistoryEntries())
}

func TestEngine_GuardFailureGoesToSink(t *testing.T) {
	boom := errors.New("boom")
	broken := guard.New("broken", func(context.Context, *guard.Tx) error { return boom })
	e, _, sink := newEngine(t, WithGuards(broken))
	start(t, e)

	before := e.State()
	require.True(t, e.SetState(func(s *state.State) {
		s.Add("banner", resolved(payload("a", 0)))
	}))
	quiesce(t, e)

	assert.Same(t, before, e.State(), "failed run keeps the previous snapshot")
	errs := sink.all()
	require.Len(t, errs, 1)
	assert.True(t, IsGuardError(errs[0]))
	assert.ErrorIs(t, errs[0], boom)

	var re *RuntimeError
	require.ErrorAs(t, errs[0], &re)
	assert.Equal(t, "broken", re.Guard)
	assert.Equal(t, "tx-000001", re.Token)
}

func TestEngine_SetCandidatesPublishesAndRecordsShown(t *testing.T) {
	e, mem, sink := newEngine(t)
	start(t, e)

	var events []transition.Event
	var evMu sync.Mutex
	e.Handle(transition.HandlerFunc(func(_ context.Context, ev transition.Event) error {
		evMu.Lock()
		events = append(events, ev)
		evMu.Unlock()
		return nil
	}))

	high := payload("high", 9)
	low := payload("low", 1)
	require.True(t, e.SetCandidates(func(_ *state.State, _ []item.Payload) []item.Payload {
		return []item.Payload{low, high}
	}))
	quiesce(t, e)

	sl, ok := e.State().Slot("banner")
	require.True(t, ok)
	require.NotNil(t, sl.Active)
	assert.Equal(t, "high", sl.Active.ID())
	require.Len(t, sl.Queue, 1)
	assert.Equal(t, "low", sl.Queue[0].ID())

	// The activation crossed the storage bridge.
	n, err := mem.ShownCount(context.Background(), resolved(high).Key(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = mem.ShownCount(context.Background(), resolved(low).Key(), time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n, "queued items are not shown")

	evMu.Lock()
	defer evMu.Unlock()
	require.Len(t, events, 1)
	shown, ok := events[0].(transition.Shown)
	require.True(t, ok)
	assert.Equal(t, "high", shown.Item.ID())
	assert.Empty(t, sink.all())
	assert.Len(t, e.HistoryEntries(), 1)
}

// recordingReceiver captures the edit script from a diff-assisted update.
type recordingReceiver struct {
	mu  sync.Mutex
	ops []string
}

func (r *recordingReceiver) Inserted(pos, count int) { r.log("insert") }
func (r *recordingReceiver) Removed(pos, count int)  { r.log("remove") }
func (r *recordingReceiver) Moved(from, to int)      { r.log("move") }
func (r *recordingReceiver) Changed(pos, count int, payload any) {
	r.log("change")
}

func (r *recordingReceiver) log(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func (r *recordingReceiver) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

func TestEngine_SetCandidatesWithDiff(t *testing.T) {
	e, _, _ := newEngine(t)
	start(t, e)

	a, b, c := payload("a", 0), payload("b", 0), payload("c", 0)
	require.True(t, e.SetCandidates(func(_ *state.State, _ []item.Payload) []item.Payload {
		return []item.Payload{a, b}
	}))
	quiesce(t, e)

	rec := &recordingReceiver{}
	require.True(t, e.SetCandidatesWithDiff([]item.Payload{b, c}, CandidateDiff{Receiver: rec}))
	quiesce(t, e)

	// a removed, c inserted.
	assert.ElementsMatch(t, []string{"remove", "insert"}, rec.all())
	assert.False(t, e.State().ContainsID("a"))
	assert.True(t, e.State().ContainsID("b"))
	assert.True(t, e.State().ContainsID("c"))
}

func TestEngine_MarkDismissedRemovesAndPromotes(t *testing.T) {
	e, mem, _ := newEngine(t)
	start(t, e)

	first := payload("first", 9)
	second := payload("second", 1)
	require.True(t, e.SetCandidates(func(_ *state.State, _ []item.Payload) []item.Payload {
		return []item.Payload{first, second}
	}))
	quiesce(t, e)

	ctx := context.Background()
	require.NoError(t, e.MarkDismissed(ctx, resolved(first)))

	sl, ok := e.State().Slot("banner")
	require.True(t, ok)
	require.NotNil(t, sl.Active)
	assert.Equal(t, "second", sl.Active.ID(), "queue head promoted")
	assert.False(t, e.State().ContainsID("first"))

	_, dismissed, err := mem.DismissedAt(ctx, resolved(first).Key())
	require.NoError(t, err)
	assert.True(t, dismissed)

	// Re-running the default pipeline does not resurrect the dismissal.
	require.True(t, e.SetCandidates(func(_ *state.State, current []item.Payload) []item.Payload {
		return current
	}))
	quiesce(t, e)
	assert.False(t, e.State().ContainsID("first"))
}

func TestEngine_MarkShownRecordsOnly(t *testing.T) {
	e, mem, _ := newEngine(t)
	start(t, e)

	p := payload("a", 0)
	require.True(t, e.SetCandidates(func(_ *state.State, _ []item.Payload) []item.Payload {
		return []item.Payload{p}
	}))
	quiesce(t, e)

	ctx := context.Background()
	require.NoError(t, e.MarkShown(ctx, resolved(p)))
	assert.True(t, e.State().ContainsID("a"), "MarkShown does not unschedule")

	n, err := mem.ShownCount(ctx, resolved(p).Key(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "activation marker plus explicit marker")
}

// failingStore rejects writes but otherwise behaves like its delegate.
type failingStore struct {
	storage.Store
	err error
}

func (f failingStore) RecordShown(context.Context, item.Key, time.Time) error { return f.err }

func TestEngine_StorageFailureSurfacedNotBlocking(t *testing.T) {
	boom := errors.New("disk full")
	sink := &errSink{}
	e := New(failingStore{Store: storage.NewMemory(), err: boom},
		WithGuards(),
		WithClock(testutil.NewDeterministicClock()),
		WithTokens(testutil.NewFixedTokens("")),
		WithErrorSink(sink.add))
	start(t, e)

	var events int
	var evMu sync.Mutex
	e.Handle(transition.HandlerFunc(func(context.Context, transition.Event) error {
		evMu.Lock()
		events++
		evMu.Unlock()
		return nil
	}))

	err := e.MarkShown(context.Background(), resolved(payload("a", 0)))
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
	assert.ErrorIs(t, err, boom)

	evMu.Lock()
	defer evMu.Unlock()
	assert.Equal(t, 1, events, "event dispatch is not blocked by the storage failure")
}

func TestEngine_HistoryCap(t *testing.T) {
	e, _, _ := newEngine(t, WithGuards(), WithHistoryCap(2))
	start(t, e)

	for i := 0; i < 5; i++ {
		p := payload(string(rune('a'+i)), 0)
		require.True(t, e.SetState(func(s *state.State) {
			s.Add("banner", resolved(p))
		}))
	}
	quiesce(t, e)

	entries := e.HistoryEntries()
	require.Len(t, entries, 2, "oldest entries evicted")
	latest := entries[1].State
	assert.Same(t, e.State(), latest)
}

type toggleResolver struct {
	mu    sync.Mutex
	allow bool
}

func (r *toggleResolver) IsEligible(context.Context, item.Item) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allow, nil
}

func (r *toggleResolver) set(allow bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allow = allow
}

func TestEngine_RefreshReRunsWithLastCandidates(t *testing.T) {
	resolver := &toggleResolver{}
	elig := guard.NewEligibility(resolver)
	e, _, _ := newEngine(t, WithGuards(elig, guard.Installer()))
	start(t, e)

	require.True(t, e.SetCandidates(func(_ *state.State, _ []item.Payload) []item.Payload {
		return []item.Payload{payload("gated", 0)}
	}))
	quiesce(t, e)
	assert.False(t, e.State().ContainsID("gated"))

	// The external condition flips; the guard signals a refresh and the
	// engine re-runs the pipeline with the same candidate set.
	resolver.set(true)
	elig.Refresh()
	quiesce(t, e)
	assert.True(t, e.State().ContainsID("gated"))
}

func TestEngine_SequentialTransactionsSurviveStaleSignals(t *testing.T) {
	e, _, _ := newEngine(t, WithGuards())
	start(t, e)

	// Each submission leaves a signal token behind when the loop takes
	// the job on the fast path; the next wakeup must not be mistaken
	// for a close.
	var mu sync.Mutex
	ran := 0
	for i := 0; i < 50; i++ {
		require.True(t, e.SetState(func(*state.State) {
			mu.Lock()
			ran++
			mu.Unlock()
		}))
		quiesce(t, e)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 50, ran)
}

func TestEngine_ProcessingCoversDequeuedJob(t *testing.T) {
	e, _, _ := newEngine(t, WithGuards())
	start(t, e)

	entered := make(chan struct{})
	release := make(chan struct{})
	require.True(t, e.Transaction(func(*state.State) {
		close(entered)
		<-release
	}, 0))

	// The job has been dequeued and is executing; the queue itself is
	// empty, yet the engine must still report work in flight so Quiesce
	// does not return early.
	<-entered
	assert.Equal(t, 0, e.queue.Len())
	assert.True(t, e.IsProcessing())

	quiesced := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		quiesced <- e.Quiesce(ctx)
	}()
	close(release)
	require.NoError(t, <-quiesced)
	assert.False(t, e.IsProcessing())
}

func TestEngine_SetCandidatesLeavesCallerPayloadsUntouched(t *testing.T) {
	e, _, _ := newEngine(t)
	start(t, e)

	opts := []item.Option{
		{Surface: "banner", Variant: "late", Stage: 2},
		{Surface: "banner", Variant: "early", Stage: 1},
	}
	p := item.Payload{ID: "a", Options: opts}
	require.True(t, e.SetCandidatesWithDiff([]item.Payload{p}, CandidateDiff{}))
	quiesce(t, e)

	// The pipeline orders options by stage on its own copy; the slice
	// the caller handed in keeps its original order.
	assert.Equal(t, "late", opts[0].Variant)
	assert.Equal(t, "early", opts[1].Variant)
}

func TestEngine_QuiesceIdleReturnsImmediately(t *testing.T) {
	e, _, _ := newEngine(t)
	assert.False(t, e.IsProcessing())
	require.NoError(t, e.Quiesce(context.Background()))
}

func TestEngine_StopRejectsNewJobs(t *testing.T) {
	e, _, _ := newEngine(t)
	start(t, e)
	quiesce(t, e)
	e.Stop()

	assert.False(t, e.SetState(func(*state.State) {}))
	err := e.MarkShown(context.Background(), resolved(payload("a", 0)))
	assert.ErrorIs(t, err, ErrStopped)
}
