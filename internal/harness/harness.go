// Package harness executes declarative YAML scenarios against a real
// engine with in-memory storage, a deterministic clock, and fixed
// transaction tokens. Every run of the same scenario produces a
// byte-identical trace, which is compared against golden files.
package harness

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/presentum/presentum/internal/catalog"
	"github.com/presentum/presentum/internal/engine"
	"github.com/presentum/presentum/internal/item"
	"github.com/presentum/presentum/internal/state"
	"github.com/presentum/presentum/internal/storage"
	"github.com/presentum/presentum/internal/testutil"
)

// Result is the outcome of one scenario run.
type Result struct {
	Name  string
	Trace []TraceEvent

	// Failures are expectation mismatches.
	Failures []string

	mu sync.Mutex
	// Errors are runtime errors the engine reported through its sink or
	// returned from lifecycle calls.
	Errors []string
}

// Passed reports whether the scenario met every expectation without
// engine errors.
func (r *Result) Passed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Failures) == 0 && len(r.Errors) == 0
}

// EngineErrors returns the collected runtime errors.
func (r *Result) EngineErrors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.Errors)
}

func (r *Result) addError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, msg)
}

func (r *Result) fail(format string, args ...any) {
	r.Failures = append(r.Failures, fmt.Sprintf(format, args...))
}

// Run executes a scenario. Each run gets a fresh in-memory store, a
// clock frozen at the epoch that steps one second per read, and
// sequential transaction tokens. The engine loop is driven to
// quiescence after every step so the trace order is deterministic.
//
// A non-nil error means the scenario could not be executed at all;
// expectation mismatches are reported through the Result.
func Run(scenario *Scenario) (*Result, error) {
	payloads, err := buildCatalog(scenario)
	if err != nil {
		return nil, err
	}

	result := &Result{Name: scenario.Name}
	clock := testutil.NewDeterministicClock().WithStep(time.Second)
	rec := &recorder{}

	eng := engine.New(storage.NewMemory(),
		engine.WithClock(clock),
		engine.WithTokens(testutil.NewFixedTokens("tx")),
		engine.WithErrorSink(func(err error) {
			result.addError(err.Error())
		}),
	)
	eng.Observe(rec)
	eng.Handle(rec)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- eng.Run(context.Background())
	}()

	for i, step := range scenario.Steps {
		if err := runStep(ctx, eng, clock, payloads, step, result); err != nil {
			eng.Stop()
			<-done
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		if err := eng.Quiesce(ctx); err != nil {
			eng.Stop()
			<-done
			return nil, fmt.Errorf("steps[%d]: waiting for engine: %w", i, err)
		}
	}

	eng.Stop()
	if err := <-done; err != nil {
		return nil, fmt.Errorf("engine run: %w", err)
	}

	result.Trace = rec.Events()
	if scenario.Expect != nil {
		evaluate(scenario.Expect, eng.State(), result)
	}
	return result, nil
}

// buildCatalog merges the YAML payload list with the optional inline
// CUE catalog, keyed by id. YAML declarations win on conflict.
func buildCatalog(scenario *Scenario) (map[string]item.Payload, error) {
	payloads := make(map[string]item.Payload)

	if scenario.Catalog != "" {
		compiled, errs := catalog.Compile(scenario.Catalog, catalog.LoadModeFailFast)
		if len(errs) > 0 {
			return nil, fmt.Errorf("compiling scenario catalog: %w", errs[0])
		}
		for _, p := range compiled.Payloads {
			payloads[p.ID] = p
		}
	}
	for _, def := range scenario.Payloads {
		payloads[def.ID] = def.payload()
	}
	return payloads, nil
}

func runStep(ctx context.Context, eng *engine.Engine, clock *testutil.DeterministicClock, payloads map[string]item.Payload, step Step, result *Result) error {
	switch {
	case step.SetCandidates != nil:
		next := make([]item.Payload, 0, len(step.SetCandidates))
		for _, id := range step.SetCandidates {
			p, ok := payloads[id]
			if !ok {
				return fmt.Errorf("unknown payload %q", id)
			}
			next = append(next, p)
		}
		eng.SetCandidates(func(*state.State, []item.Payload) []item.Payload {
			return next
		})

	case step.Push != nil:
		it, err := resolveRef(payloads, step.Push.ID, step.Push.Surface)
		if err != nil {
			return err
		}
		eng.PushSlot(it.Surface(), it)

	case step.Remove != "":
		if _, ok := payloads[step.Remove]; !ok {
			return fmt.Errorf("unknown payload %q", step.Remove)
		}
		eng.RemoveByID(step.Remove)

	case step.MarkShown != nil:
		it, err := resolveRef(payloads, step.MarkShown.ID, step.MarkShown.Surface)
		if err != nil {
			return err
		}
		if err := eng.MarkShown(ctx, it); err != nil {
			result.addError(err.Error())
		}

	case step.MarkDismissed != nil:
		it, err := resolveRef(payloads, step.MarkDismissed.ID, step.MarkDismissed.Surface)
		if err != nil {
			return err
		}
		if err := eng.MarkDismissed(ctx, it); err != nil {
			result.addError(err.Error())
		}

	case step.MarkConverted != nil:
		it, err := resolveRef(payloads, step.MarkConverted.ID, step.MarkConverted.Surface)
		if err != nil {
			return err
		}
		if err := eng.MarkConverted(ctx, it, step.MarkConverted.Meta); err != nil {
			result.addError(err.Error())
		}

	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		clock.Advance(d)
	}
	return nil
}

func resolveRef(payloads map[string]item.Payload, id, surface string) (item.Item, error) {
	p, ok := payloads[id]
	if !ok {
		return item.Item{}, fmt.Errorf("unknown payload %q", id)
	}
	it, ok := item.Resolve(p, item.Surface(surface))
	if !ok {
		return item.Item{}, fmt.Errorf("payload %q has no option for surface %q", id, surface)
	}
	return it, nil
}

// evaluate checks the final state and trace against the expectations.
func evaluate(expect *Expect, final *state.State, result *Result) {
	for surface, want := range expect.Surfaces {
		sl, ok := final.Slot(item.Surface(surface))
		if !ok {
			if want.Active != "" || len(want.Queue) > 0 {
				result.fail("surface %s: expected content, slot missing", surface)
			}
			continue
		}

		var activeID string
		if sl.Active != nil {
			activeID = sl.Active.ID()
		}
		if activeID != want.Active {
			result.fail("surface %s: active = %q, want %q", surface, activeID, want.Active)
		}

		queueIDs := make([]string, len(sl.Queue))
		for i, it := range sl.Queue {
			queueIDs[i] = it.ID()
		}
		if !slices.Equal(queueIDs, want.Queue) {
			result.fail("surface %s: queue = %v, want %v", surface, queueIDs, want.Queue)
		}
	}

	for id, want := range expect.Shown {
		got := 0
		for _, ev := range result.Trace {
			if ev.Type == EventShown && ev.Item != "" && payloadOf(ev.Item) == id {
				got++
			}
		}
		if got != want {
			result.fail("payload %s: shown %d times, want %d", id, got, want)
		}
	}

	if expect.Transitions != nil {
		got := 0
		for _, ev := range result.Trace {
			if ev.Type == EventTransition {
				got++
			}
		}
		if got != *expect.Transitions {
			result.fail("transitions = %d, want %d", got, *expect.Transitions)
		}
	}
}

// payloadOf extracts the payload id from a "id/surface/variant" key
// string.
func payloadOf(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i]
		}
	}
	return key
}
