// Package guard implements the eligibility pipeline that stands between a
// candidate list and the published state. Guards run strictly in
// registration order, each seeing the state left behind by the previous
// one; a guard vetoes the whole run by setting the cancel intention.
package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/presentum/presentum/internal/item"
	"github.com/presentum/presentum/internal/state"
	"github.com/presentum/presentum/internal/storage"
)

// Tx is the unit of work handed to every guard in one pipeline run. The
// state is mutable and owned by the run; Candidates is the working
// candidate list, which guards may filter or reorder in place. Values is
// a scratch map that lets earlier guards pass data to later ones.
type Tx struct {
	Store      storage.Store
	History    *state.History
	State      *state.State
	Candidates []item.Payload
	Values     map[string]any
	Now        time.Time
}

// Cancel vetoes the run. The engine discards the in-progress state and
// keeps the previously published one.
func (tx *Tx) Cancel() {
	tx.State.SetIntention(state.Cancel)
}

// Cancelled reports whether a guard has vetoed the run.
func (tx *Tx) Cancelled() bool {
	return tx.State.Intention() == state.Cancel
}

// Guard is one stage of the pipeline. Apply may block on storage or
// external collaborators; the engine awaits it before moving on. A guard
// must not schedule new pipeline runs from inside Apply.
type Guard interface {
	Name() string
	Apply(ctx context.Context, tx *Tx) error
}

// Refreshable is implemented by guards whose own dependencies can change
// out of band (a feature flag flips, a remote config reloads). The engine
// subscribes when it accepts the guard; the notify callback asks it to
// re-run the pipeline with the last known candidate set.
type Refreshable interface {
	Subscribe(notify func())
}

type funcGuard struct {
	name string
	fn   func(ctx context.Context, tx *Tx) error
}

// New wraps a function as a named Guard.
func New(name string, fn func(ctx context.Context, tx *Tx) error) Guard {
	return funcGuard{name: name, fn: fn}
}

func (g funcGuard) Name() string { return g.name }

func (g funcGuard) Apply(ctx context.Context, tx *Tx) error { return g.fn(ctx, tx) }

// Pipeline is an ordered guard chain.
type Pipeline struct {
	guards []Guard
}

// NewPipeline builds a pipeline running the given guards in order.
func NewPipeline(guards ...Guard) *Pipeline {
	return &Pipeline{guards: guards}
}

// Guards returns the chain in registration order.
func (p *Pipeline) Guards() []Guard { return p.guards }

// Subscribe wires the notify callback into every Refreshable guard.
func (p *Pipeline) Subscribe(notify func()) {
	for _, g := range p.guards {
		if r, ok := g.(Refreshable); ok {
			r.Subscribe(notify)
		}
	}
}

// Run executes the chain. It stops early when a guard fails (the error is
// returned, wrapped with the guard name) or cancels the run (nil error;
// check tx.Cancelled). Guards after the failing or cancelling one never
// execute.
func (p *Pipeline) Run(ctx context.Context, tx *Tx) error {
	for _, g := range p.guards {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := g.Apply(ctx, tx); err != nil {
			return fmt.Errorf("guard %s: %w", g.Name(), err)
		}
		if tx.Cancelled() {
			return nil
		}
	}
	return nil
}
