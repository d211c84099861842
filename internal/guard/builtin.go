package guard

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/presentum/presentum/internal/item"
	"github.com/presentum/presentum/internal/state"
)

// Ordering sorts the candidate list by priority (highest first), id as a
// tiebreaker, and each payload's options by stage. Later guards and the
// installer then see a deterministic order regardless of how the producer
// assembled the list.
func Ordering() Guard {
	return New("ordering", func(_ context.Context, tx *Tx) error {
		slices.SortStableFunc(tx.Candidates, func(a, b item.Payload) int {
			if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
		for i := range tx.Candidates {
			// The Options backing array is shared with the caller's
			// payloads; sort a copy so theirs stay untouched.
			opts := slices.Clone(tx.Candidates[i].Options)
			slices.SortStableFunc(opts, func(a, b item.Option) int {
				return cmp.Compare(a.Stage, b.Stage)
			})
			tx.Candidates[i].Options = opts
		}
		return nil
	})
}

// keepFunc decides whether a resolved candidate item stays eligible.
type keepFunc func(ctx context.Context, tx *Tx, it item.Item) (bool, error)

// filterCandidates drops ineligible options from the candidate list and
// purges the same items from the working state. Payloads left with no
// options are removed entirely.
func filterCandidates(ctx context.Context, tx *Tx, keep keepFunc) error {
	kept := tx.Candidates[:0:0]
	for _, p := range tx.Candidates {
		opts := p.Options[:0:0]
		for _, opt := range p.Options {
			it := item.New(p, opt)
			ok, err := keep(ctx, tx, it)
			if err != nil {
				return err
			}
			if ok {
				opts = append(opts, opt)
				continue
			}
			key := it.Key()
			tx.State.RemoveFromSurface(opt.Surface, func(x item.Item) bool {
				return x.Key() == key
			})
		}
		if len(opts) > 0 {
			p.Options = opts
			kept = append(kept, p)
		}
	}
	tx.Candidates = kept
	return nil
}

// ImpressionCap drops candidates whose option has a positive impression
// cap that the stored shown count has reached.
func ImpressionCap() Guard {
	return New("impression-cap", func(ctx context.Context, tx *Tx) error {
		return filterCandidates(ctx, tx, func(ctx context.Context, tx *Tx, it item.Item) (bool, error) {
			limit := it.Option.MaxImpressions
			if limit <= 0 {
				return true, nil
			}
			n, err := tx.Store.ShownCount(ctx, it.Key(), time.Time{})
			if err != nil {
				return false, err
			}
			return n < limit, nil
		})
	})
}

// Cooldown drops candidates shown more recently than their option's
// cooldown interval.
func Cooldown() Guard {
	return New("cooldown", func(ctx context.Context, tx *Tx) error {
		return filterCandidates(ctx, tx, func(ctx context.Context, tx *Tx, it item.Item) (bool, error) {
			cd := it.Option.Cooldown
			if cd <= 0 {
				return true, nil
			}
			last, ok, err := tx.Store.LastShown(ctx, it.Key())
			if err != nil {
				return false, err
			}
			if !ok {
				return true, nil
			}
			return tx.Now.Sub(last) >= cd, nil
		})
	})
}

// DismissalFilter drops candidates the user has dismissed, except options
// marked always-on, which stay as long as they are otherwise eligible.
func DismissalFilter() Guard {
	return New("dismissal-filter", func(ctx context.Context, tx *Tx) error {
		return filterCandidates(ctx, tx, func(ctx context.Context, tx *Tx, it item.Item) (bool, error) {
			if it.Option.AlwaysOn {
				return true, nil
			}
			_, dismissed, err := tx.Store.DismissedAt(ctx, it.Key())
			if err != nil {
				return false, err
			}
			return !dismissed, nil
		})
	})
}

// Resolver answers eligibility questions about candidate items. It lives
// outside the core; implementations may perform I/O.
type Resolver interface {
	IsEligible(ctx context.Context, it item.Item) (bool, error)
}

// Eligibility adapts an external Resolver into a guard. It is
// Refreshable: call Refresh when the resolver's inputs change and the
// engine re-runs the pipeline with the last candidate set.
type Eligibility struct {
	resolver Resolver

	mu     sync.Mutex
	notify func()
}

var _ Refreshable = (*Eligibility)(nil)

// NewEligibility builds the adapter around a resolver.
func NewEligibility(r Resolver) *Eligibility {
	return &Eligibility{resolver: r}
}

func (g *Eligibility) Name() string { return "eligibility" }

func (g *Eligibility) Apply(ctx context.Context, tx *Tx) error {
	return filterCandidates(ctx, tx, func(ctx context.Context, _ *Tx, it item.Item) (bool, error) {
		return g.resolver.IsEligible(ctx, it)
	})
}

// Subscribe registers the engine's re-run callback.
func (g *Eligibility) Subscribe(notify func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notify = notify
}

// Refresh signals that eligibility answers may have changed.
func (g *Eligibility) Refresh() {
	g.mu.Lock()
	notify := g.notify
	g.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// Installer applies the surviving candidates to the state according to
// the run's intention:
//
//   - Replace drops everything currently scheduled and installs the
//     candidates from scratch.
//   - Append adds candidates not already scheduled behind existing
//     content.
//   - Auto reconciles: items no longer in the candidate set are removed
//     (promoting queue heads), new ones are added, existing ones keep
//     their position.
//
// Installer runs last; the filters before it have already purged
// ineligible items from both the candidate list and the state.
func Installer() Guard {
	return New("installer", func(_ context.Context, tx *Tx) error {
		intent := tx.State.Intention()
		bySurface := groupBySurface(tx.Candidates)

		switch intent {
		case state.Replace:
			tx.State.RemoveWhere(func(item.Surface, item.Item) bool { return true })
			for _, sc := range bySurface {
				tx.State.Add(sc.surface, sc.items...)
			}
		case state.Append:
			for _, sc := range bySurface {
				for _, it := range sc.items {
					if !slotHasKey(tx.State, sc.surface, it.Key()) {
						tx.State.Add(sc.surface, it)
					}
				}
			}
		default: // Auto
			want := make(map[item.Key]bool)
			for _, sc := range bySurface {
				for _, it := range sc.items {
					want[it.Key()] = true
				}
			}
			tx.State.RemoveWhere(func(_ item.Surface, it item.Item) bool {
				return !want[it.Key()]
			})
			for _, sc := range bySurface {
				for _, it := range sc.items {
					if !slotHasKey(tx.State, sc.surface, it.Key()) {
						tx.State.Add(sc.surface, it)
					}
				}
			}
		}
		return nil
	})
}

type surfaceCandidates struct {
	surface item.Surface
	items   []item.Item
}

// groupBySurface resolves candidates into per-surface item lists,
// preserving candidate order within a surface and sorting surfaces for
// determinism.
func groupBySurface(candidates []item.Payload) []surfaceCandidates {
	idx := make(map[item.Surface]int)
	var out []surfaceCandidates
	for _, p := range candidates {
		for _, opt := range p.Options {
			i, ok := idx[opt.Surface]
			if !ok {
				i = len(out)
				idx[opt.Surface] = i
				out = append(out, surfaceCandidates{surface: opt.Surface})
			}
			out[i].items = append(out[i].items, item.New(p, opt))
		}
	}
	slices.SortFunc(out, func(a, b surfaceCandidates) int {
		return cmp.Compare(a.surface, b.surface)
	})
	return out
}

func slotHasKey(s *state.State, surface item.Surface, key item.Key) bool {
	sl, ok := s.Slot(surface)
	if !ok {
		return false
	}
	for _, it := range sl.Items() {
		if it.Key() == key {
			return true
		}
	}
	return false
}

// Defaults is the standard chain: deterministic ordering, lifecycle
// filters against storage, then installation.
func Defaults() []Guard {
	return []Guard{
		Ordering(),
		ImpressionCap(),
		Cooldown(),
		DismissalFilter(),
		Installer(),
	}
}
