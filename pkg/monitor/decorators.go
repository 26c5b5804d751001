package monitor

import "context"

// Predicate decides whether a nation stays in a filtered snapshot.
type Predicate func(nation string) bool

// Filtered applies predicates to an inner monitor's snapshot. Scheduling and
// exhaustion are the inner monitor's.
type Filtered struct {
	inner      Monitor
	predicates []Predicate
}

func NewFiltered(inner Monitor, predicates ...Predicate) *Filtered {
	return &Filtered{inner: inner, predicates: predicates}
}

func (f *Filtered) Recipients(ctx context.Context) ([]string, error) {
	names, err := f.inner.Recipients(ctx)
	if err != nil {
		return nil, err
	}
	kept := names[:0]
outer:
	for _, n := range names {
		for _, p := range f.predicates {
			if !p(n) {
				continue outer
			}
		}
		kept = append(kept, n)
	}
	return kept, nil
}

func (f *Filtered) Exhausted() bool { return f.inner.Exhausted() }

// Waiting blocks every call until the inner monitor's readiness gate opens
// (or the monitor stops without ever becoming ready).
type Waiting struct {
	inner Gated
}

func NewWaiting(inner Gated) *Waiting {
	return &Waiting{inner: inner}
}

func (w *Waiting) wait(ctx context.Context) error {
	select {
	case <-w.inner.Ready():
		return nil
	case <-w.inner.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Waiting) Recipients(ctx context.Context) ([]string, error) {
	if err := w.wait(ctx); err != nil {
		return nil, err
	}
	return w.inner.Recipients(ctx)
}

func (w *Waiting) Exhausted() bool {
	_ = w.wait(context.Background())
	return w.inner.Exhausted()
}
