package recipients

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/sw33tLie/nstg/pkg/monitor"
	"github.com/sw33tLie/nstg/pkg/providers"
)

// Logger is the logging interface shared with the monitor package.
type Logger = monitor.Logger

// ProviderIOError wraps a read failure with the token being decomposed.
type ProviderIOError struct {
	Token Token
	Err   error
}

func (e *ProviderIOError) Error() string {
	return fmt.Sprintf("reading %s: %v", e.Token, e.Err)
}

func (e *ProviderIOError) Unwrap() error { return e.Err }

// MonitorSource hands out the shared monitor behind a stateful token.
// *monitor.Registry satisfies it.
type MonitorSource interface {
	Get(kind string, args []string) (monitor.Monitor, error)
}

// regionTagWorkers bounds concurrent region reads for one region_tag token.
const regionTagWorkers = 4

type decomposeFunc func(ctx context.Context, tok Token) ([]string, error)

// Decomposer expands tokens into nation names through a read provider and,
// for stateful kinds, a monitor source.
type Decomposer struct {
	reader   providers.Reader
	monitors MonitorSource
	log      Logger
	rules    map[TargetKind]decomposeFunc
}

// NewDecomposer builds a decomposer. monitors may be nil when no stateful
// tokens will be resolved; log may be nil.
func NewDecomposer(reader providers.Reader, monitors MonitorSource, log Logger) *Decomposer {
	if log == nil {
		log = monitor.NopLogger{}
	}
	d := &Decomposer{reader: reader, monitors: monitors, log: log}
	d.rules = map[TargetKind]decomposeFunc{
		Nation:      d.nation,
		Region:      d.region,
		RegionTag:   d.regionTag,
		Tag:         d.tag,
		EndorsersOf: d.endorsers,
		Happenings:  d.stateful,
		Movement:    d.stateful,
		Approvals:   d.stateful,
		Voting:      d.stateful,
	}
	return d
}

// Decompose returns the nations a token names, in provider order.
func (d *Decomposer) Decompose(ctx context.Context, tok Token) ([]string, error) {
	rule, ok := d.rules[tok.Kind]
	if !ok {
		return nil, &ParseError{Input: tok.Raw, Msg: fmt.Sprintf("%s tokens cannot be decomposed", tok.Kind)}
	}
	return rule(ctx, tok)
}

func (d *Decomposer) nation(_ context.Context, tok Token) ([]string, error) {
	return []string{tok.Name}, nil
}

func (d *Decomposer) region(ctx context.Context, tok Token) ([]string, error) {
	names, err := d.reader.RegionNations(ctx, tok.Name)
	if err != nil {
		return nil, &ProviderIOError{Token: tok, Err: err}
	}
	return names, nil
}

func (d *Decomposer) regionTag(ctx context.Context, tok Token) ([]string, error) {
	regions, err := d.reader.RegionsByTag(ctx, tok.Name)
	if err != nil {
		return nil, &ProviderIOError{Token: tok, Err: err}
	}

	members := make([][]string, len(regions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(regionTagWorkers)
	for i, region := range regions {
		i, region := i, region
		g.Go(func() error {
			names, err := d.reader.RegionNations(gctx, region)
			if err != nil {
				return fmt.Errorf("region %s: %w", region, err)
			}
			members[i] = names
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &ProviderIOError{Token: tok, Err: err}
	}

	set := NewSet()
	for _, names := range members {
		set.Add(names...)
	}
	return set.Names(), nil
}

func (d *Decomposer) tag(ctx context.Context, tok Token) ([]string, error) {
	var (
		names []string
		err   error
	)
	switch tok.Name {
	case "wa":
		names, err = d.reader.WorldAssemblyMembers(ctx)
	case "delegates":
		names, err = d.reader.Delegates(ctx)
	case "new":
		names, err = d.reader.NewNations(ctx)
	default:
		return nil, &ParseError{Input: tok.Raw, Msg: "unknown tag " + tok.Name}
	}
	if err != nil {
		return nil, &ProviderIOError{Token: tok, Err: err}
	}
	return names, nil
}

func (d *Decomposer) endorsers(ctx context.Context, tok Token) ([]string, error) {
	names, err := d.reader.Endorsers(ctx, tok.Name)
	if err != nil {
		return nil, &ProviderIOError{Token: tok, Err: err}
	}
	return names, nil
}

// stateful reads the current snapshot of the token's monitor. A monitor that
// is exhausted, stopped or failing yields no nations rather than an error.
func (d *Decomposer) stateful(ctx context.Context, tok Token) ([]string, error) {
	m, err := d.monitor(tok)
	if err != nil {
		return nil, err
	}
	if m.Exhausted() {
		d.log.Debugf("Monitor for %s is exhausted", tok)
		return nil, nil
	}
	names, err := m.Recipients(ctx)
	switch {
	case err == nil:
		return names, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, monitor.ErrExhausted):
		d.log.Debugf("Monitor for %s is exhausted", tok)
	default:
		d.log.Warnf("No data from monitor for %s: %v", tok, err)
	}
	return nil, nil
}

func (d *Decomposer) monitor(tok Token) (monitor.Monitor, error) {
	if d.monitors == nil {
		return nil, &ParseError{Input: tok.Raw, Msg: "stateful tokens are not available here"}
	}
	m, err := d.monitors.Get(tok.Kind.MonitorKind(), tok.Args())
	if err != nil {
		return nil, fmt.Errorf("starting monitor for %s: %w", tok, err)
	}
	return m, nil
}

// exhausted reports whether tokens contain stateful tokens that add nations
// and every one of their monitors is exhausted.
func (d *Decomposer) exhausted(tokens []Token) bool {
	if d.monitors == nil {
		return false
	}
	found := false
	for _, tok := range tokens {
		if !tok.Kind.Stateful() || tok.Filter != Normal {
			continue
		}
		found = true
		m, err := d.monitor(tok)
		if err != nil || !m.Exhausted() {
			return false
		}
	}
	return found
}
