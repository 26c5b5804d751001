package recipients

import (
	"context"

	"github.com/sw33tLie/nstg/pkg/monitor"
)

// Resolver folds tokens into a recipient list.
type Resolver struct {
	decomposer *Decomposer
	log        Logger
}

func NewResolver(d *Decomposer, log Logger) *Resolver {
	if log == nil {
		log = monitor.NopLogger{}
	}
	return &Resolver{decomposer: d, log: log}
}

// Resolve applies tokens left to right to an empty set. Any failing token
// aborts the whole resolution.
func (r *Resolver) Resolve(ctx context.Context, tokens []Token) ([]string, error) {
	set := NewSet()
	for _, tok := range tokens {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var names []string
		if tok.Filter.IsRegex() {
			if MixedCase(tok.Name) {
				r.log.Warnf("Pattern %q has upper-case letters but names are lower case; it may not match what you expect", tok.Name)
			}
		} else {
			var err error
			names, err = r.decomposer.Decompose(ctx, tok)
			if err != nil {
				return nil, err
			}
		}

		next, err := Apply(set, tok, names)
		if err != nil {
			return nil, err
		}
		r.log.Debugf("%s: %d -> %d recipients", tok, set.Len(), next.Len())
		set = next
	}
	return set.Names(), nil
}

// ResolveLines parses a recipient list and resolves it.
func (r *Resolver) ResolveLines(ctx context.Context, lines []string) ([]string, error) {
	tokens, err := ParseAll(lines)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx, tokens)
}

// HasStateful reports whether any token is backed by a monitor.
func HasStateful(tokens []Token) bool {
	for _, tok := range tokens {
		if tok.Kind.Stateful() {
			return true
		}
	}
	return false
}

// Live re-resolves a token list on every refresh so that stateful tokens
// contribute their latest snapshots. It is a monitor.Strategy and exhausts
// once every adding stateful token's monitor has exhausted.
type Live struct {
	resolver *Resolver
	tokens   []Token
}

func NewLive(resolver *Resolver, tokens []Token) *Live {
	return &Live{resolver: resolver, tokens: append([]Token(nil), tokens...)}
}

func (l *Live) Refresh(ctx context.Context) ([]string, bool, error) {
	names, err := l.resolver.Resolve(ctx, l.tokens)
	if err != nil {
		return nil, false, err
	}
	return names, l.resolver.decomposer.exhausted(l.tokens), nil
}

var _ monitor.Strategy = (*Live)(nil)
