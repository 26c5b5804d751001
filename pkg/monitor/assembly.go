package monitor

import (
	"context"
	"sort"
	"time"

	"github.com/sw33tLie/nstg/pkg/providers"
)

// Assembly tracks every nation currently voting on the proposal at vote in a
// chamber, most recently seen first. It binds to the proposal it first sees
// (or the one given) and exhausts for good once that proposal leaves the floor.
type Assembly struct {
	reader  providers.Reader
	chamber providers.Chamber
	side    providers.Side // zero means both sides

	proposal  string
	firstSeen map[string]time.Time
	exhausted bool
	now       func() time.Time
}

// NewAssembly watches voters on side (zero for both). proposal may be empty
// to bind to whatever is at vote on the first refresh.
func NewAssembly(reader providers.Reader, chamber providers.Chamber, side providers.Side, proposal string) *Assembly {
	return &Assembly{
		reader:    reader,
		chamber:   chamber,
		side:      side,
		proposal:  proposal,
		firstSeen: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Proposal returns the bound proposal id, empty until the first refresh.
func (a *Assembly) Proposal() string { return a.proposal }

func (a *Assembly) Refresh(ctx context.Context) ([]string, bool, error) {
	if a.exhausted {
		return nil, true, nil
	}
	id, atVote, err := a.reader.CurrentProposal(ctx, a.chamber)
	if err != nil {
		return nil, false, err
	}
	if a.proposal == "" && atVote {
		a.proposal = id
	}
	if !atVote || id != a.proposal {
		a.exhausted = true
		a.firstSeen = nil
		return nil, true, nil
	}

	voters, err := a.voters(ctx)
	if err != nil {
		return nil, false, err
	}

	now := a.now()
	current := toSet(voters)
	for n := range a.firstSeen {
		if !current[n] {
			delete(a.firstSeen, n)
		}
	}
	for _, n := range voters {
		if _, ok := a.firstSeen[n]; !ok {
			a.firstSeen[n] = now
		}
	}
	return a.ordered(), false, nil
}

func (a *Assembly) voters(ctx context.Context) ([]string, error) {
	if a.side != 0 {
		return a.reader.Voters(ctx, a.chamber, a.side)
	}
	votesFor, err := a.reader.Voters(ctx, a.chamber, providers.SideFor)
	if err != nil {
		return nil, err
	}
	votesAgainst, err := a.reader.Voters(ctx, a.chamber, providers.SideAgainst)
	if err != nil {
		return nil, err
	}
	return append(votesFor, votesAgainst...), nil
}

// ordered lists tracked voters newest first; ties break by name so the
// output is deterministic.
func (a *Assembly) ordered() []string {
	names := make([]string, 0, len(a.firstSeen))
	for n := range a.firstSeen {
		names = append(names, n)
	}
	sort.Slice(names, func(i, k int) bool {
		ti, tk := a.firstSeen[names[i]], a.firstSeen[names[k]]
		if !ti.Equal(tk) {
			return ti.After(tk)
		}
		return names[i] < names[k]
	})
	return names
}

// VotingOptions configures a Voting monitor.
type VotingOptions struct {
	// Regions restricts reports to residents of these regions.
	Regions []string
	// IgnoreInitial treats everyone voting at the first refresh as already
	// known, so only later voters are reported.
	IgnoreInitial bool
}

// Voting reports nations that started voting one way since the previous
// refresh. It exhausts together with its underlying Assembly.
type Voting struct {
	assembly *Assembly
	reader   providers.Reader
	opts     VotingOptions

	previous map[string]bool
	seeded   bool
}

func NewVoting(reader providers.Reader, chamber providers.Chamber, side providers.Side, opts VotingOptions) *Voting {
	return &Voting{
		assembly: NewAssembly(reader, chamber, side, ""),
		reader:   reader,
		opts:     opts,
	}
}

func (v *Voting) Refresh(ctx context.Context) ([]string, bool, error) {
	voters, exhausted, err := v.assembly.Refresh(ctx)
	if err != nil || exhausted {
		return nil, exhausted, err
	}

	if len(v.opts.Regions) > 0 {
		residents := make(map[string]bool)
		for _, r := range v.opts.Regions {
			nations, err := v.reader.RegionNations(ctx, r)
			if err != nil {
				return nil, false, err
			}
			for _, n := range nations {
				residents[n] = true
			}
		}
		kept := voters[:0:0]
		for _, n := range voters {
			if residents[n] {
				kept = append(kept, n)
			}
		}
		voters = kept
	}

	if !v.seeded {
		v.seeded = true
		if v.opts.IgnoreInitial {
			v.previous = toSet(voters)
			return nil, false, nil
		}
		v.previous = map[string]bool{}
	}

	var fresh []string
	for _, n := range voters {
		if !v.previous[n] {
			fresh = append(fresh, n)
		}
	}
	v.previous = toSet(voters)
	return fresh, false, nil
}
