package monitor

import (
	"context"
	"sort"
	"time"

	"github.com/sw33tLie/nstg/pkg/providers"
)

// AnyProposal tracks every proposal in the queue instead of a single one.
const AnyProposal = "*"

type withdrawal struct {
	nation            string
	proposal          string
	removedAt         time.Time
	delegateAtRemoval bool
	statusChanged     bool
}

// ApprovalRaid accumulates approvals withdrawn from tracked proposals. A
// withdrawal is reported once the nation's delegate status has changed since
// the withdrawal, the nation is a delegate again, and the proposal is still
// in the queue. Records for proposals that left the queue are dropped.
//
// When bound to a single proposal the monitor exhausts once that proposal
// leaves the queue. A zero chamber watches both councils.
type ApprovalRaid struct {
	reader   providers.Reader
	chamber  providers.Chamber
	proposal string

	approvals map[string]map[string]bool
	records   []*withdrawal
	exhausted bool
	now       func() time.Time
}

func NewApprovalRaid(reader providers.Reader, chamber providers.Chamber, proposal string) *ApprovalRaid {
	if proposal == "" {
		proposal = AnyProposal
	}
	return &ApprovalRaid{
		reader:    reader,
		chamber:   chamber,
		proposal:  proposal,
		approvals: make(map[string]map[string]bool),
		now:       time.Now,
	}
}

func (a *ApprovalRaid) Refresh(ctx context.Context) ([]string, bool, error) {
	if a.exhausted {
		return nil, true, nil
	}
	queue, err := a.queue(ctx)
	if err != nil {
		return nil, false, err
	}
	delegateList, err := a.reader.Delegates(ctx)
	if err != nil {
		return nil, false, err
	}
	delegates := toSet(delegateList)
	now := a.now()

	live := make(map[string]providers.Proposal)
	for _, p := range queue {
		if a.proposal == AnyProposal || p.ID == a.proposal {
			live[p.ID] = p
		}
	}
	if a.proposal != AnyProposal && len(live) == 0 {
		a.exhausted = true
		a.records = nil
		a.approvals = nil
		return nil, true, nil
	}

	kept := a.records[:0]
	for _, r := range a.records {
		if _, ok := live[r.proposal]; ok {
			kept = append(kept, r)
		}
	}
	a.records = kept
	for id := range a.approvals {
		if _, ok := live[id]; !ok {
			delete(a.approvals, id)
		}
	}

	// Status changes are judged against this refresh's delegate list, so
	// records created below cannot flip in the same refresh.
	for _, r := range a.records {
		if delegates[r.nation] != r.delegateAtRemoval {
			r.statusChanged = true
		}
	}

	for _, p := range queue {
		if _, ok := live[p.ID]; !ok {
			continue
		}
		current := toSet(p.Approvals)
		if previous, ok := a.approvals[p.ID]; ok {
			var removed []string
			for n := range previous {
				if !current[n] {
					removed = append(removed, n)
				}
			}
			sort.Strings(removed)
			for _, n := range removed {
				a.records = append(a.records, &withdrawal{
					nation:            n,
					proposal:          p.ID,
					removedAt:         now,
					delegateAtRemoval: delegates[n],
				})
			}
		}
		a.approvals[p.ID] = current
	}

	seen := make(map[string]bool)
	var names []string
	for _, r := range a.records {
		if r.statusChanged && delegates[r.nation] && !seen[r.nation] {
			seen[r.nation] = true
			names = append(names, r.nation)
		}
	}
	return names, false, nil
}

func (a *ApprovalRaid) queue(ctx context.Context) ([]providers.Proposal, error) {
	if a.chamber != 0 {
		return a.reader.Proposals(ctx, a.chamber)
	}
	var all []providers.Proposal
	for _, c := range []providers.Chamber{providers.GeneralAssembly, providers.SecurityCouncil} {
		ps, err := a.reader.Proposals(ctx, c)
		if err != nil {
			return nil, err
		}
		all = append(all, ps...)
	}
	return all, nil
}
