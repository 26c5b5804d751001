package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sw33tLie/nstg/pkg/providers"
	"github.com/sw33tLie/nstg/pkg/providers/fake"
)

func refresh(t *testing.T, s Strategy) ([]string, bool) {
	t.Helper()
	names, exhausted, err := s.Refresh(context.Background())
	require.NoError(t, err)
	return names, exhausted
}

func TestMovementDiffsRosters(t *testing.T) {
	r := fake.NewReader()
	r.SetRegion("europe", "a", "b", "c")

	into := NewMovement(r, "europe", Into)
	outOf := NewMovement(r, "europe", OutOf)

	names, _ := refresh(t, into)
	require.Empty(t, names)
	names, _ = refresh(t, outOf)
	require.Empty(t, names)

	r.SetRegion("europe", "b", "c", "d", "e")
	names, _ = refresh(t, into)
	require.Equal(t, []string{"d", "e"}, names)
	names, _ = refresh(t, outOf)
	require.Equal(t, []string{"a"}, names)

	names, _ = refresh(t, into)
	require.Empty(t, names)
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("OUTOF")
	require.NoError(t, err)
	require.Equal(t, OutOf, d)
	require.Equal(t, "outof", d.String())

	_, err = ParseDirection("sideways")
	require.Error(t, err)
}

func TestHappeningsDedupesAndFilters(t *testing.T) {
	r := fake.NewReader()
	r.SetHappenings(
		providers.Happening{ID: 3, Nations: []string{"b", "a"}},
		providers.Happening{ID: 2, Nations: []string{"c", "b"}},
	)
	r.SetDelegates("b", "c")

	names, exhausted := refresh(t, NewHappenings(r, false))
	require.False(t, exhausted)
	require.Equal(t, []string{"b", "a", "c"}, names)

	names, _ = refresh(t, NewHappenings(r, true))
	require.Equal(t, []string{"b", "c"}, names)
}

func TestAssemblyOrdersNewestFirst(t *testing.T) {
	r := fake.NewReader()
	r.SetVote(providers.GeneralAssembly, "ga-1", []string{"b", "a"}, []string{"z"})

	a := NewAssembly(r, providers.GeneralAssembly, 0, "")
	clock := time.Unix(1000, 0)
	a.now = func() time.Time { return clock }

	names, _ := refresh(t, a)
	require.Equal(t, []string{"a", "b", "z"}, names)
	require.Equal(t, "ga-1", a.Proposal())

	clock = clock.Add(time.Minute)
	r.SetVote(providers.GeneralAssembly, "ga-1", []string{"b", "c"}, []string{"z"})
	names, _ = refresh(t, a)
	require.Equal(t, []string{"c", "b", "z"}, names)
}

func TestAssemblyExhaustsWhenProposalChanges(t *testing.T) {
	r := fake.NewReader()
	r.SetVote(providers.SecurityCouncil, "sc-7", []string{"a"}, nil)

	a := NewAssembly(r, providers.SecurityCouncil, providers.SideFor, "")
	_, exhausted := refresh(t, a)
	require.False(t, exhausted)

	r.SetVote(providers.SecurityCouncil, "sc-8", []string{"a"}, nil)
	names, exhausted := refresh(t, a)
	require.True(t, exhausted)
	require.Empty(t, names)

	// Exhaustion is permanent even if the old proposal returns.
	r.SetVote(providers.SecurityCouncil, "sc-7", []string{"a"}, nil)
	_, exhausted = refresh(t, a)
	require.True(t, exhausted)
}

func TestAssemblyExhaustsWithNothingAtVote(t *testing.T) {
	r := fake.NewReader()
	_, exhausted := refresh(t, NewAssembly(r, providers.GeneralAssembly, 0, ""))
	require.True(t, exhausted)
}

func TestAssemblyExhaustsOnExpectedProposalMismatch(t *testing.T) {
	r := fake.NewReader()
	r.SetVote(providers.GeneralAssembly, "ga-2", []string{"a"}, nil)
	_, exhausted := refresh(t, NewAssembly(r, providers.GeneralAssembly, 0, "ga-1"))
	require.True(t, exhausted)
}

func TestVotingReportsNewVoters(t *testing.T) {
	r := fake.NewReader()
	r.SetVote(providers.GeneralAssembly, "ga-1", []string{"a", "b"}, []string{"x"})

	v := NewVoting(r, providers.GeneralAssembly, providers.SideFor, VotingOptions{})
	names, _ := refresh(t, v)
	require.ElementsMatch(t, []string{"a", "b"}, names)

	r.SetVote(providers.GeneralAssembly, "ga-1", []string{"a", "b", "c"}, []string{"x", "y"})
	names, _ = refresh(t, v)
	require.Equal(t, []string{"c"}, names)

	names, _ = refresh(t, v)
	require.Empty(t, names)
}

func TestVotingIgnoreInitial(t *testing.T) {
	r := fake.NewReader()
	r.SetVote(providers.GeneralAssembly, "ga-1", []string{"a"}, nil)

	v := NewVoting(r, providers.GeneralAssembly, providers.SideFor, VotingOptions{IgnoreInitial: true})
	names, _ := refresh(t, v)
	require.Empty(t, names)

	r.SetVote(providers.GeneralAssembly, "ga-1", []string{"a", "b"}, nil)
	names, _ = refresh(t, v)
	require.Equal(t, []string{"b"}, names)
}

func TestVotingRestrictsToRegions(t *testing.T) {
	r := fake.NewReader()
	r.SetRegion("europe", "a", "c")
	r.SetVote(providers.GeneralAssembly, "ga-1", nil, []string{"a", "b", "c"})

	v := NewVoting(r, providers.GeneralAssembly, providers.SideAgainst, VotingOptions{Regions: []string{"europe"}})
	names, _ := refresh(t, v)
	require.ElementsMatch(t, []string{"a", "c"}, names)
}

func TestVotingExhaustsWithAssembly(t *testing.T) {
	r := fake.NewReader()
	r.SetVote(providers.GeneralAssembly, "ga-1", []string{"a"}, nil)
	v := NewVoting(r, providers.GeneralAssembly, providers.SideFor, VotingOptions{})
	refresh(t, v)

	r.SetVote(providers.GeneralAssembly, "", nil, nil)
	_, exhausted := refresh(t, v)
	require.True(t, exhausted)
}

func TestApprovalRaid(t *testing.T) {
	r := fake.NewReader()
	r.SetProposals(providers.GeneralAssembly, providers.Proposal{ID: "p1", Approvals: []string{"a", "b", "c"}})
	r.SetDelegates("a", "b", "c")

	raid := NewApprovalRaid(r, providers.GeneralAssembly, "p1")
	names, _ := refresh(t, raid)
	require.Empty(t, names)

	// b and c withdraw while still delegates.
	r.SetProposals(providers.GeneralAssembly, providers.Proposal{ID: "p1", Approvals: []string{"a"}})
	names, _ = refresh(t, raid)
	require.Empty(t, names)

	// b loses its delegacy; c stays a delegate throughout.
	r.SetDelegates("a", "c")
	names, _ = refresh(t, raid)
	require.Empty(t, names)

	// b regains it and is reported. c never changed status.
	r.SetDelegates("a", "b", "c")
	names, _ = refresh(t, raid)
	require.Equal(t, []string{"b"}, names)
}

func TestApprovalRaidNonDelegateWithdrawal(t *testing.T) {
	r := fake.NewReader()
	r.SetProposals(providers.SecurityCouncil, providers.Proposal{ID: "p9", Approvals: []string{"d"}})

	raid := NewApprovalRaid(r, 0, AnyProposal)
	refresh(t, raid)

	r.SetProposals(providers.SecurityCouncil, providers.Proposal{ID: "p9"})
	refresh(t, raid)

	r.SetDelegates("d")
	names, _ := refresh(t, raid)
	require.Equal(t, []string{"d"}, names)
}

func TestApprovalRaidDropsRecordsWhenProposalLeaves(t *testing.T) {
	r := fake.NewReader()
	r.SetProposals(providers.GeneralAssembly,
		providers.Proposal{ID: "p1", Approvals: []string{"a"}},
		providers.Proposal{ID: "p2", Approvals: []string{"b"}},
	)
	raid := NewApprovalRaid(r, providers.GeneralAssembly, AnyProposal)
	refresh(t, raid)

	r.SetProposals(providers.GeneralAssembly, providers.Proposal{ID: "p1"}, providers.Proposal{ID: "p2"})
	refresh(t, raid)

	r.SetProposals(providers.GeneralAssembly, providers.Proposal{ID: "p2"})
	r.SetDelegates("a", "b")
	names, exhausted := refresh(t, raid)
	require.False(t, exhausted)
	require.Equal(t, []string{"b"}, names)
}

func TestApprovalRaidExhaustsWhenProposalGone(t *testing.T) {
	r := fake.NewReader()
	r.SetProposals(providers.GeneralAssembly, providers.Proposal{ID: "p1"})
	raid := NewApprovalRaid(r, providers.GeneralAssembly, "p1")
	_, exhausted := refresh(t, raid)
	require.False(t, exhausted)

	r.SetProposals(providers.GeneralAssembly)
	_, exhausted = refresh(t, raid)
	require.True(t, exhausted)
}

func TestStrategyErrorsPropagate(t *testing.T) {
	r := fake.NewReader()
	boom := errors.New("boom")
	r.Fail("Happenings", boom)

	_, _, err := NewHappenings(r, false).Refresh(context.Background())
	require.ErrorIs(t, err, boom)
}
