// Package fake provides in-memory Reader and Writer implementations for tests.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sw33tLie/nstg/pkg/providers"
)

// Reader is a mutable in-memory providers.Reader. Tests change its data
// between monitor refreshes with the Set* methods.
type Reader struct {
	mu sync.Mutex

	regions      map[string][]string
	tags         map[string][]string
	wa           []string
	delegates    []string
	newNations   []string
	endorsements map[string][]string
	profiles     map[string]providers.NationProfile
	happenings   []providers.Happening
	current      map[providers.Chamber]string
	votes        map[providers.Chamber]map[providers.Side][]string
	proposals    map[providers.Chamber][]providers.Proposal
	errs         map[string]error
	calls        map[string]int

	Spacing time.Duration
}

func NewReader() *Reader {
	return &Reader{
		regions:      map[string][]string{},
		tags:         map[string][]string{},
		endorsements: map[string][]string{},
		profiles:     map[string]providers.NationProfile{},
		current:      map[providers.Chamber]string{},
		votes:        map[providers.Chamber]map[providers.Side][]string{},
		proposals:    map[providers.Chamber][]providers.Proposal{},
		errs:         map[string]error{},
		calls:        map[string]int{},
	}
}

func (r *Reader) SetRegion(region string, nations ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regions[region] = nations
}

func (r *Reader) SetTag(tag string, regions ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags[tag] = regions
}

func (r *Reader) SetWA(nations ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wa = nations
}

func (r *Reader) SetDelegates(nations ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delegates = nations
}

func (r *Reader) SetNewNations(nations ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newNations = nations
}

func (r *Reader) SetEndorsers(nation string, endorsers ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endorsements[nation] = endorsers
}

func (r *Reader) SetProfile(p providers.NationProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.Name] = p
}

func (r *Reader) SetHappenings(events ...providers.Happening) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.happenings = events
}

// SetVote puts proposal id at vote in chamber. An empty id means nothing is at vote.
func (r *Reader) SetVote(chamber providers.Chamber, id string, votesFor, votesAgainst []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current[chamber] = id
	r.votes[chamber] = map[providers.Side][]string{
		providers.SideFor:     votesFor,
		providers.SideAgainst: votesAgainst,
	}
}

func (r *Reader) SetProposals(chamber providers.Chamber, proposals ...providers.Proposal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proposals[chamber] = proposals
}

// Fail makes every later call to method return err. A nil err clears it.
func (r *Reader) Fail(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.errs, method)
		return
	}
	r.errs[method] = err
}

// Calls returns how many times method was invoked.
func (r *Reader) Calls(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[method]
}

func (r *Reader) enter(method string) error {
	r.calls[method]++
	return r.errs[method]
}

func clone(s []string) []string {
	return append([]string(nil), s...)
}

func (r *Reader) RegionNations(ctx context.Context, region string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("RegionNations"); err != nil {
		return nil, err
	}
	nations, ok := r.regions[region]
	if !ok {
		return nil, fmt.Errorf("region %q not found", region)
	}
	return clone(nations), nil
}

func (r *Reader) RegionsByTag(ctx context.Context, tag string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("RegionsByTag"); err != nil {
		return nil, err
	}
	return clone(r.tags[tag]), nil
}

func (r *Reader) WorldAssemblyMembers(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("WorldAssemblyMembers"); err != nil {
		return nil, err
	}
	return clone(r.wa), nil
}

func (r *Reader) Delegates(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("Delegates"); err != nil {
		return nil, err
	}
	return clone(r.delegates), nil
}

func (r *Reader) NewNations(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("NewNations"); err != nil {
		return nil, err
	}
	return clone(r.newNations), nil
}

func (r *Reader) Endorsers(ctx context.Context, nation string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("Endorsers"); err != nil {
		return nil, err
	}
	return clone(r.endorsements[nation]), nil
}

func (r *Reader) Nation(ctx context.Context, nation string) (providers.NationProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("Nation"); err != nil {
		return providers.NationProfile{}, err
	}
	p, ok := r.profiles[nation]
	if !ok {
		return providers.NationProfile{}, fmt.Errorf("nation %q not found", nation)
	}
	return p, nil
}

func (r *Reader) Happenings(ctx context.Context) ([]providers.Happening, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("Happenings"); err != nil {
		return nil, err
	}
	return append([]providers.Happening(nil), r.happenings...), nil
}

func (r *Reader) CurrentProposal(ctx context.Context, chamber providers.Chamber) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("CurrentProposal"); err != nil {
		return "", false, err
	}
	id := r.current[chamber]
	return id, id != "", nil
}

func (r *Reader) Voters(ctx context.Context, chamber providers.Chamber, side providers.Side) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("Voters"); err != nil {
		return nil, err
	}
	return clone(r.votes[chamber][side]), nil
}

func (r *Reader) Proposals(ctx context.Context, chamber providers.Chamber) ([]providers.Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enter("Proposals"); err != nil {
		return nil, err
	}
	out := make([]providers.Proposal, 0, len(r.proposals[chamber]))
	for _, p := range r.proposals[chamber] {
		p.Approvals = clone(p.Approvals)
		out = append(out, p)
	}
	return out, nil
}

func (r *Reader) MinInterval() time.Duration { return r.Spacing }

// Call is one recorded telegram submission.
type Call struct {
	Recipient string
	Creds     providers.Credentials
	At        time.Time
}

// Writer records telegram submissions and answers with scripted outcomes.
// Recipients without a scripted outcome are Accepted.
type Writer struct {
	mu       sync.Mutex
	outcomes map[string]providers.Outcome
	errs     map[string]error
	calls    []Call

	Spacing time.Duration
}

func NewWriter() *Writer {
	return &Writer{
		outcomes: map[string]providers.Outcome{},
		errs:     map[string]error{},
	}
}

func (w *Writer) SetOutcome(recipient string, o providers.Outcome) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outcomes[recipient] = o
}

func (w *Writer) SetError(recipient string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errs[recipient] = err
}

func (w *Writer) Calls() []Call {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Call(nil), w.calls...)
}

// Recipients returns the recipient of every recorded call, in call order.
func (w *Writer) Recipients() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.calls))
	for _, c := range w.calls {
		out = append(out, c.Recipient)
	}
	return out
}

func (w *Writer) SendTelegram(ctx context.Context, creds providers.Credentials, recipient string) (providers.Outcome, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, Call{Recipient: recipient, Creds: creds, At: time.Now()})
	if err := w.errs[recipient]; err != nil {
		return providers.Unclassified, err
	}
	if o, ok := w.outcomes[recipient]; ok {
		return o, nil
	}
	return providers.Accepted, nil
}

func (w *Writer) MinInterval() time.Duration { return w.Spacing }

var (
	_ providers.Reader = (*Reader)(nil)
	_ providers.Writer = (*Writer)(nil)
)
