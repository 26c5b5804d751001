package providers

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Chamber identifies one of the two World Assembly councils.
type Chamber int

const (
	GeneralAssembly Chamber = 1
	SecurityCouncil Chamber = 2
)

func (c Chamber) String() string {
	switch c {
	case GeneralAssembly:
		return "ga"
	case SecurityCouncil:
		return "sc"
	}
	return fmt.Sprintf("chamber(%d)", int(c))
}

// ParseChamber accepts "ga" or "sc" in any case.
func ParseChamber(s string) (Chamber, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ga":
		return GeneralAssembly, nil
	case "sc":
		return SecurityCouncil, nil
	}
	return 0, fmt.Errorf("unknown chamber %q (want ga or sc)", s)
}

// Side is the direction of a World Assembly vote.
type Side int

const (
	SideFor Side = iota + 1
	SideAgainst
)

func (s Side) String() string {
	switch s {
	case SideFor:
		return "for"
	case SideAgainst:
		return "against"
	}
	return "any"
}

// ParseSide accepts "for" or "against" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "for":
		return SideFor, nil
	case "against":
		return SideAgainst, nil
	}
	return 0, fmt.Errorf("unknown vote side %q (want for or against)", s)
}

// NationProfile is the richer per-nation record used by eligibility checks.
type NationProfile struct {
	Name         string
	Region       string
	WAMember     bool
	Delegate     bool
	Endorsements []string
	CanRecruit   bool
	CanCampaign  bool
}

// Happening is one entry of the world activity feed. Nations holds the
// canonical names mentioned in the entry, in order of appearance.
type Happening struct {
	ID      int64
	Time    time.Time
	Text    string
	Nations []string
}

// Proposal is a World Assembly proposal waiting in the queue.
type Proposal struct {
	ID        string
	Name      string
	Approvals []string
}

// Credentials are the three opaque strings needed to send an API telegram.
type Credentials struct {
	ClientKey  string
	TelegramID string
	SecretKey  string
}

func (c Credentials) Validate() error {
	if c.ClientKey == "" || c.TelegramID == "" || c.SecretKey == "" {
		return fmt.Errorf("telegram credentials are incomplete (client key, telegram id and secret key are all required)")
	}
	return nil
}

// Outcome classifies the response of a single telegram submission.
type Outcome int

const (
	Unclassified Outcome = iota
	Accepted
	RegionMismatch
	ClientNotRegistered
	RateLimitExceeded
	SecretKeyMismatch
	NoSuchTemplate
)

var outcomeNames = map[Outcome]string{
	Unclassified:        "unclassified",
	Accepted:            "accepted",
	RegionMismatch:      "region_mismatch",
	ClientNotRegistered: "client_not_registered",
	RateLimitExceeded:   "rate_limit_exceeded",
	SecretKeyMismatch:   "secret_key_mismatch",
	NoSuchTemplate:      "no_such_template",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Rejected reports whether o is one of the named rejection reasons.
func (o Outcome) Rejected() bool {
	return o != Accepted && o != Unclassified
}

// Reader is the read/query side of the NationStates API. Implementations
// must be safe for concurrent use. All returned names are canonical.
type Reader interface {
	RegionNations(ctx context.Context, region string) ([]string, error)
	RegionsByTag(ctx context.Context, tag string) ([]string, error)
	WorldAssemblyMembers(ctx context.Context) ([]string, error)
	Delegates(ctx context.Context) ([]string, error)
	NewNations(ctx context.Context) ([]string, error)
	Endorsers(ctx context.Context, nation string) ([]string, error)
	Nation(ctx context.Context, nation string) (NationProfile, error)
	Happenings(ctx context.Context) ([]Happening, error)
	// CurrentProposal returns the id of the proposal at vote in the chamber.
	// ok is false when nothing is at vote.
	CurrentProposal(ctx context.Context, chamber Chamber) (id string, ok bool, err error)
	Voters(ctx context.Context, chamber Chamber, side Side) ([]string, error)
	Proposals(ctx context.Context, chamber Chamber) ([]Proposal, error)
	// MinInterval is the minimum spacing the provider enforces between requests.
	MinInterval() time.Duration
}

// Writer is the write/submit side: one telegram per call.
type Writer interface {
	SendTelegram(ctx context.Context, creds Credentials, recipient string) (Outcome, error)
	// MinInterval is the minimum spacing the provider enforces between calls
	// made with one credential.
	MinInterval() time.Duration
}
