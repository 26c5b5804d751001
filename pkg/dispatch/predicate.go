package dispatch

import (
	"github.com/sw33tLie/nstg/pkg/providers"
)

// Predicate is a named eligibility check on a recipient's profile. A failed
// check skips the recipient and Name is logged as the reason.
type Predicate struct {
	Name  string
	Check func(p providers.NationProfile) bool
}

// CanRecruit passes nations accepting recruitment telegrams.
var CanRecruit = Predicate{
	Name:  "does not accept recruitment telegrams",
	Check: func(p providers.NationProfile) bool { return p.CanRecruit },
}

// CanCampaign passes nations accepting campaign telegrams.
var CanCampaign = Predicate{
	Name:  "does not accept campaign telegrams",
	Check: func(p providers.NationProfile) bool { return p.CanCampaign },
}

// DefaultFor returns the eligibility check every telegram of class c must pass.
func DefaultFor(c Class) Predicate {
	if c == Throttled {
		return CanRecruit
	}
	return CanCampaign
}

// NotInRegions fails nations residing in any of regions. Region names are
// compared in canonical form.
func NotInRegions(regions ...string) Predicate {
	set := make(map[string]bool, len(regions))
	for _, r := range regions {
		set[r] = true
	}
	return Predicate{
		Name:  "resides in an excluded region",
		Check: func(p providers.NationProfile) bool { return !set[p.Region] },
	}
}

// WAMember passes World Assembly members.
var WAMember = Predicate{
	Name:  "not a World Assembly member",
	Check: func(p providers.NationProfile) bool { return p.WAMember },
}
