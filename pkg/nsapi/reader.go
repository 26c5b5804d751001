package nsapi

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sw33tLie/nstg/pkg/providers"
)

type regionDoc struct {
	Nations string `xml:"NATIONS"`
}

type worldDoc struct {
	Regions    string     `xml:"REGIONS"`
	NewNations string     `xml:"NEWNATIONS"`
	Happenings []eventDoc `xml:"HAPPENINGS>EVENT"`
}

type eventDoc struct {
	ID        int64  `xml:"id,attr"`
	Timestamp int64  `xml:"TIMESTAMP"`
	Text      string `xml:"TEXT"`
}

type waDoc struct {
	Members    string        `xml:"MEMBERS"`
	Delegates  string        `xml:"DELEGATES"`
	Resolution resolutionDoc `xml:"RESOLUTION"`
	Proposals  []proposalDoc `xml:"PROPOSALS>PROPOSAL"`
}

type resolutionDoc struct {
	ID           string   `xml:"ID"`
	Name         string   `xml:"NAME"`
	VotesFor     []string `xml:"VOTES_FOR>N"`
	VotesAgainst []string `xml:"VOTES_AGAINST>N"`
}

type proposalDoc struct {
	ID        string `xml:"id,attr"`
	Name      string `xml:"NAME"`
	Approvals string `xml:"APPROVALS"`
}

type nationDoc struct {
	ID           string `xml:"id,attr"`
	Name         string `xml:"NAME"`
	Region       string `xml:"REGION"`
	UNStatus     string `xml:"UNSTATUS"`
	Endorsements string `xml:"ENDORSEMENTS"`
	CanRecruit   string `xml:"TGCANRECRUIT"`
	CanCampaign  string `xml:"TGCANCAMPAIGN"`
}

var mentionRe = regexp.MustCompile(`@@([^@]+)@@`)

func canonical(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// splitNames splits a separator-joined name list into canonical names.
func splitNames(s, sep string) []string {
	var names []string
	for _, part := range strings.Split(s, sep) {
		if n := canonical(part); n != "" {
			names = append(names, n)
		}
	}
	return names
}

func (c *Client) query(ctx context.Context, params url.Values, v interface{}) error {
	body, err := c.get(ctx, params)
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding %s response: %w", params.Get("q"), err)
	}
	return nil
}

func council(chamber providers.Chamber) string {
	return strconv.Itoa(int(chamber))
}

func (c *Client) RegionNations(ctx context.Context, region string) ([]string, error) {
	var doc regionDoc
	if err := c.query(ctx, url.Values{"region": {canonical(region)}, "q": {"nations"}}, &doc); err != nil {
		return nil, fmt.Errorf("region %s: %w", region, err)
	}
	return splitNames(doc.Nations, ":"), nil
}

func (c *Client) RegionsByTag(ctx context.Context, tag string) ([]string, error) {
	var doc worldDoc
	if err := c.query(ctx, url.Values{"q": {"regionsbytag"}, "tags": {tag}}, &doc); err != nil {
		return nil, fmt.Errorf("regions tagged %s: %w", tag, err)
	}
	return splitNames(doc.Regions, ","), nil
}

func (c *Client) WorldAssemblyMembers(ctx context.Context) ([]string, error) {
	var doc waDoc
	if err := c.query(ctx, url.Values{"wa": {"1"}, "q": {"members"}}, &doc); err != nil {
		return nil, err
	}
	return splitNames(doc.Members, ","), nil
}

func (c *Client) Delegates(ctx context.Context) ([]string, error) {
	var doc waDoc
	if err := c.query(ctx, url.Values{"wa": {"1"}, "q": {"delegates"}}, &doc); err != nil {
		return nil, err
	}
	return splitNames(doc.Delegates, ","), nil
}

func (c *Client) NewNations(ctx context.Context) ([]string, error) {
	var doc worldDoc
	if err := c.query(ctx, url.Values{"q": {"newnations"}}, &doc); err != nil {
		return nil, err
	}
	return splitNames(doc.NewNations, ","), nil
}

func (c *Client) Endorsers(ctx context.Context, nation string) ([]string, error) {
	var doc nationDoc
	if err := c.query(ctx, url.Values{"nation": {canonical(nation)}, "q": {"endorsements"}}, &doc); err != nil {
		return nil, fmt.Errorf("nation %s: %w", nation, err)
	}
	return splitNames(doc.Endorsements, ","), nil
}

func (c *Client) Nation(ctx context.Context, nation string) (providers.NationProfile, error) {
	var doc nationDoc
	params := url.Values{
		"nation": {canonical(nation)},
		"q":      {"name+region+wa+endorsements+tgcanrecruit+tgcancampaign"},
	}
	if err := c.query(ctx, params, &doc); err != nil {
		return providers.NationProfile{}, fmt.Errorf("nation %s: %w", nation, err)
	}
	status := strings.ToLower(doc.UNStatus)
	return providers.NationProfile{
		Name:         canonical(nation),
		Region:       canonical(doc.Region),
		WAMember:     status == "wa member" || status == "wa delegate",
		Delegate:     status == "wa delegate",
		Endorsements: splitNames(doc.Endorsements, ","),
		CanRecruit:   doc.CanRecruit == "1",
		CanCampaign:  doc.CanCampaign == "1",
	}, nil
}

func (c *Client) Happenings(ctx context.Context) ([]providers.Happening, error) {
	var doc worldDoc
	if err := c.query(ctx, url.Values{"q": {"happenings"}}, &doc); err != nil {
		return nil, err
	}
	events := make([]providers.Happening, 0, len(doc.Happenings))
	for _, ev := range doc.Happenings {
		h := providers.Happening{ID: ev.ID, Time: time.Unix(ev.Timestamp, 0), Text: ev.Text}
		for _, m := range mentionRe.FindAllStringSubmatch(ev.Text, -1) {
			h.Nations = append(h.Nations, canonical(m[1]))
		}
		events = append(events, h)
	}
	return events, nil
}

func (c *Client) resolution(ctx context.Context, chamber providers.Chamber, shards string) (resolutionDoc, error) {
	var doc waDoc
	if err := c.query(ctx, url.Values{"wa": {council(chamber)}, "q": {shards}}, &doc); err != nil {
		return resolutionDoc{}, fmt.Errorf("%s resolution: %w", chamber, err)
	}
	return doc.Resolution, nil
}

func (c *Client) CurrentProposal(ctx context.Context, chamber providers.Chamber) (string, bool, error) {
	res, err := c.resolution(ctx, chamber, "resolution")
	if err != nil {
		return "", false, err
	}
	id := strings.TrimSpace(res.ID)
	return id, id != "", nil
}

func (c *Client) Voters(ctx context.Context, chamber providers.Chamber, side providers.Side) ([]string, error) {
	res, err := c.resolution(ctx, chamber, "resolution+voters")
	if err != nil {
		return nil, err
	}
	raw := res.VotesFor
	if side == providers.SideAgainst {
		raw = res.VotesAgainst
	}
	names := make([]string, 0, len(raw))
	for _, n := range raw {
		names = append(names, canonical(n))
	}
	return names, nil
}

func (c *Client) Proposals(ctx context.Context, chamber providers.Chamber) ([]providers.Proposal, error) {
	var doc waDoc
	if err := c.query(ctx, url.Values{"wa": {council(chamber)}, "q": {"proposals"}}, &doc); err != nil {
		return nil, fmt.Errorf("%s proposals: %w", chamber, err)
	}
	out := make([]providers.Proposal, 0, len(doc.Proposals))
	for _, p := range doc.Proposals {
		out = append(out, providers.Proposal{
			ID:        p.ID,
			Name:      strings.TrimSpace(p.Name),
			Approvals: splitNames(p.Approvals, ":"),
		})
	}
	return out, nil
}

var _ providers.Reader = (*Client)(nil)
