package nsapi

import (
	"context"
	"net/url"
	"strings"

	"github.com/sw33tLie/nstg/pkg/providers"
)

// Order matters: the first matching substring wins.
var telegramResponses = []struct {
	substr  string
	outcome providers.Outcome
}{
	{"queued", providers.Accepted},
	{"region mismatch", providers.RegionMismatch},
	{"client not registered", providers.ClientNotRegistered},
	{"rate-limited", providers.RateLimitExceeded},
	{"rate limited", providers.RateLimitExceeded},
	{"incorrect secret key", providers.SecretKeyMismatch},
	{"no such api telegram template", providers.NoSuchTemplate},
}

// ClassifyTelegramResponse maps a sendTG response body to an outcome.
func ClassifyTelegramResponse(body string) providers.Outcome {
	b := strings.ToLower(body)
	for _, r := range telegramResponses {
		if strings.Contains(b, r.substr) {
			return r.outcome
		}
	}
	return providers.Unclassified
}

// SendTelegram submits one API telegram. The response body is classified
// whatever the HTTP status; only a failed request is an error.
func (c *Client) SendTelegram(ctx context.Context, creds providers.Credentials, recipient string) (providers.Outcome, error) {
	params := url.Values{
		"a":      {"sendTG"},
		"client": {creds.ClientKey},
		"tgid":   {creds.TelegramID},
		"key":    {creds.SecretKey},
		"to":     {canonical(recipient)},
	}
	_, body, err := c.do(ctx, c.sends, params)
	if err != nil {
		return providers.Unclassified, err
	}
	outcome := ClassifyTelegramResponse(string(body))
	if outcome == providers.Unclassified {
		c.log.Debugf("Unclassified telegram response for %s: %s", recipient, snippet(body))
	}
	return outcome, nil
}

var _ providers.Writer = (*Client)(nil)
