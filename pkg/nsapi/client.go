// Package nsapi talks to the NationStates API. Client implements both
// providers.Reader and providers.Writer.
package nsapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/sw33tLie/nstg/pkg/monitor"
)

const (
	DefaultBaseURL = "https://www.nationstates.net/cgi-bin/api.cgi"

	// DefaultSpacing keeps requests within the API limit of 50 per 30 seconds.
	DefaultSpacing = 600 * time.Millisecond

	maxBodySize = 8 << 20
)

var (
	// ErrNotFound is returned when the API does not know the requested
	// nation or region.
	ErrNotFound = errors.New("not found")

	ErrNoUserAgent = errors.New("the NationStates API requires a user agent identifying you")
)

// StatusError is an unexpected HTTP status from the API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("nationstates api: HTTP %d: %s", e.StatusCode, e.Body)
}

// Client is a rate-limited NationStates API client. Reads are retried on
// transient failures; telegram submissions never are.
type Client struct {
	baseURL   string
	userAgent string
	spacing   time.Duration
	limiter   *rate.Limiter
	reads     *retryablehttp.Client
	sends     *retryablehttp.Client
	log       monitor.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithLogger(l monitor.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithSpacing changes the minimum delay between requests.
func WithSpacing(d time.Duration) Option {
	return func(c *Client) { c.spacing = d }
}

// WithRetries sets how many times a failed read is retried.
func WithRetries(n int) Option {
	return func(c *Client) { c.reads.RetryMax = n }
}

// WithHTTPClient replaces the underlying HTTP client of both transports.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.reads.HTTPClient = hc
		c.sends.HTTPClient = hc
	}
}

// New returns a client identifying itself with userAgent.
func New(userAgent string, opts ...Option) (*Client, error) {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return nil, ErrNoUserAgent
	}

	reads := retryablehttp.NewClient()
	reads.Logger = log.New(io.Discard, "", 0)
	reads.RetryMax = 3
	reads.RetryWaitMin = time.Second
	reads.RetryWaitMax = 10 * time.Second
	reads.ErrorHandler = retryablehttp.PassthroughErrorHandler

	sends := retryablehttp.NewClient()
	sends.Logger = log.New(io.Discard, "", 0)
	sends.RetryMax = 0
	sends.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		baseURL:   DefaultBaseURL,
		userAgent: userAgent,
		spacing:   DefaultSpacing,
		reads:     reads,
		sends:     sends,
		log:       monitor.NopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.limiter = rate.NewLimiter(rate.Every(c.spacing), 1)
	if c.spacing <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return c, nil
}

// MinInterval returns the spacing the client enforces between requests.
func (c *Client) MinInterval() time.Duration { return c.spacing }

// do sends one GET with params, waiting for the rate limiter first, and
// returns the status and body.
func (c *Client) do(ctx context.Context, hc *retryablehttp.Client, params url.Values) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// get performs a read request and maps error statuses to errors.
func (c *Client) get(ctx context.Context, params url.Values) ([]byte, error) {
	c.log.Debugf("nationstates api: GET %s", params.Encode())
	status, body, err := c.do(ctx, c.reads, params)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, ErrNotFound
	case status < 200 || status > 299:
		return nil, &StatusError{StatusCode: status, Body: snippet(body)}
	}
	return body, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
