// Package reddit is a rate-limited client for the Reddit OAuth API.
//
// A Client is safe for concurrent use, but all of its traffic is serialized
// through one pacing gate: requests are spaced by MinInterval, capped per
// local one-minute window, and held back while the remote quota is exhausted.
package reddit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/TobiSchelling/SubCrawler/internal/cache"
	"github.com/TobiSchelling/SubCrawler/internal/clock"
)

const (
	DefaultBaseURL  = "https://oauth.reddit.com"
	DefaultTokenURL = "https://www.reddit.com/api/v1/access_token"

	// ListingTTL is how long a fetched listing is served from cache.
	ListingTTL = 10 * time.Minute

	defaultRequestsPerMinute = 60
	defaultMinInterval       = time.Second
	defaultBackoffBase       = 5 * time.Second
	defaultMaxRetries        = 3
	defaultUserAgent         = "subcrawler/1.0"
)

// Options configures a Client. Zero values select the defaults.
type Options struct {
	ClientID          string
	ClientSecret      string
	UserAgent         string
	BaseURL           string
	TokenURL          string
	RequestsPerMinute int
	MinInterval       time.Duration
	BackoffBase       time.Duration
	MaxRetries        int
	HTTPClient        *http.Client
	Cache             *cache.Cache
	Clock             clock.Clock
}

// Client talks to the Reddit API.
type Client struct {
	clientID     string
	clientSecret string
	userAgent    string
	baseURL      string
	tokenURL     string
	limit        int
	minInterval  time.Duration
	backoffBase  time.Duration
	maxRetries   int

	http   *http.Client
	cache  *cache.Cache
	clock  clock.Clock
	flight singleflight.Group

	// gate serializes Throttle callers across their waits; mu guards state.
	gate  sync.Mutex
	mu    sync.Mutex
	token token
	rate  rateState
}

// New creates a Client.
func New(opts Options) *Client {
	c := &Client{
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		userAgent:    opts.UserAgent,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		tokenURL:     opts.TokenURL,
		limit:        opts.RequestsPerMinute,
		minInterval:  opts.MinInterval,
		backoffBase:  opts.BackoffBase,
		maxRetries:   opts.MaxRetries,
		cache:        opts.Cache,
		clock:        opts.Clock,
	}
	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.tokenURL == "" {
		c.tokenURL = DefaultTokenURL
	}
	if c.limit <= 0 {
		c.limit = defaultRequestsPerMinute
	}
	if c.minInterval <= 0 {
		c.minInterval = defaultMinInterval
	}
	if c.backoffBase <= 0 {
		c.backoffBase = defaultBackoffBase
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	} else if c.maxRetries == 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}

	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}
	hc := *base
	hc.Transport = &userAgentTransport{base: base.Transport, agent: c.userAgent}
	c.http = &hc

	return c
}

// call paces, authenticates and performs one logical request, retrying on
// throttling. Every outbound attempt, retries included, passes Throttle.
func (c *Client) call(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.Throttle(ctx); err != nil {
		return err
	}
	tok, err := c.Authenticate(ctx)
	if err != nil {
		return err
	}

	first := true
	return c.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		if !first {
			if err := c.Throttle(ctx); err != nil {
				return err
			}
		}
		first = false
		return c.get(ctx, tok, path, params, out)
	}, c.maxRetries)
}

// shared runs fn once for all concurrent callers using key. fn runs on a
// context detached from the caller's cancellation so that one caller giving
// up does not fail the others; each caller still stops waiting when its own
// ctx is done.
func (c *Client) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	detached := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) get(ctx context.Context, tok, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &RequestError{Path: path, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.http.Do(req)
	if err != nil {
		return &RequestError{Path: path, Err: err}
	}
	defer resp.Body.Close()

	c.UpdateQuotaFromResponse(resp.Header)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &ThrottlingError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.invalidateToken()
		return &RequestError{Path: path, StatusCode: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &RequestError{Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RequestError{Path: path, StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// userAgentTransport stamps every request, token exchange included.
type userAgentTransport struct {
	base  http.RoundTripper
	agent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.agent)
	return base.RoundTrip(r)
}
