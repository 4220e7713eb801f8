package reddit

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	rateWindow = time.Minute

	// quotaLowWater is the remaining remote quota at or below which requests
	// wait for the reset.
	quotaLowWater = 1
)

type rateState struct {
	count       int
	windowStart time.Time
	lastRequest time.Time

	remoteKnown     bool
	remoteRemaining float64
	remoteReset     time.Time
}

// Throttle blocks until one more request may be sent, then records it.
// Callers are served one at a time; the wait ends early if ctx is cancelled.
func (c *Client) Throttle(ctx context.Context) error {
	c.gate.Lock()
	defer c.gate.Unlock()

	// Minimum spacing.
	c.mu.Lock()
	last := c.rate.lastRequest
	c.mu.Unlock()
	if !last.IsZero() {
		if wait := last.Add(c.minInterval).Sub(c.clock.Now()); wait > 0 {
			if err := c.clock.Sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	// Remote quota.
	c.mu.Lock()
	known, remaining, reset := c.rate.remoteKnown, c.rate.remoteRemaining, c.rate.remoteReset
	c.mu.Unlock()
	if known && remaining <= quotaLowWater {
		if wait := reset.Sub(c.clock.Now()); wait > 0 {
			if err := c.clock.Sleep(ctx, wait); err != nil {
				return err
			}
			c.mu.Lock()
			c.rate.remoteKnown = false
			c.mu.Unlock()
		}
	}

	// Local window.
	c.mu.Lock()
	now := c.clock.Now()
	if c.rate.windowStart.IsZero() || now.Sub(c.rate.windowStart) >= rateWindow {
		c.rate.windowStart = now
		c.rate.count = 0
	}
	full := c.rate.count >= c.limit
	wait := c.rate.windowStart.Add(rateWindow).Sub(now)
	c.mu.Unlock()

	if full {
		if wait > 0 {
			if err := c.clock.Sleep(ctx, wait); err != nil {
				return err
			}
		}
		c.mu.Lock()
		c.rate.windowStart = c.clock.Now()
		c.rate.count = 0
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.rate.count++
	c.rate.lastRequest = c.clock.Now()
	c.mu.Unlock()
	return nil
}

// UpdateQuotaFromResponse records the remote quota advertised in h. Headers
// that are missing or malformed leave the previous values untouched.
func (c *Client) UpdateQuotaFromResponse(h http.Header) {
	remaining, okRemaining := parseFloatHeader(h, "X-Ratelimit-Remaining")
	reset, okReset := parseFloatHeader(h, "X-Ratelimit-Reset")
	if !okRemaining && !okReset {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if okRemaining {
		c.rate.remoteRemaining = remaining
		c.rate.remoteKnown = true
	}
	if okReset {
		c.rate.remoteReset = c.clock.Now().Add(time.Duration(reset * float64(time.Second)))
	}
}

// Status reports the local window without touching it.
func (c *Client) Status() RateStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := RateStatus{Limit: c.limit}
	if c.rate.windowStart.IsZero() {
		return st
	}
	now := c.clock.Now()
	if now.Sub(c.rate.windowStart) >= rateWindow {
		return st
	}
	st.RequestsThisWindow = c.rate.count
	st.ResetIn = c.rate.windowStart.Add(rateWindow).Sub(now)
	return st
}

func parseFloatHeader(h http.Header, name string) (float64, bool) {
	v := strings.TrimSpace(h.Get(name))
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
