package reddit

import (
	"context"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// tokenMargin is how close to expiry a cached token is still reused.
const tokenMargin = 60 * time.Second

type token struct {
	value  string
	expiry time.Time
}

// Authenticate returns a valid access token, exchanging client credentials
// when no cached token is usable.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	if tok, ok := c.cachedToken(); ok {
		return tok, nil
	}
	if c.clientID == "" || c.clientSecret == "" {
		return "", ErrConfiguration
	}

	v, err := c.shared(ctx, "token", func(ctx context.Context) (any, error) {
		if tok, ok := c.cachedToken(); ok {
			return tok, nil
		}
		return c.exchange(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) exchange(ctx context.Context) (string, error) {
	cfg := clientcredentials.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		TokenURL:     c.tokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	t, err := cfg.Token(ctx)
	if err != nil {
		return "", &AuthenticationError{Err: err}
	}

	now := c.clock.Now()
	expiry := now.Add(time.Hour)
	if secs, ok := t.Extra("expires_in").(float64); ok && secs > 0 {
		expiry = now.Add(time.Duration(secs) * time.Second)
	} else if !t.Expiry.IsZero() {
		expiry = t.Expiry
	}

	c.mu.Lock()
	c.token = token{value: t.AccessToken, expiry: expiry}
	c.mu.Unlock()

	return t.AccessToken, nil
}

func (c *Client) cachedToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.value == "" {
		return "", false
	}
	if !c.clock.Now().Before(c.token.expiry.Add(-tokenMargin)) {
		return "", false
	}
	return c.token.value, true
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = token{}
	c.mu.Unlock()
}
