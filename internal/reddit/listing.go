package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
)

var (
	validSorts   = map[string]bool{"hot": true, "new": true, "top": true, "rising": true, "controversial": true}
	searchSorts  = map[string]bool{"relevance": true, "hot": true, "top": true, "new": true, "comments": true}
	validWindows = map[string]bool{"hour": true, "day": true, "week": true, "month": true, "year": true, "all": true}
)

// FetchPosts returns up to limit posts from a subreddit listing. Listings are
// cached for ListingTTL; a cache hit makes no request and consumes no quota.
func (c *Client) FetchPosts(ctx context.Context, subreddit string, limit int, timeWindow, sort string) ([]Post, error) {
	subreddit = strings.TrimPrefix(strings.TrimSpace(subreddit), "r/")
	if subreddit == "" {
		return nil, fmt.Errorf("subreddit name is empty")
	}
	if sort == "" {
		sort = "hot"
	}
	if timeWindow == "" {
		timeWindow = "day"
	}
	if !validSorts[sort] {
		return nil, fmt.Errorf("unsupported sort %q", sort)
	}
	if !validWindows[timeWindow] {
		return nil, fmt.Errorf("unsupported time window %q", timeWindow)
	}
	limit = clampLimit(limit)

	key := fmt.Sprintf("posts:%s:%s:%s:%d", strings.ToLower(subreddit), sort, timeWindow, limit)
	if posts, ok := c.cachedPosts(ctx, key); ok {
		return posts, nil
	}

	v, err := c.shared(ctx, key, func(ctx context.Context) (any, error) {
		if posts, ok := c.cachedPosts(ctx, key); ok {
			return posts, nil
		}

		params := url.Values{}
		params.Set("limit", strconv.Itoa(limit))
		params.Set("t", timeWindow)
		params.Set("raw_json", "1")

		var l listing
		if err := c.call(ctx, "/r/"+subreddit+"/"+sort, params, &l); err != nil {
			return nil, err
		}
		posts, err := postsFromListing(l)
		if err != nil {
			return nil, fmt.Errorf("decoding r/%s listing: %w", subreddit, err)
		}

		if data, err := json.Marshal(posts); err == nil {
			c.cache.Set(ctx, key, data, ListingTTL)
		}
		return posts, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Post), nil
}

// SearchPosts runs a search, restricted to subreddit when it is non-empty.
// Search results are never cached.
func (c *Client) SearchPosts(ctx context.Context, query, subreddit string, limit int, sort, timeWindow string) ([]Post, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query is empty")
	}
	if sort == "" {
		sort = "relevance"
	}
	if timeWindow == "" {
		timeWindow = "week"
	}
	if !searchSorts[sort] {
		return nil, fmt.Errorf("unsupported search sort %q", sort)
	}
	if !validWindows[timeWindow] {
		return nil, fmt.Errorf("unsupported time window %q", timeWindow)
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(clampLimit(limit)))
	params.Set("sort", sort)
	params.Set("t", timeWindow)
	params.Set("raw_json", "1")

	path := "/search"
	subreddit = strings.TrimPrefix(strings.TrimSpace(subreddit), "r/")
	if subreddit != "" {
		path = "/r/" + subreddit + "/search"
		params.Set("restrict_sr", "1")
	}

	var l listing
	if err := c.call(ctx, path, params, &l); err != nil {
		return nil, err
	}
	posts, err := postsFromListing(l)
	if err != nil {
		return nil, fmt.Errorf("decoding search results: %w", err)
	}
	return posts, nil
}

func (c *Client) cachedPosts(ctx context.Context, key string) ([]Post, bool) {
	data, ok := c.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var posts []Post
	if err := json.Unmarshal(data, &posts); err != nil {
		log.Printf("Discarding unreadable cache entry %s: %v", key, err)
		c.cache.Delete(ctx, key)
		return nil, false
	}
	return posts, true
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return 25
	case n > 100:
		return 100
	default:
		return n
	}
}
