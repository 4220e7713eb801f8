// Package fetch fills in the body of link posts with the readable text of the
// page they point to.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/TobiSchelling/SubCrawler/internal/database"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "subcrawler/1.0 (content enrichment)"
	minContentLength = 100
	maxPageBytes     = 5 << 20
)

// Store is the subset of the database the fetcher needs.
type Store interface {
	GetPostsNeedingContent(ctx context.Context, limit int) ([]database.Post, error)
	UpdatePostContent(ctx context.Context, id int64, body string) error
	MarkContentFetched(ctx context.Context, id int64) error
}

// Result holds the results of a content fetch run.
type Result struct {
	Fetched int
	Skipped int
	Failed  int
}

// ContentFetcher fetches page text via HTTP + readability extraction.
type ContentFetcher struct {
	store     Store
	client    *http.Client
	userAgent string
}

// NewContentFetcher creates a new content fetcher.
func NewContentFetcher(store Store, timeout time.Duration, userAgent string) *ContentFetcher {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &ContentFetcher{
		store:     store,
		userAgent: userAgent,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// FetchMissingContent fetches content for up to limit link posts with an
// empty body. A domain that answers with an HTTP error is skipped for the
// rest of the run.
func (f *ContentFetcher) FetchMissingContent(ctx context.Context, limit int) (*Result, error) {
	posts, err := f.store.GetPostsNeedingContent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing posts needing content: %w", err)
	}

	result := &Result{}
	if len(posts) == 0 {
		log.Println("No posts need content fetching")
		return result, nil
	}

	failedDomains := make(map[string]struct{})

	for _, post := range posts {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		domain := hostOf(post.URL)
		if domain == "" || isRedditHosted(domain) {
			f.markAttempted(ctx, post.ID)
			result.Skipped++
			continue
		}

		if _, failed := failedDomains[domain]; failed {
			f.markAttempted(ctx, post.ID)
			result.Failed++
			continue
		}

		content, httpErr := f.fetchPageContent(ctx, post.URL)
		if httpErr != nil {
			f.markAttempted(ctx, post.ID)
			result.Failed++
			failedDomains[domain] = struct{}{}
			log.Printf("HTTP error for %s, skipping remaining posts from %s", post.URL, domain)
			continue
		}

		if content == "" {
			f.markAttempted(ctx, post.ID)
			result.Failed++
			log.Printf("No extractable content from: %s", post.URL)
			continue
		}

		if err := f.store.UpdatePostContent(ctx, post.ID, content); err != nil {
			log.Printf("Storing content for %s failed: %v", post.RedditID, err)
			result.Failed++
			continue
		}
		result.Fetched++
		log.Printf("Fetched content for: %s", post.Title)
	}

	log.Printf("Content fetch complete: %d fetched, %d skipped, %d failed", result.Fetched, result.Skipped, result.Failed)
	return result, nil
}

func (f *ContentFetcher) markAttempted(ctx context.Context, id int64) {
	if err := f.store.MarkContentFetched(ctx, id); err != nil {
		log.Printf("Marking post %d fetched failed: %v", id, err)
	}
}

// fetchPageContent returns the readable text of pageURL. Only HTTP status
// failures are returned as errors; anything else yields empty content.
func (f *ContentFetcher) fetchPageContent(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", nil
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &httpError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", nil
	}

	parsedURL, _ := url.Parse(pageURL)
	article, err := readability.FromReader(strings.NewReader(string(body)), parsedURL)
	if err != nil {
		return "", nil
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) > minContentLength {
		return text, nil
	}
	return "", nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Host)
}

// isRedditHosted reports whether the link points back at Reddit itself
// (self posts, galleries, media), which has no article to extract.
func isRedditHosted(host string) bool {
	for _, d := range []string{"reddit.com", "redd.it"} {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return http.StatusText(e.code)
}
