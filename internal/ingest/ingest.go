// Package ingest maps fetched Reddit posts into the store. Each post is
// upserted on its own: one failing post is recorded and the run continues.
package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/TobiSchelling/SubCrawler/internal/clock"
	"github.com/TobiSchelling/SubCrawler/internal/database"
	"github.com/TobiSchelling/SubCrawler/internal/reddit"
)

const (
	DefaultPause = 2 * time.Second

	deletedAuthor = "[deleted]"
)

// Source fetches posts from the remote API.
type Source interface {
	FetchPosts(ctx context.Context, subreddit string, limit int, timeWindow, sort string) ([]reddit.Post, error)
	SearchPosts(ctx context.Context, query, subreddit string, limit int, sort, timeWindow string) ([]reddit.Post, error)
}

// Store persists subreddits, authors and posts.
type Store interface {
	UpsertSubreddit(ctx context.Context, s database.Subreddit) (int64, error)
	UpsertAuthor(ctx context.Context, a database.Author) (int64, error)
	UpsertPost(ctx context.Context, p database.PostRecord) (int64, error)
}

// Result is the outcome of one ingestion run. Success is false only when
// nothing could be attempted; per-post failures are listed in Errors.
type Result struct {
	Stored  int
	PostIDs []int64
	Errors  []string
	Success bool
}

func newResult() *Result {
	return &Result{Success: true}
}

func (r *Result) stored(id int64) {
	r.Stored++
	r.PostIDs = append(r.PostIDs, id)
}

func (r *Result) record(key string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", key, err))
}

func (r *Result) fail(err error) {
	r.Success = false
	r.Errors = append(r.Errors, err.Error())
}

// Options configures an Ingester.
type Options struct {
	// Pause between subreddits in BatchIngest. Zero selects DefaultPause,
	// a negative value disables it.
	Pause      time.Duration
	TimeWindow string
	Sort       string
	Clock      clock.Clock
}

// Ingester runs ingestion against a Source and a Store.
type Ingester struct {
	source Source
	store  Store
	pause  time.Duration
	window string
	sort   string
	clock  clock.Clock
}

// New creates an Ingester.
func New(source Source, store Store, opts Options) *Ingester {
	in := &Ingester{
		source: source,
		store:  store,
		pause:  opts.Pause,
		window: opts.TimeWindow,
		sort:   opts.Sort,
		clock:  opts.Clock,
	}
	switch {
	case in.pause == 0:
		in.pause = DefaultPause
	case in.pause < 0:
		in.pause = 0
	}
	if in.window == "" {
		in.window = "day"
	}
	if in.sort == "" {
		in.sort = "hot"
	}
	if in.clock == nil {
		in.clock = clock.Real()
	}
	return in
}

// IngestSubreddit fetches a subreddit listing and stores every post in it.
// Empty timeWindow or sort fall back to the Ingester's defaults.
func (in *Ingester) IngestSubreddit(ctx context.Context, name string, limit int, timeWindow, sort string) *Result {
	r := newResult()
	if timeWindow == "" {
		timeWindow = in.window
	}
	if sort == "" {
		sort = in.sort
	}

	posts, err := in.source.FetchPosts(ctx, name, limit, timeWindow, sort)
	if err != nil {
		log.Printf("Failed to fetch r/%s: %v", name, err)
		r.fail(fmt.Errorf("fetching r/%s: %w", name, err))
		return r
	}
	log.Printf("Fetched %d posts from r/%s", len(posts), name)
	if len(posts) == 0 {
		return r
	}

	subID, err := in.store.UpsertSubreddit(ctx, database.Subreddit{Name: storedName(name, posts)})
	if err != nil {
		r.fail(err)
		return r
	}

	for _, p := range posts {
		id, err := in.storePost(ctx, p, subID)
		if err != nil {
			log.Printf("Failed to store post %s: %v", p.ID, err)
			r.record(p.ID, err)
			continue
		}
		r.stored(id)
	}

	log.Printf("Stored %d/%d posts from r/%s", r.Stored, len(posts), name)
	return r
}

// storedName is the subreddit a listing is filed under. Reddit's own
// spelling wins over what the caller typed unless the listing is a
// multi-subreddit feed such as r/all.
func storedName(requested string, posts []reddit.Post) string {
	key := database.SubredditKey(requested)
	if len(posts) > 0 && database.SubredditKey(posts[0].Subreddit) == key {
		return posts[0].Subreddit
	}
	return key
}

// storePost upserts the post's author, unless deleted, and then the post.
func (in *Ingester) storePost(ctx context.Context, p reddit.Post, subredditID int64) (int64, error) {
	var authorID *int64
	if p.Author != "" && p.Author != deletedAuthor {
		id, err := in.store.UpsertAuthor(ctx, database.Author{Username: p.Author})
		if err != nil {
			return 0, err
		}
		authorID = &id
	}

	return in.store.UpsertPost(ctx, database.PostRecord{
		RedditID:    p.ID,
		Title:       p.Title,
		Body:        p.Body,
		SubredditID: subredditID,
		AuthorID:    authorID,
		Score:       p.Score,
		Upvotes:     p.Upvotes,
		Downvotes:   p.Downvotes,
		NumComments: p.NumComments,
		CreatedAt:   p.CreatedAt,
		URL:         p.URL,
		Permalink:   p.Permalink,
	})
}

// IngestSearch runs a search and stores the results grouped by the subreddit
// each post reports. A group whose subreddit cannot be stored is recorded and
// skipped.
func (in *Ingester) IngestSearch(ctx context.Context, query, subreddit string, limit int) *Result {
	r := newResult()

	posts, err := in.source.SearchPosts(ctx, query, subreddit, limit, "", "")
	if err != nil {
		log.Printf("Search %q failed: %v", query, err)
		r.fail(fmt.Errorf("searching %q: %w", query, err))
		return r
	}
	log.Printf("Search %q returned %d posts", query, len(posts))

	var order []string
	groups := make(map[string][]reddit.Post)
	for _, p := range posts {
		name := database.SubredditKey(p.Subreddit)
		if name == "" {
			name = database.SubredditKey(subreddit)
		}
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], p)
	}

	for _, name := range order {
		subID, err := in.store.UpsertSubreddit(ctx, database.Subreddit{Name: name})
		if err != nil {
			r.record("r/"+name, err)
			continue
		}
		for _, p := range groups[name] {
			id, err := in.storePost(ctx, p, subID)
			if err != nil {
				r.record(p.ID, err)
				continue
			}
			r.stored(id)
		}
	}

	log.Printf("Stored %d/%d search results across %d subreddits", r.Stored, len(posts), len(order))
	return r
}

// BatchIngest ingests subreddits one after another, pausing between them.
// A failing subreddit does not stop the batch. If ctx is cancelled during a
// pause the remaining subreddits are reported as failed.
func (in *Ingester) BatchIngest(ctx context.Context, names []string, limit int) map[string]*Result {
	results := make(map[string]*Result, len(names))

	for i, name := range names {
		if i > 0 && in.pause > 0 {
			if err := in.clock.Sleep(ctx, in.pause); err != nil {
				for _, rest := range names[i:] {
					r := newResult()
					r.fail(fmt.Errorf("r/%s not ingested: %w", rest, err))
					results[rest] = r
				}
				break
			}
		}
		results[name] = in.IngestSubreddit(ctx, name, limit, "", "")
	}

	return results
}
