package database

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when an update targets a row that does not exist.
var ErrNotFound = errors.New("not found")

// PersistenceError records which store operation failed and for which key.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Subreddit is a source container.
type Subreddit struct {
	ID          int64
	Name        string
	Description string
	Subscribers int
}

// Author is a contributor. Reputation is LinkKarma + CommentKarma.
type Author struct {
	ID           int64
	Username     string
	LinkKarma    int
	CommentKarma int
}

// PostRecord is the write model for UpsertPost. A nil AuthorID stores the
// post without an author.
type PostRecord struct {
	RedditID    string
	Title       string
	Body        string
	SubredditID int64
	AuthorID    *int64
	Score       int
	Upvotes     int
	Downvotes   int
	NumComments int
	CreatedAt   time.Time
	URL         string
	Permalink   string
}

// Post is a stored post joined with its subreddit and author.
type Post struct {
	ID             int64
	RedditID       string
	Title          string
	Body           string
	Subreddit      string
	Author         *string
	Score          int
	Upvotes        int
	Downvotes      int
	NumComments    int
	CreatedAt      time.Time
	URL            string
	Permalink      string
	RelevanceScore float64
	Processed      bool
	ContentFetched bool
}

// SearchResult is a ranked search hit.
type SearchResult struct {
	Post
	AuthorReputation int
}

// Stats summarizes the stored corpus.
type Stats struct {
	Posts         int
	Subreddits    int
	Authors       int
	AverageScore  float64
	TotalUpvotes  int64
	TotalComments int64
	ScoredPosts   int
	NewestPost    *time.Time
	TopSubreddits []SubredditCount
}

// SubredditCount is a subreddit with its stored post count.
type SubredditCount struct {
	Name  string
	Posts int
}
