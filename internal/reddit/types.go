package reddit

import (
	"encoding/json"
	"strings"
	"time"
)

// Post is a normalized Reddit submission.
type Post struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Author      string    `json:"author"`
	Subreddit   string    `json:"subreddit"`
	Score       int       `json:"score"`
	Upvotes     int       `json:"upvotes"`
	Downvotes   int       `json:"downvotes"`
	NumComments int       `json:"num_comments"`
	CreatedAt   time.Time `json:"created_at"`
	URL         string    `json:"url"`
	Permalink   string    `json:"permalink"`
}

// Comment is one node of a flattened comment tree. Depth is 0 for top-level
// comments.
type Comment struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	Score     int       `json:"score"`
	CreatedAt time.Time `json:"created_at"`
	Depth     int       `json:"depth"`
}

// RateStatus is a snapshot of the local request window.
type RateStatus struct {
	RequestsThisWindow int
	Limit              int
	ResetIn            time.Duration
}

const (
	kindComment = "t1"
	kindPost    = "t3"
	kindMore    = "more"
)

// listing is the envelope Reddit wraps every collection in.
type listing struct {
	Kind string `json:"kind"`
	Data struct {
		After    string  `json:"after"`
		Children []thing `json:"children"`
	} `json:"data"`
}

type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type rawPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Author      string  `json:"author"`
	Subreddit   string  `json:"subreddit"`
	Score       int     `json:"score"`
	Ups         int     `json:"ups"`
	Downs       int     `json:"downs"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
}

type rawComment struct {
	ID         string          `json:"id"`
	ParentID   string          `json:"parent_id"`
	Author     string          `json:"author"`
	Body       string          `json:"body"`
	Score      int             `json:"score"`
	CreatedUTC float64         `json:"created_utc"`
	Replies    json.RawMessage `json:"replies"`
}

func (r rawPost) normalize() Post {
	return Post{
		ID:          r.ID,
		Title:       strings.TrimSpace(r.Title),
		Body:        r.Selftext,
		Author:      r.Author,
		Subreddit:   r.Subreddit,
		Score:       r.Score,
		Upvotes:     r.Ups,
		Downvotes:   r.Downs,
		NumComments: r.NumComments,
		CreatedAt:   fromEpoch(r.CreatedUTC),
		URL:         r.URL,
		Permalink:   r.Permalink,
	}
}

func (r rawComment) normalize(depth int) Comment {
	return Comment{
		ID:        r.ID,
		ParentID:  r.ParentID,
		Author:    r.Author,
		Body:      r.Body,
		Score:     r.Score,
		CreatedAt: fromEpoch(r.CreatedUTC),
		Depth:     depth,
	}
}

func fromEpoch(sec float64) time.Time {
	return time.Unix(int64(sec), 0).UTC()
}

// postsFromListing keeps only submissions (t3) and normalizes them.
func postsFromListing(l listing) ([]Post, error) {
	posts := make([]Post, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		if child.Kind != kindPost {
			continue
		}
		var rp rawPost
		if err := json.Unmarshal(child.Data, &rp); err != nil {
			return nil, err
		}
		posts = append(posts, rp.normalize())
	}
	return posts, nil
}
