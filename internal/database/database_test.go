package database

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func intPtr(n int) *int { return &n }

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type seed struct {
	sub, author, rid, title, body string
	score                         int
	created                       time.Time
}

func seedPost(t *testing.T, db *DB, s seed) int64 {
	t.Helper()
	ctx := context.Background()
	subID, err := db.UpsertSubreddit(ctx, Subreddit{Name: s.sub})
	if err != nil {
		t.Fatalf("UpsertSubreddit: %v", err)
	}
	var authorID *int64
	if s.author != "" {
		id, err := db.UpsertAuthor(ctx, Author{Username: s.author})
		if err != nil {
			t.Fatalf("UpsertAuthor: %v", err)
		}
		authorID = &id
	}
	if s.created.IsZero() {
		s.created = baseTime
	}
	id, err := db.UpsertPost(ctx, PostRecord{
		RedditID: s.rid, Title: s.title, Body: s.body,
		SubredditID: subID, AuthorID: authorID,
		Score: s.score, Upvotes: s.score, CreatedAt: s.created,
		URL: "https://example.com/" + s.rid, Permalink: "/r/" + s.sub + "/comments/" + s.rid + "/",
	})
	if err != nil {
		t.Fatalf("UpsertPost: %v", err)
	}
	return id
}

func setRelevance(t *testing.T, db *DB, id int64, score float64) {
	t.Helper()
	if _, err := db.exec(context.Background(), "UPDATE posts SET relevance_score = ? WHERE id = ?", score, id); err != nil {
		t.Fatalf("setting relevance: %v", err)
	}
}

func ids(results []SearchResult) []int64 {
	out := make([]int64, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestUpsertSubredditIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id1, err := db.UpsertSubreddit(ctx, Subreddit{Name: "golang", Description: "The Go language", Subscribers: 250000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := db.UpsertSubreddit(ctx, Subreddit{Name: "golang"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected same id, got %d and %d", id1, id2)
	}

	s, err := db.GetSubreddit(ctx, "golang")
	if err != nil || s == nil {
		t.Fatalf("GetSubreddit: %v", err)
	}
	if s.Description != "The Go language" || s.Subscribers != 250000 {
		t.Errorf("empty upsert must not clear metadata, got %+v", s)
	}

	if missing, _ := db.GetSubreddit(ctx, "rust"); missing != nil {
		t.Error("expected nil for unknown subreddit")
	}
}

func TestUpsertSubredditNormalizesName(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.UpsertSubreddit(ctx, Subreddit{Name: "GoLang"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, name := range []string{"golang", "r/golang", " R/GoLang ", "/r/GOLANG"} {
		got, err := db.UpsertSubreddit(ctx, Subreddit{Name: name})
		if err != nil {
			t.Fatalf("UpsertSubreddit(%q): %v", name, err)
		}
		if got != id {
			t.Errorf("UpsertSubreddit(%q) = %d, want %d", name, got, id)
		}
	}

	s, err := db.GetSubreddit(ctx, "r/GOLANG")
	if err != nil || s == nil {
		t.Fatalf("GetSubreddit: %v", err)
	}
	if s.Name != "golang" {
		t.Errorf("expected stored name golang, got %q", s.Name)
	}

	stats, err := db.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Subreddits != 1 {
		t.Errorf("expected 1 subreddit, got %d", stats.Subreddits)
	}

	if _, err := db.UpsertSubreddit(ctx, Subreddit{Name: " r/ "}); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestSubredditKey(t *testing.T) {
	tests := map[string]string{
		"golang":    "golang",
		"GoLang":    "golang",
		"r/GoLang":  "golang",
		"/r/golang": "golang",
		"  rust  ":  "rust",
		"r/":        "",
		"reddit":    "reddit",
	}
	for in, want := range tests {
		if got := SubredditKey(in); got != want {
			t.Errorf("SubredditKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUpsertAuthorOverwritesKarma(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id1, _ := db.UpsertAuthor(ctx, Author{Username: "gopher", LinkKarma: 100, CommentKarma: 50})
	id2, err := db.UpsertAuthor(ctx, Author{Username: "gopher", LinkKarma: 0, CommentKarma: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected same id, got %d and %d", id1, id2)
	}

	a, _ := db.GetAuthor(ctx, "gopher")
	if a == nil || a.LinkKarma != 0 || a.CommentKarma != 0 {
		t.Errorf("expected karma overwritten with zero, got %+v", a)
	}
}

func TestUpsertPostIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	subID, _ := db.UpsertSubreddit(ctx, Subreddit{Name: "golang"})
	rec := PostRecord{
		RedditID: "abc", Title: "Original title", Body: "body",
		SubredditID: subID, Score: 10, Upvotes: 12, Downvotes: 2, NumComments: 3,
		CreatedAt: baseTime, URL: "https://example.com/abc",
	}
	id1, err := db.UpsertPost(ctx, rec)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	rec.Title = "Edited title"
	rec.Score, rec.Upvotes, rec.NumComments = 99, 120, 40
	id2, err := db.UpsertPost(ctx, rec)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected same id, got %d and %d", id1, id2)
	}

	n, _ := db.CountPosts(ctx)
	if n != 1 {
		t.Errorf("expected 1 post, got %d", n)
	}

	p, err := db.GetPostByRedditID(ctx, "abc")
	if err != nil || p == nil {
		t.Fatalf("GetPostByRedditID: %v", err)
	}
	if p.Score != 99 || p.Upvotes != 120 || p.NumComments != 40 {
		t.Errorf("counters not refreshed: %+v", p)
	}
	if p.Title != "Original title" {
		t.Errorf("title should be kept, got %q", p.Title)
	}
	if !p.CreatedAt.Equal(baseTime) {
		t.Errorf("expected created_at %v, got %v", baseTime, p.CreatedAt)
	}
	if p.Subreddit != "golang" {
		t.Errorf("expected subreddit golang, got %q", p.Subreddit)
	}
}

func TestUpsertPostWithoutAuthor(t *testing.T) {
	db := openTestDB(t)
	id := seedPost(t, db, seed{sub: "golang", rid: "gone", title: "Deleted author"})

	p, err := db.GetPost(context.Background(), id)
	if err != nil || p == nil {
		t.Fatalf("GetPost: %v", err)
	}
	if p.Author != nil {
		t.Errorf("expected nil author, got %q", *p.Author)
	}
}

func TestUpsertPostUnknownSubreddit(t *testing.T) {
	db := openTestDB(t)

	_, err := db.UpsertPost(context.Background(), PostRecord{RedditID: "x", Title: "t", SubredditID: 999, CreatedAt: baseTime})
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if pe.Key != "x" {
		t.Errorf("expected key x, got %q", pe.Key)
	}
}

func TestGetPostMissing(t *testing.T) {
	db := openTestDB(t)
	p, err := db.GetPost(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Error("expected nil for missing post")
	}
}

func TestSearchOrdering(t *testing.T) {
	db := openTestDB(t)
	low := seedPost(t, db, seed{sub: "golang", rid: "p1", title: "low", score: 500})
	tieLowScore := seedPost(t, db, seed{sub: "golang", rid: "p2", title: "tie a", score: 10})
	tieHighScore := seedPost(t, db, seed{sub: "golang", rid: "p3", title: "tie b", score: 20})
	setRelevance(t, db, low, 2)
	setRelevance(t, db, tieLowScore, 5)
	setRelevance(t, db, tieHighScore, 5)

	results, err := db.Search(context.Background(), SearchCriteria{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []int64{tieHighScore, tieLowScore, low}
	if !equalIDs(ids(results), want) {
		t.Errorf("expected order %v, got %v", want, ids(results))
	}
	if results[0].RelevanceScore != 5 || results[2].RelevanceScore != 2 {
		t.Errorf("unexpected relevance scores: %v, %v", results[0].RelevanceScore, results[2].RelevanceScore)
	}
}

func TestSearchPaginationIsStable(t *testing.T) {
	db := openTestDB(t)
	var all []int64
	for i := 0; i < 5; i++ {
		all = append(all, seedPost(t, db, seed{sub: "golang", rid: "p" + string(rune('a'+i)), title: "same", score: 7}))
	}

	ctx := context.Background()
	page1, _ := db.Search(ctx, SearchCriteria{Limit: 2})
	page2, _ := db.Search(ctx, SearchCriteria{Limit: 2, Offset: 2})
	page3, _ := db.Search(ctx, SearchCriteria{Limit: 2, Offset: 4})

	got := append(append(ids(page1), ids(page2)...), ids(page3)...)
	if !equalIDs(got, all) {
		t.Errorf("expected id tiebreak %v, got %v", all, got)
	}
}

func TestSearchKeywords(t *testing.T) {
	db := openTestDB(t)
	hit := seedPost(t, db, seed{sub: "golang", rid: "k1", title: "Generics in practice", body: "type parameters"})
	bodyHit := seedPost(t, db, seed{sub: "golang", rid: "k2", title: "Weekly thread", body: "ask about goroutines here"})
	seedPost(t, db, seed{sub: "golang", rid: "k3", title: "Unrelated", body: "nothing to see"})

	results, err := db.Search(context.Background(), SearchCriteria{Keywords: []string{"generics", "goroutines"}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []int64{hit, bodyHit}
	if !equalIDs(ids(results), want) {
		t.Errorf("expected %v, got %v", want, ids(results))
	}
}

func TestSearchRequiredKeywords(t *testing.T) {
	db := openTestDB(t)
	both := seedPost(t, db, seed{sub: "golang", rid: "r1", title: "GO and Postgres", body: "100% pgx"})
	seedPost(t, db, seed{sub: "golang", rid: "r2", title: "Go only", body: "no database here"})

	ctx := context.Background()
	results, err := db.Search(ctx, SearchCriteria{RequiredKeywords: []string{"go", "POSTGRES"}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !equalIDs(ids(results), []int64{both}) {
		t.Errorf("expected only %d, got %v", both, ids(results))
	}

	// LIKE wildcards in keywords are matched literally.
	results, _ = db.Search(ctx, SearchCriteria{RequiredKeywords: []string{"0%"}})
	if !equalIDs(ids(results), []int64{both}) {
		t.Errorf("expected literal %% match, got %v", ids(results))
	}
	results, _ = db.Search(ctx, SearchCriteria{RequiredKeywords: []string{"o_only"}})
	if len(results) != 0 {
		t.Errorf("expected literal _ to match nothing, got %v", ids(results))
	}
}

func TestSearchRequiredKeywordsFoldsUnicode(t *testing.T) {
	db := openTestDB(t)
	hit := seedPost(t, db, seed{sub: "germany", rid: "u1", title: "ÜBER CAFÉ news", body: "Öffnungszeiten"})
	seedPost(t, db, seed{sub: "germany", rid: "u2", title: "cafe without accent", body: ""})

	ctx := context.Background()
	for _, kw := range []string{"café", "CAFÉ", "über", "öffnungszeiten"} {
		results, err := db.Search(ctx, SearchCriteria{RequiredKeywords: []string{kw}})
		if err != nil {
			t.Fatalf("Search(%q): %v", kw, err)
		}
		if !equalIDs(ids(results), []int64{hit}) {
			t.Errorf("required %q: expected [%d], got %v", kw, hit, ids(results))
		}
	}

	// The filter and the scorer agree on what matches.
	if got := RelevanceScore("ÜBER CAFÉ news", "", []string{"café"}); got != 10 {
		t.Errorf("RelevanceScore = %v, want 10", got)
	}
}

func TestSearchFilters(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	old := seedPost(t, db, seed{sub: "golang", author: "veteran", rid: "f1", title: "old", score: 50, created: baseTime.Add(-48 * time.Hour)})
	recent := seedPost(t, db, seed{sub: "golang", author: "newbie", rid: "f2", title: "recent", score: 5, created: baseTime})
	other := seedPost(t, db, seed{sub: "rust", author: "veteran", rid: "f3", title: "rust", score: 80, created: baseTime})
	db.UpsertAuthor(ctx, Author{Username: "veteran", LinkKarma: 900, CommentKarma: 200})

	cases := []struct {
		name string
		c    SearchCriteria
		want []int64
	}{
		{"subreddits", SearchCriteria{Subreddits: []string{"golang"}}, []int64{old, recent}},
		{"min upvotes", SearchCriteria{MinUpvotes: intPtr(50)}, []int64{other, old}},
		{"min reputation", SearchCriteria{MinReputation: intPtr(1100)}, []int64{other, old}},
		{"start", SearchCriteria{Start: &baseTime}, []int64{other, recent}},
		{"end", SearchCriteria{End: ptrTime(baseTime.Add(-time.Hour))}, []int64{old}},
		{"combined", SearchCriteria{Subreddits: []string{"golang", "rust"}, MinUpvotes: intPtr(10), Start: ptrTime(baseTime.Add(-time.Hour))}, []int64{other}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			results, err := db.Search(ctx, tc.c)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if !equalIDs(ids(results), tc.want) {
				t.Errorf("expected %v, got %v", tc.want, ids(results))
			}
		})
	}
}

func ptrTime(t time.Time) *time.Time { return &t }

func TestSearchReportsAuthorReputation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedPost(t, db, seed{sub: "golang", author: "gopher", rid: "a1", title: "t"})
	db.UpsertAuthor(ctx, Author{Username: "gopher", LinkKarma: 30, CommentKarma: 12})

	results, _ := db.Search(ctx, SearchCriteria{})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].AuthorReputation != 42 {
		t.Errorf("expected reputation 42, got %d", results[0].AuthorReputation)
	}
	if results[0].Author == nil || *results[0].Author != "gopher" {
		t.Errorf("expected author gopher, got %v", results[0].Author)
	}
}

func TestRelevanceScore(t *testing.T) {
	tests := []struct {
		title, body string
		keywords    []string
		want        float64
	}{
		{"Python tips", "python is great, PYTHON rocks, python", []string{"python"}, 25},
		{"nothing", "here", []string{"python"}, 0},
		{"aaaa", "", []string{"aa"}, 20},
		{"Go and Rust", "rust rust", []string{"go", "rust", ""}, 30},
		{"any", "thing", nil, 0},
	}
	for _, tt := range tests {
		if got := RelevanceScore(tt.title, tt.body, tt.keywords); got != tt.want {
			t.Errorf("RelevanceScore(%q, %q, %v) = %v, want %v", tt.title, tt.body, tt.keywords, got, tt.want)
		}
	}
}

func TestUpdateRelevance(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := seedPost(t, db, seed{sub: "python", rid: "py", title: "Python tips", body: "python is great, python rocks, python"})

	score, err := db.UpdateRelevance(ctx, id, []string{"python"})
	if err != nil {
		t.Fatalf("UpdateRelevance: %v", err)
	}
	if score != 25 {
		t.Errorf("expected 25, got %v", score)
	}

	p, _ := db.GetPost(ctx, id)
	if p.RelevanceScore != 25 || !p.Processed {
		t.Errorf("expected stored score 25 and processed, got %v / %v", p.RelevanceScore, p.Processed)
	}

	// Recomputing overwrites rather than accumulates.
	score, _ = db.UpdateRelevance(ctx, id, []string{"tips"})
	if score != 10 {
		t.Errorf("expected 10, got %v", score)
	}
}

func TestUpdateRelevanceMissingPost(t *testing.T) {
	db := openTestDB(t)
	_, err := db.UpdateRelevance(context.Background(), 404, []string{"go"})
	if !IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestPostContentLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	link := seedPost(t, db, seed{sub: "golang", rid: "l1", title: "Link post"})
	seedPost(t, db, seed{sub: "golang", rid: "s1", title: "Self post", body: "has text"})

	needing, err := db.GetPostsNeedingContent(ctx, 10)
	if err != nil {
		t.Fatalf("GetPostsNeedingContent: %v", err)
	}
	if len(needing) != 1 || needing[0].ID != link {
		t.Fatalf("expected only the link post, got %+v", needing)
	}

	if err := db.UpdatePostContent(ctx, link, "Readable article text about schedulers"); err != nil {
		t.Fatalf("UpdatePostContent: %v", err)
	}
	needing, _ = db.GetPostsNeedingContent(ctx, 10)
	if len(needing) != 0 {
		t.Errorf("expected no posts needing content, got %d", len(needing))
	}

	// The full-text index follows body updates.
	results, _ := db.Search(ctx, SearchCriteria{Keywords: []string{"schedulers"}})
	if !equalIDs(ids(results), []int64{link}) {
		t.Errorf("expected fetched body to be searchable, got %v", ids(results))
	}

	if err := db.MarkContentFetched(ctx, 999); !IsNotFound(err) {
		t.Errorf("expected not found for unknown post, got %v", err)
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	stats, err := db.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats on empty db: %v", err)
	}
	if stats.Posts != 0 || stats.NewestPost != nil {
		t.Errorf("expected empty stats, got %+v", stats)
	}

	a := seedPost(t, db, seed{sub: "golang", author: "x", rid: "s1", title: "a", score: 10, created: baseTime})
	seedPost(t, db, seed{sub: "golang", author: "y", rid: "s2", title: "b", score: 20, created: baseTime.Add(time.Hour)})
	seedPost(t, db, seed{sub: "rust", rid: "s3", title: "c", score: 30})
	setRelevance(t, db, a, 3)

	stats, err = db.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Posts != 3 || stats.Subreddits != 2 || stats.Authors != 2 {
		t.Errorf("unexpected counts: %+v", stats)
	}
	if stats.AverageScore != 20 || stats.TotalUpvotes != 60 || stats.ScoredPosts != 1 {
		t.Errorf("unexpected aggregates: %+v", stats)
	}
	if stats.NewestPost == nil || !stats.NewestPost.Equal(baseTime.Add(time.Hour)) {
		t.Errorf("unexpected newest post: %v", stats.NewestPost)
	}
	if len(stats.TopSubreddits) != 2 || stats.TopSubreddits[0].Name != "golang" || stats.TopSubreddits[0].Posts != 2 {
		t.Errorf("unexpected top subreddits: %+v", stats.TopSubreddits)
	}
}

func TestBuildSearchQueryPostgres(t *testing.T) {
	start := baseTime
	query, args := BuildSearchQuery(Postgres, SearchCriteria{
		Keywords:         []string{"go", "rust"},
		RequiredKeywords: []string{"GC"},
		Subreddits:       []string{"golang", "rust"},
		MinUpvotes:       intPtr(5),
		Start:            &start,
		Limit:            10,
		Offset:           20,
	})

	for _, frag := range []string{
		"to_tsvector('english', p.title || ' ' || p.body) @@ (plainto_tsquery('english', $1) || plainto_tsquery('english', $2))",
		"LOWER(p.title) LIKE $3",
		"LOWER(p.body) LIKE $4",
		"s.name IN ($5, $6)",
		"p.score >= $7",
		"p.created_at >= $8",
		"LIMIT $9 OFFSET $10",
	} {
		if !strings.Contains(query, frag) {
			t.Errorf("query missing %q:\n%s", frag, query)
		}
	}
	if strings.Contains(query, "?") {
		t.Errorf("unbound placeholder in query:\n%s", query)
	}

	if len(args) != 10 {
		t.Fatalf("expected 10 args, got %d: %v", len(args), args)
	}
	if args[2] != "%gc%" || args[8] != 10 || args[9] != 20 {
		t.Errorf("unexpected args: %v", args)
	}
	if ts, ok := args[7].(time.Time); !ok || !ts.Equal(start) {
		t.Errorf("expected time.Time start arg, got %T %v", args[7], args[7])
	}
}

func TestBuildSearchQuerySQLiteDefaults(t *testing.T) {
	query, args := BuildSearchQuery(SQLite, SearchCriteria{Keywords: []string{`say "hi"`, " ", "go"}})

	if !strings.Contains(query, "posts_fts MATCH ?") {
		t.Errorf("expected FTS clause:\n%s", query)
	}
	if !strings.HasSuffix(query, "ORDER BY p.relevance_score DESC, p.score DESC, p.id ASC LIMIT ? OFFSET ?") {
		t.Errorf("unexpected ordering clause:\n%s", query)
	}
	want := []any{`"say ""hi""" OR "go"`, DefaultSearchLimit, 0}
	if len(args) != len(want) {
		t.Fatalf("expected %v, got %v", want, args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("arg %d: expected %v, got %v", i, want[i], args[i])
		}
	}
}

func TestBuildSearchQuerySQLiteFoldsRequiredKeywords(t *testing.T) {
	query, args := BuildSearchQuery(SQLite, SearchCriteria{RequiredKeywords: []string{"CAFÉ"}})

	if !strings.Contains(query, `unicode_lower(p.title) LIKE ? ESCAPE '\' OR unicode_lower(p.body) LIKE ?`) {
		t.Errorf("expected unicode_lower clause:\n%s", query)
	}
	if args[0] != "%café%" {
		t.Errorf("expected lowered pattern, got %v", args[0])
	}
}

func TestRebind(t *testing.T) {
	q := "SELECT * FROM posts WHERE a = ? AND b IN (?, ?)"
	if got := SQLite.rebind(q); got != q {
		t.Errorf("sqlite rebind changed query: %s", got)
	}
	if got := Postgres.rebind(q); got != "SELECT * FROM posts WHERE a = $1 AND b IN ($2, $3)" {
		t.Errorf("unexpected postgres rebind: %s", got)
	}
}
