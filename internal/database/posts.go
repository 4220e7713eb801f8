package database

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
)

const postColumns = `p.id, p.reddit_id, p.title, p.body, s.name, a.username,
		p.score, p.upvotes, p.downvotes, p.num_comments, p.created_at, p.url, p.permalink,
		p.relevance_score, p.processed, p.content_fetched`

const postJoins = `FROM posts p
		JOIN subreddits s ON s.id = p.subreddit_id
		LEFT JOIN authors a ON a.id = p.author_id`

func (db *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.conn.ExecContext(ctx, db.dialect.rebind(query), args...)
}

func (db *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, db.dialect.rebind(query), args...)
}

func (db *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.conn.QueryRowContext(ctx, db.dialect.rebind(query), args...)
}

// SubredditKey is the stored form of a subreddit name: trimmed, without an
// "r/" prefix, lower-cased. Reddit treats names case-insensitively.
func SubredditKey(name string) string {
	k := strings.ToLower(strings.TrimSpace(name))
	k = strings.TrimPrefix(k, "/")
	k = strings.TrimPrefix(k, "r/")
	return strings.TrimSpace(k)
}

// UpsertSubreddit finds or creates a subreddit by name and returns its ID.
// Description and subscribers are only overwritten when provided.
func (db *DB) UpsertSubreddit(ctx context.Context, s Subreddit) (int64, error) {
	s.Name = SubredditKey(s.Name)
	if s.Name == "" {
		return 0, &PersistenceError{Op: "upsert subreddit", Err: errors.New("empty subreddit name")}
	}
	var id int64
	err := db.queryRow(ctx,
		`INSERT INTO subreddits (name, description, subscribers) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			description = CASE WHEN excluded.description <> '' THEN excluded.description ELSE subreddits.description END,
			subscribers = CASE WHEN excluded.subscribers > 0 THEN excluded.subscribers ELSE subreddits.subscribers END
		RETURNING id`,
		s.Name, s.Description, s.Subscribers,
	).Scan(&id)
	if err != nil {
		return 0, &PersistenceError{Op: "upsert subreddit", Key: s.Name, Err: err}
	}
	return id, nil
}

// GetSubreddit returns a subreddit by name, or nil if it is unknown. Names
// match case-insensitively.
func (db *DB) GetSubreddit(ctx context.Context, name string) (*Subreddit, error) {
	name = SubredditKey(name)
	var s Subreddit
	err := db.queryRow(ctx,
		"SELECT id, name, description, subscribers FROM subreddits WHERE name = ?", name,
	).Scan(&s.ID, &s.Name, &s.Description, &s.Subscribers)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get subreddit", Key: name, Err: err}
	}
	return &s, nil
}

// UpsertAuthor finds or creates an author by username and overwrites karma.
func (db *DB) UpsertAuthor(ctx context.Context, a Author) (int64, error) {
	var id int64
	err := db.queryRow(ctx,
		`INSERT INTO authors (username, link_karma, comment_karma) VALUES (?, ?, ?)
		ON CONFLICT (username) DO UPDATE SET
			link_karma = excluded.link_karma,
			comment_karma = excluded.comment_karma
		RETURNING id`,
		a.Username, a.LinkKarma, a.CommentKarma,
	).Scan(&id)
	if err != nil {
		return 0, &PersistenceError{Op: "upsert author", Key: a.Username, Err: err}
	}
	return id, nil
}

// GetAuthor returns an author by username, or nil if it is unknown.
func (db *DB) GetAuthor(ctx context.Context, username string) (*Author, error) {
	var a Author
	err := db.queryRow(ctx,
		"SELECT id, username, link_karma, comment_karma FROM authors WHERE username = ?", username,
	).Scan(&a.ID, &a.Username, &a.LinkKarma, &a.CommentKarma)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get author", Key: username, Err: err}
	}
	return &a, nil
}

// UpsertPost inserts a post or, when reddit_id already exists, refreshes its
// engagement counters in place. It returns the post's ID.
func (db *DB) UpsertPost(ctx context.Context, p PostRecord) (int64, error) {
	var authorID sql.NullInt64
	if p.AuthorID != nil {
		authorID = sql.NullInt64{Int64: *p.AuthorID, Valid: true}
	}

	var id int64
	err := db.queryRow(ctx,
		`INSERT INTO posts (reddit_id, title, body, subreddit_id, author_id,
			score, upvotes, downvotes, num_comments, created_at, url, permalink)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (reddit_id) DO UPDATE SET
			score = excluded.score,
			upvotes = excluded.upvotes,
			downvotes = excluded.downvotes,
			num_comments = excluded.num_comments,
			updated_at = `+db.dialect.now()+`
		RETURNING id`,
		p.RedditID, p.Title, p.Body, p.SubredditID, authorID,
		p.Score, p.Upvotes, p.Downvotes, p.NumComments,
		db.dialect.timeArg(p.CreatedAt), p.URL, p.Permalink,
	).Scan(&id)
	if err != nil {
		return 0, &PersistenceError{Op: "upsert post", Key: p.RedditID, Err: err}
	}
	return id, nil
}

// GetPost returns a single post by ID, or nil if it does not exist.
func (db *DB) GetPost(ctx context.Context, id int64) (*Post, error) {
	row := db.queryRow(ctx, "SELECT "+postColumns+" "+postJoins+" WHERE p.id = ?", id)
	p, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get post", Key: strconv.FormatInt(id, 10), Err: err}
	}
	return p, nil
}

// GetPostByRedditID returns a single post by its Reddit ID, or nil.
func (db *DB) GetPostByRedditID(ctx context.Context, redditID string) (*Post, error) {
	row := db.queryRow(ctx, "SELECT "+postColumns+" "+postJoins+" WHERE p.reddit_id = ?", redditID)
	p, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get post", Key: redditID, Err: err}
	}
	return p, nil
}

// GetPostsNeedingContent returns link posts with an empty body whose content
// has not been fetched yet, newest first.
func (db *DB) GetPostsNeedingContent(ctx context.Context, limit int) ([]Post, error) {
	query := "SELECT " + postColumns + " " + postJoins +
		" WHERE p.body = '' AND p.url <> '' AND p.content_fetched = ? ORDER BY p.created_at DESC"
	args := []any{false}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.query(ctx, query, args...)
	if err != nil {
		return nil, &PersistenceError{Op: "list posts needing content", Err: err}
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, &PersistenceError{Op: "list posts needing content", Err: err}
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

// UpdatePostContent stores fetched content as the post body.
func (db *DB) UpdatePostContent(ctx context.Context, id int64, body string) error {
	return db.updatePost(ctx, "update post content", id,
		"UPDATE posts SET body = ?, content_fetched = ?, updated_at = "+db.dialect.now()+" WHERE id = ?",
		body, true, id)
}

// MarkContentFetched records that a content fetch was attempted.
func (db *DB) MarkContentFetched(ctx context.Context, id int64) error {
	return db.updatePost(ctx, "mark content fetched", id,
		"UPDATE posts SET content_fetched = ? WHERE id = ?", true, id)
}

// MarkProcessed flags a post as processed.
func (db *DB) MarkProcessed(ctx context.Context, id int64) error {
	return db.updatePost(ctx, "mark processed", id,
		"UPDATE posts SET processed = ? WHERE id = ?", true, id)
}

func (db *DB) updatePost(ctx context.Context, op string, id int64, query string, args ...any) error {
	res, err := db.exec(ctx, query, args...)
	if err != nil {
		return &PersistenceError{Op: op, Key: strconv.FormatInt(id, 10), Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &PersistenceError{Op: op, Key: strconv.FormatInt(id, 10), Err: ErrNotFound}
	}
	return nil
}

// CountPosts returns the number of stored posts.
func (db *DB) CountPosts(ctx context.Context) (int, error) {
	var n int
	if err := db.queryRow(ctx, "SELECT COUNT(*) FROM posts").Scan(&n); err != nil {
		return 0, &PersistenceError{Op: "count posts", Err: err}
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner, extra ...any) (*Post, error) {
	var p Post
	var created sqlTime
	dest := []any{&p.ID, &p.RedditID, &p.Title, &p.Body, &p.Subreddit, &p.Author,
		&p.Score, &p.Upvotes, &p.Downvotes, &p.NumComments, &created, &p.URL, &p.Permalink,
		&p.RelevanceScore, &p.Processed, &p.ContentFetched}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	p.CreatedAt = created.Time
	return &p, nil
}

// IsNotFound reports whether err means the targeted row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
