package database

import "strings"

// Migration represents a single schema migration step, written once per
// dialect.
type Migration struct {
	Version     int
	Description string
	SQLite      string
	Postgres    string
}

func (m Migration) sql(d Dialect) string {
	if d == Postgres {
		return m.Postgres
	}
	return m.SQLite
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		SQLite: `
CREATE TABLE IF NOT EXISTS subreddits (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT UNIQUE NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    subscribers INTEGER NOT NULL DEFAULT 0,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS authors (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT UNIQUE NOT NULL,
    link_karma INTEGER NOT NULL DEFAULT 0,
    comment_karma INTEGER NOT NULL DEFAULT 0,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS posts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    reddit_id TEXT UNIQUE NOT NULL,
    title TEXT NOT NULL,
    body TEXT NOT NULL DEFAULT '',
    subreddit_id INTEGER NOT NULL REFERENCES subreddits(id) ON DELETE CASCADE,
    author_id INTEGER REFERENCES authors(id) ON DELETE SET NULL,
    score INTEGER NOT NULL DEFAULT 0,
    upvotes INTEGER NOT NULL DEFAULT 0,
    downvotes INTEGER NOT NULL DEFAULT 0,
    num_comments INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    url TEXT NOT NULL DEFAULT '',
    permalink TEXT NOT NULL DEFAULT '',
    relevance_score REAL NOT NULL DEFAULT 0,
    processed INTEGER NOT NULL DEFAULT 0,
    content_fetched INTEGER NOT NULL DEFAULT 0,
    ingested_at TEXT DEFAULT (datetime('now')),
    updated_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_posts_subreddit ON posts(subreddit_id);
CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author_id);
CREATE INDEX IF NOT EXISTS idx_posts_created ON posts(created_at);
CREATE INDEX IF NOT EXISTS idx_posts_rank ON posts(relevance_score DESC, score DESC);
`,
		Postgres: `
CREATE TABLE IF NOT EXISTS subreddits (
    id BIGSERIAL PRIMARY KEY,
    name TEXT UNIQUE NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    subscribers INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS authors (
    id BIGSERIAL PRIMARY KEY,
    username TEXT UNIQUE NOT NULL,
    link_karma BIGINT NOT NULL DEFAULT 0,
    comment_karma BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS posts (
    id BIGSERIAL PRIMARY KEY,
    reddit_id TEXT UNIQUE NOT NULL,
    title TEXT NOT NULL,
    body TEXT NOT NULL DEFAULT '',
    subreddit_id BIGINT NOT NULL REFERENCES subreddits(id) ON DELETE CASCADE,
    author_id BIGINT REFERENCES authors(id) ON DELETE SET NULL,
    score INTEGER NOT NULL DEFAULT 0,
    upvotes INTEGER NOT NULL DEFAULT 0,
    downvotes INTEGER NOT NULL DEFAULT 0,
    num_comments INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL,
    url TEXT NOT NULL DEFAULT '',
    permalink TEXT NOT NULL DEFAULT '',
    relevance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    processed BOOLEAN NOT NULL DEFAULT FALSE,
    content_fetched BOOLEAN NOT NULL DEFAULT FALSE,
    ingested_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_posts_subreddit ON posts(subreddit_id);
CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author_id);
CREATE INDEX IF NOT EXISTS idx_posts_created ON posts(created_at);
CREATE INDEX IF NOT EXISTS idx_posts_rank ON posts(relevance_score DESC, score DESC);
`,
	},
	{
		Version:     2,
		Description: "full-text index on post title and body",
		SQLite: `
CREATE VIRTUAL TABLE IF NOT EXISTS posts_fts USING fts5(
    title, body, content='posts', content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS posts_fts_insert AFTER INSERT ON posts BEGIN
    INSERT INTO posts_fts(rowid, title, body) VALUES (new.id, new.title, new.body);
END;

CREATE TRIGGER IF NOT EXISTS posts_fts_delete AFTER DELETE ON posts BEGIN
    INSERT INTO posts_fts(posts_fts, rowid, title, body) VALUES ('delete', old.id, old.title, old.body);
END;

CREATE TRIGGER IF NOT EXISTS posts_fts_update AFTER UPDATE OF title, body ON posts BEGIN
    INSERT INTO posts_fts(posts_fts, rowid, title, body) VALUES ('delete', old.id, old.title, old.body);
    INSERT INTO posts_fts(rowid, title, body) VALUES (new.id, new.title, new.body);
END;

INSERT INTO posts_fts(posts_fts) VALUES ('rebuild');
`,
		Postgres: `
CREATE INDEX IF NOT EXISTS idx_posts_fts ON posts
    USING GIN (to_tsvector('english', title || ' ' || body));
`,
	},
	{
		Version:     3,
		Description: "case-insensitive subreddit names",
		SQLite:      subredditMerge,
		Postgres:    subredditMerge,
	},
}

// subredditMerge folds subreddits whose names differ only in case or an "r/"
// prefix into the oldest row and stores the SubredditKey form from then on.
// It runs unchanged on both dialects.
var subredditMerge = strings.NewReplacer(
	"KEY(s1)", subredditKeySQL("s1.name"),
	"KEY(s2)", subredditKeySQL("s2.name"),
	"KEY()", subredditKeySQL("name"),
).Replace(`
UPDATE posts SET subreddit_id = (
    SELECT MIN(s2.id) FROM subreddits s1
    JOIN subreddits s2 ON KEY(s2) = KEY(s1)
    WHERE s1.id = posts.subreddit_id
);

DELETE FROM subreddits
WHERE id NOT IN (SELECT MIN(id) FROM subreddits GROUP BY KEY());

UPDATE subreddits SET name = KEY() WHERE name <> KEY();
`)

func subredditKeySQL(col string) string {
	k := "LOWER(TRIM(" + col + "))"
	return "TRIM(CASE WHEN " + k + " LIKE 'r/%' THEN SUBSTR(" + k + ", 3) ELSE " + k + " END)"
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
