package database

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestMigrateNewDB(t *testing.T) {
	db := openTestDB(t)

	version, err := getSchemaVersion(db.conn)
	if err != nil {
		t.Fatalf("getSchemaVersion: %v", err)
	}
	if version != latestVersion() {
		t.Errorf("expected version %d, got %d", latestVersion(), version)
	}

	var n int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name = 'posts_fts'").Scan(&n); err != nil {
		t.Fatalf("checking fts table: %v", err)
	}
	if n != 1 {
		t.Error("expected posts_fts to exist")
	}
}

func TestMigrateIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "idem.db")

	db1, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	seedPost(t, db1, seed{sub: "golang", rid: "keep", title: "survives reopen"})
	db1.Close()

	db2, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer db2.Close()

	version, err := getSchemaVersion(db2.conn)
	if err != nil {
		t.Fatalf("getSchemaVersion: %v", err)
	}
	if version != latestVersion() {
		t.Errorf("expected version %d, got %d", latestVersion(), version)
	}

	p, err := db2.GetPostByRedditID(t.Context(), "keep")
	if err != nil || p == nil {
		t.Errorf("expected post to survive reopen, got %v, %v", p, err)
	}
}

func TestGetSchemaVersionNewDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	version, err := getSchemaVersion(conn)
	if err != nil {
		t.Fatalf("getSchemaVersion: %v", err)
	}
	if version != 0 {
		t.Errorf("expected version 0 on new db, got %d", version)
	}
}

func TestMigrationsCoverBothDialects(t *testing.T) {
	for i, m := range migrations {
		if m.Version != i+1 {
			t.Errorf("migration %d has version %d", i, m.Version)
		}
		if m.sql(SQLite) == "" || m.sql(Postgres) == "" {
			t.Errorf("migration %d (%s) is missing a dialect", m.Version, m.Description)
		}
	}
}

func TestMigrateMergesSubredditCaseVariants(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "merge.db")

	db1, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	// Rows as written before names were normalized.
	for _, stmt := range []string{
		"INSERT INTO subreddits (id, name) VALUES (1, 'golang'), (2, 'r/GoLang'), (3, 'GOLANG'), (4, 'rust')",
		"INSERT INTO posts (reddit_id, title, subreddit_id, created_at) VALUES ('a', 'A', 1, '2026-03-01 00:00:00'), ('b', 'B', 2, '2026-03-01 00:00:00'), ('c', 'C', 3, '2026-03-01 00:00:00'), ('d', 'D', 4, '2026-03-01 00:00:00')",
		"PRAGMA user_version = 2",
	} {
		if _, err := db1.conn.Exec(stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	db1.Close()

	db2, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer db2.Close()

	rows, err := db2.conn.Query("SELECT id, name FROM subreddits ORDER BY id")
	if err != nil {
		t.Fatalf("listing subreddits: %v", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			t.Fatalf("scan: %v", err)
		}
		names = append(names, name)
	}
	if len(names) != 2 || names[0] != "golang" || names[1] != "rust" {
		t.Errorf("expected [golang rust], got %v", names)
	}

	var n int
	if err := db2.conn.QueryRow("SELECT COUNT(*) FROM posts WHERE subreddit_id = 1").Scan(&n); err != nil {
		t.Fatalf("counting posts: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 posts moved to the surviving subreddit, got %d", n)
	}
}
