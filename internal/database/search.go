package database

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultSearchLimit is applied when SearchCriteria.Limit is zero.
const DefaultSearchLimit = 50

// SearchCriteria filters a search. Zero-valued fields are not applied.
type SearchCriteria struct {
	Keywords         []string
	RequiredKeywords []string
	Subreddits       []string
	MinUpvotes       *int
	MinReputation    *int
	Start            *time.Time
	End              *time.Time
	Limit            int
	Offset           int
}

// BuildSearchQuery renders criteria as a single ranked, paginated query for
// dialect d. Results are ordered by relevance score, then score, then id.
func BuildSearchQuery(d Dialect, c SearchCriteria) (string, []any) {
	query := `SELECT ` + postColumns + `,
		COALESCE(a.link_karma, 0) + COALESCE(a.comment_karma, 0) AS reputation
		` + postJoins + `
		WHERE 1=1`
	var args []any

	if kws := nonEmpty(c.Keywords); len(kws) > 0 {
		if d == Postgres {
			parts := make([]string, len(kws))
			for i, kw := range kws {
				parts[i] = "plainto_tsquery('english', ?)"
				args = append(args, kw)
			}
			query += " AND to_tsvector('english', p.title || ' ' || p.body) @@ (" + strings.Join(parts, " || ") + ")"
		} else {
			query += " AND p.id IN (SELECT rowid FROM posts_fts WHERE posts_fts MATCH ?)"
			args = append(args, ftsExpression(kws))
		}
	}

	for _, kw := range nonEmpty(c.RequiredKeywords) {
		pattern := "%" + escapeLike(strings.ToLower(kw)) + "%"
		query += fmt.Sprintf(` AND (%[1]s(p.title) LIKE ? ESCAPE '\' OR %[1]s(p.body) LIKE ? ESCAPE '\')`, d.lower())
		args = append(args, pattern, pattern)
	}

	if subs := nonEmpty(c.Subreddits); len(subs) > 0 {
		placeholders := make([]string, len(subs))
		for i, s := range subs {
			placeholders[i] = "?"
			args = append(args, SubredditKey(s))
		}
		query += " AND s.name IN (" + strings.Join(placeholders, ", ") + ")"
	}

	if c.MinUpvotes != nil {
		query += " AND p.score >= ?"
		args = append(args, *c.MinUpvotes)
	}
	if c.MinReputation != nil {
		query += " AND (COALESCE(a.link_karma, 0) + COALESCE(a.comment_karma, 0)) >= ?"
		args = append(args, *c.MinReputation)
	}
	if c.Start != nil {
		query += " AND p.created_at >= ?"
		args = append(args, d.timeArg(*c.Start))
	}
	if c.End != nil {
		query += " AND p.created_at <= ?"
		args = append(args, d.timeArg(*c.End))
	}

	limit := c.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	offset := c.Offset
	if offset < 0 {
		offset = 0
	}
	query += " ORDER BY p.relevance_score DESC, p.score DESC, p.id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	return d.rebind(query), args
}

// Search runs criteria against the store.
func (db *DB) Search(ctx context.Context, c SearchCriteria) ([]SearchResult, error) {
	query, args := BuildSearchQuery(db.dialect, c)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &PersistenceError{Op: "search", Err: err}
	}
	defer rows.Close()

	results := []SearchResult{}
	for rows.Next() {
		var r SearchResult
		p, err := scanPost(rows, &r.AuthorReputation)
		if err != nil {
			return nil, &PersistenceError{Op: "search", Err: err}
		}
		r.Post = *p
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "search", Err: err}
	}
	return results, nil
}

// ftsExpression ORs the keywords as quoted FTS5 phrases.
func ftsExpression(kws []string) string {
	parts := make([]string, len(kws))
	for i, kw := range kws {
		parts[i] = `"` + strings.ReplaceAll(kw, `"`, `""`) + `"`
	}
	return strings.Join(parts, " OR ")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
