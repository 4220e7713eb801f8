package database

import (
	"context"
)

// GetStats summarizes the stored corpus.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	var s Stats
	var newest sqlTime

	err := db.queryRow(ctx, `SELECT
		(SELECT COUNT(*) FROM posts),
		(SELECT COUNT(*) FROM subreddits),
		(SELECT COUNT(*) FROM authors),
		(SELECT COALESCE(AVG(score), 0) FROM posts),
		(SELECT COALESCE(SUM(upvotes), 0) FROM posts),
		(SELECT COALESCE(SUM(num_comments), 0) FROM posts),
		(SELECT COUNT(*) FROM posts WHERE relevance_score > 0),
		(SELECT MAX(created_at) FROM posts)`,
	).Scan(&s.Posts, &s.Subreddits, &s.Authors, &s.AverageScore,
		&s.TotalUpvotes, &s.TotalComments, &s.ScoredPosts, &newest)
	if err != nil {
		return nil, &PersistenceError{Op: "stats", Err: err}
	}
	if newest.Valid {
		t := newest.Time
		s.NewestPost = &t
	}

	rows, err := db.query(ctx, `SELECT s.name, COUNT(p.id) AS n
		FROM subreddits s JOIN posts p ON p.subreddit_id = s.id
		GROUP BY s.name ORDER BY n DESC, s.name ASC LIMIT 10`)
	if err != nil {
		return nil, &PersistenceError{Op: "stats", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var sc SubredditCount
		if err := rows.Scan(&sc.Name, &sc.Posts); err != nil {
			return nil, &PersistenceError{Op: "stats", Err: err}
		}
		s.TopSubreddits = append(s.TopSubreddits, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "stats", Err: err}
	}
	return &s, nil
}
