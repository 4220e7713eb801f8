package database

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

const (
	titleWeight = 10
	bodyWeight  = 5
)

// RelevanceScore weighs case-insensitive, non-overlapping keyword occurrences:
// 10 per title hit and 5 per body hit.
func RelevanceScore(title, body string, keywords []string) float64 {
	title = strings.ToLower(title)
	body = strings.ToLower(body)

	var score float64
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		score += float64(titleWeight*strings.Count(title, kw) + bodyWeight*strings.Count(body, kw))
	}
	return score
}

// UpdateRelevance recomputes a post's relevance score for keywords, stores it
// and marks the post processed.
func (db *DB) UpdateRelevance(ctx context.Context, postID int64, keywords []string) (float64, error) {
	key := strconv.FormatInt(postID, 10)

	var title, body string
	err := db.queryRow(ctx, "SELECT title, body FROM posts WHERE id = ?", postID).Scan(&title, &body)
	if err == sql.ErrNoRows {
		return 0, &PersistenceError{Op: "update relevance", Key: key, Err: ErrNotFound}
	}
	if err != nil {
		return 0, &PersistenceError{Op: "update relevance", Key: key, Err: err}
	}

	score := RelevanceScore(title, body, keywords)
	_, err = db.exec(ctx,
		"UPDATE posts SET relevance_score = ?, processed = ?, updated_at = "+db.dialect.now()+" WHERE id = ?",
		score, true, postID,
	)
	if err != nil {
		return 0, &PersistenceError{Op: "update relevance", Key: key, Err: err}
	}
	return score, nil
}
