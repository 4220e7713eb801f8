package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/SubCrawler/internal/database"
	"github.com/TobiSchelling/SubCrawler/internal/reddit"
)

const maxSearchLimit = 500

var md = goldmark.New()

// RateStatuser reports the Reddit client's request window.
type RateStatuser interface {
	Status() reddit.RateStatus
}

// Server is the JSON HTTP API over the stored posts.
type Server struct {
	db   *database.DB
	rate RateStatuser
	mux  *http.ServeMux
}

// New creates a new Server. rate may be nil when no client is configured.
func New(db *database.DB, rate RateStatuser) *Server {
	s := &Server{db: db, rate: rate, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return logRequests(s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/search", s.handleSearch)
	s.mux.HandleFunc("GET /api/posts/{id}", s.handlePost)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/ratelimit", s.handleRateLimit)
}

type postJSON struct {
	ID             int64     `json:"id"`
	RedditID       string    `json:"reddit_id"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	BodyHTML       string    `json:"body_html,omitempty"`
	Subreddit      string    `json:"subreddit"`
	Author         *string   `json:"author"`
	Score          int       `json:"score"`
	Upvotes        int       `json:"upvotes"`
	Downvotes      int       `json:"downvotes"`
	NumComments    int       `json:"num_comments"`
	CreatedAt      time.Time `json:"created_at"`
	URL            string    `json:"url,omitempty"`
	Permalink      string    `json:"permalink,omitempty"`
	RelevanceScore float64   `json:"relevance_score"`
	Processed      bool      `json:"processed"`
	ContentFetched bool      `json:"content_fetched"`
}

type searchHitJSON struct {
	postJSON
	AuthorReputation int `json:"author_reputation"`
}

type searchJSON struct {
	Count   int             `json:"count"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
	Results []searchHitJSON `json:"results"`
}

type statsJSON struct {
	Posts         int             `json:"posts"`
	Subreddits    int             `json:"subreddits"`
	Authors       int             `json:"authors"`
	AverageScore  float64         `json:"average_score"`
	TotalUpvotes  int64           `json:"total_upvotes"`
	TotalComments int64           `json:"total_comments"`
	ScoredPosts   int             `json:"scored_posts"`
	NewestPost    *time.Time      `json:"newest_post"`
	TopSubreddits []subredditJSON `json:"top_subreddits"`
}

type subredditJSON struct {
	Name  string `json:"name"`
	Posts int    `json:"posts"`
}

type rateJSON struct {
	RequestsThisWindow int     `json:"requests_this_window"`
	Limit              int     `json:"limit"`
	ResetInSeconds     float64 `json:"reset_in_seconds"`
}

func toPostJSON(p database.Post) postJSON {
	return postJSON{
		ID: p.ID, RedditID: p.RedditID, Title: p.Title, Body: p.Body,
		Subreddit: p.Subreddit, Author: p.Author, Score: p.Score,
		Upvotes: p.Upvotes, Downvotes: p.Downvotes, NumComments: p.NumComments,
		CreatedAt: p.CreatedAt, URL: p.URL, Permalink: p.Permalink,
		RelevanceScore: p.RelevanceScore, Processed: p.Processed, ContentFetched: p.ContentFetched,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.db.CountPosts(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	c, err := parseCriteria(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := s.db.Search(r.Context(), c)
	if err != nil {
		log.Printf("Search failed: %v", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	resp := searchJSON{Limit: c.Limit, Offset: c.Offset, Results: make([]searchHitJSON, 0, len(results))}
	for _, res := range results {
		resp.Results = append(resp.Results, searchHitJSON{postJSON: toPostJSON(res.Post), AuthorReputation: res.AuthorReputation})
	}
	resp.Count = len(resp.Results)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}

	post, err := s.db.GetPost(r.Context(), id)
	if err != nil {
		log.Printf("Loading post %d failed: %v", id, err)
		writeError(w, http.StatusInternalServerError, "loading post failed")
		return
	}
	if post == nil {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}

	out := toPostJSON(*post)
	out.BodyHTML = renderMarkdown(post.Body)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.db.GetStats(r.Context())
	if err != nil {
		log.Printf("Stats failed: %v", err)
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}

	out := statsJSON{
		Posts: st.Posts, Subreddits: st.Subreddits, Authors: st.Authors,
		AverageScore: st.AverageScore, TotalUpvotes: st.TotalUpvotes, TotalComments: st.TotalComments,
		ScoredPosts: st.ScoredPosts, NewestPost: st.NewestPost,
		TopSubreddits: make([]subredditJSON, 0, len(st.TopSubreddits)),
	}
	for _, sc := range st.TopSubreddits {
		out.TopSubreddits = append(out.TopSubreddits, subredditJSON{Name: sc.Name, Posts: sc.Posts})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	if s.rate == nil {
		writeError(w, http.StatusServiceUnavailable, "no reddit client configured")
		return
	}
	st := s.rate.Status()
	writeJSON(w, http.StatusOK, rateJSON{
		RequestsThisWindow: st.RequestsThisWindow,
		Limit:              st.Limit,
		ResetInSeconds:     st.ResetIn.Seconds(),
	})
}

// parseCriteria maps query parameters onto search criteria. Lists are
// comma-separated; dates are RFC 3339 or YYYY-MM-DD.
func parseCriteria(r *http.Request) (database.SearchCriteria, error) {
	q := r.URL.Query()
	c := database.SearchCriteria{
		Keywords:         splitList(q.Get("keywords")),
		RequiredKeywords: splitList(q.Get("require")),
		Subreddits:       splitList(q.Get("subreddits")),
	}

	var err error
	if c.MinUpvotes, err = optionalInt(q.Get("min_upvotes"), "min_upvotes"); err != nil {
		return c, err
	}
	if c.MinReputation, err = optionalInt(q.Get("min_reputation"), "min_reputation"); err != nil {
		return c, err
	}
	if c.Start, err = optionalTime(q.Get("start"), "start"); err != nil {
		return c, err
	}
	if c.End, err = optionalTime(q.Get("end"), "end"); err != nil {
		return c, err
	}
	if c.Start != nil && c.End != nil && c.End.Before(*c.Start) {
		return c, errors.New("end is before start")
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxSearchLimit {
			return c, fmt.Errorf("limit must be between 1 and %d", maxSearchLimit)
		}
		c.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c, errors.New("offset must be a non-negative integer")
		}
		c.Offset = n
	}
	if c.Limit == 0 {
		c.Limit = database.DefaultSearchLimit
	}
	return c, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func optionalInt(v, name string) (*int, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer", name)
	}
	return &n, nil
}

func optionalTime(v, name string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%s must be RFC 3339 or YYYY-MM-DD", name)
}

func renderMarkdown(text string) string {
	if text == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return ""
	}
	return buf.String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.RequestURI(), rec.status, time.Since(start).Round(time.Millisecond))
	})
}

// Serve starts the HTTP server on the given port and shuts it down when ctx
// is cancelled.
func Serve(ctx context.Context, db *database.DB, rate RateStatuser, port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           New(db, rate).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on http://%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}
