package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/TobiSchelling/SubCrawler/internal/clock"
	"github.com/TobiSchelling/SubCrawler/internal/config"
	"github.com/TobiSchelling/SubCrawler/internal/database"
	"github.com/TobiSchelling/SubCrawler/internal/fetch"
	"github.com/TobiSchelling/SubCrawler/internal/ingest"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	Subreddits []string
	Ingest     map[string]*ingest.Result
	Steps      []StepResult
}

// Failed reports whether any step returned an error.
func (r *Result) Failed() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

// Pipeline runs ingest, enrichment and relevance scoring.
type Pipeline struct {
	cfg      *config.Config
	db       *database.DB
	ingester *ingest.Ingester
}

// New creates a new pipeline reading from source.
func New(cfg *config.Config, db *database.DB, source ingest.Source, clk clock.Clock) *Pipeline {
	return &Pipeline{
		cfg: cfg,
		db:  db,
		ingester: ingest.New(source, db, ingest.Options{
			Pause:      cfg.Ingest.Pause,
			TimeWindow: cfg.Ingest.TimeWindow,
			Sort:       cfg.Ingest.Sort,
			Clock:      clk,
		}),
	}
}

// Run executes the pipeline for subreddits, or the configured list when
// subreddits is empty.
func (p *Pipeline) Run(ctx context.Context, subreddits []string) *Result {
	if len(subreddits) == 0 {
		subreddits = p.cfg.Ingest.Subreddits
	}
	r := &Result{Subreddits: subreddits}

	// Step 1: Ingest
	step, results := p.runIngest(ctx, subreddits)
	r.Ingest = results
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	// Step 2: Enrich
	r.Steps = append(r.Steps, p.runEnrich(ctx))

	// Step 3: Relevance
	r.Steps = append(r.Steps, p.runRelevance(ctx, storedIDs(subreddits, results)))

	return r
}

// DryRun shows what would be done without network calls or writes.
func (p *Pipeline) DryRun(ctx context.Context, subreddits []string) *Result {
	if len(subreddits) == 0 {
		subreddits = p.cfg.Ingest.Subreddits
	}
	r := &Result{Subreddits: subreddits}

	r.Steps = append(r.Steps, StepResult{
		Name: "Ingest",
		Summary: fmt.Sprintf("[dry-run] Would fetch up to %d %s posts (%s) from %d subreddits: %s",
			p.cfg.Ingest.Limit, p.cfg.Ingest.Sort, p.cfg.Ingest.TimeWindow, len(subreddits), strings.Join(subreddits, ", ")),
	})

	if p.cfg.Enrichment.Enabled {
		needing, err := p.db.GetPostsNeedingContent(ctx, p.cfg.Enrichment.Limit)
		r.Steps = append(r.Steps, StepResult{
			Name:    "Enrich",
			Summary: fmt.Sprintf("[dry-run] %d stored link posts need content", len(needing)),
			Err:     err,
		})
	} else {
		r.Steps = append(r.Steps, StepResult{Name: "Enrich", Summary: "[dry-run] Enrichment disabled"})
	}

	r.Steps = append(r.Steps, StepResult{
		Name:    "Relevance",
		Summary: fmt.Sprintf("[dry-run] Would score ingested posts against %d keywords", len(p.cfg.Relevance.Keywords)),
	})
	return r
}

func (p *Pipeline) runIngest(ctx context.Context, subreddits []string) (StepResult, map[string]*ingest.Result) {
	log.Println("Step 1/3: Ingesting subreddits...")
	if len(subreddits) == 0 {
		return StepResult{Name: "Ingest", Err: fmt.Errorf("no subreddits configured")}, nil
	}

	results := p.ingester.BatchIngest(ctx, subreddits, p.cfg.Ingest.Limit)

	stored, failed, postErrors := 0, 0, 0
	for _, res := range results {
		stored += res.Stored
		if !res.Success {
			failed++
		}
		postErrors += len(res.Errors)
	}

	step := StepResult{
		Name: "Ingest",
		Summary: fmt.Sprintf("Stored %d posts from %d subreddits (%d failed, %d errors)",
			stored, len(subreddits)-failed, failed, postErrors),
	}
	if failed == len(subreddits) {
		step.Err = fmt.Errorf("all %d subreddits failed", failed)
	}
	return step, results
}

func (p *Pipeline) runEnrich(ctx context.Context) StepResult {
	log.Println("Step 2/3: Fetching link content...")
	if !p.cfg.Enrichment.Enabled {
		return StepResult{Name: "Enrich", Summary: "Enrichment disabled"}
	}

	fetcher := fetch.NewContentFetcher(p.db, p.cfg.Enrichment.Timeout, p.cfg.Reddit.UserAgent)
	result, err := fetcher.FetchMissingContent(ctx, p.cfg.Enrichment.Limit)
	if err != nil {
		return StepResult{Name: "Enrich", Err: err}
	}
	return StepResult{
		Name:    "Enrich",
		Summary: fmt.Sprintf("Fetched %d posts, %d skipped, %d failed", result.Fetched, result.Skipped, result.Failed),
	}
}

func (p *Pipeline) runRelevance(ctx context.Context, postIDs []int64) StepResult {
	log.Println("Step 3/3: Scoring relevance...")
	keywords := p.cfg.Relevance.Keywords
	if len(keywords) == 0 {
		return StepResult{Name: "Relevance", Summary: "No keywords configured"}
	}

	scored, matched := 0, 0
	for _, id := range postIDs {
		score, err := p.db.UpdateRelevance(ctx, id, keywords)
		if err != nil {
			log.Printf("Scoring post %d failed: %v", id, err)
			continue
		}
		scored++
		if score > 0 {
			matched++
		}
	}
	return StepResult{
		Name:    "Relevance",
		Summary: fmt.Sprintf("Scored %d posts, %d matched keywords", scored, matched),
	}
}

// storedIDs collects stored post IDs in subreddit order, without duplicates.
func storedIDs(subreddits []string, results map[string]*ingest.Result) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, name := range subreddits {
		res, ok := results[name]
		if !ok {
			continue
		}
		for _, id := range res.PostIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}
