package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/SubCrawler/internal/cache"
	"github.com/TobiSchelling/SubCrawler/internal/clock"
	"github.com/TobiSchelling/SubCrawler/internal/config"
	"github.com/TobiSchelling/SubCrawler/internal/database"
	"github.com/TobiSchelling/SubCrawler/internal/ingest"
	"github.com/TobiSchelling/SubCrawler/internal/pipeline"
	"github.com/TobiSchelling/SubCrawler/internal/reddit"
	"github.com/TobiSchelling/SubCrawler/internal/schedule"
	"github.com/TobiSchelling/SubCrawler/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "subcrawler",
	Short:   "Rate-limited Reddit ingestion and search",
	Long:    "SubCrawler pulls posts from Reddit within its rate limits, stores them, and lets you search them by keyword, subreddit, score and author reputation.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if strings.EqualFold(cfg.Logging.Level, "debug") {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(searchIngestCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(commentsCmd)
	rootCmd.AddCommand(relevanceCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("subcrawler", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/subcrawler/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Set REDDIT_CLIENT_ID and REDDIT_CLIENT_SECRET, then edit the subreddit list.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.Open(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s (%s)\n\n", db.Dialect(), db.Path())
		fmt.Println("Posts:")
		fmt.Printf("  Total stored: %s\n", humanize.Comma(int64(stats.Posts)))
		fmt.Printf("  Scored: %s\n", humanize.Comma(int64(stats.ScoredPosts)))
		fmt.Printf("  Average score: %s\n", humanize.FormatFloat("#,###.#", stats.AverageScore))
		fmt.Printf("  Total upvotes: %s\n", humanize.Comma(stats.TotalUpvotes))
		fmt.Printf("  Total comments: %s\n", humanize.Comma(stats.TotalComments))
		if stats.NewestPost != nil {
			fmt.Printf("  Newest post: %s\n", humanize.Time(*stats.NewestPost))
		}
		fmt.Printf("\nSubreddits: %d\n", stats.Subreddits)
		for _, sc := range stats.TopSubreddits {
			fmt.Printf("  r/%s: %s\n", sc.Name, humanize.Comma(int64(sc.Posts)))
		}
		fmt.Printf("\nAuthors: %s\n", humanize.Comma(int64(stats.Authors)))
		fmt.Printf("\nSubreddits configured for ingest: %s\n", strings.Join(cfg.Ingest.Subreddits, ", "))
		return nil
	},
}

// --- ingest commands ---

var (
	ingestLimit  int
	ingestSort   string
	ingestWindow string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [subreddits...]",
	Short: "Fetch and store posts from subreddits (default: configured list)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := database.Open(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		client, closeClient, err := newRedditClient(ctx)
		if err != nil {
			return err
		}
		defer closeClient()

		names := args
		if len(names) == 0 {
			names = cfg.Ingest.Subreddits
		}
		if len(names) == 0 {
			return fmt.Errorf("no subreddits given or configured")
		}

		ing := ingest.New(client, db, ingest.Options{
			Pause:      cfg.Ingest.Pause,
			TimeWindow: firstNonEmpty(ingestWindow, cfg.Ingest.TimeWindow),
			Sort:       firstNonEmpty(ingestSort, cfg.Ingest.Sort),
		})
		results := ing.BatchIngest(ctx, names, firstPositive(ingestLimit, cfg.Ingest.Limit))

		failed := 0
		for _, name := range names {
			res := results[name]
			printIngestResult("r/"+name, res)
			if !res.Success {
				failed++
			}
		}
		printRateStatus(client.Status())
		if failed == len(names) {
			return fmt.Errorf("all %d subreddits failed", failed)
		}
		return nil
	},
}

var searchIngestSubreddit string

var searchIngestCmd = &cobra.Command{
	Use:   "search-ingest <query>",
	Short: "Search Reddit and store the matching posts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := database.Open(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		client, closeClient, err := newRedditClient(ctx)
		if err != nil {
			return err
		}
		defer closeClient()

		res := ingest.New(client, db, ingest.Options{}).IngestSearch(ctx, args[0], searchIngestSubreddit, firstPositive(ingestLimit, cfg.Ingest.Limit))
		printIngestResult(fmt.Sprintf("search %q", args[0]), res)
		printRateStatus(client.Status())
		if !res.Success {
			return fmt.Errorf("search ingest failed")
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{ingestCmd, searchIngestCmd} {
		c.Flags().IntVarP(&ingestLimit, "limit", "n", 0, "Posts per request (1-100, default from config)")
	}
	ingestCmd.Flags().StringVar(&ingestSort, "sort", "", "Listing sort: hot, new, top, rising, controversial")
	ingestCmd.Flags().StringVarP(&ingestWindow, "time", "t", "", "Time window: hour, day, week, month, year, all")
	searchIngestCmd.Flags().StringVarP(&searchIngestSubreddit, "subreddit", "r", "", "Restrict search to one subreddit")
}

// --- search command ---

var searchFlags struct {
	keywords      []string
	require       []string
	subreddits    []string
	minUpvotes    int
	minReputation int
	since         string
	until         string
	limit         int
	offset        int
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search stored posts",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := searchCriteria(cmd)
		if err != nil {
			return err
		}

		db, err := database.Open(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		results, err := db.Search(cmd.Context(), c)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No matching posts.")
			return nil
		}

		for _, r := range results {
			author := "[deleted]"
			if r.Author != nil {
				author = "u/" + *r.Author
			}
			fmt.Printf("[%d] %s\n", r.ID, r.Title)
			fmt.Printf("      r/%s · %s · %s points · %s comments · relevance %.1f · %s\n",
				r.Subreddit, author, humanize.Comma(int64(r.Score)), humanize.Comma(int64(r.NumComments)),
				r.RelevanceScore, humanize.Time(r.CreatedAt))
		}
		fmt.Printf("\n%d results\n", len(results))
		return nil
	},
}

func init() {
	f := searchCmd.Flags()
	f.StringSliceVarP(&searchFlags.keywords, "keyword", "k", nil, "Full-text keywords (any match)")
	f.StringSliceVar(&searchFlags.require, "require", nil, "Keywords that must all appear")
	f.StringSliceVarP(&searchFlags.subreddits, "subreddit", "r", nil, "Restrict to subreddits")
	f.IntVar(&searchFlags.minUpvotes, "min-upvotes", 0, "Minimum score")
	f.IntVar(&searchFlags.minReputation, "min-reputation", 0, "Minimum author karma")
	f.StringVar(&searchFlags.since, "since", "", "Only posts created on or after (YYYY-MM-DD or RFC 3339)")
	f.StringVar(&searchFlags.until, "until", "", "Only posts created on or before (YYYY-MM-DD or RFC 3339)")
	f.IntVarP(&searchFlags.limit, "limit", "n", database.DefaultSearchLimit, "Maximum results")
	f.IntVar(&searchFlags.offset, "offset", 0, "Results to skip")
}

// searchCriteria turns the search flags into criteria. Numeric filters apply
// only when the flag was given.
func searchCriteria(cmd *cobra.Command) (database.SearchCriteria, error) {
	c := database.SearchCriteria{
		Keywords:         searchFlags.keywords,
		RequiredKeywords: searchFlags.require,
		Subreddits:       searchFlags.subreddits,
		Limit:            searchFlags.limit,
		Offset:           searchFlags.offset,
	}
	if c.Limit <= 0 || c.Offset < 0 {
		return c, fmt.Errorf("limit must be positive and offset non-negative")
	}
	if cmd.Flags().Changed("min-upvotes") {
		v := searchFlags.minUpvotes
		c.MinUpvotes = &v
	}
	if cmd.Flags().Changed("min-reputation") {
		v := searchFlags.minReputation
		c.MinReputation = &v
	}
	var err error
	if c.Start, err = parseDate(searchFlags.since); err != nil {
		return c, fmt.Errorf("--since: %w", err)
	}
	if c.End, err = parseDate(searchFlags.until); err != nil {
		return c, fmt.Errorf("--until: %w", err)
	}
	return c, nil
}

func parseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid date %q", v)
}

// --- comments command ---

var commentsLimit int

var commentsCmd = &cobra.Command{
	Use:   "comments <subreddit> <post-id>",
	Short: "Print the comment tree of a post",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, closeClient, err := newRedditClient(cmd.Context())
		if err != nil {
			return err
		}
		defer closeClient()

		comments, err := client.FetchComments(cmd.Context(), args[0], args[1], commentsLimit)
		if err != nil {
			return err
		}
		for _, c := range comments {
			indent := strings.Repeat("  ", c.Depth)
			fmt.Printf("%su/%s · %s points · %s\n", indent, c.Author, humanize.Comma(int64(c.Score)), humanize.Time(c.CreatedAt))
			for _, line := range strings.Split(strings.TrimSpace(c.Body), "\n") {
				fmt.Printf("%s  %s\n", indent, line)
			}
		}
		fmt.Printf("\n%d comments\n", len(comments))
		return nil
	},
}

func init() {
	commentsCmd.Flags().IntVarP(&commentsLimit, "limit", "n", 100, "Maximum top-level comments requested")
}

// --- relevance command ---

var relevanceCmd = &cobra.Command{
	Use:   "relevance <post-id> <keywords...>",
	Short: "Score a stored post against keywords",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid post ID: %s", args[0])
		}

		db, err := database.Open(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		score, err := db.UpdateRelevance(cmd.Context(), id, args[1:])
		if database.IsNotFound(err) {
			return fmt.Errorf("post %d not found", id)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Post %d relevance: %.1f\n", id, score)
		return nil
	},
}

// --- run and watch commands ---

var dryRun bool

var runCmd = &cobra.Command{
	Use:   "run [subreddits...]",
	Short: "Run the full pipeline: ingest -> enrich -> relevance",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.Open(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		if dryRun {
			printSteps(pipeline.New(cfg, db, nil, nil).DryRun(cmd.Context(), args))
			return nil
		}

		client, closeClient, err := newRedditClient(cmd.Context())
		if err != nil {
			return err
		}
		defer closeClient()

		result := pipeline.New(cfg, db, client, clock.Real()).Run(cmd.Context(), args)
		printSteps(result)
		printRateStatus(client.Status())
		if result.Failed() {
			return fmt.Errorf("pipeline failed")
		}
		fmt.Println("\nPipeline complete! Run 'subcrawler search' to query stored posts.")
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
}

var watchCron string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the pipeline on the configured schedule until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := database.Open(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		client, closeClient, err := newRedditClient(ctx)
		if err != nil {
			return err
		}
		defer closeClient()

		spec := firstNonEmpty(watchCron, cfg.Schedule.Cron)
		sched, err := startWatch(ctx, db, client, spec, args)
		if err != nil {
			return err
		}
		<-ctx.Done()
		fmt.Println("\nStopping; waiting for a running pipeline to finish...")
		sched.Stop()
		return nil
	},
}

// startWatch schedules pipeline runs on spec and starts the scheduler.
func startWatch(ctx context.Context, db *database.DB, client *reddit.Client, spec string, subreddits []string) (*schedule.Scheduler, error) {
	pipe := pipeline.New(cfg, db, client, clock.Real())
	sched, err := schedule.New(cfg.Schedule.Timezone)
	if err != nil {
		return nil, err
	}
	err = sched.Schedule(spec, func() {
		result := pipe.Run(ctx, subreddits)
		printSteps(result)
		printRateStatus(client.Status())
	})
	if err != nil {
		return nil, err
	}

	sched.Start()
	fmt.Printf("Watching on schedule %q (%s); next run %s.\n", spec, sched.Location(), humanize.Time(sched.Next()))
	return sched, nil
}

func init() {
	watchCmd.Flags().StringVar(&watchCron, "cron", "", "Override the configured cron schedule")
}

// --- serve command ---

var (
	servePort  int
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local JSON API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := database.Open(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		var rate server.RateStatuser
		if serveWatch {
			client, closeClient, err := newRedditClient(ctx)
			if err != nil {
				return err
			}
			defer closeClient()
			rate = client

			sched, err := startWatch(ctx, db, client, cfg.Schedule.Cron, nil)
			if err != nil {
				return err
			}
			defer sched.Stop()
		}

		port := servePort
		if !cmd.Flags().Changed("port") && cfg.Server.Port > 0 {
			port = cfg.Server.Port
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, db, rate, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Also run the pipeline on the configured schedule")
}

// newRedditClient builds a client from config with the configured response
// cache. The returned func releases the cache.
func newRedditClient(ctx context.Context) (*reddit.Client, func(), error) {
	c, err := cache.Open(ctx, cfg.Cache)
	if err != nil {
		return nil, nil, fmt.Errorf("opening cache: %w", err)
	}
	closeCache := func() {
		if err := c.Close(); err != nil {
			log.Printf("Closing cache: %v", err)
		}
	}

	client := reddit.New(reddit.Options{
		ClientID:          cfg.Reddit.ClientID(),
		ClientSecret:      cfg.Reddit.ClientSecret(),
		UserAgent:         cfg.Reddit.UserAgent,
		BaseURL:           cfg.Reddit.BaseURL,
		TokenURL:          cfg.Reddit.TokenURL,
		RequestsPerMinute: cfg.Reddit.RequestsPerMinute,
		MinInterval:       cfg.Reddit.MinInterval,
		MaxRetries:        cfg.Reddit.MaxRetries,
		HTTPClient:        &http.Client{Timeout: cfg.Reddit.Timeout},
		Cache:             c,
	})
	return client, closeCache, nil
}

func printIngestResult(label string, res *ingest.Result) {
	status := "ok"
	if !res.Success {
		status = "FAILED"
	}
	fmt.Printf("%s: %s, stored %s posts\n", label, status, humanize.Comma(int64(res.Stored)))
	for _, e := range res.Errors {
		fmt.Printf("  Error: %s\n", e)
	}
}

func printSteps(result *pipeline.Result) {
	for i, step := range result.Steps {
		fmt.Printf("\nStep %d/3: %s\n", i+1, step.Name)
		if step.Err != nil {
			fmt.Printf("  Error: %v\n", step.Err)
		} else {
			fmt.Printf("  %s\n", step.Summary)
		}
	}
}

func printRateStatus(st reddit.RateStatus) {
	fmt.Printf("\nRate limit: %d/%d requests this window, resets in %s\n",
		st.RequestsThisWindow, st.Limit, st.ResetIn.Round(time.Second))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
