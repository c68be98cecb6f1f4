// Package pipeline runs a full scouting pass: discovery, detail and review
// scraping through one bounded pool, then merge and insights.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/gumgenie-scout/internal/insights"
	"github.com/JakeFAU/gumgenie-scout/internal/logging"
	"github.com/JakeFAU/gumgenie-scout/internal/market"
	"github.com/JakeFAU/gumgenie-scout/internal/progress"
	"github.com/JakeFAU/gumgenie-scout/internal/runner"
	"github.com/JakeFAU/gumgenie-scout/internal/scrape"
)

// Credentials performs the fail-fast credential checks. config.Config
// satisfies it.
type Credentials interface {
	RequireScrapeCredentials() error
	RequireDiscoveryCredentials() error
}

// Config holds the run-independent pipeline settings.
type Config struct {
	Layout                market.Layout
	DetailActor           string
	ReviewsActor          string
	MaxReviews            int
	MaxResults            int
	ChunkSize             int
	Concurrency           int
	DiscoveryConcurrency  int
	ReviewsEnabled        bool
	MaxReviewURLs         int
	EntitlementSignatures []string
	SignalExamples        int
	Topic                 string
	// Queries overrides the default search phrase per category.
	Queries map[market.Category]string
}

// Deps are the pipeline collaborators. Publisher, Retry, Hasher, Clock,
// Progress and Credentials are optional.
type Deps struct {
	Actors      market.ActorRunner
	Discoverer  market.Discoverer
	Store       market.BlobStore
	Publisher   market.Publisher
	Retry       market.RetryPolicy
	Hasher      market.Hasher
	Clock       market.Clock
	IDs         market.IDGenerator
	Progress    progress.Emitter
	Credentials Credentials
	Logger      *zap.Logger
}

// RunOptions narrows a single run.
type RunOptions struct {
	// RunID is generated when empty.
	RunID      string
	Categories []market.Category
	// MaxResults overrides the configured discovery cap when > 0.
	MaxResults int
	// URLs supplies pre-discovered listings. When non-nil, discovery is
	// skipped and only these categories run.
	URLs map[market.Category][]string
}

// Pipeline orchestrates one run at a time per call; concurrent Run calls are
// independent.
type Pipeline struct {
	cfg  Config
	deps Deps
}

// New validates the wiring.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Actors == nil {
		return nil, fmt.Errorf("actor runner is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if deps.IDs == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be > 0")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.DiscoveryConcurrency <= 0 {
		cfg.DiscoveryConcurrency = 1
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, deps: deps}, nil
}

// Run executes every stage and writes summary.json. Only configuration
// errors, discovery failures and storage failures of run-level artifacts are
// returned; chunk failures end up in the summary.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (market.RunSummary, error) {
	runID, err := p.runID(opts.RunID)
	if err != nil {
		return market.RunSummary{}, err
	}
	logger := logging.ForRun(p.deps.Logger, runID)
	runKey := progress.ParseRunID(runID)
	summary := market.RunSummary{
		RunID:      runID,
		StartedAt:  p.now(),
		Discovered: map[market.Category]int{},
		Results:    []market.RunResult{},
	}

	categories, err := p.categories(opts)
	if err != nil {
		return summary, err
	}
	if err := p.checkCredentials(opts.URLs == nil); err != nil {
		p.emit(runKey, progress.Event{Stage: progress.StageRunError, Note: err.Error()})
		return summary, err
	}
	p.emit(runKey, progress.Event{Stage: progress.StageRunStart, Items: len(categories)})
	logger.Info("run started", zap.Int("categories", len(categories)))

	urls := opts.URLs
	if urls == nil {
		maxResults := opts.MaxResults
		if maxResults <= 0 {
			maxResults = p.cfg.MaxResults
		}
		if urls, err = p.Discover(ctx, runID, categories, maxResults); err != nil {
			p.emit(runKey, progress.Event{Stage: progress.StageRunError, Note: err.Error()})
			return summary, err
		}
	} else {
		urls = exclusive(categories, urls)
		if err := p.writeURLs(ctx, runID, urls); err != nil {
			return summary, err
		}
	}
	for _, c := range categories {
		summary.Discovered[c] = len(urls[c])
	}

	gate := scrape.NewGate(p.deps.Actors, p.cfg.ReviewsActor, p.cfg.MaxReviews, p.cfg.EntitlementSignatures, logger)
	stage, err := scrape.NewStage(scrape.Config{
		RunID:        runID,
		Layout:       p.cfg.Layout,
		ChunkSize:    p.cfg.ChunkSize,
		DetailActor:  p.cfg.DetailActor,
		ReviewsActor: p.cfg.ReviewsActor,
		MaxReviews:   p.cfg.MaxReviews,
		Topic:        p.cfg.Topic,
	}, scrape.Deps{
		Actors:    p.deps.Actors,
		Store:     p.deps.Store,
		Publisher: p.deps.Publisher,
		Retry:     p.deps.Retry,
		Gate:      gate,
		Progress:  p.deps.Progress,
		Clock:     p.deps.Clock,
		Logger:    logger,
	})
	if err != nil {
		return summary, err
	}

	expected := make(map[market.Category]map[market.StageKind]int, len(categories))
	var tasks []runner.Task[market.RunResult]
	for _, c := range categories {
		detail := stage.Tasks(c, market.StageDetail, urls[c])
		tasks = append(tasks, detail...)
		expected[c] = map[market.StageKind]int{market.StageDetail: len(detail), market.StageReviews: 0}
	}

	reviewsOff := !p.cfg.ReviewsEnabled
	if !reviewsOff {
		decision := gate.Check(ctx, sampleURL(categories, urls))
		p.emit(runKey, progress.Event{Stage: progress.StagePreflight, Note: decision.Reason})
		logger.Info("review preflight", zap.Bool("proceed", decision.Proceed), zap.String("reason", decision.Reason))
		reviewsOff = !decision.Proceed
	}
	if !reviewsOff {
		for _, c := range categories {
			review := stage.Tasks(c, market.StageReviews, capURLs(urls[c], p.cfg.MaxReviewURLs))
			tasks = append(tasks, review...)
			expected[c][market.StageReviews] = len(review)
		}
	}

	pool := runner.New(p.cfg.Concurrency, logger)
	summary.Results = runner.Run(ctx, pool, tasks)
	// A mid-run entitlement failure also counts as disabled.
	reviewsOff = reviewsOff || gate.Disabled()

	summary.ReviewStatus = runReviewStatus(reviewsOff, summary.Results)

	// Merge and write even when the caller canceled, so what was scraped is
	// still reported.
	ctx = context.WithoutCancel(ctx)
	report, err := p.Report(ctx, runID, categories, summary.Results, expected, reviewsOff)
	if err != nil {
		p.emit(runKey, progress.Event{Stage: progress.StageRunError, Note: err.Error()})
		return summary, err
	}
	summary.MergedDigests = report.Digests
	summary.InsightsPath = report.Path
	summary.FinishedAt = p.now()

	if err := p.writeJSON(ctx, p.cfg.Layout.Summary(runID), summary); err != nil {
		p.emit(runKey, progress.Event{Stage: progress.StageRunError, Note: err.Error()})
		return summary, fmt.Errorf("write summary: %w", err)
	}
	p.emit(runKey, progress.Event{
		Stage: progress.StageRunDone,
		Items: summary.Succeeded(),
		Dur:   summary.FinishedAt.Sub(summary.StartedAt),
	})
	logger.Info("run finished",
		zap.Int("chunks", len(summary.Results)),
		zap.Int("succeeded", summary.Succeeded()),
		zap.String("review_status", string(summary.ReviewStatus)),
	)
	return summary, nil
}

// Discover resolves every category concurrently and writes each category's
// urls.json. A category whose search fails outright fails the whole call;
// page-level errors are only logged.
func (p *Pipeline) Discover(
	ctx context.Context,
	runID string,
	categories []market.Category,
	maxResults int,
) (map[market.Category][]string, error) {
	if p.deps.Discoverer == nil {
		return nil, fmt.Errorf("discovery source is required")
	}
	logger := logging.ForRun(p.deps.Logger, runID)
	runKey := progress.ParseRunID(runID)

	var mu sync.Mutex
	found := make(map[market.Category][]string, len(categories))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.DiscoveryConcurrency)
	for _, c := range categories {
		g.Go(func() error {
			start := time.Now()
			res, err := p.deps.Discoverer.Discover(gctx, p.query(c), maxResults)
			if err != nil {
				return fmt.Errorf("discover %s: %w", c, err)
			}
			for _, pageErr := range res.PageErrors {
				logger.Warn("discovery page failed", zap.String("category", string(c)), zap.String("error", pageErr))
			}
			mu.Lock()
			found[c] = res.URLs
			mu.Unlock()
			p.emit(runKey, progress.Event{
				Stage:    progress.StageDiscoveryDone,
				Category: string(c),
				Items:    len(res.URLs),
				Dur:      time.Since(start),
			})
			logger.Info("discovery finished",
				zap.String("category", string(c)),
				zap.Int("urls", len(res.URLs)),
				zap.Int("pages", res.PagesFetched),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	urls := exclusive(categories, found)
	if err := p.writeURLs(ctx, runID, urls); err != nil {
		return nil, err
	}
	return urls, nil
}

// ReportResult is what Report produced.
type ReportResult struct {
	Report  market.Report
	Path    string
	Digests map[string]string
}

// Report merges each category's chunks and writes insights.json. expected
// may be nil, in which case chunk files are found by listing.
func (p *Pipeline) Report(
	ctx context.Context,
	runID string,
	categories []market.Category,
	results []market.RunResult,
	expected map[market.Category]map[market.StageKind]int,
	reviewsOff bool,
) (ReportResult, error) {
	logger := logging.ForRun(p.deps.Logger, runID)
	merger := insights.NewMerger(p.deps.Store, p.cfg.Layout, p.deps.Hasher, logger)
	builder := insights.NewBuilder(p.deps.Store, p.cfg.Layout, p.deps.Clock, p.cfg.SignalExamples, logger)

	out := ReportResult{Digests: map[string]string{}}
	perCategory := make([]market.CategoryInsights, 0, len(categories))
	for _, c := range categories {
		merged, err := merger.Merge(ctx, runID, c, expected[c])
		if err != nil {
			return out, err
		}
		for _, m := range []insights.Merged{merged.Detail, merged.Reviews} {
			if m.Digest != "" {
				out.Digests[m.Path] = m.Digest
			}
		}
		status := insights.ReviewStatusFor(c, reviewsOff, results)
		perCategory = append(perCategory, builder.BuildCategory(c, merged, results, status))
	}
	report, path, err := builder.BuildReport(ctx, runID, perCategory)
	if err != nil {
		return out, err
	}
	out.Report = report
	out.Path = path
	return out, nil
}

func (p *Pipeline) runID(requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	id, err := p.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id, nil
}

func (p *Pipeline) categories(opts RunOptions) ([]market.Category, error) {
	cats := opts.Categories
	if len(cats) == 0 {
		if opts.URLs != nil {
			for _, c := range market.AllCategories() {
				if _, ok := opts.URLs[c]; ok {
					cats = append(cats, c)
				}
			}
		} else {
			cats = market.AllCategories()
		}
	}
	for _, c := range cats {
		if _, err := market.ParseCategory(string(c)); err != nil {
			return nil, err
		}
	}
	if len(cats) == 0 {
		return nil, fmt.Errorf("no categories selected")
	}
	return cats, nil
}

func (p *Pipeline) checkCredentials(needDiscovery bool) error {
	if p.deps.Credentials == nil {
		return nil
	}
	if err := p.deps.Credentials.RequireScrapeCredentials(); err != nil {
		return err
	}
	if needDiscovery {
		return p.deps.Credentials.RequireDiscoveryCredentials()
	}
	return nil
}

func (p *Pipeline) query(c market.Category) string {
	if q := p.cfg.Queries[c]; q != "" {
		return q
	}
	return c.DefaultQuery()
}

func (p *Pipeline) writeURLs(ctx context.Context, runID string, urls map[market.Category][]string) error {
	for c, list := range urls {
		ranked := make([]market.CompetitorURL, 0, len(list))
		for i, u := range list {
			ranked = append(ranked, market.CompetitorURL{Category: c, URL: u, Rank: i + 1})
		}
		if err := p.writeJSON(ctx, p.cfg.Layout.URLs(runID, c), ranked); err != nil {
			return fmt.Errorf("write urls for %s: %w", c, err)
		}
	}
	return nil
}

func (p *Pipeline) writeJSON(ctx context.Context, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = p.deps.Store.PutObject(ctx, path, "application/json", data)
	return err
}

func (p *Pipeline) emit(runKey [16]byte, evt progress.Event) {
	if p.deps.Progress == nil {
		return
	}
	evt.RunID = runKey
	evt.TS = p.now()
	p.deps.Progress.Emit(evt)
}

func (p *Pipeline) now() time.Time {
	if p.deps.Clock != nil {
		return p.deps.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

// exclusive assigns every URL to the first category, in category order, that
// listed it. Categories absent from found get an empty list.
func exclusive(categories []market.Category, found map[market.Category][]string) map[market.Category][]string {
	seen := make(map[string]struct{})
	out := make(map[market.Category][]string, len(categories))
	for _, c := range categories {
		list := make([]string, 0, len(found[c]))
		for _, u := range found[c] {
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			list = append(list, u)
		}
		out[c] = list
	}
	return out
}

func runReviewStatus(reviewsOff bool, results []market.RunResult) market.ReviewStatus {
	if reviewsOff {
		return market.ReviewsDisabled
	}
	for _, r := range results {
		if r.Kind == market.StageReviews && r.OK() {
			return market.ReviewsOK
		}
	}
	return market.ReviewsUnknown
}

func sampleURL(categories []market.Category, urls map[market.Category][]string) string {
	for _, c := range categories {
		if len(urls[c]) > 0 {
			return urls[c][0]
		}
	}
	return ""
}

func capURLs(urls []string, limit int) []string {
	if limit > 0 && len(urls) > limit {
		return urls[:limit]
	}
	return urls
}
