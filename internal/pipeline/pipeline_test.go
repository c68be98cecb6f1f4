package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/gumgenie-scout/internal/actor/actortest"
	"github.com/JakeFAU/gumgenie-scout/internal/hash/sha256"
	"github.com/JakeFAU/gumgenie-scout/internal/id/uuid"
	"github.com/JakeFAU/gumgenie-scout/internal/market"
	"github.com/JakeFAU/gumgenie-scout/internal/progress"
	"github.com/JakeFAU/gumgenie-scout/internal/storage/memory"
)

type stubDiscoverer struct {
	mu      sync.Mutex
	results map[string][]string
	errs    map[string]error
	queries []string
}

func (d *stubDiscoverer) Discover(_ context.Context, query string, maxResults int) (market.DiscoveryResult, error) {
	d.mu.Lock()
	d.queries = append(d.queries, query)
	d.mu.Unlock()
	if err := d.errs[query]; err != nil {
		return market.DiscoveryResult{}, err
	}
	urls := d.results[query]
	if len(urls) > maxResults {
		urls = urls[:maxResults]
	}
	return market.DiscoveryResult{URLs: urls, PagesFetched: 1}, nil
}

type stubCredentials struct{ scrape, discovery error }

func (c stubCredentials) RequireScrapeCredentials() error    { return c.scrape }
func (c stubCredentials) RequireDiscoveryCredentials() error { return c.discovery }

type recordingEmitter struct {
	mu     sync.Mutex
	stages []progress.Stage
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, evt.Stage)
}

func (r *recordingEmitter) has(stage progress.Stage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.stages {
		if s == stage {
			return true
		}
	}
	return false
}

func listingURLs(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://%s%02d.gumroad.com/l/item", prefix, i+1)
	}
	return out
}

type harness struct {
	fake      *actortest.Fake
	store     *memory.BlobStore
	discovery *stubDiscoverer
	emitter   *recordingEmitter
	cfg       Config
	creds     Credentials
}

func newHarness() *harness {
	return &harness{
		fake:      &actortest.Fake{Delay: 20 * time.Millisecond},
		store:     memory.NewBlobStore(),
		discovery: &stubDiscoverer{results: map[string][]string{}, errs: map[string]error{}},
		emitter:   &recordingEmitter{},
		cfg: Config{
			Layout:               market.Layout{Prefix: "runs"},
			DetailActor:          "acme/detail",
			ReviewsActor:         "acme/reviews",
			MaxReviews:           10,
			MaxResults:           50,
			ChunkSize:            10,
			Concurrency:          2,
			DiscoveryConcurrency: 2,
			SignalExamples:       3,
		},
	}
}

func (h *harness) pipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := New(h.cfg, Deps{
		Actors:      h.fake,
		Discoverer:  h.discovery,
		Store:       h.store,
		Hasher:      sha256.New(),
		IDs:         uuid.New(),
		Progress:    h.emitter,
		Credentials: h.creds,
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)
	return p
}

func TestRunEndToEndNotionTemplates(t *testing.T) {
	t.Parallel()

	h := newHarness()
	urls := listingURLs("notion", 23)
	h.discovery.results[market.NotionTemplates.DefaultQuery()] = urls
	h.fake.Fail = func(_ string, batch []string) error {
		if len(batch) > 0 && batch[0] == urls[10] {
			return errors.New("actor api status 502")
		}
		return nil
	}

	summary, err := h.pipeline(t).Run(context.Background(), RunOptions{
		RunID:      "run-e2e",
		Categories: []market.Category{market.NotionTemplates},
	})
	require.NoError(t, err)

	require.Len(t, summary.Results, 3)
	for i, r := range summary.Results {
		assert.Equal(t, i+1, r.Batch)
		assert.Equal(t, market.StageDetail, r.Kind)
	}
	assert.True(t, summary.Results[0].OK())
	assert.False(t, summary.Results[1].OK())
	assert.Zero(t, summary.Results[1].Count)
	assert.True(t, summary.Results[2].OK())
	assert.Equal(t, 2, summary.Succeeded())
	assert.Equal(t, 23, summary.Discovered[market.NotionTemplates])
	assert.Equal(t, market.ReviewsDisabled, summary.ReviewStatus)

	assert.LessOrEqual(t, h.fake.Peak(), 2)
	assert.Len(t, h.fake.CallsFor("acme/detail"), 3)
	assert.Empty(t, h.fake.CallsFor("acme/reviews"))

	layout := h.cfg.Layout
	ctx := context.Background()
	files, err := h.store.List(ctx, layout.ChunkPrefix("run-e2e", market.NotionTemplates, market.StageDetail))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"runs/run-e2e/NOTION_TEMPLATES/detail/chunk-001.json",
		"runs/run-e2e/NOTION_TEMPLATES/detail/chunk-002.error.txt",
		"runs/run-e2e/NOTION_TEMPLATES/detail/chunk-003.json",
	}, files)

	merged, err := h.store.GetObject(ctx, layout.Merged("run-e2e", market.NotionTemplates, market.StageDetail))
	require.NoError(t, err)
	var items []json.RawMessage
	require.NoError(t, json.Unmarshal(merged, &items))
	assert.Len(t, items, summary.Results[0].Count+summary.Results[2].Count)
	assert.Len(t, items, 13)

	var ranked []market.CompetitorURL
	data, err := h.store.GetObject(ctx, layout.URLs("run-e2e", market.NotionTemplates))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &ranked))
	require.Len(t, ranked, 23)
	assert.Equal(t, 1, ranked[0].Rank)
	assert.Equal(t, urls[22], ranked[22].URL)

	var report market.Report
	data, err = h.store.GetObject(ctx, layout.Insights("run-e2e"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &report))
	require.Len(t, report.Categories, 1)
	assert.Equal(t, 13, report.Categories[0].ProductCount)
	require.Len(t, report.Categories[0].FailedChunks, 1)
	assert.Equal(t, 2, report.Categories[0].FailedChunks[0].Batch)

	_, err = h.store.GetObject(ctx, layout.Summary("run-e2e"))
	require.NoError(t, err)
	assert.NotEmpty(t, summary.MergedDigests)
	assert.Equal(t, layout.Insights("run-e2e"), summary.InsightsPath)

	assert.True(t, h.emitter.has(progress.StageRunStart))
	assert.True(t, h.emitter.has(progress.StageDiscoveryDone))
	assert.True(t, h.emitter.has(progress.StageChunkError))
	assert.True(t, h.emitter.has(progress.StageRunDone))
}

func TestRunPreflightEntitlementSkipsReviews(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.cfg.ReviewsEnabled = true
	h.fake.Fail = func(actorID string, _ []string) error {
		if actorID == "acme/reviews" {
			return errors.New(`actor api status 403 (actor-is-not-rented): You must rent a paid Actor in order to run it.`)
		}
		return nil
	}

	summary, err := h.pipeline(t).Run(context.Background(), RunOptions{
		URLs: map[market.Category][]string{market.DigitalPlanners: listingURLs("planner", 15)},
	})
	require.NoError(t, err)

	assert.Len(t, h.fake.CallsFor("acme/reviews"), 1, "only the trial runs")
	require.Len(t, summary.Results, 2)
	for _, r := range summary.Results {
		assert.Equal(t, market.StageDetail, r.Kind)
	}
	assert.Equal(t, market.ReviewsDisabled, summary.ReviewStatus)
	assert.True(t, h.emitter.has(progress.StagePreflight))
}

func TestRunPreflightTransientFailureProceeds(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.cfg.ReviewsEnabled = true
	var reviewCalls atomic.Int64
	h.fake.Fail = func(actorID string, _ []string) error {
		if actorID == "acme/reviews" && reviewCalls.Add(1) == 1 {
			return errors.New("connection reset by peer")
		}
		return nil
	}

	summary, err := h.pipeline(t).Run(context.Background(), RunOptions{
		URLs: map[market.Category][]string{market.AIPrompts: listingURLs("prompt", 12)},
	})
	require.NoError(t, err)

	// trial + two review chunks
	assert.Len(t, h.fake.CallsFor("acme/reviews"), 3)
	require.Len(t, summary.Results, 4)
	assert.Equal(t, market.StageReviews, summary.Results[2].Kind)
	assert.True(t, summary.Results[2].OK())
	assert.Equal(t, market.ReviewsOK, summary.ReviewStatus)
}

func TestRunCapsReviewURLs(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.cfg.ReviewsEnabled = true
	h.cfg.MaxReviewURLs = 5

	summary, err := h.pipeline(t).Run(context.Background(), RunOptions{
		URLs: map[market.Category][]string{market.CanvaTemplates: listingURLs("canva", 30)},
	})
	require.NoError(t, err)

	var reviewChunks int
	for _, r := range summary.Results {
		if r.Kind == market.StageReviews {
			reviewChunks++
			assert.Equal(t, 5, r.Count)
		}
	}
	assert.Equal(t, 1, reviewChunks)
}

func TestRunMissingCredentialsDoesNoWork(t *testing.T) {
	t.Parallel()

	h := newHarness()
	missing := errors.New("apify.token: missing credential")
	h.creds = stubCredentials{scrape: missing}

	_, err := h.pipeline(t).Run(context.Background(), RunOptions{})
	require.ErrorIs(t, err, missing)
	assert.Empty(t, h.fake.Calls())
	assert.Empty(t, h.discovery.queries)
	assert.True(t, h.emitter.has(progress.StageRunError))
}

func TestRunPreDiscoveredURLsSkipDiscoveryCredentials(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.creds = stubCredentials{discovery: errors.New("serpapi.api_key: missing credential")}
	shared := "https://shared.gumroad.com/l/x"

	summary, err := h.pipeline(t).Run(context.Background(), RunOptions{
		Categories: []market.Category{market.NotionTemplates, market.DigitalPlanners},
		URLs: map[market.Category][]string{
			market.NotionTemplates: {shared, "https://a.gumroad.com/l/1"},
			market.DigitalPlanners: {shared, "https://b.gumroad.com/l/2"},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, h.discovery.queries)
	assert.Equal(t, 2, summary.Discovered[market.NotionTemplates])
	assert.Equal(t, 1, summary.Discovered[market.DigitalPlanners], "a URL belongs to one category")
}

func TestRunDiscoveryFailureIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.cfg.Queries = map[market.Category]string{market.AIPrompts: "midjourney prompts"}
	h.discovery.results[market.NotionTemplates.DefaultQuery()] = listingURLs("notion", 3)
	h.discovery.errs["midjourney prompts"] = errors.New("search api key is required")

	_, err := h.pipeline(t).Run(context.Background(), RunOptions{
		Categories: []market.Category{market.NotionTemplates, market.AIPrompts},
	})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "AI_PROMPTS"))
	assert.Empty(t, h.fake.Calls())
}

func TestReportFromListedChunks(t *testing.T) {
	t.Parallel()

	h := newHarness()
	ctx := context.Background()
	layout := h.cfg.Layout
	_, err := h.store.PutObject(ctx, layout.Chunk("old-run", market.NotionTemplates, market.StageDetail, 1),
		"application/json", []byte(`[{"title":"Ultimate Planner","price":"$12"}]`))
	require.NoError(t, err)

	res, err := h.pipeline(t).Report(ctx, "old-run", []market.Category{market.NotionTemplates}, nil, nil, false)
	require.NoError(t, err)
	require.Len(t, res.Report.Categories, 1)
	got := res.Report.Categories[0]
	assert.Equal(t, 1, got.ProductCount)
	assert.Equal(t, market.ReviewsUnknown, got.ReviewStatus)
	assert.Len(t, res.Digests, 2)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{ChunkSize: 10}, Deps{})
	require.Error(t, err)
	_, err = New(Config{}, Deps{Actors: &actortest.Fake{}, Store: memory.NewBlobStore(), IDs: uuid.New()})
	require.Error(t, err)
}
