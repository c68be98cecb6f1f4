package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gumgenie-scout/internal/market"
)

// Builder turns merged items into category insights and writes the report.
type Builder struct {
	store      market.BlobStore
	layout     market.Layout
	clock      market.Clock
	exampleCap int
	logger     *zap.Logger
}

// NewBuilder builds a Builder. clock and logger may be nil.
func NewBuilder(store market.BlobStore, layout market.Layout, clock market.Clock, exampleCap int, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if exampleCap <= 0 {
		exampleCap = DefaultExampleCap
	}
	return &Builder{store: store, layout: layout, clock: clock, exampleCap: exampleCap, logger: logger}
}

// ReviewStatusFor reports how trustworthy the review data of c is: disabled
// when the stage was switched off, ok when at least one review chunk of c
// succeeded, unknown otherwise.
func ReviewStatusFor(c market.Category, reviewsOff bool, results []market.RunResult) market.ReviewStatus {
	if reviewsOff {
		return market.ReviewsDisabled
	}
	for _, r := range results {
		if r.Category == c && r.Kind == market.StageReviews && r.OK() {
			return market.ReviewsOK
		}
	}
	return market.ReviewsUnknown
}

// BuildCategory computes the insights of one category from its merged items.
// results may span every category; only those of c are considered.
func (b *Builder) BuildCategory(
	c market.Category,
	merged CategoryMerge,
	results []market.RunResult,
	status market.ReviewStatus,
) market.CategoryInsights {
	products := NormalizeProducts(merged.Detail.Items)
	reviews := NormalizeReviews(merged.Reviews.Items)

	titles := make([]string, 0, len(products))
	descriptions := make([]string, 0, len(products))
	for _, p := range products {
		titles = append(titles, p.Title)
		descriptions = append(descriptions, p.Description)
	}
	complaints := make([]string, 0, len(reviews)+len(descriptions))
	for _, r := range reviews {
		complaints = append(complaints, r.Text)
	}
	complaints = append(complaints, descriptions...)

	out := market.CategoryInsights{
		Category:             c,
		ProductCount:         len(products),
		ReviewCount:          len(reviews),
		ReviewStatus:         status,
		Prices:               PriceStats(products),
		PainPoints:           DeriveSignals(complaints, PainPointMatchers, b.exampleCap),
		DeliveryExpectations: DeriveSignals(descriptions, DeliveryMatchers, b.exampleCap),
		Positioning:          DeriveSignals(titles, PositioningMatchers, b.exampleCap),
		SkippedFiles:         merged.Detail.Skipped + merged.Reviews.Skipped,
	}
	for _, r := range results {
		if r.Category == c && !r.OK() {
			out.FailedChunks = append(out.FailedChunks, r)
		}
	}
	return out
}

// BuildReport assembles the run report and persists it as insights.json.
func (b *Builder) BuildReport(ctx context.Context, runID string, categories []market.CategoryInsights) (market.Report, string, error) {
	report := market.Report{
		RunID:       runID,
		GeneratedAt: b.now(),
		Categories:  categories,
	}
	if report.Categories == nil {
		report.Categories = []market.CategoryInsights{}
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return report, "", fmt.Errorf("encode insights: %w", err)
	}
	path := b.layout.Insights(runID)
	if _, err := b.store.PutObject(ctx, path, "application/json", data); err != nil {
		return report, "", fmt.Errorf("write insights: %w", err)
	}
	b.logger.Info("insights written", zap.String("path", path), zap.Int("categories", len(report.Categories)))
	return report, path, nil
}

func (b *Builder) now() time.Time {
	if b.clock != nil {
		return b.clock.Now().UTC()
	}
	return time.Now().UTC()
}
