// Package market defines the core types shared across the scouting pipeline.
package market

import "time"

// StageKind names the scrape stage a chunk belongs to.
type StageKind string

// Supported scrape stages.
const (
	StageDetail  StageKind = "detail"
	StageReviews StageKind = "reviews"
)

// Valid reports whether k is a known stage.
func (k StageKind) Valid() bool {
	return k == StageDetail || k == StageReviews
}

// ReviewStatus describes how much review data a category report can rely on.
type ReviewStatus string

// Review status values written into reports.
const (
	ReviewsOK       ReviewStatus = "ok"
	ReviewsDisabled ReviewStatus = "disabled"
	ReviewsUnknown  ReviewStatus = "unknown"
)

// CompetitorURL is a deduplicated listing discovered for one category.
type CompetitorURL struct {
	Category Category `json:"category"`
	URL      string   `json:"url"`
	Rank     int      `json:"rank"`
}

// Chunk is a batch of URLs submitted to one actor invocation.
type Chunk struct {
	Category Category  `json:"category"`
	Kind     StageKind `json:"stage"`
	Batch    int       `json:"batch"`
	URLs     []string  `json:"urls"`
}

// RunResult is the per-chunk outcome. A non-empty Error marks a failed chunk;
// failed chunks always carry a zero Count.
type RunResult struct {
	Category  Category  `json:"category"`
	Kind      StageKind `json:"stage"`
	Batch     int       `json:"batch"`
	Count     int       `json:"count"`
	DatasetID string    `json:"dataset_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	Attempts  int       `json:"attempts"`
	Path      string    `json:"path,omitempty"`
}

// OK reports whether the chunk produced a dataset.
func (r RunResult) OK() bool {
	return r.Error == ""
}

// ActorRun is the handle returned once a remote actor run finishes.
type ActorRun struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	DatasetID string `json:"dataset_id"`
}

// Product is the normalized shape of a detail item.
type Product struct {
	URL          string   `json:"url"`
	Title        string   `json:"title"`
	Seller       string   `json:"seller,omitempty"`
	Description  string   `json:"description,omitempty"`
	Price        *float64 `json:"price,omitempty"`
	PriceText    string   `json:"price_text,omitempty"`
	Rating       *float64 `json:"rating,omitempty"`
	RatingsCount int      `json:"ratings_count,omitempty"`
}

// Review is the normalized shape of a review item.
type Review struct {
	ProductURL string   `json:"product_url,omitempty"`
	Author     string   `json:"author,omitempty"`
	Rating     *float64 `json:"rating,omitempty"`
	Text       string   `json:"text"`
}

// Signal is a named classification bucket with its match count and examples.
type Signal struct {
	Name     string   `json:"name"`
	Count    int      `json:"count"`
	Examples []string `json:"examples"`
}

// PriceBand summarizes the parsed price sample of a category.
type PriceBand struct {
	Min        float64 `json:"min"`
	Median     float64 `json:"median"`
	Max        float64 `json:"max"`
	SampleSize int     `json:"sample_size"`
}

// CategoryInsights is the aggregated view of one category.
type CategoryInsights struct {
	Category             Category     `json:"category"`
	ProductCount         int          `json:"product_count"`
	ReviewCount          int          `json:"review_count"`
	ReviewStatus         ReviewStatus `json:"review_status"`
	Prices               PriceBand    `json:"prices"`
	PainPoints           []Signal     `json:"pain_points"`
	DeliveryExpectations []Signal     `json:"delivery_expectations"`
	Positioning          []Signal     `json:"positioning"`
	FailedChunks         []RunResult  `json:"failed_chunks,omitempty"`
	SkippedFiles         int          `json:"skipped_files,omitempty"`
}

// Report is the aggregated insights artifact written once per run.
type Report struct {
	RunID       string             `json:"run_id"`
	GeneratedAt time.Time          `json:"generated_at"`
	Categories  []CategoryInsights `json:"categories"`
}

// RunSummary records what a pipeline run did.
type RunSummary struct {
	RunID         string            `json:"run_id"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at"`
	Discovered    map[Category]int  `json:"discovered"`
	Results       []RunResult       `json:"results"`
	ReviewStatus  ReviewStatus      `json:"review_status"`
	MergedDigests map[string]string `json:"merged_digests,omitempty"`
	InsightsPath  string            `json:"insights_path,omitempty"`
}

// Succeeded counts successful chunks in the summary.
func (s RunSummary) Succeeded() int {
	n := 0
	for _, r := range s.Results {
		if r.OK() {
			n++
		}
	}
	return n
}

// RunStatus tracks the lifecycle of a run submitted through the API.
type RunStatus string

// Run lifecycle states.
const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// RunRecord is the API-visible state of a run.
type RunRecord struct {
	ID         string      `json:"run_id"`
	Status     RunStatus   `json:"status"`
	Categories []Category  `json:"categories"`
	MaxResults int         `json:"max_results"`
	Error      string      `json:"error,omitempty"`
	Submitted  time.Time   `json:"submitted_at"`
	Started    *time.Time  `json:"started_at,omitempty"`
	Finished   *time.Time  `json:"finished_at,omitempty"`
	Summary    *RunSummary `json:"summary,omitempty"`
}
