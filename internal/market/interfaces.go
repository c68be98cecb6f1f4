package market

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a key does not exist.
var ErrNotFound = errors.New("not found")

// ActorRunner starts remote scraping actors and reads their datasets.
type ActorRunner interface {
	Start(ctx context.Context, actorID string, input any) (ActorRun, error)
	FetchDataset(ctx context.Context, datasetID string) ([]json.RawMessage, error)
}

// Discoverer resolves a search query into candidate listing URLs.
type Discoverer interface {
	Discover(ctx context.Context, query string, maxResults int) (DiscoveryResult, error)
}

// DiscoveryResult carries the collected URLs plus any page-level failures.
type DiscoveryResult struct {
	URLs         []string `json:"urls"`
	PagesFetched int      `json:"pages_fetched"`
	PageErrors   []string `json:"page_errors,omitempty"`
}

// BlobStore persists run artifacts and reads them back.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Publisher pushes chunk notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RetryPolicy decides whether and when a failed chunk is attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Hasher computes digests for merged artifacts.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// RunStore tracks runs started through the API.
type RunStore interface {
	CreateRun(ctx context.Context, run RunRecord) error
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus, errText string, summary *RunSummary) error
	GetRun(ctx context.Context, runID string) (RunRecord, error)
	// ListRuns returns runs newest first. A nil status matches every run.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]RunRecord, error)
}
