package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gumgenie-scout/internal/market"
	"github.com/JakeFAU/gumgenie-scout/internal/metrics"
	"github.com/JakeFAU/gumgenie-scout/internal/progress"
	"github.com/JakeFAU/gumgenie-scout/internal/runner"
)

// ErrReviewsDisabled marks review chunks skipped after the gate tripped.
var ErrReviewsDisabled = errors.New("review stage disabled")

// Config holds the per-run stage settings.
type Config struct {
	RunID        string
	Layout       market.Layout
	ChunkSize    int
	DetailActor  string
	ReviewsActor string
	MaxReviews   int
	// Topic receives one notification per finished chunk. Empty disables publishing.
	Topic string
}

// Deps are the stage collaborators. Publisher, Retry, Gate, Progress and
// Clock are optional.
type Deps struct {
	Actors    market.ActorRunner
	Store     market.BlobStore
	Publisher market.Publisher
	Retry     market.RetryPolicy
	Gate      *Gate
	Progress  progress.Emitter
	Clock     market.Clock
	Logger    *zap.Logger
}

// Stage builds chunk tasks for one run.
type Stage struct {
	cfg    Config
	deps   Deps
	runKey [16]byte
}

// ChunkNotice is published after each chunk is persisted.
type ChunkNotice struct {
	RunID     string           `json:"run_id"`
	Category  market.Category  `json:"category"`
	Kind      market.StageKind `json:"stage"`
	Batch     int              `json:"batch"`
	Count     int              `json:"count"`
	DatasetID string           `json:"dataset_id,omitempty"`
	Path      string           `json:"path"`
	Error     string           `json:"error,omitempty"`
}

// Attributes exposes routing keys as Pub/Sub message attributes.
func (n ChunkNotice) Attributes() map[string]string {
	status := "ok"
	if n.Error != "" {
		status = "error"
	}
	return map[string]string{
		"run_id":   n.RunID,
		"category": string(n.Category),
		"stage":    string(n.Kind),
		"status":   status,
	}
}

// NewStage validates cfg and deps.
func NewStage(cfg Config, deps Deps) (*Stage, error) {
	if deps.Actors == nil {
		return nil, fmt.Errorf("actor runner is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if cfg.RunID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be > 0")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Stage{cfg: cfg, deps: deps, runKey: progress.ParseRunID(cfg.RunID)}, nil
}

// Tasks returns one runner task per chunk of urls. A task never fails
// outward: every outcome is persisted and returned as a RunResult.
func (s *Stage) Tasks(c market.Category, kind market.StageKind, urls []string) []runner.Task[market.RunResult] {
	chunks := Chunks(c, kind, urls, s.cfg.ChunkSize)
	tasks := make([]runner.Task[market.RunResult], 0, len(chunks))
	for _, chunk := range chunks {
		tasks = append(tasks, func(ctx context.Context) market.RunResult {
			return s.process(ctx, chunk)
		})
	}
	return tasks
}

func (s *Stage) process(ctx context.Context, chunk market.Chunk) market.RunResult {
	logger := s.deps.Logger.With(
		zap.String("category", string(chunk.Category)),
		zap.String("stage", string(chunk.Kind)),
		zap.Int("batch", chunk.Batch),
	)
	start := time.Now()
	s.emit(progress.Event{
		Stage:    progress.StageChunkStart,
		Category: string(chunk.Category),
		Kind:     string(chunk.Kind),
		Batch:    chunk.Batch,
		Items:    len(chunk.URLs),
	})

	res := market.RunResult{Category: chunk.Category, Kind: chunk.Kind, Batch: chunk.Batch}
	items, datasetID, attempts, err := s.scrapeWithRetry(ctx, chunk, logger)
	res.Attempts = attempts
	if err == nil {
		res.DatasetID = datasetID
		res.Path, err = s.persistItems(ctx, chunk, items)
		if err == nil {
			res.Count = len(items)
		}
	}
	if err != nil {
		res.Count = 0
		res.Error = err.Error()
		res.Path = s.persistError(ctx, chunk, err, logger)
	}

	elapsed := time.Since(start)
	metrics.ObserveChunk(string(chunk.Kind), res.OK(), res.Count)
	s.publish(ctx, res, logger)
	if res.OK() {
		logger.Info("chunk persisted", zap.Int("items", res.Count), zap.String("dataset_id", res.DatasetID), zap.Duration("dur", elapsed))
		s.emit(progress.Event{
			Stage:    progress.StageChunkDone,
			Category: string(chunk.Category),
			Kind:     string(chunk.Kind),
			Batch:    chunk.Batch,
			Items:    res.Count,
			Dur:      elapsed,
		})
	} else {
		logger.Warn("chunk failed", zap.String("error", res.Error), zap.Int("attempts", res.Attempts))
		s.emit(progress.Event{
			Stage:    progress.StageChunkError,
			Category: string(chunk.Category),
			Kind:     string(chunk.Kind),
			Batch:    chunk.Batch,
			Dur:      elapsed,
			Note:     res.Error,
		})
	}
	return res
}

func (s *Stage) scrapeWithRetry(
	ctx context.Context,
	chunk market.Chunk,
	logger *zap.Logger,
) ([]json.RawMessage, string, int, error) {
	for attempt := 1; ; attempt++ {
		items, datasetID, err := s.scrape(ctx, chunk)
		if err == nil {
			return items, datasetID, attempt, nil
		}
		if chunk.Kind == market.StageReviews && s.deps.Gate.Trip(err) {
			logger.Warn("review stage disabled mid-run", zap.Error(err))
		}
		if s.deps.Retry == nil || !s.deps.Retry.ShouldRetry(err, attempt) {
			return nil, "", attempt, err
		}
		wait := s.deps.Retry.Backoff(attempt)
		logger.Info("retrying chunk", zap.Int("attempt", attempt), zap.Duration("backoff", wait), zap.Error(err))
		if sleepErr := sleep(ctx, wait); sleepErr != nil {
			return nil, "", attempt, err
		}
	}
}

func (s *Stage) scrape(ctx context.Context, chunk market.Chunk) ([]json.RawMessage, string, error) {
	actorID := s.cfg.DetailActor
	if chunk.Kind == market.StageReviews {
		if s.deps.Gate.Disabled() {
			return nil, "", fmt.Errorf("%w: %s", ErrReviewsDisabled, s.deps.Gate.Reason())
		}
		actorID = s.cfg.ReviewsActor
	}
	run, err := s.deps.Actors.Start(ctx, actorID, ActorInput(chunk.Kind, chunk.URLs, s.cfg.MaxReviews))
	if err != nil {
		return nil, "", fmt.Errorf("start actor: %w", err)
	}
	items, err := s.deps.Actors.FetchDataset(ctx, run.DatasetID)
	if err != nil {
		return nil, run.DatasetID, fmt.Errorf("fetch dataset %s: %w", run.DatasetID, err)
	}
	return items, run.DatasetID, nil
}

// Persistence outlives cancellation so an interrupted run still leaves a
// record of every chunk it touched.
func (s *Stage) persistItems(ctx context.Context, chunk market.Chunk, items []json.RawMessage) (string, error) {
	if items == nil {
		items = []json.RawMessage{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode chunk: %w", err)
	}
	path := s.cfg.Layout.Chunk(s.cfg.RunID, chunk.Category, chunk.Kind, chunk.Batch)
	if _, err := s.deps.Store.PutObject(context.WithoutCancel(ctx), path, "application/json", data); err != nil {
		return "", fmt.Errorf("persist chunk: %w", err)
	}
	return path, nil
}

func (s *Stage) persistError(ctx context.Context, chunk market.Chunk, cause error, logger *zap.Logger) string {
	path := s.cfg.Layout.ChunkError(s.cfg.RunID, chunk.Category, chunk.Kind, chunk.Batch)
	if _, err := s.deps.Store.PutObject(context.WithoutCancel(ctx), path, "text/plain", []byte(cause.Error())); err != nil {
		logger.Error("failed to persist chunk error", zap.String("path", path), zap.Error(err))
		return ""
	}
	return path
}

func (s *Stage) publish(ctx context.Context, res market.RunResult, logger *zap.Logger) {
	if s.deps.Publisher == nil || s.cfg.Topic == "" {
		return
	}
	notice := ChunkNotice{
		RunID:     s.cfg.RunID,
		Category:  res.Category,
		Kind:      res.Kind,
		Batch:     res.Batch,
		Count:     res.Count,
		DatasetID: res.DatasetID,
		Path:      res.Path,
		Error:     res.Error,
	}
	if _, err := s.deps.Publisher.Publish(context.WithoutCancel(ctx), s.cfg.Topic, notice); err != nil {
		logger.Warn("chunk notification failed", zap.Error(err))
	}
}

func (s *Stage) emit(evt progress.Event) {
	if s.deps.Progress == nil {
		return
	}
	evt.RunID = s.runKey
	evt.TS = s.now()
	s.deps.Progress.Emit(evt)
}

func (s *Stage) now() time.Time {
	if s.deps.Clock != nil {
		return s.deps.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
