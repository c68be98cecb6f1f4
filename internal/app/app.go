// Package app wires configuration into the long-lived scout services.
package app

import (
	"context"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/gumgenie-scout/internal/actor"
	"github.com/JakeFAU/gumgenie-scout/internal/clock/system"
	"github.com/JakeFAU/gumgenie-scout/internal/config"
	"github.com/JakeFAU/gumgenie-scout/internal/discovery"
	"github.com/JakeFAU/gumgenie-scout/internal/hash/sha256"
	"github.com/JakeFAU/gumgenie-scout/internal/id/uuid"
	"github.com/JakeFAU/gumgenie-scout/internal/market"
	"github.com/JakeFAU/gumgenie-scout/internal/metrics"
	"github.com/JakeFAU/gumgenie-scout/internal/pipeline"
	"github.com/JakeFAU/gumgenie-scout/internal/policy/ratelimit"
	"github.com/JakeFAU/gumgenie-scout/internal/progress"
	progresssinks "github.com/JakeFAU/gumgenie-scout/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/gumgenie-scout/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/gumgenie-scout/internal/publisher/pubsub"
	"github.com/JakeFAU/gumgenie-scout/internal/scrape"
	gcsstorage "github.com/JakeFAU/gumgenie-scout/internal/storage/gcs"
	localstorage "github.com/JakeFAU/gumgenie-scout/internal/storage/local"
	memorystorage "github.com/JakeFAU/gumgenie-scout/internal/storage/memory"
)

// App contains the application's dependencies.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Store    market.BlobStore
	Runs     market.RunStore
	Pipeline *pipeline.Pipeline
	IDs      market.IDGenerator
	Clock    market.Clock
	Layout   market.Layout
	// Status is the live per-run progress view; nil when progress is disabled.
	Status *progresssinks.StatusSink

	progressHub     *progress.Hub
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
}

// Build creates the application's dependencies. Credentials are not checked
// here; commands that need them fail when they run.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{
		Config: cfg,
		Logger: logger,
		Runs:   memorystorage.NewRunStore(),
		IDs:    uuid.New(),
		Clock:  system.New(),
		Layout: market.Layout{Prefix: cfg.Storage.Prefix},
	}
	app.Logger.Info("building application dependencies",
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Int("concurrency", cfg.Pipeline.Concurrency),
		zap.Int("chunk_size", cfg.Pipeline.ChunkSize),
	)

	var err error
	if app.Store, err = setupStorage(ctx, app); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	emitter := setupProgress(ctx, app)

	if app.Pipeline, err = setupPipeline(app, publisher, emitter); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	return app, nil
}

// Close flushes progress and releases cloud clients.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	if err := a.Logger.Sync(); err != nil {
		a.Logger.Debug("logger sync failed", zap.Error(err))
	}
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.Logger.Warn("progress hub close failed", zap.Error(err))
		}
		a.progressHub = nil
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
		a.pubsubPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.Logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.Logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storage = nil
	}
}

func setupStorage(ctx context.Context, app *App) (market.BlobStore, error) {
	cfg := app.Config.Storage
	switch cfg.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.Logger.Info("using GCS storage backend", zap.String("bucket", cfg.Bucket))
		return store, nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.Logger.Info("using local storage backend", zap.String("path", cfg.Local.BaseDir))
		return store, nil
	default:
		app.Logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (market.Publisher, error) {
	cfg := app.Config.PubSub
	if cfg.TopicName == "" || cfg.ProjectID == "" {
		app.Logger.Debug("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubPublisher = client.Publisher(cfg.TopicName)
	app.Logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.TopicName),
	)
	return gcppublisher.New(app.pubsubPublisher), nil
}

func setupProgress(ctx context.Context, app *App) progress.Emitter {
	cfg := app.Config.Progress
	if !cfg.Enabled {
		app.Logger.Info("progress tracking disabled")
		return nil
	}
	app.Status = progresssinks.NewStatusSink(0)
	sinkList := []progress.Sink{app.Status}
	if cfg.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.Logger.Named("progress_log")))
	}
	if cfg.PrometheusEnabled {
		sink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
		if err != nil {
			app.Logger.Warn("prometheus progress sink unavailable", zap.Error(err))
		} else {
			sinkList = append(sinkList, sink)
		}
	}
	hubCfg := progress.Config{
		BufferSize:     cfg.BufferSize,
		MaxBatchEvents: cfg.MaxBatchEvents,
		MaxBatchWait:   time.Duration(cfg.MaxBatchWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(cfg.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         app.Logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.Logger.Debug("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return app.progressHub
}

func setupPipeline(app *App, publisher market.Publisher, emitter progress.Emitter) (*pipeline.Pipeline, error) {
	cfg := app.Config
	queries := make(map[market.Category]string, len(cfg.Pipeline.Queries))
	for label, q := range cfg.Pipeline.Queries {
		c, err := market.ParseCategory(label)
		if err != nil {
			return nil, fmt.Errorf("pipeline.queries: %w", err)
		}
		queries[c] = q
	}

	actors := actor.New(actor.Config{
		BaseURL: cfg.Apify.BaseURL,
		Token:   cfg.Apify.Token,
		Wait:    time.Duration(cfg.Apify.WaitSeconds) * time.Second,
		MaxWait: time.Duration(cfg.Apify.MaxWaitSeconds) * time.Second,
		Timeout: cfg.RequestTimeout(),
	}, ratelimit.New(ratelimit.Config{RPS: cfg.Apify.RequestsPerSec}), app.Logger.Named("actor"))

	search := discovery.New(discovery.Config{
		BaseURL:      cfg.SerpAPI.BaseURL,
		APIKey:       cfg.SerpAPI.APIKey,
		Engine:       cfg.SerpAPI.Engine,
		TargetDomain: cfg.SerpAPI.TargetDomain,
		PageSize:     cfg.SerpAPI.PageSize,
		MaxPages:     cfg.SerpAPI.MaxPages,
		Timeout:      cfg.RequestTimeout(),
	}, ratelimit.New(ratelimit.Config{RPS: cfg.SerpAPI.RequestsPerSec}), app.Logger.Named("discovery"))

	retry := scrape.NewExponentialRetryPolicy(
		cfg.Pipeline.MaxAttempts,
		time.Duration(cfg.HTTP.BackoffInitialMs)*time.Millisecond,
		time.Duration(cfg.HTTP.BackoffMaxMs)*time.Millisecond,
		cfg.Pipeline.EntitlementSignatures,
	)

	return pipeline.New(pipeline.Config{
		Layout:                app.Layout,
		DetailActor:           cfg.Apify.DetailActor,
		ReviewsActor:          cfg.Apify.ReviewsActor,
		MaxReviews:            cfg.Apify.MaxReviews,
		MaxResults:            cfg.Pipeline.MaxResults,
		ChunkSize:             cfg.Pipeline.ChunkSize,
		Concurrency:           cfg.Pipeline.Concurrency,
		DiscoveryConcurrency:  cfg.Pipeline.DiscoveryConcurrency,
		ReviewsEnabled:        cfg.Pipeline.ReviewsEnabled,
		MaxReviewURLs:         cfg.Pipeline.MaxReviewURLs,
		EntitlementSignatures: cfg.Pipeline.EntitlementSignatures,
		SignalExamples:        cfg.Pipeline.SignalExamples,
		Topic:                 cfg.PubSub.TopicName,
		Queries:               queries,
	}, pipeline.Deps{
		Actors:      actors,
		Discoverer:  search,
		Store:       app.Store,
		Publisher:   publisher,
		Retry:       retry,
		Hasher:      sha256.New(),
		Clock:       app.Clock,
		IDs:         app.IDs,
		Progress:    emitter,
		Credentials: cfg,
		Logger:      app.Logger.Named("pipeline"),
	})
}
