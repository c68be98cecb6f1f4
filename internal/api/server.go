package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/gumgenie-scout/internal/market"
	"github.com/JakeFAU/gumgenie-scout/internal/metrics"
	"github.com/JakeFAU/gumgenie-scout/internal/pipeline"
	"github.com/JakeFAU/gumgenie-scout/internal/progress/sinks"
)

// Runner executes one pipeline run. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, opts pipeline.RunOptions) (market.RunSummary, error)
}

// ProgressLookup reports live progress of a run. *sinks.StatusSink
// satisfies it.
type ProgressLookup interface {
	Snapshot(runID string) (sinks.RunProgress, bool)
}

// Config holds request defaults.
type Config struct {
	DefaultCategories []string
	DefaultMaxResults int
	RequestTimeout    time.Duration
}

// Deps are the server collaborators.
type Deps struct {
	Runner Runner
	Runs   market.RunStore
	Store  market.BlobStore
	Layout market.Layout
	IDs    market.IDGenerator
	Clock  market.Clock
	// Progress is optional.
	Progress ProgressLookup
	Logger   *zap.Logger
}

// Server wires HTTP handlers to the pipeline and stores.
type Server struct {
	router   chi.Router
	deps     Deps
	cfg      Config
	logger   *zap.Logger
	validate *validator.Validate

	baseCtx context.Context
	// admitMu orders inflight.Add against Drain's Wait.
	admitMu  sync.Mutex
	inflight sync.WaitGroup
	draining atomic.Bool
}

// NewServer constructs a Server with middleware and routes. Runs started
// through the API inherit ctx, so canceling it stops them.
func NewServer(ctx context.Context, cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		deps:     deps,
		cfg:      cfg,
		logger:   deps.Logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		baseCtx:  ctx,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1/runs", func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		r.Post("/", s.submitRun)
		r.Get("/", s.listRuns)
		r.Route("/{run_id}", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Get("/insights", s.getInsights)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Drain stops accepting runs and waits for in-flight ones until ctx ends.
func (s *Server) Drain(ctx context.Context) error {
	s.admitMu.Lock()
	s.draining.Store(true)
	s.admitMu.Unlock()
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// admit reserves an in-flight slot for a new run. It fails once draining has
// begun, so Drain never waits on a counter that can still grow.
func (s *Server) admit() bool {
	s.admitMu.Lock()
	defer s.admitMu.Unlock()
	if s.draining.Load() {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func isNotFound(err error) bool {
	return errors.Is(err, market.ErrNotFound)
}
