package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/gumgenie-scout/internal/progress"
)

// PrometheusSink exports run progress via Prometheus. It owns its collectors
// and registers them on the supplied registry.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	discovered    *prometheus.CounterVec
	chunks        *prometheus.CounterVec
	chunkDuration *prometheus.HistogramVec
	preflights    *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg (the default
// registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scout_runs_started_total",
			Help: "Pipeline runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_runs_completed_total",
			Help: "Pipeline runs completed, partitioned by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scout_runs_active",
			Help: "Pipeline runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scout_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{30, 60, 120, 300, 600, 1200, 2400, 3600},
		}, []string{"result"}),
		discovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_discovered_urls_total",
			Help: "Listing URLs discovered, partitioned by category.",
		}, []string{"category"}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_progress_chunks_total",
			Help: "Chunk completions, partitioned by category, kind and result.",
		}, []string{"category", "kind", "result"}),
		chunkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scout_chunk_duration_seconds",
			Help:    "Chunk wall time, partitioned by kind.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		}, []string{"kind"}),
		preflights: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scout_preflight_decisions_total",
			Help: "Review preflight outcomes.",
		}, []string{"decision"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsActive,
		s.runDuration,
		s.discovered,
		s.chunks,
		s.chunkDuration,
		s.preflights,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsActive.Inc()
		}
	case progress.StageRunDone:
		s.finishRun(evt, "success")
	case progress.StageRunError:
		s.finishRun(evt, "error")
	case progress.StageDiscoveryDone:
		s.discovered.WithLabelValues(evt.Category).Add(float64(evt.Items))
	case progress.StageChunkDone:
		s.observeChunk(evt, "success")
	case progress.StageChunkError:
		s.observeChunk(evt, "error")
	case progress.StagePreflight:
		decision := evt.Note
		if decision == "" {
			decision = "unknown"
		}
		s.preflights.WithLabelValues(decision).Inc()
	}
}

func (s *PrometheusSink) finishRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsActive.Dec()
	}
}

func (s *PrometheusSink) observeChunk(evt progress.Event, result string) {
	s.chunks.WithLabelValues(evt.Category, evt.Kind, result).Inc()
	if evt.Dur > 0 {
		s.chunkDuration.WithLabelValues(evt.Kind).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
