package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/gumgenie-scout/internal/progress"
)

const defaultMaxTrackedRuns = 256

// RunProgress is the live view of one run, built from its progress events.
type RunProgress struct {
	Stage         progress.Stage `json:"stage"`
	Discovered    int            `json:"discovered"`
	ChunksStarted int            `json:"chunks_started"`
	ChunksDone    int            `json:"chunks_done"`
	ChunksFailed  int            `json:"chunks_failed"`
	Items         int            `json:"items"`
	Preflight     string         `json:"preflight,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// StatusSink keeps a RunProgress per run so status endpoints can report a
// run while it is still executing. Only the most recently updated runs are
// retained.
type StatusSink struct {
	mu      sync.RWMutex
	runs    map[[16]byte]*RunProgress
	maxRuns int
}

// NewStatusSink returns a sink retaining at most maxRuns runs (256 when <= 0).
func NewStatusSink(maxRuns int) *StatusSink {
	if maxRuns <= 0 {
		maxRuns = defaultMaxTrackedRuns
	}
	return &StatusSink{runs: make(map[[16]byte]*RunProgress), maxRuns: maxRuns}
}

// Consume folds the batch into the per-run views.
func (s *StatusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		rp, ok := s.runs[evt.RunID]
		if !ok {
			rp = &RunProgress{}
			s.runs[evt.RunID] = rp
		}
		switch evt.Stage {
		case progress.StageDiscoveryDone:
			rp.Discovered += evt.Items
		case progress.StageChunkStart:
			rp.ChunksStarted++
		case progress.StageChunkDone:
			rp.ChunksDone++
			rp.Items += evt.Items
		case progress.StageChunkError:
			rp.ChunksFailed++
		case progress.StagePreflight:
			rp.Preflight = evt.Note
		}
		rp.Stage = evt.Stage
		if evt.TS.After(rp.UpdatedAt) {
			rp.UpdatedAt = evt.TS
		}
	}
	s.evict()
	return nil
}

// Close implements progress.Sink.
func (s *StatusSink) Close(context.Context) error {
	return nil
}

// Snapshot returns the current view of runID.
func (s *StatusSink) Snapshot(runID string) (RunProgress, bool) {
	key := progress.ParseRunID(runID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	rp, ok := s.runs[key]
	if !ok {
		return RunProgress{}, false
	}
	return *rp, true
}

// evict drops the least recently updated runs beyond maxRuns. Callers hold mu.
func (s *StatusSink) evict() {
	for len(s.runs) > s.maxRuns {
		var oldest [16]byte
		var oldestAt time.Time
		first := true
		for id, rp := range s.runs {
			if first || rp.UpdatedAt.Before(oldestAt) {
				oldest, oldestAt, first = id, rp.UpdatedAt, false
			}
		}
		delete(s.runs, oldest)
	}
}
