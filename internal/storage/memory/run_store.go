package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/gumgenie-scout/internal/market"
)

// RunStore provides an in-memory run registry for the HTTP API.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]market.RunRecord
	now  func() time.Time
}

var _ market.RunStore = (*RunStore)(nil)

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]market.RunRecord),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun stores a new run record.
func (s *RunStore) CreateRun(_ context.Context, run market.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	if run.Status == "" {
		run.Status = market.RunQueued
	}
	if run.Submitted.IsZero() {
		run.Submitted = s.now()
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRunStatus moves a run to status, stamping start and finish times.
func (s *RunStore) UpdateRunStatus(
	_ context.Context,
	runID string,
	status market.RunStatus,
	errText string,
	summary *market.RunSummary,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, market.ErrNotFound)
	}
	run.Status = status
	run.Error = errText
	if summary != nil {
		cp := *summary
		run.Summary = &cp
	}
	now := s.now()
	if status == market.RunRunning && run.Started == nil {
		run.Started = pointerTime(now)
	}
	if status.Terminal() {
		run.Finished = pointerTime(now)
	}
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (market.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return market.RunRecord{}, fmt.Errorf("run %s: %w", runID, market.ErrNotFound)
	}
	return run, nil
}

// ListRuns returns runs ordered by submission time, newest first.
func (s *RunStore) ListRuns(_ context.Context, status *market.RunStatus, limit, offset int) ([]market.RunRecord, error) {
	s.mu.RLock()
	out := make([]market.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Submitted.Equal(out[j].Submitted) {
			return out[i].Submitted.After(out[j].Submitted)
		}
		return out[i].ID < out[j].ID
	})
	if offset >= len(out) {
		return []market.RunRecord{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
