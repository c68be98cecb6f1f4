package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/gumgenie-scout/internal/market"
	"github.com/JakeFAU/gumgenie-scout/internal/pipeline"
	"github.com/JakeFAU/gumgenie-scout/internal/progress"
	"github.com/JakeFAU/gumgenie-scout/internal/progress/sinks"
	"github.com/JakeFAU/gumgenie-scout/internal/storage/memory"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, opts pipeline.RunOptions) (market.RunSummary, error) {
	args := m.Called(ctx, opts)
	return args.Get(0).(market.RunSummary), args.Error(1)
}

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return "", errors.New("no ids left")
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type fakeProgress map[string]sinks.RunProgress

func (f fakeProgress) Snapshot(runID string) (sinks.RunProgress, bool) {
	p, ok := f[runID]
	return p, ok
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type testServer struct {
	*Server
	runner *mockRunner
	runs   *memory.RunStore
	store  *memory.BlobStore
	layout market.Layout
}

func newTestServer(t *testing.T, ids ...string) *testServer {
	t.Helper()
	ts := &testServer{
		runner: &mockRunner{},
		runs:   memory.NewRunStore(),
		store:  memory.NewBlobStore(),
		layout: market.Layout{Prefix: "runs"},
	}
	live := fakeProgress{"run-1": {Stage: progress.StageRunDone, ChunksDone: 3, Items: 25}}
	ts.Server = NewServer(context.Background(), Config{
		DefaultCategories: []string{"NOTION_TEMPLATES"},
		DefaultMaxResults: 25,
		RequestTimeout:    5 * time.Second,
	}, Deps{
		Runner:   ts.runner,
		Runs:     ts.runs,
		Store:    ts.store,
		Layout:   ts.layout,
		IDs:      &fakeIDGen{ids: ids},
		Clock:    fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)},
		Progress: live,
		Logger:   zap.NewNop(),
	})
	return ts
}

func (ts *testServer) do(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSubmitRunSucceeds(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, "run-1")
	ts.runner.On("Run", mock.Anything, mock.MatchedBy(func(o pipeline.RunOptions) bool {
		return o.RunID == "run-1" &&
			len(o.Categories) == 1 && o.Categories[0] == market.AIPrompts &&
			o.MaxResults == 10 && o.URLs == nil
	})).Return(market.RunSummary{RunID: "run-1"}, nil).Once()

	rec := ts.do(http.MethodPost, "/v1/runs", []byte(`{"categories":["ai_prompts"],"max_results":10}`))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"run_id":"run-1","status":"queued"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	require.NoError(t, ts.Drain(context.Background()))
	ts.runner.AssertExpectations(t)

	rec = ts.do(http.MethodGet, "/v1/runs/run-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Run      market.RunRecord   `json:"run"`
		Progress *sinks.RunProgress `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, market.RunSucceeded, body.Run.Status)
	assert.Equal(t, []market.Category{market.AIPrompts}, body.Run.Categories)
	require.NotNil(t, body.Progress)
	assert.Equal(t, 25, body.Progress.Items)
	require.NotNil(t, body.Run.Summary)
	assert.Equal(t, "run-1", body.Run.Summary.RunID)
}

func TestSubmitRunDefaultsAndFailure(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, "run-2")
	ts.runner.On("Run", mock.Anything, mock.MatchedBy(func(o pipeline.RunOptions) bool {
		return len(o.Categories) == 1 && o.Categories[0] == market.NotionTemplates && o.MaxResults == 25
	})).Return(market.RunSummary{RunID: "run-2"}, errors.New("apify.token: missing credential")).Once()

	rec := ts.do(http.MethodPost, "/v1/runs", []byte(`{}`))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, ts.Drain(context.Background()))

	run, err := ts.runs.GetRun(context.Background(), "run-2")
	require.NoError(t, err)
	assert.Equal(t, market.RunFailed, run.Status)
	assert.Contains(t, run.Error, "missing credential")
	assert.NotNil(t, run.Finished)
}

func TestSubmitRunWithURLs(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, "run-3")
	ts.runner.On("Run", mock.Anything, mock.MatchedBy(func(o pipeline.RunOptions) bool {
		return o.Categories == nil && len(o.URLs[market.CanvaTemplates]) == 1
	})).Return(market.RunSummary{}, nil).Once()

	rec := ts.do(http.MethodPost, "/v1/runs",
		[]byte(`{"urls":{"canva_templates":["https://x.gumroad.com/l/canva"]}}`))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.NoError(t, ts.Drain(context.Background()))
	ts.runner.AssertExpectations(t)

	run, err := ts.runs.GetRun(context.Background(), "run-3")
	require.NoError(t, err)
	assert.Equal(t, []market.Category{market.CanvaTemplates}, run.Categories)
}

func TestSubmitRunRejectsBadRequests(t *testing.T) {
	t.Parallel()

	for name, body := range map[string]string{
		"invalid json":     `{`,
		"unknown field":    `{"categoriez":["AI_PROMPTS"]}`,
		"unknown category": `{"categories":["STICKERS"]}`,
		"empty category":   `{"categories":[""]}`,
		"too many results": `{"max_results":1000}`,
		"negative results": `{"max_results":-1}`,
		"bad url":          `{"urls":{"AI_PROMPTS":["not a url"]}}`,
		"bad url category": `{"urls":{"STICKERS":["https://x.gumroad.com/l/a"]}}`,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ts := newTestServer(t, "unused")
			rec := ts.do(http.MethodPost, "/v1/runs", []byte(body))
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			ts.runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
		})
	}
}

func TestSubmitRunWhileDraining(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, "run-x")
	require.NoError(t, ts.Drain(context.Background()))

	rec := ts.do(http.MethodPost, "/v1/runs", []byte(`{}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = ts.do(http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDrainWaitsForEveryAcceptedRun(t *testing.T) {
	t.Parallel()

	ids := make([]string, 64)
	for i := range ids {
		ids[i] = fmt.Sprintf("run-%02d", i)
	}
	ts := newTestServer(t, ids...)
	var ran atomic.Int64
	ts.runner.On("Run", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { ran.Add(1) }).
		Return(market.RunSummary{}, nil).Maybe()

	var accepted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 8; j++ {
				if ts.do(http.MethodPost, "/v1/runs", []byte(`{}`)).Code == http.StatusAccepted {
					accepted.Add(1)
				}
			}
		}()
	}
	time.Sleep(time.Millisecond)
	require.NoError(t, ts.Drain(context.Background()))
	finished := ran.Load()
	wg.Wait()

	assert.Equal(t, accepted.Load(), finished, "every accepted run finished before Drain returned")
	assert.Equal(t, finished, ran.Load())
}

func TestGetRunFallsBackToSummary(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	started := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	summary := market.RunSummary{
		RunID:      "cli-run",
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Discovered: map[market.Category]int{market.DigitalPlanners: 7},
	}
	data, err := json.Marshal(summary)
	require.NoError(t, err)
	_, err = ts.store.PutObject(context.Background(), ts.layout.Summary("cli-run"), "application/json", data)
	require.NoError(t, err)

	rec := ts.do(http.MethodGet, "/v1/runs/cli-run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Run market.RunRecord `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, market.RunSucceeded, body.Run.Status)
	assert.Equal(t, []market.Category{market.DigitalPlanners}, body.Run.Categories)

	rec = ts.do(http.MethodGet, "/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetInsights(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	_, err := ts.store.PutObject(context.Background(), ts.layout.Insights("run-9"), "application/json",
		[]byte(`{"run_id":"run-9","categories":[]}`))
	require.NoError(t, err)

	rec := ts.do(http.MethodGet, "/v1/runs/run-9/insights", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"run_id":"run-9","categories":[]}`, rec.Body.String())

	rec = ts.do(http.MethodGet, "/v1/runs/nope/insights", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, ts.runs.CreateRun(ctx, market.RunRecord{ID: id, Submitted: base.Add(time.Duration(i) * time.Hour)}))
	}
	require.NoError(t, ts.runs.UpdateRunStatus(ctx, "a", market.RunFailed, "boom", nil))

	rec := ts.do(http.MethodGet, "/v1/runs?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []market.RunRecord `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 2)
	assert.Equal(t, "c", body.Runs[0].ID)

	rec = ts.do(http.MethodGet, "/v1/runs?status=error", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "a", body.Runs[0].ID)

	for _, q := range []string{"limit=0", "limit=x", "offset=-1", "status=paused"} {
		rec = ts.do(http.MethodGet, "/v1/runs?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/readyz", nil).Code)

	rec := ts.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	var seen string
	h := requestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}
