package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/gumgenie-scout/internal/market"
	"github.com/JakeFAU/gumgenie-scout/internal/pipeline"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

type runRequest struct {
	Categories []string            `json:"categories" validate:"omitempty,max=4,dive,required"`
	MaxResults int                 `json:"max_results" validate:"gte=0,lte=500"`
	URLs       map[string][]string `json:"urls" validate:"omitempty,dive,keys,required,endkeys,max=500,dive,url"`
}

type runAccepted struct {
	RunID  string           `json:"run_id"`
	Status market.RunStatus `json:"status"`
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	var req runRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	opts, err := s.toRunOptions(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !s.admit() {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	started := false
	defer func() {
		if !started {
			s.inflight.Done()
		}
	}()

	runID, err := s.deps.IDs.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate run id")
		return
	}
	opts.RunID = runID
	record := market.RunRecord{
		ID:         runID,
		Status:     market.RunQueued,
		Categories: requestedCategories(opts),
		MaxResults: opts.MaxResults,
		Submitted:  s.deps.Clock.Now(),
	}
	if err := s.deps.Runs.CreateRun(r.Context(), record); err != nil {
		s.logger.Error("create run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create run")
		return
	}

	started = true
	go s.execute(opts)
	writeJSON(w, http.StatusAccepted, runAccepted{RunID: runID, Status: market.RunQueued})
}

// execute runs in the background; its context descends from the server's,
// not the request's.
func (s *Server) execute(opts pipeline.RunOptions) {
	defer s.inflight.Done()
	ctx := s.baseCtx
	logger := s.logger.With(zap.String("run_id", opts.RunID))

	if err := s.deps.Runs.UpdateRunStatus(ctx, opts.RunID, market.RunRunning, "", nil); err != nil {
		logger.Warn("mark run running failed", zap.Error(err))
	}
	summary, err := s.deps.Runner.Run(ctx, opts)

	status, errText := market.RunSucceeded, ""
	if err != nil {
		status, errText = market.RunFailed, err.Error()
		logger.Error("run failed", zap.Error(err))
	}
	if uerr := s.deps.Runs.UpdateRunStatus(context.WithoutCancel(ctx), opts.RunID, status, errText, &summary); uerr != nil {
		logger.Warn("record run outcome failed", zap.Error(uerr))
	}
}

func (s *Server) toRunOptions(req runRequest) (pipeline.RunOptions, error) {
	labels := req.Categories
	if len(labels) == 0 && req.URLs == nil {
		labels = s.cfg.DefaultCategories
	}
	cats, err := market.ParseCategories(labels)
	if err != nil {
		return pipeline.RunOptions{}, err
	}
	opts := pipeline.RunOptions{MaxResults: req.MaxResults}
	if opts.MaxResults == 0 {
		opts.MaxResults = s.cfg.DefaultMaxResults
	}
	if req.URLs != nil {
		opts.URLs = make(map[market.Category][]string, len(req.URLs))
		for label, urls := range req.URLs {
			c, err := market.ParseCategory(label)
			if err != nil {
				return pipeline.RunOptions{}, err
			}
			opts.URLs[c] = urls
		}
		if len(req.Categories) == 0 {
			// Only the supplied categories run.
			cats = nil
		}
	}
	opts.Categories = cats
	return opts, nil
}

func requestedCategories(opts pipeline.RunOptions) []market.Category {
	if len(opts.Categories) > 0 || opts.URLs == nil {
		return opts.Categories
	}
	var out []market.Category
	for _, c := range market.AllCategories() {
		if _, ok := opts.URLs[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.deps.Runs.GetRun(r.Context(), runID)
	if err == nil {
		resp := map[string]any{"run": run}
		if s.deps.Progress != nil {
			if p, ok := s.deps.Progress.Snapshot(runID); ok {
				resp["progress"] = p
			}
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if !isNotFound(err) {
		s.logger.Error("get run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	// Runs started from the CLI only exist as summary files.
	record, err := s.runFromSummary(r.Context(), runID)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("read run summary failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": record})
}

func (s *Server) runFromSummary(ctx context.Context, runID string) (market.RunRecord, error) {
	data, err := s.deps.Store.GetObject(ctx, s.deps.Layout.Summary(runID))
	if err != nil {
		return market.RunRecord{}, err
	}
	var summary market.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return market.RunRecord{}, fmt.Errorf("decode summary: %w", err)
	}
	record := market.RunRecord{
		ID:        runID,
		Status:    market.RunSucceeded,
		Submitted: summary.StartedAt,
		Started:   &summary.StartedAt,
		Finished:  &summary.FinishedAt,
		Summary:   &summary,
	}
	for _, c := range market.AllCategories() {
		if _, ok := summary.Discovered[c]; ok {
			record.Categories = append(record.Categories, c)
		}
	}
	return record, nil
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *market.RunStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, err := parseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		status = &parsed
	}
	runs, err := s.deps.Runs.ListRuns(r.Context(), status, limit, offset)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) getInsights(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	data, err := s.deps.Store.GetObject(r.Context(), s.deps.Layout.Insights(runID))
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "insights not found")
			return
		}
		s.logger.Error("read insights failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read insights")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("write insights failed", zap.Error(err))
	}
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (market.RunStatus, error) {
	switch market.RunStatus(strings.ToLower(input)) {
	case market.RunQueued:
		return market.RunQueued, nil
	case market.RunRunning:
		return market.RunRunning, nil
	case market.RunSucceeded, "success":
		return market.RunSucceeded, nil
	case market.RunFailed, "error":
		return market.RunFailed, nil
	default:
		return "", errors.New("invalid status")
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
