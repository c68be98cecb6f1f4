// Package actor implements a client for the remote scraping-actor platform
// (Apify): start a run, wait for it to finish, then read its dataset.
package actor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gumgenie-scout/internal/market"
	"github.com/JakeFAU/gumgenie-scout/internal/metrics"
	"github.com/JakeFAU/gumgenie-scout/internal/policy/ratelimit"
)

var (
	// ErrMissingToken is returned before any request when no API token is configured.
	ErrMissingToken = errors.New("actor platform token is required")
	// ErrMalformedResponse is returned when a response lacks the run or dataset handle.
	ErrMalformedResponse = errors.New("malformed actor response")
	// ErrRunTimeout is returned when a run does not finish within the bounded wait.
	ErrRunTimeout = errors.New("actor run did not finish in time")
)

// Run statuses reported by the platform.
const (
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusAborted   = "ABORTED"
	StatusTimedOut  = "TIMED-OUT"
)

const maxErrorBody = 2048

// APIError is a non-success HTTP response from the platform.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "actor api status %d", e.StatusCode)
	if e.Type != "" {
		fmt.Fprintf(&b, " (%s)", e.Type)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	return b.String()
}

// Config controls the client.
type Config struct {
	BaseURL      string
	Token        string
	Wait         time.Duration
	MaxWait      time.Duration
	PollInterval time.Duration
	Timeout      time.Duration
}

// Client implements market.ActorRunner over the platform's REST API.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

var _ market.ActorRunner = (*Client)(nil)

// New builds a Client. The limiter may be nil.
func New(cfg Config, limiter *ratelimit.Limiter, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.apify.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 5 * time.Minute
	}
	if cfg.Wait < 0 || cfg.Wait > cfg.MaxWait {
		cfg.Wait = cfg.MaxWait
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Wait + time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  logger,
	}
}

type runEnvelope struct {
	Data struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		DefaultDatasetID string `json:"defaultDatasetId"`
	} `json:"data"`
}

type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Start runs actorID with input and blocks until the run reaches a terminal
// status or the configured maximum wait elapses.
func (c *Client) Start(ctx context.Context, actorID string, input any) (market.ActorRun, error) {
	if strings.TrimSpace(c.cfg.Token) == "" {
		return market.ActorRun{}, ErrMissingToken
	}
	if strings.TrimSpace(actorID) == "" {
		return market.ActorRun{}, fmt.Errorf("actor id is required")
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return market.ActorRun{}, fmt.Errorf("marshal actor input: %w", err)
	}

	deadline := time.Now().Add(c.cfg.MaxWait)
	endpoint := fmt.Sprintf("%s/v2/acts/%s/runs?waitForFinish=%d",
		c.cfg.BaseURL, url.PathEscape(actorPath(actorID)), waitSeconds(c.cfg.Wait, deadline))

	start := time.Now()
	run, err := c.doRun(ctx, http.MethodPost, endpoint, payload)
	metrics.ObserveRemoteRequest("apify", "start", time.Since(start))
	if err != nil {
		return market.ActorRun{}, err
	}
	c.logger.Debug("actor run started",
		zap.String("actor", actorID),
		zap.String("actor_run", run.ID),
		zap.String("status", run.Status),
	)

	for !isTerminal(run.Status) {
		if !time.Now().Before(deadline) {
			return market.ActorRun{}, fmt.Errorf("%w: run %s still %s", ErrRunTimeout, run.ID, run.Status)
		}
		if err := sleep(ctx, c.cfg.PollInterval); err != nil {
			return market.ActorRun{}, fmt.Errorf("wait for run %s: %w", run.ID, err)
		}
		pollURL := fmt.Sprintf("%s/v2/actor-runs/%s?waitForFinish=%d",
			c.cfg.BaseURL, url.PathEscape(run.ID), waitSeconds(c.cfg.Wait, deadline))
		start = time.Now()
		run, err = c.doRun(ctx, http.MethodGet, pollURL, nil)
		metrics.ObserveRemoteRequest("apify", "poll", time.Since(start))
		if err != nil {
			return market.ActorRun{}, err
		}
	}

	if run.Status != StatusSucceeded {
		return market.ActorRun{}, fmt.Errorf("actor run %s finished with status %s", run.ID, run.Status)
	}
	if run.DatasetID == "" {
		return market.ActorRun{}, fmt.Errorf("%w: run %s has no dataset id", ErrMalformedResponse, run.ID)
	}
	return run, nil
}

// FetchDataset returns every item of a dataset as raw JSON.
func (c *Client) FetchDataset(ctx context.Context, datasetID string) ([]json.RawMessage, error) {
	if strings.TrimSpace(c.cfg.Token) == "" {
		return nil, ErrMissingToken
	}
	if strings.TrimSpace(datasetID) == "" {
		return nil, fmt.Errorf("%w: empty dataset id", ErrMalformedResponse)
	}
	endpoint := fmt.Sprintf("%s/v2/datasets/%s/items?clean=true&format=json",
		c.cfg.BaseURL, url.PathEscape(datasetID))

	start := time.Now()
	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	metrics.ObserveRemoteRequest("apify", "dataset", time.Since(start))
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%w: decode dataset %s: %v", ErrMalformedResponse, datasetID, err)
	}
	return items, nil
}

func (c *Client) doRun(ctx context.Context, method, endpoint string, payload []byte) (market.ActorRun, error) {
	body, err := c.do(ctx, method, endpoint, payload)
	if err != nil {
		return market.ActorRun{}, err
	}
	var env runEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return market.ActorRun{}, fmt.Errorf("%w: decode run: %v", ErrMalformedResponse, err)
	}
	if env.Data.ID == "" {
		return market.ActorRun{}, fmt.Errorf("%w: missing run id", ErrMalformedResponse)
	}
	return market.ActorRun{
		ID:        env.Data.ID,
		Status:    env.Data.Status,
		DatasetID: env.Data.DefaultDatasetID,
	}, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx, endpoint); err != nil {
		return nil, err
	}
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, redact(endpoint), err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, body)
	}
	return body, nil
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && (env.Error.Type != "" || env.Error.Message != "") {
		apiErr.Type = env.Error.Type
		apiErr.Message = env.Error.Message
		return apiErr
	}
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	apiErr.Message = text
	return apiErr
}

// actorPath converts "user/actor" into the "user~actor" form used in URLs.
func actorPath(actorID string) string {
	return strings.ReplaceAll(strings.TrimSpace(actorID), "/", "~")
}

func isTerminal(status string) bool {
	switch status {
	case StatusSucceeded, StatusFailed, StatusAborted, StatusTimedOut:
		return true
	default:
		return false
	}
}

func waitSeconds(wait time.Duration, deadline time.Time) int {
	remaining := time.Until(deadline)
	if wait > remaining {
		wait = remaining
	}
	if wait < 0 {
		return 0
	}
	return int(wait / time.Second)
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

func redact(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}
