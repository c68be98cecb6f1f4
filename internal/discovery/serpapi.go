// Package discovery resolves category search queries into candidate listing
// URLs through a paginated search API.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gumgenie-scout/internal/market"
	"github.com/JakeFAU/gumgenie-scout/internal/metrics"
	"github.com/JakeFAU/gumgenie-scout/internal/policy/ratelimit"
)

// ErrMissingAPIKey is returned before any request when no search API key is set.
var ErrMissingAPIKey = errors.New("search api key is required")

// Config controls the SerpAPI source.
type Config struct {
	BaseURL      string
	APIKey       string
	Engine       string
	TargetDomain string
	PageSize     int
	MaxPages     int
	Timeout      time.Duration
}

// SerpAPI implements market.Discoverer against serpapi.com.
type SerpAPI struct {
	cfg     Config
	http    *http.Client
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

var _ market.Discoverer = (*SerpAPI)(nil)

// New builds a SerpAPI source. The limiter may be nil.
func New(cfg Config, limiter *ratelimit.Limiter, logger *zap.Logger) *SerpAPI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://serpapi.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Engine == "" {
		cfg.Engine = "google"
	}
	if cfg.TargetDomain == "" {
		cfg.TargetDomain = "gumroad.com"
	}
	cfg.TargetDomain = strings.ToLower(strings.TrimPrefix(cfg.TargetDomain, "www."))
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SerpAPI{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  logger,
	}
}

type searchResponse struct {
	Error          string `json:"error"`
	OrganicResults []struct {
		Link string `json:"link"`
	} `json:"organic_results"`
}

// Discover pages through search results for query until maxResults unique
// in-domain links are collected, the page cap is hit, or a page comes back
// empty. Page failures are recorded and the next page is tried.
func (s *SerpAPI) Discover(ctx context.Context, query string, maxResults int) (market.DiscoveryResult, error) {
	if strings.TrimSpace(s.cfg.APIKey) == "" {
		return market.DiscoveryResult{}, ErrMissingAPIKey
	}
	if maxResults <= 0 {
		return market.DiscoveryResult{}, nil
	}

	var res market.DiscoveryResult
	seen := make(map[string]struct{}, maxResults)
	for page := 0; page < s.cfg.MaxPages && len(res.URLs) < maxResults; page++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		links, err := s.fetchPage(ctx, query, page*s.cfg.PageSize)
		res.PagesFetched++
		metrics.ObserveDiscoveryPage(err == nil)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			s.logger.Warn("search page failed",
				zap.String("query", query),
				zap.Int("page", page+1),
				zap.Error(err),
			)
			res.PageErrors = append(res.PageErrors, fmt.Sprintf("page %d: %v", page+1, err))
			continue
		}
		if len(links) == 0 {
			break
		}
		for _, link := range links {
			if !s.inDomain(link) {
				continue
			}
			if _, dup := seen[link]; dup {
				continue
			}
			seen[link] = struct{}{}
			res.URLs = append(res.URLs, link)
			if len(res.URLs) == maxResults {
				break
			}
		}
	}

	s.logger.Debug("discovery finished",
		zap.String("query", query),
		zap.Int("urls", len(res.URLs)),
		zap.Int("pages", res.PagesFetched),
	)
	return res, nil
}

func (s *SerpAPI) fetchPage(ctx context.Context, query string, offset int) ([]string, error) {
	params := url.Values{}
	params.Set("engine", s.cfg.Engine)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(s.cfg.PageSize))
	params.Set("start", strconv.Itoa(offset))
	params.Set("api_key", s.cfg.APIKey)
	endpoint := s.cfg.BaseURL + "/search.json?" + params.Encode()

	if err := s.limiter.Wait(ctx, endpoint); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := s.http.Do(req)
	metrics.ObserveRemoteRequest("serpapi", "search", time.Since(start))
	if err != nil {
		// The transport error embeds the URL, which carries the key.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			s.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var parsed searchResponse
	decodeErr := json.Unmarshal(body, &parsed)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decodeErr == nil && parsed.Error != "" {
			return nil, fmt.Errorf("search api status %d: %s", resp.StatusCode, parsed.Error)
		}
		return nil, fmt.Errorf("search api status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode search response: %w", decodeErr)
	}
	if parsed.Error != "" {
		// SerpAPI reports an exhausted result set as an error string.
		if strings.Contains(strings.ToLower(parsed.Error), "hasn't returned any results") {
			return nil, nil
		}
		return nil, fmt.Errorf("search api: %s", parsed.Error)
	}

	links := make([]string, 0, len(parsed.OrganicResults))
	for _, r := range parsed.OrganicResults {
		if link := strings.TrimSpace(r.Link); link != "" {
			links = append(links, link)
		}
	}
	return links, nil
}

// inDomain reports whether link points at the target domain or one of its
// subdomains (seller storefronts live on subdomains).
func (s *SerpAPI) inDomain(link string) bool {
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == s.cfg.TargetDomain || strings.HasSuffix(host, "."+s.cfg.TargetDomain)
}
