// Package search wraps the web-search and document-fetch collaborators. Both
// are rate-limited shared resources; per-call failures are logged and degrade
// to zero results, never aborts.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/claimlens/claimlens/internal/model"
	"github.com/claimlens/claimlens/internal/worker"
)

// Result is one search hit
type Result struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"content"`
}

// Searcher is the narrow interface to the web-search collaborator
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// HTTPSearcher queries a SearxNG-compatible JSON endpoint
type HTTPSearcher struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *worker.Limiter
	userAgent  string
}

// NewHTTPSearcher creates a searcher against the configured endpoint
func NewHTTPSearcher(cfg model.SearchConfig, httpCfg model.HTTPConfig, limiter *worker.Limiter) (*HTTPSearcher, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("search base URL is required")
	}
	return &HTTPSearcher{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: httpCfg.Timeout,
		},
		limiter:   limiter,
		userAgent: httpCfg.UserAgent,
	}, nil
}

type searchResponse struct {
	Results []Result `json:"results"`
}

// Search runs one query and returns up to maxResults hits
func (s *HTTPSearcher) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if err := s.limiter.Wait(ctx, s.baseURL); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	endpoint := fmt.Sprintf("%s/search?q=%s&format=json&count=%s",
		s.baseURL, url.QueryEscape(query), strconv.Itoa(maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4_000_000))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := parsed.Results
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// retrySleep is the sleep function used between fetch retries (injectable for tests)
var retrySleep = func(d time.Duration) { time.Sleep(d) }
