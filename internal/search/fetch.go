package search

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/claimlens/claimlens/internal/cache"
	"github.com/claimlens/claimlens/internal/model"
	"github.com/claimlens/claimlens/internal/util"
	"github.com/claimlens/claimlens/internal/worker"
)

const fetchRetries = 2

// archiveURL is the provider-agnostic fallback copy tried before a URL is
// declared unavailable
func archiveURL(rawURL string) string {
	return "https://web.archive.org/web/2id_/" + rawURL
}

// Fetcher retrieves document text from URLs with caching, robots.txt
// politeness, per-domain rate limiting, and an archived-copy fallback.
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	limiter    *worker.Limiter
	robots     *util.RobotsChecker
	docCache   cache.Cache
}

// NewFetcher creates a fetcher from the HTTP configuration. docCache may be
// nil to disable caching.
func NewFetcher(cfg model.HTTPConfig, limiter *worker.Limiter, docCache cache.Cache) *Fetcher {
	transport := &http.Transport{
		Proxy: util.NewProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy),
	}
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Fetcher{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxBodyBytes,
		limiter:   limiter,
		robots:    util.NewRobotsChecker(cfg.UserAgent, cfg.Timeout),
		docCache:  docCache,
	}
}

// FetchText retrieves a document and returns its plain text. The original URL
// is tried first (respecting robots.txt); on failure the archived copy is
// tried before the document is treated as unavailable.
func (f *Fetcher) FetchText(ctx context.Context, rawURL string) (string, error) {
	if f.docCache != nil {
		if data, found := f.docCache.Get(cache.DocumentKey(rawURL)); found {
			return string(data), nil
		}
	}

	text, err := f.fetchOnce(ctx, rawURL, true)
	if err != nil {
		archived, archiveErr := f.fetchOnce(ctx, archiveURL(rawURL), false)
		if archiveErr != nil {
			return "", fmt.Errorf("fetch %s: %w (archive fallback: %v)", rawURL, err, archiveErr)
		}
		text = archived
	}

	if f.docCache != nil {
		_ = f.docCache.Set(cache.DocumentKey(rawURL), []byte(text), 0)
	}
	return text, nil
}

// fetchOnce fetches a single URL with bounded retries and extracts its text
func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string, checkRobots bool) (string, error) {
	if checkRobots {
		allowed, crawlDelay, err := f.robots.CanFetch(ctx, rawURL)
		if err == nil && !allowed {
			return "", fmt.Errorf("robots.txt disallows %s", rawURL)
		}
		if crawlDelay > 0 {
			if err := f.limiter.WaitWithDelay(ctx, rawURL, crawlDelay); err != nil {
				return "", err
			}
		} else if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return "", err
		}
	} else if err := f.limiter.Wait(ctx, rawURL); err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt <= fetchRetries; attempt++ {
		if attempt > 0 {
			retrySleep(time.Duration(attempt) * time.Second)
		}

		html, err := f.doRequest(ctx, rawURL)
		if err != nil {
			lastErr = err
			continue
		}
		return ExtractText(html), nil
	}
	return "", lastErr
}

func (f *Fetcher) doRequest(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status: %d %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	return string(body), nil
}
