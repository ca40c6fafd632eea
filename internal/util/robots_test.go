package util

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func robotsServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(status)
		_, _ = fmt.Fprint(w, body)
	}))
}

func TestCanFetchMissingRobotsAllows(t *testing.T) {
	server := robotsServer(t, "", http.StatusNotFound)
	defer server.Close()

	c := NewRobotsChecker("claimlens/0.2", 5*time.Second)
	allowed, delay, err := c.CanFetch(context.Background(), server.URL+"/any/page")
	if err != nil {
		t.Fatalf("CanFetch: %v", err)
	}
	if !allowed || delay != 0 {
		t.Errorf("allowed = %v, delay = %v; want allowed with no delay", allowed, delay)
	}
}

func TestCanFetchHonorsDisallow(t *testing.T) {
	server := robotsServer(t, "User-agent: *\nDisallow: /private/\nCrawl-delay: 2\n", http.StatusOK)
	defer server.Close()

	c := NewRobotsChecker("claimlens/0.2", 5*time.Second)

	allowed, _, err := c.CanFetch(context.Background(), server.URL+"/private/doc")
	if err != nil {
		t.Fatalf("CanFetch: %v", err)
	}
	if allowed {
		t.Error("disallowed path reported as fetchable")
	}

	allowed, delay, err := c.CanFetch(context.Background(), server.URL+"/public/doc")
	if err != nil {
		t.Fatalf("CanFetch: %v", err)
	}
	if !allowed {
		t.Error("public path reported as blocked")
	}
	if delay != 2*time.Second {
		t.Errorf("crawl delay = %v, want 2s", delay)
	}
}

func TestCanFetchCachesPerHost(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.NotFound(w, r)
	}))
	defer server.Close()

	c := NewRobotsChecker("claimlens/0.2", 5*time.Second)
	for i := 0; i < 3; i++ {
		if _, _, err := c.CanFetch(context.Background(), server.URL+"/page"); err != nil {
			t.Fatalf("CanFetch: %v", err)
		}
	}
	if hits != 1 {
		t.Errorf("robots.txt fetched %d times, want 1", hits)
	}
}

func TestAgentToken(t *testing.T) {
	tests := []struct {
		ua   string
		want string
	}{
		{"claimlens/0.2 (+https://example.com)", "claimlens"},
		{"claimlens", "claimlens"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := agentToken(tt.ua); got != tt.want {
			t.Errorf("agentToken(%q) = %q, want %q", tt.ua, got, tt.want)
		}
	}
}

func TestNewProxyFuncFallsBackToEnvironment(t *testing.T) {
	fn := NewProxyFunc("", "", "")
	req, _ := http.NewRequest(http.MethodGet, "http://a.example", nil)
	if _, err := fn(req); err != nil {
		t.Errorf("environment proxy func: %v", err)
	}
}

func TestNewProxyFuncExplicitProxies(t *testing.T) {
	fn := NewProxyFunc("http://proxy.internal:3128", "http://sproxy.internal:3128", "")

	httpsReq, _ := http.NewRequest(http.MethodGet, "https://a.example", nil)
	u, err := fn(httpsReq)
	if err != nil {
		t.Fatalf("proxy func: %v", err)
	}
	if u.Host != "sproxy.internal:3128" {
		t.Errorf("https proxy = %q", u.Host)
	}

	httpReq, _ := http.NewRequest(http.MethodGet, "http://a.example", nil)
	u, err = fn(httpReq)
	if err != nil {
		t.Fatalf("proxy func: %v", err)
	}
	if u.Host != "proxy.internal:3128" {
		t.Errorf("http proxy = %q", u.Host)
	}
}
