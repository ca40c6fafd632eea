package worker

import (
	"context"
	"testing"
	"time"
)

func TestNewLimiterDefaultsBurst(t *testing.T) {
	if got := NewLimiter(10, 5).defaultBurst; got != 5 {
		t.Errorf("burst = %d, want 5", got)
	}
	if got := NewLimiter(10, 0).defaultBurst; got != 5 {
		t.Errorf("burst = %d, want 5 for zero input", got)
	}
}

func TestLimiterWaitPerHost(t *testing.T) {
	limiter := NewLimiter(100, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "http://a.example/page"); err != nil {
		t.Errorf("wait: %v", err)
	}
	// A second host has its own bucket and must not be throttled by the first
	if err := limiter.Wait(ctx, "http://b.example/page"); err != nil {
		t.Errorf("wait on second host: %v", err)
	}

	if len(limiter.limiters) != 2 {
		t.Errorf("got %d host buckets, want 2", len(limiter.limiters))
	}
}

func TestLimiterWaitBlocksWhenExhausted(t *testing.T) {
	limiter := NewLimiter(20, 1)
	ctx := context.Background()
	url := "http://slow.example/doc"

	if err := limiter.Wait(ctx, url); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	start := time.Now()
	if err := limiter.Wait(ctx, url); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("second wait returned after %v, expected throttling near 50ms", elapsed)
	}
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	limiter := NewLimiter(0.1, 1)
	ctx := context.Background()
	url := "http://slow.example/doc"

	if err := limiter.Wait(ctx, url); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	cancelled, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(cancelled, url); err == nil {
		t.Error("expected context error while throttled")
	}
}

func TestWaitWithDelayAddsCrawlDelay(t *testing.T) {
	limiter := NewLimiter(100, 1)

	start := time.Now()
	if err := limiter.WaitWithDelay(context.Background(), "http://a.example", 50*time.Millisecond); err != nil {
		t.Fatalf("WaitWithDelay: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("elapsed %v, want at least the 50ms crawl delay", elapsed)
	}
}

func TestExtractHost(t *testing.T) {
	host, err := extractHost("http://a.example/foo")
	if err != nil {
		t.Fatalf("extractHost: %v", err)
	}
	if host != "a.example" {
		t.Errorf("host = %q, want a.example", host)
	}

	if _, err := extractHost("::bad"); err == nil {
		t.Error("expected error for malformed URL")
	}
}
