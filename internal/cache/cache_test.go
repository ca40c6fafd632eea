package cache

import (
	"strings"
	"testing"
	"time"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)

	if _, found := c.Get("missing"); found {
		t.Error("unexpected hit for missing key")
	}

	if err := c.Set("k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, found := c.Get("k")
	if !found || string(got) != "v" {
		t.Errorf("Get = %q, %v", got, found)
	}

	_ = c.Delete("k")
	if _, found := c.Get("k"); found {
		t.Error("key survived Delete")
	}
}

func TestDiskCacheRoundTrip(t *testing.T) {
	c := NewDiskCache(t.TempDir(), time.Minute)

	if err := c.Set("doc", []byte("payload"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, found := c.Get("doc")
	if !found || string(got) != "payload" {
		t.Errorf("Get = %q, %v", got, found)
	}

	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, found := c.Get("doc"); found {
		t.Error("key survived Clear")
	}
}

func TestDiskCacheExpiry(t *testing.T) {
	c := NewDiskCache(t.TempDir(), time.Minute)

	if err := c.Set("stale", []byte("old"), -time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, found := c.Get("stale"); found {
		t.Error("expired entry served")
	}
}

func TestLayeredCachePromotesDiskHits(t *testing.T) {
	dir := t.TempDir()
	c := NewLayeredCache(time.Minute, dir, time.Minute)

	// Seed the disk layer only, as a previous run would have
	if err := NewDiskCache(dir, time.Minute).Set("k", []byte("v"), 0); err != nil {
		t.Fatalf("seed disk: %v", err)
	}

	got, found := c.Get("k")
	if !found || string(got) != "v" {
		t.Fatalf("Get = %q, %v", got, found)
	}
	if _, found := c.memory.Get("k"); !found {
		t.Error("disk hit not promoted to memory")
	}
}

func TestDocumentKeyIsStableAndNamespaced(t *testing.T) {
	a := DocumentKey("https://example.com/page")
	b := DocumentKey("https://example.com/page")
	if a != b {
		t.Error("same URL produced different keys")
	}
	if !strings.HasPrefix(a, "claimlens:v1:doc:") {
		t.Errorf("key %q missing namespace prefix", a)
	}
	if a == DocumentKey("https://example.com/other") {
		t.Error("different URLs collided")
	}
}
