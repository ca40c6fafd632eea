package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache defines the interface for caching. The pipeline uses it for fetched
// document text and for oracle score memoization.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// DocumentKey generates a cache key for a fetched document URL
func DocumentKey(url string) string {
	hash := sha256.Sum256([]byte(url))
	return "claimlens:v1:doc:" + hex.EncodeToString(hash[:])
}
