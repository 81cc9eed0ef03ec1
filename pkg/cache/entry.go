package cache

import (
	"net/http"
	"time"
)

// CacheEntry represents a cached API response.
type CacheEntry struct {
	// Data is the response body
	Data []byte `json:"data"`

	// ContentType of the cached body
	ContentType string `json:"content_type,omitempty"`

	// ETag for conditional requests (If-None-Match)
	ETag string `json:"etag,omitempty"`

	// Expires is when the entry becomes stale (max-age, Expires or default TTL)
	Expires time.Time `json:"expires"`

	// LastModified is the Last-Modified header, used for If-Modified-Since
	LastModified time.Time `json:"last_modified"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// Headers are the response headers
	Headers http.Header `json:"headers,omitempty"`

	// CachedAt is when we cached this response
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true if the cache entry is stale.
func (e *CacheEntry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *CacheEntry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// CanRevalidate reports whether a stale entry carries validators for a
// conditional request.
func (e *CacheEntry) CanRevalidate() bool {
	return e != nil && (e.ETag != "" || !e.LastModified.IsZero())
}
