package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTTL is the fallback TTL when neither Cache-Control max-age nor
	// Expires is present
	DefaultTTL = 5 * time.Minute
)

// ResponseToEntry converts an HTTP response to a CacheEntry.
// It parses freshness and validator headers and reads the response body.
// The response body is restored after reading.
func ResponseToEntry(resp *http.Response) (*CacheEntry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body.Close()

	// Restore body for caller
	resp.Body = io.NopCloser(bytes.NewReader(body))

	return BodyToEntry(resp, body), nil
}

// BodyToEntry builds a CacheEntry from response metadata and an already
// read body.
func BodyToEntry(resp *http.Response, body []byte) *CacheEntry {
	entry := &CacheEntry{
		Data:        body,
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        resp.Header.Get("ETag"),
		StatusCode:  resp.StatusCode,
		Headers:     resp.Header.Clone(),
		CachedAt:    time.Now(),
		Expires:     parseExpires(resp.Header),
	}

	if lastModStr := resp.Header.Get("Last-Modified"); lastModStr != "" {
		if lastMod, err := http.ParseTime(lastModStr); err == nil {
			entry.LastModified = lastMod
		}
	}

	return entry
}

// Cacheable reports whether a response may be stored at all.
func Cacheable(resp *http.Response) bool {
	if resp == nil || resp.StatusCode != http.StatusOK {
		return false
	}
	for _, directive := range cacheControl(resp.Header) {
		if directive == "no-store" {
			return false
		}
	}
	return true
}

// parseExpires derives the expiration time. Cache-Control max-age wins over
// Expires; without either the DefaultTTL applies.
func parseExpires(headers http.Header) time.Time {
	now := time.Now()

	for _, directive := range cacheControl(headers) {
		switch {
		case directive == "no-cache":
			return now
		case strings.HasPrefix(directive, "max-age="):
			secs, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age="))
			if err == nil && secs >= 0 {
				return now.Add(time.Duration(secs) * time.Second)
			}
		}
	}

	expiresStr := headers.Get("Expires")
	if expiresStr == "" {
		return now.Add(DefaultTTL)
	}

	expires, err := http.ParseTime(expiresStr)
	if err != nil {
		return now.Add(DefaultTTL)
	}

	// Already expired - use minimal TTL
	if expires.Before(now) {
		return now
	}

	return expires
}

func cacheControl(headers http.Header) []string {
	var out []string
	for _, value := range headers.Values("Cache-Control") {
		for _, directive := range strings.Split(value, ",") {
			if d := strings.ToLower(strings.TrimSpace(directive)); d != "" {
				out = append(out, d)
			}
		}
	}
	return out
}

// ShouldMakeConditionalRequest determines if we should add conditional
// request headers (If-None-Match or If-Modified-Since) for a stale entry.
func ShouldMakeConditionalRequest(entry *CacheEntry) bool {
	return entry != nil && entry.IsExpired() && entry.CanRevalidate()
}

// AddConditionalHeaders adds If-None-Match (ETag) or If-Modified-Since headers
// to the request if the cache entry supports conditional requests.
func AddConditionalHeaders(req *http.Request, entry *CacheEntry) {
	if entry == nil || req == nil {
		return
	}

	// Prefer ETag over Last-Modified (more accurate)
	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	} else if !entry.LastModified.IsZero() {
		req.Header.Set("If-Modified-Since", entry.LastModified.Format(http.TimeFormat))
	}
}

// Refresh updates the freshness of entry from a 304 Not Modified response.
func Refresh(entry *CacheEntry, resp *http.Response) {
	if entry == nil || resp == nil {
		return
	}
	entry.Expires = parseExpires(resp.Header)
	if etag := resp.Header.Get("ETag"); etag != "" {
		entry.ETag = etag
	}
	entry.CachedAt = time.Now()
}
