// Package cache stores API responses in Redis so repeated extracts of the
// same pages do not hit the upstream API again.
//
// Freshness comes from the response: Cache-Control max-age wins over
// Expires, and DefaultTTL applies when neither is present. Responses marked
// no-store are never cached. Entries carrying an ETag or Last-Modified value
// are kept for a stale window past expiry and revalidated with a conditional
// request; a 304 Not Modified refreshes the entry without a new body.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//	manager := cache.NewManager(redisClient)
//
//	u, _ := url.Parse("https://api.example.com/v1/users?page=2")
//	key := cache.KeyForURL(http.MethodGet, u, "")
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API
//	}
//
// # Conditional Requests
//
//	if cache.ShouldMakeConditionalRequest(entry) {
//		cache.AddConditionalHeaders(req, entry)
//	}
//
// # Metrics
//
//   - etl_api_cache_hits_total{kind} - Cache hits ("fresh", "revalidated")
//   - etl_api_cache_misses_total - Cache misses
//   - etl_api_cache_stored_bytes_total - Bytes written
//   - etl_api_304_responses_total - Conditional request successes
//   - etl_api_cache_errors_total{operation} - Cache operation errors
package cache
