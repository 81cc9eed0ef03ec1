// Package metrics exposes the Prometheus metrics of the API client.
// Metrics are defined in their respective packages (client, cache,
// pagination, ratelimit) and registered via promauto on the default
// registry; this package serves them and documents them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the API client.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects the metrics registered on Registry.
var Gatherer = prometheus.DefaultGatherer

// Prefix is shared by every metric name of the client.
const Prefix = "etl_api_"

// Handler returns the HTTP handler serving Gatherer in the Prometheus
// exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - etl_api_requests_total{endpoint, status} (Counter): Requests by endpoint key and HTTP status
//   - etl_api_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint key
//   - etl_api_errors_total{class} (Counter): Errors by class (client, server, rate_limit, auth, network)
//
// Retry Metrics (pkg/client):
//   - etl_api_retries_total{error_class} (Counter): Retry attempts by error class
//   - etl_api_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - etl_api_retry_exhausted_total{error_class} (Counter): Requests that exhausted max attempts
//
// Pagination Metrics (pkg/pagination):
//   - etl_api_pages_fetched_total{strategy} (Counter): Pages fetched by strategy
//   - etl_api_records_emitted_total{strategy} (Counter): Records emitted by strategy
//   - etl_api_pagination_errors_total{strategy} (Counter): Fetch failures during pagination
//
// Rate Limit Metrics (pkg/ratelimit):
//   - etl_api_rate_limit_sleeps_total (Counter): Inter-request sleeps
//   - etl_api_rate_limit_sleep_seconds_total (Counter): Seconds spent sleeping between requests
//
// Cache Metrics (pkg/cache):
//   - etl_api_cache_hits_total{kind} (Counter): Cache hits ("fresh", "revalidated")
//   - etl_api_cache_misses_total (Counter): Cache misses
//   - etl_api_cache_stored_bytes_total (Counter): Bytes written to the cache
//   - etl_api_304_responses_total (Counter): 304 Not Modified responses
//   - etl_api_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(etl_api_cache_hits_total[5m])) /
//   (sum(rate(etl_api_cache_hits_total[5m])) + sum(rate(etl_api_cache_misses_total[5m])))
//
//   # Request Error Rate
//   rate(etl_api_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(etl_api_request_duration_seconds_bucket[5m]))
//
//   # Records per Page
//   rate(etl_api_records_emitted_total[5m]) / rate(etl_api_pages_fetched_total[5m])
