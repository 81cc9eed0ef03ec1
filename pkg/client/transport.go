package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/etl-api-client/internal/coerce"
	"github.com/Sternrassler/etl-api-client/pkg/cache"
	"github.com/Sternrassler/etl-api-client/pkg/pagination"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// call carries the per-call state shared by every fetch of one Paginate or
// Get invocation.
type call struct {
	endpoint string
	session  Session
	retry    *RetryManager
	logger   zerolog.Logger
}

// fetch performs one retried request. It is the pagination.FetchFunc of
// every paginator the client builds.
func (c *EndpointClient) fetch(cl *call) pagination.FetchFunc {
	return func(ctx context.Context, rawURL string, req pagination.RequestOptions, page int) (any, error) {
		return cl.retry.Run(ctx, rawURL, func(ctx context.Context) (any, error) {
			return c.fetchOnce(ctx, cl, rawURL, req, page)
		})
	}
}

// fetchOnce performs exactly one HTTP GET and decodes the payload. Non-2xx
// responses return *HTTPStatusError.
func (c *EndpointClient) fetchOnce(ctx context.Context, cl *call, rawURL string, req pagination.RequestOptions, page int) (any, error) {
	target, err := appendQuery(rawURL, paramsToValues(req.Params))
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx, req.Timeout)
	defer cancel()

	httpReq, err := c.newRequest(ctx, http.MethodGet, target, nil, req.Headers)
	if err != nil {
		return nil, err
	}

	// Check cache
	var (
		cacheKey cache.CacheKey
		cached   *cache.CacheEntry
	)
	if c.cache != nil {
		cacheKey = cache.KeyForURL(http.MethodGet, httpReq.URL, c.cacheScope)
		entry, err := c.cache.Get(ctx, cacheKey)
		switch {
		case err == nil && !entry.IsExpired():
			cache.CacheHits.WithLabelValues("fresh").Inc()
			cl.logger.Debug().Str("url", target).Int("page", page).Msg("Cache hit")
			return decodePayload(entry.Data, entry.ContentType), nil
		case err == nil:
			cached = entry
		case !errors.Is(err, cache.ErrCacheMiss):
			cl.logger.Warn().Err(err).Str("url", target).Msg("Cache get error")
		}
	}
	if cache.ShouldMakeConditionalRequest(cached) {
		cache.AddConditionalHeaders(httpReq, cached)
	}

	cl.logger.Debug().
		Str("url", target).
		Int("page", page).
		Msg("Executing request")

	resp, body, err := c.roundTrip(cl, httpReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotModified && cached != nil {
		cache.NotModifiedResponses.Inc()
		cache.CacheHits.WithLabelValues("revalidated").Inc()
		cache.Refresh(cached, resp)
		if err := c.cache.Set(ctx, cacheKey, cached); err != nil {
			cl.logger.Warn().Err(err).Msg("Failed to refresh cache entry")
		}
		cl.logger.Debug().Str("url", target).Msg("304 Not Modified - using cache")
		return decodePayload(cached.Data, cached.ContentType), nil
	}

	if err := statusError(cl, target, resp, body); err != nil {
		return nil, err
	}

	if c.cache != nil && cache.Cacheable(resp) {
		if err := c.cache.Set(ctx, cacheKey, cache.BodyToEntry(resp, body)); err != nil {
			cl.logger.Warn().Err(err).Msg("Failed to cache response")
		}
	}

	return decodePayload(body, resp.Header.Get("Content-Type")), nil
}

// sendOnce performs exactly one request with a JSON body. Responses are
// never cached.
func (c *EndpointClient) sendOnce(ctx context.Context, cl *call, method, target string, body []byte, req pagination.RequestOptions) (any, error) {
	target, err := appendQuery(target, paramsToValues(req.Params))
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx, req.Timeout)
	defer cancel()

	httpReq, err := c.newRequest(ctx, method, target, body, req.Headers)
	if err != nil {
		return nil, err
	}

	cl.logger.Debug().
		Str("url", target).
		Str("method", method).
		Int("bytes", len(body)).
		Msg("Sending request")

	resp, respBody, err := c.roundTrip(cl, httpReq)
	if err != nil {
		return nil, err
	}
	if err := statusError(cl, target, resp, respBody); err != nil {
		return nil, err
	}
	if len(respBody) == 0 {
		return nil, nil
	}
	return decodePayload(respBody, resp.Header.Get("Content-Type")), nil
}

// withTimeout applies the request timeout, falling back to the client's.
func (c *EndpointClient) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// newRequest builds a request carrying the client headers, then headers.
func (c *EndpointClient) newRequest(ctx context.Context, method, target string, body []byte, headers map[string]string) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// roundTrip sends httpReq on the call session and reads the whole body.
func (c *EndpointClient) roundTrip(cl *call, httpReq *http.Request) (*http.Response, []byte, error) {
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(cl.endpoint).Observe(time.Since(startTime).Seconds())
	}()

	resp, err := cl.session.Do(httpReq)
	if err != nil {
		requestsTotal.WithLabelValues(cl.endpoint, "network_error").Inc()
		errorsTotal.WithLabelValues(string(classifyError(0, err))).Inc()
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		requestsTotal.WithLabelValues(cl.endpoint, "read_error").Inc()
		errorsTotal.WithLabelValues(string(classifyError(0, err))).Inc()
		return nil, nil, fmt.Errorf("read response body: %w", err)
	}
	requestsTotal.WithLabelValues(cl.endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, body, nil
}

// statusError returns *HTTPStatusError for a non-2xx response.
func statusError(cl *call, target string, resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	errorsTotal.WithLabelValues(string(classifyStatus(resp.StatusCode))).Inc()
	cl.logger.Debug().
		Str("url", target).
		Int("status", resp.StatusCode).
		Msg("Request returned error status")
	return &HTTPStatusError{
		URL:        target,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       body,
	}
}

// decodePayload turns a response body into JSON data. JSON objects are
// returned as-is, lists of objects as-is, other lists element-wrapped as
// {"value": x} and scalars as {"value": x}. Non-JSON or malformed bodies
// become {"content": body, "content_type": ct}.
func decodePayload(body []byte, contentType string) any {
	ct := strings.ToLower(contentType)
	raw := map[string]any{"content": string(body), "content_type": ct}
	if !isJSONContentType(ct) {
		return raw
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return raw
	}
	var trailing any
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return raw
	}

	switch v := payload.(type) {
	case map[string]any:
		return v
	case []any:
		for _, item := range v {
			if _, ok := item.(map[string]any); !ok {
				return wrapValues(v)
			}
		}
		return v
	default:
		return map[string]any{"value": v}
	}
}

func wrapValues(items []any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = map[string]any{"value": item}
	}
	return out
}

func isJSONContentType(ct string) bool {
	mediaType, _, _ := strings.Cut(ct, ";")
	mediaType = strings.TrimSpace(mediaType)
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// paramsToValues converts request params into query values. Slices become
// repeated keys; nil values and non-scalars are dropped.
func paramsToValues(params map[string]any) url.Values {
	if len(params) == 0 {
		return nil
	}
	values := url.Values{}
	for k, v := range params {
		switch x := v.(type) {
		case []string:
			values[k] = append(values[k], x...)
		case []any:
			for _, item := range x {
				if s, ok := coerce.String(item); ok {
					values.Add(k, s)
				}
			}
		default:
			if s, ok := coerce.String(v); ok {
				values.Set(k, s)
			}
		}
	}
	return values
}
