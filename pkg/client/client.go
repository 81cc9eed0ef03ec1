// Package client provides an endpoint-oriented REST API client with URL
// composition, pagination, retries, rate limiting and optional response
// caching.
package client

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/etl-api-client/pkg/cache"
	"github.com/Sternrassler/etl-api-client/pkg/pagination"
	"github.com/Sternrassler/etl-api-client/pkg/ratelimit"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for API client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_api_requests_total",
		Help: "Total API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "etl_api_request_duration_seconds",
		Help:    "API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_api_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})
)

// SendMethods are the methods accepted by Send.
var SendMethods = []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

// DefaultTimeout is the per-request timeout when neither the client nor the
// request sets one.
const DefaultTimeout = 10 * time.Second

// Config holds the client configuration.
type Config struct {
	// BaseURL is the absolute API root (REQUIRED).
	BaseURL string

	// BasePath is inserted between BaseURL and every endpoint path.
	BasePath string

	// Endpoints maps endpoint keys to path templates such as
	// "/orgs/{org}/repos".
	Endpoints map[string]string

	// Pagination is the client-wide pagination config; nil disables
	// pagination unless a call overrides it.
	Pagination *pagination.Config

	// Retry
	Retry              *RetryPolicy // nil means a single attempt
	RetryNetworkErrors bool
	RetryCap           time.Duration

	// RateLimit is the client-wide inter-request delay.
	RateLimit *ratelimit.Config

	// Session is used for every call and never closed by the client.
	// SessionFactory creates sessions the client owns. Both may be nil.
	Session        Session
	SessionFactory SessionFactory

	// Timeout is the default per-request timeout.
	Timeout time.Duration

	// Headers are sent with every request; request headers win.
	Headers map[string]string

	// Cache enables the response cache. CacheScope separates cache entries
	// of clients that share a Redis instance.
	Cache      *cache.Manager
	CacheScope string

	// RetrySleep and RateLimitSleep replace the blocking sleeps (for testing).
	RetrySleep     SleepFunc
	RateLimitSleep ratelimit.SleepFunc

	// Logger overrides the component logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns a configuration with the default timeout and retry
// policy for baseURL.
func DefaultConfig(baseURL string, endpoints map[string]string) Config {
	retry := DefaultRetryPolicy()
	return Config{
		BaseURL:   baseURL,
		Endpoints: endpoints,
		Retry:     &retry,
		RetryCap:  DefaultRetryCap,
		Timeout:   DefaultTimeout,
	}
}

// EndpointClient composes endpoint URLs and fetches them page by page.
// A client may be shared between sequential calls; Open and Close are not
// safe for concurrent use.
type EndpointClient struct {
	baseURL   *url.URL
	basePath  string
	endpoints map[string]string

	pagination         *pagination.Config
	retry              *RetryPolicy
	retryNetworkErrors bool
	retryCap           time.Duration
	rateLimit          *ratelimit.Config

	session        Session
	sessionFactory SessionFactory
	timeout        time.Duration
	headers        map[string]string

	cache      *cache.Manager
	cacheScope string

	retrySleep   SleepFunc
	limiterSleep ratelimit.SleepFunc

	logger zerolog.Logger

	bound          Session
	ownsBound      bool
	defaultOnce    sync.Once
	defaultSession *http.Client
}

// New creates a new EndpointClient. Configuration errors are returned
// eagerly.
func New(cfg Config) (*EndpointClient, error) {
	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	endpoints := make(map[string]string, len(cfg.Endpoints))
	for key, path := range cfg.Endpoints {
		if key == "" {
			return nil, fmt.Errorf("%w: empty endpoint key", ErrInvalidEndpoint)
		}
		if path == "" {
			return nil, fmt.Errorf("%w: endpoint %q has an empty path", ErrInvalidEndpoint, key)
		}
		endpoints[key] = path
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = DefaultRetryCap
	}

	logger := log.With().Str("component", "api-client").Str("base_url", base.String()).Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	for _, w := range cfg.Pagination.Validate() {
		logger.Warn().Str("warning", w).Msg("Suspicious pagination config")
	}
	for _, w := range cfg.RateLimit.Validate() {
		logger.Warn().Str("warning", w).Msg("Suspicious rate limit config")
	}

	return &EndpointClient{
		baseURL:            base,
		basePath:           cfg.BasePath,
		endpoints:          endpoints,
		pagination:         cfg.Pagination,
		retry:              cfg.Retry,
		retryNetworkErrors: cfg.RetryNetworkErrors,
		retryCap:           cfg.RetryCap,
		rateLimit:          cfg.RateLimit,
		session:            cfg.Session,
		sessionFactory:     cfg.SessionFactory,
		timeout:            cfg.Timeout,
		headers:            maps.Clone(cfg.Headers),
		cache:              cfg.Cache,
		cacheScope:         cfg.CacheScope,
		retrySleep:         cfg.RetrySleep,
		limiterSleep:       cfg.RateLimitSleep,
		logger:             logger,
	}, nil
}

// BaseURL returns the API root.
func (c *EndpointClient) BaseURL() string { return c.baseURL.String() }

// BasePath returns the configured base path.
func (c *EndpointClient) BasePath() string { return c.basePath }

// Endpoints returns a copy of the endpoint table.
func (c *EndpointClient) Endpoints() map[string]string { return maps.Clone(c.endpoints) }

// URL builds the absolute URL of endpoint key. Path placeholders are
// filled from pathParams and percent-encoded as single segments. Query
// pairs already present in the base URL come first, then query.
func (c *EndpointClient) URL(key string, pathParams map[string]string, query url.Values) (string, error) {
	tmpl, ok := c.endpoints[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEndpoint, key)
	}
	rel, err := expandTemplate(tmpl, pathParams)
	if err != nil {
		return "", fmt.Errorf("endpoint %q: %w", key, err)
	}
	return joinURL(c.baseURL, c.basePath, rel, query), nil
}

// PaginateOptions are the per-call inputs of Paginate and its variants.
type PaginateOptions struct {
	// PathParams fill the endpoint path template.
	PathParams map[string]string

	// Query is appended to the composed URL.
	Query url.Values

	// Params are request query params; pagination params are merged over
	// them on every page.
	Params map[string]any

	// Headers are merged over the client headers.
	Headers map[string]string

	// Timeout overrides the client timeout for every request of the call.
	Timeout time.Duration

	// Pagination and RateLimit override the client configuration for this
	// call only.
	Pagination *pagination.Config
	RateLimit  *ratelimit.Config

	// Retry overrides the client retry policy for this call only.
	Retry *RetryPolicy

	// Session is used for this call and never closed by the client.
	Session Session
}

func (o PaginateOptions) request() pagination.RequestOptions {
	return pagination.RequestOptions{
		Params:  maps.Clone(o.Params),
		Headers: maps.Clone(o.Headers),
		Timeout: o.Timeout,
	}
}

// Paginate fetches every record of endpoint key. With a known pagination
// type the result is []pagination.Record; otherwise it is the raw decoded
// payload of a single retried request.
func (c *EndpointClient) Paginate(ctx context.Context, key string, opts PaginateOptions) (any, error) {
	target, err := c.URL(key, opts.PathParams, opts.Query)
	if err != nil {
		return nil, err
	}
	return c.paginate(ctx, key, target, opts)
}

// PaginateURL is Paginate for an already absolute URL.
func (c *EndpointClient) PaginateURL(ctx context.Context, absoluteURL string, opts PaginateOptions) (any, error) {
	if _, err := parseBaseURL(absoluteURL); err != nil {
		return nil, err
	}
	var err error
	target := absoluteURL
	if len(opts.Query) > 0 {
		if target, err = appendQuery(absoluteURL, opts.Query); err != nil {
			return nil, err
		}
	}
	return c.paginate(ctx, "url", target, opts)
}

// PaginateIter yields the records of endpoint key one by one. Unpaginated
// endpoints yield the coalesced records of a single page. Breaking out of
// the loop stops fetching.
func (c *EndpointClient) PaginateIter(ctx context.Context, key string, opts PaginateOptions) iter.Seq2[pagination.Record, error] {
	target, err := c.URL(key, opts.PathParams, opts.Query)
	if err != nil {
		return func(yield func(pagination.Record, error) bool) { yield(nil, err) }
	}
	return c.paginateIter(ctx, key, target, opts)
}

// PaginateURLIter is PaginateIter for an already absolute URL.
func (c *EndpointClient) PaginateURLIter(ctx context.Context, absoluteURL string, opts PaginateOptions) iter.Seq2[pagination.Record, error] {
	target := absoluteURL
	_, err := parseBaseURL(absoluteURL)
	if err == nil && len(opts.Query) > 0 {
		target, err = appendQuery(absoluteURL, opts.Query)
	}
	if err != nil {
		return func(yield func(pagination.Record, error) bool) { yield(nil, err) }
	}
	return c.paginateIter(ctx, "url", target, opts)
}

// Get performs one retried request against endpoint key and returns the
// decoded payload.
func (c *EndpointClient) Get(ctx context.Context, key string, opts PaginateOptions) (any, error) {
	target, err := c.URL(key, opts.PathParams, opts.Query)
	if err != nil {
		return nil, err
	}
	cl := c.newCall(key, opts)
	defer c.releaseSession(cl.session, cl.owned)
	return c.fetch(&cl.call)(ctx, target, opts.request(), 1)
}

// Send performs one retried request against endpoint key with body encoded
// as JSON and returns the decoded response payload, or nil for an empty
// response. An empty method means POST. Responses are never cached.
func (c *EndpointClient) Send(ctx context.Context, key, method string, body any, opts PaginateOptions) (any, error) {
	target, err := c.URL(key, opts.PathParams, opts.Query)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, key, target, method, body, opts)
}

// SendURL is Send for an already absolute URL.
func (c *EndpointClient) SendURL(ctx context.Context, absoluteURL, method string, body any, opts PaginateOptions) (any, error) {
	if _, err := parseBaseURL(absoluteURL); err != nil {
		return nil, err
	}
	target, err := appendQuery(absoluteURL, opts.Query)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, "url", target, method, body, opts)
}

func (c *EndpointClient) send(ctx context.Context, endpoint, target, method string, body any, opts PaginateOptions) (any, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodPost
	}
	if !slices.Contains(SendMethods, method) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	cl := c.newCall(endpoint, opts)
	defer c.releaseSession(cl.session, cl.owned)

	req := opts.request()
	return cl.retry.Run(ctx, target, func(ctx context.Context) (any, error) {
		return c.sendOnce(ctx, &cl.call, method, target, payload, req)
	})
}

func (c *EndpointClient) paginate(ctx context.Context, endpoint, target string, opts PaginateOptions) (any, error) {
	cl := c.newCall(endpoint, opts)
	defer c.releaseSession(cl.session, cl.owned)

	if !cl.pagination.Paginated() {
		cl.logger.Debug().Str("url", target).Msg("Endpoint not paginated, fetching once")
		return c.fetch(&cl.call)(ctx, target, opts.request(), 1)
	}

	records, err := c.paginator(cl).All(ctx, target, opts.request())
	if err != nil {
		return nil, err
	}
	cl.logger.Debug().Int("records", len(records)).Msg("Pagination finished")
	return records, nil
}

func (c *EndpointClient) paginateIter(ctx context.Context, endpoint, target string, opts PaginateOptions) iter.Seq2[pagination.Record, error] {
	return func(yield func(pagination.Record, error) bool) {
		cl := c.newCall(endpoint, opts)
		defer c.releaseSession(cl.session, cl.owned)

		for rec, err := range c.paginator(cl).Iter(ctx, target, opts.request()) {
			if !yield(rec, err) {
				return
			}
		}
	}
}

// boundCall is a call plus the effective per-call configuration.
type boundCall struct {
	call
	owned      bool
	pagination *pagination.Config
	limiter    *ratelimit.Limiter
}

func (c *EndpointClient) newCall(endpoint string, opts PaginateOptions) *boundCall {
	logger := c.logger.With().
		Str("request_id", uuid.NewString()).
		Str("endpoint", endpoint).
		Logger()

	policy := c.retry
	if opts.Retry != nil {
		policy = opts.Retry
	}
	retry := NewRetryManager(policy, c.retryNetworkErrors).WithLogger(logger)
	retry.Cap = c.retryCap
	if c.retrySleep != nil {
		retry.Sleep = c.retrySleep
	}

	limiter := ratelimit.Fixed(ratelimit.ComputeSleepSeconds(c.rateLimit, opts.RateLimit)).
		WithSleepFunc(c.limiterSleep)

	session, owned := c.resolveSession(opts.Session)

	return &boundCall{
		call: call{
			endpoint: endpoint,
			session:  session,
			retry:    retry,
			logger:   logger,
		},
		owned:      owned,
		pagination: c.pagination.Merge(opts.Pagination),
		limiter:    limiter,
	}
}

func (c *EndpointClient) paginator(cl *boundCall) *pagination.Paginator {
	return pagination.New(cl.pagination, c.fetch(&cl.call), cl.limiter).WithLogger(cl.logger)
}
