package extract

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/etl-api-client/pkg/cache"
	"github.com/Sternrassler/etl-api-client/pkg/client"
	"github.com/Sternrassler/etl-api-client/pkg/config"
	"github.com/Sternrassler/etl-api-client/pkg/logging"
	"github.com/Sternrassler/etl-api-client/pkg/pagination"
	"github.com/Sternrassler/etl-api-client/pkg/ratelimit"
)

var (
	// ErrNilPipeline is returned by New without a pipeline configuration.
	ErrNilPipeline = errors.New("pipeline config is nil")

	// ErrNoLoad is returned for a job without a load step.
	ErrNoLoad = errors.New("job has no load step")
)

// Config holds runner configuration.
type Config struct {
	Pipeline *config.PipelineConfig

	// Cache enables response caching; entries are scoped by API name.
	Cache *cache.Manager

	// RetrySleep and RateLimitSleep replace the real sleeps (for testing).
	RetrySleep     client.SleepFunc
	RateLimitSleep ratelimit.SleepFunc

	Logger *zerolog.Logger
}

// Runner executes the extract step of pipeline jobs.
type Runner struct {
	pipeline       *config.PipelineConfig
	cache          *cache.Manager
	retrySleep     client.SleepFunc
	rateLimitSleep ratelimit.SleepFunc
	logger         zerolog.Logger
}

// New creates a Runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Pipeline == nil {
		return nil, ErrNilPipeline
	}
	logger := logging.NewLogger("extract")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Runner{
		pipeline:       cfg.Pipeline,
		cache:          cfg.Cache,
		retrySleep:     cfg.RetrySleep,
		rateLimitSleep: cfg.RateLimitSleep,
		logger:         logger,
	}, nil
}

// plan is a prepared extract: the client and how to address it.
type plan struct {
	client *client.EndpointClient
	env    *RequestEnv
	opts   client.PaginateOptions
}

// Run extracts the source of job. Paginated sources yield the collected
// records ([]pagination.Record); unpaginated ones the decoded payload.
func (r *Runner) Run(ctx context.Context, job string) (any, error) {
	p, err := r.prepare(job)
	if err != nil {
		return nil, err
	}
	if p.sends() {
		return p.send(ctx, p.env.Body)
	}
	if p.env.UseEndpoints {
		return p.client.Paginate(ctx, p.env.EndpointKey, p.opts)
	}
	return p.client.PaginateURL(ctx, p.env.URL, p.opts)
}

// Records streams the records of job's source. Unpaginated payloads are
// coalesced into records. Setup errors are yielded as a single item.
func (r *Runner) Records(ctx context.Context, job string) iter.Seq2[pagination.Record, error] {
	p, err := r.prepare(job)
	if err != nil {
		return func(yield func(pagination.Record, error) bool) {
			yield(nil, err)
		}
	}
	if p.sends() {
		return func(yield func(pagination.Record, error) bool) {
			payload, err := p.send(ctx, p.env.Body)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, rec := range pagination.Coalesce(payload, "", "") {
				if !yield(rec, nil) {
					return
				}
			}
		}
	}
	if p.env.UseEndpoints {
		return p.client.PaginateIter(ctx, p.env.EndpointKey, p.opts)
	}
	return p.client.PaginateURLIter(ctx, p.env.URL, p.opts)
}

// Env resolves the request environment of job without fetching anything.
func (r *Runner) Env(job string) (*RequestEnv, error) {
	j, err := r.pipeline.Job(job)
	if err != nil {
		return nil, err
	}
	if j.Extract == nil {
		return nil, fmt.Errorf("job %q: %w", job, ErrNoExtract)
	}
	src, err := r.pipeline.Source(j.Extract.Source)
	if err != nil {
		return nil, fmt.Errorf("job %q: %w", job, err)
	}
	return ComposeRequestEnv(r.pipeline, src, j.Extract.Options)
}

// PurgeCache drops every cached response of the API behind job's source.
// It is a no-op without a cache or for URL sources.
func (r *Runner) PurgeCache(ctx context.Context, job string) (int, error) {
	env, err := r.Env(job)
	if err != nil {
		return 0, err
	}
	if r.cache == nil || env.API == "" {
		return 0, nil
	}
	n, err := r.cache.PurgeScope(ctx, env.API)
	if err != nil {
		return n, fmt.Errorf("job %q: %w", job, err)
	}
	r.logger.Info().Str("job", job).Str("api", env.API).Int("entries", n).Msg("Purged cached responses")
	return n, nil
}

// LoadResult describes one load into an API target.
type LoadResult struct {
	Target   string
	Method   string
	URL      string
	Records  int
	Response any
}

// Load sends data as one JSON body to the API target of job. The target is
// addressed by its url, or by an api/endpoint reference resolved like an
// extract.
func (r *Runner) Load(ctx context.Context, job string, data any) (*LoadResult, error) {
	j, err := r.pipeline.Job(job)
	if err != nil {
		return nil, err
	}
	if j.Load == nil {
		return nil, fmt.Errorf("job %q: %w", job, ErrNoLoad)
	}
	tgt, err := r.pipeline.Target(j.Load.Target)
	if err != nil {
		return nil, fmt.Errorf("job %q: %w", job, err)
	}
	env, err := ComposeTargetEnv(r.pipeline, tgt, j.Load.Overrides)
	if err != nil {
		return nil, fmt.Errorf("job %q: %w", job, err)
	}
	p, err := r.newPlan(env, nil)
	if err != nil {
		return nil, fmt.Errorf("job %q: %w", job, err)
	}

	records := countRecords(data)
	r.logger.Info().
		Str("job", job).
		Str("target", tgt.Name).
		Str("method", env.Method).
		Str("endpoint", env.EndpointKey).
		Str("url", env.URL).
		Int("records", records).
		Msg("Starting load")

	resp, err := p.send(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("job %q: load to %q: %w", job, tgt.Name, err)
	}

	target := env.URL
	if env.UseEndpoints {
		if target, err = p.client.URL(env.EndpointKey, env.PathParams, nil); err != nil {
			return nil, fmt.Errorf("job %q: %w", job, err)
		}
	}
	return &LoadResult{
		Target:   tgt.Name,
		Method:   env.Method,
		URL:      target,
		Records:  records,
		Response: resp,
	}, nil
}

// countRecords counts list items; any other non-nil value is one record.
func countRecords(data any) int {
	switch v := data.(type) {
	case nil:
		return 0
	case []pagination.Record:
		return len(v)
	case []any:
		return len(v)
	default:
		return 1
	}
}

// sends reports whether the plan sends a body instead of paginating.
func (p *plan) sends() bool {
	return p.env.Method != "" && p.env.Method != http.MethodGet
}

func (p *plan) send(ctx context.Context, body any) (any, error) {
	if p.env.UseEndpoints {
		return p.client.Send(ctx, p.env.EndpointKey, p.env.Method, body, p.opts)
	}
	return p.client.SendURL(ctx, p.env.URL, p.env.Method, body, p.opts)
}

func (r *Runner) prepare(job string) (*plan, error) {
	env, err := r.Env(job)
	if err != nil {
		return nil, err
	}
	p, err := r.newPlan(env, r.cache)
	if err != nil {
		return nil, fmt.Errorf("job %q: %w", job, err)
	}

	if p.sends() && env.Pagination.Paginated() {
		r.logger.Warn().
			Str("job", job).
			Str("method", env.Method).
			Msg("Pagination ignored for non-GET endpoint")
	}
	r.logger.Info().
		Str("job", job).
		Str("api", env.API).
		Str("endpoint", env.EndpointKey).
		Str("url", env.URL).
		Str("method", env.Method).
		Bool("paginated", env.Pagination.Paginated()).
		Float64("sleep_seconds", env.SleepSeconds).
		Msg("Starting extract")

	return p, nil
}

// newPlan builds the client for env. Responses are cached in cm, scoped by
// the API name, when cm is not nil.
func (r *Runner) newPlan(env *RequestEnv, cm *cache.Manager) (*plan, error) {
	session, err := BuildSession(env.Session)
	if err != nil {
		return nil, err
	}

	cfg := client.Config{
		Retry:              env.Retry,
		RetryNetworkErrors: env.RetryNetworkErrors,
		Timeout:            env.Timeout,
		Cache:              cm,
		CacheScope:         env.API,
		RetrySleep:         r.retrySleep,
		RateLimitSleep:     r.rateLimitSleep,
	}
	if session != nil {
		cfg.SessionFactory = func() client.Session { return session }
	}
	if env.UseEndpoints {
		cfg.BaseURL = env.BaseURL
		cfg.BasePath = env.BasePath
		cfg.Endpoints = env.Endpoints
	} else if cfg.BaseURL, err = origin(env.URL); err != nil {
		return nil, err
	}

	c, err := client.New(cfg)
	if err != nil {
		return nil, err
	}

	opts := client.PaginateOptions{
		PathParams: env.PathParams,
		Params:     env.Params,
		Headers:    env.Headers,
		Pagination: env.Pagination,
	}
	if env.SleepSeconds > 0 {
		opts.RateLimit = &ratelimit.Config{SleepSeconds: &env.SleepSeconds}
	}
	return &plan{client: c, env: env, opts: opts}, nil
}

// origin reduces an absolute URL to scheme://host.
func origin(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", client.ErrInvalidBaseURL, raw)
	}
	return u.Scheme + "://" + u.Host, nil
}
