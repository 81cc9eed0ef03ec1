// Package extract runs the extract step of pipeline jobs against API
// sources. It resolves a request environment from the source, its API and
// endpoint configuration, profile defaults and per-job options, then drives
// an EndpointClient.
package extract

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/etl-api-client/internal/coerce"
	"github.com/Sternrassler/etl-api-client/pkg/client"
	"github.com/Sternrassler/etl-api-client/pkg/config"
	"github.com/Sternrassler/etl-api-client/pkg/pagination"
	"github.com/Sternrassler/etl-api-client/pkg/ratelimit"
)

var (
	// ErrMissingURL is returned for an API source or target with neither a
	// url nor an api/endpoint reference.
	ErrMissingURL = errors.New("missing url")

	// ErrUnsupportedSource is returned for sources this package cannot read.
	ErrUnsupportedSource = errors.New("unsupported source type")

	// ErrUnsupportedTarget is returned for targets this package cannot write.
	ErrUnsupportedTarget = errors.New("unsupported target type")

	// ErrNoExtract is returned for a job without an extract step.
	ErrNoExtract = errors.New("job has no extract step")

	// ErrInvalidAuth is returned for a basic or bearer auth block without
	// credentials.
	ErrInvalidAuth = errors.New("invalid auth config")
)

// RequestEnv is the fully resolved input of one API extract.
type RequestEnv struct {
	// UseEndpoints selects endpoint-key addressing; otherwise URL is used.
	UseEndpoints bool
	BaseURL      string
	BasePath     string
	Endpoints    map[string]string
	EndpointKey  string
	PathParams   map[string]string

	URL string

	// Method is empty or GET for paginated reads; any other method sends
	// Body once as JSON.
	Method string
	Body   any

	Params  map[string]any
	Headers map[string]string
	Timeout time.Duration

	Pagination   *pagination.Config
	SleepSeconds float64

	Retry              *client.RetryPolicy
	RetryNetworkErrors bool

	// Session is the merged session block; nil means the client default.
	Session map[string]any

	// API names the API service, used as the cache scope.
	API string
}

// ComposeRequestEnv resolves the request environment of src. Precedence,
// highest first: job options, source, endpoint, API, API profile defaults.
func ComposeRequestEnv(cfg *config.PipelineConfig, src *config.Source, opts map[string]any) (*RequestEnv, error) {
	if src.Type != config.SourceTypeAPI {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, src.Type)
	}

	env := &RequestEnv{
		URL:                src.URL,
		Params:             merged(src.QueryParams),
		Headers:            merged(src.Headers),
		PathParams:         merged(src.PathParams),
		Retry:              src.Retry,
		RetryNetworkErrors: src.RetryNetworkErrors,
		Session:            maps.Clone(src.Session),
		API:                src.API,
	}
	pag := src.Pagination
	rateLimit := src.RateLimit

	if src.API != "" && src.Endpoint != "" {
		api, ep, err := cfg.Endpoint(src.API, src.Endpoint)
		if err != nil {
			return nil, err
		}

		authHeaders, err := applyAuth(env, api.EffectiveAuth())
		if err != nil {
			return nil, fmt.Errorf("api %q: %w", src.API, err)
		}
		env.Headers = merged(api.Headers, authHeaders, env.Headers)
		env.Params = merged(ep.QueryParams, env.Params)
		env.Method = ep.Method
		env.Body = ep.Body
		env.PathParams = merged(coerce.StringMap(ep.PathParams), env.PathParams)

		pag = firstNonNil(pag, ep.Pagination, api.EffectivePaginationDefaults())
		rateLimit = firstNonNil(rateLimit, ep.RateLimit, api.EffectiveRateLimitDefaults())
		env.Retry = firstNonNil(env.Retry, ep.Retry, api.Retry)
		env.RetryNetworkErrors = env.RetryNetworkErrors || ep.RetryNetworkErrors || api.RetryNetworkErrors

		env.UseEndpoints = true
		env.BaseURL = api.BaseURL
		env.BasePath = api.EffectiveBasePath()
		env.Endpoints = api.EndpointPaths()
		env.EndpointKey = src.Endpoint
	} else if env.URL == "" {
		return nil, fmt.Errorf("source %q: %w", src.Name, ErrMissingURL)
	}

	if err := applyOptions(env, opts, pag, rateLimit); err != nil {
		return nil, fmt.Errorf("source %q options: %w", src.Name, err)
	}
	return env, nil
}

// applyOptions layers job extract options over env and resolves pagination
// and rate limiting.
func applyOptions(env *RequestEnv, opts map[string]any, pag *pagination.Config, rateLimit *ratelimit.Config) error {
	if q, ok := coerce.Mapping(opts["query_params"]); ok {
		maps.Copy(env.Params, q)
	}
	if q, ok := coerce.Mapping(opts["params"]); ok {
		maps.Copy(env.Params, q)
	}
	maps.Copy(env.Headers, coerce.StringMap(opts["headers"]))
	if m, ok := coerce.String(opts["method"]); ok && m != "" {
		env.Method = strings.ToUpper(m)
	}
	if body, ok := opts["body"]; ok {
		env.Body = body
	}

	if secs, ok := coerce.PositiveFloat(opts["timeout"]); ok {
		env.Timeout = time.Duration(secs * float64(time.Second))
	}

	rlOverrides, err := ratelimit.ConfigFromMap(opts["rate_limit"])
	if err != nil {
		return err
	}
	env.SleepSeconds = ratelimit.ComputeSleepSeconds(rateLimit, rlOverrides)

	if raw, ok := opts["retry"]; ok {
		if env.Retry, err = client.RetryPolicyFromMap(raw); err != nil {
			return err
		}
	}
	if raw, ok := opts["retry_network_errors"]; ok {
		b, _ := raw.(bool)
		env.RetryNetworkErrors = b
	}

	if sess, ok := coerce.Mapping(opts["session"]); ok {
		env.Session = merged(env.Session, sess)
	}

	env.Pagination, err = BuildPaginationConfig(pag, opts["pagination"])
	return err
}

// ComposeTargetEnv resolves the request environment of an API target. A
// url (from overrides or the target) wins over an api/endpoint reference.
// The method comes from overrides, the target, the endpoint, else POST.
// Headers layer API, target, then override headers.
func ComposeTargetEnv(cfg *config.PipelineConfig, tgt *config.Target, overrides map[string]any) (*RequestEnv, error) {
	if tgt.Type != config.SourceTypeAPI {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTarget, tgt.Type)
	}

	env := &RequestEnv{
		URL:        coerce.StringOr(overrides["url"], tgt.URL),
		Method:     tgt.Method,
		Params:     map[string]any{},
		Headers:    merged(tgt.Headers),
		PathParams: coerce.StringMap(overrides["path_params"]),
	}

	if env.URL == "" && tgt.API != "" && tgt.Endpoint != "" {
		api, ep, err := cfg.Endpoint(tgt.API, tgt.Endpoint)
		if err != nil {
			return nil, err
		}
		authHeaders, err := applyAuth(env, api.EffectiveAuth())
		if err != nil {
			return nil, fmt.Errorf("api %q: %w", tgt.API, err)
		}
		env.Headers = merged(api.Headers, authHeaders, env.Headers)
		env.Params = merged(ep.QueryParams)
		env.PathParams = merged(coerce.StringMap(ep.PathParams), env.PathParams)
		env.Method = cmp.Or(env.Method, ep.Method)
		env.Retry = firstNonNil(ep.Retry, api.Retry)
		env.RetryNetworkErrors = ep.RetryNetworkErrors || api.RetryNetworkErrors

		env.UseEndpoints = true
		env.BaseURL = api.BaseURL
		env.BasePath = api.EffectiveBasePath()
		env.Endpoints = api.EndpointPaths()
		env.EndpointKey = tgt.Endpoint
		env.API = tgt.API
	} else if env.URL == "" {
		return nil, fmt.Errorf("target %q: %w", tgt.Name, ErrMissingURL)
	}

	if m, ok := coerce.String(overrides["method"]); ok && m != "" {
		env.Method = m
	}
	env.Method = strings.ToUpper(cmp.Or(env.Method, http.MethodPost))
	maps.Copy(env.Headers, coerce.StringMap(overrides["headers"]))
	if secs, ok := coerce.PositiveFloat(overrides["timeout"]); ok {
		env.Timeout = time.Duration(secs * float64(time.Second))
	}
	if raw, ok := overrides["retry"]; ok {
		var err error
		if env.Retry, err = client.RetryPolicyFromMap(raw); err != nil {
			return nil, fmt.Errorf("target %q overrides: %w", tgt.Name, err)
		}
	}
	if sess, ok := coerce.Mapping(overrides["session"]); ok {
		env.Session = merged(env.Session, sess)
	}
	return env, nil
}

// applyAuth resolves a profile auth block. Basic credentials become the
// session auth pair unless the session already sets one; bearer tokens are
// returned as an Authorization header. Other types are provider-specific
// and ignored.
func applyAuth(env *RequestEnv, auth map[string]any) (map[string]string, error) {
	if len(auth) == 0 {
		return nil, nil
	}
	typ := strings.ToLower(coerce.StringOr(auth["type"], ""))
	if typ == "" {
		switch {
		case auth["token"] != nil:
			typ = "bearer"
		case auth["username"] != nil || auth["user"] != nil:
			typ = "basic"
		}
	}

	switch typ {
	case "bearer":
		token := coerce.StringOr(auth["token"], "")
		if token == "" {
			return nil, fmt.Errorf("%w: bearer auth requires a token", ErrInvalidAuth)
		}
		return map[string]string{"Authorization": "Bearer " + token}, nil
	case "basic":
		user := coerce.StringOr(auth["username"], coerce.StringOr(auth["user"], ""))
		if user == "" {
			return nil, fmt.Errorf("%w: basic auth requires a username", ErrInvalidAuth)
		}
		if _, set := env.Session["auth"]; !set {
			pass := coerce.StringOr(auth["password"], "")
			env.Session = merged(env.Session, map[string]any{"auth": []any{user, pass}})
		}
	}
	return nil, nil
}

// BuildPaginationConfig applies job-level overrides to base. It returns nil
// when neither side names a pagination type.
func BuildPaginationConfig(base *pagination.Config, overrides any) (*pagination.Config, error) {
	ov, err := pagination.ConfigFromMap(overrides)
	if err != nil {
		return nil, err
	}
	merged := base.Merge(ov)
	if !merged.Paginated() {
		return nil, nil
	}
	return merged, nil
}

// merged copies layers into a new map; later layers win.
func merged[V any](layers ...map[string]V) map[string]V {
	out := map[string]V{}
	for _, m := range layers {
		maps.Copy(out, m)
	}
	return out
}

func firstNonNil[T any](values ...*T) *T {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
