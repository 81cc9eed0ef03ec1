// Package config models the YAML pipeline configuration: API services with
// profiles and endpoints, sources, and jobs. Parsing is tolerant: unknown
// keys are ignored, numbers are coerced, and only structural problems are
// errors.
package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/Sternrassler/etl-api-client/internal/coerce"
	"github.com/Sternrassler/etl-api-client/pkg/client"
	"github.com/Sternrassler/etl-api-client/pkg/pagination"
	"github.com/Sternrassler/etl-api-client/pkg/ratelimit"
)

// Structural configuration errors.
var (
	// ErrNotMapping is returned when a block that must be a mapping is not.
	ErrNotMapping = errors.New("config block must be a mapping")

	// ErrMissingBaseURL is returned when an API or profile has no base_url
	// string.
	ErrMissingBaseURL = errors.New(`missing "base_url" (string)`)

	// ErrMissingPath is returned for an endpoint without a path string.
	ErrMissingPath = errors.New(`endpoint requires a "path" (string)`)
)

// DefaultProfile is the profile selected when present.
const DefaultProfile = "default"

// ApiProfileConfig is one named profile of an API service.
type ApiProfileConfig struct {
	BaseURL  string
	BasePath string
	Headers  map[string]string
	Auth     map[string]any

	// Lowest-precedence defaults for endpoints of this API.
	PaginationDefaults *pagination.Config
	RateLimitDefaults  *ratelimit.Config
}

// ProfileFromMap parses a profile block. Headers from defaults.headers are
// overridden by top-level headers.
func ProfileFromMap(v any) (*ApiProfileConfig, error) {
	m, ok := coerce.Mapping(v)
	if !ok {
		return nil, fmt.Errorf("profile: %w", ErrNotMapping)
	}
	base, ok := m["base_url"].(string)
	if !ok {
		return nil, fmt.Errorf("profile: %w", ErrMissingBaseURL)
	}

	defaults, _ := coerce.Mapping(m["defaults"])
	headers := coerce.StringMap(defaults["headers"])
	maps.Copy(headers, coerce.StringMap(m["headers"]))

	auth, _ := coerce.Mapping(m["auth"])

	p := &ApiProfileConfig{
		BaseURL:            base,
		BasePath:           coerce.StringOr(m["base_path"], ""),
		Headers:            headers,
		Auth:               maps.Clone(auth),
		PaginationDefaults: pagination.ConfigFromDefaults(defaults["pagination"]),
	}
	if rl, err := ratelimit.ConfigFromMap(defaults["rate_limit"]); err == nil && !rl.IsZero() {
		p.RateLimitDefaults = rl
	}
	return p, nil
}

// EndpointConfig is one endpoint of an API service.
type EndpointConfig struct {
	Path        string
	Method      string
	PathParams  map[string]any
	QueryParams map[string]any
	Body        any

	Pagination         *pagination.Config
	RateLimit          *ratelimit.Config
	Retry              *client.RetryPolicy
	RetryNetworkErrors bool
}

// EndpointFromValue parses either a bare path string or an endpoint mapping.
// A mapping may name its path "path" or "url".
func EndpointFromValue(v any) (*EndpointConfig, error) {
	if s, ok := v.(string); ok {
		return &EndpointConfig{Path: s}, nil
	}
	m, ok := coerce.Mapping(v)
	if !ok {
		return nil, fmt.Errorf("endpoint must be a string or mapping, got %T: %w", v, ErrNotMapping)
	}

	path, ok := m["path"].(string)
	if !ok || path == "" {
		path, ok = m["url"].(string)
	}
	if !ok {
		return nil, ErrMissingPath
	}

	ep := &EndpointConfig{
		Path:               path,
		Method:             strings.ToUpper(coerce.StringOr(m["method"], "")),
		PathParams:         mapping(m["path_params"]),
		QueryParams:        mapping(m["query_params"]),
		Body:               m["body"],
		RetryNetworkErrors: truthy(m["retry_network_errors"]),
	}

	var err error
	if ep.Pagination, err = pagination.ConfigFromMap(m["pagination"]); err != nil {
		return nil, fmt.Errorf("endpoint pagination: %w", err)
	}
	if ep.RateLimit, err = ratelimit.ConfigFromMap(m["rate_limit"]); err != nil {
		return nil, fmt.Errorf("endpoint rate_limit: %w", err)
	}
	if ep.Retry, err = client.RetryPolicyFromMap(m["retry"]); err != nil {
		return nil, fmt.Errorf("endpoint retry: %w", err)
	}
	return ep, nil
}

// ApiConfig is one API service.
type ApiConfig struct {
	// BaseURL and Headers are the effective values: taken from the selected
	// profile when profiles exist, with top-level headers layered on top.
	BaseURL string
	Headers map[string]string

	Endpoints map[string]*EndpointConfig
	Profiles  map[string]*ApiProfileConfig

	Retry              *client.RetryPolicy
	RetryNetworkErrors bool
}

// ApiFromMap parses an API block. Either base_url or a profiles block must
// be present. Profiles that are not mappings are skipped.
func ApiFromMap(v any) (*ApiConfig, error) {
	m, ok := coerce.Mapping(v)
	if !ok {
		return nil, fmt.Errorf("api: %w", ErrNotMapping)
	}

	api := &ApiConfig{
		Endpoints:          map[string]*EndpointConfig{},
		Profiles:           map[string]*ApiProfileConfig{},
		RetryNetworkErrors: truthy(m["retry_network_errors"]),
	}

	if raw, ok := coerce.Mapping(m["profiles"]); ok {
		for name, p := range raw {
			if _, isMap := coerce.Mapping(p); !isMap {
				continue
			}
			prof, err := ProfileFromMap(p)
			if err != nil {
				return nil, fmt.Errorf("profile %q: %w", name, err)
			}
			api.Profiles[name] = prof
		}
	}

	topHeaders := coerce.StringMap(m["headers"])
	if prof := api.SelectedProfile(); prof != nil {
		api.BaseURL = prof.BaseURL
		api.Headers = maps.Clone(prof.Headers)
		maps.Copy(api.Headers, topHeaders)
	} else {
		base, ok := m["base_url"].(string)
		if !ok {
			return nil, fmt.Errorf("api: %w", ErrMissingBaseURL)
		}
		api.BaseURL = base
		api.Headers = topHeaders
	}

	if raw, ok := coerce.Mapping(m["endpoints"]); ok {
		for name, e := range raw {
			ep, err := EndpointFromValue(e)
			if err != nil {
				return nil, fmt.Errorf("endpoint %q: %w", name, err)
			}
			api.Endpoints[name] = ep
		}
	}

	var err error
	if api.Retry, err = client.RetryPolicyFromMap(m["retry"]); err != nil {
		return nil, fmt.Errorf("api retry: %w", err)
	}
	return api, nil
}

// SelectedProfile returns the "default" profile, else the first profile by
// name, else nil.
func (a *ApiConfig) SelectedProfile() *ApiProfileConfig {
	if len(a.Profiles) == 0 {
		return nil
	}
	if p, ok := a.Profiles[DefaultProfile]; ok {
		return p
	}
	names := slices.Sorted(maps.Keys(a.Profiles))
	return a.Profiles[names[0]]
}

// EffectiveBasePath returns the selected profile's base path.
func (a *ApiConfig) EffectiveBasePath() string {
	if p := a.SelectedProfile(); p != nil {
		return p.BasePath
	}
	return ""
}

// EffectivePaginationDefaults returns the selected profile's pagination
// defaults.
func (a *ApiConfig) EffectivePaginationDefaults() *pagination.Config {
	if p := a.SelectedProfile(); p != nil {
		return p.PaginationDefaults
	}
	return nil
}

// EffectiveRateLimitDefaults returns the selected profile's rate limit
// defaults.
func (a *ApiConfig) EffectiveRateLimitDefaults() *ratelimit.Config {
	if p := a.SelectedProfile(); p != nil {
		return p.RateLimitDefaults
	}
	return nil
}

// EffectiveAuth returns the selected profile's auth block.
func (a *ApiConfig) EffectiveAuth() map[string]any {
	if p := a.SelectedProfile(); p != nil {
		return p.Auth
	}
	return nil
}

// EndpointPaths returns the endpoint table as key -> path template.
func (a *ApiConfig) EndpointPaths() map[string]string {
	out := make(map[string]string, len(a.Endpoints))
	for k, ep := range a.Endpoints {
		out[k] = ep.Path
	}
	return out
}

// EndpointURL composes the URL of endpoint key the same way the client
// does, including the effective base path.
func (a *ApiConfig) EndpointURL(key string, pathParams map[string]string) (string, error) {
	c, err := client.New(client.Config{
		BaseURL:   a.BaseURL,
		BasePath:  a.EffectiveBasePath(),
		Endpoints: a.EndpointPaths(),
	})
	if err != nil {
		return "", err
	}
	return c.URL(key, pathParams, nil)
}

func mapping(v any) map[string]any {
	m, ok := coerce.Mapping(v)
	if !ok {
		return map[string]any{}
	}
	return maps.Clone(m)
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true", "yes", "on":
			return true
		}
	default:
		if i, ok := coerce.ToInt(v); ok {
			return i != 0
		}
	}
	return false
}
