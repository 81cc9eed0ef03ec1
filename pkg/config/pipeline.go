package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Sternrassler/etl-api-client/internal/coerce"
	"github.com/Sternrassler/etl-api-client/pkg/client"
	"github.com/Sternrassler/etl-api-client/pkg/pagination"
	"github.com/Sternrassler/etl-api-client/pkg/ratelimit"
	"gopkg.in/yaml.v3"
)

// Source types.
const (
	SourceTypeAPI      = "api"
	SourceTypeFile     = "file"
	SourceTypeDatabase = "database"
)

// ErrNotFound is returned by the lookup helpers.
var ErrNotFound = errors.New("not found")

// Source is one entry of the sources list. API fields are set for API
// sources; Options carries the raw block of every other type.
type Source struct {
	Name string
	Type string

	// API sources
	URL                string
	API                string
	Endpoint           string
	Headers            map[string]string
	QueryParams        map[string]any
	PathParams         map[string]string
	Pagination         *pagination.Config
	RateLimit          *ratelimit.Config
	Retry              *client.RetryPolicy
	RetryNetworkErrors bool
	Session            map[string]any

	Options map[string]any
}

// SourceFromMap parses a source block. Sources without a string name return
// (nil, nil) and are skipped by the pipeline parser.
func SourceFromMap(v any) (*Source, error) {
	m, ok := coerce.Mapping(v)
	if !ok {
		return nil, fmt.Errorf("source: %w", ErrNotMapping)
	}
	name, ok := m["name"].(string)
	if !ok {
		return nil, nil
	}

	src := &Source{
		Name:    name,
		Type:    strings.ToLower(coerce.StringOr(m["type"], "")),
		Options: mapping(m),
	}
	if src.Type != SourceTypeAPI {
		return src, nil
	}

	src.URL = coerce.StringOr(m["url"], "")
	src.API = coerce.StringOr(m["api"], coerce.StringOr(m["service"], ""))
	src.Endpoint = coerce.StringOr(m["endpoint"], "")
	src.Headers = coerce.StringMap(m["headers"])
	src.QueryParams = mapping(m["query_params"])
	src.PathParams = coerce.StringMap(m["path_params"])
	src.RetryNetworkErrors = truthy(m["retry_network_errors"])
	if sess, ok := coerce.Mapping(m["session"]); ok {
		src.Session = sess
	}

	var err error
	if src.Pagination, err = pagination.ConfigFromMap(m["pagination"]); err != nil {
		return nil, fmt.Errorf("source %q pagination: %w", name, err)
	}
	if src.RateLimit, err = ratelimit.ConfigFromMap(m["rate_limit"]); err != nil {
		return nil, fmt.Errorf("source %q rate_limit: %w", name, err)
	}
	if src.Retry, err = client.RetryPolicyFromMap(m["retry"]); err != nil {
		return nil, fmt.Errorf("source %q retry: %w", name, err)
	}
	return src, nil
}

// Target is one entry of the targets list. API targets either name a URL
// directly or reference an API endpoint; Options carries the raw block.
type Target struct {
	Name string
	Type string

	// API targets
	URL      string
	Method   string
	Headers  map[string]string
	API      string
	Endpoint string

	Options map[string]any
}

// TargetFromMap parses a target block. Targets without a string name return
// (nil, nil) and are skipped by the pipeline parser.
func TargetFromMap(v any) (*Target, error) {
	m, ok := coerce.Mapping(v)
	if !ok {
		return nil, fmt.Errorf("target: %w", ErrNotMapping)
	}
	name, ok := m["name"].(string)
	if !ok {
		return nil, nil
	}
	t := &Target{
		Name:    name,
		Type:    strings.ToLower(coerce.StringOr(m["type"], "")),
		Options: mapping(m),
	}
	if t.Type == SourceTypeAPI {
		t.URL = coerce.StringOr(m["url"], "")
		t.Method = strings.ToUpper(coerce.StringOr(m["method"], ""))
		t.Headers = coerce.StringMap(m["headers"])
		t.API = coerce.StringOr(m["api"], coerce.StringOr(m["service"], ""))
		t.Endpoint = coerce.StringOr(m["endpoint"], "")
	}
	return t, nil
}

// ExtractRef points a job at a source with per-job option overrides.
type ExtractRef struct {
	Source  string
	Options map[string]any
}

// LoadRef points a job at a target. Overrides may replace url, method,
// headers (merged) and timeout of an API target.
type LoadRef struct {
	Target    string
	Overrides map[string]any
}

// Job is one entry of the jobs list.
type Job struct {
	Name        string
	Description string
	Extract     *ExtractRef
	Load        *LoadRef

	// Transform and validation steps are carried through unparsed.
	Transform map[string]any
	Validate  map[string]any
}

// JobFromMap parses a job block. Jobs without a string name return
// (nil, nil).
func JobFromMap(v any) (*Job, error) {
	m, ok := coerce.Mapping(v)
	if !ok {
		return nil, fmt.Errorf("job: %w", ErrNotMapping)
	}
	name, ok := m["name"].(string)
	if !ok {
		return nil, nil
	}

	job := &Job{
		Name:        name,
		Description: coerce.StringOr(m["description"], ""),
	}
	if ex, ok := coerce.Mapping(m["extract"]); ok {
		if src := coerce.StringOr(ex["source"], ""); src != "" {
			job.Extract = &ExtractRef{Source: src, Options: mapping(ex["options"])}
		}
	}
	if ld, ok := coerce.Mapping(m["load"]); ok {
		if target := coerce.StringOr(ld["target"], ""); target != "" {
			job.Load = &LoadRef{Target: target, Overrides: mapping(ld["overrides"])}
		}
	}
	if tr, ok := coerce.Mapping(m["transform"]); ok {
		job.Transform = tr
	}
	if va, ok := coerce.Mapping(m["validate"]); ok {
		job.Validate = va
	}
	return job, nil
}

// PipelineConfig is the root of a pipeline YAML file.
type PipelineConfig struct {
	Name    string
	Version string
	Vars    map[string]any
	APIs    map[string]*ApiConfig
	Sources []*Source
	Targets []*Target
	Jobs    []*Job
}

// PipelineFromMap parses a decoded pipeline document.
func PipelineFromMap(v any) (*PipelineConfig, error) {
	m, ok := coerce.Mapping(v)
	if !ok {
		return nil, fmt.Errorf("pipeline root: %w", ErrNotMapping)
	}

	cfg := &PipelineConfig{
		Name:    coerce.StringOr(m["name"], ""),
		Version: coerce.StringOr(m["version"], ""),
		Vars:    mapping(m["vars"]),
		APIs:    map[string]*ApiConfig{},
	}

	if raw, ok := coerce.Mapping(m["apis"]); ok {
		for name, a := range raw {
			api, err := ApiFromMap(a)
			if err != nil {
				return nil, fmt.Errorf("api %q: %w", name, err)
			}
			cfg.APIs[name] = api
		}
	}

	for _, raw := range list(m["sources"]) {
		if _, ok := coerce.Mapping(raw); !ok {
			continue
		}
		src, err := SourceFromMap(raw)
		if err != nil {
			return nil, err
		}
		if src != nil {
			cfg.Sources = append(cfg.Sources, src)
		}
	}

	for _, raw := range list(m["targets"]) {
		if _, ok := coerce.Mapping(raw); !ok {
			continue
		}
		t, err := TargetFromMap(raw)
		if err != nil {
			return nil, err
		}
		if t != nil {
			cfg.Targets = append(cfg.Targets, t)
		}
	}

	for _, raw := range list(m["jobs"]) {
		if _, ok := coerce.Mapping(raw); !ok {
			continue
		}
		job, err := JobFromMap(raw)
		if err != nil {
			return nil, err
		}
		if job != nil {
			cfg.Jobs = append(cfg.Jobs, job)
		}
	}
	return cfg, nil
}

// ParsePipeline decodes pipeline YAML.
func ParsePipeline(data []byte) (*PipelineConfig, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode pipeline yaml: %w", err)
	}
	return PipelineFromMap(raw)
}

// LoadPipeline reads and parses a pipeline YAML file.
func LoadPipeline(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline config: %w", err)
	}
	cfg, err := ParsePipeline(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Job returns the job called name.
func (p *PipelineConfig) Job(name string) (*Job, error) {
	for _, j := range p.Jobs {
		if j.Name == name {
			return j, nil
		}
	}
	return nil, fmt.Errorf("job %q: %w", name, ErrNotFound)
}

// Source returns the source called name.
func (p *PipelineConfig) Source(name string) (*Source, error) {
	for _, s := range p.Sources {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("source %q: %w", name, ErrNotFound)
}

// Target returns the target called name.
func (p *PipelineConfig) Target(name string) (*Target, error) {
	for _, t := range p.Targets {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("target %q: %w", name, ErrNotFound)
}

// Endpoint returns the API and endpoint configuration for api/endpoint.
func (p *PipelineConfig) Endpoint(api, endpoint string) (*ApiConfig, *EndpointConfig, error) {
	a, ok := p.APIs[api]
	if !ok {
		return nil, nil, fmt.Errorf("api %q: %w", api, ErrNotFound)
	}
	ep, ok := a.Endpoints[endpoint]
	if !ok {
		return nil, nil, fmt.Errorf("endpoint %q in api %q: %w", endpoint, api, ErrNotFound)
	}
	return a, ep, nil
}

func list(v any) []any {
	l, _ := v.([]any)
	return l
}
