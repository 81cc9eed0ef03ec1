package config

import (
	"errors"
	"testing"

	"github.com/Sternrassler/etl-api-client/pkg/pagination"
)

func TestProfileFromMap(t *testing.T) {
	prof, err := ProfileFromMap(map[string]any{
		"base_url":  "https://api.example.com",
		"base_path": "/v2",
		"headers":   map[string]any{"X-Env": "prod"},
		"defaults": map[string]any{
			"headers":    map[string]any{"X-Env": "dev", "Accept": "application/json"},
			"pagination": map[string]any{"type": "page", "params": map[string]any{"per_page": "size"}, "defaults": map[string]any{"per_page": 25}},
			"rate_limit": map[string]any{"max_per_sec": 2},
		},
	})
	if err != nil {
		t.Fatalf("ProfileFromMap() error = %v", err)
	}

	if prof.Headers["X-Env"] != "prod" || prof.Headers["Accept"] != "application/json" {
		t.Errorf("Headers = %v, top-level should override defaults", prof.Headers)
	}
	if prof.BasePath != "/v2" {
		t.Errorf("BasePath = %q, want /v2", prof.BasePath)
	}
	pd := prof.PaginationDefaults
	if pd == nil || pd.Type != pagination.TypePage || pd.SizeParam != "size" || pd.PageSize == nil || *pd.PageSize != 25 {
		t.Errorf("PaginationDefaults = %+v", pd)
	}
	if rl := prof.RateLimitDefaults; rl == nil || rl.MaxPerSec == nil || *rl.MaxPerSec != 2 {
		t.Errorf("RateLimitDefaults = %+v", rl)
	}
}

func TestProfileFromMap_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		wantErr error
	}{
		{name: "not a mapping", input: "https://api.example.com", wantErr: ErrNotMapping},
		{name: "missing base url", input: map[string]any{"headers": map[string]any{}}, wantErr: ErrMissingBaseURL},
		{name: "non-string base url", input: map[string]any{"base_url": 42}, wantErr: ErrMissingBaseURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ProfileFromMap(tt.input); !errors.Is(err, tt.wantErr) {
				t.Errorf("ProfileFromMap() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEndpointFromValue(t *testing.T) {
	ep, err := EndpointFromValue("/users/{id}")
	if err != nil || ep.Path != "/users/{id}" {
		t.Fatalf("EndpointFromValue(string) = %+v, %v", ep, err)
	}

	ep, err = EndpointFromValue(map[string]any{
		"url":          "/issues",
		"method":       "get",
		"query_params": map[string]any{"state": "open"},
		"pagination":   map[string]any{"type": "cursor", "cursor_path": "next"},
		"retry":        map[string]any{"max_attempts": 5},
	})
	if err != nil {
		t.Fatalf("EndpointFromValue(map) error = %v", err)
	}
	if ep.Path != "/issues" || ep.Method != "GET" {
		t.Errorf("endpoint = %+v", ep)
	}
	if ep.QueryParams["state"] != "open" {
		t.Errorf("QueryParams = %v", ep.QueryParams)
	}
	if ep.Pagination == nil || ep.Pagination.Type != pagination.TypeCursor || ep.Pagination.CursorPath != "next" {
		t.Errorf("Pagination = %+v", ep.Pagination)
	}
	if ep.Retry == nil || ep.Retry.MaxAttempts != 5 {
		t.Errorf("Retry = %+v", ep.Retry)
	}

	if _, err := EndpointFromValue(map[string]any{"method": "GET"}); !errors.Is(err, ErrMissingPath) {
		t.Errorf("missing path error = %v, want ErrMissingPath", err)
	}
	if _, err := EndpointFromValue(42); !errors.Is(err, ErrNotMapping) {
		t.Errorf("invalid endpoint error = %v, want ErrNotMapping", err)
	}
	if _, err := EndpointFromValue(map[string]any{"path": "/x", "pagination": "page"}); !errors.Is(err, pagination.ErrNotMapping) {
		t.Errorf("invalid pagination error = %v, want pagination.ErrNotMapping", err)
	}
}

func TestApiFromMap_Profiles(t *testing.T) {
	api, err := ApiFromMap(map[string]any{
		"headers": map[string]any{"X-Top": "1"},
		"profiles": map[string]any{
			"staging": map[string]any{"base_url": "https://staging.example.com"},
			"default": map[string]any{
				"base_url":  "https://api.example.com",
				"base_path": "v1",
				"headers":   map[string]any{"X-Env": "prod"},
				"auth":      map[string]any{"type": "bearer", "token": "t0k"},
			},
			"broken": "not a mapping",
		},
		"endpoints": map[string]any{"user": "/users/{id}"},
	})
	if err != nil {
		t.Fatalf("ApiFromMap() error = %v", err)
	}

	if api.BaseURL != "https://api.example.com" {
		t.Errorf("BaseURL = %q, want default profile base", api.BaseURL)
	}
	if api.Headers["X-Env"] != "prod" || api.Headers["X-Top"] != "1" {
		t.Errorf("Headers = %v", api.Headers)
	}
	if len(api.Profiles) != 2 {
		t.Errorf("Profiles = %d, want 2 (non-mapping skipped)", len(api.Profiles))
	}
	if auth := api.EffectiveAuth(); auth["type"] != "bearer" || auth["token"] != "t0k" {
		t.Errorf("EffectiveAuth() = %v", auth)
	}
	if (&ApiConfig{}).EffectiveAuth() != nil {
		t.Error("EffectiveAuth() without profiles should be nil")
	}

	got, err := api.EndpointURL("user", map[string]string{"id": "7"})
	if err != nil {
		t.Fatalf("EndpointURL() error = %v", err)
	}
	if want := "https://api.example.com/v1/users/7"; got != want {
		t.Errorf("EndpointURL() = %q, want %q", got, want)
	}
}

func TestApiConfig_SelectedProfile(t *testing.T) {
	api, err := ApiFromMap(map[string]any{
		"profiles": map[string]any{
			"zeta":  map[string]any{"base_url": "https://z.example.com"},
			"alpha": map[string]any{"base_url": "https://a.example.com", "base_path": "/a"},
		},
	})
	if err != nil {
		t.Fatalf("ApiFromMap() error = %v", err)
	}
	if api.BaseURL != "https://a.example.com" || api.EffectiveBasePath() != "/a" {
		t.Errorf("selected profile = %q %q, want alpha", api.BaseURL, api.EffectiveBasePath())
	}

	flat, err := ApiFromMap(map[string]any{"base_url": "https://flat.example.com"})
	if err != nil {
		t.Fatalf("ApiFromMap() error = %v", err)
	}
	if flat.SelectedProfile() != nil || flat.EffectivePaginationDefaults() != nil || flat.EffectiveRateLimitDefaults() != nil {
		t.Error("flat API should have no profile defaults")
	}
}

func TestApiFromMap_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		wantErr error
	}{
		{name: "not a mapping", input: []any{}, wantErr: ErrNotMapping},
		{name: "no base url and no profiles", input: map[string]any{"endpoints": map[string]any{}}, wantErr: ErrMissingBaseURL},
		{name: "profile without base url", input: map[string]any{"profiles": map[string]any{"default": map[string]any{}}}, wantErr: ErrMissingBaseURL},
		{name: "bad endpoint", input: map[string]any{"base_url": "https://x", "endpoints": map[string]any{"a": map[string]any{}}}, wantErr: ErrMissingPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ApiFromMap(tt.input); !errors.Is(err, tt.wantErr) {
				t.Errorf("ApiFromMap() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		input    any
		expected bool
	}{
		{true, true},
		{"yes", true},
		{"False", false},
		{1, true},
		{0, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := truthy(tt.input); got != tt.expected {
			t.Errorf("truthy(%v) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}
