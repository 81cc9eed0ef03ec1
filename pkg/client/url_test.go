package client

import (
	"errors"
	"net/url"
	"testing"
)

func newTestClient(t *testing.T, baseURL, basePath string, endpoints map[string]string) *EndpointClient {
	t.Helper()
	cfg := DefaultConfig(baseURL, endpoints)
	cfg.BasePath = basePath
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestURL(t *testing.T) {
	tests := []struct {
		name       string
		baseURL    string
		basePath   string
		endpoint   string
		pathParams map[string]string
		query      url.Values
		expected   string
	}{
		{
			name:       "path parameter",
			baseURL:    "https://api.example.com/v1",
			endpoint:   "/users/{id}",
			pathParams: map[string]string{"id": "42"},
			expected:   "https://api.example.com/v1/users/42",
		},
		{
			name:     "base query preserved and first",
			baseURL:  "https://api.example.com/v1?existing=a",
			endpoint: "/search",
			query:    url.Values{"q": {"x y"}},
			expected: "https://api.example.com/v1/search?existing=a&q=x+y",
		},
		{
			name:       "slash in value stays one segment",
			baseURL:    "https://api.example.com",
			endpoint:   "/files/{name}",
			pathParams: map[string]string{"name": "../etc/passwd"},
			expected:   "https://api.example.com/files/..%2Fetc%2Fpasswd",
		},
		{
			name:       "space in path value",
			baseURL:    "https://api.example.com",
			endpoint:   "/tags/{tag}",
			pathParams: map[string]string{"tag": "a b"},
			expected:   "https://api.example.com/tags/a%20b",
		},
		{
			name:     "base path joined",
			baseURL:  "https://api.example.com/api/",
			basePath: "/v2/",
			endpoint: "items",
			expected: "https://api.example.com/api/v2/items",
		},
		{
			name:     "duplicate keys preserved",
			baseURL:  "https://api.example.com?x=1&x=2",
			endpoint: "/items",
			query:    url.Values{"tag": {"a", "b"}},
			expected: "https://api.example.com/items?x=1&x=2&tag=a&tag=b",
		},
		{
			name:     "blank base value kept",
			baseURL:  "https://api.example.com?flag=",
			endpoint: "/items",
			expected: "https://api.example.com/items?flag=",
		},
		{
			name:       "escaped braces",
			baseURL:    "https://api.example.com",
			endpoint:   "/{{raw}}/{id}",
			pathParams: map[string]string{"id": "7"},
			expected:   "https://api.example.com/{raw}/7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.baseURL, tt.basePath, map[string]string{"ep": tt.endpoint})
			got, err := c.URL("ep", tt.pathParams, tt.query)
			if err != nil {
				t.Fatalf("URL() error = %v", err)
			}
			if got != tt.expected {
				t.Errorf("URL() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestURL_Errors(t *testing.T) {
	c := newTestClient(t, "https://api.example.com", "", map[string]string{
		"user":       "/users/{id}",
		"unclosed":   "/users/{id",
		"empty":      "/users/{}",
		"stray":      "/users/id}",
		"no_markers": "/plain",
	})

	tests := []struct {
		name       string
		key        string
		pathParams map[string]string
		wantErr    error
	}{
		{name: "unknown key", key: "missing", wantErr: ErrUnknownEndpoint},
		{name: "missing placeholder", key: "user", wantErr: ErrMissingPathParam},
		{name: "unclosed brace", key: "unclosed", pathParams: map[string]string{"id": "1"}, wantErr: ErrInvalidTemplate},
		{name: "empty placeholder", key: "empty", wantErr: ErrInvalidTemplate},
		{name: "stray closing brace", key: "stray", wantErr: ErrInvalidTemplate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.URL(tt.key, tt.pathParams, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("URL() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if got, err := c.URL("no_markers", map[string]string{"unused": "x"}, nil); err != nil || got != "https://api.example.com/plain" {
		t.Errorf("URL(no_markers) = %q, %v", got, err)
	}
}

func TestAppendQuery(t *testing.T) {
	got, err := appendQuery("https://api.example.com/items?page=1&keep=yes", url.Values{"page": {"3"}, "per_page": {"50"}})
	if err != nil {
		t.Fatalf("appendQuery() error = %v", err)
	}
	want := "https://api.example.com/items?keep=yes&page=3&per_page=50"
	if got != want {
		t.Errorf("appendQuery() = %q, want %q", got, want)
	}

	if got, _ := appendQuery("https://api.example.com/x?a=1", nil); got != "https://api.example.com/x?a=1" {
		t.Errorf("appendQuery() with no params = %q", got)
	}

	got, err = appendQuery("https://api.example.com/x?zeta=1&alpha=a%20b&zeta=2&mid=", url.Values{"page": {"1"}})
	if err != nil {
		t.Fatalf("appendQuery() error = %v", err)
	}
	if want := "https://api.example.com/x?zeta=1&alpha=a%20b&zeta=2&mid=&page=1"; got != want {
		t.Errorf("appendQuery() = %q, want existing pairs kept in order: %q", got, want)
	}
}
