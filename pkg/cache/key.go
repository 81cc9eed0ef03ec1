package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix is the namespace of every cache key.
const KeyPrefix = "etl"

// CacheKey identifies one cached API response.
type CacheKey struct {
	// Method is the HTTP method (empty means GET)
	Method string

	// Endpoint is the absolute URL without its query string
	// (e.g., "https://api.example.com/v1/users")
	Endpoint string

	// QueryParams are the request query parameters, including pagination
	QueryParams url.Values

	// Scope separates responses that differ by credentials or API profile
	// (empty for public requests)
	Scope string
}

// KeyForURL builds a CacheKey from a request URL.
func KeyForURL(method string, u *url.URL, scope string) CacheKey {
	endpoint := *u
	endpoint.RawQuery = ""
	endpoint.Fragment = ""
	return CacheKey{
		Method:      method,
		Endpoint:    endpoint.String(),
		QueryParams: u.Query(),
		Scope:       scope,
	}
}

// String generates a deterministic cache key string.
// Format: etl:METHOD:endpoint:query1=v1,v2:query2=v:scope=name
//
// Example:
//
//	etl:GET:https://api.example.com/v1/users:page=2:per_page=50
func (k CacheKey) String() string {
	method := strings.ToUpper(k.Method)
	if method == "" {
		method = "GET"
	}
	parts := []string{KeyPrefix, method}

	if endpoint := strings.TrimRight(k.Endpoint, "/"); endpoint != "" {
		parts = append(parts, endpoint)
	}

	// Query params sorted by key; repeated values keep their order
	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, strings.Join(k.QueryParams[key], ",")))
		}
	}

	if k.Scope != "" {
		parts = append(parts, "scope="+k.Scope)
	}

	return strings.Join(parts, ":")
}
