package extract

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Sternrassler/etl-api-client/internal/coerce"
)

// ErrInvalidSessionConfig is returned for malformed session blocks.
var ErrInvalidSessionConfig = errors.New("invalid session config")

// BuildSession turns a session block into an *http.Client. Supported keys:
//
//	headers:   {name: value}     sent with every request
//	params:    {name: value}     added to every query string
//	auth:      [user, password]  HTTP basic auth
//	verify:    false             skip TLS certificate verification
//	cert:      [cert, key]       client certificate files
//	proxies:   {scheme: url}     per-scheme proxy
//	trust_env: false             ignore proxy environment variables
//
// A nil block yields (nil, nil) so the client falls back to its default.
func BuildSession(cfg map[string]any) (*http.Client, error) {
	if cfg == nil {
		return nil, nil
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if v, ok := cfg["verify"].(bool); ok && !v {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	if raw, ok := cfg["cert"]; ok {
		pair, ok := stringPair(raw)
		if !ok {
			return nil, fmt.Errorf("%w: cert must be [cert, key]", ErrInvalidSessionConfig)
		}
		cert, err := tls.LoadX509KeyPair(pair[0], pair[1])
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{}
		}
		transport.TLSClientConfig.Certificates = []tls.Certificate{cert}
	}

	proxies := coerce.StringMap(cfg["proxies"])
	trustEnv := true
	if v, ok := cfg["trust_env"].(bool); ok {
		trustEnv = v
	}
	proxy, err := proxyFunc(proxies, trustEnv)
	if err != nil {
		return nil, err
	}
	transport.Proxy = proxy

	rt := &sessionTransport{
		base:    transport,
		headers: coerce.StringMap(cfg["headers"]),
		params:  coerce.StringMap(cfg["params"]),
	}
	if raw, ok := cfg["auth"]; ok {
		pair, ok := stringPair(raw)
		if !ok {
			return nil, fmt.Errorf("%w: auth must be [user, password]", ErrInvalidSessionConfig)
		}
		rt.auth = &pair
	}

	return &http.Client{Transport: rt}, nil
}

// sessionTransport applies session-wide headers, query parameters and basic
// auth. Request-level values win.
type sessionTransport struct {
	base    http.RoundTripper
	headers map[string]string
	params  map[string]string
	auth    *[2]string
}

func (t *sessionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) == 0 && len(t.params) == 0 && t.auth == nil {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	if len(t.params) > 0 {
		q := req.URL.Query()
		for k, v := range t.params {
			if !q.Has(k) {
				q.Set(k, v)
			}
		}
		req.URL.RawQuery = q.Encode()
	}
	if t.auth != nil && req.Header.Get("Authorization") == "" {
		req.SetBasicAuth(t.auth[0], t.auth[1])
	}
	return t.base.RoundTrip(req)
}

func (t *sessionTransport) CloseIdleConnections() {
	if c, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}

func proxyFunc(proxies map[string]string, trustEnv bool) (func(*http.Request) (*url.URL, error), error) {
	parsed := make(map[string]*url.URL, len(proxies))
	for scheme, raw := range proxies {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: proxy for %q: %v", ErrInvalidSessionConfig, scheme, err)
		}
		parsed[scheme] = u
	}
	return func(req *http.Request) (*url.URL, error) {
		if u, ok := parsed[req.URL.Scheme]; ok {
			return u, nil
		}
		if trustEnv {
			return http.ProxyFromEnvironment(req)
		}
		return nil, nil
	}, nil
}

func stringPair(v any) ([2]string, bool) {
	var out [2]string
	items, ok := v.([]any)
	if !ok || len(items) != 2 {
		return out, false
	}
	for i, item := range items {
		s, ok := coerce.String(item)
		if !ok {
			return out, false
		}
		out[i] = s
	}
	return out, true
}
