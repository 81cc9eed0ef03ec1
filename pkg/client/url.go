package client

import (
	"fmt"
	"net/url"
	"strings"
)

// escapePathValue percent-encodes v as a single path segment. Slashes are
// encoded so a value can never introduce extra segments.
func escapePathValue(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}

// expandTemplate substitutes {name} placeholders in tmpl. "{{" and "}}"
// produce literal braces. Templates without braces are returned unchanged.
func expandTemplate(tmpl string, params map[string]string) (string, error) {
	if !strings.ContainsAny(tmpl, "{}") {
		return tmpl, nil
	}

	var b strings.Builder
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch c {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexAny(tmpl[i+1:], "{}")
			if end < 0 || tmpl[i+1+end] != '}' {
				return "", fmt.Errorf("%w %q: unmatched '{'", ErrInvalidTemplate, tmpl)
			}
			name := tmpl[i+1 : i+1+end]
			if name == "" {
				return "", fmt.Errorf("%w %q: empty placeholder", ErrInvalidTemplate, tmpl)
			}
			value, ok := params[name]
			if !ok {
				return "", fmt.Errorf("%w for placeholder %q", ErrMissingPathParam, name)
			}
			b.WriteString(escapePathValue(value))
			i += end + 1
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			return "", fmt.Errorf("%w %q: single '}' encountered", ErrInvalidTemplate, tmpl)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// parseBaseURL validates that raw is absolute.
func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, raw)
	}
	return u, nil
}

// joinURL appends basePath and relPath to base, keeps base query pairs
// first in their original order and appends query with form encoding.
func joinURL(base *url.URL, basePath, relPath string, query url.Values) string {
	path := strings.TrimRight(base.EscapedPath(), "/")
	if bp := strings.Trim(basePath, "/"); bp != "" {
		path += "/" + bp
	}
	path += "/" + strings.TrimLeft(relPath, "/")

	var b strings.Builder
	b.WriteString(base.Scheme)
	b.WriteString("://")
	if base.User != nil {
		b.WriteString(base.User.String())
		b.WriteByte('@')
	}
	b.WriteString(base.Host)
	b.WriteString(path)

	if qs := mergeQuery(base.RawQuery, query); qs != "" {
		b.WriteByte('?')
		b.WriteString(qs)
	}
	if base.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(base.EscapedFragment())
	}
	return b.String()
}

// mergeQuery re-encodes the pairs of rawBase in order and appends extra.
// Blank values are kept and duplicate keys are never collapsed.
func mergeQuery(rawBase string, extra url.Values) string {
	var pairs []string
	for _, part := range strings.Split(rawBase, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			key = k
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			val = v
		}
		pairs = append(pairs, url.QueryEscape(key)+"="+url.QueryEscape(val))
	}
	if encoded := extra.Encode(); encoded != "" {
		pairs = append(pairs, encoded)
	}
	return strings.Join(pairs, "&")
}

// appendQuery adds params to an absolute URL. Existing pairs keep their
// order and encoding unless params replaces their key; params follow them.
func appendQuery(raw string, params url.Values) (string, error) {
	if len(params) == 0 {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	var pairs []string
	for _, part := range strings.Split(u.RawQuery, "&") {
		if part == "" {
			continue
		}
		k, _, _ := strings.Cut(part, "=")
		if key, err := url.QueryUnescape(k); err == nil && params.Has(key) {
			continue
		}
		pairs = append(pairs, part)
	}
	pairs = append(pairs, params.Encode())
	u.RawQuery = strings.Join(pairs, "&")
	return u.String(), nil
}
