package pagination

import (
	"maps"
	"time"
)

// Record is one normalized record of a page payload.
type Record = map[string]any

// RequestOptions is the per-call request snapshot reused across pages.
// Params and Headers are never mutated; every page gets its own copy.
type RequestOptions struct {
	Params  map[string]any
	Headers map[string]string
	Timeout time.Duration
}

// WithParams returns a copy of r whose Params are replaced by params.
func (r RequestOptions) WithParams(params map[string]any) RequestOptions {
	r.Params = maps.Clone(params)
	r.Headers = maps.Clone(r.Headers)
	return r
}

// mergeParams returns base overlaid with overrides, skipping nil values.
func mergeParams(base, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overrides))
	maps.Copy(out, base)
	for k, v := range overrides {
		if v != nil {
			out[k] = v
		}
	}
	return out
}
