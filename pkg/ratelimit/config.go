// Package ratelimit spaces out sequential API requests with a fixed
// inter-request delay derived from either an explicit sleep interval or a
// requests-per-second cap.
package ratelimit

import (
	"fmt"

	"github.com/Sternrassler/etl-api-client/internal/coerce"
)

// Config is the rate limit block of an API, endpoint or job configuration.
// SleepSeconds and MaxPerSec are meant to be mutually exclusive; when both are
// positive SleepSeconds wins.
type Config struct {
	SleepSeconds *float64 `yaml:"sleep_seconds,omitempty" json:"sleep_seconds,omitempty"`
	MaxPerSec    *float64 `yaml:"max_per_sec,omitempty" json:"max_per_sec,omitempty"`
}

// IsZero reports whether neither field is set.
func (c *Config) IsZero() bool {
	return c == nil || (c.SleepSeconds == nil && c.MaxPerSec == nil)
}

// ConfigFromMap parses a decoded YAML/JSON mapping. Values that are not
// positive numbers are dropped. A nil input returns (nil, nil); any other
// non-mapping input is an error.
func ConfigFromMap(v any) (*Config, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := coerce.Mapping(v)
	if !ok {
		return nil, fmt.Errorf("rate_limit must be a mapping, got %T", v)
	}
	cfg := &Config{}
	if f, ok := coerce.PositiveFloat(m["sleep_seconds"]); ok {
		cfg.SleepSeconds = &f
	}
	if f, ok := coerce.PositiveFloat(m["max_per_sec"]); ok {
		cfg.MaxPerSec = &f
	}
	return cfg, nil
}

// Validate returns non-fatal warnings for suspicious values.
func (c *Config) Validate() []string {
	if c == nil {
		return nil
	}
	var warnings []string
	if c.SleepSeconds != nil && *c.SleepSeconds < 0 {
		warnings = append(warnings, "sleep_seconds should be >= 0")
	}
	if c.MaxPerSec != nil && *c.MaxPerSec <= 0 {
		warnings = append(warnings, "max_per_sec should be > 0")
	}
	return warnings
}

// ComputeSleepSeconds resolves the effective delay from a base configuration
// and optional overrides. Precedence: overrides.SleepSeconds,
// overrides.MaxPerSec, base.SleepSeconds, base.MaxPerSec. Invalid values are
// ignored and the result is never negative.
func ComputeSleepSeconds(base, overrides *Config) float64 {
	var sleep, rate *float64
	for _, c := range []*Config{overrides, base} {
		if c == nil {
			continue
		}
		if sleep == nil && c.SleepSeconds != nil && *c.SleepSeconds > 0 {
			sleep = c.SleepSeconds
		}
		if rate == nil && c.MaxPerSec != nil && *c.MaxPerSec > 0 {
			rate = c.MaxPerSec
		}
		// overrides that set either knob shadow the base
		if sleep != nil || rate != nil {
			break
		}
	}
	lim := FromConfig(&Config{SleepSeconds: sleep, MaxPerSec: rate})
	return lim.SleepSeconds()
}
