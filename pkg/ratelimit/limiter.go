package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for request pacing.
var (
	rateLimitSleepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "etl_api_rate_limit_sleeps_total",
		Help: "Total number of inter-request rate limit sleeps",
	})

	rateLimitSleepSecondsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "etl_api_rate_limit_sleep_seconds_total",
		Help: "Total seconds spent sleeping between requests",
	})
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Limiter holds a single non-negative delay applied between requests.
// Pagination is strictly sequential, so a Limiter needs no locking.
type Limiter struct {
	sleepSeconds float64
	maxPerSec    float64
	sleep        SleepFunc
}

// New normalizes the two knobs: a positive finite sleepSeconds is canonical, else a
// positive maxPerSec is converted to 1/maxPerSec, else the limiter is
// disabled.
func New(sleepSeconds, maxPerSec float64) *Limiter {
	l := &Limiter{sleep: sleepContext}
	switch {
	case sleepSeconds > 0 && !math.IsInf(sleepSeconds, 1):
		l.sleepSeconds = sleepSeconds
		l.maxPerSec = 1 / sleepSeconds
	case maxPerSec > 0 && !math.IsInf(maxPerSec, 1):
		l.maxPerSec = maxPerSec
		l.sleepSeconds = 1 / maxPerSec
	}
	return l
}

// FromConfig builds a Limiter from cfg; nil or invalid values disable it.
func FromConfig(cfg *Config) *Limiter {
	if cfg == nil {
		return Disabled()
	}
	var sleep, rate float64
	if cfg.SleepSeconds != nil {
		sleep = *cfg.SleepSeconds
	}
	if cfg.MaxPerSec != nil {
		rate = *cfg.MaxPerSec
	}
	return New(sleep, rate)
}

// Disabled returns a limiter that never sleeps.
func Disabled() *Limiter {
	return New(0, 0)
}

// Fixed returns a limiter with the given delay; negative values disable it.
func Fixed(seconds float64) *Limiter {
	return New(seconds, 0)
}

// WithSleepFunc replaces the sleep implementation (for testing).
func (l *Limiter) WithSleepFunc(fn SleepFunc) *Limiter {
	if fn != nil {
		l.sleep = fn
	}
	return l
}

// Enabled reports whether Enforce applies any delay.
func (l *Limiter) Enabled() bool {
	return l != nil && l.sleepSeconds > 0
}

// SleepSeconds returns the effective delay in seconds (0 when disabled).
func (l *Limiter) SleepSeconds() float64 {
	if l == nil {
		return 0
	}
	return l.sleepSeconds
}

// MaxPerSec returns the effective request rate, or 0 when disabled.
func (l *Limiter) MaxPerSec() float64 {
	if l == nil {
		return 0
	}
	return l.maxPerSec
}

// Interval returns the delay as a time.Duration, saturating at the largest
// representable duration.
func (l *Limiter) Interval() time.Duration {
	ns := l.SleepSeconds() * float64(time.Second)
	if ns >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}

// Enforce blocks for the configured delay. It is a no-op when the limiter is
// disabled and returns ctx.Err() if the context ends first.
func (l *Limiter) Enforce(ctx context.Context) error {
	if !l.Enabled() {
		return nil
	}
	d := l.Interval()
	rateLimitSleepsTotal.Inc()
	rateLimitSleepSecondsTotal.Add(d.Seconds())
	return l.sleep(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
