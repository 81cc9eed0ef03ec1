package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"slices"
	"syscall"
	"time"

	"github.com/Sternrassler/etl-api-client/internal/coerce"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_api_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "etl_api_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_api_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// DefaultRetryCap bounds every backoff sleep regardless of policy.
const DefaultRetryCap = 30 * time.Second

// DefaultRetryOn are the statuses retried when a policy names none.
var DefaultRetryOn = []int{429, 502, 503, 504}

// RetryPolicy holds the configuration for retry logic.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`

	// Backoff is the base backoff in seconds; attempt n sleeps up to
	// Backoff * 2^(n-1).
	Backoff float64 `yaml:"backoff,omitempty" json:"backoff,omitempty"`

	// RetryOn lists the HTTP statuses that trigger a retry. Empty means
	// DefaultRetryOn.
	RetryOn []int `yaml:"retry_on,omitempty" json:"retry_on,omitempty"`
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     0.5,
		RetryOn:     slices.Clone(DefaultRetryOn),
	}
}

// RetryPolicyFromMap parses a decoded YAML/JSON mapping. Missing or invalid
// values fall back to DefaultRetryPolicy. A nil input returns (nil, nil).
func RetryPolicyFromMap(v any) (*RetryPolicy, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := coerce.Mapping(v)
	if !ok {
		return nil, fmt.Errorf("retry must be a mapping, got %T", v)
	}

	p := DefaultRetryPolicy()
	p.MaxAttempts = coerce.PositiveInt(m["max_attempts"], p.MaxAttempts, 1)
	if f, ok := coerce.ToFloat(m["backoff"]); ok && f >= 0 {
		p.Backoff = f
	}
	if raw, ok := m["retry_on"].([]any); ok {
		var codes []int
		for _, c := range raw {
			if code, ok := coerce.ToInt(c); ok && code > 0 {
				codes = append(codes, code)
			}
		}
		if len(codes) > 0 {
			p.RetryOn = codes
		}
	}
	return &p, nil
}

// Attempts returns the effective attempt budget.
func (p *RetryPolicy) Attempts() int {
	if p == nil || p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// RetryableStatus reports whether status is in the retry set.
func (p *RetryPolicy) RetryableStatus(status int) bool {
	if p == nil || status <= 0 {
		return false
	}
	codes := p.RetryOn
	if len(codes) == 0 {
		codes = DefaultRetryOn
	}
	return slices.Contains(codes, status)
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryManager runs a single fetch with bounded, jittered retries.
type RetryManager struct {
	// Policy is the retry policy; nil means a single attempt.
	Policy *RetryPolicy

	// RetryNetworkErrors enables retries on timeouts and connection errors.
	RetryNetworkErrors bool

	// Cap bounds every backoff sleep (default DefaultRetryCap).
	Cap time.Duration

	// Sleep replaces the backoff sleep (for testing).
	Sleep SleepFunc

	// Rand returns a float in [0, 1) used for jitter (for testing).
	Rand func() float64

	logger zerolog.Logger
}

// NewRetryManager creates a RetryManager with the default cap, sleep and
// random source.
func NewRetryManager(policy *RetryPolicy, retryNetworkErrors bool) *RetryManager {
	return &RetryManager{
		Policy:             policy,
		RetryNetworkErrors: retryNetworkErrors,
		Cap:                DefaultRetryCap,
		Sleep:              sleepContext,
		Rand:               rand.Float64,
		logger:             log.With().Str("component", "retry").Logger(),
	}
}

// WithLogger sets the logger used for retry output.
func (m *RetryManager) WithLogger(logger zerolog.Logger) *RetryManager {
	m.logger = logger
	return m
}

// SleepTime returns the full-jitter backoff before the retry that follows
// attempt: uniform in [0, min(cap, backoff*2^(attempt-1))].
func (m *RetryManager) SleepTime(attempt int) time.Duration {
	attempt = max(attempt, 1)
	backoff := 0.0
	if m.Policy != nil {
		backoff = max(m.Policy.Backoff, 0)
	}
	capSeconds := m.Cap.Seconds()
	if m.Cap <= 0 {
		capSeconds = DefaultRetryCap.Seconds()
	}
	upper := math.Min(backoff*math.Pow(2, float64(attempt-1)), capSeconds)

	r := rand.Float64
	if m.Rand != nil {
		r = m.Rand
	}
	return time.Duration(r() * upper * float64(time.Second))
}

// Run calls fetchOnce until it succeeds, fails with a non-retryable error,
// or the attempt budget is spent. Terminal failures are *AuthError for 401
// and 403, else *RequestError.
func (m *RetryManager) Run(ctx context.Context, url string, fetchOnce func(context.Context) (any, error)) (any, error) {
	maxAttempts := m.Policy.Attempts()

	for attempt := 1; ; attempt++ {
		payload, err := fetchOnce(ctx)
		if err == nil {
			if attempt > 1 {
				m.logger.Info().
					Str("url", url).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return payload, nil
		}

		status := StatusOf(err)
		class := classifyError(status, err)

		if ctx.Err() != nil || !m.shouldRetry(status, err) {
			return nil, m.terminal(url, attempt, status, err)
		}
		if attempt >= maxAttempts {
			retryExhaustedTotal.WithLabelValues(string(class)).Inc()
			m.logger.Warn().
				Str("url", url).
				Str("error_class", string(class)).
				Int("max_attempts", maxAttempts).
				Msg("Retry attempts exhausted")
			return nil, m.terminal(url, attempt, status, err)
		}

		delay := m.SleepTime(attempt)
		retriesTotal.WithLabelValues(string(class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(delay.Seconds())

		m.logger.Debug().
			Str("url", url).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")

		sleep := m.Sleep
		if sleep == nil {
			sleep = sleepContext
		}
		if err := sleep(ctx, delay); err != nil {
			m.logger.Warn().
				Str("url", url).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
	}
}

func (m *RetryManager) shouldRetry(status int, err error) bool {
	if m.Policy == nil {
		return false
	}
	if m.Policy.RetryableStatus(status) {
		return true
	}
	return m.RetryNetworkErrors && status == 0 && IsNetworkError(err)
}

func (m *RetryManager) terminal(url string, attempt, status int, err error) error {
	reqErr := &RequestError{
		URL:      url,
		Status:   status,
		Attempts: attempt,
		Retried:  attempt > 1,
		Policy:   m.Policy,
		Err:      err,
	}
	if isAuthStatus(status) {
		return &AuthError{RequestError: reqErr}
	}
	return reqErr
}

// IsNetworkError reports whether err is a timeout or a connection error.
// Other failures are never treated as network errors.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED)
}

func classifyError(status int, err error) ErrorClass {
	if status > 0 {
		return classifyStatus(status)
	}
	if IsNetworkError(err) {
		return ErrorClassNetwork
	}
	return ErrorClassOther
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
