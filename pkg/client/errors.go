package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Configuration errors, returned eagerly and never retried.
var (
	// ErrInvalidBaseURL is returned when base_url is not an absolute URL.
	ErrInvalidBaseURL = errors.New("base_url must be an absolute URL with scheme and host")

	// ErrUnknownEndpoint is returned for an endpoint key that is not configured.
	ErrUnknownEndpoint = errors.New("unknown endpoint")

	// ErrMissingPathParam is returned when a path template placeholder has no value.
	ErrMissingPathParam = errors.New("missing path parameter")

	// ErrInvalidTemplate is returned for malformed path templates.
	ErrInvalidTemplate = errors.New("invalid path template")

	// ErrInvalidEndpoint is returned for empty endpoint keys or paths.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrUnsupportedMethod is returned by Send for methods outside SendMethods.
	ErrUnsupportedMethod = errors.New("unsupported HTTP method")
)

// Runtime errors.
var (
	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrInvalidSession is returned when a session factory yields no session.
	ErrInvalidSession = errors.New("invalid session")
)

// ErrorClass represents a classification of request failures, used as a
// metrics label.
type ErrorClass string

const (
	// ErrorClassAuth represents 401/403 responses.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassClient represents other 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents timeouts and connection errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassOther represents failures that fit no other class.
	ErrorClassOther ErrorClass = "other"
)

// classifyStatus maps an HTTP status to its ErrorClass.
func classifyStatus(status int) ErrorClass {
	switch {
	case isAuthStatus(status):
		return ErrorClassAuth
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassOther
	}
}

func isAuthStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// HTTPStatusError is returned by a single fetch for a non-2xx response.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Status     string
	Body       []byte
}

// Error implements the error interface.
func (e *HTTPStatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("GET %s: %s", e.URL, e.Status)
	}
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

// RequestError is the terminal failure of a retried request.
type RequestError struct {
	URL      string
	Status   int // 0 when no response was received
	Attempts int
	Retried  bool
	Policy   *RetryPolicy
	Err      error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	msg := fmt.Sprintf("request failed url=%q status=%d attempts=%d retried=%t",
		e.URL, e.Status, e.Attempts, e.Retried)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// AuthError is a RequestError for a 401 or 403 response. It unwraps to the
// embedded *RequestError so errors.As matches both types.
type AuthError struct {
	*RequestError
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return "auth " + e.RequestError.Error()
}

// Unwrap returns the embedded RequestError.
func (e *AuthError) Unwrap() error {
	return e.RequestError
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Status
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
