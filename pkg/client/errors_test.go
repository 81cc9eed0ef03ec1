package client

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected ErrorClass
	}{
		{name: "unauthorized", status: 401, expected: ErrorClassAuth},
		{name: "forbidden", status: 403, expected: ErrorClassAuth},
		{name: "too many requests", status: 429, expected: ErrorClassRateLimit},
		{name: "not found", status: 404, expected: ErrorClassClient},
		{name: "bad gateway", status: 502, expected: ErrorClassServer},
		{name: "no status", status: 0, expected: ErrorClassOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyStatus(tt.status); got != tt.expected {
				t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.expected)
			}
		})
	}
}

func TestRequestError_Error(t *testing.T) {
	err := &RequestError{
		URL:      "https://api.example.com/items",
		Status:   503,
		Attempts: 3,
		Retried:  true,
		Err:      errors.New("service unavailable"),
	}

	msg := err.Error()
	for _, want := range []string{`url="https://api.example.com/items"`, "status=503", "attempts=3", "retried=true", "service unavailable"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestAuthError_Unwrap(t *testing.T) {
	cause := &HTTPStatusError{URL: "https://api.example.com/me", StatusCode: 401, Status: "401 Unauthorized"}
	var err error = &AuthError{RequestError: &RequestError{URL: cause.URL, Status: 401, Attempts: 1, Err: cause}}
	wrapped := fmt.Errorf("extract: %w", err)

	var authErr *AuthError
	if !errors.As(wrapped, &authErr) {
		t.Fatal("errors.As should find *AuthError")
	}

	var reqErr *RequestError
	if !errors.As(wrapped, &reqErr) {
		t.Fatal("errors.As should find the embedded *RequestError")
	}
	if reqErr.Status != 401 {
		t.Errorf("Status = %d, want 401", reqErr.Status)
	}

	var statusErr *HTTPStatusError
	if !errors.As(wrapped, &statusErr) {
		t.Fatal("errors.As should reach the *HTTPStatusError cause")
	}
	if !strings.HasPrefix(err.Error(), "auth ") {
		t.Errorf("Error() = %q, want auth prefix", err.Error())
	}
}

func TestRequestError_UnwrapNil(t *testing.T) {
	err := &RequestError{URL: "https://api.example.com", Status: 500}
	if err.Unwrap() != nil {
		t.Error("Unwrap() should return nil when no cause is set")
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "nil", err: nil, expected: 0},
		{name: "plain error", err: errors.New("boom"), expected: 0},
		{name: "status error", err: &HTTPStatusError{StatusCode: 429}, expected: 429},
		{name: "wrapped status error", err: fmt.Errorf("fetch: %w", &HTTPStatusError{StatusCode: 502}), expected: 502},
		{name: "request error", err: &RequestError{Status: 404}, expected: 404},
		{name: "auth error", err: &AuthError{RequestError: &RequestError{Status: 403}}, expected: 403},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusOf(tt.err); got != tt.expected {
				t.Errorf("StatusOf() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestHTTPStatusError_Error(t *testing.T) {
	err := &HTTPStatusError{URL: "https://api.example.com/x", StatusCode: 418}
	if got, want := err.Error(), "GET https://api.example.com/x: status 418"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	err.Status = "418 I'm a teapot"
	if got, want := err.Error(), "GET https://api.example.com/x: 418 I'm a teapot"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
