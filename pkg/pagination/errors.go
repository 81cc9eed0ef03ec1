package pagination

import (
	"errors"
	"fmt"
)

// ErrNoFetch is returned when a Paginator is built without a fetch function.
var ErrNoFetch = errors.New("pagination: fetch function must be provided")

// Error reports a fetch failure that happened mid-crawl. Page is the 1-based
// index of the failing fetch. Err is the fetch error as returned, so
// errors.As reaches the underlying request or auth error.
type Error struct {
	URL  string
	Page int
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("pagination failed on page %d of %s: %v", e.Page, e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}
