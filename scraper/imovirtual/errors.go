package imovirtual

import (
	"errors"
	"fmt"
)

// ErrEndOfResults signals that the source has no page at the requested
// index (HTTP 404). It ends pagination for the current search task and is
// not a failure.
var ErrEndOfResults = errors.New("imovirtual: end of results")

// ErrFailureBudgetExceeded aborts the run after too many consecutive failed
// pages.
var ErrFailureBudgetExceeded = errors.New("imovirtual: consecutive page failure budget exceeded")

// FetchExhaustedError is returned when the retry ceiling for a single page
// has been hit. It carries enough context to resume manually.
type FetchExhaustedError struct {
	Page int
	URL  string
	Err  error
}

func (e *FetchExhaustedError) Error() string {
	return fmt.Sprintf("fetch exhausted for page %d (%s): %v", e.Page, e.URL, e.Err)
}

func (e *FetchExhaustedError) Unwrap() error { return e.Err }

// transientError marks a fetch failure worth retrying: network errors,
// 5xx/429 responses and empty bodies.
type transientError struct {
	status int
	msg    string
}

func (e *transientError) Error() string {
	if e.status > 0 {
		return fmt.Sprintf("unexpected status %d: %s", e.status, e.msg)
	}
	return e.msg
}
