package feed

import (
	"errors"
	"fmt"
)

// ErrUnexpectedStatus is wrapped by FetchError for non-2xx responses.
var ErrUnexpectedStatus = errors.New("unexpected upstream status")

// FetchError is a network, status, or decode failure while reading the feed.
// It is fatal for the page and never retried.
type FetchError struct {
	URL        string
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("feed fetch %s (status %d): %s: %v", e.URL, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("feed fetch %s: %s: %v", e.URL, e.Message, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}
