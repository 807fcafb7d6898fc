package client

import (
	"errors"
	"fmt"
	"time"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during a fetch.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrRateLimited is returned when a host is inside a Retry-After window.
	ErrRateLimited = errors.New("storefront rate limit active")

	// ErrBodyTooLarge is returned when a page exceeds MaxBodyBytes.
	ErrBodyTooLarge = errors.New("response body too large")
)

// FetchError describes a failed page fetch.
type FetchError struct {
	URL        string
	StatusCode int
	Class      ErrorClass
	Message    string
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.StatusCode == 0 {
		return fmt.Sprintf("fetch %s: %s error: %s", e.URL, e.Class, msg)
	}
	return fmt.Sprintf("fetch %s: %s error (status %d): %s", e.URL, e.Class, e.StatusCode, msg)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx pages will not appear by asking again
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
