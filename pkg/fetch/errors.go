package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the fetcher.
var (
	// ErrRetryExhausted is returned when all attempts failed.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrQueuedForRetry is returned when an exhausted mutating request was
	// handed to the retry queue for later redelivery.
	ErrQueuedForRetry = errors.New("queued for retry")

	// ErrContextCancelled is returned when the caller's context ended
	// before the fetch completed.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrInvalidRequest is returned when a request cannot be built.
	ErrInvalidRequest = errors.New("invalid request")
)

// ErrorClass represents a classification of origin failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses when they are retried.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassTimeout represents attempts that exceeded the per-attempt timeout.
	ErrorClassTimeout ErrorClass = "timeout"
)

// OriginError represents a failed origin attempt with additional context.
type OriginError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *OriginError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("origin %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("origin %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *OriginError) Unwrap() error {
	return e.Err
}

// ClassOf returns the class of err, or "" when err is not an OriginError.
func ClassOf(err error) ErrorClass {
	var oe *OriginError
	if errors.As(err, &oe) {
		return oe.Class
	}
	return ""
}

// ClassifyStatus maps a response status to an error class. Successful and
// redirect statuses return "". A 429 is a client error unless
// retryRateLimited is set.
func ClassifyStatus(status int, retryRateLimited bool) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests && retryRateLimited:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx responses are final
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork, ErrorClassTimeout:
		return true
	default:
		return false
	}
}

// IsConnectivityFailure reports whether class indicates the origin could
// not be reached at all.
func IsConnectivityFailure(class ErrorClass) bool {
	return class == ErrorClassNetwork || class == ErrorClassTimeout
}
