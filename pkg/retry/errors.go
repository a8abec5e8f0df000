package retry

import (
	"errors"
	"fmt"
)

// Common errors returned by the retrier.
var (
	// ErrRetryExhausted is returned when the retry budget is used up.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during a backoff.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of write errors.
type ErrorClass string

const (
	// ClassTransientContention represents write-write conflicts and lock
	// timeouts. The failed transaction is rolled back and retried.
	ClassTransientContention ErrorClass = "transient_contention"

	// ClassFatal represents every other failure. It is never retried.
	ClassFatal ErrorClass = "fatal"
)

// Classifier maps an error to its class.
type Classifier func(err error) ErrorClass

// ExhaustedError is returned when a contention error survives every retry.
// It unwraps to both ErrRetryExhausted and the last contention error.
type ExhaustedError struct {
	Op      string
	Retries int
	Err     error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %v after %d retries: %v", e.Op, ErrRetryExhausted, e.Retries, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrRetryExhausted, e.Err}
}

// shouldRetry determines if an error class is worth another attempt.
func shouldRetry(class ErrorClass) bool {
	return class == ClassTransientContention
}
