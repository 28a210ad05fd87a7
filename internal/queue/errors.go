package queue

import (
	"errors"
	"fmt"
	"time"
)

// ErrJobAlreadyActive is returned by Enqueue when a replace targets a job
// that is currently processing; replacing it would lose an in-flight
// execution.
var ErrJobAlreadyActive = errors.New("job with this key is currently processing")

// ErrStaleLock is returned by store resolutions whose fencing token no
// longer matches the row, meaning the lease expired and another worker
// reclaimed the job.
var ErrStaleLock = errors.New("lock token is no longer valid")

// RetryableError marks a handler failure as transient. It consumes one
// attempt; the worker reschedules through the backoff policy until
// MaxAttempts is exhausted.
type RetryableError struct {
	Message string
}

func (e *RetryableError) Error() string { return e.Message }

// Retryablef builds a RetryableError from a format string.
func Retryablef(format string, args ...any) *RetryableError {
	return &RetryableError{Message: fmt.Sprintf(format, args...)}
}

// PermanentError marks a handler failure as non-retryable. The job fails
// immediately regardless of remaining attempts.
type PermanentError struct {
	Message string
}

func (e *PermanentError) Error() string { return e.Message }

// Permanentf builds a PermanentError from a format string.
func Permanentf(format string, args ...any) *PermanentError {
	return &PermanentError{Message: fmt.Sprintf(format, args...)}
}

// RateLimitError reschedules the job without consuming an attempt. It is
// not a failure of the job, so it must not trip MaxAttempts.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// RateLimited builds a RateLimitError with the given delay.
func RateLimited(retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{RetryAfter: retryAfter}
}

// Outcome classifies a handler error for the worker's state transition.
type Outcome int

const (
	OutcomeRetry Outcome = iota
	OutcomePermanent
	OutcomeRateLimit
)

// Classify maps a handler error onto the taxonomy. Anything unrecognized is
// treated as retryable, failing safe toward retry rather than data loss.
func Classify(err error) (Outcome, time.Duration) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return OutcomeRateLimit, rl.RetryAfter
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return OutcomePermanent, 0
	}
	return OutcomeRetry, 0
}
