package queue

import (
	"math"
	"time"

	"github.com/driftlabs/driftq/internal/config"
)

// BackoffSpec is the retry delay policy attached to a job.
type BackoffSpec struct {
	Type  string
	Delay time.Duration
}

// Backoff returns the delay before the next retry of the given attempt.
// attempt is 1-based: the delay after the first failed attempt is
// Backoff(spec, 1).
func Backoff(spec BackoffSpec, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := spec.Delay
	if base <= 0 {
		base = config.DefaultBackoffDelay
	}

	switch spec.Type {
	case config.BackoffFixed:
		return base
	case config.BackoffLinear:
		return base * time.Duration(attempt)
	case config.BackoffExponential:
		return base * time.Duration(math.Pow(2, float64(attempt-1)))
	default:
		return base
	}
}
