package config

import "time"

// Job lifecycle states.
const (
	JobStatusPending      = "pending"
	JobStatusProcessing   = "processing"
	JobStatusCompleted    = "completed"
	JobStatusFailed       = "failed"
	JobStatusRetryPending = "retry_pending"
)

// Stage states.
const (
	StageStatusPending    = "pending"
	StageStatusProcessing = "processing"
	StageStatusCompleted  = "completed"
	StageStatusFailed     = "failed"
)

// Backoff strategies.
const (
	BackoffFixed       = "fixed"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// Engine defaults.
const (
	DefaultMaxAttempts       = 3
	DefaultBackoffDelay      = 1 * time.Second
	DefaultLockDuration      = 1 * time.Minute
	DefaultPollInterval      = 1 * time.Second
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultConcurrency       = 5
	DefaultCheckInterval     = 15 * time.Second
)
