// Package queue defines the driver-agnostic contracts of the job engine:
// the client, worker and scheduler surfaces, the store interfaces each
// driver implements, the handler error taxonomy, and the pure backoff and
// stage-progress policies.
//
// Application code depends only on this package; the relational
// (Postgres/SQLite via gorm) and broker (Redis) drivers plug in underneath.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/driftlabs/driftq/internal/models"
)

// ReplacePolicy controls what Enqueue does on an idempotency-key collision.
type ReplacePolicy string

// ReplaceIfNotActive atomically removes and recreates a colliding job that
// is not currently processing; a processing collision yields
// ErrJobAlreadyActive. The zero value keeps the default behavior: return
// the existing job id and discard the new payload.
const ReplaceIfNotActive ReplacePolicy = "if_not_active"

// EnqueueOptions tunes a single Enqueue call. The zero value enqueues an
// immediate job with default priority and retry budget.
type EnqueueOptions struct {
	// Key deduplicates within the queue: (queue, key) is unique.
	Key string
	// Delay postpones the earliest claim time relative to now; RunAt sets
	// it absolutely and wins if both are given.
	Delay time.Duration
	RunAt *time.Time

	Priority    int
	MaxAttempts int
	Backoff     *BackoffSpec
	Replace     ReplacePolicy
}

// Stats aggregates job counts by status for one queue.
type Stats struct {
	Pending      int `json:"pending"`
	Processing   int `json:"processing"`
	Completed    int `json:"completed"`
	Failed       int `json:"failed"`
	RetryPending int `json:"retryPending"`
}

// Client is the producer-facing surface of a driver.
type Client interface {
	// Enqueue creates a job and returns its id. See EnqueueOptions for the
	// idempotency and replace semantics.
	Enqueue(ctx context.Context, queueName string, data json.RawMessage, opts *EnqueueOptions) (string, error)
	// Cancel removes a job that has never been claimed. It reports false
	// for unknown, processing, or terminal jobs; cancellation is not
	// preemption.
	Cancel(ctx context.Context, idOrKey string) (bool, error)
	// GetJob returns the job or nil when the id is unknown.
	GetJob(ctx context.Context, id string) (*models.Job, error)
	// Stats returns per-status counts for the queue.
	Stats(ctx context.Context, queueName string) (Stats, error)
}

// JobStore is the claim/resolve surface a driver exposes to the worker.
// Every resolution carries the fencing token issued at claim time; a
// mismatch returns ErrStaleLock and must leave the row untouched.
type JobStore interface {
	// AcquireNext atomically claims one due job from the given queues:
	// status moves to processing, the lease fields are set, a fresh lock
	// token is issued and attempts is incremented. Expired-lease jobs are
	// claimed before any pending job regardless of priority; remaining
	// candidates order by priority desc, then createdAt asc. Returns nil
	// when nothing is claimable.
	AcquireNext(ctx context.Context, queues []string, workerID string, lockDuration time.Duration) (*models.Job, error)

	// ExtendLease pushes the lease expiry to now+lockDuration.
	ExtendLease(ctx context.Context, id, token string, lockDuration time.Duration) error

	// Complete marks the job completed.
	Complete(ctx context.Context, id, token string) error

	// Fail marks the job failed with the final error.
	Fail(ctx context.Context, id, token, errMsg string, details json.RawMessage) error

	// RetryLater moves the job to retry_pending, due at nextRetryAt.
	RetryLater(ctx context.Context, id, token string, nextRetryAt time.Time, errMsg string, details json.RawMessage) error

	// RateLimited returns the job to pending, due at runAt, and gives back
	// the attempt consumed by the claim.
	RateLimited(ctx context.Context, id, token string, runAt time.Time) error

	// SaveProgress persists stage state and overall progress.
	SaveProgress(ctx context.Context, id, token string, stages []models.Stage, currentStage *string, overall int) error
}

// ScheduleStore is the persistence surface the scheduler runs against.
type ScheduleStore interface {
	// UpsertSchedule creates or fully replaces a schedule by key,
	// preserving run bookkeeping when the key already exists only if the
	// caller says so via keepState.
	UpsertSchedule(ctx context.Context, sched *models.Schedule) error
	// DueSchedules returns enabled schedules with nextRunAt <= now.
	DueSchedules(ctx context.Context, now time.Time) ([]models.Schedule, error)
	// AdvanceSchedule records a fired occurrence: lastRunAt, the next due
	// time, the incremented run count, and whether the schedule stays
	// enabled.
	AdvanceSchedule(ctx context.Context, id string, lastRunAt time.Time, nextRunAt *time.Time, runCount int, enabled bool) error
	// DisableSchedule turns a schedule off without touching bookkeeping.
	DisableSchedule(ctx context.Context, id string) error
	// ListSchedules returns all schedules.
	ListSchedules(ctx context.Context) ([]models.Schedule, error)
}

// Handler processes one job. It must be idempotent with respect to its own
// side effects: lease expiry can hand the same job to another worker
// (at-least-once execution).
type Handler func(ctx context.Context, job JobContext) error

// JobContext is handed to a handler for exactly one execution and is not
// reusable afterward.
type JobContext interface {
	ID() string
	Queue() string
	Data() json.RawMessage

	// Heartbeat extends the lease. The worker also heartbeats
	// automatically in the background while the handler runs.
	Heartbeat(ctx context.Context) error
	// Log emits a best-effort structured log line tagged with the job id.
	Log(msg string, args ...any)
	// Progress sets overall progress directly (single-stage jobs),
	// clamped to [0,100].
	Progress(ctx context.Context, percent int) error

	AddStages(ctx context.Context, names ...string) error
	StartStage(ctx context.Context, name string) error
	UpdateStageProgress(ctx context.Context, name string, percent int) error
	CompleteStage(ctx context.Context, name string, artifacts json.RawMessage) error
	FailStage(ctx context.Context, name string, stageErr error) error
}

// Worker runs the claim/execute/resolve loop for a set of queues.
type Worker interface {
	Start()
	Stop(ctx context.Context) error
}

// ScheduleSpec is the input to Scheduler.Upsert.
type ScheduleSpec struct {
	Key   string
	Queue string
	Cron  string
	Data  json.RawMessage

	Priority    int
	MaxAttempts int
	Backoff     *BackoffSpec

	// Limit caps total occurrences; nil means unlimited.
	Limit   *int
	EndDate *time.Time
	// Immediately makes the first occurrence due now instead of at the
	// next cron boundary.
	Immediately bool
}

// Scheduler evaluates recurring definitions and emits idempotent enqueues.
type Scheduler interface {
	Upsert(ctx context.Context, spec ScheduleSpec) (*models.Schedule, error)
	List(ctx context.Context) ([]models.Schedule, error)
	Start()
	Stop()
}
