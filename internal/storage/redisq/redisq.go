// Package redisq is the broker driver: the same client/worker/scheduler
// contracts as the relational driver, delegated to Redis. Claim and
// resolution atomicity comes from Lua scripts; token fencing is checked
// inside the scripts so a worker that lost its lease cannot corrupt the
// new claimant's state.
package redisq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driftlabs/driftq/internal/config"
	"github.com/driftlabs/driftq/internal/models"
	"github.com/driftlabs/driftq/internal/notify"
	"github.com/driftlabs/driftq/internal/queue"
)

const (
	jobPrefix   = "driftq:job:"
	queuePrefix = "driftq:q:"
	queuesSet   = "driftq:queues"
	seqKey      = "driftq:seq"
	schedPrefix = "driftq:sched:"
	schedIndex  = "driftq:schedules"
)

// Store implements queue.Client, queue.JobStore, and queue.ScheduleStore
// on a Redis connection.
type Store struct {
	rdb      *redis.Client
	notifier notify.Notifier
}

var (
	_ queue.Client        = (*Store)(nil)
	_ queue.JobStore      = (*Store)(nil)
	_ queue.ScheduleStore = (*Store)(nil)
)

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Connect opens a Redis client and verifies the connection.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return rdb, nil
}

// SetNotifier wires a notification channel, mirroring the relational
// driver's enqueue wakeups.
func (s *Store) SetNotifier(n notify.Notifier) {
	s.notifier = n
}

func (s *Store) emit(queueName string) {
	if s.notifier != nil {
		_ = s.notifier.Emit(queueName)
	}
}

func jobKey(id string) string       { return jobPrefix + id }
func pendingKey(q string) string    { return queuePrefix + q + ":pending" }
func scheduledKey(q string) string  { return queuePrefix + q + ":scheduled" }
func retryKey(q string) string      { return queuePrefix + q + ":retry" }
func processingKey(q string) string { return queuePrefix + q + ":processing" }
func keysKey(q string) string       { return queuePrefix + q + ":keys" }
func counterKey(q, status string) string {
	return queuePrefix + q + ":count:" + status
}

// readyScore orders the pending zset: priority desc, then enqueue sequence
// asc (FIFO within a priority band).
func readyScore(priority int, seq int64) float64 {
	return float64(-priority)*1e12 + float64(seq)
}

func msOf(t time.Time) int64       { return t.UnixMilli() }
func timeOfMs(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

// jobToFields flattens a job into the Redis hash representation. Times are
// unix milliseconds; absent optionals are omitted.
func jobToFields(job *models.Job, score float64) map[string]any {
	fields := map[string]any{
		"id":               job.ID,
		"queue":            job.Queue,
		"data":             string(job.Data),
		"status":           job.Status,
		"priority":         job.Priority,
		"attempts":         job.Attempts,
		"max_attempts":     job.MaxAttempts,
		"backoff_ms":       job.BackoffMs,
		"backoff_type":     job.BackoffType,
		"overall_progress": job.OverallProgress,
		"created_at":       msOf(job.CreatedAt),
		"updated_at":       msOf(job.UpdatedAt),
		"ready_score":      strconv.FormatFloat(score, 'f', -1, 64),
	}
	if job.Key != nil {
		fields["key"] = *job.Key
	}
	if job.ScheduledFor != nil {
		fields["scheduled_for"] = msOf(*job.ScheduledFor)
	}
	return fields
}

func jobFromMap(m map[string]string) (*models.Job, error) {
	if len(m) == 0 {
		return nil, nil
	}
	atoi := func(field string) int {
		n, _ := strconv.Atoi(m[field])
		return n
	}
	ms := func(field string) *time.Time {
		n, _ := strconv.ParseInt(m[field], 10, 64)
		return timeOfMs(n)
	}
	optStr := func(field string) *string {
		if v, ok := m[field]; ok && v != "" {
			return &v
		}
		return nil
	}

	job := &models.Job{
		ID:              m["id"],
		Queue:           m["queue"],
		Data:            []byte(m["data"]),
		Status:          m["status"],
		Priority:        atoi("priority"),
		ScheduledFor:    ms("scheduled_for"),
		Attempts:        atoi("attempts"),
		MaxAttempts:     atoi("max_attempts"),
		NextRetryAt:     ms("next_retry_at"),
		BackoffMs:       atoi("backoff_ms"),
		BackoffType:     m["backoff_type"],
		LockedBy:        optStr("locked_by"),
		LockedAt:        ms("locked_at"),
		ExpiresAt:       ms("expires_at"),
		LockToken:       optStr("lock_token"),
		ErrorMessage:    m["error_message"],
		CurrentStage:    optStr("current_stage"),
		OverallProgress: atoi("overall_progress"),
		Key:             optStr("key"),
	}
	if v := m["error_details"]; v != "" {
		job.ErrorDetails = []byte(v)
	}
	if v := m["stages"]; v != "" {
		job.Stages = []byte(v)
	}
	if v := m["metadata"]; v != "" {
		job.Metadata = []byte(v)
	}
	if t := ms("completed_at"); t != nil {
		job.CompletedAt = t
	}
	if t := ms("created_at"); t != nil {
		job.CreatedAt = *t
	}
	if t := ms("updated_at"); t != nil {
		job.UpdatedAt = *t
	}
	return job, nil
}

func encodeStages(stages []models.Stage) (string, error) {
	if stages == nil {
		return "", nil
	}
	raw, err := json.Marshal(stages)
	if err != nil {
		return "", fmt.Errorf("encode stages: %w", err)
	}
	return string(raw), nil
}

func defaultedOptions(opts *queue.EnqueueOptions) *queue.EnqueueOptions {
	if opts == nil {
		opts = &queue.EnqueueOptions{}
	}
	return opts
}

func newJob(queueName string, id string, data json.RawMessage, opts *queue.EnqueueOptions, now time.Time) *models.Job {
	job := &models.Job{
		ID:          id,
		Queue:       queueName,
		Data:        []byte(data),
		Status:      config.JobStatusPending,
		Priority:    opts.Priority,
		MaxAttempts: config.DefaultMaxAttempts,
		BackoffType: config.BackoffFixed,
		BackoffMs:   int(config.DefaultBackoffDelay / time.Millisecond),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.Key != "" {
		key := opts.Key
		job.Key = &key
	}
	if opts.MaxAttempts > 0 {
		job.MaxAttempts = opts.MaxAttempts
	}
	if opts.Backoff != nil {
		job.BackoffType = opts.Backoff.Type
		job.BackoffMs = int(opts.Backoff.Delay / time.Millisecond)
	}
	switch {
	case opts.RunAt != nil:
		runAt := opts.RunAt.UTC()
		job.ScheduledFor = &runAt
	case opts.Delay > 0:
		runAt := now.Add(opts.Delay)
		job.ScheduledFor = &runAt
	}
	return job
}
