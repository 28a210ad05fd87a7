package redisq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/driftlabs/driftq/internal/config"
	"github.com/driftlabs/driftq/internal/models"
	"github.com/driftlabs/driftq/internal/queue"
)

// AcquireNext claims one due job. Queues are tried in the given order; the
// claim script enforces the stale-lease-first, then priority/FIFO precedence
// within each queue.
func (s *Store) AcquireNext(ctx context.Context, queues []string, workerID string, lockDuration time.Duration) (*models.Job, error) {
	now := time.Now().UTC()
	token := uuid.NewString()

	for _, q := range queues {
		id, err := claimScript.Run(ctx, s.rdb, []string{
			pendingKey(q),
			scheduledKey(q),
			retryKey(q),
			processingKey(q),
		},
			msOf(now),
			msOf(now.Add(lockDuration)),
			workerID,
			token,
			jobPrefix,
		).Text()
		if err == redis.Nil {
			// Lua false: nothing claimable in this queue.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("claim from %s: %w", q, err)
		}

		m, err := s.rdb.HGetAll(ctx, jobKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("load claimed job %s: %w", id, err)
		}
		return jobFromMap(m)
	}
	return nil, nil
}

// ExtendLease pushes the lease expiry to now+lockDuration.
func (s *Store) ExtendLease(ctx context.Context, id, token string, lockDuration time.Duration) error {
	now := time.Now().UTC()
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return queue.ErrStaleLock
	}
	return s.guarded(ctx, extendScript, id,
		[]string{jobKey(id), processingKey(job.Queue)},
		token, msOf(now), msOf(now.Add(lockDuration)))
}

// Complete marks the job completed.
func (s *Store) Complete(ctx context.Context, id, token string) error {
	job, err := s.requireJob(ctx, id)
	if err != nil {
		return err
	}
	return s.guarded(ctx, completeScript, id,
		[]string{jobKey(id), processingKey(job.Queue), counterKey(job.Queue, config.JobStatusCompleted)},
		token, msOf(time.Now().UTC()))
}

// Fail marks the job failed with the final error.
func (s *Store) Fail(ctx context.Context, id, token, errMsg string, details json.RawMessage) error {
	job, err := s.requireJob(ctx, id)
	if err != nil {
		return err
	}
	return s.guarded(ctx, failScript, id,
		[]string{jobKey(id), processingKey(job.Queue), counterKey(job.Queue, config.JobStatusFailed)},
		token, msOf(time.Now().UTC()), errMsg, string(details))
}

// RetryLater moves the job to retry_pending, due at nextRetryAt.
func (s *Store) RetryLater(ctx context.Context, id, token string, nextRetryAt time.Time, errMsg string, details json.RawMessage) error {
	job, err := s.requireJob(ctx, id)
	if err != nil {
		return err
	}
	return s.guarded(ctx, retryScript, id,
		[]string{jobKey(id), processingKey(job.Queue), retryKey(job.Queue)},
		token, msOf(time.Now().UTC()), msOf(nextRetryAt.UTC()), errMsg, string(details))
}

// RateLimited returns the job to pending, due at runAt, and gives back the
// attempt consumed by the claim.
func (s *Store) RateLimited(ctx context.Context, id, token string, runAt time.Time) error {
	job, err := s.requireJob(ctx, id)
	if err != nil {
		return err
	}
	return s.guarded(ctx, rateLimitScript, id,
		[]string{jobKey(id), processingKey(job.Queue), scheduledKey(job.Queue)},
		token, msOf(time.Now().UTC()), msOf(runAt.UTC()))
}

// SaveProgress persists stage state and overall progress.
func (s *Store) SaveProgress(ctx context.Context, id, token string, stages []models.Stage, currentStage *string, overall int) error {
	encoded, err := encodeStages(stages)
	if err != nil {
		return err
	}
	current := ""
	if currentStage != nil {
		current = *currentStage
	}
	return s.guarded(ctx, progressScript, id,
		[]string{jobKey(id)},
		token, msOf(time.Now().UTC()), overall, current, encoded)
}

// guarded runs a fenced script and maps the 0 return to ErrStaleLock.
func (s *Store) guarded(ctx context.Context, script *redis.Script, id string, keys []string, args ...any) error {
	n, err := script.Run(ctx, s.rdb, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("resolve job %s: %w", id, err)
	}
	if n == 0 {
		return queue.ErrStaleLock
	}
	return nil
}

// requireJob loads the job's queue name for key construction. A missing
// hash means the job was replaced or cancelled out from under the lease.
func (s *Store) requireJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, queue.ErrStaleLock
	}
	return job, nil
}
