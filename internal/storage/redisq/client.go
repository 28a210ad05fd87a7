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

const enqueueRetries = 2

// Enqueue creates a job. Keyed enqueues reserve the (queue, key) slot via a
// script; the reservation loser returns the winner's id without writing.
func (s *Store) Enqueue(ctx context.Context, queueName string, data json.RawMessage, opts *queue.EnqueueOptions) (string, error) {
	if queueName == "" {
		return "", fmt.Errorf("queue name is required")
	}
	opts = defaultedOptions(opts)
	now := time.Now().UTC()
	job := newJob(queueName, uuid.NewString(), data, opts, now)

	if opts.Key == "" {
		if err := s.createJob(ctx, job); err != nil {
			return "", err
		}
		if job.ScheduledFor == nil {
			s.emit(queueName)
		}
		return job.ID, nil
	}

	for attempt := 0; attempt < enqueueRetries; attempt++ {
		id, done, err := s.enqueueKeyed(ctx, job, opts)
		if err != nil {
			return "", err
		}
		if done {
			if job.ScheduledFor == nil {
				s.emit(queueName)
			}
			return id, nil
		}
		// The index entry was released between reserve and replace; retry
		// the reservation.
	}
	return "", fmt.Errorf("enqueue %s/%s: key reservation kept racing", queueName, opts.Key)
}

func (s *Store) enqueueKeyed(ctx context.Context, job *models.Job, opts *queue.EnqueueOptions) (string, bool, error) {
	existing, err := reserveKeyScript.Run(ctx, s.rdb,
		[]string{keysKey(job.Queue)}, opts.Key, job.ID).Text()
	if err != nil {
		return "", false, fmt.Errorf("reserve key %s/%s: %w", job.Queue, opts.Key, err)
	}

	if existing == "" {
		if err := s.createJob(ctx, job); err != nil {
			return "", false, err
		}
		return job.ID, true, nil
	}

	if opts.Replace != queue.ReplaceIfNotActive {
		return existing, true, nil
	}

	res, err := replaceKeyScript.Run(ctx, s.rdb, []string{
		keysKey(job.Queue),
		pendingKey(job.Queue),
		scheduledKey(job.Queue),
		retryKey(job.Queue),
		processingKey(job.Queue),
	}, opts.Key, jobPrefix).StringSlice()
	if err != nil {
		return "", false, fmt.Errorf("replace key %s/%s: %w", job.Queue, opts.Key, err)
	}

	switch res[0] {
	case "ACTIVE":
		return "", false, queue.ErrJobAlreadyActive
	case "REPLACED":
		// Recreate under the previous id so external references survive the
		// replacement, matching the relational driver.
		job.ID = res[1]
		reserved, err := reserveKeyScript.Run(ctx, s.rdb,
			[]string{keysKey(job.Queue)}, opts.Key, job.ID).Text()
		if err != nil {
			return "", false, fmt.Errorf("re-reserve key %s/%s: %w", job.Queue, opts.Key, err)
		}
		if reserved != "" && reserved != job.ID {
			return reserved, true, nil
		}
		if err := s.createJob(ctx, job); err != nil {
			return "", false, err
		}
		return job.ID, true, nil
	default: // GONE
		return "", false, nil
	}
}

// createJob writes the job hash and places the id in the pending or
// scheduled zset.
func (s *Store) createJob(ctx context.Context, job *models.Job) error {
	seq, err := s.rdb.Incr(ctx, seqKey).Result()
	if err != nil {
		return fmt.Errorf("allocate sequence: %w", err)
	}
	score := readyScore(job.Priority, seq)

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(job.ID), jobToFields(job, score))
	pipe.SAdd(ctx, queuesSet, job.Queue)
	if job.ScheduledFor != nil && job.ScheduledFor.After(time.Now()) {
		pipe.ZAdd(ctx, scheduledKey(job.Queue), redis.Z{
			Score:  float64(msOf(*job.ScheduledFor)),
			Member: job.ID,
		})
	} else {
		pipe.ZAdd(ctx, pendingKey(job.Queue), redis.Z{Score: score, Member: job.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

// Cancel deletes a pending or retry_pending job by id or idempotency key.
func (s *Store) Cancel(ctx context.Context, idOrKey string) (bool, error) {
	ok, err := s.cancelByID(ctx, idOrKey)
	if err != nil || ok {
		return ok, err
	}

	id, err := s.lookupKey(ctx, idOrKey)
	if err != nil || id == "" {
		return false, err
	}
	return s.cancelByID(ctx, id)
}

func (s *Store) cancelByID(ctx context.Context, id string) (bool, error) {
	n, err := cancelScript.Run(ctx, s.rdb, []string{jobKey(id)}, queuePrefix, id).Int()
	if err != nil {
		return false, fmt.Errorf("cancel job %s: %w", id, err)
	}
	return n == 1, nil
}

// lookupKey scans the known queues' key indexes for an idempotency key.
func (s *Store) lookupKey(ctx context.Context, key string) (string, error) {
	queues, err := s.rdb.SMembers(ctx, queuesSet).Result()
	if err != nil {
		return "", fmt.Errorf("list queues: %w", err)
	}
	for _, q := range queues {
		id, err := s.rdb.HGet(ctx, keysKey(q), key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("lookup key %s in %s: %w", key, q, err)
		}
		return id, nil
	}
	return "", nil
}

// GetJob returns the job or nil when unknown.
func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	m, err := s.rdb.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return jobFromMap(m)
}

// Stats aggregates per-status counts. Terminal statuses come from counters
// maintained by the resolution scripts; completed and failed job hashes are
// retained but never rescanned.
func (s *Store) Stats(ctx context.Context, queueName string) (queue.Stats, error) {
	pipe := s.rdb.Pipeline()
	pending := pipe.ZCard(ctx, pendingKey(queueName))
	scheduled := pipe.ZCard(ctx, scheduledKey(queueName))
	processing := pipe.ZCard(ctx, processingKey(queueName))
	retry := pipe.ZCard(ctx, retryKey(queueName))
	completed := pipe.Get(ctx, counterKey(queueName, config.JobStatusCompleted))
	failed := pipe.Get(ctx, counterKey(queueName, config.JobStatusFailed))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return queue.Stats{}, fmt.Errorf("stats for %s: %w", queueName, err)
	}

	completedN, _ := completed.Int()
	failedN, _ := failed.Int()
	return queue.Stats{
		Pending:      int(pending.Val() + scheduled.Val()),
		Processing:   int(processing.Val()),
		RetryPending: int(retry.Val()),
		Completed:    completedN,
		Failed:       failedN,
	}, nil
}
