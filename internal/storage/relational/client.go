package relational

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/driftlabs/driftq/internal/config"
	"github.com/driftlabs/driftq/internal/models"
	"github.com/driftlabs/driftq/internal/queue"
)

// Enqueue creates a job, honoring the (queue, key) idempotency contract.
// Without a replace policy a key collision is a no-op that returns the
// existing id; with ReplaceIfNotActive a non-processing collision is
// removed and recreated under the same id, while a processing one fails
// with ErrJobAlreadyActive.
func (s *Store) Enqueue(ctx context.Context, queueName string, data json.RawMessage, opts *queue.EnqueueOptions) (string, error) {
	if opts == nil {
		opts = &queue.EnqueueOptions{}
	}

	now := time.Now().UTC()
	job := buildJob(queueName, data, opts, now)

	if opts.Key == "" {
		if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
			return "", fmt.Errorf("create job: %w", err)
		}
		if job.ScheduledFor == nil || !job.ScheduledFor.After(now) {
			s.emit(queueName)
		}
		return job.ID, nil
	}

	// Keyed path. The unique (queue, key) index backs the race: if two
	// enqueuers collide, one insert fails and re-reads the winner's row.
	var jobID string
	for attempt := 0; attempt < 2; attempt++ {
		id, err := s.enqueueKeyed(ctx, queueName, job, opts, now)
		if err == nil {
			jobID = id
			break
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) && attempt == 0 {
			continue
		}
		return "", err
	}

	if job.ScheduledFor == nil || !job.ScheduledFor.After(now) {
		s.emit(queueName)
	}
	return jobID, nil
}

func (s *Store) enqueueKeyed(ctx context.Context, queueName string, job *models.Job, opts *queue.EnqueueOptions, now time.Time) (string, error) {
	var jobID string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Job
		err := tx.Where("queue = ? AND key = ?", queueName, opts.Key).First(&existing).Error
		switch {
		case err == nil:
			if opts.Replace != queue.ReplaceIfNotActive {
				// Idempotent no-op: keep the original payload.
				jobID = existing.ID
				return nil
			}
			if existing.Status == config.JobStatusProcessing {
				return queue.ErrJobAlreadyActive
			}
			if err := tx.Delete(&models.Job{}, "id = ?", existing.ID).Error; err != nil {
				return fmt.Errorf("replace job: %w", err)
			}
			job.ID = existing.ID
			if err := tx.Create(job).Error; err != nil {
				return fmt.Errorf("recreate job: %w", err)
			}
			jobID = job.ID
			return nil

		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(job).Error; err != nil {
				return err
			}
			jobID = job.ID
			return nil

		default:
			return fmt.Errorf("lookup job by key: %w", err)
		}
	})
	if err != nil {
		return "", err
	}
	return jobID, nil
}

func buildJob(queueName string, data json.RawMessage, opts *queue.EnqueueOptions, now time.Time) *models.Job {
	job := &models.Job{
		ID:          uuid.NewString(),
		Queue:       queueName,
		Data:        datatypes.JSON(data),
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

// Cancel removes a never-claimed job by id or idempotency key. Jobs that
// are processing or terminal are left alone: cancellation is not
// preemption.
func (s *Store) Cancel(ctx context.Context, idOrKey string) (bool, error) {
	cancellable := []string{config.JobStatusPending, config.JobStatusRetryPending}

	res := s.db.WithContext(ctx).
		Where("id = ? AND status IN ?", idOrKey, cancellable).
		Delete(&models.Job{})
	if res.Error != nil {
		return false, fmt.Errorf("cancel job: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	res = s.db.WithContext(ctx).
		Where("key = ? AND status IN ?", idOrKey, cancellable).
		Delete(&models.Job{})
	if res.Error != nil {
		return false, fmt.Errorf("cancel job by key: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// GetJob returns the job or nil when the id is unknown.
func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// Stats aggregates job counts by status for one queue.
func (s *Store) Stats(ctx context.Context, queueName string) (queue.Stats, error) {
	var rows []struct {
		Status string
		Count  int
	}
	err := s.db.WithContext(ctx).Model(&models.Job{}).
		Select("status, COUNT(*) as count").
		Where("queue = ?", queueName).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return queue.Stats{}, fmt.Errorf("queue stats: %w", err)
	}

	var stats queue.Stats
	for _, row := range rows {
		switch row.Status {
		case config.JobStatusPending:
			stats.Pending = row.Count
		case config.JobStatusProcessing:
			stats.Processing = row.Count
		case config.JobStatusCompleted:
			stats.Completed = row.Count
		case config.JobStatusFailed:
			stats.Failed = row.Count
		case config.JobStatusRetryPending:
			stats.RetryPending = row.Count
		}
	}
	return stats, nil
}
