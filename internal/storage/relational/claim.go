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

// claimableCond matches rows a worker may take: due pending jobs, due
// retries, and processing jobs whose lease has expired (stale recovery).
const claimableCond = `(
	(status = ? AND (scheduled_for IS NULL OR scheduled_for <= ?))
	OR (status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?))
	OR (status = ? AND expires_at IS NOT NULL AND expires_at < ?)
)`

// Expired leases win over any pending job regardless of priority, so work
// abandoned by a crashed worker cannot starve behind fresh enqueues.
var claimOrder = fmt.Sprintf(
	"CASE WHEN status = '%s' THEN 0 ELSE 1 END, priority DESC, created_at ASC",
	config.JobStatusProcessing,
)

const claimRetries = 5

func claimableArgs(now time.Time) []any {
	return []any{
		config.JobStatusPending, now,
		config.JobStatusRetryPending, now,
		config.JobStatusProcessing, now,
	}
}

// AcquireNext claims one job using an optimistic conditional update: pick
// the best candidate, then update it guarded by the same claimable
// predicate. Exactly one concurrent claimer's update affects the row; the
// losers re-scan. Returns nil when nothing is due.
func (s *Store) AcquireNext(ctx context.Context, queues []string, workerID string, lockDuration time.Duration) (*models.Job, error) {
	if len(queues) == 0 {
		return nil, fmt.Errorf("at least one queue is required")
	}

	for i := 0; i < claimRetries; i++ {
		now := time.Now().UTC()

		var candidate models.Job
		err := s.db.WithContext(ctx).
			Where("queue IN ?", queues).
			Where(claimableCond, claimableArgs(now)...).
			Order(claimOrder).
			First(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("scan claimable jobs: %w", err)
		}

		token := uuid.NewString()
		expiresAt := now.Add(lockDuration)
		res := s.db.WithContext(ctx).Model(&models.Job{}).
			Where("id = ?", candidate.ID).
			Where(claimableCond, claimableArgs(now)...).
			Updates(map[string]any{
				"status":     config.JobStatusProcessing,
				"locked_by":  workerID,
				"locked_at":  now,
				"expires_at": expiresAt,
				"lock_token": token,
				"attempts":   gorm.Expr("attempts + 1"),
				"updated_at": now,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("claim job: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Lost the race to another claimer.
			continue
		}

		var job models.Job
		if err := s.db.WithContext(ctx).First(&job, "id = ?", candidate.ID).Error; err != nil {
			return nil, fmt.Errorf("reload claimed job: %w", err)
		}
		return &job, nil
	}

	return nil, nil
}

// leaseGuard scopes an update to the current lease holder. Any write that
// matches zero rows lost the lease to a reclaim and gets ErrStaleLock.
func (s *Store) leaseGuard(ctx context.Context, id, token string) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND lock_token = ? AND status = ?", id, token, config.JobStatusProcessing)
}

func checkGuard(res *gorm.DB, op string) error {
	if res.Error != nil {
		return fmt.Errorf("%s: %w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		return queue.ErrStaleLock
	}
	return nil
}

// ExtendLease pushes the lease expiry out to now+lockDuration.
func (s *Store) ExtendLease(ctx context.Context, id, token string, lockDuration time.Duration) error {
	now := time.Now().UTC()
	res := s.leaseGuard(ctx, id, token).Updates(map[string]any{
		"expires_at": now.Add(lockDuration),
		"updated_at": now,
	})
	return checkGuard(res, "extend lease")
}

// Complete marks the job done and releases the lease.
func (s *Store) Complete(ctx context.Context, id, token string) error {
	now := time.Now().UTC()
	res := s.leaseGuard(ctx, id, token).Updates(map[string]any{
		"status":       config.JobStatusCompleted,
		"completed_at": now,
		"locked_by":    nil,
		"locked_at":    nil,
		"expires_at":   nil,
		"lock_token":   nil,
		"updated_at":   now,
	})
	return checkGuard(res, "complete job")
}

// Fail marks the job terminally failed.
func (s *Store) Fail(ctx context.Context, id, token, errMsg string, details json.RawMessage) error {
	now := time.Now().UTC()
	res := s.leaseGuard(ctx, id, token).Updates(map[string]any{
		"status":        config.JobStatusFailed,
		"error_message": errMsg,
		"error_details": datatypes.JSON(details),
		"completed_at":  now,
		"locked_by":     nil,
		"locked_at":     nil,
		"expires_at":    nil,
		"lock_token":    nil,
		"updated_at":    now,
	})
	return checkGuard(res, "fail job")
}

// RetryLater schedules another attempt after the backoff delay.
func (s *Store) RetryLater(ctx context.Context, id, token string, nextRetryAt time.Time, errMsg string, details json.RawMessage) error {
	now := time.Now().UTC()
	res := s.leaseGuard(ctx, id, token).Updates(map[string]any{
		"status":        config.JobStatusRetryPending,
		"next_retry_at": nextRetryAt.UTC(),
		"error_message": errMsg,
		"error_details": datatypes.JSON(details),
		"locked_by":     nil,
		"locked_at":     nil,
		"expires_at":    nil,
		"lock_token":    nil,
		"updated_at":    now,
	})
	return checkGuard(res, "retry job")
}

// RateLimited returns the job to pending at runAt and hands back the
// attempt consumed at claim time: rate limiting is not a failure, so it
// must not eat into the retry budget.
func (s *Store) RateLimited(ctx context.Context, id, token string, runAt time.Time) error {
	now := time.Now().UTC()
	res := s.leaseGuard(ctx, id, token).Updates(map[string]any{
		"status":        config.JobStatusPending,
		"scheduled_for": runAt.UTC(),
		"attempts":      gorm.Expr("attempts - 1"),
		"locked_by":     nil,
		"locked_at":     nil,
		"expires_at":    nil,
		"lock_token":    nil,
		"updated_at":    now,
	})
	return checkGuard(res, "rate-limit job")
}

// SaveProgress persists stage state and overall progress for a running job.
func (s *Store) SaveProgress(ctx context.Context, id, token string, stages []models.Stage, currentStage *string, overall int) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"overall_progress": overall,
		"current_stage":    currentStage,
		"updated_at":       now,
	}
	if stages != nil {
		encoded, err := json.Marshal(stages)
		if err != nil {
			return fmt.Errorf("encode stages: %w", err)
		}
		updates["stages"] = datatypes.JSON(encoded)
	}
	res := s.leaseGuard(ctx, id, token).Updates(updates)
	return checkGuard(res, "save progress")
}
