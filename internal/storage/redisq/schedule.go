package redisq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/driftlabs/driftq/internal/models"
)

// Schedules are stored as JSON blobs keyed by id, with a key→id index for
// upserts and a due zset scored by nextRunAt for the scheduler's tick.
// The scheduler is the sole mutator, so read-modify-write without a fence
// is sufficient here.

const schedKeysIndex = "driftq:schedkeys"

func schedKey(id string) string { return schedPrefix + id }

// UpsertSchedule creates or fully replaces a schedule by key. A replaced
// schedule keeps its id and creation time; run bookkeeping starts over.
func (s *Store) UpsertSchedule(ctx context.Context, sched *models.Schedule) error {
	existingID, err := s.rdb.HGet(ctx, schedKeysIndex, sched.Key).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("lookup schedule key %s: %w", sched.Key, err)
	}
	if existingID != "" {
		existing, err := s.loadSchedule(ctx, existingID)
		if err != nil {
			return err
		}
		if existing != nil {
			sched.ID = existing.ID
			sched.CreatedAt = existing.CreatedAt
		}
	}
	if sched.CreatedAt.IsZero() {
		sched.CreatedAt = time.Now().UTC()
	}
	sched.UpdatedAt = time.Now().UTC()
	return s.writeSchedule(ctx, sched)
}

// DueSchedules returns enabled schedules with nextRunAt <= now.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]models.Schedule, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, schedIndex, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", msOf(now)),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("due schedules: %w", err)
	}

	due := make([]models.Schedule, 0, len(ids))
	for _, id := range ids {
		sched, err := s.loadSchedule(ctx, id)
		if err != nil {
			return nil, err
		}
		if sched != nil && sched.Enabled {
			due = append(due, *sched)
		}
	}
	return due, nil
}

// AdvanceSchedule records a fired occurrence.
func (s *Store) AdvanceSchedule(ctx context.Context, id string, lastRunAt time.Time, nextRunAt *time.Time, runCount int, enabled bool) error {
	sched, err := s.loadSchedule(ctx, id)
	if err != nil {
		return err
	}
	if sched == nil {
		return fmt.Errorf("advance schedule %s: not found", id)
	}
	last := lastRunAt.UTC()
	sched.LastRunAt = &last
	sched.NextRunAt = nextRunAt
	sched.RunCount = runCount
	sched.Enabled = enabled
	sched.UpdatedAt = time.Now().UTC()
	return s.writeSchedule(ctx, sched)
}

// DisableSchedule turns a schedule off without touching bookkeeping.
func (s *Store) DisableSchedule(ctx context.Context, id string) error {
	sched, err := s.loadSchedule(ctx, id)
	if err != nil {
		return err
	}
	if sched == nil {
		return fmt.Errorf("disable schedule %s: not found", id)
	}
	sched.Enabled = false
	sched.UpdatedAt = time.Now().UTC()
	return s.writeSchedule(ctx, sched)
}

// ListSchedules returns all schedules, including disabled ones.
func (s *Store) ListSchedules(ctx context.Context) ([]models.Schedule, error) {
	ids, err := s.rdb.HVals(ctx, schedKeysIndex).Result()
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	out := make([]models.Schedule, 0, len(ids))
	for _, id := range ids {
		sched, err := s.loadSchedule(ctx, id)
		if err != nil {
			return nil, err
		}
		if sched != nil {
			out = append(out, *sched)
		}
	}
	return out, nil
}

func (s *Store) loadSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	raw, err := s.rdb.Get(ctx, schedKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load schedule %s: %w", id, err)
	}
	var sched models.Schedule
	if err := json.Unmarshal(raw, &sched); err != nil {
		return nil, fmt.Errorf("decode schedule %s: %w", id, err)
	}
	return &sched, nil
}

func (s *Store) writeSchedule(ctx context.Context, sched *models.Schedule) error {
	raw, err := json.Marshal(sched)
	if err != nil {
		return fmt.Errorf("encode schedule %s: %w", sched.Key, err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, schedKey(sched.ID), raw, 0)
	pipe.HSet(ctx, schedKeysIndex, sched.Key, sched.ID)
	if sched.Enabled && sched.NextRunAt != nil {
		pipe.ZAdd(ctx, schedIndex, redis.Z{
			Score:  float64(msOf(*sched.NextRunAt)),
			Member: sched.ID,
		})
	} else {
		pipe.ZRem(ctx, schedIndex, sched.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write schedule %s: %w", sched.Key, err)
	}
	return nil
}
