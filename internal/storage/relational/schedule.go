package relational

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/driftlabs/driftq/internal/models"
)

// UpsertSchedule creates or fully replaces a schedule by key. A replaced
// schedule keeps its row id but all definition fields and run bookkeeping
// come from sched.
func (s *Store) UpsertSchedule(ctx context.Context, sched *models.Schedule) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Schedule
		err := tx.Where("key = ?", sched.Key).First(&existing).Error
		switch {
		case err == nil:
			sched.ID = existing.ID
			sched.CreatedAt = existing.CreatedAt
			if err := tx.Model(&models.Schedule{}).Where("id = ?", existing.ID).
				Select("*").Omit("id", "created_at").Updates(sched).Error; err != nil {
				return fmt.Errorf("replace schedule: %w", err)
			}
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(sched).Error; err != nil {
				return fmt.Errorf("create schedule: %w", err)
			}
			return nil
		default:
			return fmt.Errorf("lookup schedule: %w", err)
		}
	})
}

// DueSchedules returns enabled schedules whose next run time has arrived.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]models.Schedule, error) {
	var schedules []models.Schedule
	err := s.db.WithContext(ctx).
		Where("enabled = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", true, now.UTC()).
		Order("next_run_at ASC").
		Find(&schedules).Error
	if err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	return schedules, nil
}

// AdvanceSchedule records a fired occurrence.
func (s *Store) AdvanceSchedule(ctx context.Context, id string, lastRunAt time.Time, nextRunAt *time.Time, runCount int, enabled bool) error {
	updates := map[string]any{
		"last_run_at": lastRunAt.UTC(),
		"run_count":   runCount,
		"enabled":     enabled,
		"updated_at":  time.Now().UTC(),
	}
	if nextRunAt != nil {
		next := nextRunAt.UTC()
		updates["next_run_at"] = next
	} else {
		updates["next_run_at"] = nil
	}
	err := s.db.WithContext(ctx).Model(&models.Schedule{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("advance schedule: %w", err)
	}
	return nil
}

// DisableSchedule turns a schedule off.
func (s *Store) DisableSchedule(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Model(&models.Schedule{}).
		Where("id = ?", id).
		Update("enabled", false).Error
	if err != nil {
		return fmt.Errorf("disable schedule: %w", err)
	}
	return nil
}

// ListSchedules returns all schedules ordered by key.
func (s *Store) ListSchedules(ctx context.Context) ([]models.Schedule, error) {
	var schedules []models.Schedule
	if err := s.db.WithContext(ctx).Order("key ASC").Find(&schedules).Error; err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return schedules, nil
}
