package models

import (
	"time"

	"gorm.io/datatypes"
)

// Schedule is a recurring job definition. Rows are owned and mutated solely
// by the scheduler; occurrences become ordinary Job rows.
type Schedule struct {
	ID  string `gorm:"primaryKey;type:varchar(36)"`
	Key string `gorm:"type:varchar(255);not null;uniqueIndex"`

	Queue string         `gorm:"type:varchar(255);not null"`
	Cron  string         `gorm:"type:varchar(255);not null"`
	Data  datatypes.JSON `gorm:"type:jsonb"`

	// Enqueue options applied to every occurrence.
	Priority    int    `gorm:"default:0"`
	MaxAttempts int    `gorm:"default:3"`
	BackoffType string `gorm:"type:varchar(20)"`
	BackoffMs   int    `gorm:"default:0"`

	Enabled bool `gorm:"not null;default:true;index:idx_schedules_enabled_next,priority:1"`

	// Guardrails: once RunCount >= RunLimit or now > EndDate the scheduler
	// disables the schedule and never enqueues again without an update.
	RunLimit *int `gorm:"default:null"`
	RunCount int  `gorm:"default:0;not null"`
	EndDate  *time.Time

	LastRunAt *time.Time
	NextRunAt *time.Time `gorm:"index:idx_schedules_enabled_next,priority:2"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}
