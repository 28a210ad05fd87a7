package dto

import (
	"encoding/json"
	"time"
)

type ScheduleUpsertDTO struct {
	Key   string          `json:"key" validate:"required"`
	Queue string          `json:"queue" validate:"required"`
	Cron  string          `json:"cron" validate:"required"`
	Data  json.RawMessage `json:"data,omitempty"`

	Priority    int    `json:"priority"`
	MaxAttempts int    `json:"max_attempts" validate:"gte=0,lte=20"`
	BackoffType string `json:"backoff_type" validate:"omitempty,oneof=fixed linear exponential"`
	BackoffMs   int    `json:"backoff_ms" validate:"gte=0"`

	Limit       *int       `json:"limit,omitempty" validate:"omitempty,gt=0"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	Immediately bool       `json:"immediately"`
}

type ScheduleResponseDTO struct {
	ID    string          `json:"id"`
	Key   string          `json:"key"`
	Queue string          `json:"queue"`
	Cron  string          `json:"cron"`
	Data  json.RawMessage `json:"data,omitempty"`

	Priority    int    `json:"priority"`
	MaxAttempts int    `json:"max_attempts"`
	BackoffType string `json:"backoff_type,omitempty"`
	BackoffMs   int    `json:"backoff_ms,omitempty"`

	Enabled  bool       `json:"enabled"`
	RunLimit *int       `json:"run_limit,omitempty"`
	RunCount int        `json:"run_count"`
	EndDate  *time.Time `json:"end_date,omitempty"`

	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
