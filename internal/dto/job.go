package dto

import (
	"encoding/json"
	"time"
)

type EnqueueRequestDTO struct {
	Queue string          `json:"queue" validate:"required"`
	Data  json.RawMessage `json:"data" validate:"required"`

	// Key deduplicates within the queue; empty means no deduplication.
	Key string `json:"key,omitempty"`
	// DelayMs postpones the earliest run relative to now; RunAt sets it
	// absolutely and wins if both are given.
	DelayMs int64      `json:"delay_ms" validate:"gte=0"`
	RunAt   *time.Time `json:"run_at,omitempty"`

	Priority    int    `json:"priority"`
	MaxAttempts int    `json:"max_attempts" validate:"gte=0,lte=20"`
	BackoffType string `json:"backoff_type" validate:"omitempty,oneof=fixed linear exponential"`
	BackoffMs   int    `json:"backoff_ms" validate:"gte=0"`
	Replace     string `json:"replace" validate:"omitempty,oneof=if_not_active"`
}

type EnqueueResponseDTO struct {
	ID string `json:"id"`
}

type CancelResponseDTO struct {
	Cancelled bool `json:"cancelled"`
}

type StageDTO struct {
	Name        string          `json:"name"`
	Status      string          `json:"status"`
	Progress    int             `json:"progress"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
	Artifacts   json.RawMessage `json:"artifacts,omitempty"`
}

type JobResponseDTO struct {
	ID     string          `json:"id"`
	Queue  string          `json:"queue"`
	Key    *string         `json:"key,omitempty"`
	Data   json.RawMessage `json:"data"`
	Status string          `json:"status"`

	Priority     int        `json:"priority"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`

	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	LockedBy  *string    `json:"locked_by,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	ErrorMessage string          `json:"error,omitempty"`
	ErrorDetails json.RawMessage `json:"error_details,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`

	Stages          []StageDTO `json:"stages,omitempty"`
	CurrentStage    *string    `json:"current_stage,omitempty"`
	OverallProgress int        `json:"overall_progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type StatsResponseDTO struct {
	Queue        string `json:"queue"`
	Pending      int    `json:"pending"`
	Processing   int    `json:"processing"`
	Completed    int    `json:"completed"`
	Failed       int    `json:"failed"`
	RetryPending int    `json:"retry_pending"`
}
