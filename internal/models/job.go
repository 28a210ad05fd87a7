package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Job is the persisted unit of work. Rows are created by the queue client
// (or the scheduler) and mutated only through worker claim/resolve
// transitions; handlers touch them indirectly via the job context.
type Job struct {
	ID    string  `gorm:"primaryKey;type:varchar(36)"`
	Queue string  `gorm:"type:varchar(255);not null;index:idx_jobs_queue_status,priority:1;uniqueIndex:idx_jobs_queue_key,priority:1"`
	Key   *string `gorm:"type:varchar(255);uniqueIndex:idx_jobs_queue_key,priority:2"`

	Data datatypes.JSON `gorm:"type:jsonb"`

	Status   string `gorm:"type:varchar(50);not null;default:'pending';index:idx_jobs_queue_status,priority:2;index:idx_jobs_status_scheduled,priority:1;index:idx_jobs_status_retry,priority:1;index:idx_jobs_status_expires,priority:1"`
	Priority int    `gorm:"default:0;not null"`

	// ScheduledFor is the earliest claim time for pending jobs; nil means
	// immediately claimable.
	ScheduledFor *time.Time `gorm:"index:idx_jobs_status_scheduled,priority:2"`

	Attempts    int        `gorm:"default:0;not null"`
	MaxAttempts int        `gorm:"default:3;not null"`
	NextRetryAt *time.Time `gorm:"index:idx_jobs_status_retry,priority:2"`
	BackoffMs   int        `gorm:"default:0"`
	BackoffType string     `gorm:"type:varchar(20)"`

	// Lease fields. LockToken is a fencing token regenerated on every claim;
	// resolutions carrying a stale token are rejected.
	LockedBy  *string `gorm:"type:varchar(255)"`
	LockedAt  *time.Time
	ExpiresAt *time.Time `gorm:"index:idx_jobs_status_expires,priority:2"`
	LockToken *string    `gorm:"type:varchar(36)"`

	ErrorMessage string         `gorm:"type:text"`
	ErrorDetails datatypes.JSON `gorm:"type:jsonb"`
	CompletedAt  *time.Time

	// Stages holds the serialized ordered []Stage for multi-stage jobs.
	Stages          datatypes.JSON `gorm:"type:jsonb"`
	CurrentStage    *string        `gorm:"type:varchar(255)"`
	OverallProgress int            `gorm:"default:0"`
	Metadata        datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// StageList decodes the Stages column. An empty column yields nil.
func (j *Job) StageList() ([]Stage, error) {
	if len(j.Stages) == 0 {
		return nil, nil
	}
	var stages []Stage
	if err := json.Unmarshal(j.Stages, &stages); err != nil {
		return nil, err
	}
	return stages, nil
}

// Stage is a named sub-unit of progress within one job.
type Stage struct {
	Name        string          `json:"name"`
	Status      string          `json:"status"`
	Progress    int             `json:"progress"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Error       string          `json:"error,omitempty"`
	Artifacts   json.RawMessage `json:"artifacts,omitempty"`
}
