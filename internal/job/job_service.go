package job

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/driftlabs/driftq/common"
	"github.com/driftlabs/driftq/internal/dto"
	"github.com/driftlabs/driftq/internal/models"
	"github.com/driftlabs/driftq/internal/queue"
)

type JobService struct {
	client    queue.Client
	scheduler queue.Scheduler
}

func NewJobService(client queue.Client, scheduler queue.Scheduler) *JobService {
	return &JobService{client: client, scheduler: scheduler}
}

var _ JobServiceInterface = (*JobService)(nil)

// EnqueueJob validates enqueue input, applies business rules, and submits
// the job through the queue client. It returns a typed API error for
// validation failures and key collisions on active jobs.
func (s *JobService) EnqueueJob(ctx context.Context, req *dto.EnqueueRequestDTO) (*dto.EnqueueResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request canceled or timed out")
	}

	if !json.Valid(req.Data) {
		return nil, common.Errf(http.StatusBadRequest, "data must be valid JSON")
	}

	opts := &queue.EnqueueOptions{
		Key:         req.Key,
		Delay:       time.Duration(req.DelayMs) * time.Millisecond,
		RunAt:       req.RunAt,
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
		Replace:     queue.ReplacePolicy(req.Replace),
	}
	if req.BackoffType != "" {
		opts.Backoff = &queue.BackoffSpec{
			Type:  req.BackoffType,
			Delay: time.Duration(req.BackoffMs) * time.Millisecond,
		}
	}

	id, err := s.client.Enqueue(ctx, req.Queue, req.Data, opts)
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrJobAlreadyActive):
			return nil, common.NewAPIError(
				http.StatusConflict,
				"job with this key is currently processing",
				map[string]any{"queue": req.Queue, "key": req.Key},
			)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
		default:
			return nil, common.Errf(http.StatusInternalServerError, "failed to enqueue job")
		}
	}

	return &dto.EnqueueResponseDTO{ID: id}, nil
}

// CancelJob removes a job that has never been claimed, by id or key.
func (s *JobService) CancelJob(ctx context.Context, idOrKey string) (*dto.CancelResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	ok, err := s.client.Cancel(ctx, idOrKey)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
		}
		return nil, common.Errf(http.StatusInternalServerError, "failed to cancel job")
	}

	return &dto.CancelResponseDTO{Cancelled: ok}, nil
}

// GetJobByID retrieves a job by its id and maps it to the response shape.
func (s *JobService) GetJobByID(ctx context.Context, id string) (*dto.JobResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	found, err := s.client.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
		}
		return nil, common.Errf(http.StatusInternalServerError, "failed to get job")
	}
	if found == nil {
		return nil, common.Errf(http.StatusNotFound, "job not found")
	}

	return jobResponse(found)
}

// QueueStats returns per-status job counts for one queue.
func (s *JobService) QueueStats(ctx context.Context, queueName string) (*dto.StatsResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	stats, err := s.client.Stats(ctx, queueName)
	if err != nil {
		return nil, common.Errf(http.StatusInternalServerError, "failed to get queue stats")
	}

	return &dto.StatsResponseDTO{
		Queue:        queueName,
		Pending:      stats.Pending,
		Processing:   stats.Processing,
		Completed:    stats.Completed,
		Failed:       stats.Failed,
		RetryPending: stats.RetryPending,
	}, nil
}

// UpsertSchedule creates or replaces a recurring schedule.
func (s *JobService) UpsertSchedule(ctx context.Context, req *dto.ScheduleUpsertDTO) (*dto.ScheduleResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	if len(req.Data) > 0 && !json.Valid(req.Data) {
		return nil, common.Errf(http.StatusBadRequest, "data must be valid JSON")
	}

	spec := queue.ScheduleSpec{
		Key:         req.Key,
		Queue:       req.Queue,
		Cron:        req.Cron,
		Data:        req.Data,
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
		Limit:       req.Limit,
		EndDate:     req.EndDate,
		Immediately: req.Immediately,
	}
	if req.BackoffType != "" {
		spec.Backoff = &queue.BackoffSpec{
			Type:  req.BackoffType,
			Delay: time.Duration(req.BackoffMs) * time.Millisecond,
		}
	}

	sched, err := s.scheduler.Upsert(ctx, spec)
	if err != nil {
		// Upsert rejects bad input (unknown cron syntax, missing fields)
		// before touching storage.
		return nil, common.Errf(http.StatusBadRequest, "invalid schedule: %v", err)
	}

	resp := scheduleResponse(sched)
	return &resp, nil
}

// ListSchedules returns all schedules, including disabled ones.
func (s *JobService) ListSchedules(ctx context.Context) ([]dto.ScheduleResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	schedules, err := s.scheduler.List(ctx)
	if err != nil {
		return nil, common.Errf(http.StatusInternalServerError, "failed to list schedules")
	}

	dtos := make([]dto.ScheduleResponseDTO, len(schedules))
	for i := range schedules {
		dtos[i] = scheduleResponse(&schedules[i])
	}
	return dtos, nil
}

func jobResponse(job *models.Job) (*dto.JobResponseDTO, error) {
	stages, err := job.StageList()
	if err != nil {
		return nil, common.Errf(http.StatusInternalServerError, "corrupt stage data on job")
	}

	resp := &dto.JobResponseDTO{
		ID:              job.ID,
		Queue:           job.Queue,
		Key:             job.Key,
		Data:            json.RawMessage(job.Data),
		Status:          job.Status,
		Priority:        job.Priority,
		ScheduledFor:    job.ScheduledFor,
		Attempts:        job.Attempts,
		MaxAttempts:     job.MaxAttempts,
		NextRetryAt:     job.NextRetryAt,
		LockedBy:        job.LockedBy,
		ExpiresAt:       job.ExpiresAt,
		ErrorMessage:    job.ErrorMessage,
		ErrorDetails:    json.RawMessage(job.ErrorDetails),
		CompletedAt:     job.CompletedAt,
		CurrentStage:    job.CurrentStage,
		OverallProgress: job.OverallProgress,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
	for _, st := range stages {
		resp.Stages = append(resp.Stages, dto.StageDTO{
			Name:        st.Name,
			Status:      st.Status,
			Progress:    st.Progress,
			StartedAt:   st.StartedAt,
			CompletedAt: st.CompletedAt,
			Error:       st.Error,
			Artifacts:   st.Artifacts,
		})
	}
	return resp, nil
}

func scheduleResponse(sched *models.Schedule) dto.ScheduleResponseDTO {
	return dto.ScheduleResponseDTO{
		ID:          sched.ID,
		Key:         sched.Key,
		Queue:       sched.Queue,
		Cron:        sched.Cron,
		Data:        json.RawMessage(sched.Data),
		Priority:    sched.Priority,
		MaxAttempts: sched.MaxAttempts,
		BackoffType: sched.BackoffType,
		BackoffMs:   sched.BackoffMs,
		Enabled:     sched.Enabled,
		RunLimit:    sched.RunLimit,
		RunCount:    sched.RunCount,
		EndDate:     sched.EndDate,
		LastRunAt:   sched.LastRunAt,
		NextRunAt:   sched.NextRunAt,
		CreatedAt:   sched.CreatedAt,
		UpdatedAt:   sched.UpdatedAt,
	}
}
