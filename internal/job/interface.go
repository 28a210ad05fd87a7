package job

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/driftlabs/driftq/internal/dto"
)

// JobServiceInterface defines the contract for the ops API business logic.
type JobServiceInterface interface {
	EnqueueJob(ctx context.Context, req *dto.EnqueueRequestDTO) (*dto.EnqueueResponseDTO, error)
	CancelJob(ctx context.Context, idOrKey string) (*dto.CancelResponseDTO, error)
	GetJobByID(ctx context.Context, id string) (*dto.JobResponseDTO, error)
	QueueStats(ctx context.Context, queue string) (*dto.StatsResponseDTO, error)
	UpsertSchedule(ctx context.Context, req *dto.ScheduleUpsertDTO) (*dto.ScheduleResponseDTO, error)
	ListSchedules(ctx context.Context) ([]dto.ScheduleResponseDTO, error)
}

// JobHandlerInterface defines the contract for HTTP request handlers.
type JobHandlerInterface interface {
	Enqueue(c *gin.Context)
	Cancel(c *gin.Context)
	Get(c *gin.Context)
	Stats(c *gin.Context)
	UpsertSchedule(c *gin.Context)
	ListSchedules(c *gin.Context)
}
