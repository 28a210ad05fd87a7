package job

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/driftlabs/driftq/common"
	"github.com/driftlabs/driftq/internal/dto"
	"github.com/driftlabs/driftq/middleware"
)

type JobHandler struct {
	service JobServiceInterface
}

func NewJobHandler(s JobServiceInterface) *JobHandler {
	return &JobHandler{service: s}
}

var _ JobHandlerInterface = (*JobHandler)(nil)

// Enqueue handles HTTP requests for submitting a new job.
// It validates and binds the request body, delegates to the JobService,
// and returns HTTP 201 with the job id on success.
func (h *JobHandler) Enqueue(c *gin.Context) {
	var req dto.EnqueueRequestDTO

	if !middleware.Bind(c, &req) {
		c.Abort()
		return
	}

	resp, err := h.service.EnqueueJob(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// Cancel handles HTTP requests to cancel a not-yet-claimed job by id or
// idempotency key. The response reports whether anything was removed.
func (h *JobHandler) Cancel(c *gin.Context) {
	idOrKey := c.Param("id")
	if idOrKey == "" {
		c.Error(common.Errf(http.StatusBadRequest, "invalid ID"))
		return
	}

	resp, err := h.service.CancelJob(c.Request.Context(), idOrKey)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Get handles HTTP requests to fetch a job by its ID.
func (h *JobHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, common.APIError{Message: "Invalid ID"})
		return
	}

	resp, err := h.service.GetJobByID(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Stats handles HTTP requests for per-status job counts of one queue.
func (h *JobHandler) Stats(c *gin.Context) {
	queueName := c.Param("queue")
	if queueName == "" {
		c.JSON(http.StatusBadRequest, common.APIError{Message: "queue parameter is required"})
		return
	}

	resp, err := h.service.QueueStats(c.Request.Context(), queueName)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// UpsertSchedule handles HTTP requests to create or replace a recurring
// schedule by key.
func (h *JobHandler) UpsertSchedule(c *gin.Context) {
	var req dto.ScheduleUpsertDTO

	if !middleware.Bind(c, &req) {
		c.Abort()
		return
	}

	resp, err := h.service.UpsertSchedule(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// ListSchedules handles HTTP requests to list all schedules.
func (h *JobHandler) ListSchedules(c *gin.Context) {
	resp, err := h.service.ListSchedules(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
