package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/driftlabs/driftq/internal/models"
	"github.com/driftlabs/driftq/internal/queue"
)

// jobContext is handed to the handler for exactly one execution. Stage
// state lives here between calls; every mutation is a pure transform over
// the list followed by a fenced write-back to the store.
type jobContext struct {
	store  queue.JobStore
	logger *slog.Logger

	jobID        string
	queueName    string
	data         json.RawMessage
	token        string
	lockDuration time.Duration

	mu           sync.Mutex
	stages       []models.Stage
	currentStage *string
	overall      int
}

var _ queue.JobContext = (*jobContext)(nil)

func newJobContext(store queue.JobStore, logger *slog.Logger, job *models.Job, token string, lockDuration time.Duration) *jobContext {
	stages, err := job.StageList()
	if err != nil {
		logger.Warn("corrupt stage list, starting fresh", "job_id", job.ID, "error", err)
		stages = nil
	}
	return &jobContext{
		store:        store,
		logger:       logger,
		jobID:        job.ID,
		queueName:    job.Queue,
		data:         json.RawMessage(job.Data),
		token:        token,
		lockDuration: lockDuration,
		stages:       stages,
		currentStage: job.CurrentStage,
		overall:      job.OverallProgress,
	}
}

func (c *jobContext) ID() string            { return c.jobID }
func (c *jobContext) Queue() string         { return c.queueName }
func (c *jobContext) Data() json.RawMessage { return c.data }

func (c *jobContext) Heartbeat(ctx context.Context) error {
	return c.store.ExtendLease(ctx, c.jobID, c.token, c.lockDuration)
}

func (c *jobContext) Log(msg string, args ...any) {
	c.logger.Info(msg, append(args, "job_id", c.jobID, "queue", c.queueName)...)
}

// Progress sets overall progress directly; for single-stage jobs that
// never touch the stage helpers.
func (c *jobContext) Progress(ctx context.Context, percent int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	c.overall = percent
	return c.store.SaveProgress(ctx, c.jobID, c.token, nil, c.currentStage, c.overall)
}

func (c *jobContext) AddStages(ctx context.Context, names ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stages = queue.AddStages(c.stages, names...)
	return c.flush(ctx)
}

func (c *jobContext) StartStage(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	stages, err := queue.StartStage(c.stages, name, time.Now().UTC())
	if err != nil {
		return err
	}
	c.stages = stages
	c.currentStage = &name
	return c.flush(ctx)
}

func (c *jobContext) UpdateStageProgress(ctx context.Context, name string, percent int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	stages, err := queue.UpdateStageProgress(c.stages, name, percent)
	if err != nil {
		return err
	}
	c.stages = stages
	return c.flush(ctx)
}

func (c *jobContext) CompleteStage(ctx context.Context, name string, artifacts json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	stages, err := queue.CompleteStage(c.stages, name, artifacts, time.Now().UTC())
	if err != nil {
		return err
	}
	c.stages = stages
	c.clearCurrent(name)
	return c.flush(ctx)
}

func (c *jobContext) FailStage(ctx context.Context, name string, stageErr error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := ""
	if stageErr != nil {
		msg = stageErr.Error()
	}
	stages, err := queue.FailStage(c.stages, name, msg, time.Now().UTC())
	if err != nil {
		return err
	}
	c.stages = stages
	c.clearCurrent(name)
	return c.flush(ctx)
}

func (c *jobContext) clearCurrent(name string) {
	if c.currentStage != nil && *c.currentStage == name {
		c.currentStage = nil
	}
}

// flush persists the stage list and recomputed overall progress.
// Caller holds c.mu.
func (c *jobContext) flush(ctx context.Context) error {
	c.overall = queue.OverallProgress(c.stages)
	return c.store.SaveProgress(ctx, c.jobID, c.token, c.stages, c.currentStage, c.overall)
}
