package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/driftlabs/driftq/internal/queue"
)

// envelope is the conventional payload shape for the built-in handlers:
// a type discriminator plus free-form parameters.
type envelope struct {
	Type    string          `json:"type"`
	Params  json.RawMessage `json:"params,omitempty"`
	SleepMs int             `json:"sleep_ms,omitempty"`
	Stages  []string        `json:"stages,omitempty"`
}

// dispatch routes jobs by the payload's type field. Deployments embedding
// the engine register their own queue.Handler instead.
func dispatch(ctx context.Context, job queue.JobContext) error {
	var env envelope
	if err := json.Unmarshal(job.Data(), &env); err != nil {
		return queue.Permanentf("undecodable payload: %v", err)
	}

	switch env.Type {
	case "echo":
		job.Log("echo", "params", string(env.Params))
		return nil
	case "sleep":
		return handleSleep(ctx, job, env)
	case "staged":
		return handleStaged(ctx, job, env)
	default:
		return queue.Permanentf("unknown job type %q", env.Type)
	}
}

// handleSleep simulates slow work and reports overall progress as it goes.
func handleSleep(ctx context.Context, job queue.JobContext, env envelope) error {
	total := time.Duration(env.SleepMs) * time.Millisecond
	if total <= 0 {
		total = 100 * time.Millisecond
	}

	const steps = 10
	for i := 1; i <= steps; i++ {
		select {
		case <-time.After(total / steps):
		case <-ctx.Done():
			return queue.Retryablef("interrupted: %v", ctx.Err())
		}
		if err := job.Progress(ctx, i*100/steps); err != nil {
			return err
		}
	}
	return nil
}

// handleStaged walks the declared stages in order, completing each with a
// small artifact.
func handleStaged(ctx context.Context, job queue.JobContext, env envelope) error {
	if len(env.Stages) == 0 {
		return queue.Permanentf("staged job without stages")
	}
	if err := job.AddStages(ctx, env.Stages...); err != nil {
		return err
	}

	for _, name := range env.Stages {
		if err := job.StartStage(ctx, name); err != nil {
			return err
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return queue.Retryablef("interrupted: %v", ctx.Err())
		}
		artifact, _ := json.Marshal(map[string]string{
			"stage":       name,
			"finished_at": time.Now().Format(time.RFC3339),
		})
		if err := job.CompleteStage(ctx, name, artifact); err != nil {
			return fmt.Errorf("complete stage %s: %w", name, err)
		}
	}
	return nil
}
