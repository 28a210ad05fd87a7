package queue

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/driftlabs/driftq/internal/config"
	"github.com/driftlabs/driftq/internal/models"
)

// Stage helpers are pure copy-on-write transforms over the ordered stage
// list; the job context persists the result after each call. Keeping them
// side-effect free makes the progress math testable in isolation.

// AddStages appends new pending stages. Names already present are ignored.
func AddStages(stages []models.Stage, names ...string) []models.Stage {
	out := cloneStages(stages)
	for _, name := range names {
		if findStage(out, name) >= 0 {
			continue
		}
		out = append(out, models.Stage{
			Name:   name,
			Status: config.StageStatusPending,
		})
	}
	return out
}

// StartStage marks the named stage processing and stamps StartedAt.
func StartStage(stages []models.Stage, name string, now time.Time) ([]models.Stage, error) {
	out := cloneStages(stages)
	i := findStage(out, name)
	if i < 0 {
		return nil, fmt.Errorf("unknown stage %q", name)
	}
	out[i].Status = config.StageStatusProcessing
	out[i].StartedAt = &now
	return out, nil
}

// UpdateStageProgress sets the named stage's progress, clamped to [0,100].
func UpdateStageProgress(stages []models.Stage, name string, percent int) ([]models.Stage, error) {
	out := cloneStages(stages)
	i := findStage(out, name)
	if i < 0 {
		return nil, fmt.Errorf("unknown stage %q", name)
	}
	out[i].Progress = clampPercent(percent)
	return out, nil
}

// CompleteStage marks the named stage completed at 100%, stamping
// CompletedAt and recording optional artifacts.
func CompleteStage(stages []models.Stage, name string, artifacts json.RawMessage, now time.Time) ([]models.Stage, error) {
	out := cloneStages(stages)
	i := findStage(out, name)
	if i < 0 {
		return nil, fmt.Errorf("unknown stage %q", name)
	}
	out[i].Status = config.StageStatusCompleted
	out[i].Progress = 100
	out[i].CompletedAt = &now
	if len(artifacts) > 0 {
		out[i].Artifacts = artifacts
	}
	return out, nil
}

// FailStage marks the named stage failed, preserving the progress value
// present at failure time.
func FailStage(stages []models.Stage, name string, stageErr string, now time.Time) ([]models.Stage, error) {
	out := cloneStages(stages)
	i := findStage(out, name)
	if i < 0 {
		return nil, fmt.Errorf("unknown stage %q", name)
	}
	out[i].Status = config.StageStatusFailed
	out[i].Error = stageErr
	out[i].CompletedAt = &now
	return out, nil
}

// OverallProgress is the rounded mean of all stage progress values:
// completed stages count as 100, failed stages keep their last known value,
// pending stages count as 0.
func OverallProgress(stages []models.Stage) int {
	if len(stages) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range stages {
		switch s.Status {
		case config.StageStatusCompleted:
			sum += 100
		default:
			sum += float64(clampPercent(s.Progress))
		}
	}
	return int(math.Round(sum / float64(len(stages))))
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func findStage(stages []models.Stage, name string) int {
	for i := range stages {
		if stages[i].Name == name {
			return i
		}
	}
	return -1
}

func cloneStages(stages []models.Stage) []models.Stage {
	out := make([]models.Stage, len(stages))
	copy(out, stages)
	return out
}
