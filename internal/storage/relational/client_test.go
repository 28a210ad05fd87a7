package relational

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftlabs/driftq/internal/config"
	"github.com/driftlabs/driftq/internal/queue"
)

var testData = json.RawMessage(`{"n":1}`)

func TestEnqueue_Defaults(t *testing.T) {
	store := SetupTestStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, "default", testData, nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, config.JobStatusPending, job.Status)
	assert.Equal(t, config.DefaultMaxAttempts, job.MaxAttempts)
	assert.Equal(t, config.BackoffFixed, job.BackoffType)
	assert.Equal(t, 0, job.Attempts)
	assert.Nil(t, job.ScheduledFor)
	assert.Nil(t, job.Key)
}

func TestEnqueue_DelayAndRunAt(t *testing.T) {
	store := SetupTestStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, "default", testData, &queue.EnqueueOptions{
		Delay: time.Hour,
	})
	require.NoError(t, err)
	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, job.ScheduledFor)
	assert.True(t, job.ScheduledFor.After(time.Now().Add(50*time.Minute)))

	// RunAt wins over Delay.
	runAt := time.Now().Add(30 * time.Minute).UTC()
	id, err = store.Enqueue(ctx, "default", testData, &queue.EnqueueOptions{
		Delay: 5 * time.Hour,
		RunAt: &runAt,
	})
	require.NoError(t, err)
	job, err = store.GetJob(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, job.ScheduledFor)
	assert.WithinDuration(t, runAt, *job.ScheduledFor, time.Second)
}

func TestEnqueue_IdempotentKey(t *testing.T) {
	store := SetupTestStore(t)
	ctx := context.Background()

	first, err := store.Enqueue(ctx, "default", testData, &queue.EnqueueOptions{Key: "report:42"})
	require.NoError(t, err)

	// Same key: no-op returning the original id, payload untouched.
	second, err := store.Enqueue(ctx, "default", json.RawMessage(`{"n":2}`), &queue.EnqueueOptions{Key: "report:42"})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	job, err := store.GetJob(ctx, first)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(job.Data))

	// Same key on a different queue is a distinct job.
	third, err := store.Enqueue(ctx, "other", testData, &queue.EnqueueOptions{Key: "report:42"})
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestEnqueue_ReplaceIfNotActive(t *testing.T) {
	store := SetupTestStore(t)
	ctx := context.Background()

	first, err := store.Enqueue(ctx, "default", testData, &queue.EnqueueOptions{Key: "sync"})
	require.NoError(t, err)

	// Replace keeps the id but swaps the payload.
	second, err := store.Enqueue(ctx, "default", json.RawMessage(`{"n":2}`), &queue.EnqueueOptions{
		Key:     "sync",
		Replace: queue.ReplaceIfNotActive,
	})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	job, err := store.GetJob(ctx, first)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(job.Data))
	assert.Equal(t, 0, job.Attempts, "replacement resets attempt bookkeeping")

	// A processing job refuses replacement.
	claimed, err := store.AcquireNext(ctx, []string{"default"}, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	_, err = store.Enqueue(ctx, "default", testData, &queue.EnqueueOptions{
		Key:     "sync",
		Replace: queue.ReplaceIfNotActive,
	})
	assert.ErrorIs(t, err, queue.ErrJobAlreadyActive)
}

func TestCancel(t *testing.T) {
	store := SetupTestStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, "default", testData, &queue.EnqueueOptions{Key: "doomed"})
	require.NoError(t, err)

	ok, err := store.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, job, "cancelled jobs are deleted")

	// Cancel by key.
	_, err = store.Enqueue(ctx, "default", testData, &queue.EnqueueOptions{Key: "doomed"})
	require.NoError(t, err)
	ok, err = store.Cancel(ctx, "doomed")
	require.NoError(t, err)
	assert.True(t, ok)

	// Unknown id reports false without error.
	ok, err = store.Cancel(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancel_ProcessingIsNotPreempted(t *testing.T) {
	store := SetupTestStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, "default", testData, nil)
	require.NoError(t, err)

	claimed, err := store.AcquireNext(ctx, []string{"default"}, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	ok, err := store.Cancel(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, config.JobStatusProcessing, job.Status)
}

func TestStats(t *testing.T) {
	store := SetupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Enqueue(ctx, "default", testData, nil)
		require.NoError(t, err)
	}
	_, err := store.Enqueue(ctx, "other", testData, nil)
	require.NoError(t, err)

	claimed, err := store.AcquireNext(ctx, []string{"default"}, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, store.Complete(ctx, claimed.ID, *claimed.LockToken))

	claimed, err = store.AcquireNext(ctx, []string{"default"}, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	stats, err := store.Stats(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{
		Pending:    1,
		Processing: 1,
		Completed:  1,
	}, stats)
}
