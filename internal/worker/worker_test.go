package worker

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftlabs/driftq/internal/config"
	"github.com/driftlabs/driftq/internal/notify"
	"github.com/driftlabs/driftq/internal/queue"
	"github.com/driftlabs/driftq/internal/storage/relational"
)

var testData = json.RawMessage(`{"n":1}`)

func setupStore(t *testing.T) *relational.Store {
	db, err := relational.ConnectSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, relational.Migrate(db))
	return relational.NewStore(db)
}

func testConfig() Config {
	return Config{
		Queues:       []string{"default"},
		Concurrency:  2,
		LockDuration: time.Minute,
		PollInterval: 10 * time.Millisecond,
		BackoffDefaults: queue.BackoffSpec{
			Type:  config.BackoffFixed,
			Delay: time.Millisecond,
		},
	}
}

func runWorker(t *testing.T, store *relational.Store, handler queue.Handler, opts ...Option) *Worker {
	w := New(store, handler, testConfig(), opts...)
	w.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.Stop(ctx)
	})
	return w
}

func waitForStatus(t *testing.T, store *relational.Store, id, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := store.GetJob(context.Background(), id)
		return err == nil && job != nil && job.Status == want
	}, 5*time.Second, 10*time.Millisecond, "job never reached status %s", want)
}

func TestWorker_CompletesJob(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	var got atomic.Value
	runWorker(t, store, func(ctx context.Context, job queue.JobContext) error {
		got.Store(string(job.Data()))
		return nil
	})

	id, err := store.Enqueue(ctx, "default", testData, nil)
	require.NoError(t, err)

	waitForStatus(t, store, id, config.JobStatusCompleted)
	assert.JSONEq(t, string(testData), got.Load().(string))

	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempts)
	assert.Nil(t, job.LockToken, "lease is released on completion")
	require.NotNil(t, job.CompletedAt)
}

func TestWorker_RetryUntilExhausted(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	var calls atomic.Int32
	runWorker(t, store, func(ctx context.Context, job queue.JobContext) error {
		calls.Add(1)
		return queue.Retryablef("transient failure")
	})

	id, err := store.Enqueue(ctx, "default", testData, &queue.EnqueueOptions{MaxAttempts: 2})
	require.NoError(t, err)

	waitForStatus(t, store, id, config.JobStatusFailed)
	assert.Equal(t, int32(2), calls.Load())

	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, "transient failure", job.ErrorMessage)
}

func TestWorker_PermanentErrorSkipsRetries(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	var calls atomic.Int32
	runWorker(t, store, func(ctx context.Context, job queue.JobContext) error {
		calls.Add(1)
		return queue.Permanentf("malformed input")
	})

	id, err := store.Enqueue(ctx, "default", testData, &queue.EnqueueOptions{MaxAttempts: 5})
	require.NoError(t, err)

	waitForStatus(t, store, id, config.JobStatusFailed)
	assert.Equal(t, int32(1), calls.Load(), "permanent errors never retry")

	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "malformed input", job.ErrorMessage)
}

func TestWorker_RateLimitDoesNotConsumeAttempt(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	var calls atomic.Int32
	runWorker(t, store, func(ctx context.Context, job queue.JobContext) error {
		if calls.Add(1) == 1 {
			return queue.RateLimited(20 * time.Millisecond)
		}
		return nil
	})

	id, err := store.Enqueue(ctx, "default", testData, &queue.EnqueueOptions{MaxAttempts: 1})
	require.NoError(t, err)

	waitForStatus(t, store, id, config.JobStatusCompleted)
	assert.Equal(t, int32(2), calls.Load())

	// One real attempt despite two executions: the rate-limited run gave
	// its attempt back, so MaxAttempts=1 did not fail the job.
	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempts)
}

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()
	assert.Equal(t, []string{"default"}, cfg.Queues)
	assert.Equal(t, config.DefaultConcurrency, cfg.Concurrency)
	assert.Equal(t, config.DefaultLockDuration, cfg.LockDuration)
	assert.Equal(t, config.DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, config.DefaultHeartbeatInterval, cfg.HeartbeatInterval)
	assert.Equal(t, config.BackoffFixed, cfg.BackoffDefaults.Type)

	// A heartbeat that cannot land before the lease expires is clamped.
	tight := Config{
		LockDuration:      time.Second,
		HeartbeatInterval: 2 * time.Second,
	}
	tight.applyDefaults()
	assert.Equal(t, time.Second/3, tight.HeartbeatInterval)

	// The stock default heartbeat is clamped under a short lease too.
	short := Config{LockDuration: 3 * time.Second}
	short.applyDefaults()
	assert.Equal(t, time.Second, short.HeartbeatInterval)
}

func TestWorker_HeartbeatOutlivesLockDuration(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	// The handler runs four lease lifetimes; without the background
	// heartbeat the lease would expire mid-run and the poll loop would
	// reclaim the job for a second execution.
	var calls atomic.Int32
	cfg := testConfig()
	cfg.LockDuration = 300 * time.Millisecond
	cfg.HeartbeatInterval = 100 * time.Millisecond
	w := New(store, func(ctx context.Context, job queue.JobContext) error {
		calls.Add(1)
		select {
		case <-time.After(1200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, cfg)
	w.Start()
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.Stop(stopCtx)
	})

	id, err := store.Enqueue(ctx, "default", testData, nil)
	require.NoError(t, err)

	waitForStatus(t, store, id, config.JobStatusCompleted)
	assert.Equal(t, int32(1), calls.Load(), "a slow-but-alive handler runs exactly once")

	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempts)
}

func TestWorker_RetryWaitsForBackoff(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	var mu sync.Mutex
	var starts []time.Time
	runWorker(t, store, func(ctx context.Context, job queue.JobContext) error {
		mu.Lock()
		starts = append(starts, time.Now())
		n := len(starts)
		mu.Unlock()
		if n < 3 {
			return queue.Retryablef("transient failure")
		}
		return nil
	})

	id, err := store.Enqueue(ctx, "default", testData, &queue.EnqueueOptions{
		MaxAttempts: 3,
		Backoff: &queue.BackoffSpec{
			Type:  config.BackoffExponential,
			Delay: 200 * time.Millisecond,
		},
	})
	require.NoError(t, err)

	waitForStatus(t, store, id, config.JobStatusCompleted)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, starts, 3)
	// Exponential from a 200ms base: the first retry waits at least 200ms,
	// the second at least 400ms.
	assert.GreaterOrEqual(t, starts[1].Sub(starts[0]), 200*time.Millisecond)
	assert.GreaterOrEqual(t, starts[2].Sub(starts[1]), 400*time.Millisecond)
}

func TestWorker_PanicIsRetryable(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	var calls atomic.Int32
	runWorker(t, store, func(ctx context.Context, job queue.JobContext) error {
		if calls.Add(1) == 1 {
			panic("handler exploded")
		}
		return nil
	})

	id, err := store.Enqueue(ctx, "default", testData, &queue.EnqueueOptions{MaxAttempts: 3})
	require.NoError(t, err)

	waitForStatus(t, store, id, config.JobStatusCompleted)
	assert.Equal(t, int32(2), calls.Load(), "panic consumes one attempt then retries")
}

func TestWorker_StagesPersist(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	runWorker(t, store, func(ctx context.Context, job queue.JobContext) error {
		if err := job.AddStages(ctx, "fetch", "store"); err != nil {
			return err
		}
		if err := job.StartStage(ctx, "fetch"); err != nil {
			return err
		}
		if err := job.CompleteStage(ctx, "fetch", json.RawMessage(`{"rows":10}`)); err != nil {
			return err
		}
		return nil
	})

	id, err := store.Enqueue(ctx, "default", testData, nil)
	require.NoError(t, err)

	waitForStatus(t, store, id, config.JobStatusCompleted)

	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	stages, err := job.StageList()
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, config.StageStatusCompleted, stages[0].Status)
	assert.Equal(t, config.StageStatusPending, stages[1].Status)
	assert.Equal(t, 50, job.OverallProgress)
}

func TestWorker_NotifierTriggersImmediateClaim(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	notifier := notify.NewMemory()
	store.SetNotifier(notifier)

	done := make(chan struct{}, 1)
	cfg := testConfig()
	cfg.PollInterval = time.Hour // only notifications can wake the loop
	w := New(store, func(ctx context.Context, job queue.JobContext) error {
		done <- struct{}{}
		return nil
	}, cfg, WithNotifier(notifier))
	w.Start()
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.Stop(stopCtx)
	})

	// Let the loop park on its timer before enqueueing.
	time.Sleep(50 * time.Millisecond)

	_, err := store.Enqueue(ctx, "default", testData, nil)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("notification did not wake the worker")
	}
}

func TestWorker_StopDrainsInFlight(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	started := make(chan struct{})
	w := New(store, func(ctx context.Context, job queue.JobContext) error {
		close(started)
		time.Sleep(100 * time.Millisecond)
		return nil
	}, testConfig())
	w.Start()

	id, err := store.Enqueue(ctx, "default", testData, nil)
	require.NoError(t, err)

	<-started
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Stop(stopCtx))

	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, config.JobStatusCompleted, job.Status, "in-flight work finishes before Stop returns")
}
