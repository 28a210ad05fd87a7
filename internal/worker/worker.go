// Package worker runs the claim → execute → resolve loop against any
// queue.JobStore. One poll loop feeds a fixed-size pool of concurrent
// handler executions; a notification channel, when wired, triggers
// out-of-band polls so new work does not wait for the next interval.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/driftlabs/driftq/internal/config"
	"github.com/driftlabs/driftq/internal/metrics"
	"github.com/driftlabs/driftq/internal/models"
	"github.com/driftlabs/driftq/internal/notify"
	"github.com/driftlabs/driftq/internal/queue"
)

// Config tunes one worker process.
type Config struct {
	Queues            []string
	Concurrency       int
	LockDuration      time.Duration
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	BackoffDefaults   queue.BackoffSpec
}

func (c *Config) applyDefaults() {
	if len(c.Queues) == 0 {
		c.Queues = []string{"default"}
	}
	if c.Concurrency <= 0 {
		c.Concurrency = config.DefaultConcurrency
	}
	if c.LockDuration <= 0 {
		c.LockDuration = config.DefaultLockDuration
	}
	if c.PollInterval <= 0 {
		c.PollInterval = config.DefaultPollInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = config.DefaultHeartbeatInterval
	}
	// A beat must land well before the lease runs out, or the job is
	// reclaimed between extensions.
	if c.HeartbeatInterval >= c.LockDuration {
		c.HeartbeatInterval = c.LockDuration / 3
	}
	if c.BackoffDefaults.Type == "" {
		c.BackoffDefaults = queue.BackoffSpec{
			Type:  config.BackoffFixed,
			Delay: config.DefaultBackoffDelay,
		}
	}
}

type Option func(*Worker)

// WithNotifier wires a notification channel; incoming notifications for the
// worker's queues trigger an immediate poll.
func WithNotifier(n notify.Notifier) Option {
	return func(w *Worker) { w.notifier = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// Worker is the relational/broker-agnostic claim loop.
type Worker struct {
	id      string
	store   queue.JobStore
	handler queue.Handler
	cfg     Config

	notifier notify.Notifier
	logger   *slog.Logger

	slots chan struct{}
	wake  chan struct{}

	loopCtx    context.Context
	loopCancel context.CancelFunc
	// handlerCtx outlives loopCtx so Stop can drain in-flight handlers;
	// it is cancelled only when the drain deadline passes.
	handlerCtx    context.Context
	handlerCancel context.CancelFunc

	unsubscribe []func()
	done        chan struct{}
	running     chan struct{}
}

var _ queue.Worker = (*Worker)(nil)

// New builds a worker for the given queues and handler.
func New(store queue.JobStore, handler queue.Handler, cfg Config, opts ...Option) *Worker {
	cfg.applyDefaults()

	hostname, _ := os.Hostname()
	w := &Worker{
		id:      fmt.Sprintf("%s:%s", hostname, uuid.NewString()),
		store:   store,
		handler: handler,
		cfg:     cfg,
		logger:  slog.Default(),
		slots:   make(chan struct{}, cfg.Concurrency),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		running: make(chan struct{}, cfg.Concurrency),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID is the worker identity recorded in job leases.
func (w *Worker) ID() string { return w.id }

// Start launches the poll loop. Safe to call once.
func (w *Worker) Start() {
	w.loopCtx, w.loopCancel = context.WithCancel(context.Background())
	w.handlerCtx, w.handlerCancel = context.WithCancel(context.Background())

	if w.notifier != nil {
		for _, q := range w.cfg.Queues {
			unsub, err := w.notifier.Subscribe(q, w.poke)
			if err != nil {
				w.logger.Warn("subscribe failed, relying on polling", "queue", q, "error", err)
				continue
			}
			w.unsubscribe = append(w.unsubscribe, unsub)
		}
	}

	go w.loop()
	w.logger.Info("worker started",
		"worker_id", w.id,
		"queues", w.cfg.Queues,
		"concurrency", w.cfg.Concurrency,
		"poll_interval", w.cfg.PollInterval)
}

// poke requests an immediate out-of-band poll.
func (w *Worker) poke() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Stop ceases claiming and waits for in-flight handlers until ctx expires,
// at which point their contexts are cancelled.
func (w *Worker) Stop(ctx context.Context) error {
	w.loopCancel()
	for _, unsub := range w.unsubscribe {
		unsub()
	}
	<-w.done

	drained := make(chan struct{})
	go func() {
		for i := 0; i < w.cfg.Concurrency; i++ {
			w.running <- struct{}{}
		}
		close(drained)
	}()

	select {
	case <-drained:
		w.handlerCancel()
		w.logger.Info("worker stopped", "worker_id", w.id)
		return nil
	case <-ctx.Done():
		w.handlerCancel()
		w.logger.Warn("worker stop deadline exceeded, handlers cancelled", "worker_id", w.id)
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer close(w.done)

	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()

	for {
		// Occupy a concurrency slot before claiming so a full pool
		// stops the poll instead of over-claiming.
		select {
		case <-w.loopCtx.Done():
			return
		case w.slots <- struct{}{}:
		}

		job, err := w.store.AcquireNext(w.loopCtx, w.cfg.Queues, w.id, w.cfg.LockDuration)
		if err != nil {
			<-w.slots
			if w.loopCtx.Err() != nil {
				return
			}
			w.logger.Error("claim failed", "error", err)
		} else if job != nil {
			w.running <- struct{}{}
			go func(job *models.Job) {
				defer func() {
					<-w.running
					<-w.slots
				}()
				w.execute(job)
			}(job)
			// More work may be waiting; claim again immediately.
			continue
		} else {
			<-w.slots
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.cfg.PollInterval)

		select {
		case <-w.loopCtx.Done():
			return
		case <-w.wake:
		case <-timer.C:
		}
	}
}

// execute runs the handler for one claimed job and resolves the outcome.
// Handler errors never escape: every outcome is persisted and the loop
// continues.
func (w *Worker) execute(job *models.Job) {
	token := ""
	if job.LockToken != nil {
		token = *job.LockToken
	}

	metrics.JobsClaimed.WithLabelValues(job.Queue).Inc()

	runCtx, cancelRun := context.WithCancel(w.handlerCtx)
	defer cancelRun()

	jctx := newJobContext(w.store, w.logger, job, token, w.cfg.LockDuration)

	hbStop := w.startHeartbeat(runCtx, job.ID, token, cancelRun)
	start := time.Now()
	err := w.runHandler(runCtx, jctx)
	hbStop()

	metrics.HandlerDuration.WithLabelValues(job.Queue).Observe(time.Since(start).Seconds())

	// Resolution uses a fresh context: the job's state must be persisted
	// even when the run context was cancelled mid-flight.
	resCtx, cancelRes := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelRes()
	w.resolve(resCtx, job, token, err)
}

// startHeartbeat extends the lease every HeartbeatInterval while the
// handler runs, so a slow-but-alive handler is never mistaken for stalled.
// A heartbeat that hits a stale lock means the lease was reclaimed; the
// handler's context is cancelled since its eventual resolution will be
// rejected anyway.
func (w *Worker) startHeartbeat(ctx context.Context, jobID, token string, onStale context.CancelFunc) (stop func()) {
	hbCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				err := w.store.ExtendLease(hbCtx, jobID, token, w.cfg.LockDuration)
				if errors.Is(err, queue.ErrStaleLock) {
					w.logger.Warn("lease lost, cancelling handler", "job_id", jobID)
					onStale()
					return
				}
				if err != nil && hbCtx.Err() == nil {
					w.logger.Warn("heartbeat failed", "job_id", jobID, "error", err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-stopped
	}
}

func (w *Worker) runHandler(ctx context.Context, jctx queue.JobContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = queue.Retryablef("handler panic: %v", r)
		}
	}()
	return w.handler(ctx, jctx)
}

func (w *Worker) resolve(ctx context.Context, job *models.Job, token string, handlerErr error) {
	var err error
	outcome := "completed"

	if handlerErr == nil {
		err = w.store.Complete(ctx, job.ID, token)
	} else {
		kind, retryAfter := queue.Classify(handlerErr)
		details, _ := json.Marshal(map[string]any{
			"error":   handlerErr.Error(),
			"attempt": job.Attempts,
		})

		switch kind {
		case queue.OutcomeRateLimit:
			outcome = "rate_limited"
			err = w.store.RateLimited(ctx, job.ID, token, time.Now().Add(retryAfter))
		case queue.OutcomePermanent:
			outcome = "failed"
			err = w.store.Fail(ctx, job.ID, token, handlerErr.Error(), details)
		default:
			if job.Attempts >= job.MaxAttempts {
				outcome = "failed"
				err = w.store.Fail(ctx, job.ID, token, handlerErr.Error(), details)
			} else {
				outcome = "retried"
				delay := queue.Backoff(w.backoffSpec(job), job.Attempts)
				err = w.store.RetryLater(ctx, job.ID, token, time.Now().Add(delay), handlerErr.Error(), details)
			}
		}
	}

	if errors.Is(err, queue.ErrStaleLock) {
		// Another worker reclaimed the job after our lease expired; its
		// state is no longer ours to write.
		w.logger.Warn("resolution discarded, lease was reclaimed", "job_id", job.ID, "outcome", outcome)
		return
	}
	if err != nil {
		w.logger.Error("resolution failed", "job_id", job.ID, "outcome", outcome, "error", err)
		return
	}

	metrics.JobsResolved.WithLabelValues(job.Queue, outcome).Inc()
	w.logger.Debug("job resolved", "job_id", job.ID, "queue", job.Queue, "outcome", outcome, "attempt", job.Attempts)
}

func (w *Worker) backoffSpec(job *models.Job) queue.BackoffSpec {
	spec := w.cfg.BackoffDefaults
	if job.BackoffType != "" {
		spec.Type = job.BackoffType
	}
	if job.BackoffMs > 0 {
		spec.Delay = time.Duration(job.BackoffMs) * time.Millisecond
	}
	return spec
}
