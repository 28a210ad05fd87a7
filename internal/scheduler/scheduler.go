// Package scheduler turns cron-like recurring definitions into idempotent
// enqueue calls. Each occurrence's job key is derived from the schedule key
// and the occurrence's due time, so re-evaluating the same occurrence after
// a crash cannot create a duplicate job.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gorm.io/datatypes"

	"github.com/driftlabs/driftq/internal/config"
	"github.com/driftlabs/driftq/internal/metrics"
	"github.com/driftlabs/driftq/internal/models"
	"github.com/driftlabs/driftq/internal/queue"
)

// cronParser accepts standard five-field expressions plus descriptors like
// @hourly.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func WithCheckInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.checkInterval = d
		}
	}
}

// Scheduler evaluates due schedules on a timer and enqueues occurrences
// through the queue client.
type Scheduler struct {
	store  queue.ScheduleStore
	client queue.Client

	checkInterval time.Duration
	logger        *slog.Logger

	stop chan struct{}
	done chan struct{}
}

var _ queue.Scheduler = (*Scheduler)(nil)

func New(store queue.ScheduleStore, client queue.Client, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:         store,
		client:        client,
		checkInterval: config.DefaultCheckInterval,
		logger:        slog.Default(),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert creates or fully replaces a schedule by key. Run bookkeeping
// starts over: a replaced schedule's runCount resets and nextRunAt is
// recomputed from the new definition.
func (s *Scheduler) Upsert(ctx context.Context, spec queue.ScheduleSpec) (*models.Schedule, error) {
	if spec.Key == "" {
		return nil, fmt.Errorf("schedule key is required")
	}
	if spec.Queue == "" {
		return nil, fmt.Errorf("schedule queue is required")
	}
	schedule, err := cronParser.Parse(spec.Cron)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec.Cron, err)
	}

	now := time.Now().UTC()
	next := schedule.Next(now)
	if spec.Immediately {
		next = now
	}

	sched := &models.Schedule{
		ID:          uuid.NewString(),
		Key:         spec.Key,
		Queue:       spec.Queue,
		Cron:        spec.Cron,
		Data:        datatypes.JSON(spec.Data),
		Priority:    spec.Priority,
		MaxAttempts: spec.MaxAttempts,
		Enabled:     true,
		RunLimit:    spec.Limit,
		EndDate:     spec.EndDate,
		NextRunAt:   &next,
	}
	if sched.MaxAttempts <= 0 {
		sched.MaxAttempts = config.DefaultMaxAttempts
	}
	if spec.Backoff != nil {
		sched.BackoffType = spec.Backoff.Type
		sched.BackoffMs = int(spec.Backoff.Delay / time.Millisecond)
	}

	if err := s.store.UpsertSchedule(ctx, sched); err != nil {
		return nil, err
	}
	s.logger.Info("schedule upserted", "key", sched.Key, "queue", sched.Queue, "cron", sched.Cron, "next_run_at", next)
	return sched, nil
}

// List returns all schedules.
func (s *Scheduler) List(ctx context.Context) ([]models.Schedule, error) {
	return s.store.ListSchedules(ctx)
}

// Start launches the tick loop.
func (s *Scheduler) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.checkInterval)
		defer ticker.Stop()

		s.logger.Info("scheduler started", "check_interval", s.checkInterval)
		for {
			select {
			case <-s.stop:
				s.logger.Info("scheduler stopped")
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.checkInterval)
				s.tick(ctx)
				cancel()
			}
		}
	}()
}

// Stop halts the tick loop and waits for it to exit.
func (s *Scheduler) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}

// RunOnce executes a single tick. Useful for testing.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.tick(ctx)
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		s.logger.Error("load due schedules", "error", err)
		return
	}

	for i := range due {
		if err := s.fire(ctx, &due[i], now); err != nil {
			s.logger.Error("fire schedule", "key", due[i].Key, "error", err)
		}
	}
}

// fire enqueues one due occurrence and advances the schedule. The job key
// embeds the pre-advance nextRunAt, so a crash between enqueue and advance
// re-fires the same occurrence with the same key and the idempotent
// enqueue contract absorbs the duplicate.
func (s *Scheduler) fire(ctx context.Context, sched *models.Schedule, now time.Time) error {
	if sched.EndDate != nil && now.After(*sched.EndDate) {
		if err := s.store.DisableSchedule(ctx, sched.ID); err != nil {
			return fmt.Errorf("disable expired schedule: %w", err)
		}
		s.logger.Info("schedule passed its end date, disabled", "key", sched.Key)
		return nil
	}
	if sched.NextRunAt == nil {
		return s.store.DisableSchedule(ctx, sched.ID)
	}

	occurrence := *sched.NextRunAt
	jobKey := OccurrenceKey(sched.Key, occurrence)

	opts := &queue.EnqueueOptions{
		Key:         jobKey,
		Priority:    sched.Priority,
		MaxAttempts: sched.MaxAttempts,
	}
	if sched.BackoffType != "" {
		opts.Backoff = &queue.BackoffSpec{
			Type:  sched.BackoffType,
			Delay: time.Duration(sched.BackoffMs) * time.Millisecond,
		}
	}

	if _, err := s.client.Enqueue(ctx, sched.Queue, []byte(sched.Data), opts); err != nil {
		// Do not advance: the next tick retries the same occurrence key.
		return fmt.Errorf("enqueue occurrence: %w", err)
	}
	metrics.ScheduleOccurrences.WithLabelValues(sched.Key).Inc()

	runCount := sched.RunCount + 1
	enabled := true
	var nextRun *time.Time

	if sched.RunLimit != nil && runCount >= *sched.RunLimit {
		enabled = false
		s.logger.Info("schedule reached its run limit, disabled", "key", sched.Key, "run_count", runCount)
	} else {
		schedule, err := cronParser.Parse(sched.Cron)
		if err != nil {
			// The expression parsed at upsert time; a failure here means
			// the row was edited out-of-band. Disable rather than loop.
			s.logger.Error("unparseable cron on stored schedule, disabling", "key", sched.Key, "cron", sched.Cron, "error", err)
			enabled = false
		} else {
			next := schedule.Next(now)
			nextRun = &next
		}
	}

	if err := s.store.AdvanceSchedule(ctx, sched.ID, now, nextRun, runCount, enabled); err != nil {
		return fmt.Errorf("advance schedule: %w", err)
	}
	return nil
}

// OccurrenceKey derives the deterministic idempotency key for one
// occurrence of a schedule.
func OccurrenceKey(scheduleKey string, occurrence time.Time) string {
	return fmt.Sprintf("schedule:%s:%d", scheduleKey, occurrence.Unix())
}
