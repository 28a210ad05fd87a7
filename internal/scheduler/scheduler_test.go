package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/driftlabs/driftq/internal/models"
	"github.com/driftlabs/driftq/internal/queue"
	"github.com/driftlabs/driftq/internal/storage/relational"
)

func setup(t *testing.T) (*gorm.DB, *relational.Store, *Scheduler) {
	db, err := relational.ConnectSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, relational.Migrate(db))
	store := relational.NewStore(db)
	return db, store, New(store, store)
}

// forceDue rewinds a schedule's next run time so RunOnce picks it up again
// without waiting for the cron boundary.
func forceDue(t *testing.T, db *gorm.DB, key string, at time.Time) {
	t.Helper()
	err := db.Model(&models.Schedule{}).Where("key = ?", key).
		Update("next_run_at", at.UTC()).Error
	require.NoError(t, err)
}

func pendingCount(t *testing.T, store *relational.Store, queueName string) int {
	t.Helper()
	stats, err := store.Stats(context.Background(), queueName)
	require.NoError(t, err)
	return stats.Pending
}

func TestUpsert_ComputesNextRun(t *testing.T) {
	_, _, sched := setup(t)

	out, err := sched.Upsert(context.Background(), queue.ScheduleSpec{
		Key:   "hourly-report",
		Queue: "reports",
		Cron:  "0 * * * *",
		Data:  json.RawMessage(`{"kind":"hourly"}`),
	})
	require.NoError(t, err)
	require.NotNil(t, out.NextRunAt)
	assert.True(t, out.NextRunAt.After(time.Now()))
	assert.Equal(t, 0, out.NextRunAt.Minute())
	assert.True(t, out.Enabled)
}

func TestUpsert_RejectsBadInput(t *testing.T) {
	_, _, sched := setup(t)
	ctx := context.Background()

	_, err := sched.Upsert(ctx, queue.ScheduleSpec{Queue: "q", Cron: "* * * * *"})
	assert.Error(t, err, "missing key")

	_, err = sched.Upsert(ctx, queue.ScheduleSpec{Key: "k", Cron: "* * * * *"})
	assert.Error(t, err, "missing queue")

	_, err = sched.Upsert(ctx, queue.ScheduleSpec{Key: "k", Queue: "q", Cron: "not a cron"})
	assert.Error(t, err, "invalid cron")
}

func TestUpsert_ImmediatelyIsDueNow(t *testing.T) {
	_, store, sched := setup(t)
	ctx := context.Background()

	_, err := sched.Upsert(ctx, queue.ScheduleSpec{
		Key:         "kickoff",
		Queue:       "default",
		Cron:        "0 0 1 1 *",
		Immediately: true,
	})
	require.NoError(t, err)

	sched.RunOnce(ctx)
	assert.Equal(t, 1, pendingCount(t, store, "default"))
}

func TestRunOnce_OccurrenceIsIdempotent(t *testing.T) {
	db, store, sched := setup(t)
	ctx := context.Background()

	out, err := sched.Upsert(ctx, queue.ScheduleSpec{
		Key:         "sync",
		Queue:       "default",
		Cron:        "* * * * *",
		Immediately: true,
	})
	require.NoError(t, err)
	occurrence := *out.NextRunAt

	sched.RunOnce(ctx)
	require.Equal(t, 1, pendingCount(t, store, "default"))

	// Simulate a crash between enqueue and advance: the same occurrence
	// comes up again and must not produce a second job.
	forceDue(t, db, "sync", occurrence)
	sched.RunOnce(ctx)
	assert.Equal(t, 1, pendingCount(t, store, "default"))

	// A different occurrence time is a different job.
	forceDue(t, db, "sync", occurrence.Add(time.Minute))
	sched.RunOnce(ctx)
	assert.Equal(t, 2, pendingCount(t, store, "default"))
}

func TestRunOnce_RunLimitDisables(t *testing.T) {
	db, store, sched := setup(t)
	ctx := context.Background()
	limit := 2

	_, err := sched.Upsert(ctx, queue.ScheduleSpec{
		Key:         "limited",
		Queue:       "default",
		Cron:        "* * * * *",
		Limit:       &limit,
		Immediately: true,
	})
	require.NoError(t, err)

	sched.RunOnce(ctx)
	forceDue(t, db, "limited", time.Now().Add(-time.Second))
	sched.RunOnce(ctx)

	// The limit is reached; even a due next_run_at no longer fires.
	forceDue(t, db, "limited", time.Now().Add(-time.Second))
	sched.RunOnce(ctx)

	assert.Equal(t, 2, pendingCount(t, store, "default"))

	all, err := sched.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].Enabled)
	assert.Equal(t, 2, all[0].RunCount)
}

func TestRunOnce_EndDateDisables(t *testing.T) {
	_, store, sched := setup(t)
	ctx := context.Background()
	ended := time.Now().Add(-time.Hour).UTC()

	_, err := sched.Upsert(ctx, queue.ScheduleSpec{
		Key:         "expired",
		Queue:       "default",
		Cron:        "* * * * *",
		EndDate:     &ended,
		Immediately: true,
	})
	require.NoError(t, err)

	sched.RunOnce(ctx)

	assert.Equal(t, 0, pendingCount(t, store, "default"), "past end date never enqueues")
	all, err := sched.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].Enabled)
}

func TestOccurrenceKey(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "schedule:sync:1772366400", OccurrenceKey("sync", at))
	// Same schedule and instant always map to the same key.
	assert.Equal(t, OccurrenceKey("sync", at), OccurrenceKey("sync", at))
}
