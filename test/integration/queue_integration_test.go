package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/driftlabs/driftq/internal/config"
	"github.com/driftlabs/driftq/internal/notify"
	"github.com/driftlabs/driftq/internal/queue"
	"github.com/driftlabs/driftq/internal/storage/redisq"
	"github.com/driftlabs/driftq/internal/storage/relational"
)

var (
	testDB        *sql.DB
	testDSN       string
	testPort      string
	testRedisAddr string
)

func TestMain(m *testing.M) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		log.Fatalf("Could not construct pool: %s", err)
	}

	pool.MaxWait = 60 * time.Second

	if err := pool.Client.Ping(); err != nil {
		log.Fatalf("Could not connect to Docker: %s", err)
	}

	pg, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "17-alpine",
		Env: []string{
			"POSTGRES_USER=testuser",
			"POSTGRES_PASSWORD=testpass",
			"POSTGRES_DB=driftq_test",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		log.Fatalf("Could not start postgres container: %s", err)
	}

	testPort = pg.GetPort("5432/tcp")
	testDSN = fmt.Sprintf(
		"host=localhost user=testuser password=testpass dbname=driftq_test port=%s sslmode=disable",
		testPort,
	)

	if err := pool.Retry(func() error {
		var err error
		testDB, err = sql.Open("postgres", testDSN)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := testDB.PingContext(ctx); err != nil {
			testDB.Close()
			return err
		}

		if err := runMigrations(testDB); err != nil {
			log.Printf("Failed to run migrations: %v", err)
			testDB.Close()
			return err
		}

		return nil
	}); err != nil {
		log.Fatalf("Could not connect to postgres: %s", err)
	}

	rd, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "redis",
		Tag:        "7-alpine",
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		log.Fatalf("Could not start redis container: %s", err)
	}

	testRedisAddr = "localhost:" + rd.GetPort("6379/tcp")

	if err := pool.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rdb, err := redisq.Connect(ctx, testRedisAddr, "", 0)
		if err != nil {
			return err
		}
		return rdb.Close()
	}); err != nil {
		log.Fatalf("Could not connect to redis: %s", err)
	}

	code := m.Run()

	if testDB != nil {
		testDB.Close()
	}

	if err := pool.Purge(pg); err != nil {
		log.Fatalf("Could not purge postgres container: %s", err)
	}
	if err := pool.Purge(rd); err != nil {
		log.Fatalf("Could not purge redis container: %s", err)
	}

	os.Exit(code)
}

func runMigrations(db *sql.DB) error {
	_, filename, _, _ := runtime.Caller(0)
	testDir := filepath.Dir(filename)
	projectRoot := filepath.Join(testDir, "../..")
	migrationsDir := filepath.Join(projectRoot, "migrations")

	if _, err := os.Stat(migrationsDir); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory does not exist: %s", migrationsDir)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, migrationsDir); err != nil {
		return fmt.Errorf("failed to run goose migrations: %w", err)
	}

	return nil
}

func testConfig() *relational.Config {
	return &relational.Config{
		User:       "testuser",
		Password:   "testpass",
		Host:       "localhost",
		Port:       testPort,
		Database:   "driftq_test",
		MaxRetries: 3,
		RetryDelay: 100 * time.Millisecond,
		LogLevel:   logger.Silent,
	}
}

// setupTestStore opens a fresh connection and truncates queue state so tests
// do not see each other's jobs.
func setupTestStore(tb testing.TB) *relational.Store {
	tb.Helper()

	db, err := relational.ConnectPostgres(testConfig())
	require.NoError(tb, err)

	require.NoError(tb, db.Exec("DELETE FROM jobs").Error)
	require.NoError(tb, db.Exec("DELETE FROM schedules").Error)

	tb.Cleanup(func() {
		closeDB(db)
	})
	return relational.NewStore(db)
}

func closeDB(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

func TestConnectPostgres(t *testing.T) {
	db, err := relational.ConnectPostgres(testConfig())
	require.NoError(t, err)
	defer closeDB(db)

	var result int
	require.NoError(t, db.Raw("SELECT 1").Scan(&result).Error)
	assert.Equal(t, 1, result)

	cfg := testConfig()
	cfg.Port = "19999"
	cfg.MaxRetries = 2
	cfg.RetryDelay = 5 * time.Millisecond
	_, err = relational.ConnectPostgres(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database connection failed after 2 attempts")
}

// Every claimable job must be handed to exactly one worker, even when many
// workers on separate connections race for the same rows.
func TestClaimContention_CrossConnection(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	const jobCount = 40
	const workers = 8

	for i := 0; i < jobCount; i++ {
		_, err := store.Enqueue(ctx, "default", json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)), nil)
		require.NoError(t, err)
	}

	var mu sync.Mutex
	claimed := make(map[string]string) // job id -> worker id

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()

			// Each worker gets its own pool, like separate processes would.
			db, err := relational.ConnectPostgres(testConfig())
			if !assert.NoError(t, err) {
				return
			}
			defer closeDB(db)
			s := relational.NewStore(db)

			for {
				job, err := s.AcquireNext(ctx, []string{"default"}, workerID, time.Minute)
				if !assert.NoError(t, err) {
					return
				}
				if job == nil {
					return
				}

				mu.Lock()
				prev, dup := claimed[job.ID]
				claimed[job.ID] = workerID
				mu.Unlock()
				assert.False(t, dup, "job %s claimed by both %s and %s", job.ID, prev, workerID)

				assert.Equal(t, 1, job.Attempts)
				assert.NoError(t, s.Complete(ctx, job.ID, *job.LockToken))
			}
		}(fmt.Sprintf("worker-%d", w))
	}
	wg.Wait()

	assert.Len(t, claimed, jobCount, "every job claimed exactly once")

	stats, err := store.Stats(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, jobCount, stats.Completed)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 0, stats.Processing)
}

// A resolution with a token from a lost lease must be rejected even when the
// stale holder talks to the database over its own connection.
func TestFencing_CrossConnection(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, "default", json.RawMessage(`{}`), nil)
	require.NoError(t, err)

	// First holder claims with an already-expired lease.
	job, err := store.AcquireNext(ctx, []string{"default"}, "worker-a", -time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	staleToken := *job.LockToken

	// Second holder reclaims the expired lease from another connection.
	db2, err := relational.ConnectPostgres(testConfig())
	require.NoError(t, err)
	defer closeDB(db2)
	store2 := relational.NewStore(db2)

	reclaimed, err := store2.AcquireNext(ctx, []string{"default"}, "worker-b", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	require.Equal(t, id, reclaimed.ID)
	require.NotEqual(t, staleToken, *reclaimed.LockToken)

	// The stale holder's writes all bounce.
	assert.ErrorIs(t, store.Complete(ctx, id, staleToken), queue.ErrStaleLock)
	assert.ErrorIs(t, store.Fail(ctx, id, staleToken, "late", nil), queue.ErrStaleLock)
	assert.ErrorIs(t, store.ExtendLease(ctx, id, staleToken, time.Minute), queue.ErrStaleLock)

	// The current holder still owns the job.
	require.NoError(t, store2.Complete(ctx, id, *reclaimed.LockToken))

	final, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, config.JobStatusCompleted, final.Status)
}

// Concurrent keyed enqueues must collapse onto one row via the unique index.
func TestIdempotentKey_UnderConcurrency(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	const callers = 10
	ids := make([]string, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := store.Enqueue(ctx, "default", json.RawMessage(`{"n":1}`),
				&queue.EnqueueOptions{Key: "hourly-sync"})
			if assert.NoError(t, err) {
				ids[i] = id
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id, "all callers must observe the same job")
	}

	stats, err := store.Stats(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}

// NOTIFY from one connection must wake subscribers listening on another.
func TestListenNotify_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	notifier, err := notify.NewPostgres(testDB, testDSN)
	require.NoError(t, err)
	defer notifier.Close()

	store.SetNotifier(notifier)

	var woken atomic.Int32
	unsub, err := notifier.Subscribe("default", func() { woken.Add(1) })
	require.NoError(t, err)
	defer unsub()

	// The listener connection needs a moment before LISTEN is active.
	time.Sleep(200 * time.Millisecond)

	_, err = store.Enqueue(ctx, "default", json.RawMessage(`{}`), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return woken.Load() >= 1
	}, 5*time.Second, 20*time.Millisecond, "enqueue notification never arrived")

	// Delayed jobs are not claimable, so they must not wake anyone.
	before := woken.Load()
	_, err = store.Enqueue(ctx, "default", json.RawMessage(`{}`),
		&queue.EnqueueOptions{Delay: time.Hour})
	require.NoError(t, err)

	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, before, woken.Load(), "delayed enqueue must stay silent")
}
