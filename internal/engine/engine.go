// Package engine assembles a driver-specific store and notification
// channel from configuration. Both binaries share this wiring so the api
// and worker processes always agree on the backing store.
package engine

import (
	"context"
	"fmt"

	"github.com/driftlabs/driftq/internal/config"
	"github.com/driftlabs/driftq/internal/notify"
	"github.com/driftlabs/driftq/internal/queue"
	"github.com/driftlabs/driftq/internal/storage/redisq"
	"github.com/driftlabs/driftq/internal/storage/relational"
)

// Engine bundles the store surfaces for one configured driver.
type Engine struct {
	Client    queue.Client
	Jobs      queue.JobStore
	Schedules queue.ScheduleStore
	Notifier  notify.Notifier

	closers []func() error
}

// Build connects the configured driver and wires its notification channel:
// LISTEN/NOTIFY for Postgres, in-process fan-out for SQLite and Redis.
func Build(ctx context.Context, cfg *config.Config) (*Engine, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return buildPostgres(ctx)
	case config.DriverSQLite:
		return buildSQLite(cfg)
	case config.DriverRedis:
		return buildRedis(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}

func buildPostgres(ctx context.Context) (*Engine, error) {
	dbCfg, err := relational.LoadConfigFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	db, err := relational.ConnectPostgres(dbCfg)
	if err != nil {
		return nil, err
	}
	if err := relational.Migrate(db); err != nil {
		return nil, err
	}

	store := relational.NewStore(db)
	eng := &Engine{Client: store, Jobs: store, Schedules: store}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	notifier, err := notify.NewPostgres(sqlDB, dbCfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("start postgres notifier: %w", err)
	}
	store.SetNotifier(notifier)
	eng.Notifier = notifier
	eng.closers = append(eng.closers, notifier.Close, sqlDB.Close)
	return eng, nil
}

func buildSQLite(cfg *config.Config) (*Engine, error) {
	db, err := relational.ConnectSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	if err := relational.Migrate(db); err != nil {
		return nil, err
	}

	store := relational.NewStore(db)
	// SQLite is single-process: an in-memory notifier reaches every worker
	// that matters.
	notifier := notify.NewMemory()
	store.SetNotifier(notifier)

	eng := &Engine{Client: store, Jobs: store, Schedules: store, Notifier: notifier}
	eng.closers = append(eng.closers, notifier.Close)
	if sqlDB, err := db.DB(); err == nil {
		eng.closers = append(eng.closers, sqlDB.Close)
	}
	return eng, nil
}

func buildRedis(ctx context.Context, cfg *config.Config) (*Engine, error) {
	rdb, err := redisq.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, err
	}

	store := redisq.NewStore(rdb)
	notifier := notify.NewMemory()
	store.SetNotifier(notifier)

	eng := &Engine{Client: store, Jobs: store, Schedules: store, Notifier: notifier}
	eng.closers = append(eng.closers, notifier.Close, rdb.Close)
	return eng, nil
}

// Close releases the driver's resources.
func (e *Engine) Close() error {
	var first error
	for _, close := range e.closers {
		if err := close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
