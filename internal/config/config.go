package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Driver selects the backing store for the whole engine.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
)

// Config holds engine-level settings shared by the worker and scheduler
// binaries. Store-specific connection settings live with their drivers.
type Config struct {
	Driver string `env:"QUEUE_DRIVER,default=postgres"`

	Queues []string `env:"QUEUE_NAMES,default=default"`

	Concurrency       int           `env:"WORKER_CONCURRENCY,default=5"`
	LockDuration      time.Duration `env:"WORKER_LOCK_DURATION,default=1m"`
	PollInterval      time.Duration `env:"WORKER_POLL_INTERVAL,default=1s"`
	HeartbeatInterval time.Duration `env:"WORKER_HEARTBEAT_INTERVAL,default=15s"`

	SchedulerCheckInterval time.Duration `env:"SCHEDULER_CHECK_INTERVAL,default=15s"`

	RedisAddr     string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0"`

	SQLitePath string `env:"SQLITE_PATH,default=driftq.db"`
}

var envProcess = envconfig.Process

// LoadFromEnv reads and validates engine configuration from the environment.
func LoadFromEnv(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envProcess(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	switch cfg.Driver {
	case DriverPostgres, DriverSQLite, DriverRedis:
	default:
		errs = append(errs, fmt.Sprintf("QUEUE_DRIVER must be one of postgres, sqlite, redis (got %q)", cfg.Driver))
	}
	if len(cfg.Queues) == 0 {
		errs = append(errs, "QUEUE_NAMES must list at least one queue")
	}
	if cfg.Concurrency < 1 {
		errs = append(errs, "WORKER_CONCURRENCY must be at least 1")
	}
	if cfg.LockDuration <= 0 {
		errs = append(errs, "WORKER_LOCK_DURATION must be positive")
	}
	if cfg.PollInterval <= 0 {
		errs = append(errs, "WORKER_POLL_INTERVAL must be positive")
	}
	if cfg.HeartbeatInterval <= 0 || cfg.HeartbeatInterval >= cfg.LockDuration {
		errs = append(errs, "WORKER_HEARTBEAT_INTERVAL must be positive and shorter than WORKER_LOCK_DURATION")
	}
	if cfg.SchedulerCheckInterval <= 0 {
		errs = append(errs, "SCHEDULER_CHECK_INTERVAL must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
