package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/driftlabs/driftq/internal/config"
	"github.com/driftlabs/driftq/internal/engine"
	"github.com/driftlabs/driftq/internal/scheduler"
	"github.com/driftlabs/driftq/internal/worker"
)

func main() {
	log.Println("Starting Worker...")

	ctx := context.Background()
	cfg, err := config.LoadFromEnv(ctx)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	eng, err := engine.Build(ctx, cfg)
	if err != nil {
		log.Fatal("Engine setup failed:", err)
	}
	defer eng.Close()
	log.Printf("SUCCESS! Connected using %s driver", cfg.Driver)

	w := worker.New(eng.Jobs, dispatch, worker.Config{
		Queues:            cfg.Queues,
		Concurrency:       cfg.Concurrency,
		LockDuration:      cfg.LockDuration,
		PollInterval:      cfg.PollInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, worker.WithNotifier(eng.Notifier))

	sched := scheduler.New(eng.Schedules, eng.Client,
		scheduler.WithCheckInterval(cfg.SchedulerCheckInterval))

	w.Start()
	sched.Start()
	log.Println("Worker active. Press Ctrl+C to stop.")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	sched.Stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := w.Stop(drainCtx); err != nil {
		log.Println("Drain incomplete:", err)
	}
	log.Println("Shutdown complete.")
}
