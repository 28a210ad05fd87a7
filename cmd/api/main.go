package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/driftlabs/driftq/internal/config"
	"github.com/driftlabs/driftq/internal/engine"
	"github.com/driftlabs/driftq/internal/job"
	"github.com/driftlabs/driftq/internal/scheduler"
	"github.com/driftlabs/driftq/middleware"
)

func main() {
	log.Println("Starting API...")

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

	// The api process only defines schedules; ticking is the worker's job.
	sched := scheduler.New(eng.Schedules, eng.Client)
	service := job.NewJobService(eng.Client, sched)
	handler := job.NewJobHandler(service)

	router := gin.Default()
	router.Use(middleware.ErrorHandler())

	router.POST("/jobs", handler.Enqueue)
	router.GET("/jobs/:id", handler.Get)
	router.DELETE("/jobs/:id", handler.Cancel)
	router.GET("/queues/:queue/stats", handler.Stats)
	router.POST("/schedules", handler.UpsertSchedule)
	router.GET("/schedules", handler.ListSchedules)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := ":8080"
	if v := os.Getenv("API_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed:", err)
		}
	}()
	log.Println("API listening on", addr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Println("Forced shutdown:", err)
	}
	log.Println("Shutdown complete.")
}
