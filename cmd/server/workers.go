package main

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openctemio/scanmerge/internal/config"
	"github.com/openctemio/scanmerge/internal/infra/jobs"
	"github.com/openctemio/scanmerge/internal/infra/notification"
	"github.com/openctemio/scanmerge/internal/infra/redis"
	"github.com/openctemio/scanmerge/pkg/logger"
)

// Workers holds all background worker instances.
type Workers struct {
	AlertWorker *jobs.Worker

	services    *Services
	redis       *redis.Client
	stopCollect func()
}

// WorkerDeps contains dependencies needed to create workers.
type WorkerDeps struct {
	Config   *config.Config
	Log      *logger.Logger
	Services *Services
	Redis    *redis.Client
}

// NewWorkers initializes all background workers.
func NewWorkers(deps *WorkerDeps) (*Workers, error) {
	cfg := deps.Config
	log := deps.Log

	w := &Workers{services: deps.Services, redis: deps.Redis}

	if cfg.Alerts.Enabled {
		notifiers, err := notification.FromConfig(&cfg.Notify)
		if err != nil {
			return nil, err
		}
		w.AlertWorker, err = jobs.NewWorker(jobs.WorkerConfig{
			RedisAddr:     cfg.Redis.Addr(),
			RedisPassword: cfg.Redis.Password,
			RedisDB:       cfg.Redis.DB,
			Concurrency:   cfg.Alerts.Concurrency,
			Queue:         cfg.Alerts.Queue,
		}, notifiers, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize alert worker: %w", err)
		}
	}

	return w, nil
}

// Start launches the background workers. The alert worker runs on g until
// ctx is done. Ingestion and scheduled rule runs are detached from ctx and
// end in Stop.
func (w *Workers) Start(ctx context.Context, g *errgroup.Group) error {
	detached := context.WithoutCancel(ctx)
	if err := w.services.Ingest.Start(detached); err != nil {
		return fmt.Errorf("failed to start ingest workers: %w", err)
	}
	if err := w.services.Scheduler.Start(detached); err != nil {
		return fmt.Errorf("failed to start rule scheduler: %w", err)
	}

	if w.AlertWorker != nil {
		g.Go(func() error {
			return w.AlertWorker.Run(ctx)
		})
	}

	if w.redis != nil {
		w.stopCollect = redis.StartPoolStatsCollector(ctx, w.redis, 15*time.Second)
	}
	return nil
}

// Stop stops ingestion and the scheduler. Queued ingestion jobs that never
// started are dropped and counted. The alert worker stops with its context.
func (w *Workers) Stop(log *logger.Logger) {
	w.services.Scheduler.Stop()

	if dropped := w.services.Ingest.Stop(); dropped > 0 {
		log.Warn("dropped queued reports on shutdown", "dropped", dropped)
	}

	if w.stopCollect != nil {
		w.stopCollect()
	}
	log.Info("workers stopped")
}
