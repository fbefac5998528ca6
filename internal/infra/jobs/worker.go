package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/openctemio/scanmerge/internal/infra/notification"
	"github.com/openctemio/scanmerge/pkg/logger"
)

// WorkerConfig configures the alert worker.
type WorkerConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Concurrency   int
	Queue         string
	// ShutdownTimeout is how long in-flight deliveries get on stop.
	ShutdownTimeout time.Duration
}

// Worker consumes alert tasks and hands them to the notification channels.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *logger.Logger
}

// NewWorker creates the alert worker.
func NewWorker(cfg WorkerConfig, notifiers []notification.Client, log *logger.Logger) (*Worker, error) {
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.Queue == "" {
		cfg.Queue = DefaultAlertQueue
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	log = log.With("component", "alert_worker", "queue", cfg.Queue)

	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency:     cfg.Concurrency,
			Queues:          map[string]int{cfg.Queue: 1},
			ShutdownTimeout: cfg.ShutdownTimeout,
			Logger:          asynqLogger{log},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				log.Warn("alert task failed", "type", task.Type(), "retried", retried, "error", err)
			}),
		},
	)

	mux := asynq.NewServeMux()
	NewAlertTaskHandler(notifiers, log.Logger).RegisterHandlers(mux)
	log.Info("alert worker ready", "notifiers", len(notifiers), "concurrency", cfg.Concurrency)

	return &Worker{server: server, mux: mux, log: log}, nil
}

// Run processes tasks until ctx is done, then drains and stops.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start alert worker: %w", err)
	}
	w.log.Info("alert worker started")

	<-ctx.Done()
	w.server.Shutdown()
	w.log.Info("alert worker stopped")
	return nil
}

// asynqLogger routes asynq's own logging through the service logger.
type asynqLogger struct {
	log *logger.Logger
}

func (l asynqLogger) Debug(args ...any) { l.log.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.log.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.log.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.log.Error(fmt.Sprint(args...)) }

// Fatal logs at error level. asynq exits the process itself after calling it.
func (l asynqLogger) Fatal(args ...any) { l.log.Error(fmt.Sprint(args...)) }
