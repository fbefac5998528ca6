package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/openctemio/scanmerge/internal/config"
	"github.com/openctemio/scanmerge/internal/infra/http"
	"github.com/openctemio/scanmerge/internal/infra/http/handler"
	"github.com/openctemio/scanmerge/internal/infra/http/middleware"
	"github.com/openctemio/scanmerge/internal/infra/http/routes"
	"github.com/openctemio/scanmerge/internal/infra/postgres"
	"github.com/openctemio/scanmerge/internal/infra/redis"
	"github.com/openctemio/scanmerge/pkg/logger"
)

// Command line flags.
var (
	showRoutes = flag.Bool("routes", false, "Print all registered routes and exit")
	migrate    = flag.Bool("migrate", false, "Apply pending database migrations before serving")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ==========================================================================
	// Configuration & Logger
	// ==========================================================================
	cfg, err := config.Load()
	if err != nil {
		log := logger.NewDefault()
		log.Error("failed to load configuration", "error", err)
		return 1
	}

	log := initLogger(cfg)
	log.Info("starting application", "app", cfg.App.Name, "env", cfg.App.Env)

	// ==========================================================================
	// Infrastructure
	// ==========================================================================
	db, err := postgres.New(&cfg.Database)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return 1
	}
	defer closeWithLog(db, "database", log)
	log.Info("database connected")

	if *migrate {
		applied, err := postgres.Migrate(ctx, db)
		if err != nil {
			log.Error("failed to apply migrations", "error", err)
			return 1
		}
		log.Info("migrations applied", "applied", applied)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.New(&cfg.Redis, log)
		if err != nil {
			log.Error("failed to connect to redis", "error", err)
			return 1
		}
		defer closeWithLog(redisClient, "redis", log)
		log.Info("redis connected")
	}

	// ==========================================================================
	// Repositories
	// ==========================================================================
	st := postgres.NewStore(db)

	// ==========================================================================
	// Services
	// ==========================================================================
	services, err := NewServices(ctx, &ServiceDeps{
		Config: cfg,
		Log:    log,
		Store:  st,
		Redis:  redisClient,
	})
	if err != nil {
		log.Error("failed to initialize services", "error", err)
		return 1
	}
	defer services.Close(log)
	log.Info("services initialized")

	// ==========================================================================
	// Handlers
	// ==========================================================================
	healthOpts := []handler.HealthHandlerOption{
		handler.WithDependency("database", db),
		handler.WithQueue(services.Ingest),
	}
	if redisClient != nil {
		healthOpts = append(healthOpts, handler.WithDependency("redis", redisClient))
	}

	handlers := routes.Handlers{
		Health:  handler.NewHealthHandler(healthOpts...),
		Upload:  handler.NewUploadHandler(services.Ingest, log),
		History: handler.NewHistoryHandler(services.History, log),
		Rule:    handler.NewRuleHandler(services.Rule, log),
	}

	// ==========================================================================
	// HTTP Server
	// ==========================================================================
	server := http.NewServer(cfg, log)

	rateLimit, stopRateLimit := middleware.RateLimitWithStop(&cfg.RateLimit, log)
	server.OnShutdown(stopRateLimit)

	routes.Register(server.Router(), handlers, routes.NewUploadGuards(cfg, rateLimit))

	if *showRoutes {
		stopRateLimit()
		return printRoutes(server.Router())
	}

	// ==========================================================================
	// Workers
	// ==========================================================================
	workers, err := NewWorkers(&WorkerDeps{
		Config:   cfg,
		Log:      log,
		Services: services,
		Redis:    redisClient,
	})
	if err != nil {
		log.Error("failed to initialize workers", "error", err)
		return 1
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := workers.Start(gctx, g); err != nil {
		log.Error("failed to start workers", "error", err)
		return 1
	}

	// ==========================================================================
	// Start Server
	// ==========================================================================
	g.Go(server.Start)
	log.Info("application started", "http_addr", cfg.Server.Addr())

	// ==========================================================================
	// Graceful Shutdown
	// ==========================================================================
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting uploads before the ingest queue is drained.
		err := server.Shutdown(shutdownCtx)
		workers.Stop(log)
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return 1
	}

	log.Info("application stopped")
	return 0
}

// =============================================================================
// Helper Functions
// =============================================================================

func initLogger(cfg *config.Config) *logger.Logger {
	var log *logger.Logger
	if cfg.IsProduction() {
		log = logger.New(logger.Config{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			Output: os.Stdout,
		})
	} else {
		log = logger.NewDevelopment()
	}
	log.SetDefault()
	return log
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}

func printRoutes(r http.Router) int {
	err := r.Walk(func(method, path string) error {
		_, err := fmt.Fprintf(os.Stdout, "%-7s %s\n", method, path)
		return err
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
