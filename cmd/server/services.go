package main

import (
	"context"
	"fmt"

	"github.com/openctemio/scanmerge/internal/app"
	"github.com/openctemio/scanmerge/internal/app/ingest"
	"github.com/openctemio/scanmerge/internal/app/searcher"
	"github.com/openctemio/scanmerge/internal/config"
	"github.com/openctemio/scanmerge/internal/infra/archive"
	"github.com/openctemio/scanmerge/internal/infra/jobs"
	"github.com/openctemio/scanmerge/internal/infra/redis"
	"github.com/openctemio/scanmerge/pkg/domain/store"
	"github.com/openctemio/scanmerge/pkg/inflate"
	"github.com/openctemio/scanmerge/pkg/logger"
)

// Services holds the application services of the server process.
type Services struct {
	Ingest    *ingest.Service
	Searcher  *searcher.Searcher
	Scheduler *searcher.Scheduler
	Workspace *app.WorkspaceService
	History   *app.HistoryService
	Rule      *app.RuleService

	// Optional collaborators, nil when disabled in config.
	Archive   *archive.S3Archive
	Notifier  *redis.ImportNotifier
	JobClient *jobs.Client
}

// ServiceDeps contains dependencies needed to create services.
type ServiceDeps struct {
	Config *config.Config
	Log    *logger.Logger
	Store  store.Store
	Redis  *redis.Client
}

// NewServices wires the ingestion queue, the rule engine and the
// administration services.
func NewServices(ctx context.Context, deps *ServiceDeps) (*Services, error) {
	cfg := deps.Config
	log := deps.Log
	st := deps.Store

	s := &Services{}

	// Ingestion
	parser := ingest.NewParser(ingest.DefaultRegistry(), ingestLimits(cfg))
	engine := ingest.NewMergeEngine(st, log)
	s.Ingest = ingest.NewService(ingest.Config{
		Shards:         cfg.Ingest.Shards,
		QueueSize:      cfg.Ingest.QueueSize,
		EnqueueTimeout: cfg.Ingest.EnqueueTimeout,
		JobTimeout:     cfg.Ingest.JobTimeout,
	}, parser, engine, st.Workspaces(), log)

	if cfg.Archive.Enabled {
		a, err := archive.NewS3Archive(ctx, cfg.Archive, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize report archive: %w", err)
		}
		s.Archive = a
		s.Ingest.SetArchive(a)
		log.Info("report archive enabled", "bucket", cfg.Archive.Bucket, "prefix", cfg.Archive.Prefix)
	}

	if deps.Redis != nil {
		s.Notifier = redis.NewImportNotifier(deps.Redis, cfg.Redis.EventsChannel, log)
		s.Ingest.SetEventPublisher(s.Notifier)
		log.Info("import events enabled", "channel", s.Notifier.Channel())
	}

	// Rules
	s.Searcher = searcher.NewSearcher(st, log)
	if cfg.Alerts.Enabled {
		client, err := jobs.NewClient(jobs.ClientConfig{
			RedisAddr:     cfg.Redis.Addr(),
			RedisPassword: cfg.Redis.Password,
			RedisDB:       cfg.Redis.DB,
			Queue:         cfg.Alerts.Queue,
			MaxRetry:      cfg.Alerts.MaxRetry,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize job client: %w", err)
		}
		s.JobClient = client
		s.Searcher.SetAlertSink(client)
		log.Info("rule alerts enabled", "queue", cfg.Alerts.Queue)
	}

	scheduler, err := searcher.NewScheduler(s.Searcher, st, searcher.SchedulerConfig{
		Enabled:    cfg.Rules.ScheduleEnabled,
		Spec:       cfg.Rules.Schedule,
		RulesFile:  cfg.Rules.File,
		RunTimeout: cfg.Rules.RunTimeout,
	}, log)
	if err != nil {
		return nil, err
	}
	s.Scheduler = scheduler

	// Administration
	s.Workspace = app.NewWorkspaceService(st.Workspaces(), log)
	s.History = app.NewHistoryService(st)
	s.Rule = app.NewRuleService(st, s.Searcher, log)

	return s, nil
}

// Close releases the clients owned by the services.
func (s *Services) Close(log *logger.Logger) {
	if s.JobClient != nil {
		closeWithLog(s.JobClient, "job client", log)
	}
	if s.Archive != nil {
		s.Archive.Close()
	}
}

func ingestLimits(cfg *config.Config) inflate.Limits {
	return inflate.Limits{
		MaxCompressedSize:   cfg.Ingest.MaxCompressedSize,
		MaxDecompressedSize: cfg.Ingest.MaxDecompressedSize,
		MaxRatio:            cfg.Ingest.MaxRatio,
	}
}
