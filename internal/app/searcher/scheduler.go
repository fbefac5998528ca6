package searcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
	"github.com/openctemio/scanmerge/pkg/domain/store"
	"github.com/openctemio/scanmerge/pkg/domain/workspace"
	"github.com/openctemio/scanmerge/pkg/logger"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// SchedulerConfig holds configuration for the rule scheduler.
type SchedulerConfig struct {
	// Enabled controls whether scheduled runs happen (default: false)
	Enabled bool

	// Spec is a five-field cron expression or descriptor such as "@hourly".
	Spec string

	// RulesFile optionally adds YAML rules after each workspace's stored rules.
	RulesFile string

	// RunTimeout bounds one scheduled pass over all workspaces (default: 10 minutes)
	RunTimeout time.Duration
}

// DefaultSchedulerConfig returns default configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Spec:       "@hourly",
		RunTimeout: 10 * time.Minute,
	}
}

// Scheduler runs stored rules against every active workspace on a cron spec.
type Scheduler struct {
	searcher *Searcher
	store    store.Store
	config   SchedulerConfig
	logger   *logger.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewScheduler creates a scheduler. The cron spec is checked even when the
// scheduler is disabled.
func NewScheduler(s *Searcher, st store.Store, cfg SchedulerConfig, log *logger.Logger) (*Scheduler, error) {
	if cfg.Spec == "" {
		cfg.Spec = DefaultSchedulerConfig().Spec
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultSchedulerConfig().RunTimeout
	}
	if _, err := cronParser.Parse(cfg.Spec); err != nil {
		return nil, fmt.Errorf("%w: invalid rules schedule %q: %v", shared.ErrValidation, cfg.Spec, err)
	}
	return &Scheduler{
		searcher: s,
		store:    st,
		config:   cfg,
		logger:   log.With("component", "rule_scheduler"),
	}, nil
}

// Start registers the cron job. Runs stop when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("rule scheduler disabled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(s.config.Spec, func() { s.safeRunAll(ctx) }); err != nil {
		return fmt.Errorf("schedule rules: %w", err)
	}
	c.Start()
	s.cron = c

	s.logger.Info("rule scheduler started", "spec", s.config.Spec, "rules_file", s.config.RulesFile)
	return nil
}

// Stop stops the scheduler and waits for a running pass to finish.
// Safe to call even if Start was never called.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("rule scheduler stopped")
}

// safeRunAll wraps runAll with panic recovery so a single pass cannot kill the
// cron goroutine.
func (s *Scheduler) safeRunAll(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic during scheduled rule run", "panic", r)
		}
	}()
	s.runAll(ctx)
}

func (s *Scheduler) runAll(parent context.Context) {
	ctx, cancel := context.WithTimeout(WithTrigger(parent, TriggerSchedule), s.config.RunTimeout)
	defer cancel()

	workspaces, err := s.store.Workspaces().List(ctx)
	if err != nil {
		s.logger.Error("failed to list workspaces for rule run", "error", err)
		return
	}

	processed := 0
	for _, ws := range workspaces {
		if !ws.IsActive() {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if _, err := s.RunWorkspace(ctx, ws); err != nil {
			s.logger.Error("scheduled rule run failed", "workspace", ws.Name(), "error", err)
			continue
		}
		processed++
	}
	s.logger.Info("scheduled rule run completed", "workspaces", processed)
}

// RunWorkspace runs the workspace's stored rules, followed by the configured
// rules file, and returns the report. A file that cannot be read fails the
// run; a definition in it that does not parse is skipped and reported.
func (s *Scheduler) RunWorkspace(ctx context.Context, ws *workspace.Workspace) (*Report, error) {
	rules, err := s.store.Rules().ListByWorkspace(ctx, ws.ID())
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	entries := Entries(rules)

	if s.config.RulesFile != "" {
		defs, err := LoadRulesFile(s.config.RulesFile)
		if err != nil {
			return nil, err
		}
		entries = append(entries, EntriesFromDefinitions(ws.ID(), defs)...)
	}

	return s.searcher.ProcessEntries(ctx, entries, ws), nil
}
