package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openctemio/scanmerge/internal/metrics"
	"github.com/openctemio/scanmerge/pkg/domain/shared"
	"github.com/openctemio/scanmerge/pkg/domain/workspace"
	"github.com/openctemio/scanmerge/pkg/logger"
	"github.com/openctemio/scanmerge/pkg/validator"
)

// Job is one uploaded report waiting to be ingested.
type Job struct {
	ID         shared.ID `json:"id"`
	Workspace  string    `json:"workspace" validate:"required,workspace_name"`
	Payload    []byte    `json:"-" validate:"required,min=1"`
	ToolHint   string    `json:"tool,omitempty" validate:"max=64"`
	Identity   Identity  `json:"identity"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Archive stores raw payloads before they are parsed.
type Archive interface {
	Put(ctx context.Context, workspace, jobID, tool string, payload []byte) (string, error)
}

// ImportEvent describes a finished import.
type ImportEvent struct {
	JobID     shared.ID    `json:"job_id"`
	Workspace string       `json:"workspace"`
	Tool      string       `json:"tool"`
	Status    string       `json:"status"`
	Error     string       `json:"error,omitempty"`
	Result    *MergeResult `json:"result,omitempty"`
	At        time.Time    `json:"at"`
}

// EventPublisher announces finished imports.
type EventPublisher interface {
	PublishImport(ctx context.Context, event ImportEvent) error
}

// Config configures the ingestion queue.
type Config struct {
	// Shards is the number of worker goroutines. Jobs of one workspace
	// always go to the same shard.
	Shards int

	// QueueSize is the capacity of each shard.
	QueueSize int

	// EnqueueTimeout bounds how long Enqueue waits on a full shard.
	EnqueueTimeout time.Duration

	// JobTimeout bounds parse and merge of one job.
	JobTimeout time.Duration
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		Shards:         4,
		QueueSize:      64,
		EnqueueTimeout: 2 * time.Second,
		JobTimeout:     10 * time.Minute,
	}
}

// Stats are the queue counters since the service was created.
type Stats struct {
	Accepted  int64 `json:"accepted"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// Service queues reports and ingests them on background workers.
type Service struct {
	cfg        Config
	parser     *Parser
	engine     *MergeEngine
	workspaces workspace.Repository
	validator  *validator.Validator
	logger     *logger.Logger

	archive Archive
	events  EventPublisher

	shards []chan *Job

	mu      sync.RWMutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	accepted  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewService creates an ingestion service. Workers run after Start.
func NewService(cfg Config, parser *Parser, engine *MergeEngine, workspaces workspace.Repository, log *logger.Logger) *Service {
	def := DefaultConfig()
	if cfg.Shards <= 0 {
		cfg.Shards = def.Shards
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = def.EnqueueTimeout
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}

	shards := make([]chan *Job, cfg.Shards)
	for i := range shards {
		shards[i] = make(chan *Job, cfg.QueueSize)
	}

	return &Service{
		cfg:        cfg,
		parser:     parser,
		engine:     engine,
		workspaces: workspaces,
		validator:  validator.New(),
		logger:     log.With("service", "ingest"),
		shards:     shards,
	}
}

// SetArchive enables raw payload archiving.
func (s *Service) SetArchive(a Archive) {
	s.archive = a
}

// SetEventPublisher enables import-finished events.
func (s *Service) SetEventPublisher(p EventPublisher) {
	s.events = p
}

// Stats returns the queue counters.
func (s *Service) Stats() Stats {
	return Stats{
		Accepted:  s.accepted.Load(),
		Processed: s.processed.Load(),
		Failed:    s.failed.Load(),
		Dropped:   s.dropped.Load(),
	}
}

// =============================================================================
// Enqueue
// =============================================================================

// Enqueue validates the job, checks that its workspace exists and is active,
// and hands it to the workspace's shard. It returns once the job is queued.
func (s *Service) Enqueue(ctx context.Context, job Job) (shared.ID, error) {
	if err := s.validator.Validate(job); err != nil {
		metrics.IngestJobsEnqueued.WithLabelValues("invalid").Inc()
		return shared.ID{}, err
	}
	if _, err := s.activeWorkspace(ctx, job.Workspace); err != nil {
		return shared.ID{}, err
	}

	if job.ID.IsZero() {
		job.ID = shared.NewID()
	}
	job.EnqueuedAt = time.Now().UTC()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return shared.ID{}, ErrStopped
	}

	shard := s.shardFor(job.Workspace)
	timer := time.NewTimer(s.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case s.shards[shard] <- &job:
	case <-timer.C:
		metrics.IngestJobsEnqueued.WithLabelValues("queue_full").Inc()
		s.logger.Warn("ingest queue full", "workspace", job.Workspace, "shard", shard)
		return shared.ID{}, ErrQueueFull
	case <-ctx.Done():
		return shared.ID{}, ctx.Err()
	}

	s.accepted.Add(1)
	metrics.IngestJobsEnqueued.WithLabelValues("accepted").Inc()
	metrics.IngestQueueDepth.WithLabelValues(strconv.Itoa(shard)).Set(float64(len(s.shards[shard])))
	s.logger.Debug("job enqueued", "job_id", job.ID.String(), "workspace", job.Workspace, "shard", shard)
	return job.ID, nil
}

func (s *Service) activeWorkspace(ctx context.Context, name string) (*workspace.Workspace, error) {
	ws, err := s.workspaces.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			metrics.IngestJobsEnqueued.WithLabelValues("not_found").Inc()
		}
		return nil, fmt.Errorf("workspace %s: %w", name, err)
	}
	if err := ws.EnsureActive(); err != nil {
		metrics.IngestJobsEnqueued.WithLabelValues("inactive").Inc()
		return nil, err
	}
	return ws, nil
}

func (s *Service) shardFor(workspaceName string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(workspaceName))
	return int(h.Sum32() % uint32(len(s.shards)))
}

// =============================================================================
// Workers
// =============================================================================

// Start launches one worker per shard. Workers exit when ctx is cancelled
// or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("ingest service already started")
	}
	if s.stopped {
		return ErrStopped
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for i, ch := range s.shards {
		s.wg.Add(1)
		go s.worker(ctx, i, ch)
	}
	s.logger.Info("ingest workers started", "shards", len(s.shards), "queue_size", s.cfg.QueueSize)
	return nil
}

// Stop stops accepting jobs, lets in-flight jobs finish and drops the jobs
// still queued. It returns the number of dropped jobs.
func (s *Service) Stop() int {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	dropped := 0
	for i, ch := range s.shards {
		dropped += drain(ch)
		metrics.IngestQueueDepth.WithLabelValues(strconv.Itoa(i)).Set(0)
	}
	s.dropped.Add(int64(dropped))
	metrics.IngestJobsDropped.Add(float64(dropped))
	s.logger.Info("ingest workers stopped", "dropped", dropped)
	return dropped
}

func (s *Service) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

func drain(ch chan *Job) int {
	n := 0
	for {
		select {
		case <-ch:
			n++
		default:
			return n
		}
	}
}

func (s *Service) worker(ctx context.Context, shard int, jobs <-chan *Job) {
	defer s.wg.Done()
	label := strconv.Itoa(shard)
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-jobs:
			if ctx.Err() != nil || s.isStopped() {
				// Lost the race with Stop: the job counts as dropped.
				s.dropped.Add(1)
				metrics.IngestJobsDropped.Inc()
				return
			}
			metrics.IngestQueueDepth.WithLabelValues(label).Set(float64(len(jobs)))

			jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.JobTimeout)
			if _, err := s.ProcessReport(jobCtx, *job); err != nil {
				s.logger.Error("ingest job failed",
					"job_id", job.ID.String(),
					"workspace", job.Workspace,
					"tool", job.ToolHint,
					"error", err,
				)
			}
			cancel()
		}
	}
}

// =============================================================================
// Processing
// =============================================================================

// ProcessReport parses and merges one report synchronously. Workers call it
// for queued jobs; callers may use it directly.
func (s *Service) ProcessReport(ctx context.Context, job Job) (*MergeResult, error) {
	if err := s.validator.Validate(job); err != nil {
		return nil, err
	}
	if job.ID.IsZero() {
		job.ID = shared.NewID()
	}
	ws, err := s.activeWorkspace(ctx, job.Workspace)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if s.archive != nil {
		if key, err := s.archive.Put(ctx, ws.Name(), job.ID.String(), job.ToolHint, job.Payload); err != nil {
			s.logger.Warn("report archive failed", "job_id", job.ID.String(), "error", err)
		} else {
			s.logger.Debug("report archived", "job_id", job.ID.String(), "key", key)
		}
	}

	batch, err := s.parser.Parse(ctx, job.Payload, job.ToolHint, job.Identity)
	if err != nil {
		s.finish(ctx, job, "", "parse_error", nil, err)
		return nil, err
	}
	for _, pe := range batch.Malformed {
		s.logger.Debug("skipped malformed entry", "job_id", job.ID.String(), "entry", pe.Entry, "error", pe.Err)
	}

	result, err := s.engine.Apply(ctx, batch, ws)
	if err != nil {
		s.finish(ctx, job, batch.Command.Tool, "merge_error", nil, err)
		return nil, err
	}

	metrics.IngestDuration.WithLabelValues(batch.Command.Tool).Observe(time.Since(start).Seconds())
	s.finish(ctx, job, batch.Command.Tool, "success", result, nil)
	return result, nil
}

func (s *Service) finish(ctx context.Context, job Job, tool, status string, result *MergeResult, jobErr error) {
	if tool == "" {
		tool = job.ToolHint
	}
	if jobErr != nil {
		s.failed.Add(1)
	} else {
		s.processed.Add(1)
	}
	metrics.IngestJobsProcessed.WithLabelValues(tool, status).Inc()

	if s.events == nil {
		return
	}
	event := ImportEvent{
		JobID:     job.ID,
		Workspace: job.Workspace,
		Tool:      tool,
		Status:    status,
		Result:    result,
		At:        time.Now().UTC(),
	}
	if jobErr != nil {
		event.Error = jobErr.Error()
	}
	if err := s.events.PublishImport(ctx, event); err != nil {
		s.logger.Warn("failed to publish import event", "job_id", job.ID.String(), "error", err)
	}
}
