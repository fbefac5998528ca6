package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/openctemio/scanmerge/internal/app/searcher"
	"github.com/openctemio/scanmerge/pkg/logger"
)

// enqueuer is the subset of asynq.Client the job client uses.
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client manages enqueueing background jobs using Asynq.
type Client struct {
	client   enqueuer
	queue    string
	maxRetry int
	logger   *logger.Logger
}

var _ searcher.AlertSink = (*Client)(nil)

// ClientConfig contains configuration for the job client.
type ClientConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Queue         string
	MaxRetry      int
}

// NewClient creates a new job client for enqueueing tasks.
func NewClient(cfg ClientConfig, log *logger.Logger) (*Client, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	return newClient(asynq.NewClient(redisOpt), cfg, log), nil
}

func newClient(e enqueuer, cfg ClientConfig, log *logger.Logger) *Client {
	if cfg.Queue == "" {
		cfg.Queue = DefaultAlertQueue
	}
	return &Client{
		client:   e,
		queue:    cfg.Queue,
		maxRetry: cfg.MaxRetry,
		logger:   log.With("component", "job_client"),
	}
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueAlert enqueues delivery of a rule alert.
func (c *Client) EnqueueAlert(ctx context.Context, alert searcher.Alert) error {
	task, err := NewRuleAlertTask(alert, c.queue, c.maxRetry)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		c.logger.Error("failed to enqueue rule alert",
			"workspace", alert.Workspace,
			"rule_id", alert.RuleID,
			"error", err,
		)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	c.logger.Info("rule alert queued",
		"task_id", info.ID,
		"workspace", alert.Workspace,
		"rule_id", alert.RuleID,
		"queue", info.Queue,
	)
	return nil
}

// SendAlert implements searcher.AlertSink.
func (c *Client) SendAlert(ctx context.Context, alert searcher.Alert) error {
	return c.EnqueueAlert(ctx, alert)
}
