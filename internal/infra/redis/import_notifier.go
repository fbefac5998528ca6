package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openctemio/scanmerge/internal/app/ingest"
	"github.com/openctemio/scanmerge/pkg/logger"
)

// DefaultImportChannel is the pub/sub channel for finished imports.
const DefaultImportChannel = "scanmerge:imports"

// publisher is the subset of redis.Client the notifier publishes through.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// ImportNotifier publishes finished imports over Redis pub/sub so other
// processes (dashboards, the admin CLI) can follow ingestion.
type ImportNotifier struct {
	client  *Client
	pub     publisher
	channel string
	logger  *logger.Logger
}

var _ ingest.EventPublisher = (*ImportNotifier)(nil)

// NewImportNotifier creates an ImportNotifier publishing on channel.
func NewImportNotifier(client *Client, channel string, log *logger.Logger) *ImportNotifier {
	if channel == "" {
		channel = DefaultImportChannel
	}
	return &ImportNotifier{
		client:  client,
		pub:     client.Client(),
		channel: channel,
		logger:  log.With("component", "import_notifier"),
	}
}

// Channel returns the pub/sub channel name.
func (n *ImportNotifier) Channel() string { return n.channel }

// Publish announces a finished import.
func (n *ImportNotifier) Publish(ctx context.Context, event ingest.ImportEvent) error {
	done := Timed("publish")
	data, err := json.Marshal(event)
	if err != nil {
		done(err)
		return fmt.Errorf("marshal import event: %w", err)
	}

	receivers, err := n.pub.Publish(ctx, n.channel, data).Result()
	done(err)
	if err != nil {
		return fmt.Errorf("publish import event: %w", err)
	}

	n.logger.Debug("published import event",
		"job_id", event.JobID.String(),
		"workspace", event.Workspace,
		"status", event.Status,
		"receivers", receivers,
	)
	return nil
}

// PublishImport implements ingest.EventPublisher.
func (n *ImportNotifier) PublishImport(ctx context.Context, event ingest.ImportEvent) error {
	return n.Publish(ctx, event)
}

// Subscribe streams import events until ctx is done. Undecodable messages
// are logged and skipped. The returned channel is closed on exit.
func (n *ImportNotifier) Subscribe(ctx context.Context) (<-chan ingest.ImportEvent, error) {
	pubsub := n.client.Client().Subscribe(ctx, n.channel)

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", n.channel, err)
	}

	n.logger.Info("listening for import events", "channel", n.channel)

	out := make(chan ingest.ImportEvent, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					n.logger.Warn("pub/sub channel closed")
					return
				}
				event, err := decodeImportEvent(msg.Payload)
				if err != nil {
					n.logger.Error("failed to decode import event", "error", err)
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func decodeImportEvent(payload string) (ingest.ImportEvent, error) {
	var event ingest.ImportEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return ingest.ImportEvent{}, fmt.Errorf("unmarshal import event: %w", err)
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	return event, nil
}
