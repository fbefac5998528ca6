// Package notification delivers rule alerts to chat and webhook channels.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openctemio/scanmerge/internal/config"
)

// Message is one notification, rendered by each channel in its own format.
type Message struct {
	Event    string // webhook event type
	Title    string
	Body     string // Slack mrkdwn
	Severity string
	Fields   []Field
	Footer   string
}

// Field is a labelled value shown under the message body.
type Field struct {
	Name  string
	Value string
}

// Client is a notification channel.
type Client interface {
	Send(ctx context.Context, msg Message) error
	Provider() string
}

// Provider names a channel type.
type Provider string

const (
	ProviderSlack   Provider = "slack"
	ProviderWebhook Provider = "webhook"
)

// Config configures one channel.
type Config struct {
	Provider   Provider
	WebhookURL string
	ChannelID  string        // Slack only, overrides the webhook's default channel
	Timeout    time.Duration // defaults to 30s
}

// New creates the client for cfg.Provider.
func New(cfg Config) (Client, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("%s webhook URL is required", cfg.Provider)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hc := &http.Client{Timeout: timeout}

	switch cfg.Provider {
	case ProviderSlack:
		return &SlackClient{url: cfg.WebhookURL, channel: cfg.ChannelID, http: hc}, nil
	case ProviderWebhook:
		return &WebhookClient{url: cfg.WebhookURL, http: hc, now: time.Now}, nil
	default:
		return nil, fmt.Errorf("unsupported notification provider: %s", cfg.Provider)
	}
}

// FromConfig creates a client per configured channel. No channel yields an
// empty list.
func FromConfig(cfg *config.NotifyConfig) ([]Client, error) {
	var configs []Config
	if cfg.WebhookURL != "" {
		configs = append(configs, Config{Provider: ProviderWebhook, WebhookURL: cfg.WebhookURL, Timeout: cfg.Timeout})
	}
	if cfg.SlackWebhookURL != "" {
		configs = append(configs, Config{
			Provider:   ProviderSlack,
			WebhookURL: cfg.SlackWebhookURL,
			ChannelID:  cfg.SlackChannel,
			Timeout:    cfg.Timeout,
		})
	}

	clients := make([]Client, 0, len(configs))
	for _, c := range configs {
		client, err := New(c)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s notifier: %w", c.Provider, err)
		}
		clients = append(clients, client)
	}
	return clients, nil
}

// DeliveryError is a non-2xx answer from a channel.
type DeliveryError struct {
	Provider Provider
	Status   int
	Body     string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Status, e.Body)
}

// maxResponseBody bounds how much of a failed response is kept.
const maxResponseBody = 1 << 20

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

func postJSON(ctx context.Context, hc httpDoer, provider Provider, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "scanmerge-notification/1.0")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("send %s notification: %w", provider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		return &DeliveryError{Provider: provider, Status: resp.StatusCode, Body: string(text)}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
	return nil
}

var severityColors = map[string]string{
	"critical": "#dc2626",
	"high":     "#ea580c",
	"medium":   "#ca8a04",
	"low":      "#2563eb",
}

// SeverityColor is the sidebar color of a vulnerability severity.
func SeverityColor(severity string) string {
	if c, ok := severityColors[severity]; ok {
		return c
	}
	return "#6b7280"
}
