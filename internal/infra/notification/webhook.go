package notification

import (
	"context"
	"time"
)

// WebhookClient posts a JSON document to an arbitrary endpoint.
type WebhookClient struct {
	url  string
	http httpDoer
	now  func() time.Time
}

func (c *WebhookClient) Provider() string { return string(ProviderWebhook) }

// WebhookPayload is the body a webhook receives.
type WebhookPayload struct {
	Event    string            `json:"event"`
	Source   string            `json:"source"`
	SentAt   time.Time         `json:"sent_at"`
	Title    string            `json:"title"`
	Body     string            `json:"body,omitempty"`
	Severity string            `json:"severity,omitempty"`
	Color    string            `json:"color"`
	Fields   map[string]string `json:"fields,omitempty"`
	Footer   string            `json:"footer,omitempty"`
}

func (c *WebhookClient) Send(ctx context.Context, msg Message) error {
	return postJSON(ctx, c.http, ProviderWebhook, c.url, c.payload(msg))
}

func (c *WebhookClient) payload(msg Message) WebhookPayload {
	event := msg.Event
	if event == "" {
		event = "notification"
	}
	var fields map[string]string
	if len(msg.Fields) > 0 {
		fields = make(map[string]string, len(msg.Fields))
		for _, f := range msg.Fields {
			fields[f.Name] = f.Value
		}
	}
	return WebhookPayload{
		Event:    event,
		Source:   "scanmerge",
		SentAt:   c.now().UTC(),
		Title:    msg.Title,
		Body:     msg.Body,
		Severity: msg.Severity,
		Color:    SeverityColor(msg.Severity),
		Fields:   fields,
		Footer:   msg.Footer,
	}
}
