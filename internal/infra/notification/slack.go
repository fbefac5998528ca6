package notification

import (
	"context"
	"fmt"
)

// SlackClient posts to a Slack incoming webhook.
type SlackClient struct {
	url     string
	channel string
	http    httpDoer
}

func (c *SlackClient) Provider() string { return string(ProviderSlack) }

func (c *SlackClient) Send(ctx context.Context, msg Message) error {
	return postJSON(ctx, c.http, ProviderSlack, c.url, c.payload(msg))
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

// slackAttachment carries the blocks so the severity color shows as a
// sidebar.
type slackAttachment struct {
	Color  string       `json:"color"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func mrkdwn(s string) slackText { return slackText{Type: "mrkdwn", Text: s} }

func (c *SlackClient) payload(msg Message) slackPayload {
	var blocks []slackBlock
	if msg.Title != "" {
		blocks = append(blocks, slackBlock{Type: "header", Text: &slackText{Type: "plain_text", Text: msg.Title}})
	}
	if msg.Body != "" {
		text := mrkdwn(msg.Body)
		blocks = append(blocks, slackBlock{Type: "section", Text: &text})
	}
	if len(msg.Fields) > 0 {
		fields := make([]slackText, 0, len(msg.Fields))
		for _, f := range msg.Fields {
			fields = append(fields, mrkdwn(fmt.Sprintf("*%s:*\n%s", f.Name, f.Value)))
		}
		blocks = append(blocks, slackBlock{Type: "section", Fields: fields})
	}
	if msg.Footer != "" {
		blocks = append(blocks, slackBlock{Type: "context", Elements: []slackText{mrkdwn(msg.Footer)}})
	}

	return slackPayload{
		Channel: c.channel,
		Text:    fmt.Sprintf("[%s] %s", msg.Severity, msg.Title),
		Attachments: []slackAttachment{{
			Color:  SeverityColor(msg.Severity),
			Blocks: blocks,
		}},
	}
}
