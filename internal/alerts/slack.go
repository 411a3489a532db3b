package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/slack-go/slack"

	"github.com/scrapewall/backend/internal/events"
)

// Severity to attachment colour. Darker red means stronger evidence.
var severityColors = map[int]string{
	3: "#8b0000",
	2: "#e01e5a",
	1: "#ec7211",
	0: "#cccccc",
}

// SlackSink posts alerts to a Slack incoming webhook.
type SlackSink struct {
	url      string
	username string
	icon     string
}

// NewSlackSink builds the sink. Returns nil without a webhook URL.
func NewSlackSink(url, username, icon string) *SlackSink {
	if url == "" {
		return nil
	}
	if username == "" {
		username = "AI Defense"
	}
	if icon == "" {
		icon = ":shield:"
	}
	return &SlackSink{url: url, username: username, icon: icon}
}

func (s *SlackSink) Name() string { return "slack" }

// Send posts a markdown message block plus a severity-coloured attachment
// carrying the request details.
func (s *SlackSink) Send(ctx context.Context, v events.Verdict) error {
	severity := events.Severity(v.Reason)
	color, ok := severityColors[severity]
	if !ok {
		color = severityColors[0]
	}

	text := fmt.Sprintf(
		":rotating_light: *Suspicious activity detected*\n*Reason:* %s\n*Address:* `%s`\n*User agent:* `%s`\n*Observed:* %s",
		v.Reason, v.Details.SourceAddress, v.Details.UserAgent, v.Details.Timestamp,
	)

	fields := []slack.AttachmentField{
		{Title: "Path", Value: v.Details.Path, Short: true},
		{Title: "Referer", Value: v.Details.Referer, Short: true},
		{Title: "Source label", Value: v.Details.SourceLabel, Short: true},
		{Title: "Score", Value: fmt.Sprintf("%.2f", v.Score), Short: true},
	}

	msg := &slack.WebhookMessage{
		Username:  s.username,
		IconEmoji: s.icon,
		Text:      text,
		Attachments: []slack.Attachment{{
			Color:  color,
			Fields: fields,
			Footer: "scrapewall defense pipeline",
			Ts:     json.Number(fmt.Sprintf("%d", time.Now().Unix())),
		}},
	}

	if err := slack.PostWebhookContext(ctx, s.url, msg); err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	return nil
}
