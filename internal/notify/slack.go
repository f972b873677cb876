package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/slack-go/slack"

	"github.com/autodevhq/fleet-orchestrator/internal/config"
)

// SlackChannel sends notifications to a Slack incoming webhook URL using
// the slack-go/slack SDK rather than a hand-rolled HTTP POST.
type SlackChannel struct {
	cfg config.SlackNotifyConfig
}

// NewSlack creates a SlackChannel from cfg.
func NewSlack(cfg config.SlackNotifyConfig) *SlackChannel {
	return &SlackChannel{cfg: cfg}
}

func (s *SlackChannel) Name() string       { return "slack" }
func (s *SlackChannel) IsConfigured() bool { return s.cfg.WebhookURL != "" }

func (s *SlackChannel) Send(ctx context.Context, evt Event) error {
	attachment := slack.Attachment{
		Color:      severityColor(evt.Severity),
		Title:      evt.Title,
		Text:       evt.Body,
		Footer:     "fleet-orchestrator",
		Ts:         json.Number(fmt.Sprintf("%d", time.Now().Unix())),
		TitleLink:  evt.URL,
	}
	msg := slack.WebhookMessage{
		Text:        evt.Title,
		Attachments: []slack.Attachment{attachment},
	}
	return slack.PostWebhookContext(ctx, s.cfg.WebhookURL, &msg)
}

func severityColor(sev string) string {
	switch sev {
	case "critical":
		return "#FF0000"
	case "high":
		return "#FF6600"
	case "medium":
		return "#FFAA00"
	case "low":
		return "#0099FF"
	default:
		return "#888888"
	}
}
