package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pulsewatch/internal/models"
	"github.com/slack-go/slack"
)

// SlackNotifier posts to a Slack incoming webhook.
type SlackNotifier struct {
	WebhookURL string
	Channel    string
	Username   string
	client     *http.Client
}

func NewSlackNotifier(webhookURL, channel, username string, client *http.Client) *SlackNotifier {
	if username == "" {
		username = "PulseWatch"
	}
	return &SlackNotifier{
		WebhookURL: webhookURL,
		Channel:    channel,
		Username:   username,
		client:     defaultClient(client),
	}
}

func (s *SlackNotifier) Notify(ctx context.Context, a models.Alert) error {
	msg := &slack.WebhookMessage{
		Channel:     s.Channel,
		Username:    s.Username,
		IconEmoji:   alertEmoji(a),
		Attachments: []slack.Attachment{slackAttachment(a)},
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, s.WebhookURL, s.client, msg); err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	return nil
}

func slackAttachment(a models.Alert) slack.Attachment {
	fields := []slack.AttachmentField{
		{Title: "Severity", Value: string(a.Severity), Short: true},
		{Title: "Current Value", Value: a.Annotations["current_value"], Short: true},
		{Title: "Threshold", Value: a.Annotations["threshold"], Short: true},
		{Title: "Started", Value: a.StartsAt.Format(time.RFC3339), Short: true},
	}
	if a.EndsAt != nil {
		fields = append(fields, slack.AttachmentField{
			Title: "Duration",
			Value: a.EndsAt.Sub(a.StartsAt).String(),
			Short: true,
		})
	}

	return slack.Attachment{
		Color:  alertColor(a),
		Title:  title(a),
		Text:   a.Message,
		Fields: fields,
		Footer: "PulseWatch Alert System",
		Ts:     json.Number(strconv.FormatInt(time.Now().Unix(), 10)),
	}
}

func alertEmoji(a models.Alert) string {
	if a.Status == models.AlertStatusResolved {
		return ":white_check_mark:"
	}
	switch a.Severity {
	case models.SeverityCritical, models.SeverityHigh:
		return ":red_circle:"
	case models.SeverityMedium:
		return ":warning:"
	default:
		return ":bell:"
	}
}
