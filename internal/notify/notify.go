// Package notify delivers alerts to console, webhook, Slack and email channels.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pulsewatch/internal/models"
	"github.com/rs/zerolog"
)

// Notifier delivers one alert to one channel.
type Notifier interface {
	Notify(ctx context.Context, alert models.Alert) error
}

// DeliveryError reports a failed delivery on a single channel.
type DeliveryError struct {
	Channel string
	Type    models.ChannelType
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s channel %q: %v", e.Type, e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

const defaultHTTPTimeout = 10 * time.Second

// FromChannel builds the notifier for a configured channel.
func FromChannel(ch models.AlertChannel, logger zerolog.Logger) (Notifier, error) {
	switch ch.Type {
	case models.ChannelConsole:
		return NewConsoleNotifier(logger), nil
	case models.ChannelWebhook:
		if ch.Config.URL == "" {
			return nil, fmt.Errorf("channel %s: webhook url is required", ch.Name)
		}
		return NewWebhookNotifier(ch.Name, ch.Config.URL, nil), nil
	case models.ChannelSlack:
		if ch.Config.URL == "" {
			return nil, fmt.Errorf("channel %s: slack webhook url is required", ch.Name)
		}
		return NewSlackNotifier(ch.Config.URL, ch.Config.Channel, ch.Config.Username, nil), nil
	case models.ChannelEmail:
		if ch.Config.SMTPHost == "" || len(ch.Config.To) == 0 {
			return nil, fmt.Errorf("channel %s: smtp host and recipients are required", ch.Name)
		}
		return NewEmailNotifier(ch.Config, NewSMTPMailer(ch.Config)), nil
	default:
		return nil, fmt.Errorf("channel %s: unsupported channel type %q", ch.Name, ch.Type)
	}
}

func defaultClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}

func title(a models.Alert) string {
	return fmt.Sprintf("[%s] %s", strings.ToUpper(string(a.Status)), a.Name)
}

func alertColor(a models.Alert) string {
	if a.Status == models.AlertStatusResolved {
		return "#36a64f"
	}
	switch a.Severity {
	case models.SeverityCritical, models.SeverityHigh:
		return "#ff0000"
	case models.SeverityMedium:
		return "#ff9900"
	case models.SeverityLow:
		return "#ffcc00"
	default:
		return "#808080"
	}
}
