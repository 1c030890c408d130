package notify

import (
	"context"
	"strings"

	"github.com/pulsewatch/internal/models"
	"github.com/rs/zerolog"
)

// ConsoleNotifier writes alerts to the process log.
type ConsoleNotifier struct {
	logger zerolog.Logger
}

func NewConsoleNotifier(logger zerolog.Logger) *ConsoleNotifier {
	return &ConsoleNotifier{logger: logger.With().Str("channel", "console").Logger()}
}

func (c *ConsoleNotifier) Notify(_ context.Context, a models.Alert) error {
	c.logger.Warn().
		Str("alert_id", a.ID).
		Str("status", string(a.Status)).
		Str("current_value", a.Annotations["current_value"]).
		Str("threshold", a.Annotations["threshold"]).
		Msgf("🚨 ALERT [%s] %s: %s", strings.ToUpper(string(a.Severity)), a.Name, a.Message)
	return nil
}
