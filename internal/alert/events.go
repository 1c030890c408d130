package alert

import (
	"time"

	"github.com/pulsewatch/internal/models"
)

type EventKind string

const (
	EventRuleAdded       EventKind = "rule_added"
	EventRuleRemoved     EventKind = "rule_removed"
	EventChannelAdded    EventKind = "channel_added"
	EventChannelRemoved  EventKind = "channel_removed"
	EventRuleEvaluated   EventKind = "rule_evaluated"
	EventAlertFired      EventKind = "alert_fired"
	EventAlertResolved   EventKind = "alert_resolved"
	EventAlertSuppressed EventKind = "alert_suppressed"
	EventAlertSent       EventKind = "alert_sent"
	EventAlertSendError  EventKind = "alert_send_error"
)

// Event is published by Manager. RuleName is set on every rule-scoped
// event; the other fields depend on Kind:
//   - rule_added: Rule
//   - channel_added, channel_removed: Channel
//   - rule_evaluated: Value, ConditionMet, Status
//   - alert_fired, alert_resolved: Alert
//   - alert_suppressed: Until
//   - alert_sent: Channel, Alert
//   - alert_send_error: Channel, Alert, Err
type Event struct {
	Kind         EventKind
	Timestamp    time.Time
	RuleName     string
	Rule         *models.AlertRule
	Channel      string
	Alert        *models.Alert
	Value        float64
	ConditionMet bool
	Status       models.RuleStatus
	Until        time.Time
	Err          error
}
