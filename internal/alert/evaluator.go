package alert

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pulsewatch/internal/models"
)

// outbox collects what a locked section decided to publish and deliver, so
// that both happen after the manager lock is released.
type outbox struct {
	events     []Event
	deliveries []models.Alert
	channels   []channelEntry
}

func (o *outbox) emit(e Event) {
	o.events = append(o.events, e)
}

// evaluateRule applies one observed value to a rule. Caller holds m.mu.
func (m *Manager) evaluateRule(rule models.AlertRule, value float64, now time.Time, out *outbox) {
	st := m.state(rule.Name)
	st.CurrentValue = value
	st.LastEvaluated = now
	m.expireSuppression(st, now)

	met := rule.Condition.Evaluate(value, rule.Threshold)
	suppressed := st.Suppressed(now)

	switch {
	case met && st.Status == models.RuleStatusNormal:
		if suppressed {
			st.PendingSince = nil
			break
		}
		if rule.Duration > 0 {
			if st.PendingSince == nil {
				pending := now
				st.PendingSince = &pending
			}
			if now.Sub(*st.PendingSince) < rule.Duration {
				break
			}
		}
		m.fire(rule, st, value, now, out)

	case !met:
		st.PendingSince = nil
		if st.Status == models.RuleStatusFiring {
			m.resolve(rule.Name, st, now, !suppressed, out)
		}
	}

	out.emit(Event{
		Kind:         EventRuleEvaluated,
		Timestamp:    now,
		RuleName:     rule.Name,
		Value:        value,
		ConditionMet: met,
		Status:       st.Status,
	})
}

// promotePending fires rules whose Duration has elapsed since the breach
// began without a new evaluation arriving. Caller holds m.mu.
func (m *Manager) promotePending(rule models.AlertRule, st *models.AlertState, now time.Time, out *outbox) {
	if st.Status != models.RuleStatusNormal || st.PendingSince == nil || st.Suppressed(now) {
		return
	}
	if !rule.Condition.Evaluate(st.CurrentValue, rule.Threshold) {
		return
	}
	if now.Sub(*st.PendingSince) >= rule.Duration {
		m.fire(rule, st, st.CurrentValue, now, out)
	}
}

func (m *Manager) expireSuppression(st *models.AlertState, now time.Time) {
	if st.SuppressedUntil != nil && !now.Before(*st.SuppressedUntil) {
		st.SuppressedUntil = nil
	}
}

func (m *Manager) fire(rule models.AlertRule, st *models.AlertState, value float64, now time.Time, out *outbox) {
	startsAt := now
	st.Status = models.RuleStatusFiring
	st.FireCount++
	st.FiringSince = &startsAt
	st.PendingSince = nil

	alert := &models.Alert{
		ID:       fmt.Sprintf("%s_%d", rule.Name, now.UnixMilli()),
		Name:     rule.Name,
		Severity: rule.Severity,
		Status:   models.AlertStatusFiring,
		Message:  formatAlertMessage(rule, value),
		Labels:   rule.Clone().Labels,
		Annotations: map[string]string{
			"summary":       rule.Annotations.Summary,
			"description":   rule.Annotations.Description,
			"current_value": formatValue(value),
			"threshold":     formatValue(rule.Threshold),
		},
		StartsAt: startsAt,
	}
	m.active[rule.Name] = alert
	m.history.push(alert)
	m.totalFired++

	m.logger.Warn().
		Str("rule", rule.Name).
		Str("alert_id", alert.ID).
		Float64("value", value).
		Msg("Alert fired")

	snapshot := alert.Clone()
	out.emit(Event{Kind: EventAlertFired, Timestamp: now, RuleName: rule.Name, Alert: &snapshot})
	out.deliveries = append(out.deliveries, snapshot)
}

// resolve closes the open alert of a rule. With notify false the alert is
// closed silently.
func (m *Manager) resolve(name string, st *models.AlertState, now time.Time, notify bool, out *outbox) {
	st.Status = models.RuleStatusNormal
	st.FiringSince = nil

	alert, ok := m.active[name]
	if !ok {
		return
	}
	delete(m.active, name)

	endsAt := now
	alert.EndsAt = &endsAt
	alert.Status = models.AlertStatusResolved
	m.totalResolved++
	m.totalResolution += endsAt.Sub(alert.StartsAt)

	m.logger.Info().
		Str("rule", name).
		Str("alert_id", alert.ID).
		Dur("duration", endsAt.Sub(alert.StartsAt)).
		Msg("Alert resolved")

	snapshot := alert.Clone()
	out.emit(Event{Kind: EventAlertResolved, Timestamp: now, RuleName: name, Alert: &snapshot})
	if notify {
		out.deliveries = append(out.deliveries, snapshot)
	}
}

func formatAlertMessage(rule models.AlertRule, value float64) string {
	return fmt.Sprintf("%s - %s is %s (threshold: %s %s)",
		rule.Name,
		rule.Query,
		formatValue(value),
		rule.Condition,
		formatValue(rule.Threshold))
}

// formatValue renders 90 as "90" and 90.5 as "90.5".
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
