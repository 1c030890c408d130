package bus

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pulsewatch/internal/alert"
	"github.com/pulsewatch/internal/anomaly"
	"github.com/pulsewatch/internal/models"
	"github.com/pulsewatch/internal/monitor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs    []published
	err     error
	drained bool
	closed  bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, published{subject, data})
	return nil
}

func (c *fakeConn) Drain() error {
	c.drained = true
	return nil
}

func (c *fakeConn) Close() { c.closed = true }

func TestPublishAlertEvent(t *testing.T) {
	c := &fakeConn{}
	p := newPublisher(c, "pw.events.", zerolog.Nop())

	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	a := &models.Alert{ID: "cpu_usage_high_1", Name: "cpu_usage_high", Severity: models.SeverityHigh, Status: models.AlertStatusFiring}
	require.NoError(t, p.Publish(FromAlert(alert.Event{Kind: alert.EventAlertFired, Timestamp: ts, RuleName: a.Name, Alert: a})))

	require.Len(t, c.msgs, 1)
	assert.Equal(t, "pw.events.alert.alert_fired", c.msgs[0].subject)

	var env map[string]any
	require.NoError(t, json.Unmarshal(c.msgs[0].data, &env))
	assert.Equal(t, "alert", env["source"])
	data := env["data"].(map[string]any)
	assert.Equal(t, "cpu_usage_high", data["rule"])
	assert.Equal(t, "cpu_usage_high_1", data["alert"].(map[string]any)["id"])

	p.Close()
	assert.True(t, c.drained)
	assert.True(t, c.closed)
}

func TestPublishError(t *testing.T) {
	c := &fakeConn{err: errors.New("nats: connection closed")}
	p := newPublisher(c, "", zerolog.Nop())

	err := p.Publish(FromMonitor(monitor.Event{Kind: monitor.EventStarted}))
	assert.ErrorContains(t, err, "connection closed")
	assert.Equal(t, "pulsewatch.events.monitor.started", p.Subject(FromMonitor(monitor.Event{Kind: monitor.EventStarted})))

	p.Forward(FromMonitor(monitor.Event{Kind: monitor.EventStopped}))
}

func TestEnvelopes(t *testing.T) {
	env := FromAnomaly(anomaly.Event{Kind: anomaly.EventModelUpdated, Metric: "cpu", Accuracy: 0.9})
	assert.Equal(t, map[string]any{"metric": "cpu", "accuracy": 0.9}, env.Data)

	env = FromAnomaly(anomaly.Event{Kind: anomaly.EventTrainingError, Err: errors.New("boom")})
	assert.Equal(t, "boom", env.Error)
	assert.Nil(t, env.Data)

	res := &models.HealthCheckResult{Service: "disk", Status: models.HealthStatusCritical}
	env = FromMonitor(monitor.Event{Kind: monitor.EventCritical, Result: res})
	assert.Same(t, res, env.Data)

	env = FromAlert(alert.Event{Kind: alert.EventRuleEvaluated, RuleName: "r", Value: 3, ConditionMet: true, Status: models.RuleStatusFiring})
	data := env.Data.(map[string]any)
	assert.Equal(t, 3.0, data["value"])
	assert.Equal(t, true, data["condition_met"])
}
