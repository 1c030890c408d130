package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pulsewatch/internal/alert"
	"github.com/pulsewatch/internal/anomaly"
	"github.com/pulsewatch/internal/models"
	"github.com/pulsewatch/internal/monitor"
	"github.com/stretchr/testify/assert"
)

func TestMonitorEvents(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.OnMonitorEvent(monitor.Event{Kind: monitor.EventHealthCheck, Report: &monitor.Report{
		Timestamp: time.Now(),
		Results: []models.HealthCheckResult{
			{Service: "cpu", Status: models.HealthStatusWarning, Value: 75},
			{Service: "disk", Status: models.HealthStatusHealthy, Value: 40},
		},
		OverallStatus: models.HealthStatusWarning,
	}})
	r.OnMonitorEvent(monitor.Event{Kind: monitor.EventError, Err: errors.New("disk full")})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.HealthChecks.WithLabelValues("cpu", "warning")))
	assert.Equal(t, 75.0, testutil.ToFloat64(r.HealthValue.WithLabelValues("cpu")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.OverallStatus))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.MonitorErrors))
}

func TestAnomalyAndAlertEvents(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.OnAnomalyEvent(anomaly.Event{Kind: anomaly.EventTrainingCompleted})
	r.OnAnomalyEvent(anomaly.Event{Kind: anomaly.EventTrainingError})
	r.OnAnomalyEvent(anomaly.Event{Kind: anomaly.EventModelUpdated, Metric: "cpu", Accuracy: 0.8})
	r.OnAnomalyEvent(anomaly.Event{Kind: anomaly.EventAnomalyDetected, Anomaly: &models.AnomalyResult{Metric: "cpu", Severity: models.SeverityHigh}})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Trainings.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Trainings.WithLabelValues("error")))
	assert.Equal(t, 0.8, testutil.ToFloat64(r.ModelAccuracy.WithLabelValues("cpu")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Anomalies.WithLabelValues("cpu", "high")))

	a := &models.Alert{Name: "cpu_usage_high", Severity: models.SeverityHigh}
	r.OnAlertEvent(alert.Event{Kind: alert.EventAlertFired, RuleName: a.Name, Alert: a})
	r.OnAlertEvent(alert.Event{Kind: alert.EventAlertSent, Channel: "console", Alert: a})
	r.OnAlertEvent(alert.Event{Kind: alert.EventAlertSendError, Channel: "ops", Alert: a})
	r.OnAlertEvent(alert.Event{Kind: alert.EventAlertResolved, RuleName: a.Name, Alert: a})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.AlertsFired.WithLabelValues("cpu_usage_high", "high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.AlertsResolved.WithLabelValues("cpu_usage_high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Notifications.WithLabelValues("console", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Notifications.WithLabelValues("ops", "error")))
}
