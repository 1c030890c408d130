// Package metrics exposes the pipeline's own activity as Prometheus series.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/pulsewatch/internal/alert"
	"github.com/pulsewatch/internal/anomaly"
	"github.com/pulsewatch/internal/monitor"
)

const namespace = "pulsewatch"

// Recorder turns component events into counters and gauges.
type Recorder struct {
	HealthChecks     *prometheus.CounterVec
	HealthValue      *prometheus.GaugeVec
	OverallStatus    prometheus.Gauge
	MonitorErrors    prometheus.Counter
	Trainings        *prometheus.CounterVec
	ModelAccuracy    *prometheus.GaugeVec
	Anomalies        *prometheus.CounterVec
	AlertsFired      *prometheus.CounterVec
	AlertsResolved   *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
	WebSocketClients prometheus.Gauge
}

// New registers every series on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		HealthChecks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_checks_total",
			Help:      "Health check results by service and status.",
		}, []string{"service", "status"}),
		HealthValue: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_check_value",
			Help:      "Last value observed by each health check.",
		}, []string{"service"}),
		OverallStatus: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_overall_status",
			Help:      "Overall status of the last tick: 0 healthy, 1 warning, 2 critical.",
		}),
		MonitorErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_errors_total",
			Help:      "Errors reported by the health monitor.",
		}),
		Trainings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomaly_trainings_total",
			Help:      "Anomaly model training runs by result.",
		}, []string{"result"}),
		ModelAccuracy: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "anomaly_model_accuracy",
			Help:      "Accuracy of the current model of each series.",
		}, []string{"metric"}),
		Anomalies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_detected_total",
			Help:      "Detected anomalies by series and severity.",
		}, []string{"metric", "severity"}),
		AlertsFired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_fired_total",
			Help:      "Alerts fired by rule and severity.",
		}, []string{"rule", "severity"}),
		AlertsResolved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_resolved_total",
			Help:      "Alerts resolved by rule.",
		}, []string{"rule"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by channel and result.",
		}, []string{"channel", "result"}),
		WebSocketClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected event stream clients.",
		}),
	}
}

func (r *Recorder) OnMonitorEvent(e monitor.Event) {
	switch e.Kind {
	case monitor.EventHealthCheck:
		for _, res := range e.Report.Results {
			r.HealthChecks.WithLabelValues(res.Service, string(res.Status)).Inc()
			r.HealthValue.WithLabelValues(res.Service).Set(res.Value)
		}
		r.OverallStatus.Set(float64(e.Report.OverallStatus.Rank()))
	case monitor.EventError:
		r.MonitorErrors.Inc()
	}
}

func (r *Recorder) OnAnomalyEvent(e anomaly.Event) {
	switch e.Kind {
	case anomaly.EventTrainingCompleted:
		r.Trainings.WithLabelValues("completed").Inc()
	case anomaly.EventTrainingError:
		r.Trainings.WithLabelValues("error").Inc()
	case anomaly.EventModelUpdated:
		r.ModelAccuracy.WithLabelValues(e.Metric).Set(e.Accuracy)
	case anomaly.EventAnomalyDetected:
		r.Anomalies.WithLabelValues(e.Anomaly.Metric, string(e.Anomaly.Severity)).Inc()
	}
}

func (r *Recorder) OnAlertEvent(e alert.Event) {
	switch e.Kind {
	case alert.EventAlertFired:
		r.AlertsFired.WithLabelValues(e.RuleName, string(e.Alert.Severity)).Inc()
	case alert.EventAlertResolved:
		r.AlertsResolved.WithLabelValues(e.RuleName).Inc()
	case alert.EventAlertSent:
		r.Notifications.WithLabelValues(e.Channel, "sent").Inc()
	case alert.EventAlertSendError:
		r.Notifications.WithLabelValues(e.Channel, "error").Inc()
	}
}

// SetModelAccuracy records the accuracy of freshly trained or loaded models.
func (r *Recorder) SetModelAccuracy(metric string, accuracy float64) {
	r.ModelAccuracy.WithLabelValues(metric).Set(accuracy)
}
