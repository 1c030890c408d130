package monitor

import (
	"time"

	"github.com/pulsewatch/internal/models"
)

type EventKind string

const (
	EventStarted     EventKind = "started"
	EventStopped     EventKind = "stopped"
	EventHealthCheck EventKind = "healthCheck"
	EventWarning     EventKind = "warning"
	EventCritical    EventKind = "critical"
	EventError       EventKind = "error"
)

// Event is published by HealthMonitor. Report is set for healthCheck,
// Result for warning and critical, Err for error.
type Event struct {
	Kind      EventKind
	Timestamp time.Time
	Report    *Report
	Result    *models.HealthCheckResult
	Err       error
}

// Report is the outcome of one tick.
type Report struct {
	Timestamp     time.Time                  `json:"timestamp"`
	Results       []models.HealthCheckResult `json:"results"`
	OverallStatus models.HealthStatus        `json:"overall_status"`
}
