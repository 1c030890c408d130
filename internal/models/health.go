package models

import "time"

type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusWarning  HealthStatus = "warning"
	HealthStatusCritical HealthStatus = "critical"
)

// Rank orders statuses so that a higher rank is worse.
func (s HealthStatus) Rank() int {
	switch s {
	case HealthStatusCritical:
		return 2
	case HealthStatusWarning:
		return 1
	default:
		return 0
	}
}

// WorstStatus returns the most severe status, healthy for an empty input.
func WorstStatus(statuses ...HealthStatus) HealthStatus {
	worst := HealthStatusHealthy
	for _, s := range statuses {
		if s.Rank() > worst.Rank() {
			worst = s
		}
	}
	return worst
}

type Threshold struct {
	Warning  float64 `json:"warning" mapstructure:"warning" yaml:"warning"`
	Critical float64 `json:"critical" mapstructure:"critical" yaml:"critical"`
}

// IsSet reports whether either level was configured.
func (t Threshold) IsSet() bool {
	return t.Warning != 0 || t.Critical != 0
}

// Classify applies higher-is-worse semantics to a value. A level left at
// zero is not configured and never matches.
func (t Threshold) Classify(value float64) HealthStatus {
	switch {
	case t.Critical != 0 && value >= t.Critical:
		return HealthStatusCritical
	case t.Warning != 0 && value >= t.Warning:
		return HealthStatusWarning
	default:
		return HealthStatusHealthy
	}
}

type HealthCheckResult struct {
	Service   string       `json:"service"`
	Status    HealthStatus `json:"status"`
	Value     float64      `json:"value"`
	Threshold Threshold    `json:"threshold"`
	Timestamp time.Time    `json:"timestamp"`
	Message   string       `json:"message"`
	Error     string       `json:"error,omitempty"`
}
