package models

import "time"

type ModelType string

const (
	ModelTypeSeasonal    ModelType = "seasonal"
	ModelTypeStatistical ModelType = "statistical"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

type Residual struct {
	Mean              float64 `json:"mean"`
	StandardDeviation float64 `json:"standard_deviation"`
	Threshold         float64 `json:"threshold"`
}

// ModelParams is the learned baseline. Seasonal has one slot per phase of
// Period; the phase of a timestamp t is floor((t-Origin)/Step) mod Period.
// Slope is the change of the trend per Step, used only for forecasting.
type ModelParams struct {
	Seasonal []float64     `json:"seasonal"`
	Trend    float64       `json:"trend"`
	Slope    float64       `json:"slope,omitempty"`
	Residual Residual      `json:"residual"`
	Period   int           `json:"period"`
	Origin   time.Time     `json:"origin"`
	Step     time.Duration `json:"step"`
}

// Phase returns the seasonal slot for t.
func (p ModelParams) Phase(t time.Time) int {
	if p.Period <= 0 || len(p.Seasonal) == 0 || p.Step <= 0 {
		return 0
	}
	idx := int(t.Sub(p.Origin) / p.Step)
	phase := idx % p.Period
	if phase < 0 {
		phase += p.Period
	}
	return phase
}

// Expected returns the baseline value at t.
func (p ModelParams) Expected(t time.Time) float64 {
	if len(p.Seasonal) == 0 {
		return p.Trend
	}
	return p.Trend + p.Seasonal[p.Phase(t)]
}

type AnomalyModel struct {
	Metric      string      `json:"metric"`
	Type        ModelType   `json:"type"`
	Model       ModelParams `json:"model"`
	LastTrained time.Time   `json:"last_trained"`
	Accuracy    float64     `json:"accuracy"`
}

type AnomalyResult struct {
	Metric       string    `json:"metric"`
	Value        float64   `json:"value"`
	Expected     float64   `json:"expected"`
	AnomalyScore float64   `json:"anomaly_score"`
	Severity     Severity  `json:"severity"`
	Description  string    `json:"description"`
	Timestamp    time.Time `json:"timestamp"`
}
