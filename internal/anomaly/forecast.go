package anomaly

import (
	"math"
	"time"
)

type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

type ForecastPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Lower     float64   `json:"lower"`
	Upper     float64   `json:"upper"`
}

// Forecast projects a trained model forward from the current time.
type Forecast struct {
	Metric    string          `json:"metric"`
	Step      time.Duration   `json:"step"`
	Slope     float64         `json:"slope"`
	Direction TrendDirection  `json:"direction"`
	Peak      float64         `json:"peak"`
	PeakAt    time.Time       `json:"peak_at"`
	Points    []ForecastPoint `json:"points"`
}

// Forecast extrapolates the model for metric horizon steps ahead. Each
// point is the seasonal baseline plus the trend slope carried forward from
// the time the model was trained, bounded by the residual threshold. A
// horizon of zero or less uses ForecastHorizon.
func (d *Detector) Forecast(metric string, horizon int) (Forecast, error) {
	m, ok := d.Model(metric)
	if !ok {
		return Forecast{}, &UnknownMetricError{Metric: metric}
	}
	if horizon <= 0 {
		horizon = d.cfg.ForecastHorizon
	}

	p := m.Model
	step := p.Step
	if step <= 0 {
		step = time.Minute
	}
	band := p.Residual.Threshold

	f := Forecast{
		Metric:    metric,
		Step:      step,
		Slope:     p.Slope,
		Direction: d.direction(p.Slope),
		Peak:      math.Inf(-1),
		Points:    make([]ForecastPoint, 0, horizon),
	}

	now := d.now()
	for k := 1; k <= horizon; k++ {
		ts := now.Add(time.Duration(k) * step)
		ahead := float64(ts.Sub(m.LastTrained)) / float64(step)
		if ahead < 0 {
			ahead = 0
		}
		v := p.Expected(ts) + p.Residual.Mean + p.Slope*ahead
		f.Points = append(f.Points, ForecastPoint{Timestamp: ts, Value: v, Lower: v - band, Upper: v + band})
		if v > f.Peak {
			f.Peak, f.PeakAt = v, ts
		}
	}
	return f, nil
}

// PredictedPeaks returns the forecast peak of every trained model over the
// default horizon, keyed by metric.
func (d *Detector) PredictedPeaks() map[string]float64 {
	out := make(map[string]float64)
	for _, info := range d.GetModelInfo() {
		f, err := d.Forecast(info.Metric, 0)
		if err != nil {
			continue
		}
		out[info.Metric] = f.Peak
	}
	return out
}

func (d *Detector) direction(slope float64) TrendDirection {
	switch {
	case slope > d.cfg.Epsilon:
		return TrendIncreasing
	case slope < -d.cfg.Epsilon:
		return TrendDecreasing
	default:
		return TrendStable
	}
}
