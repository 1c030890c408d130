package anomaly

import (
	"time"

	"github.com/pulsewatch/internal/models"
)

// sample is one finite observation of a series.
type sample struct {
	ts    time.Time
	value float64
}

// decompose fits trend + seasonal + residual to samples (oldest first).
//
// The trend is a trailing moving average over one period. Only points with
// a full trailing window contribute to the seasonal slots and the residual
// distribution. With fewer than two periods of data, or timestamps without
// spacing, the model degrades to a flat mean with no seasonal component.
func decompose(samples []sample, period int, sensitivity float64) (models.ModelType, models.ModelParams, float64) {
	values := make([]float64, len(samples))
	stamps := make([]time.Time, len(samples))
	for i, s := range samples {
		values[i] = s.value
		stamps[i] = s.ts
	}

	step := medianStep(stamps)
	if period < 2 || step <= 0 || len(samples) < 2*period {
		return decomposeFlat(values, stamps, step, sensitivity)
	}

	params := models.ModelParams{
		Seasonal: make([]float64, period),
		Period:   period,
		Origin:   stamps[0],
		Step:     step,
	}

	trend := trailingMean(values, period)

	sums := make([]float64, period)
	counts := make([]int, period)
	for i := period - 1; i < len(values); i++ {
		phase := params.Phase(stamps[i])
		sums[phase] += values[i] - trend[i]
		counts[phase]++
	}
	for p := range params.Seasonal {
		if counts[p] > 0 {
			params.Seasonal[p] = sums[p] / float64(counts[p])
		}
	}
	centre := mean(params.Seasonal)
	for p := range params.Seasonal {
		params.Seasonal[p] -= centre
	}

	residuals := make([]float64, 0, len(values)-period+1)
	for i := period - 1; i < len(values); i++ {
		residuals = append(residuals, values[i]-trend[i]-params.Seasonal[params.Phase(stamps[i])])
	}

	params.Trend = trend[len(trend)-1]
	params.Slope = slope(trend[period-1:])
	params.Residual = residualStats(residuals, sensitivity)
	return models.ModelTypeSeasonal, params, accuracy(residuals, values)
}

func decomposeFlat(values []float64, stamps []time.Time, step time.Duration, sensitivity float64) (models.ModelType, models.ModelParams, float64) {
	m := mean(values)
	residuals := make([]float64, len(values))
	for i, v := range values {
		residuals[i] = v - m
	}

	params := models.ModelParams{
		Trend:    m,
		Slope:    slope(values),
		Residual: residualStats(residuals, sensitivity),
		Step:     step,
	}
	if len(stamps) > 0 {
		params.Origin = stamps[0]
	}
	return models.ModelTypeStatistical, params, accuracy(residuals, values)
}

func trailingMean(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		n := window
		if i+1 < window {
			n = i + 1
		}
		out[i] = sum / float64(n)
	}
	return out
}

func residualStats(residuals []float64, sensitivity float64) models.Residual {
	sd := stdDev(residuals)
	return models.Residual{
		Mean:              mean(residuals),
		StandardDeviation: sd,
		Threshold:         sensitivity * sd,
	}
}

// accuracy is the share of variance explained by the model, in [0, 1].
func accuracy(residuals, values []float64) float64 {
	total := variance(values)
	if total == 0 {
		if variance(residuals) == 0 {
			return 1
		}
		return 0
	}
	a := 1 - variance(residuals)/total
	if a < 0 {
		return 0
	}
	if a > 1 {
		return 1
	}
	return a
}
