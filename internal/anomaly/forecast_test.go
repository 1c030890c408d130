package anomaly

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pulsewatch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForecastFollowsSeasonalBaseline(t *testing.T) {
	d := newTestDetector(storage.NewMemoryStore(0))
	require.NoError(t, d.TrainModels(context.Background(), sinusoid(150)))

	f, err := d.Forecast("cpu", 0)
	require.NoError(t, err)
	require.Len(t, f.Points, d.Config().ForecastHorizon)
	assert.Equal(t, time.Minute, f.Step)

	// One full period ahead covers the crest of the generating sinusoid.
	assert.InDelta(t, 70, f.Peak, 3)
	for i, p := range f.Points {
		assert.LessOrEqual(t, p.Lower, p.Value)
		assert.GreaterOrEqual(t, p.Upper, p.Value)
		if i > 0 {
			assert.Equal(t, time.Minute, p.Timestamp.Sub(f.Points[i-1].Timestamp))
		}
	}
}

func TestForecastExtrapolatesTrend(t *testing.T) {
	d := newTestDetector(storage.NewMemoryStore(0))
	require.NoError(t, d.TrainModels(context.Background(), sinusoid(100)))

	now := base.Add(6 * time.Hour)
	d.now = func() time.Time { return now }

	window := make([]float64, 60)
	for i := range window {
		window[i] = 10 + 0.5*float64(i)
	}
	require.NoError(t, d.UpdateModel(context.Background(), "cpu", window))

	f, err := d.Forecast("cpu", 10)
	require.NoError(t, err)
	require.Len(t, f.Points, 10)
	assert.Equal(t, TrendIncreasing, f.Direction)
	assert.InDelta(t, 0.5, f.Slope, 1e-6)

	assert.Equal(t, now.Add(time.Minute), f.Points[0].Timestamp)
	assert.InDelta(t, 40, f.Points[0].Value, 1e-6)
	assert.InDelta(t, 44.5, f.Points[9].Value, 1e-6)
	assert.InDelta(t, 44.5, f.Peak, 1e-6)
	assert.Equal(t, now.Add(10*time.Minute), f.PeakAt)

	peaks := d.PredictedPeaks()
	assert.Len(t, peaks, 4)
	assert.InDelta(t, 10+0.5*59+0.5*24, peaks["cpu"], 1e-6)
}

func TestForecastUnknownMetric(t *testing.T) {
	d := newTestDetector(storage.NewMemoryStore(0))

	_, err := d.Forecast("cpu", 5)
	var ume *UnknownMetricError
	require.True(t, errors.As(err, &ume))
	assert.Equal(t, "cpu", ume.Metric)
	assert.Empty(t, d.PredictedPeaks())
}

func TestSlope(t *testing.T) {
	assert.Zero(t, slope(nil))
	assert.Zero(t, slope([]float64{3}))
	assert.InDelta(t, 2, slope([]float64{1, 3, 5, 7}), 1e-12)
	assert.InDelta(t, -1, slope([]float64{4, 3, 2, 1}), 1e-12)
}
