// Package anomaly learns a per-series baseline from historical snapshots and
// flags readings that deviate from it by more than a z-score sensitivity.
package anomaly

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulsewatch/internal/events"
	"github.com/pulsewatch/internal/models"
	"github.com/rs/zerolog"
)

const defaultEpsilon = 1e-9

// ModelStore persists models and detected anomalies.
type ModelStore interface {
	StoreAnomalyModel(ctx context.Context, metric string, model models.AnomalyModel) error
	GetAnomalyModels(ctx context.Context) (map[string]models.AnomalyModel, error)
	StoreAnomalyResults(ctx context.Context, ts time.Time, results []models.AnomalyResult) error
}

type Config struct {
	TrainingWindow       int     `json:"training_window" mapstructure:"training_window"`
	DetectionSensitivity float64 `json:"detection_sensitivity" mapstructure:"detection_sensitivity"`
	MinSamples           int     `json:"min_samples" mapstructure:"min_samples"`
	SeasonalPeriod       int     `json:"seasonal_period" mapstructure:"seasonal_period"`
	HighBand             float64 `json:"high_band" mapstructure:"high_band"`
	CriticalBand         float64 `json:"critical_band" mapstructure:"critical_band"`
	Epsilon              float64 `json:"epsilon" mapstructure:"epsilon"`
	// ForecastHorizon is the number of model steps Forecast looks ahead
	// when the caller does not choose.
	ForecastHorizon int `json:"forecast_horizon" mapstructure:"forecast_horizon"`
}

func DefaultConfig() Config {
	return Config{
		TrainingWindow:       100,
		DetectionSensitivity: 2.5,
		SeasonalPeriod:       24,
		HighBand:             1.5,
		CriticalBand:         3.0,
		Epsilon:              defaultEpsilon,
		ForecastHorizon:      24,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TrainingWindow <= 0 {
		c.TrainingWindow = def.TrainingWindow
	}
	if c.DetectionSensitivity <= 0 {
		c.DetectionSensitivity = def.DetectionSensitivity
	}
	if c.MinSamples <= 0 {
		c.MinSamples = (c.TrainingWindow + 1) / 2
	}
	if c.SeasonalPeriod <= 0 {
		c.SeasonalPeriod = def.SeasonalPeriod
	}
	if c.HighBand <= 0 {
		c.HighBand = def.HighBand
	}
	if c.CriticalBand <= c.HighBand {
		c.CriticalBand = c.HighBand + def.CriticalBand - def.HighBand
	}
	if c.Epsilon <= 0 {
		c.Epsilon = def.Epsilon
	}
	if c.ForecastHorizon <= 0 {
		c.ForecastHorizon = def.ForecastHorizon
	}
	return c
}

type ModelInfo struct {
	Metric      string           `json:"metric"`
	Type        models.ModelType `json:"type"`
	Accuracy    float64          `json:"accuracy"`
	LastTrained time.Time        `json:"last_trained"`
}

type Detector struct {
	cfg    Config
	store  ModelStore
	logger zerolog.Logger
	bus    *events.Bus[Event]
	now    func() time.Time

	training atomic.Bool

	mu     sync.RWMutex
	models map[string]models.AnomalyModel
}

func NewDetector(cfg Config, store ModelStore, logger zerolog.Logger) *Detector {
	return &Detector{
		cfg:    cfg.withDefaults(),
		store:  store,
		logger: logger.With().Str("component", "anomaly_detector").Logger(),
		bus:    events.NewBus[Event](),
		now:    time.Now,
		models: make(map[string]models.AnomalyModel),
	}
}

func (d *Detector) Subscribe(h func(Event)) (unsubscribe func()) {
	return d.bus.Subscribe(h)
}

func (d *Detector) Config() Config { return d.cfg }

// TrainModels rebuilds every model from the most recent TrainingWindow
// snapshots. Every series must have MinSamples finite values, otherwise
// nothing is trained. Only one training run may be in flight.
func (d *Detector) TrainModels(ctx context.Context, history []models.SystemMetrics) error {
	if !d.training.CompareAndSwap(false, true) {
		return ErrConcurrentTraining
	}
	defer d.training.Store(false)

	d.bus.Publish(Event{Kind: EventTrainingStarted, Timestamp: d.now()})

	if len(history) > d.cfg.TrainingWindow {
		history = history[len(history)-d.cfg.TrainingWindow:]
	}

	names := seriesNames(history)
	series := make(map[string][]sample, len(names))
	for _, name := range names {
		samples := make([]sample, 0, len(history))
		for _, snap := range history {
			if v, ok := snap.Series(name); ok {
				samples = append(samples, sample{ts: snap.Timestamp, value: v})
			}
		}
		if len(samples) < d.cfg.MinSamples {
			err := &InsufficientDataError{Metric: name, Have: len(samples), Need: d.cfg.MinSamples}
			d.logger.Warn().Err(err).Msg("Training rejected")
			d.bus.Publish(Event{Kind: EventTrainingError, Timestamp: d.now(), Err: err})
			return err
		}
		series[name] = samples
	}

	trainedAt := d.now()
	trained := make(map[string]models.AnomalyModel, len(names))
	for _, name := range names {
		typ, params, acc := decompose(series[name], d.cfg.SeasonalPeriod, d.cfg.DetectionSensitivity)
		model := models.AnomalyModel{
			Metric:      name,
			Type:        typ,
			Model:       params,
			LastTrained: trainedAt,
			Accuracy:    acc,
		}
		if err := d.store.StoreAnomalyModel(ctx, name, model); err != nil {
			err = fmt.Errorf("failed to store model %s: %w", name, err)
			d.logger.Error().Err(err).Msg("Training failed")
			d.bus.Publish(Event{Kind: EventTrainingError, Timestamp: d.now(), Err: err})
			return err
		}
		trained[name] = model
	}

	d.mu.Lock()
	d.models = trained
	d.mu.Unlock()

	d.logger.Info().Strs("metrics", names).Int("samples", len(history)).Msg("Anomaly models trained")
	d.bus.Publish(Event{Kind: EventTrainingCompleted, Timestamp: d.now(), Metrics: names})
	return nil
}

// IsTraining reports whether a TrainModels call is in flight.
func (d *Detector) IsTraining() bool {
	return d.training.Load()
}

// seriesNames returns the built-in series followed by every custom key seen
// in history, sorted.
func seriesNames(history []models.SystemMetrics) []string {
	seen := make(map[string]struct{})
	for _, snap := range history {
		for k := range snap.Custom {
			seen[k] = struct{}{}
		}
	}
	custom := make([]string, 0, len(seen))
	for k := range seen {
		if !isBuiltin(k) {
			custom = append(custom, k)
		}
	}
	sort.Strings(custom)
	return append(append([]string(nil), models.BuiltinSeries...), custom...)
}

func isBuiltin(name string) bool {
	for _, b := range models.BuiltinSeries {
		if b == name {
			return true
		}
	}
	return false
}

// DetectAnomalies scores current against every trained model. Series with
// no usable value are skipped. Found anomalies are stored as one batch; a
// storage failure is published and returned together with the results.
func (d *Detector) DetectAnomalies(ctx context.Context, current models.SystemMetrics) ([]models.AnomalyResult, error) {
	ts := current.Timestamp
	if ts.IsZero() {
		ts = d.now()
	}

	d.mu.RLock()
	names := make([]string, 0, len(d.models))
	for name := range d.models {
		names = append(names, name)
	}
	sort.Strings(names)
	var anomalies []models.AnomalyResult
	for _, name := range names {
		value, ok := current.Series(name)
		if !ok {
			continue
		}
		if r, hit := d.score(d.models[name], value, ts); hit {
			anomalies = append(anomalies, r)
		}
	}
	d.mu.RUnlock()

	if len(anomalies) == 0 {
		return nil, nil
	}

	var storeErr error
	if err := d.store.StoreAnomalyResults(ctx, ts, anomalies); err != nil {
		storeErr = fmt.Errorf("failed to store anomaly results: %w", err)
		d.logger.Error().Err(storeErr).Msg("Detection storage failed")
		d.bus.Publish(Event{Kind: EventDetectionError, Timestamp: d.now(), Err: storeErr})
	}

	for i := range anomalies {
		a := anomalies[i]
		d.logger.Warn().
			Str("metric", a.Metric).
			Float64("value", a.Value).
			Float64("score", a.AnomalyScore).
			Str("severity", string(a.Severity)).
			Msg("Anomaly detected")
		d.bus.Publish(Event{Kind: EventAnomalyDetected, Timestamp: ts, Anomaly: &a})
	}
	return anomalies, storeErr
}

func (d *Detector) score(m models.AnomalyModel, value float64, ts time.Time) (models.AnomalyResult, bool) {
	expected := m.Model.Expected(ts)
	residual := value - expected
	score := math.Abs(residual) / math.Max(m.Model.Residual.StandardDeviation, d.cfg.Epsilon)
	if !isFinite(score) || score <= d.cfg.DetectionSensitivity {
		return models.AnomalyResult{}, false
	}

	direction := "above"
	if residual < 0 {
		direction = "below"
	}
	return models.AnomalyResult{
		Metric:       m.Metric,
		Value:        value,
		Expected:     expected,
		AnomalyScore: score,
		Severity:     d.severity(score),
		Description: fmt.Sprintf("%s value %.2f is %s baseline %.2f (score %.2f)",
			m.Metric, value, direction, expected, score),
		Timestamp: ts,
	}, true
}

func (d *Detector) severity(score float64) models.Severity {
	s := d.cfg.DetectionSensitivity
	switch {
	case score >= s+d.cfg.CriticalBand:
		return models.SeverityCritical
	case score >= s+d.cfg.HighBand:
		return models.SeverityHigh
	default:
		return models.SeverityMedium
	}
}

// GetModelInfo summarizes the trained models, sorted by metric.
func (d *Detector) GetModelInfo() []ModelInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]ModelInfo, 0, len(d.models))
	for _, m := range d.models {
		out = append(out, ModelInfo{
			Metric:      m.Metric,
			Type:        m.Type,
			Accuracy:    m.Accuracy,
			LastTrained: m.LastTrained,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metric < out[j].Metric })
	return out
}

// Model returns a copy of the model for metric.
func (d *Detector) Model(metric string) (models.AnomalyModel, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.models[metric]
	if ok {
		m.Model.Seasonal = append([]float64(nil), m.Model.Seasonal...)
	}
	return m, ok
}

// UpdateModel rebuilds the model for metric from data, a window of recent
// values ending now at the model's sample spacing.
func (d *Detector) UpdateModel(ctx context.Context, metric string, data []float64) error {
	d.mu.RLock()
	existing, ok := d.models[metric]
	d.mu.RUnlock()
	if !ok {
		return &UnknownMetricError{Metric: metric}
	}

	values := make([]float64, 0, len(data))
	for _, v := range data {
		if isFinite(v) {
			values = append(values, v)
		}
	}
	if len(values) < 2 {
		return &InsufficientDataError{Metric: metric, Have: len(values), Need: 2}
	}

	step := existing.Model.Step
	if step <= 0 {
		step = time.Minute
	}
	now := d.now()
	origin := now.Add(-time.Duration(len(values)-1) * step)
	samples := make([]sample, len(values))
	for i, v := range values {
		samples[i] = sample{ts: origin.Add(time.Duration(i) * step), value: v}
	}

	period := existing.Model.Period
	if period <= 0 {
		period = d.cfg.SeasonalPeriod
	}
	typ, params, acc := decompose(samples, period, d.cfg.DetectionSensitivity)
	model := models.AnomalyModel{
		Metric:      metric,
		Type:        typ,
		Model:       params,
		LastTrained: now,
		Accuracy:    acc,
	}
	if err := d.store.StoreAnomalyModel(ctx, metric, model); err != nil {
		return fmt.Errorf("failed to store model %s: %w", metric, err)
	}

	d.mu.Lock()
	d.models[metric] = model
	d.mu.Unlock()

	d.logger.Info().Str("metric", metric).Float64("accuracy", acc).Msg("Anomaly model updated")
	d.bus.Publish(Event{Kind: EventModelUpdated, Timestamp: now, Metric: metric, Accuracy: acc})
	return nil
}

// LoadStoredModels replaces the registry with the models found in storage.
func (d *Detector) LoadStoredModels(ctx context.Context) error {
	stored, err := d.store.GetAnomalyModels(ctx)
	if err != nil {
		return fmt.Errorf("failed to load anomaly models: %w", err)
	}

	loaded := make(map[string]models.AnomalyModel, len(stored))
	for name, m := range stored {
		if m.Metric == "" {
			m.Metric = name
		}
		loaded[name] = m
	}

	d.mu.Lock()
	d.models = loaded
	d.mu.Unlock()

	d.logger.Info().Int("models", len(loaded)).Msg("Loaded stored anomaly models")
	return nil
}
