// Package app wires the health monitor, anomaly detector and alert manager
// into one running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/pulsewatch/internal/alert"
	"github.com/pulsewatch/internal/anomaly"
	"github.com/pulsewatch/internal/api"
	"github.com/pulsewatch/internal/bus"
	"github.com/pulsewatch/internal/config"
	"github.com/pulsewatch/internal/metrics"
	"github.com/pulsewatch/internal/models"
	"github.com/pulsewatch/internal/monitor"
	"github.com/pulsewatch/internal/report"
	"github.com/pulsewatch/internal/storage"
	"github.com/rs/zerolog"
)

// Option customizes an App before its components are built.
type Option func(*options)

type options struct {
	collector monitor.MetricsCollector
	now       func() time.Time
}

// WithCollector replaces the host collector.
func WithCollector(c monitor.MetricsCollector) Option {
	return func(o *options) { o.collector = c }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

type App struct {
	cfg    *config.Config
	logger zerolog.Logger
	now    func() time.Time

	store     storage.Manager
	monitor   *monitor.HealthMonitor
	detector  *anomaly.Detector
	alerts    *alert.Manager
	registry  *prometheus.Registry
	recorder  *metrics.Recorder
	publisher *bus.Publisher
	hub       *api.Hub
	server    *api.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	unsubs []func()
	once   sync.Once

	mu          sync.Mutex
	buffer      []models.SystemMetrics
	lastTrained time.Time
}

// New builds every component from cfg. Nothing runs until Run is called.
func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger, now: o.now}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	store, err := openStore(cfg.Database)
	if err != nil {
		return nil, err
	}
	a.store = store

	collector := o.collector
	if collector == nil {
		host := monitor.NewHostCollector(cfg.Monitor.Collector, logger)
		if cfg.Docker.Enabled {
			src, err := monitor.NewDockerSource(cfg.Docker.Host)
			if err != nil {
				logger.Warn().Err(err).Msg("Docker metrics disabled")
			} else {
				host.AddSource(src)
			}
		}
		collector = host
	}

	a.monitor = monitor.NewHealthMonitor(cfg.Monitor.Config, collector, store, logger)
	a.detector = anomaly.NewDetector(cfg.Anomaly.Config, store, logger)

	a.alerts, err = alert.New(cfg.Alert, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create alert manager: %w", err)
	}
	if cfg.Alert.RulesFile != "" {
		n, err := a.alerts.ImportRules(cfg.Alert.RulesFile)
		if err != nil {
			a.alerts.Destroy()
			store.Close()
			return nil, fmt.Errorf("failed to import rules: %w", err)
		}
		logger.Info().Int("rules", n).Str("file", cfg.Alert.RulesFile).Msg("Imported alert rules")
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.recorder = metrics.New(a.registry)

	if cfg.Events.NATSURL != "" {
		a.publisher, err = bus.NewPublisher(cfg.Events.NATSURL, cfg.Events.Subject, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Event publishing disabled")
		}
	}

	reports, err := report.NewGenerator(a.alerts, a.monitor)
	if err != nil {
		a.shutdown()
		return nil, err
	}

	a.hub = api.NewHub(logger, a.recorder.WebSocketClients)
	a.server = api.NewServer(api.Deps{
		Monitor:  a.monitor,
		Detector: a.detector,
		Alerts:   a.alerts,
		Hub:      a.hub,
		Reports:  reports,
		Gatherer: a.registry,
		Logger:   logger,
	})

	a.subscribe()
	return a, nil
}

func openStore(cfg config.DatabaseConfig) (storage.Manager, error) {
	if cfg.Driver == "memory" {
		return storage.NewMemoryStore(0), nil
	}
	store, err := storage.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

func (a *App) subscribe() {
	a.unsubs = append(a.unsubs,
		a.monitor.Subscribe(a.onMonitorEvent),
		a.detector.Subscribe(a.onAnomalyEvent),
		a.alerts.Subscribe(a.onAlertEvent),
	)
}

func (a *App) forward(env bus.Envelope) {
	a.hub.Broadcast(env)
	if a.publisher != nil {
		a.publisher.Forward(env)
	}
}

func (a *App) onMonitorEvent(e monitor.Event) {
	a.recorder.OnMonitorEvent(e)
	a.forward(bus.FromMonitor(e))
	if e.Kind == monitor.EventHealthCheck {
		a.process(a.ctx, *e.Report)
	}
}

func (a *App) onAnomalyEvent(e anomaly.Event) {
	a.recorder.OnAnomalyEvent(e)
	a.forward(bus.FromAnomaly(e))
}

func (a *App) onAlertEvent(e alert.Event) {
	a.recorder.OnAlertEvent(e)
	a.forward(bus.FromAlert(e))
}

// Query names of the built-in checks; any other check is evaluated under
// its own service name.
var checkQueries = map[string]string{
	models.SeriesCPU:     alert.QueryCPUUsage,
	models.SeriesMemory:  alert.QueryMemoryUsage,
	models.SeriesDisk:    alert.QueryDiskUsage,
	models.SeriesNetwork: alert.QueryNetworkLatency,
}

// process feeds one health report through the alert rules, then samples a
// snapshot for anomaly detection and training.
func (a *App) process(ctx context.Context, rep monitor.Report) {
	for _, r := range rep.Results {
		if r.Error != "" {
			continue
		}
		query, ok := checkQueries[r.Service]
		if !ok {
			query = r.Service
		}
		if err := a.alerts.EvaluateMetric(query, r.Value); err != nil && !errors.Is(err, alert.ErrDestroyed) {
			a.logger.Warn().Err(err).Str("query", query).Msg("Failed to evaluate metric")
		}
	}

	if !a.cfg.Anomaly.Enabled {
		return
	}

	snap, err := a.monitor.GetLatestMetrics(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to sample metrics for anomaly detection")
		return
	}
	a.detect(ctx, snap)
	a.maybeTrain(ctx, snap)
}

func (a *App) detect(ctx context.Context, snap models.SystemMetrics) {
	if len(a.detector.GetModelInfo()) == 0 {
		return
	}
	results, err := a.detector.DetectAnomalies(ctx, snap)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Anomaly detection failed")
	}

	maxScore := 0.0
	for _, r := range results {
		if r.AnomalyScore > maxScore {
			maxScore = r.AnomalyScore
		}
	}
	if err := a.alerts.EvaluateMetric(alert.QueryAnomalyScore, maxScore); err != nil && !errors.Is(err, alert.ErrDestroyed) {
		a.logger.Warn().Err(err).Msg("Failed to evaluate anomaly score")
	}

	a.evaluateForecasts()
}

// evaluateForecasts feeds the predicted peak of every model to the rules
// under the forecast query of its metric.
func (a *App) evaluateForecasts() {
	for series, peak := range a.detector.PredictedPeaks() {
		query, ok := checkQueries[series]
		if !ok {
			query = series
		}
		query = alert.ForecastQuery(query)
		if err := a.alerts.EvaluateMetric(query, peak); err != nil && !errors.Is(err, alert.ErrDestroyed) {
			a.logger.Warn().Err(err).Str("query", query).Msg("Failed to evaluate forecast")
		}
	}
}

// maybeTrain buffers snap and starts a background training run once the
// buffer holds a full window and the retrain interval has passed.
func (a *App) maybeTrain(ctx context.Context, snap models.SystemMetrics) {
	window := a.detector.Config().TrainingWindow
	now := a.now()

	a.mu.Lock()
	a.buffer = append(a.buffer, snap)
	if len(a.buffer) > window {
		a.buffer = append(a.buffer[:0], a.buffer[len(a.buffer)-window:]...)
	}
	due := len(a.buffer) == window &&
		now.Sub(a.lastTrained) >= a.cfg.Anomaly.RetrainInterval &&
		!a.detector.IsTraining()
	var history []models.SystemMetrics
	if due {
		history = append([]models.SystemMetrics(nil), a.buffer...)
		a.lastTrained = now
	}
	a.mu.Unlock()

	if !due {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.detector.TrainModels(ctx, history); err != nil {
			a.logger.Warn().Err(err).Msg("Anomaly training failed")
		}
	}()
}

func (a *App) Monitor() *monitor.HealthMonitor { return a.monitor }
func (a *App) Detector() *anomaly.Detector     { return a.detector }
func (a *App) Alerts() *alert.Manager          { return a.alerts }
func (a *App) Server() *api.Server             { return a.server }

// Run starts the pipeline and the API server and blocks until ctx is done
// or the server fails. Everything is torn down before it returns.
func (a *App) Run(ctx context.Context) error {
	if err := a.detector.LoadStoredModels(a.ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Starting without stored anomaly models")
	}
	if err := a.monitor.Start(a.ctx); err != nil {
		a.shutdown()
		return err
	}

	addr := ":" + strconv.Itoa(a.cfg.Server.Port)
	serverErr := make(chan error, 1)
	go func() { serverErr <- a.server.Start(addr) }()

	a.logger.Info().Str("addr", addr).Msg("PulseWatch started")

	var err error
	select {
	case <-ctx.Done():
	case err = <-serverErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if serr := a.server.Shutdown(shutdownCtx); serr != nil {
		a.logger.Warn().Err(serr).Msg("API server shutdown")
	}
	a.shutdown()
	return err
}

// Close releases the components of an App that was never run.
func (a *App) Close() {
	a.shutdown()
}

func (a *App) shutdown() {
	a.once.Do(a.teardown)
}

func (a *App) teardown() {
	a.monitor.Stop()
	a.cancel()
	a.wg.Wait()

	for _, unsub := range a.unsubs {
		unsub()
	}
	a.alerts.Destroy()
	if a.hub != nil {
		a.hub.Close()
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to close storage")
	}
	a.logger.Info().Msg("PulseWatch stopped")
}
