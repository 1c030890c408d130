// Package monitor runs periodic health checks against live host metrics and
// classifies the system as healthy, warning or critical.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulsewatch/internal/events"
	"github.com/pulsewatch/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var ErrAlreadyRunning = errors.New("health monitor is already running")

// CheckFunc probes one service. Returning an error marks it critical.
type CheckFunc func(ctx context.Context) (models.HealthCheckResult, error)

// HealthStore is the storage the monitor needs.
type HealthStore interface {
	StoreHealthResults(ctx context.Context, results []models.HealthCheckResult) error
	GetHealthHistory(ctx context.Context, r models.TimeRange) ([]models.HealthCheckResult, error)
}

type Thresholds struct {
	CPU     models.Threshold `json:"cpu" mapstructure:"cpu"`
	Memory  models.Threshold `json:"memory" mapstructure:"memory"`
	Disk    models.Threshold `json:"disk" mapstructure:"disk"`
	Network models.Threshold `json:"network" mapstructure:"network"` // milliseconds
}

type Config struct {
	CheckInterval time.Duration `json:"check_interval" mapstructure:"check_interval"`
	CheckTimeout  time.Duration `json:"check_timeout" mapstructure:"check_timeout"`
	MaxConcurrent int           `json:"max_concurrent" mapstructure:"max_concurrent"`
	Thresholds    Thresholds    `json:"thresholds" mapstructure:"thresholds"`
}

func DefaultConfig() Config {
	return Config{
		CheckInterval: 30 * time.Second,
		CheckTimeout:  10 * time.Second,
		MaxConcurrent: 8,
		Thresholds: Thresholds{
			CPU:     models.Threshold{Warning: 70, Critical: 90},
			Memory:  models.Threshold{Warning: 80, Critical: 95},
			Disk:    models.Threshold{Warning: 85, Critical: 95},
			Network: models.Threshold{Warning: 500, Critical: 1000},
		},
	}
}

type Status struct {
	IsRunning   bool   `json:"is_running"`
	ChecksCount int    `json:"checks_count"`
	Config      Config `json:"config"`
}

type HealthMonitor struct {
	cfg       Config
	collector MetricsCollector
	store     HealthStore
	logger    zerolog.Logger
	bus       *events.Bus[Event]
	now       func() time.Time

	mu      sync.RWMutex
	checks  map[string]CheckFunc
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	tickMu sync.Mutex
	// publishing is set while a loop tick delivers its events, so a handler
	// that calls Stop does not wait on its own goroutine.
	publishing atomic.Bool
}

// NewHealthMonitor registers the cpu, memory, disk and network checks.
func NewHealthMonitor(cfg Config, collector MetricsCollector, store HealthStore, logger zerolog.Logger) *HealthMonitor {
	def := DefaultConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = def.CheckTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}

	m := &HealthMonitor{
		cfg:       cfg,
		collector: collector,
		store:     store,
		logger:    logger.With().Str("component", "health_monitor").Logger(),
		bus:       events.NewBus[Event](),
		now:       time.Now,
		checks:    make(map[string]CheckFunc),
	}
	m.registerBuiltinChecks()
	return m
}

func (m *HealthMonitor) Subscribe(h func(Event)) (unsubscribe func()) {
	return m.bus.Subscribe(h)
}

// AddHealthCheck registers fn under name, replacing any check with that name.
func (m *HealthMonitor) AddHealthCheck(name string, fn CheckFunc) {
	m.mu.Lock()
	m.checks[name] = fn
	m.mu.Unlock()
}

func (m *HealthMonitor) RemoveHealthCheck(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.checks[name]; !ok {
		return false
	}
	delete(m.checks, name)
	return true
}

// Start runs Tick every CheckInterval until Stop is called or ctx ends.
func (m *HealthMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.running = true
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go m.loop(loopCtx, done)

	m.logger.Info().Dur("interval", m.cfg.CheckInterval).Msg("Health monitor started")
	m.bus.Publish(Event{Kind: EventStarted, Timestamp: m.now()})
	return nil
}

func (m *HealthMonitor) loop(ctx context.Context, done chan struct{}) {
	defer m.exitLoop(done)

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx, true)
		}
	}
}

// exitLoop emits stopped once the loop is gone. When the loop ended because
// the parent context was cancelled rather than through Stop, it also clears
// the running state.
func (m *HealthMonitor) exitLoop(done chan struct{}) {
	m.mu.Lock()
	owned := m.done == done
	var cancel context.CancelFunc
	if owned {
		cancel = m.cancel
		m.running = false
		m.cancel, m.done = nil, nil
	}
	m.mu.Unlock()

	if owned {
		cancel()
		m.logger.Info().Msg("Health monitor stopped: context done")
	} else {
		m.logger.Info().Msg("Health monitor stopped")
	}
	m.bus.Publish(Event{Kind: EventStopped, Timestamp: m.now()})
	close(done)
}

// Stop cancels the loop and waits for an in-flight tick to finish. Calling
// it on a stopped monitor does nothing. When called while a loop tick is
// delivering events, e.g. from an event handler, it returns without
// waiting; the loop drops the rest of that tick's events and emits stopped
// once the handlers return.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	cancel()
	if !m.publishing.Load() {
		<-done
	}
}

func (m *HealthMonitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		IsRunning:   m.running,
		ChecksCount: len(m.checks),
		Config:      m.cfg,
	}
}

func (m *HealthMonitor) GetLatestMetrics(ctx context.Context) (models.SystemMetrics, error) {
	return m.collector.AllMetrics(ctx)
}

func (m *HealthMonitor) GetHealthHistory(ctx context.Context, r models.TimeRange) ([]models.HealthCheckResult, error) {
	return m.store.GetHealthHistory(ctx, r)
}

// Tick runs every registered check once, persists the batch and publishes
// the outcome. Concurrent calls are serialized.
func (m *HealthMonitor) Tick(ctx context.Context) Report {
	return m.tick(ctx, false)
}

func (m *HealthMonitor) tick(ctx context.Context, fromLoop bool) Report {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	m.mu.RLock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(m.checks))
	for k, v := range m.checks {
		checks[k] = v
	}
	m.mu.RUnlock()
	sort.Strings(names)

	results := make([]models.HealthCheckResult, len(names))
	g := new(errgroup.Group)
	g.SetLimit(m.cfg.MaxConcurrent)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			results[i] = m.runCheck(ctx, name, checks[name])
			return nil
		})
	}
	_ = g.Wait()

	statuses := make([]models.HealthStatus, len(results))
	for i, r := range results {
		statuses[i] = r.Status
	}
	report := Report{
		Timestamp:     m.now(),
		Results:       results,
		OverallStatus: models.WorstStatus(statuses...),
	}

	if err := m.store.StoreHealthResults(ctx, results); err != nil {
		m.logger.Error().Err(err).Msg("Failed to store health results")
		m.emit(ctx, fromLoop, Event{Kind: EventError, Timestamp: m.now(), Err: err})
	}

	m.logger.Debug().
		Str("overall_status", string(report.OverallStatus)).
		Int("checks", len(results)).
		Msg("Health check completed")
	m.emit(ctx, fromLoop, Event{Kind: EventHealthCheck, Timestamp: report.Timestamp, Report: &report})

	for i := range results {
		r := results[i]
		switch r.Status {
		case models.HealthStatusWarning:
			m.emit(ctx, fromLoop, Event{Kind: EventWarning, Timestamp: r.Timestamp, Result: &r})
		case models.HealthStatusCritical:
			m.emit(ctx, fromLoop, Event{Kind: EventCritical, Timestamp: r.Timestamp, Result: &r})
		}
	}
	return report
}

// emit publishes e. Loop ticks stop publishing once the loop is cancelled.
func (m *HealthMonitor) emit(ctx context.Context, fromLoop bool, e Event) {
	if fromLoop {
		if ctx.Err() != nil {
			return
		}
		m.publishing.Store(true)
		defer m.publishing.Store(false)
	}
	m.bus.Publish(e)
}

type checkOutcome struct {
	result models.HealthCheckResult
	err    error
}

// runCheck never fails: errors, panics and timeouts become critical results.
func (m *HealthMonitor) runCheck(ctx context.Context, name string, fn CheckFunc) models.HealthCheckResult {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	defer cancel()

	ch := make(chan checkOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- checkOutcome{err: fmt.Errorf("check panicked: %v", r)}
			}
		}()
		res, err := fn(cctx)
		ch <- checkOutcome{result: res, err: err}
	}()

	var out checkOutcome
	select {
	case out = <-ch:
	case <-cctx.Done():
		out.err = fmt.Errorf("check timed out: %w", cctx.Err())
	}

	if out.err != nil {
		m.logger.Warn().Err(out.err).Str("check", name).Msg("Health check failed")
		return models.HealthCheckResult{
			Service:   name,
			Status:    models.HealthStatusCritical,
			Timestamp: m.now(),
			Message:   fmt.Sprintf("%s check failed", name),
			Error:     out.err.Error(),
		}
	}

	res := out.result
	if res.Service == "" {
		res.Service = name
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = m.now()
	}
	switch {
	case res.Threshold.IsSet():
		res.Status = res.Threshold.Classify(res.Value)
	case res.Status == "":
		res.Status = models.HealthStatusHealthy
	}
	return res
}
