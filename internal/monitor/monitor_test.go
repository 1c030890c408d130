package monitor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/pulsewatch/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCollector struct {
	mu      sync.Mutex
	cpu     float64
	cpuErr  error
	memory  models.MemoryMetric
	disk    models.DiskMetric
	latency float64
}

func (f *fakeCollector) CPUUsage(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cpu, f.cpuErr
}

func (f *fakeCollector) MemoryUsage(context.Context) (models.MemoryMetric, error) {
	return f.memory, nil
}

func (f *fakeCollector) DiskUsage(context.Context) (models.DiskMetric, error) {
	return f.disk, nil
}

func (f *fakeCollector) NetworkLatency(context.Context) (float64, error) {
	return f.latency, nil
}

func (f *fakeCollector) AllMetrics(context.Context) (models.SystemMetrics, error) {
	return models.SystemMetrics{
		Timestamp: time.Now(),
		CPU:       models.CPUMetric{Usage: f.cpu},
		Memory:    f.memory,
		Disk:      f.disk,
		Network:   models.NetworkMetric{Latency: f.latency},
	}, nil
}

type fakeStore struct {
	mu      sync.Mutex
	batches [][]models.HealthCheckResult
	err     error
}

func (s *fakeStore) StoreHealthResults(_ context.Context, results []models.HealthCheckResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, results)
	return nil
}

func (s *fakeStore) GetHealthHistory(context.Context, models.TimeRange) ([]models.HealthCheckResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.HealthCheckResult
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out, nil
}

func healthyCollector() *fakeCollector {
	return &fakeCollector{
		cpu:     20,
		memory:  models.MemoryMetric{Total: 100, Used: 40, Free: 60},
		disk:    models.DiskMetric{Total: 100, Used: 50, Free: 50, Path: "/"},
		latency: 12,
	}
}

func newTestMonitor(c MetricsCollector, s HealthStore) *HealthMonitor {
	return NewHealthMonitor(DefaultConfig(), c, s, zerolog.Nop())
}

func recordEvents(m *HealthMonitor) func() []Event {
	var mu sync.Mutex
	var got []Event
	m.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})
	return func() []Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]Event(nil), got...)
	}
}

func kinds(evts []Event) []EventKind {
	out := make([]EventKind, len(evts))
	for i, e := range evts {
		out[i] = e.Kind
	}
	return out
}

func countKind(evts []EventKind, k EventKind) int {
	n := 0
	for _, e := range evts {
		if e == k {
			n++
		}
	}
	return n
}

func TestThresholdClassification(t *testing.T) {
	threshold := models.Threshold{Warning: 70, Critical: 90}
	tests := []struct {
		value float64
		want  models.HealthStatus
	}{
		{0, models.HealthStatusHealthy},
		{69.99, models.HealthStatusHealthy},
		{70, models.HealthStatusWarning},
		{89.9, models.HealthStatusWarning},
		{90, models.HealthStatusCritical},
		{150, models.HealthStatusCritical},
	}

	for _, tt := range tests {
		m := newTestMonitor(healthyCollector(), &fakeStore{})
		m.AddHealthCheck("custom", func(context.Context) (models.HealthCheckResult, error) {
			return models.HealthCheckResult{Value: tt.value, Threshold: threshold}, nil
		})
		report := m.Tick(context.Background())

		var found bool
		for _, r := range report.Results {
			if r.Service == "custom" {
				found = true
				assert.Equal(t, tt.want, r.Status, "value %v", tt.value)
			}
		}
		assert.True(t, found)
	}
}

func TestTickAggregatesAndEmits(t *testing.T) {
	c := healthyCollector()
	c.cpu = 95
	c.memory = models.MemoryMetric{Total: 100, Used: 85, Free: 15}
	store := &fakeStore{}
	m := newTestMonitor(c, store)
	got := recordEvents(m)

	report := m.Tick(context.Background())

	assert.Equal(t, models.HealthStatusCritical, report.OverallStatus)
	require.Len(t, report.Results, 4)
	require.Len(t, store.batches, 1)
	assert.Len(t, store.batches[0], 4)

	assert.Equal(t, []EventKind{EventHealthCheck, EventCritical, EventWarning}, kinds(got()))
	assert.Equal(t, "cpu", got()[1].Result.Service)
	assert.Equal(t, "memory", got()[2].Result.Service)
}

func TestFailingCheckBecomesCritical(t *testing.T) {
	c := healthyCollector()
	c.cpuErr = &CollectionError{Source: "cpu", Err: errors.New("proc unavailable")}
	m := newTestMonitor(c, &fakeStore{})
	m.AddHealthCheck("panicky", func(context.Context) (models.HealthCheckResult, error) {
		panic("boom")
	})

	report := m.Tick(context.Background())

	byName := map[string]models.HealthCheckResult{}
	for _, r := range report.Results {
		byName[r.Service] = r
	}
	assert.Equal(t, models.HealthStatusCritical, byName["cpu"].Status)
	assert.Contains(t, byName["cpu"].Error, "proc unavailable")
	assert.Equal(t, models.HealthStatusCritical, byName["panicky"].Status)
	assert.Contains(t, byName["panicky"].Error, "boom")
	assert.Equal(t, models.HealthStatusHealthy, byName["disk"].Status)
}

func TestSlowCheckTimesOut(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CheckTimeout = 20 * time.Millisecond
	m := NewHealthMonitor(cfg, healthyCollector(), &fakeStore{}, zerolog.Nop())
	m.AddHealthCheck("slow", func(ctx context.Context) (models.HealthCheckResult, error) {
		time.Sleep(time.Second)
		return models.HealthCheckResult{}, nil
	})

	start := time.Now()
	report := m.Tick(context.Background())
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	for _, r := range report.Results {
		if r.Service == "slow" {
			assert.Equal(t, models.HealthStatusCritical, r.Status)
			assert.Contains(t, r.Error, "timed out")
		}
	}
}

func TestStorageFailureEmitsErrorAndContinues(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	m := newTestMonitor(healthyCollector(), store)
	got := recordEvents(m)

	m.Tick(context.Background())
	m.Tick(context.Background())

	assert.Equal(t, []EventKind{EventError, EventHealthCheck, EventError, EventHealthCheck}, kinds(got()))
	assert.EqualError(t, got()[0].Err, "disk full")
}

func TestStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CheckInterval = 10 * time.Millisecond
	m := NewHealthMonitor(cfg, healthyCollector(), &fakeStore{}, zerolog.Nop())
	got := recordEvents(m)

	require.NoError(t, m.Start(context.Background()))
	assert.ErrorIs(t, m.Start(context.Background()), ErrAlreadyRunning)
	assert.True(t, m.GetStatus().IsRunning)
	assert.Equal(t, 4, m.GetStatus().ChecksCount)

	assert.Eventually(t, func() bool {
		for _, e := range got() {
			if e.Kind == EventHealthCheck {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop()
	assert.False(t, m.GetStatus().IsRunning)

	assert.Eventually(t, func() bool {
		evts := kinds(got())
		return evts[len(evts)-1] == EventStopped
	}, time.Second, 5*time.Millisecond)
	evts := kinds(got())
	assert.Equal(t, EventStarted, evts[0])
	assert.Equal(t, 1, countKind(evts, EventStopped))

	require.NoError(t, m.Start(context.Background()))
	m.Stop()
}

func TestStopFromEventHandler(t *testing.T) {
	c := healthyCollector()
	c.cpu = 99
	cfg := DefaultConfig()
	cfg.CheckInterval = 10 * time.Millisecond
	m := NewHealthMonitor(cfg, c, &fakeStore{}, zerolog.Nop())
	got := recordEvents(m)

	var once sync.Once
	returned := make(chan struct{})
	m.Subscribe(func(e Event) {
		if e.Kind != EventCritical {
			return
		}
		once.Do(func() {
			m.Stop()
			close(returned)
		})
	})

	require.NoError(t, m.Start(context.Background()))

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop called from a handler did not return")
	}
	assert.False(t, m.GetStatus().IsRunning)

	assert.Eventually(t, func() bool {
		return countKind(kinds(got()), EventStopped) == 1
	}, time.Second, 5*time.Millisecond)
	evts := kinds(got())
	assert.Equal(t, EventStopped, evts[len(evts)-1])

	require.NoError(t, m.Start(context.Background()))
	m.Stop()
}

func TestParentContextCancelStopsMonitor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CheckInterval = 10 * time.Millisecond
	m := NewHealthMonitor(cfg, healthyCollector(), &fakeStore{}, zerolog.Nop())
	got := recordEvents(m)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool {
		return !m.GetStatus().IsRunning
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		evts := kinds(got())
		return evts[len(evts)-1] == EventStopped
	}, time.Second, 5*time.Millisecond)

	// Stop after the loop ended on its own is a no-op.
	m.Stop()
	assert.Equal(t, 1, countKind(kinds(got()), EventStopped))

	require.NoError(t, m.Start(context.Background()))
	assert.True(t, m.GetStatus().IsRunning)
	m.Stop()
	assert.False(t, m.GetStatus().IsRunning)
}

func TestAddRemoveHealthCheck(t *testing.T) {
	m := newTestMonitor(healthyCollector(), &fakeStore{})
	noop := func(context.Context) (models.HealthCheckResult, error) { return models.HealthCheckResult{}, nil }

	m.AddHealthCheck("api", noop)
	m.AddHealthCheck("api", noop)
	assert.Equal(t, 5, m.GetStatus().ChecksCount)
	assert.True(t, m.RemoveHealthCheck("api"))
	assert.False(t, m.RemoveHealthCheck("api"))
}

func TestHistoryDelegatesToStore(t *testing.T) {
	store := &fakeStore{}
	m := newTestMonitor(healthyCollector(), store)
	m.Tick(context.Background())

	history, err := m.GetHealthHistory(context.Background(), models.TimeRange{})
	require.NoError(t, err)
	assert.Len(t, history, 4)

	latest, err := m.GetLatestMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20.0, latest.CPU.Usage)
}

type fakeDocker struct {
	containers []types.Container
	stats      map[string]string
}

func (f *fakeDocker) ContainerList(context.Context, types.ContainerListOptions) ([]types.Container, error) {
	return f.containers, nil
}

func (f *fakeDocker) ContainerStats(_ context.Context, id string, _ bool) (types.ContainerStats, error) {
	body, ok := f.stats[id]
	if !ok {
		return types.ContainerStats{}, errors.New("no such container")
	}
	return types.ContainerStats{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestDockerSourceAggregates(t *testing.T) {
	stats := `{
		"cpu_stats": {"cpu_usage": {"total_usage": 300}, "system_cpu_usage": 2000, "online_cpus": 2},
		"precpu_stats": {"cpu_usage": {"total_usage": 100}, "system_cpu_usage": 1000},
		"memory_stats": {"usage": 50, "limit": 200}
	}`
	src := newDockerSource(&fakeDocker{
		containers: []types.Container{{ID: "a"}, {ID: "b"}, {ID: "gone"}},
		stats:      map[string]string{"a": stats, "b": stats},
	})

	got, err := src.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3.0, got[SeriesContainersRunning])
	assert.InDelta(t, 80.0, got[SeriesContainersCPU], 1e-9)
	assert.InDelta(t, 25.0, got[SeriesContainersMemory], 1e-9)
}

func TestHostCollectorCustomSources(t *testing.T) {
	var buf bytes.Buffer
	c := NewHostCollector(CollectorConfig{}, zerolog.New(&buf))
	c.AddSource(staticSource{name: "queue", values: map[string]float64{"queue_depth": 7}})
	c.AddSource(staticSource{name: "broken", err: errors.New("unreachable")})

	custom := c.collectCustom(context.Background())
	assert.Equal(t, map[string]float64{"queue_depth": 7}, custom)
	assert.Contains(t, buf.String(), "broken")
}

type staticSource struct {
	name   string
	values map[string]float64
	err    error
}

func (s staticSource) Name() string { return s.name }

func (s staticSource) Collect(context.Context) (map[string]float64, error) {
	return s.values, s.err
}
