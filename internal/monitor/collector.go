package monitor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pulsewatch/internal/models"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// MetricsCollector supplies point-in-time readings of the host.
type MetricsCollector interface {
	CPUUsage(ctx context.Context) (float64, error)
	MemoryUsage(ctx context.Context) (models.MemoryMetric, error)
	DiskUsage(ctx context.Context) (models.DiskMetric, error)
	NetworkLatency(ctx context.Context) (float64, error)
	AllMetrics(ctx context.Context) (models.SystemMetrics, error)
}

// CustomSource contributes extra named series to every snapshot.
type CustomSource interface {
	Name() string
	Collect(ctx context.Context) (map[string]float64, error)
}

// CollectionError reports that a metrics source could not be read.
type CollectionError struct {
	Source string
	Err    error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collect %s: %v", e.Source, e.Err)
}

func (e *CollectionError) Unwrap() error { return e.Err }

type CollectorConfig struct {
	DiskPath      string        `mapstructure:"disk_path"`
	LatencyTarget string        `mapstructure:"latency_target"` // host:port, empty disables the probe
	DialTimeout   time.Duration `mapstructure:"dial_timeout"`
}

// HostCollector reads the local host through gopsutil.
type HostCollector struct {
	cfg     CollectorConfig
	logger  zerolog.Logger
	mu      sync.RWMutex
	sources []CustomSource
}

func NewHostCollector(cfg CollectorConfig, logger zerolog.Logger, sources ...CustomSource) *HostCollector {
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	return &HostCollector{
		cfg:     cfg,
		logger:  logger.With().Str("component", "collector").Logger(),
		sources: sources,
	}
}

func (c *HostCollector) AddSource(src CustomSource) {
	c.mu.Lock()
	c.sources = append(c.sources, src)
	c.mu.Unlock()
}

func (c *HostCollector) CPUUsage(ctx context.Context) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, &CollectionError{Source: "cpu", Err: err}
	}
	if len(percents) == 0 {
		return 0, &CollectionError{Source: "cpu", Err: fmt.Errorf("no cpu samples")}
	}
	return percents[0], nil
}

func (c *HostCollector) MemoryUsage(ctx context.Context) (models.MemoryMetric, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return models.MemoryMetric{}, &CollectionError{Source: "memory", Err: err}
	}
	return models.MemoryMetric{Total: vm.Total, Used: vm.Used, Free: vm.Available}, nil
}

func (c *HostCollector) DiskUsage(ctx context.Context) (models.DiskMetric, error) {
	usage, err := disk.UsageWithContext(ctx, c.cfg.DiskPath)
	if err != nil {
		return models.DiskMetric{}, &CollectionError{Source: "disk", Err: err}
	}
	return models.DiskMetric{Total: usage.Total, Used: usage.Used, Free: usage.Free, Path: usage.Path}, nil
}

// NetworkLatency returns the TCP connect time to the configured target in
// milliseconds, or 0 when no target is configured.
func (c *HostCollector) NetworkLatency(ctx context.Context) (float64, error) {
	if c.cfg.LatencyTarget == "" {
		return 0, nil
	}

	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.LatencyTarget)
	if err != nil {
		return 0, &CollectionError{Source: "network", Err: err}
	}
	elapsed := time.Since(start)
	conn.Close()
	return float64(elapsed.Microseconds()) / 1000.0, nil
}

func (c *HostCollector) AllMetrics(ctx context.Context) (models.SystemMetrics, error) {
	snapshot := models.SystemMetrics{Timestamp: time.Now()}

	usage, err := c.CPUUsage(ctx)
	if err != nil {
		return models.SystemMetrics{}, err
	}
	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return models.SystemMetrics{}, &CollectionError{Source: "cpu", Err: err}
	}
	snapshot.CPU = models.CPUMetric{Usage: usage, Cores: cores}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		snapshot.CPU.LoadAverage = []float64{avg.Load1, avg.Load5, avg.Load15}
	}

	if snapshot.Memory, err = c.MemoryUsage(ctx); err != nil {
		return models.SystemMetrics{}, err
	}
	if snapshot.Disk, err = c.DiskUsage(ctx); err != nil {
		return models.SystemMetrics{}, err
	}
	if snapshot.Network.Latency, err = c.NetworkLatency(ctx); err != nil {
		return models.SystemMetrics{}, err
	}
	if counters, err := psnet.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		snapshot.Network.BytesIn = counters[0].BytesRecv
		snapshot.Network.BytesOut = counters[0].BytesSent
	}

	snapshot.Custom = c.collectCustom(ctx)
	return snapshot, nil
}

// collectCustom merges every source; a failing source only loses its own keys.
func (c *HostCollector) collectCustom(ctx context.Context) map[string]float64 {
	c.mu.RLock()
	sources := append([]CustomSource(nil), c.sources...)
	c.mu.RUnlock()
	if len(sources) == 0 {
		return nil
	}

	custom := make(map[string]float64)
	for _, src := range sources {
		values, err := src.Collect(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Str("source", src.Name()).Msg("Custom metrics source failed")
			continue
		}
		for k, v := range values {
			custom[k] = v
		}
	}
	return custom
}
