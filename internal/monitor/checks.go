package monitor

import (
	"context"
	"fmt"

	"github.com/pulsewatch/internal/models"
)

func (m *HealthMonitor) registerBuiltinChecks() {
	t := m.cfg.Thresholds

	m.checks[models.SeriesCPU] = thresholdCheck(models.SeriesCPU, t.CPU, "CPU usage %.2f%%", m.collector.CPUUsage)

	m.checks[models.SeriesMemory] = thresholdCheck(models.SeriesMemory, t.Memory, "Memory usage %.2f%%",
		func(ctx context.Context) (float64, error) {
			mem, err := m.collector.MemoryUsage(ctx)
			if err != nil {
				return 0, err
			}
			return mem.UsedPercent(), nil
		})

	m.checks[models.SeriesDisk] = thresholdCheck(models.SeriesDisk, t.Disk, "Disk usage %.2f%%",
		func(ctx context.Context) (float64, error) {
			d, err := m.collector.DiskUsage(ctx)
			if err != nil {
				return 0, err
			}
			return d.UsedPercent(), nil
		})

	m.checks[models.SeriesNetwork] = thresholdCheck(models.SeriesNetwork, t.Network, "Network latency %.1fms", m.collector.NetworkLatency)
}

func thresholdCheck(service string, threshold models.Threshold, format string, read func(context.Context) (float64, error)) CheckFunc {
	return func(ctx context.Context) (models.HealthCheckResult, error) {
		value, err := read(ctx)
		if err != nil {
			return models.HealthCheckResult{}, err
		}
		return models.HealthCheckResult{
			Service:   service,
			Value:     value,
			Threshold: threshold,
			Message:   fmt.Sprintf(format, value),
		}, nil
	}
}
