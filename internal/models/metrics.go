package models

import (
	"math"
	"time"
)

// Tracked series names. Custom series use their own key.
const (
	SeriesCPU     = "cpu"
	SeriesMemory  = "memory"
	SeriesDisk    = "disk"
	SeriesNetwork = "network"
)

// BuiltinSeries lists the series every snapshot carries, in training order.
var BuiltinSeries = []string{SeriesCPU, SeriesMemory, SeriesDisk, SeriesNetwork}

type CPUMetric struct {
	Usage       float64   `json:"usage"` // percent
	Cores       int       `json:"cores"`
	LoadAverage []float64 `json:"load_average"`
}

type MemoryMetric struct {
	Total uint64 `json:"total"` // bytes
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
}

// UsedPercent returns used/total as a percentage, 0 when total is unknown.
func (m MemoryMetric) UsedPercent() float64 {
	if m.Total == 0 {
		return 0
	}
	return float64(m.Used) / float64(m.Total) * 100.0
}

type DiskMetric struct {
	Total uint64 `json:"total"` // bytes
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
	Path  string `json:"path"`
}

func (d DiskMetric) UsedPercent() float64 {
	if d.Total == 0 {
		return 0
	}
	return float64(d.Used) / float64(d.Total) * 100.0
}

type NetworkMetric struct {
	Latency  float64 `json:"latency"` // milliseconds
	BytesIn  uint64  `json:"bytes_in"`
	BytesOut uint64  `json:"bytes_out"`
}

// SystemMetrics is a point-in-time snapshot produced by a collector.
// Consumers treat it as immutable.
type SystemMetrics struct {
	Timestamp time.Time          `json:"timestamp"`
	CPU       CPUMetric          `json:"cpu"`
	Memory    MemoryMetric       `json:"memory"`
	Disk      DiskMetric         `json:"disk"`
	Network   NetworkMetric      `json:"network"`
	Custom    map[string]float64 `json:"custom,omitempty"`
}

// Series looks up a tracked series value. The second result is false when
// the series is absent or its value is not a finite number.
func (s SystemMetrics) Series(name string) (float64, bool) {
	var v float64
	switch name {
	case SeriesCPU:
		v = s.CPU.Usage
	case SeriesMemory:
		v = s.Memory.UsedPercent()
	case SeriesDisk:
		v = s.Disk.UsedPercent()
	case SeriesNetwork:
		v = s.Network.Latency
	default:
		cv, ok := s.Custom[name]
		if !ok {
			return 0, false
		}
		v = cv
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// TimeRange is an inclusive interval used for history queries.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (r TimeRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}
