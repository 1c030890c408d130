package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"golang.org/x/sync/semaphore"
)

const maxConcurrentCollections = 10

// Custom series reported by DockerSource.
const (
	SeriesContainersRunning = "containers_running"
	SeriesContainersCPU     = "containers_cpu_percent"
	SeriesContainersMemory  = "containers_memory_percent"
)

// containerAPI is the part of the docker client DockerSource uses.
type containerAPI interface {
	ContainerList(ctx context.Context, options types.ContainerListOptions) ([]types.Container, error)
	ContainerStats(ctx context.Context, containerID string, stream bool) (types.ContainerStats, error)
}

// DockerSource aggregates running containers into custom series: the number
// of running containers, their summed CPU percent and their mean memory
// percent.
type DockerSource struct {
	docker containerAPI
	sem    *semaphore.Weighted
}

// NewDockerSource connects to the daemon configured by the environment
// (DOCKER_HOST and friends) unless host is set.
func NewDockerSource(host string) (*DockerSource, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newDockerSource(cli), nil
}

func newDockerSource(api containerAPI) *DockerSource {
	return &DockerSource{
		docker: api,
		sem:    semaphore.NewWeighted(maxConcurrentCollections),
	}
}

func (d *DockerSource) Name() string { return "docker" }

func (d *DockerSource) Collect(ctx context.Context) (map[string]float64, error) {
	containers, err := d.docker.ContainerList(ctx, types.ContainerListOptions{})
	if err != nil {
		return nil, &CollectionError{Source: "docker", Err: fmt.Errorf("failed to list containers: %w", err)}
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		cpuTotal float64
		memTotal float64
		sampled  int
	)
	for _, c := range containers {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer d.sem.Release(1)

			cpuPercent, memPercent, err := d.containerUsage(ctx, id)
			if err != nil {
				return
			}
			mu.Lock()
			cpuTotal += cpuPercent
			memTotal += memPercent
			sampled++
			mu.Unlock()
		}(c.ID)
	}
	wg.Wait()

	out := map[string]float64{
		SeriesContainersRunning: float64(len(containers)),
		SeriesContainersCPU:     cpuTotal,
		SeriesContainersMemory:  0,
	}
	if sampled > 0 {
		out[SeriesContainersMemory] = memTotal / float64(sampled)
	}
	return out, nil
}

func (d *DockerSource) containerUsage(ctx context.Context, id string) (float64, float64, error) {
	resp, err := d.docker.ContainerStats(ctx, id, false)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	var stats types.StatsJSON
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return 0, 0, err
	}

	memPercent := 0.0
	if stats.MemoryStats.Limit > 0 {
		memPercent = float64(stats.MemoryStats.Usage) / float64(stats.MemoryStats.Limit) * 100.0
	}
	return calculateCPUPercentUnix(stats), memPercent, nil
}

func calculateCPUPercentUnix(stats types.StatsJSON) float64 {
	cpuPercent := 0.0
	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)

	onlineCPUs := float64(stats.CPUStats.OnlineCPUs)
	if onlineCPUs == 0 {
		onlineCPUs = float64(len(stats.CPUStats.CPUUsage.PercpuUsage))
	}
	if systemDelta > 0.0 && cpuDelta > 0.0 {
		cpuPercent = (cpuDelta / systemDelta) * onlineCPUs * 100.0
	}
	return cpuPercent
}
