package storage

import (
	"context"
	"sync"
	"time"

	"github.com/pulsewatch/internal/models"
)

const defaultMemoryCapacity = 10000 // Keep the last 10k health results and anomalies

// MemoryStore is a Manager that keeps everything in process. Health results
// and anomaly results are bounded; the oldest entries are dropped first.
type MemoryStore struct {
	mu        sync.RWMutex
	health    []models.HealthCheckResult
	anomalies []models.AnomalyResult
	models    map[string]models.AnomalyModel
	capacity  int
	closed    bool
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryStore{
		models:   make(map[string]models.AnomalyModel),
		capacity: capacity,
	}
}

func (s *MemoryStore) StoreHealthResults(_ context.Context, results []models.HealthCheckResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return wrap("store health results", ErrClosed)
	}
	s.health = appendBounded(s.health, results, s.capacity)
	return nil
}

func (s *MemoryStore) GetHealthHistory(_ context.Context, r models.TimeRange) ([]models.HealthCheckResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrap("get health history", ErrClosed)
	}

	result := make([]models.HealthCheckResult, 0, len(s.health))
	for _, h := range s.health {
		if r.Contains(h.Timestamp) {
			result = append(result, h)
		}
	}
	return result, nil
}

func (s *MemoryStore) StoreAnomalyModel(_ context.Context, metric string, model models.AnomalyModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return wrap("store anomaly model", ErrClosed)
	}
	model.Model.Seasonal = append([]float64(nil), model.Model.Seasonal...)
	s.models[metric] = model
	return nil
}

func (s *MemoryStore) GetAnomalyModels(_ context.Context) (map[string]models.AnomalyModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrap("get anomaly models", ErrClosed)
	}

	out := make(map[string]models.AnomalyModel, len(s.models))
	for k, m := range s.models {
		m.Model.Seasonal = append([]float64(nil), m.Model.Seasonal...)
		out[k] = m
	}
	return out, nil
}

func (s *MemoryStore) StoreAnomalyResults(_ context.Context, ts time.Time, results []models.AnomalyResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return wrap("store anomaly results", ErrClosed)
	}

	batch := make([]models.AnomalyResult, len(results))
	for i, r := range results {
		if r.Timestamp.IsZero() {
			r.Timestamp = ts
		}
		batch[i] = r
	}
	s.anomalies = appendBounded(s.anomalies, batch, s.capacity)
	return nil
}

// RecentAnomalies returns up to count of the newest stored anomalies, oldest first.
func (s *MemoryStore) RecentAnomalies(count int) []models.AnomalyResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if count <= 0 || count > len(s.anomalies) {
		count = len(s.anomalies)
	}
	result := make([]models.AnomalyResult, count)
	copy(result, s.anomalies[len(s.anomalies)-count:])
	return result
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func appendBounded[T any](buf, items []T, capacity int) []T {
	buf = append(buf, items...)
	if over := len(buf) - capacity; over > 0 {
		// Remove the oldest elements
		buf = append(buf[:0:0], buf[over:]...)
	}
	return buf
}
