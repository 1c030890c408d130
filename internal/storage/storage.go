// Package storage persists health-check batches, anomaly models and anomaly
// results. SQLStore keeps them in SQLite through gorm; MemoryStore keeps
// bounded copies in process.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pulsewatch/internal/models"
)

// Manager is the full persistence contract used by the pipeline.
type Manager interface {
	StoreHealthResults(ctx context.Context, results []models.HealthCheckResult) error
	GetHealthHistory(ctx context.Context, r models.TimeRange) ([]models.HealthCheckResult, error)
	StoreAnomalyModel(ctx context.Context, metric string, model models.AnomalyModel) error
	GetAnomalyModels(ctx context.Context) (map[string]models.AnomalyModel, error)
	StoreAnomalyResults(ctx context.Context, ts time.Time, results []models.AnomalyResult) error
	Close() error
}

// StorageError reports a failed persistence operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

var ErrClosed = errors.New("store is closed")

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
