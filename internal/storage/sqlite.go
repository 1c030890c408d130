package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pulsewatch/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// HealthRecord is one health-check result; results of one tick share a BatchID.
type HealthRecord struct {
	gorm.Model
	BatchID   string    `gorm:"index;not null"`
	Service   string    `gorm:"index;not null"`
	Status    string    `gorm:"not null"`
	Value     float64
	Warning   float64
	Critical  float64
	Timestamp time.Time `gorm:"index"`
	Message   string
	Error     string
}

// AnomalyModelRecord holds the latest model per metric.
type AnomalyModelRecord struct {
	ID          uint   `gorm:"primaryKey"`
	Metric      string `gorm:"uniqueIndex;not null"`
	Type        string `gorm:"not null"`
	Params      string `gorm:"type:text"` // JSON encoded models.ModelParams
	LastTrained time.Time
	Accuracy    float64
	UpdatedAt   time.Time
}

type AnomalyResultRecord struct {
	gorm.Model
	BatchID     string    `gorm:"index;not null"`
	Metric      string    `gorm:"index;not null"`
	Value       float64
	Expected    float64
	Score       float64
	Severity    string
	Description string
	Timestamp   time.Time `gorm:"index"`
}

// SQLStore is a Manager backed by a SQLite database file.
type SQLStore struct {
	db     *gorm.DB
	mu     sync.Mutex
	closed bool
}

// Open opens (creating if needed) the database at dbPath and migrates the schema.
func Open(dbPath string) (*SQLStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&HealthRecord{},
		&AnomalyModelRecord{},
		&AnomalyResultRecord{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLStore{db: db}, nil
}

func (s *SQLStore) conn(ctx context.Context) (*gorm.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.db.WithContext(ctx), nil
}

func (s *SQLStore) StoreHealthResults(ctx context.Context, results []models.HealthCheckResult) error {
	if len(results) == 0 {
		return nil
	}
	db, err := s.conn(ctx)
	if err != nil {
		return wrap("store health results", err)
	}

	batchID := uuid.NewString()
	records := make([]HealthRecord, 0, len(results))
	for _, r := range results {
		records = append(records, HealthRecord{
			BatchID:   batchID,
			Service:   r.Service,
			Status:    string(r.Status),
			Value:     r.Value,
			Warning:   r.Threshold.Warning,
			Critical:  r.Threshold.Critical,
			Timestamp: r.Timestamp,
			Message:   r.Message,
			Error:     r.Error,
		})
	}
	return wrap("store health results", db.Create(&records).Error)
}

func (s *SQLStore) GetHealthHistory(ctx context.Context, r models.TimeRange) ([]models.HealthCheckResult, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, wrap("get health history", err)
	}

	query := db.Model(&HealthRecord{})
	if !r.Start.IsZero() {
		query = query.Where("timestamp >= ?", r.Start)
	}
	if !r.End.IsZero() {
		query = query.Where("timestamp <= ?", r.End)
	}

	var records []HealthRecord
	if err := query.Order("timestamp asc").Order("id asc").Find(&records).Error; err != nil {
		return nil, wrap("get health history", err)
	}

	results := make([]models.HealthCheckResult, 0, len(records))
	for _, rec := range records {
		results = append(results, models.HealthCheckResult{
			Service:   rec.Service,
			Status:    models.HealthStatus(rec.Status),
			Value:     rec.Value,
			Threshold: models.Threshold{Warning: rec.Warning, Critical: rec.Critical},
			Timestamp: rec.Timestamp,
			Message:   rec.Message,
			Error:     rec.Error,
		})
	}
	return results, nil
}

func (s *SQLStore) StoreAnomalyModel(ctx context.Context, metric string, model models.AnomalyModel) error {
	db, err := s.conn(ctx)
	if err != nil {
		return wrap("store anomaly model", err)
	}

	params, err := json.Marshal(model.Model)
	if err != nil {
		return wrap("store anomaly model", fmt.Errorf("failed to marshal model %s: %w", metric, err))
	}

	rec := AnomalyModelRecord{
		Metric:      metric,
		Type:        string(model.Type),
		Params:      string(params),
		LastTrained: model.LastTrained,
		Accuracy:    model.Accuracy,
	}
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "metric"}},
		DoUpdates: clause.AssignmentColumns([]string{"type", "params", "last_trained", "accuracy", "updated_at"}),
	}).Create(&rec).Error
	return wrap("store anomaly model", err)
}

func (s *SQLStore) GetAnomalyModels(ctx context.Context) (map[string]models.AnomalyModel, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, wrap("get anomaly models", err)
	}

	var records []AnomalyModelRecord
	if err := db.Find(&records).Error; err != nil {
		return nil, wrap("get anomaly models", err)
	}

	out := make(map[string]models.AnomalyModel, len(records))
	for _, rec := range records {
		var params models.ModelParams
		if err := json.Unmarshal([]byte(rec.Params), &params); err != nil {
			return nil, wrap("get anomaly models", fmt.Errorf("failed to decode model %s: %w", rec.Metric, err))
		}
		out[rec.Metric] = models.AnomalyModel{
			Metric:      rec.Metric,
			Type:        models.ModelType(rec.Type),
			Model:       params,
			LastTrained: rec.LastTrained,
			Accuracy:    rec.Accuracy,
		}
	}
	return out, nil
}

func (s *SQLStore) StoreAnomalyResults(ctx context.Context, ts time.Time, results []models.AnomalyResult) error {
	if len(results) == 0 {
		return nil
	}
	db, err := s.conn(ctx)
	if err != nil {
		return wrap("store anomaly results", err)
	}

	batchID := uuid.NewString()
	records := make([]AnomalyResultRecord, 0, len(results))
	for _, r := range results {
		records = append(records, AnomalyResultRecord{
			BatchID:     batchID,
			Metric:      r.Metric,
			Value:       r.Value,
			Expected:    r.Expected,
			Score:       r.AnomalyScore,
			Severity:    string(r.Severity),
			Description: r.Description,
			Timestamp:   ts,
		})
	}
	return wrap("store anomaly results", db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&records).Error
	}))
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}
	return sqlDB.Close()
}
