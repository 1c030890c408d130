package anomaly

import (
	"time"

	"github.com/pulsewatch/internal/models"
)

type EventKind string

const (
	EventTrainingStarted   EventKind = "trainingStarted"
	EventTrainingCompleted EventKind = "trainingCompleted"
	EventTrainingError     EventKind = "trainingError"
	EventAnomalyDetected   EventKind = "anomalyDetected"
	EventModelUpdated      EventKind = "modelUpdated"
	EventDetectionError    EventKind = "detectionError"
)

// Event is published by Detector.
//   - trainingCompleted: Metrics lists the trained series
//   - anomalyDetected: Anomaly
//   - modelUpdated: Metric and Accuracy
//   - trainingError, detectionError: Err
type Event struct {
	Kind      EventKind
	Timestamp time.Time
	Metrics   []string
	Metric    string
	Accuracy  float64
	Anomaly   *models.AnomalyResult
	Err       error
}
