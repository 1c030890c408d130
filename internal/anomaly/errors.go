package anomaly

import (
	"errors"
	"fmt"
)

var ErrConcurrentTraining = errors.New("model training is already in progress")

// InsufficientDataError rejects training when a series has too few samples.
type InsufficientDataError struct {
	Metric string
	Have   int
	Need   int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("Insufficient %s data for training (have %d, need %d)", e.Metric, e.Have, e.Need)
}

type UnknownMetricError struct {
	Metric string
}

func (e *UnknownMetricError) Error() string {
	return fmt.Sprintf("no trained model for metric %q", e.Metric)
}
