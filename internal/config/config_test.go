package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pulsewatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 30*time.Second, cfg.Monitor.CheckInterval)
	assert.Equal(t, models.Threshold{Warning: 70, Critical: 90}, cfg.Monitor.Thresholds.CPU)
	assert.Equal(t, "/", cfg.Monitor.Collector.DiskPath)
	assert.Equal(t, 100, cfg.Anomaly.TrainingWindow)
	assert.Equal(t, 2.5, cfg.Anomaly.DetectionSensitivity)
	assert.True(t, cfg.Anomaly.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Alert.EvaluationInterval)
	assert.Equal(t, 1000, cfg.Alert.HistorySize)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
server:
  port: 9090
database:
  driver: memory
monitor:
  check_interval: 5s
  thresholds:
    cpu:
      warning: 50
      critical: 75
  collector:
    latency_target: 1.1.1.1:53
anomaly:
  training_window: 200
  seasonal_period: 12
alert:
  notify_timeout: 3s
  channels:
    - name: ops
      type: webhook
      enabled: true
      config:
        url: http://hooks.example.com/alerts
`), 0644))
	t.Setenv("PULSEWATCH_SERVER_PORT", "9191")
	t.Setenv("PULSEWATCH_LOGGING_LEVEL", "debug")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 5*time.Second, cfg.Monitor.CheckInterval)
	assert.Equal(t, models.Threshold{Warning: 50, Critical: 75}, cfg.Monitor.Thresholds.CPU)
	assert.Equal(t, models.Threshold{Warning: 80, Critical: 95}, cfg.Monitor.Thresholds.Memory)
	assert.Equal(t, "1.1.1.1:53", cfg.Monitor.Collector.LatencyTarget)
	assert.Equal(t, 200, cfg.Anomaly.TrainingWindow)
	assert.Equal(t, 12, cfg.Anomaly.SeasonalPeriod)
	assert.Equal(t, 3*time.Second, cfg.Alert.NotifyTimeout)
	require.Len(t, cfg.Alert.Channels, 1)
	assert.Equal(t, models.ChannelWebhook, cfg.Alert.Channels[0].Type)
	assert.Equal(t, "http://hooks.example.com/alerts", cfg.Alert.Channels[0].Config.URL)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
monitor:
  thresholds:
    disk:
      warning: 99
      critical: 90
`), 0644))

	_, err := Load(dir)
	assert.ErrorContains(t, err, "monitor.thresholds.disk")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: [port"), 0644))

	_, err := Load(dir)
	assert.ErrorContains(t, err, "failed to read config")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Server.Port = 0
	cfg.Database.Driver = "postgres"
	cfg.Alert.Channels = []models.AlertChannel{{Name: "a"}, {Name: "a"}}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "server.port")
	assert.ErrorContains(t, err, "database.driver")
	assert.ErrorContains(t, err, `duplicate channel "a"`)
}
