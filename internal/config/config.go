package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pulsewatch/internal/alert"
	"github.com/pulsewatch/internal/anomaly"
	"github.com/pulsewatch/internal/logging"
	"github.com/pulsewatch/internal/models"
	"github.com/pulsewatch/internal/monitor"
	"github.com/spf13/viper"
)

const EnvPrefix = "PULSEWATCH"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  logging.Config `mapstructure:"logging"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Anomaly  AnomalyConfig  `mapstructure:"anomaly"`
	Alert    alert.Config   `mapstructure:"alert"`
	Docker   DockerConfig   `mapstructure:"docker"`
	Events   EventsConfig   `mapstructure:"events"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite or memory
	Path   string `mapstructure:"path"`
}

type MonitorConfig struct {
	monitor.Config `mapstructure:",squash"`
	Collector      monitor.CollectorConfig `mapstructure:"collector"`
}

type AnomalyConfig struct {
	anomaly.Config  `mapstructure:",squash"`
	Enabled         bool          `mapstructure:"enabled"`
	RetrainInterval time.Duration `mapstructure:"retrain_interval"`
}

type DockerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"` // empty uses DOCKER_HOST
}

type EventsConfig struct {
	NATSURL string `mapstructure:"nats_url"` // empty disables publishing
	Subject string `mapstructure:"subject"`
}

func setDefaults(v *viper.Viper) {
	mon := monitor.DefaultConfig()
	det := anomaly.DefaultConfig()
	alr := alert.DefaultConfig()
	logCfg := logging.DefaultConfig()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/pulsewatch.db")

	v.SetDefault("logging.level", logCfg.Level)
	v.SetDefault("logging.format", logCfg.Format)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", logCfg.MaxSizeMB)
	v.SetDefault("logging.max_backups", logCfg.MaxBackups)
	v.SetDefault("logging.max_age_days", logCfg.MaxAgeDays)
	v.SetDefault("logging.compress", false)

	v.SetDefault("monitor.check_interval", mon.CheckInterval)
	v.SetDefault("monitor.check_timeout", mon.CheckTimeout)
	v.SetDefault("monitor.max_concurrent", mon.MaxConcurrent)
	setThreshold(v, "monitor.thresholds.cpu", mon.Thresholds.CPU)
	setThreshold(v, "monitor.thresholds.memory", mon.Thresholds.Memory)
	setThreshold(v, "monitor.thresholds.disk", mon.Thresholds.Disk)
	setThreshold(v, "monitor.thresholds.network", mon.Thresholds.Network)
	v.SetDefault("monitor.collector.disk_path", "/")
	v.SetDefault("monitor.collector.latency_target", "")
	v.SetDefault("monitor.collector.dial_timeout", 2*time.Second)

	v.SetDefault("anomaly.enabled", true)
	v.SetDefault("anomaly.retrain_interval", time.Hour)
	v.SetDefault("anomaly.training_window", det.TrainingWindow)
	v.SetDefault("anomaly.detection_sensitivity", det.DetectionSensitivity)
	v.SetDefault("anomaly.min_samples", 0)
	v.SetDefault("anomaly.seasonal_period", det.SeasonalPeriod)
	v.SetDefault("anomaly.high_band", det.HighBand)
	v.SetDefault("anomaly.critical_band", det.CriticalBand)
	v.SetDefault("anomaly.epsilon", det.Epsilon)
	v.SetDefault("anomaly.forecast_horizon", det.ForecastHorizon)

	v.SetDefault("alert.evaluation_interval", alr.EvaluationInterval)
	v.SetDefault("alert.notify_timeout", alr.NotifyTimeout)
	v.SetDefault("alert.history_size", alr.HistorySize)
	v.SetDefault("alert.rules_file", "")

	v.SetDefault("docker.enabled", false)
	v.SetDefault("docker.host", "")

	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject", "pulsewatch.events")
}

func setThreshold(v *viper.Viper, key string, t models.Threshold) {
	v.SetDefault(key+".warning", t.Warning)
	v.SetDefault(key+".critical", t.Critical)
}

// Load reads config.yaml from dir (or the working directory when dir is
// empty), applies PULSEWATCH_* environment overrides and validates the
// result. A missing file is not an error.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	} else {
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration Load produces without a file or
// environment overrides.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return &cfg
}

func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port must be between 1 and 65535, got %d", c.Server.Port)
	check(c.Database.Driver == "sqlite" || c.Database.Driver == "memory", "database.driver must be sqlite or memory, got %q", c.Database.Driver)
	check(c.Database.Driver != "sqlite" || c.Database.Path != "", "database.path is required for sqlite")
	check(c.Logging.Format == "console" || c.Logging.Format == "json", "logging.format must be console or json, got %q", c.Logging.Format)

	check(c.Monitor.CheckInterval > 0, "monitor.check_interval must be positive")
	check(c.Monitor.CheckTimeout > 0, "monitor.check_timeout must be positive")
	check(c.Monitor.MaxConcurrent > 0, "monitor.max_concurrent must be positive")
	for name, t := range map[string]models.Threshold{
		"cpu":     c.Monitor.Thresholds.CPU,
		"memory":  c.Monitor.Thresholds.Memory,
		"disk":    c.Monitor.Thresholds.Disk,
		"network": c.Monitor.Thresholds.Network,
	} {
		check(t.Warning <= t.Critical, "monitor.thresholds.%s: warning %v exceeds critical %v", name, t.Warning, t.Critical)
	}

	check(c.Anomaly.TrainingWindow > 1, "anomaly.training_window must be greater than 1")
	check(c.Anomaly.DetectionSensitivity > 0, "anomaly.detection_sensitivity must be positive")
	check(c.Anomaly.MinSamples <= c.Anomaly.TrainingWindow, "anomaly.min_samples must not exceed training_window")
	check(c.Anomaly.RetrainInterval >= 0, "anomaly.retrain_interval must not be negative")

	check(c.Alert.EvaluationInterval > 0, "alert.evaluation_interval must be positive")
	check(c.Alert.NotifyTimeout > 0, "alert.notify_timeout must be positive")
	check(c.Alert.HistorySize > 0, "alert.history_size must be positive")
	seen := make(map[string]bool)
	for _, ch := range c.Alert.Channels {
		check(ch.Name != "", "alert.channels: channel name is required")
		check(!seen[ch.Name], "alert.channels: duplicate channel %q", ch.Name)
		seen[ch.Name] = true
	}

	return errors.Join(errs...)
}
