package alert

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pulsewatch/internal/models"
	"gopkg.in/yaml.v3"
)

// Metric names pushed by the service pipeline.
const (
	QueryCPUUsage       = "cpu_usage"
	QueryMemoryUsage    = "memory_usage"
	QueryDiskUsage      = "disk_usage"
	QueryNetworkLatency = "network_latency"
	QueryAnomalyScore   = "anomaly_score"

	forecastSuffix = "_forecast"
)

// ForecastQuery names the query that carries the predicted peak of query,
// e.g. cpu_usage_forecast.
func ForecastQuery(query string) string { return query + forecastSuffix }

func DefaultRules() []models.AlertRule {
	return []models.AlertRule{
		{
			Name:      "cpu_usage_high",
			Query:     QueryCPUUsage,
			Condition: models.ConditionGT,
			Threshold: 80,
			Severity:  models.SeverityHigh,
			Annotations: models.Annotations{
				Summary:     "CPU usage is high",
				Description: "CPU usage has exceeded 80%",
			},
			Labels: map[string]string{"category": "system"},
		},
		{
			Name:      "memory_usage_high",
			Query:     QueryMemoryUsage,
			Condition: models.ConditionGT,
			Threshold: 85,
			Severity:  models.SeverityHigh,
			Annotations: models.Annotations{
				Summary:     "Memory usage is high",
				Description: "Memory usage has exceeded 85%",
			},
			Labels: map[string]string{"category": "system"},
		},
		{
			Name:      "disk_usage_high",
			Query:     QueryDiskUsage,
			Condition: models.ConditionGT,
			Threshold: 90,
			Severity:  models.SeverityCritical,
			Annotations: models.Annotations{
				Summary:     "Disk usage is critical",
				Description: "Disk usage has exceeded 90%",
			},
			Labels: map[string]string{"category": "system"},
		},
		{
			Name:      "network_latency_high",
			Query:     QueryNetworkLatency,
			Condition: models.ConditionGT,
			Threshold: 1000,
			Severity:  models.SeverityMedium,
			Annotations: models.Annotations{
				Summary:     "Network latency is high",
				Description: "Network latency has exceeded 1000ms",
			},
			Labels: map[string]string{"category": "network"},
		},
		{
			Name:      "anomaly_score_high",
			Query:     QueryAnomalyScore,
			Condition: models.ConditionGT,
			Threshold: 3,
			Severity:  models.SeverityMedium,
			Annotations: models.Annotations{
				Summary:     "Anomalous behaviour detected",
				Description: "A metric deviates from its learned baseline",
			},
			Labels: map[string]string{"category": "anomaly"},
		},
	}
}

// fileRule is the on-disk form of a rule; Duration is a Go duration string.
type fileRule struct {
	Name        string             `json:"name" yaml:"name"`
	Query       string             `json:"query" yaml:"query"`
	Condition   models.Condition   `json:"condition" yaml:"condition"`
	Threshold   float64            `json:"threshold" yaml:"threshold"`
	Duration    string             `json:"duration,omitempty" yaml:"duration,omitempty"`
	Severity    models.Severity    `json:"severity" yaml:"severity"`
	Annotations models.Annotations `json:"annotations" yaml:"annotations"`
	Labels      map[string]string  `json:"labels,omitempty" yaml:"labels,omitempty"`
}

type ruleFile struct {
	Rules []fileRule `json:"rules" yaml:"rules"`
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// LoadRulesFile reads rules from a YAML or JSON file (chosen by extension)
// and validates every rule.
func LoadRulesFile(path string) ([]models.AlertRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var file ruleFile
	if isJSON(path) {
		err = json.Unmarshal(data, &file)
	} else {
		err = yaml.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	rules := make([]models.AlertRule, 0, len(file.Rules))
	for _, fr := range file.Rules {
		rule := models.AlertRule{
			Name:        fr.Name,
			Query:       fr.Query,
			Condition:   fr.Condition,
			Threshold:   fr.Threshold,
			Severity:    fr.Severity,
			Annotations: fr.Annotations,
			Labels:      fr.Labels,
		}
		if fr.Duration != "" {
			d, err := time.ParseDuration(fr.Duration)
			if err != nil {
				return nil, fmt.Errorf("rule %s: invalid duration %q: %w", fr.Name, fr.Duration, err)
			}
			rule.Duration = d
		}
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// ExportRulesFile writes rules in the format LoadRulesFile reads.
func ExportRulesFile(path string, rules []models.AlertRule) error {
	file := ruleFile{Rules: make([]fileRule, 0, len(rules))}
	for _, r := range rules {
		fr := fileRule{
			Name:        r.Name,
			Query:       r.Query,
			Condition:   r.Condition,
			Threshold:   r.Threshold,
			Severity:    r.Severity,
			Annotations: r.Annotations,
			Labels:      r.Labels,
		}
		if r.Duration > 0 {
			fr.Duration = r.Duration.String()
		}
		file.Rules = append(file.Rules, fr)
	}

	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(file, "", "  ")
	} else {
		data, err = yaml.Marshal(file)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
