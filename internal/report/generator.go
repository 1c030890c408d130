// Package report summarises alert history and health-check trends over a
// time window, as JSON-friendly data or a rendered HTML page.
package report

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/pulsewatch/internal/models"
)

//go:embed templates/report.html
var reportTemplate string

const maxTopRules = 10

var ErrInvalidRange = errors.New("report end must be after start")

// AlertSource is satisfied by *alert.Manager.
type AlertSource interface {
	GetAlertHistory(limit int) []models.Alert
}

// HealthSource is satisfied by *monitor.HealthMonitor.
type HealthSource interface {
	GetHealthHistory(ctx context.Context, r models.TimeRange) ([]models.HealthCheckResult, error)
}

type Generator struct {
	alerts AlertSource
	health HealthSource
	tmpl   *template.Template
}

type Data struct {
	Start    time.Time          `json:"start"`
	End      time.Time          `json:"end"`
	Alerts   AlertSummary       `json:"alerts"`
	Services []ServiceSummary   `json:"services"`
	Trends   map[string][]Point `json:"trends"`
}

type AlertSummary struct {
	Total    int           `json:"total"`
	Critical int           `json:"critical"`
	High     int           `json:"high"`
	Medium   int           `json:"medium"`
	Low      int           `json:"low"`
	Resolved int           `json:"resolved"`
	TopRules []RuleSummary `json:"top_rules"`
}

type RuleSummary struct {
	Rule     string          `json:"rule"`
	Count    int             `json:"count"`
	Severity models.Severity `json:"severity"`
	Peak     float64         `json:"peak"` // highest value that fired the rule
}

// ServiceSummary aggregates the checks of one service. Failed checks count
// towards Errors only.
type ServiceSummary struct {
	Service  string  `json:"service"`
	Checks   int     `json:"checks"`
	Average  float64 `json:"average"`
	Max      float64 `json:"max"`
	Warning  int     `json:"warning"`
	Critical int     `json:"critical"`
	Errors   int     `json:"errors"`
}

type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

func NewGenerator(alerts AlertSource, health HealthSource) (*Generator, error) {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"ts": func(t time.Time) string { return t.Format("2006-01-02 15:04") },
	}).Parse(reportTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse report template: %w", err)
	}
	return &Generator{alerts: alerts, health: health, tmpl: tmpl}, nil
}

// Generate collects the report for [start, end].
func (g *Generator) Generate(ctx context.Context, start, end time.Time) (*Data, error) {
	if !end.After(start) {
		return nil, ErrInvalidRange
	}
	r := models.TimeRange{Start: start, End: end}

	var alerts []models.Alert
	for _, a := range g.alerts.GetAlertHistory(0) {
		if r.Contains(a.StartsAt) {
			alerts = append(alerts, a)
		}
	}

	results, err := g.health.GetHealthHistory(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("failed to collect health history: %w", err)
	}

	return &Data{
		Start:    start,
		End:      end,
		Alerts:   summariseAlerts(alerts),
		Services: summariseServices(results),
		Trends:   hourlyTrends(results),
	}, nil
}

// Render writes d as a standalone HTML page.
func (g *Generator) Render(w io.Writer, d *Data) error {
	if err := g.tmpl.Execute(w, d); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

func summariseAlerts(alerts []models.Alert) AlertSummary {
	summary := AlertSummary{TopRules: []RuleSummary{}}
	byRule := make(map[string]*RuleSummary)

	for _, a := range alerts {
		summary.Total++
		switch a.Severity {
		case models.SeverityCritical:
			summary.Critical++
		case models.SeverityHigh:
			summary.High++
		case models.SeverityMedium:
			summary.Medium++
		case models.SeverityLow:
			summary.Low++
		}
		if a.Status == models.AlertStatusResolved {
			summary.Resolved++
		}

		rs, ok := byRule[a.Name]
		if !ok {
			rs = &RuleSummary{Rule: a.Name, Severity: a.Severity}
			byRule[a.Name] = rs
		}
		if v, err := strconv.ParseFloat(a.Annotations["current_value"], 64); err == nil && (rs.Count == 0 || v > rs.Peak) {
			rs.Peak = v
		}
		rs.Count++
	}

	for _, rs := range byRule {
		summary.TopRules = append(summary.TopRules, *rs)
	}
	sort.Slice(summary.TopRules, func(i, j int) bool {
		a, b := summary.TopRules[i], summary.TopRules[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Rule < b.Rule
	})
	if len(summary.TopRules) > maxTopRules {
		summary.TopRules = summary.TopRules[:maxTopRules]
	}
	return summary
}

func summariseServices(results []models.HealthCheckResult) []ServiceSummary {
	byService := make(map[string]*ServiceSummary)
	sums := make(map[string]float64)

	for _, r := range results {
		s, ok := byService[r.Service]
		if !ok {
			s = &ServiceSummary{Service: r.Service}
			byService[r.Service] = s
		}
		if r.Error != "" {
			s.Errors++
			continue
		}
		if s.Checks == 0 || r.Value > s.Max {
			s.Max = r.Value
		}
		s.Checks++
		sums[r.Service] += r.Value
		switch r.Status {
		case models.HealthStatusWarning:
			s.Warning++
		case models.HealthStatusCritical:
			s.Critical++
		}
	}

	out := make([]ServiceSummary, 0, len(byService))
	for name, s := range byService {
		if s.Checks > 0 {
			s.Average = sums[name] / float64(s.Checks)
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// hourlyTrends averages successful check values per service per hour.
func hourlyTrends(results []models.HealthCheckResult) map[string][]Point {
	type bucket struct {
		sum   float64
		count int
	}
	buckets := make(map[string]map[time.Time]*bucket)

	for _, r := range results {
		if r.Error != "" {
			continue
		}
		hour := r.Timestamp.Truncate(time.Hour)
		perService, ok := buckets[r.Service]
		if !ok {
			perService = make(map[time.Time]*bucket)
			buckets[r.Service] = perService
		}
		b, ok := perService[hour]
		if !ok {
			b = &bucket{}
			perService[hour] = b
		}
		b.sum += r.Value
		b.count++
	}

	trends := make(map[string][]Point, len(buckets))
	for service, perService := range buckets {
		points := make([]Point, 0, len(perService))
		for hour, b := range perService {
			points = append(points, Point{Timestamp: hour, Value: b.sum / float64(b.count)})
		}
		sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
		trends[service] = points
	}
	return trends
}
