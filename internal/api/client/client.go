package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pulsewatch/internal/alert"
	"github.com/pulsewatch/internal/anomaly"
	"github.com/pulsewatch/internal/models"
	"github.com/pulsewatch/internal/report"
)

const DefaultURL = "http://localhost:8080"

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient talks to baseURL, falling back to PULSEWATCH_API_URL and then
// DefaultURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("PULSEWATCH_API_URL")
	}
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

type Status struct {
	Monitor json.RawMessage    `json:"monitor"`
	Alerts  alert.HealthStatus `json:"alerts"`
	Stats   alert.Stats        `json:"stats"`
	Anomaly struct {
		Training bool `json:"training"`
		Models   int  `json:"models"`
	} `json:"anomaly"`
}

func (c *Client) Status(ctx context.Context) (*Status, error) {
	var s Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) LatestMetrics(ctx context.Context) (*models.SystemMetrics, error) {
	var m models.SystemMetrics
	if err := c.do(ctx, http.MethodGet, "/api/v1/metrics/latest", nil, nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) HealthHistory(ctx context.Context, from, to *time.Time) ([]models.HealthCheckResult, error) {
	query := url.Values{}
	if from != nil {
		query.Set("start", from.Format(time.RFC3339))
	}
	if to != nil {
		query.Set("end", to.Format(time.RFC3339))
	}
	var results []models.HealthCheckResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/health/history", query, nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) Evaluate(ctx context.Context, query string, value float64) (map[string]models.AlertState, error) {
	body := map[string]any{"query": query, "value": value}
	var states map[string]models.AlertState
	if err := c.do(ctx, http.MethodPost, "/api/v1/metrics/evaluate", nil, body, &states); err != nil {
		return nil, err
	}
	return states, nil
}

func (c *Client) ActiveAlerts(ctx context.Context) ([]models.Alert, error) {
	var alerts []models.Alert
	if err := c.do(ctx, http.MethodGet, "/api/v1/alerts", nil, nil, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (c *Client) AlertHistory(ctx context.Context, limit int) ([]models.Alert, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var alerts []models.Alert
	if err := c.do(ctx, http.MethodGet, "/api/v1/alerts/history", query, nil, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (c *Client) AlertStats(ctx context.Context) (*alert.Stats, error) {
	var s alert.Stats
	if err := c.do(ctx, http.MethodGet, "/api/v1/alerts/stats", nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) SuppressAlert(ctx context.Context, rule string, d time.Duration) error {
	body := map[string]string{"duration": d.String()}
	return c.do(ctx, http.MethodPost, "/api/v1/alerts/"+url.PathEscape(rule)+"/suppress", nil, body, nil)
}

func (c *Client) Rules(ctx context.Context) ([]models.AlertRule, error) {
	var rules []models.AlertRule
	if err := c.do(ctx, http.MethodGet, "/api/v1/rules", nil, nil, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func (c *Client) AddRule(ctx context.Context, rule models.AlertRule) error {
	return c.do(ctx, http.MethodPost, "/api/v1/rules", nil, rule, nil)
}

func (c *Client) RemoveRule(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/rules/"+url.PathEscape(name), nil, nil, nil)
}

func (c *Client) Channels(ctx context.Context) ([]models.AlertChannel, error) {
	var channels []models.AlertChannel
	if err := c.do(ctx, http.MethodGet, "/api/v1/channels", nil, nil, &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

func (c *Client) Models(ctx context.Context) ([]anomaly.ModelInfo, error) {
	var infos []anomaly.ModelInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/anomaly/models", nil, nil, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// Report fetches the summary for [start, end]. Zero times let the server
// pick its default window.
// Forecast projects the model of metric; a horizon of zero uses the
// server default.
func (c *Client) Forecast(ctx context.Context, metric string, horizon int) (*anomaly.Forecast, error) {
	query := url.Values{}
	if horizon > 0 {
		query.Set("horizon", strconv.Itoa(horizon))
	}
	var f anomaly.Forecast
	if err := c.do(ctx, http.MethodGet, "/api/v1/anomaly/forecast/"+metric, query, nil, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *Client) Report(ctx context.Context, start, end time.Time) (*report.Data, error) {
	query := url.Values{}
	if !start.IsZero() {
		query.Set("start", start.Format(time.RFC3339))
	}
	if !end.IsZero() {
		query.Set("end", end.Format(time.RFC3339))
	}
	var d report.Data
	if err := c.do(ctx, http.MethodGet, "/api/v1/report", query, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, data, v any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = path.Join(u.Path, endpoint)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	if v != nil {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}
