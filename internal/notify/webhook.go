package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pulsewatch/internal/models"
)

// WebhookPayload follows the Alertmanager v4 webhook format.
type WebhookPayload struct {
	Version           string            `json:"version"`
	GroupKey          string            `json:"groupKey"`
	Status            string            `json:"status"`
	Receiver          string            `json:"receiver"`
	GroupLabels       map[string]string `json:"groupLabels"`
	CommonLabels      map[string]string `json:"commonLabels"`
	CommonAnnotations map[string]string `json:"commonAnnotations"`
	Alerts            []WebhookAlert    `json:"alerts"`
}

type WebhookAlert struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
	EndsAt      *time.Time        `json:"endsAt,omitempty"`
	Fingerprint string            `json:"fingerprint"`
}

type WebhookNotifier struct {
	name   string
	url    string
	client *http.Client
}

func NewWebhookNotifier(name, url string, client *http.Client) *WebhookNotifier {
	return &WebhookNotifier{name: name, url: url, client: defaultClient(client)}
}

func NewWebhookPayload(receiver string, a models.Alert) WebhookPayload {
	labels := make(map[string]string, len(a.Labels)+2)
	for k, v := range a.Labels {
		labels[k] = v
	}
	labels["alertname"] = a.Name
	labels["severity"] = string(a.Severity)

	return WebhookPayload{
		Version:           "4",
		GroupKey:          a.Name,
		Status:            string(a.Status),
		Receiver:          receiver,
		GroupLabels:       map[string]string{"alertname": a.Name},
		CommonLabels:      labels,
		CommonAnnotations: a.Annotations,
		Alerts: []WebhookAlert{{
			Status:      string(a.Status),
			Labels:      labels,
			Annotations: a.Annotations,
			StartsAt:    a.StartsAt,
			EndsAt:      a.EndsAt,
			Fingerprint: a.ID,
		}},
	}
}

func (w *WebhookNotifier) Notify(ctx context.Context, a models.Alert) error {
	body, err := json.Marshal(NewWebhookPayload(w.name, a))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "PulseWatch-Notifier/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from webhook", resp.StatusCode)
	}
	return nil
}
