package models

import (
	"time"
)

type RuleStatus string

const (
	RuleStatusNormal RuleStatus = "normal"
	RuleStatusFiring RuleStatus = "firing"
)

// AlertState is the per-rule evaluation state.
type AlertState struct {
	Status          RuleStatus `json:"status"`
	CurrentValue    float64    `json:"current_value"`
	FireCount       int        `json:"fire_count"`
	FiringSince     *time.Time `json:"firing_since,omitempty"`
	SuppressedUntil *time.Time `json:"suppressed_until,omitempty"`
	PendingSince    *time.Time `json:"pending_since,omitempty"`
	LastEvaluated   time.Time  `json:"last_evaluated"`
}

// Suppressed reports whether notifications are withheld at now.
func (s AlertState) Suppressed(now time.Time) bool {
	return s.SuppressedUntil != nil && now.Before(*s.SuppressedUntil)
}

type AlertStatus string

const (
	AlertStatusFiring   AlertStatus = "firing"
	AlertStatusResolved AlertStatus = "resolved"
)

type Alert struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Severity    Severity          `json:"severity"`
	Status      AlertStatus       `json:"status"`
	Message     string            `json:"message"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"starts_at"`
	EndsAt      *time.Time        `json:"ends_at,omitempty"`
}

// Clone returns a deep copy safe to hand out of a lock.
func (a Alert) Clone() Alert {
	out := a
	out.Labels = cloneLabels(a.Labels)
	out.Annotations = cloneLabels(a.Annotations)
	if a.EndsAt != nil {
		t := *a.EndsAt
		out.EndsAt = &t
	}
	return out
}

type ChannelType string

const (
	ChannelConsole ChannelType = "console"
	ChannelWebhook ChannelType = "webhook"
	ChannelSlack   ChannelType = "slack"
	ChannelEmail   ChannelType = "email"
)

// ChannelConfig holds the settings of every channel type; each type reads
// only the fields it needs.
type ChannelConfig struct {
	URL      string   `json:"url,omitempty" mapstructure:"url" yaml:"url,omitempty"`
	Channel  string   `json:"channel,omitempty" mapstructure:"channel" yaml:"channel,omitempty"`
	Username string   `json:"username,omitempty" mapstructure:"username" yaml:"username,omitempty"`
	SMTPHost string   `json:"smtp_host,omitempty" mapstructure:"smtp_host" yaml:"smtp_host,omitempty"`
	SMTPPort int      `json:"smtp_port,omitempty" mapstructure:"smtp_port" yaml:"smtp_port,omitempty"`
	From     string   `json:"from,omitempty" mapstructure:"from" yaml:"from,omitempty"`
	Password string   `json:"-" mapstructure:"password" yaml:"password,omitempty"`
	To       []string `json:"to,omitempty" mapstructure:"to" yaml:"to,omitempty"`
}

type AlertChannel struct {
	Name    string        `json:"name" mapstructure:"name" yaml:"name"`
	Type    ChannelType   `json:"type" mapstructure:"type" yaml:"type"`
	Config  ChannelConfig `json:"config" mapstructure:"config" yaml:"config"`
	Enabled bool          `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
}
