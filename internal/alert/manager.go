// Package alert evaluates named metric values against alert rules, tracks
// the firing/resolved lifecycle of each rule and fans notifications out to
// the configured channels.
package alert

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/pulsewatch/internal/events"
	"github.com/pulsewatch/internal/models"
	"github.com/pulsewatch/internal/notify"
	"github.com/rs/zerolog"
)

var ErrDestroyed = errors.New("alert manager has been destroyed")

const (
	ConsoleChannel     = "console"
	defaultHistorySize = 1000
)

type Config struct {
	EvaluationInterval time.Duration         `json:"evaluation_interval" mapstructure:"evaluation_interval"`
	NotifyTimeout      time.Duration         `json:"notify_timeout" mapstructure:"notify_timeout"`
	HistorySize        int                   `json:"history_size" mapstructure:"history_size"`
	RulesFile          string                `json:"rules_file" mapstructure:"rules_file"`
	Channels           []models.AlertChannel `json:"channels" mapstructure:"channels"`
}

func DefaultConfig() Config {
	return Config{
		EvaluationInterval: 10 * time.Second,
		NotifyTimeout:      10 * time.Second,
		HistorySize:        defaultHistorySize,
	}
}

// NotifierFactory builds the notifier behind a channel.
type NotifierFactory func(ch models.AlertChannel) (notify.Notifier, error)

type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithNotifierFactory(f NotifierFactory) Option {
	return func(m *Manager) { m.newNotifier = f }
}

type channelEntry struct {
	channel  models.AlertChannel
	notifier notify.Notifier
}

type Stats struct {
	TotalRules            int           `json:"total_rules"`
	ActiveAlerts          int           `json:"active_alerts"`
	TotalFired            int           `json:"total_fired"`
	TotalResolved         int           `json:"total_resolved"`
	AverageResolutionTime time.Duration `json:"average_resolution_time"`
}

type HealthStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type Manager struct {
	cfg         Config
	logger      zerolog.Logger
	bus         *events.Bus[Event]
	now         func() time.Time
	newNotifier NotifierFactory

	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.Mutex
	destroyed       bool
	rules           map[string]models.AlertRule
	states          map[string]*models.AlertState
	channels        map[string]channelEntry
	active          map[string]*models.Alert
	history         *history
	totalFired      int
	totalResolved   int
	totalResolution time.Duration

	// queue holds batches waiting to be published; flushing is set while a
	// caller drains it.
	queue    []*outbox
	flushing bool
}

// New seeds the default rules, the console channel and cfg.Channels, then
// starts the housekeeping loop. Call Destroy to stop it.
func New(cfg Config, logger zerolog.Logger, opts ...Option) (*Manager, error) {
	def := DefaultConfig()
	if cfg.EvaluationInterval <= 0 {
		cfg.EvaluationInterval = def.EvaluationInterval
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = def.NotifyTimeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		logger:   logger.With().Str("component", "alert_manager").Logger(),
		bus:      events.NewBus[Event](),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		rules:    make(map[string]models.AlertRule),
		states:   make(map[string]*models.AlertState),
		channels: make(map[string]channelEntry),
		active:   make(map[string]*models.Alert),
		history:  newHistory(cfg.HistorySize),
	}
	m.newNotifier = func(ch models.AlertChannel) (notify.Notifier, error) {
		return notify.FromChannel(ch, m.logger)
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, rule := range DefaultRules() {
		m.rules[rule.Name] = rule
	}
	console := models.AlertChannel{Name: ConsoleChannel, Type: models.ChannelConsole, Enabled: true}
	if err := m.AddChannel(console); err != nil {
		cancel()
		return nil, err
	}
	for _, ch := range cfg.Channels {
		if err := m.AddChannel(ch); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to configure channel %s: %w", ch.Name, err)
		}
	}

	go m.loop()
	return m, nil
}

func (m *Manager) Subscribe(h func(Event)) (unsubscribe func()) {
	return m.bus.Subscribe(h)
}

func (m *Manager) loop() {
	ticker := time.NewTicker(m.cfg.EvaluationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick expires suppressions and fires rules whose pending Duration elapsed.
func (m *Manager) Tick() {
	var out outbox

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	now := m.now()
	for _, name := range m.sortedRuleNames() {
		st, ok := m.states[name]
		if !ok {
			continue
		}
		m.expireSuppression(st, now)
		m.promotePending(m.rules[name], st, now, &out)
	}
	m.collectChannels(&out)
	m.release(&out)
}

// AddRule validates and stores rule; an existing rule with the same name is
// replaced and keeps its state.
func (m *Manager) AddRule(rule models.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	rule = rule.Clone()

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return ErrDestroyed
	}
	m.rules[rule.Name] = rule
	m.logger.Info().Str("rule", rule.Name).Msg("Alert rule added")

	var out outbox
	out.emit(Event{Kind: EventRuleAdded, Timestamp: m.now(), RuleName: rule.Name, Rule: &rule})
	m.release(&out)
	return nil
}

// RemoveRule drops the rule and its state. An open alert is closed into
// history without notification.
func (m *Manager) RemoveRule(name string) bool {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return false
	}
	if _, ok := m.rules[name]; !ok {
		m.mu.Unlock()
		return false
	}
	now := m.now()
	delete(m.rules, name)
	delete(m.states, name)
	if alert, ok := m.active[name]; ok {
		endsAt := now
		alert.EndsAt = &endsAt
		alert.Status = models.AlertStatusResolved
		delete(m.active, name)
	}
	m.logger.Info().Str("rule", name).Msg("Alert rule removed")

	var out outbox
	out.emit(Event{Kind: EventRuleRemoved, Timestamp: now, RuleName: name})
	m.release(&out)
	return true
}

// ImportRules loads a rules file and adds every rule in it.
func (m *Manager) ImportRules(path string) (int, error) {
	rules, err := LoadRulesFile(path)
	if err != nil {
		return 0, err
	}
	for i, r := range rules {
		if err := m.AddRule(r); err != nil {
			return i, err
		}
	}
	return len(rules), nil
}

func (m *Manager) ExportRules(path string) error {
	return ExportRulesFile(path, m.GetRules())
}

func (m *Manager) AddChannel(ch models.AlertChannel) error {
	if ch.Name == "" {
		return fmt.Errorf("channel name is required")
	}
	if ch.Name == ConsoleChannel && ch.Type != models.ChannelConsole {
		return fmt.Errorf("channel name %q is reserved", ConsoleChannel)
	}
	n, err := m.newNotifier(ch)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return ErrDestroyed
	}
	m.channels[ch.Name] = channelEntry{channel: ch, notifier: n}
	m.logger.Info().Str("channel", ch.Name).Str("type", string(ch.Type)).Msg("Notification channel added")

	var out outbox
	out.emit(Event{Kind: EventChannelAdded, Timestamp: m.now(), Channel: ch.Name})
	m.release(&out)
	return nil
}

// RemoveChannel removes a channel. The console channel cannot be removed.
func (m *Manager) RemoveChannel(name string) bool {
	if name == ConsoleChannel {
		return false
	}

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return false
	}
	if _, ok := m.channels[name]; !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.channels, name)
	m.logger.Info().Str("channel", name).Msg("Notification channel removed")

	var out outbox
	out.emit(Event{Kind: EventChannelRemoved, Timestamp: m.now(), Channel: name})
	m.release(&out)
	return true
}

// EvaluateMetric applies value to every rule whose query matches.
func (m *Manager) EvaluateMetric(query string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("invalid value for %s: %v", query, value)
	}

	var out outbox

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return ErrDestroyed
	}
	now := m.now()
	for _, name := range m.sortedRuleNames() {
		rule := m.rules[name]
		if rule.Query != query {
			continue
		}
		m.evaluateRule(rule, value, now, &out)
	}
	m.collectChannels(&out)
	m.release(&out)
	return nil
}

// SuppressAlert withholds firing and notifications for ruleName until d has
// passed. Unknown rules are ignored; the result reports whether the
// suppression was applied.
func (m *Manager) SuppressAlert(ruleName string, d time.Duration) bool {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return false
	}
	if _, ok := m.rules[ruleName]; !ok {
		m.mu.Unlock()
		return false
	}
	now := m.now()
	until := now.Add(d)
	st := m.state(ruleName)
	st.SuppressedUntil = &until
	st.PendingSince = nil
	m.logger.Info().Str("rule", ruleName).Time("until", until).Msg("Alert suppressed")

	var out outbox
	out.emit(Event{Kind: EventAlertSuppressed, Timestamp: now, RuleName: ruleName, Until: until})
	m.release(&out)
	return true
}

// state returns the state of name, creating it on first use. Caller holds m.mu.
func (m *Manager) state(name string) *models.AlertState {
	st, ok := m.states[name]
	if !ok {
		st = &models.AlertState{Status: models.RuleStatusNormal}
		m.states[name] = st
	}
	return st
}

func (m *Manager) sortedRuleNames() []string {
	names := make([]string, 0, len(m.rules))
	for name := range m.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) GetRules() []models.AlertRule {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.AlertRule, 0, len(m.rules))
	for _, name := range m.sortedRuleNames() {
		out = append(out, m.rules[name].Clone())
	}
	return out
}

func (m *Manager) GetChannels() []models.AlertChannel {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.AlertChannel, 0, len(m.channels))
	for _, e := range m.channels {
		out = append(out, e.channel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Manager) GetAlertStates() map[string]models.AlertState {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]models.AlertState, len(m.states))
	for name, st := range m.states {
		out[name] = cloneState(*st)
	}
	return out
}

func (m *Manager) GetActiveAlerts() []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Alert, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out
}

// GetAlertHistory returns up to limit of the most recent alerts, oldest
// first. limit <= 0 returns the whole history.
func (m *Manager) GetAlertHistory(limit int) []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.last(limit)
}

func (m *Manager) GetAlertStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		TotalRules:    len(m.rules),
		ActiveAlerts:  len(m.active),
		TotalFired:    m.totalFired,
		TotalResolved: m.totalResolved,
	}
	if m.totalResolved > 0 {
		s.AverageResolutionTime = m.totalResolution / time.Duration(m.totalResolved)
	}
	return s
}

// GetHealthStatus reports "unhealthy" when the manager is destroyed or one
// of its accessors fails.
func (m *Manager) GetHealthStatus() (status HealthStatus) {
	defer func() {
		if r := recover(); r != nil {
			status = HealthStatus{Status: "unhealthy", Error: fmt.Sprint(r)}
		}
	}()

	m.mu.Lock()
	destroyed := m.destroyed
	m.mu.Unlock()
	if destroyed {
		return HealthStatus{Status: "unhealthy", Error: ErrDestroyed.Error()}
	}

	m.GetAlertStats()
	m.GetActiveAlerts()
	m.GetAlertStates()
	return HealthStatus{Status: "healthy"}
}

// Destroy stops the housekeeping loop, cancels in-flight deliveries and
// clears all rules, channels, state, history and subscribers. It is safe to
// call more than once.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	m.cancel()
	m.rules = make(map[string]models.AlertRule)
	m.states = make(map[string]*models.AlertState)
	m.channels = make(map[string]channelEntry)
	m.active = make(map[string]*models.Alert)
	m.history.reset()
	m.totalFired, m.totalResolved, m.totalResolution = 0, 0, 0
	m.queue = nil
	m.mu.Unlock()

	m.bus.Clear()
	m.logger.Info().Msg("Alert manager destroyed")
}

func cloneState(s models.AlertState) models.AlertState {
	out := s
	if s.FiringSince != nil {
		t := *s.FiringSince
		out.FiringSince = &t
	}
	if s.SuppressedUntil != nil {
		t := *s.SuppressedUntil
		out.SuppressedUntil = &t
	}
	if s.PendingSince != nil {
		t := *s.PendingSince
		out.PendingSince = &t
	}
	return out
}
