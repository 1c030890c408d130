package alert

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pulsewatch/internal/models"
	"github.com/pulsewatch/internal/notify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu   sync.Mutex
	got  []models.Alert
	fail error
}

func (n *recordingNotifier) Notify(_ context.Context, a models.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, a)
	return n.fail
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.got)
}

type harness struct {
	m         *Manager
	clock     *fakeClock
	notifiers map[string]*recordingNotifier

	mu     sync.Mutex
	events []Event
}

func newHarness(t *testing.T, channels ...models.AlertChannel) *harness {
	t.Helper()
	h := &harness{clock: newFakeClock(), notifiers: make(map[string]*recordingNotifier)}
	factory := func(ch models.AlertChannel) (notify.Notifier, error) {
		if ch.Type == models.ChannelConsole {
			return notify.NewConsoleNotifier(zerolog.Nop()), nil
		}
		n, ok := h.notifiers[ch.Name]
		if !ok {
			return nil, fmt.Errorf("no fake for %s", ch.Name)
		}
		return n, nil
	}
	for _, ch := range channels {
		h.notifiers[ch.Name] = &recordingNotifier{}
	}

	m, err := New(Config{Channels: channels, EvaluationInterval: time.Hour}, zerolog.Nop(),
		WithClock(h.clock.Now), WithNotifierFactory(factory))
	require.NoError(t, err)
	t.Cleanup(m.Destroy)

	m.Subscribe(func(e Event) {
		h.mu.Lock()
		h.events = append(h.events, e)
		h.mu.Unlock()
	})
	h.m = m
	return h
}

func (h *harness) of(kind EventKind) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Event
	for _, e := range h.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (h *harness) reset() {
	h.mu.Lock()
	h.events = nil
	h.mu.Unlock()
}

func (h *harness) eval(t *testing.T, query string, v float64) {
	t.Helper()
	require.NoError(t, h.m.EvaluateMetric(query, v))
}

func TestDefaultsSeeded(t *testing.T) {
	h := newHarness(t)

	rules := h.m.GetRules()
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.Name
	}
	assert.Equal(t, []string{"anomaly_score_high", "cpu_usage_high", "disk_usage_high", "memory_usage_high", "network_latency_high"}, names)

	channels := h.m.GetChannels()
	require.Len(t, channels, 1)
	assert.Equal(t, ConsoleChannel, channels[0].Name)
}

func TestFireAndResolveScenario(t *testing.T) {
	h := newHarness(t)

	h.eval(t, "cpu_usage", 90)

	fired := h.of(EventAlertFired)
	require.Len(t, fired, 1)
	a := fired[0].Alert
	assert.Equal(t, models.AlertStatusFiring, a.Status)
	assert.Equal(t, "90", a.Annotations["current_value"])
	assert.Equal(t, "80", a.Annotations["threshold"])
	assert.Equal(t, fmt.Sprintf("cpu_usage_high_%d", h.clock.Now().UnixMilli()), a.ID)
	assert.Nil(t, a.EndsAt)

	states := h.m.GetAlertStates()
	assert.Equal(t, models.RuleStatusFiring, states["cpu_usage_high"].Status)
	assert.Equal(t, 1, states["cpu_usage_high"].FireCount)
	require.Len(t, h.m.GetActiveAlerts(), 1)

	sent := h.of(EventAlertSent)
	require.Len(t, sent, 1)
	assert.Equal(t, ConsoleChannel, sent[0].Channel)

	h.clock.Advance(90 * time.Second)
	h.eval(t, "cpu_usage", 50)

	resolved := h.of(EventAlertResolved)
	require.Len(t, resolved, 1)
	r := resolved[0].Alert
	require.NotNil(t, r.EndsAt)
	assert.True(t, r.EndsAt.After(r.StartsAt))
	assert.Equal(t, models.AlertStatusResolved, r.Status)
	assert.Empty(t, h.m.GetActiveAlerts())

	history := h.m.GetAlertHistory(0)
	require.Len(t, history, 1)
	assert.Equal(t, a.ID, history[0].ID)
	assert.NotNil(t, history[0].EndsAt)

	stats := h.m.GetAlertStats()
	assert.Equal(t, 1, stats.TotalFired)
	assert.Equal(t, 1, stats.TotalResolved)
	assert.Equal(t, 90*time.Second, stats.AverageResolutionTime)
	assert.Equal(t, 5, stats.TotalRules)
}

func TestFiresAndResolvesExactlyOnce(t *testing.T) {
	h := newHarness(t)

	for _, v := range []float64{10, 80, 81, 95, 99, 80, 70, 80, 12} {
		h.clock.Advance(time.Second)
		h.eval(t, "cpu_usage", v)
	}

	assert.Len(t, h.of(EventAlertFired), 1)
	assert.Len(t, h.of(EventAlertResolved), 1)
	assert.Len(t, h.of(EventRuleEvaluated), 9)

	last := h.of(EventRuleEvaluated)[8]
	assert.Equal(t, "cpu_usage_high", last.RuleName)
	assert.False(t, last.ConditionMet)
	assert.Equal(t, models.RuleStatusNormal, last.Status)
}

func TestRuleEvaluatedForEveryMatchingRule(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.AddRule(models.AlertRule{
		Name:      "cpu_usage_critical",
		Query:     "cpu_usage",
		Condition: models.ConditionGTE,
		Threshold: 95,
		Severity:  models.SeverityCritical,
	}))

	h.eval(t, "cpu_usage", 90)
	assert.Len(t, h.of(EventRuleEvaluated), 2)
	assert.Len(t, h.of(EventAlertFired), 1)

	h.eval(t, "cpu_usage", 95)
	fired := h.of(EventAlertFired)
	require.Len(t, fired, 2)
	assert.Equal(t, "cpu_usage_critical", fired[1].RuleName)

	h.eval(t, "unknown_metric", 1)
	assert.Len(t, h.of(EventRuleEvaluated), 4)
}

func TestSuppressionWithholdsNotifications(t *testing.T) {
	h := newHarness(t)

	h.eval(t, "cpu_usage", 90)
	require.Len(t, h.of(EventAlertSent), 1)

	require.True(t, h.m.SuppressAlert("cpu_usage_high", 60*time.Second))
	suppressed := h.of(EventAlertSuppressed)
	require.Len(t, suppressed, 1)
	assert.Equal(t, h.clock.Now().Add(time.Minute), suppressed[0].Until)
	h.reset()

	for _, v := range []float64{95, 50, 97, 99} {
		h.clock.Advance(10 * time.Second)
		h.eval(t, "cpu_usage", v)
	}
	assert.Empty(t, h.of(EventAlertSent))
	assert.Empty(t, h.of(EventAlertFired))
	assert.Len(t, h.of(EventAlertResolved), 1)
	assert.Equal(t, models.RuleStatusNormal, h.m.GetAlertStates()["cpu_usage_high"].Status)

	h.clock.Advance(21 * time.Second)
	h.eval(t, "cpu_usage", 99)
	assert.Len(t, h.of(EventAlertFired), 1)
	assert.Len(t, h.of(EventAlertSent), 1)
	assert.Nil(t, h.m.GetAlertStates()["cpu_usage_high"].SuppressedUntil)
}

func TestSuppressUnknownRuleIsNoop(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.m.SuppressAlert("does_not_exist", time.Minute))
	assert.Empty(t, h.of(EventAlertSuppressed))
}

func TestTickExpiresSuppression(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.m.SuppressAlert("disk_usage_high", time.Minute))
	require.NotNil(t, h.m.GetAlertStates()["disk_usage_high"].SuppressedUntil)

	h.clock.Advance(2 * time.Minute)
	h.m.Tick()
	assert.Nil(t, h.m.GetAlertStates()["disk_usage_high"].SuppressedUntil)
}

func TestDurationRequiresSustainedBreach(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.AddRule(models.AlertRule{
		Name:      "queue_backlog",
		Query:     "queue_depth",
		Condition: models.ConditionGT,
		Threshold: 100,
		Duration:  5 * time.Minute,
		Severity:  models.SeverityLow,
	}))

	h.eval(t, "queue_depth", 150)
	st := h.m.GetAlertStates()["queue_backlog"]
	assert.Equal(t, models.RuleStatusNormal, st.Status)
	require.NotNil(t, st.PendingSince)

	h.clock.Advance(2 * time.Minute)
	h.eval(t, "queue_depth", 50)
	assert.Nil(t, h.m.GetAlertStates()["queue_backlog"].PendingSince)

	h.eval(t, "queue_depth", 150)
	h.clock.Advance(4 * time.Minute)
	h.eval(t, "queue_depth", 160)
	assert.Empty(t, h.of(EventAlertFired))

	h.clock.Advance(time.Minute)
	h.m.Tick()
	fired := h.of(EventAlertFired)
	require.Len(t, fired, 1)
	assert.Equal(t, "160", fired[0].Alert.Annotations["current_value"])
}

func TestChannelFailureIsIsolated(t *testing.T) {
	h := newHarness(t,
		models.AlertChannel{Name: "ops-hook", Type: models.ChannelWebhook, Enabled: true},
		models.AlertChannel{Name: "team-slack", Type: models.ChannelSlack, Enabled: true},
		models.AlertChannel{Name: "muted", Type: models.ChannelWebhook, Enabled: false},
	)
	h.notifiers["ops-hook"].fail = errors.New("connection refused")

	h.eval(t, "disk_usage", 97)

	assert.Equal(t, models.RuleStatusFiring, h.m.GetAlertStates()["disk_usage_high"].Status)
	assert.Eventually(t, func() bool {
		return len(h.of(EventAlertSendError)) == 1 && len(h.of(EventAlertSent)) == 2
	}, time.Second, 5*time.Millisecond)

	sendErr := h.of(EventAlertSendError)[0]
	assert.Equal(t, "ops-hook", sendErr.Channel)
	var derr *notify.DeliveryError
	require.True(t, errors.As(sendErr.Err, &derr))
	assert.Equal(t, models.ChannelWebhook, derr.Type)

	assert.Equal(t, 1, h.notifiers["team-slack"].count())
	assert.Equal(t, 0, h.notifiers["muted"].count())
}

func TestHistoryIsBounded(t *testing.T) {
	h := newHarness(t)

	var firstID, secondID string
	for i := 0; i < 1001; i++ {
		h.clock.Advance(time.Millisecond)
		h.eval(t, "memory_usage", 99)
		if i < 2 {
			id := h.m.GetActiveAlerts()[0].ID
			if i == 0 {
				firstID = id
			} else {
				secondID = id
			}
		}
		h.clock.Advance(time.Millisecond)
		h.eval(t, "memory_usage", 10)
	}

	history := h.m.GetAlertHistory(0)
	require.Len(t, history, 1000)
	assert.Equal(t, secondID, history[0].ID)
	assert.NotEqual(t, firstID, history[0].ID)

	recent := h.m.GetAlertHistory(3)
	require.Len(t, recent, 3)
	assert.Equal(t, history[999].ID, recent[2].ID)
	assert.Equal(t, 1001, h.m.GetAlertStats().TotalFired)
}

func TestRuleAndChannelManagement(t *testing.T) {
	h := newHarness(t, models.AlertChannel{Name: "ops-hook", Type: models.ChannelWebhook, Enabled: true})

	err := h.m.AddRule(models.AlertRule{Name: "bad", Query: "x", Condition: "~", Severity: models.SeverityLow})
	assert.Error(t, err)

	h.eval(t, "cpu_usage", 99)
	require.True(t, h.m.RemoveRule("cpu_usage_high"))
	assert.False(t, h.m.RemoveRule("cpu_usage_high"))
	assert.Len(t, h.of(EventRuleRemoved), 1)
	assert.Empty(t, h.m.GetActiveAlerts())
	_, ok := h.m.GetAlertStates()["cpu_usage_high"]
	assert.False(t, ok)
	history := h.m.GetAlertHistory(0)
	require.Len(t, history, 1)
	assert.NotNil(t, history[0].EndsAt)

	assert.False(t, h.m.RemoveChannel(ConsoleChannel))
	assert.True(t, h.m.RemoveChannel("ops-hook"))
	assert.False(t, h.m.RemoveChannel("ops-hook"))
	assert.Len(t, h.of(EventChannelRemoved), 1)
	assert.Error(t, h.m.AddChannel(models.AlertChannel{Name: ConsoleChannel, Type: models.ChannelWebhook}))

	assert.Error(t, h.m.EvaluateMetric("cpu_usage", math.NaN()))
}

func TestDestroy(t *testing.T) {
	h := newHarness(t)
	h.eval(t, "cpu_usage", 99)

	h.m.Destroy()
	h.m.Destroy()

	assert.ErrorIs(t, h.m.EvaluateMetric("cpu_usage", 10), ErrDestroyed)
	assert.ErrorIs(t, h.m.AddRule(DefaultRules()[0]), ErrDestroyed)
	assert.False(t, h.m.SuppressAlert("cpu_usage_high", time.Minute))
	assert.Empty(t, h.m.GetRules())
	assert.Empty(t, h.m.GetChannels())
	assert.Empty(t, h.m.GetAlertHistory(0))
	assert.Empty(t, h.m.GetAlertStates())
	assert.Equal(t, "unhealthy", h.m.GetHealthStatus().Status)

	h.reset()
	h.m.Tick()
	assert.Empty(t, h.of(EventRuleEvaluated))
}

func TestHealthStatus(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, HealthStatus{Status: "healthy"}, h.m.GetHealthStatus())
}

func TestRulesFileRoundTrip(t *testing.T) {
	for _, ext := range []string{".yaml", ".json"} {
		t.Run(ext, func(t *testing.T) {
			h := newHarness(t)
			require.NoError(t, h.m.AddRule(models.AlertRule{
				Name:        "queue_backlog",
				Query:       "queue_depth",
				Condition:   models.ConditionGT,
				Threshold:   100,
				Duration:    90 * time.Second,
				Severity:    models.SeverityLow,
				Annotations: models.Annotations{Summary: "Queue is backing up"},
				Labels:      map[string]string{"team": "data"},
			}))

			path := filepath.Join(t.TempDir(), "rules"+ext)
			require.NoError(t, h.m.ExportRules(path))

			rules, err := LoadRulesFile(path)
			require.NoError(t, err)
			assert.Equal(t, h.m.GetRules(), rules)

			other := newHarness(t)
			require.True(t, other.m.RemoveRule("cpu_usage_high"))
			n, err := other.m.ImportRules(path)
			require.NoError(t, err)
			assert.Equal(t, 6, n)
			assert.Len(t, other.m.GetRules(), 6)
		})
	}
}

func TestLoadRulesFileRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - name: latency
    query: network_latency
    condition: ">"
    threshold: 250
    duration: soon
    severity: high
`), 0644))

	_, err := LoadRulesFile(path)
	assert.ErrorContains(t, err, "invalid duration")
}

func TestConcurrentEvaluationsPublishInOrder(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				v := 90.0
				if i%2 == 1 {
					v = 50
				}
				assert.NoError(t, h.m.EvaluateMetric(QueryCPUUsage, v))
			}
		}()
	}
	wg.Wait()

	h.mu.Lock()
	var seq []EventKind
	for _, e := range h.events {
		if e.RuleName != "cpu_usage_high" {
			continue
		}
		if e.Kind == EventAlertFired || e.Kind == EventAlertResolved {
			seq = append(seq, e.Kind)
		}
	}
	h.mu.Unlock()

	require.NotEmpty(t, seq)
	for i, k := range seq {
		want := EventAlertFired
		if i%2 == 1 {
			want = EventAlertResolved
		}
		require.Equal(t, want, k, "event %d out of order", i)
	}

	_, ok := h.m.GetAlertStates()["cpu_usage_high"]
	require.True(t, ok)
	active := len(h.m.GetActiveAlerts()) == 1
	assert.Equal(t, active, seq[len(seq)-1] == EventAlertFired)
}

func TestHandlerMayEvaluateReentrantly(t *testing.T) {
	h := newHarness(t)

	var once sync.Once
	h.m.Subscribe(func(e Event) {
		if e.Kind != EventAlertFired {
			return
		}
		once.Do(func() {
			assert.NoError(t, h.m.EvaluateMetric(QueryCPUUsage, 10))
		})
	})

	done := make(chan struct{})
	go func() {
		assert.NoError(t, h.m.EvaluateMetric(QueryCPUUsage, 95))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("EvaluateMetric from a handler deadlocked")
	}

	require.Len(t, h.of(EventAlertFired), 1)
	require.Len(t, h.of(EventAlertResolved), 1)

	h.mu.Lock()
	defer h.mu.Unlock()
	var fired, resolved int
	for i, e := range h.events {
		switch e.Kind {
		case EventAlertFired:
			fired = i
		case EventAlertResolved:
			resolved = i
		}
	}
	assert.Less(t, fired, resolved)
}
