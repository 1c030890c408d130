package bus

import (
	"time"

	"github.com/pulsewatch/internal/alert"
	"github.com/pulsewatch/internal/anomaly"
	"github.com/pulsewatch/internal/monitor"
)

const (
	SourceMonitor = "monitor"
	SourceAnomaly = "anomaly"
	SourceAlert   = "alert"
)

// Envelope is the wire form of a component event, shared by the NATS
// publisher and the websocket stream.
type Envelope struct {
	Source    string    `json:"source"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func FromMonitor(e monitor.Event) Envelope {
	env := Envelope{Source: SourceMonitor, Kind: string(e.Kind), Timestamp: e.Timestamp, Error: errString(e.Err)}
	switch {
	case e.Report != nil:
		env.Data = e.Report
	case e.Result != nil:
		env.Data = e.Result
	}
	return env
}

func FromAnomaly(e anomaly.Event) Envelope {
	env := Envelope{Source: SourceAnomaly, Kind: string(e.Kind), Timestamp: e.Timestamp, Error: errString(e.Err)}
	switch {
	case e.Anomaly != nil:
		env.Data = e.Anomaly
	case e.Metric != "":
		env.Data = map[string]any{"metric": e.Metric, "accuracy": e.Accuracy}
	case len(e.Metrics) > 0:
		env.Data = map[string]any{"metrics": e.Metrics}
	}
	return env
}

func FromAlert(e alert.Event) Envelope {
	env := Envelope{Source: SourceAlert, Kind: string(e.Kind), Timestamp: e.Timestamp, Error: errString(e.Err)}
	data := map[string]any{}
	if e.RuleName != "" {
		data["rule"] = e.RuleName
	}
	if e.Channel != "" {
		data["channel"] = e.Channel
	}
	switch e.Kind {
	case alert.EventRuleEvaluated:
		data["value"] = e.Value
		data["condition_met"] = e.ConditionMet
		data["status"] = e.Status
	case alert.EventAlertSuppressed:
		data["until"] = e.Until
	}
	if e.Alert != nil {
		data["alert"] = e.Alert
	}
	if e.Rule != nil {
		data["definition"] = e.Rule
	}
	if len(data) > 0 {
		env.Data = data
	}
	return env
}
