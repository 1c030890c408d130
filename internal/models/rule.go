package models

import (
	"fmt"
	"time"
)

type Condition string

const (
	ConditionGT  Condition = ">"
	ConditionLT  Condition = "<"
	ConditionGTE Condition = ">="
	ConditionLTE Condition = "<="
	ConditionEQ  Condition = "=="
	ConditionNEQ Condition = "!="
)

func (c Condition) IsValid() bool {
	switch c {
	case ConditionGT, ConditionLT, ConditionGTE, ConditionLTE, ConditionEQ, ConditionNEQ:
		return true
	}
	return false
}

// Evaluate compares current against threshold. Unknown conditions never hold.
func (c Condition) Evaluate(current, threshold float64) bool {
	switch c {
	case ConditionGT:
		return current > threshold
	case ConditionLT:
		return current < threshold
	case ConditionGTE:
		return current >= threshold
	case ConditionLTE:
		return current <= threshold
	case ConditionEQ:
		return current == threshold
	case ConditionNEQ:
		return current != threshold
	default:
		return false
	}
}

type Annotations struct {
	Summary     string `json:"summary" yaml:"summary"`
	Description string `json:"description" yaml:"description"`
}

// AlertRule is keyed by Name. Query is the metric name it watches.
type AlertRule struct {
	Name        string            `json:"name" yaml:"name"`
	Query       string            `json:"query" yaml:"query"`
	Condition   Condition         `json:"condition" yaml:"condition"`
	Threshold   float64           `json:"threshold" yaml:"threshold"`
	Duration    time.Duration     `json:"duration" yaml:"duration"`
	Severity    Severity          `json:"severity" yaml:"severity"`
	Annotations Annotations       `json:"annotations" yaml:"annotations"`
	Labels      map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

func (r AlertRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.Query == "" {
		return fmt.Errorf("rule %s: query is required", r.Name)
	}
	if !r.Condition.IsValid() {
		return fmt.Errorf("rule %s: invalid condition: %q", r.Name, r.Condition)
	}
	if !r.Severity.IsValid() {
		return fmt.Errorf("rule %s: invalid severity: %q", r.Name, r.Severity)
	}
	if r.Duration < 0 {
		return fmt.Errorf("rule %s: duration must not be negative", r.Name)
	}
	return nil
}

// Clone returns a copy that shares no maps with r.
func (r AlertRule) Clone() AlertRule {
	out := r
	out.Labels = cloneLabels(r.Labels)
	return out
}

func cloneLabels(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
