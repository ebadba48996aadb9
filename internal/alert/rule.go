package alert

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rovshanmuradov/hedge-bot/internal/domain"
)

// Condition is the comparison a rule applies.
type Condition string

const (
	Above Condition = "above"
	Below Condition = "below"
)

// ParseCondition validates a condition name.
func ParseCondition(s string) (Condition, error) {
	switch Condition(strings.ToLower(strings.TrimSpace(s))) {
	case Above:
		return Above, nil
	case Below:
		return Below, nil
	}
	return "", fmt.Errorf("%w: condition must be above or below, got %q", domain.ErrInvalidArgument, s)
}

// Built-in rule ids.
const (
	RuleDelta = "builtin-delta"
	RuleVaR   = "builtin-var"
)

// Rule is one threshold on a metric.
type Rule struct {
	ID        string        `json:"id"`
	Metric    domain.Metric `json:"metric"`
	Condition Condition     `json:"condition"`
	Value     float64       `json:"value"`
	BuiltIn   bool          `json:"built_in"`
	CreatedAt time.Time     `json:"created_at"`
}

// Trips reports whether v violates the rule.
func (r Rule) Trips(v float64) bool {
	if r.Condition == Below {
		return v < r.Value
	}
	return v > r.Value
}

// Excess is how far v is past the threshold, as a fraction of the
// threshold (absolute distance when the threshold is zero).
func (r Rule) Excess(v float64) float64 {
	d := v - r.Value
	if r.Condition == Below {
		d = -d
	}
	if r.Value == 0 {
		return math.Abs(d)
	}
	return d / math.Abs(r.Value)
}

// Thresholds are the built-in limits of a position. Delta is compared with
// exposure (|net delta| / size); VaR with var95 in quote currency. Zero
// disables a threshold.
type Thresholds struct {
	Delta float64 `json:"delta" mapstructure:"delta_threshold"`
	VaR   float64 `json:"var" mapstructure:"var_threshold"`
}

// Validate rejects negative or non-finite limits.
func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{"delta": t.Delta, "var": t.VaR} {
		if v < 0 || !domain.IsFinite(v) {
			return fmt.Errorf("%w: %s threshold must be a non-negative number", domain.ErrInvalidArgument, name)
		}
	}
	return nil
}

// Breach is an active rule violation.
type Breach struct {
	RuleID    string        `json:"rule_id"`
	Metric    domain.Metric `json:"metric"`
	Condition Condition     `json:"condition"`
	Threshold float64       `json:"threshold"`
	Value     float64       `json:"value"`
	Severity  float64       `json:"severity"`
}
