// Package alert evaluates risk metrics against per-position rules and
// tracks the Armed/Breached/Suppressed alert state.
package alert

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/hedge-bot/internal/domain"
)

// State of the alert machine.
type State string

const (
	StateArmed      State = "armed"
	StateBreached   State = "breached"
	StateSuppressed State = "suppressed"
)

// Alert is an emitted breach notification.
type Alert struct {
	ID         string        `json:"id"`
	PositionID string        `json:"position_id"`
	Symbol     string        `json:"symbol"`
	RuleID     string        `json:"rule_id"`
	Metric     domain.Metric `json:"metric"`
	Condition  Condition     `json:"condition"`
	Threshold  float64       `json:"threshold"`
	Value      float64       `json:"value"`
	Severity   float64       `json:"severity"`
	Level      string        `json:"level"` // "info", "warning", "critical"
	Message    string        `json:"message"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Evaluation is the outcome of one Evaluate call.
type Evaluation struct {
	State      State
	Suppressed bool
	// Alerts holds only rules that became breached on this evaluation and
	// were not withheld by suppression.
	Alerts []Alert
	// Active holds every currently breached rule, most severe first.
	Active []Breach
}

// MostSevere returns the breach with the largest fractional excess.
func (e Evaluation) MostSevere() (Breach, bool) {
	if len(e.Active) == 0 {
		return Breach{}, false
	}
	return e.Active[0], true
}

const maxRecentAlerts = 200

// Engine holds the alert state of one position. Evaluate, Suppress and
// Reset are called by the owning control loop only; read accessors are safe
// from other goroutines.
type Engine struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	positionID string
	symbol     string

	thresholds      Thresholds
	rules           map[string]Rule
	active          map[string]Breach
	state           State
	suppressedUntil time.Time
	withheld        int

	alerts []Alert
}

// NewEngine creates an armed engine with the built-in thresholds applied.
func NewEngine(positionID, symbol string, thresholds Thresholds, logger *zap.Logger) *Engine {
	e := &Engine{
		logger:     logger.Named("alerts").With(zap.String("position", positionID)),
		positionID: positionID,
		symbol:     symbol,
		rules:      make(map[string]Rule),
		active:     make(map[string]Breach),
		state:      StateArmed,
	}
	e.applyThresholds(thresholds)
	return e
}

// SetThresholds replaces the built-in rules and leaves custom rules alone.
func (e *Engine) SetThresholds(t Thresholds) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyThresholds(t)
	e.logger.Info("Alert thresholds updated",
		zap.Float64("delta", t.Delta),
		zap.Float64("var", t.VaR))
}

func (e *Engine) applyThresholds(t Thresholds) {
	e.thresholds = t
	e.setBuiltIn(RuleDelta, domain.MetricExposure, t.Delta)
	e.setBuiltIn(RuleVaR, domain.MetricVaR, t.VaR)
}

func (e *Engine) setBuiltIn(id string, metric domain.Metric, value float64) {
	if value <= 0 {
		delete(e.rules, id)
		delete(e.active, id)
		return
	}
	e.rules[id] = Rule{ID: id, Metric: metric, Condition: Above, Value: value, BuiltIn: true}
}

// Thresholds returns the built-in limits.
func (e *Engine) Thresholds() Thresholds {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.thresholds
}

// AddRule registers a custom rule.
func (e *Engine) AddRule(metric domain.Metric, cond Condition, value float64, now time.Time) (Rule, error) {
	if _, err := domain.ParseMetric(string(metric)); err != nil {
		return Rule{}, err
	}
	if cond != Above && cond != Below {
		return Rule{}, fmt.Errorf("%w: unknown condition %q", domain.ErrInvalidArgument, cond)
	}
	if !domain.IsFinite(value) {
		return Rule{}, fmt.Errorf("%w: rule value must be a finite number", domain.ErrInvalidArgument)
	}
	r := Rule{
		ID:        uuid.New().String(),
		Metric:    metric,
		Condition: cond,
		Value:     value,
		CreatedAt: now,
	}

	e.mu.Lock()
	e.rules[r.ID] = r
	e.mu.Unlock()

	e.logger.Info("Custom alert added",
		zap.String("rule_id", r.ID),
		zap.String("metric", string(metric)),
		zap.String("condition", string(cond)),
		zap.Float64("value", value))
	return r, nil
}

// RemoveRule deletes a custom rule. Built-in rules are changed through
// SetThresholds.
func (e *Engine) RemoveRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rules[id]
	if !ok {
		return fmt.Errorf("alert %s: %w", id, domain.ErrNotFound)
	}
	if r.BuiltIn {
		return fmt.Errorf("%w: alert %s is built in", domain.ErrInvalidArgument, id)
	}
	delete(e.rules, id)
	delete(e.active, id)
	e.logger.Info("Custom alert removed", zap.String("rule_id", id))
	return nil
}

// Rules returns all rules ordered by creation, built-ins first.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sortedRules()
}

func (e *Engine) sortedRules() []Rule {
	out := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BuiltIn != out[j].BuiltIn {
			return out[i].BuiltIn
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Evaluate compares m with every rule. A rule emits once when it becomes
// breached and again only after it has cleared.
func (e *Engine) Evaluate(now time.Time, m domain.RiskMetrics) Evaluation {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateSuppressed && !now.Before(e.suppressedUntil) {
		e.logger.Info("Alert suppression expired",
			zap.Int("withheld_breaches", e.withheld))
		e.state = StateArmed
		e.suppressedUntil = time.Time{}
		e.withheld = 0
		e.active = make(map[string]Breach)
	}
	suppressed := e.state == StateSuppressed

	tripped := make(map[string]Breach)
	var emitted []Alert
	for _, r := range e.sortedRules() {
		v, ok := m.Value(r.Metric)
		if !ok || !r.Trips(v) {
			continue
		}
		b := Breach{
			RuleID:    r.ID,
			Metric:    r.Metric,
			Condition: r.Condition,
			Threshold: r.Value,
			Value:     v,
			Severity:  r.Excess(v),
		}
		tripped[r.ID] = b
		if _, already := e.active[r.ID]; already {
			continue
		}
		if suppressed {
			e.withheld++
			e.logger.Debug("Breach recorded during suppression",
				zap.String("rule_id", r.ID),
				zap.Float64("value", v))
			continue
		}
		a := e.newAlert(b, now)
		e.record(a)
		emitted = append(emitted, a)
	}
	e.active = tripped

	if !suppressed {
		if len(tripped) > 0 {
			e.state = StateBreached
		} else {
			e.state = StateArmed
		}
	}

	return Evaluation{
		State:      e.state,
		Suppressed: suppressed,
		Alerts:     emitted,
		Active:     sortBySeverity(tripped),
	}
}

// Suppress withholds alerts until now+d.
func (e *Engine) Suppress(now time.Time, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateSuppressed
	e.suppressedUntil = now.Add(d)
	e.logger.Info("Alerts suppressed", zap.Time("until", e.suppressedUntil))
}

// Reset returns to Armed and forgets active breaches, so breaches that are
// still present emit again on the next evaluation.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateArmed
	e.suppressedUntil = time.Time{}
	e.withheld = 0
	e.active = make(map[string]Breach)
	e.logger.Info("Alerts reset")
}

// State returns the current state and the suppression deadline.
func (e *Engine) State() (State, time.Time) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state, e.suppressedUntil
}

// RecentAlerts returns up to limit of the latest emitted alerts.
func (e *Engine) RecentAlerts(limit int) []Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if limit <= 0 || limit > len(e.alerts) {
		limit = len(e.alerts)
	}
	result := make([]Alert, limit)
	copy(result, e.alerts[len(e.alerts)-limit:])
	return result
}

func (e *Engine) newAlert(b Breach, now time.Time) Alert {
	a := Alert{
		ID:         uuid.New().String(),
		PositionID: e.positionID,
		Symbol:     e.symbol,
		RuleID:     b.RuleID,
		Metric:     b.Metric,
		Condition:  b.Condition,
		Threshold:  b.Threshold,
		Value:      b.Value,
		Severity:   b.Severity,
		Level:      level(b.Severity),
		Timestamp:  now,
	}
	a.Message = fmt.Sprintf("%s %s %s %.4g (threshold %.4g)",
		e.symbol, b.Metric, b.Condition, b.Value, b.Threshold)
	return a
}

func (e *Engine) record(a Alert) {
	if len(e.alerts) >= maxRecentAlerts {
		e.alerts = e.alerts[1:]
	}
	e.alerts = append(e.alerts, a)

	fields := []zap.Field{
		zap.String("metric", string(a.Metric)),
		zap.Float64("value", a.Value),
		zap.Float64("threshold", a.Threshold),
		zap.Float64("severity", a.Severity),
	}
	switch a.Level {
	case "critical":
		e.logger.Error("Alert triggered", fields...)
	case "warning":
		e.logger.Warn("Alert triggered", fields...)
	default:
		e.logger.Info("Alert triggered", fields...)
	}
}

func level(severity float64) string {
	switch {
	case severity >= 1:
		return "critical"
	case severity >= 0.2:
		return "warning"
	default:
		return "info"
	}
}

func sortBySeverity(m map[string]Breach) []Breach {
	out := make([]Breach, 0, len(m))
	for _, b := range m {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity > out[j].Severity
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out
}
