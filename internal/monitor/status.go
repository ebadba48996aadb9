package monitor

import (
	"time"

	"github.com/rovshanmuradov/hedge-bot/internal/alert"
	"github.com/rovshanmuradov/hedge-bot/internal/domain"
	"github.com/rovshanmuradov/hedge-bot/internal/hedge"
)

// Phase is the lifecycle state of a position's control loop.
type Phase string

const (
	PhaseMonitoring Phase = "monitoring"
	PhaseStopped    Phase = "stopped"
)

// Status is a read-only snapshot of one control loop, republished after
// every tick and command.
type Status struct {
	PositionID string              `json:"position_id"`
	Symbol     string              `json:"symbol"`
	Phase      Phase               `json:"phase"`
	Position   domain.Position     `json:"position"`
	Metrics    *domain.RiskMetrics `json:"metrics,omitempty"`

	AlertState      alert.State      `json:"alert_state"`
	SuppressedUntil *time.Time       `json:"suppressed_until,omitempty"`
	ActiveBreaches  []alert.Breach   `json:"active_breaches"`
	Thresholds      alert.Thresholds `json:"thresholds"`
	Rules           []alert.Rule     `json:"rules"`

	AutoHedge        bool           `json:"auto_hedge"`
	Strategy         hedge.Kind     `json:"strategy"`
	Pending          *hedge.Pending `json:"pending,omitempty"`
	LastHedgeAt      *time.Time     `json:"last_hedge_at,omitempty"`
	NextHedgeAttempt *time.Time     `json:"next_hedge_attempt,omitempty"`
	LastDecision     string         `json:"last_decision,omitempty"`

	Stale             bool          `json:"stale"`
	ConsecutiveMisses int           `json:"consecutive_misses"`
	LastError         string        `json:"last_error,omitempty"`
	LastTick          time.Time     `json:"last_tick"`
	Interval          time.Duration `json:"interval"`
	// Samples prices, spaced SampleInterval apart, feed the risk window.
	Samples        int           `json:"samples"`
	SampleInterval time.Duration `json:"sample_interval"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
