// Package hedge decides on and executes hedge orders for a position.
package hedge

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rovshanmuradov/hedge-bot/internal/alert"
	"github.com/rovshanmuradov/hedge-bot/internal/domain"
	"github.com/rovshanmuradov/hedge-bot/internal/risk"
)

// Kind names one of the hedging strategies.
type Kind string

const (
	KindDeltaNeutral Kind = "delta_neutral"
	KindOptions      Kind = "options"
	KindDynamic      Kind = "dynamic"
)

// ParseKind maps user input to a strategy kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "delta_neutral", "delta-neutral", "delta":
		return KindDeltaNeutral, nil
	case "options", "options_based", "options-based":
		return KindOptions, nil
	case "dynamic":
		return KindDynamic, nil
	}
	return "", fmt.Errorf("%w: unknown hedging strategy %q", domain.ErrInvalidArgument, s)
}

// Continuous reports whether the strategy is evaluated on every tick rather
// than only while a breach is active.
func (k Kind) Continuous() bool {
	return k == KindDynamic
}

// Config holds strategy parameters.
type Config struct {
	MinNotional float64 `mapstructure:"min_notional"`
	MaxNotional float64 `mapstructure:"max_notional"`
	// NoiseThreshold is the Dynamic rebalance band as a fraction of the
	// position size.
	NoiseThreshold float64       `mapstructure:"noise_threshold"`
	Options        OptionsConfig `mapstructure:"options"`
}

// OptionsConfig selects contracts for the options strategy.
type OptionsConfig struct {
	TargetDelta     float64       `mapstructure:"target_delta"`
	DeltaTolerance  float64       `mapstructure:"delta_tolerance"`
	TargetExpiry    time.Duration `mapstructure:"target_expiry"`
	ExpiryTolerance time.Duration `mapstructure:"expiry_tolerance"`
}

// DefaultConfig returns the strategy defaults.
func DefaultConfig() Config {
	return Config{
		MinNotional:    10,
		MaxNotional:    1_000_000,
		NoiseThreshold: 0.05,
		Options: OptionsConfig{
			TargetDelta:     0.5,
			DeltaTolerance:  0.2,
			TargetExpiry:    30 * 24 * time.Hour,
			ExpiryTolerance: 21 * 24 * time.Hour,
		},
	}
}

// Input is everything a strategy may look at.
type Input struct {
	Position domain.Position
	Metrics  domain.RiskMetrics
	Snapshot domain.MarketSnapshot
	Book     *domain.OrderBook
	Chain    []domain.OptionQuote
	// Baseline is the net delta recorded after the last rebalance.
	Baseline float64
	// Breach is the most severe active breach, nil when none is active.
	Breach *alert.Breach
	Now    time.Time
}

// Decision is either an order or the reason for declining.
type Decision struct {
	Order  *domain.HedgeOrder
	Reason string
}

// Hedge reports whether the decision carries an order.
func (d Decision) Hedge() bool {
	return d.Order != nil
}

func decline(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// Strategy computes a hedge order for a position.
type Strategy interface {
	Kind() Kind
	CalculateHedge(in Input) Decision
}

// New builds the strategy for kind.
func New(kind Kind, cfg Config, calc *risk.Calculator) (Strategy, error) {
	switch kind {
	case KindDeltaNeutral:
		return &DeltaNeutral{cfg: cfg}, nil
	case KindOptions:
		return &OptionsBased{cfg: cfg, calc: calc}, nil
	case KindDynamic:
		return &Dynamic{base: DeltaNeutral{cfg: cfg}, noise: cfg.NoiseThreshold}, nil
	}
	return nil, fmt.Errorf("%w: unknown hedging strategy %q", domain.ErrInvalidArgument, kind)
}

// hedgePrice prefers the order book midpoint over the snapshot.
func hedgePrice(in Input) float64 {
	if mid, ok := in.Book.MidPrice(); ok && mid > 0 {
		return mid
	}
	return in.Snapshot.Mid()
}

func breachReason(b *alert.Breach) string {
	if b == nil {
		return "rebalance"
	}
	return fmt.Sprintf("%s %s %.4g (threshold %.4g)", b.Metric, b.Condition, b.Value, b.Threshold)
}

const deltaEpsilon = 1e-9

func isFlat(delta float64) bool {
	return math.Abs(delta) < deltaEpsilon
}
