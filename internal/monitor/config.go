package monitor

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/hedge-bot/internal/alert"
	"github.com/rovshanmuradov/hedge-bot/internal/domain"
	"github.com/rovshanmuradov/hedge-bot/internal/events"
	"github.com/rovshanmuradov/hedge-bot/internal/hedge"
	"github.com/rovshanmuradov/hedge-bot/internal/metrics"
	"github.com/rovshanmuradov/hedge-bot/internal/risk"
	"github.com/rovshanmuradov/hedge-bot/internal/scheduler"
)

// Config holds the control loop settings.
type Config struct {
	Interval time.Duration `mapstructure:"interval"`
	// StaleAfterMisses consecutive gateway failures mark a position stale.
	StaleAfterMisses int           `mapstructure:"stale_after_misses"`
	MaxSnapshotAge   time.Duration `mapstructure:"max_snapshot_age"`
	HistoryWindow    int           `mapstructure:"history_window"`
	BenchmarkSymbol  string        `mapstructure:"benchmark_symbol"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
	StopTimeout      time.Duration `mapstructure:"stop_timeout"`

	SuppressionWindow time.Duration `mapstructure:"suppression_window"`
	SuppressOnFailure bool          `mapstructure:"suppress_on_failure"`
	HedgeCooldown     time.Duration `mapstructure:"hedge_cooldown"`
	RetryInitial      time.Duration `mapstructure:"retry_initial"`
	RetryMax          time.Duration `mapstructure:"retry_max"`
	RetryJitter       float64       `mapstructure:"retry_jitter"`

	Thresholds      alert.Thresholds `mapstructure:"thresholds"`
	DefaultStrategy string           `mapstructure:"default_strategy"`
	Scenarios       []risk.Scenario  `mapstructure:"scenarios"`
}

// DefaultConfig returns the control loop defaults.
func DefaultConfig() Config {
	return Config{
		Interval:          30 * time.Second,
		StaleAfterMisses:  3,
		MaxSnapshotAge:    2 * time.Minute,
		HistoryWindow:     500,
		FetchTimeout:      10 * time.Second,
		StopTimeout:       10 * time.Second,
		SuppressionWindow: time.Hour,
		HedgeCooldown:     5 * time.Minute,
		RetryInitial:      30 * time.Second,
		RetryMax:          10 * time.Minute,
		RetryJitter:       0.2,
		Thresholds:        alert.Thresholds{Delta: 0.05},
		DefaultStrategy:   string(hedge.KindDeltaNeutral),
		Scenarios:         risk.DefaultScenarios(),
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Interval <= 0:
		return fmt.Errorf("monitor interval must be positive")
	case c.StaleAfterMisses < 1:
		return fmt.Errorf("stale_after_misses must be at least 1")
	case c.HistoryWindow < 2:
		return fmt.Errorf("history_window must be at least 2")
	case c.SuppressionWindow < 0 || c.HedgeCooldown < 0:
		return fmt.Errorf("suppression window and hedge cooldown must not be negative")
	case c.RetryInitial <= 0 || c.RetryMax < c.RetryInitial:
		return fmt.Errorf("retry_initial must be positive and not above retry_max")
	case c.RetryJitter < 0 || c.RetryJitter >= 1:
		return fmt.Errorf("retry_jitter must be in [0, 1)")
	}
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if _, err := hedge.ParseKind(c.DefaultStrategy); err != nil {
		return err
	}
	return nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.StaleAfterMisses <= 0 {
		c.StaleAfterMisses = def.StaleAfterMisses
	}
	if c.HistoryWindow < 2 {
		c.HistoryWindow = def.HistoryWindow
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = def.FetchTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = def.StopTimeout
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = def.RetryInitial
	}
	if c.RetryMax < c.RetryInitial {
		c.RetryMax = max(def.RetryMax, c.RetryInitial)
	}
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = def.DefaultStrategy
	}
	if len(c.Scenarios) == 0 {
		c.Scenarios = def.Scenarios
	}
	return c
}

func (c Config) newRetry() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.RetryInitial
	b.MaxInterval = c.RetryMax
	b.RandomizationFactor = c.RetryJitter
	b.Multiplier = 2
	b.Reset()
	return b
}

// Deps are the collaborators of the service. Gateway and Pipeline are
// required; the rest fall back to defaults.
type Deps struct {
	Gateway  domain.MarketDataGateway
	History  domain.HistoryProvider
	Options  domain.OptionChainProvider
	Pipeline *hedge.Pipeline
	Decider  *hedge.Decider

	Calculator     *risk.Calculator
	StrategyConfig hedge.Config

	Hedges    *HedgeHistory
	Publisher events.Publisher
	Metrics   *metrics.Collector
	Clock     scheduler.Clock
	Logger    *zap.Logger
}

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event) error { return nil }
