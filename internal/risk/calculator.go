// Package risk turns a position and a market snapshot into RiskMetrics.
// Everything here is pure: no I/O and no wall-clock reads.
package risk

import (
	"errors"
	"math"
	"time"

	"github.com/rovshanmuradov/hedge-bot/internal/domain"
)

// Config holds the model parameters of the calculator.
type Config struct {
	RiskFreeRate      float64 `mapstructure:"risk_free_rate"`
	DefaultVolatility float64 `mapstructure:"default_volatility"`
	// MinHistory is the number of prices below which VaR is reported as 0
	// and the metrics are flagged low-confidence.
	MinHistory       int `mapstructure:"min_history"`
	VolatilityWindow int `mapstructure:"volatility_window"`
}

// DefaultConfig returns the calculator defaults.
func DefaultConfig() Config {
	return Config{
		RiskFreeRate:      0,
		DefaultVolatility: 0.3,
		MinHistory:        10,
		VolatilityWindow:  30,
	}
}

// Input bundles everything one computation needs.
type Input struct {
	Position domain.Position
	Snapshot domain.MarketSnapshot
	// Volatility overrides the estimate derived from History when positive.
	Volatility float64
	// History and Benchmark are price series, oldest first, sampled every
	// Interval. A zero Interval means daily closes.
	History   []float64
	Benchmark []float64
	Interval  time.Duration
}

// Calculator computes risk metrics.
type Calculator struct {
	cfg Config
}

// NewCalculator fills unset fields of cfg with defaults.
func NewCalculator(cfg Config) *Calculator {
	def := DefaultConfig()
	if cfg.DefaultVolatility <= 0 {
		cfg.DefaultVolatility = def.DefaultVolatility
	}
	if cfg.MinHistory < 2 {
		cfg.MinHistory = def.MinHistory
	}
	if cfg.VolatilityWindow < 2 {
		cfg.VolatilityWindow = def.VolatilityWindow
	}
	return &Calculator{cfg: cfg}
}

// Config returns the effective configuration.
func (c *Calculator) Config() Config {
	return c.cfg
}

// Compute derives the full metrics record. It only fails when the snapshot
// carries no usable price; thin history degrades to low-confidence output.
func (c *Calculator) Compute(in Input) (domain.RiskMetrics, error) {
	price := in.Snapshot.Price
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return domain.RiskMetrics{}, domain.CalculationError("compute risk",
			errors.New("snapshot price must be positive"))
	}

	vol := in.Volatility
	if vol <= 0 {
		vol = c.EstimateVolatility(in.History, in.Interval)
	}

	pos := in.Position
	m := domain.RiskMetrics{
		Volatility:  vol,
		Correlation: math.NaN(),
		Beta:        math.NaN(),
		Timestamp:   in.Snapshot.Timestamp,
	}

	signed := pos.SignedSize()
	if pos.IsOption() {
		g := c.OptionGreeks(*pos.Option, price, vol, yearsBetween(in.Snapshot.Timestamp, pos.Option.Expiry))
		m.Delta = g.Delta * signed
		m.Gamma = g.Gamma * signed
		m.Theta = g.Theta * signed
		m.Vega = g.Vega * signed
		if pos.EntryPrice > 0 {
			m.UnrealizedPnL = (g.Price - pos.EntryPrice) * signed
		}
	} else {
		m.Delta = signed
		if pos.EntryPrice > 0 {
			m.UnrealizedPnL = (price - pos.EntryPrice) * signed
		}
	}

	m.NetDelta = m.Delta + pos.HedgeDelta
	if pos.Size > 0 {
		m.Exposure = math.Abs(m.NetDelta) / pos.Size
	}
	m.Notional = math.Abs(m.Delta) * price

	if len(in.History) < c.cfg.MinHistory {
		m.LowConfidence = true
	} else {
		m.VaR95, m.VaR99, m.LowConfidence = historicalVaR(in.History, m.Notional)
	}
	m.MaxDrawdown = maxDrawdown(in.History, m.NetDelta < 0) * m.Notional

	if len(in.Benchmark) > 0 {
		m.Correlation, m.Beta = correlationBeta(logReturns(in.History), logReturns(in.Benchmark))
	}
	return m, nil
}
