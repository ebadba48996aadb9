package risk

import "github.com/rovshanmuradov/hedge-bot/internal/domain"

// Scenario is a market shock. PriceShock is a fractional price move and
// VolShock a fractional change of volatility.
type Scenario struct {
	Name       string  `mapstructure:"name" json:"name"`
	PriceShock float64 `mapstructure:"price_shock" json:"price_shock"`
	VolShock   float64 `mapstructure:"vol_shock" json:"vol_shock"`
}

// DefaultScenarios are used when none are configured.
func DefaultScenarios() []Scenario {
	return []Scenario{
		{Name: "market_crash", PriceShock: -0.20, VolShock: 0.50},
		{Name: "correction", PriceShock: -0.10, VolShock: 0.20},
		{Name: "rally", PriceShock: 0.15, VolShock: -0.10},
		{Name: "vol_spike", PriceShock: 0, VolShock: 1.00},
	}
}

// Exposure is a position with its latest metrics and price.
type Exposure struct {
	Position domain.Position
	Metrics  domain.RiskMetrics
	Price    float64
}

// StressTest applies every scenario to every exposure and returns the
// aggregated P&L change per scenario name, using a second-order expansion
// in price plus the vega term.
func StressTest(exposures []Exposure, scenarios []Scenario) map[string]float64 {
	out := make(map[string]float64, len(scenarios))
	for _, sc := range scenarios {
		total := 0.0
		for _, e := range exposures {
			dS := e.Price * sc.PriceShock
			dVolPoints := e.Metrics.Volatility * sc.VolShock * 100
			total += e.Metrics.NetDelta*dS + 0.5*e.Metrics.Gamma*dS*dS + e.Metrics.Vega*dVolPoints
		}
		out[sc.Name] = total
	}
	return out
}
