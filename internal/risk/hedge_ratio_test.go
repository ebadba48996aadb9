package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/hedge-bot/internal/domain"
)

func TestHedgeRatio(t *testing.T) {
	ratio, err := HedgeRatio("BTC", 10, InstrumentGreeks{Symbol: "BTC-PERP", Underlying: "BTC", Delta: 1}, math.NaN())
	require.NoError(t, err)
	assert.Equal(t, 10.0, ratio)

	ratio, err = HedgeRatio("BTC", 10, InstrumentGreeks{Symbol: "BTC-PUT", Underlying: "BTC", Delta: -0.5}, 0)
	require.NoError(t, err)
	assert.Equal(t, -20.0, ratio)

	ratio, err = HedgeRatio("SOL", 10, InstrumentGreeks{Symbol: "ETH-PERP", Underlying: "ETH", Delta: 1}, 0.8)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, ratio, 1e-12)
}

func TestHedgeRatioUndeterminable(t *testing.T) {
	_, err := HedgeRatio("BTC", 10, InstrumentGreeks{Underlying: "BTC", Delta: 0}, 1)
	assert.ErrorIs(t, err, ErrUndeterminable)

	_, err = HedgeRatio("SOL", 10, InstrumentGreeks{Underlying: "ETH", Delta: 1}, math.NaN())
	assert.ErrorIs(t, err, ErrUndeterminable)
}

func TestStressTest(t *testing.T) {
	exposures := []Exposure{
		{
			Position: spotPosition(domain.SideLong, 10),
			Metrics:  domain.RiskMetrics{NetDelta: 10, Volatility: 0.3},
			Price:    100,
		},
		{
			Position: domain.Position{ID: "o1", Symbol: "ETH", Side: domain.SideLong, Size: 1},
			Metrics:  domain.RiskMetrics{NetDelta: 0.5, Gamma: 0.02, Vega: 0.4, Volatility: 0.5},
			Price:    100,
		},
	}

	got := StressTest(exposures, []Scenario{
		{Name: "crash", PriceShock: -0.2, VolShock: 0.5},
		{Name: "flat", PriceShock: 0, VolShock: 0},
	})

	// spot: 10 * -20 = -200; option: 0.5*-20 + 0.5*0.02*400 + 0.4*25 = -10 + 4 + 10
	assert.InDelta(t, -196.0, got["crash"], 1e-9)
	assert.Zero(t, got["flat"])
	assert.Len(t, DefaultScenarios(), 4)
}
