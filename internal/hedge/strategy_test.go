package hedge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/hedge-bot/internal/alert"
	"github.com/rovshanmuradov/hedge-bot/internal/domain"
	"github.com/rovshanmuradov/hedge-bot/internal/risk"
)

var now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func btcInput(netDelta float64) Input {
	return Input{
		Position: domain.Position{ID: "p1", Symbol: "BTC", Side: domain.SideLong, Size: 10, EntryPrice: 48000},
		Metrics:  domain.RiskMetrics{NetDelta: netDelta, Exposure: abs(netDelta) / 10, Volatility: 0.6},
		Snapshot: domain.MarketSnapshot{Symbol: "BTC", Price: 50000, Bid: 49995, Ask: 50005, Timestamp: now},
		Book: &domain.OrderBook{
			Symbol: "BTC-PERP",
			Bids:   []domain.PriceLevel{{Price: 49990, Size: 5}},
			Asks:   []domain.PriceLevel{{Price: 50010, Size: 5}},
		},
		Breach: &alert.Breach{RuleID: alert.RuleDelta, Metric: domain.MetricExposure, Condition: alert.Above, Threshold: 0.05, Value: abs(netDelta) / 10, Severity: 0.2},
		Now:    now,
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func mustStrategy(t *testing.T, kind Kind) Strategy {
	t.Helper()
	s, err := New(kind, DefaultConfig(), risk.NewCalculator(risk.DefaultConfig()))
	require.NoError(t, err)
	return s
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{
		"delta-neutral": KindDeltaNeutral,
		"DELTA_NEUTRAL": KindDeltaNeutral,
		"options_based": KindOptions,
		"dynamic":       KindDynamic,
	} {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseKind("martingale")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = New("martingale", DefaultConfig(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestDeltaNeutralSellsPerpetualAgainstLongExposure(t *testing.T) {
	dec := mustStrategy(t, KindDeltaNeutral).CalculateHedge(btcInput(0.6))
	require.True(t, dec.Hedge(), dec.Reason)

	o := dec.Order
	assert.Equal(t, "BTC-PERP", o.Symbol)
	assert.Equal(t, domain.OrderSell, o.Side)
	assert.InDelta(t, 0.6, o.Size, 1e-12)
	assert.Equal(t, 50000.0, o.Price)
	assert.Equal(t, domain.InstrumentPerpetual, o.Instrument)
	assert.InDelta(t, -0.6, o.DeltaChange(), 1e-12)
	assert.Contains(t, o.Reason, "exposure")
}

func TestDeltaNeutralBuysAgainstShortExposure(t *testing.T) {
	in := btcInput(-2)
	in.Book = nil
	dec := mustStrategy(t, KindDeltaNeutral).CalculateHedge(in)
	require.True(t, dec.Hedge())
	assert.Equal(t, domain.OrderBuy, dec.Order.Side)
	assert.InDelta(t, 2, dec.Order.Size, 1e-12)
	assert.Equal(t, 50000.0, dec.Order.Price)
}

func TestDeltaNeutralDeclines(t *testing.T) {
	s := mustStrategy(t, KindDeltaNeutral)

	dec := s.CalculateHedge(btcInput(0))
	assert.False(t, dec.Hedge())

	// 0.0001 BTC * 50000 = 5 < min notional 10
	dec = s.CalculateHedge(btcInput(0.0001))
	assert.False(t, dec.Hedge())
	assert.Contains(t, dec.Reason, "below minimum")
}

func TestDeltaNeutralCapsNotional(t *testing.T) {
	dec := mustStrategy(t, KindDeltaNeutral).CalculateHedge(btcInput(40))
	require.True(t, dec.Hedge())
	assert.InDelta(t, 20, dec.Order.Size, 1e-9)
}

func optionChain() []domain.OptionQuote {
	exp30 := now.Add(30 * 24 * time.Hour)
	return []domain.OptionQuote{
		{Instrument: "BTC-30D-45000-P", Underlying: "BTC", Type: domain.OptionPut, Strike: 45000, Expiry: exp30, MarkPrice: 600, Delta: -0.25},
		{Instrument: "BTC-30D-50000-P", Underlying: "BTC", Type: domain.OptionPut, Strike: 50000, Expiry: exp30, MarkPrice: 2500, Delta: -0.48},
		{Instrument: "BTC-90D-50000-P", Underlying: "BTC", Type: domain.OptionPut, Strike: 50000, Expiry: now.Add(90 * 24 * time.Hour), MarkPrice: 4000, Delta: -0.5},
		{Instrument: "BTC-30D-50000-C", Underlying: "BTC", Type: domain.OptionCall, Strike: 50000, Expiry: exp30, MarkPrice: 2600, Delta: 0.52},
		{Instrument: "ETH-30D-3000-P", Underlying: "ETH", Type: domain.OptionPut, Strike: 3000, Expiry: exp30, MarkPrice: 100, Delta: -0.5},
	}
}

func TestOptionsBasedBuysPutForLong(t *testing.T) {
	in := btcInput(10)
	in.Chain = optionChain()

	dec := mustStrategy(t, KindOptions).CalculateHedge(in)
	require.True(t, dec.Hedge(), dec.Reason)
	o := dec.Order
	assert.Equal(t, "BTC-30D-50000-P", o.Symbol)
	assert.Equal(t, domain.OrderBuy, o.Side)
	assert.Equal(t, domain.InstrumentOption, o.Instrument)
	assert.InDelta(t, 10/0.48, o.Size, 1e-9)
	assert.InDelta(t, -10, o.DeltaChange(), 1e-9)
}

func TestOptionsBasedBuysCallForShort(t *testing.T) {
	in := btcInput(-5)
	in.Chain = optionChain()

	dec := mustStrategy(t, KindOptions).CalculateHedge(in)
	require.True(t, dec.Hedge(), dec.Reason)
	assert.Equal(t, "BTC-30D-50000-C", dec.Order.Symbol)
	assert.Equal(t, domain.OrderBuy, dec.Order.Side)
	assert.InDelta(t, 5, dec.Order.DeltaChange(), 1e-9)
}

func TestOptionsBasedDeclinesWithoutMatch(t *testing.T) {
	in := btcInput(10)
	in.Chain = []domain.OptionQuote{
		{Instrument: "BTC-1Y-20000-P", Underlying: "BTC", Type: domain.OptionPut, Strike: 20000, Expiry: now.AddDate(1, 0, 0), MarkPrice: 50, Delta: -0.02},
	}
	dec := mustStrategy(t, KindOptions).CalculateHedge(in)
	assert.False(t, dec.Hedge())

	in.Chain = nil
	dec = mustStrategy(t, KindOptions).CalculateHedge(in)
	assert.False(t, dec.Hedge())
}

func TestOptionsBasedComputesMissingDelta(t *testing.T) {
	in := btcInput(10)
	in.Chain = []domain.OptionQuote{
		{Instrument: "BTC-30D-50000-P", Underlying: "BTC", Type: domain.OptionPut, Strike: 50000, Expiry: now.Add(30 * 24 * time.Hour)},
	}
	dec := mustStrategy(t, KindOptions).CalculateHedge(in)
	require.True(t, dec.Hedge(), dec.Reason)
	assert.Less(t, dec.Order.UnitDelta, 0.0)
	assert.Greater(t, dec.Order.Price, 0.0)
}

func TestDynamicRebalancesOutsideNoiseBand(t *testing.T) {
	s := mustStrategy(t, KindDynamic)

	in := btcInput(0.3)
	in.Breach = nil
	dec := s.CalculateHedge(in) // band = 0.05 * 10 = 0.5
	assert.False(t, dec.Hedge())
	assert.Contains(t, dec.Reason, "noise band")

	in = btcInput(0.8)
	dec = s.CalculateHedge(in)
	require.True(t, dec.Hedge())
	assert.Equal(t, string(KindDynamic), dec.Order.Strategy)
	assert.InDelta(t, 0.8, dec.Order.Size, 1e-12)

	in.Baseline = 0.6
	assert.False(t, s.CalculateHedge(in).Hedge())
}

type fakeModel struct {
	verdict domain.Verdict
	err     error
	calls   int
}

func (m *fakeModel) PredictTiming(ctx context.Context, f domain.TimingFeatures) (domain.Verdict, error) {
	m.calls++
	return m.verdict, m.err
}

func TestDeciderRequiresBreachUnlessContinuous(t *testing.T) {
	d := NewDecider(nil, 0, zaptest.NewLogger(t))
	in := btcInput(0.8)
	in.Breach = nil

	assert.False(t, d.Decide(context.Background(), in, mustStrategy(t, KindDeltaNeutral)).Hedge())
	assert.True(t, d.Decide(context.Background(), in, mustStrategy(t, KindDynamic)).Hedge())
}

func TestTimingVerdictIsOnlyAVeto(t *testing.T) {
	ctx := context.Background()
	wait := &fakeModel{verdict: domain.VerdictWait}
	dec := NewDecider(wait, time.Second, zaptest.NewLogger(t)).Decide(ctx, btcInput(0.6), mustStrategy(t, KindDeltaNeutral))
	assert.False(t, dec.Hedge())
	assert.Equal(t, 1, wait.calls)

	// a hedge verdict never forces an order the strategy declined
	hedgeNow := &fakeModel{verdict: domain.VerdictHedge}
	dec = NewDecider(hedgeNow, time.Second, zaptest.NewLogger(t)).Decide(ctx, btcInput(0), mustStrategy(t, KindDeltaNeutral))
	assert.False(t, dec.Hedge())
	assert.Equal(t, 0, hedgeNow.calls)

	broken := &fakeModel{err: errors.New("model offline")}
	dec = NewDecider(broken, time.Second, zaptest.NewLogger(t)).Decide(ctx, btcInput(0.6), mustStrategy(t, KindDeltaNeutral))
	assert.True(t, dec.Hedge())
}

func TestManualOrder(t *testing.T) {
	pos := btcInput(0).Position

	o, err := ManualOrder(pos, 4, 0, 50000, now)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderSell, o.Side)
	assert.Equal(t, 4.0, o.Size)
	assert.Equal(t, "BTC-PERP", o.Symbol)

	o, err = ManualOrder(pos, -4, 1.5, 50000, now)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderBuy, o.Side)
	assert.Equal(t, 1.5, o.Size)

	_, err = ManualOrder(pos, 4, -1, 50000, now)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = ManualOrder(pos, 0, 1, 50000, now)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
