package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/hedge-bot/internal/domain"
	"github.com/rovshanmuradov/hedge-bot/internal/events"
	"github.com/rovshanmuradov/hedge-bot/internal/hedge"
	"github.com/rovshanmuradov/hedge-bot/internal/metrics"
	"github.com/rovshanmuradov/hedge-bot/internal/scheduler"
)

var start = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu     sync.Mutex
	clock  scheduler.Clock
	prices map[string]float64
	fail   error
	calls  int

	// lag backdates snapshot timestamps.
	lag       time.Duration
	panicBook map[string]bool
}

func newFakeGateway(clock scheduler.Clock) *fakeGateway {
	return &fakeGateway{clock: clock, prices: make(map[string]float64)}
}

func (g *fakeGateway) setPrice(symbol string, p float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[symbol] = p
}

func (g *fakeGateway) setFail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail = err
}

func (g *fakeGateway) setLag(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lag = d
}

func (g *fakeGateway) panicOnBook(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.panicBook == nil {
		g.panicBook = make(map[string]bool)
	}
	g.panicBook[symbol] = true
}

func (g *fakeGateway) GetMarketData(_ context.Context, symbol string) (domain.MarketSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.fail != nil {
		return domain.MarketSnapshot{}, domain.GatewayError("get market data", g.fail)
	}
	p, ok := g.prices[symbol]
	if !ok {
		return domain.MarketSnapshot{}, domain.GatewayError("get market data", fmt.Errorf("unknown symbol %s", symbol))
	}
	return domain.MarketSnapshot{
		Symbol: symbol, Price: p, Bid: p - 1, Ask: p + 1,
		Timestamp: g.clock.Now().Add(-g.lag), Exchange: "fake",
	}, nil
}

func (g *fakeGateway) GetOrderBook(_ context.Context, symbol string) (*domain.OrderBook, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.panicBook[symbol] {
		panic("order book decoder: index out of range")
	}
	p, ok := g.prices[symbol]
	if !ok || g.fail != nil {
		return nil, domain.GatewayError("get order book", errors.New("unavailable"))
	}
	return &domain.OrderBook{
		Symbol: symbol,
		Bids:   []domain.PriceLevel{{Price: p - 1, Size: 100}},
		Asks:   []domain.PriceLevel{{Price: p + 1, Size: 100}},
	}, nil
}

type fakeExchange struct {
	mu     sync.Mutex
	err    error
	orders []domain.HedgeOrder
}

func (f *fakeExchange) Name() string { return "fake" }

func (f *fakeExchange) Supports(kind domain.InstrumentKind) bool {
	return kind == domain.InstrumentPerpetual
}

func (f *fakeExchange) SubmitOrder(_ context.Context, o domain.HedgeOrder) (domain.ExecutionReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.ExecutionReceipt{}, f.err
	}
	f.orders = append(f.orders, o)
	return domain.ExecutionReceipt{
		OrderID: fmt.Sprintf("ex-%d", len(f.orders)), FilledSize: o.Size,
		AvgPrice: o.Price, Fee: 2, Exchange: "fake",
	}, nil
}

func (f *fakeExchange) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeExchange) submitted() []domain.HedgeOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.HedgeOrder(nil), f.orders...)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event

	// panics counts down publishes of panicType that panic.
	panicType events.EventType
	panics    int
}

func (r *recorder) Publish(e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panics > 0 && e.Type() == r.panicType {
		r.panics--
		panic("subscriber exploded")
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) panicOn(t events.EventType, times int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.panicType, r.panics = t, times
}

type fakeHistory struct {
	series domain.PriceSeries
	err    error
}

func (f fakeHistory) GetPriceHistory(context.Context, string, int) (domain.PriceSeries, error) {
	return f.series, f.err
}

func (r *recorder) ofType(t events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	svc     *Service
	clock   *scheduler.FakeClock
	gw      *fakeGateway
	ex      *fakeExchange
	pub     *recorder
	metrics *metrics.Collector
}

func newHarness(t *testing.T, mutate func(*Config), opts ...func(*Deps)) *harness {
	t.Helper()
	clock := scheduler.NewFakeClock(start)
	gw := newFakeGateway(clock)
	ex := &fakeExchange{}
	pub := &recorder{}
	log := zaptest.NewLogger(t)

	cfg := DefaultConfig()
	cfg.RetryJitter = 0
	if mutate != nil {
		mutate(&cfg)
	}
	collector := metrics.NewCollector()
	deps := Deps{
		Gateway:   gw,
		Pipeline:  hedge.NewPipeline(ex, hedge.DefaultPipelineConfig(), clock, log),
		Publisher: pub,
		Metrics:   collector,
		Clock:     clock,
		Logger:    log,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc, err := NewService(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	return &harness{svc: svc, clock: clock, gw: gw, ex: ex, pub: pub, metrics: collector}
}

// waitTick blocks until the position has completed a tick at the current
// fake time.
func (h *harness) waitTick(t *testing.T, positionID string) Status {
	t.Helper()
	want := h.clock.Now()
	require.Eventually(t, func() bool {
		st, err := h.svc.GetStatus(positionID)
		return err == nil && st.LastTick.Equal(want)
	}, 2*time.Second, 5*time.Millisecond)
	st, err := h.svc.GetStatus(positionID)
	require.NoError(t, err)
	return st
}

// advance moves the clock and waits for the resulting tick.
func (h *harness) advance(t *testing.T, positionID string, d time.Duration) Status {
	t.Helper()
	h.clock.Advance(d)
	return h.waitTick(t, positionID)
}

func btc(hedgeDelta float64) domain.Position {
	return domain.Position{
		ID: "btc-1", Symbol: "BTC", Side: domain.SideLong,
		Size: 10, EntryPrice: 48_000, HedgeDelta: hedgeDelta,
	}
}

// ticks reads the tick counter for one result from the registry.
func (h *harness) ticks(t *testing.T, result string) float64 {
	t.Helper()
	families, err := h.metrics.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "hedge_bot_ticks_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "result" && l.GetValue() == result {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
