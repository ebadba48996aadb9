package hedge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/hedge-bot/internal/domain"
	"github.com/rovshanmuradov/hedge-bot/internal/scheduler"
)

type fakeExchange struct {
	mu     sync.Mutex
	err    error
	orders []domain.HedgeOrder
	ctxErr error
}

func (f *fakeExchange) Name() string { return "fake" }

func (f *fakeExchange) Supports(kind domain.InstrumentKind) bool {
	return kind == domain.InstrumentPerpetual
}

func (f *fakeExchange) SubmitOrder(ctx context.Context, o domain.HedgeOrder) (domain.ExecutionReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return domain.ExecutionReceipt{}, f.err
	}
	f.orders = append(f.orders, o)
	return domain.ExecutionReceipt{OrderID: "x-1", FilledSize: o.Size, AvgPrice: o.Price, Fee: 1.5, Exchange: "fake"}, nil
}

func perpOrder(size, price float64) domain.HedgeOrder {
	return domain.HedgeOrder{
		ID: "o1", Symbol: "BTC-PERP", Underlying: "BTC", Side: domain.OrderSell,
		Size: size, Type: domain.OrderMarket, Price: price,
		Instrument: domain.InstrumentPerpetual, UnitDelta: 1,
	}
}

func newPipeline(t *testing.T, ex domain.Exchange) (*Pipeline, *scheduler.FakeClock) {
	clock := scheduler.NewFakeClock(now)
	return NewPipeline(ex, DefaultPipelineConfig(), clock, zaptest.NewLogger(t)), clock
}

var btcPosition = domain.Position{ID: "p1", Symbol: "BTC", Side: domain.SideLong, Size: 10}

func TestPipelineExecutesSmallOrder(t *testing.T) {
	ex := &fakeExchange{}
	p, _ := newPipeline(t, ex)

	exec := p.Execute(context.Background(), perpOrder(0.6, 50000), Request{Position: btcPosition})
	require.Equal(t, OutcomeExecuted, exec.Outcome)
	require.NoError(t, exec.Err)
	assert.True(t, exec.Result.Success)
	assert.Equal(t, "p1", exec.Result.PositionID)
	assert.InDelta(t, 0.6*50000+1.5, exec.Result.TotalCost, 1e-6)
	assert.Len(t, ex.orders, 1)
}

func TestPipelineLargeTradeAlwaysPends(t *testing.T) {
	ex := &fakeExchange{}
	p, _ := newPipeline(t, ex)

	for _, o := range []domain.HedgeOrder{perpOrder(3, 50000), perpOrder(2.0001, 50000)} {
		exec := p.Execute(context.Background(), o, Request{Position: btcPosition})
		require.Equal(t, OutcomePending, exec.Outcome)
		require.NotNil(t, exec.Pending)
		assert.Equal(t, now.Add(30*time.Minute), exec.Pending.ExpiresAt)
	}
	assert.Empty(t, ex.orders)

	// exactly at the threshold executes directly
	exec := p.Execute(context.Background(), perpOrder(2, 50000), Request{Position: btcPosition})
	assert.Equal(t, OutcomeExecuted, exec.Outcome)
}

func TestPipelineConfirmedReentryExecutes(t *testing.T) {
	ex := &fakeExchange{}
	p, _ := newPipeline(t, ex)

	exec := p.Execute(context.Background(), perpOrder(3, 50000), Request{Position: btcPosition})
	require.Equal(t, OutcomePending, exec.Outcome)

	exec = p.Execute(context.Background(), exec.Pending.Order, Request{Position: btcPosition, Pending: exec.Pending, Confirmed: true})
	assert.Equal(t, OutcomeExecuted, exec.Outcome)
	assert.Len(t, ex.orders, 1)
}

func TestPipelineRejectsWhilePending(t *testing.T) {
	p, _ := newPipeline(t, &fakeExchange{})
	pending := &Pending{ID: "c1", Order: perpOrder(3, 50000)}

	exec := p.Execute(context.Background(), perpOrder(0.1, 50000), Request{Position: btcPosition, Pending: pending})
	assert.Equal(t, OutcomeRejected, exec.Outcome)
	assert.False(t, exec.Result.Success)
	assert.ErrorIs(t, exec.Err, domain.ErrValidation)
	assert.ErrorIs(t, exec.Err, domain.ErrPendingConfirmation)
}

func TestPipelineValidation(t *testing.T) {
	p, _ := newPipeline(t, &fakeExchange{})

	cases := map[string]domain.HedgeOrder{
		"zero size": perpOrder(0, 50000),
		"no price":  perpOrder(1, 0),
	}
	opt := perpOrder(1, 100)
	opt.Instrument = domain.InstrumentOption
	cases["unsupported instrument"] = opt
	bad := perpOrder(1, 100)
	bad.Side = "hold"
	cases["bad side"] = bad

	for name, o := range cases {
		exec := p.Execute(context.Background(), o, Request{Position: btcPosition})
		assert.Equal(t, OutcomeRejected, exec.Outcome, name)
		assert.ErrorIs(t, exec.Err, domain.ErrValidation, name)
		assert.False(t, exec.Result.Success, name)
	}
}

func TestPipelineExchangeFailure(t *testing.T) {
	ex := &fakeExchange{err: errors.New("insufficient margin")}
	p, _ := newPipeline(t, ex)

	exec := p.Execute(context.Background(), perpOrder(0.5, 50000), Request{Position: btcPosition})
	assert.Equal(t, OutcomeFailed, exec.Outcome)
	assert.ErrorIs(t, exec.Err, domain.ErrExchange)
	assert.False(t, exec.Result.Success)
	assert.Contains(t, exec.Result.Message, "insufficient margin")
}

func TestPipelineSubmissionSurvivesCancellation(t *testing.T) {
	ex := &fakeExchange{}
	p, _ := newPipeline(t, ex)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	exec := p.Execute(ctx, perpOrder(0.5, 50000), Request{Position: btcPosition})
	assert.Equal(t, OutcomeExecuted, exec.Outcome)
	assert.NoError(t, ex.ctxErr)
}

func TestPipelineReject(t *testing.T) {
	p, clock := newPipeline(t, &fakeExchange{})
	clock.Advance(time.Minute)

	pending := &Pending{ID: "c1", Order: perpOrder(3, 50000), Manual: true}
	res := p.Reject(pending, btcPosition, domain.ErrConfirmationTimeout)
	assert.False(t, res.Success)
	assert.True(t, res.Manual)
	assert.Equal(t, now.Add(time.Minute), res.Timestamp)
	assert.Equal(t, domain.ErrConfirmationTimeout.Error(), res.Message)
}
