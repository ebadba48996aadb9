package domain

import (
	"context"
	"time"
)

// MarketDataGateway supplies quotes and order books. Implementations
// return errors wrapped with GatewayError.
type MarketDataGateway interface {
	GetMarketData(ctx context.Context, symbol string) (MarketSnapshot, error)
	GetOrderBook(ctx context.Context, symbol string) (*OrderBook, error)
}

// HistoryProvider seeds the price window when monitoring starts.
type HistoryProvider interface {
	GetPriceHistory(ctx context.Context, symbol string, limit int) (PriceSeries, error)
}

// OptionChainProvider lists option contracts for an underlying.
type OptionChainProvider interface {
	GetOptionChain(ctx context.Context, underlying string) ([]OptionQuote, error)
}

// Exchange executes hedge orders. Implementations return errors wrapped
// with ExchangeError.
type Exchange interface {
	Name() string
	Supports(kind InstrumentKind) bool
	SubmitOrder(ctx context.Context, order HedgeOrder) (ExecutionReceipt, error)
}

// Verdict is the advice of a timing model.
type Verdict string

const (
	VerdictHedge Verdict = "hedge"
	VerdictWait  Verdict = "wait"
)

// TimingFeatures is the input passed to a timing model.
type TimingFeatures struct {
	PositionID string    `json:"position_id"`
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	Volatility float64   `json:"volatility"`
	Exposure   float64   `json:"exposure"`
	VaR95      float64   `json:"var95"`
	Severity   float64   `json:"severity"`
	Timestamp  time.Time `json:"timestamp"`
}

// TimingModel is an optional advisor that can veto a hedge.
type TimingModel interface {
	PredictTiming(ctx context.Context, features TimingFeatures) (Verdict, error)
}
