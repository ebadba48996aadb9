package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of a hedge order.
type OrderSide string

const (
	OrderBuy  OrderSide = "buy"
	OrderSell OrderSide = "sell"
)

// Sign returns +1 for buys and -1 for sells.
func (s OrderSide) Sign() float64 {
	if s == OrderSell {
		return -1
	}
	return 1
}

// OrderType is the execution style requested from the venue.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// InstrumentKind is the class of instrument a hedge trades.
type InstrumentKind string

const (
	InstrumentPerpetual InstrumentKind = "perpetual"
	InstrumentOption    InstrumentKind = "option"
	InstrumentSpot      InstrumentKind = "spot"
)

// PerpSymbol returns the perpetual contract name used to hedge symbol.
func PerpSymbol(symbol string) string {
	return fmt.Sprintf("%s-PERP", symbol)
}

// HedgeOrder is a candidate order produced by a strategy.
type HedgeOrder struct {
	ID         string         `json:"id"`
	Symbol     string         `json:"symbol"`
	Underlying string         `json:"underlying"`
	Side       OrderSide      `json:"side"`
	Size       float64        `json:"size"`
	Type       OrderType      `json:"type"`
	Price      float64        `json:"price"`
	Instrument InstrumentKind `json:"instrument"`
	// UnitDelta is the delta contributed by one unit of the instrument.
	UnitDelta float64   `json:"unit_delta"`
	Strategy  string    `json:"strategy"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Notional is size times price.
func (o HedgeOrder) Notional() decimal.Decimal {
	return decimal.NewFromFloat(o.Size).Mul(decimal.NewFromFloat(o.Price))
}

// DeltaChange is the net delta the order adds to the position once filled.
func (o HedgeOrder) DeltaChange() float64 {
	return o.Side.Sign() * o.Size * o.UnitDelta
}

// ExecutionReceipt is what the exchange layer reports after a fill.
type ExecutionReceipt struct {
	OrderID    string  `json:"order_id"`
	FilledSize float64 `json:"filled_size"`
	AvgPrice   float64 `json:"avg_price"`
	Fee        float64 `json:"fee"`
	Exchange   string  `json:"exchange"`
}

// HedgeResult is the immutable audit record of one hedge attempt.
type HedgeResult struct {
	ID         string             `json:"id"`
	PositionID string             `json:"position_id"`
	Success    bool               `json:"success"`
	Orders     []HedgeOrder       `json:"orders"`
	Receipts   []ExecutionReceipt `json:"receipts,omitempty"`
	TotalCost  float64            `json:"total_cost"`
	Latency    time.Duration      `json:"latency"`
	Message    string             `json:"message"`
	Manual     bool               `json:"manual"`
	Timestamp  time.Time          `json:"timestamp"`
}
