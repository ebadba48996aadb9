package domain

import "time"

// MarketSnapshot is one quote returned by a gateway call.
type MarketSnapshot struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
	Exchange  string    `json:"exchange"`
}

// Mid returns the bid/ask midpoint, falling back to the last price.
func (s MarketSnapshot) Mid() float64 {
	if s.Bid > 0 && s.Ask > 0 {
		return (s.Bid + s.Ask) / 2
	}
	return s.Price
}

// PriceLevel is a single order book level.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook holds bids (descending) and asks (ascending).
type OrderBook struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
	Exchange  string       `json:"exchange"`
}

// MidPrice returns the top-of-book midpoint, or false when a side is empty.
func (b *OrderBook) MidPrice() (float64, bool) {
	if b == nil || len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0, false
	}
	return (b.Bids[0].Price + b.Asks[0].Price) / 2, true
}

// OptionQuote is one listed option contract.
type OptionQuote struct {
	Instrument string     `json:"instrument"`
	Underlying string     `json:"underlying"`
	Type       OptionType `json:"type"`
	Strike     float64    `json:"strike"`
	Expiry     time.Time  `json:"expiry"`
	MarkPrice  float64    `json:"mark_price"`
	// Delta is zero when the venue does not publish greeks.
	Delta float64 `json:"delta"`
}

// PriceSeries is a run of closes spaced Interval apart, oldest first. End
// is the time the last close was taken.
type PriceSeries struct {
	Prices   []float64
	Interval time.Duration
	End      time.Time
}
