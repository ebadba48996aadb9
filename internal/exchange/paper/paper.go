// Package paper is an in-memory venue. It serves quotes, order books, price
// history and option chains from a seeded random walk and fills hedge
// orders against them, so the bot can run end to end without credentials.
package paper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/hedge-bot/internal/domain"
	"github.com/rovshanmuradov/hedge-bot/internal/risk"
	"github.com/rovshanmuradov/hedge-bot/internal/scheduler"
)

const venueName = "paper"

// ErrHalted is returned by every call while the venue is halted.
var ErrHalted = errors.New("venue halted")

// Config controls the simulated market.
type Config struct {
	// Prices seeds the starting price per symbol.
	Prices map[string]float64 `mapstructure:"prices"`
	// Volatility is the standard deviation of one random-walk step as a
	// fraction of price. Zero keeps prices constant.
	Volatility float64 `mapstructure:"volatility"`
	// StepInterval is the time one random-walk step stands for. Price
	// history is returned at this spacing.
	StepInterval time.Duration `mapstructure:"step_interval"`
	Spread       float64       `mapstructure:"spread"`
	DepthLevels  int           `mapstructure:"depth_levels"`
	LevelSize    float64       `mapstructure:"level_size"`
	FeeRate      float64       `mapstructure:"fee_rate"`
	Slippage     float64       `mapstructure:"slippage"`
	MaxOrderSize float64       `mapstructure:"max_order_size"`
	Latency      time.Duration `mapstructure:"latency"`
	Options      bool          `mapstructure:"options"`
	OptionExpiry time.Duration `mapstructure:"option_expiry"`
	Seed         int64         `mapstructure:"seed"`
}

// DefaultConfig returns a quiet BTC/ETH market.
func DefaultConfig() Config {
	return Config{
		Prices:       map[string]float64{"BTC": 50_000, "ETH": 3_000},
		Volatility:   0.002,
		StepInterval: 30 * time.Second,
		Spread:       0.0002,
		DepthLevels:  10,
		LevelSize:    5,
		FeeRate:      0.0004,
		Slippage:     0.0005,
		Options:      true,
		OptionExpiry: 30 * 24 * time.Hour,
		Seed:         1,
	}
}

// Venue implements the market data, history, option chain and exchange
// ports.
type Venue struct {
	cfg    Config
	clock  scheduler.Clock
	calc   *risk.Calculator
	logger *zap.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
	halted bool
	orders []domain.HedgeOrder
}

// New creates a venue. Unset config fields fall back to DefaultConfig.
func New(cfg Config, clock scheduler.Clock, logger *zap.Logger) *Venue {
	def := DefaultConfig()
	if cfg.DepthLevels <= 0 {
		cfg.DepthLevels = def.DepthLevels
	}
	if cfg.LevelSize <= 0 {
		cfg.LevelSize = def.LevelSize
	}
	if cfg.OptionExpiry <= 0 {
		cfg.OptionExpiry = def.OptionExpiry
	}
	if cfg.StepInterval <= 0 {
		cfg.StepInterval = def.StepInterval
	}
	if clock == nil {
		clock = scheduler.RealClock{}
	}
	prices := make(map[string]float64, len(cfg.Prices))
	for sym, p := range cfg.Prices {
		prices[normalize(sym)] = p
	}
	return &Venue{
		cfg:    cfg,
		clock:  clock,
		calc:   risk.NewCalculator(risk.DefaultConfig()),
		logger: logger.Named("paper"),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		prices: prices,
	}
}

// Name implements domain.Exchange.
func (v *Venue) Name() string { return venueName }

// Supports implements domain.Exchange.
func (v *Venue) Supports(kind domain.InstrumentKind) bool {
	switch kind {
	case domain.InstrumentPerpetual, domain.InstrumentSpot:
		return true
	case domain.InstrumentOption:
		return v.cfg.Options
	}
	return false
}

// SetPrice moves a symbol to p.
func (v *Venue) SetPrice(symbol string, p float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[normalize(symbol)] = p
}

// Price returns the current price of symbol.
func (v *Venue) Price(symbol string) (float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.prices[normalize(symbol)]
	return p, ok
}

// Halt makes every call fail until resumed.
func (v *Venue) Halt(halted bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.halted = halted
	v.logger.Warn("Venue halt toggled", zap.Bool("halted", halted))
}

// Orders returns the orders filled so far.
func (v *Venue) Orders() []domain.HedgeOrder {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]domain.HedgeOrder, len(v.orders))
	copy(out, v.orders)
	return out
}

// step advances the random walk of symbol and returns the new price.
// The caller holds v.mu.
func (v *Venue) step(symbol string) (float64, error) {
	if v.halted {
		return 0, ErrHalted
	}
	p, ok := v.prices[symbol]
	if !ok || p <= 0 {
		return 0, fmt.Errorf("unknown symbol %q", symbol)
	}
	if v.cfg.Volatility > 0 {
		p *= math.Exp(v.cfg.Volatility * v.rng.NormFloat64())
		v.prices[symbol] = p
	}
	return p, nil
}

// GetMarketData implements domain.MarketDataGateway.
func (v *Venue) GetMarketData(ctx context.Context, symbol string) (domain.MarketSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.MarketSnapshot{}, domain.GatewayError("paper.GetMarketData", err)
	}
	sym := normalize(symbol)
	v.mu.Lock()
	p, err := v.step(sym)
	v.mu.Unlock()
	if err != nil {
		return domain.MarketSnapshot{}, domain.GatewayError("paper.GetMarketData", err)
	}
	half := p * v.cfg.Spread / 2
	return domain.MarketSnapshot{
		Symbol:    symbol,
		Price:     p,
		Bid:       p - half,
		Ask:       p + half,
		Volume:    v.cfg.LevelSize * float64(v.cfg.DepthLevels) * 2,
		Timestamp: v.clock.Now(),
		Exchange:  venueName,
	}, nil
}

// GetOrderBook implements domain.MarketDataGateway. Levels are spaced one
// spread apart with constant size.
func (v *Venue) GetOrderBook(ctx context.Context, symbol string) (*domain.OrderBook, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.GatewayError("paper.GetOrderBook", err)
	}
	sym := normalize(symbol)
	v.mu.Lock()
	if v.halted {
		v.mu.Unlock()
		return nil, domain.GatewayError("paper.GetOrderBook", ErrHalted)
	}
	p, ok := v.prices[sym]
	v.mu.Unlock()
	if !ok {
		return nil, domain.GatewayError("paper.GetOrderBook", fmt.Errorf("unknown symbol %q", symbol))
	}

	tick := p * math.Max(v.cfg.Spread, 0.0001)
	book := &domain.OrderBook{
		Symbol:    symbol,
		Bids:      make([]domain.PriceLevel, 0, v.cfg.DepthLevels),
		Asks:      make([]domain.PriceLevel, 0, v.cfg.DepthLevels),
		Timestamp: v.clock.Now(),
		Exchange:  venueName,
	}
	for i := 0; i < v.cfg.DepthLevels; i++ {
		off := tick/2 + float64(i)*tick
		book.Bids = append(book.Bids, domain.PriceLevel{Price: p - off, Size: v.cfg.LevelSize})
		book.Asks = append(book.Asks, domain.PriceLevel{Price: p + off, Size: v.cfg.LevelSize})
	}
	return book, nil
}

// GetPriceHistory implements domain.HistoryProvider. It walks backwards
// from the current price, one step per StepInterval, so the last element
// is the price now.
func (v *Venue) GetPriceHistory(ctx context.Context, symbol string, limit int) (domain.PriceSeries, error) {
	series := domain.PriceSeries{Interval: v.cfg.StepInterval, End: v.clock.Now()}
	if err := ctx.Err(); err != nil {
		return series, domain.GatewayError("paper.GetPriceHistory", err)
	}
	if limit <= 0 {
		return series, nil
	}
	sym := normalize(symbol)
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.halted {
		return series, domain.GatewayError("paper.GetPriceHistory", ErrHalted)
	}
	p, ok := v.prices[sym]
	if !ok {
		return series, domain.GatewayError("paper.GetPriceHistory", fmt.Errorf("unknown symbol %q", symbol))
	}
	out := make([]float64, limit)
	out[limit-1] = p
	for i := limit - 2; i >= 0; i-- {
		prev := out[i+1]
		if v.cfg.Volatility > 0 {
			prev *= math.Exp(-v.cfg.Volatility * v.rng.NormFloat64())
		}
		out[i] = prev
	}
	series.Prices = out
	return series, nil
}

// GetOptionChain implements domain.OptionChainProvider: calls and puts at
// strikes from 80% to 120% of spot, one expiry, priced with Black-Scholes.
func (v *Venue) GetOptionChain(ctx context.Context, underlying string) ([]domain.OptionQuote, error) {
	if !v.cfg.Options {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.GatewayError("paper.GetOptionChain", err)
	}
	spot, ok := v.Price(underlying)
	if !ok {
		return nil, domain.GatewayError("paper.GetOptionChain", fmt.Errorf("unknown underlying %q", underlying))
	}

	now := v.clock.Now()
	expiry := now.Add(v.cfg.OptionExpiry).Truncate(24 * time.Hour)
	years := expiry.Sub(now).Hours() / (24 * 365)
	vol := v.calc.Config().DefaultVolatility
	step := strikeStep(spot)
	atm := math.Round(spot/step) * step

	var chain []domain.OptionQuote
	for i := -4; i <= 4; i++ {
		strike := atm + float64(i)*step
		if strike <= 0 {
			continue
		}
		for _, typ := range []domain.OptionType{domain.OptionCall, domain.OptionPut} {
			g := v.calc.OptionGreeks(domain.OptionAttrs{Type: typ, Strike: strike, Expiry: expiry}, spot, vol, years)
			chain = append(chain, domain.OptionQuote{
				Instrument: optionName(underlying, expiry, strike, typ),
				Underlying: underlying,
				Type:       typ,
				Strike:     strike,
				Expiry:     expiry,
				MarkPrice:  g.Price,
				Delta:      g.Delta,
			})
		}
	}
	return chain, nil
}

// SubmitOrder implements domain.Exchange. Market orders fill in full at
// the quote plus slippage; limit orders fill at their price when
// marketable and are rejected otherwise.
func (v *Venue) SubmitOrder(ctx context.Context, order domain.HedgeOrder) (domain.ExecutionReceipt, error) {
	if !v.Supports(order.Instrument) {
		return domain.ExecutionReceipt{}, domain.ExchangeError("paper.SubmitOrder",
			fmt.Errorf("instrument %s not supported", order.Instrument))
	}
	if order.Size <= 0 {
		return domain.ExecutionReceipt{}, domain.ExchangeError("paper.SubmitOrder", errors.New("order size must be positive"))
	}
	if v.cfg.MaxOrderSize > 0 && order.Size > v.cfg.MaxOrderSize {
		return domain.ExecutionReceipt{}, domain.ExchangeError("paper.SubmitOrder",
			fmt.Errorf("size %.6f exceeds venue limit %.6f", order.Size, v.cfg.MaxOrderSize))
	}
	if v.cfg.Latency > 0 {
		timer := time.NewTimer(v.cfg.Latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.ExecutionReceipt{}, domain.ExchangeError("paper.SubmitOrder", ctx.Err())
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return domain.ExecutionReceipt{}, domain.ExchangeError("paper.SubmitOrder", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.halted {
		return domain.ExecutionReceipt{}, domain.ExchangeError("paper.SubmitOrder", ErrHalted)
	}

	fill, err := v.fillPrice(order)
	if err != nil {
		return domain.ExecutionReceipt{}, domain.ExchangeError("paper.SubmitOrder", err)
	}
	fee := decimal.NewFromFloat(order.Size).
		Mul(decimal.NewFromFloat(fill)).
		Mul(decimal.NewFromFloat(v.cfg.FeeRate))

	v.orders = append(v.orders, order)
	receipt := domain.ExecutionReceipt{
		OrderID:    uuid.NewString(),
		FilledSize: order.Size,
		AvgPrice:   fill,
		Fee:        fee.InexactFloat64(),
		Exchange:   venueName,
	}
	v.logger.Info("Order filled",
		zap.String("order_id", receipt.OrderID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.Float64("size", order.Size),
		zap.Float64("price", fill),
		zap.Float64("fee", receipt.Fee))
	return receipt, nil
}

// fillPrice is called with v.mu held.
func (v *Venue) fillPrice(order domain.HedgeOrder) (float64, error) {
	if order.Instrument == domain.InstrumentOption {
		if order.Price <= 0 {
			return 0, errors.New("option orders need a price")
		}
		return order.Price, nil
	}
	sym := normalize(order.Underlying)
	if sym == "" {
		sym = normalize(order.Symbol)
	}
	p, ok := v.prices[sym]
	if !ok {
		return 0, fmt.Errorf("unknown symbol %q", order.Symbol)
	}
	half := p * v.cfg.Spread / 2
	if order.Type == domain.OrderLimit && order.Price > 0 {
		if order.Side == domain.OrderBuy && order.Price < p+half {
			return 0, fmt.Errorf("limit %.2f below ask %.2f", order.Price, p+half)
		}
		if order.Side == domain.OrderSell && order.Price > p-half {
			return 0, fmt.Errorf("limit %.2f above bid %.2f", order.Price, p-half)
		}
		return order.Price, nil
	}
	return p + order.Side.Sign()*(half+p*v.cfg.Slippage), nil
}

// normalize maps "btc", "BTC-PERP" and "BTCUSDT" to "BTC".
func normalize(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.TrimSuffix(s, "-PERP")
	s = strings.TrimSuffix(s, "USDT")
	return s
}

func strikeStep(spot float64) float64 {
	switch {
	case spot >= 10_000:
		return 1_000
	case spot >= 1_000:
		return 100
	case spot >= 100:
		return 10
	default:
		return 1
	}
}

func optionName(underlying string, expiry time.Time, strike float64, typ domain.OptionType) string {
	suffix := "C"
	if typ == domain.OptionPut {
		suffix = "P"
	}
	return fmt.Sprintf("%s-%s-%.0f-%s", normalize(underlying), strings.ToUpper(expiry.Format("2Jan06")), strike, suffix)
}
