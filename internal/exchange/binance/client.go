// Package binance adapts Binance USDT-M futures to the market data,
// history and exchange ports. Only perpetual hedges are supported.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/hedge-bot/internal/domain"
	"github.com/rovshanmuradov/hedge-bot/internal/scheduler"
)

const (
	venueName        = "binance"
	maxHistoryLimit  = 1500
	defaultPrecision = 3
)

// ErrNoCredentials is returned by SubmitOrder when no API key is set.
var ErrNoCredentials = errors.New("binance api credentials not configured")

// Client wraps a go-binance futures client.
type Client struct {
	cfg    Config
	client *futures.Client
	clock  scheduler.Clock
	logger *zap.Logger
}

// New builds the adapter.
func New(cfg Config, clock scheduler.Clock, logger *zap.Logger) *Client {
	final := cfg.withDefaults()
	if final.Testnet {
		futures.UseTestnet = true
	}
	client := futures.NewClient(final.APIKey, final.SecretKey)
	if final.BaseURL != "" {
		client.BaseURL = final.BaseURL
	}
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	if clock == nil {
		clock = scheduler.RealClock{}
	}
	return &Client{
		cfg:    final,
		client: client,
		clock:  clock,
		logger: logger.Named("binance"),
	}
}

// Name implements domain.Exchange.
func (c *Client) Name() string { return venueName }

// Supports implements domain.Exchange.
func (c *Client) Supports(kind domain.InstrumentKind) bool {
	return kind == domain.InstrumentPerpetual
}

// Symbol maps "BTC", "btc" or "BTC-PERP" to "BTCUSDT".
func (c *Client) Symbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.TrimSuffix(s, "-PERP")
	s = strings.ReplaceAll(s, "/", "")
	if strings.HasSuffix(s, c.cfg.QuoteAsset) {
		return s
	}
	return s + c.cfg.QuoteAsset
}

// GetMarketData implements domain.MarketDataGateway from the book ticker.
func (c *Client) GetMarketData(ctx context.Context, symbol string) (domain.MarketSnapshot, error) {
	sym := c.Symbol(symbol)
	tickers, err := retry(ctx, c, "book ticker", func() ([]*futures.BookTicker, error) {
		return c.client.NewListBookTickersService().Symbol(sym).Do(ctx)
	})
	if err != nil {
		return domain.MarketSnapshot{}, domain.GatewayError("binance.GetMarketData", err)
	}
	for _, t := range tickers {
		if t == nil || t.Symbol != sym {
			continue
		}
		bid, ask := parseFloat(t.BidPrice), parseFloat(t.AskPrice)
		if bid <= 0 || ask <= 0 {
			break
		}
		return domain.MarketSnapshot{
			Symbol:    symbol,
			Price:     (bid + ask) / 2,
			Bid:       bid,
			Ask:       ask,
			Volume:    parseFloat(t.BidQuantity) + parseFloat(t.AskQuantity),
			Timestamp: c.clock.Now(),
			Exchange:  venueName,
		}, nil
	}
	return domain.MarketSnapshot{}, domain.GatewayError("binance.GetMarketData", fmt.Errorf("no quote for %s", sym))
}

// GetOrderBook implements domain.MarketDataGateway.
func (c *Client) GetOrderBook(ctx context.Context, symbol string) (*domain.OrderBook, error) {
	sym := c.Symbol(symbol)
	depth, err := retry(ctx, c, "depth", func() (*futures.DepthResponse, error) {
		return c.client.NewDepthService().Symbol(sym).Limit(c.cfg.DepthLimit).Do(ctx)
	})
	if err != nil {
		return nil, domain.GatewayError("binance.GetOrderBook", err)
	}
	book := &domain.OrderBook{
		Symbol:    symbol,
		Bids:      make([]domain.PriceLevel, 0, len(depth.Bids)),
		Asks:      make([]domain.PriceLevel, 0, len(depth.Asks)),
		Timestamp: c.clock.Now(),
		Exchange:  venueName,
	}
	if depth.Time > 0 {
		book.Timestamp = time.UnixMilli(depth.Time).UTC()
	}
	for _, b := range depth.Bids {
		book.Bids = append(book.Bids, domain.PriceLevel{Price: parseFloat(b.Price), Size: parseFloat(b.Quantity)})
	}
	for _, a := range depth.Asks {
		book.Asks = append(book.Asks, domain.PriceLevel{Price: parseFloat(a.Price), Size: parseFloat(a.Quantity)})
	}
	return book, nil
}

// GetPriceHistory implements domain.HistoryProvider with candle closes.
// The candle still forming is dropped so every close is a full interval.
func (c *Client) GetPriceHistory(ctx context.Context, symbol string, limit int) (domain.PriceSeries, error) {
	series := domain.PriceSeries{}
	step, err := KlineDuration(c.cfg.KlineInterval)
	if err != nil {
		return series, domain.GatewayError("binance.GetPriceHistory", err)
	}
	series.Interval = step
	if limit <= 0 {
		return series, nil
	}
	if limit >= maxHistoryLimit {
		limit = maxHistoryLimit - 1
	}
	sym := c.Symbol(symbol)
	kls, err := retry(ctx, c, "klines", func() ([]*futures.Kline, error) {
		return c.client.NewKlinesService().Symbol(sym).Interval(c.cfg.KlineInterval).Limit(limit + 1).Do(ctx)
	})
	if err != nil {
		return series, domain.GatewayError("binance.GetPriceHistory", err)
	}

	now := c.clock.Now()
	series.Prices = make([]float64, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		closed := time.UnixMilli(kl.CloseTime)
		if closed.After(now) {
			continue
		}
		if p := parseFloat(kl.Close); p > 0 {
			series.Prices = append(series.Prices, p)
			series.End = closed
		}
	}
	if n := len(series.Prices); n > limit {
		series.Prices = series.Prices[n-limit:]
	}
	return series, nil
}

// KlineDuration converts a Binance interval such as "30m", "4h" or "1w" to
// a duration. Months are not supported.
func KlineDuration(interval string) (time.Duration, error) {
	if len(interval) < 2 {
		return 0, fmt.Errorf("invalid kline interval %q", interval)
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid kline interval %q", interval)
	}
	var unit time.Duration
	switch interval[len(interval)-1] {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("unsupported kline interval %q", interval)
	}
	return time.Duration(n) * unit, nil
}

// SubmitOrder implements domain.Exchange. Orders are sent once; a
// transport error leaves the outcome unknown and is reported as an
// exchange error.
func (c *Client) SubmitOrder(ctx context.Context, order domain.HedgeOrder) (domain.ExecutionReceipt, error) {
	if !c.cfg.Trading() {
		return domain.ExecutionReceipt{}, domain.ExchangeError("binance.SubmitOrder", ErrNoCredentials)
	}
	if !c.Supports(order.Instrument) {
		return domain.ExecutionReceipt{}, domain.ExchangeError("binance.SubmitOrder",
			fmt.Errorf("instrument %s not supported", order.Instrument))
	}
	underlying := order.Underlying
	if underlying == "" {
		underlying = order.Symbol
	}
	sym := c.Symbol(underlying)
	qty := c.quantity(sym, order.Size)
	if qty.IsZero() {
		return domain.ExecutionReceipt{}, domain.ExchangeError("binance.SubmitOrder",
			fmt.Errorf("size %.8f rounds to zero for %s", order.Size, sym))
	}

	svc := c.client.NewCreateOrderService().
		Symbol(sym).
		Side(sideOf(order.Side)).
		Quantity(qty.String()).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if order.ID != "" {
		svc = svc.NewClientOrderID(clientOrderID(order.ID))
	}
	if order.Type == domain.OrderLimit && order.Price > 0 {
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeIOC).
			Price(decimal.NewFromFloat(order.Price).String())
	} else {
		svc = svc.Type(futures.OrderTypeMarket)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		c.logger.Error("Order rejected",
			zap.String("symbol", sym),
			zap.String("side", string(order.Side)),
			zap.String("quantity", qty.String()),
			zap.Error(err))
		return domain.ExecutionReceipt{}, domain.ExchangeError("binance.SubmitOrder", err)
	}

	filled := parseFloat(resp.ExecutedQuantity)
	avg := parseFloat(resp.AvgPrice)
	notional := decimal.NewFromFloat(parseFloat(resp.CumQuote))
	if notional.IsZero() {
		notional = decimal.NewFromFloat(filled).Mul(decimal.NewFromFloat(avg))
	}
	fee := notional.Mul(decimal.NewFromFloat(c.cfg.TakerFee))

	receipt := domain.ExecutionReceipt{
		OrderID:    strconv.FormatInt(resp.OrderID, 10),
		FilledSize: filled,
		AvgPrice:   avg,
		Fee:        fee.InexactFloat64(),
		Exchange:   venueName,
	}
	c.logger.Info("Order placed",
		zap.String("symbol", sym),
		zap.String("order_id", receipt.OrderID),
		zap.String("status", string(resp.Status)),
		zap.Float64("filled", filled),
		zap.Float64("avg_price", avg))
	if filled <= 0 {
		return receipt, domain.ExchangeError("binance.SubmitOrder",
			fmt.Errorf("order %s not filled (status %s)", receipt.OrderID, resp.Status))
	}
	return receipt, nil
}

func (c *Client) quantity(sym string, size float64) decimal.Decimal {
	prec, ok := c.cfg.QuantityPrecision[sym]
	if !ok {
		prec = defaultPrecision
	}
	return decimal.NewFromFloat(size).Truncate(int32(prec))
}

// retry runs a read with exponential backoff. API errors (bad symbol,
// bad parameters) are not retried.
func retry[T any](ctx context.Context, c *Client, what string, op func() (T, error)) (T, error) {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     200 * time.Millisecond,
		RandomizationFactor: 0.3,
		Multiplier:          2,
		MaxInterval:         2 * time.Second,
	}
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && common.IsAPIError(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.cfg.MaxRetries),
		backoff.WithMaxElapsedTime(c.cfg.RetryMaxElapsed),
		backoff.WithNotify(func(err error, d time.Duration) {
			c.logger.Debug("Retrying request", zap.String("request", what), zap.Duration("in", d), zap.Error(err))
		}),
	)
}

func sideOf(s domain.OrderSide) futures.SideType {
	if s == domain.OrderSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

// clientOrderID trims ids to the 36 characters Binance accepts.
func clientOrderID(id string) string {
	if len(id) > 36 {
		return id[:36]
	}
	return id
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
