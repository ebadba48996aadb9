package hedge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/hedge-bot/internal/domain"
	"github.com/rovshanmuradov/hedge-bot/internal/scheduler"
)

// PipelineConfig controls the execution gate.
type PipelineConfig struct {
	LargeTradeThreshold float64       `mapstructure:"large_trade_threshold"`
	ConfirmationTimeout time.Duration `mapstructure:"confirmation_timeout"`
	ExecutionTimeout    time.Duration `mapstructure:"execution_timeout"`
}

// DefaultPipelineConfig returns the pipeline defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		LargeTradeThreshold: 100_000,
		ConfirmationTimeout: 30 * time.Minute,
		ExecutionTimeout:    30 * time.Second,
	}
}

// Pending is an order parked until a human confirms or rejects it.
type Pending struct {
	ID         string            `json:"id"`
	PositionID string            `json:"position_id"`
	Order      domain.HedgeOrder `json:"order"`
	Manual     bool              `json:"manual"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// Expired reports whether the confirmation window has closed.
func (p *Pending) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// Outcome classifies a pipeline run.
type Outcome string

const (
	OutcomeExecuted Outcome = "executed"
	OutcomeFailed   Outcome = "failed"
	OutcomeRejected Outcome = "rejected"
	OutcomePending  Outcome = "pending_confirmation"
)

// Request carries the per-position context of one execution.
type Request struct {
	Position domain.Position
	// Pending is the position's current confirmation slot, if any.
	Pending *Pending
	// Confirmed marks the re-entry of an approved pending order.
	Confirmed bool
	Manual    bool
}

// Execution is the pipeline's answer. Result is set for every outcome
// except OutcomePending, which sets Pending instead.
type Execution struct {
	Outcome Outcome
	Result  domain.HedgeResult
	Pending *Pending
	Err     error
}

// Pipeline validates, gates and submits hedge orders.
type Pipeline struct {
	exchange  domain.Exchange
	cfg       PipelineConfig
	threshold decimal.Decimal
	clock     scheduler.Clock
	logger    *zap.Logger
}

// NewPipeline creates a pipeline submitting to exchange.
func NewPipeline(exchange domain.Exchange, cfg PipelineConfig, clock scheduler.Clock, logger *zap.Logger) *Pipeline {
	def := DefaultPipelineConfig()
	if cfg.LargeTradeThreshold <= 0 {
		cfg.LargeTradeThreshold = def.LargeTradeThreshold
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = def.ConfirmationTimeout
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = def.ExecutionTimeout
	}
	return &Pipeline{
		exchange:  exchange,
		cfg:       cfg,
		threshold: decimal.NewFromFloat(cfg.LargeTradeThreshold),
		clock:     clock,
		logger:    logger.Named("pipeline"),
	}
}

// Execute runs order through validation, the large-trade gate and the
// exchange. Submission is detached from ctx cancellation and bounded only by
// the execution timeout, so stopping a monitor never aborts an order in
// flight.
func (p *Pipeline) Execute(ctx context.Context, order domain.HedgeOrder, req Request) Execution {
	now := p.clock.Now()
	log := p.logger.With(
		zap.String("position", req.Position.ID),
		zap.String("order_id", order.ID),
		zap.String("symbol", order.Symbol))

	if err := p.validate(order, req); err != nil {
		log.Warn("Hedge order rejected", zap.Error(err))
		return Execution{
			Outcome: OutcomeRejected,
			Result:  p.result(order, req, now, false, err.Error()),
			Err:     err,
		}
	}

	notional := order.Notional()
	if !req.Confirmed && notional.GreaterThan(p.threshold) {
		pending := &Pending{
			ID:         uuid.New().String(),
			PositionID: req.Position.ID,
			Order:      order,
			Manual:     req.Manual,
			CreatedAt:  now,
			ExpiresAt:  now.Add(p.cfg.ConfirmationTimeout),
		}
		log.Warn("Large hedge requires confirmation",
			zap.String("confirmation_id", pending.ID),
			zap.String("notional", notional.StringFixed(2)),
			zap.Time("expires_at", pending.ExpiresAt))
		return Execution{Outcome: OutcomePending, Pending: pending}
	}

	started := time.Now()
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.ExecutionTimeout)
	defer cancel()

	receipt, err := p.exchange.SubmitOrder(sctx, order)
	latency := time.Since(started)
	if err != nil {
		if !errors.Is(err, domain.ErrExchange) {
			err = domain.ExchangeError("submit order", err)
		}
		log.Error("Hedge execution failed", zap.Duration("latency", latency), zap.Error(err))
		res := p.result(order, req, p.clock.Now(), false, err.Error())
		res.Latency = latency
		return Execution{Outcome: OutcomeFailed, Result: res, Err: err}
	}

	cost := decimal.NewFromFloat(receipt.FilledSize).
		Mul(decimal.NewFromFloat(receipt.AvgPrice)).
		Add(decimal.NewFromFloat(receipt.Fee))
	res := p.result(order, req, p.clock.Now(), true,
		fmt.Sprintf("%s %.6g %s @ %.6g", order.Side, receipt.FilledSize, order.Symbol, receipt.AvgPrice))
	res.Receipts = []domain.ExecutionReceipt{receipt}
	res.TotalCost = cost.InexactFloat64()
	res.Latency = latency

	log.Info("Hedge executed",
		zap.String("side", string(order.Side)),
		zap.Float64("size", receipt.FilledSize),
		zap.Float64("avg_price", receipt.AvgPrice),
		zap.String("cost", cost.StringFixed(2)),
		zap.Duration("latency", latency))
	return Execution{Outcome: OutcomeExecuted, Result: res}
}

// Reject produces the failure record for a pending order that was declined
// or timed out.
func (p *Pipeline) Reject(pending *Pending, position domain.Position, reason error) domain.HedgeResult {
	p.logger.Info("Pending hedge rejected",
		zap.String("position", position.ID),
		zap.String("confirmation_id", pending.ID),
		zap.Error(reason))
	return p.result(pending.Order, Request{Position: position, Manual: pending.Manual}, p.clock.Now(), false, reason.Error())
}

func (p *Pipeline) validate(order domain.HedgeOrder, req Request) error {
	switch {
	case order.Size <= 0 || math.IsNaN(order.Size) || math.IsInf(order.Size, 0):
		return domain.ValidationError("validate hedge", fmt.Errorf("size must be positive, got %v", order.Size))
	case order.Side != domain.OrderBuy && order.Side != domain.OrderSell:
		return domain.ValidationError("validate hedge", fmt.Errorf("unknown side %q", order.Side))
	case order.Price <= 0 || math.IsNaN(order.Price):
		return domain.ValidationError("validate hedge", fmt.Errorf("price must be positive, got %v", order.Price))
	case !p.exchange.Supports(order.Instrument):
		return domain.ValidationError("validate hedge",
			fmt.Errorf("instrument %s not supported by %s", order.Instrument, p.exchange.Name()))
	case req.Pending != nil && !req.Confirmed:
		return domain.ValidationError("validate hedge",
			fmt.Errorf("%w: %s", domain.ErrPendingConfirmation, req.Pending.ID))
	}
	return nil
}

func (p *Pipeline) result(order domain.HedgeOrder, req Request, at time.Time, ok bool, msg string) domain.HedgeResult {
	return domain.HedgeResult{
		ID:         uuid.New().String(),
		PositionID: req.Position.ID,
		Success:    ok,
		Orders:     []domain.HedgeOrder{order},
		Message:    msg,
		Manual:     req.Manual,
		Timestamp:  at,
	}
}

// Config returns the effective pipeline configuration.
func (p *Pipeline) Config() PipelineConfig {
	return p.cfg
}
