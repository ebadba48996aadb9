package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/hedge-bot/internal/alert"
	"github.com/rovshanmuradov/hedge-bot/internal/domain"
	"github.com/rovshanmuradov/hedge-bot/internal/events"
	"github.com/rovshanmuradov/hedge-bot/internal/hedge"
	"github.com/rovshanmuradov/hedge-bot/internal/metrics"
	"github.com/rovshanmuradov/hedge-bot/internal/risk"
)

// tick runs one pass of the control loop. Failures end the tick early but
// never the loop, and neither does a panic in a collaborator.
func (s *session) tick(ctx context.Context) {
	started := time.Now()
	now := s.svc.clock.Now()
	result := metrics.TickOK
	defer func() {
		if r := recover(); r != nil {
			result = metrics.TickPanic
			s.lastErr = s.panicked("tick", r)
		}
		s.lastTick = now
		s.svc.metrics.RecordTick(result, time.Since(started))
		s.publishStatus()
	}()

	s.expirePending(ctx, now)

	snap, bench, err := s.fetch(ctx, now)
	if err != nil {
		result = metrics.TickGatewayMiss
		s.recordMiss(now, err)
		return
	}
	s.recordHit(now, snap)

	if s.sample.take(now) {
		s.prices.push(snap.Price)
		if bench > 0 {
			s.benchmark.push(bench)
		} else {
			s.benchmark.reset()
		}
	}

	m, err := s.svc.calc.Compute(risk.Input{
		Position:  s.pos,
		Snapshot:  snap,
		History:   s.prices.values(),
		Benchmark: s.benchmark.values(),
		Interval:  s.sample.every,
	})
	if err != nil {
		result = metrics.TickCalcError
		s.lastErr = err
		s.logger.Warn("Risk computation failed", zap.Error(err))
		return
	}
	s.metrics = &m
	s.lastErr = nil
	s.pos.CurrentPrice = snap.Price
	s.pos.UnrealizedPnL = m.UnrealizedPnL
	s.pos.UpdatedAt = now
	s.svc.metrics.ObserveRisk(s.pos.ID, s.pos.Symbol, m.Exposure, m.VaR95)

	ev := s.engine.Evaluate(now, m)
	s.lastEval = ev
	for _, a := range ev.Alerts {
		s.logger.Warn("Risk alert",
			zap.String("metric", string(a.Metric)),
			zap.Float64("value", a.Value),
			zap.Float64("threshold", a.Threshold),
			zap.String("level", a.Level))
		s.svc.metrics.RecordAlert(string(a.Metric), a.Level)
		s.svc.publish(events.NewAlertTriggered(a))
	}

	s.maybeHedge(ctx, now, snap, ev)
}

// fetch reads the position's snapshot and, concurrently, the benchmark
// price. A benchmark failure only disables correlation for this tick.
func (s *session) fetch(ctx context.Context, now time.Time) (domain.MarketSnapshot, float64, error) {
	fctx, cancel := context.WithTimeout(ctx, s.svc.cfg.FetchTimeout)
	defer cancel()

	var (
		snap  domain.MarketSnapshot
		bench float64
	)
	g, gctx := errgroup.WithContext(fctx)
	g.Go(guard("get market data", func() error {
		var err error
		snap, err = s.svc.gateway.GetMarketData(gctx, s.pos.Symbol)
		return err
	}))
	if sym := s.svc.cfg.BenchmarkSymbol; sym != "" && sym != s.pos.Symbol {
		g.Go(guard("get benchmark", func() error {
			b, err := s.svc.gateway.GetMarketData(gctx, sym)
			if err != nil {
				s.logger.Debug("Benchmark fetch failed", zap.String("benchmark", sym), zap.Error(err))
				return nil
			}
			bench = b.Price
			return nil
		}))
	}
	if err := g.Wait(); err != nil {
		if !errors.Is(err, domain.ErrGateway) {
			err = domain.GatewayError("get market data", err)
		}
		return domain.MarketSnapshot{}, 0, err
	}

	if age := now.Sub(snap.Timestamp); s.svc.cfg.MaxSnapshotAge > 0 && !snap.Timestamp.IsZero() && age > s.svc.cfg.MaxSnapshotAge {
		return domain.MarketSnapshot{}, 0, domain.GatewayError("get market data",
			fmt.Errorf("snapshot is %s old", age.Truncate(time.Second)))
	}
	return snap, bench, nil
}

func (s *session) recordMiss(now time.Time, err error) {
	s.misses++
	s.lastErr = err
	s.svc.metrics.RecordGatewayMiss(s.pos.Symbol)
	s.logger.Warn("Market data unavailable, tick skipped",
		zap.Int("consecutive_misses", s.misses),
		zap.Error(err))

	if !s.stale && s.misses >= s.svc.cfg.StaleAfterMisses {
		s.stale = true
		s.logger.Error("Market data is stale", zap.Int("consecutive_misses", s.misses))
		s.svc.publish(events.NewDataStale(now, s.pos.ID, s.pos.Symbol, s.misses, err))
	}
}

func (s *session) recordHit(now time.Time, snap domain.MarketSnapshot) {
	if s.stale {
		s.logger.Info("Market data recovered", zap.Int("missed_ticks", s.misses))
		s.svc.publish(events.NewDataRecovered(now, s.pos.ID, s.pos.Symbol))
	}
	s.misses = 0
	s.stale = false
	s.lastSnap = &snap
}

// expirePending auto-rejects a confirmation whose window has closed. The
// alert state is left as it is, so a breach that persists shows as Breached.
func (s *session) expirePending(ctx context.Context, now time.Time) {
	if s.pending == nil || !s.pending.Expired(now) {
		return
	}
	p := s.pending
	s.pending = nil
	res := s.svc.pipeline.Reject(p, s.pos, domain.ErrConfirmationTimeout)
	s.recordResult(ctx, res)
	s.svc.metrics.RecordHedge(p.Order.Strategy, "confirmation_timeout", 0)
	s.svc.publish(events.NewHedgeResult(s.pos.Symbol, res))
	s.svc.publish(events.NewConfirmationResolved(now, *p, false, true, res))
	s.deferRetry(now)
	s.logger.Warn("Hedge confirmation timed out", zap.String("confirmation_id", p.ID))
}

// maybeHedge runs the decision engine and the pipeline when the policy
// allows it.
func (s *session) maybeHedge(ctx context.Context, now time.Time, snap domain.MarketSnapshot, ev alert.Evaluation) {
	if !s.autoHedge {
		return
	}
	if s.pending != nil {
		s.lastReason = "awaiting confirmation " + s.pending.ID
		return
	}

	var breach *alert.Breach
	if b, ok := ev.MostSevere(); ok {
		breach = &b
	}
	if !s.strategy.Kind().Continuous() {
		if breach == nil {
			s.lastReason = ""
			return
		}
		if ev.Suppressed {
			s.lastReason = "alerts suppressed"
			return
		}
	}
	if now.Before(s.nextAttempt) {
		s.lastReason = "retry deferred until " + s.nextAttempt.Format(time.RFC3339)
		return
	}
	if cd := s.svc.cfg.HedgeCooldown; cd > 0 && !s.lastHedge.IsZero() && now.Sub(s.lastHedge) < cd {
		s.lastReason = "hedge cooldown"
		return
	}

	in := hedge.Input{
		Position: s.pos,
		Metrics:  *s.metrics,
		Snapshot: snap,
		Baseline: s.baseline,
		Breach:   breach,
		Now:      now,
	}
	s.loadMarket(ctx, &in)

	dec := s.svc.decider.Decide(ctx, in, s.strategy)
	if !dec.Hedge() {
		s.lastReason = dec.Reason
		s.logger.Debug("Hedge declined", zap.String("reason", dec.Reason))
		return
	}
	s.lastReason = ""

	exec := s.svc.pipeline.Execute(ctx, *dec.Order, hedge.Request{Position: s.pos, Pending: s.pending})
	s.handle(ctx, exec)
}

// loadMarket adds the order book and, for the options strategy, the chain.
func (s *session) loadMarket(ctx context.Context, in *hedge.Input) {
	fctx, cancel := context.WithTimeout(ctx, s.svc.cfg.FetchTimeout)
	defer cancel()

	var (
		book  *domain.OrderBook
		chain []domain.OptionQuote
	)
	g, gctx := errgroup.WithContext(fctx)
	g.Go(guard("get order book", func() error {
		b, err := s.svc.gateway.GetOrderBook(gctx, s.pos.Symbol)
		if err != nil {
			s.logger.Debug("Order book unavailable, using snapshot price", zap.Error(err))
			return nil
		}
		book = b
		return nil
	}))
	if s.strategy.Kind() == hedge.KindOptions && s.svc.options != nil {
		g.Go(guard("get option chain", func() error {
			c, err := s.svc.options.GetOptionChain(gctx, s.pos.Symbol)
			if err != nil {
				s.logger.Warn("Option chain unavailable", zap.Error(err))
				return nil
			}
			chain = c
			return nil
		}))
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("Market depth fetch failed", zap.Error(err))
	}
	in.Book, in.Chain = book, chain
}

// guard turns a panic in fn into an error.
func guard(op string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s: panic: %v", op, r)
			}
		}()
		return fn()
	}
}

// panicked logs a panic recovered on the loop goroutine and returns it as
// an error for the status.
func (s *session) panicked(where string, r any) error {
	s.logger.Error("Recovered from panic in control loop",
		zap.String("where", where),
		zap.Any("panic", r),
		zap.Stack("stack"))
	return fmt.Errorf("%s: panic: %v", where, r)
}

// handle applies a pipeline outcome to the loop state.
func (s *session) handle(ctx context.Context, exec hedge.Execution) (domain.HedgeResult, error) {
	now := s.svc.clock.Now()
	switch exec.Outcome {
	case hedge.OutcomePending:
		s.pending = exec.Pending
		s.lastReason = "awaiting confirmation " + exec.Pending.ID
		s.svc.metrics.RecordHedge(exec.Pending.Order.Strategy, string(exec.Outcome), 0)
		s.svc.publish(events.NewConfirmationRequired(s.pos.Symbol, *exec.Pending))
		return domain.HedgeResult{}, nil

	case hedge.OutcomeExecuted:
		res := exec.Result
		s.applyFill(res)
		s.lastHedge = now
		s.nextAttempt = time.Time{}
		s.retry.Reset()
		s.engine.Suppress(now, s.svc.cfg.SuppressionWindow)
		s.recordResult(ctx, res)
		s.svc.metrics.RecordHedge(strategyOf(res), string(exec.Outcome), res.Latency)
		s.svc.publish(events.NewHedgeResult(s.pos.Symbol, res))
		return res, nil

	default:
		res := exec.Result
		s.deferRetry(now)
		if exec.Outcome == hedge.OutcomeFailed && s.svc.cfg.SuppressOnFailure {
			s.engine.Suppress(now, s.svc.cfg.SuppressionWindow)
		}
		s.recordResult(ctx, res)
		s.svc.metrics.RecordHedge(strategyOf(res), string(exec.Outcome), res.Latency)
		s.svc.publish(events.NewHedgeResult(s.pos.Symbol, res))
		return res, exec.Err
	}
}

// applyFill moves the hedge delta and books fees as realized cost.
func (s *session) applyFill(res domain.HedgeResult) {
	if len(res.Orders) == 0 {
		return
	}
	order := res.Orders[0]
	filled, fees := 0.0, 0.0
	for _, r := range res.Receipts {
		filled += r.FilledSize
		fees += r.Fee
	}
	s.pos.HedgeDelta += order.Side.Sign() * filled * order.UnitDelta
	s.pos.RealizedPnL -= fees
	s.pos.UpdatedAt = res.Timestamp

	if s.metrics != nil {
		m := *s.metrics
		m.NetDelta = m.Delta + s.pos.HedgeDelta
		if s.pos.Size > 0 {
			m.Exposure = math.Abs(m.NetDelta) / s.pos.Size
		}
		s.metrics = &m
		s.baseline = m.NetDelta
	}
	s.logger.Info("Hedge applied",
		zap.Float64("hedge_delta", s.pos.HedgeDelta),
		zap.Float64("net_delta", s.baseline),
		zap.Float64("fees", fees))
}

// deferRetry closes the retry gate for the next backoff interval.
func (s *session) deferRetry(now time.Time) {
	s.nextAttempt = now.Add(s.retry.NextBackOff())
}

func (s *session) recordResult(ctx context.Context, res domain.HedgeResult) {
	if err := s.svc.hedges.Append(ctx, s.pos.Symbol, res); err != nil {
		s.logger.Error("Failed to record hedge result", zap.String("id", res.ID), zap.Error(err))
	}
}

func strategyOf(res domain.HedgeResult) string {
	if len(res.Orders) == 0 {
		return ""
	}
	return res.Orders[0].Strategy
}
