// Package monitor runs one control loop per tracked position and exposes
// the boundary operations of the hedging bot.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/hedge-bot/internal/alert"
	"github.com/rovshanmuradov/hedge-bot/internal/domain"
	"github.com/rovshanmuradov/hedge-bot/internal/events"
	"github.com/rovshanmuradov/hedge-bot/internal/hedge"
	"github.com/rovshanmuradov/hedge-bot/internal/metrics"
	"github.com/rovshanmuradov/hedge-bot/internal/risk"
	"github.com/rovshanmuradov/hedge-bot/internal/scheduler"
)

// StartRequest describes a position to monitor.
type StartRequest struct {
	Position domain.Position `json:"position"`
	// Thresholds overrides the configured defaults when set.
	Thresholds *alert.Thresholds `json:"thresholds,omitempty"`
	AutoHedge  bool              `json:"auto_hedge"`
	Strategy   string            `json:"strategy,omitempty"`
	Interval   time.Duration     `json:"interval,omitempty"`
}

// EmergencyReport summarises an emergency stop.
type EmergencyReport struct {
	Stopped                int       `json:"stopped"`
	CancelledConfirmations int       `json:"cancelled_confirmations"`
	At                     time.Time `json:"at"`
}

// Service is the registry of control loops.
type Service struct {
	cfg      Config
	gateway  domain.MarketDataGateway
	history  domain.HistoryProvider
	options  domain.OptionChainProvider
	pipeline *hedge.Pipeline
	decider  *hedge.Decider
	calc     *risk.Calculator
	stratCfg hedge.Config
	hedges   *HedgeHistory
	pub      events.Publisher
	metrics  *metrics.Collector
	clock    scheduler.Clock
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*session
	stopped  map[string]Status
	closed   bool
	// halted is set by EmergencyStop and holds until restart.
	halted bool
}

// NewService validates deps and returns an idle registry.
func NewService(cfg Config, deps Deps) (*Service, error) {
	if deps.Gateway == nil {
		return nil, errors.New("monitor: market data gateway is required")
	}
	if deps.Pipeline == nil {
		return nil, errors.New("monitor: hedge pipeline is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("monitor: invalid config: %w", err)
	}

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		cfg:      cfg,
		gateway:  deps.Gateway,
		history:  deps.History,
		options:  deps.Options,
		pipeline: deps.Pipeline,
		decider:  deps.Decider,
		calc:     deps.Calculator,
		stratCfg: deps.StrategyConfig,
		hedges:   deps.Hedges,
		pub:      deps.Publisher,
		metrics:  deps.Metrics,
		clock:    deps.Clock,
		logger:   log.Named("monitor_service"),
		sessions: make(map[string]*session),
		stopped:  make(map[string]Status),
	}
	if s.decider == nil {
		s.decider = hedge.NewDecider(nil, 0, log)
	}
	if s.calc == nil {
		s.calc = risk.NewCalculator(risk.DefaultConfig())
	}
	if s.stratCfg == (hedge.Config{}) {
		s.stratCfg = hedge.DefaultConfig()
	}
	if s.hedges == nil {
		h, err := NewHedgeHistory(HistoryConfig{}, nil, log)
		if err != nil {
			return nil, err
		}
		s.hedges = h
	}
	if s.pub == nil {
		s.pub = nopPublisher{}
	}
	if s.metrics == nil {
		s.metrics = metrics.NewCollector()
	}
	if s.clock == nil {
		s.clock = scheduler.RealClock{}
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// StartMonitoring creates the position's loop and runs its first tick
// immediately. A stopped position may be started again, but nothing starts
// after an emergency stop.
func (s *Service) StartMonitoring(ctx context.Context, req StartRequest) (Status, error) {
	pos := req.Position
	if err := pos.Validate(); err != nil {
		return Status{}, err
	}
	thresholds := s.cfg.Thresholds
	if req.Thresholds != nil {
		if err := req.Thresholds.Validate(); err != nil {
			return Status{}, err
		}
		thresholds = *req.Thresholds
	}
	kindName := req.Strategy
	if kindName == "" {
		kindName = s.cfg.DefaultStrategy
	}
	kind, err := hedge.ParseKind(kindName)
	if err != nil {
		return Status{}, err
	}
	strategy, err := hedge.New(kind, s.stratCfg, s.calc)
	if err != nil {
		return Status{}, err
	}
	interval := req.Interval
	if interval <= 0 {
		interval = s.cfg.Interval
	}

	log := s.logger.Named("position").With(zap.String("position", pos.ID), zap.String("symbol", pos.Symbol))
	sess := &session{
		svc:       s,
		logger:    log,
		cmds:      make(chan func()),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		pos:       pos,
		interval:  interval,
		engine:    alert.NewEngine(pos.ID, pos.Symbol, thresholds, log),
		autoHedge: req.AutoHedge,
		strategy:  strategy,
		retry:     s.cfg.newRetry(),
		prices:    newWindow(s.cfg.HistoryWindow),
		benchmark: newWindow(s.cfg.HistoryWindow),
		sample:    cadence{every: interval},
	}
	if s.isRunning(pos.ID) {
		return Status{}, fmt.Errorf("%w: %s", domain.ErrAlreadyMonitoring, pos.ID)
	}
	s.seedHistory(ctx, sess)
	sess.publishStatus()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Status{}, fmt.Errorf("%w: service is shut down", domain.ErrStopped)
	}
	if s.halted {
		return Status{}, fmt.Errorf("%w: emergency stop is active", domain.ErrStopped)
	}
	if _, ok := s.sessions[pos.ID]; ok {
		return Status{}, fmt.Errorf("%w: %s", domain.ErrAlreadyMonitoring, pos.ID)
	}
	sess.ticker = s.clock.NewTicker(interval)
	s.sessions[pos.ID] = sess
	delete(s.stopped, pos.ID)
	s.metrics.SetMonitored(len(s.sessions))
	go sess.run(s.ctx)

	log.Info("Monitoring started",
		zap.Duration("interval", interval),
		zap.Bool("auto_hedge", req.AutoHedge),
		zap.String("strategy", string(kind)),
		zap.Float64("delta_threshold", thresholds.Delta),
		zap.Float64("var_threshold", thresholds.VaR))
	s.publish(events.NewMonitoringStarted(s.clock.Now(), pos, interval))
	return sess.currentStatus(), nil
}

func (s *Service) isRunning(positionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[positionID]
	return ok
}

// seedHistory fills the price window from the provider and aligns the
// session's sampling with the series, so later ticks extend it at the same
// spacing. A series finer than the loop interval is thinned to match it.
func (s *Service) seedHistory(ctx context.Context, sess *session) {
	if s.history == nil {
		return
	}
	hctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()
	series, err := s.history.GetPriceHistory(hctx, sess.pos.Symbol, s.cfg.HistoryWindow)
	if err != nil {
		sess.logger.Warn("Price history unavailable, starting with an empty window", zap.Error(err))
		return
	}
	prices := make([]float64, 0, len(series.Prices))
	for _, p := range series.Prices {
		if p > 0 {
			prices = append(prices, p)
		}
	}
	if len(prices) == 0 {
		return
	}

	every := series.Interval
	if every <= 0 {
		every = sess.interval
	}
	if every < sess.interval {
		step := int((sess.interval + every - 1) / every)
		prices = downsample(prices, step)
		every *= time.Duration(step)
	}
	for _, p := range prices {
		sess.prices.push(p)
	}
	end := series.End
	if end.IsZero() {
		end = s.clock.Now()
	}
	sess.sample = cadence{every: every, next: end.Add(every)}
	sess.logger.Debug("Price history seeded",
		zap.Int("samples", sess.prices.len()),
		zap.Duration("sample_interval", every))
}

// StopMonitoring stops the loop, letting an in-flight tick finish. Stopping
// an already stopped position is a no-op.
func (s *Service) StopMonitoring(ctx context.Context, positionID string) error {
	return s.stopOne(ctx, positionID, reasonStop)
}

func (s *Service) stopOne(ctx context.Context, positionID, reason string) error {
	s.mu.Lock()
	sess, ok := s.sessions[positionID]
	if !ok {
		_, wasStopped := s.stopped[positionID]
		s.mu.Unlock()
		if wasStopped {
			return nil
		}
		return fmt.Errorf("%w: position %s", domain.ErrNotFound, positionID)
	}
	delete(s.sessions, positionID)
	s.metrics.SetMonitored(len(s.sessions))
	s.mu.Unlock()

	sess.stop(reason)
	err := sess.wait(ctx, s.cfg.StopTimeout)
	final := sess.currentStatus()
	final.Phase = PhaseStopped
	final.AutoHedge = false

	s.mu.Lock()
	s.stopped[positionID] = final
	s.mu.Unlock()

	s.metrics.ForgetPosition(positionID, final.Symbol)
	s.publish(events.NewMonitoringStopped(s.clock.Now(), positionID, final.Symbol, reason))
	return err
}

func (s *Service) session(positionID string) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[positionID]
	if !ok {
		if _, stopped := s.stopped[positionID]; stopped {
			return nil, fmt.Errorf("%w: position %s", domain.ErrStopped, positionID)
		}
		return nil, fmt.Errorf("%w: position %s", domain.ErrNotFound, positionID)
	}
	return sess, nil
}

// ConfigureThresholds replaces the built-in delta and VaR limits.
func (s *Service) ConfigureThresholds(ctx context.Context, positionID string, t alert.Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	sess, err := s.session(positionID)
	if err != nil {
		return err
	}
	return sess.do(ctx, func() error {
		sess.engine.SetThresholds(t)
		return nil
	})
}

// SetAlert adds a custom rule.
func (s *Service) SetAlert(ctx context.Context, positionID, metric, condition string, value float64) (alert.Rule, error) {
	m, err := domain.ParseMetric(metric)
	if err != nil {
		return alert.Rule{}, err
	}
	cond, err := alert.ParseCondition(condition)
	if err != nil {
		return alert.Rule{}, err
	}
	sess, err := s.session(positionID)
	if err != nil {
		return alert.Rule{}, err
	}
	var rule alert.Rule
	err = sess.do(ctx, func() error {
		var err error
		rule, err = sess.engine.AddRule(m, cond, value, s.clock.Now())
		return err
	})
	return rule, err
}

// DeleteAlert removes a custom rule.
func (s *Service) DeleteAlert(ctx context.Context, positionID, ruleID string) error {
	sess, err := s.session(positionID)
	if err != nil {
		return err
	}
	return sess.do(ctx, func() error {
		return sess.engine.RemoveRule(ruleID)
	})
}

// ResetAlerts returns the alert machine to Armed, ending any suppression.
func (s *Service) ResetAlerts(ctx context.Context, positionID string) error {
	sess, err := s.session(positionID)
	if err != nil {
		return err
	}
	return sess.do(ctx, func() error {
		sess.engine.Reset()
		sess.lastEval = alert.Evaluation{}
		return nil
	})
}

// EnableAutoHedge switches automatic hedging on with the named strategy.
// A positive threshold replaces the delta exposure limit.
func (s *Service) EnableAutoHedge(ctx context.Context, positionID, strategy string, threshold float64) error {
	kind, err := hedge.ParseKind(strategy)
	if err != nil {
		return err
	}
	if threshold < 0 || !domain.IsFinite(threshold) {
		return fmt.Errorf("%w: threshold must be a non-negative number", domain.ErrInvalidArgument)
	}
	strat, err := hedge.New(kind, s.stratCfg, s.calc)
	if err != nil {
		return err
	}
	sess, err := s.session(positionID)
	if err != nil {
		return err
	}
	return sess.do(ctx, func() error {
		if threshold > 0 {
			t := sess.engine.Thresholds()
			t.Delta = threshold
			sess.engine.SetThresholds(t)
		}
		if sess.strategy.Kind() != kind {
			sess.baseline = 0
		}
		sess.strategy = strat
		sess.autoHedge = true
		sess.logger.Info("Auto-hedge enabled", zap.String("strategy", string(kind)))
		return nil
	})
}

// DisableAutoHedge switches automatic hedging off. A pending confirmation
// stays open.
func (s *Service) DisableAutoHedge(ctx context.Context, positionID string) error {
	sess, err := s.session(positionID)
	if err != nil {
		return err
	}
	return sess.do(ctx, func() error {
		sess.autoHedge = false
		sess.logger.Info("Auto-hedge disabled")
		return nil
	})
}

// ManualHedge submits a perpetual hedge of size units against the current
// net delta; zero size neutralises it fully. The large-trade gate still
// applies, in which case the returned result is empty and the status
// carries the pending confirmation.
func (s *Service) ManualHedge(ctx context.Context, positionID string, size float64) (domain.HedgeResult, error) {
	sess, err := s.session(positionID)
	if err != nil {
		return domain.HedgeResult{}, err
	}
	var res domain.HedgeResult
	err = sess.do(ctx, func() error {
		if sess.metrics == nil || sess.lastSnap == nil {
			return domain.GatewayError("manual hedge", errors.New("no market data received yet"))
		}
		order, err := hedge.ManualOrder(sess.pos, sess.metrics.NetDelta, size, sess.lastSnap.Mid(), s.clock.Now())
		if err != nil {
			return err
		}
		exec := s.pipeline.Execute(ctx, order, hedge.Request{Position: sess.pos, Pending: sess.pending, Manual: true})
		res, err = sess.handle(ctx, exec)
		return err
	})
	return res, err
}

// ConfirmPendingHedge resolves a pending confirmation, looked up by its id
// or by the position id. Approval re-enters the pipeline; rejection records
// a failed result and leaves the position Breached.
func (s *Service) ConfirmPendingHedge(ctx context.Context, id string, approve bool) (domain.HedgeResult, error) {
	sess := s.findPending(id)
	if sess == nil {
		return domain.HedgeResult{}, fmt.Errorf("%w: no pending confirmation %s", domain.ErrNotFound, id)
	}

	var res domain.HedgeResult
	err := sess.do(ctx, func() error {
		p := sess.pending
		if p == nil || (p.ID != id && p.PositionID != id) {
			return fmt.Errorf("%w: no pending confirmation %s", domain.ErrNotFound, id)
		}
		now := s.clock.Now()
		sess.pending = nil

		if p.Expired(now) {
			res = s.pipeline.Reject(p, sess.pos, domain.ErrConfirmationTimeout)
			sess.recordResult(ctx, res)
			sess.deferRetry(now)
			s.publish(events.NewHedgeResult(sess.pos.Symbol, res))
			s.publish(events.NewConfirmationResolved(now, *p, false, true, res))
			return domain.ErrConfirmationTimeout
		}

		if !approve {
			res = s.pipeline.Reject(p, sess.pos, errors.New("confirmation rejected by user"))
			sess.recordResult(ctx, res)
			sess.deferRetry(now)
			s.metrics.RecordHedge(p.Order.Strategy, "declined", 0)
			s.publish(events.NewHedgeResult(sess.pos.Symbol, res))
			s.publish(events.NewConfirmationResolved(now, *p, false, false, res))
			return nil
		}

		exec := s.pipeline.Execute(ctx, p.Order, hedge.Request{
			Position:  sess.pos,
			Pending:   p,
			Confirmed: true,
			Manual:    p.Manual,
		})
		var err error
		res, err = sess.handle(ctx, exec)
		s.publish(events.NewConfirmationResolved(now, *p, true, false, res))
		return err
	})
	return res, err
}

func (s *Service) findPending(id string) *session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	for _, sess := range s.sessions {
		if p := sess.currentStatus().Pending; p != nil && p.ID == id {
			return sess
		}
	}
	return nil
}

// GetStatus returns the latest status of a running or stopped position.
func (s *Service) GetStatus(positionID string) (Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[positionID]; ok {
		return sess.currentStatus(), nil
	}
	if st, ok := s.stopped[positionID]; ok {
		return st, nil
	}
	return Status{}, fmt.Errorf("%w: position %s", domain.ErrNotFound, positionID)
}

// ListStatus returns the status of every running position, sorted by id.
func (s *Service) ListStatus() []Status {
	s.mu.RLock()
	out := make([]Status, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.currentStatus())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PositionID < out[j].PositionID })
	return out
}

// GetHedgeHistory returns the hedge results of the last window, or all of
// them when window is zero.
func (s *Service) GetHedgeHistory(ctx context.Context, positionID string, window time.Duration) ([]domain.HedgeResult, error) {
	if window < 0 {
		return nil, fmt.Errorf("%w: window must not be negative", domain.ErrInvalidArgument)
	}
	var since time.Time
	if window > 0 {
		since = s.clock.Now().Add(-window)
	}
	results, err := s.hedges.Since(ctx, positionID, since)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		if _, err := s.GetStatus(positionID); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// HedgeStatistics summarises the hedge log of a position.
func (s *Service) HedgeStatistics(positionID string) HedgeStatistics {
	return s.hedges.Statistics(positionID)
}

// StressTest applies scenarios to every running position with metrics.
// Nil scenarios use the configured set.
func (s *Service) StressTest(scenarios []risk.Scenario) map[string]float64 {
	if len(scenarios) == 0 {
		scenarios = s.cfg.Scenarios
	}
	var exposures []risk.Exposure
	for _, st := range s.ListStatus() {
		if st.Metrics == nil {
			continue
		}
		exposures = append(exposures, risk.Exposure{
			Position: st.Position,
			Metrics:  *st.Metrics,
			Price:    st.Position.CurrentPrice,
		})
	}
	return risk.StressTest(exposures, scenarios)
}

// EmergencyStop stops every loop, disabling auto-hedge and cancelling
// pending confirmations, and refuses new loops until the process restarts.
// Calling it again is harmless and publishes nothing.
func (s *Service) EmergencyStop(ctx context.Context) (EmergencyReport, error) {
	s.mu.Lock()
	s.halted = true
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	s.logger.Warn("Emergency stop requested", zap.Int("positions", len(sessions)))

	var g errgroup.Group
	for _, sess := range sessions {
		g.Go(func() error {
			return s.stopOne(ctx, sess.pos.ID, reasonEmergency)
		})
	}
	err := g.Wait()

	report := EmergencyReport{At: s.clock.Now()}
	for _, sess := range sessions {
		report.Stopped++
		if sess.cancelled.Load() {
			report.CancelledConfirmations++
		}
	}
	if report.Stopped == 0 {
		return report, err
	}
	s.publish(events.NewEmergencyStop(report.At, report.Stopped, report.CancelledConfirmations))
	s.logger.Warn("Emergency stop complete",
		zap.Int("stopped", report.Stopped),
		zap.Int("cancelled_confirmations", report.CancelledConfirmations))
	return report, err
}

// Shutdown stops every loop and refuses new ones.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := s.stopOne(ctx, id, reasonShutdown); err != nil && !errors.Is(err, domain.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	s.cancel()
	s.logger.Info("Monitor service stopped", zap.Int("positions", len(ids)))
	return errors.Join(errs...)
}

func (s *Service) publish(e events.Event) {
	if err := s.pub.Publish(e); err != nil {
		s.logger.Warn("Failed to publish event",
			zap.String("event_type", string(e.Type())),
			zap.Error(err))
	}
}
