package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/hedge-bot/internal/alert"
	"github.com/rovshanmuradov/hedge-bot/internal/domain"
	"github.com/rovshanmuradov/hedge-bot/internal/events"
	"github.com/rovshanmuradov/hedge-bot/internal/hedge"
	"github.com/rovshanmuradov/hedge-bot/internal/scheduler"
)

// Stop reasons carried by MonitoringStopped events.
const (
	reasonStop      = "stop"
	reasonEmergency = "emergency"
	reasonShutdown  = "shutdown"
)

// session is the control loop of one position. Every field below the
// channels is owned by the run goroutine; other goroutines reach it only
// through do, and read the published Status snapshot.
type session struct {
	svc    *Service
	logger *zap.Logger
	ticker scheduler.Ticker

	cmds       chan func()
	stopCh     chan struct{}
	stopOnce   sync.Once
	stopReason string
	done       chan struct{}

	status    atomic.Pointer[Status]
	cancelled atomic.Bool

	pos       domain.Position
	interval  time.Duration
	engine    *alert.Engine
	autoHedge bool
	strategy  hedge.Strategy

	baseline    float64
	lastHedge   time.Time
	pending     *hedge.Pending
	retry       *backoff.ExponentialBackOff
	nextAttempt time.Time

	misses   int
	stale    bool
	lastErr  error
	lastSnap *domain.MarketSnapshot
	lastTick time.Time

	prices     *window
	benchmark  *window
	sample     cadence
	metrics    *domain.RiskMetrics
	lastEval   alert.Evaluation
	lastReason string
}

func (s *session) run(ctx context.Context) {
	defer close(s.done)
	defer s.ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-s.stopCh:
			s.finish(ctx, s.stopReason)
			return
		case <-ctx.Done():
			s.finish(context.WithoutCancel(ctx), reasonShutdown)
			return
		case <-s.ticker.C():
			// A stop that raced with the tick wins.
			select {
			case <-s.stopCh:
				s.finish(ctx, s.stopReason)
				return
			default:
			}
			s.tick(ctx)
		case cmd := <-s.cmds:
			cmd()
			s.publishStatus()
		}
	}
}

// do runs fn on the loop goroutine and waits for its result.
func (s *session) do(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	cmd := func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- s.panicked("command", r)
			}
		}()
		errCh <- fn()
	}

	select {
	case s.cmds <- cmd:
	case <-s.done:
		return fmt.Errorf("%w: %s", domain.ErrStopped, s.pos.ID)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop asks the loop to exit after the current tick or command.
func (s *session) stop(reason string) {
	s.stopOnce.Do(func() {
		s.stopReason = reason
		close(s.stopCh)
	})
}

func (s *session) wait(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("monitor %s did not stop within %s", s.pos.ID, timeout)
	}
}

// finish disables hedging and cancels a pending confirmation.
func (s *session) finish(ctx context.Context, reason string) {
	defer func() {
		if r := recover(); r != nil {
			s.lastErr = s.panicked("finish", r)
			st := s.snapshot()
			st.Phase = PhaseStopped
			s.status.Store(&st)
		}
	}()
	s.autoHedge = false
	if s.pending != nil {
		p := s.pending
		s.pending = nil
		res := s.svc.pipeline.Reject(p, s.pos,
			fmt.Errorf("%w: confirmation cancelled (%s)", domain.ErrStopped, reason))
		s.recordResult(ctx, res)
		s.svc.publish(events.NewConfirmationResolved(s.svc.clock.Now(), *p, false, false, res))
		s.cancelled.Store(true)
	}
	st := s.snapshot()
	st.Phase = PhaseStopped
	s.status.Store(&st)
	s.logger.Info("Monitoring stopped", zap.String("reason", reason))
}

func (s *session) publishStatus() {
	st := s.snapshot()
	s.status.Store(&st)
}

func (s *session) snapshot() Status {
	state, until := s.engine.State()
	st := Status{
		PositionID:        s.pos.ID,
		Symbol:            s.pos.Symbol,
		Phase:             PhaseMonitoring,
		Position:          s.pos,
		AlertState:        state,
		ActiveBreaches:    s.lastEval.Active,
		Thresholds:        s.engine.Thresholds(),
		Rules:             s.engine.Rules(),
		AutoHedge:         s.autoHedge,
		Strategy:          s.strategy.Kind(),
		LastHedgeAt:       timePtr(s.lastHedge),
		NextHedgeAttempt:  timePtr(s.nextAttempt),
		LastDecision:      s.lastReason,
		Stale:             s.stale,
		ConsecutiveMisses: s.misses,
		LastTick:          s.lastTick,
		Interval:          s.interval,
		Samples:           s.prices.len(),
		SampleInterval:    s.sample.every,
	}
	if state == alert.StateSuppressed {
		st.SuppressedUntil = timePtr(until)
	}
	if s.metrics != nil {
		m := *s.metrics
		st.Metrics = &m
	}
	if s.pending != nil {
		p := *s.pending
		st.Pending = &p
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func (s *session) currentStatus() Status {
	return *s.status.Load()
}
