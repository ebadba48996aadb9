// internal/bot/runner.go
package bot

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/hedge-bot/internal/config"
	"github.com/rovshanmuradov/hedge-bot/internal/domain"
	"github.com/rovshanmuradov/hedge-bot/internal/events"
	"github.com/rovshanmuradov/hedge-bot/internal/exchange/binance"
	"github.com/rovshanmuradov/hedge-bot/internal/exchange/paper"
	"github.com/rovshanmuradov/hedge-bot/internal/hedge"
	"github.com/rovshanmuradov/hedge-bot/internal/metrics"
	"github.com/rovshanmuradov/hedge-bot/internal/monitor"
	"github.com/rovshanmuradov/hedge-bot/internal/notify/telegram"
	"github.com/rovshanmuradov/hedge-bot/internal/risk"
	"github.com/rovshanmuradov/hedge-bot/internal/scheduler"
	"github.com/rovshanmuradov/hedge-bot/internal/storage"
	"github.com/rovshanmuradov/hedge-bot/internal/timing"
	"github.com/rovshanmuradov/hedge-bot/internal/transport/httpapi"
)

// venue is what the control loop needs from an exchange adapter.
type venue interface {
	domain.MarketDataGateway
	domain.HistoryProvider
	domain.Exchange
}

// Runner wires the control loop, its adapters and the outer surfaces.
type Runner struct {
	cfg    *config.Config
	logger *zap.Logger
	clock  scheduler.Clock

	venue    venue
	options  domain.OptionChainProvider
	store    *storage.Store
	hedges   *monitor.HedgeHistory
	bus      *events.Bus
	metrics  *metrics.Collector
	service  *monitor.Service
	server   *httpapi.Server
	notifier *telegram.Notifier
	updates  telegram.UpdateSource

	shutdown *ShutdownHandler
}

func NewRunner(cfg *config.Config, logger *zap.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		logger:   logger,
		clock:    scheduler.RealClock{},
		shutdown: NewShutdownHandler(logger, 2*cfg.Monitor.StopTimeout+cfg.HTTP.ShutdownTimeout),
	}
}

// Service exposes the monitor service once Initialize has run.
func (r *Runner) Service() *monitor.Service { return r.service }

// Server exposes the HTTP server once Initialize has run.
func (r *Runner) Server() *httpapi.Server { return r.server }

// Initialize builds every component and starts the configured positions.
// Components built before a failure are released.
func (r *Runner) Initialize(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			_ = r.shutdown.Shutdown(context.Background())
		}
	}()

	r.setupVenue()

	if r.cfg.Storage.Enabled() {
		store, err := storage.Open(r.cfg.Storage, r.logger)
		if err != nil {
			return err
		}
		r.shutdown.AddCloser("storage", store.Close)
		if err := store.RunMigrations(); err != nil {
			return err
		}
		r.store = store
	}

	var histStore monitor.HistoryStore
	if r.store != nil {
		histStore = r.store
	}
	hedges, err := monitor.NewHedgeHistory(r.cfg.History, histStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open hedge history: %w", err)
	}
	r.hedges = hedges
	r.shutdown.AddCloser("hedge_history", hedges.Close)

	r.bus = events.NewBus(r.logger, r.cfg.Events.BufferSize)
	r.shutdown.Add("event_bus", r.bus.Shutdown)
	if r.store != nil {
		r.bus.Subscribe(r.store)
	}
	r.metrics = metrics.NewCollector()

	var model domain.TimingModel
	if r.cfg.Timing.Enabled() {
		model = timing.New(r.cfg.Timing, r.logger)
		r.logger.Info("Timing model enabled", zap.String("url", r.cfg.Timing.URL))
	}

	svc, err := monitor.NewService(r.cfg.Monitor, monitor.Deps{
		Gateway:        r.venue,
		History:        r.venue,
		Options:        r.options,
		Pipeline:       hedge.NewPipeline(r.venue, r.cfg.Pipeline, r.clock, r.logger),
		Decider:        hedge.NewDecider(model, r.cfg.Timing.Timeout, r.logger),
		Calculator:     risk.NewCalculator(r.cfg.Risk),
		StrategyConfig: r.cfg.Strategy,
		Hedges:         hedges,
		Publisher:      r.bus,
		Metrics:        r.metrics,
		Clock:          r.clock,
		Logger:         r.logger,
	})
	if err != nil {
		return err
	}
	r.service = svc
	r.shutdown.Add("monitor", svc.Shutdown)

	if r.cfg.Telegram.Enabled() {
		n, api, err := telegram.NewBot(r.cfg.Telegram, svc, r.logger)
		if err != nil {
			return err
		}
		r.notifier = n
		r.bus.Subscribe(n)
		if r.cfg.Telegram.Commands {
			r.updates = api
		}
	}

	r.server = httpapi.NewServer(r.cfg.HTTP, svc, r.metrics.Handler(), r.logger)
	if r.store != nil {
		r.server.SetEventLog(r.store)
	}

	r.startPositions(ctx)
	return nil
}

func (r *Runner) setupVenue() {
	switch r.cfg.Exchange.Venue {
	case config.VenueBinance:
		r.venue = binance.New(r.cfg.Exchange.Binance, r.clock, r.logger)
	default:
		v := paper.New(r.cfg.Exchange.Paper, r.clock, r.logger)
		r.venue = v
		r.options = v
	}
	r.logger.Info("Exchange venue selected", zap.String("venue", r.venue.Name()))
}

// startPositions starts the configured positions. One failing position
// does not prevent the others from starting.
func (r *Runner) startPositions(ctx context.Context) {
	for _, p := range r.cfg.Positions {
		st, err := r.service.StartMonitoring(ctx, p.StartRequest())
		if err != nil {
			r.logger.Error("Failed to start configured position",
				zap.String("position_id", p.ID),
				zap.String("symbol", p.Symbol),
				zap.Error(err))
			continue
		}
		r.logger.Info("Configured position started",
			zap.String("position_id", st.PositionID),
			zap.Duration("interval", st.Interval),
			zap.Bool("auto_hedge", st.AutoHedge))
	}
}

// Run serves the HTTP API and chat commands until ctx is cancelled or a
// surface fails, then shuts everything down.
func (r *Runner) Run(ctx context.Context) error {
	if r.service == nil {
		return errors.New("runner is not initialized")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.server.Run(gctx)
	})
	if r.notifier != nil && r.updates != nil {
		g.Go(func() error {
			return r.notifier.Listen(gctx, r.updates)
		})
	}

	r.logger.Info("Hedge bot running",
		zap.String("http_addr", r.cfg.HTTP.Addr),
		zap.Int("positions", len(r.service.ListStatus())))

	runErr := g.Wait()
	if runErr != nil {
		r.logger.Error("Surface failed, shutting down", zap.Error(runErr))
	}
	return errors.Join(runErr, r.Shutdown())
}

// Shutdown stops the control loops first and closes storage last.
func (r *Runner) Shutdown() error {
	r.logger.Info("Bot shutting down gracefully")
	return r.shutdown.Shutdown(context.Background())
}
