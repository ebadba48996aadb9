// Package httpapi exposes the monitor operations over HTTP for the
// dashboard and scripts.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/hedge-bot/internal/alert"
	"github.com/rovshanmuradov/hedge-bot/internal/domain"
	"github.com/rovshanmuradov/hedge-bot/internal/export"
	"github.com/rovshanmuradov/hedge-bot/internal/monitor"
	"github.com/rovshanmuradov/hedge-bot/internal/risk"
	"github.com/rovshanmuradov/hedge-bot/internal/storage/models"
)

// Config controls the listener.
type Config struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// Token, when set, is required as a bearer token on every /api route.
	Token string `mapstructure:"token"`
}

// DefaultConfig listens on localhost only.
func DefaultConfig() Config {
	return Config{
		Addr:            "127.0.0.1:8080",
		Mode:            gin.ReleaseMode,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Monitor is the set of operations the API serves.
type Monitor interface {
	StartMonitoring(ctx context.Context, req monitor.StartRequest) (monitor.Status, error)
	StopMonitoring(ctx context.Context, positionID string) error
	ConfigureThresholds(ctx context.Context, positionID string, t alert.Thresholds) error
	SetAlert(ctx context.Context, positionID, metric, condition string, value float64) (alert.Rule, error)
	DeleteAlert(ctx context.Context, positionID, ruleID string) error
	ResetAlerts(ctx context.Context, positionID string) error
	EnableAutoHedge(ctx context.Context, positionID, strategy string, threshold float64) error
	DisableAutoHedge(ctx context.Context, positionID string) error
	ManualHedge(ctx context.Context, positionID string, size float64) (domain.HedgeResult, error)
	ConfirmPendingHedge(ctx context.Context, id string, approve bool) (domain.HedgeResult, error)
	GetStatus(positionID string) (monitor.Status, error)
	ListStatus() []monitor.Status
	GetHedgeHistory(ctx context.Context, positionID string, window time.Duration) ([]domain.HedgeResult, error)
	HedgeStatistics(positionID string) monitor.HedgeStatistics
	StressTest(scenarios []risk.Scenario) map[string]float64
	EmergencyStop(ctx context.Context) (monitor.EmergencyReport, error)
}

// EventLog reads the persisted event audit trail.
type EventLog interface {
	RecentEvents(ctx context.Context, positionID string, limit int) ([]models.EventRecord, error)
}

// Server is the HTTP front-end.
type Server struct {
	cfg      Config
	router   *gin.Engine
	monitor  Monitor
	metrics  http.Handler
	events   EventLog
	exporter *export.HedgeExporter
	logger   *zap.Logger
}

// NewServer builds the router. metrics may be nil.
func NewServer(cfg Config, mon Monitor, metrics http.Handler, logger *zap.Logger) *Server {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	s := &Server{
		cfg:      cfg,
		monitor:  mon,
		metrics:  metrics,
		exporter: export.NewHedgeExporter(logger),
		logger:   logger.Named("http"),
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	s.router = router
	s.registerRoutes()
	return s
}

// SetEventLog enables GET /api/v1/events. Call before Run.
func (s *Server) SetEventLog(log EventLog) {
	s.events = log
}

// Router returns the gin engine, for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.healthCheck)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}

	api := s.router.Group("/api/v1")
	if s.cfg.Token != "" {
		api.Use(s.authMiddleware())
	}
	{
		positions := api.Group("/positions")
		{
			positions.GET("", s.listPositions)
			positions.POST("", s.startMonitoring)
			positions.GET("/:id", s.getPosition)
			positions.DELETE("/:id", s.stopMonitoring)
			positions.PUT("/:id/thresholds", s.configureThresholds)
			positions.POST("/:id/alerts", s.setAlert)
			positions.DELETE("/:id/alerts/:rule", s.deleteAlert)
			positions.POST("/:id/alerts/reset", s.resetAlerts)
			positions.POST("/:id/autohedge", s.enableAutoHedge)
			positions.DELETE("/:id/autohedge", s.disableAutoHedge)
			positions.POST("/:id/hedge", s.manualHedge)
			positions.GET("/:id/hedges", s.hedgeHistory)
			positions.GET("/:id/hedges/export", s.exportHedges)
		}
		api.POST("/confirmations/:id", s.confirm)
		api.POST("/stress", s.stressTest)
		api.POST("/emergency-stop", s.emergencyStop)
		api.GET("/events", s.recentEvents)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("API server stopped")
	return nil
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	want := "Bearer " + s.cfg.Token
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") != want {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"monitored": len(s.monitor.ListStatus()),
	})
}
