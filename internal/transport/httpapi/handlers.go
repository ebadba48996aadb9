package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/hedge-bot/internal/alert"
	"github.com/rovshanmuradov/hedge-bot/internal/domain"
	"github.com/rovshanmuradov/hedge-bot/internal/export"
	"github.com/rovshanmuradov/hedge-bot/internal/monitor"
	"github.com/rovshanmuradov/hedge-bot/internal/risk"
)

type optionBody struct {
	Type   string    `json:"type"`
	Strike float64   `json:"strike"`
	Expiry time.Time `json:"expiry"`
}

type startBody struct {
	ID         string            `json:"id" binding:"required"`
	Symbol     string            `json:"symbol" binding:"required"`
	Side       string            `json:"side" binding:"required"`
	Size       float64           `json:"size"`
	EntryPrice float64           `json:"entry_price"`
	HedgeDelta float64           `json:"hedge_delta"`
	Option     *optionBody       `json:"option"`
	Thresholds *alert.Thresholds `json:"thresholds"`
	AutoHedge  bool              `json:"auto_hedge"`
	Strategy   string            `json:"strategy"`
	// Interval is a Go duration string such as "30s".
	Interval string `json:"interval"`
}

func (b startBody) request() (monitor.StartRequest, error) {
	side, err := domain.ParseSide(b.Side)
	if err != nil {
		return monitor.StartRequest{}, err
	}
	req := monitor.StartRequest{
		Position: domain.Position{
			ID:         b.ID,
			Symbol:     b.Symbol,
			Side:       side,
			Size:       b.Size,
			EntryPrice: b.EntryPrice,
			HedgeDelta: b.HedgeDelta,
		},
		Thresholds: b.Thresholds,
		AutoHedge:  b.AutoHedge,
		Strategy:   b.Strategy,
	}
	if b.Option != nil {
		req.Position.Option = &domain.OptionAttrs{
			Type:   domain.OptionType(b.Option.Type),
			Strike: b.Option.Strike,
			Expiry: b.Option.Expiry,
		}
	}
	if b.Interval != "" {
		d, err := time.ParseDuration(b.Interval)
		if err != nil {
			return monitor.StartRequest{}, fmt.Errorf("%w: interval: %v", domain.ErrInvalidArgument, err)
		}
		req.Interval = d
	}
	return req, nil
}

type alertBody struct {
	Metric    string  `json:"metric" binding:"required"`
	Condition string  `json:"condition" binding:"required"`
	Value     float64 `json:"value"`
}

type autoHedgeBody struct {
	Strategy  string  `json:"strategy"`
	Threshold float64 `json:"threshold"`
}

type manualHedgeBody struct {
	// Size zero neutralises the full net delta.
	Size float64 `json:"size"`
}

type confirmBody struct {
	Approve *bool `json:"approve" binding:"required"`
}

type stressBody struct {
	Scenarios []risk.Scenario `json:"scenarios"`
}

func (s *Server) listPositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.monitor.ListStatus()})
}

func (s *Server) startMonitoring(c *gin.Context) {
	var body startBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	req, err := body.request()
	if err != nil {
		s.fail(c, err)
		return
	}
	st, err := s.monitor.StartMonitoring(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (s *Server) getPosition(c *gin.Context) {
	st, err := s.monitor.GetStatus(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) stopMonitoring(c *gin.Context) {
	if err := s.monitor.StopMonitoring(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) configureThresholds(c *gin.Context) {
	var t alert.Thresholds
	if err := c.ShouldBindJSON(&t); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.monitor.ConfigureThresholds(c.Request.Context(), c.Param("id"), t); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) setAlert(c *gin.Context) {
	var body alertBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	rule, err := s.monitor.SetAlert(c.Request.Context(), c.Param("id"), body.Metric, body.Condition, body.Value)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (s *Server) deleteAlert(c *gin.Context) {
	if err := s.monitor.DeleteAlert(c.Request.Context(), c.Param("id"), c.Param("rule")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) resetAlerts(c *gin.Context) {
	if err := s.monitor.ResetAlerts(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) enableAutoHedge(c *gin.Context) {
	var body autoHedgeBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}
	}
	if err := s.monitor.EnableAutoHedge(c.Request.Context(), c.Param("id"), body.Strategy, body.Threshold); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) disableAutoHedge(c *gin.Context) {
	if err := s.monitor.DisableAutoHedge(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) manualHedge(c *gin.Context) {
	var body manualHedgeBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}
	}
	res, err := s.monitor.ManualHedge(c.Request.Context(), c.Param("id"), body.Size)
	s.hedgeResponse(c, res, err)
}

func (s *Server) confirm(c *gin.Context) {
	var body confirmBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.monitor.ConfirmPendingHedge(c.Request.Context(), c.Param("id"), *body.Approve)
	s.hedgeResponse(c, res, err)
}

// hedgeResponse returns the result even when the attempt failed, so callers
// see the recorded audit entry. An empty result with no error means the
// order is waiting for confirmation.
func (s *Server) hedgeResponse(c *gin.Context, res domain.HedgeResult, err error) {
	switch {
	case err != nil && res.ID != "":
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "result": res})
	case err != nil:
		s.fail(c, err)
	case res.ID == "":
		c.JSON(http.StatusAccepted, gin.H{"status": "pending_confirmation"})
	default:
		c.JSON(http.StatusOK, gin.H{"result": res})
	}
}

func parseWindow(c *gin.Context) (time.Duration, bool) {
	w := c.Query("window")
	if w == "" {
		return 0, true
	}
	d, err := time.ParseDuration(w)
	if err != nil {
		badRequest(c, fmt.Errorf("window: %w", err))
		return 0, false
	}
	return d, true
}

func (s *Server) hedgeHistory(c *gin.Context) {
	window, ok := parseWindow(c)
	if !ok {
		return
	}
	id := c.Param("id")
	results, err := s.monitor.GetHedgeHistory(c.Request.Context(), id, window)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"results":    results,
		"statistics": s.monitor.HedgeStatistics(id),
	})
}

func (s *Server) stressTest(c *gin.Context) {
	var body stressBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": s.monitor.StressTest(body.Scenarios)})
}

func (s *Server) emergencyStop(c *gin.Context) {
	rep, err := s.monitor.EmergencyStop(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// exportHedges streams the hedge log as a CSV or JSON attachment.
func (s *Server) exportHedges(c *gin.Context) {
	window, ok := parseWindow(c)
	if !ok {
		return
	}
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		s.fail(c, err)
		return
	}
	id := c.Param("id")
	results, err := s.monitor.GetHedgeHistory(c.Request.Context(), id, window)
	if err != nil {
		s.fail(c, err)
		return
	}

	opts := export.Options{Format: format, OnlySuccess: c.Query("success") == "true"}
	c.Header("Content-Type", format.ContentType())
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="hedges_%s.%s"`, id, format))
	c.Status(http.StatusOK)
	if _, err := s.exporter.Write(c.Writer, id, results, opts); err != nil {
		s.logger.Error("Hedge export failed", zap.String("position_id", id), zap.Error(err))
	}
}

type eventView struct {
	ID         uint            `json:"id"`
	Type       string          `json:"type"`
	PositionID string          `json:"position_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func (s *Server) recentEvents(c *gin.Context) {
	if s.events == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event log is disabled"})
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, fmt.Errorf("limit must be a positive integer"))
			return
		}
		limit = n
	}

	records, err := s.events.RecentEvents(c.Request.Context(), c.Query("position"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]eventView, 0, len(records))
	for _, r := range records {
		out = append(out, eventView{
			ID:         r.ID,
			Type:       r.EventType,
			PositionID: r.PositionID,
			Payload:    json.RawMessage(r.Payload),
			OccurredAt: r.OccurredAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}
