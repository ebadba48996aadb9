package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/hedge-bot/internal/alert"
	"github.com/rovshanmuradov/hedge-bot/internal/domain"
	"github.com/rovshanmuradov/hedge-bot/internal/monitor"
	"github.com/rovshanmuradov/hedge-bot/internal/risk"
	"github.com/rovshanmuradov/hedge-bot/internal/storage/models"
)

type fakeMonitor struct {
	started   []monitor.StartRequest
	statuses  map[string]monitor.Status
	stopErr   error
	manualRes domain.HedgeResult
	manualErr error
	confirmed map[string]bool
	scenarios []risk.Scenario
	window    time.Duration
	autoHedge string
}

func newFakeMonitor() *fakeMonitor {
	return &fakeMonitor{statuses: map[string]monitor.Status{}, confirmed: map[string]bool{}}
}

func (f *fakeMonitor) StartMonitoring(_ context.Context, req monitor.StartRequest) (monitor.Status, error) {
	if err := req.Position.Validate(); err != nil {
		return monitor.Status{}, err
	}
	if _, ok := f.statuses[req.Position.ID]; ok {
		return monitor.Status{}, domain.ErrAlreadyMonitoring
	}
	f.started = append(f.started, req)
	st := monitor.Status{PositionID: req.Position.ID, Symbol: req.Position.Symbol, Phase: monitor.PhaseMonitoring}
	f.statuses[req.Position.ID] = st
	return st, nil
}

func (f *fakeMonitor) StopMonitoring(_ context.Context, id string) error { return f.stopErr }

func (f *fakeMonitor) ConfigureThresholds(_ context.Context, id string, t alert.Thresholds) error {
	if _, ok := f.statuses[id]; !ok {
		return fmt.Errorf("%w: position %s", domain.ErrNotFound, id)
	}
	return t.Validate()
}

func (f *fakeMonitor) SetAlert(_ context.Context, id, metric, condition string, value float64) (alert.Rule, error) {
	m, err := domain.ParseMetric(metric)
	if err != nil {
		return alert.Rule{}, err
	}
	cond, err := alert.ParseCondition(condition)
	if err != nil {
		return alert.Rule{}, err
	}
	return alert.Rule{ID: "r1", Metric: m, Condition: cond, Value: value}, nil
}

func (f *fakeMonitor) DeleteAlert(context.Context, string, string) error { return nil }
func (f *fakeMonitor) ResetAlerts(context.Context, string) error         { return nil }

func (f *fakeMonitor) EnableAutoHedge(_ context.Context, _ string, strategy string, _ float64) error {
	f.autoHedge = strategy
	return nil
}

func (f *fakeMonitor) DisableAutoHedge(context.Context, string) error { return nil }

func (f *fakeMonitor) ManualHedge(context.Context, string, float64) (domain.HedgeResult, error) {
	return f.manualRes, f.manualErr
}

func (f *fakeMonitor) ConfirmPendingHedge(_ context.Context, id string, approve bool) (domain.HedgeResult, error) {
	if id == "expired" {
		return domain.HedgeResult{}, domain.ErrConfirmationTimeout
	}
	f.confirmed[id] = approve
	return domain.HedgeResult{ID: "h1", Success: approve}, nil
}

func (f *fakeMonitor) GetStatus(id string) (monitor.Status, error) {
	st, ok := f.statuses[id]
	if !ok {
		return monitor.Status{}, fmt.Errorf("%w: position %s", domain.ErrNotFound, id)
	}
	return st, nil
}

func (f *fakeMonitor) ListStatus() []monitor.Status {
	out := make([]monitor.Status, 0, len(f.statuses))
	for _, st := range f.statuses {
		out = append(out, st)
	}
	return out
}

func (f *fakeMonitor) GetHedgeHistory(_ context.Context, _ string, window time.Duration) ([]domain.HedgeResult, error) {
	f.window = window
	return []domain.HedgeResult{{ID: "h1", Success: true}}, nil
}

func (f *fakeMonitor) HedgeStatistics(string) monitor.HedgeStatistics {
	return monitor.HedgeStatistics{Total: 1, Successful: 1}
}

func (f *fakeMonitor) StressTest(scenarios []risk.Scenario) map[string]float64 {
	f.scenarios = scenarios
	return map[string]float64{"crash": -1000}
}

func (f *fakeMonitor) EmergencyStop(context.Context) (monitor.EmergencyReport, error) {
	return monitor.EmergencyReport{Stopped: len(f.statuses)}, nil
}

func setupServer(t *testing.T, cfg Config) (*fakeMonitor, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mon := newFakeMonitor()
	srv := NewServer(cfg, mon, http.NotFoundHandler(), zaptest.NewLogger(t))
	return mon, srv.Router()
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	_, r := setupServer(t, Config{})
	w := do(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestStartMonitoring(t *testing.T) {
	mon, r := setupServer(t, Config{})
	body := map[string]any{
		"id": "p1", "symbol": "BTC", "side": "LONG", "size": 10, "entry_price": 48000,
		"thresholds": map[string]any{"delta": 0.1}, "auto_hedge": true,
		"strategy": "dynamic", "interval": "15s",
	}
	w := do(t, r, http.MethodPost, "/api/v1/positions", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, mon.started, 1)
	req := mon.started[0]
	assert.Equal(t, domain.SideLong, req.Position.Side)
	assert.Equal(t, 15*time.Second, req.Interval)
	require.NotNil(t, req.Thresholds)
	assert.Equal(t, 0.1, req.Thresholds.Delta)
	assert.True(t, req.AutoHedge)

	w = do(t, r, http.MethodPost, "/api/v1/positions", body)
	assert.Equal(t, http.StatusConflict, w.Code)

	body["id"] = "p2"
	body["size"] = -1
	w = do(t, r, http.MethodPost, "/api/v1/positions", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body["size"] = 1
	body["interval"] = "soon"
	w = do(t, r, http.MethodPost, "/api/v1/positions", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/v1/positions", map[string]any{"symbol": "BTC"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetPositionNotFound(t *testing.T) {
	_, r := setupServer(t, Config{})
	w := do(t, r, http.MethodGet, "/api/v1/positions/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAlertsAndThresholds(t *testing.T) {
	mon, r := setupServer(t, Config{})
	mon.statuses["p1"] = monitor.Status{PositionID: "p1"}

	w := do(t, r, http.MethodPost, "/api/v1/positions/p1/alerts", map[string]any{"metric": "var", "condition": "above", "value": 5000})
	require.Equal(t, http.StatusCreated, w.Code)
	var rule alert.Rule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rule))
	assert.Equal(t, domain.MetricVaR, rule.Metric)

	w = do(t, r, http.MethodPost, "/api/v1/positions/p1/alerts", map[string]any{"metric": "luck", "condition": "above", "value": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPut, "/api/v1/positions/p1/thresholds", map[string]any{"delta": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, r, http.MethodPut, "/api/v1/positions/p1/thresholds", map[string]any{"delta": 0.2, "var": 1000})
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusNoContent, do(t, r, http.MethodDelete, "/api/v1/positions/p1/alerts/r1", nil).Code)
	assert.Equal(t, http.StatusNoContent, do(t, r, http.MethodPost, "/api/v1/positions/p1/alerts/reset", nil).Code)
}

func TestAutoHedgeToggle(t *testing.T) {
	mon, r := setupServer(t, Config{})
	w := do(t, r, http.MethodPost, "/api/v1/positions/p1/autohedge", map[string]any{"strategy": "options_based"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "options_based", mon.autoHedge)
	assert.Equal(t, http.StatusNoContent, do(t, r, http.MethodDelete, "/api/v1/positions/p1/autohedge", nil).Code)
}

func TestManualHedgeResponses(t *testing.T) {
	mon, r := setupServer(t, Config{})

	mon.manualRes = domain.HedgeResult{ID: "h1", Success: true}
	w := do(t, r, http.MethodPost, "/api/v1/positions/p1/hedge", map[string]any{"size": 1})
	assert.Equal(t, http.StatusOK, w.Code)

	mon.manualRes = domain.HedgeResult{}
	w = do(t, r, http.MethodPost, "/api/v1/positions/p1/hedge", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	mon.manualRes = domain.HedgeResult{ID: "h2", Message: "rejected"}
	mon.manualErr = domain.ExchangeError("submit", fmt.Errorf("insufficient margin"))
	w = do(t, r, http.MethodPost, "/api/v1/positions/p1/hedge", map[string]any{"size": 1})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), `"h2"`)

	mon.manualRes = domain.HedgeResult{}
	mon.manualErr = domain.ValidationError("validate", fmt.Errorf("size too small"))
	w = do(t, r, http.MethodPost, "/api/v1/positions/p1/hedge", map[string]any{"size": 0.0000001})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestConfirm(t *testing.T) {
	mon, r := setupServer(t, Config{})
	w := do(t, r, http.MethodPost, "/api/v1/confirmations/c1", map[string]any{"approve": false})
	assert.Equal(t, http.StatusOK, w.Code)
	v, ok := mon.confirmed["c1"]
	require.True(t, ok)
	assert.False(t, v)

	w = do(t, r, http.MethodPost, "/api/v1/confirmations/c1", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/v1/confirmations/expired", map[string]any{"approve": true})
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestHistoryStressAndEmergency(t *testing.T) {
	mon, r := setupServer(t, Config{})
	mon.statuses["p1"] = monitor.Status{PositionID: "p1"}

	w := do(t, r, http.MethodGet, "/api/v1/positions/p1/hedges?window=24h", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 24*time.Hour, mon.window)
	assert.Contains(t, w.Body.String(), `"statistics"`)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/api/v1/positions/p1/hedges?window=day", nil).Code)

	w = do(t, r, http.MethodGet, "/api/v1/positions/p1/hedges/export?format=csv&window=1h", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Hour, mon.window)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "hedges_p1.csv")
	assert.Contains(t, w.Body.String(), "result_id")
	assert.Contains(t, w.Body.String(), "h1")
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/api/v1/positions/p1/hedges/export?format=xml", nil).Code)

	w = do(t, r, http.MethodPost, "/api/v1/stress", map[string]any{
		"scenarios": []map[string]any{{"name": "crash", "price_shock": -0.3}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, mon.scenarios, 1)
	assert.Equal(t, -0.3, mon.scenarios[0].PriceShock)

	w = do(t, r, http.MethodPost, "/api/v1/emergency-stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rep monitor.EmergencyReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	assert.Equal(t, 1, rep.Stopped)
}

type fakeEventLog struct {
	position string
	limit    int
}

func (f *fakeEventLog) RecentEvents(_ context.Context, positionID string, limit int) ([]models.EventRecord, error) {
	f.position, f.limit = positionID, limit
	rec := models.EventRecord{
		EventType:  "alert.triggered",
		PositionID: "p1",
		Payload:    []byte(`{"metric":"delta"}`),
		OccurredAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	rec.ID = 7
	return []models.EventRecord{rec}, nil
}

func TestRecentEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := NewServer(Config{}, newFakeMonitor(), nil, zaptest.NewLogger(t))
	assert.Equal(t, http.StatusNotFound, do(t, srv.Router(), http.MethodGet, "/api/v1/events", nil).Code)

	log := &fakeEventLog{}
	srv.SetEventLog(log)
	w := do(t, srv.Router(), http.MethodGet, "/api/v1/events?position=p1&limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "p1", log.position)
	assert.Equal(t, 5, log.limit)

	var resp struct {
		Events []struct {
			ID      uint            `json:"id"`
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, uint(7), resp.Events[0].ID)
	assert.Equal(t, "alert.triggered", resp.Events[0].Type)
	assert.JSONEq(t, `{"metric":"delta"}`, string(resp.Events[0].Payload))

	assert.Equal(t, http.StatusBadRequest, do(t, srv.Router(), http.MethodGet, "/api/v1/events?limit=-1", nil).Code)
}

func TestTokenAuth(t *testing.T) {
	_, r := setupServer(t, Config{Token: "s3cret"})
	assert.Equal(t, http.StatusUnauthorized, do(t, r, http.MethodGet, "/api/v1/positions", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/healthz", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/positions", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(domain.ErrStopped))
	assert.Equal(t, http.StatusConflict, statusFor(fmt.Errorf("wrap: %w", domain.ErrPendingConfirmation)))
	assert.Equal(t, http.StatusBadGateway, statusFor(domain.GatewayError("fetch", fmt.Errorf("timeout"))))
	assert.Equal(t, http.StatusInternalServerError, statusFor(domain.CalculationError("compute", nil)))
}
