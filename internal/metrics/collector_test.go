package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.RecordTick(TickOK, 10*time.Millisecond)
	c.RecordTick(TickOK, 12*time.Millisecond)
	c.RecordTick(TickGatewayMiss, time.Millisecond)
	c.RecordTick(TickPanic, time.Millisecond)
	c.RecordHedge("delta_neutral", "executed", 50*time.Millisecond)
	c.RecordAlert("exposure", "warning")
	c.SetMonitored(3)
	c.ObserveRisk("p1", "BTC", 0.06, 1200)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.ticks.WithLabelValues(TickOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ticks.WithLabelValues(TickGatewayMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ticks.WithLabelValues(TickPanic)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.hedges.WithLabelValues("delta_neutral", "executed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.monitored))
	assert.Equal(t, 0.06, testutil.ToFloat64(c.exposure.WithLabelValues("p1", "BTC")))

	c.ForgetPosition("p1", "BTC")
	assert.Equal(t, 0, testutil.CollectAndCount(c.exposure))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	a.RecordAlert("var", "critical")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.alerts.WithLabelValues("var", "critical")))
}

func TestHandlerServesMetrics(t *testing.T) {
	c := NewCollector()
	c.SetMonitored(2)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "hedge_bot_monitored_positions 2")
}
