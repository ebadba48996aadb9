// internal/metrics/collector.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hedge_bot"

// Collector owns the control-loop metrics and the registry they live in.
// Each collector has its own registry, so tests can create as many as they
// like.
type Collector struct {
	registry *prometheus.Registry

	ticks         *prometheus.CounterVec
	tickDuration  prometheus.Histogram
	gatewayMisses *prometheus.CounterVec
	alerts        *prometheus.CounterVec
	hedges        *prometheus.CounterVec
	hedgeLatency  prometheus.Histogram
	monitored     prometheus.Gauge
	exposure      *prometheus.GaugeVec
	var95         *prometheus.GaugeVec
}

// NewCollector creates and registers all metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Control loop ticks by result",
		}, []string{"result"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of one control loop tick",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		gatewayMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_misses_total",
			Help:      "Market data fetches that failed or returned stale data",
		}, []string{"symbol"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Emitted alerts by metric and level",
		}, []string{"metric", "level"}),
		hedges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hedges_total",
			Help:      "Hedge pipeline runs by strategy and outcome",
		}, []string{"strategy", "outcome"}),
		hedgeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hedge_latency_seconds",
			Help:      "Exchange submission latency of hedge orders",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		monitored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitored_positions",
			Help:      "Positions with a running control loop",
		}),
		exposure: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "position_exposure",
			Help:      "Absolute net delta as a fraction of position size",
		}, []string{"position", "symbol"}),
		var95: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "position_var95",
			Help:      "95% historical VaR of a position",
		}, []string{"position", "symbol"}),
	}

	c.registry.MustRegister(
		c.ticks, c.tickDuration, c.gatewayMisses, c.alerts,
		c.hedges, c.hedgeLatency, c.monitored, c.exposure, c.var95,
	)
	return c
}

// Tick results.
const (
	TickOK          = "ok"
	TickGatewayMiss = "gateway_miss"
	TickCalcError   = "calculation_error"
	TickPanic       = "panic"
)

// RecordTick counts a tick and its duration.
func (c *Collector) RecordTick(result string, d time.Duration) {
	c.ticks.WithLabelValues(result).Inc()
	c.tickDuration.Observe(d.Seconds())
}

// RecordGatewayMiss counts a failed or stale market data fetch.
func (c *Collector) RecordGatewayMiss(symbol string) {
	c.gatewayMisses.WithLabelValues(symbol).Inc()
}

// RecordAlert counts an emitted alert.
func (c *Collector) RecordAlert(metric, level string) {
	c.alerts.WithLabelValues(metric, level).Inc()
}

// RecordHedge counts a pipeline outcome; latency is observed when positive.
func (c *Collector) RecordHedge(strategy, outcome string, latency time.Duration) {
	c.hedges.WithLabelValues(strategy, outcome).Inc()
	if latency > 0 {
		c.hedgeLatency.Observe(latency.Seconds())
	}
}

// SetMonitored sets the number of running loops.
func (c *Collector) SetMonitored(n int) {
	c.monitored.Set(float64(n))
}

// ObserveRisk publishes the latest exposure and VaR of a position.
func (c *Collector) ObserveRisk(positionID, symbol string, exposure, var95 float64) {
	c.exposure.WithLabelValues(positionID, symbol).Set(exposure)
	c.var95.WithLabelValues(positionID, symbol).Set(var95)
}

// ForgetPosition drops the per-position series of a stopped loop.
func (c *Collector) ForgetPosition(positionID, symbol string) {
	c.exposure.DeleteLabelValues(positionID, symbol)
	c.var95.DeleteLabelValues(positionID, symbol)
}

// Reset clears all vectors (useful for tests).
func (c *Collector) Reset() {
	c.ticks.Reset()
	c.gatewayMisses.Reset()
	c.alerts.Reset()
	c.hedges.Reset()
	c.exposure.Reset()
	c.var95.Reset()
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
