package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Metric names a RiskMetrics field that alert rules can reference.
type Metric string

const (
	MetricDelta       Metric = "delta"
	MetricExposure    Metric = "exposure"
	MetricVaR         Metric = "var"
	MetricVaR99       Metric = "var99"
	MetricGamma       Metric = "gamma"
	MetricTheta       Metric = "theta"
	MetricVega        Metric = "vega"
	MetricDrawdown    Metric = "drawdown"
	MetricPnL         Metric = "pnl"
	MetricBeta        Metric = "beta"
	MetricCorrelation Metric = "correlation"
)

var knownMetrics = map[Metric]struct{}{
	MetricDelta: {}, MetricExposure: {}, MetricVaR: {}, MetricVaR99: {},
	MetricGamma: {}, MetricTheta: {}, MetricVega: {}, MetricDrawdown: {},
	MetricPnL: {}, MetricBeta: {}, MetricCorrelation: {},
}

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := knownMetrics[m]; !ok {
		return "", fmt.Errorf("%w: unknown metric %q", ErrInvalidArgument, s)
	}
	return m, nil
}

// RiskMetrics is the output of one risk computation.
type RiskMetrics struct {
	Delta       float64 `json:"delta"`
	Gamma       float64 `json:"gamma"`
	Theta       float64 `json:"theta"`
	Vega        float64 `json:"vega"`
	VaR95       float64 `json:"var95"`
	VaR99       float64 `json:"var99"`
	MaxDrawdown float64 `json:"max_drawdown"`
	// Correlation and Beta are NaN when undefined.
	Correlation float64 `json:"-"`
	Beta        float64 `json:"-"`

	NetDelta      float64   `json:"net_delta"`
	Exposure      float64   `json:"exposure"`
	Notional      float64   `json:"notional"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	Volatility    float64   `json:"volatility"`
	LowConfidence bool      `json:"low_confidence"`
	Timestamp     time.Time `json:"timestamp"`
}

// Value returns the field named by m. The boolean is false for unknown
// metrics and for undefined (NaN) values.
func (r RiskMetrics) Value(m Metric) (float64, bool) {
	var v float64
	switch m {
	case MetricDelta:
		v = r.NetDelta
	case MetricExposure:
		v = r.Exposure
	case MetricVaR:
		v = r.VaR95
	case MetricVaR99:
		v = r.VaR99
	case MetricGamma:
		v = r.Gamma
	case MetricTheta:
		v = r.Theta
	case MetricVega:
		v = r.Vega
	case MetricDrawdown:
		v = r.MaxDrawdown
	case MetricPnL:
		v = r.UnrealizedPnL
	case MetricBeta:
		v = r.Beta
	case MetricCorrelation:
		v = r.Correlation
	default:
		return 0, false
	}
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// MarshalJSON encodes undefined correlation and beta as null.
func (r RiskMetrics) MarshalJSON() ([]byte, error) {
	type plain RiskMetrics
	return json.Marshal(struct {
		plain
		Correlation *float64 `json:"correlation"`
		Beta        *float64 `json:"beta"`
	}{
		plain:       plain(r),
		Correlation: finiteOrNil(r.Correlation),
		Beta:        finiteOrNil(r.Beta),
	})
}

func finiteOrNil(v float64) *float64 {
	if !IsFinite(v) {
		return nil
	}
	return &v
}
