package risk

import (
	"math"
	"sort"
	"time"

	"github.com/markcheno/go-talib"
)

// logReturns skips non-positive prices instead of producing infinities.
func logReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev, cur := prices[i-1], prices[i]
		if prev <= 0 || cur <= 0 {
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// historicalVaR returns the 95% and 99% one-period loss quantiles scaled by
// value. low is true when the sample is too small to read a quantile.
func historicalVaR(prices []float64, value float64) (var95, var99 float64, low bool) {
	returns := logReturns(prices)
	if len(returns) < 2 {
		return 0, 0, true
	}
	losses := make([]float64, len(returns))
	for i, r := range returns {
		losses[i] = -r
	}
	sort.Float64s(losses)
	var95 = math.Max(percentile(losses, 0.95), 0) * value
	var99 = math.Max(percentile(losses, 0.99), 0) * value
	return var95, var99, false
}

// percentile reads quantile q of an ascending slice with linear
// interpolation between closest ranks.
func percentile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// maxDrawdown is the worst peak-to-trough decline as a fraction of the
// peak. For short exposure the adverse move is a rally, measured from the
// running trough.
func maxDrawdown(prices []float64, short bool) float64 {
	if len(prices) < 2 {
		return 0
	}
	worst := 0.0
	ref := prices[0]
	for _, p := range prices[1:] {
		if p <= 0 {
			continue
		}
		if ref <= 0 {
			ref = p
			continue
		}
		if short {
			if p < ref {
				ref = p
			}
			worst = math.Max(worst, (p-ref)/ref)
		} else {
			if p > ref {
				ref = p
			}
			worst = math.Max(worst, (ref-p)/ref)
		}
	}
	return worst
}

const varianceEpsilon = 1e-12

// correlationBeta returns Pearson correlation and beta of a against b over
// their trailing common length, or NaN when either series is flat.
func correlationBeta(a, b []float64) (corr, beta float64) {
	n := min(len(a), len(b))
	if n < 2 {
		return math.NaN(), math.NaN()
	}
	a, b = a[len(a)-n:], b[len(b)-n:]

	sdA := last(talib.StdDev(a, n, 1))
	sdB := last(talib.StdDev(b, n, 1))
	if sdA*sdA < varianceEpsilon || sdB*sdB < varianceEpsilon {
		return math.NaN(), math.NaN()
	}
	corr = last(talib.Correl(a, b, n))
	return corr, corr * sdA / sdB
}

// EstimateVolatility annualises the standard deviation of log returns over
// the configured window. interval is the spacing of prices; zero means one
// day. Short or flat history falls back to the default.
func (c *Calculator) EstimateVolatility(prices []float64, interval time.Duration) float64 {
	returns := logReturns(prices)
	if len(returns) < 2 {
		return c.cfg.DefaultVolatility
	}
	window := min(c.cfg.VolatilityWindow, len(returns))
	sd := last(talib.StdDev(returns, window, 1))
	if sd <= 0 || math.IsNaN(sd) {
		return c.cfg.DefaultVolatility
	}
	return sd * math.Sqrt(periodsPerYear(interval))
}

func periodsPerYear(interval time.Duration) float64 {
	if interval <= 0 {
		return daysPerYear
	}
	return daysPerYear * float64(24*time.Hour) / float64(interval)
}

func last(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}
