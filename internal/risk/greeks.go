package risk

import (
	"math"
	"time"

	"github.com/rovshanmuradov/hedge-bot/internal/domain"
)

const (
	daysPerYear    = 365.0
	minutesPerYear = daysPerYear * 24 * 60
)

// Greeks of a single option contract. Theta is per calendar day and Vega
// per one volatility point.
type Greeks struct {
	Price float64
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
}

// OptionGreeks prices an option with Black-Scholes. years is the time to
// expiry; at or past expiry only the intrinsic delta remains.
func (c *Calculator) OptionGreeks(opt domain.OptionAttrs, spot, vol, years float64) Greeks {
	k := opt.Strike
	if years <= 0 || vol <= 0 || k <= 0 || spot <= 0 {
		return intrinsic(opt, spot)
	}

	r := c.cfg.RiskFreeRate
	sqrtT := math.Sqrt(years)
	d1 := (math.Log(spot/k) + (r+vol*vol/2)*years) / (vol * sqrtT)
	d2 := d1 - vol*sqrtT
	pdf := normPDF(d1)
	disc := math.Exp(-r * years)

	g := Greeks{
		Gamma: pdf / (spot * vol * sqrtT),
		Vega:  spot * pdf * sqrtT / 100,
	}
	decay := -spot * pdf * vol / (2 * sqrtT)
	switch opt.Type {
	case domain.OptionPut:
		g.Price = k*disc*normCDF(-d2) - spot*normCDF(-d1)
		g.Delta = normCDF(d1) - 1
		g.Theta = (decay + r*k*disc*normCDF(-d2)) / daysPerYear
	default:
		g.Price = spot*normCDF(d1) - k*disc*normCDF(d2)
		g.Delta = normCDF(d1)
		g.Theta = (decay - r*k*disc*normCDF(d2)) / daysPerYear
	}
	return g
}

func intrinsic(opt domain.OptionAttrs, spot float64) Greeks {
	var g Greeks
	switch opt.Type {
	case domain.OptionPut:
		g.Price = math.Max(opt.Strike-spot, 0)
		if spot < opt.Strike {
			g.Delta = -1
		}
	default:
		g.Price = math.Max(spot-opt.Strike, 0)
		if spot > opt.Strike {
			g.Delta = 1
		}
	}
	return g
}

func yearsBetween(from, to time.Time) float64 {
	return to.Sub(from).Minutes() / minutesPerYear
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func normPDF(x float64) float64 {
	return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
}
