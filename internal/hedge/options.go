package hedge

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/rovshanmuradov/hedge-bot/internal/domain"
	"github.com/rovshanmuradov/hedge-bot/internal/risk"
)

// OptionsBased buys puts against long exposure and calls against short
// exposure, picking the listed contract closest to the target delta and
// expiry.
type OptionsBased struct {
	cfg  Config
	calc *risk.Calculator
}

func (s *OptionsBased) Kind() Kind { return KindOptions }

type candidate struct {
	quote domain.OptionQuote
	delta float64
	price float64
	score float64
}

func (s *OptionsBased) CalculateHedge(in Input) Decision {
	net := in.Metrics.NetDelta
	if isFlat(net) {
		return decline("position is already delta neutral")
	}

	want, target := domain.OptionPut, -s.cfg.Options.TargetDelta
	if net < 0 {
		want, target = domain.OptionCall, s.cfg.Options.TargetDelta
	}

	best, ok := s.pick(in, want, target)
	if !ok {
		return decline("no %s within tolerance of delta %.2f and expiry %s", want, target, s.cfg.Options.TargetExpiry)
	}

	hedge := risk.InstrumentGreeks{Symbol: best.quote.Instrument, Underlying: best.quote.Underlying, Delta: best.delta}
	ratio, err := risk.HedgeRatio(in.Position.Symbol, net, hedge, in.Metrics.Correlation)
	if errors.Is(err, risk.ErrUndeterminable) {
		return decline("hedge ratio undeterminable for %s", best.quote.Instrument)
	}

	size := math.Abs(ratio)
	if notional := size * best.price; notional < s.cfg.MinNotional {
		return decline("hedge notional %.2f below minimum %.2f", notional, s.cfg.MinNotional)
	}
	side := domain.OrderBuy
	if ratio > 0 {
		side = domain.OrderSell
	}
	return Decision{Order: &domain.HedgeOrder{
		ID:         uuid.New().String(),
		Symbol:     best.quote.Instrument,
		Underlying: best.quote.Underlying,
		Side:       side,
		Size:       size,
		Type:       domain.OrderLimit,
		Price:      best.price,
		Instrument: domain.InstrumentOption,
		UnitDelta:  best.delta,
		Strategy:   string(KindOptions),
		Reason:     breachReason(in.Breach),
		CreatedAt:  in.Now,
	}}
}

func (s *OptionsBased) pick(in Input, want domain.OptionType, target float64) (candidate, bool) {
	oc := s.cfg.Options
	spot := in.Snapshot.Price
	var best candidate
	found := false
	for _, q := range in.Chain {
		if q.Type != want || (q.Underlying != "" && q.Underlying != in.Position.Symbol) {
			continue
		}
		ttl := q.Expiry.Sub(in.Now)
		if ttl <= 0 || absDuration(ttl-oc.TargetExpiry) > oc.ExpiryTolerance {
			continue
		}

		delta, price := q.Delta, q.MarkPrice
		if delta == 0 || price <= 0 {
			g := s.calc.OptionGreeks(domain.OptionAttrs{Type: q.Type, Strike: q.Strike, Expiry: q.Expiry},
				spot, in.Metrics.Volatility, ttl.Hours()/24/365)
			if delta == 0 {
				delta = g.Delta
			}
			if price <= 0 {
				price = g.Price
			}
		}
		if math.Abs(delta-target) > oc.DeltaTolerance || price <= 0 {
			continue
		}

		score := math.Abs(delta-target)/nonZero(oc.DeltaTolerance) +
			float64(absDuration(ttl-oc.TargetExpiry))/float64(nonZeroDuration(oc.ExpiryTolerance))
		if !found || score < best.score {
			if q.Underlying == "" {
				q.Underlying = in.Position.Symbol
			}
			best = candidate{quote: q, delta: delta, price: price, score: score}
			found = true
		}
	}
	return best, found
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

func nonZeroDuration(d time.Duration) time.Duration {
	if d == 0 {
		return time.Hour
	}
	return d
}
