package hedge

import (
	"errors"
	"math"

	"github.com/google/uuid"

	"github.com/rovshanmuradov/hedge-bot/internal/domain"
	"github.com/rovshanmuradov/hedge-bot/internal/risk"
)

// DeltaNeutral offsets net delta with the symbol's perpetual contract.
type DeltaNeutral struct {
	cfg Config
}

func (s *DeltaNeutral) Kind() Kind { return KindDeltaNeutral }

func (s *DeltaNeutral) CalculateHedge(in Input) Decision {
	return s.calculate(in, KindDeltaNeutral)
}

func (s *DeltaNeutral) calculate(in Input, kind Kind) Decision {
	net := in.Metrics.NetDelta
	if isFlat(net) {
		return decline("position is already delta neutral")
	}
	price := hedgePrice(in)
	if price <= 0 {
		return decline("no price for %s", domain.PerpSymbol(in.Position.Symbol))
	}

	perp := risk.InstrumentGreeks{
		Symbol:     domain.PerpSymbol(in.Position.Symbol),
		Underlying: in.Position.Symbol,
		Delta:      1,
	}
	ratio, err := risk.HedgeRatio(in.Position.Symbol, net, perp, in.Metrics.Correlation)
	if errors.Is(err, risk.ErrUndeterminable) {
		return decline("hedge ratio undeterminable")
	}

	size := math.Abs(ratio)
	if notional := size * price; notional < s.cfg.MinNotional {
		return decline("hedge notional %.2f below minimum %.2f", notional, s.cfg.MinNotional)
	}
	if s.cfg.MaxNotional > 0 && size*price > s.cfg.MaxNotional {
		size = s.cfg.MaxNotional / price
	}

	side := domain.OrderSell
	if ratio < 0 {
		side = domain.OrderBuy
	}
	return Decision{Order: &domain.HedgeOrder{
		ID:         uuid.New().String(),
		Symbol:     perp.Symbol,
		Underlying: in.Position.Symbol,
		Side:       side,
		Size:       size,
		Type:       domain.OrderMarket,
		Price:      price,
		Instrument: domain.InstrumentPerpetual,
		UnitDelta:  perp.Delta,
		Strategy:   string(kind),
		Reason:     breachReason(in.Breach),
		CreatedAt:  in.Now,
	}}
}

// Dynamic runs DeltaNeutral on every tick but only trades once net delta
// has drifted from the last rebalance by more than the noise band.
type Dynamic struct {
	base  DeltaNeutral
	noise float64
}

func (s *Dynamic) Kind() Kind { return KindDynamic }

func (s *Dynamic) CalculateHedge(in Input) Decision {
	drift := math.Abs(in.Metrics.NetDelta - in.Baseline)
	band := s.noise * in.Position.Size
	if drift <= band {
		return decline("delta drift %.4g within noise band %.4g", drift, band)
	}
	return s.base.calculate(in, KindDynamic)
}
