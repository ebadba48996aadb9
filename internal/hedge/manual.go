package hedge

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/rovshanmuradov/hedge-bot/internal/domain"
)

// ManualOrder builds a user-requested perpetual hedge against netDelta.
// A zero size means "neutralise the whole net delta".
func ManualOrder(pos domain.Position, netDelta, size, price float64, now time.Time) (domain.HedgeOrder, error) {
	if size < 0 || math.IsNaN(size) || math.IsInf(size, 0) {
		return domain.HedgeOrder{}, fmt.Errorf("%w: hedge size must be a non-negative number", domain.ErrInvalidArgument)
	}
	if isFlat(netDelta) {
		return domain.HedgeOrder{}, fmt.Errorf("%w: position is already delta neutral", domain.ErrInvalidArgument)
	}
	if size == 0 {
		size = math.Abs(netDelta)
	}
	side := domain.OrderSell
	if netDelta < 0 {
		side = domain.OrderBuy
	}
	return domain.HedgeOrder{
		ID:         uuid.New().String(),
		Symbol:     domain.PerpSymbol(pos.Symbol),
		Underlying: pos.Symbol,
		Side:       side,
		Size:       size,
		Type:       domain.OrderMarket,
		Price:      price,
		Instrument: domain.InstrumentPerpetual,
		UnitDelta:  1,
		Strategy:   "manual",
		Reason:     "manual hedge",
		CreatedAt:  now,
	}, nil
}
