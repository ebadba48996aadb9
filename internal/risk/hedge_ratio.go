package risk

import (
	"errors"
	"math"
)

// ErrUndeterminable is returned when no finite hedge ratio exists.
var ErrUndeterminable = errors.New("hedge ratio undeterminable")

// InstrumentGreeks describes the instrument used to hedge.
type InstrumentGreeks struct {
	Symbol     string
	Underlying string
	Delta      float64
}

// HedgeRatio is the number of hedge-instrument units carrying the same
// delta as spotDelta. When the hedge references a different underlying the
// ratio is scaled by correlation. The caller trades -ratio units.
func HedgeRatio(spotSymbol string, spotDelta float64, hedge InstrumentGreeks, correlation float64) (float64, error) {
	if math.Abs(hedge.Delta) < 1e-9 || math.IsNaN(hedge.Delta) {
		return 0, ErrUndeterminable
	}
	ratio := spotDelta / hedge.Delta
	if hedge.Underlying != "" && hedge.Underlying != spotSymbol {
		if math.IsNaN(correlation) || math.Abs(correlation) < 1e-9 {
			return 0, ErrUndeterminable
		}
		ratio *= correlation
	}
	return ratio, nil
}
