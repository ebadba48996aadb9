package hedge

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/hedge-bot/internal/domain"
)

// Decider turns a strategy result into a final decision, consulting the
// optional timing model. The model can only veto.
type Decider struct {
	model   domain.TimingModel
	timeout time.Duration
	logger  *zap.Logger
}

// NewDecider accepts a nil model.
func NewDecider(model domain.TimingModel, timeout time.Duration, logger *zap.Logger) *Decider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Decider{model: model, timeout: timeout, logger: logger.Named("decider")}
}

// Decide returns an order or the reason for declining. Non-continuous
// strategies only act while a breach is active; when several rules are
// breached the caller passes the most severe one and a single combined
// order is produced.
func (d *Decider) Decide(ctx context.Context, in Input, s Strategy) Decision {
	if in.Breach == nil && !s.Kind().Continuous() {
		return decline("no active breach")
	}

	dec := s.CalculateHedge(in)
	if !dec.Hedge() || d.model == nil {
		return dec
	}

	tctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	verdict, err := d.model.PredictTiming(tctx, features(in))
	if err != nil {
		d.logger.Warn("Timing model unavailable, proceeding without verdict",
			zap.String("position", in.Position.ID),
			zap.Error(err))
		return dec
	}
	return ApplyVerdict(dec, verdict)
}

// ApplyVerdict drops the order when the verdict is wait.
func ApplyVerdict(dec Decision, v domain.Verdict) Decision {
	if v == domain.VerdictWait && dec.Hedge() {
		return decline("timing model advises to wait")
	}
	return dec
}

func features(in Input) domain.TimingFeatures {
	f := domain.TimingFeatures{
		PositionID: in.Position.ID,
		Symbol:     in.Position.Symbol,
		Price:      in.Snapshot.Price,
		Volatility: in.Metrics.Volatility,
		Exposure:   in.Metrics.Exposure,
		VaR95:      in.Metrics.VaR95,
		Timestamp:  in.Now,
	}
	if in.Breach != nil {
		f.Severity = in.Breach.Severity
	}
	return f
}
