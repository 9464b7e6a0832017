package risk

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polycopy/types"
	"github.com/web3guy0/polycopy/whale"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ADAPTIVE POSITION SIZER - Fractional Kelly with risk adjustments
// ═══════════════════════════════════════════════════════════════════════════════
//
// Base edge for a binary share bought at price p with shrinkage-adjusted
// probability estimate q:
//
//   f* = (q − p) / (1 − p)      (BUY; symmetric for SELL)
//
// floored at 0 - a non-positive edge is a rejection, never a short-kelly
// position. Applied fraction = f* × kelly_multiplier × four independent
// factors in (0,1]: confidence, inverse volatility, correlation, drawdown.
// Final size clamps to [min_position, max_position], the per-tier cap and
// the hard %NAV cap.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Sizer struct {
	limits    *Limits
	portfolio *Manager
}

func NewSizer(limits *Limits, portfolio *Manager) *Sizer {
	return &Sizer{limits: limits, portfolio: portfolio}
}

// KellyEdge returns f* for the signal's side. q is the adjusted win
// probability of the whale's chosen outcome, p the price paid for it.
func KellyEdge(side types.Side, q, p float64) float64 {
	var f float64
	switch side {
	case types.SideSell:
		// Selling the outcome is buying its complement at 1-p.
		f = ((1 - q) - (1 - p)) / p
	default:
		f = (q - p) / (1 - p)
	}
	if f < 0 {
		return 0
	}
	return f
}

// Size converts an accepted signal into a bounded allocation. sizeMult is
// the pipeline's throttle multiplier; volatility is the market's EWMA
// price volatility. A zero allocation or non-positive edge yields a
// rejection - a normal outcome, not an error.
func (s *Sizer) Size(sig types.TradeSignal, snap whale.Snapshot, sizeMult, volatility float64) (decimal.Decimal, *Rejection) {
	view := s.portfolio.Snapshot()

	p := sig.WhalePrice.InexactFloat64()
	q := snap.AdjRate
	edge := KellyEdge(sig.Side, q, p)
	if edge <= 0 {
		return decimal.Zero, &Rejection{
			Stage:  StageSizer,
			Code:   ReasonNoEdge,
			Detail: "q <= p: no positive expectancy at this price",
		}
	}

	fraction := edge * s.limits.KellyMultiplier *
		confidenceFactor(snap) *
		volatilityFactor(volatility) *
		correlationFactor(s.portfolio.CorrelationFor(sig.Category)) *
		drawdownFactor(view.Drawdown, s.limits.MaxDailyLossPct) *
		sizeMult

	available := view.NAV.Sub(view.TotalExposure)
	size := available.Mul(decimal.NewFromFloat(fraction))

	// Hard caps: per-trade %NAV, per-tier allocation, absolute bounds.
	navCap := view.NAV.Mul(decimal.NewFromFloat(s.limits.MaxTradePctNAV))
	if size.GreaterThan(navCap) {
		size = navCap
	}
	tierCap := view.NAV.Mul(decimal.NewFromFloat(s.limits.TierCapPct(snap.Tier)))
	if size.GreaterThan(tierCap) {
		size = tierCap
	}
	if size.GreaterThan(s.limits.MaxPosition) {
		size = s.limits.MaxPosition
	}
	if size.LessThan(s.limits.MinPosition) {
		return decimal.Zero, &Rejection{
			Stage:  StageSizer,
			Code:   ReasonSizeZero,
			Detail: "size below min_position after clamps",
		}
	}
	size = size.Truncate(2)

	log.Debug().
		Str("whale", sig.WhaleID).
		Str("market", sig.MarketID).
		Float64("edge", edge).
		Float64("fraction", fraction).
		Str("size", size.StringFixed(2)).
		Msg("📐 Position sized")

	return size, nil
}

// confidenceFactor grows with tier and confidence bucket, in (0,1].
func confidenceFactor(snap whale.Snapshot) float64 {
	tier := map[types.Tier]float64{
		types.TierMega:   1.00,
		types.TierHigh:   0.85,
		types.TierMedium: 0.70,
		types.TierLow:    0.50,
	}[snap.Tier]
	conf := map[types.Confidence]float64{
		types.ConfidenceVeryHigh: 1.00,
		types.ConfidenceHigh:     0.90,
		types.ConfidenceMedium:   0.75,
		types.ConfidenceLow:      0.60,
		types.ConfidenceVeryLow:  0.40,
	}[snap.Confidence]
	if tier == 0 {
		tier = 0.50
	}
	if conf == 0 {
		conf = 0.40
	}
	return tier * conf
}

// volatilityFactor shrinks allocation as EWMA volatility rises, in (0,1].
func volatilityFactor(vol float64) float64 {
	if vol <= 0 {
		return 1.0
	}
	f := 1.0 / (1.0 + 10.0*vol)
	if f < 0.10 {
		f = 0.10
	}
	return f
}

// correlationFactor shrinks allocation as category correlation rises.
func correlationFactor(corr float64) float64 {
	f := 1.0 - 0.75*clampF(corr, 0, 1)
	if f < 0.25 {
		f = 0.25
	}
	return f
}

// drawdownFactor shrinks allocation as trailing drawdown approaches the
// daily-loss ceiling.
func drawdownFactor(drawdown, ceiling float64) float64 {
	if ceiling <= 0 || drawdown <= 0 {
		return 1.0
	}
	f := 1.0 - clampF(drawdown/ceiling, 0, 0.9)
	if f < 0.10 {
		f = 0.10
	}
	return f
}

func clampF(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
