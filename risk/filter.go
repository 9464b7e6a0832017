package risk

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polycopy/types"
	"github.com/web3guy0/polycopy/whale"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SIGNAL FILTER PIPELINE - Whale gate → Trade gate → Portfolio gate
// ═══════════════════════════════════════════════════════════════════════════════
//
// Three ordered, short-circuiting stages. A rejection carries the stage,
// a reason code and the thresholds involved - structured observability,
// never control flow. Gates reject fast and hold no locks.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Stage names for rejection reporting.
const (
	StageWhale     = "whale"
	StageTrade     = "trade"
	StagePortfolio = "portfolio"
	StageSizer     = "sizer"
)

// Reason codes.
const (
	ReasonQuarantined   = "WHALE_QUARANTINED"
	ReasonScoreTooLow   = "SCORE_BELOW_MIN"
	ReasonDrawdown      = "WHALE_DRAWDOWN"
	ReasonSizeBand      = "SIZE_OUT_OF_BAND"
	ReasonCategory      = "CATEGORY_NOT_ALLOWED"
	ReasonPriceBand     = "PRICE_OUT_OF_BAND"
	ReasonLiquidity     = "LIQUIDITY_BELOW_FLOOR"
	ReasonHalted        = "BREAKER_HALTED"
	ReasonTotalExposure = "TOTAL_EXPOSURE_CAP"
	ReasonMarketCap     = "MARKET_EXPOSURE_CAP"
	ReasonWhaleCap      = "WHALE_EXPOSURE_CAP"
	ReasonPositionCount = "POSITION_COUNT_CAP"
	ReasonCorrelation   = "CORRELATION_CEILING"
	ReasonNoEdge        = "NON_POSITIVE_EDGE"
	ReasonSizeZero      = "SIZE_CLAMPED_TO_ZERO"
	ReasonLookupFailed  = "METADATA_LOOKUP_FAILED"
)

// Rejection is the structured outcome of a failed gate. It is a normal,
// expected result - not an error.
type Rejection struct {
	Stage  string
	Code   string
	Detail string
}

func (r *Rejection) String() string {
	return fmt.Sprintf("%s/%s: %s", r.Stage, r.Code, r.Detail)
}

// Error lets admission paths surface a Rejection through an error return
// without losing the stage/code structure.
func (r *Rejection) Error() string { return r.String() }

// Decision is the pipeline output for one signal.
type Decision struct {
	Accepted bool
	// SizeMult is 1.0 normally; the portfolio gate reduces it under a
	// THROTTLED breaker instead of rejecting.
	SizeMult  float64
	Rejection *Rejection
}

func rejectf(stage, code, format string, args ...any) Decision {
	rej := &Rejection{Stage: stage, Code: code, Detail: fmt.Sprintf(format, args...)}
	log.Debug().
		Str("stage", rej.Stage).
		Str("code", rej.Code).
		Str("detail", rej.Detail).
		Msg("🚫 Signal rejected")
	return Decision{Rejection: rej}
}

// Pipeline evaluates signals against whale, trade and portfolio gates.
type Pipeline struct {
	limits    *Limits
	portfolio *Manager
}

func NewPipeline(limits *Limits, portfolio *Manager) *Pipeline {
	return &Pipeline{limits: limits, portfolio: portfolio}
}

// Evaluate runs the three gates in order. market may carry zero liquidity
// if the metadata lookup failed upstream; that is a trade-gate rejection
// (fail-closed).
func (p *Pipeline) Evaluate(sig types.TradeSignal, snap whale.Snapshot, market types.MarketInfo) Decision {
	if d := p.whaleGate(sig, snap); d.Rejection != nil {
		return d
	}
	if d := p.tradeGate(sig, market); d.Rejection != nil {
		return d
	}
	return p.portfolioGate(sig)
}

// whaleGate rejects on quarantine, insufficient score, or excessive
// trailing drawdown. Quarantine overrides tier: a MEGA whale in quarantine
// is still rejected.
func (p *Pipeline) whaleGate(sig types.TradeSignal, snap whale.Snapshot) Decision {
	if snap.Quarantined {
		return rejectf(StageWhale, ReasonQuarantined, "quarantined (%s) until %s",
			snap.QuarantineReason, snap.QuarantineUntil.Format("2006-01-02 15:04"))
	}
	if snap.Score < p.limits.MinWhaleScore {
		return rejectf(StageWhale, ReasonScoreTooLow, "score %.1f below min %.1f",
			snap.Score, p.limits.MinWhaleScore)
	}
	if snap.Drawdown > p.limits.MaxWhaleDrawdown {
		return rejectf(StageWhale, ReasonDrawdown, "drawdown %.2f over ceiling %.2f",
			snap.Drawdown, p.limits.MaxWhaleDrawdown)
	}
	return Decision{Accepted: true, SizeMult: 1.0}
}

// tradeGate rejects on the whale's trade itself: size band, category
// allow-list, implied price band, liquidity floor.
func (p *Pipeline) tradeGate(sig types.TradeSignal, market types.MarketInfo) Decision {
	if sig.WhaleSize.LessThan(p.limits.MinWhaleSize) || sig.WhaleSize.GreaterThan(p.limits.MaxWhaleSize) {
		return rejectf(StageTrade, ReasonSizeBand, "whale size %s outside [%s, %s]",
			sig.WhaleSize.StringFixed(0), p.limits.MinWhaleSize.StringFixed(0), p.limits.MaxWhaleSize.StringFixed(0))
	}
	if !p.limits.CategoryAllowed(sig.Category) {
		return rejectf(StageTrade, ReasonCategory, "category %q not in allow-list", sig.Category)
	}
	// Near-certain and near-impossible outcomes make edge estimates
	// unstable; keep to the admissible band.
	if sig.WhalePrice.LessThan(p.limits.MinEntryPrice) || sig.WhalePrice.GreaterThan(p.limits.MaxEntryPrice) {
		return rejectf(StageTrade, ReasonPriceBand, "price %s outside [%s, %s]",
			sig.WhalePrice.StringFixed(2), p.limits.MinEntryPrice.StringFixed(2), p.limits.MaxEntryPrice.StringFixed(2))
	}
	if market.Liquidity.LessThan(p.limits.MinLiquidity) {
		return rejectf(StageTrade, ReasonLiquidity, "liquidity %s below floor %s",
			market.Liquidity.StringFixed(0), p.limits.MinLiquidity.StringFixed(0))
	}
	return Decision{Accepted: true, SizeMult: 1.0}
}

// portfolioGate consults the portfolio aggregate. These are advisory reads
// for fast rejection; the authoritative check-and-commit happens in
// Manager.Reserve at admission time.
func (p *Pipeline) portfolioGate(sig types.TradeSignal) Decision {
	view := p.portfolio.Snapshot()

	if view.Breaker == types.BreakerHalted {
		return rejectf(StagePortfolio, ReasonHalted, "circuit breaker HALTED")
	}
	if view.OpenPositions >= p.limits.MaxConcurrentPositions {
		return rejectf(StagePortfolio, ReasonPositionCount, "%d open positions at cap %d",
			view.OpenPositions, p.limits.MaxConcurrentPositions)
	}
	maxTotal := view.NAV.Mul(decimal.NewFromFloat(p.limits.MaxTotalExposurePct))
	if view.TotalExposure.GreaterThanOrEqual(maxTotal) {
		return rejectf(StagePortfolio, ReasonTotalExposure, "exposure %s at cap %s",
			view.TotalExposure.StringFixed(2), maxTotal.StringFixed(2))
	}
	maxMarket := view.NAV.Mul(decimal.NewFromFloat(p.limits.MaxMarketExposurePct))
	if view.PerMarket[sig.MarketID].GreaterThanOrEqual(maxMarket) {
		return rejectf(StagePortfolio, ReasonMarketCap, "market exposure %s at cap %s",
			view.PerMarket[sig.MarketID].StringFixed(2), maxMarket.StringFixed(2))
	}
	maxWhale := view.NAV.Mul(decimal.NewFromFloat(p.limits.MaxWhaleExposurePct))
	if view.PerWhale[sig.WhaleID].GreaterThanOrEqual(maxWhale) {
		return rejectf(StagePortfolio, ReasonWhaleCap, "whale exposure %s at cap %s",
			view.PerWhale[sig.WhaleID].StringFixed(2), maxWhale.StringFixed(2))
	}
	if corr := p.portfolio.CorrelationFor(sig.Category); corr > p.limits.MaxCorrelation {
		return rejectf(StagePortfolio, ReasonCorrelation, "category correlation %.2f over ceiling %.2f",
			corr, p.limits.MaxCorrelation)
	}

	mult := 1.0
	if view.Breaker == types.BreakerThrottled {
		// Throttled: admit, but at reduced size.
		mult = p.limits.ThrottleSizeMult
	}
	return Decision{Accepted: true, SizeMult: mult}
}
