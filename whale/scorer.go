package whale

import (
	"math"
	"sort"
	"time"

	"github.com/web3guy0/polycopy/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WHALE SCORER - Composite quality score from trade history
// ═══════════════════════════════════════════════════════════════════════════════
//
// Composite = weighted sum of five sub-scores, each clamped to its own
// [0, weight] band so the total is bounded to [0,100] by construction:
//
//   risk-adjusted return   30
//   information ratio      25
//   return / max drawdown  20
//   consistency            15
//   log-scaled volume      10
//
// Win rates are never used raw - they pass through Bayesian shrinkage
// toward the category base rate first. Sample-size and concentration
// penalties multiply the composite after the sum.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ScorerConfig holds the research-calibrated scoring constants. These are
// configuration, not law - see config loading in internal/config.
type ScorerConfig struct {
	PriorStrength    float64            // shrinkage prior weight (trades-equivalent)
	BaseRates        map[string]float64 // per-category prior win rate
	DefaultBaseRate  float64
	MinTrades        int // below this the sample penalty bottoms out
	MatureTrades     int // at or above this the sample penalty is 1.0
	HHIThreshold     float64
	HHIPenaltySlope  float64
	ConsistencyDays  int     // rolling Sharpe window length
	VolumeCapUSD     float64 // log-volume sub-score saturates here
	TierVolumes      map[types.Tier]float64
	TierScores       map[types.Tier]float64
}

// DefaultScorerConfig returns calibrated defaults.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		PriorStrength:   20,
		BaseRates:       map[string]float64{},
		DefaultBaseRate: 0.51,
		MinTrades:       10,
		MatureTrades:    100,
		HHIThreshold:    0.50,
		HHIPenaltySlope: 0.60,
		ConsistencyDays: 30,
		VolumeCapUSD:    5_000_000,
		TierScores: map[types.Tier]float64{
			types.TierMega:   85,
			types.TierHigh:   70,
			types.TierMedium: 55,
		},
		TierVolumes: map[types.Tier]float64{
			types.TierMega:   1_000_000,
			types.TierHigh:   250_000,
			types.TierMedium: 50_000,
		},
	}
}

// Scorer turns a whale's rolling history into a score, tier and confidence.
type Scorer struct {
	cfg ScorerConfig
}

func NewScorer(cfg ScorerConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// ScoreResult is the scorer output.
type ScoreResult struct {
	Score      float64 // 0..100
	Tier       types.Tier
	Confidence types.Confidence
	AdjRate    float64 // shrinkage-adjusted win rate
	Drawdown   float64 // trailing max drawdown over the window, 0..1
}

// AdjustedRate applies Bayesian shrinkage of the empirical win rate toward
// the category base rate. With zero trades it returns the base rate exactly,
// and it converges to wins/(wins+losses) as the sample grows.
func (s *Scorer) AdjustedRate(wins, losses int, category string) float64 {
	base := s.baseRate(category)
	n := float64(wins + losses)
	return (float64(wins) + s.cfg.PriorStrength*base) / (n + s.cfg.PriorStrength)
}

func (s *Scorer) baseRate(category string) float64 {
	if r, ok := s.cfg.BaseRates[category]; ok {
		return r
	}
	return s.cfg.DefaultBaseRate
}

// Score computes the composite score over a window of outcomes. A whale
// with zero trades scores 0 with VERY_LOW confidence - a valid, filterable
// result, not an error.
func (s *Scorer) Score(outcomes []outcome, now time.Time) ScoreResult {
	n := len(outcomes)
	if n == 0 {
		return ScoreResult{
			Score:      0,
			Tier:       types.TierLow,
			Confidence: types.ConfidenceVeryLow,
			AdjRate:    s.cfg.DefaultBaseRate,
		}
	}

	wins := 0
	returns := make([]float64, n)
	volume := 0.0
	catShare := map[string]float64{}
	for i, o := range outcomes {
		if o.Win {
			wins++
		}
		returns[i] = o.ReturnPct
		volume += o.Notional
		catShare[o.Category] += o.Notional
	}
	losses := n - wins

	// Dominant category drives the shrinkage prior.
	adjRate := s.AdjustedRate(wins, losses, dominantCategory(catShare))

	mean, std := meanStd(returns)
	maxDD := maxDrawdown(returns)

	composite := s.riskAdjustedScore(mean, std) +
		s.informationRatioScore(returns, adjRate) +
		s.calmarScore(returns, maxDD) +
		s.consistencyScore(outcomes, now) +
		s.volumeScore(volume)

	composite *= s.samplePenalty(n)
	composite *= s.concentrationPenalty(catShare, volume)

	composite = clamp(composite, 0, 100)

	return ScoreResult{
		Score:      composite,
		Tier:       s.tier(composite, volume),
		Confidence: confidenceFor(n),
		AdjRate:    adjRate,
		Drawdown:   maxDD,
	}
}

// riskAdjustedScore maps the annualization-free Sharpe of window returns
// onto [0,30].
func (s *Scorer) riskAdjustedScore(mean, std float64) float64 {
	if std == 0 {
		if mean > 0 {
			return 30
		}
		return 0
	}
	sharpe := mean / std
	return clamp(sharpe/2.0, 0, 1) * 30
}

// informationRatioScore measures edge over the category baseline per unit
// of tracking error, on [0,25].
func (s *Scorer) informationRatioScore(returns []float64, adjRate float64) float64 {
	// Expected per-trade excess of a coin at the adjusted rate vs a fair one.
	edge := adjRate - 0.5
	_, std := meanStd(returns)
	if std == 0 {
		if edge > 0 {
			return 25
		}
		return 0
	}
	ir := edge / std
	return clamp(ir/1.5, 0, 1) * 25
}

// calmarScore is cumulative return over max drawdown, on [0,20].
func (s *Scorer) calmarScore(returns []float64, maxDD float64) float64 {
	total := 0.0
	for _, r := range returns {
		total += r
	}
	if maxDD == 0 {
		if total > 0 {
			return 20
		}
		return 0
	}
	return clamp(total/maxDD/3.0, 0, 1) * 20
}

// consistencyScore is the inverse dispersion of rolling-window Sharpe
// ratios, on [0,15]. Stable performance scores high.
func (s *Scorer) consistencyScore(outcomes []outcome, now time.Time) float64 {
	window := time.Duration(s.cfg.ConsistencyDays) * 24 * time.Hour
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	var sharpes []float64
	// Step back one window at a time across the history.
	end := now
	for i := 0; i < 6; i++ {
		start := end.Add(-window)
		var rs []float64
		for _, o := range outcomes {
			if !o.ClosedAt.Before(start) && o.ClosedAt.Before(end) {
				rs = append(rs, o.ReturnPct)
			}
		}
		if len(rs) >= 3 {
			m, sd := meanStd(rs)
			if sd > 0 {
				sharpes = append(sharpes, m/sd)
			}
		}
		end = start
	}
	if len(sharpes) < 2 {
		// Too short a history to judge stability either way.
		return 7.5
	}
	_, sd := meanStd(sharpes)
	return clamp(1.0/(1.0+sd), 0, 1) * 15
}

// volumeScore is log-scaled and capped so turnover alone cannot dominate,
// on [0,10].
func (s *Scorer) volumeScore(volume float64) float64 {
	if volume <= 1 {
		return 0
	}
	cap := s.cfg.VolumeCapUSD
	if cap <= 1 {
		cap = 5_000_000
	}
	return clamp(math.Log10(volume)/math.Log10(cap), 0, 1) * 10
}

// samplePenalty scales the composite from 50% at MinTrades up to 100% at
// MatureTrades. Below MinTrades it keeps shrinking toward zero.
func (s *Scorer) samplePenalty(n int) float64 {
	if n >= s.cfg.MatureTrades {
		return 1.0
	}
	if n >= s.cfg.MinTrades {
		span := float64(s.cfg.MatureTrades - s.cfg.MinTrades)
		return 0.5 + 0.5*float64(n-s.cfg.MinTrades)/span
	}
	return 0.5 * float64(n) / float64(s.cfg.MinTrades)
}

// concentrationPenalty applies a Herfindahl-Hirschman penalty when the
// whale's notional is concentrated in few categories.
func (s *Scorer) concentrationPenalty(catShare map[string]float64, volume float64) float64 {
	if volume <= 0 || len(catShare) == 0 {
		return 1.0
	}
	hhi := 0.0
	for _, v := range catShare {
		share := v / volume
		hhi += share * share
	}
	if hhi <= s.cfg.HHIThreshold {
		return 1.0
	}
	return clamp(1.0-(hhi-s.cfg.HHIThreshold)*s.cfg.HHIPenaltySlope, 0, 1)
}

// tier applies the fixed (score, volume) threshold ladder.
func (s *Scorer) tier(score, volume float64) types.Tier {
	for _, t := range []types.Tier{types.TierMega, types.TierHigh, types.TierMedium} {
		if score >= s.cfg.TierScores[t] && volume >= s.cfg.TierVolumes[t] {
			return t
		}
	}
	return types.TierLow
}

func confidenceFor(n int) types.Confidence {
	switch {
	case n < 10:
		return types.ConfidenceVeryLow
	case n < 30:
		return types.ConfidenceLow
	case n < 75:
		return types.ConfidenceMedium
	case n < 150:
		return types.ConfidenceHigh
	default:
		return types.ConfidenceVeryHigh
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func dominantCategory(catShare map[string]float64) string {
	keys := make([]string, 0, len(catShare))
	for k := range catShare {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic tie-break
	best, bestV := "", -1.0
	for _, k := range keys {
		if catShare[k] > bestV {
			best, bestV = k, catShare[k]
		}
	}
	return best
}

func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)-1))
}

// maxDrawdown over the cumulative return path, as a positive fraction.
func maxDrawdown(returns []float64) float64 {
	equity, peak, maxDD := 1.0, 1.0, 0.0
	for _, r := range returns {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			dd := (peak - equity) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
