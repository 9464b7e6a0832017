package whale

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/polycopy/types"
)

// TestAdjustedRate_ZeroTrades tests that shrinkage returns the base rate exactly
func TestAdjustedRate_ZeroTrades(t *testing.T) {
	cfg := DefaultScorerConfig()
	cfg.BaseRates = map[string]float64{"crypto": 0.52}
	s := NewScorer(cfg)

	assert.Equal(t, 0.52, s.AdjustedRate(0, 0, "crypto"))
}

// TestAdjustedRate_Bounded tests that the adjusted rate stays in [0,1]
func TestAdjustedRate_Bounded(t *testing.T) {
	s := NewScorer(DefaultScorerConfig())

	for _, tc := range []struct{ wins, losses int }{
		{0, 0}, {1, 0}, {0, 1}, {100, 0}, {0, 100}, {37, 63}, {500, 1},
	} {
		r := s.AdjustedRate(tc.wins, tc.losses, "sports")
		assert.GreaterOrEqual(t, r, 0.0, "wins=%d losses=%d", tc.wins, tc.losses)
		assert.LessOrEqual(t, r, 1.0, "wins=%d losses=%d", tc.wins, tc.losses)
	}
}

// TestAdjustedRate_ConvergesToEmpirical tests the large-sample limit
func TestAdjustedRate_ConvergesToEmpirical(t *testing.T) {
	s := NewScorer(DefaultScorerConfig())

	// 70% empirical rate at growing sample sizes
	prev := 1.0
	for _, n := range []int{10, 100, 1000, 100000} {
		wins := n * 7 / 10
		r := s.AdjustedRate(wins, n-wins, "crypto")
		diff := r - 0.7
		if diff < 0 {
			diff = -diff
		}
		assert.Less(t, diff, prev, "n=%d should be closer to 0.7 than n/10", n)
		prev = diff
	}

	r := s.AdjustedRate(700000, 300000, "crypto")
	assert.InDelta(t, 0.7, r, 0.001)
}

// TestAdjustedRate_SevenThreeScenario tests the calibrated 7/3 case:
// (7 + 20*0.52) / (10 + 20) = 0.58
func TestAdjustedRate_SevenThreeScenario(t *testing.T) {
	cfg := DefaultScorerConfig()
	cfg.PriorStrength = 20
	cfg.BaseRates = map[string]float64{"politics": 0.52}
	s := NewScorer(cfg)

	assert.InDelta(t, 0.58, s.AdjustedRate(7, 3, "politics"), 1e-9)
}

// TestScore_ZeroTrades tests that an empty history is a valid result, not a fault
func TestScore_ZeroTrades(t *testing.T) {
	s := NewScorer(DefaultScorerConfig())

	res := s.Score(nil, time.Now())
	assert.Equal(t, 0.0, res.Score)
	assert.Equal(t, types.TierLow, res.Tier)
	assert.Equal(t, types.ConfidenceVeryLow, res.Confidence)
}

// TestScore_Bounded tests that the composite stays in [0,100] by construction
func TestScore_Bounded(t *testing.T) {
	s := NewScorer(DefaultScorerConfig())
	now := time.Now()

	histories := [][]outcome{
		winningHistory(now, 200, 0.15, 2_000_000),
		losingHistory(now, 200),
		winningHistory(now, 3, 5.0, 100_000_000), // absurd returns and volume
	}
	for i, h := range histories {
		res := s.Score(h, now)
		assert.GreaterOrEqual(t, res.Score, 0.0, "history %d", i)
		assert.LessOrEqual(t, res.Score, 100.0, "history %d", i)
	}
}

// TestScore_SamplePenalty tests that thin histories are discounted
func TestScore_SamplePenalty(t *testing.T) {
	s := NewScorer(DefaultScorerConfig())
	now := time.Now()

	thin := s.Score(winningHistory(now, 12, 0.10, 500_000), now)
	mature := s.Score(winningHistory(now, 150, 0.10, 500_000), now)

	assert.Less(t, thin.Score, mature.Score)
}

// TestSamplePenalty_Bounds tests the 50%..100% ramp
func TestSamplePenalty_Bounds(t *testing.T) {
	cfg := DefaultScorerConfig()
	cfg.MinTrades = 10
	cfg.MatureTrades = 100
	s := NewScorer(cfg)

	assert.InDelta(t, 0.5, s.samplePenalty(10), 1e-9)
	assert.InDelta(t, 1.0, s.samplePenalty(100), 1e-9)
	assert.InDelta(t, 1.0, s.samplePenalty(500), 1e-9)
	assert.Less(t, s.samplePenalty(5), 0.5)
	mid := s.samplePenalty(55)
	assert.Greater(t, mid, 0.5)
	assert.Less(t, mid, 1.0)
}

// TestConcentrationPenalty tests the HHI discount above the threshold
func TestConcentrationPenalty(t *testing.T) {
	s := NewScorer(DefaultScorerConfig())

	// Evenly spread across four categories: HHI 0.25, no penalty.
	spread := map[string]float64{"a": 25, "b": 25, "c": 25, "d": 25}
	assert.Equal(t, 1.0, s.concentrationPenalty(spread, 100))

	// Everything in one category: HHI 1.0, penalized.
	packed := map[string]float64{"a": 100}
	assert.Less(t, s.concentrationPenalty(packed, 100), 1.0)
}

// TestTierLadder tests the (score, volume) thresholds
func TestTierLadder(t *testing.T) {
	s := NewScorer(DefaultScorerConfig())

	assert.Equal(t, types.TierMega, s.tier(90, 2_000_000))
	assert.Equal(t, types.TierHigh, s.tier(90, 300_000)) // volume too thin for MEGA
	assert.Equal(t, types.TierHigh, s.tier(75, 2_000_000))
	assert.Equal(t, types.TierMedium, s.tier(60, 60_000))
	assert.Equal(t, types.TierLow, s.tier(90, 1_000)) // big score, tiny volume
	assert.Equal(t, types.TierLow, s.tier(10, 5_000_000))
}

// TestConfidenceBuckets tests the trade-count buckets
func TestConfidenceBuckets(t *testing.T) {
	assert.Equal(t, types.ConfidenceVeryLow, confidenceFor(0))
	assert.Equal(t, types.ConfidenceVeryLow, confidenceFor(9))
	assert.Equal(t, types.ConfidenceLow, confidenceFor(10))
	assert.Equal(t, types.ConfidenceMedium, confidenceFor(30))
	assert.Equal(t, types.ConfidenceHigh, confidenceFor(75))
	assert.Equal(t, types.ConfidenceVeryHigh, confidenceFor(150))
}

// TestMaxDrawdown tests the cumulative-path drawdown helper
func TestMaxDrawdown(t *testing.T) {
	require.Equal(t, 0.0, maxDrawdown(nil))
	assert.Equal(t, 0.0, maxDrawdown([]float64{0.1, 0.1, 0.1}))

	// +10% then -50%: peak 1.1, trough 0.55
	dd := maxDrawdown([]float64{0.10, -0.50})
	assert.InDelta(t, 0.50, dd, 1e-9)
}

// Helpers

func winningHistory(now time.Time, n int, ret, totalVolume float64) []outcome {
	out := make([]outcome, n)
	for i := range out {
		out[i] = outcome{
			ClosedAt:  now.Add(-time.Duration(n-i) * 12 * time.Hour),
			Category:  []string{"crypto", "politics", "sports"}[i%3],
			Win:       i%4 != 0, // 75% win rate
			ReturnPct: ret * float64(1+i%3) / 2,
			Notional:  totalVolume / float64(n),
		}
	}
	return out
}

func losingHistory(now time.Time, n int) []outcome {
	out := make([]outcome, n)
	for i := range out {
		out[i] = outcome{
			ClosedAt:  now.Add(-time.Duration(n-i) * 12 * time.Hour),
			Category:  "crypto",
			Win:       false,
			ReturnPct: -0.10,
			Notional:  1000,
		}
	}
	return out
}
