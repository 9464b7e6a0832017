package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/polycopy/types"
	"github.com/web3guy0/polycopy/whale"
)

func testSignal(price float64) types.TradeSignal {
	return types.TradeSignal{
		WhaleID:    "w1",
		MarketID:   "m1",
		Category:   "crypto",
		Side:       types.SideBuy,
		WhaleSize:  decimal.NewFromInt(5000),
		WhalePrice: decimal.NewFromFloat(price),
	}
}

func megaSnapshot(adjRate float64) whale.Snapshot {
	return whale.Snapshot{
		WhaleID:    "w1",
		Score:      90,
		Tier:       types.TierMega,
		Confidence: types.ConfidenceVeryHigh,
		AdjRate:    adjRate,
	}
}

// TestKellyEdge_Buy tests f* = (q-p)/(1-p) floored at zero
func TestKellyEdge_Buy(t *testing.T) {
	assert.InDelta(t, 0.2, KellyEdge(types.SideBuy, 0.6, 0.5), 1e-9)
	assert.InDelta(t, 0.0, KellyEdge(types.SideBuy, 0.5, 0.5), 1e-9)
	assert.Equal(t, 0.0, KellyEdge(types.SideBuy, 0.4, 0.5), "negative edge floors at 0")
}

// TestKellyEdge_Sell tests the symmetric short-side edge
func TestKellyEdge_Sell(t *testing.T) {
	// Whale sells an outcome priced 0.7 it believes wins only 50% of the
	// time: buying the complement at 0.3 with probability 0.5.
	assert.InDelta(t, (0.5-0.3)/0.7, KellyEdge(types.SideSell, 0.5, 0.7), 1e-9)
	assert.Equal(t, 0.0, KellyEdge(types.SideSell, 0.8, 0.7), "favorite's side has no short edge")
}

// TestSize_NonPositiveEdgeRejects tests that q <= p never yields a position
func TestSize_NonPositiveEdgeRejects(t *testing.T) {
	limits := DefaultLimits()
	s := NewSizer(limits, NewManager(limits))

	for _, q := range []float64{0.30, 0.50} {
		size, rej := s.Size(testSignal(0.50), megaSnapshot(q), 1.0, 0)
		require.NotNil(t, rej, "q=%.2f", q)
		assert.Equal(t, ReasonNoEdge, rej.Code)
		assert.True(t, size.IsZero())
	}
}

// TestSize_WithinBounds tests the [min_position, max_position] clamp and
// the hard %NAV cap
func TestSize_WithinBounds(t *testing.T) {
	limits := DefaultLimits()
	mgr := NewManager(limits)
	s := NewSizer(limits, mgr)

	// Strong edge that would overshoot every cap uncapped.
	size, rej := s.Size(testSignal(0.20), megaSnapshot(0.90), 1.0, 0)
	require.Nil(t, rej)

	navCap := limits.InitialCapital.Mul(decimal.NewFromFloat(limits.MaxTradePctNAV))
	assert.True(t, size.GreaterThanOrEqual(limits.MinPosition))
	assert.True(t, size.LessThanOrEqual(limits.MaxPosition))
	assert.True(t, size.LessThanOrEqual(navCap), "size %s over NAV cap %s", size, navCap)
}

// TestSize_ModerateEdge tests the plain fractional-Kelly path
func TestSize_ModerateEdge(t *testing.T) {
	limits := DefaultLimits()
	s := NewSizer(limits, NewManager(limits))

	// f* = (0.6-0.5)/0.5 = 0.2; applied = 0.2 * 0.25 = 0.05 of available.
	size, rej := s.Size(testSignal(0.50), megaSnapshot(0.60), 1.0, 0)
	require.Nil(t, rej)
	assert.True(t, size.Equal(decimal.NewFromInt(500)), "got %s", size)
}

// TestSize_ThrottleMultiplier tests that a THROTTLED breaker shrinks, not
// rejects
func TestSize_ThrottleMultiplier(t *testing.T) {
	limits := DefaultLimits()
	s := NewSizer(limits, NewManager(limits))

	full, rej := s.Size(testSignal(0.50), megaSnapshot(0.60), 1.0, 0)
	require.Nil(t, rej)
	half, rej := s.Size(testSignal(0.50), megaSnapshot(0.60), limits.ThrottleSizeMult, 0)
	require.Nil(t, rej)

	assert.True(t, half.LessThan(full))
	assert.True(t, half.Equal(full.Mul(decimal.NewFromFloat(limits.ThrottleSizeMult)).Truncate(2)))
}

// TestSize_VolatilityShrinks tests the inverse-volatility factor
func TestSize_VolatilityShrinks(t *testing.T) {
	limits := DefaultLimits()
	s := NewSizer(limits, NewManager(limits))

	calm, rej := s.Size(testSignal(0.50), megaSnapshot(0.60), 1.0, 0)
	require.Nil(t, rej)
	stormy, rej := s.Size(testSignal(0.50), megaSnapshot(0.60), 1.0, 0.20)
	require.Nil(t, rej)

	assert.True(t, stormy.LessThan(calm))
}

// TestSize_LowerTierSmaller tests the confidence factor ordering
func TestSize_LowerTierSmaller(t *testing.T) {
	limits := DefaultLimits()
	s := NewSizer(limits, NewManager(limits))

	mega, rej := s.Size(testSignal(0.50), megaSnapshot(0.60), 1.0, 0)
	require.Nil(t, rej)

	low := megaSnapshot(0.60)
	low.Tier = types.TierLow
	low.Confidence = types.ConfidenceLow
	small, rej := s.Size(testSignal(0.50), low, 1.0, 0)
	require.Nil(t, rej)

	assert.True(t, small.LessThan(mega))
}

// TestSize_DustRejects tests the zero-after-clamp rejection
func TestSize_DustRejects(t *testing.T) {
	limits := DefaultLimits()
	limits.MinPosition = decimal.NewFromInt(100)
	s := NewSizer(limits, NewManager(limits))

	// Edge of 1% at quarter-kelly on low tier: dust.
	low := megaSnapshot(0.505)
	low.Tier = types.TierLow
	low.Confidence = types.ConfidenceVeryLow
	size, rej := s.Size(testSignal(0.50), low, 1.0, 0)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonSizeZero, rej.Code)
	assert.True(t, size.IsZero())
}

// TestAdjustmentFactors_Range tests every factor stays in (0,1]
func TestAdjustmentFactors_Range(t *testing.T) {
	for _, v := range []float64{0, 0.01, 0.1, 1, 100} {
		f := volatilityFactor(v)
		assert.Greater(t, f, 0.0)
		assert.LessOrEqual(t, f, 1.0)
	}
	for _, c := range []float64{0, 0.3, 0.6, 1, 2} {
		f := correlationFactor(c)
		assert.Greater(t, f, 0.0)
		assert.LessOrEqual(t, f, 1.0)
	}
	for _, d := range []float64{0, 0.02, 0.05, 0.2} {
		f := drawdownFactor(d, 0.05)
		assert.Greater(t, f, 0.0)
		assert.LessOrEqual(t, f, 1.0)
	}
}
