package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/polycopy/types"
	"github.com/web3guy0/polycopy/whale"
)

func goodSignal() types.TradeSignal {
	return types.TradeSignal{
		WhaleID:    "w1",
		MarketID:   "m1",
		Category:   "crypto",
		Side:       types.SideBuy,
		WhaleSize:  decimal.NewFromInt(5000),
		WhalePrice: decimal.NewFromFloat(0.45),
		ObservedAt: time.Now(),
	}
}

func goodSnapshot() whale.Snapshot {
	return whale.Snapshot{
		WhaleID:    "w1",
		Score:      80,
		Tier:       types.TierHigh,
		Confidence: types.ConfidenceHigh,
		AdjRate:    0.58,
		Drawdown:   0.10,
	}
}

func goodMarket() types.MarketInfo {
	return types.MarketInfo{
		MarketID:     "m1",
		Category:     "crypto",
		Liquidity:    decimal.NewFromInt(50_000),
		ResolutionAt: time.Now().Add(48 * time.Hour),
	}
}

func newPipeline(t *testing.T) (*Pipeline, *Manager) {
	t.Helper()
	limits := DefaultLimits()
	m := NewManager(limits)
	return NewPipeline(limits, m), m
}

// TestPipeline_AcceptsCleanSignal tests the happy path through all gates
func TestPipeline_AcceptsCleanSignal(t *testing.T) {
	p, _ := newPipeline(t)

	d := p.Evaluate(goodSignal(), goodSnapshot(), goodMarket())
	require.Nil(t, d.Rejection)
	assert.True(t, d.Accepted)
	assert.Equal(t, 1.0, d.SizeMult)
}

// TestPipeline_QuarantineOverridesTier tests that quarantine rejects even
// a top-scoring whale at the first gate
func TestPipeline_QuarantineOverridesTier(t *testing.T) {
	p, _ := newPipeline(t)

	snap := goodSnapshot()
	snap.Score = 99
	snap.Tier = types.TierMega
	snap.Quarantined = true
	snap.QuarantineReason = "edge decay"

	d := p.Evaluate(goodSignal(), snap, goodMarket())
	require.NotNil(t, d.Rejection)
	assert.Equal(t, StageWhale, d.Rejection.Stage)
	assert.Equal(t, ReasonQuarantined, d.Rejection.Code)
}

// TestPipeline_ScoreBelowMinimum tests the whale-gate score threshold
func TestPipeline_ScoreBelowMinimum(t *testing.T) {
	p, _ := newPipeline(t)

	snap := goodSnapshot()
	snap.Score = 30

	d := p.Evaluate(goodSignal(), snap, goodMarket())
	require.NotNil(t, d.Rejection)
	assert.Equal(t, ReasonScoreTooLow, d.Rejection.Code)
}

// TestPipeline_WhaleDrawdownCeiling tests the whale-gate drawdown check
func TestPipeline_WhaleDrawdownCeiling(t *testing.T) {
	p, _ := newPipeline(t)

	snap := goodSnapshot()
	snap.Drawdown = 0.50

	d := p.Evaluate(goodSignal(), snap, goodMarket())
	require.NotNil(t, d.Rejection)
	assert.Equal(t, ReasonDrawdown, d.Rejection.Code)
}

// TestPipeline_TradeGateChecks tests size band, category, price band and
// liquidity floor rejections
func TestPipeline_TradeGateChecks(t *testing.T) {
	p, _ := newPipeline(t)

	tests := []struct {
		name   string
		mutate func(*types.TradeSignal, *types.MarketInfo)
		code   string
	}{
		{"size too small", func(s *types.TradeSignal, _ *types.MarketInfo) {
			s.WhaleSize = decimal.NewFromInt(100)
		}, ReasonSizeBand},
		{"size too large", func(s *types.TradeSignal, _ *types.MarketInfo) {
			s.WhaleSize = decimal.NewFromInt(999_999)
		}, ReasonSizeBand},
		{"category not allowed", func(s *types.TradeSignal, _ *types.MarketInfo) {
			s.Category = "weather"
		}, ReasonCategory},
		{"price near certainty", func(s *types.TradeSignal, _ *types.MarketInfo) {
			s.WhalePrice = decimal.NewFromFloat(0.97)
		}, ReasonPriceBand},
		{"price near impossibility", func(s *types.TradeSignal, _ *types.MarketInfo) {
			s.WhalePrice = decimal.NewFromFloat(0.03)
		}, ReasonPriceBand},
		{"illiquid market", func(_ *types.TradeSignal, m *types.MarketInfo) {
			m.Liquidity = decimal.NewFromInt(100)
		}, ReasonLiquidity},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sig, market := goodSignal(), goodMarket()
			tc.mutate(&sig, &market)
			d := p.Evaluate(sig, goodSnapshot(), market)
			require.NotNil(t, d.Rejection)
			assert.Equal(t, StageTrade, d.Rejection.Stage)
			assert.Equal(t, tc.code, d.Rejection.Code)
		})
	}
}

// TestPipeline_ShortCircuits tests that a whale-gate failure reports the
// whale stage even when later gates would also fail
func TestPipeline_ShortCircuits(t *testing.T) {
	p, _ := newPipeline(t)

	snap := goodSnapshot()
	snap.Quarantined = true
	sig := goodSignal()
	sig.WhalePrice = decimal.NewFromFloat(0.99) // would fail the trade gate too

	d := p.Evaluate(sig, snap, goodMarket())
	require.NotNil(t, d.Rejection)
	assert.Equal(t, StageWhale, d.Rejection.Stage)
}

// TestPipeline_HaltedRejectsEverything tests that a HALTED breaker rejects
// 100% of signals at the portfolio gate regardless of whale score
func TestPipeline_HaltedRejectsEverything(t *testing.T) {
	p, m := newPipeline(t)
	m.Halt("test")

	snap := goodSnapshot()
	snap.Score = 100
	snap.Tier = types.TierMega

	for i := 0; i < 50; i++ {
		d := p.Evaluate(goodSignal(), snap, goodMarket())
		require.NotNil(t, d.Rejection, "signal %d must be rejected", i)
		assert.Equal(t, StagePortfolio, d.Rejection.Stage)
		assert.Equal(t, ReasonHalted, d.Rejection.Code)
	}
}

// TestPipeline_ThrottledReducesSize tests the THROTTLED size multiplier
// path: admitted, but smaller
func TestPipeline_ThrottledReducesSize(t *testing.T) {
	p, m := newPipeline(t)
	m.breaker = types.BreakerThrottled

	d := p.Evaluate(goodSignal(), goodSnapshot(), goodMarket())
	require.Nil(t, d.Rejection)
	assert.Equal(t, p.limits.ThrottleSizeMult, d.SizeMult)
}

// TestPipeline_CorrelationCeiling tests the category concentration check
func TestPipeline_CorrelationCeiling(t *testing.T) {
	p, m := newPipeline(t)

	// Fill the book with crypto exposure only.
	require.NoError(t, m.Reserve(types.TradeSignal{WhaleID: "w9", MarketID: "m9", Category: "crypto"}, decimal.NewFromInt(500)))

	d := p.Evaluate(goodSignal(), goodSnapshot(), goodMarket())
	require.NotNil(t, d.Rejection)
	assert.Equal(t, ReasonCorrelation, d.Rejection.Code)

	// A different category sails through.
	sig := goodSignal()
	sig.MarketID = "m2"
	sig.Category = "sports"
	d = p.Evaluate(sig, goodSnapshot(), goodMarket())
	assert.Nil(t, d.Rejection)
}
