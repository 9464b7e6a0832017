package feeds

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// VOLATILITY TRACKER - EWMA volatility + ATR per market
// ═══════════════════════════════════════════════════════════════════════════════
//
// EWMA of squared log returns (RiskMetrics-style, decay λ) feeds the
// sizer's inverse-volatility factor; a rolling ATR feeds the lifecycle
// manager's trailing-stop distance.
//
// ═══════════════════════════════════════════════════════════════════════════════

type marketVol struct {
	lastPrice float64
	variance  float64 // EWMA of squared returns
	atr       float64 // EWMA of absolute tick ranges
	seeded    bool
}

// VolatilityTracker maintains per-market EWMA volatility estimates.
type VolatilityTracker struct {
	mu      sync.RWMutex
	lambda  float64
	markets map[string]*marketVol
}

func NewVolatilityTracker(lambda float64) *VolatilityTracker {
	if lambda <= 0 || lambda >= 1 {
		lambda = 0.94
	}
	return &VolatilityTracker{
		lambda:  lambda,
		markets: make(map[string]*marketVol),
	}
}

// Update folds a new mark price into the market's estimates.
func (vt *VolatilityTracker) Update(marketID string, price decimal.Decimal) {
	p := price.InexactFloat64()
	if p <= 0 {
		return
	}

	vt.mu.Lock()
	defer vt.mu.Unlock()

	mv, ok := vt.markets[marketID]
	if !ok {
		mv = &marketVol{}
		vt.markets[marketID] = mv
	}
	if !mv.seeded {
		mv.lastPrice = p
		mv.seeded = true
		return
	}

	r := math.Log(p / mv.lastPrice)
	mv.variance = vt.lambda*mv.variance + (1-vt.lambda)*r*r
	mv.atr = vt.lambda*mv.atr + (1-vt.lambda)*math.Abs(p-mv.lastPrice)
	mv.lastPrice = p
}

// Volatility returns the EWMA volatility (std of returns) for a market.
// Unknown markets report zero, which the sizer treats as calm.
func (vt *VolatilityTracker) Volatility(marketID string) float64 {
	vt.mu.RLock()
	defer vt.mu.RUnlock()
	if mv, ok := vt.markets[marketID]; ok {
		return math.Sqrt(mv.variance)
	}
	return 0
}

// ATR returns the average tick range for a market.
func (vt *VolatilityTracker) ATR(marketID string) float64 {
	vt.mu.RLock()
	defer vt.mu.RUnlock()
	if mv, ok := vt.markets[marketID]; ok {
		return mv.atr
	}
	return 0
}
