package risk

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/web3guy0/polycopy/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RISK LIMITS - Immutable configuration snapshot
// ═══════════════════════════════════════════════════════════════════════════════
//
// Constructed once at startup and passed by reference. A runtime change
// produces a new snapshot; nothing mutates a Limits in place. Malformed
// limits are fatal at startup only.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Limits is the full risk configuration.
type Limits struct {
	// Capital
	InitialCapital decimal.Decimal `yaml:"initial_capital"`

	// Portfolio ceilings
	MaxTotalExposurePct    float64 `yaml:"max_total_exposure_pct"` // of NAV
	MaxConcurrentPositions int     `yaml:"max_concurrent_positions"`
	MaxPositionsPerMarket  int     `yaml:"max_positions_per_market"`
	MaxMarketExposurePct   float64 `yaml:"max_market_exposure_pct"`
	MaxWhaleExposurePct    float64 `yaml:"max_whale_exposure_pct"`
	MaxCorrelation         float64 `yaml:"max_correlation"` // category-level proxy
	MaxDailyLossPct        float64 `yaml:"max_daily_loss_pct"`

	// Per-tier allocation caps, fraction of NAV.
	TierAllocationPct map[types.Tier]float64 `yaml:"tier_allocation_pct"`

	// Whale gate
	MinWhaleScore    float64 `yaml:"min_whale_score"`
	MaxWhaleDrawdown float64 `yaml:"max_whale_drawdown"`

	// Trade gate
	MinWhaleSize      decimal.Decimal `yaml:"min_whale_size"`
	MaxWhaleSize      decimal.Decimal `yaml:"max_whale_size"`
	MinEntryPrice     decimal.Decimal `yaml:"min_entry_price"`
	MaxEntryPrice     decimal.Decimal `yaml:"max_entry_price"`
	MinLiquidity      decimal.Decimal `yaml:"min_liquidity"`
	AllowedCategories []string        `yaml:"allowed_categories"`

	// Sizing
	KellyMultiplier float64         `yaml:"kelly_multiplier"`
	EWMALambda      float64         `yaml:"ewma_lambda"`
	MinPosition     decimal.Decimal `yaml:"min_position"`
	MaxPosition     decimal.Decimal `yaml:"max_position"`
	MaxTradePctNAV  float64         `yaml:"max_trade_pct_nav"`

	// Exits
	StopLossPct        float64       `yaml:"stop_loss_pct"`
	TakeProfitPcts     []float64     `yaml:"take_profit_pcts"` // ascending tranche triggers
	TakeProfitFraction float64       `yaml:"take_profit_fraction"`
	TrailingATRMult    float64       `yaml:"trailing_atr_mult"`
	PreResolutionExit  time.Duration `yaml:"pre_resolution_exit"`

	// Breaker
	MVaRConfidenceZ   float64       `yaml:"mvar_confidence_z"` // e.g. 1.645 for 95%
	MVaRSoftPctNAV    float64       `yaml:"mvar_soft_pct_nav"`
	MVaRHardPctNAV    float64       `yaml:"mvar_hard_pct_nav"`
	BreakerCooldown   time.Duration `yaml:"breaker_cooldown"`
	ThrottleSizeMult  float64       `yaml:"throttle_size_mult"`
}

// DefaultLimits returns a conservative baseline.
func DefaultLimits() *Limits {
	return &Limits{
		InitialCapital:         decimal.NewFromInt(10_000),
		MaxTotalExposurePct:    0.50,
		MaxConcurrentPositions: 10,
		MaxPositionsPerMarket:  1,
		MaxMarketExposurePct:   0.10,
		MaxWhaleExposurePct:    0.15,
		MaxCorrelation:         0.60,
		MaxDailyLossPct:        0.05,
		TierAllocationPct: map[types.Tier]float64{
			types.TierMega:   0.08,
			types.TierHigh:   0.05,
			types.TierMedium: 0.03,
			types.TierLow:    0.01,
		},
		MinWhaleScore:      55,
		MaxWhaleDrawdown:   0.35,
		MinWhaleSize:       decimal.NewFromInt(500),
		MaxWhaleSize:       decimal.NewFromInt(250_000),
		MinEntryPrice:      decimal.NewFromFloat(0.10),
		MaxEntryPrice:      decimal.NewFromFloat(0.90),
		MinLiquidity:       decimal.NewFromInt(10_000),
		AllowedCategories:  []string{"crypto", "politics", "sports", "economics"},
		KellyMultiplier:    0.25,
		EWMALambda:         0.94,
		MinPosition:        decimal.NewFromInt(10),
		MaxPosition:        decimal.NewFromInt(1_000),
		MaxTradePctNAV:     0.08,
		StopLossPct:        0.25,
		TakeProfitPcts:     []float64{0.20, 0.40},
		TakeProfitFraction: 0.50,
		TrailingATRMult:    2.0,
		PreResolutionExit:  30 * time.Minute,
		MVaRConfidenceZ:    1.645,
		MVaRSoftPctNAV:     0.05,
		MVaRHardPctNAV:     0.10,
		BreakerCooldown:    30 * time.Minute,
		ThrottleSizeMult:   0.50,
	}
}

// LoadLimits reads a YAML limits file over the defaults. A missing path
// returns the defaults unchanged.
func LoadLimits(path string) (*Limits, error) {
	l := DefaultLimits()
	if path == "" {
		return l, l.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read limits file: %w", err)
	}
	if err := yaml.Unmarshal(data, l); err != nil {
		return nil, fmt.Errorf("parse limits file: %w", err)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

// Validate rejects malformed limits. Fatal at startup only.
func (l *Limits) Validate() error {
	switch {
	case l.InitialCapital.Sign() <= 0:
		return fmt.Errorf("initial_capital must be positive")
	case l.MaxTotalExposurePct <= 0 || l.MaxTotalExposurePct > 1:
		return fmt.Errorf("max_total_exposure_pct must be in (0,1]")
	case l.MaxConcurrentPositions <= 0:
		return fmt.Errorf("max_concurrent_positions must be positive")
	case l.KellyMultiplier <= 0 || l.KellyMultiplier > 1:
		return fmt.Errorf("kelly_multiplier must be in (0,1]")
	case l.EWMALambda <= 0 || l.EWMALambda >= 1:
		return fmt.Errorf("ewma_lambda must be in (0,1)")
	case l.StopLossPct <= 0 || l.StopLossPct >= 1:
		return fmt.Errorf("stop_loss_pct must be in (0,1)")
	case l.MinEntryPrice.Sign() <= 0 || l.MaxEntryPrice.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return fmt.Errorf("entry price band must be inside (0,1)")
	case l.MinEntryPrice.GreaterThanOrEqual(l.MaxEntryPrice):
		return fmt.Errorf("min_entry_price must be below max_entry_price")
	case l.MinPosition.Sign() <= 0 || l.MinPosition.GreaterThan(l.MaxPosition):
		return fmt.Errorf("position bounds inverted")
	case l.MaxTradePctNAV <= 0 || l.MaxTradePctNAV > 1:
		return fmt.Errorf("max_trade_pct_nav must be in (0,1]")
	case l.MVaRSoftPctNAV <= 0 || l.MVaRHardPctNAV <= l.MVaRSoftPctNAV:
		return fmt.Errorf("mvar thresholds must satisfy 0 < soft < hard")
	case l.ThrottleSizeMult <= 0 || l.ThrottleSizeMult > 1:
		return fmt.Errorf("throttle_size_mult must be in (0,1]")
	case l.TakeProfitFraction <= 0 || l.TakeProfitFraction >= 1:
		return fmt.Errorf("take_profit_fraction must be in (0,1)")
	}
	for i := 1; i < len(l.TakeProfitPcts); i++ {
		if l.TakeProfitPcts[i] <= l.TakeProfitPcts[i-1] {
			return fmt.Errorf("take_profit_pcts must be strictly ascending")
		}
	}
	return nil
}

// CategoryAllowed checks the trade-gate allow-list.
func (l *Limits) CategoryAllowed(category string) bool {
	if len(l.AllowedCategories) == 0 {
		return true
	}
	for _, c := range l.AllowedCategories {
		if c == category {
			return true
		}
	}
	return false
}

// TierCapPct returns the allocation cap for a tier, fraction of NAV.
func (l *Limits) TierCapPct(tier types.Tier) float64 {
	if pct, ok := l.TierAllocationPct[tier]; ok {
		return pct
	}
	return l.TierAllocationPct[types.TierLow]
}
