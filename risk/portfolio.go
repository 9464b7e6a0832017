package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polycopy/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PORTFOLIO MANAGER - Single serialization point for all exposure state
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every mutation of portfolio state goes through this one mutex so two
// concurrent signals can never both observe room under a cap and both be
// admitted past it. Admission is check-and-commit in one critical section
// (Reserve); Release/RecordClose unwind it. Callers only ever see copies.
//
// ═══════════════════════════════════════════════════════════════════════════════

// View is a read-only copy of the aggregate, safe to hand out.
type View struct {
	NAV            decimal.Decimal
	TotalExposure  decimal.Decimal
	OpenPositions  int
	PerMarket      map[string]decimal.Decimal
	PerWhale       map[string]decimal.Decimal
	PerCategory    map[string]decimal.Decimal
	DailyPnL       decimal.Decimal
	DailyTrades    int
	Breaker        types.BreakerState
	MVaR           decimal.Decimal
	Drawdown       float64 // trailing drawdown of NAV from its peak
}

// BreakerEvent is published on every breaker transition.
type BreakerEvent struct {
	From   types.BreakerState
	To     types.BreakerState
	Reason string
	At     time.Time
}

// Manager owns the PortfolioState aggregate.
type Manager struct {
	mu     sync.Mutex
	limits *Limits

	nav           decimal.Decimal
	peakNAV       decimal.Decimal
	totalExposure decimal.Decimal
	openCount     int
	perMarket     map[string]decimal.Decimal
	perWhale      map[string]decimal.Decimal
	perCategory   map[string]decimal.Decimal
	marketCount   map[string]int

	dailyPnL    decimal.Decimal
	dailyTrades int
	lastReset   int // year-day

	// Rolling sample of position returns feeding the mVaR moments.
	returns []float64

	breaker     types.BreakerState
	lastBreach  time.Time
	mvar        decimal.Decimal
	onBreaker   func(BreakerEvent)

	now func() time.Time
}

func NewManager(limits *Limits) *Manager {
	return &Manager{
		limits:      limits,
		nav:         limits.InitialCapital,
		peakNAV:     limits.InitialCapital,
		perMarket:   make(map[string]decimal.Decimal),
		perWhale:    make(map[string]decimal.Decimal),
		perCategory: make(map[string]decimal.Decimal),
		marketCount: make(map[string]int),
		breaker:     types.BreakerNormal,
		now:         time.Now,
	}
}

// OnBreakerChange registers the breaker transition consumer.
func (m *Manager) OnBreakerChange(fn func(BreakerEvent)) {
	m.onBreaker = fn
}

// Snapshot returns a copy of the aggregate for the read-mostly stages.
func (m *Manager) Snapshot() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

func (m *Manager) viewLocked() View {
	v := View{
		NAV:           m.nav,
		TotalExposure: m.totalExposure,
		OpenPositions: m.openCount,
		PerMarket:     copyMap(m.perMarket),
		PerWhale:      copyMap(m.perWhale),
		PerCategory:   copyMap(m.perCategory),
		DailyPnL:      m.dailyPnL,
		DailyTrades:   m.dailyTrades,
		Breaker:       m.breaker,
		MVaR:          m.mvar,
	}
	if m.peakNAV.Sign() > 0 {
		v.Drawdown = m.peakNAV.Sub(m.nav).Div(m.peakNAV).InexactFloat64()
	}
	return v
}

// Reserve atomically re-checks every exposure ceiling and commits the
// allocation. A non-nil return is an admission rejection carrying the
// stage/reason code: concurrent callers racing for the last room under a
// cap cannot both succeed.
func (m *Manager) Reserve(sig types.TradeSignal, size decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetDayLocked()

	if m.breaker == types.BreakerHalted {
		return &Rejection{Stage: StagePortfolio, Code: ReasonHalted, Detail: "breaker halted"}
	}
	if size.Sign() <= 0 {
		return &Rejection{Stage: StagePortfolio, Code: ReasonSizeZero, Detail: "non-positive size"}
	}

	maxTotal := m.nav.Mul(decimal.NewFromFloat(m.limits.MaxTotalExposurePct))
	if m.totalExposure.Add(size).GreaterThan(maxTotal) {
		return &Rejection{Stage: StagePortfolio, Code: ReasonTotalExposure,
			Detail: fmt.Sprintf("total exposure cap %s exceeded", maxTotal.StringFixed(2))}
	}
	if m.openCount >= m.limits.MaxConcurrentPositions {
		return &Rejection{Stage: StagePortfolio, Code: ReasonPositionCount,
			Detail: fmt.Sprintf("max concurrent positions %d reached", m.limits.MaxConcurrentPositions)}
	}
	if m.marketCount[sig.MarketID] >= m.limits.MaxPositionsPerMarket {
		return &Rejection{Stage: StagePortfolio, Code: ReasonMarketCap,
			Detail: "max positions per market reached"}
	}
	maxMarket := m.nav.Mul(decimal.NewFromFloat(m.limits.MaxMarketExposurePct))
	if m.perMarket[sig.MarketID].Add(size).GreaterThan(maxMarket) {
		return &Rejection{Stage: StagePortfolio, Code: ReasonMarketCap,
			Detail: fmt.Sprintf("market exposure cap %s exceeded", maxMarket.StringFixed(2))}
	}
	maxWhale := m.nav.Mul(decimal.NewFromFloat(m.limits.MaxWhaleExposurePct))
	if m.perWhale[sig.WhaleID].Add(size).GreaterThan(maxWhale) {
		return &Rejection{Stage: StagePortfolio, Code: ReasonWhaleCap,
			Detail: fmt.Sprintf("whale exposure cap %s exceeded", maxWhale.StringFixed(2))}
	}

	m.totalExposure = m.totalExposure.Add(size)
	m.openCount++
	m.marketCount[sig.MarketID]++
	m.perMarket[sig.MarketID] = m.perMarket[sig.MarketID].Add(size)
	m.perWhale[sig.WhaleID] = m.perWhale[sig.WhaleID].Add(size)
	m.perCategory[sig.Category] = m.perCategory[sig.Category].Add(size)
	m.dailyTrades++
	return nil
}

// ReleasePartial returns a tranche of exposure to the pool without closing
// the position slot.
func (m *Manager) ReleasePartial(pos *types.Position, size, pnl decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked(pos, size, pnl, false)
}

// RecordClose releases a position's remaining exposure and books its PnL.
func (m *Manager) RecordClose(pos *types.Position, remaining, pnl decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked(pos, remaining, pnl, true)
}

func (m *Manager) releaseLocked(pos *types.Position, size, pnl decimal.Decimal, closeSlot bool) {
	m.resetDayLocked()

	m.totalExposure = decimalFloor(m.totalExposure.Sub(size))
	m.perMarket[pos.MarketID] = decimalFloor(m.perMarket[pos.MarketID].Sub(size))
	m.perWhale[pos.WhaleID] = decimalFloor(m.perWhale[pos.WhaleID].Sub(size))
	m.perCategory[pos.Category] = decimalFloor(m.perCategory[pos.Category].Sub(size))
	if closeSlot {
		if m.openCount > 0 {
			m.openCount--
		}
		if m.marketCount[pos.MarketID] > 0 {
			m.marketCount[pos.MarketID]--
		}
	}

	m.nav = m.nav.Add(pnl)
	if m.nav.GreaterThan(m.peakNAV) {
		m.peakNAV = m.nav
	}
	m.dailyPnL = m.dailyPnL.Add(pnl)

	if size.Sign() > 0 {
		m.returns = append(m.returns, pnl.Div(size).InexactFloat64())
		if len(m.returns) > 250 {
			m.returns = m.returns[len(m.returns)-250:]
		}
	}

	m.evaluateBreakerLocked()
}

// CorrelationFor estimates portfolio correlation for a candidate category
// as the share of open exposure already in that category. Category-level
// granularity throughout.
func (m *Manager) CorrelationFor(category string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.totalExposure.Sign() <= 0 {
		return 0
	}
	return m.perCategory[category].Div(m.totalExposure).InexactFloat64()
}

// Breaker returns the current circuit breaker state.
func (m *Manager) Breaker() types.BreakerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.breaker
}

// Evaluate recomputes mVaR and the breaker. Called on closes and by the
// engine's periodic risk sweep.
func (m *Manager) Evaluate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evaluateBreakerLocked()
}

func (m *Manager) evaluateBreakerLocked() {
	mom := moments(m.returns)
	m.mvar = modifiedVaR(mom, m.limits.MVaRConfidenceZ, m.totalExposure)

	soft := m.nav.Mul(decimal.NewFromFloat(m.limits.MVaRSoftPctNAV))
	hard := m.nav.Mul(decimal.NewFromFloat(m.limits.MVaRHardPctNAV))
	dailyLimit := m.nav.Mul(decimal.NewFromFloat(m.limits.MaxDailyLossPct))
	dailyBreach := m.dailyPnL.LessThan(dailyLimit.Neg())
	hardDailyBreach := m.dailyPnL.LessThan(dailyLimit.Mul(decimal.NewFromInt(2)).Neg())

	now := m.now()
	switch {
	case m.mvar.GreaterThan(hard) || hardDailyBreach:
		m.lastBreach = now
		m.transitionLocked(types.BreakerHalted, breachReason(m.mvar, hard, m.dailyPnL))
	case m.mvar.GreaterThan(soft) || dailyBreach:
		m.lastBreach = now
		if m.breaker == types.BreakerNormal {
			m.transitionLocked(types.BreakerThrottled, breachReason(m.mvar, soft, m.dailyPnL))
		}
	default:
		// Recovery needs the breach clear for a full cooldown - no
		// immediate bounce-back. Steps down one level at a time.
		if m.breaker != types.BreakerNormal && now.Sub(m.lastBreach) >= m.limits.BreakerCooldown {
			m.lastBreach = now
			if m.breaker == types.BreakerHalted {
				m.transitionLocked(types.BreakerThrottled, "cooldown elapsed")
			} else {
				m.transitionLocked(types.BreakerNormal, "cooldown elapsed")
			}
		}
	}
}

func (m *Manager) transitionLocked(to types.BreakerState, reason string) {
	if m.breaker == to {
		return
	}
	from := m.breaker
	m.breaker = to
	log.Warn().
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", reason).
		Str("mvar", m.mvar.StringFixed(2)).
		Msg("🚨 Circuit breaker transition")

	if fn := m.onBreaker; fn != nil {
		fn(BreakerEvent{From: from, To: to, Reason: reason, At: m.now()})
	}
}

// Halt forces the breaker to HALTED. Administrative use.
func (m *Manager) Halt(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastBreach = m.now()
	m.transitionLocked(types.BreakerHalted, reason)
}

func (m *Manager) resetDayLocked() {
	today := m.now().YearDay()
	if m.lastReset != today {
		m.dailyPnL = decimal.Zero
		m.dailyTrades = 0
		m.lastReset = today
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func breachReason(mvar, limit decimal.Decimal, dailyPnL decimal.Decimal) string {
	if mvar.GreaterThan(limit) {
		return fmt.Sprintf("mVaR %s over limit %s", mvar.StringFixed(2), limit.StringFixed(2))
	}
	return fmt.Sprintf("daily loss %s over limit", dailyPnL.StringFixed(2))
}

func copyMap(in map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// decimalFloor clamps tiny negative residue from decimal subtraction.
func decimalFloor(d decimal.Decimal) decimal.Decimal {
	if d.Sign() < 0 {
		return decimal.Zero
	}
	return d
}
