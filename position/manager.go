package position

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polycopy/risk"
	"github.com/web3guy0/polycopy/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION LIFECYCLE MANAGER - OPEN → PARTIALLY_CLOSED → CLOSED
// ═══════════════════════════════════════════════════════════════════════════════
//
// Owns every open position exclusively. Transitions for a given position
// are serialized behind its own lock, so a stop-loss tick and a manual
// close can never race each other; independent positions transition
// concurrently. CLOSED is terminal.
//
// ═══════════════════════════════════════════════════════════════════════════════

// entry couples a position with its transition lock.
type entry struct {
	mu  sync.Mutex
	pos *types.Position
}

// Manager drives position state from price ticks and the clock.
type Manager struct {
	mu        sync.RWMutex
	limits    *risk.Limits
	portfolio *risk.Manager
	book      map[string]*entry   // by position id
	byMarket  map[string][]string // market id -> position ids

	onOrder  func(types.PositionOrder)
	onClosed func(types.ClosedTrade, types.Position)

	now func() time.Time
}

func NewManager(limits *risk.Limits, portfolio *risk.Manager) *Manager {
	return &Manager{
		limits:    limits,
		portfolio: portfolio,
		book:      make(map[string]*entry),
		byMarket:  make(map[string][]string),
		now:       time.Now,
	}
}

// OnOrder registers the execution collaborator sink.
func (m *Manager) OnOrder(fn func(types.PositionOrder)) { m.onOrder = fn }

// OnClosed registers the closed-trade feedback sink (whale history, decay
// detector, persistence).
func (m *Manager) OnClosed(fn func(types.ClosedTrade, types.Position)) { m.onClosed = fn }

// Open creates a position from a reserved allocation and emits the entry
// order. OPEN is only ever entered here.
func (m *Manager) Open(sig types.TradeSignal, size decimal.Decimal, market types.MarketInfo) *types.Position {
	now := m.now()
	entryPrice := sig.WhalePrice

	pos := &types.Position{
		ID:           uuid.NewString(),
		WhaleID:      sig.WhaleID,
		MarketID:     sig.MarketID,
		Category:     sig.Category,
		Side:         sig.Side,
		EntryPrice:   entryPrice,
		Size:         size,
		Remaining:    size,
		StopLoss:     initialStop(sig.Side, entryPrice, m.limits.StopLossPct),
		TakeProfits:  takeProfitLadder(sig.Side, entryPrice, m.limits.TakeProfitPcts),
		Status:       types.StatusOpen,
		OpenedAt:     now,
		MarkPrice:    entryPrice,
		HighPrice:    entryPrice,
		ResolutionAt: market.ResolutionAt,
	}

	m.mu.Lock()
	m.book[pos.ID] = &entry{pos: pos}
	m.byMarket[pos.MarketID] = append(m.byMarket[pos.MarketID], pos.ID)
	m.mu.Unlock()

	m.emit(types.PositionOrder{
		PositionID: pos.ID,
		MarketID:   pos.MarketID,
		Side:       pos.Side,
		Size:       size,
		LimitPrice: entryPrice,
		Reason:     "OPEN",
	})

	log.Info().
		Str("position", pos.ID).
		Str("whale", pos.WhaleID).
		Str("market", pos.MarketID).
		Str("side", string(pos.Side)).
		Str("entry", entryPrice.StringFixed(2)).
		Str("size", size.StringFixed(2)).
		Str("stop", pos.StopLoss.StringFixed(2)).
		Msg("📈 Position opened")

	return pos
}

// OnTick routes a mark price (with the market's current ATR) to every open
// position on that market.
func (m *Manager) OnTick(marketID string, price decimal.Decimal, atr float64) {
	m.mu.RLock()
	ids := append([]string(nil), m.byMarket[marketID]...)
	m.mu.RUnlock()

	for _, id := range ids {
		m.withEntry(id, func(e *entry) {
			m.applyTickLocked(e.pos, price, atr)
		})
	}
}

// applyTickLocked runs the tick transition rules for one position.
func (m *Manager) applyTickLocked(pos *types.Position, price decimal.Decimal, atr float64) {
	if !pos.Open() {
		return
	}
	pos.MarkPrice = price

	// Ratchet the water mark and trailing stop. The stop only ever
	// tightens; a price dip never relaxes it. A zero ATR distance would
	// place the stop on the mark itself, so trailing waits until the
	// market has a measured range.
	if favorable(pos.Side, price, pos.HighPrice) {
		pos.HighPrice = price
		if atr*m.limits.TrailingATRMult > 0 {
			if trailed := trailingStop(pos.Side, price, atr, m.limits.TrailingATRMult); tighter(pos.Side, trailed, pos.StopLoss) {
				pos.StopLoss = trailed
			}
		}
	}

	// Stop-loss crossing closes the remainder.
	if stopHit(pos.Side, price, pos.StopLoss) {
		m.closeLocked(pos, pos.StopLoss, types.CloseStopLoss)
		return
	}

	// Take-profit tranche crossings.
	for pos.TranchesDone < len(pos.TakeProfits) && tpHit(pos.Side, price, pos.TakeProfits[pos.TranchesDone]) {
		last := pos.TranchesDone == len(pos.TakeProfits)-1
		if last {
			m.closeLocked(pos, price, types.CloseTakeProfit)
			return
		}
		m.partialCloseLocked(pos, price)
	}
}

// partialCloseLocked realizes a tranche and keeps the remainder open.
func (m *Manager) partialCloseLocked(pos *types.Position, price decimal.Decimal) {
	tranche := pos.Remaining.Mul(decimal.NewFromFloat(m.limits.TakeProfitFraction)).Truncate(2)
	if tranche.Sign() <= 0 {
		pos.TranchesDone++
		return
	}
	pnl := tranchePnL(pos, tranche, price)
	pos.Remaining = pos.Remaining.Sub(tranche)
	pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
	pos.TranchesDone++
	pos.Status = types.StatusPartiallyClosed

	m.portfolio.ReleasePartial(pos, tranche, pnl)
	m.emit(types.PositionOrder{
		PositionID: pos.ID,
		MarketID:   pos.MarketID,
		Side:       opposite(pos.Side),
		Size:       tranche,
		LimitPrice: price,
		Reduce:     true,
		Reason:     string(types.CloseTakeProfit),
	})

	log.Info().
		Str("position", pos.ID).
		Int("tranche", pos.TranchesDone).
		Str("pnl", pnl.StringFixed(2)).
		Str("remaining", pos.Remaining.StringFixed(2)).
		Msg("💰 Partial take-profit")
}

// SweepForcedExits closes any position inside its pre-resolution window,
// regardless of price. Called on the engine's periodic sweep.
func (m *Manager) SweepForcedExits() {
	now := m.now()
	for _, id := range m.openIDs() {
		m.withEntry(id, func(e *entry) {
			pos := e.pos
			if !pos.Open() || pos.ResolutionAt.IsZero() {
				return
			}
			if now.After(pos.ResolutionAt.Add(-m.limits.PreResolutionExit)) {
				m.closeLocked(pos, pos.MarkPrice, types.ClosePreResolution)
			}
		})
	}
}

// Close performs a manual/administrative close. Always permitted while the
// position is open.
func (m *Manager) Close(positionID string, reason types.CloseReason) bool {
	closed := false
	m.withEntry(positionID, func(e *entry) {
		if e.pos.Open() {
			m.closeLocked(e.pos, e.pos.MarkPrice, reason)
			closed = true
		}
	})
	return closed
}

// CloseAll force-closes the whole book, e.g. under a HALTED breaker.
func (m *Manager) CloseAll(reason types.CloseReason) int {
	n := 0
	for _, id := range m.openIDs() {
		if m.Close(id, reason) {
			n++
		}
	}
	return n
}

// closeLocked finalizes the position. Terminal: no transition leaves
// CLOSED.
func (m *Manager) closeLocked(pos *types.Position, price decimal.Decimal, reason types.CloseReason) {
	remaining := pos.Remaining
	pnl := tranchePnL(pos, remaining, price)
	pos.Remaining = decimal.Zero
	pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
	pos.Status = types.StatusClosed
	pos.CloseReason = reason
	pos.ClosedAt = m.now()
	pos.MarkPrice = price

	m.portfolio.RecordClose(pos, remaining, pnl)

	if remaining.Sign() > 0 {
		m.emit(types.PositionOrder{
			PositionID: pos.ID,
			MarketID:   pos.MarketID,
			Side:       opposite(pos.Side),
			Size:       remaining,
			LimitPrice: price,
			Reduce:     true,
			Reason:     string(reason),
		})
	}

	log.Info().
		Str("position", pos.ID).
		Str("reason", string(reason)).
		Str("pnl", pos.RealizedPnL.StringFixed(2)).
		Msg("🔒 Position closed")

	if fn := m.onClosed; fn != nil {
		ret := 0.0
		if pos.Size.Sign() > 0 {
			ret = pos.RealizedPnL.Div(pos.Size).InexactFloat64()
		}
		fn(types.ClosedTrade{
			WhaleID:   pos.WhaleID,
			MarketID:  pos.MarketID,
			Category:  pos.Category,
			PnL:       pos.RealizedPnL,
			Size:      pos.Size,
			Win:       pos.RealizedPnL.Sign() > 0,
			ClosedAt:  pos.ClosedAt,
			HoldTime:  pos.ClosedAt.Sub(pos.OpenedAt),
			ReturnPct: ret,
		}, *pos)
	}
}

// Get returns a copy of a position.
func (m *Manager) Get(positionID string) (types.Position, bool) {
	var out types.Position
	ok := false
	m.withEntry(positionID, func(e *entry) {
		out = *e.pos
		ok = true
	})
	return out, ok
}

// OpenPositions returns copies of every open position.
func (m *Manager) OpenPositions() []types.Position {
	var out []types.Position
	for _, id := range m.openIDs() {
		m.withEntry(id, func(e *entry) {
			if e.pos.Open() {
				out = append(out, *e.pos)
			}
		})
	}
	return out
}

// openIDs snapshots the book under the index lock, then reads each status
// under its entry lock. Status is only ever written behind entry locks.
func (m *Manager) openIDs() []string {
	m.mu.RLock()
	entries := make(map[string]*entry, len(m.book))
	for id, e := range m.book {
		entries[id] = e
	}
	m.mu.RUnlock()

	ids := make([]string, 0, len(entries))
	for id, e := range entries {
		e.mu.Lock()
		open := e.pos.Status != types.StatusClosed
		e.mu.Unlock()
		if open {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *Manager) withEntry(id string, fn func(*entry)) {
	m.mu.RLock()
	e, ok := m.book[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e)
}

func (m *Manager) emit(order types.PositionOrder) {
	if fn := m.onOrder; fn != nil {
		fn(order)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// PRICE ARITHMETIC
// ═══════════════════════════════════════════════════════════════════════════════

func initialStop(side types.Side, entry decimal.Decimal, stopPct float64) decimal.Decimal {
	pct := decimal.NewFromFloat(stopPct)
	if side == types.SideSell {
		return entry.Mul(decimal.NewFromInt(1).Add(pct))
	}
	return entry.Mul(decimal.NewFromInt(1).Sub(pct))
}

func takeProfitLadder(side types.Side, entry decimal.Decimal, pcts []float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(pcts))
	one := decimal.NewFromInt(1)
	for i, p := range pcts {
		pct := decimal.NewFromFloat(p)
		if side == types.SideSell {
			out[i] = entry.Mul(one.Sub(pct))
		} else {
			out[i] = entry.Mul(one.Add(pct))
		}
	}
	return out
}

// favorable reports whether price improves on the water mark for the side.
func favorable(side types.Side, price, mark decimal.Decimal) bool {
	if side == types.SideSell {
		return price.LessThan(mark)
	}
	return price.GreaterThan(mark)
}

// trailingStop derives a candidate stop an ATR-multiple behind the mark.
func trailingStop(side types.Side, price decimal.Decimal, atr, mult float64) decimal.Decimal {
	dist := decimal.NewFromFloat(atr * mult)
	if side == types.SideSell {
		return price.Add(dist)
	}
	return price.Sub(dist)
}

// tighter reports whether candidate is a strictly tighter stop.
func tighter(side types.Side, candidate, current decimal.Decimal) bool {
	if side == types.SideSell {
		return candidate.LessThan(current)
	}
	return candidate.GreaterThan(current)
}

func stopHit(side types.Side, price, stop decimal.Decimal) bool {
	if side == types.SideSell {
		return price.GreaterThanOrEqual(stop)
	}
	return price.LessThanOrEqual(stop)
}

func tpHit(side types.Side, price, tp decimal.Decimal) bool {
	if side == types.SideSell {
		return price.LessThanOrEqual(tp)
	}
	return price.GreaterThanOrEqual(tp)
}

// tranchePnL values closing `units` of exposure at `price`.
func tranchePnL(pos *types.Position, units, price decimal.Decimal) decimal.Decimal {
	if pos.EntryPrice.Sign() <= 0 {
		return decimal.Zero
	}
	shares := units.Div(pos.EntryPrice)
	if pos.Side == types.SideSell {
		return shares.Mul(pos.EntryPrice.Sub(price))
	}
	return shares.Mul(price.Sub(pos.EntryPrice))
}

func opposite(side types.Side) types.Side {
	if side == types.SideBuy {
		return types.SideSell
	}
	return types.SideBuy
}
