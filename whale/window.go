package whale

import (
	"time"

	"github.com/web3guy0/polycopy/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ROLLING TRADE WINDOW - Fixed-capacity ring buffer over closed trades
// ═══════════════════════════════════════════════════════════════════════════════
//
// Bounds both by count (last N trades) and by age (last D days) so the
// consistency and Sharpe windows stay well-defined. Evicting the oldest
// entry is the only way counters ever decrease.
//
// ═══════════════════════════════════════════════════════════════════════════════

// outcome is one closed trade in a whale's rolling history.
type outcome struct {
	ClosedAt  time.Time
	Category  string
	Win       bool
	ReturnPct float64 // realized return on committed size
	Notional  float64 // trade size in USD
}

// tradeWindow is a ring buffer of the most recent outcomes.
type tradeWindow struct {
	buf    []outcome
	head   int // index of oldest entry
	count  int
	maxAge time.Duration
}

func newTradeWindow(capacity int, maxAge time.Duration) *tradeWindow {
	if capacity <= 0 {
		capacity = 500
	}
	return &tradeWindow{
		buf:    make([]outcome, capacity),
		maxAge: maxAge,
	}
}

// Push appends an outcome, evicting the oldest when full.
func (w *tradeWindow) Push(o outcome) {
	if w.count == len(w.buf) {
		w.buf[w.head] = o
		w.head = (w.head + 1) % len(w.buf)
		return
	}
	w.buf[(w.head+w.count)%len(w.buf)] = o
	w.count++
}

// Prune drops entries older than maxAge relative to now.
func (w *tradeWindow) Prune(now time.Time) {
	if w.maxAge <= 0 {
		return
	}
	cutoff := now.Add(-w.maxAge)
	for w.count > 0 && w.buf[w.head].ClosedAt.Before(cutoff) {
		w.head = (w.head + 1) % len(w.buf)
		w.count--
	}
}

func (w *tradeWindow) Len() int { return w.count }

// Each iterates oldest-to-newest.
func (w *tradeWindow) Each(fn func(o outcome)) {
	for i := 0; i < w.count; i++ {
		fn(w.buf[(w.head+i)%len(w.buf)])
	}
}

// Outcomes returns a copy of the window, oldest first.
func (w *tradeWindow) Outcomes() []outcome {
	out := make([]outcome, 0, w.count)
	w.Each(func(o outcome) { out = append(out, o) })
	return out
}

// WinsLosses counts wins and losses currently inside the window.
func (w *tradeWindow) WinsLosses() (wins, losses int) {
	w.Each(func(o outcome) {
		if o.Win {
			wins++
		} else {
			losses++
		}
	})
	return
}

// fromClosedTrade converts the engine's feedback record.
func fromClosedTrade(ct types.ClosedTrade) outcome {
	return outcome{
		ClosedAt:  ct.ClosedAt,
		Category:  ct.Category,
		Win:       ct.Win,
		ReturnPct: ct.ReturnPct,
		Notional:  ct.Size.InexactFloat64(),
	}
}
