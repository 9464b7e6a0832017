package whale

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/polycopy/types"
)

// TestDecay_BelowTargetRunCrossesThreshold tests that a sustained run of
// below-target outcomes trips the detector exactly once per crossing, with
// the statistic reset to zero immediately after
func TestDecay_BelowTargetRunCrossesThreshold(t *testing.T) {
	d := NewDecayDetector(DecayConfig{Slack: 0.05, Threshold: 1.0})

	// Whale historically wins 60%; feed it straight losses.
	target := 0.60
	alarms := 0
	for i := 0; i < 10; i++ {
		if stat, alarmed := d.Observe("w1", 0.0, target); alarmed {
			alarms++
			assert.InDelta(t, 1.10, stat, 1e-9, "alarm reports the crossing magnitude")
			assert.Equal(t, 0.0, d.Stat("w1"), "statistic must reset on alarm")
		}
	}
	// Each loss adds 0.60-0.0-0.05 = 0.55: crossing after the 2nd, 4th,
	// 6th... observation.
	assert.Equal(t, 5, alarms)
}

// TestDecay_OnTargetNeverAlarms tests that performance at the baseline
// accumulates nothing
func TestDecay_OnTargetNeverAlarms(t *testing.T) {
	d := NewDecayDetector(DefaultDecayConfig())

	for i := 0; i < 1000; i++ {
		_, alarmed := d.Observe("w1", 1.0, 0.55) // every trade a win
		assert.False(t, alarmed)
	}
	assert.Equal(t, 0.0, d.Stat("w1"))
}

// TestDecay_StatisticFloorsAtZero tests the one-sided max(0, ...) floor
func TestDecay_StatisticFloorsAtZero(t *testing.T) {
	d := NewDecayDetector(DecayConfig{Slack: 0.05, Threshold: 1.0})

	d.Observe("w1", 1.0, 0.5)  // win: 0.5-1.0-0.05 < 0, floors at 0
	d.Observe("w1", 1.0, 0.5)
	assert.Equal(t, 0.0, d.Stat("w1"))

	d.Observe("w1", 0.0, 0.5) // loss: climbs to 0.45
	assert.InDelta(t, 0.45, d.Stat("w1"), 1e-9)
	d.Observe("w1", 1.0, 0.5) // win pulls it back down
	assert.Equal(t, 0.0, d.Stat("w1"))
}

// TestRegistry_DegradedQuarantinesImmediately tests that a DEGRADED event
// quarantines the whale in the published snapshot regardless of score
func TestRegistry_DegradedQuarantinesImmediately(t *testing.T) {
	cfg := DefaultRegistryConfig()
	cfg.Decay = DecayConfig{Slack: 0.05, Threshold: 0.5}
	r := NewRegistry(cfg)

	var events []DegradedEvent
	r.OnDegraded(func(ev DegradedEvent) { events = append(events, ev) })

	// Build a strong history first.
	base := time.Now().Add(-30 * 24 * time.Hour)
	for i := 0; i < 40; i++ {
		r.Observe(closedTrade("w1", true, 0.10, base.Add(time.Duration(i)*time.Hour)))
	}
	require.False(t, r.Snapshot("w1").Quarantined)

	// Then a losing streak until the CUSUM trips.
	for i := 0; i < 5; i++ {
		r.Observe(closedTrade("w1", false, -0.10, time.Now()))
	}

	snap := r.Snapshot("w1")
	assert.True(t, snap.Quarantined)
	assert.Equal(t, "edge decay", snap.QuarantineReason)
	require.NotEmpty(t, events)
	assert.Greater(t, events[0].Stat, cfg.Decay.Threshold,
		"event carries the statistic that crossed, not the threshold")
}

// TestRegistry_QuarantineIsTimeBoxed tests cooldown-based re-eligibility
func TestRegistry_QuarantineIsTimeBoxed(t *testing.T) {
	cfg := DefaultRegistryConfig()
	cfg.QuarantineCooldown = time.Hour
	r := NewRegistry(cfg)

	current := time.Now()
	r.now = func() time.Time { return current }

	r.Quarantine("w1", "manual review", current.Add(time.Hour))
	assert.True(t, r.Snapshot("w1").Quarantined)

	// Before cooldown: still quarantined after a rescore.
	r.Rescore()
	assert.True(t, r.Snapshot("w1").Quarantined)

	// After cooldown: eligible again.
	current = current.Add(2 * time.Hour)
	r.Rescore()
	assert.False(t, r.Snapshot("w1").Quarantined)
}

// TestRegistry_BlacklistIsPermanent tests that blacklisting survives cooldowns
func TestRegistry_BlacklistIsPermanent(t *testing.T) {
	r := NewRegistry(DefaultRegistryConfig())
	current := time.Now()
	r.now = func() time.Time { return current }

	r.Blacklist("w1", "wash trading")
	current = current.Add(1000 * time.Hour)
	r.Rescore()

	snap := r.Snapshot("w1")
	assert.True(t, snap.Quarantined)
	assert.True(t, snap.Blacklisted)
}

// TestRegistry_UnknownWhaleSnapshot tests the zero-trade default view
func TestRegistry_UnknownWhaleSnapshot(t *testing.T) {
	r := NewRegistry(DefaultRegistryConfig())

	snap := r.Snapshot("never-seen")
	assert.Equal(t, 0.0, snap.Score)
	assert.Equal(t, types.TierLow, snap.Tier)
	assert.Equal(t, types.ConfidenceVeryLow, snap.Confidence)
	assert.False(t, snap.Quarantined)
}

// TestTradeWindow_Eviction tests ring-buffer bounds
func TestTradeWindow_Eviction(t *testing.T) {
	w := newTradeWindow(3, 0)
	now := time.Now()
	for i := 0; i < 5; i++ {
		w.Push(outcome{ClosedAt: now.Add(time.Duration(i) * time.Minute), Win: i%2 == 0})
	}
	assert.Equal(t, 3, w.Len())
	// Oldest two evicted: entries 2,3,4 remain.
	got := w.Outcomes()
	assert.Equal(t, now.Add(2*time.Minute), got[0].ClosedAt)
	assert.Equal(t, now.Add(4*time.Minute), got[2].ClosedAt)
}

// TestTradeWindow_AgePrune tests the time bound
func TestTradeWindow_AgePrune(t *testing.T) {
	w := newTradeWindow(10, time.Hour)
	now := time.Now()
	w.Push(outcome{ClosedAt: now.Add(-2 * time.Hour)})
	w.Push(outcome{ClosedAt: now.Add(-30 * time.Minute)})
	w.Prune(now)
	assert.Equal(t, 1, w.Len())
}

func closedTrade(whaleID string, win bool, ret float64, at time.Time) types.ClosedTrade {
	pnl := decimal.NewFromFloat(ret * 100)
	return types.ClosedTrade{
		WhaleID:   whaleID,
		MarketID:  "m1",
		Category:  "crypto",
		PnL:       pnl,
		Size:      decimal.NewFromInt(100),
		Win:       win,
		ClosedAt:  at,
		ReturnPct: ret,
	}
}
