package whale

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EDGE DECAY DETECTOR - One-sided CUSUM over per-trade outcomes
// ═══════════════════════════════════════════════════════════════════════════════
//
//   S_t = max(0, S_{t-1} + (target - x_t - k))
//
// accumulates sustained shortfall of each new outcome against the whale's
// own historical mean (change detection, not an absolute-level test).
// Crossing h emits exactly one DEGRADED event and resets S to 0.
//
// ═══════════════════════════════════════════════════════════════════════════════

// DecayConfig are the CUSUM constants. Configuration, not law.
type DecayConfig struct {
	Slack     float64 // k: tolerated shortfall per observation
	Threshold float64 // h: decision threshold
}

// DefaultDecayConfig returns calibrated defaults.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{Slack: 0.05, Threshold: 1.0}
}

// DecayDetector tracks one CUSUM statistic per whale.
type DecayDetector struct {
	mu  sync.Mutex
	cfg DecayConfig
	s   map[string]float64
}

func NewDecayDetector(cfg DecayConfig) *DecayDetector {
	return &DecayDetector{cfg: cfg, s: make(map[string]float64)}
}

// Observe feeds one closed-trade outcome x against the whale's target
// baseline. The flag is true exactly when the statistic crosses the
// threshold; the returned stat is the crossing magnitude in that case,
// and the statistic resets to 0 for the next run.
func (d *DecayDetector) Observe(whaleID string, x, target float64) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.s[whaleID] + (target - x - d.cfg.Slack)
	if s < 0 {
		s = 0
	}
	if s > d.cfg.Threshold {
		d.s[whaleID] = 0
		log.Warn().
			Str("whale", whaleID).
			Float64("stat", s).
			Float64("threshold", d.cfg.Threshold).
			Msg("📉 Edge decay detected")
		return s, true
	}
	d.s[whaleID] = s
	return s, false
}

// Stat returns the current statistic for a whale.
func (d *DecayDetector) Stat(whaleID string) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s[whaleID]
}

// Reset clears a whale's statistic, e.g. when quarantine expires.
func (d *DecayDetector) Reset(whaleID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.s, whaleID)
}
