package whale

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polycopy/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WHALE REGISTRY - Profiles, snapshots, quarantine
// ═══════════════════════════════════════════════════════════════════════════════
//
// Mutable profile state lives behind the registry mutex. Readers on the
// signal path never touch it: they read an immutable snapshot map that the
// rescoring loop (and quarantine events) republish via atomic pointer swap.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Snapshot is the immutable per-whale view handed to the filter pipeline
// and sizer.
type Snapshot struct {
	WhaleID          string
	Score            float64
	Tier             types.Tier
	Confidence       types.Confidence
	AdjRate          float64
	Drawdown         float64
	Wins             int
	Losses           int
	VolumeUSD        float64
	Quarantined      bool
	QuarantineReason string
	QuarantineUntil  time.Time
	Blacklisted      bool
	UpdatedAt        time.Time
}

// profile is the registry-private mutable state for one whale.
type profile struct {
	id              string
	window          *tradeWindow
	firstSeen       time.Time
	quarantined     bool
	quarantineWhy   string
	quarantineUntil time.Time
	blacklisted     bool
}

// DegradedEvent is published when the decay detector trips.
type DegradedEvent struct {
	WhaleID string
	Stat    float64
	At      time.Time
}

// RegistryConfig bundles the whale-layer configuration.
type RegistryConfig struct {
	Scorer             ScorerConfig
	Decay              DecayConfig
	WindowCapacity     int
	WindowMaxAge       time.Duration
	RescoreInterval    time.Duration
	QuarantineCooldown time.Duration
}

// DefaultRegistryConfig returns calibrated defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		Scorer:             DefaultScorerConfig(),
		Decay:              DefaultDecayConfig(),
		WindowCapacity:     500,
		WindowMaxAge:       180 * 24 * time.Hour,
		RescoreInterval:    6 * time.Hour,
		QuarantineCooldown: 48 * time.Hour,
	}
}

// Registry owns whale profiles and publishes scoring snapshots.
type Registry struct {
	mu       sync.Mutex
	cfg      RegistryConfig
	scorer   *Scorer
	decay    *DecayDetector
	profiles map[string]*profile

	snapshots atomic.Pointer[map[string]Snapshot]

	onDegraded func(DegradedEvent)
	now        func() time.Time
}

func NewRegistry(cfg RegistryConfig) *Registry {
	r := &Registry{
		cfg:      cfg,
		scorer:   NewScorer(cfg.Scorer),
		decay:    NewDecayDetector(cfg.Decay),
		profiles: make(map[string]*profile),
		now:      time.Now,
	}
	empty := map[string]Snapshot{}
	r.snapshots.Store(&empty)
	return r
}

// OnDegraded registers the edge-decay event consumer.
func (r *Registry) OnDegraded(fn func(DegradedEvent)) {
	r.onDegraded = fn
}

// Snapshot returns the current immutable view for a whale. A whale never
// seen before yields a zero-trade snapshot (score 0, VERY_LOW), which is a
// valid filterable result.
func (r *Registry) Snapshot(whaleID string) Snapshot {
	snaps := *r.snapshots.Load()
	if s, ok := snaps[whaleID]; ok {
		return s
	}
	return Snapshot{
		WhaleID:    whaleID,
		Tier:       types.TierLow,
		Confidence: types.ConfidenceVeryLow,
	}
}

// Observe records a closed trade into the whale's rolling history and runs
// the decay detector. First observation creates the profile; profiles are
// never deleted, only quarantined.
func (r *Registry) Observe(ct types.ClosedTrade) {
	r.mu.Lock()
	p, ok := r.profiles[ct.WhaleID]
	if !ok {
		p = &profile{
			id:        ct.WhaleID,
			window:    newTradeWindow(r.cfg.WindowCapacity, r.cfg.WindowMaxAge),
			firstSeen: r.now(),
		}
		r.profiles[ct.WhaleID] = p
		log.Info().Str("whale", ct.WhaleID).Msg("🐋 New whale profile")
	}

	// Target is the whale's own historical mean outcome, computed before
	// this observation enters the window.
	target := windowMean(p.window)
	p.window.Push(fromClosedTrade(ct))
	p.window.Prune(r.now())

	x := 0.0
	if ct.Win {
		x = 1.0
	}
	stat, degraded := r.decay.Observe(ct.WhaleID, x, target)
	if degraded && !p.blacklisted {
		p.quarantined = true
		p.quarantineWhy = "edge decay"
		p.quarantineUntil = r.now().Add(r.cfg.QuarantineCooldown)
	}
	r.mu.Unlock()

	// Republish so the quarantine overrides tier immediately.
	r.publish()

	if degraded {
		if fn := r.onDegraded; fn != nil {
			fn(DegradedEvent{WhaleID: ct.WhaleID, Stat: stat, At: r.now()})
		}
	}
}

// Restore replays a persisted trade into the window without running the
// decay detector. Startup only; callers should Rescore afterwards.
func (r *Registry) Restore(ct types.ClosedTrade) {
	r.mu.Lock()
	p := r.ensureLocked(ct.WhaleID)
	p.window.Push(fromClosedTrade(ct))
	r.mu.Unlock()
}

// Quarantine suspends a whale for the given window, independent of score.
func (r *Registry) Quarantine(whaleID, reason string, until time.Time) {
	r.mu.Lock()
	p := r.ensureLocked(whaleID)
	p.quarantined = true
	p.quarantineWhy = reason
	p.quarantineUntil = until
	r.mu.Unlock()
	r.publish()

	log.Warn().
		Str("whale", whaleID).
		Str("reason", reason).
		Time("until", until).
		Msg("🚫 Whale quarantined")
}

// Blacklist permanently excludes a whale. Manual operation only.
func (r *Registry) Blacklist(whaleID, reason string) {
	r.mu.Lock()
	p := r.ensureLocked(whaleID)
	p.blacklisted = true
	p.quarantined = true
	p.quarantineWhy = reason
	r.mu.Unlock()
	r.publish()

	log.Warn().Str("whale", whaleID).Str("reason", reason).Msg("⛔ Whale blacklisted")
}

func (r *Registry) ensureLocked(whaleID string) *profile {
	p, ok := r.profiles[whaleID]
	if !ok {
		p = &profile{
			id:        whaleID,
			window:    newTradeWindow(r.cfg.WindowCapacity, r.cfg.WindowMaxAge),
			firstSeen: r.now(),
		}
		r.profiles[whaleID] = p
	}
	return p
}

// Rescore recomputes every whale's snapshot and swaps the published map.
// Quarantines past their cooldown are lifted here.
func (r *Registry) Rescore() {
	r.publish()
}

// publish rebuilds the immutable snapshot map under the lock and swaps it.
func (r *Registry) publish() {
	now := r.now()

	r.mu.Lock()
	next := make(map[string]Snapshot, len(r.profiles))
	for id, p := range r.profiles {
		p.window.Prune(now)

		// Time-boxed quarantine: eligible again after cooldown unless
		// manually blacklisted.
		if p.quarantined && !p.blacklisted && now.After(p.quarantineUntil) {
			p.quarantined = false
			p.quarantineWhy = ""
			r.decay.Reset(id)
			log.Info().Str("whale", id).Msg("✅ Quarantine lifted")
		}

		res := r.scorer.Score(p.window.Outcomes(), now)
		wins, losses := p.window.WinsLosses()
		vol := 0.0
		p.window.Each(func(o outcome) { vol += o.Notional })

		next[id] = Snapshot{
			WhaleID:          id,
			Score:            res.Score,
			Tier:             res.Tier,
			Confidence:       res.Confidence,
			AdjRate:          res.AdjRate,
			Drawdown:         res.Drawdown,
			Wins:             wins,
			Losses:           losses,
			VolumeUSD:        vol,
			Quarantined:      p.quarantined,
			QuarantineReason: p.quarantineWhy,
			QuarantineUntil:  p.quarantineUntil,
			Blacklisted:      p.blacklisted,
			UpdatedAt:        now,
		}
	}
	r.mu.Unlock()

	r.snapshots.Store(&next)
}

// Run drives the periodic rescoring loop until the context is cancelled.
func (r *Registry) Run(ctx context.Context) {
	interval := r.cfg.RescoreInterval
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("🔁 Whale rescoring loop started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Rescore()
		}
	}
}

// Profiles returns the ids currently tracked, for persistence checkpoints.
func (r *Registry) Profiles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	return ids
}

func windowMean(w *tradeWindow) float64 {
	if w.Len() == 0 {
		return 0.5 // uninformed prior until the whale has history
	}
	wins, losses := w.WinsLosses()
	return float64(wins) / float64(wins+losses)
}
