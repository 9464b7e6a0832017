package core

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polycopy/bot"
	"github.com/web3guy0/polycopy/exec"
	"github.com/web3guy0/polycopy/feeds"
	"github.com/web3guy0/polycopy/internal/metrics"
	"github.com/web3guy0/polycopy/position"
	"github.com/web3guy0/polycopy/risk"
	"github.com/web3guy0/polycopy/storage"
	"github.com/web3guy0/polycopy/types"
	"github.com/web3guy0/polycopy/whale"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE - Central orchestrator
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow:
//   TradeSignal → Filter Pipeline → Sizer → Reserve → Position
//   Price ticks → Volatility → Lifecycle Manager
//   Closed position → Whale history + Decay Detector → Persistence
//
// One goroutine per signal for the read-mostly stages; every portfolio
// mutation funnels through the risk manager's serialization point.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Engine wires the decision core to its collaborators.
type Engine struct {
	limits     *risk.Limits
	registry   *whale.Registry
	pipeline   *risk.Pipeline
	sizer      *risk.Sizer
	portfolio  *risk.Manager
	positions  *position.Manager
	vol        *feeds.VolatilityTracker
	marketData feeds.MarketData
	ticks      *feeds.TickFeed
	executor   exec.Executor
	db         *storage.Database // optional
	alerter    bot.Alerter       // optional

	signalCh      chan types.TradeSignal
	sweepInterval time.Duration
	closeOnHalt   bool
	lookupTimeout time.Duration
}

// Options are the engine's optional collaborators and tunables.
type Options struct {
	DB            *storage.Database
	Alerter       bot.Alerter
	SweepInterval time.Duration
	CloseOnHalt   bool
}

func NewEngine(
	limits *risk.Limits,
	registry *whale.Registry,
	portfolio *risk.Manager,
	positions *position.Manager,
	vol *feeds.VolatilityTracker,
	marketData feeds.MarketData,
	ticks *feeds.TickFeed,
	executor exec.Executor,
	opts Options,
) *Engine {
	e := &Engine{
		limits:        limits,
		registry:      registry,
		pipeline:      risk.NewPipeline(limits, portfolio),
		sizer:         risk.NewSizer(limits, portfolio),
		portfolio:     portfolio,
		positions:     positions,
		vol:           vol,
		marketData:    marketData,
		ticks:         ticks,
		executor:      executor,
		db:            opts.DB,
		alerter:       opts.Alerter,
		signalCh:      make(chan types.TradeSignal, 128),
		sweepInterval: opts.SweepInterval,
		closeOnHalt:   opts.CloseOnHalt,
		lookupTimeout: 3 * time.Second,
	}
	if e.sweepInterval <= 0 {
		e.sweepInterval = 15 * time.Second
	}

	e.wireCallbacks()
	return e
}

func (e *Engine) wireCallbacks() {
	e.positions.OnOrder(func(order types.PositionOrder) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.executor.Execute(ctx, order); err != nil {
			log.Error().Err(err).Str("position", order.PositionID).Msg("Order hand-off failed")
		}
	})

	e.positions.OnClosed(func(ct types.ClosedTrade, pos types.Position) {
		metrics.PositionsClosed.WithLabelValues(string(pos.CloseReason)).Inc()

		// Feed the whale's rolling history and the decay detector.
		e.registry.Observe(ct)

		if e.db != nil {
			if err := e.db.SaveWhaleTrade(ct); err != nil {
				log.Error().Err(err).Msg("Whale trade checkpoint failed")
			}
			if err := e.db.SavePosition(pos); err != nil {
				log.Error().Err(err).Msg("Position checkpoint failed")
			}
			if err := e.db.SaveWhale(e.registry.Snapshot(ct.WhaleID)); err != nil {
				log.Error().Err(err).Msg("Whale checkpoint failed")
			}
		}
		if e.alerter != nil {
			e.alerter.PositionClosed(pos)
		}
	})

	e.registry.OnDegraded(func(ev whale.DegradedEvent) {
		metrics.WhalesQuarantined.Inc()
		if e.alerter != nil {
			e.alerter.WhaleDegraded(ev)
		}
	})

	e.portfolio.OnBreakerChange(func(ev risk.BreakerEvent) {
		metrics.BreakerState.Set(breakerLevel(ev.To))
		if e.alerter != nil {
			e.alerter.BreakerChanged(ev)
		}
		if ev.To == types.BreakerHalted && e.closeOnHalt {
			// The transition can originate from a close that still holds
			// position and portfolio locks; flatten off that goroutine.
			go func() {
				n := e.positions.CloseAll(types.CloseRiskHalt)
				log.Warn().Int("closed", n).Msg("⛔ Breaker HALTED - book flattened")
			}()
		}
	})
}

// Submit hands a trade signal to the engine. Non-blocking; a full intake
// queue drops the signal (fail-closed) rather than stalling ingestion.
func (e *Engine) Submit(sig types.TradeSignal) bool {
	select {
	case e.signalCh <- sig:
		return true
	default:
		log.Warn().Str("whale", sig.WhaleID).Msg("Signal queue full - dropped")
		return false
	}
}

// Run drives the engine until the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	tickCh := e.ticks.Subscribe()
	e.ticks.Start()
	defer e.ticks.Stop()

	sweep := time.NewTicker(e.sweepInterval)
	defer sweep.Stop()

	log.Info().Msg("⚡ Engine started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Engine stopping")
			return
		case sig := <-e.signalCh:
			// Read-mostly stages run concurrently per signal; the
			// admission commit itself is serialized in Reserve.
			go e.handleSignal(ctx, sig)
		case tick := <-tickCh:
			e.handleTick(tick)
		case <-sweep.C:
			e.positions.SweepForcedExits()
			e.portfolio.Evaluate()
			view := e.portfolio.Snapshot()
			metrics.OpenExposure.Set(view.TotalExposure.InexactFloat64())
			metrics.BreakerState.Set(breakerLevel(view.Breaker))
		}
	}
}

// handleSignal runs one signal through gates, sizing and admission.
func (e *Engine) handleSignal(ctx context.Context, sig types.TradeSignal) {
	// Cheap pre-check: a HALTED breaker aborts before any collaborator
	// round-trips.
	if e.portfolio.Breaker() == types.BreakerHalted {
		metrics.SignalsRejected.WithLabelValues(risk.StagePortfolio, risk.ReasonHalted).Inc()
		return
	}

	snap := e.registry.Snapshot(sig.WhaleID)

	lookupCtx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()
	market, err := e.marketData.Lookup(lookupCtx, sig.MarketID)
	if err != nil {
		// Transient collaborator failure: fail-closed.
		metrics.SignalsRejected.WithLabelValues(risk.StageTrade, risk.ReasonLookupFailed).Inc()
		log.Warn().Err(err).Str("market", sig.MarketID).Msg("Metadata lookup failed - signal rejected")
		return
	}
	if market.Category != "" {
		sig.Category = market.Category
	}

	decision := e.pipeline.Evaluate(sig, snap, market)
	if decision.Rejection != nil {
		metrics.SignalsRejected.WithLabelValues(decision.Rejection.Stage, decision.Rejection.Code).Inc()
		return
	}

	size, rej := e.sizer.Size(sig, snap, decision.SizeMult, e.vol.Volatility(sig.MarketID))
	if rej != nil {
		metrics.SignalsRejected.WithLabelValues(rej.Stage, rej.Code).Inc()
		log.Debug().Str("detail", rej.Detail).Msg("🚫 Sizer rejected signal")
		return
	}

	// Authoritative check-and-commit under the portfolio lock. Admission
	// racing another signal for the last room under a cap loses here.
	if err := e.portfolio.Reserve(sig, size); err != nil {
		code := risk.ReasonTotalExposure
		var reserveRej *risk.Rejection
		if errors.As(err, &reserveRej) {
			code = reserveRej.Code
		}
		metrics.SignalsRejected.WithLabelValues(risk.StagePortfolio, code).Inc()
		log.Warn().Err(err).Str("whale", sig.WhaleID).Str("market", sig.MarketID).
			Msg("🚫 Admission reservation failed after gates passed")
		return
	}

	pos := e.positions.Open(sig, size, market)
	e.ticks.Watch(sig.MarketID)
	metrics.SignalsAccepted.Inc()

	if e.db != nil {
		if err := e.db.SavePosition(*pos); err != nil {
			log.Error().Err(err).Msg("Position checkpoint failed")
		}
	}
}

func (e *Engine) handleTick(tick feeds.Tick) {
	e.vol.Update(tick.MarketID, tick.Price)
	e.positions.OnTick(tick.MarketID, tick.Price, e.vol.ATR(tick.MarketID))
}

func breakerLevel(s types.BreakerState) float64 {
	switch s {
	case types.BreakerThrottled:
		return 1
	case types.BreakerHalted:
		return 2
	default:
		return 0
	}
}
