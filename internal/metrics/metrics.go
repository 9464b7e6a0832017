package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Pipeline decision and exposure instruments.
var (
	SignalsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polycopy_signals_accepted_total",
		Help: "Signals that passed all gates and opened a position",
	})

	SignalsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polycopy_signals_rejected_total",
		Help: "Signals rejected, by stage and reason code",
	}, []string{"stage", "reason"})

	PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polycopy_positions_closed_total",
		Help: "Positions closed, by reason",
	}, []string{"reason"})

	OpenExposure = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polycopy_open_exposure_usd",
		Help: "Total open exposure in USD",
	})

	BreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polycopy_breaker_state",
		Help: "Portfolio circuit breaker: 0 NORMAL, 1 THROTTLED, 2 HALTED",
	})

	WhalesQuarantined = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polycopy_whale_quarantines_total",
		Help: "Whale quarantine events",
	})
)

// Serve exposes /metrics on addr. Blocking; run in a goroutine.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info().Str("addr", addr).Msg("📊 Metrics listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("Metrics server stopped")
	}
}
