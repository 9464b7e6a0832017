// Polycopy - Whale copy-trading decision core for binary prediction markets
//
// Watches large traders ("whales"), scores their track record, and decides
// in real time whether to mirror a trade, how much capital to risk, and
// how to manage the position until exit:
//
//  1. Score each whale from its rolling trade history (Bayesian-shrunk
//     win rates, consistency, drawdown)
//  2. Gate incoming signals through whale / trade / portfolio filters
//  3. Size accepted signals with a fractional-Kelly formula
//  4. Manage positions with trailing stops, partial take-profits and a
//     pre-resolution forced exit
//  5. Halt the whole book through a portfolio circuit breaker on mVaR or
//     daily-loss breaches
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polycopy/bot"
	"github.com/web3guy0/polycopy/core"
	"github.com/web3guy0/polycopy/exec"
	"github.com/web3guy0/polycopy/feeds"
	"github.com/web3guy0/polycopy/internal/config"
	"github.com/web3guy0/polycopy/internal/metrics"
	"github.com/web3guy0/polycopy/position"
	"github.com/web3guy0/polycopy/risk"
	"github.com/web3guy0/polycopy/storage"
	"github.com/web3guy0/polycopy/whale"
)

const version = "1.0.0"

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Risk limits: malformed limits are fatal at startup only.
	limits, err := risk.LoadLimits(cfg.LimitsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid risk limits")
	}

	log.Info().
		Str("version", version).
		Bool("dry_run", cfg.DryRun).
		Str("capital", limits.InitialCapital.StringFixed(0)).
		Msg("🐋 Polycopy starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence
	db, err := storage.New(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	// Whale layer, warm-started from the persisted history.
	registry := whale.NewRegistry(whale.DefaultRegistryConfig())
	if trades, err := db.LoadWhaleTrades(time.Now().Add(-180 * 24 * time.Hour)); err != nil {
		log.Error().Err(err).Msg("History load failed - starting cold")
	} else {
		for _, ct := range trades {
			registry.Restore(ct)
		}
		registry.Rescore()
		log.Info().Int("trades", len(trades)).Msg("💾 Whale history restored")
	}
	go registry.Run(ctx)

	// Risk and positions
	portfolio := risk.NewManager(limits)
	positions := position.NewManager(limits, portfolio)

	// Collaborators
	vol := feeds.NewVolatilityTracker(limits.EWMALambda)
	marketData := feeds.NewGammaClient(cfg.GammaAPIURL, feeds.DefaultRetryPolicy())
	ticks := feeds.NewTickFeed(cfg.CLOBWSURL)

	var executor exec.Executor = exec.NewDryRun()
	if !cfg.DryRun {
		// Real execution is an external collaborator; until one is wired
		// in, live mode still hands orders to the dry-run sink.
		log.Warn().Msg("No live executor configured - orders will be logged only")
	}

	var alerter bot.Alerter
	if cfg.TelegramToken != "" {
		tg, err := bot.NewTelegramAlerter(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Error().Err(err).Msg("Telegram disabled")
		} else {
			alerter = tg
		}
	}

	go metrics.Serve(cfg.MetricsAddr)

	engine := core.NewEngine(limits, registry, portfolio, positions, vol, marketData, ticks, executor, core.Options{
		DB:            db,
		Alerter:       alerter,
		SweepInterval: cfg.SweepInterval,
	})

	go engine.Run(ctx)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("Shutting down...")
	cancel()
	time.Sleep(500 * time.Millisecond)
}
