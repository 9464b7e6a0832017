package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds process-level configuration. Risk limits live in their own
// snapshot (risk.Limits); this is wiring only.
type Config struct {
	// Mode
	DryRun bool
	Debug  bool

	// Collaborator endpoints
	GammaAPIURL string
	CLOBWSURL   string

	// Risk limits file (YAML), optional
	LimitsPath string

	// Persistence: sqlite path or postgres DSN
	DatabaseDSN string

	// Telegram (optional)
	TelegramToken  string
	TelegramChatID int64

	// Metrics
	MetricsAddr string

	// Sweep cadence for forced exits and breaker evaluation
	SweepInterval time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DryRun:        getEnvBool("DRY_RUN", true),
		Debug:         getEnvBool("DEBUG", false),
		GammaAPIURL:   getEnv("GAMMA_API_URL", "https://gamma-api.polymarket.com"),
		CLOBWSURL:     getEnv("CLOB_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),
		LimitsPath:    getEnv("RISK_LIMITS_PATH", ""),
		DatabaseDSN:   getEnv("DATABASE_DSN", "data/polycopy.db"),
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 15*time.Second),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
