package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polycopy/risk"
	"github.com/web3guy0/polycopy/types"
	"github.com/web3guy0/polycopy/whale"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM ALERTER - Risk and lifecycle event notifications
// ═══════════════════════════════════════════════════════════════════════════════
//
// Thin alerting collaborator. Breaker transitions, whale quarantines and
// forced exits land here; send failures are logged and dropped, never
// propagated back into the decision path.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Alerter delivers notifications. Nil-safe: a nil *TelegramAlerter is a
// no-op, so dry runs need no token.
type Alerter interface {
	BreakerChanged(ev risk.BreakerEvent)
	WhaleDegraded(ev whale.DegradedEvent)
	PositionClosed(pos types.Position)
}

type TelegramAlerter struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegramAlerter(token string, chatID int64) (*TelegramAlerter, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}
	log.Info().Str("bot", api.Self.UserName).Msg("🤖 Telegram alerter ready")
	return &TelegramAlerter{api: api, chatID: chatID}, nil
}

func (t *TelegramAlerter) BreakerChanged(ev risk.BreakerEvent) {
	if t == nil {
		return
	}
	t.send(fmt.Sprintf("🚨 Breaker %s → %s\n%s", ev.From, ev.To, ev.Reason))
}

func (t *TelegramAlerter) WhaleDegraded(ev whale.DegradedEvent) {
	if t == nil {
		return
	}
	t.send(fmt.Sprintf("📉 Whale %s degraded, quarantined", ev.WhaleID))
}

func (t *TelegramAlerter) PositionClosed(pos types.Position) {
	if t == nil {
		return
	}
	emoji := "📈"
	if pos.RealizedPnL.Sign() < 0 {
		emoji = "📉"
	}
	t.send(fmt.Sprintf("%s Closed %s %s (%s)\nPnL: $%s",
		emoji, pos.MarketID, pos.Side, pos.CloseReason, pos.RealizedPnL.StringFixed(2)))
}

// send is fire-and-forget: callers may hold locks, so the API round-trip
// runs off the caller's goroutine.
func (t *TelegramAlerter) send(text string) {
	go func() {
		msg := tgbotapi.NewMessage(t.chatID, text)
		if _, err := t.api.Send(msg); err != nil {
			log.Warn().Err(err).Msg("Telegram send failed")
		}
	}()
}
