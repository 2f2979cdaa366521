package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	tb "gopkg.in/tucnak/telebot.v2"
)

// TelegramNotifier delivers event messages to a Telegram chat. Every
// failure is logged and swallowed: notifications are best-effort and
// must never influence trading.
type TelegramNotifier struct {
	bot    *tb.Bot
	chatID int64
	logger *zap.Logger
}

// NewTelegramNotifier returns a disabled notifier when token is empty.
func NewTelegramNotifier(token string, chatID int64, logger *zap.Logger) *TelegramNotifier {
	n := &TelegramNotifier{chatID: chatID, logger: logger}
	if token == "" {
		logger.Info("telegram notifications disabled, no token configured")
		return n
	}

	bot, err := tb.NewBot(tb.Settings{
		Token:  token,
		Poller: &tb.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		logger.Error("telegram bot init failed, notifications disabled", zap.Error(err))
		return n
	}
	n.bot = bot
	return n
}

func (n *TelegramNotifier) Notify(ctx context.Context, agentID int64, event, message string) {
	if n.bot == nil {
		return
	}

	text := fmt.Sprintf("<b>Agent %d</b>\n%s", agentID, message)
	_, err := n.bot.Send(&tb.Chat{ID: n.chatID}, text, &tb.SendOptions{ParseMode: tb.ModeHTML})
	if err != nil {
		n.logger.Warn("telegram send failed",
			zap.Int64("agent_id", agentID),
			zap.String("event", event),
			zap.Error(err))
	}
}

// NopNotifier is used in tests and when notifications are disabled
// entirely.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, agentID int64, event, message string) {}
