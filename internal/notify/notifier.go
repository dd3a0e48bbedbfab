// Package notify delivers fire-and-forget owner notifications. A
// notifier must never block or fail the scheduler: errors are logged and
// swallowed.
package notify

import (
	"log/slog"

	"github.com/foxzi/lanes/internal/models"
	tele "gopkg.in/telebot.v4"
)

// Notifier posts an event message to the owner target described by the
// entity's configuration document.
type Notifier interface {
	Notify(event string, target models.NotifyConfig, message string)
}

// Telegram posts notifications to the owner chat.
type Telegram struct {
	bot    *tele.Bot
	logger *slog.Logger
}

func NewTelegram(bot *tele.Bot, logger *slog.Logger) *Telegram {
	return &Telegram{bot: bot, logger: logger.With("component", "notifier")}
}

func (t *Telegram) Notify(event string, target models.NotifyConfig, message string) {
	if target.ChatID == 0 {
		t.logger.Debug("notification dropped, no chat target", "event", event)
		return
	}
	go func() {
		_, err := t.bot.Send(&tele.Chat{ID: target.ChatID}, "["+event+"] "+message)
		if err != nil {
			t.logger.Warn("notification failed", "event", event, "chat_id", target.ChatID, "error", err)
		}
	}()
}

// Noop discards all notifications.
type Noop struct{}

func (Noop) Notify(string, models.NotifyConfig, string) {}
