package transport

import (
	"context"
	"fmt"
	"log/slog"

	tele "gopkg.in/telebot.v4"
)

// Telegram delivers letters to a chat instead of a mailbox. The target
// chat comes from the letter or lane configuration.
type Telegram struct {
	bot    *tele.Bot
	logger *slog.Logger
}

func NewTelegram(bot *tele.Bot, logger *slog.Logger) *Telegram {
	return &Telegram{bot: bot, logger: logger.With("component", "telegram_transport")}
}

func (t *Telegram) Send(ctx context.Context, job *Job) (string, error) {
	if job.ChatID == 0 {
		return "", fmt.Errorf("no chat configured for letter #%d", job.Letter.ID)
	}

	text := job.Body
	if job.Subject != "" {
		text = job.Subject + "\n\n" + text
	}

	type result struct {
		msg *tele.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := t.bot.Send(&tele.Chat{ID: job.ChatID}, text)
		done <- result{m, err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("telegram send timed out: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("telegram send failed: %w", res.err)
		}
		t.logger.Debug("sent", "chat_id", job.ChatID, "message_id", res.msg.ID, "delivery", job.DeliveryID)
		return fmt.Sprintf("sent message %d to chat %d", res.msg.ID, job.ChatID), nil
	}
}
