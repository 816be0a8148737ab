package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// LogDeliverer writes due notifications to the log.
type LogDeliverer struct {
	log zerolog.Logger
}

func NewLogDeliverer(log zerolog.Logger) *LogDeliverer {
	return &LogDeliverer{log: log}
}

func (d *LogDeliverer) Deliver(_ context.Context, payload Payload) error {
	d.log.Info().
		Str("task_id", payload.TaskID).
		Str("title", payload.Title).
		Str("body", payload.Body).
		Msg("reminder")
	return nil
}

func (d *LogDeliverer) Ready(context.Context) error { return nil }

// TelegramAPI is the part of *tgbotapi.BotAPI the deliverer needs.
type TelegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetMe() (tgbotapi.User, error)
}

// TelegramDeliverer sends due notifications to one chat, rate limited.
type TelegramDeliverer struct {
	api     TelegramAPI
	chatID  int64
	limiter *rate.Limiter
}

func NewTelegramDeliverer(api TelegramAPI, chatID int64, ratePerSec int) *TelegramDeliverer {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &TelegramDeliverer{
		api:     api,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
	}
}

func (d *TelegramDeliverer) Deliver(ctx context.Context, payload Payload) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	msg := tgbotapi.NewMessage(d.chatID, FormatHTML(payload))
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := d.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// Ready checks that the bot token works and a chat is configured.
func (d *TelegramDeliverer) Ready(context.Context) error {
	if d.chatID == 0 {
		return errors.New("telegram chat id is not configured")
	}
	if _, err := d.api.GetMe(); err != nil {
		return fmt.Errorf("telegram get me: %w", err)
	}
	return nil
}

// FormatHTML renders a payload as Telegram HTML.
func FormatHTML(payload Payload) string {
	var sb strings.Builder
	sb.WriteString("🔔 <b>")
	sb.WriteString(html.EscapeString(strings.TrimSpace(payload.Title)))
	sb.WriteString("</b>")
	if body := strings.TrimSpace(payload.Body); body != "" {
		sb.WriteString("\n")
		sb.WriteString(html.EscapeString(body))
	}
	return sb.String()
}
