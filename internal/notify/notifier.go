package notify

import (
	"fmt"
	"unicode/utf8"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"signal_trader/pkg/logger"
)

const maxMessageLen = 4096

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

// Telegram — пассивный нотифайер в чат владельца.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
}

func NewTelegram(bot *tgbot.BotAPI, chatID int64) *Telegram {
	return &Telegram{bot: bot, chatID: chatID}
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	logger.Info("notify: %s", msg)
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, truncate(msg))); err != nil {
		logger.Warn("telegram send: %v", err)
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

func truncate(msg string) string {
	if len(msg) <= maxMessageLen {
		return msg
	}
	cut := maxMessageLen - 1
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut] + "…"
}

// Stdout — заглушка без бота, всё уходит в лог.
type Stdout struct{}

func NewStdout() *Stdout                           { return &Stdout{} }
func (s *Stdout) Send(msg string)                  { logger.Info("notify: %s", msg) }
func (s *Stdout) Sendf(format string, args ...any) { s.Send(fmt.Sprintf(format, args...)) }

// New — Telegram, если есть бот и чат владельца, иначе Stdout.
func New(bot *tgbot.BotAPI, chatID int64) Notifier {
	if bot == nil || chatID == 0 {
		return NewStdout()
	}
	return NewTelegram(bot, chatID)
}
