package service

import (
	"context"
	"fmt"
	"sync"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"signal_trader/internal/models"
	"signal_trader/internal/modules/exchange_sync"
	"signal_trader/pkg/logger"
)

// MessageHandler — куда уходят посты каналов-источников.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg models.SourceMessage)
}

type StatsSource interface {
	Stats(ctx context.Context, period models.Period, channel string) (models.Stats, error)
	ActiveKeys() []string
}

type SettingsEditor interface {
	Snapshot() models.Settings
	Update(ctx context.Context, data map[string]any) (models.Settings, error)
}

type SyncRunner interface {
	Run(ctx context.Context, opts exchange_sync.Options) (int, error)
}

// sender — часть *tgbot.BotAPI, которой пользуются обработчики.
type sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
	Request(c tgbot.Chattable) (*tgbot.APIResponse, error)
}

type Options struct {
	OwnerChatID int64
	PollTimeout int
}

type Deps struct {
	Handler  MessageHandler
	Stats    StatsSource
	Settings SettingsEditor
	Syncer   SyncRunner
}

// Telegram — поллер апдейтов: посты каналов в движок, команды владельца.
type Telegram struct {
	bot  *tgbot.BotAPI
	api  sender
	opts Options
	deps Deps

	await *awaitStore

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTelegram(bot *tgbot.BotAPI, opts Options, deps Deps) *Telegram {
	t := newTelegram(bot, opts, deps)
	t.bot = bot
	return t
}

func newTelegram(api sender, opts Options, deps Deps) *Telegram {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30
	}
	return &Telegram{api: api, opts: opts, deps: deps, await: newAwaitStore()}
}

func (t *Telegram) Send(chatID int64, msg string) (tgbot.Message, error) {
	return t.api.Send(tgbot.NewMessage(chatID, msg))
}

func (t *Telegram) SendF(chatID int64, format string, args ...any) (tgbot.Message, error) {
	return t.Send(chatID, fmt.Sprintf(format, args...))
}

func (t *Telegram) sendMarkdown(chatID int64, text string, markup any) {
	msg := tgbot.NewMessage(chatID, text)
	msg.ParseMode = tgbot.ModeMarkdown
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := t.api.Send(msg); err != nil {
		logger.Warn("[TG] send: %v", err)
	}
}

// Start запускает long polling в фоне.
func (t *Telegram) Start(ctx context.Context) {
	if t.bot == nil {
		logger.Info("[TG] no bot token, channel polling disabled")
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})

	u := tgbot.NewUpdate(0)
	u.Timeout = t.opts.PollTimeout
	u.AllowedUpdates = []string{"message", "channel_post", "callback_query"}
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		defer close(t.done)
		logger.Info("[TG] polling started as @%s", t.bot.Self.UserName)
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				t.dispatch(ctx, upd)
			}
		}
	}()
}

func (t *Telegram) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	t.bot.StopReceivingUpdates()
	cancel()
	<-done
}

// dispatch не даёт панике в обработчике уронить поллер.
func (t *Telegram) dispatch(ctx context.Context, upd tgbot.Update) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[TG] update %d panicked: %v", upd.UpdateID, r)
		}
	}()
	t.handleUpdate(ctx, upd)
}
