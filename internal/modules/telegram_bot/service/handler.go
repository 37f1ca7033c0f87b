package service

import (
	"context"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"signal_trader/internal/models"
	"signal_trader/internal/modules/exchange_sync"
	"signal_trader/pkg/logger"
)

const (
	btnStatus   = "📊 Статус"
	btnStats    = "📈 Статистика"
	btnSettings = "⚙️ Настройки"
	btnSync     = "🔄 Синк"
)

func (t *Telegram) handleUpdate(ctx context.Context, update tgbot.Update) {
	// 1) Посты каналов — сигналы
	if post := update.ChannelPost; post != nil {
		t.handleChannelPost(ctx, post)
		return
	}

	// 2) Личные сообщения: только владелец
	if msg := update.Message; msg != nil {
		if msg.Chat == nil || !t.isOwner(msg.Chat.ID) {
			return
		}
		chatID := msg.Chat.ID
		if msg.IsCommand() {
			t.clearAwait(chatID)
			t.handleCommand(ctx, chatID, msg.Command(), msg.CommandArguments())
			return
		}
		t.handleTextMessage(ctx, msg)
		return
	}

	// 3) Inline-кнопки
	if cb := update.CallbackQuery; cb != nil {
		if cb.Message == nil || cb.Message.Chat == nil || !t.isOwner(cb.Message.Chat.ID) {
			return
		}
		t.handleCallback(ctx, cb.Message.Chat.ID, cb)
	}
}

func (t *Telegram) isOwner(chatID int64) bool {
	return t.opts.OwnerChatID != 0 && chatID == t.opts.OwnerChatID
}

func (t *Telegram) handleChannelPost(ctx context.Context, post *tgbot.Message) {
	src, ok := sourceOf(post)
	if !ok || t.deps.Handler == nil {
		return
	}
	logger.Debug("[TG] post from %s (%s)", src.ChannelName, src.ChannelID)
	t.deps.Handler.HandleMessage(ctx, src)
}

func (t *Telegram) handleCommand(ctx context.Context, chatID int64, cmd, args string) {
	switch cmd {
	case "start", "help":
		t.handleStart(chatID)
	case "status":
		t.handleStatus(ctx, chatID)
	case "stats":
		t.handleStats(ctx, chatID, args)
	case "settings":
		t.handleSettingsMenu(chatID)
	case "sync":
		t.handleSync(ctx, chatID, strings.TrimSpace(args))
	default:
		_, _ = t.Send(chatID, "Неизвестная команда, см. /help")
	}
}

func (t *Telegram) handleStart(chatID int64) {
	kb := tgbot.NewReplyKeyboard(
		tgbot.NewKeyboardButtonRow(
			tgbot.NewKeyboardButton(btnStatus),
			tgbot.NewKeyboardButton(btnStats),
		),
		tgbot.NewKeyboardButtonRow(
			tgbot.NewKeyboardButton(btnSettings),
			tgbot.NewKeyboardButton(btnSync),
		),
	)
	text := "Сигнальный трейдер.\n\n" +
		"/status — активные сделки и дневной PnL\n" +
		"/stats `[today|week|month|lifetime]` — статистика\n" +
		"/settings — лимиты и блок-листы\n" +
		"/sync `[binance|okx]` — импорт сделок с биржи"
	t.sendMarkdown(chatID, text, kb)
}

func (t *Telegram) handleTextMessage(ctx context.Context, msg *tgbot.Message) {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	if key, ok := t.peekAwait(chatID); ok {
		t.handleAwaitValue(ctx, chatID, text, key)
		return
	}

	switch text {
	case btnStatus:
		t.handleStatus(ctx, chatID)
	case btnStats:
		t.handleStats(ctx, chatID, "")
	case btnSettings:
		t.handleSettingsMenu(chatID)
	case btnSync:
		t.handleSync(ctx, chatID, "")
	}
}

func (t *Telegram) handleStatus(ctx context.Context, chatID int64) {
	if t.deps.Stats == nil {
		return
	}
	st, err := t.deps.Stats.Stats(ctx, models.PeriodToday, "")
	if err != nil {
		_, _ = t.Send(chatID, "⚠️ Не удалось получить статус: "+err.Error())
		return
	}
	t.sendMarkdown(chatID, formatStatus(st), nil)
}

func (t *Telegram) handleStats(ctx context.Context, chatID int64, arg string) {
	if t.deps.Stats == nil {
		return
	}
	period, ok := parsePeriod(arg)
	if !ok {
		_, _ = t.Send(chatID, "❗️Период: today, week, month или lifetime")
		return
	}
	st, err := t.deps.Stats.Stats(ctx, period, "")
	if err != nil {
		_, _ = t.Send(chatID, "⚠️ Не удалось получить статистику: "+err.Error())
		return
	}
	t.sendMarkdown(chatID, formatStats(period, st), nil)
}

func (t *Telegram) handleSync(ctx context.Context, chatID int64, exchangeName string) {
	if t.deps.Syncer == nil {
		return
	}
	_, _ = t.Send(chatID, "🔄 Синхронизация запущена")
	go func() {
		n, err := t.deps.Syncer.Run(context.WithoutCancel(ctx), exchange_sync.Options{Exchange: exchangeName, Force: true})
		switch {
		case errors.Is(err, exchange_sync.ErrRunning):
			_, _ = t.Send(chatID, "⏳ Синхронизация уже идёт")
		case err != nil:
			_, _ = t.SendF(chatID, "⚠️ Синк с ошибками (%d новых): %v", n, err)
		default:
			_, _ = t.SendF(chatID, "✅ Синк завершён: %d новых сделок", n)
		}
	}()
}
