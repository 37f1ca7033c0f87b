package service

import (
	"context"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"signal_trader/internal/modules/risk"
	"signal_trader/pkg/logger"
)

const setPrefix = "SET::"

func (t *Telegram) handleSettingsMenu(chatID int64) {
	if t.deps.Settings == nil {
		return
	}
	btn := func(label, key string) tgbot.InlineKeyboardButton {
		return tgbot.NewInlineKeyboardButtonData(label, setPrefix+key)
	}
	kb := tgbot.NewInlineKeyboardMarkup(
		tgbot.NewInlineKeyboardRow(btn("💵 Сумма", risk.KeyTradeAmount), btn("🔢 Макс. сделок", risk.KeyMaxConcurrent)),
		tgbot.NewInlineKeyboardRow(btn("📉 Лимит убытка", risk.KeyDailyLossLimit), btn("⏱ Таймаут", risk.KeyEntryTimeout)),
		tgbot.NewInlineKeyboardRow(btn("⚖️ Плечо", risk.KeyMaxLeverage)),
		tgbot.NewInlineKeyboardRow(btn("🚫 Без SHORT", risk.KeySellBlocked), btn("⛔️ Запрет", risk.KeyTradeBlocked)),
	)
	t.sendMarkdown(chatID, formatSettings(t.deps.Settings.Snapshot()), kb)
}

func (t *Telegram) handleCallback(ctx context.Context, chatID int64, cb *tgbot.CallbackQuery) {
	if _, err := t.api.Request(tgbot.NewCallback(cb.ID, "")); err != nil {
		logger.Debug("[TG] answer callback: %v", err)
	}
	key, ok := strings.CutPrefix(cb.Data, setPrefix)
	if !ok {
		return
	}
	t.askValue(chatID, key)
}

func (t *Telegram) askValue(chatID int64, key string) {
	hint, ok := settingHints[key]
	if !ok {
		_, _ = t.Send(chatID, "❗️Неизвестная настройка")
		return
	}
	t.setAwait(chatID, key)
	t.sendMarkdown(chatID, "✍️ "+hint+"\n\nОтмена: напиши `отмена`", nil)
}

func (t *Telegram) handleAwaitValue(ctx context.Context, chatID int64, text, key string) {
	text = strings.TrimSpace(text)
	if strings.EqualFold(text, "отмена") {
		t.clearAwait(chatID)
		t.handleSettingsMenu(chatID)
		return
	}

	var value any
	switch key {
	case risk.KeySellBlocked, risk.KeyTradeBlocked:
		if text == "-" {
			text = ""
		}
		value = text
	default:
		value = strings.ReplaceAll(text, ",", ".")
	}

	if _, err := t.deps.Settings.Update(ctx, map[string]any{key: value}); err != nil {
		// ждём ввод дальше
		_, _ = t.Send(chatID, "❗️"+err.Error())
		return
	}

	t.clearAwait(chatID)
	_, _ = t.Send(chatID, "✅ Сохранено")
	t.handleSettingsMenu(chatID)
}
