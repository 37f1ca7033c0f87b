package service

import (
	"fmt"
	"strings"

	"signal_trader/internal/models"
	"signal_trader/internal/modules/risk"
)

func formatStatus(st models.Stats) string {
	var b strings.Builder
	b.WriteString("*📊 Статус*\n\n")
	fmt.Fprintf(&b, "Дневной PnL: `%s USDT`\n", f2(st.DailyPnL))
	fmt.Fprintf(&b, "Сделок сегодня: `%d`\n", st.TodayCount)
	fmt.Fprintf(&b, "Открыто: `%d`\n", st.OpenCount)
	if len(st.ActiveTrades) == 0 {
		b.WriteString("\nАктивных сделок нет")
		return b.String()
	}
	b.WriteString("\n*Активные:*\n")
	for _, k := range st.ActiveTrades {
		fmt.Fprintf(&b, "• `%s`\n", k)
	}
	return b.String()
}

func formatStats(period models.Period, st models.Stats) string {
	return fmt.Sprintf(
		"*📈 Статистика (%s)*\n\n"+
			"Всего: `%d`\n"+
			"Закрыто: `%d`\n"+
			"Прибыльных: `%d` (`%s%%`)\n"+
			"PnL: `%s USDT`\n"+
			"Сегодня: `%s USDT` / `%d`\n"+
			"Открыто: `%d`\n",
		period,
		st.TotalTrades,
		st.ClosedTrades,
		st.Wins, f2(st.WinRate),
		f2(st.TotalPnL),
		f2(st.TodayPnL), st.TodayCount,
		st.OpenCount,
	)
}

func formatSettings(st models.Settings) string {
	return fmt.Sprintf(
		"*⚙️ Настройки*\n\n"+
			"Сумма сделки: `%s USDT`\n"+
			"Макс. сделок: `%d`\n"+
			"Дневной лимит убытка: `%s USDT`\n"+
			"Таймаут входа: `%d с`\n"+
			"Макс. плечо: `%dx`\n\n"+
			"Без SHORT: `%s`\n"+
			"Запрещены: `%s`\n",
		f2(st.TradeAmount),
		st.MaxConcurrent,
		f2(st.DailyLossLimit),
		st.EntryTimeout,
		st.MaxLeverage,
		orDash(models.JoinTickerSet(st.SellBlocked)),
		orDash(models.JoinTickerSet(st.TradeBlocked)),
	)
}

var settingHints = map[string]string{
	risk.KeyTradeAmount:    "Введи *сумму сделки* в USDT, например: `100`",
	risk.KeyMaxConcurrent:  "Введи *макс. число сделок* (целое), например: `3`",
	risk.KeyDailyLossLimit: "Введи *дневной лимит убытка* в USDT, например: `500`",
	risk.KeyEntryTimeout:   "Введи *таймаут входа* в секундах (от 10), например: `600`",
	risk.KeyMaxLeverage:    "Введи *макс. плечо* (целое), например: `20`",
	risk.KeySellBlocked:    "Введи тикеры *без SHORT* через запятую, например: `BTC, ETH` (`-` очистить)",
	risk.KeyTradeBlocked:   "Введи *запрещённые* тикеры через запятую, например: `LUNA` (`-` очистить)",
}
