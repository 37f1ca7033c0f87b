package service

import (
	"fmt"
	"strconv"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"signal_trader/internal/models"
)

func f2(v float64) string { // для красивого вывода
	return fmt.Sprintf("%.2f", v)
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

// sourceOf — пост канала в виде, понятном движку.
func sourceOf(msg *tgbot.Message) (models.SourceMessage, bool) {
	if msg == nil || msg.Chat == nil {
		return models.SourceMessage{}, false
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if strings.TrimSpace(text) == "" {
		return models.SourceMessage{}, false
	}
	name := msg.Chat.Title
	if name == "" {
		name = msg.Chat.UserName
	}
	return models.SourceMessage{
		ChannelID:   strconv.FormatInt(msg.Chat.ID, 10),
		ChannelName: name,
		Text:        text,
	}, true
}

func parsePeriod(arg string) (models.Period, bool) {
	switch p := models.Period(strings.ToLower(strings.TrimSpace(arg))); p {
	case "":
		return models.PeriodToday, true
	case models.PeriodToday, models.PeriodWeek, models.PeriodMonth, models.PeriodLifetime:
		return p, true
	}
	return "", false
}
