package telegram

import (
	"context"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/fx"

	"signal_trader/internal/modules/config"
	"signal_trader/internal/modules/engine"
	"signal_trader/internal/modules/exchange_sync"
	"signal_trader/internal/modules/risk"
	"signal_trader/internal/modules/telegram_bot/service"
	"signal_trader/internal/notify"
	"signal_trader/pkg/logger"
)

// NewBot — nil без токена: тогда уведомления идут в лог, каналы не слушаются.
func NewBot(cfg *config.Config) (*tgbot.BotAPI, error) {
	if cfg.Telegram.Token == "" {
		logger.Warn("[TG] telegram.token is empty")
		return nil, nil
	}
	return tgbot.NewBotAPI(cfg.Telegram.Token)
}

func Module() fx.Option {
	return fx.Module("telegram",
		// 1. Бот и нотифайер владельца
		fx.Provide(
			NewBot,
			func(bot *tgbot.BotAPI, cfg *config.Config) notify.Notifier {
				return notify.New(bot, cfg.Telegram.OwnerChatID)
			},
		),

		// 2. Поллер
		fx.Provide(
			func(bot *tgbot.BotAPI, cfg *config.Config, e *engine.Engine, settings *risk.SettingsStore, s *exchange_sync.Syncer) *service.Telegram {
				return service.NewTelegram(bot, service.Options{
					OwnerChatID: cfg.Telegram.OwnerChatID,
					PollTimeout: cfg.Telegram.PollTimeout,
				}, service.Deps{Handler: e, Stats: e, Settings: settings, Syncer: s})
			},
		),

		// Запуск основного цикла через Lifecycle
		fx.Invoke(
			func(lc fx.Lifecycle, t *service.Telegram) {
				lc.Append(fx.Hook{
					OnStart: func(ctx context.Context) error {
						t.Start(context.Background())
						return nil
					},
					OnStop: func(ctx context.Context) error {
						t.Stop()
						return nil
					},
				})
			},
		),
	)
}
